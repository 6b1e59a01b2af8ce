package expiry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var defaultLoc = time.UTC

// SetDefaultExpiryLocation sets the time location used when none is passed (fallback UTC).
func SetDefaultExpiryLocation(loc *time.Location) {
	if loc != nil {
		defaultLoc = loc
	}
}

// DefaultLocation returns the location used for expiry checks.
func DefaultLocation() *time.Location {
	return defaultLoc
}

// FormatYYMM builds a YYMM string from a month and a 2- or 4-digit year.
func FormatYYMM(month, year int) (string, error) {
	if month < 1 || month > 12 {
		return "", fmt.Errorf("month must be 01..12")
	}
	if year < 0 {
		return "", fmt.Errorf("year must not be negative")
	}
	return fmt.Sprintf("%02d%02d", year%100, month), nil
}

// SplitYYMM returns month and 2-digit year of a validated YYMM string.
func SplitYYMM(yymm string) (month, year int, err error) {
	if err := ValidateYYMM(yymm); err != nil {
		return 0, 0, err
	}
	year, _ = strconv.Atoi(yymm[:2])
	month, _ = strconv.Atoi(yymm[2:])
	return month, year, nil
}

// ParseYYMMEndOfMonth parses YYMM into the last instant of that month in loc.
func ParseYYMMEndOfMonth(yymm string, loc *time.Location) (time.Time, error) {
	if err := ValidateYYMM(yymm); err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = defaultLoc
	}
	yy, _ := strconv.Atoi(yymm[:2])
	mm, _ := strconv.Atoi(yymm[2:])
	year := 2000 + yy
	firstNext := time.Date(year, time.Month(mm), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
	return firstNext.Add(-time.Nanosecond), nil
}

// IsExpired reports whether 'at' is strictly after the end of the YYMM month in loc.
// A card is usable through the last day of its expiry month.
func IsExpired(yymm string, at time.Time, loc *time.Location) (bool, error) {
	end, err := ParseYYMMEndOfMonth(yymm, loc)
	if err != nil {
		return false, err
	}
	return at.In(end.Location()).After(end), nil
}

// ParseCardFace accepts "MM/YY" or "MMYY" and returns YYMM.
func ParseCardFace(in string) (string, error) {
	s := strings.TrimSpace(in)
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, " ", "")
	if len(s) != 4 {
		return "", fmt.Errorf("card face must be MM/YY or MMYY")
	}
	for i := 0; i < 4; i++ {
		if s[i] < '0' || s[i] > '9' {
			return "", fmt.Errorf("card face must be digits")
		}
	}
	mm, _ := strconv.Atoi(s[:2])
	if mm < 1 || mm > 12 {
		return "", fmt.Errorf("month must be 01..12")
	}
	return s[2:] + s[:2], nil
}

// ValidateYYMM checks the YYMM shape and that the month is 01..12.
func ValidateYYMM(yymm string) error {
	if len(yymm) != 4 {
		return fmt.Errorf("expiry must be YYMM (4 digits)")
	}
	for i := 0; i < 4; i++ {
		if yymm[i] < '0' || yymm[i] > '9' {
			return fmt.Errorf("expiry must be digits: YYMM")
		}
	}
	mm := int(yymm[2]-'0')*10 + int(yymm[3]-'0')
	if mm < 1 || mm > 12 {
		return fmt.Errorf("expiry month must be 01..12")
	}
	return nil
}
