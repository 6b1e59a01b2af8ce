package cardgen

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	MinPANLen = 13
	MaxPANLen = 19
)

// GeneratePANWithLength returns a Luhn-valid PAN of totalLen digits (13..19)
// starting with prefix. Used for test cards against the sandbox backend.
func GeneratePANWithLength(prefix string, totalLen int) (string, error) {
	if prefix == "" || !IsDigits(prefix) {
		return "", fmt.Errorf("prefix must contain digits only")
	}
	if totalLen < MinPANLen || totalLen > MaxPANLen {
		return "", fmt.Errorf("total length must be %d..%d", MinPANLen, MaxPANLen)
	}
	fill := totalLen - 1 - len(prefix)
	if fill < 0 {
		return "", fmt.Errorf("prefix too long: %s", prefix)
	}
	digitsPart, err := randomDigits(fill)
	if err != nil {
		return "", fmt.Errorf("rand: %w", err)
	}
	body := prefix + digitsPart
	return body + luhnCheckDigit(body), nil
}

// randomDigits draws count decimal digits from crypto/rand, rejecting bytes
// >= 250 so every digit is equally likely.
func randomDigits(count int) (string, error) {
	if count <= 0 {
		return "", nil
	}
	const threshold = 250 // 256 - (256 % 10)
	var sb strings.Builder
	sb.Grow(count)
	buf := make([]byte, 64)
	for sb.Len() < count {
		n, err := rand.Read(buf)
		if err != nil {
			return "", err
		}
		for i := 0; i < n && sb.Len() < count; i++ {
			b := buf[i]
			if b < threshold {
				sb.WriteByte('0' + (b % 10))
			}
		}
	}
	return sb.String(), nil
}

func luhnCheckDigit(body string) string {
	sum, dbl := 0, true
	for i := len(body) - 1; i >= 0; i-- {
		d := int(body[i] - '0')
		if dbl {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		dbl = !dbl
	}
	cd := (10 - (sum % 10)) % 10
	return string('0' + byte(cd))
}

// LuhnValid reports whether the digit string passes the Luhn checksum.
// Callers are expected to have normalized the input.
func LuhnValid(pan string) bool {
	if len(pan) < 2 || !IsDigits(pan) {
		return false
	}
	return pan[len(pan)-1] == luhnCheckDigit(pan[:len(pan)-1])[0]
}

// ValidatePAN checks digits-only, 13..19 length and the Luhn check digit.
func ValidatePAN(pan string) error {
	if pan == "" {
		return fmt.Errorf("pan is required")
	}
	if !IsDigits(pan) {
		return fmt.Errorf("pan must contain digits only")
	}
	if l := len(pan); l < MinPANLen || l > MaxPANLen {
		return fmt.Errorf("pan length must be %d..%d digits (got %d)", MinPANLen, MaxPANLen, l)
	}
	if !LuhnValid(pan) {
		return fmt.Errorf("invalid luhn check digit")
	}
	return nil
}

func IsDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func LastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// MaskPAN keeps the first 6 and last 4 digits of long numbers and only the
// last 4 of short ones. Safe for logs.
func MaskPAN(pan string) string {
	cleaned := NormalizePAN(pan)
	n := len(cleaned)
	if n == 0 {
		return ""
	}
	if n <= 4 {
		return strings.Repeat("*", n)
	}
	if n < 10 {
		return strings.Repeat("*", n-4) + cleaned[n-4:]
	}
	return cleaned[:6] + strings.Repeat("*", n-10) + cleaned[n-4:]
}

// NormalizePAN strips spaces, tabs and dashes.
func NormalizePAN(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '-':
			return -1
		default:
			return r
		}
	}, s)
}
