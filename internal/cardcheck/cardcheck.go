// Package cardcheck holds the pure, synchronous checks run on raw card input
// before any encryption or network call.
package cardcheck

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/cardgen"
	"github.com/alovak/cardflow-checkout/internal/expiry"
	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate

	cvvRe = regexp.MustCompile(`^[0-9]{3,4}$`)
	pinRe = regexp.MustCompile(`^[0-9]{4}$`)
	otpRe = regexp.MustCompile(`^[0-9]{4,8}$`)
)

func init() {
	validate = validator.New()
	validate.RegisterValidation("luhn", func(fl validator.FieldLevel) bool {
		return ValidateCardNumber(fl.Field().String())
	})
	validate.RegisterValidation("cvv", func(fl validator.FieldLevel) bool {
		return ValidateCVV(fl.Field().String())
	})
	validate.RegisterValidation("month", func(fl validator.FieldLevel) bool {
		_, err := ParseMonth(fl.Field().String())
		return err == nil
	})
	validate.RegisterValidation("year2", func(fl validator.FieldLevel) bool {
		_, err := ParseYear(fl.Field().String())
		return err == nil
	})
	validate.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
}

// ValidateCardNumber strips spaces and dashes, then requires 13..19 digits
// passing the Luhn checksum.
func ValidateCardNumber(number string) bool {
	return cardgen.ValidatePAN(cardgen.NormalizePAN(number)) == nil
}

// ValidateCVV requires 3 or 4 digits.
func ValidateCVV(cvv string) bool {
	return cvvRe.MatchString(cvv)
}

// ValidateExpiry checks month/year against now. The card stays valid through
// the end of its expiry month; an earlier year, or the current year with an
// earlier month, yields ErrExpiredCard.
func ValidateExpiry(month, year int, now time.Time) error {
	yymm, err := expiry.FormatYYMM(month, year)
	if err != nil {
		return &models.Error{Kind: models.KindValidation, Code: models.ErrInvalidExpiry.Code, Message: models.ErrInvalidExpiry.Message, Err: err}
	}
	expired, err := expiry.IsExpired(yymm, now, expiry.DefaultLocation())
	if err != nil {
		return &models.Error{Kind: models.KindValidation, Code: models.ErrInvalidExpiry.Code, Message: models.ErrInvalidExpiry.Message, Err: err}
	}
	if expired {
		return models.ErrExpiredCard
	}
	return nil
}

// ValidatePIN requires a 4-digit card PIN.
func ValidatePIN(pin string) bool {
	return pinRe.MatchString(pin)
}

// ValidateOTP requires a 4..8 digit one-time code and nothing else.
func ValidateOTP(otp string) bool {
	return otpRe.MatchString(otp)
}

// ParseMonth accepts "1".."12" with an optional leading zero.
func ParseMonth(s string) (int, error) {
	s = strings.TrimSpace(s)
	if l := len(s); l < 1 || l > 2 || !cardgen.IsDigits(s) {
		return 0, errors.New("month must be 1 or 2 digits")
	}
	m, _ := strconv.Atoi(s)
	if m < 1 || m > 12 {
		return 0, errors.New("month must be 01..12")
	}
	return m, nil
}

// ParseYear accepts a 2-digit or 4-digit year and returns it unchanged.
func ParseYear(s string) (int, error) {
	s = strings.TrimSpace(s)
	if l := len(s); (l != 2 && l != 4) || !cardgen.IsDigits(s) {
		return 0, errors.New("year must be 2 or 4 digits")
	}
	y, _ := strconv.Atoi(s)
	return y, nil
}

var fieldKeys = map[string]string{
	"CardNumber":     models.FieldCardNumber,
	"ExpiryMonth":    models.FieldExpiryMonth,
	"ExpiryYear":     models.FieldExpiryYear,
	"CVV":            models.FieldCVV,
	"CardholderName": models.FieldCardholderName,
}

var fieldMessages = map[string]string{
	models.FieldCardNumber:     "Enter a valid card number.",
	models.FieldExpiryMonth:    "Enter a valid expiry month.",
	models.FieldExpiryYear:     "Enter a valid expiry year.",
	models.FieldCVV:            "Enter a valid security code.",
	models.FieldCardholderName: "Enter the name on the card.",
}

// Validate runs every card check and returns the per-field errors. An empty
// result means the card may be encrypted and submitted.
func Validate(card models.CardInput, now time.Time) models.FormErrors {
	fe, _ := Check(card, now)
	return fe
}

// Check is Validate plus a single ValidationError summarising the result:
// ErrExpiredCard when expiry is the only problem, nil when the card is valid.
func Check(card models.CardInput, now time.Time) (models.FormErrors, error) {
	fields := map[string]string{}
	var submit string

	if err := validate.Struct(card); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			submit = "Please check your card details."
		}
		for _, fe := range verrs {
			key := fieldKeys[fe.StructField()]
			if _, seen := fields[key]; !seen {
				fields[key] = fieldMessages[key]
			}
		}
	}

	var expiryErr error
	_, badMonth := fields[models.FieldExpiryMonth]
	_, badYear := fields[models.FieldExpiryYear]
	if !badMonth && !badYear {
		month, _ := ParseMonth(card.ExpiryMonth)
		year, _ := ParseYear(card.ExpiryYear)
		if expiryErr = ValidateExpiry(month, year, now); expiryErr != nil {
			fields[models.FieldExpiry] = models.UserMessage(expiryErr)
		}
	}

	fe := models.FormErrors{Fields: fields, Submit: submit}
	if fe.Empty() {
		return models.FormErrors{}, nil
	}
	if expiryErr != nil && len(fields) == 1 && submit == "" {
		return fe, expiryErr
	}
	return fe, &models.Error{Kind: models.KindValidation, Code: "invalid_card", Message: "Please check your card details."}
}
