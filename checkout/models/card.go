package models

import (
	"fmt"

	"github.com/alovak/cardflow-checkout/internal/cardgen"
	"golang.org/x/exp/slog"
)

// CardInput is the raw card data typed by the user. It lives only in memory for
// one submission and must never be logged or persisted.
type CardInput struct {
	CardNumber     string `validate:"required,luhn"`
	ExpiryMonth    string `validate:"required,month"`
	ExpiryYear     string `validate:"required,year2"`
	CVV            string `validate:"required,cvv"`
	CardholderName string `validate:"required,notblank"`
}

// String keeps the raw number and CVV out of fmt output.
func (c CardInput) String() string {
	return fmt.Sprintf("card %s", cardgen.MaskPAN(c.CardNumber))
}

// LogValue keeps the raw number and CVV out of structured logs.
func (c CardInput) LogValue() slog.Value {
	return slog.GroupValue(slog.String("pan", cardgen.MaskPAN(c.CardNumber)))
}

// EncryptedCardPayload is the only form of card data allowed to leave the
// process. All four encrypted fields share Nonce; the cardholder name travels
// in clear by protocol.
type EncryptedCardPayload struct {
	Nonce          string `json:"nonce" validate:"required,len=12,alphanum"`
	CardNumber     string `json:"cardNumber" validate:"required,base64"`
	ExpiryMonth    string `json:"expiryMonth" validate:"required,base64"`
	ExpiryYear     string `json:"expiryYear" validate:"required,base64"`
	CVV            string `json:"cvv" validate:"required,base64"`
	CardHolderName string `json:"cardHolderName" validate:"required"`
}

// PlanContext marks a "pay & subscribe" session. It is fixed when the session
// starts and echoed unchanged on every RPC of that session.
type PlanContext struct {
	PlanID         string
	SubscriptionID string
	IsRenewal      bool
}

// FormErrors carries per-field validation messages and one terminal submit error.
type FormErrors struct {
	Fields map[string]string
	Submit string
}

func (f FormErrors) Empty() bool {
	return len(f.Fields) == 0 && f.Submit == ""
}

// Field names used as FormErrors keys.
const (
	FieldCardNumber     = "cardNumber"
	FieldExpiryMonth    = "expiryMonth"
	FieldExpiryYear     = "expiryYear"
	FieldExpiry         = "expiry"
	FieldCVV            = "cvv"
	FieldCardholderName = "cardholderName"
	FieldPIN            = "pin"
	FieldOTP            = "otp"
)
