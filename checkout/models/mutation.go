package models

// NextActionType is the backend's challenge discriminator. The empty value
// stands for "no next action".
type NextActionType string

const (
	NextActionNone               NextActionType = ""
	NextActionRedirectURL        NextActionType = "redirect_url"
	NextActionRequiresPIN        NextActionType = "requires_pin"
	NextActionRequiresOTP        NextActionType = "requires_otp"
	NextActionPaymentInstruction NextActionType = "payment_instruction"
)

// MutationResult is the reply shape shared by all three charge operations.
type MutationResult struct {
	Success            bool           `json:"success"`
	Message            string         `json:"message,omitempty"`
	ChargeID           string         `json:"chargeId,omitempty"`
	NextActionType     NextActionType `json:"nextActionType,omitempty"`
	RedirectURL        string         `json:"redirectUrl,omitempty"`
	PaymentInstruction string         `json:"paymentInstruction,omitempty"`
	PaymentMethodID    string         `json:"paymentMethodId,omitempty"`
	Errors             []string       `json:"errors,omitempty"`
}

type AuthorizationType string

const (
	AuthorizationPIN AuthorizationType = "pin"
	AuthorizationOTP AuthorizationType = "otp"
)

type AddPaymentMethodRequest struct {
	Card      EncryptedCardPayload `json:"card"`
	IsDefault bool                 `json:"isDefault"`
}

type SubscriptionRequest struct {
	Card           EncryptedCardPayload `json:"card"`
	PlanID         string               `json:"planId" validate:"required"`
	SubscriptionID string               `json:"subscriptionId,omitempty"`
	IsRenewal      bool                 `json:"isRenewal"`
}

// AuthorizeChargeRequest answers a PIN or OTP challenge for ChargeID. Exactly
// one of the PIN pair or OTPCode is set, matching AuthorizationType.
type AuthorizeChargeRequest struct {
	ChargeID          string            `json:"chargeId" validate:"required"`
	AuthorizationType AuthorizationType `json:"authorizationType" validate:"required,oneof=pin otp"`
	PinNonce          string            `json:"pinNonce,omitempty"`
	EncryptedPin      string            `json:"encryptedPin,omitempty"`
	OTPCode           string            `json:"otpCode,omitempty"`
	IsDefault         bool              `json:"isDefault"`
	PlanID            string            `json:"planId,omitempty"`
	SubscriptionID    string            `json:"subscriptionId,omitempty"`
	IsRenewal         bool              `json:"isRenewal,omitempty"`
}

// ChargeStatus is the backend's view of one charge, for display only.
type ChargeStatus struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	Mode           string         `json:"mode"`
	Amount         int64          `json:"amount"`
	Currency       string         `json:"currency"`
	PlanID         string         `json:"planId,omitempty"`
	SubscriptionID string         `json:"subscriptionId,omitempty"`
	NextActionType NextActionType `json:"nextActionType,omitempty"`
}
