package models

import (
	"time"

	checkout "github.com/alovak/cardflow-checkout/checkout/models"
)

type ChargeMode string

const (
	ChargeModeAddPaymentMethod ChargeMode = "add_payment_method"
	ChargeModeSubscription     ChargeMode = "subscription"
)

type ChargeStatus string

const (
	ChargeStatusRequiresAction ChargeStatus = "requires_action"
	ChargeStatusSucceeded      ChargeStatus = "succeeded"
	ChargeStatusFailed         ChargeStatus = "failed"
)

// Charge is one ledger row. Card data is never stored, not even encrypted.
type Charge struct {
	ID         string
	BusinessID string
	Mode       ChargeMode
	Status     ChargeStatus
	Amount     int64
	Currency   string

	PlanID         string
	SubscriptionID string
	IsRenewal      bool
	IsDefault      bool

	// Step indexes the challenge script; Steps[Step] is the pending action.
	Steps           []checkout.NextActionType
	Step            int
	PaymentMethodID string
	FailureReason   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pending returns the challenge the charge is waiting for.
func (c *Charge) Pending() checkout.NextActionType {
	if c.Status != ChargeStatusRequiresAction || c.Step >= len(c.Steps) {
		return checkout.NextActionNone
	}
	return c.Steps[c.Step]
}

// PlanMatches reports whether an authorize call carries the charge's plan
// context unchanged.
func (c *Charge) PlanMatches(planID, subscriptionID string, isRenewal bool) bool {
	return c.PlanID == planID && c.SubscriptionID == subscriptionID && c.IsRenewal == isRenewal
}

// View is the wire form served by GET /v1/charges/{chargeID}.
func (c *Charge) View() checkout.ChargeStatus {
	return checkout.ChargeStatus{
		ID:             c.ID,
		Status:         string(c.Status),
		Mode:           string(c.Mode),
		Amount:         c.Amount,
		Currency:       c.Currency,
		PlanID:         c.PlanID,
		SubscriptionID: c.SubscriptionID,
		NextActionType: c.Pending(),
	}
}
