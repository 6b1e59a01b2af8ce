package sandbox

import (
	"fmt"
	"time"

	"github.com/alovak/cardflow-checkout/checkout/models"
)

// Flow picks the challenge script every new charge follows.
type Flow string

const (
	FlowPinOtp      Flow = "pin_otp"
	FlowPin         Flow = "pin"
	FlowOtp         Flow = "otp"
	FlowRedirect    Flow = "redirect"
	FlowInstruction Flow = "instruction"
	FlowNone        Flow = "none"
	FlowDecline     Flow = "decline"
)

// Steps returns the challenges of f in order. Decline has none and fails
// immediately.
func (f Flow) Steps() ([]models.NextActionType, error) {
	switch f {
	case FlowPinOtp, "":
		return []models.NextActionType{models.NextActionRequiresPIN, models.NextActionRequiresOTP}, nil
	case FlowPin:
		return []models.NextActionType{models.NextActionRequiresPIN}, nil
	case FlowOtp:
		return []models.NextActionType{models.NextActionRequiresOTP}, nil
	case FlowRedirect:
		return []models.NextActionType{models.NextActionRedirectURL}, nil
	case FlowInstruction:
		return []models.NextActionType{models.NextActionPaymentInstruction}, nil
	case FlowNone, FlowDecline:
		return nil, nil
	}
	return nil, fmt.Errorf("unknown flow %q", f)
}

// Config is a configuration for the sandbox charge service
type Config struct {
	HTTPAddr string
	Flow     Flow
	// OTPCode is the only code the sandbox accepts.
	OTPCode string
	// VerificationAmount is charged, in minor units, when a card is added.
	VerificationAmount int64
	Currency           string
	// PlanPrices maps plan id to its price in minor units.
	PlanPrices map[string]int64
	// RedirectBaseURL prefixes the URL handed out by the redirect flow.
	RedirectBaseURL string
	// APISecret enables HS256 bearer auth when set.
	APISecret string
	// IdempotencyTTL bounds how long a stored reply can be replayed.
	IdempotencyTTL time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:           "localhost:9090",
		Flow:               FlowPinOtp,
		OTPCode:            "123456",
		VerificationAmount: 50,
		Currency:           "USD",
		PlanPrices: map[string]int64{
			"plan_basic": 9_99,
			"plan_pro":   29_99,
		},
		RedirectBaseURL: "http://localhost:9090/3ds",
		IdempotencyTTL:  24 * time.Hour,
	}
}
