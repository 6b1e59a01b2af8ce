package sandbox

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/alovak/cardflow-checkout/checkout/models"
	sbmodels "github.com/alovak/cardflow-checkout/sandbox/models"
	"github.com/segmentio/ksuid"
)

// Service scripts charges through the configured challenge flow. It never
// decrypts card fields or PINs; it only checks their shape and that nonces are
// not replayed.
type Service struct {
	repo *Repository
	cfg  *Config

	// serializes authorize calls so a charge never advances twice
	mu sync.Mutex
}

func NewService(repo *Repository, cfg *Config) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Service{
		repo: repo,
		cfg:  cfg,
	}
}

func (s *Service) AddPaymentMethod(ctx context.Context, businessID string, req models.AddPaymentMethodRequest) (models.MutationResult, error) {
	charge := &sbmodels.Charge{
		BusinessID: businessID,
		Mode:       sbmodels.ChargeModeAddPaymentMethod,
		Amount:     s.cfg.VerificationAmount,
		Currency:   s.cfg.Currency,
		IsDefault:  req.IsDefault,
	}
	return s.start(ctx, charge, req.Card.Nonce)
}

func (s *Service) Subscribe(ctx context.Context, businessID string, req models.SubscriptionRequest) (models.MutationResult, error) {
	price, ok := s.cfg.PlanPrices[req.PlanID]
	if !ok {
		return models.MutationResult{
			Success: false,
			Message: "Unknown plan.",
			Errors:  []string{"planId: unknown plan " + req.PlanID},
		}, nil
	}
	charge := &sbmodels.Charge{
		BusinessID:     businessID,
		Mode:           sbmodels.ChargeModeSubscription,
		Amount:         price,
		Currency:       s.cfg.Currency,
		PlanID:         req.PlanID,
		SubscriptionID: req.SubscriptionID,
		IsRenewal:      req.IsRenewal,
	}
	return s.start(ctx, charge, req.Card.Nonce)
}

func (s *Service) start(ctx context.Context, c *sbmodels.Charge, nonce string) (models.MutationResult, error) {
	if res, ok, err := s.claimNonce(ctx, nonce); !ok {
		return res, err
	}

	steps, err := s.cfg.Flow.Steps()
	if err != nil {
		return models.MutationResult{}, err
	}
	now := time.Now().UTC()
	c.ID = "ch_" + ksuid.New().String()
	c.Steps = steps
	c.CreatedAt, c.UpdatedAt = now, now

	switch {
	case s.cfg.Flow == FlowDecline:
		c.Status = sbmodels.ChargeStatusFailed
		c.FailureReason = "do_not_honor"
	case len(steps) == 0:
		c.Status = sbmodels.ChargeStatusSucceeded
		c.PaymentMethodID = "pm_" + ksuid.New().String()
	default:
		c.Status = sbmodels.ChargeStatusRequiresAction
	}

	if err := s.repo.CreateCharge(ctx, c); err != nil {
		return models.MutationResult{}, fmt.Errorf("creating charge: %w", err)
	}
	return s.result(c), nil
}

func (s *Service) Authorize(ctx context.Context, businessID string, req models.AuthorizeChargeRequest) (models.MutationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.repo.GetCharge(ctx, req.ChargeID)
	if err != nil {
		return models.MutationResult{}, fmt.Errorf("finding charge: %w", err)
	}
	if c.BusinessID != "" && c.BusinessID != businessID {
		return models.MutationResult{}, fmt.Errorf("finding charge: %w", ErrNotFound)
	}

	pending := c.Pending()
	if pending == models.NextActionNone {
		return rejected(c.ID, "Charge is not awaiting authorization.", "charge status is "+string(c.Status)), nil
	}
	if !c.PlanMatches(req.PlanID, req.SubscriptionID, req.IsRenewal) {
		return rejected(c.ID, "Plan details do not match this charge.", "plan context changed"), nil
	}

	switch {
	case pending == models.NextActionRequiresPIN && req.AuthorizationType == models.AuthorizationPIN:
		if res, ok, err := s.claimNonce(ctx, req.PinNonce); !ok {
			res.ChargeID = c.ID
			return res, err
		}
	case pending == models.NextActionRequiresOTP && req.AuthorizationType == models.AuthorizationOTP:
		if req.OTPCode != s.cfg.OTPCode {
			c.Status = sbmodels.ChargeStatusFailed
			c.FailureReason = "invalid_otp"
			if err := s.repo.UpdateCharge(ctx, c); err != nil {
				return models.MutationResult{}, fmt.Errorf("updating charge: %w", err)
			}
			return models.MutationResult{Success: false, ChargeID: c.ID, Message: "Invalid OTP."}, nil
		}
	default:
		return rejected(c.ID, "Unexpected authorization type.", fmt.Sprintf("charge expects %s, got %s", pending, req.AuthorizationType)), nil
	}

	c.Step++
	if c.Step >= len(c.Steps) {
		c.Status = sbmodels.ChargeStatusSucceeded
		c.PaymentMethodID = "pm_" + ksuid.New().String()
	}
	if err := s.repo.UpdateCharge(ctx, c); err != nil {
		return models.MutationResult{}, fmt.Errorf("updating charge: %w", err)
	}
	return s.result(c), nil
}

func (s *Service) GetCharge(ctx context.Context, businessID, id string) (*sbmodels.Charge, error) {
	c, err := s.repo.GetCharge(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding charge: %w", err)
	}
	if c.BusinessID != "" && c.BusinessID != businessID {
		return nil, fmt.Errorf("finding charge: %w", ErrNotFound)
	}
	return c, nil
}

// result renders the charge's current position as a reply.
func (s *Service) result(c *sbmodels.Charge) models.MutationResult {
	switch c.Status {
	case sbmodels.ChargeStatusFailed:
		return models.MutationResult{Success: false, ChargeID: c.ID, Message: "Your card was declined by the issuer."}
	case sbmodels.ChargeStatusSucceeded:
		msg := "Card added successfully."
		if c.Mode == sbmodels.ChargeModeSubscription {
			msg = "Subscription activated."
		}
		return models.MutationResult{Success: true, ChargeID: c.ID, PaymentMethodID: c.PaymentMethodID, Message: msg}
	}

	res := models.MutationResult{Success: true, ChargeID: c.ID, NextActionType: c.Pending()}
	switch res.NextActionType {
	case models.NextActionRequiresPIN:
		res.Message = "Enter your card PIN to authorize this charge."
	case models.NextActionRequiresOTP:
		res.Message = "Enter the OTP sent to the phone number registered with your bank."
	case models.NextActionRedirectURL:
		res.RedirectURL = s.cfg.RedirectBaseURL + "?charge=" + url.QueryEscape(c.ID)
	case models.NextActionPaymentInstruction:
		res.PaymentInstruction = fmt.Sprintf("Transfer %s %s to account 0123456789 using reference %s.",
			formatAmount(c.Amount), c.Currency, c.ID)
	}
	return res
}

// claimNonce reports ok=false with a failure reply when nonce was used before.
func (s *Service) claimNonce(ctx context.Context, nonce string) (models.MutationResult, bool, error) {
	err := s.repo.ClaimNonce(ctx, nonce)
	if err == nil {
		return models.MutationResult{}, true, nil
	}
	if errors.Is(err, ErrConflict) {
		return models.MutationResult{
			Success: false,
			Message: "These details were already submitted. Please try again.",
			Errors:  []string{"nonce already used"},
		}, false, nil
	}
	return models.MutationResult{}, false, fmt.Errorf("claiming nonce: %w", err)
}

func rejected(chargeID, msg, reason string) models.MutationResult {
	return models.MutationResult{Success: false, ChargeID: chargeID, Message: msg, Errors: []string{reason}}
}

func formatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}
