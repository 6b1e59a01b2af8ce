package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/cardcheck"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// ErrCancelled is returned to a submission whose reply arrived after the user
// cancelled. The reply is discarded.
var ErrCancelled = errors.New("session cancelled while request was in flight")

// Backend is the charge-orchestration service.
type Backend interface {
	InitiateAddPaymentMethod(ctx context.Context, card models.EncryptedCardPayload, isDefault bool) (models.MutationResult, error)
	InitiateSubscriptionWithCard(ctx context.Context, card models.EncryptedCardPayload, planID, subscriptionID string, isRenewal bool) (models.MutationResult, error)
	AuthorizeCardCharge(ctx context.Context, req models.AuthorizeChargeRequest) (models.MutationResult, error)
}

// Encrypter turns raw card data and PINs into their wire form.
type Encrypter interface {
	EncryptCardData(card models.CardInput) (models.EncryptedCardPayload, error)
	EncryptPIN(pin string) (nonce, ciphertext string, err error)
}

type Mode string

const (
	ModeAddPaymentMethod Mode = "add_payment_method"
	ModeSubscribe        Mode = "pay_and_subscribe"
)

type Options struct {
	// Plan switches the session to pay & subscribe mode. It is copied when
	// the session starts.
	Plan      *models.PlanContext
	IsDefault bool
	// Now is used for expiry checks. Defaults to time.Now.
	Now func() time.Time
}

// Session drives one checkout interaction. Submit methods block until the
// round resolves and return the resulting state together with the error that
// state surfaces.
//
// Cancel only drops local context. A charge the backend is already processing
// is not cancelled.
type Session struct {
	ID string

	logger  *slog.Logger
	backend Backend
	enc     Encrypter
	plan    *models.PlanContext
	isDef   bool
	now     func() time.Time

	mu    sync.Mutex
	state State
	// gen is bumped on cancel so replies of an abandoned round are dropped.
	gen uint64
}

func NewSession(logger *slog.Logger, backend Backend, enc Encrypter, opts Options) *Session {
	id := uuid.New().String()

	var plan *models.PlanContext
	if opts.Plan != nil {
		p := *opts.Plan
		plan = &p
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Session{
		ID:      id,
		backend: backend,
		enc:     enc,
		plan:    plan,
		isDef:   opts.IsDefault,
		now:     now,
		state:   CardInput{},
	}
	s.logger = logger.With(slog.String("session", id), slog.String("mode", string(s.Mode())))
	return s
}

func (s *Session) Mode() Mode {
	if s.plan != nil {
		return ModeSubscribe
	}
	return ModeAddPaymentMethod
}

// Plan returns a copy of the plan context, or nil in add payment method mode.
func (s *Session) Plan() *models.PlanContext {
	if s.plan == nil {
		return nil
	}
	p := *s.plan
	return &p
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SubmitCard validates card, encrypts it under a fresh nonce and starts a new
// charge round.
func (s *Session) SubmitCard(ctx context.Context, card models.CardInput) (State, error) {
	s.mu.Lock()
	if _, ok := s.state.(CardInput); !ok {
		defer s.mu.Unlock()
		return s.state, s.rejectSubmit()
	}
	if fe, err := cardcheck.Check(card, s.now()); err != nil {
		defer s.mu.Unlock()
		s.apply(ValidationFailed{Errors: fe, Err: err})
		return s.state, err
	}
	gen, err := s.begin()
	s.mu.Unlock()
	if err != nil {
		return s.State(), err
	}

	s.logger.Info("submitting card", slog.String("brand", string(cardcheck.DetectBrand(card.CardNumber))))

	payload, err := s.enc.EncryptCardData(card)
	if err != nil {
		return s.fail(gen, err)
	}

	var res models.MutationResult
	if s.plan != nil {
		res, err = s.backend.InitiateSubscriptionWithCard(ctx, payload, s.plan.PlanID, s.plan.SubscriptionID, s.plan.IsRenewal)
	} else {
		res, err = s.backend.InitiateAddPaymentMethod(ctx, payload, s.isDef)
	}
	if err != nil {
		return s.fail(gen, asNetworkError(err))
	}
	return s.resolve(gen, res)
}

// SubmitPIN answers a PIN challenge. The PIN is encrypted under its own nonce.
func (s *Session) SubmitPIN(ctx context.Context, pin string) (State, error) {
	s.mu.Lock()
	st, ok := s.state.(PinRequired)
	if !ok {
		defer s.mu.Unlock()
		return s.state, s.rejectSubmit()
	}
	if !cardcheck.ValidatePIN(pin) {
		defer s.mu.Unlock()
		err := &models.Error{Kind: models.KindValidation, Code: "invalid_pin", Message: "Enter your 4-digit card PIN."}
		s.apply(ValidationFailed{Err: err})
		return s.state, err
	}
	gen, err := s.begin()
	s.mu.Unlock()
	if err != nil {
		return s.State(), err
	}

	nonce, encrypted, err := s.enc.EncryptPIN(pin)
	if err != nil {
		return s.fail(gen, err)
	}
	req := s.authorizeRequest(st.ChargeID, models.AuthorizationPIN)
	req.PinNonce = nonce
	req.EncryptedPin = encrypted
	return s.authorize(ctx, gen, req)
}

// SubmitOTP answers an OTP challenge. The code travels in clear, trimmed of
// surrounding whitespace.
func (s *Session) SubmitOTP(ctx context.Context, otp string) (State, error) {
	otp = strings.TrimSpace(otp)

	s.mu.Lock()
	st, ok := s.state.(OtpRequired)
	if !ok {
		defer s.mu.Unlock()
		return s.state, s.rejectSubmit()
	}
	if !cardcheck.ValidateOTP(otp) {
		defer s.mu.Unlock()
		err := &models.Error{Kind: models.KindValidation, Code: "invalid_otp", Message: "Enter the code we sent you."}
		s.apply(ValidationFailed{Err: err})
		return s.state, err
	}
	gen, err := s.begin()
	s.mu.Unlock()
	if err != nil {
		return s.State(), err
	}

	req := s.authorizeRequest(st.ChargeID, models.AuthorizationOTP)
	req.OTPCode = otp
	return s.authorize(ctx, gen, req)
}

// Cancel resets the session to an empty card form.
func (s *Session) Cancel() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := ChargeID(s.state)
	if err := s.apply(Cancelled{}); err != nil {
		return s.state, err
	}
	s.gen++
	s.logger.Info("session cancelled", slog.String("charge_id", prev))
	return s.state, nil
}

func (s *Session) authorizeRequest(chargeID string, typ models.AuthorizationType) models.AuthorizeChargeRequest {
	req := models.AuthorizeChargeRequest{
		ChargeID:          chargeID,
		AuthorizationType: typ,
		IsDefault:         s.isDef,
	}
	if s.plan != nil {
		req.PlanID = s.plan.PlanID
		req.SubscriptionID = s.plan.SubscriptionID
		req.IsRenewal = s.plan.IsRenewal
	}
	return req
}

func (s *Session) authorize(ctx context.Context, gen uint64, req models.AuthorizeChargeRequest) (State, error) {
	s.logger.Info("authorizing charge",
		slog.String("charge_id", req.ChargeID),
		slog.String("type", string(req.AuthorizationType)))

	res, err := s.backend.AuthorizeCardCharge(ctx, req)
	if err != nil {
		return s.fail(gen, asNetworkError(err))
	}
	return s.resolve(gen, res)
}

// begin moves to Processing. Caller holds mu.
func (s *Session) begin() (uint64, error) {
	if err := s.apply(Submitted{}); err != nil {
		return 0, err
	}
	return s.gen, nil
}

func (s *Session) resolve(gen uint64, res models.MutationResult) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		s.logger.Info("discarding reply after cancel", slog.String("charge_id", res.ChargeID))
		return s.state, ErrCancelled
	}

	cur, _ := s.state.(Processing)
	next, err := Transition(s.state, Replied{Result: res})
	if err != nil {
		// nothing is guessed: the attempt ends and the form is retry-ready
		chargeID := cur.ChargeID
		if chargeID == "" {
			chargeID = res.ChargeID
		}
		s.logger.Error("unusable reply",
			slog.String("charge_id", chargeID),
			slog.String("next_action", string(res.NextActionType)),
			slog.Any("err", err))
		s.state = CardInput{ChargeID: chargeID, Err: err}
		return s.state, err
	}

	s.logger.Info("charge round advanced",
		slog.String("from", string(cur.From)),
		slog.String("to", string(next.Kind())),
		slog.String("charge_id", ChargeID(next)))
	s.state = next
	return next, StateErr(next)
}

func (s *Session) fail(gen uint64, err error) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return s.state, ErrCancelled
	}
	s.logger.Error("charge attempt failed",
		slog.String("kind", string(models.KindOf(err))),
		slog.String("charge_id", ChargeID(s.state)),
		slog.Any("err", err))
	s.apply(Failed{Err: err})
	return s.state, err
}

// apply runs Transition against the current state. Caller holds mu.
func (s *Session) apply(ev Event) error {
	next, err := Transition(s.state, ev)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *Session) rejectSubmit() error {
	if _, ok := s.state.(Processing); ok {
		return ErrSubmissionInFlight
	}
	return ErrInvalidTransition
}

// asNetworkError keeps typed errors and classifies the rest as transport
// failures.
func asNetworkError(err error) error {
	if models.KindOf(err) != "" {
		return err
	}
	return models.NewError(models.KindNetwork, "charge request failed", err)
}
