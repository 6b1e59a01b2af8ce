package checkout

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/security"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

var (
	testKey     = bytes.Repeat([]byte{0x42}, 32)
	testNow     = func() time.Time { return time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC) }
	validCard   = models.CardInput{CardNumber: "4242 4242 4242 4242", ExpiryMonth: "09", ExpiryYear: "32", CVV: "123", CardholderName: "Test User"}
	testLogger  = slog.New(slog.NewTextHandler(io.Discard, nil))
	testKeySrc  = security.StaticKey(base64.StdEncoding.EncodeToString(testKey))
	errConnLost = errors.New("connection reset by peer")
)

type subscribeCall struct {
	Card           models.EncryptedCardPayload
	PlanID         string
	SubscriptionID string
	IsRenewal      bool
}

// fakeBackend replays scripted replies and records every call.
type fakeBackend struct {
	mu      sync.Mutex
	replies []models.MutationResult
	errs    []error

	adds  []models.EncryptedCardPayload
	subs  []subscribeCall
	auths []models.AuthorizeChargeRequest

	// when set, each call signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (f *fakeBackend) reply(ctx context.Context) (models.MutationResult, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	if err != nil {
		return models.MutationResult{}, err
	}
	if len(f.replies) == 0 {
		return models.MutationResult{}, errors.New("no scripted reply")
	}
	res := f.replies[0]
	f.replies = f.replies[1:]
	return res, nil
}

func (f *fakeBackend) InitiateAddPaymentMethod(ctx context.Context, card models.EncryptedCardPayload, isDefault bool) (models.MutationResult, error) {
	f.mu.Lock()
	f.adds = append(f.adds, card)
	f.mu.Unlock()
	return f.reply(ctx)
}

func (f *fakeBackend) InitiateSubscriptionWithCard(ctx context.Context, card models.EncryptedCardPayload, planID, subscriptionID string, isRenewal bool) (models.MutationResult, error) {
	f.mu.Lock()
	f.subs = append(f.subs, subscribeCall{card, planID, subscriptionID, isRenewal})
	f.mu.Unlock()
	return f.reply(ctx)
}

func (f *fakeBackend) AuthorizeCardCharge(ctx context.Context, req models.AuthorizeChargeRequest) (models.MutationResult, error) {
	f.mu.Lock()
	f.auths = append(f.auths, req)
	f.mu.Unlock()
	return f.reply(ctx)
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.adds) + len(f.subs) + len(f.auths)
}

func newTestSession(b Backend, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = testNow
	}
	return NewSession(testLogger, b, security.NewEncryptor(testKeySrc), opts)
}

func TestSession_PinChallengeThenSuccess(t *testing.T) {
	b := &fakeBackend{replies: []models.MutationResult{
		{Success: true, ChargeID: "ch_123", NextActionType: models.NextActionRequiresPIN, Message: "Enter your card PIN"},
		{Success: true, PaymentMethodID: "pm_1", Message: "Card added"},
	}}
	s := newTestSession(b, Options{IsDefault: true})
	require.Equal(t, ModeAddPaymentMethod, s.Mode())
	ctx := context.Background()

	st, err := s.SubmitCard(ctx, validCard)
	require.NoError(t, err)
	require.Equal(t, PinRequired{ChargeID: "ch_123", Message: "Enter your card PIN"}, st)

	require.Len(t, b.adds, 1)
	card := b.adds[0]
	require.Len(t, card.Nonce, security.NonceSize)
	require.NotContains(t, card.CardNumber, "4242")
	pan, err := security.DecryptField(card.CardNumber, testKey, card.Nonce)
	require.NoError(t, err)
	require.Equal(t, "4242424242424242", pan)

	st, err = s.SubmitPIN(ctx, "1234")
	require.NoError(t, err)
	require.Equal(t, Success{PaymentMethodID: "pm_1", Message: "Card added"}, st)

	require.Len(t, b.auths, 1)
	auth := b.auths[0]
	require.Equal(t, "ch_123", auth.ChargeID)
	require.Equal(t, models.AuthorizationPIN, auth.AuthorizationType)
	require.True(t, auth.IsDefault)
	require.Empty(t, auth.OTPCode)
	require.NotEqual(t, card.Nonce, auth.PinNonce, "pin must use its own nonce")
	pin, err := security.DecryptField(auth.EncryptedPin, testKey, auth.PinNonce)
	require.NoError(t, err)
	require.Equal(t, "1234", pin)
}

func TestSession_OtpSentInClear(t *testing.T) {
	b := &fakeBackend{replies: []models.MutationResult{
		{ChargeID: "ch_1", NextActionType: models.NextActionRequiresPIN},
		{ChargeID: "ch_1", NextActionType: models.NextActionRequiresOTP, Message: "Enter the OTP sent to your phone"},
		{Success: true, ChargeID: "ch_1"},
	}}
	s := newTestSession(b, Options{})
	ctx := context.Background()

	_, err := s.SubmitCard(ctx, validCard)
	require.NoError(t, err)
	st, err := s.SubmitPIN(ctx, "1234")
	require.NoError(t, err)
	require.Equal(t, OtpRequired{ChargeID: "ch_1", Message: "Enter the OTP sent to your phone"}, st)

	st, err = s.SubmitOTP(ctx, "123456")
	require.NoError(t, err)
	require.Equal(t, KindSuccess, st.Kind())

	require.Len(t, b.auths, 2)
	otp := b.auths[1]
	require.Equal(t, models.AuthorizationOTP, otp.AuthorizationType)
	require.Equal(t, "123456", otp.OTPCode)
	require.Empty(t, otp.PinNonce)
	require.Empty(t, otp.EncryptedPin)
	require.Equal(t, "ch_1", otp.ChargeID)
}

func TestSession_UnrecognizedNextAction(t *testing.T) {
	b := &fakeBackend{replies: []models.MutationResult{
		{ChargeID: "ch_9", NextActionType: "unknown_type"},
	}}
	s := newTestSession(b, Options{})

	st, err := s.SubmitCard(context.Background(), validCard)
	require.ErrorIs(t, err, models.ErrUnrecognizedNextAction)

	ci, ok := st.(CardInput)
	require.True(t, ok, "no challenge state is guessed")
	require.Equal(t, "ch_9", ci.ChargeID)
	require.ErrorIs(t, ci.Err, models.ErrUnrecognizedNextAction)
}

func TestSession_UnrecognizedNextActionDuringChallenge(t *testing.T) {
	b := &fakeBackend{replies: []models.MutationResult{
		{ChargeID: "ch_1", NextActionType: models.NextActionRequiresPIN},
		{ChargeID: "ch_1", NextActionType: "unknown_type"},
		{ChargeID: "ch_2", NextActionType: models.NextActionRequiresPIN},
	}}
	s := newTestSession(b, Options{})
	ctx := context.Background()

	_, err := s.SubmitCard(ctx, validCard)
	require.NoError(t, err)

	st, err := s.SubmitPIN(ctx, "1234")
	require.ErrorIs(t, err, models.ErrUnrecognizedNextAction)

	// the round ends: the pending challenge is dropped, the charge id is kept
	// for diagnostics and the form is ready for a fresh submission
	ci, ok := st.(CardInput)
	require.True(t, ok, "got %T", st)
	require.Equal(t, "ch_1", ci.ChargeID)
	require.ErrorIs(t, ci.Err, models.ErrUnrecognizedNextAction)
	require.True(t, models.Retryable(ci.Err))

	_, err = s.SubmitPIN(ctx, "1234")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Len(t, b.auths, 1)

	st, err = s.SubmitCard(ctx, validCard)
	require.NoError(t, err)
	require.Equal(t, PinRequired{ChargeID: "ch_2"}, st)
}

func TestSession_OtpIsTrimmedBeforeSending(t *testing.T) {
	b := &fakeBackend{replies: []models.MutationResult{
		{ChargeID: "ch_1", NextActionType: models.NextActionRequiresOTP},
		{Success: true, ChargeID: "ch_1"},
	}}
	s := newTestSession(b, Options{})
	ctx := context.Background()

	_, err := s.SubmitCard(ctx, validCard)
	require.NoError(t, err)

	st, err := s.SubmitOTP(ctx, " 123456\n")
	require.NoError(t, err)
	require.Equal(t, KindSuccess, st.Kind())
	require.Len(t, b.auths, 1)
	require.Equal(t, "123456", b.auths[0].OTPCode)
}

func TestSession_OtpWithInnerSpaceStaysInChallenge(t *testing.T) {
	b := &fakeBackend{replies: []models.MutationResult{
		{ChargeID: "ch_1", NextActionType: models.NextActionRequiresOTP},
	}}
	s := newTestSession(b, Options{})
	ctx := context.Background()

	_, err := s.SubmitCard(ctx, validCard)
	require.NoError(t, err)

	st, err := s.SubmitOTP(ctx, "123 456")
	require.ErrorIs(t, err, models.ErrValidation)
	otp, ok := st.(OtpRequired)
	require.True(t, ok, "got %T", st)
	require.Equal(t, "ch_1", otp.ChargeID)
	require.Empty(t, b.auths)
}

func TestSession_ValidationFailureSendsNothing(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(b, Options{})

	card := validCard
	card.CVV = "12"
	card.ExpiryYear = "20"
	st, err := s.SubmitCard(context.Background(), card)
	require.ErrorIs(t, err, models.ErrValidation)
	require.Equal(t, 0, b.calls())

	ci := st.(CardInput)
	require.Contains(t, ci.Errors.Fields, models.FieldCVV)
	require.Contains(t, ci.Errors.Fields, models.FieldExpiry)
}

func TestSession_ExpiredCard(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(b, Options{})

	card := validCard
	card.ExpiryMonth, card.ExpiryYear = "01", "20"
	_, err := s.SubmitCard(context.Background(), card)
	require.ErrorIs(t, err, models.ErrExpiredCard)
	require.Equal(t, 0, b.calls())
}

func TestSession_PlanContextConstantAcrossRounds(t *testing.T) {
	plan := &models.PlanContext{PlanID: "plan_pro", SubscriptionID: "sub_42", IsRenewal: true}
	b := &fakeBackend{replies: []models.MutationResult{
		{Success: false, Message: "Insufficient funds"},
		{ChargeID: "ch_2", NextActionType: models.NextActionRequiresPIN},
		{ChargeID: "ch_2", NextActionType: models.NextActionRequiresOTP},
		{Success: false, Message: "Invalid OTP", ChargeID: "ch_2"},
		{ChargeID: "ch_3", NextActionType: models.NextActionRequiresOTP},
		{Success: true, ChargeID: "ch_3"},
	}}
	s := newTestSession(b, Options{Plan: plan})
	// mutating the caller's copy must not leak into the session
	plan.PlanID = "plan_free"
	require.Equal(t, ModeSubscribe, s.Mode())
	ctx := context.Background()

	_, err := s.SubmitCard(ctx, validCard)
	require.ErrorIs(t, err, models.ErrDeclined)
	_, err = s.SubmitCard(ctx, validCard)
	require.NoError(t, err)
	_, err = s.SubmitPIN(ctx, "1234")
	require.NoError(t, err)
	_, err = s.SubmitOTP(ctx, "000000")
	require.ErrorIs(t, err, models.ErrDeclined)
	_, err = s.SubmitCard(ctx, validCard)
	require.NoError(t, err)
	st, err := s.SubmitOTP(ctx, "123456")
	require.NoError(t, err)
	require.Equal(t, KindSuccess, st.Kind())

	require.Empty(t, b.adds)
	require.Len(t, b.subs, 3)
	nonces := map[string]bool{}
	for _, c := range b.subs {
		require.Equal(t, "plan_pro", c.PlanID)
		require.Equal(t, "sub_42", c.SubscriptionID)
		require.True(t, c.IsRenewal)
		require.False(t, nonces[c.Card.Nonce], "every retry uses a fresh nonce")
		nonces[c.Card.Nonce] = true
	}
	require.Len(t, b.auths, 3)
	for _, a := range b.auths {
		require.Equal(t, "plan_pro", a.PlanID)
		require.Equal(t, "sub_42", a.SubscriptionID)
		require.True(t, a.IsRenewal)
	}
	require.Equal(t, "ch_3", b.auths[2].ChargeID)
}

func TestSession_RejectsSubmissionInFlight(t *testing.T) {
	b := &fakeBackend{
		replies: []models.MutationResult{{ChargeID: "ch_1", NextActionType: models.NextActionRequiresPIN}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestSession(b, Options{})

	type result struct {
		st  State
		err error
	}
	done := make(chan result)
	go func() {
		st, err := s.SubmitCard(context.Background(), validCard)
		done <- result{st, err}
	}()
	<-b.entered

	require.Equal(t, KindProcessing, s.State().Kind())
	_, err := s.SubmitCard(context.Background(), validCard)
	require.ErrorIs(t, err, ErrSubmissionInFlight)
	_, err = s.SubmitPIN(context.Background(), "1234")
	require.ErrorIs(t, err, ErrSubmissionInFlight)

	close(b.release)
	r := <-done
	require.NoError(t, r.err)
	require.Equal(t, PinRequired{ChargeID: "ch_1"}, r.st)
	require.Equal(t, 1, b.calls())
}

func TestSession_ReplyAfterCancelIsDiscarded(t *testing.T) {
	b := &fakeBackend{
		replies: []models.MutationResult{{ChargeID: "ch_1", NextActionType: models.NextActionRequiresOTP}},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestSession(b, Options{})

	done := make(chan error)
	go func() {
		_, err := s.SubmitCard(context.Background(), validCard)
		done <- err
	}()
	<-b.entered

	st, err := s.Cancel()
	require.NoError(t, err)
	require.Equal(t, CardInput{}, st)

	close(b.release)
	require.ErrorIs(t, <-done, ErrCancelled)
	require.Equal(t, CardInput{}, s.State())
}

func TestSession_CancelFromChallengeResets(t *testing.T) {
	b := &fakeBackend{replies: []models.MutationResult{
		{ChargeID: "ch_1", NextActionType: models.NextActionRequiresPIN},
	}}
	s := newTestSession(b, Options{})

	_, err := s.SubmitCard(context.Background(), validCard)
	require.NoError(t, err)

	st, err := s.Cancel()
	require.NoError(t, err)
	require.Equal(t, CardInput{}, st)

	_, err = s.SubmitPIN(context.Background(), "1234")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, 1, b.calls())
}

func TestSession_CancelAfterSuccessIsRejected(t *testing.T) {
	b := &fakeBackend{replies: []models.MutationResult{{Success: true, PaymentMethodID: "pm_1"}}}
	s := newTestSession(b, Options{})

	_, err := s.SubmitCard(context.Background(), validCard)
	require.NoError(t, err)
	_, err = s.Cancel()
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, KindSuccess, s.State().Kind())
}

func TestSession_NetworkFailureKeepsChargeID(t *testing.T) {
	b := &fakeBackend{
		replies: []models.MutationResult{{ChargeID: "ch_1", NextActionType: models.NextActionRequiresPIN}},
		errs:    []error{nil, errConnLost},
	}
	s := newTestSession(b, Options{})
	ctx := context.Background()

	_, err := s.SubmitCard(ctx, validCard)
	require.NoError(t, err)

	st, err := s.SubmitPIN(ctx, "1234")
	require.ErrorIs(t, err, models.ErrNetwork)
	require.ErrorIs(t, err, errConnLost)
	require.True(t, models.Retryable(err))
	require.Equal(t, CardInput{ChargeID: "ch_1", Err: err}, st)
	require.Equal(t, "We could not reach the payment service. Please try again.", models.UserMessage(err))
}

func TestSession_MissingKeyIsConfigurationError(t *testing.T) {
	b := &fakeBackend{}
	s := NewSession(testLogger, b, security.NewEncryptor(security.StaticKey("")), Options{Now: testNow})

	st, err := s.SubmitCard(context.Background(), validCard)
	require.ErrorIs(t, err, models.ErrConfiguration)
	require.False(t, models.Retryable(err))
	require.Equal(t, KindCardInput, st.Kind())
	require.Equal(t, 0, b.calls())
}

func TestSession_InvalidPinStaysInChallenge(t *testing.T) {
	b := &fakeBackend{replies: []models.MutationResult{
		{ChargeID: "ch_1", NextActionType: models.NextActionRequiresPIN},
	}}
	s := newTestSession(b, Options{})

	_, err := s.SubmitCard(context.Background(), validCard)
	require.NoError(t, err)

	st, err := s.SubmitPIN(context.Background(), "12a4")
	require.ErrorIs(t, err, models.ErrValidation)
	pr, ok := st.(PinRequired)
	require.True(t, ok)
	require.Equal(t, "ch_1", pr.ChargeID)
	require.Equal(t, 1, b.calls())
}

func TestSession_PaymentInstruction(t *testing.T) {
	b := &fakeBackend{replies: []models.MutationResult{
		{ChargeID: "ch_1", NextActionType: models.NextActionPaymentInstruction, PaymentInstruction: "Transfer 50.00 to 0123456789"},
	}}
	s := newTestSession(b, Options{})

	st, err := s.SubmitCard(context.Background(), validCard)
	require.NoError(t, err)
	require.Equal(t, PaymentInstructionShown{ChargeID: "ch_1", Instruction: "Transfer 50.00 to 0123456789"}, st)

	_, err = s.SubmitCard(context.Background(), validCard)
	require.ErrorIs(t, err, ErrInvalidTransition)

	st, err = s.Cancel()
	require.NoError(t, err)
	require.Equal(t, CardInput{}, st)
}
