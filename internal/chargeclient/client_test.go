package chargeclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/chargeclient"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

var payload = models.EncryptedCardPayload{
	Nonce:          "abcdefghijkl",
	CardNumber:     "Y2FyZA==",
	ExpiryMonth:    "bW0=",
	ExpiryYear:     "eXk=",
	CVV:            "Y3Z2",
	CardHolderName: "Test User",
}

type recorded struct {
	headers http.Header
	body    map[string]any
}

type recorder struct {
	mu    sync.Mutex
	calls []recorded
}

func (r *recorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recorded(nil), r.calls...)
}

func newServer(t *testing.T, status int, reply any) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	handle := func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		if r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(&body)
		}
		rec.mu.Lock()
		rec.calls = append(rec.calls, recorded{headers: r.Header.Clone(), body: body})
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(reply)
	}
	r := chi.NewRouter()
	r.Post("/v1/payment-methods/card", handle)
	r.Post("/v1/subscriptions/card", handle)
	r.Post("/v1/charges/authorize", handle)
	r.Get("/v1/charges/{chargeID}", handle)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestClient_AddPaymentMethod(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, models.MutationResult{
		Success:        true,
		ChargeID:       "ch_123",
		NextActionType: models.NextActionRequiresPIN,
	})
	c := chargeclient.New(srv.URL+"/", nil, chargeclient.WithBusinessID(func() string { return "biz_7" }))

	res, err := c.InitiateAddPaymentMethod(context.Background(), payload, true)
	require.NoError(t, err)
	require.Equal(t, "ch_123", res.ChargeID)
	require.Equal(t, models.NextActionRequiresPIN, res.NextActionType)

	calls := rec.all()
	require.Len(t, calls, 1)
	got := calls[0]
	require.Equal(t, "biz_7", got.headers.Get(chargeclient.HeaderBusinessID))
	require.NotEmpty(t, got.headers.Get(chargeclient.HeaderIdempotencyKey))
	require.Equal(t, true, got.body["isDefault"])
	card := got.body["card"].(map[string]any)
	require.Equal(t, "abcdefghijkl", card["nonce"])
	require.Equal(t, "Test User", card["cardHolderName"])
}

func TestClient_SubscriptionAndAuthorizeBodies(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, models.MutationResult{Success: true})
	c := chargeclient.New(srv.URL, nil)
	ctx := context.Background()

	_, err := c.InitiateSubscriptionWithCard(ctx, payload, "plan_pro", "sub_1", true)
	require.NoError(t, err)
	_, err = c.AuthorizeCardCharge(ctx, models.AuthorizeChargeRequest{
		ChargeID:          "ch_1",
		AuthorizationType: models.AuthorizationOTP,
		OTPCode:           "123456",
		PlanID:            "plan_pro",
		SubscriptionID:    "sub_1",
		IsRenewal:         true,
	})
	require.NoError(t, err)

	calls := rec.all()
	require.Len(t, calls, 2)
	sub := calls[0].body
	require.Equal(t, "plan_pro", sub["planId"])
	require.Equal(t, "sub_1", sub["subscriptionId"])
	require.Equal(t, true, sub["isRenewal"])

	auth := calls[1].body
	require.Equal(t, "ch_1", auth["chargeId"])
	require.Equal(t, "otp", auth["authorizationType"])
	require.Equal(t, "123456", auth["otpCode"])
	require.NotContains(t, auth, "encryptedPin")

	require.NotEqual(t,
		calls[0].headers.Get(chargeclient.HeaderIdempotencyKey),
		calls[1].headers.Get(chargeclient.HeaderIdempotencyKey))
}

func TestClient_PinnedIdempotencyKey(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, models.MutationResult{Success: true})
	c := chargeclient.New(srv.URL, nil)

	ctx := chargeclient.WithIdempotencyKey(context.Background(), "attempt-1")
	_, err := c.InitiateAddPaymentMethod(ctx, payload, false)
	require.NoError(t, err)
	require.Equal(t, "attempt-1", rec.all()[0].headers.Get(chargeclient.HeaderIdempotencyKey))
}

func TestClient_Token(t *testing.T) {
	srv, rec := newServer(t, http.StatusOK, models.MutationResult{Success: true})

	c := chargeclient.New(srv.URL, nil, chargeclient.WithToken(func() (string, error) { return "tok", nil }))
	_, err := c.InitiateAddPaymentMethod(context.Background(), payload, false)
	require.NoError(t, err)
	require.Equal(t, "Bearer tok", rec.all()[0].headers.Get("Authorization"))

	c = chargeclient.New(srv.URL, nil, chargeclient.WithToken(func() (string, error) { return "", errors.New("no secret") }))
	_, err = c.InitiateAddPaymentMethod(context.Background(), payload, false)
	require.ErrorIs(t, err, models.ErrConfiguration)
	require.Len(t, rec.all(), 1, "nothing is sent without a token")
}

func TestClient_ErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   *models.Error
	}{
		{http.StatusBadRequest, models.ErrProtocol},
		{http.StatusUnauthorized, models.ErrConfiguration},
		{http.StatusNotFound, models.ErrProtocol},
		{http.StatusTooManyRequests, models.ErrNetwork},
		{http.StatusBadGateway, models.ErrNetwork},
	}
	for _, c := range cases {
		t.Run(http.StatusText(c.status), func(t *testing.T) {
			srv, _ := newServer(t, c.status, map[string]string{"message": "nope"})
			_, err := chargeclient.New(srv.URL, nil).InitiateAddPaymentMethod(context.Background(), payload, false)
			require.ErrorIs(t, err, c.want)
			require.Contains(t, err.Error(), "nope", "cause keeps the reply body")
		})
	}
}

func TestClient_RejectionCarriesBackendMessage(t *testing.T) {
	srv, _ := newServer(t, http.StatusBadRequest, models.MutationResult{
		Message: "Invalid request",
		Errors:  []string{"otpCode: required"},
	})
	_, err := chargeclient.New(srv.URL, nil).AuthorizeCardCharge(context.Background(), models.AuthorizeChargeRequest{ChargeID: "ch_1"})
	require.ErrorIs(t, err, models.ErrRequestRejected)
	require.Equal(t, "Invalid request: otpCode: required", models.UserMessage(err))

	srv, _ = newServer(t, http.StatusConflict, "not json")
	_, err = chargeclient.New(srv.URL, nil).InitiateAddPaymentMethod(context.Background(), payload, false)
	require.ErrorIs(t, err, models.ErrRequestRejected)
	require.Equal(t, "The payment could not be completed. Please try again.", models.UserMessage(err))
}

func TestClient_MalformedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway</html>"))
	}))
	defer srv.Close()

	_, err := chargeclient.New(srv.URL, nil).AuthorizeCardCharge(context.Background(), models.AuthorizeChargeRequest{ChargeID: "ch_1"})
	require.ErrorIs(t, err, models.ErrProtocol)
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := chargeclient.New(url, nil).InitiateAddPaymentMethod(context.Background(), payload, false)
	require.ErrorIs(t, err, models.ErrNetwork)
	require.True(t, models.Retryable(err))
}

func TestClient_GetCharge(t *testing.T) {
	srv, _ := newServer(t, http.StatusOK, models.ChargeStatus{ID: "ch_1", Status: "succeeded", Amount: 100, Currency: "USD"})

	st, err := chargeclient.New(srv.URL, nil).GetCharge(context.Background(), "ch_1")
	require.NoError(t, err)
	require.Equal(t, "succeeded", st.Status)
	require.Equal(t, int64(100), st.Amount)
}
