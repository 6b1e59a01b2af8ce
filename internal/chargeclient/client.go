// Package chargeclient talks to the charge-orchestration service over HTTP
// JSON. Every transport problem comes back as a checkout error so callers never
// see a raw net/http error.
package chargeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/google/uuid"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderBusinessID     = "X-Business-Id"

	maxReplySize = 1 << 20
)

type Client struct {
	Base string
	HTTP *http.Client

	businessID func() string
	token      func() (string, error)
}

type Option func(*Client)

// WithBusinessID sets the accessor for the current business. It is read on
// every call and sent as X-Business-Id when non-empty.
func WithBusinessID(f func() string) Option {
	return func(c *Client) { c.businessID = f }
}

// WithToken sets the accessor for the bearer token.
func WithToken(f func() (string, error)) Option {
	return func(c *Client) { c.token = f }
}

func New(base string, hc *http.Client, opts ...Option) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	c := &Client{Base: strings.TrimRight(base, "/"), HTTP: hc}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type idempotencyKey struct{}

// WithIdempotencyKey pins the Idempotency-Key of the next call made with ctx.
// Without it every call gets a fresh key.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKey{}, key)
}

func (c *Client) InitiateAddPaymentMethod(ctx context.Context, card models.EncryptedCardPayload, isDefault bool) (models.MutationResult, error) {
	return c.mutate(ctx, "/v1/payment-methods/card", models.AddPaymentMethodRequest{
		Card:      card,
		IsDefault: isDefault,
	})
}

func (c *Client) InitiateSubscriptionWithCard(ctx context.Context, card models.EncryptedCardPayload, planID, subscriptionID string, isRenewal bool) (models.MutationResult, error) {
	return c.mutate(ctx, "/v1/subscriptions/card", models.SubscriptionRequest{
		Card:           card,
		PlanID:         planID,
		SubscriptionID: subscriptionID,
		IsRenewal:      isRenewal,
	})
}

func (c *Client) AuthorizeCardCharge(ctx context.Context, req models.AuthorizeChargeRequest) (models.MutationResult, error) {
	return c.mutate(ctx, "/v1/charges/authorize", req)
}

// GetCharge fetches the backend's view of a charge.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (models.ChargeStatus, error) {
	var out models.ChargeStatus
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+"/v1/charges/"+url.PathEscape(chargeID), nil)
	if err != nil {
		return out, models.NewError(models.KindNetwork, "build request", err)
	}
	raw, err := c.do(req)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, models.NewError(models.KindProtocol, "malformed charge", err)
	}
	return out, nil
}

func (c *Client) mutate(ctx context.Context, path string, body any) (models.MutationResult, error) {
	var res models.MutationResult

	b, err := json.Marshal(body)
	if err != nil {
		return res, models.NewError(models.KindNetwork, "encode request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, bytes.NewReader(b))
	if err != nil {
		return res, models.NewError(models.KindNetwork, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	key, _ := ctx.Value(idempotencyKey{}).(string)
	if key == "" {
		key = uuid.New().String()
	}
	req.Header.Set(HeaderIdempotencyKey, key)

	raw, err := c.do(req)
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return res, models.NewError(models.KindProtocol, "malformed reply", err)
	}
	return res, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if c.businessID != nil {
		if id := c.businessID(); id != "" {
			req.Header.Set(HeaderBusinessID, id)
		}
	}
	if c.token != nil {
		tok, err := c.token()
		if err != nil {
			return nil, models.NewError(models.KindConfiguration, "api token unavailable", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, models.NewError(models.KindNetwork, "charge service unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, models.NewError(models.KindNetwork, "read reply", err)
	}

	if resp.StatusCode/100 == 2 {
		return raw, nil
	}
	cause := fmt.Errorf("%s %s status=%d body=%s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(raw)))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, models.NewError(models.KindConfiguration, "charge service rejected credentials", cause)
	case resp.StatusCode == http.StatusNotFound:
		return nil, models.NewError(models.KindProtocol, "unknown charge", cause)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, models.NewError(models.KindNetwork, "charge service unavailable", cause)
	default:
		return nil, &models.Error{
			Kind:    models.KindProtocol,
			Code:    models.ErrRequestRejected.Code,
			Message: rejectionMessage(raw),
			Err:     cause,
		}
	}
}

// rejectionMessage extracts the backend's explanation from a rejected
// MutationResult body, if it sent one.
func rejectionMessage(raw []byte) string {
	var res models.MutationResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return ""
	}
	msg := strings.TrimSpace(res.Message)
	if len(res.Errors) > 0 {
		detail := strings.Join(res.Errors, "; ")
		if msg == "" {
			return detail
		}
		msg += ": " + detail
	}
	return msg
}
