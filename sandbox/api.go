package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/internal/chargeclient"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/exp/slog"
)

const maxBodySize = 64 << 10

// validate is a singleton instance of the validator.
var validate *validator.Validate

func init() {
	validate = validator.New()
	// report json field names
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// API is a HTTP API for the sandbox charge service
type API struct {
	svc    *Service
	idem   IdempotencyStore
	logger *slog.Logger
	cfg    *Config

	// keyed requests run one at a time so a replay never races its original
	idemMu sync.Mutex
}

func NewAPI(logger *slog.Logger, svc *Service, idem IdempotencyStore, cfg *Config) *API {
	if idem == nil {
		idem = NewMemoryIdempotencyStore()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &API{
		svc:    svc,
		idem:   idem,
		logger: logger,
		cfg:    cfg,
	}
}

func (a *API) AppendRoutes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Use(BusinessMiddleware(a.logger, a.cfg.APISecret))
		r.Post("/payment-methods/card", a.addPaymentMethod)
		r.Post("/subscriptions/card", a.subscribe)
		r.Post("/charges/authorize", a.authorize)
		r.Get("/charges/{chargeID}", a.getCharge)
	})
}

func (a *API) addPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req models.AddPaymentMethodRequest
	a.mutation(w, r, &req, nil, func(ctx context.Context, businessID string) (models.MutationResult, error) {
		return a.svc.AddPaymentMethod(ctx, businessID, req)
	})
}

func (a *API) subscribe(w http.ResponseWriter, r *http.Request) {
	var req models.SubscriptionRequest
	a.mutation(w, r, &req, nil, func(ctx context.Context, businessID string) (models.MutationResult, error) {
		return a.svc.Subscribe(ctx, businessID, req)
	})
}

func (a *API) authorize(w http.ResponseWriter, r *http.Request) {
	var req models.AuthorizeChargeRequest
	check := func() []string { return checkChallengeAnswer(req) }
	a.mutation(w, r, &req, check, func(ctx context.Context, businessID string) (models.MutationResult, error) {
		return a.svc.Authorize(ctx, businessID, req)
	})
}

func (a *API) getCharge(w http.ResponseWriter, r *http.Request) {
	chargeID := chi.URLParam(r, "chargeID")

	charge, err := a.svc.GetCharge(r.Context(), BusinessID(r.Context()), chargeID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(charge.View())
}

// mutation decodes and validates into, then runs fn once per Idempotency-Key.
func (a *API) mutation(w http.ResponseWriter, r *http.Request, into any, check func() []string, fn func(context.Context, string) (models.MutationResult, error)) {
	ctx := r.Context()
	businessID := BusinessID(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := r.Header.Get(chargeclient.HeaderIdempotencyKey)
	fingerprint := Fingerprint(r.URL.Path, body)
	if key != "" {
		a.idemMu.Lock()
		defer a.idemMu.Unlock()

		key = businessID + ":" + key
		stored, err := a.idem.Get(ctx, key)
		if err != nil {
			a.logger.Error("reading idempotency store", slog.Any("err", err))
			http.Error(w, "idempotency store unavailable", http.StatusServiceUnavailable)
			return
		}
		if stored != nil {
			if stored.Fingerprint != fingerprint {
				writeResult(w, http.StatusConflict, models.MutationResult{
					Message: ErrIdempotencyMismatch.Error(),
					Errors:  []string{"idempotency key reused"},
				})
				return
			}
			w.Header().Set("Idempotent-Replayed", "true")
			writeResult(w, stored.Status, stored.Result)
			return
		}
	}

	if err := json.Unmarshal(body, into); err != nil {
		writeResult(w, http.StatusBadRequest, models.MutationResult{Message: "Invalid JSON body", Errors: []string{err.Error()}})
		return
	}
	if problems := validationProblems(into, check); len(problems) > 0 {
		writeResult(w, http.StatusBadRequest, models.MutationResult{Message: "Invalid request", Errors: problems})
		return
	}

	res, err := fn(ctx, businessID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		a.logger.Error("charge operation failed", slog.String("path", r.URL.Path), slog.Any("err", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if key != "" {
		err := a.idem.Put(ctx, key, StoredReply{Fingerprint: fingerprint, Status: http.StatusOK, Result: res}, a.cfg.IdempotencyTTL)
		if err != nil {
			// the charge already moved; the reply still goes out
			a.logger.Error("writing idempotency store", slog.String("charge_id", res.ChargeID), slog.Any("err", err))
		}
	}
	writeResult(w, http.StatusOK, res)
}

func validationProblems(v any, check func() []string) []string {
	var problems []string
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return []string{err.Error()}
		}
		for _, fe := range verrs {
			problems = append(problems, fieldPath(fe.Namespace())+": "+fe.Tag())
		}
	}
	if check != nil {
		problems = append(problems, check()...)
	}
	return problems
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// checkChallengeAnswer enforces that exactly the fields of the chosen
// authorization type are present.
func checkChallengeAnswer(req models.AuthorizeChargeRequest) []string {
	var problems []string
	switch req.AuthorizationType {
	case models.AuthorizationPIN:
		if validate.Var(req.PinNonce, "required,len=12,alphanum") != nil {
			problems = append(problems, "pinNonce: required")
		}
		if validate.Var(req.EncryptedPin, "required,base64") != nil {
			problems = append(problems, "encryptedPin: required")
		}
		if req.OTPCode != "" {
			problems = append(problems, "otpCode: not allowed with pin")
		}
	case models.AuthorizationOTP:
		if validate.Var(req.OTPCode, "required,numeric,min=4,max=8") != nil {
			problems = append(problems, "otpCode: required")
		}
		if req.PinNonce != "" || req.EncryptedPin != "" {
			problems = append(problems, "encryptedPin: not allowed with otp")
		}
	}
	return problems
}

func writeResult(w http.ResponseWriter, status int, res models.MutationResult) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(res)
}
