package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	checkout "github.com/alovak/cardflow-checkout/checkout/models"
	"github.com/alovak/cardflow-checkout/sandbox/models"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
)

var ErrNotFound = fmt.Errorf("not found")

var ErrConflict = fmt.Errorf("conflict")

// Repository is the charge ledger. With a nil db it keeps everything in
// memory.
type Repository struct {
	mu      sync.RWMutex
	charges map[string]*models.Charge
	nonces  map[string]struct{}

	db *sql.DB
}

func NewRepository() *Repository {
	return &Repository{
		charges: make(map[string]*models.Charge),
		nonces:  make(map[string]struct{}),
	}
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const schema = `
CREATE SCHEMA IF NOT EXISTS sandbox;
CREATE TABLE IF NOT EXISTS sandbox.charges (
    charge_id         text PRIMARY KEY,
    business_id       text NOT NULL DEFAULT '',
    mode              text NOT NULL,
    status            text NOT NULL,
    amount            bigint NOT NULL,
    currency          text NOT NULL,
    plan_id           text NOT NULL DEFAULT '',
    subscription_id   text NOT NULL DEFAULT '',
    is_renewal        boolean NOT NULL DEFAULT false,
    is_default        boolean NOT NULL DEFAULT false,
    steps             text NOT NULL DEFAULT '',
    step              integer NOT NULL DEFAULT 0,
    payment_method_id text NOT NULL DEFAULT '',
    failure_reason    text NOT NULL DEFAULT '',
    created_at        timestamptz NOT NULL,
    updated_at        timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS sandbox.nonces (
    nonce      text PRIMARY KEY,
    claimed_at timestamptz NOT NULL DEFAULT now()
);
`

// Migrate creates the sandbox schema. No-op in memory.
func (r *Repository) Migrate(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate sandbox schema: %w", err)
	}
	return nil
}

func (r *Repository) CreateCharge(ctx context.Context, c *models.Charge) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.charges[c.ID]; ok {
			return fmt.Errorf("charge %s exists: %w", c.ID, ErrConflict)
		}
		cp := *c
		r.charges[c.ID] = &cp
		return nil
	}
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO sandbox.charges(charge_id, business_id, mode, status, amount, currency, plan_id, subscription_id,
            is_renewal, is_default, steps, step, payment_method_id, failure_reason, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
    `, c.ID, c.BusinessID, string(c.Mode), string(c.Status), c.Amount, c.Currency, c.PlanID, c.SubscriptionID,
		c.IsRenewal, c.IsDefault, joinSteps(c.Steps), c.Step, c.PaymentMethodID, c.FailureReason, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (r *Repository) GetCharge(ctx context.Context, id string) (*models.Charge, error) {
	if r.db == nil {
		r.mu.RLock()
		defer r.mu.RUnlock()
		c, ok := r.charges[id]
		if !ok {
			return nil, ErrNotFound
		}
		cp := *c
		return &cp, nil
	}
	row := r.db.QueryRowContext(ctx, `
        SELECT charge_id, business_id, mode, status, amount, currency, plan_id, subscription_id,
            is_renewal, is_default, steps, step, payment_method_id, failure_reason, created_at, updated_at
        FROM sandbox.charges WHERE charge_id=$1`, id)
	var c models.Charge
	var mode, status, steps string
	err := row.Scan(&c.ID, &c.BusinessID, &mode, &status, &c.Amount, &c.Currency, &c.PlanID, &c.SubscriptionID,
		&c.IsRenewal, &c.IsDefault, &steps, &c.Step, &c.PaymentMethodID, &c.FailureReason, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Mode = models.ChargeMode(mode)
	c.Status = models.ChargeStatus(status)
	c.Steps = splitSteps(steps)
	return &c, nil
}

// UpdateCharge persists status, step and outcome fields of c.
func (r *Repository) UpdateCharge(ctx context.Context, c *models.Charge) error {
	c.UpdatedAt = time.Now().UTC()
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.charges[c.ID]; !ok {
			return ErrNotFound
		}
		cp := *c
		r.charges[c.ID] = &cp
		return nil
	}
	res, err := r.db.ExecContext(ctx, `
        UPDATE sandbox.charges SET status=$2, step=$3, payment_method_id=$4, failure_reason=$5, updated_at=$6
        WHERE charge_id=$1
    `, c.ID, string(c.Status), c.Step, c.PaymentMethodID, c.FailureReason, c.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimNonce records nonce as used. A nonce seen before yields ErrConflict.
func (r *Repository) ClaimNonce(ctx context.Context, nonce string) error {
	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.nonces[nonce]; ok {
			return fmt.Errorf("nonce reused: %w", ErrConflict)
		}
		r.nonces[nonce] = struct{}{}
		return nil
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO sandbox.nonces(nonce) VALUES ($1)`, nonce)
	if isUniqueViolation(err) {
		return fmt.Errorf("nonce reused: %w", ErrConflict)
	}
	return err
}

// Ping returns DB readiness
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func joinSteps(steps []checkout.NextActionType) string {
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = string(s)
	}
	return strings.Join(parts, ",")
}

func splitSteps(s string) []checkout.NextActionType {
	if s == "" {
		return nil
	}
	var out []checkout.NextActionType
	for _, p := range strings.Split(s, ",") {
		out = append(out, checkout.NextActionType(p))
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
