package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// UsageRepo implements UsageRepository using PostgreSQL.
type UsageRepo struct{ db *DB }

// NewUsageRepo constructs a usage repository.
func NewUsageRepo(db *DB) *UsageRepo { return &UsageRepo{db: db} }

const usageColumns = `user_id, free_trial_used, generations_count, subscription_active,
       subscription_expires_at, last_payment_reference, updated_at`

// Get selects the usage record of a user.
func (r *UsageRepo) Get(ctx context.Context, userID uuid.UUID) (*model.UsageRecord, error) {
	const q = `SELECT ` + usageColumns + ` FROM usage_records WHERE user_id=$1`
	return scanUsage(r.db.Pool.QueryRow(ctx, q, userID))
}

// IncrementGenerations bumps the counter in one upsert so concurrent
// generations never lose an increment.
func (r *UsageRepo) IncrementGenerations(ctx context.Context, userID uuid.UUID) (*model.UsageRecord, error) {
	const q = `
INSERT INTO usage_records (user_id, free_trial_used, generations_count, updated_at)
VALUES ($1, true, 1, now())
ON CONFLICT (user_id) DO UPDATE
SET free_trial_used = true,
    generations_count = usage_records.generations_count + 1,
    updated_at = now()
RETURNING ` + usageColumns
	return scanUsage(r.db.Pool.QueryRow(ctx, q, userID))
}

// ActivateSubscription claims the payment reference and, on first claim,
// activates the subscription until expiresAt.
func (r *UsageRepo) ActivateSubscription(
	ctx context.Context, userID uuid.UUID, reference string, expiresAt time.Time,
) (rec *model.UsageRecord, applied bool, err error) {
	const claim = `
INSERT INTO payment_activations (reference, user_id, expires_at)
VALUES ($1, $2, $3)
ON CONFLICT (reference) DO NOTHING`
	const owner = `SELECT user_id FROM payment_activations WHERE reference=$1`
	const current = `SELECT ` + usageColumns + ` FROM usage_records WHERE user_id=$1`
	const activate = `
INSERT INTO usage_records (user_id, subscription_active, subscription_expires_at, last_payment_reference, updated_at)
VALUES ($1, true, $2, $3, now())
ON CONFLICT (user_id) DO UPDATE
SET subscription_active = true,
    subscription_expires_at = EXCLUDED.subscription_expires_at,
    last_payment_reference = EXCLUDED.last_payment_reference,
    updated_at = now()
RETURNING ` + usageColumns

	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, claim, reference, userID, expiresAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var ownerID uuid.UUID
			if err := tx.QueryRow(ctx, owner, reference).Scan(&ownerID); err != nil {
				return err
			}
			if ownerID != userID {
				return errs.ErrAlreadyExists
			}
			rec, err = scanUsage(tx.QueryRow(ctx, current, userID))
			return err
		}
		rec, err = scanUsage(tx.QueryRow(ctx, activate, userID, expiresAt, reference))
		applied = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return rec, applied, nil
}

// Reset clears the trial flag and counter.
func (r *UsageRepo) Reset(ctx context.Context, userID uuid.UUID) error {
	const q = `
UPDATE usage_records
SET free_trial_used = false, generations_count = 0, updated_at = now()
WHERE user_id = $1`
	_, err := r.db.Pool.Exec(ctx, q, userID)
	return err
}

func scanUsage(row pgx.Row) (*model.UsageRecord, error) {
	var (
		rec model.UsageRecord
		exp *time.Time
		ref *string
	)
	err := row.Scan(&rec.UserID, &rec.FreeTrialUsed, &rec.GenerationsCount, &rec.SubscriptionActive,
		&exp, &ref, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	rec.SubscriptionExpiresAt = exp
	if ref != nil {
		rec.LastPaymentReference = *ref
	}
	return &rec, nil
}
