package repository

import (
	"context"
	"time"

	"github.com/and161185/charforge/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UsageRepository persists per-user usage records. Every mutation is a single
// atomic statement or transaction, never a client-side read-modify-write.
type UsageRepository interface {
	// Get returns the stored record or errs.ErrNotFound.
	Get(ctx context.Context, userID uuid.UUID) (*model.UsageRecord, error)

	// IncrementGenerations creates the record if needed, marks the free trial
	// used and increments the counter.
	IncrementGenerations(ctx context.Context, userID uuid.UUID) (*model.UsageRecord, error)

	// ActivateSubscription applies a payment reference once. When the reference
	// was already applied for this user the current record is returned with
	// applied=false; a reference owned by another user yields errs.ErrAlreadyExists.
	ActivateSubscription(ctx context.Context, userID uuid.UUID, reference string, expiresAt time.Time) (rec *model.UsageRecord, applied bool, err error)

	// Reset clears the trial flag and counter, keeping subscription fields.
	Reset(ctx context.Context, userID uuid.UUID) error
}
