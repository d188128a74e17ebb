package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/metrics"
	"github.com/and161185/charforge/internal/model"
	"github.com/and161185/charforge/internal/repository"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// UsageService is the authoritative usage store.
type UsageService interface {
	// GetUsage returns the record, or the default record when none exists yet.
	GetUsage(ctx context.Context, userID uuid.UUID) (model.UsageRecord, error)
	// RecordGeneration marks the trial used and increments the counter atomically.
	RecordGeneration(ctx context.Context, userID uuid.UUID) (model.UsageRecord, error)
	// ActivateSubscription applies a payment reference at most once.
	ActivateSubscription(ctx context.Context, userID uuid.UUID, reference string) (rec model.UsageRecord, applied bool, err error)
	// ResetUsage clears the trial flag and counter.
	ResetUsage(ctx context.Context, userID uuid.UUID) error
}

// UsageCache is a read-through cache in front of the repository. GetUsage
// returns nil on a miss plus a version; SetUsage stores only if no
// invalidation happened after that version was read.
type UsageCache interface {
	GetUsage(ctx context.Context, userID uuid.UUID) (*model.UsageRecord, int64, error)
	SetUsage(ctx context.Context, rec model.UsageRecord, version int64) (bool, error)
	InvalidateUsage(ctx context.Context, userID uuid.UUID) error
}

type nopUsageCache struct{}

func (nopUsageCache) GetUsage(context.Context, uuid.UUID) (*model.UsageRecord, int64, error) {
	return nil, 0, nil
}
func (nopUsageCache) SetUsage(context.Context, model.UsageRecord, int64) (bool, error) {
	return false, nil
}
func (nopUsageCache) InvalidateUsage(context.Context, uuid.UUID) error { return nil }

type UsageServiceImpl struct {
	repo     repository.UsageRepository
	cache    UsageCache
	duration time.Duration
	now      func() time.Time
	log      *zap.Logger
	metrics  *metrics.Metrics
}

// UsageOption customizes UsageServiceImpl.
type UsageOption func(*UsageServiceImpl)

// WithUsageCache enables the read-through cache.
func WithUsageCache(c UsageCache) UsageOption {
	return func(s *UsageServiceImpl) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) UsageOption {
	return func(s *UsageServiceImpl) { s.now = now }
}

// WithMetrics attaches Prometheus counters.
func WithMetrics(m *metrics.Metrics) UsageOption {
	return func(s *UsageServiceImpl) { s.metrics = m }
}

// NewUsageService constructs the usage service. subscriptionDays is the period
// granted by one payment.
func NewUsageService(repo repository.UsageRepository, subscriptionDays int, log *zap.Logger, opts ...UsageOption) *UsageServiceImpl {
	if subscriptionDays <= 0 {
		subscriptionDays = 30
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &UsageServiceImpl{
		repo:     repo,
		cache:    nopUsageCache{},
		duration: time.Duration(subscriptionDays) * 24 * time.Hour,
		now:      time.Now,
		log:      log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetUsage reads through the cache. Cache failures are logged and bypassed.
func (s *UsageServiceImpl) GetUsage(ctx context.Context, userID uuid.UUID) (model.UsageRecord, error) {
	if userID == uuid.Nil {
		return model.UsageRecord{}, fmt.Errorf("%w: empty userID", errs.ErrInvalidArgument)
	}
	cached, version, err := s.cache.GetUsage(ctx, userID)
	fill := err == nil
	if err != nil {
		s.cacheFailed("get_usage", userID, err)
	} else if cached != nil {
		return cached.Effective(s.now()), nil
	}

	rec, err := s.repo.Get(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return model.DefaultUsage(userID), nil
	}
	if err != nil {
		return model.UsageRecord{}, err
	}
	if fill {
		if _, err := s.cache.SetUsage(ctx, *rec, version); err != nil {
			s.cacheFailed("set_usage", userID, err)
		}
	}
	return rec.Effective(s.now()), nil
}

// RecordGeneration increments usage in the store and drops the cached record.
func (s *UsageServiceImpl) RecordGeneration(ctx context.Context, userID uuid.UUID) (model.UsageRecord, error) {
	if userID == uuid.Nil {
		return model.UsageRecord{}, fmt.Errorf("%w: empty userID", errs.ErrInvalidArgument)
	}
	rec, err := s.repo.IncrementGenerations(ctx, userID)
	if err != nil {
		return model.UsageRecord{}, err
	}
	s.invalidate(ctx, userID)
	s.metrics.GenerationRecorded()
	return rec.Effective(s.now()), nil
}

// ActivateSubscription grants one subscription period for a payment reference.
// Replays of the same reference return the record unchanged.
func (s *UsageServiceImpl) ActivateSubscription(ctx context.Context, userID uuid.UUID, reference string) (model.UsageRecord, bool, error) {
	if userID == uuid.Nil || reference == "" {
		return model.UsageRecord{}, false, fmt.Errorf("%w: empty userID/reference", errs.ErrInvalidArgument)
	}
	now := s.now()
	rec, applied, err := s.repo.ActivateSubscription(ctx, userID, reference, now.Add(s.duration))
	if err != nil {
		return model.UsageRecord{}, false, err
	}
	if applied {
		s.invalidate(ctx, userID)
		s.metrics.Activation()
		s.log.Info("subscription activated",
			zap.String("user_id", userID.String()),
			zap.String("reference", reference),
		)
	}
	return rec.Effective(now), applied, nil
}

// ResetUsage clears trial usage for support and testing.
func (s *UsageServiceImpl) ResetUsage(ctx context.Context, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return fmt.Errorf("%w: empty userID", errs.ErrInvalidArgument)
	}
	if err := s.repo.Reset(ctx, userID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *UsageServiceImpl) invalidate(ctx context.Context, userID uuid.UUID) {
	if err := s.cache.InvalidateUsage(ctx, userID); err != nil {
		s.cacheFailed("invalidate_usage", userID, err)
	}
}

func (s *UsageServiceImpl) cacheFailed(op string, userID uuid.UUID, err error) {
	s.metrics.CacheError(op)
	s.log.Warn("usage cache bypassed",
		zap.String("op", op),
		zap.String("user_id", userID.String()),
		zap.Error(err),
	)
}
