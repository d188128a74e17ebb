// Package usage reads and records usage on the client. A Fallback store
// composes the server-backed Remote store with the device-local Local store.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/model"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Store reads and mutates the usage record of an identity. uuid.Nil is the
// anonymous identity.
type Store interface {
	GetUsage(ctx context.Context, id uuid.UUID) (model.UsageRecord, error)
	RecordGenerationUsed(ctx context.Context, id uuid.UUID) (model.UsageRecord, error)
	ResetUsage(ctx context.Context, id uuid.UUID) error
}

// Backend is the subset of the server client used by Remote.
type Backend interface {
	GetUsage(ctx context.Context, id uuid.UUID) (model.UsageRecord, error)
	RecordGeneration(ctx context.Context, id uuid.UUID) (model.UsageRecord, error)
	ResetUsage(ctx context.Context, target uuid.UUID, supportKey string) error
}

// Remote is the authoritative store reached over the network.
type Remote struct {
	backend    Backend
	supportKey string
}

// NewRemote wraps a backend. supportKey is only needed for ResetUsage.
func NewRemote(b Backend, supportKey string) *Remote {
	return &Remote{backend: b, supportKey: supportKey}
}

func (r *Remote) GetUsage(ctx context.Context, id uuid.UUID) (model.UsageRecord, error) {
	if id == uuid.Nil {
		return model.UsageRecord{}, errs.ErrUnauthorized
	}
	return r.backend.GetUsage(ctx, id)
}

func (r *Remote) RecordGenerationUsed(ctx context.Context, id uuid.UUID) (model.UsageRecord, error) {
	if id == uuid.Nil {
		return model.UsageRecord{}, errs.ErrUnauthorized
	}
	return r.backend.RecordGeneration(ctx, id)
}

func (r *Remote) ResetUsage(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return errs.ErrUnauthorized
	}
	return r.backend.ResetUsage(ctx, id, r.supportKey)
}

// Cache is the device cache used by Local.
type Cache interface {
	Usage(ctx context.Context, id uuid.UUID) (model.UsageRecord, error)
	Increment(ctx context.Context, id uuid.UUID) (model.UsageRecord, error)
	StoreUsage(ctx context.Context, rec model.UsageRecord) error
	ResetUsage(ctx context.Context) error
}

// Local keeps usage on the device.
type Local struct {
	cache Cache
}

func NewLocal(c Cache) *Local { return &Local{cache: c} }

func (l *Local) GetUsage(ctx context.Context, id uuid.UUID) (model.UsageRecord, error) {
	return l.cache.Usage(ctx, id)
}

func (l *Local) RecordGenerationUsed(ctx context.Context, id uuid.UUID) (model.UsageRecord, error) {
	return l.cache.Increment(ctx, id)
}

// ResetUsage clears every scope on the device, whatever id is.
func (l *Local) ResetUsage(ctx context.Context, _ uuid.UUID) error {
	return l.cache.ResetUsage(ctx)
}

// Fill replaces the cached record with an authoritative one.
func (l *Local) Fill(ctx context.Context, rec model.UsageRecord) error {
	return l.cache.StoreUsage(ctx, rec)
}

// Fallback serves identified callers from Remote and degrades to Local when
// the remote store fails. Anonymous callers only use Local.
type Fallback struct {
	remote Store
	local  *Local
	log    *zap.Logger
	now    func() time.Time
}

// FallbackOption configures a Fallback.
type FallbackOption func(*Fallback)

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) FallbackOption { return func(f *Fallback) { f.now = now } }

// NewFallback composes remote and local.
func NewFallback(remote Store, local *Local, log *zap.Logger, opts ...FallbackOption) *Fallback {
	if log == nil {
		log = zap.NewNop()
	}
	f := &Fallback{remote: remote, local: local, log: log, now: time.Now}
	for _, o := range opts {
		o(f)
	}
	return f
}

// GetUsage returns the remote record when reachable, refreshing the device
// cache as a side effect. A missing record reads as the default. Other remote
// failures are logged and answered from the device cache.
func (f *Fallback) GetUsage(ctx context.Context, id uuid.UUID) (model.UsageRecord, error) {
	if id == uuid.Nil {
		return f.local.GetUsage(ctx, id)
	}
	rec, err := f.remote.GetUsage(ctx, id)
	switch {
	case err == nil:
		rec = rec.Effective(f.now())
		f.fill(ctx, rec)
		return rec, nil
	case errors.Is(err, errs.ErrNotFound):
		return model.DefaultUsage(id), nil
	}
	f.log.Warn("remote usage read failed, using device cache", zap.String("user_id", id.String()), zap.Error(err))
	return f.local.GetUsage(ctx, id)
}

// RecordGenerationUsed records a generation remotely, or on the device when
// anonymous or when the remote write fails.
func (f *Fallback) RecordGenerationUsed(ctx context.Context, id uuid.UUID) (model.UsageRecord, error) {
	if id == uuid.Nil {
		return f.local.RecordGenerationUsed(ctx, id)
	}
	rec, err := f.remote.RecordGenerationUsed(ctx, id)
	if err == nil {
		rec = rec.Effective(f.now())
		f.fill(ctx, rec)
		return rec, nil
	}
	f.log.Warn("remote usage write failed, recording on device", zap.String("user_id", id.String()), zap.Error(err))
	return f.local.RecordGenerationUsed(ctx, id)
}

// ResetUsage resets the remote record for identified callers and always
// clears the device cache.
func (f *Fallback) ResetUsage(ctx context.Context, id uuid.UUID) error {
	var remoteErr error
	if id != uuid.Nil {
		if err := f.remote.ResetUsage(ctx, id); err != nil {
			remoteErr = fmt.Errorf("reset remote usage: %w", err)
		}
	}
	var localErr error
	if err := f.local.ResetUsage(ctx, id); err != nil {
		localErr = fmt.Errorf("reset device usage: %w", err)
	}
	return errors.Join(remoteErr, localErr)
}

func (f *Fallback) fill(ctx context.Context, rec model.UsageRecord) {
	if err := f.local.Fill(ctx, rec); err != nil {
		f.log.Warn("device cache fill failed", zap.String("user_id", rec.UserID.String()), zap.Error(err))
	}
}

var (
	_ Store = (*Remote)(nil)
	_ Store = (*Local)(nil)
	_ Store = (*Fallback)(nil)
)
