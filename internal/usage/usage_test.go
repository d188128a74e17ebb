package usage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/localcache"
	"github.com/and161185/charforge/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var now = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) GetUsage(ctx context.Context, id uuid.UUID) (model.UsageRecord, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.UsageRecord), args.Error(1)
}

func (m *MockBackend) RecordGeneration(ctx context.Context, id uuid.UUID) (model.UsageRecord, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.UsageRecord), args.Error(1)
}

func (m *MockBackend) ResetUsage(ctx context.Context, target uuid.UUID, key string) error {
	return m.Called(ctx, target, key).Error(0)
}

type fixture struct {
	backend *MockBackend
	cache   *localcache.Cache
	store   *Fallback
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	c, err := localcache.Open(filepath.Join(t.TempDir(), "cache.db"), localcache.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	core, logs := observer.New(zap.WarnLevel)
	b := &MockBackend{}
	return fixture{
		backend: b,
		cache:   c,
		store:   NewFallback(NewRemote(b, "support"), NewLocal(c), zap.New(core), WithClock(func() time.Time { return now })),
		logs:    logs,
	}
}

var errDown = errors.New("unavailable: connection refused")

func TestGetUsage_RemoteWinsAndFillsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	past := now.Add(-time.Hour)

	f.backend.On("GetUsage", mock.Anything, id).Return(model.UsageRecord{
		UserID: id, FreeTrialUsed: true, GenerationsCount: 4,
		SubscriptionActive: true, SubscriptionExpiresAt: &past,
	}, nil).Once()

	rec, err := f.store.GetUsage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(4), rec.GenerationsCount)
	assert.False(t, rec.SubscriptionActive, "expired subscription must not read as active")

	cached, err := f.cache.Usage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(4), cached.GenerationsCount)
	f.backend.AssertExpectations(t)
}

func TestGetUsage_NotFoundIsDefault(t *testing.T) {
	f := newFixture(t)
	id := uuid.Must(uuid.NewV4())
	f.backend.On("GetUsage", mock.Anything, id).Return(model.UsageRecord{}, errs.ErrNotFound).Once()

	rec, err := f.store.GetUsage(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.DefaultUsage(id), rec)
	assert.Zero(t, f.logs.Len())
}

func TestGetUsage_RemoteDownFallsBackToCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	require.NoError(t, f.cache.StoreUsage(ctx, model.UsageRecord{UserID: id, FreeTrialUsed: true, GenerationsCount: 2}))
	f.backend.On("GetUsage", mock.Anything, id).Return(model.UsageRecord{}, errDown).Once()

	rec, err := f.store.GetUsage(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.FreeTrialUsed)
	assert.Equal(t, int64(2), rec.GenerationsCount)
	assert.Equal(t, 1, f.logs.FilterMessage("remote usage read failed, using device cache").Len())
}

func TestAnonymousStaysLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.store.RecordGenerationUsed(ctx, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.GenerationsCount)
	rec, err = f.store.GetUsage(ctx, uuid.Nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.GenerationsCount)

	f.backend.AssertNotCalled(t, "GetUsage", mock.Anything, mock.Anything)
	f.backend.AssertNotCalled(t, "RecordGeneration", mock.Anything, mock.Anything)
}

func TestRecordGenerationUsed_RemoteFailureRecordsLocally(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	f.backend.On("RecordGeneration", mock.Anything, id).Return(model.UsageRecord{}, errDown).Once()

	rec, err := f.store.RecordGenerationUsed(ctx, id)
	require.NoError(t, err)
	assert.True(t, rec.FreeTrialUsed)
	assert.Equal(t, int64(1), rec.GenerationsCount)
	assert.Equal(t, 1, f.logs.FilterMessage("remote usage write failed, recording on device").Len())
}

func TestRecordGenerationUsed_RemoteSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	f.backend.On("RecordGeneration", mock.Anything, id).Return(model.UsageRecord{UserID: id, FreeTrialUsed: true, GenerationsCount: 7}, nil).Once()

	rec, err := f.store.RecordGenerationUsed(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.GenerationsCount)
	cached, err := f.cache.Usage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(7), cached.GenerationsCount)
}

func TestResetUsage_AlwaysClearsDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	_, err := f.cache.Increment(ctx, id)
	require.NoError(t, err)

	f.backend.On("ResetUsage", mock.Anything, id, "support").Return(errs.ErrForbidden).Once()
	err = f.store.ResetUsage(ctx, id)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrForbidden)

	rec, err := f.cache.Usage(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, rec.GenerationsCount)

	// Anonymous reset never reaches the server.
	require.NoError(t, f.store.ResetUsage(ctx, uuid.Nil))
	f.backend.AssertNumberOfCalls(t, "ResetUsage", 1)
}

func TestRemote_RejectsAnonymous(t *testing.T) {
	r := NewRemote(&MockBackend{}, "")
	_, err := r.GetUsage(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	_, err = r.RecordGenerationUsed(context.Background(), uuid.Nil)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	assert.ErrorIs(t, r.ResetUsage(context.Background(), uuid.Nil), errs.ErrUnauthorized)
}
