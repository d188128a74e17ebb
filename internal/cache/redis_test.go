package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/and161185/charforge/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(func() { mr.Close() })

	db, err := Connect(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return New(db, time.Minute, time.Hour), mr
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(context.Background(), Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	require.Error(t, err)
}

func TestUsage_SetGetInvalidate(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	got, ver, err := c.GetUsage(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, ver)

	want := model.UsageRecord{UserID: id, FreeTrialUsed: true, GenerationsCount: 2, SubscriptionActive: true, SubscriptionExpiresAt: &exp}
	stored, err := c.SetUsage(ctx, want, ver)
	require.NoError(t, err)
	require.True(t, stored)

	got, _, err = c.GetUsage(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.GenerationsCount, got.GenerationsCount)
	assert.True(t, got.SubscriptionExpiresAt.Equal(exp))

	mr.FastForward(2 * time.Minute)
	got, _, err = c.GetUsage(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got, "usage entry must expire")

	_, err = c.SetUsage(ctx, want, 0)
	require.NoError(t, err)
	require.NoError(t, c.InvalidateUsage(ctx, id))
	got, ver, err = c.GetUsage(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, int64(1), ver)
}

func TestUsage_SetAfterInvalidateIsDropped(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	_, ver, err := c.GetUsage(ctx, id)
	require.NoError(t, err)

	require.NoError(t, c.InvalidateUsage(ctx, id))

	stored, err := c.SetUsage(ctx, model.UsageRecord{UserID: id, GenerationsCount: 1}, ver)
	require.NoError(t, err)
	assert.False(t, stored)
	got, ver2, err := c.GetUsage(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)

	stored, err = c.SetUsage(ctx, model.UsageRecord{UserID: id, GenerationsCount: 2}, ver2)
	require.NoError(t, err)
	assert.True(t, stored)
	got, _, err = c.GetUsage(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.GenerationsCount)
}

func TestUsage_CorruptEntry(t *testing.T) {
	c, mr := setupTestCache(t)
	id := uuid.Must(uuid.NewV4())
	require.NoError(t, mr.Set(usageKey(id), "{not json"))

	_, _, err := c.GetUsage(context.Background(), id)
	require.Error(t, err)
}

func TestOutcome_FirstWriterWins(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	require.NoError(t, c.SetOutcome(ctx, "ref-1", Outcome{UserID: id, Verified: true}))
	require.NoError(t, c.SetOutcome(ctx, "ref-1", Outcome{UserID: id, Verified: false, Reason: "late"}))

	got, found, err := c.GetOutcome(ctx, "ref-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, got.Verified)
	assert.Empty(t, got.Reason)

	_, found, err = c.GetOutcome(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
}
