// Package cache provides the Redis-backed read-through cache for usage records
// and the memo of payment verification outcomes.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/and161185/charforge/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
)

// Options configures the Redis connection.
type Options struct {
	Addr        string
	Username    string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout time.Duration
	Timeout     time.Duration
}

// Connect opens a Redis client and verifies it with PING.
func Connect(ctx context.Context, o Options) (*redis.Client, error) {
	const op = "cache.Connect"
	db := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Username:     o.Username,
		Password:     o.Password,
		DB:           o.DB,
		MaxRetries:   o.MaxRetries,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.Timeout,
		WriteTimeout: o.Timeout,
	})
	if err := db.Ping(ctx).Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return db, nil
}

// Cache stores JSON values under namespaced keys.
type Cache struct {
	db         redis.Cmdable
	usageTTL   time.Duration
	outcomeTTL time.Duration
}

// New wraps a Redis client. Zero TTLs fall back to one minute for usage
// records and one day for verification outcomes.
func New(db redis.Cmdable, usageTTL, outcomeTTL time.Duration) *Cache {
	if usageTTL <= 0 {
		usageTTL = time.Minute
	}
	if outcomeTTL <= 0 {
		outcomeTTL = 24 * time.Hour
	}
	return &Cache{db: db, usageTTL: usageTTL, outcomeTTL: outcomeTTL}
}

// usageVersionTTL bounds the life of an invalidation counter. It only needs to
// outlive one repository read.
const usageVersionTTL = 24 * time.Hour

func usageKey(userID uuid.UUID) string        { return "usage:" + userID.String() }
func usageVersionKey(userID uuid.UUID) string { return "usage:ver:" + userID.String() }
func outcomeKey(ref string) string            { return "verify:" + ref }

// setUsageIfVersion stores KEYS[1] only while the invalidation counter in
// KEYS[2] still equals ARGV[1].
var setUsageIfVersion = redis.NewScript(`
local v = redis.call('GET', KEYS[2])
if (v or '0') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// GetUsage returns the cached record, or nil on a miss, together with the
// invalidation version to hand back to SetUsage.
func (c *Cache) GetUsage(ctx context.Context, userID uuid.UUID) (*model.UsageRecord, int64, error) {
	const op = "cache.GetUsage"
	vals, err := c.db.MGet(ctx, usageKey(userID), usageVersionKey(userID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	var version int64
	if s, ok := vals[1].(string); ok {
		if version, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, 0, fmt.Errorf("%s: version: %w", op, err)
		}
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, version, nil
	}
	var out model.UsageRecord
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	return &out, version, nil
}

// SetUsage caches a record read at version. It reports false, and stores
// nothing, when the record was invalidated since.
func (c *Cache) SetUsage(ctx context.Context, rec model.UsageRecord, version int64) (bool, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	n, err := setUsageIfVersion.Run(ctx, c.db,
		[]string{usageKey(rec.UserID), usageVersionKey(rec.UserID)},
		strconv.FormatInt(version, 10), string(b), c.usageTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("cache.SetUsage: %w", err)
	}
	return n == 1, nil
}

// InvalidateUsage drops a cached record and bumps its version so that a fill
// started before the change is discarded.
func (c *Cache) InvalidateUsage(ctx context.Context, userID uuid.UUID) error {
	pipe := c.db.TxPipeline()
	pipe.Incr(ctx, usageVersionKey(userID))
	pipe.Expire(ctx, usageVersionKey(userID), usageVersionTTL)
	pipe.Del(ctx, usageKey(userID))
	_, err := pipe.Exec(ctx)
	return err
}

// Outcome is a memoised verification verdict for a payment reference.
type Outcome struct {
	UserID   uuid.UUID `json:"user_id"`
	Verified bool      `json:"verified"`
	Reason   string    `json:"reason,omitempty"`
}

// GetOutcome returns the memoised verdict for a payment reference.
func (c *Cache) GetOutcome(ctx context.Context, ref string) (*Outcome, bool, error) {
	var out Outcome
	found, err := c.get(ctx, outcomeKey(ref), &out)
	if err != nil || !found {
		return nil, found, err
	}
	return &out, true, nil
}

// SetOutcome memoises a verdict. The first writer wins so a replay cannot
// overwrite an earlier verdict.
func (c *Cache) SetOutcome(ctx context.Context, ref string, o Outcome) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return c.db.SetNX(ctx, outcomeKey(ref), b, c.outcomeTTL).Err()
}

func (c *Cache) get(ctx context.Context, key string, result any) (bool, error) {
	const op = "cache.get"
	val, err := c.db.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(val, result); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}
