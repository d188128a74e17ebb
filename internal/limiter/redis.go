package limiter

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Redis-backed limiter: a failure counter that expires after the
// window and a block key that expires after the lockout.
type Redis struct {
	rdb      redis.Cmdable
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

// NewRedis constructs a Redis-backed limiter.
func NewRedis(rdb redis.Cmdable, window time.Duration, maxFails int, blockFor time.Duration) *Redis {
	if maxFails <= 0 {
		maxFails = 5
	}
	return &Redis{rdb: rdb, window: window, maxFails: maxFails, blockFor: blockFor}
}

func keys(username string, ipHash []byte) (fails, block string) {
	suffix := username + ":" + hex.EncodeToString(ipHash)
	return "limiter:fails:" + suffix, "limiter:block:" + suffix
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *Redis) Allow(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	_, block := keys(username, ipHash)
	ttl, err := l.rdb.PTTL(ctx, block).Result()
	if err != nil {
		return false, 0, err
	}
	// -2: no key, -1: key without expiry (never set by us).
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// Success resets counters for (username, ip).
func (l *Redis) Success(ctx context.Context, username string, ipHash []byte) error {
	fails, block := keys(username, ipHash)
	return l.rdb.Del(ctx, fails, block).Err()
}

// Failure records a failed attempt; blocks once maxFails is reached within the window.
func (l *Redis) Failure(ctx context.Context, username string, ipHash []byte) (bool, time.Duration, error) {
	fails, block := keys(username, ipHash)

	n, err := l.rdb.Incr(ctx, fails).Result()
	if err != nil {
		return false, 0, err
	}
	if n == 1 {
		if err := l.rdb.PExpire(ctx, fails, l.window).Err(); err != nil {
			return false, 0, err
		}
	}
	if n < int64(l.maxFails) {
		return false, 0, nil
	}

	if _, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, block, 1, l.blockFor)
		p.Del(ctx, fails)
		return nil
	}); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
