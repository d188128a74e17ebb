// Package localcache is the device-local shadow of usage state, kept in SQLite.
//
// It is never authoritative. The client reads it when there is no identity or
// when the server cannot be reached, and refreshes it after successful remote
// reads. The cached subscription snapshot is sealed with the device key so a
// hand-edited file cannot grant a subscription.
package localcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/and161185/charforge/internal/crypto/sealer"
	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/model"
	"github.com/gofrs/uuid/v5"

	_ "modernc.org/sqlite"
)

// AnonymousScope keys the rows of a device without a signed-in identity.
const AnonymousScope = "anonymous"

// ScopeFor returns the row key for an identity.
func ScopeFor(id uuid.UUID) string {
	if id == uuid.Nil {
		return AnonymousScope
	}
	return id.String()
}

const schema = `
CREATE TABLE IF NOT EXISTS usage_cache (
	scope             TEXT PRIMARY KEY,
	free_trial_used   INTEGER NOT NULL DEFAULT 0,
	generations_count INTEGER NOT NULL DEFAULT 0,
	subscription      BLOB,
	pending_reference TEXT NOT NULL DEFAULT '',
	last_params       TEXT NOT NULL DEFAULT '',
	updated_at        INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS gallery (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	image_url  TEXT NOT NULL,
	model_url  TEXT NOT NULL DEFAULT '',
	viewer_url TEXT NOT NULL DEFAULT '',
	seq        INTEGER NOT NULL,
	deleted    INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_gallery_seq ON gallery(seq);
`

// Cache is a SQLite-backed device cache. It is safe for concurrent use; the
// single connection serialises writers.
type Cache struct {
	db     *sql.DB
	sealer *sealer.Sealer
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithSealer seals the subscription snapshot. Without it the snapshot is stored in clear.
func WithSealer(s *sealer.Sealer) Option { return func(c *Cache) { c.sealer = s } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// Open opens or creates the cache database at path.
func Open(path string, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	dsn := path + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(5000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	c := &Cache{db: db, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Close closes the database.
func (c *Cache) Close() error { return c.db.Close() }

// snapshot is the cached subscription state of one scope.
type snapshot struct {
	Active    bool       `json:"active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Reference string     `json:"reference,omitempty"`
}

func (c *Cache) seal(scope string, s snapshot) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	if c.sealer == nil {
		return b, nil
	}
	return c.sealer.Seal(scope, b)
}

// open decodes a snapshot. A blob that does not open reads as "not subscribed".
func (c *Cache) open(scope string, blob []byte) snapshot {
	if len(blob) == 0 {
		return snapshot{}
	}
	b := blob
	if c.sealer != nil {
		var err error
		if b, err = c.sealer.Open(scope, blob); err != nil {
			return snapshot{}
		}
	}
	var s snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return snapshot{}
	}
	return s
}

// Usage returns the cached record for id merged with defaults. The
// subscription flag is expiry-checked.
func (c *Cache) Usage(ctx context.Context, id uuid.UUID) (model.UsageRecord, error) {
	const op = "localcache.Usage"
	scope := ScopeFor(id)
	rec := model.DefaultUsage(id)

	var (
		trial   bool
		count   int64
		blob    []byte
		updated int64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT free_trial_used, generations_count, subscription, updated_at FROM usage_cache WHERE scope = ?`,
		scope).Scan(&trial, &count, &blob, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return rec, fmt.Errorf("%s: %w", op, err)
	}
	s := c.open(scope, blob)
	rec.FreeTrialUsed = trial
	rec.GenerationsCount = count
	rec.SubscriptionActive = s.Active
	rec.SubscriptionExpiresAt = s.ExpiresAt
	rec.LastPaymentReference = s.Reference
	if updated > 0 {
		rec.UpdatedAt = time.Unix(0, updated).UTC()
	}
	return rec.Effective(c.now()), nil
}

// Increment atomically marks the trial used and bumps the counter for id.
func (c *Cache) Increment(ctx context.Context, id uuid.UUID) (model.UsageRecord, error) {
	const op = "localcache.Increment"
	var (
		trial bool
		count int64
	)
	err := c.db.QueryRowContext(ctx, `
		INSERT INTO usage_cache (scope, free_trial_used, generations_count, updated_at)
		VALUES (?, 1, 1, ?)
		ON CONFLICT(scope) DO UPDATE SET
			free_trial_used = 1,
			generations_count = usage_cache.generations_count + 1,
			updated_at = excluded.updated_at
		RETURNING free_trial_used, generations_count`,
		ScopeFor(id), c.now().UnixNano()).Scan(&trial, &count)
	if err != nil {
		return model.UsageRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	rec, err := c.Usage(ctx, id)
	if err != nil {
		return model.UsageRecord{}, err
	}
	rec.FreeTrialUsed, rec.GenerationsCount = trial, count
	return rec, nil
}

// StoreUsage replaces the cached counters and subscription snapshot with rec.
func (c *Cache) StoreUsage(ctx context.Context, rec model.UsageRecord) error {
	const op = "localcache.StoreUsage"
	scope := ScopeFor(rec.UserID)
	blob, err := c.seal(scope, snapshot{
		Active:    rec.SubscriptionActive,
		ExpiresAt: rec.SubscriptionExpiresAt,
		Reference: rec.LastPaymentReference,
	})
	if err != nil {
		return fmt.Errorf("%s: seal: %w", op, err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO usage_cache (scope, free_trial_used, generations_count, subscription, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET
			free_trial_used = excluded.free_trial_used,
			generations_count = excluded.generations_count,
			subscription = excluded.subscription,
			updated_at = excluded.updated_at`,
		scope, rec.FreeTrialUsed, rec.GenerationsCount, blob, c.now().UnixNano())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Cache) setColumn(ctx context.Context, op, column string, id uuid.UUID, v string) error {
	// column is one of the fixed names below, never user input.
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO usage_cache (scope, `+column+`, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET `+column+` = excluded.`+column,
		ScopeFor(id), v, c.now().UnixNano())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Cache) getColumn(ctx context.Context, op, column string, id uuid.UUID) (string, error) {
	var v string
	err := c.db.QueryRowContext(ctx, `SELECT `+column+` FROM usage_cache WHERE scope = ?`, ScopeFor(id)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// SetPending stores the reference of a payment started on this device.
func (c *Cache) SetPending(ctx context.Context, id uuid.UUID, ref string) error {
	return c.setColumn(ctx, "localcache.SetPending", "pending_reference", id, ref)
}

// Pending returns the pending payment reference, empty when none.
func (c *Cache) Pending(ctx context.Context, id uuid.UUID) (string, error) {
	return c.getColumn(ctx, "localcache.Pending", "pending_reference", id)
}

// ClearPending forgets the pending payment reference.
func (c *Cache) ClearPending(ctx context.Context, id uuid.UUID) error {
	return c.SetPending(ctx, id, "")
}

// SetLastParams remembers the parameters of the last image request.
func (c *Cache) SetLastParams(ctx context.Context, id uuid.UUID, p model.ImageParams) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.setColumn(ctx, "localcache.SetLastParams", "last_params", id, string(b))
}

// LastParams returns the remembered parameters, or errs.ErrNoParams.
func (c *Cache) LastParams(ctx context.Context, id uuid.UUID) (model.ImageParams, error) {
	const op = "localcache.LastParams"
	v, err := c.getColumn(ctx, op, "last_params", id)
	if err != nil {
		return model.ImageParams{}, err
	}
	if v == "" {
		return model.ImageParams{}, errs.ErrNoParams
	}
	var p model.ImageParams
	if err := json.Unmarshal([]byte(v), &p); err != nil {
		return model.ImageParams{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// ResetUsage drops the counters and snapshots of every scope.
func (c *Cache) ResetUsage(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM usage_cache`); err != nil {
		return fmt.Errorf("localcache.ResetUsage: %w", err)
	}
	return nil
}

// Clear wipes the whole cache. It runs on sign-out.
func (c *Cache) Clear(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("localcache.Clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, q := range []string{`DELETE FROM usage_cache`, `DELETE FROM gallery`} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("localcache.Clear: %w", err)
		}
	}
	return tx.Commit()
}
