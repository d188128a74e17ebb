package localcache

import (
	"context"
	"fmt"
	"time"

	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AddGallery stores an entry of the anonymous gallery and assigns its sequence.
func (c *Cache) AddGallery(ctx context.Context, e model.GalleryEntry) (model.GalleryEntry, error) {
	const op = "localcache.AddGallery"
	if e.ImageURL == "" {
		return model.GalleryEntry{}, fmt.Errorf("%s: %w: image url is required", op, errs.ErrInvalidArgument)
	}
	if e.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return model.GalleryEntry{}, fmt.Errorf("%s: %w", op, err)
		}
		e.ID = id
	}
	e.Name = model.GalleryName(e.Name)
	e.CreatedAt = c.now().UTC()

	err := c.db.QueryRowContext(ctx, `
		INSERT INTO gallery (id, name, image_url, model_url, viewer_url, seq, created_at)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM gallery), ?)
		RETURNING seq`,
		e.ID.String(), e.Name, e.ImageURL, e.ModelURL, e.ViewerURL, e.CreatedAt.UnixNano()).Scan(&e.Seq)
	if err != nil {
		return model.GalleryEntry{}, fmt.Errorf("%s: %w", op, err)
	}
	return e, nil
}

// ListGallery returns entries changed after sinceSeq, tombstones included.
func (c *Cache) ListGallery(ctx context.Context, sinceSeq int64) ([]model.GalleryEntry, error) {
	const op = "localcache.ListGallery"
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, image_url, model_url, viewer_url, seq, deleted, created_at
		FROM gallery WHERE seq > ? ORDER BY seq`, sinceSeq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []model.GalleryEntry
	for rows.Next() {
		var (
			e       model.GalleryEntry
			id      string
			created int64
		)
		if err := rows.Scan(&id, &e.Name, &e.ImageURL, &e.ModelURL, &e.ViewerURL, &e.Seq, &e.Deleted, &created); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if e.ID, err = uuid.FromString(id); err != nil {
			return nil, fmt.Errorf("%s: bad id %q: %w", op, id, err)
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteGallery tombstones an entry and bumps its sequence.
func (c *Cache) DeleteGallery(ctx context.Context, id uuid.UUID) error {
	const op = "localcache.DeleteGallery"
	res, err := c.db.ExecContext(ctx, `
		UPDATE gallery SET deleted = 1, seq = (SELECT MAX(seq) + 1 FROM gallery)
		WHERE id = ? AND deleted = 0`, id.String())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	}
	return nil
}
