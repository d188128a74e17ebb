package postgres

import (
	"context"
	"errors"

	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// GalleryRepo implements GalleryRepository using PostgreSQL.
type GalleryRepo struct{ db *DB }

// NewGalleryRepo constructs a gallery repository.
func NewGalleryRepo(db *DB) *GalleryRepo { return &GalleryRepo{db: db} }

const galleryColumns = `id, user_id, name, image_url, model_url, viewer_url, seq, deleted, created_at`

// Add inserts a new gallery entry.
func (r *GalleryRepo) Add(ctx context.Context, e model.GalleryEntry) (*model.GalleryEntry, error) {
	const q = `
INSERT INTO gallery_entries (id, user_id, name, image_url, model_url, viewer_url)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + galleryColumns
	out, err := scanGallery(r.db.Pool.QueryRow(ctx, q, e.ID, e.UserID, e.Name, e.ImageURL, e.ModelURL, e.ViewerURL))
	if isUniqueViolation(err) {
		return nil, errs.ErrAlreadyExists
	}
	return out, err
}

// ListSince returns entries changed after sinceSeq in seq order.
func (r *GalleryRepo) ListSince(ctx context.Context, userID uuid.UUID, sinceSeq int64) ([]model.GalleryEntry, error) {
	const q = `
SELECT ` + galleryColumns + `
FROM gallery_entries
WHERE user_id=$1 AND seq>$2
ORDER BY seq ASC`
	rows, err := r.db.Pool.Query(ctx, q, userID, sinceSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GalleryEntry
	for rows.Next() {
		e, err := scanGallery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Delete tombstones a live entry and moves it to a new seq.
func (r *GalleryRepo) Delete(ctx context.Context, userID, id uuid.UUID) (*model.GalleryEntry, error) {
	const q = `
UPDATE gallery_entries
SET deleted=true, seq=nextval('gallery_seq')
WHERE id=$1 AND user_id=$2 AND NOT deleted
RETURNING ` + galleryColumns
	return scanGallery(r.db.Pool.QueryRow(ctx, q, id, userID))
}

func scanGallery(row pgx.Row) (*model.GalleryEntry, error) {
	var e model.GalleryEntry
	err := row.Scan(&e.ID, &e.UserID, &e.Name, &e.ImageURL, &e.ModelURL, &e.ViewerURL, &e.Seq, &e.Deleted, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}
