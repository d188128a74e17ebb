package repository

import (
	"context"

	"github.com/and161185/charforge/internal/model"
	"github.com/gofrs/uuid/v5"
)

// GalleryRepository stores saved generations with a change sequence for delta sync.
type GalleryRepository interface {
	// Add inserts an entry and returns it with Seq and CreatedAt assigned.
	Add(ctx context.Context, e model.GalleryEntry) (*model.GalleryEntry, error)

	// ListSince returns entries (including tombstones) with seq greater than sinceSeq.
	ListSince(ctx context.Context, userID uuid.UUID, sinceSeq int64) ([]model.GalleryEntry, error)

	// Delete tombstones an entry under a new seq.
	Delete(ctx context.Context, userID, id uuid.UUID) (*model.GalleryEntry, error)
}
