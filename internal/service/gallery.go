package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/model"
	"github.com/and161185/charforge/internal/repository"
	"github.com/gofrs/uuid/v5"
)

// GalleryService manages a user's saved generations.
type GalleryService interface {
	// Add stores an entry and returns it with ID, Seq and CreatedAt assigned.
	Add(ctx context.Context, userID uuid.UUID, e model.GalleryEntry) (model.GalleryEntry, error)
	// List returns entries changed after sinceSeq, tombstones included.
	List(ctx context.Context, userID uuid.UUID, sinceSeq int64) ([]model.GalleryEntry, error)
	// Delete tombstones an entry.
	Delete(ctx context.Context, userID, id uuid.UUID) (model.GalleryEntry, error)
}

type GalleryServiceImpl struct {
	repo repository.GalleryRepository
}

func NewGalleryService(repo repository.GalleryRepository) *GalleryServiceImpl {
	return &GalleryServiceImpl{repo: repo}
}

func (s *GalleryServiceImpl) Add(ctx context.Context, userID uuid.UUID, e model.GalleryEntry) (model.GalleryEntry, error) {
	if userID == uuid.Nil {
		return model.GalleryEntry{}, errs.ErrUnauthorized
	}
	if strings.TrimSpace(e.ImageURL) == "" {
		return model.GalleryEntry{}, fmt.Errorf("%w: empty image url", errs.ErrInvalidArgument)
	}
	if e.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return model.GalleryEntry{}, err
		}
		e.ID = id
	}
	e.UserID = userID
	e.Name = model.GalleryName(strings.TrimSpace(e.Name))
	e.Deleted = false

	out, err := s.repo.Add(ctx, e)
	if err != nil {
		return model.GalleryEntry{}, err
	}
	return *out, nil
}

func (s *GalleryServiceImpl) List(ctx context.Context, userID uuid.UUID, sinceSeq int64) ([]model.GalleryEntry, error) {
	if userID == uuid.Nil {
		return nil, errs.ErrUnauthorized
	}
	if sinceSeq < 0 {
		sinceSeq = 0
	}
	return s.repo.ListSince(ctx, userID, sinceSeq)
}

func (s *GalleryServiceImpl) Delete(ctx context.Context, userID, id uuid.UUID) (model.GalleryEntry, error) {
	if userID == uuid.Nil {
		return model.GalleryEntry{}, errs.ErrUnauthorized
	}
	if id == uuid.Nil {
		return model.GalleryEntry{}, fmt.Errorf("%w: empty id", errs.ErrInvalidArgument)
	}
	out, err := s.repo.Delete(ctx, userID, id)
	if err != nil {
		return model.GalleryEntry{}, err
	}
	return *out, nil
}
