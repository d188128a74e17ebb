package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/model"
	"github.com/and161185/charforge/internal/repository"
	"github.com/gofrs/uuid/v5"
)

type fakeGalleryRepo struct {
	seq     int64
	entries map[uuid.UUID]model.GalleryEntry
}

var _ repository.GalleryRepository = (*fakeGalleryRepo)(nil)

func (f *fakeGalleryRepo) Add(_ context.Context, e model.GalleryEntry) (*model.GalleryEntry, error) {
	if f.entries == nil {
		f.entries = map[uuid.UUID]model.GalleryEntry{}
	}
	if _, ok := f.entries[e.ID]; ok {
		return nil, errs.ErrAlreadyExists
	}
	f.seq++
	e.Seq = f.seq
	f.entries[e.ID] = e
	return &e, nil
}

func (f *fakeGalleryRepo) ListSince(_ context.Context, userID uuid.UUID, since int64) ([]model.GalleryEntry, error) {
	var out []model.GalleryEntry
	for s := since + 1; s <= f.seq; s++ {
		for _, e := range f.entries {
			if e.UserID == userID && e.Seq == s {
				out = append(out, e)
			}
		}
	}
	return out, nil
}

func (f *fakeGalleryRepo) Delete(_ context.Context, userID, id uuid.UUID) (*model.GalleryEntry, error) {
	e, ok := f.entries[id]
	if !ok || e.UserID != userID || e.Deleted {
		return nil, errs.ErrNotFound
	}
	f.seq++
	e.Seq = f.seq
	e.Deleted = true
	f.entries[id] = e
	return &e, nil
}

func TestGallery_AddListDelete(t *testing.T) {
	t.Parallel()
	svc := NewGalleryService(&fakeGalleryRepo{})
	ctx := context.Background()
	uid := uuid.Must(uuid.NewV4())

	long := strings.Repeat("x", 40)
	a, err := svc.Add(ctx, uid, model.GalleryEntry{Name: long, ImageURL: "https://img/a.png"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if a.ID == uuid.Nil || a.UserID != uid {
		t.Fatalf("ids not assigned: %+v", a)
	}
	if a.Name != strings.Repeat("x", 30)+"..." {
		t.Fatalf("name not shortened: %q", a.Name)
	}
	b, err := svc.Add(ctx, uid, model.GalleryEntry{Name: "Bob", ImageURL: "https://img/b.png", ModelURL: "https://m/b.glb"})
	if err != nil {
		t.Fatalf("Add b: %v", err)
	}

	if _, err := svc.Delete(ctx, uid, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Delete(ctx, uid, a.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound on second delete, got %v", err)
	}

	list, err := svc.List(ctx, uid, b.Seq)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != a.ID || !list[0].Deleted {
		t.Fatalf("want only tombstone of a, got %+v", list)
	}
}

func TestGallery_Validation(t *testing.T) {
	t.Parallel()
	svc := NewGalleryService(&fakeGalleryRepo{})
	ctx := context.Background()
	uid := uuid.Must(uuid.NewV4())

	if _, err := svc.Add(ctx, uuid.Nil, model.GalleryEntry{ImageURL: "x"}); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}
	if _, err := svc.Add(ctx, uid, model.GalleryEntry{Name: "n"}); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument, got %v", err)
	}
	if _, err := svc.Delete(ctx, uid, uuid.Nil); !errors.Is(err, errs.ErrInvalidArgument) {
		t.Fatalf("want ErrInvalidArgument, got %v", err)
	}
}
