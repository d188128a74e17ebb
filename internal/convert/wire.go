// Package convert maps domain models to and from api wire messages.
package convert

import (
	"fmt"

	"github.com/and161185/charforge/internal/api"
	model "github.com/and161185/charforge/internal/model"
	u "github.com/gofrs/uuid/v5"
)

// --- Usage ---

// ToWireUsage converts a usage record. The record should already be
// expiry-checked.
func ToWireUsage(r model.UsageRecord) api.Usage {
	return api.Usage{
		FreeTrialUsed:         r.FreeTrialUsed,
		GenerationsCount:      r.GenerationsCount,
		SubscriptionActive:    r.SubscriptionActive,
		SubscriptionExpiresAt: r.SubscriptionExpiresAt,
		LastPaymentReference:  r.LastPaymentReference,
	}
}

// FromWireUsage rebuilds a usage record for userID.
func FromWireUsage(userID u.UUID, in api.Usage) model.UsageRecord {
	return model.UsageRecord{
		UserID:                userID,
		FreeTrialUsed:         in.FreeTrialUsed,
		GenerationsCount:      in.GenerationsCount,
		SubscriptionActive:    in.SubscriptionActive,
		SubscriptionExpiresAt: in.SubscriptionExpiresAt,
		LastPaymentReference:  in.LastPaymentReference,
	}
}

// --- Verification ---

// ToWireVerify converts a verification outcome.
func ToWireVerify(o model.VerifyOutcome) *api.VerifyPaymentResponse {
	return &api.VerifyPaymentResponse{
		Verified:  o.Verified,
		Reason:    o.Reason,
		Reference: o.Reference,
		Usage:     ToWireUsage(o.Record),
	}
}

// FromWireVerify converts a verification response for userID.
func FromWireVerify(userID u.UUID, in *api.VerifyPaymentResponse) model.VerifyOutcome {
	if in == nil {
		return model.VerifyOutcome{}
	}
	return model.VerifyOutcome{
		Verified:  in.Verified,
		Reason:    in.Reason,
		Reference: in.Reference,
		Record:    FromWireUsage(userID, in.Usage),
	}
}

// --- Gallery ---

// ToWireGallery converts a gallery entry; a nil ID is sent as empty.
func ToWireGallery(e model.GalleryEntry) api.GalleryEntry {
	out := api.GalleryEntry{
		Name:      e.Name,
		ImageURL:  e.ImageURL,
		ModelURL:  e.ModelURL,
		ViewerURL: e.ViewerURL,
		Seq:       e.Seq,
		Deleted:   e.Deleted,
		CreatedAt: e.CreatedAt,
	}
	if e.ID != u.Nil {
		out.ID = e.ID.String()
	}
	return out
}

// FromWireGallery converts a wire entry owned by userID. An empty ID maps to u.Nil.
func FromWireGallery(userID u.UUID, in api.GalleryEntry) (model.GalleryEntry, error) {
	var id u.UUID
	if in.ID != "" {
		if err := id.UnmarshalText([]byte(in.ID)); err != nil {
			return model.GalleryEntry{}, fmt.Errorf("invalid id: %w", err)
		}
	}
	return model.GalleryEntry{
		ID:        id,
		UserID:    userID,
		Name:      in.Name,
		ImageURL:  in.ImageURL,
		ModelURL:  in.ModelURL,
		ViewerURL: in.ViewerURL,
		Seq:       in.Seq,
		Deleted:   in.Deleted,
		CreatedAt: in.CreatedAt,
	}, nil
}

// ToWireGalleryList converts a slice of entries.
func ToWireGalleryList(in []model.GalleryEntry) []api.GalleryEntry {
	out := make([]api.GalleryEntry, 0, len(in))
	for _, e := range in {
		out = append(out, ToWireGallery(e))
	}
	return out
}

// FromWireGalleryList converts a slice of wire entries, failing on the first bad ID.
func FromWireGalleryList(userID u.UUID, in []api.GalleryEntry) ([]model.GalleryEntry, error) {
	out := make([]model.GalleryEntry, 0, len(in))
	for i, e := range in {
		m, err := FromWireGallery(userID, e)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}
