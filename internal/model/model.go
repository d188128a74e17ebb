// Package model defines domain entities used by services, repositories and the client.
package model

import (
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
)

// Tokens collects issued access/refresh tokens (refresh optional).
type Tokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // access token expiry (for diagnostics)
}

// User represents an account stored on the server.
type User struct {
	ID        uuid.UUID // PK
	Username  string    // unique
	PwdHash   string    // encoded Argon2id hash with its parameters and salt
	CreatedAt time.Time
}

// UsageRecord is the per-identity entitlement and usage state.
type UsageRecord struct {
	UserID                uuid.UUID
	FreeTrialUsed         bool
	GenerationsCount      int64
	SubscriptionActive    bool       // stored flag; see SubscriptionEffective
	SubscriptionExpiresAt *time.Time // nil means open-ended
	LastPaymentReference  string     // empty when no payment was applied
	UpdatedAt             time.Time
}

// DefaultUsage returns the record an identity has before any generation.
func DefaultUsage(userID uuid.UUID) UsageRecord {
	return UsageRecord{UserID: userID}
}

// SubscriptionEffective reports whether the subscription is active at now.
// An expiry in the past overrides the stored flag.
func (r UsageRecord) SubscriptionEffective(now time.Time) bool {
	if !r.SubscriptionActive {
		return false
	}
	return r.SubscriptionExpiresAt == nil || r.SubscriptionExpiresAt.After(now)
}

// Effective returns a copy with SubscriptionActive recomputed from the expiry.
func (r UsageRecord) Effective(now time.Time) UsageRecord {
	r.SubscriptionActive = r.SubscriptionEffective(now)
	return r
}

// PaymentCallback is the data carried by a payment provider redirect URL.
type PaymentCallback struct {
	Success      bool
	ResponseCode string
	Message      string
	Reference    string
}

// VerifyOutcome is the trusted verdict for a payment redirect.
type VerifyOutcome struct {
	Verified  bool
	Reason    string // empty when verified
	Reference string
	Record    UsageRecord
}

// PaymentSession is a hosted payment page created by the payment provider.
type PaymentSession struct {
	PaymentURL string
	Reference  string
}

// ImageParams are the character attributes sent to the image endpoint.
type ImageParams struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"required,max=2000"`
	Color       string `json:"color" validate:"required,max=64"`
}

// ImageResult is a generated character image.
type ImageResult struct {
	ImageURL string `json:"image_url"`
	LocalURL string `json:"local_url,omitempty"`
}

// ModelResult is a generated 3D model and its viewer.
type ModelResult struct {
	ModelURL    string `json:"model_url"`
	ViewerURL   string `json:"viewer_url"`
	ColorVideo  string `json:"color_video,omitempty"`
	GaussianPLY string `json:"gaussian_ply,omitempty"`
}

// GalleryEntry is a saved generation, kept on the server for signed-in users
// and on the device for anonymous ones.
type GalleryEntry struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Name      string
	ImageURL  string
	ModelURL  string
	ViewerURL string
	Seq       int64 // monotonically increasing change sequence
	Deleted   bool  // tombstone flag
	CreatedAt time.Time
}

const galleryNameMax = 30

// GalleryName shortens a character name for gallery listings.
func GalleryName(name string) string {
	if utf8.RuneCountInString(name) <= galleryNameMax {
		return name
	}
	r := []rune(name)
	return string(r[:galleryNameMax]) + "..."
}
