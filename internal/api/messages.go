// Package api defines the charforge.v1.Charforge gRPC service: request and
// response messages, the JSON codec that carries them, the service descriptor
// and a typed client.
package api

import "time"

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	UserID string `json:"user_id"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id"`
}

// Usage is the wire form of a usage record. The subscription flag is already
// expiry-checked by the server.
type Usage struct {
	FreeTrialUsed         bool       `json:"free_trial_used"`
	GenerationsCount      int64      `json:"generations_count"`
	SubscriptionActive    bool       `json:"subscription_active"`
	SubscriptionExpiresAt *time.Time `json:"subscription_expires_at,omitempty"`
	LastPaymentReference  string     `json:"last_payment_reference,omitempty"`
}

type GetUsageRequest struct{}

type UsageResponse struct {
	Usage Usage `json:"usage"`
}

type RecordGenerationRequest struct{}

type ResetUsageRequest struct {
	UserID string `json:"user_id,omitempty"` // defaults to the caller
}

type ResetUsageResponse struct{}

type VerifyPaymentRequest struct {
	PaymentURL string `json:"payment_url"`
}

type VerifyPaymentResponse struct {
	Verified  bool   `json:"verified"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference,omitempty"`
	Usage     Usage  `json:"usage"`
}

type GalleryEntry struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	ImageURL  string    `json:"image_url"`
	ModelURL  string    `json:"model_url,omitempty"`
	ViewerURL string    `json:"viewer_url,omitempty"`
	Seq       int64     `json:"seq,omitempty"`
	Deleted   bool      `json:"deleted,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

type AddGalleryEntryRequest struct {
	Entry GalleryEntry `json:"entry"`
}

type GalleryEntryResponse struct {
	Entry GalleryEntry `json:"entry"`
}

type ListGalleryRequest struct {
	SinceSeq int64 `json:"since_seq"`
}

type ListGalleryResponse struct {
	Entries []GalleryEntry `json:"entries"`
}

type DeleteGalleryEntryRequest struct {
	ID string `json:"id"`
}
