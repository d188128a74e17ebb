package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/and161185/charforge/internal/api"
	"github.com/and161185/charforge/internal/convert"
	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/model"
	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Backend is the typed view of the server used by the client components.
// The caller identity comes from the connection token; the id arguments only
// label the returned records.
type Backend struct {
	api *api.Client
}

// NewBackend wraps a client connection.
func NewBackend(cc grpc.ClientConnInterface) *Backend {
	return &Backend{api: api.NewClient(cc)}
}

var codeSentinels = map[codes.Code]error{
	codes.NotFound:          errs.ErrNotFound,
	codes.Unauthenticated:   errs.ErrUnauthorized,
	codes.PermissionDenied:  errs.ErrForbidden,
	codes.ResourceExhausted: errs.ErrRateLimited,
	codes.AlreadyExists:     errs.ErrAlreadyExists,
	codes.InvalidArgument:   errs.ErrInvalidArgument,
}

// fromStatus maps a gRPC status to a domain sentinel. Transport failures are
// returned unchanged.
func fromStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	if s, found := codeSentinels[st.Code()]; found {
		return fmt.Errorf("%s: %w: %s", op, s, st.Message())
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsTransient reports whether err is a remote failure the caller may absorb
// by falling back to local state.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	for _, s := range codeSentinels {
		if errors.Is(err, s) {
			return false
		}
	}
	return !errors.Is(err, context.Canceled)
}

func parseID(op, s string) (uuid.UUID, error) {
	id, err := uuid.FromString(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: bad user id %q: %w", op, s, err)
	}
	return id, nil
}

func (b *Backend) Register(ctx context.Context, username, password string) (uuid.UUID, error) {
	const op = "client.Register"
	resp, err := b.api.Register(ctx, &api.RegisterRequest{Username: username, Password: password})
	if err != nil {
		return uuid.Nil, fromStatus(op, err)
	}
	return parseID(op, resp.UserID)
}

// Login returns the issued token and the account id.
func (b *Backend) Login(ctx context.Context, username, password string) (model.Tokens, uuid.UUID, error) {
	const op = "client.Login"
	resp, err := b.api.Login(ctx, &api.LoginRequest{Username: username, Password: password})
	if err != nil {
		return model.Tokens{}, uuid.Nil, fromStatus(op, err)
	}
	id, err := parseID(op, resp.UserID)
	if err != nil {
		return model.Tokens{}, uuid.Nil, err
	}
	return model.Tokens{AccessToken: resp.AccessToken, ExpiresAt: resp.ExpiresAt}, id, nil
}

func (b *Backend) GetUsage(ctx context.Context, id uuid.UUID) (model.UsageRecord, error) {
	resp, err := b.api.GetUsage(ctx, &api.GetUsageRequest{})
	if err != nil {
		return model.UsageRecord{}, fromStatus("client.GetUsage", err)
	}
	return convert.FromWireUsage(id, resp.Usage), nil
}

func (b *Backend) RecordGeneration(ctx context.Context, id uuid.UUID) (model.UsageRecord, error) {
	resp, err := b.api.RecordGeneration(ctx, &api.RecordGenerationRequest{})
	if err != nil {
		return model.UsageRecord{}, fromStatus("client.RecordGeneration", err)
	}
	return convert.FromWireUsage(id, resp.Usage), nil
}

// ResetUsage clears the server-side counters of target. It needs the operator
// support key; a Nil target resets the caller.
func (b *Backend) ResetUsage(ctx context.Context, target uuid.UUID, supportKey string) error {
	req := &api.ResetUsageRequest{}
	if target != uuid.Nil {
		req.UserID = target.String()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, api.SupportKeyHeader, supportKey)
	_, err := b.api.ResetUsage(ctx, req)
	return fromStatus("client.ResetUsage", err)
}

func (b *Backend) VerifyPayment(ctx context.Context, id uuid.UUID, redirectURL string) (model.VerifyOutcome, error) {
	resp, err := b.api.VerifyPayment(ctx, &api.VerifyPaymentRequest{PaymentURL: redirectURL})
	if err != nil {
		return model.VerifyOutcome{}, fromStatus("client.VerifyPayment", err)
	}
	return convert.FromWireVerify(id, resp), nil
}

func (b *Backend) AddGalleryEntry(ctx context.Context, id uuid.UUID, e model.GalleryEntry) (model.GalleryEntry, error) {
	const op = "client.AddGalleryEntry"
	resp, err := b.api.AddGalleryEntry(ctx, &api.AddGalleryEntryRequest{Entry: convert.ToWireGallery(e)})
	if err != nil {
		return model.GalleryEntry{}, fromStatus(op, err)
	}
	out, err := convert.FromWireGallery(id, resp.Entry)
	if err != nil {
		return model.GalleryEntry{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (b *Backend) ListGallery(ctx context.Context, id uuid.UUID, sinceSeq int64) ([]model.GalleryEntry, error) {
	const op = "client.ListGallery"
	resp, err := b.api.ListGallery(ctx, &api.ListGalleryRequest{SinceSeq: sinceSeq})
	if err != nil {
		return nil, fromStatus(op, err)
	}
	out, err := convert.FromWireGalleryList(id, resp.Entries)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (b *Backend) DeleteGalleryEntry(ctx context.Context, entryID uuid.UUID) error {
	_, err := b.api.DeleteGalleryEntry(ctx, &api.DeleteGalleryEntryRequest{ID: entryID.String()})
	return fromStatus("client.DeleteGalleryEntry", err)
}
