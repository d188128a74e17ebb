package api

import (
	"context"

	"google.golang.org/grpc"
)

// Client is a typed client for the Charforge service. Every call uses the
// JSON codec.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, in *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, "Register", in, opts)
}

func (c *Client) Login(ctx context.Context, in *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, "Login", in, opts)
}

func (c *Client) GetUsage(ctx context.Context, in *GetUsageRequest, opts ...grpc.CallOption) (*UsageResponse, error) {
	return invoke[UsageResponse](ctx, c.cc, "GetUsage", in, opts)
}

func (c *Client) RecordGeneration(ctx context.Context, in *RecordGenerationRequest, opts ...grpc.CallOption) (*UsageResponse, error) {
	return invoke[UsageResponse](ctx, c.cc, "RecordGeneration", in, opts)
}

func (c *Client) ResetUsage(ctx context.Context, in *ResetUsageRequest, opts ...grpc.CallOption) (*ResetUsageResponse, error) {
	return invoke[ResetUsageResponse](ctx, c.cc, "ResetUsage", in, opts)
}

func (c *Client) VerifyPayment(ctx context.Context, in *VerifyPaymentRequest, opts ...grpc.CallOption) (*VerifyPaymentResponse, error) {
	return invoke[VerifyPaymentResponse](ctx, c.cc, "VerifyPayment", in, opts)
}

func (c *Client) AddGalleryEntry(ctx context.Context, in *AddGalleryEntryRequest, opts ...grpc.CallOption) (*GalleryEntryResponse, error) {
	return invoke[GalleryEntryResponse](ctx, c.cc, "AddGalleryEntry", in, opts)
}

func (c *Client) ListGallery(ctx context.Context, in *ListGalleryRequest, opts ...grpc.CallOption) (*ListGalleryResponse, error) {
	return invoke[ListGalleryResponse](ctx, c.cc, "ListGallery", in, opts)
}

func (c *Client) DeleteGalleryEntry(ctx context.Context, in *DeleteGalleryEntryRequest, opts ...grpc.CallOption) (*GalleryEntryResponse, error) {
	return invoke[GalleryEntryResponse](ctx, c.cc, "DeleteGalleryEntry", in, opts)
}
