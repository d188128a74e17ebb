// Package grpcserver exposes the Charforge gRPC API handlers.
package grpcserver

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"

	"github.com/and161185/charforge/internal/api"
	"github.com/and161185/charforge/internal/convert"
	"github.com/and161185/charforge/internal/errs"
	"github.com/and161185/charforge/internal/server/authn"
	"github.com/and161185/charforge/internal/service"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// SupportKeyHeader carries the operator key required by ResetUsage.
const SupportKeyHeader = api.SupportKeyHeader

// Server wires services into gRPC handlers.
type Server struct {
	auth       service.AuthService
	usage      service.UsageService
	payments   service.PaymentService
	gallery    service.GalleryService
	supportKey string
	log        *zap.Logger
}

var _ api.CharforgeServer = (*Server)(nil)

// New constructs a gRPC server with injected services. An empty supportKey
// disables ResetUsage.
func New(
	auth service.AuthService,
	usage service.UsageService,
	payments service.PaymentService,
	gallery service.GalleryService,
	supportKey string,
	log *zap.Logger,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		auth: auth, usage: usage, payments: payments, gallery: gallery,
		supportKey: supportKey, log: log,
	}
}

// --- Auth ---

// Register creates a new user account.
func (s *Server) Register(ctx context.Context, req *api.RegisterRequest) (*api.RegisterResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "empty username/password")
	}
	userID, err := s.auth.Register(ctx, req.Username, req.Password)
	if err != nil {
		return nil, s.toStatus("register", err)
	}
	return &api.RegisterResponse{UserID: userID}, nil
}

func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Login authenticates a user and returns an access token.
func (s *Server) Login(ctx context.Context, req *api.LoginRequest) (*api.LoginResponse, error) {
	tok, u, err := s.auth.LoginWithIP(ctx, req.Username, req.Password, remoteIP(ctx))
	if err != nil {
		if errors.Is(err, errs.ErrUnauthorized) {
			return nil, status.Error(codes.Unauthenticated, "bad credentials")
		}
		return nil, s.toStatus("login", err)
	}
	return &api.LoginResponse{
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.ExpiresAt,
		UserID:      u.ID.String(),
	}, nil
}

// --- Usage ---

// GetUsage returns the caller's expiry-checked usage record.
func (s *Server) GetUsage(ctx context.Context, _ *api.GetUsageRequest) (*api.UsageResponse, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := s.usage.GetUsage(ctx, userID)
	if err != nil {
		return nil, s.toStatus("get usage", err)
	}
	return &api.UsageResponse{Usage: convert.ToWireUsage(rec)}, nil
}

// RecordGeneration consumes the free trial and increments the counter.
func (s *Server) RecordGeneration(ctx context.Context, _ *api.RecordGenerationRequest) (*api.UsageResponse, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := s.usage.RecordGeneration(ctx, userID)
	if err != nil {
		return nil, s.toStatus("record generation", err)
	}
	return &api.UsageResponse{Usage: convert.ToWireUsage(rec)}, nil
}

// ResetUsage clears trial usage. It requires the support key.
func (s *Server) ResetUsage(ctx context.Context, req *api.ResetUsageRequest) (*api.ResetUsageResponse, error) {
	if !s.supportKeyOK(ctx) {
		return nil, status.Error(codes.PermissionDenied, "support key required")
	}
	var target uuid.UUID
	if req.UserID != "" {
		id, err := uuid.FromString(req.UserID)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "bad user id")
		}
		target = id
	} else {
		id, err := requireUser(ctx)
		if err != nil {
			return nil, err
		}
		target = id
	}
	if err := s.usage.ResetUsage(ctx, target); err != nil {
		return nil, s.toStatus("reset usage", err)
	}
	s.log.Info("usage reset", zap.String("user_id", target.String()))
	return &api.ResetUsageResponse{}, nil
}

func (s *Server) supportKeyOK(ctx context.Context) bool {
	if s.supportKey == "" {
		return false
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return false
	}
	for _, v := range md.Get(SupportKeyHeader) {
		if subtle.ConstantTimeCompare([]byte(v), []byte(s.supportKey)) == 1 {
			return true
		}
	}
	return false
}

// --- Payments ---

// VerifyPayment is the trusted verification function.
func (s *Server) VerifyPayment(ctx context.Context, req *api.VerifyPaymentRequest) (*api.VerifyPaymentResponse, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	if req.PaymentURL == "" {
		return nil, status.Error(codes.InvalidArgument, "empty payment_url")
	}
	out, err := s.payments.VerifyPayment(ctx, userID, req.PaymentURL)
	if err != nil {
		return nil, s.toStatus("verify payment", err)
	}
	return convert.ToWireVerify(out), nil
}

// --- Gallery ---

// AddGalleryEntry saves a generation to the caller's gallery.
func (s *Server) AddGalleryEntry(ctx context.Context, req *api.AddGalleryEntryRequest) (*api.GalleryEntryResponse, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	e, err := convert.FromWireGallery(userID, req.Entry)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad entry: %v", err)
	}
	out, err := s.gallery.Add(ctx, userID, e)
	if err != nil {
		return nil, s.toStatus("add gallery entry", err)
	}
	return &api.GalleryEntryResponse{Entry: convert.ToWireGallery(out)}, nil
}

// ListGallery returns entries changed since a sequence for delta synchronization.
func (s *Server) ListGallery(ctx context.Context, req *api.ListGalleryRequest) (*api.ListGalleryResponse, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.gallery.List(ctx, userID, req.SinceSeq)
	if err != nil {
		return nil, s.toStatus("list gallery", err)
	}
	return &api.ListGalleryResponse{Entries: convert.ToWireGalleryList(list)}, nil
}

// DeleteGalleryEntry marks an entry as deleted (tombstone).
func (s *Server) DeleteGalleryEntry(ctx context.Context, req *api.DeleteGalleryEntryRequest) (*api.GalleryEntryResponse, error) {
	userID, err := requireUser(ctx)
	if err != nil {
		return nil, err
	}
	id, err := uuid.FromString(req.ID)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "bad id")
	}
	out, err := s.gallery.Delete(ctx, userID, id)
	if err != nil {
		return nil, s.toStatus("delete gallery entry", err)
	}
	return &api.GalleryEntryResponse{Entry: convert.ToWireGallery(out)}, nil
}

// requireUser returns the caller authenticated by AuthUnary.
func requireUser(ctx context.Context) (uuid.UUID, error) {
	id, ok := authn.UserIDFromCtx(ctx)
	if !ok || id == uuid.Nil {
		return uuid.Nil, status.Error(codes.Unauthenticated, "no auth")
	}
	return id, nil
}

// toStatus maps service errors to gRPC codes. Unknown errors are logged and
// reported as Internal without detail.
func (s *Server) toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthorized")
	case errors.Is(err, errs.ErrForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, errs.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, op+": canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, op+": deadline exceeded")
	}
	s.log.Error(op, zap.Error(err))
	return status.Errorf(codes.Internal, "%s: internal error", op)
}
