package api

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "charforge.v1.Charforge"

// SupportKeyHeader is the metadata key carrying the operator key for ResetUsage.
const SupportKeyHeader = "x-support-key"

// CharforgeServer is implemented by the server handlers.
type CharforgeServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	GetUsage(context.Context, *GetUsageRequest) (*UsageResponse, error)
	RecordGeneration(context.Context, *RecordGenerationRequest) (*UsageResponse, error)
	ResetUsage(context.Context, *ResetUsageRequest) (*ResetUsageResponse, error)
	VerifyPayment(context.Context, *VerifyPaymentRequest) (*VerifyPaymentResponse, error)
	AddGalleryEntry(context.Context, *AddGalleryEntryRequest) (*GalleryEntryResponse, error)
	ListGallery(context.Context, *ListGalleryRequest) (*ListGalleryResponse, error)
	DeleteGalleryEntry(context.Context, *DeleteGalleryEntryRequest) (*GalleryEntryResponse, error)
}

// FullMethod returns the gRPC method path for a method name.
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

func unary[Req, Resp any](method string, call func(CharforgeServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(CharforgeServer)
			if ic == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return ic(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// ServiceDesc describes the Charforge service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CharforgeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Register", CharforgeServer.Register),
		unary("Login", CharforgeServer.Login),
		unary("GetUsage", CharforgeServer.GetUsage),
		unary("RecordGeneration", CharforgeServer.RecordGeneration),
		unary("ResetUsage", CharforgeServer.ResetUsage),
		unary("VerifyPayment", CharforgeServer.VerifyPayment),
		unary("AddGalleryEntry", CharforgeServer.AddGalleryEntry),
		unary("ListGallery", CharforgeServer.ListGallery),
		unary("DeleteGalleryEntry", CharforgeServer.DeleteGalleryEntry),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "charforge/v1/charforge.json",
}

// RegisterCharforgeServer registers srv on s.
func RegisterCharforgeServer(s grpc.ServiceRegistrar, srv CharforgeServer) {
	s.RegisterService(&ServiceDesc, srv)
}
