package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "attendkeeper.rowstore.RowStore"

const (
	MethodSignIn           = "/" + ServiceName + "/SignIn"
	MethodRefresh          = "/" + ServiceName + "/Refresh"
	MethodPing             = "/" + ServiceName + "/Ping"
	MethodSelect           = "/" + ServiceName + "/Select"
	MethodUpsert           = "/" + ServiceName + "/Upsert"
	MethodSoftDelete       = "/" + ServiceName + "/SoftDelete"
	MethodDeleteByProfiles = "/" + ServiceName + "/DeleteByProfiles"
	MethodPresignSnapshot  = "/" + ServiceName + "/PresignSnapshot"
)

// PublicMethods do not require an access token.
var PublicMethods = map[string]bool{
	MethodSignIn:  true,
	MethodRefresh: true,
	MethodPing:    true,
}

// RowStoreServer is implemented by the server's gRPC handler.
type RowStoreServer interface {
	SignIn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Refresh(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Ping(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Select(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Upsert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SoftDelete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteByProfiles(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PresignSnapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(RowStoreServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(call unaryCall, fullMethod string) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := &structpb.Struct{}
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(RowStoreServer)
		if interceptor == nil {
			return call(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(s, ctx, req.(*structpb.Struct))
		})
	}
}

// ServiceDesc registers a RowStoreServer on a *grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RowStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SignIn", Handler: handler(RowStoreServer.SignIn, MethodSignIn)},
		{MethodName: "Refresh", Handler: handler(RowStoreServer.Refresh, MethodRefresh)},
		{MethodName: "Ping", Handler: handler(RowStoreServer.Ping, MethodPing)},
		{MethodName: "Select", Handler: handler(RowStoreServer.Select, MethodSelect)},
		{MethodName: "Upsert", Handler: handler(RowStoreServer.Upsert, MethodUpsert)},
		{MethodName: "SoftDelete", Handler: handler(RowStoreServer.SoftDelete, MethodSoftDelete)},
		{MethodName: "DeleteByProfiles", Handler: handler(RowStoreServer.DeleteByProfiles, MethodDeleteByProfiles)},
		{MethodName: "PresignSnapshot", Handler: handler(RowStoreServer.PresignSnapshot, MethodPresignSnapshot)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "attendkeeper/rowstore.proto",
}

// RegisterRowStoreServer attaches impl to s.
func RegisterRowStoreServer(s grpc.ServiceRegistrar, impl RowStoreServer) {
	s.RegisterService(&ServiceDesc, impl)
}
