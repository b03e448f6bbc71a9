// Package runnerv1 defines the control plane's runner service:
// burrow.controlplane.v1.RunnerService.
//
// Messages travel as google.protobuf.Struct values whose fields mirror the
// JSON encoding of the types in pkg/types, so the service needs no generated
// message code.
package runnerv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "burrow.controlplane.v1.RunnerService"

const (
	MethodStreamRunnerData       = "/" + ServiceName + "/StreamRunnerData"
	MethodGetDeployment          = "/" + ServiceName + "/GetDeployment"
	MethodListDeployments        = "/" + ServiceName + "/ListDeployments"
	MethodUpdateDeploymentStatus = "/" + ServiceName + "/UpdateDeploymentStatus"
)

// Metadata keys every call carries
const (
	MetadataAuthorization = "authorization"
	MetadataWorkspaceID   = "x-workspace-id"
	MetadataRunnerID      = "x-runner-id"
)

// RunnerServiceServer is the server API for RunnerService
type RunnerServiceServer interface {
	// StreamRunnerData pushes desired-state events for the caller's workspace
	StreamRunnerData(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
	GetDeployment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListDeployments(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	UpdateDeploymentStatus(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// UnimplementedRunnerServiceServer can be embedded for forward compatibility
type UnimplementedRunnerServiceServer struct{}

func (UnimplementedRunnerServiceServer) StreamRunnerData(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error {
	return status.Error(codes.Unimplemented, "method StreamRunnerData not implemented")
}

func (UnimplementedRunnerServiceServer) GetDeployment(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method GetDeployment not implemented")
}

func (UnimplementedRunnerServiceServer) ListDeployments(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method ListDeployments not implemented")
}

func (UnimplementedRunnerServiceServer) UpdateDeploymentStatus(context.Context, *structpb.Struct) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdateDeploymentStatus not implemented")
}

// RegisterRunnerServiceServer registers srv on s
func RegisterRunnerServiceServer(s grpc.ServiceRegistrar, srv RunnerServiceServer) {
	s.RegisterService(&RunnerService_ServiceDesc, srv)
}

// RunnerService_ServiceDesc describes RunnerService for grpc.ServiceRegistrar
var RunnerService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RunnerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetDeployment", Handler: getDeploymentHandler},
		{MethodName: "ListDeployments", Handler: listDeploymentsHandler},
		{MethodName: "UpdateDeploymentStatus", Handler: updateDeploymentStatusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamRunnerData", Handler: streamRunnerDataHandler, ServerStreams: true},
	},
	Metadata: "burrow/controlplane/v1/runner.proto",
}

func getDeploymentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunnerServiceServer).GetDeployment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetDeployment}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RunnerServiceServer).GetDeployment(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listDeploymentsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunnerServiceServer).ListDeployments(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodListDeployments}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RunnerServiceServer).ListDeployments(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func updateDeploymentStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RunnerServiceServer).UpdateDeploymentStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodUpdateDeploymentStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RunnerServiceServer).UpdateDeploymentStatus(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func streamRunnerDataHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RunnerServiceServer).StreamRunnerData(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// RunnerServiceClient is the client API for RunnerService
type RunnerServiceClient interface {
	StreamRunnerData(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error)
	GetDeployment(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
	ListDeployments(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
	UpdateDeploymentStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
}

type runnerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewRunnerServiceClient creates a client on cc
func NewRunnerServiceClient(cc grpc.ClientConnInterface) RunnerServiceClient {
	return &runnerServiceClient{cc: cc}
}

func (c *runnerServiceClient) StreamRunnerData(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &RunnerService_ServiceDesc.Streams[0], MethodStreamRunnerData, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *runnerServiceClient) GetDeployment(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetDeployment, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *runnerServiceClient) ListDeployments(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodListDeployments, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *runnerServiceClient) UpdateDeploymentStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, MethodUpdateDeploymentStatus, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
