package api

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/burrow/api/runnerv1"
	rerrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/store"
	"github.com/cuemby/burrow/pkg/types"
)

// ControlPlaneServer implements the RunnerService gRPC service over a
// deployment repository. It is the development stand-in for the hosted
// control plane.
type ControlPlaneServer struct {
	runnerv1.UnimplementedRunnerServiceServer
	repo   store.DeploymentRepository
	hub    *events.Hub
	grpc   *grpc.Server
	logger zerolog.Logger
}

// NewControlPlaneServer creates a control plane server accepting apiToken
func NewControlPlaneServer(repo store.DeploymentRepository, hub *events.Hub, apiToken string) *ControlPlaneServer {
	auth := &Authenticator{Token: apiToken}
	s := &ControlPlaneServer{
		repo:   repo,
		hub:    hub,
		logger: log.WithComponent("controlplane"),
		grpc: grpc.NewServer(
			grpc.ChainUnaryInterceptor(auth.UnaryInterceptor()),
			grpc.ChainStreamInterceptor(auth.StreamInterceptor()),
		),
	}
	runnerv1.RegisterRunnerServiceServer(s.grpc, s)
	return s
}

// Serve accepts connections on lis until Stop is called
func (s *ControlPlaneServer) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("Control plane listening")
	return s.grpc.Serve(lis)
}

// Start listens on addr and serves
func (s *ControlPlaneServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Stop gracefully stops the gRPC server
func (s *ControlPlaneServer) Stop() {
	s.grpc.GracefulStop()
}

// StreamRunnerData pushes every notification for the caller's workspace until
// the caller goes away or the hub drops it
func (s *ControlPlaneServer) StreamRunnerData(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	caller, ok := CallerFromContext(stream.Context())
	if !ok {
		return status.Error(codes.Unauthenticated, "missing caller identity")
	}

	sub := s.hub.Subscribe(caller.WorkspaceID)
	defer s.hub.Unsubscribe(sub)

	logger := log.ForWorkspace(s.logger, caller.WorkspaceID).With().
		Str("runner_id", caller.RunnerID).
		Logger()
	logger.Info().Msg("Runner connected")

	for {
		select {
		case <-stream.Context().Done():
			logger.Info().Msg("Runner disconnected")
			return nil
		case n, ok := <-sub:
			if !ok {
				logger.Warn().Msg("Runner stream closed by hub")
				return status.Error(codes.Unavailable, "stream closed, reconnect to resynchronize")
			}
			msg, err := runnerv1.EncodeEvent(n.Event)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to encode event")
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func (s *ControlPlaneServer) GetDeployment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing caller identity")
	}
	var req runnerv1.DeploymentRequest
	if err := runnerv1.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	d, err := s.repo.Get(ctx, req.DeploymentID)
	if err != nil {
		return nil, toStatus(err)
	}
	if d.WorkspaceID != caller.WorkspaceID || d.Status == types.DeploymentStatusDeleted {
		return nil, status.Errorf(codes.NotFound, "deployment %s not found", req.DeploymentID)
	}
	return encode(d)
}

func (s *ControlPlaneServer) ListDeployments(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing caller identity")
	}
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, toStatus(err)
	}

	list := runnerv1.DeploymentList{Deployments: []*types.Deployment{}}
	for _, d := range all {
		if d.WorkspaceID == caller.WorkspaceID && d.Status != types.DeploymentStatusDeleted {
			list.Deployments = append(list.Deployments, d)
		}
	}
	return encode(list)
}

func (s *ControlPlaneServer) UpdateDeploymentStatus(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing caller identity")
	}
	var req runnerv1.StatusUpdate
	if err := runnerv1.FromStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if !req.Status.Valid() {
		return nil, status.Errorf(codes.InvalidArgument, "unknown status %q", req.Status)
	}

	d, err := s.repo.Get(ctx, req.DeploymentID)
	if err != nil {
		return nil, toStatus(err)
	}
	if d.WorkspaceID != caller.WorkspaceID {
		return nil, status.Errorf(codes.NotFound, "deployment %s not found", req.DeploymentID)
	}
	if err := s.repo.UpdateStatus(ctx, req.DeploymentID, req.Status); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func encode(v any) (*structpb.Struct, error) {
	msg, err := runnerv1.ToStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return msg, nil
}

// toStatus maps store errors onto gRPC codes
func toStatus(err error) error {
	switch {
	case rerrors.IsNotFound(err):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, store.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case rerrors.IsPermanent(err):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// Caller identifies the runner behind a request
type Caller struct {
	WorkspaceID uuid.UUID
	RunnerID    string
	UserAgent   string
}

type callerKey struct{}

// CallerFromContext returns the caller the authenticator attached to ctx
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

func withCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}
