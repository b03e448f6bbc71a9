package source

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/burrow/api/runnerv1"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// Streamer opens the control plane's desired-state stream
type Streamer interface {
	Stream(ctx context.Context) (grpc.ServerStreamingClient[structpb.Struct], error)
}

// GRPCSource reads desired state from the control plane (managed mode)
type GRPCSource struct {
	client Streamer
	logger zerolog.Logger
}

// NewGRPCSource creates a source over a control plane client
func NewGRPCSource(client Streamer) *GRPCSource {
	return &GRPCSource{
		client: client,
		logger: log.WithComponent("source"),
	}
}

func (s *GRPCSource) Name() string { return "controlplane" }

func (s *GRPCSource) Connect(ctx context.Context) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := s.client.Stream(ctx)
	if err != nil {
		cancel()
		return nil, err
	}
	return &grpcStream{stream: stream, cancel: cancel, logger: s.logger}, nil
}

type grpcStream struct {
	stream grpc.ServerStreamingClient[structpb.Struct]
	cancel context.CancelFunc
	logger zerolog.Logger
}

// Recv skips messages that fail to decode
func (s *grpcStream) Recv() (types.DesiredStateEvent, error) {
	for {
		msg, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return types.DesiredStateEvent{}, io.EOF
		}
		if err != nil {
			return types.DesiredStateEvent{}, err
		}

		ev, err := runnerv1.DecodeEvent(msg)
		if err != nil {
			metrics.SourceMalformedTotal.Inc()
			s.logger.Warn().Err(err).Msg("Dropping malformed message")
			continue
		}
		return ev, nil
	}
}

func (s *grpcStream) Close() error {
	s.cancel()
	return nil
}
