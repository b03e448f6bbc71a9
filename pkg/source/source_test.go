package source

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/burrow/api/runnerv1"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

type fakeStream struct {
	grpc.ClientStream
	msgs []*structpb.Struct
	err  error
}

func (s *fakeStream) Recv() (*structpb.Struct, error) {
	if len(s.msgs) == 0 {
		return nil, s.err
	}
	msg := s.msgs[0]
	s.msgs = s.msgs[1:]
	return msg, nil
}

type fakeStreamer struct {
	stream *fakeStream
	err    error
	ctx    context.Context
}

func (f *fakeStreamer) Stream(ctx context.Context) (grpc.ServerStreamingClient[structpb.Struct], error) {
	f.ctx = ctx
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

func message(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return s
}

func TestGRPCSourceDropsMalformedMessages(t *testing.T) {
	id := uuid.New()
	valid, err := runnerv1.EncodeEvent(types.Deleted(id))
	require.NoError(t, err)

	streamer := &fakeStreamer{stream: &fakeStream{
		msgs: []*structpb.Struct{
			message(t, map[string]any{"type": "resourceRenamed", "resourceId": uuid.NewString()}),
			message(t, map[string]any{"type": "resourceDeleted", "resourceId": "not-a-uuid"}),
			message(t, map[string]any{"type": "resourceCreated", "resourceId": uuid.NewString()}),
			valid,
		},
		err: io.EOF,
	}}

	before := testutil.ToFloat64(metrics.SourceMalformedTotal)
	stream, err := NewGRPCSource(streamer).Connect(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, types.Deleted(id), ev)
	assert.Equal(t, before+3, testutil.ToFloat64(metrics.SourceMalformedTotal))

	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestGRPCSourcePassesStreamErrors(t *testing.T) {
	streamer := &fakeStreamer{stream: &fakeStream{err: status.Error(codes.Unavailable, "gone away")}}
	stream, err := NewGRPCSource(streamer).Connect(context.Background())
	require.NoError(t, err)

	_, err = stream.Recv()
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestGRPCSourceConnectFailure(t *testing.T) {
	streamer := &fakeStreamer{err: errors.New("dial failed")}
	_, err := NewGRPCSource(streamer).Connect(context.Background())
	assert.EqualError(t, err, "dial failed")
}

func TestGRPCSourceCloseCancelsStream(t *testing.T) {
	streamer := &fakeStreamer{stream: &fakeStream{err: io.EOF}}
	stream, err := NewGRPCSource(streamer).Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	assert.ErrorIs(t, streamer.ctx.Err(), context.Canceled)
}

func TestLocalSource(t *testing.T) {
	q := events.NewQueue()
	src := NewLocalSource(q)
	assert.Equal(t, "local", src.Name())

	id := uuid.New()
	q.Publish(types.Deleted(id))

	stream, err := src.Connect(context.Background())
	require.NoError(t, err)

	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, id, ev.ResourceID)

	q.Close()
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)

	_, err = src.Connect(context.Background())
	assert.ErrorIs(t, err, events.ErrQueueClosed)
}

func TestLocalSourceCloseUnblocksRecv(t *testing.T) {
	src := NewLocalSource(events.NewQueue())
	stream, err := src.Connect(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := stream.Recv()
		done <- err
	}()

	require.NoError(t, stream.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not return after Close")
	}
}

func TestLocalSourceKeepsEventsBetweenStreams(t *testing.T) {
	q := events.NewQueue()
	src := NewLocalSource(q)

	first, err := src.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	id := uuid.New()
	q.Publish(types.Deleted(id))

	second, err := src.Connect(context.Background())
	require.NoError(t, err)
	ev, err := second.Recv()
	require.NoError(t, err)
	assert.Equal(t, id, ev.ResourceID)
}
