package source

import (
	"context"
	"errors"
	"io"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/types"
)

// LocalSource reads desired state from the in-process queue the local API
// publishes to (self-hosted mode). Events published while no stream is open
// stay queued for the next one.
type LocalSource struct {
	queue *events.Queue
}

// NewLocalSource creates a source over queue
func NewLocalSource(queue *events.Queue) *LocalSource {
	return &LocalSource{queue: queue}
}

func (s *LocalSource) Name() string { return "local" }

func (s *LocalSource) Connect(ctx context.Context) (Stream, error) {
	if s.queue.Closed() {
		return nil, events.ErrQueueClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	return &localStream{queue: s.queue, ctx: ctx, cancel: cancel}, nil
}

type localStream struct {
	queue  *events.Queue
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *localStream) Recv() (types.DesiredStateEvent, error) {
	ev, err := s.queue.Receive(s.ctx)
	if errors.Is(err, events.ErrQueueClosed) {
		return ev, io.EOF
	}
	return ev, err
}

func (s *localStream) Close() error {
	s.cancel()
	return nil
}
