package events

import (
	"context"
	"errors"
	"sync"

	"github.com/cuemby/burrow/pkg/types"
)

// ErrQueueClosed is returned by Receive once the queue is closed and drained
var ErrQueueClosed = errors.New("event queue closed")

// Queue is an unbounded in-process FIFO of desired-state events.
// Publish never blocks.
type Queue struct {
	mu     sync.Mutex
	items  []types.DesiredStateEvent
	notify chan struct{}
	closed bool
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Publish appends ev. Events published after Close are discarded.
func (q *Queue) Publish(ev types.DesiredStateEvent) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.wake()
}

// Receive blocks until an event is available, the queue is closed and
// empty, or ctx is done
func (q *Queue) Receive(ctx context.Context) (types.DesiredStateEvent, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = types.DesiredStateEvent{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return types.DesiredStateEvent{}, ErrQueueClosed
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return types.DesiredStateEvent{}, ctx.Err()
		}
	}
}

// Len returns the number of queued events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether the queue is closed and has nothing left to receive
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}

// Close stops accepting events. Queued events can still be received.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
