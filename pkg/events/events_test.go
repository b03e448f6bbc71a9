package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/burrow/pkg/types"
)

func receive(t *testing.T, sub Subscriber) *Notification {
	t.Helper()
	select {
	case n, ok := <-sub:
		require.True(t, ok, "subscriber closed")
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notification")
		return nil
	}
}

func TestHubScopesByWorkspace(t *testing.T) {
	hub := NewHub()
	hub.Start()
	defer hub.Stop()

	ws, other := uuid.New(), uuid.New()
	sub := hub.Subscribe(ws)
	otherSub := hub.Subscribe(other)
	assert.Equal(t, 2, hub.SubscriberCount())

	id := uuid.New()
	hub.Publish(ws, types.Deleted(id))

	n := receive(t, sub)
	assert.Equal(t, ws, n.WorkspaceID)
	assert.Equal(t, id, n.Event.ResourceID)
	assert.False(t, n.Timestamp.IsZero())

	select {
	case <-otherSub:
		t.Fatal("notification leaked to another workspace")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	ws := uuid.New()
	sub := hub.Subscribe(ws)

	// fill the buffer without draining it
	for i := 0; i < cap(sub)+1; i++ {
		hub.broadcast(&Notification{WorkspaceID: ws, Event: types.Deleted(uuid.New())})
	}
	assert.Equal(t, 0, hub.SubscriberCount())

	drained := 0
	for range sub {
		drained++
	}
	assert.Equal(t, cap(sub), drained)

	// unsubscribing a dropped subscriber is harmless
	hub.Unsubscribe(sub)
}

func TestHubStopClosesSubscribers(t *testing.T) {
	hub := NewHub()
	hub.Start()
	sub := hub.Subscribe(uuid.New())
	hub.Stop()
	hub.Stop()

	_, ok := <-sub
	assert.False(t, ok)
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		q.Publish(types.Deleted(id))
	}
	assert.Equal(t, 3, q.Len())

	ctx := context.Background()
	for _, id := range ids {
		ev, err := q.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, ev.ResourceID)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueueReceiveBlocksUntilPublish(t *testing.T) {
	q := NewQueue()
	id := uuid.New()

	var wg sync.WaitGroup
	wg.Add(1)
	var got types.DesiredStateEvent
	go func() {
		defer wg.Done()
		ev, err := q.Receive(context.Background())
		assert.NoError(t, err)
		got = ev
	}()

	time.Sleep(20 * time.Millisecond)
	q.Publish(types.Deleted(id))
	wg.Wait()
	assert.Equal(t, id, got.ResourceID)
}

func TestQueueReceiveHonoursContext(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueCloseDrainsThenFails(t *testing.T) {
	q := NewQueue()
	q.Publish(types.Deleted(uuid.New()))
	q.Close()
	q.Publish(types.Deleted(uuid.New()))
	assert.False(t, q.Closed(), "queued events are still receivable")

	ctx := context.Background()
	_, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.True(t, q.Closed())
	_, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestWorkspacePublisher(t *testing.T) {
	hub := NewHub()
	hub.Start()
	defer hub.Stop()

	ws := uuid.New()
	sub := hub.Subscribe(ws)
	WorkspacePublisher{Hub: hub, WorkspaceID: ws}.Publish(types.Deleted(uuid.New()))
	assert.Equal(t, ws, receive(t, sub).WorkspaceID)
}
