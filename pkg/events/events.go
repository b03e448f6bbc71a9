package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/burrow/pkg/types"
)

// Notification is a desired-state event scoped to one workspace
type Notification struct {
	WorkspaceID uuid.UUID
	Event       types.DesiredStateEvent
	Timestamp   time.Time
}

// Subscriber receives the notifications of one workspace. The channel is
// closed when the subscriber falls behind or unsubscribes.
type Subscriber chan *Notification

// Hub fans desired-state notifications out to connected runners
type Hub struct {
	subscribers map[Subscriber]uuid.UUID
	mu          sync.RWMutex
	eventCh     chan *Notification
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewHub creates a new notification hub
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[Subscriber]uuid.UUID),
		eventCh:     make(chan *Notification, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the hub's distribution loop
func (h *Hub) Start() {
	go h.run()
}

// Stop stops the hub and closes every subscriber
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		h.mu.Lock()
		defer h.mu.Unlock()
		for sub := range h.subscribers {
			delete(h.subscribers, sub)
			close(sub)
		}
	})
}

// Subscribe registers interest in one workspace
func (h *Hub) Subscribe(workspace uuid.UUID) Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := make(Subscriber, 50)
	h.subscribers[sub] = workspace
	return sub
}

// Unsubscribe removes a subscription. It is safe to call after the hub dropped it.
func (h *Hub) Unsubscribe(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		close(sub)
	}
}

// Publish queues ev for every subscriber of workspace
func (h *Hub) Publish(workspace uuid.UUID, ev types.DesiredStateEvent) {
	n := &Notification{WorkspaceID: workspace, Event: ev, Timestamp: time.Now()}
	select {
	case h.eventCh <- n:
	case <-h.stopCh:
	}
}

func (h *Hub) run() {
	for {
		select {
		case n := <-h.eventCh:
			h.broadcast(n)
		case <-h.stopCh:
			return
		}
	}
}

// broadcast delivers n without blocking. A subscriber whose buffer is full is
// dropped; its runner reconnects and catches up with a full reconciliation.
func (h *Hub) broadcast(n *Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub, workspace := range h.subscribers {
		if workspace != n.WorkspaceID {
			continue
		}
		select {
		case sub <- n:
		default:
			delete(h.subscribers, sub)
			close(sub)
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// WorkspacePublisher binds a hub to one workspace so it can feed the push handler
type WorkspacePublisher struct {
	Hub         *Hub
	WorkspaceID uuid.UUID
}

func (p WorkspacePublisher) Publish(ev types.DesiredStateEvent) {
	p.Hub.Publish(p.WorkspaceID, ev)
}
