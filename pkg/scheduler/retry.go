package scheduler

import (
	"bytes"
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// Entry is a pending retry: reconcile ResourceID no earlier than ResolveAt
type Entry struct {
	ResourceID types.ResourceID
	ResolveAt  time.Time
}

// RetryList holds at most one pending retry per resource.
// It is owned by a single goroutine and is not safe for concurrent use.
type RetryList struct {
	entries map[types.ResourceID]time.Time
}

// NewRetryList creates an empty retry list
func NewRetryList() *RetryList {
	return &RetryList{entries: make(map[types.ResourceID]time.Time)}
}

// Schedule registers a retry for id. When id already has a pending retry the
// earlier of the two instants wins. The effective entry is returned.
func (l *RetryList) Schedule(id types.ResourceID, notBefore time.Time) Entry {
	if existing, ok := l.entries[id]; ok && !notBefore.Before(existing) {
		return Entry{ResourceID: id, ResolveAt: existing}
	}
	l.entries[id] = notBefore
	return Entry{ResourceID: id, ResolveAt: notBefore}
}

// Earliest returns, without removing it, the entry that resolves first
func (l *RetryList) Earliest() (Entry, bool) {
	var best Entry
	found := false
	for id, at := range l.entries {
		if !found || at.Before(best.ResolveAt) ||
			(at.Equal(best.ResolveAt) && bytes.Compare(id[:], best.ResourceID[:]) < 0) {
			best = Entry{ResourceID: id, ResolveAt: at}
			found = true
		}
	}
	return best, found
}

// Get returns the pending retry time for id
func (l *RetryList) Get(id types.ResourceID) (time.Time, bool) {
	at, ok := l.entries[id]
	return at, ok
}

// Remove drops the pending retry for id and reports whether one existed
func (l *RetryList) Remove(id types.ResourceID) bool {
	_, ok := l.entries[id]
	delete(l.entries, id)
	return ok
}

// Clear drops every pending retry
func (l *RetryList) Clear() {
	clear(l.entries)
}

// Len returns the number of pending retries
func (l *RetryList) Len() int {
	return len(l.entries)
}
