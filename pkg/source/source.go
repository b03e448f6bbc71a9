// Package source delivers desired-state events to the runner.
//
// A Source is connected once per connection epoch. The Stream it returns
// yields events until it fails or ends; the runner then reconnects and runs
// a full reconciliation to catch up on anything it missed in between.
package source

import (
	"context"

	"github.com/cuemby/burrow/pkg/types"
)

// Source opens streams of desired-state events
type Source interface {
	// Name identifies the source in logs
	Name() string

	// Connect opens a new stream. The stream is bound to ctx.
	Connect(ctx context.Context) (Stream, error)
}

// Stream yields the events of one connection epoch
type Stream interface {
	// Recv blocks for the next event. It returns io.EOF when the stream ends
	// cleanly and any other error when it fails.
	Recv() (types.DesiredStateEvent, error)

	// Close releases the stream and unblocks a pending Recv
	Close() error
}
