/*
Package events moves desired-state notifications between components.

Two carriers are provided:

  - Queue is the unbounded in-process FIFO a self-hosted runner reads from.
    The local API publishes into it after every successful store write.
  - Hub fans notifications out to every runner connected to the control
    plane server, scoped by workspace. A subscriber that cannot keep up is
    closed rather than blocking the others. Its runner reconnects and runs a
    full reconciliation, so nothing is lost for good.

Delivery through either carrier is best effort. The periodic full
reconciliation repairs anything a dropped notification missed.

# Usage

	q := events.NewQueue()
	q.Publish(types.Created(id, spec))

	ev, err := q.Receive(ctx)
*/
package events
