/*
Package runner implements the reconciliation loop.

A Runner owns one executor and one source. Each connection epoch starts
with a full reconciliation of every resource the executor owns, then the
loop services whichever of these is ready first, one per iteration:

  - shutdown (ctx cancelled)
  - the next message from the source stream
  - the resync timer, which triggers another full reconciliation
  - the alarm armed for the earliest pending retry

Single-resource reconciles run on the loop goroutine, so a resource is never
reconciled twice at once. Full reconciliations fan out over distinct ids
with bounded concurrency.

Outcomes drive the retry list: Converged and Fatal drop the pending retry,
RetryAfter schedules one, and when a retry is already pending the earlier
instant wins. Retries are cleared before every full reconciliation and a
desired-state event for a resource replaces its pending retry.

When the stream fails or ends the runner waits the fixed reconnect delay,
reconnects and reconciles everything again, which also repairs any events
lost while disconnected.
*/
package runner
