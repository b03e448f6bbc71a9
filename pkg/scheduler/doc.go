/*
Package scheduler implements delayed per-resource retries for the runner loop.

RetryList keeps at most one pending retry per resource id. Scheduling an id
that already has a pending retry keeps whichever instant is sooner, so a new
and more urgent reason to retry is never delayed by an older one, and two
timers never race for the same id.

Alarm wraps one time.Timer. After every change to the list the loop calls
Sync, which arms the alarm for the single earliest entry or disarms it. A
disarmed alarm exposes a nil channel, which blocks forever in a select:

	alarm.Sync(retries)
	select {
	case <-alarm.C():
		alarm.Fired()
		entry, _ := retries.Earliest()
		retries.Remove(entry.ResourceID)
		...
	case ev := <-events:
		...
	}

Neither type is safe for concurrent use; both belong to the runner loop.
*/
package scheduler
