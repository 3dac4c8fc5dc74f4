/*
Package daemon runs background synchronization for a long-lived pomosync
process.

# Trigger policy

A full sync runs:

  - once, InitialDelay after Start
  - every Interval after that, unless a full sync is already running
  - whenever Trigger is called (manual request, endpoint change)

Overlapping requests are never queued behind a running sync: the
orchestrator's full lock rejects them and the daemon logs the skip.

# Shutdown

Stop cancels the loop, waits for it and then flushes the operation queue,
bounded by ShutdownTimeout. Operations that could not be sent stay
persisted and are retried on the next start.

# Usage

	d, err := daemon.New(orch, &daemon.Config{
		InitialDelay: 2 * time.Second,
		Interval:     time.Minute,
		Endpoint:     client,
	})
	if err != nil {
		return err
	}
	return d.Start(ctx) // blocks until ctx is cancelled
*/
package daemon
