// Package sync keeps locally entered waste records synchronized with the
// remote spreadsheet store while the device is intermittently offline.
//
// Overview
//
// A sync run merges the local record set with the remote one and pushes the
// local records that are new or newer. Delivery failures never surface to the
// caller as errors: records that exhaust their retries are parked in a
// durable pending queue and replayed later by Flush.
//
// Architecture
//
//	Service.Sync
//	     ├── Breaker.EnsureAvailable   fail fast while the circuit is open
//	     ├── Lock.Acquire              one run at a time, TTL 2m
//	     ├── Remote.Pull               failure → empty remote set
//	     ├── Merge                     last-write-wins by UpdatedAt
//	     ├── Executor.Execute × delta  retry with backoff, then Queue
//	     ├── Breaker / StatusStore     success or failure bookkeeping
//	     └── Lock.Release              token-checked, always
//
// Queue, Lock, Breaker and StatusStore each persist one key in a KV store
// and are owned by a single State value. There are no package-level
// singletons.
//
// Usage
//
//	db, err := store.Open(".wastetrack/state.db")
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	state := sync.NewState(db, clockz.RealClock)
//	svc := sync.NewService(state, remote.New(remoteCfg, logger), sync.DefaultRetryPolicy(), logger)
//
//	result, err := svc.Sync(ctx, localRecords)
//	switch {
//	case errors.Is(err, sync.ErrLockHeld):
//	    // another run is in progress
//	case errors.Is(err, sync.ErrCircuitOpen):
//	    // back off until the circuit closes
//	}
//
// Signals
//
// Lifecycle events are emitted through capitan (SyncStarted, SyncCompleted,
// RecordQueued, CircuitOpened, ...) so the daemon and dashboard can observe
// runs without coupling to the service.
package sync
