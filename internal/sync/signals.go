package sync

import "github.com/zoobzio/capitan"

// Sync run signals.
var (
	// SyncStarted is emitted after the lock is acquired.
	SyncStarted = capitan.NewSignal(
		"wastetrack.sync.started",
		"Sync run started",
	)

	// SyncCompleted is emitted when a sync run finishes, with or without
	// queued records.
	SyncCompleted = capitan.NewSignal(
		"wastetrack.sync.completed",
		"Sync run completed",
	)

	// SyncSkipped is emitted when a run is refused by the lock or breaker.
	SyncSkipped = capitan.NewSignal(
		"wastetrack.sync.skipped",
		"Sync run skipped",
	)

	// FlushCompleted is emitted when a queue flush finishes.
	FlushCompleted = capitan.NewSignal(
		"wastetrack.sync.flush.completed",
		"Pending queue flush completed",
	)
)

// Record delivery signals.
var (
	// RecordDelivered is emitted when a record reaches the remote store.
	RecordDelivered = capitan.NewSignal(
		"wastetrack.sync.record.delivered",
		"Record delivered to remote store",
	)

	// RecordRetrying is emitted before each backoff sleep.
	RecordRetrying = capitan.NewSignal(
		"wastetrack.sync.record.retrying",
		"Record delivery failed, retrying",
	)

	// RecordQueued is emitted when a record is diverted to the pending queue.
	RecordQueued = capitan.NewSignal(
		"wastetrack.sync.record.queued",
		"Record queued for later delivery",
	)

	// QueueEvicted is emitted when the queue drops its oldest items.
	QueueEvicted = capitan.NewSignal(
		"wastetrack.sync.queue.evicted",
		"Oldest pending records evicted",
	)
)

// Circuit signals.
var (
	// CircuitOpened is emitted when a failure opens the circuit.
	CircuitOpened = capitan.NewSignal(
		"wastetrack.sync.circuit.opened",
		"Circuit breaker opened",
	)
)

// Signal fields.
var (
	KeyRecordID   = capitan.NewStringKey("record_id")
	KeyReason     = capitan.NewStringKey("reason")
	KeyError      = capitan.NewStringKey("error")
	KeyMessage    = capitan.NewStringKey("message")
	KeyAttempt    = capitan.NewIntKey("attempt")
	KeyDelay      = capitan.NewDurationKey("delay")
	KeyDuration   = capitan.NewDurationKey("duration")
	KeyPushed     = capitan.NewIntKey("pushed")
	KeyQueued     = capitan.NewIntKey("queued")
	KeyFailed     = capitan.NewIntKey("failed")
	KeyRecords    = capitan.NewIntKey("records")
	KeyEvicted    = capitan.NewIntKey("evicted")
	KeyStreak     = capitan.NewIntKey("failure_streak")
	KeyRetryAfter = capitan.NewDurationKey("retry_after")
)
