package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/srikhai/wastetrack/internal/remote"
	"github.com/srikhai/wastetrack/internal/schema"
	"github.com/zoobzio/capitan"
)

// Remote is the remote store as seen by the sync core. *remote.Client
// satisfies it.
type Remote interface {
	Writer
	Pull(ctx context.Context) ([]schema.WasteRecord, error)
	Ping(ctx context.Context) remote.Health
	// Validate checks the endpoint configuration without network I/O.
	Validate() error
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	// Records is the merged set: remote ∪ local, local winning conflicts.
	Records []schema.WasteRecord
	// RemoteCount is the number of records fetched; zero when FetchError is set.
	RemoteCount int
	FetchError  string
	// Dropped counts fetched records that failed validation and were left
	// out of the merge.
	Dropped int

	Pushed   int
	Queued   int
	Failed   int
	Errors   []string
	Duration time.Duration
}

// FlushResult summarizes one pending queue flush.
type FlushResult struct {
	Success int
	Failed  int
	Errors  []string
}

// Service orchestrates sync runs and queue flushes over one State.
type Service struct {
	state    *State
	remote   Remote
	executor *Executor
	logger   *slog.Logger
}

// NewService creates a service. The executor shares state and remote.
func NewService(state *State, rem Remote, policy RetryPolicy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sync")
	return &Service{
		state:    state,
		remote:   rem,
		executor: NewExecutor(rem, state, policy, logger),
		logger:   logger,
	}
}

// State returns the service's sync state.
func (s *Service) State() *State {
	return s.state
}

// Executor returns the service's executor.
func (s *Service) Executor() *Executor {
	return s.executor
}

// Sync merges local with the remote store and pushes local changes.
//
// It fails fast with remote.ErrMalformedConfig, *CircuitOpenError or
// ErrLockHeld without any network I/O. A malformed configuration leaves the
// breaker and the status store untouched. A failed fetch is logged and the
// run continues with an empty remote set. Fetched records that cannot be
// stored locally are dropped, and unparseable timestamps cleared. Records
// whose delivery fails are queued; a run that queued anything is recorded as
// a failure on the breaker and in the status store but returns a nil error.
// Records that could not even be queued are reported through a *BatchError
// alongside the result.
func (s *Service) Sync(ctx context.Context, local []schema.WasteRecord) (*SyncResult, error) {
	if err := s.remote.Validate(); err != nil {
		return nil, err
	}
	lease, err := s.begin(ctx, "sync")
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease)

	clock := s.state.Clock
	start := clock.Now()
	capitan.Emit(ctx, SyncStarted, KeyRecords.Field(len(local)))

	result := &SyncResult{}
	remoteRecs, err := s.remote.Pull(ctx)
	if err != nil {
		s.logger.Warn("failed to fetch remote records, continuing with local data", "error", err)
		result.FetchError = err.Error()
		remoteRecs = nil
	}
	remoteRecs, result.Dropped = s.sanitize(remoteRecs)
	result.RemoteCount = len(remoteRecs)

	merged, deltas := Merge(remoteRecs, local)
	result.Records = merged
	s.logger.Info("merged records", "remote", len(remoteRecs), "local", len(local), "deltas", len(deltas))

	for _, d := range deltas {
		outcome, err := s.executor.Execute(ctx, d)
		switch outcome {
		case Delivered:
			result.Pushed++
		case Queued:
			result.Queued++
		default:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", d.ID, err))
		}
	}
	result.Duration = clock.Since(start)

	if result.Queued == 0 && result.Failed == 0 {
		s.recordSuccess(ctx, result.Duration, fmt.Sprintf("synced %d records", len(merged)))
	} else {
		msg := fmt.Sprintf("synced %d records, %d queued for retry", len(merged), result.Queued)
		if result.Failed > 0 {
			msg += fmt.Sprintf(", %d failed", result.Failed)
		}
		s.recordFailure(ctx, result.Duration, msg)
	}

	s.logger.Info("sync complete",
		"records", len(merged), "pushed", result.Pushed, "queued", result.Queued,
		"failed", result.Failed, "duration", result.Duration)
	capitan.Emit(ctx, SyncCompleted,
		KeyRecords.Field(len(merged)), KeyPushed.Field(result.Pushed), KeyQueued.Field(result.Queued),
		KeyFailed.Field(result.Failed), KeyDuration.Field(result.Duration))

	if result.Failed > 0 {
		return result, &BatchError{Failed: result.Failed, Errors: result.Errors}
	}
	return result, nil
}

// Flush retries every pending item once. An empty queue returns a zero result
// without touching the breaker or the lock. Like Sync, a malformed endpoint
// configuration fails before the lock is taken.
func (s *Service) Flush(ctx context.Context) (*FlushResult, error) {
	items, err := s.state.Queue.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return &FlushResult{}, nil
	}
	if err := s.remote.Validate(); err != nil {
		return nil, err
	}

	lease, err := s.begin(ctx, "flush")
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease)

	clock := s.state.Clock
	start := clock.Now()
	result := &FlushResult{}

	for i := range items {
		item := items[i]
		err := s.executor.Attempt(ctx, &item.Record)
		if err == nil {
			result.Success++
			if rerr := s.state.Queue.Remove(context.WithoutCancel(ctx), item.Record.ID); rerr != nil {
				s.logger.Error("failed to remove delivered record from queue", "record", item.Record.ID, "error", rerr)
			}
			capitan.Emit(ctx, RecordDelivered, KeyRecordID.Field(item.Record.ID), KeyAttempt.Field(1))
			continue
		}

		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", item.Record.ID, err))
		if merr := s.state.Queue.MarkFailed(context.WithoutCancel(ctx), item.Record.ID, err.Error()); merr != nil {
			s.logger.Error("failed to update pending record", "record", item.Record.ID, "error", merr)
		}
	}

	duration := clock.Since(start)
	if result.Failed == 0 {
		s.recordSuccess(ctx, duration, fmt.Sprintf("flushed %d/%d pending records", result.Success, len(items)))
	} else {
		s.recordFailure(ctx, duration, fmt.Sprintf("%d/%d pending records still queued", result.Failed, len(items)))
	}

	s.logger.Info("flush complete", "success", result.Success, "failed", result.Failed, "duration", duration)
	capitan.Emit(ctx, FlushCompleted,
		KeyPushed.Field(result.Success), KeyFailed.Field(result.Failed), KeyDuration.Field(duration))

	return result, nil
}

// sanitize clears unparseable remote timestamps and drops remote records
// that could not be stored locally.
func (s *Service) sanitize(recs []schema.WasteRecord) ([]schema.WasteRecord, int) {
	out := recs[:0]
	dropped := 0
	for _, r := range recs {
		if r.ClearInvalidUpdatedAt() {
			s.logger.Debug("cleared unparseable remote updatedAt", "record", r.ID)
		}
		if err := r.Validate(); err != nil {
			s.logger.Warn("dropping invalid remote record", "record", r.ID, "error", err)
			dropped++
			continue
		}
		out = append(out, r)
	}
	return out, dropped
}

// CheckHealth pings the remote store and persists the result.
func (s *Service) CheckHealth(ctx context.Context) remote.Health {
	h := s.remote.Ping(ctx)
	if err := s.state.SaveHealth(context.WithoutCancel(ctx), h); err != nil {
		s.logger.Warn("failed to save web health", "error", err)
	}
	return h
}

// begin checks the breaker and takes the lock.
func (s *Service) begin(ctx context.Context, op string) (*Lease, error) {
	if err := s.state.Breaker.EnsureAvailable(ctx); err != nil {
		var open *CircuitOpenError
		if errors.As(err, &open) {
			s.logger.Info(op+" skipped, circuit open", "retry_after", open.Remaining)
			capitan.Emit(ctx, SyncSkipped, KeyMessage.Field(op), KeyRetryAfter.Field(open.Remaining), KeyError.Field(err.Error()))
		}
		return nil, err
	}

	lease, err := s.state.Lock.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrLockHeld) {
			s.logger.Debug(op + " skipped, lock held")
			capitan.Emit(ctx, SyncSkipped, KeyMessage.Field(op), KeyError.Field(err.Error()))
		}
		return nil, err
	}
	return lease, nil
}

func (s *Service) release(ctx context.Context, lease *Lease) {
	if err := s.state.Lock.Release(context.WithoutCancel(ctx), lease); err != nil {
		s.logger.Error("failed to release sync lock", "error", err)
	}
}

func (s *Service) recordSuccess(ctx context.Context, d time.Duration, msg string) {
	ctx = context.WithoutCancel(ctx)
	if err := s.state.Breaker.RecordSuccess(ctx); err != nil {
		s.logger.Error("failed to record success on breaker", "error", err)
	}
	if err := s.state.Status.RecordSuccess(ctx, d, msg); err != nil {
		s.logger.Error("failed to record sync status", "error", err)
	}
}

func (s *Service) recordFailure(ctx context.Context, d time.Duration, msg string) {
	ctx = context.WithoutCancel(ctx)
	trip, err := s.state.Breaker.RecordFailure(ctx)
	if err != nil {
		s.logger.Error("failed to record failure on breaker", "error", err)
	}
	if err := s.state.Status.RecordFailure(ctx, d, msg, trip); err != nil {
		s.logger.Error("failed to record sync status", "error", err)
	}
	if trip.Opened() {
		s.logger.Warn("circuit opened", "failure_streak", trip.Streak, "open_until", *trip.OpenUntil)
		capitan.Emit(ctx, CircuitOpened,
			KeyStreak.Field(trip.Streak), KeyRetryAfter.Field(trip.OpenUntil.Sub(s.state.Clock.Now())))
	}
}
