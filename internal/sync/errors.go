package sync

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrLockHeld indicates another sync run holds a live lock.
	// Callers should skip silently; the running sync will finish the work.
	ErrLockHeld = errors.New("sync already in progress")

	// ErrCircuitOpen matches any *CircuitOpenError via errors.Is.
	ErrCircuitOpen = errors.New("sync paused: circuit open")
)

// CircuitOpenError is returned while the circuit breaker is open.
type CircuitOpenError struct {
	// RetryAfter is when the circuit closes again.
	RetryAfter time.Time
	// Remaining is the wait measured when the error was created.
	Remaining time.Duration
}

func (e *CircuitOpenError) Error() string {
	secs := int((e.Remaining + time.Second - 1) / time.Second)
	return fmt.Sprintf("%v, retry in %ds", ErrCircuitOpen, secs)
}

// Is reports ErrCircuitOpen as a match.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// BatchError aggregates record-level failures that could not be absorbed by
// the pending queue.
type BatchError struct {
	Failed int
	Errors []string
}

func (e *BatchError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("%d record(s) failed", e.Failed)
	}
	return fmt.Sprintf("%d record(s) failed: %s", e.Failed, strings.Join(e.Errors, "; "))
}

// IsSkippable reports whether err means the run was skipped rather than
// failed: the lock was held or the circuit is open.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrLockHeld) || errors.Is(err, ErrCircuitOpen)
}
