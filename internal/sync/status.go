package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// RunStatus is the outcome of the most recent sync or flush.
type RunStatus string

const (
	StatusIdle    RunStatus = "idle"
	StatusSuccess RunStatus = "success"
	StatusFail    RunStatus = "fail"
)

// SyncStatus is the persisted summary shown to operators.
type SyncStatus struct {
	LastStatus       RunStatus     `json:"last_status"`
	LastMessage      string        `json:"last_message,omitempty"`
	LastAt           *time.Time    `json:"last_at,omitempty"`
	LastDuration     time.Duration `json:"last_duration,omitempty"`
	FailureStreak    int           `json:"failure_streak"`
	CircuitOpenUntil *time.Time    `json:"circuit_open_until,omitempty"`
}

// CircuitOpen reports whether the recorded open window covers now.
func (s SyncStatus) CircuitOpen(now time.Time) bool {
	return s.CircuitOpenUntil != nil && now.Before(*s.CircuitOpenUntil)
}

// StatusStore persists SyncStatus.
type StatusStore struct {
	mu    sync.Mutex
	kv    KV
	clock clockz.Clock
}

// NewStatusStore creates a status store persisted in kv.
func NewStatusStore(kv KV, clock clockz.Clock) *StatusStore {
	return &StatusStore{kv: kv, clock: clock}
}

// Get returns the stored status, or an idle status when none is stored.
func (s *StatusStore) Get(ctx context.Context) (SyncStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *StatusStore) load(ctx context.Context) (SyncStatus, error) {
	status := SyncStatus{LastStatus: StatusIdle}
	if _, err := getJSON(ctx, s.kv, KeySyncStatus, &status); err != nil {
		return SyncStatus{}, fmt.Errorf("failed to read sync status: %w", err)
	}
	if status.LastStatus == "" {
		status.LastStatus = StatusIdle
	}
	return status, nil
}

// update applies fn to the stored status and writes it back.
func (s *StatusStore) update(ctx context.Context, fn func(*SyncStatus)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, err := s.load(ctx)
	if err != nil {
		return err
	}
	fn(&status)
	if err := putJSON(ctx, s.kv, KeySyncStatus, status); err != nil {
		return fmt.Errorf("failed to write sync status: %w", err)
	}
	return nil
}

// RecordSuccess marks a successful run and clears the failure streak.
func (s *StatusStore) RecordSuccess(ctx context.Context, duration time.Duration, message string) error {
	now := s.clock.Now()
	return s.update(ctx, func(st *SyncStatus) {
		st.LastStatus = StatusSuccess
		st.LastMessage = message
		st.LastAt = &now
		st.LastDuration = duration
		st.FailureStreak = 0
		st.CircuitOpenUntil = nil
	})
}

// RecordFailure marks a failed run. streak and openUntil come from the
// breaker; a nil openUntil leaves the stored circuit window unchanged.
func (s *StatusStore) RecordFailure(ctx context.Context, duration time.Duration, message string, trip Trip) error {
	now := s.clock.Now()
	return s.update(ctx, func(st *SyncStatus) {
		st.LastStatus = StatusFail
		st.LastMessage = message
		st.LastAt = &now
		st.LastDuration = duration
		st.FailureStreak = trip.Streak
		if trip.OpenUntil != nil {
			until := *trip.OpenUntil
			st.CircuitOpenUntil = &until
		}
	})
}

// clearCircuit resets the streak and open window after a cooldown.
func (s *StatusStore) clearCircuit(ctx context.Context) error {
	return s.update(ctx, func(st *SyncStatus) {
		st.FailureStreak = 0
		st.CircuitOpenUntil = nil
	})
}
