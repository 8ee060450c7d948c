package sync

import (
	"context"
	"fmt"

	"github.com/srikhai/wastetrack/internal/remote"
	"github.com/zoobzio/clockz"
)

// State owns the persisted sync components. One State is created per
// process and shared by the Service and its Executor.
type State struct {
	KV      KV
	Queue   *Queue
	Lock    *Lock
	Breaker *Breaker
	Status  *StatusStore
	Clock   clockz.Clock
}

// NewState wires the components over kv. A nil clock uses the real clock.
func NewState(kv KV, clock clockz.Clock) *State {
	if clock == nil {
		clock = clockz.RealClock
	}
	status := NewStatusStore(kv, clock)
	return &State{
		KV:      kv,
		Queue:   NewQueue(kv, clock),
		Lock:    NewLock(kv, clock),
		Breaker: NewBreaker(kv, clock, status),
		Status:  status,
		Clock:   clock,
	}
}

// SaveHealth persists the latest reachability ping for diagnostics.
func (s *State) SaveHealth(ctx context.Context, h remote.Health) error {
	if err := putJSON(ctx, s.KV, KeyWebHealth, h); err != nil {
		return fmt.Errorf("failed to write web health: %w", err)
	}
	return nil
}

// LastHealth returns the latest stored ping, or nil if none.
func (s *State) LastHealth(ctx context.Context) (*remote.Health, error) {
	var h remote.Health
	found, err := getJSON(ctx, s.KV, KeyWebHealth, &h)
	if err != nil {
		return nil, fmt.Errorf("failed to read web health: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &h, nil
}

// Snapshot is a point-in-time view of the whole sync state.
type Snapshot struct {
	Status  SyncStatus     `json:"status"`
	Pending int            `json:"pending"`
	Lock    *Lease         `json:"lock,omitempty"`
	Stuck   bool           `json:"lock_stuck"`
	Health  *remote.Health `json:"web_health,omitempty"`
}

// Snapshot collects status, queue length, lock and health.
func (s *State) Snapshot(ctx context.Context) (*Snapshot, error) {
	status, err := s.Status.Get(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.Queue.Len(ctx)
	if err != nil {
		return nil, err
	}
	lease, err := s.Lock.Current(ctx)
	if err != nil {
		return nil, err
	}
	health, err := s.LastHealth(ctx)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Status:  status,
		Pending: pending,
		Lock:    lease,
		Health:  health,
	}
	if lease != nil {
		snap.Stuck = lease.Expired(s.Clock.Now())
	}
	return snap, nil
}
