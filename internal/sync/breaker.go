package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

const (
	// CircuitThreshold is the number of consecutive failures that opens the circuit.
	CircuitThreshold = 3
	// CircuitCooldown is how long the circuit stays open.
	CircuitCooldown = 2 * time.Minute
)

// circuitState is the persisted breaker state.
type circuitState struct {
	FailureStreak int        `json:"failure_streak"`
	OpenUntil     *time.Time `json:"open_until,omitempty"`
}

// Trip describes the breaker state after a recorded failure.
type Trip struct {
	// Streak is the consecutive failure count including this failure.
	Streak int
	// OpenUntil is set when this failure opened the circuit.
	OpenUntil *time.Time
}

// Opened reports whether the failure opened the circuit.
func (t Trip) Opened() bool {
	return t.OpenUntil != nil
}

// Breaker is a two-state (closed/open) circuit breaker over remote
// operations. There is no half-open trial call: the first call after the cooldown
// resets the streak and proceeds.
//
// When the threshold is reached the breaker's own streak restarts at zero,
// so after the cooldown another full threshold of failures is needed to
// reopen it. The status store keeps the streak that opened the circuit.
type Breaker struct {
	mu        sync.Mutex
	kv        KV
	clock     clockz.Clock
	status    *StatusStore
	threshold int
	cooldown  time.Duration
}

// NewBreaker creates a breaker persisted in kv. status may be nil.
func NewBreaker(kv KV, clock clockz.Clock, status *StatusStore) *Breaker {
	return &Breaker{
		kv:        kv,
		clock:     clock,
		status:    status,
		threshold: CircuitThreshold,
		cooldown:  CircuitCooldown,
	}
}

func (b *Breaker) load(ctx context.Context) (circuitState, error) {
	var st circuitState
	if _, err := getJSON(ctx, b.kv, KeyCircuit, &st); err != nil {
		return circuitState{}, fmt.Errorf("failed to read circuit state: %w", err)
	}
	return st, nil
}

func (b *Breaker) save(ctx context.Context, st circuitState) error {
	if err := putJSON(ctx, b.kv, KeyCircuit, st); err != nil {
		return fmt.Errorf("failed to write circuit state: %w", err)
	}
	return nil
}

// EnsureAvailable returns *CircuitOpenError while the circuit is open. Once
// the cooldown has elapsed it resets the streak and returns nil.
func (b *Breaker) EnsureAvailable(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, err := b.load(ctx)
	if err != nil {
		return err
	}
	if st.OpenUntil == nil {
		return nil
	}

	now := b.clock.Now()
	if now.Before(*st.OpenUntil) {
		return &CircuitOpenError{RetryAfter: *st.OpenUntil, Remaining: st.OpenUntil.Sub(now)}
	}

	if err := b.save(ctx, circuitState{}); err != nil {
		return err
	}
	if b.status != nil {
		if err := b.status.clearCircuit(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RecordSuccess closes the circuit and clears the streak.
func (b *Breaker) RecordSuccess(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.save(ctx, circuitState{})
}

// RecordFailure counts a failed remote operation, opening the circuit when
// the streak reaches the threshold.
func (b *Breaker) RecordFailure(ctx context.Context) (Trip, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, err := b.load(ctx)
	if err != nil {
		return Trip{}, err
	}

	streak := st.FailureStreak + 1
	if streak >= b.threshold {
		until := b.clock.Now().Add(b.cooldown)
		if err := b.save(ctx, circuitState{OpenUntil: &until}); err != nil {
			return Trip{}, err
		}
		return Trip{Streak: streak, OpenUntil: &until}, nil
	}

	st.FailureStreak = streak
	if err := b.save(ctx, st); err != nil {
		return Trip{}, err
	}
	return Trip{Streak: streak}, nil
}

// Snapshot returns the current streak and open window for display.
func (b *Breaker) Snapshot(ctx context.Context) (streak int, openUntil *time.Time, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, err := b.load(ctx)
	if err != nil {
		return 0, nil, err
	}
	return st.FailureStreak, st.OpenUntil, nil
}
