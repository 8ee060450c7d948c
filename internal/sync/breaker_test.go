package sync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	ctx := context.Background()
	state, clock, _ := newTestState(t)
	b := state.Breaker

	for i := 1; i < CircuitThreshold; i++ {
		trip, err := b.RecordFailure(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if trip.Opened() || trip.Streak != i {
			t.Fatalf("failure %d: trip = %+v", i, trip)
		}
		if err := b.EnsureAvailable(ctx); err != nil {
			t.Fatalf("circuit opened early after %d failures: %v", i, err)
		}
	}

	trip, err := b.RecordFailure(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !trip.Opened() || trip.Streak != CircuitThreshold {
		t.Fatalf("trip = %+v, want opened at streak %d", trip, CircuitThreshold)
	}
	if !trip.OpenUntil.Equal(clock.Now().Add(CircuitCooldown)) {
		t.Errorf("OpenUntil = %v, want now+%v", trip.OpenUntil, CircuitCooldown)
	}

	err = b.EnsureAvailable(ctx)
	var open *CircuitOpenError
	if !errors.As(err, &open) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("EnsureAvailable err = %v, want CircuitOpenError", err)
	}
	if open.Remaining != CircuitCooldown {
		t.Errorf("Remaining = %v, want %v", open.Remaining, CircuitCooldown)
	}

	// The breaker's own streak restarts when it opens.
	if streak, until, _ := b.Snapshot(ctx); streak != 0 || until == nil {
		t.Errorf("Snapshot = %d, %v; want 0 and open window", streak, until)
	}

	clock.Advance(CircuitCooldown - time.Second)
	if err := b.EnsureAvailable(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("circuit closed before cooldown: %v", err)
	}

	clock.Advance(time.Second)
	if err := b.EnsureAvailable(ctx); err != nil {
		t.Fatalf("EnsureAvailable after cooldown failed: %v", err)
	}
	if streak, until, _ := b.Snapshot(ctx); streak != 0 || until != nil {
		t.Errorf("Snapshot after cooldown = %d, %v; want reset", streak, until)
	}
}

func TestBreaker_SuccessResetsStreak(t *testing.T) {
	ctx := context.Background()
	state, _, _ := newTestState(t)
	b := state.Breaker

	for i := 0; i < CircuitThreshold-1; i++ {
		if _, err := b.RecordFailure(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.RecordSuccess(ctx); err != nil {
		t.Fatal(err)
	}
	trip, _ := b.RecordFailure(ctx)
	if trip.Opened() || trip.Streak != 1 {
		t.Errorf("trip after success = %+v, want streak 1", trip)
	}
}

func TestBreaker_StatusStoreTracksCircuit(t *testing.T) {
	ctx := context.Background()
	state, clock, _ := newTestState(t)

	var trip Trip
	for i := 0; i < CircuitThreshold; i++ {
		var err error
		trip, err = state.Breaker.RecordFailure(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if err := state.Status.RecordFailure(ctx, time.Second, "push failed", trip); err != nil {
			t.Fatal(err)
		}
	}

	st, err := state.Status.Get(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.LastStatus != StatusFail || st.FailureStreak != CircuitThreshold {
		t.Errorf("status = %+v, want fail with streak %d", st, CircuitThreshold)
	}
	if !st.CircuitOpen(clock.Now()) {
		t.Error("status does not report open circuit")
	}

	clock.Advance(CircuitCooldown)
	if err := state.Breaker.EnsureAvailable(ctx); err != nil {
		t.Fatal(err)
	}
	st, _ = state.Status.Get(ctx)
	if st.FailureStreak != 0 || st.CircuitOpenUntil != nil {
		t.Errorf("status after cooldown = %+v, want streak reset", st)
	}
	if st.LastStatus != StatusFail {
		t.Errorf("LastStatus = %s, want fail kept", st.LastStatus)
	}
}

func TestStatusStore_DefaultsIdle(t *testing.T) {
	state, _, _ := newTestState(t)
	st, err := state.Status.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.LastStatus != StatusIdle || st.FailureStreak != 0 || st.LastAt != nil {
		t.Errorf("status = %+v, want idle", st)
	}
}
