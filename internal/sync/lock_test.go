package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLock_AcquireHeldRelease(t *testing.T) {
	ctx := context.Background()
	state, clock, _ := newTestState(t)
	lock := state.Lock

	lease, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if lease.Token == "" {
		t.Error("lease has no token")
	}
	if !lease.ExpiresAt.Equal(clock.Now().Add(LockTTL)) {
		t.Errorf("ExpiresAt = %v, want now+%v", lease.ExpiresAt, LockTTL)
	}

	if _, err := lock.Acquire(ctx); !errors.Is(err, ErrLockHeld) {
		t.Errorf("second Acquire err = %v, want ErrLockHeld", err)
	}

	if err := lock.Release(ctx, lease); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if cur, _ := lock.Current(ctx); cur != nil {
		t.Errorf("lock still present after Release: %+v", cur)
	}
	if _, err := lock.Acquire(ctx); err != nil {
		t.Errorf("Acquire after Release failed: %v", err)
	}
}

func TestLock_ExpiredLockIsReplaced(t *testing.T) {
	ctx := context.Background()
	state, clock, _ := newTestState(t)
	lock := state.Lock

	stale, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if lock.IsStuck(ctx) {
		t.Error("fresh lock reported stuck")
	}

	clock.Advance(LockTTL + time.Second)
	if !lock.IsStuck(ctx) {
		t.Error("expired lock not reported stuck")
	}

	fresh, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire over expired lock failed: %v", err)
	}
	if fresh.Token == stale.Token {
		t.Error("expired lock was not replaced")
	}
	if lock.IsStuck(ctx) {
		t.Error("replacement lock reported stuck")
	}

	// The crashed holder's release must not drop the new lock.
	if err := lock.Release(ctx, stale); err != nil {
		t.Fatalf("Release(stale) failed: %v", err)
	}
	cur, _ := lock.Current(ctx)
	if cur == nil || cur.Token != fresh.Token {
		t.Errorf("stale release removed the live lock: %+v", cur)
	}
}

func TestLock_Clear(t *testing.T) {
	ctx := context.Background()
	state, _, _ := newTestState(t)

	if _, err := state.Lock.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if err := state.Lock.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := state.Lock.Acquire(ctx); err != nil {
		t.Errorf("Acquire after Clear failed: %v", err)
	}
}

func TestLock_ConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	state, _, _ := newTestState(t)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired, held := 0, 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := state.Lock.Acquire(ctx)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				acquired++
			case errors.Is(err, ErrLockHeld):
				held++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if acquired != 1 || held != n-1 {
		t.Errorf("acquired = %d, held = %d; want 1 and %d", acquired, held, n-1)
	}
}
