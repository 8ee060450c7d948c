package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
)

// LockTTL bounds how long a crashed run can block others.
const LockTTL = 2 * time.Minute

// Lease is a held sync lock. Only the holder of the token can release it.
type Lease struct {
	Token     string    `json:"token"`
	StartedAt time.Time `json:"started_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lease has lapsed at now.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// Lock is a persisted, time-bounded mutual-exclusion marker for sync runs.
//
// Within one process Acquire and Release are serialized by a mutex, so two
// goroutines can never both hold the lock. Across processes the persisted
// marker is a cooperative guard.
type Lock struct {
	mu    sync.Mutex
	kv    KV
	clock clockz.Clock
	ttl   time.Duration
}

// NewLock creates a lock persisted in kv.
func NewLock(kv KV, clock clockz.Clock) *Lock {
	return &Lock{kv: kv, clock: clock, ttl: LockTTL}
}

// Acquire takes the lock. It fails with ErrLockHeld while a live lock exists;
// an expired lock is replaced.
func (l *Lock) Acquire(ctx context.Context) (*Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	var current Lease
	found, err := getJSON(ctx, l.kv, KeySyncLock, &current)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync lock: %w", err)
	}
	if found && !current.Expired(now) {
		return nil, ErrLockHeld
	}

	lease := &Lease{
		Token:     uuid.NewString(),
		StartedAt: now,
		ExpiresAt: now.Add(l.ttl),
	}
	if err := putJSON(ctx, l.kv, KeySyncLock, lease); err != nil {
		return nil, fmt.Errorf("failed to write sync lock: %w", err)
	}
	return lease, nil
}

// Release removes the lock if it is still held by lease. A lock that has
// since been replaced by another run is left alone.
func (l *Lock) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var current Lease
	found, err := getJSON(ctx, l.kv, KeySyncLock, &current)
	if err != nil {
		return fmt.Errorf("failed to read sync lock: %w", err)
	}
	if !found || current.Token != lease.Token {
		return nil
	}
	if err := l.kv.Delete(ctx, KeySyncLock); err != nil {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}

// Current returns the stored lock, if any, whether live or expired.
func (l *Lock) Current(ctx context.Context) (*Lease, error) {
	var current Lease
	found, err := getJSON(ctx, l.kv, KeySyncLock, &current)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync lock: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &current, nil
}

// IsStuck reports whether a lock exists whose expiry has passed.
func (l *Lock) IsStuck(ctx context.Context) bool {
	current, err := l.Current(ctx)
	if err != nil || current == nil {
		return false
	}
	return current.Expired(l.clock.Now())
}

// Clear forcibly removes any lock.
func (l *Lock) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.kv.Delete(ctx, KeySyncLock); err != nil {
		return fmt.Errorf("failed to clear sync lock: %w", err)
	}
	return nil
}
