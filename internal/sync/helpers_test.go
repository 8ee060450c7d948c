package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/srikhai/wastetrack/internal/remote"
	"github.com/srikhai/wastetrack/internal/schema"
	"github.com/srikhai/wastetrack/internal/store"
	"github.com/zoobzio/clockz"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noJitter() time.Duration { return 0 }

// newTestState returns a State over an in-memory KV and a fake clock.
func newTestState(t *testing.T) (*State, *clockz.FakeClock, *store.MemKV) {
	t.Helper()
	kv := store.NewMemKV()
	clock := clockz.NewFakeClock()
	return NewState(kv, clock), clock, kv
}

// fakeRemote is an in-memory remote store with scriptable failures.
type fakeRemote struct {
	mu      sync.Mutex
	records []schema.WasteRecord
	pullErr error
	// pushErr decides the result of each push; nil means success.
	pushErr func(r *schema.WasteRecord) error
	// pullGate, when set, blocks Pull until closed.
	pullGate chan struct{}
	pulled   chan struct{}
	// configErr is returned by Validate.
	configErr error

	pushes int
	pulls  int
	pings  int
}

func (f *fakeRemote) Push(ctx context.Context, r *schema.WasteRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	if f.pushErr != nil {
		if err := f.pushErr(r); err != nil {
			return err
		}
	}
	f.records = append(f.records, *r)
	return nil
}

func (f *fakeRemote) Pull(ctx context.Context) ([]schema.WasteRecord, error) {
	f.mu.Lock()
	f.pulls++
	gate, pulled := f.pullGate, f.pulled
	f.mu.Unlock()

	if pulled != nil {
		close(pulled)
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	return append([]schema.WasteRecord(nil), f.records...), nil
}

func (f *fakeRemote) Ping(ctx context.Context) remote.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return remote.Health{OK: true, Status: 200, CheckedAt: time.Now()}
}

func (f *fakeRemote) Validate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configErr
}

func (f *fakeRemote) setPushErr(fn func(r *schema.WasteRecord) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushErr = fn
}

func (f *fakeRemote) calls() (pushes, pulls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes, f.pulls
}

func networkDown(*schema.WasteRecord) error {
	return &remote.NetworkError{Op: "push", Err: errors.New("dial tcp: connection refused")}
}

func rejected(*schema.WasteRecord) error {
	return &remote.RemoteError{Status: 500, Body: `{"error":"Exception: sheet not found"}`}
}

// queueFailKV fails writes to the pending queue only.
type queueFailKV struct {
	*store.MemKV
}

func (k queueFailKV) Put(ctx context.Context, key string, value []byte) error {
	if key == KeyPendingQueue {
		return errors.New("disk full")
	}
	return k.MemKV.Put(ctx, key, value)
}

// advanceUntil keeps advancing clock until done is closed. Advance only
// queues timer sends; BlockUntilReady delivers them.
func advanceUntil(t *testing.T, clock *clockz.FakeClock, step time.Duration, done <-chan struct{}) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-done:
			return
		case <-deadline:
			t.Fatal("timed out waiting for operation to finish")
		default:
			clock.Advance(step)
			clock.BlockUntilReady()
			time.Sleep(time.Millisecond)
		}
	}
}

func rec(id, updatedAt string) schema.WasteRecord {
	return schema.WasteRecord{ID: id, Month: 1, Year: 2567, AmountKg: 10, UpdatedAt: updatedAt}
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
