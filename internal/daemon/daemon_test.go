package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srikhai/wastetrack/internal/dashboard"
	"github.com/srikhai/wastetrack/internal/remote"
	"github.com/srikhai/wastetrack/internal/schema"
	"github.com/srikhai/wastetrack/internal/store"
	wsync "github.com/srikhai/wastetrack/internal/sync"
	"github.com/zoobzio/clockz"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noJitter() time.Duration { return 0 }

func setupTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakeRemote struct {
	mu      sync.Mutex
	records []schema.WasteRecord
	down      bool
	pushErr   error
	configErr error
	pushes    int
}

func (f *fakeRemote) Push(_ context.Context, r *schema.WasteRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	if f.down {
		return &remote.NetworkError{Op: "push", Err: errors.New("connection refused")}
	}
	if f.pushErr != nil {
		return f.pushErr
	}
	f.records = append(f.records, *r)
	return nil
}

func (f *fakeRemote) Pull(context.Context) ([]schema.WasteRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, &remote.NetworkError{Op: "pull", Err: errors.New("connection refused")}
	}
	return append([]schema.WasteRecord(nil), f.records...), nil
}

func (f *fakeRemote) Ping(context.Context) remote.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return remote.Health{Message: "connection refused", CheckedAt: time.Now()}
	}
	return remote.Health{OK: true, Status: 200, CheckedAt: time.Now()}
}

func (f *fakeRemote) Validate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configErr
}

func (f *fakeRemote) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeRemote) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.records))
	for i, r := range f.records {
		out[i] = r.ID
	}
	return out
}

type recordingPublisher struct {
	mu       sync.Mutex
	messages []dashboard.MessageType
	statuses int
}

func (p *recordingPublisher) Publish(t dashboard.MessageType, _ any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, t)
}

func (p *recordingPublisher) PublishStatus(context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses++
}

func (p *recordingPublisher) has(t dashboard.MessageType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.messages {
		if m == t {
			return true
		}
	}
	return false
}

// failingSave wraps a store and fails every ReplaceRecords.
type failingSave struct {
	*store.DB
}

func (f failingSave) ReplaceRecords(context.Context, []schema.WasteRecord) error {
	return errors.New("disk full")
}

type harness struct {
	db     *store.DB
	remote *fakeRemote
	pub    *recordingPublisher
	svc    *wsync.Service
	clock  clockz.Clock
	daemon *Daemon
}

func newHarness(t *testing.T, clock clockz.Clock, settings Settings, st func(*store.DB) Store) *harness {
	t.Helper()
	db := setupTestDB(t)
	fr := &fakeRemote{}
	pub := &recordingPublisher{}
	state := wsync.NewState(db, clock)
	svc := wsync.NewService(state, fr, settings.Policy, quietLogger())

	var s Store = db
	if st != nil {
		s = st(db)
	}
	d, err := New(svc, s, Config{Settings: settings, Publisher: pub, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return &harness{db: db, remote: fr, pub: pub, svc: svc, clock: state.Clock, daemon: d}
}

func enabled() Settings {
	return Settings{
		Enabled:  true,
		Interval: time.Minute,
		Policy:   wsync.RetryPolicy{MaxRetries: 1, Jitter: noJitter},
	}
}

func addRecord(t *testing.T, db *store.DB, id string, month int) {
	t.Helper()
	r := &schema.WasteRecord{ID: id, Month: month, Year: 2567, AmountKg: 10, UpdatedAt: "2024-01-02T00:00:00Z"}
	if err := db.UpsertRecord(context.Background(), r); err != nil {
		t.Fatalf("UpsertRecord failed: %v", err)
	}
}

func auditActions(t *testing.T, db *store.DB) map[string]int {
	t.Helper()
	entries, err := db.ListAudit(context.Background(), store.AuditFilter{})
	if err != nil {
		t.Fatalf("ListAudit failed: %v", err)
	}
	counts := map[string]int{}
	for _, e := range entries {
		counts[e.Action]++
		if e.Actor != auditActor {
			t.Errorf("audit actor = %q, want %q", e.Actor, auditActor)
		}
	}
	return counts
}

func TestNew_Validation(t *testing.T) {
	db := setupTestDB(t)
	svc := wsync.NewService(wsync.NewState(db, nil), &fakeRemote{}, wsync.DefaultRetryPolicy(), quietLogger())

	if _, err := New(nil, db, Config{}); err == nil {
		t.Error("expected error for nil service")
	}
	if _, err := New(svc, nil, Config{}); err == nil {
		t.Error("expected error for nil store")
	}

	d, err := New(svc, db, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if got := d.Settings().Interval; got != DefaultInterval {
		t.Errorf("Interval = %v, want %v", got, DefaultInterval)
	}
	if d.cfg.HealthInterval != DefaultHealthInterval {
		t.Errorf("HealthInterval = %v, want %v", d.cfg.HealthInterval, DefaultHealthInterval)
	}
}

func TestRunOnce_Disabled(t *testing.T) {
	h := newHarness(t, nil, Settings{Policy: wsync.DefaultRetryPolicy()}, nil)
	if got := h.daemon.RunOnce(context.Background()); got != RunDisabled {
		t.Errorf("RunOnce = %v, want disabled", got)
	}
	if len(auditActions(t, h.db)) != 0 {
		t.Error("disabled run wrote audit entries")
	}
}

func TestRunOnce_SyncsAndPersists(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, enabled(), nil)
	addRecord(t, h.db, "local-1", 1)
	h.remote.records = []schema.WasteRecord{{ID: "remote-1", Month: 2, Year: 2567, AmountKg: 5, UpdatedAt: "2024-02-01T00:00:00Z"}}

	if got := h.daemon.RunOnce(ctx); got != RunSynced {
		t.Fatalf("RunOnce = %v, want synced", got)
	}

	if ids := h.remote.ids(); len(ids) != 2 || ids[1] != "local-1" {
		t.Errorf("remote records = %v, want local-1 pushed", ids)
	}
	n, err := h.db.CountRecords(ctx)
	if err != nil || n != 2 {
		t.Errorf("local records = %d, %v; want merged set of 2", n, err)
	}
	if got := auditActions(t, h.db); got[store.ActionAutoSyncSuccess] != 1 {
		t.Errorf("audit = %v, want one success", got)
	}
	if !h.pub.has(dashboard.MessageTypeSyncComplete) {
		t.Error("sync_complete not published")
	}
}

func TestRunOnce_LockHeldSkips(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, enabled(), nil)
	if _, err := h.svc.State().Lock.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	if got := h.daemon.RunOnce(ctx); got != RunSkipped {
		t.Fatalf("RunOnce = %v, want skipped", got)
	}
	got := auditActions(t, h.db)
	if got[store.ActionAutoSyncSkip] != 1 || got[store.ActionAutoSyncFail] != 0 {
		t.Errorf("audit = %v, want one skip", got)
	}
}

func TestRunOnce_CircuitOpenPausesUntilRetryAfter(t *testing.T) {
	ctx := context.Background()
	clock := clockz.NewFakeClock()
	h := newHarness(t, clock, enabled(), nil)
	for i := 0; i < wsync.CircuitThreshold; i++ {
		if _, err := h.svc.State().Breaker.RecordFailure(ctx); err != nil {
			t.Fatal(err)
		}
	}

	if got := h.daemon.RunOnce(ctx); got != RunPaused {
		t.Fatalf("RunOnce = %v, want paused", got)
	}
	// Still inside the window: no second sync attempt, no second audit entry.
	clock.Advance(time.Minute)
	if got := h.daemon.RunOnce(ctx); got != RunPaused {
		t.Fatalf("RunOnce = %v, want paused", got)
	}
	if got := auditActions(t, h.db); got[store.ActionAutoSyncSkip] != 1 {
		t.Errorf("audit = %v, want exactly one skip", got)
	}

	clock.Advance(wsync.CircuitCooldown)
	if got := h.daemon.RunOnce(ctx); got != RunSynced {
		t.Errorf("RunOnce after cooldown = %v, want synced", got)
	}
}

func TestRunOnce_RetriesThenFails(t *testing.T) {
	ctx := context.Background()
	settings := enabled()
	settings.Policy = wsync.RetryPolicy{MaxRetries: 3, Jitter: noJitter}
	h := newHarness(t, nil, settings, func(db *store.DB) Store { return failingSave{db} })
	addRecord(t, h.db, "local-1", 1)

	if got := h.daemon.RunOnce(ctx); got != RunFailed {
		t.Fatalf("RunOnce = %v, want failed", got)
	}
	got := auditActions(t, h.db)
	if got[store.ActionAutoSyncRetry] != 2 || got[store.ActionAutoSyncFail] != 1 {
		t.Errorf("audit = %v, want 2 retries and 1 failure", got)
	}
}

func TestRunOnce_StoresRemoteRecordWithUnparseableDate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, enabled(), nil)
	h.remote.records = []schema.WasteRecord{
		{ID: "remote-1", Month: 2, Year: 2567, AmountKg: 5, UpdatedAt: "Tue Jan 02 2024"},
	}
	addRecord(t, h.db, "local-1", 1)

	if got := h.daemon.RunOnce(ctx); got != RunSynced {
		t.Fatalf("RunOnce = %v, want synced", got)
	}
	records, err := h.db.ListRecords(ctx)
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("stored %d records, want 2", len(records))
	}
	got := auditActions(t, h.db)
	if got[store.ActionAutoSyncSuccess] != 1 || got[store.ActionAutoSyncFail] != 0 {
		t.Errorf("audit = %v, want one success", got)
	}
}

func TestRunOnce_MalformedConfigFailsWithoutRetry(t *testing.T) {
	ctx := context.Background()
	settings := enabled()
	settings.Policy = wsync.RetryPolicy{MaxRetries: 3, Jitter: noJitter}
	h := newHarness(t, nil, settings, nil)
	h.remote.configErr = fmt.Errorf("%w: url is empty", remote.ErrMalformedConfig)
	addRecord(t, h.db, "local-1", 1)

	for i := 0; i < wsync.CircuitThreshold+1; i++ {
		if got := h.daemon.RunOnce(ctx); got != RunFailed {
			t.Fatalf("RunOnce %d = %v, want failed", i, got)
		}
	}
	got := auditActions(t, h.db)
	if got[store.ActionAutoSyncRetry] != 0 || got[store.ActionAutoSyncFail] != wsync.CircuitThreshold+1 {
		t.Errorf("audit = %v, want one failure per tick and no retries", got)
	}
	if h.remote.pushes != 0 {
		t.Errorf("pushes = %d, want 0", h.remote.pushes)
	}
	if err := h.svc.State().Breaker.EnsureAvailable(ctx); err != nil {
		t.Errorf("breaker tripped by configuration error: %v", err)
	}
}

func TestCheckConnection_FlushesOnReconnect(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, enabled(), nil)
	h.remote.setDown(true)

	if _, err := h.svc.State().Queue.Enqueue(ctx, schema.WasteRecord{ID: "q1", Month: 1, Year: 2567}, wsync.ReasonNetwork, "offline"); err != nil {
		t.Fatal(err)
	}

	if res := h.daemon.CheckConnection(ctx); res != nil {
		t.Fatalf("flush ran while unreachable: %+v", res)
	}

	h.remote.setDown(false)
	res := h.daemon.CheckConnection(ctx)
	if res == nil || res.Success != 1 {
		t.Fatalf("flush result = %+v, want one success", res)
	}
	if n, _ := h.svc.State().Queue.Len(ctx); n != 0 {
		t.Errorf("queue length = %d, want 0", n)
	}
	if got := auditActions(t, h.db); got[store.ActionFlush] != 1 {
		t.Errorf("audit = %v, want one flush", got)
	}
	if !h.pub.has(dashboard.MessageTypeFlushComplete) {
		t.Error("flush_complete not published")
	}

	// No transition, no flush.
	if res := h.daemon.CheckConnection(ctx); res != nil {
		t.Errorf("flush ran without a reconnect: %+v", res)
	}
}

func TestApply_UpdatesPolicyAndInterval(t *testing.T) {
	h := newHarness(t, nil, enabled(), nil)

	policy := wsync.RetryPolicy{MaxRetries: 5, BaseDelay: 2 * time.Second, Backoff: wsync.BackoffLinear}
	h.daemon.Apply(Settings{Enabled: true, Interval: 10 * time.Second, Policy: policy})

	got := h.daemon.Settings()
	if got.Interval != time.Minute {
		t.Errorf("Interval = %v, want clamped to 1m", got.Interval)
	}
	if p := h.svc.Executor().Policy(); p.MaxRetries != 5 || p.Backoff != wsync.BackoffLinear {
		t.Errorf("executor policy = %+v", p)
	}
}

func TestRun_ReloadsOnConfigChange(t *testing.T) {
	db := setupTestDB(t)
	fr := &fakeRemote{}
	svc := wsync.NewService(wsync.NewState(db, nil), fr, wsync.DefaultRetryPolicy(), quietLogger())

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("sync: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var reloads atomic.Int32
	d, err := New(svc, db, Config{
		Settings:       Settings{Policy: wsync.DefaultRetryPolicy()},
		HealthInterval: time.Hour,
		ConfigPath:     path,
		Reload: func() (Settings, error) {
			reloads.Add(1)
			return Settings{Interval: 5 * time.Minute, Policy: wsync.RetryPolicy{MaxRetries: 7}}, nil
		},
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for reloads.Load() == 0 && time.Now().Before(deadline) {
		// Keep writing until the watcher is attached; each pause outlasts the debounce.
		_ = os.WriteFile(path, []byte("sync:\n  max-retries: 7\n"), 0o600)
		time.Sleep(DefaultDebounce + 100*time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if reloads.Load() == 0 {
		t.Fatal("config change was not picked up")
	}
	if got := d.Settings().Interval; got != 5*time.Minute {
		t.Errorf("Interval = %v, want 5m", got)
	}
	if p := svc.Executor().Policy(); p.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, want 7", p.MaxRetries)
	}
}

func TestRun_PublishesQueuedRecords(t *testing.T) {
	h := newHarness(t, nil, enabled(), nil)
	h.remote.pushErr = &remote.RemoteError{Status: 500, Message: "sheet not found"}
	addRecord(t, h.db, "local-1", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.daemon.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !h.pub.has(dashboard.MessageTypeRecordQueued) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if !h.pub.has(dashboard.MessageTypeRecordQueued) {
		t.Error("record_queued not published")
	}
	if n, _ := h.svc.State().Queue.Len(context.Background()); n != 1 {
		t.Errorf("queue length = %d, want 1", n)
	}
}
