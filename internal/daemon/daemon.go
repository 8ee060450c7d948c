package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/srikhai/wastetrack/internal/dashboard"
	"github.com/srikhai/wastetrack/internal/remote"
	"github.com/srikhai/wastetrack/internal/schema"
	"github.com/srikhai/wastetrack/internal/store"
	wsync "github.com/srikhai/wastetrack/internal/sync"
	"github.com/zoobzio/clockz"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultInterval is the auto-sync period when none is configured.
	DefaultInterval = 15 * time.Minute
	// DefaultHealthInterval is how often the remote store is pinged.
	DefaultHealthInterval = 30 * time.Second

	auditActor = "auto-sync"
)

// Store is the local persistence the daemon needs. *store.DB satisfies it.
type Store interface {
	ListRecords(ctx context.Context) ([]*schema.WasteRecord, error)
	ReplaceRecords(ctx context.Context, records []schema.WasteRecord) error
	AppendAudit(ctx context.Context, e store.AuditEntry) error
}

// Publisher receives dashboard notifications. *dashboard.Server satisfies it.
type Publisher interface {
	Publish(t dashboard.MessageType, data any)
	PublishStatus(ctx context.Context)
}

// Settings are the reloadable auto-sync settings.
type Settings struct {
	Enabled  bool
	Interval time.Duration
	Policy   wsync.RetryPolicy
}

// Config holds configuration for the daemon.
type Config struct {
	Settings Settings

	// HealthInterval is how often to ping the remote store
	HealthInterval time.Duration

	// ConfigPath is watched for changes when Reload is set
	ConfigPath string

	// Reload returns fresh settings after ConfigPath changes
	Reload func() (Settings, error)

	// Publisher is optional
	Publisher Publisher

	Logger *slog.Logger
}

// RunOutcome is the result of one auto-sync tick.
type RunOutcome int

const (
	RunDisabled RunOutcome = iota
	RunSynced
	RunSkipped
	RunPaused
	RunFailed
)

func (o RunOutcome) String() string {
	switch o {
	case RunDisabled:
		return "disabled"
	case RunSynced:
		return "synced"
	case RunSkipped:
		return "skipped"
	case RunPaused:
		return "paused"
	default:
		return "failed"
	}
}

// Daemon schedules auto-sync runs and reconnect flushes.
type Daemon struct {
	svc    *wsync.Service
	store  Store
	pub    Publisher
	cfg    Config
	clock  clockz.Clock
	logger *slog.Logger

	mu          sync.Mutex
	settings    Settings
	pausedUntil time.Time
	reachable   bool

	reset chan struct{}
}

// New creates a daemon over svc and st.
func New(svc *wsync.Service, st Store, cfg Config) (*Daemon, error) {
	if svc == nil {
		return nil, fmt.Errorf("sync service cannot be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Daemon{
		svc:    svc,
		store:  st,
		pub:    cfg.Publisher,
		cfg:    cfg,
		clock:  svc.State().Clock,
		logger: logger.With("component", "daemon"),
		reset:  make(chan struct{}, 1),
	}
	d.settings = normalize(cfg.Settings)
	svc.Executor().SetPolicy(d.settings.Policy)
	return d, nil
}

func normalize(s Settings) Settings {
	if s.Interval <= 0 {
		s.Interval = DefaultInterval
	}
	if s.Interval < time.Minute {
		s.Interval = time.Minute
	}
	return s
}

// Settings returns the active settings.
func (d *Daemon) Settings() Settings {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.settings
}

// Apply replaces the settings, updates the executor's retry policy and
// restarts the auto-sync timer.
func (d *Daemon) Apply(s Settings) {
	s = normalize(s)
	d.mu.Lock()
	d.settings = s
	d.mu.Unlock()

	d.svc.Executor().SetPolicy(s.Policy)
	select {
	case d.reset <- struct{}{}:
	default:
	}
	d.logger.Info("settings applied", "enabled", s.Enabled, "interval", s.Interval,
		"max_retries", s.Policy.MaxRetries, "backoff", s.Policy.Backoff)
}

// Run blocks until ctx is cancelled or the config watcher fails.
func (d *Daemon) Run(ctx context.Context) error {
	var watcher *ConfigWatcher
	if d.cfg.ConfigPath != "" && d.cfg.Reload != nil {
		w, err := NewConfigWatcher(d.cfg.ConfigPath)
		if err != nil {
			return err
		}
		watcher = w
	}

	register(d)
	defer unregister(d)

	s := d.Settings()
	d.logger.Info("daemon started", "auto_sync", s.Enabled, "interval", s.Interval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.syncLoop(ctx)
		return nil
	})
	g.Go(func() error {
		d.healthLoop(ctx)
		return nil
	})
	if watcher != nil {
		g.Go(func() error {
			return d.watchConfig(ctx, watcher)
		})
	}

	err := g.Wait()
	d.logger.Info("daemon stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Daemon) syncLoop(ctx context.Context) {
	d.RunOnce(ctx)
	for {
		timer := d.clock.NewTimer(d.Settings().Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-d.reset:
			timer.Stop()
			continue
		case <-timer.C():
		}
		d.RunOnce(ctx)
	}
}

// RunOnce performs one auto-sync tick, retrying failed runs with the
// executor's backoff policy.
func (d *Daemon) RunOnce(ctx context.Context) RunOutcome {
	s := d.Settings()
	if !s.Enabled {
		return RunDisabled
	}
	if until := d.paused(); d.clock.Now().Before(until) {
		d.logger.Debug("auto-sync paused, circuit open", "until", until)
		return RunPaused
	}

	attempts := s.Policy.Attempts()
	for attempt := 0; ; attempt++ {
		outcome, err := d.syncOnce(ctx)
		if err == nil {
			return outcome
		}
		if ctx.Err() != nil {
			return RunFailed
		}
		if attempt == attempts-1 {
			d.logger.Error("auto-sync failed", "attempts", attempts, "error", err)
			d.audit(ctx, store.ActionAutoSyncFail, fmt.Sprintf("failed after %d attempt(s): %v", attempts, err))
			return RunFailed
		}

		delay := s.Policy.Delay(attempt)
		d.logger.Warn("auto-sync failed, retrying", "attempt", attempt+1, "of", attempts, "delay", delay, "error", err)
		d.audit(ctx, store.ActionAutoSyncRetry,
			fmt.Sprintf("attempt %d/%d failed: %v; retrying in %s", attempt+1, attempts, err, delay.Round(time.Millisecond)))
		if !d.sleep(ctx, delay) {
			return RunFailed
		}
	}
}

// syncOnce runs a single sync. The error is non-nil only for failures worth
// retrying.
func (d *Daemon) syncOnce(ctx context.Context) (RunOutcome, error) {
	local, err := d.store.ListRecords(ctx)
	if err != nil {
		return RunFailed, fmt.Errorf("failed to load local records: %w", err)
	}

	result, err := d.svc.Sync(ctx, schema.Values(local))

	var open *wsync.CircuitOpenError
	switch {
	case errors.Is(err, wsync.ErrLockHeld):
		d.audit(ctx, store.ActionAutoSyncSkip, "sync already in progress")
		return RunSkipped, nil
	case errors.Is(err, remote.ErrMalformedConfig):
		d.logger.Error("auto-sync failed, remote store not configured", "error", err)
		d.audit(ctx, store.ActionAutoSyncFail, err.Error())
		return RunFailed, nil
	case errors.As(err, &open):
		d.pause(open.RetryAfter)
		d.logger.Info("auto-sync paused, circuit open", "until", open.RetryAfter)
		d.audit(ctx, store.ActionAutoSyncSkip,
			fmt.Sprintf("circuit open, retry after %s", open.RetryAfter.Format(time.RFC3339)))
		d.publishStatus(ctx)
		return RunPaused, nil
	}

	if result != nil {
		if serr := d.store.ReplaceRecords(context.WithoutCancel(ctx), result.Records); serr != nil && err == nil {
			err = fmt.Errorf("failed to save merged records: %w", serr)
		}
		d.publish(dashboard.MessageTypeSyncComplete, dashboard.SyncCompleteData{
			Records:  len(result.Records),
			Pushed:   result.Pushed,
			Queued:   result.Queued,
			Failed:   result.Failed,
			Duration: result.Duration,
		})
		d.publishStatus(ctx)
	}
	if err != nil {
		return RunFailed, err
	}

	details := fmt.Sprintf("synced %d records (pushed %d, queued %d)", len(result.Records), result.Pushed, result.Queued)
	if result.FetchError != "" {
		details += "; remote fetch failed: " + result.FetchError
	}
	d.audit(ctx, store.ActionAutoSyncSuccess, details)
	return RunSynced, nil
}

func (d *Daemon) healthLoop(ctx context.Context) {
	for {
		d.CheckConnection(ctx)
		timer := d.clock.NewTimer(d.cfg.HealthInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}
	}
}

// CheckConnection pings the remote store. When it becomes reachable after
// being unreachable, or on the first successful ping, pending records are
// flushed. The flush result is nil when no flush ran.
func (d *Daemon) CheckConnection(ctx context.Context) *wsync.FlushResult {
	h := d.svc.CheckHealth(ctx)

	d.mu.Lock()
	was := d.reachable
	d.reachable = h.OK
	d.mu.Unlock()

	var result *wsync.FlushResult
	switch {
	case h.OK && !was:
		d.logger.Info("remote store reachable", "latency", h.Latency)
		result = d.flushPending(ctx)
	case !h.OK && was:
		d.logger.Warn("remote store unreachable", "status", h.Status, "message", h.Message)
	}
	d.publishStatus(ctx)
	return result
}

func (d *Daemon) flushPending(ctx context.Context) *wsync.FlushResult {
	n, err := d.svc.State().Queue.Len(ctx)
	if err != nil {
		d.logger.Warn("failed to read pending queue", "error", err)
		return nil
	}
	if n == 0 {
		return nil
	}

	result, err := d.svc.Flush(ctx)
	if err != nil {
		if wsync.IsSkippable(err) {
			d.logger.Debug("reconnect flush skipped", "reason", err)
		} else {
			d.logger.Warn("reconnect flush failed", "error", err)
		}
		return nil
	}

	d.audit(ctx, store.ActionFlush, fmt.Sprintf("flushed %d/%d pending records", result.Success, n))
	d.publish(dashboard.MessageTypeFlushComplete, dashboard.FlushCompleteData{
		Success: result.Success,
		Failed:  result.Failed,
	})
	return result
}

func (d *Daemon) watchConfig(ctx context.Context, w *ConfigWatcher) error {
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-w.Changes():
			if !ok {
				return nil
			}
			d.reload()
		case err, ok := <-w.Errors():
			if !ok {
				return nil
			}
			d.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (d *Daemon) reload() {
	s, err := d.cfg.Reload()
	if err != nil {
		d.logger.Warn("ignoring config change", "error", err)
		return
	}
	d.Apply(s)
}

func (d *Daemon) paused() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pausedUntil
}

func (d *Daemon) pause(until time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pausedUntil = until
}

func (d *Daemon) sleep(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := d.clock.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
		return true
	}
}

func (d *Daemon) audit(ctx context.Context, action, details string) {
	err := d.store.AppendAudit(context.WithoutCancel(ctx), store.AuditEntry{
		Action:  action,
		Details: details,
		Actor:   auditActor,
	})
	if err != nil {
		d.logger.Error("failed to write audit entry", "action", action, "error", err)
	}
}

func (d *Daemon) publish(t dashboard.MessageType, data any) {
	if d.pub != nil {
		d.pub.Publish(t, data)
	}
}

func (d *Daemon) publishStatus(ctx context.Context) {
	if d.pub != nil {
		d.pub.PublishStatus(ctx)
	}
}
