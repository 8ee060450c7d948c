package main

import (
	"cmp"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/srikhai/wastetrack/internal/config"
	"github.com/srikhai/wastetrack/internal/logging"
	"github.com/srikhai/wastetrack/internal/remote"
	"github.com/srikhai/wastetrack/internal/store"
	wsync "github.com/srikhai/wastetrack/internal/sync"
	"github.com/zoobzio/capitan"
)

// env is the wiring shared by commands that touch the sync state.
type env struct {
	cfg    *config.Config
	db     *store.DB
	state  *wsync.State
	remote *remote.Client
	svc    *wsync.Service
	logger *slog.Logger

	closeOnce func()
}

// openEnv loads the config and opens the state database. logger may be nil,
// in which case a stderr logger at the configured level is used.
func openEnv(logger *slog.Logger) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Stderr(cmp.Or(logLevel, cfg.Log.Level))
	}

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	state := wsync.NewState(db, nil)
	client := remote.New(remote.Config{
		URL:           cfg.Remote.URL,
		SpreadsheetID: cfg.Remote.SpreadsheetID,
		SheetName:     cfg.Remote.SheetName,
	}, logger)

	e := &env{
		cfg:    cfg,
		db:     db,
		state:  state,
		remote: client,
		svc:    wsync.NewService(state, client, retryPolicy(cfg.Sync), logger),
		logger: logger,
	}
	e.closeOnce = atExit(e.closeDB)
	return e, nil
}

// mustEnv is openEnv that exits on failure.
func mustEnv() *env {
	e, err := openEnv(nil)
	if err != nil {
		fatalf("%v", err)
	}
	return e
}

// Close closes the database. It is safe to call more than once and also runs
// on exit.
func (e *env) Close() {
	e.closeOnce()
}

func (e *env) closeDB() {
	if err := e.db.Close(); err != nil {
		e.logger.Warn("failed to close database", "error", err)
	}
}

func retryPolicy(c config.SyncConfig) wsync.RetryPolicy {
	return wsync.RetryPolicy{
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.BaseDelay(),
		Backoff:    wsync.Backoff(c.Backoff),
	}
}

var (
	exitMu    sync.Mutex
	exitHooks []func()
)

// atExit registers fn to run before the process exits and returns a func
// that runs it early. fn runs at most once.
func atExit(fn func()) func() {
	once := sync.OnceFunc(fn)
	exitMu.Lock()
	exitHooks = append(exitHooks, once)
	exitMu.Unlock()
	return once
}

// runExitHooks runs registered hooks, newest first, and forgets them.
func runExitHooks() {
	exitMu.Lock()
	hooks := exitHooks
	exitHooks = nil
	exitMu.Unlock()
	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}

// shutdown releases everything still open and stops the signal workers.
func shutdown() {
	runExitHooks()
	capitan.Shutdown()
}

// exit is os.Exit that closes open resources first.
func exit(code int) {
	shutdown()
	os.Exit(code)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatalf("failed to encode JSON: %v", err)
	}
}
