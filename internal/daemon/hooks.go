package daemon

import (
	"context"
	"sync"

	"github.com/srikhai/wastetrack/internal/dashboard"
	wsync "github.com/srikhai/wastetrack/internal/sync"
	"github.com/zoobzio/capitan"
)

// Sync signals are process-wide, so hooks are installed once and fan out to
// every running daemon.
var (
	hooksOnce sync.Once
	runningMu sync.RWMutex
	running   = map[*Daemon]struct{}{}
)

func register(d *Daemon) {
	hooksOnce.Do(installHooks)
	runningMu.Lock()
	defer runningMu.Unlock()
	running[d] = struct{}{}
}

func unregister(d *Daemon) {
	runningMu.Lock()
	defer runningMu.Unlock()
	delete(running, d)
}

func broadcast(t dashboard.MessageType, data any) {
	runningMu.RLock()
	defer runningMu.RUnlock()
	for d := range running {
		d.publish(t, data)
	}
}

func installHooks() {
	capitan.Hook(wsync.RecordQueued, func(_ context.Context, e *capitan.Event) {
		id, _ := wsync.KeyRecordID.From(e)
		reason, _ := wsync.KeyReason.From(e)
		msg, _ := wsync.KeyError.From(e)
		broadcast(dashboard.MessageTypeRecordQueued, dashboard.RecordQueuedData{
			RecordID: id,
			Reason:   reason,
			Error:    msg,
		})
	})

	capitan.Hook(wsync.CircuitOpened, func(_ context.Context, e *capitan.Event) {
		streak, _ := wsync.KeyStreak.From(e)
		retryAfter, _ := wsync.KeyRetryAfter.From(e)
		broadcast(dashboard.MessageTypeCircuitOpened, dashboard.CircuitOpenedData{
			Streak:     streak,
			RetryAfter: retryAfter,
		})
	})
}
