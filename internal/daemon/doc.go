// Package daemon runs background auto-sync for the waste tracking store.
//
// # Overview
//
// The daemon keeps the local record store and the remote spreadsheet in step
// without operator involvement. It runs three loops under one errgroup:
//
//  1. Auto-sync: every interval, load local records, run a sync, and save
//     the merged set back to the store.
//  2. Health: ping the remote store and flush the pending queue when the
//     remote comes back after being unreachable.
//  3. Config watch: reload the sync settings when config.yaml changes.
//
// # Failure handling
//
// A run refused because another sync holds the lock is audited as
// AUTO_SYNC_SKIP and otherwise ignored. A run refused by the circuit breaker
// pauses auto-sync until the breaker's retry time. Any other failure is
// retried as a whole run with the executor's backoff policy, audited as
// AUTO_SYNC_RETRY, and finally AUTO_SYNC_FAIL.
//
// # Usage
//
//	d, err := daemon.New(svc, db, daemon.Config{
//	    Settings:  daemon.Settings{Enabled: true, Interval: 15 * time.Minute, Policy: policy},
//	    Publisher: dashboardServer,
//	})
//	if err != nil {
//	    return err
//	}
//	return d.Run(ctx)
package daemon
