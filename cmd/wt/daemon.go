package main

import (
	"cmp"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/srikhai/wastetrack/internal/config"
	"github.com/srikhai/wastetrack/internal/daemon"
	"github.com/srikhai/wastetrack/internal/dashboard"
	"github.com/srikhai/wastetrack/internal/logging"
	"github.com/srikhai/wastetrack/internal/remote"
	"github.com/srikhai/wastetrack/internal/ui"
)

func daemonSettings(cfg *config.Config) daemon.Settings {
	return daemon.Settings{
		Enabled:  cfg.Sync.Auto.Enabled,
		Interval: cfg.Sync.Auto.Interval(),
		Policy:   retryPolicy(cfg.Sync),
	}
}

// reloadSettings re-initializes the config so a file created after startup
// is picked up too. Remote endpoint changes are applied to client.
func reloadSettings(client *remote.Client, server *dashboard.Server) func() (daemon.Settings, error) {
	return func() (daemon.Settings, error) {
		if err := config.Initialize(); err != nil {
			return daemon.Settings{}, err
		}
		cfg, err := config.Load()
		if err != nil {
			return daemon.Settings{}, err
		}
		client.SetEndpoint(cfg.Remote.URL, cfg.Remote.SpreadsheetID, cfg.Remote.SheetName)
		if server != nil {
			server.SetSilent(cfg.Sync.Silent)
		}
		return daemonSettings(cfg), nil
	}
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the auto-sync daemon in the foreground",
	Long: `Run the auto-sync daemon until interrupted.

The daemon:
- Syncs every sync.auto.interval-minutes when sync.auto.enabled is true
- Retries failed runs with the configured backoff, then waits for the next tick
- Pauses while the circuit breaker is open
- Pings the spreadsheet every 30s and flushes the pending queue on reconnect
- Reloads sync, remote and silent-mode settings when the config file changes

Every run is recorded in the audit log. Logs go to .wastetrack/daemon.log
(rotated) unless --log-stderr is set.

Examples:
  wt daemon
  wt daemon --dashboard --port 9000`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		port, _ := cmd.Flags().GetInt("port")
		toStderr, _ := cmd.Flags().GetBool("log-stderr")

		cfg, err := config.Load()
		if err != nil {
			fatalf("%v", err)
		}
		level := cmp.Or(logLevel, cfg.Log.Level)

		var logger *slog.Logger
		if toStderr {
			logger = logging.Stderr(level)
		} else {
			l, closer, err := logging.Daemon(cfg.LogPath(), level)
			if err != nil {
				fatalf("%v", err)
			}
			defer atExit(func() { _ = closer.Close() })()
			logger = l
		}

		e, err := openEnv(logger)
		if err != nil {
			fatalf("%v", err)
		}
		defer e.Close()

		dcfg := daemon.Config{
			Settings:   daemonSettings(cfg),
			ConfigPath: cmp.Or(config.ConfigFileUsed(), filepath.Join(cfg.DataDir, "config.yaml")),
			Logger:     logger,
		}

		var server *dashboard.Server
		if withDashboard {
			server = dashboard.NewServer(&dashboard.Config{
				Port:   cmp.Or(port, cfg.Dashboard.Port),
				Silent: cfg.Sync.Silent,
				Status: e.state,
				Logger: logger,
			})
			if err := server.Start(); err != nil {
				fatalf("failed to start dashboard: %v", err)
			}
			defer atExit(func() { _ = server.Stop() })()
			dcfg.Publisher = server
			fmt.Printf("Dashboard: http://%s (ws://%s/ws)\n", server.GetAddr(), server.GetAddr())
		}
		dcfg.Reload = reloadSettings(e.remote, server)

		d, err := daemon.New(e.svc, e.db, dcfg)
		if err != nil {
			fatalf("%v", err)
		}

		s := d.Settings()
		if s.Enabled {
			fmt.Printf("%s Auto-sync every %v\n", ui.PassIcon(), s.Interval)
		} else {
			fmt.Printf("%s Auto-sync is disabled; only reconnect flushes will run\n", ui.WarnIcon())
			fmt.Println("   Enable with: wt config set sync.auto.enabled true")
		}
		if !toStderr {
			fmt.Printf("   Logging to %s\n", cfg.LogPath())
		}
		fmt.Println("Press Ctrl+C to stop...")

		if err := d.Run(rootCtx); err != nil {
			fatalf("%v", err)
		}
		fmt.Println("\nDaemon stopped")
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "sync",
	Short:   "Serve the live sync status over HTTP and WebSocket",
	Long: `Start the dashboard server on its own.

Without a running daemon in the same process the server polls the sync state
and broadcasts a status message every --refresh interval. Use
'wt daemon --dashboard' to also receive sync and queue events.

Endpoints:
  ws://localhost:8080/ws    status, sync_complete, flush_complete, record_queued, circuit_opened
  /status                   current sync state as JSON
  /health                   liveness`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		refresh, _ := cmd.Flags().GetDuration("refresh")
		origins, _ := cmd.Flags().GetStringSlice("allow-origin")

		e := mustEnv()
		defer e.Close()

		server := dashboard.NewServer(&dashboard.Config{
			Port:           cmp.Or(port, e.cfg.Dashboard.Port),
			Silent:         e.cfg.Sync.Silent,
			AllowedOrigins: origins,
			Status:         e.state,
			Logger:         e.logger,
		})
		if err := server.Start(); err != nil {
			fatalf("failed to start dashboard: %v", err)
		}

		fmt.Printf("Dashboard server started on http://%s\n", server.GetAddr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.GetAddr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx := rootCtx
		if refresh < time.Second {
			refresh = time.Second
		}
	loop:
		for {
			timer := e.state.Clock.NewTimer(refresh)
			select {
			case <-ctx.Done():
				timer.Stop()
				break loop
			case <-timer.C():
				server.PublishStatus(ctx)
			}
		}

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fatalf("shutdown: %v", err)
		}
		fmt.Println("Dashboard server stopped")
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Also serve the live dashboard")
	daemonCmd.Flags().IntP("port", "p", 0, "Dashboard port (default dashboard.port)")
	daemonCmd.Flags().Bool("log-stderr", false, "Log to stderr instead of the rotated log file")

	dashboardCmd.Flags().IntP("port", "p", 0, "Port to listen on (default dashboard.port)")
	dashboardCmd.Flags().Duration("refresh", 5*time.Second, "How often to broadcast the status snapshot")
	dashboardCmd.Flags().StringSlice("allow-origin", nil, "Allowed CORS/WebSocket origins (default: any)")

	rootCmd.AddCommand(daemonCmd, dashboardCmd)
}
