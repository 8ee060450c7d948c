package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srikhai/wastetrack/internal/config"
)

var (
	jsonOutput bool
	logLevel   string

	// rootCtx is cancelled on SIGINT/SIGTERM.
	rootCtx = context.Background()
)

var rootCmd = &cobra.Command{
	Use:   "wt",
	Short: "wt - waste record sync for Mueang Sri Khai municipality",
	Long: `wt keeps the municipality's monthly waste records on this device in sync
with the shared spreadsheet.

Records are entered locally and stored in .wastetrack/state.db. 'wt sync'
merges them with the spreadsheet (newest update wins) and pushes local changes.
Pushes that fail are kept in a pending queue and retried by 'wt flush' or by the
auto-sync daemon when the connection comes back.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := config.Initialize(); err != nil {
			fatalf("%v", err)
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "records", Title: "Records:"},
		&cobra.Group{ID: "reports", Title: "Reports:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default from log.level)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCtx = ctx

	err := rootCmd.ExecuteContext(ctx)
	stop()
	shutdown()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
