package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/srikhai/wastetrack/internal/schema"
	wsync "github.com/srikhai/wastetrack/internal/sync"
	"github.com/srikhai/wastetrack/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Merge local records with the spreadsheet and push changes",
	Long: `Run one sync:
  1. Fetch all records from the spreadsheet
  2. Merge with local records (newest updatedAt wins, ties keep the spreadsheet)
  3. Push every local record that is new or newer
  4. Save the merged set locally

Records that fail to push are queued; run 'wt flush' to retry them.
If another sync is running this command does nothing and exits 0.`,
	Run: func(cmd *cobra.Command, args []string) {
		e := mustEnv()
		defer e.Close()
		ctx := rootCtx

		local, err := e.db.ListRecords(ctx)
		if err != nil {
			fatalf("%v", err)
		}

		result, err := e.svc.Sync(ctx, schema.Values(local))
		if errors.Is(err, wsync.ErrLockHeld) {
			fmt.Printf("%s %v, skipping\n", ui.RenderAccent(ui.IconInfo), err)
			return
		}
		var batch *wsync.BatchError
		if err != nil && !errors.As(err, &batch) {
			fatalf("%v", err)
		}

		if err := e.db.ReplaceRecords(context.WithoutCancel(ctx), result.Records); err != nil {
			fatalf("failed to save merged records: %v", err)
		}

		if jsonOutput {
			outputJSON(result)
		} else {
			printSyncResult(result)
		}
		if batch != nil {
			exit(1)
		}
	},
}

func printSyncResult(r *wsync.SyncResult) {
	icon := ui.PassIcon()
	if r.Queued > 0 || r.Failed > 0 {
		icon = ui.WarnIcon()
	}
	fmt.Printf("%s Synced %d records in %v\n", icon, len(r.Records), r.Duration.Round(time.Millisecond))
	if r.FetchError != "" {
		fmt.Printf("   %s could not fetch spreadsheet: %s\n", ui.RenderWarn("!"), r.FetchError)
	} else {
		fmt.Printf("   Remote: %d\n", r.RemoteCount)
	}
	if r.Dropped > 0 {
		fmt.Printf("   %s skipped %d invalid spreadsheet rows\n", ui.RenderWarn("!"), r.Dropped)
	}
	fmt.Printf("   Pushed: %d\n", r.Pushed)
	if r.Queued > 0 {
		fmt.Printf("   Queued: %s (run 'wt flush' to retry)\n", ui.RenderWarn(fmt.Sprint(r.Queued)))
	}
	if r.Failed > 0 {
		fmt.Printf("   Failed: %s\n", ui.RenderFail(fmt.Sprint(r.Failed)))
	}
	ui.RenderErrors(os.Stdout, "Errors:", r.Errors)
}

var flushCmd = &cobra.Command{
	Use:     "flush",
	GroupID: "sync",
	Short:   "Retry every record in the pending queue once",
	Run: func(cmd *cobra.Command, args []string) {
		e := mustEnv()
		defer e.Close()

		result, err := e.svc.Flush(rootCtx)
		if errors.Is(err, wsync.ErrLockHeld) {
			fmt.Printf("%s %v, skipping\n", ui.RenderAccent(ui.IconInfo), err)
			return
		}
		if err != nil {
			fatalf("%v", err)
		}

		if jsonOutput {
			outputJSON(result)
			return
		}
		total := result.Success + result.Failed
		if total == 0 {
			fmt.Println("Nothing to flush.")
			return
		}
		icon := ui.PassIcon()
		if result.Failed > 0 {
			icon = ui.WarnIcon()
		}
		fmt.Printf("%s Flushed %d/%d pending records\n", icon, result.Success, total)
		ui.RenderErrors(os.Stdout, "Still queued:", result.Errors)
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show sync status, circuit breaker, pending count and lock",
	Run: func(cmd *cobra.Command, args []string) {
		e := mustEnv()
		defer e.Close()

		snap, err := e.state.Snapshot(rootCtx)
		if err != nil {
			fatalf("%v", err)
		}
		if jsonOutput {
			outputJSON(snap)
			return
		}
		ui.RenderStatus(os.Stdout, snap, e.state.Clock.Now())
	},
}

var pendingCmd = &cobra.Command{
	Use:     "pending",
	GroupID: "sync",
	Short:   "List records waiting in the pending queue",
	Run: func(cmd *cobra.Command, args []string) {
		e := mustEnv()
		defer e.Close()

		if clearAll, _ := cmd.Flags().GetBool("clear"); clearAll {
			if err := e.state.Queue.Clear(rootCtx); err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("%s Pending queue cleared\n", ui.PassIcon())
			return
		}

		items, err := e.state.Queue.List(rootCtx)
		if err != nil {
			fatalf("%v", err)
		}
		if jsonOutput {
			outputJSON(items)
			return
		}
		ui.RenderPending(os.Stdout, items)
	},
}

var lockCmd = &cobra.Command{
	Use:     "lock",
	GroupID: "sync",
	Short:   "Inspect or clear the sync lock",
}

var lockStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current sync lock",
	Run: func(cmd *cobra.Command, args []string) {
		e := mustEnv()
		defer e.Close()

		lease, err := e.state.Lock.Current(rootCtx)
		if err != nil {
			fatalf("%v", err)
		}
		stuck := e.state.Lock.IsStuck(rootCtx)
		if jsonOutput {
			outputJSON(map[string]any{"lock": lease, "stuck": stuck})
			return
		}
		if lease == nil {
			fmt.Println("Lock is free.")
			return
		}
		fmt.Printf("Held since %s, expires %s\n",
			lease.StartedAt.Local().Format(time.DateTime), lease.ExpiresAt.Local().Format(time.DateTime))
		if stuck {
			fmt.Printf("%s Lock looks stuck; run 'wt lock clear' if no sync is running\n", ui.WarnIcon())
		}
	},
}

var lockClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the sync lock regardless of holder",
	Run: func(cmd *cobra.Command, args []string) {
		e := mustEnv()
		defer e.Close()

		if err := e.state.Lock.Clear(rootCtx); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Sync lock cleared\n", ui.PassIcon())
	},
}

var healthCmd = &cobra.Command{
	Use:     "health",
	GroupID: "sync",
	Short:   "Ping the spreadsheet web app",
	Run: func(cmd *cobra.Command, args []string) {
		e := mustEnv()
		defer e.Close()

		h := e.svc.CheckHealth(rootCtx)
		if jsonOutput {
			outputJSON(h)
		} else {
			ui.RenderHealth(os.Stdout, h)
		}
		if !h.OK {
			exit(1)
		}
	},
}

var testWriteCmd = &cobra.Command{
	Use:     "test-write",
	GroupID: "sync",
	Short:   "Append a marker row to check write access",
	Run: func(cmd *cobra.Command, args []string) {
		e := mustEnv()
		defer e.Close()

		reply, err := e.remote.TestWrite(rootCtx)
		if err != nil {
			fatalf("test write failed: %v", err)
		}
		if jsonOutput {
			outputJSON(reply)
			return
		}
		fmt.Printf("%s Test write succeeded: %v\n", ui.PassIcon(), reply)
	},
}

func init() {
	pendingCmd.Flags().Bool("clear", false, "Drop every pending record without pushing")

	lockCmd.AddCommand(lockStatusCmd, lockClearCmd)

	rootCmd.AddCommand(syncCmd, flushCmd, statusCmd, pendingCmd, lockCmd, healthCmd, testWriteCmd)
}
