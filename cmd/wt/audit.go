package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"github.com/srikhai/wastetrack/internal/store"
	"github.com/srikhai/wastetrack/internal/ui"
)

var timeParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseSince accepts an RFC 3339 time, a YYYY-MM-DD date, a Go duration
// ("36h") meaning that long ago, or natural language ("3 days ago",
// "last monday").
func parseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, now.Location()); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return now.Add(-d), nil
	}

	r, err := timeParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognized time %q", s)
	}
	return r.Time, nil
}

var auditCmd = &cobra.Command{
	Use:     "audit",
	GroupID: "records",
	Short:   "Inspect the audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries, newest first",
	Long: `List audit log entries.

Examples:
  wt audit list
  wt audit list --since "3 days ago"
  wt audit list --since 2024-03-01 --action AUTO_SYNC_FAIL`,
	Run: func(cmd *cobra.Command, args []string) {
		sinceStr, _ := cmd.Flags().GetString("since")
		action, _ := cmd.Flags().GetString("action")
		limit, _ := cmd.Flags().GetInt("limit")

		since, err := parseSince(sinceStr, time.Now())
		if err != nil {
			fatalf("%v", err)
		}

		e := mustEnv()
		defer e.Close()

		entries, err := e.db.ListAudit(rootCtx, store.AuditFilter{
			Since:  since,
			Action: strings.ToUpper(action),
			Limit:  limit,
		})
		if err != nil {
			fatalf("%v", err)
		}
		if jsonOutput {
			outputJSON(entries)
			return
		}
		ui.RenderAudit(os.Stdout, entries)
	},
}

func init() {
	auditListCmd.Flags().String("since", "", `Only entries after this time (e.g. "yesterday", "3 days ago", 2024-03-01, 48h)`)
	auditListCmd.Flags().String("action", "", "Filter by action (ADD, UPDATE, IMPORT, AUTO_SYNC_SUCCESS, ...)")
	auditListCmd.Flags().IntP("limit", "n", 50, "Maximum entries to show (0 = all)")

	auditCmd.AddCommand(auditListCmd)
	rootCmd.AddCommand(auditCmd)
}
