package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/srikhai/wastetrack/internal/remote"
	"github.com/srikhai/wastetrack/internal/schema"
	"github.com/srikhai/wastetrack/internal/store"
	wsync "github.com/srikhai/wastetrack/internal/sync"
)

const timeLayout = "2006-01-02 15:04:05"

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(MutedStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return HeaderStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

// RenderStatus prints the sync state snapshot.
func RenderStatus(w io.Writer, snap *wsync.Snapshot, now time.Time) {
	st := snap.Status

	var last string
	switch st.LastStatus {
	case wsync.StatusSuccess:
		last = PassIcon() + " " + RenderPass(string(st.LastStatus))
	case wsync.StatusFail:
		last = FailIcon() + " " + RenderFail(string(st.LastStatus))
	default:
		last = RenderMuted(string(st.LastStatus))
	}
	fmt.Fprintf(w, "%s %s\n", RenderBold("Last sync:"), last)
	if st.LastAt != nil {
		fmt.Fprintf(w, "  at %s (%s)\n", st.LastAt.Local().Format(timeLayout), st.LastDuration.Round(time.Millisecond))
	}
	if st.LastMessage != "" {
		fmt.Fprintf(w, "  %s\n", RenderMuted(st.LastMessage))
	}

	fmt.Fprintf(w, "%s %d\n", RenderBold("Failure streak:"), st.FailureStreak)
	if st.CircuitOpen(now) {
		fmt.Fprintf(w, "%s %s open until %s\n", RenderBold("Circuit:"), WarnIcon(),
			st.CircuitOpenUntil.Local().Format(timeLayout))
	} else {
		fmt.Fprintf(w, "%s %s\n", RenderBold("Circuit:"), RenderPass("closed"))
	}

	pending := strconv.Itoa(snap.Pending)
	if snap.Pending > 0 {
		pending = RenderWarn(pending)
	}
	fmt.Fprintf(w, "%s %s\n", RenderBold("Pending:"), pending)

	switch {
	case snap.Lock == nil:
		fmt.Fprintf(w, "%s %s\n", RenderBold("Lock:"), RenderMuted("free"))
	case snap.Stuck:
		fmt.Fprintf(w, "%s %s held since %s (stuck, run 'wt lock clear')\n", RenderBold("Lock:"), WarnIcon(),
			snap.Lock.StartedAt.Local().Format(timeLayout))
	default:
		fmt.Fprintf(w, "%s held since %s\n", RenderBold("Lock:"), snap.Lock.StartedAt.Local().Format(timeLayout))
	}

	if snap.Health != nil {
		fmt.Fprintf(w, "%s ", RenderBold("Remote:"))
		RenderHealth(w, *snap.Health)
	}
}

// RenderHealth prints one ping result on a single line.
func RenderHealth(w io.Writer, h remote.Health) {
	if h.OK {
		fmt.Fprintf(w, "%s reachable (%s)", PassIcon(), h.Latency.Round(time.Millisecond))
	} else {
		fmt.Fprintf(w, "%s unreachable", FailIcon())
	}
	if h.Message != "" {
		fmt.Fprintf(w, " %s", RenderMuted(h.Message))
	}
	fmt.Fprintln(w)
}

// RenderPending prints the pending queue.
func RenderPending(w io.Writer, items []wsync.PendingItem) {
	if len(items) == 0 {
		fmt.Fprintln(w, RenderMuted("No pending records."))
		return
	}
	t := newTable("ID", "Period", "Reason", "Stored", "Last error")
	for _, it := range items {
		t.Row(
			it.Record.ID,
			it.Record.PeriodKey(),
			string(it.Reason),
			it.StoredAt.Local().Format(timeLayout),
			truncate(it.LastError, 60),
		)
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%d pending\n", len(items))
}

// RenderRecords prints local records.
func RenderRecords(w io.Writer, records []*schema.WasteRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, RenderMuted("No records."))
		return
	}
	t := newTable("Period", "Amount (kg)", "Population", "kg/person/day", "Updated", "ID")
	for _, r := range records {
		t.Row(
			r.PeriodKey(),
			strconv.FormatFloat(r.AmountKg, 'f', 1, 64),
			strconv.Itoa(r.Population),
			strconv.FormatFloat(r.PerCapitaDaily(), 'f', 3, 64),
			r.UpdatedAt,
			r.ID,
		)
	}
	fmt.Fprintln(w, t.Render())
}

// RenderAudit prints audit log entries.
func RenderAudit(w io.Writer, entries []store.AuditEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, RenderMuted("No audit entries."))
		return
	}
	t := newTable("Time", "Action", "Actor", "Details")
	for _, e := range entries {
		t.Row(
			e.CreatedAt.Local().Format(timeLayout),
			e.Action,
			e.Actor,
			truncate(e.Details, 80),
		)
	}
	fmt.Fprintln(w, t.Render())
}

// RenderErrors prints a heading and a bullet per error.
func RenderErrors(w io.Writer, heading string, errs []string) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintln(w, RenderWarn(heading))
	for _, e := range errs {
		fmt.Fprintf(w, "  - %s\n", e)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
