package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/srikhai/wastetrack/internal/remote"
	"github.com/srikhai/wastetrack/internal/schema"
	"github.com/srikhai/wastetrack/internal/store"
	wsync "github.com/srikhai/wastetrack/internal/sync"
)

func TestRenderStatus(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	openUntil := now.Add(5 * time.Minute)
	lastAt := now.Add(-time.Minute)

	tests := []struct {
		name string
		snap *wsync.Snapshot
		want []string
	}{
		{
			name: "idle",
			snap: &wsync.Snapshot{Status: wsync.SyncStatus{LastStatus: wsync.StatusIdle}},
			want: []string{"Last sync: idle", "Circuit: closed", "Pending: 0", "Lock: free"},
		},
		{
			name: "failing with open circuit",
			snap: &wsync.Snapshot{
				Status: wsync.SyncStatus{
					LastStatus:       wsync.StatusFail,
					LastMessage:      "2 records queued",
					LastAt:           &lastAt,
					FailureStreak:    3,
					CircuitOpenUntil: &openUntil,
				},
				Pending: 2,
				Lock:    &wsync.Lease{StartedAt: now.Add(-time.Hour)},
				Stuck:   true,
				Health:  &remote.Health{OK: false, Message: "dial tcp: connection refused"},
			},
			want: []string{
				IconFail + " fail", "2 records queued", "Failure streak: 3",
				"open until", "Pending: 2", "stuck", "unreachable", "connection refused",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			RenderStatus(&buf, tt.snap, now)
			out := buf.String()
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

func TestRenderTables(t *testing.T) {
	t.Run("pending", func(t *testing.T) {
		var buf bytes.Buffer
		RenderPending(&buf, []wsync.PendingItem{{
			Record:    schema.WasteRecord{ID: "r1", Month: 2, Year: 2567},
			Reason:    wsync.ReasonNetwork,
			StoredAt:  time.Now(),
			LastError: "timeout",
		}})
		for _, want := range []string{"r1", "2567-02", "network", "timeout", "1 pending"} {
			if !strings.Contains(buf.String(), want) {
				t.Errorf("output missing %q:\n%s", want, buf.String())
			}
		}
	})

	t.Run("records", func(t *testing.T) {
		var buf bytes.Buffer
		RenderRecords(&buf, []*schema.WasteRecord{{ID: "r1", Month: 1, Year: 2567, AmountKg: 120000, Population: 4000}})
		for _, want := range []string{"2567-01", "120000.0", "1.000"} {
			if !strings.Contains(buf.String(), want) {
				t.Errorf("output missing %q:\n%s", want, buf.String())
			}
		}
	})

	t.Run("audit", func(t *testing.T) {
		var buf bytes.Buffer
		RenderAudit(&buf, []store.AuditEntry{{Action: store.ActionFlush, Actor: "auto-sync", Details: "flushed 1/1 pending records", CreatedAt: time.Now()}})
		for _, want := range []string{"FLUSH", "auto-sync", "flushed 1/1"} {
			if !strings.Contains(buf.String(), want) {
				t.Errorf("output missing %q:\n%s", want, buf.String())
			}
		}
	})

	t.Run("empty", func(t *testing.T) {
		var buf bytes.Buffer
		RenderPending(&buf, nil)
		RenderRecords(&buf, nil)
		RenderAudit(&buf, nil)
		for _, want := range []string{"No pending records.", "No records.", "No audit entries."} {
			if !strings.Contains(buf.String(), want) {
				t.Errorf("output missing %q:\n%s", want, buf.String())
			}
		}
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"line one\nline two", 40, "line one line two"},
		{"abcdefghij", 8, "abcde..."},
		{"มกราคมกุมภาพันธ์", 8, "มกราค..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
