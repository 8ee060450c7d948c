package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Audit actions.
const (
	ActionAdd             = "ADD"
	ActionUpdate          = "UPDATE"
	ActionImport          = "IMPORT"
	ActionAutoSyncSuccess = "AUTO_SYNC_SUCCESS"
	ActionAutoSyncSkip    = "AUTO_SYNC_SKIP"
	ActionAutoSyncFail    = "AUTO_SYNC_FAIL"
	ActionAutoSyncRetry   = "AUTO_SYNC_RETRY"
	ActionFlush           = "FLUSH"
)

// auditTimeLayout is fixed-width so created_at sorts lexically.
const auditTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditFilter configures ListAudit.
type AuditFilter struct {
	// Since drops entries older than this (zero = no bound)
	Since time.Time
	// Action filters by action (empty = all actions)
	Action string
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// AppendAudit records an audit entry. ID and CreatedAt are filled in when empty.
func (db *DB) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.Action == "" {
		return fmt.Errorf("audit action is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if e.Actor == "" {
		e.Actor = "system"
	}

	query := `INSERT INTO audit_log (id, action, details, actor, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query,
		e.ID, e.Action, e.Details, e.Actor, e.CreatedAt.UTC().Format(auditTimeLayout))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAudit returns audit entries, newest first.
func (db *DB) ListAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	query := `SELECT id, action, details, actor, created_at FROM audit_log`
	var where []string
	var args []any

	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(auditTimeLayout))
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Action, &e.Details, &e.Actor, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if t, err := time.Parse(auditTimeLayout, createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}
