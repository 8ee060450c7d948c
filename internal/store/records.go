package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/srikhai/wastetrack/internal/schema"
)

// ErrRecordNotFound is returned when a record lookup matches nothing.
var ErrRecordNotFound = errors.New("record not found")

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const upsertRecordSQL = `
	INSERT INTO records (
		id, year, month, amount_kg, population, composition, note,
		recorder_name, recorder_position, created_ms, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		year = excluded.year,
		month = excluded.month,
		amount_kg = excluded.amount_kg,
		population = excluded.population,
		composition = excluded.composition,
		note = excluded.note,
		recorder_name = excluded.recorder_name,
		recorder_position = excluded.recorder_position,
		created_ms = excluded.created_ms,
		updated_at = excluded.updated_at
	`

const selectRecordSQL = `
	SELECT id, year, month, amount_kg, population, composition, note,
	       recorder_name, recorder_position, created_ms, updated_at
	FROM records
	`

// UpsertRecord inserts or updates a record keyed by ID.
func (db *DB) UpsertRecord(ctx context.Context, r *schema.WasteRecord) error {
	return upsertRecord(ctx, db.conn, r)
}

func upsertRecord(ctx context.Context, ex execer, r *schema.WasteRecord) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}

	var composition sql.NullString
	if r.Composition != nil {
		data, err := json.Marshal(r.Composition)
		if err != nil {
			return fmt.Errorf("failed to marshal composition: %w", err)
		}
		composition = sql.NullString{String: string(data), Valid: true}
	}

	_, err := ex.ExecContext(ctx, upsertRecordSQL,
		r.ID,
		r.Year,
		r.Month,
		r.AmountKg,
		r.Population,
		composition,
		r.Note,
		r.RecorderName,
		r.RecorderPosition,
		r.Timestamp,
		r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", r.ID, err)
	}
	return nil
}

// AddRecord stores a freshly entered record. When a record for the same
// (month, year) already exists it is updated in place: the existing ID and
// creation time are kept and UpdatedAt is stamped with now. The boolean
// reports whether an existing record was updated.
func (db *DB) AddRecord(ctx context.Context, r *schema.WasteRecord, now time.Time) (*schema.WasteRecord, bool, error) {
	existing, err := db.FindByPeriod(ctx, r.Month, r.Year)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, false, err
	}

	rec := *r
	updated := existing != nil
	if updated {
		rec.ID = existing.ID
		rec.Timestamp = existing.Timestamp
	}
	rec.UpdatedAt = ""
	rec.SetDefaults(now)

	if err := db.UpsertRecord(ctx, &rec); err != nil {
		return nil, false, err
	}
	return &rec, updated, nil
}

// GetRecord retrieves a record by ID.
func (db *DB) GetRecord(ctx context.Context, id string) (*schema.WasteRecord, error) {
	rows, err := db.conn.QueryContext(ctx, selectRecordSQL+` WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query record %s: %w", id, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	return records[0], nil
}

// FindByPeriod retrieves the record for a month and year.
func (db *DB) FindByPeriod(ctx context.Context, month, year int) (*schema.WasteRecord, error) {
	rows, err := db.conn.QueryContext(ctx, selectRecordSQL+` WHERE month = ? AND year = ? LIMIT 1`, month, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query period %d/%d: %w", month, year, err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %d/%d", ErrRecordNotFound, month, year)
	}
	return records[0], nil
}

// ListRecords returns all records ordered by year, then month.
func (db *DB) ListRecords(ctx context.Context) ([]*schema.WasteRecord, error) {
	rows, err := db.conn.QueryContext(ctx, selectRecordSQL+` ORDER BY year ASC, month ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return scanRecords(rows)
}

// ReplaceRecords writes a merged record set in one transaction. Records not
// present in the set are left untouched.
func (db *DB) ReplaceRecords(ctx context.Context, records []schema.WasteRecord) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range records {
		if err := upsertRecord(ctx, tx, &records[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	return nil
}

// CountRecords returns the number of stored records.
func (db *DB) CountRecords(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return count, nil
}

func scanRecords(rows *sql.Rows) ([]*schema.WasteRecord, error) {
	defer rows.Close()

	var records []*schema.WasteRecord
	for rows.Next() {
		var r schema.WasteRecord
		var composition sql.NullString

		err := rows.Scan(
			&r.ID,
			&r.Year,
			&r.Month,
			&r.AmountKg,
			&r.Population,
			&composition,
			&r.Note,
			&r.RecorderName,
			&r.RecorderPosition,
			&r.Timestamp,
			&r.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		if composition.Valid && composition.String != "" {
			var c schema.Composition
			if err := json.Unmarshal([]byte(composition.String), &c); err != nil {
				return nil, fmt.Errorf("failed to unmarshal composition for %s: %w", r.ID, err)
			}
			r.Composition = &c
		}

		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}
