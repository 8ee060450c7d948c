// Package schema provides the data structures shared by the local record store,
// the remote spreadsheet store, and the sync core.
package schema

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Composition is the per-category breakdown of a month's waste, in kilograms.
type Composition struct {
	General   float64 `json:"general" yaml:"general" toml:"general"`
	Organic   float64 `json:"organic" yaml:"organic" toml:"organic"`
	Recycle   float64 `json:"recycle" yaml:"recycle" toml:"recycle"`
	Hazardous float64 `json:"hazardous" yaml:"hazardous" toml:"hazardous"`
}

// Total returns the sum of all categories.
func (c *Composition) Total() float64 {
	if c == nil {
		return 0
	}
	return c.General + c.Organic + c.Recycle + c.Hazardous
}

// WasteRecord is one month of waste statistics for the municipality.
//
// The sync layer keys records strictly by ID. UpdatedAt is an ISO-8601 string
// and is authoritative for last-write-wins merging; records written before the
// field existed carry an empty value, which sorts as the zero time.
type WasteRecord struct {
	// ===== Identity =====
	ID string `json:"id" yaml:"id" toml:"id"`

	// ===== Period =====
	Month int `json:"month" yaml:"month" toml:"month"` // 1-12
	Year  int `json:"year" yaml:"year" toml:"year"`    // Buddhist Era, e.g. 2567

	// ===== Payload =====
	AmountKg    float64      `json:"amountKg" yaml:"amount_kg" toml:"amount_kg"`
	Population  int          `json:"population" yaml:"population" toml:"population"`
	Composition *Composition `json:"composition,omitempty" yaml:"composition,omitempty" toml:"composition,omitempty"`
	Note        string       `json:"note,omitempty" yaml:"note,omitempty" toml:"note,omitempty"`

	RecorderName     string `json:"recorderName,omitempty" yaml:"recorder_name,omitempty" toml:"recorder_name,omitempty"`
	RecorderPosition string `json:"recorderPosition,omitempty" yaml:"recorder_position,omitempty" toml:"recorder_position,omitempty"`

	// ===== Timestamps =====
	Timestamp int64  `json:"timestamp,omitempty" yaml:"timestamp,omitempty" toml:"timestamp,omitempty"` // creation, unix ms
	UpdatedAt string `json:"updatedAt,omitempty" yaml:"updated_at,omitempty" toml:"updated_at,omitempty"`
}

// timeLayouts are tried in order when parsing UpdatedAt.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 timestamp in any of the accepted layouts.
// The second return value is false for empty or unparseable input.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTimestamp renders t the way UpdatedAt is stored.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// Updated returns the parsed UpdatedAt and whether it was present and valid.
func (r *WasteRecord) Updated() (time.Time, bool) {
	return ParseTimestamp(r.UpdatedAt)
}

// ClearInvalidUpdatedAt drops an UpdatedAt that does not parse. Merge treats
// both the same, as the zero time. It reports whether anything was cleared.
func (r *WasteRecord) ClearInvalidUpdatedAt() bool {
	if r.UpdatedAt == "" {
		return false
	}
	if _, ok := r.Updated(); ok {
		return false
	}
	r.UpdatedAt = ""
	return true
}

// Touch stamps UpdatedAt with now.
func (r *WasteRecord) Touch(now time.Time) {
	r.UpdatedAt = FormatTimestamp(now)
}

// SetDefaults fills in identity and timestamps for a freshly entered record.
func (r *WasteRecord) SetDefaults(now time.Time) {
	if r.ID == "" {
		r.ID = NewRecordID()
	}
	if r.Timestamp == 0 {
		r.Timestamp = now.UnixMilli()
	}
	if r.UpdatedAt == "" {
		r.Touch(now)
	}
	if r.Composition != nil && r.AmountKg == 0 {
		r.AmountKg = r.Composition.Total()
	}
}

// Validate checks if the record has valid field values.
func (r *WasteRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.Month < 1 || r.Month > 12 {
		return fmt.Errorf("month must be between 1 and 12 (got %d)", r.Month)
	}
	if r.Year <= 0 {
		return fmt.Errorf("year is required")
	}
	if r.AmountKg < 0 {
		return fmt.Errorf("amount must not be negative (got %.2f)", r.AmountKg)
	}
	if r.Population < 0 {
		return fmt.Errorf("population must not be negative (got %d)", r.Population)
	}
	if c := r.Composition; c != nil {
		if c.General < 0 || c.Organic < 0 || c.Recycle < 0 || c.Hazardous < 0 {
			return fmt.Errorf("composition values must not be negative")
		}
	}
	if r.UpdatedAt != "" {
		if _, ok := r.Updated(); !ok {
			return fmt.Errorf("updatedAt %q is not an ISO-8601 timestamp", r.UpdatedAt)
		}
	}
	return nil
}

// PerCapitaDaily returns kilograms per person per day, using a 30-day month.
func (r *WasteRecord) PerCapitaDaily() float64 {
	if r.Population <= 0 {
		return 0
	}
	return r.AmountKg / float64(r.Population) / 30
}

// PeriodKey identifies the record's month in the dashboard view.
func (r *WasteRecord) PeriodKey() string {
	return fmt.Sprintf("%04d-%02d", r.Year, r.Month)
}

// NewRecordID returns a fresh record identifier.
func NewRecordID() string {
	return uuid.NewString()
}

// Values copies a pointer slice into a value slice.
func Values(records []*WasteRecord) []WasteRecord {
	out := make([]WasteRecord, 0, len(records))
	for _, r := range records {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
