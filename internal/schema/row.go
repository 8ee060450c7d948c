package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// SheetHeaders is row 0 of the remote spreadsheet.
var SheetHeaders = []string{
	"ID", "Year", "Month",
	"General (kg)", "Organic (kg)", "Recycle (kg)", "Hazardous (kg)", "Total (kg)",
	"Population", "Note", "Recorder", "Position",
	"Created At", "Updated At",
}

// minRowCells is the shortest row that still carries the core statistics.
const minRowCells = 8

// ToRow converts a record into a spreadsheet row in SheetHeaders order.
func (r *WasteRecord) ToRow() []any {
	var c Composition
	if r.Composition != nil {
		c = *r.Composition
	}

	created := ""
	if r.Timestamp > 0 {
		created = FormatTimestamp(time.UnixMilli(r.Timestamp))
	}

	return []any{
		r.ID,
		r.Year,
		r.Month,
		c.General,
		c.Organic,
		c.Recycle,
		c.Hazardous,
		r.AmountKg,
		r.Population,
		r.Note,
		r.RecorderName,
		r.RecorderPosition,
		created,
		r.UpdatedAt,
	}
}

// FromRow parses a spreadsheet row. Rows shorter than 8 cells, without an ID
// or failing Validate are rejected. An unparseable Updated At cell is cleared.
func FromRow(row []any) (*WasteRecord, error) {
	if len(row) < minRowCells {
		return nil, fmt.Errorf("row has %d cells, need at least %d", len(row), minRowCells)
	}

	id := cellString(row, 0)
	if id == "" {
		return nil, fmt.Errorf("row has no id")
	}

	r := &WasteRecord{
		ID:       id,
		Year:     cellInt(row, 1),
		Month:    cellInt(row, 2),
		AmountKg: cellFloat(row, 7),
	}
	if r.Month == 0 {
		r.Month = 1
	}

	c := Composition{
		General:   cellFloat(row, 3),
		Organic:   cellFloat(row, 4),
		Recycle:   cellFloat(row, 5),
		Hazardous: cellFloat(row, 6),
	}
	if c.Total() > 0 {
		r.Composition = &c
	}

	r.Population = cellInt(row, 8)
	r.Note = cellString(row, 9)
	r.RecorderName = cellString(row, 10)
	r.RecorderPosition = cellString(row, 11)
	if created, ok := ParseTimestamp(cellString(row, 12)); ok {
		r.Timestamp = created.UnixMilli()
	}
	r.UpdatedAt = cellString(row, 13)
	r.ClearInvalidUpdatedAt()

	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("row %s: %w", id, err)
	}
	return r, nil
}

// cellString returns the cell at i as a trimmed string, or "" when absent.
func cellString(row []any, i int) string {
	if i >= len(row) || row[i] == nil {
		return ""
	}
	switch v := row[i].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func cellFloat(row []any, i int) float64 {
	if i >= len(row) || row[i] == nil {
		return 0
	}
	switch v := row[i].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func cellInt(row []any, i int) int {
	return int(math.Trunc(cellFloat(row, i)))
}
