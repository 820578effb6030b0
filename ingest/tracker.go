/*
Package ingest handles feed intake: reading the raw delimited feeds,
high-water-mark change detection, and per-row validation/cleaning.

PURPOSE:
  Repeated runs must only process rows that arrived since the last run.
  The tracker persists one high-water mark per feed kind and filters
  each batch down to rows whose date field is strictly newer. Validation
  records structural problems without ever rejecting a row.

KEY CONCEPTS:
  - Marks: one nullable Date per feed kind, persisted as JSON
  - FilterNew: splits a batch into fresh rows and unparseable-date rows
  - Cleaner: EIN inference, email/date validation, title fill, dedup

SEE ALSO:
  - etl/run.go: sequences tracker -> validator -> enrichment
  - store/sqlite: full-history import (independent of the marks)
*/
package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/warp/benefits-pipeline/temporal"
)

// Kind identifies a feed for high-water-mark tracking.
type Kind string

const (
	KindEmployees Kind = "employees"
	KindPlans     Kind = "plans"
	KindClaims    Kind = "claims"
)

// Marks holds the high-water mark per feed kind. A nil mark means the
// kind has never been processed; the first run takes every row.
type Marks struct {
	Employees *temporal.Date
	Plans     *temporal.Date
	Claims    *temporal.Date
}

// marksFile is the JSON wire shape. Dates serialize as "2006-01-02".
type marksFile struct {
	Employees *string `json:"employees"`
	Plans     *string `json:"plans"`
	Claims    *string `json:"claims"`
}

// Mark returns the mark for a kind.
func (m Marks) Mark(k Kind) *temporal.Date {
	switch k {
	case KindEmployees:
		return m.Employees
	case KindPlans:
		return m.Plans
	default:
		return m.Claims
	}
}

// SetMark replaces the mark for a kind.
func (m *Marks) SetMark(k Kind, d *temporal.Date) {
	switch k {
	case KindEmployees:
		m.Employees = d
	case KindPlans:
		m.Plans = d
	case KindClaims:
		m.Claims = d
	}
}

// Advance moves the mark for a kind up to the given date. A nil date or
// a date at-or-below the current mark leaves the mark unchanged, so
// marks are monotonically non-decreasing across runs.
func (m *Marks) Advance(k Kind, d *temporal.Date) {
	if d == nil {
		return
	}
	cur := m.Mark(k)
	if cur == nil || d.After(*cur) {
		m.SetMark(k, d)
	}
}

// LoadMarks reads the high-water-mark file. A missing file is the
// first-run case and yields empty marks.
func LoadMarks(path string) (Marks, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Marks{}, nil
		}
		return Marks{}, fmt.Errorf("failed to read high-water marks: %w", err)
	}

	var wire marksFile
	if err := json.Unmarshal(data, &wire); err != nil {
		return Marks{}, fmt.Errorf("failed to parse high-water marks: %w", err)
	}

	var m Marks
	for k, s := range map[Kind]*string{
		KindEmployees: wire.Employees,
		KindPlans:     wire.Plans,
		KindClaims:    wire.Claims,
	} {
		if s == nil {
			continue
		}
		d, err := temporal.ParseDate(*s)
		if err != nil {
			return Marks{}, fmt.Errorf("corrupt high-water mark for %s: %w", k, err)
		}
		m.SetMark(k, &d)
	}
	return m, nil
}

// Save writes the marks atomically: temp file in the same directory,
// then rename. A reader never observes a partially written file.
func (m Marks) Save(path string) error {
	wire := marksFile{}
	format := func(d *temporal.Date) *string {
		if d == nil {
			return nil
		}
		s := d.String()
		return &s
	}
	wire.Employees = format(m.Employees)
	wire.Plans = format(m.Plans)
	wire.Claims = format(m.Claims)

	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("failed to encode high-water marks: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".hwm-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp mark file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp mark file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp mark file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace mark file: %w", err)
	}
	return nil
}

// =============================================================================
// CHANGE DETECTION
// =============================================================================

// Batch is the result of filtering a feed against its mark.
// Fresh rows have a parseable date strictly after the mark.
// Unparsed rows have an unparseable date field; they are excluded from
// incremental processing but kept so validation can report them.
type Batch[T any] struct {
	Fresh    []T
	Unparsed []T
}

// Empty reports whether the batch holds no fresh rows.
func (b Batch[T]) Empty() bool { return len(b.Fresh) == 0 }

// FilterNew splits rows against the mark using the designated date
// field. With a nil mark every parseable row is fresh.
func FilterNew[T any](mark *temporal.Date, rows []T, dateOf func(T) string) Batch[T] {
	var b Batch[T]
	for _, row := range rows {
		d, err := temporal.ParseDate(dateOf(row))
		if err != nil {
			b.Unparsed = append(b.Unparsed, row)
			continue
		}
		if mark == nil || d.After(*mark) {
			b.Fresh = append(b.Fresh, row)
		}
	}
	return b
}

// MaxDate returns the latest parseable date among the rows, or nil if
// none parse. Used to advance the mark after a run.
func MaxDate[T any](rows []T, dateOf func(T) string) *temporal.Date {
	var max *temporal.Date
	for _, row := range rows {
		d, err := temporal.ParseDate(dateOf(row))
		if err != nil {
			continue
		}
		if max == nil || d.After(*max) {
			v := d
			max = &v
		}
	}
	return max
}
