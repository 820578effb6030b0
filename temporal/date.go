/*
Package temporal provides day-granularity time types for the pipeline.

PURPOSE:
  Every date in this system — employment start dates, plan coverage
  boundaries, claim service dates, high-water marks — is a calendar day.
  Date wraps time.Time normalized to midnight UTC so comparisons and
  day arithmetic are exact and free of timezone/DST surprises.

KEY CONCEPTS:
  - Date: a single calendar day
  - Span: an inclusive [Start, End] range of days

USAGE:
  d, err := temporal.ParseDate("2024-01-15")
  next := d.AddDays(1)
  span := temporal.Span{Start: d, End: next}

SEE ALSO:
  - coverage/stitcher.go: interval arithmetic over Spans
  - ingest/tracker.go: high-water mark comparisons
*/
package temporal

import (
	"fmt"
	"time"
)

// Date is a calendar day, normalized to midnight UTC.
type Date struct {
	t time.Time
}

// NewDate constructs a Date from year/month/day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// FromTime truncates a time.Time to its calendar day (UTC).
func FromTime(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// dateLayouts are the accepted input shapes, tried in order.
// ISO first; the raw feeds occasionally carry US-style dates.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// ParseDate parses a date string, trying each accepted layout.
func ParseDate(s string) (Date, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return FromTime(t), nil
		}
	}
	return Date{}, fmt.Errorf("unparseable date %q", s)
}

// Comparison
func (d Date) Before(other Date) bool        { return d.t.Before(other.t) }
func (d Date) After(other Date) bool         { return d.t.After(other.t) }
func (d Date) Equal(other Date) bool         { return d.t.Equal(other.t) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Arithmetic
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// Properties
func (d Date) IsZero() bool      { return d.t.IsZero() }
func (d Date) Time() time.Time   { return d.t }
func (d Date) Year() int         { return d.t.Year() }
func (d Date) Month() time.Month { return d.t.Month() }
func (d Date) Day() int          { return d.t.Day() }

func (d Date) String() string { return d.t.Format("2006-01-02") }

// Max returns the later of two dates.
func (d Date) Max(other Date) Date {
	if other.After(d) {
		return other
	}
	return d
}

// DaysBetween returns the signed number of days from one date to another.
// DaysBetween(d, d.AddDays(3)) == 3.
func DaysBetween(from, to Date) int {
	return int(to.t.Sub(from.t).Hours() / 24)
}

// Span is an inclusive range of calendar days [Start, End].
type Span struct {
	Start Date
	End   Date
}

// Contains reports whether the day falls within the span.
func (s Span) Contains(d Date) bool {
	return d.AfterOrEqual(s.Start) && d.BeforeOrEqual(s.End)
}

// Covers reports whether this span fully contains the other span.
func (s Span) Covers(other Span) bool {
	return s.Start.BeforeOrEqual(other.Start) && s.End.AfterOrEqual(other.End)
}

// Days returns the inclusive length of the span in days.
// A one-day span has length 1. Invalid spans (End before Start) report 0.
func (s Span) Days() int {
	if s.End.Before(s.Start) {
		return 0
	}
	return DaysBetween(s.Start, s.End) + 1
}

func (s Span) String() string {
	return "[" + s.Start.String() + ", " + s.End.String() + "]"
}
