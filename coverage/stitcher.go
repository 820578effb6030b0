/*
Package coverage reconstructs continuous carrier-coverage periods from
raw benefit-plan records and reports the gaps between them.

PURPOSE:
  Plan feeds carry overlapping, duplicated, and merely adjacent date
  ranges for the same (employer, plan type). The stitcher reduces them
  to the minimal ordered set of non-overlapping, carrier-labeled
  coverage intervals, then flags uncovered spans longer than a
  configured minimum.

ALGORITHM (per employer and plan type):
  1. Boundary events: each plan contributes its start date and the day
     after its end date.
  2. The distinct sorted boundaries cut the timeline into atomic
     segments [b_i, b_{i+1}-1]; the trailing open segment is dropped.
  3. Each segment takes the carrier of a plan fully covering it.
     When several plans of different carriers cover the same segment,
     the plan with the latest start date wins (the most recent filing
     is treated as authoritative).
  4. Adjacent segments merge while the carrier is unchanged and the
     next segment starts exactly one day after the previous ends.
  5. A gap is the span strictly between two consecutive intervals,
     emitted only when its inclusive day count exceeds MinGapDays.

INVARIANTS:
  - Output intervals per (employer, plan type) are pairwise
    non-overlapping and ordered by start date.
  - Stitching is idempotent: feeding the output back in as plan
    records reproduces the same intervals.

SEE ALSO:
  - store/sqlite: supplies the full plan history
  - etl/reports.go: writes the gap report
*/
package coverage

import (
	"sort"

	"github.com/warp/benefits-pipeline/record"
	"github.com/warp/benefits-pipeline/temporal"
)

// Interval is a maximal contiguous run of days during which one
// employer/plan-type is continuously covered by one carrier.
type Interval struct {
	CompanyEIN string
	PlanType   string
	Carrier    string
	Span       temporal.Span
}

// Gap is an uncovered span strictly between two coverage intervals.
type Gap struct {
	CompanyEIN      string
	PlanType        string
	Span            temporal.Span
	LengthDays      int
	PreviousCarrier string
	NextCarrier     string
}

// DefaultMinGapDays suppresses gaps of a week or less.
const DefaultMinGapDays = 7

// Stitcher computes coverage intervals and gaps.
type Stitcher struct {
	// MinGapDays is the emission threshold: a gap is reported only
	// when its inclusive length in days is strictly greater.
	MinGapDays int
}

// NewStitcher returns a Stitcher with the default gap threshold.
func NewStitcher() Stitcher { return Stitcher{MinGapDays: DefaultMinGapDays} }

type groupKey struct {
	ein      string
	planType string
}

// Stitch reduces plan records to the minimal ordered interval set.
// Output is sorted by (employer, plan type, start date).
func (s Stitcher) Stitch(plans []record.Plan) []Interval {
	groups := make(map[groupKey][]record.Plan)
	for _, p := range plans {
		if p.Coverage.End.Before(p.Coverage.Start) {
			continue // inverted range carries no coverage
		}
		k := groupKey{ein: p.CompanyEIN, planType: p.PlanType}
		groups[k] = append(groups[k], p)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ein != keys[j].ein {
			return keys[i].ein < keys[j].ein
		}
		return keys[i].planType < keys[j].planType
	})

	var out []Interval
	for _, k := range keys {
		out = append(out, stitchGroup(k, groups[k])...)
	}
	return out
}

// stitchGroup runs the segment algorithm for one (employer, plan type).
func stitchGroup(k groupKey, plans []record.Plan) []Interval {
	// 1. Distinct sorted boundaries: starts and day-after-ends.
	boundarySet := make(map[temporal.Date]bool, 2*len(plans))
	for _, p := range plans {
		boundarySet[p.Coverage.Start] = true
		boundarySet[p.Coverage.End.AddDays(1)] = true
	}
	boundaries := make([]temporal.Date, 0, len(boundarySet))
	for d := range boundarySet {
		boundaries = append(boundaries, d)
	}
	sort.Slice(boundaries, func(i, j int) bool { return boundaries[i].Before(boundaries[j]) })

	// 2+3. Atomic segments between consecutive boundaries, labeled by
	// the covering plan. Segments no plan covers are uncovered days and
	// produce nothing.
	type segment struct {
		span    temporal.Span
		carrier string
	}
	var segments []segment
	for i := 0; i+1 < len(boundaries); i++ {
		span := temporal.Span{Start: boundaries[i], End: boundaries[i+1].AddDays(-1)}
		carrier, covered := labelSegment(plans, span)
		if !covered {
			continue
		}
		segments = append(segments, segment{span: span, carrier: carrier})
	}

	// 4. Merge adjacent same-carrier segments with no calendar break.
	var out []Interval
	for _, seg := range segments {
		if n := len(out); n > 0 {
			prev := &out[n-1]
			if prev.Carrier == seg.carrier && seg.span.Start.Equal(prev.Span.End.AddDays(1)) {
				prev.Span.End = seg.span.End
				continue
			}
		}
		out = append(out, Interval{
			CompanyEIN: k.ein,
			PlanType:   k.planType,
			Carrier:    seg.carrier,
			Span:       seg.span,
		})
	}
	return out
}

// labelSegment picks the carrier for an atomic segment. Among plans
// fully covering the segment, the latest start date wins; carrier name
// breaks exact start-date ties deterministically.
func labelSegment(plans []record.Plan, span temporal.Span) (string, bool) {
	var best *record.Plan
	for i := range plans {
		p := &plans[i]
		if !p.Coverage.Covers(span) {
			continue
		}
		if best == nil ||
			p.Coverage.Start.After(best.Coverage.Start) ||
			(p.Coverage.Start.Equal(best.Coverage.Start) && p.Carrier > best.Carrier) {
			best = p
		}
	}
	if best == nil {
		return "", false
	}
	return best.Carrier, true
}

// Gaps walks consecutive intervals per (employer, plan type) and emits
// every uncovered span longer than MinGapDays. Input is expected in
// Stitch output order.
func (s Stitcher) Gaps(intervals []Interval) []Gap {
	minDays := s.MinGapDays
	if minDays <= 0 {
		minDays = DefaultMinGapDays
	}

	var out []Gap
	for i := 0; i+1 < len(intervals); i++ {
		cur, next := intervals[i], intervals[i+1]
		if cur.CompanyEIN != next.CompanyEIN || cur.PlanType != next.PlanType {
			continue
		}

		span := temporal.Span{
			Start: cur.Span.End.AddDays(1),
			End:   next.Span.Start.AddDays(-1),
		}
		length := span.Days()
		if length <= minDays {
			continue
		}
		out = append(out, Gap{
			CompanyEIN:      cur.CompanyEIN,
			PlanType:        cur.PlanType,
			Span:            span,
			LengthDays:      length,
			PreviousCarrier: cur.Carrier,
			NextCarrier:     next.Carrier,
		})
	}
	return out
}

// Analyze is the full pass: stitch, then report gaps.
func (s Stitcher) Analyze(plans []record.Plan) ([]Interval, []Gap) {
	intervals := s.Stitch(plans)
	return intervals, s.Gaps(intervals)
}
