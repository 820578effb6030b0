/*
Package claims flags employers whose recent claims cost grew abnormally.

PURPOSE:
  For every day an employer has claims, compare the trailing 90-day
  cost (that day plus the preceding 89) against the 90 days immediately
  before it. Growth beyond the threshold becomes a spike record.

DETECTION CONTRACT:
  - Windows anchor only on days that have at least one claim.
  - Percent change = (current - previous) / previous, defined only
    when the previous window sum is positive; anchors with an empty or
    zero previous window are excluded, not reported as zero.
  - No smoothing or outlier rejection: one large claim can trigger.
  - Output is ordered by employer, then window end date.

All sums are decimal; claim amounts never touch float64.

SEE ALSO:
  - store/sqlite: supplies the full claim history
  - etl/reports.go: writes the spike report
*/
package claims

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/benefits-pipeline/record"
	"github.com/warp/benefits-pipeline/temporal"
)

// Spike is one abnormal-growth observation for an employer.
type Spike struct {
	CompanyEIN   string
	Window       temporal.Span // the current 90-day window
	PreviousCost decimal.Decimal
	CurrentCost  decimal.Decimal
	PctChange    decimal.Decimal
}

// DefaultWindowDays is the trailing window width used for cost comparison.
const DefaultWindowDays = 90

// DefaultThreshold is the pct-change emission bound (2.0 = 200% growth).
var DefaultThreshold = decimal.NewFromInt(2)

// Detector computes rolling-window cost comparisons.
type Detector struct {
	WindowDays int
	Threshold  decimal.Decimal
}

// NewDetector returns a Detector with the default window and threshold.
func NewDetector() Detector {
	return Detector{WindowDays: DefaultWindowDays, Threshold: DefaultThreshold}
}

// dailySeries is one employer's claim days in ascending order with a
// running prefix of daily totals, so any window sum is two lookups.
type dailySeries struct {
	days   []temporal.Date
	prefix []decimal.Decimal // prefix[i] = sum of totals for days[0..i-1]
}

func newDailySeries(totals map[temporal.Date]decimal.Decimal) dailySeries {
	days := make([]temporal.Date, 0, len(totals))
	for d := range totals {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	prefix := make([]decimal.Decimal, len(days)+1)
	prefix[0] = decimal.Zero
	for i, d := range days {
		prefix[i+1] = prefix[i].Add(totals[d])
	}
	return dailySeries{days: days, prefix: prefix}
}

// sumWithin returns the total cost over the inclusive span.
func (s dailySeries) sumWithin(span temporal.Span) decimal.Decimal {
	lo := sort.Search(len(s.days), func(i int) bool { return s.days[i].AfterOrEqual(span.Start) })
	hi := sort.Search(len(s.days), func(i int) bool { return s.days[i].After(span.End) })
	return s.prefix[hi].Sub(s.prefix[lo])
}

// Detect runs spike detection over the full claim history.
func (d Detector) Detect(claims []record.Claim) []Spike {
	window := d.WindowDays
	if window <= 0 {
		window = DefaultWindowDays
	}
	threshold := d.Threshold
	if threshold.IsZero() {
		threshold = DefaultThreshold
	}

	// Daily per-employer totals.
	byCompany := make(map[string]map[temporal.Date]decimal.Decimal)
	for _, c := range claims {
		totals, ok := byCompany[c.CompanyEIN]
		if !ok {
			totals = make(map[temporal.Date]decimal.Decimal)
			byCompany[c.CompanyEIN] = totals
		}
		totals[c.ServiceDate] = totals[c.ServiceDate].Add(c.Amount)
	}

	eins := make([]string, 0, len(byCompany))
	for ein := range byCompany {
		eins = append(eins, ein)
	}
	sort.Strings(eins)

	var out []Spike
	for _, ein := range eins {
		series := newDailySeries(byCompany[ein])

		for _, anchor := range series.days {
			current := temporal.Span{Start: anchor.AddDays(-(window - 1)), End: anchor}
			previous := temporal.Span{
				Start: anchor.AddDays(-(2*window - 1)),
				End:   anchor.AddDays(-window),
			}

			prevCost := series.sumWithin(previous)
			if !prevCost.IsPositive() {
				continue // pct change undefined without a prior baseline
			}
			curCost := series.sumWithin(current)

			pct := curCost.Sub(prevCost).Div(prevCost)
			if !pct.GreaterThan(threshold) {
				continue
			}
			out = append(out, Spike{
				CompanyEIN:   ein,
				Window:       current,
				PreviousCost: prevCost,
				CurrentCost:  curCost,
				PctChange:    pct,
			})
		}
	}
	return out
}
