/*
Package roster compares observed employee counts against the expected
headcount per employer and buckets the deviation by severity.

Expected counts are configuration input; observed counts come from the
full employee relation. Employers with no observed rows still get a
report row (observed = 0).
*/
package roster

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Severity buckets a headcount deviation.
type Severity string

const (
	SeverityLow      Severity = "Low"      // < 20%
	SeverityMedium   Severity = "Medium"   // 20% - 49%
	SeverityHigh     Severity = "High"     // 50% - 99%
	SeverityCritical Severity = "Critical" // >= 100%
)

// Mismatch is one employer's roster deviation.
type Mismatch struct {
	CompanyEIN string
	Expected   int
	Observed   int
	PctDiff    decimal.Decimal // |observed-expected| * 100 / expected, 2 decimals
	Severity   Severity
}

var hundred = decimal.NewFromInt(100)

// Evaluate produces one row per expected employer, ordered by EIN.
// Employers observed in the data but absent from the expected map are
// not reported; without an expectation there is nothing to deviate from.
func Evaluate(expected map[string]int, observed map[string]int) []Mismatch {
	eins := make([]string, 0, len(expected))
	for ein := range expected {
		eins = append(eins, ein)
	}
	sort.Strings(eins)

	out := make([]Mismatch, 0, len(eins))
	for _, ein := range eins {
		exp := expected[ein]
		if exp <= 0 {
			continue
		}
		obs := observed[ein]

		diff := decimal.NewFromInt(int64(obs - exp)).Abs()
		pct := diff.Mul(hundred).Div(decimal.NewFromInt(int64(exp))).Round(2)

		out = append(out, Mismatch{
			CompanyEIN: ein,
			Expected:   exp,
			Observed:   obs,
			PctDiff:    pct,
			Severity:   severityFor(pct),
		})
	}
	return out
}

func severityFor(pct decimal.Decimal) Severity {
	switch {
	case pct.LessThan(decimal.NewFromInt(20)):
		return SeverityLow
	case pct.LessThan(decimal.NewFromInt(50)):
		return SeverityMedium
	case pct.LessThan(hundred):
		return SeverityHigh
	default:
		return SeverityCritical
	}
}
