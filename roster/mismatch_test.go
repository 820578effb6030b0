package roster_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/benefits-pipeline/roster"
)

func TestEvaluate_ZeroObservedIsCritical(t *testing.T) {
	// GIVEN: 60 expected, nobody observed
	got := roster.Evaluate(map[string]int{"11-1111111": 60}, map[string]int{})

	// THEN: 100% off, critical
	require.Len(t, got, 1)
	m := got[0]
	assert.Equal(t, 60, m.Expected)
	assert.Equal(t, 0, m.Observed)
	assert.True(t, m.PctDiff.Equal(decimal.NewFromInt(100)), "pct=%s", m.PctDiff)
	assert.Equal(t, roster.SeverityCritical, m.Severity)
}

func TestEvaluate_SeverityBuckets(t *testing.T) {
	cases := []struct {
		name     string
		expected int
		observed int
		pct      string
		severity roster.Severity
	}{
		{"exact match", 100, 100, "0", roster.SeverityLow},
		{"just under low cap", 100, 81, "19", roster.SeverityLow},
		{"low boundary", 100, 80, "20", roster.SeverityMedium},
		{"medium", 100, 55, "45", roster.SeverityMedium},
		{"medium boundary", 100, 50, "50", roster.SeverityHigh},
		{"high", 100, 25, "75", roster.SeverityHigh},
		{"critical boundary", 100, 0, "100", roster.SeverityCritical},
		{"over-rostered critical", 100, 230, "130", roster.SeverityCritical},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := roster.Evaluate(
				map[string]int{"x": tc.expected},
				map[string]int{"x": tc.observed},
			)
			require.Len(t, got, 1)
			assert.True(t, got[0].PctDiff.Equal(decimal.RequireFromString(tc.pct)),
				"pct got %s want %s", got[0].PctDiff, tc.pct)
			assert.Equal(t, tc.severity, got[0].Severity)
		})
	}
}

func TestEvaluate_PctRoundedToTwoDecimals(t *testing.T) {
	// |40-45| * 100 / 45 = 11.111... -> 11.11
	got := roster.Evaluate(map[string]int{"x": 45}, map[string]int{"x": 40})

	require.Len(t, got, 1)
	assert.Equal(t, "11.11", got[0].PctDiff.StringFixed(2))
}

func TestEvaluate_OrderedByEIN(t *testing.T) {
	got := roster.Evaluate(
		map[string]int{"33-3333333": 40, "11-1111111": 60, "22-2222222": 45},
		map[string]int{"11-1111111": 58, "22-2222222": 45, "33-3333333": 12},
	)

	require.Len(t, got, 3)
	assert.Equal(t, "11-1111111", got[0].CompanyEIN)
	assert.Equal(t, "22-2222222", got[1].CompanyEIN)
	assert.Equal(t, "33-3333333", got[2].CompanyEIN)
}

func TestEvaluate_UnexpectedEmployersNotReported(t *testing.T) {
	got := roster.Evaluate(
		map[string]int{"11-1111111": 60},
		map[string]int{"11-1111111": 60, "99-9999999": 12},
	)

	require.Len(t, got, 1)
	assert.Equal(t, "11-1111111", got[0].CompanyEIN)
}
