package etl

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/warp/benefits-pipeline/claims"
	"github.com/warp/benefits-pipeline/coverage"
	"github.com/warp/benefits-pipeline/record"
	"github.com/warp/benefits-pipeline/roster"
)

// Report file names under the configured reports directory.
const (
	ValidationReport = "validation_errors.csv"
	GapReport        = "coverage_gaps.csv"
	SpikeReport      = "cost_spikes.csv"
	RosterReport     = "roster_mismatches.csv"
)

// writeReports rewrites all four report files. An empty result set
// still produces a file with just the header row, so stale findings
// from earlier runs never linger.
func writeReports(dir string, vErrs []record.ValidationError, gaps []coverage.Gap, spikes []claims.Spike, mismatches []roster.Mismatch) error {
	if err := writeCSV(filepath.Join(dir, ValidationReport),
		[]string{"row_id", "field", "error_reason"},
		len(vErrs), func(i int) []string {
			e := vErrs[i]
			return []string{strconv.Itoa(e.RowID), e.Field, e.Reason}
		}); err != nil {
		return err
	}

	if err := writeCSV(filepath.Join(dir, GapReport),
		[]string{"company_ein", "gap_start", "gap_end", "gap_length_days", "previous_carrier", "next_carrier"},
		len(gaps), func(i int) []string {
			g := gaps[i]
			return []string{
				g.CompanyEIN,
				g.Span.Start.String(),
				g.Span.End.String(),
				strconv.Itoa(g.LengthDays),
				g.PreviousCarrier,
				g.NextCarrier,
			}
		}); err != nil {
		return err
	}

	if err := writeCSV(filepath.Join(dir, SpikeReport),
		[]string{"company_ein", "window_start", "window_end", "prev_90d_cost", "current_90d_cost", "pct_change"},
		len(spikes), func(i int) []string {
			s := spikes[i]
			return []string{
				s.CompanyEIN,
				s.Window.Start.String(),
				s.Window.End.String(),
				s.PreviousCost.StringFixed(2),
				s.CurrentCost.StringFixed(2),
				s.PctChange.Round(4).String(),
			}
		}); err != nil {
		return err
	}

	return writeCSV(filepath.Join(dir, RosterReport),
		[]string{"company_ein", "expected_headcount", "observed_headcount", "pct_diff", "severity"},
		len(mismatches), func(i int) []string {
			m := mismatches[i]
			return []string{
				m.CompanyEIN,
				strconv.Itoa(m.Expected),
				strconv.Itoa(m.Observed),
				m.PctDiff.StringFixed(2),
				string(m.Severity),
			}
		})
}

// writeCSV writes header plus n rows produced by rowAt.
func writeCSV(path string, header []string, n int, rowAt func(int) []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return err
	}
	for i := 0; i < n; i++ {
		if err := w.Write(rowAt(i)); err != nil {
			f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
