package etl

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/warp/benefits-pipeline/config"
	"github.com/warp/benefits-pipeline/enrich"
	"github.com/warp/benefits-pipeline/ingest"
	"github.com/warp/benefits-pipeline/record"
	"github.com/warp/benefits-pipeline/snapshot"
	"github.com/warp/benefits-pipeline/temporal"
)

func strPtr(s string) *string { return &s }
func i64Ptr(n int64) *int64   { return &n }

func writeFixture(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// fixtureConfig lays down a complete set of feeds and lookups under a
// temp dir and returns a config pointing at them.
func fixtureConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	writeFixture(t, filepath.Join(dir, "employees.csv"),
		"full_name,email,company_ein,title,start_date\n"+
			"Alice Lee,alice@acme.com,12-3456789,Engineer,2023-01-05\n"+
			"Bob Tan,bob@acme.com,,Analyst,2023-01-06\n"+
			"Carol Wu,not-an-email,12-3456789,Analyst,2023-01-07\n"+
			"Dan Ito,dan@acme.com,12-3456789,Manager,soon\n")

	writeFixture(t, filepath.Join(dir, "plans.csv"),
		"company_ein,plan_type,carrier_name,start_date,end_date\n"+
			"12-3456789,Medical,Aetna,2023-01-01,2023-01-31\n"+
			"12-3456789,Medical,BlueCross,2023-03-01,2023-03-31\n")

	writeFixture(t, filepath.Join(dir, "claims.csv"),
		"company_ein,service_date,amount\n"+
			"12-3456789,2023-02-15,100.00\n"+
			"12-3456789,2023-02-15,250.50\n")

	writeFixture(t, filepath.Join(dir, "company_lookup.json"),
		`{"acme.com": "12-3456789"}`)

	cfg := config.Default()
	cfg.Feeds.Employees = filepath.Join(dir, "employees.csv")
	cfg.Feeds.Plans = filepath.Join(dir, "plans.csv")
	cfg.Feeds.Claims = filepath.Join(dir, "claims.csv")
	cfg.Lookups.CompanyDomains = filepath.Join(dir, "company_lookup.json")
	cfg.State.Dir = filepath.Join(dir, "state")
	cfg.State.Database = filepath.Join(dir, "state", "benefits.db")
	cfg.Reports.Dir = filepath.Join(dir, "reports")
	cfg.Roster.Expected = map[string]int{"12-3456789": 10}
	return cfg
}

func testRunner(t *testing.T, cfg *config.Config) *Runner {
	t.Helper()
	upstream := &enrich.CannedUpstream{
		Payload: record.CompanyProfile{
			Industry:  strPtr("Software"),
			Revenue:   i64Ptr(5_000_000),
			Headcount: i64Ptr(42),
		},
	}
	noSleep := func(context.Context, time.Duration) error { return nil }
	return NewRunner(cfg, zerolog.Nop(), WithUpstream(upstream), WithSleeper(noSleep))
}

func loadSnapshot(cfg *config.Config) ([]record.Employee, error) {
	return snapshot.New(cfg.SnapshotPath()).Load(context.Background())
}

func readReport(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRun_FirstRunCompletes(t *testing.T) {
	// GIVEN a fresh working directory and feeds with a coverage gap,
	// two validation problems, and a short roster
	cfg := fixtureConfig(t)
	runner := testRunner(t, cfg)

	// WHEN the pipeline runs
	out, err := runner.Run(context.Background())

	// THEN the run completes with findings in every report
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, out.Status)
	require.Equal(t, 4, out.EmployeesCleaned)
	require.Equal(t, 2, out.ValidationErrors) // bad email + bad date
	require.Equal(t, 3, out.SnapshotRows)     // the unparsed-date row stays out
	require.Equal(t, 1, out.Gaps)             // February is uncovered
	require.Equal(t, 0, out.Spikes)           // no previous window with cost
	require.Equal(t, 1, out.RosterRows)

	// AND the validation ledger names the offending rows
	vRows := readReport(t, filepath.Join(cfg.Reports.Dir, ValidationReport))
	require.Len(t, vRows, 3) // header + 2
	require.Equal(t, []string{"row_id", "field", "error_reason"}, vRows[0])
	require.Equal(t, []string{"2", "email", record.ReasonInvalidEmail}, vRows[1])
	require.Equal(t, []string{"3", "start_date", record.ReasonInvalidDate}, vRows[2])

	// AND the gap report shows February between the two carriers
	gRows := readReport(t, filepath.Join(cfg.Reports.Dir, GapReport))
	require.Len(t, gRows, 2)
	require.Equal(t, []string{"12-3456789", "2023-02-01", "2023-02-28", "28", "Aetna", "BlueCross"}, gRows[1])

	// AND the roster report grades the shortfall; the row whose EIN was
	// only inferred during cleaning does not count toward the raw roster
	rRows := readReport(t, filepath.Join(cfg.Reports.Dir, RosterReport))
	require.Len(t, rRows, 2)
	require.Equal(t, []string{"12-3456789", "10", "3", "70.00", "High"}, rRows[1])
}

func TestRun_AdvancesHighWaterMarks(t *testing.T) {
	// GIVEN a completed first run
	cfg := fixtureConfig(t)
	runner := testRunner(t, cfg)
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	// WHEN the saved marks are reloaded
	marks, err := ingest.LoadMarks(cfg.MarksPath())
	require.NoError(t, err)

	// THEN each kind carries the latest processed date
	wantEmp, _ := temporal.ParseDate("2023-01-07")
	wantPlan, _ := temporal.ParseDate("2023-03-01")
	wantClaim, _ := temporal.ParseDate("2023-02-15")
	require.NotNil(t, marks.Mark(ingest.KindEmployees))
	require.True(t, marks.Mark(ingest.KindEmployees).Equal(wantEmp))
	require.True(t, marks.Mark(ingest.KindPlans).Equal(wantPlan))
	require.True(t, marks.Mark(ingest.KindClaims).Equal(wantClaim))
}

func TestRun_UnchangedFeedsSkip(t *testing.T) {
	// GIVEN a completed first run
	cfg := fixtureConfig(t)
	runner := testRunner(t, cfg)
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	// AND the report files removed afterwards
	require.NoError(t, os.RemoveAll(cfg.Reports.Dir))

	// WHEN the pipeline runs again over the same feeds
	out, err := runner.Run(context.Background())

	// THEN the run is skipped and no reports are rewritten
	require.NoError(t, err)
	require.Equal(t, StatusSkipped, out.Status)
	_, statErr := os.Stat(filepath.Join(cfg.Reports.Dir, ValidationReport))
	require.True(t, os.IsNotExist(statErr))
}

func TestRun_NewRowsTriggerProcessing(t *testing.T) {
	// GIVEN a completed first run
	cfg := fixtureConfig(t)
	runner := testRunner(t, cfg)
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	// WHEN a claim newer than the mark lands in the feed
	f, err := os.OpenFile(cfg.Feeds.Claims, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("12-3456789,2023-04-01,75.25\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out, err := runner.Run(context.Background())

	// THEN the run completes and the claims mark advances
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, out.Status)
	marks, err := ingest.LoadMarks(cfg.MarksPath())
	require.NoError(t, err)
	want, _ := temporal.ParseDate("2023-04-01")
	require.True(t, marks.Mark(ingest.KindClaims).Equal(want))
}

func TestRun_SnapshotAccumulatesAcrossRuns(t *testing.T) {
	// GIVEN a completed first run with three snapshot rows
	cfg := fixtureConfig(t)
	runner := testRunner(t, cfg)
	first, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, first.SnapshotRows)

	// WHEN a new employee appears in the feed
	f, err := os.OpenFile(cfg.Feeds.Employees, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("Eve Park,eve@acme.com,12-3456789,Director,2023-02-01\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out, err := runner.Run(context.Background())

	// THEN the snapshot holds old and new rows, deduplicated
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, out.Status)
	require.Equal(t, 4, out.SnapshotRows)
}

func TestRun_BadClaimAmountFailsRun(t *testing.T) {
	// GIVEN a claims feed with a non-numeric amount
	cfg := fixtureConfig(t)
	writeFixture(t, cfg.Feeds.Claims,
		"company_ein,service_date,amount\n"+
			"12-3456789,2023-02-15,not-money\n")
	runner := testRunner(t, cfg)

	// WHEN the pipeline runs
	out, err := runner.Run(context.Background())

	// THEN the run fails before any report is written
	require.Error(t, err)
	require.Equal(t, StatusFailed, out.Status)
	_, statErr := os.Stat(filepath.Join(cfg.Reports.Dir, ValidationReport))
	require.True(t, os.IsNotExist(statErr))
}

func TestRun_EnrichmentAttachesProfile(t *testing.T) {
	// GIVEN a deterministic upstream profile
	cfg := fixtureConfig(t)
	upstream := &enrich.CannedUpstream{
		Payload: record.CompanyProfile{
			Industry:  strPtr("Software"),
			Revenue:   i64Ptr(5_000_000),
			Headcount: i64Ptr(42),
		},
	}
	noSleep := func(context.Context, time.Duration) error { return nil }
	runner := NewRunner(cfg, zerolog.Nop(), WithUpstream(upstream), WithSleeper(noSleep))

	// WHEN the pipeline runs
	_, err := runner.Run(context.Background())
	require.NoError(t, err)

	// THEN one upstream call served every row of the employer, and the
	// snapshot rows carry the profile
	require.Equal(t, 1, upstream.Calls)
	rows, err := loadSnapshot(cfg)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, r := range rows {
		require.NotNil(t, r.Industry)
		require.Equal(t, "Software", *r.Industry)
		require.Equal(t, int64(42), *r.Headcount)
	}
}
