/*
Package etl sequences one pipeline run.

PURPOSE:
  Wires the pipeline end to end: read feeds, filter against the
  high-water marks, validate/clean, enrich, merge the snapshot, run the
  full-history analytics, write reports, advance the marks.

RUN OUTCOMES:
  - Skipped:   no feed had rows newer than its mark. Nothing is
               written, marks are untouched. Not an error.
  - Completed: all reports written, marks advanced.
  - Failed:    a load or IO step failed; per-feed database imports
               roll back, and the marks are not advanced.

Per-row problems (bad emails, bad dates) never fail a run; they land
in the validation ledger. Only batch/IO problems abort.

SEE ALSO:
  - cmd/pipeline: CLI entry point
  - config: run configuration
*/
package etl

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/benefits-pipeline/claims"
	"github.com/warp/benefits-pipeline/config"
	"github.com/warp/benefits-pipeline/coverage"
	"github.com/warp/benefits-pipeline/enrich"
	"github.com/warp/benefits-pipeline/ingest"
	"github.com/warp/benefits-pipeline/record"
	"github.com/warp/benefits-pipeline/roster"
	"github.com/warp/benefits-pipeline/snapshot"
	"github.com/warp/benefits-pipeline/store/sqlite"
	"github.com/warp/benefits-pipeline/temporal"
)

// Status is the run outcome kind.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome summarizes one run for the operator.
type Outcome struct {
	Status           Status
	EmployeesCleaned int
	ValidationErrors int
	SnapshotRows     int
	Gaps             int
	Spikes           int
	RosterRows       int
}

// Runner executes pipeline runs. Construct with NewRunner; the
// upstream and sleeper are injectable so tests run deterministic,
// sleep-free enrichment.
type Runner struct {
	cfg      *config.Config
	log      zerolog.Logger
	upstream enrich.Upstream
	sleeper  enrich.Sleeper
}

// RunnerOption tweaks Runner construction.
type RunnerOption func(*Runner)

// WithUpstream replaces the enrichment upstream.
func WithUpstream(u enrich.Upstream) RunnerOption { return func(r *Runner) { r.upstream = u } }

// WithSleeper replaces the enrichment backoff wait.
func WithSleeper(s enrich.Sleeper) RunnerOption { return func(r *Runner) { r.sleeper = s } }

// NewRunner builds a Runner. Without options the upstream is the
// canned flaky simulator seeded from the clock, with the configured
// failure rate.
func NewRunner(cfg *config.Config, log zerolog.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{cfg: cfg, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one full pipeline run.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	out, err := r.run(ctx)
	switch out.Status {
	case StatusSkipped:
		r.log.Info().Msg("no new rows to process, run skipped")
	case StatusCompleted:
		r.log.Info().
			Int("employees", out.EmployeesCleaned).
			Int("validation_errors", out.ValidationErrors).
			Int("snapshot_rows", out.SnapshotRows).
			Int("gaps", out.Gaps).
			Int("spikes", out.Spikes).
			Msg("run completed")
	default:
		r.log.Error().Err(err).Msg("run failed")
	}
	return out, err
}

func (r *Runner) run(ctx context.Context) (Outcome, error) {
	cfg := r.cfg
	for _, dir := range []string{cfg.State.Dir, cfg.Reports.Dir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Outcome{Status: StatusFailed}, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	// Feeds are read fully on every run; filtering happens in-process.
	employees, err := ingest.ReadEmployeeFeed(cfg.Feeds.Employees)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	planRows, err := ingest.ReadPlanFeed(cfg.Feeds.Plans)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	claimRows, err := ingest.ReadClaimFeed(cfg.Feeds.Claims)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}

	marks, err := ingest.LoadMarks(cfg.MarksPath())
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}

	empBatch := ingest.FilterNew(marks.Employees, employees, func(e record.Employee) string { return e.StartDate })
	planBatch := ingest.FilterNew(marks.Plans, planRows, func(p ingest.PlanRow) string { return p.StartDate })
	claimBatch := ingest.FilterNew(marks.Claims, claimRows, func(c ingest.ClaimRow) string { return c.ServiceDate })

	if empBatch.Empty() && planBatch.Empty() && claimBatch.Empty() {
		return Outcome{Status: StatusSkipped}, nil
	}

	r.log.Info().
		Int("employees", len(empBatch.Fresh)).
		Int("plans", len(planBatch.Fresh)).
		Int("claims", len(claimBatch.Fresh)).
		Msg("incremental rows selected")

	// Full history into the relational substrate; each import rolls
	// back on failure.
	store, err := sqlite.New(cfg.State.Database)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	defer store.Close()

	if err := store.ImportEmployees(ctx, employees); err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	if err := store.ImportPlans(ctx, planRows); err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	if err := store.ImportClaims(ctx, claimRows); err != nil {
		return Outcome{Status: StatusFailed}, err
	}

	// Validation covers the fresh rows plus the rows excluded for
	// unparseable dates; cleaning never drops a flagged row.
	domains, err := ingest.LoadDomainLookup(cfg.Lookups.CompanyDomains)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	toClean := append(append([]record.Employee{}, empBatch.Fresh...), empBatch.Unparsed...)
	cleaned, vErrs := ingest.NewCleaner(domains).Clean(toClean)

	enriched, err := r.enrichAll(ctx, cleaned)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}

	// Only rows inside the incremental subset (parseable dates) join
	// the durable snapshot.
	var mergeable []record.Employee
	for _, e := range enriched {
		if _, perr := temporal.ParseDate(e.StartDate); perr == nil {
			mergeable = append(mergeable, e)
		}
	}
	snapRows, err := snapshot.New(cfg.SnapshotPath()).Merge(ctx, mergeable)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}

	// Analytics run over complete history, not the delta.
	plans, skippedPlans, err := store.Plans(ctx)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	if skippedPlans > 0 {
		r.log.Warn().Int("rows", skippedPlans).Msg("plans with unparseable dates excluded from stitching")
	}
	stitcher := coverage.Stitcher{MinGapDays: cfg.Thresholds.MinGapDays}
	_, gaps := stitcher.Analyze(plans)

	claimHistory, skippedClaims, err := store.Claims(ctx)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	if skippedClaims > 0 {
		r.log.Warn().Int("rows", skippedClaims).Msg("claims with unparseable dates excluded from spike detection")
	}
	detector := claims.Detector{
		WindowDays: cfg.Thresholds.SpikeWindowDays,
		Threshold:  decimal.NewFromFloat(cfg.Thresholds.SpikePctChange),
	}
	spikes := detector.Detect(claimHistory)

	observed, err := store.EmployeeCounts(ctx)
	if err != nil {
		return Outcome{Status: StatusFailed}, err
	}
	mismatches := roster.Evaluate(cfg.Roster.Expected, observed)

	if err := writeReports(cfg.Reports.Dir, vErrs, gaps, spikes, mismatches); err != nil {
		return Outcome{Status: StatusFailed}, err
	}

	// Marks advance to the latest date actually processed per kind;
	// kinds with no processed rows keep their mark.
	marks.Advance(ingest.KindEmployees, ingest.MaxDate(empBatch.Fresh, func(e record.Employee) string { return e.StartDate }))
	marks.Advance(ingest.KindPlans, ingest.MaxDate(planBatch.Fresh, func(p ingest.PlanRow) string { return p.StartDate }))
	marks.Advance(ingest.KindClaims, ingest.MaxDate(claimBatch.Fresh, func(c ingest.ClaimRow) string { return c.ServiceDate }))
	if err := marks.Save(cfg.MarksPath()); err != nil {
		return Outcome{Status: StatusFailed}, err
	}

	return Outcome{
		Status:           StatusCompleted,
		EmployeesCleaned: len(enriched),
		ValidationErrors: len(vErrs),
		SnapshotRows:     snapRows,
		Gaps:             len(gaps),
		Spikes:           len(spikes),
		RosterRows:       len(mismatches),
	}, nil
}

// enrichAll resolves each distinct EIN once and attaches the profile
// to every row carrying that EIN. Rows without a resolvable EIN are
// left untouched.
func (r *Runner) enrichAll(ctx context.Context, rows []record.Employee) ([]record.Employee, error) {
	upstream := r.upstream
	if upstream == nil {
		payload, err := enrich.LoadPayload(r.cfg.Lookups.EnrichmentPayload)
		if err != nil {
			return nil, err
		}
		upstream = &enrich.CannedUpstream{
			Payload: payload,
			Faults:  enrich.NewRandomFaults(r.cfg.Thresholds.UpstreamFailureRate, time.Now().UnixNano()),
		}
	}

	opts := []enrich.Option{
		enrich.WithAttempts(r.cfg.Thresholds.EnrichmentAttempts),
		enrich.WithLogger(r.log.With().Str("component", "enrich").Logger()),
	}
	if r.sleeper != nil {
		opts = append(opts, enrich.WithSleeper(r.sleeper))
	}
	client := enrich.NewClient(upstream, opts...)

	out := make([]record.Employee, len(rows))
	copy(out, rows)
	for i := range out {
		if out[i].CompanyEIN == "" {
			continue
		}
		profile, err := client.Enrich(ctx, out[i].CompanyEIN)
		if err != nil {
			return nil, err // only context cancellation reaches here
		}
		out[i].Industry = profile.Industry
		out[i].Revenue = profile.Revenue
		out[i].Headcount = profile.Headcount
	}
	return out, nil
}
