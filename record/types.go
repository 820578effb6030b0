/*
Package record defines the shared data model flowing through the pipeline.

PURPOSE:
  One place for the row types read from the raw feeds and the derived
  attributes attached during cleaning and enrichment. Domain packages
  (ingest, coverage, claims, snapshot) operate on these types; the
  store package persists them.

DESIGN PRINCIPLES:
  1. Raw fields stay strings until a component needs them typed;
     parse failures are data, not panics.
  2. Nullable enrichment attributes use pointers so "absent" and
     "zero" stay distinguishable all the way into the snapshot.
  3. Monetary amounts use decimal.Decimal, never float64.

SEE ALSO:
  - ingest/validate.go: fills and validates Employee fields
  - enrich/client.go: produces CompanyProfile
  - snapshot/parquet.go: persists cleaned employees
*/
package record

import (
	"github.com/shopspring/decimal"
	"github.com/warp/benefits-pipeline/temporal"
)

// =============================================================================
// INPUT ROWS
// =============================================================================

// Employee is one row of the employee feed. RowID is the position of the
// row in the source file and keys validation-error entries.
type Employee struct {
	RowID      int
	FullName   string
	Email      string
	CompanyEIN string // may be empty; inferred from email domain when possible
	Title      string
	StartDate  string // raw; validated and parsed during cleaning

	// Enrichment attributes, nil until enriched. A company whose
	// enrichment ultimately failed carries all-nil values here, which
	// is distinct from "never enriched" only by pipeline phase.
	Industry  *string
	Revenue   *int64
	Headcount *int64
}

// Key returns the exact-duplicate identity of the row: every source
// field, excluding RowID and enrichment attributes.
func (e Employee) Key() string {
	return e.FullName + "\x1f" + e.Email + "\x1f" + e.CompanyEIN + "\x1f" + e.Title + "\x1f" + e.StartDate
}

// Plan is one benefit-plan row. Coverage is inclusive of both dates.
type Plan struct {
	CompanyEIN string
	PlanType   string
	Carrier    string
	Coverage   temporal.Span
}

// Claim is one claims row.
type Claim struct {
	CompanyEIN  string
	ServiceDate temporal.Date
	Amount      decimal.Decimal
}

// =============================================================================
// DERIVED
// =============================================================================

// CompanyProfile holds third-party attributes for an employer.
// All fields are nil on the default profile used when enrichment
// exhausts its retries.
type CompanyProfile struct {
	Industry  *string
	Revenue   *int64
	Headcount *int64
}

// IsDefault reports whether the profile is the all-null sentinel.
func (p CompanyProfile) IsDefault() bool {
	return p.Industry == nil && p.Revenue == nil && p.Headcount == nil
}

// ValidationError is one entry in the per-run validation ledger.
// Entries are created during validation and never mutated.
type ValidationError struct {
	RowID  int
	Field  string
	Reason string
}

// Reason codes for validation-error entries.
const (
	ReasonInvalidEmail = "Invalid email"
	ReasonInvalidDate  = "Invalid date"
)
