/*
Package sqlite provides the SQLite-backed relational substrate for the
pipeline's full-history analytics.

PURPOSE:
  The coverage stitcher, spike detector, and roster report all run over
  complete history, not the incremental delta. Each run reloads the raw
  feeds into SQLite in full, then the analytics query typed rows back
  out. SQLite is a computation substrate here, not the system of
  record — the Parquet snapshot owns durable cleaned data.

LOAD FAILURE POLICY:
  Each feed imports inside one transaction. A type failure on load
  (an unparseable claim amount, a missing identifier) aborts that
  import and rolls the transaction back, leaving the table in its
  prior state. Per-row date problems are not load failures: dates
  stay TEXT on import and rows that fail date parsing are skipped,
  with a count, when queried back.

WAL MODE:
  Opened with WAL for better crash recovery; the run itself is a
  single writer.

USAGE:
  store, err := sqlite.New("./state/benefits.db")
  if err != nil { ... }
  defer store.Close()

SEE ALSO:
  - ingest/feed.go: the raw row shapes imported here
  - etl/run.go: sequences import then analytics
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/benefits-pipeline/ingest"
	"github.com/warp/benefits-pipeline/record"
	"github.com/warp/benefits-pipeline/temporal"
)

// Store wraps the SQLite database holding full feed history.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database and migrates the schema.
// Use ":memory:" for tests.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS employees (
		row_id INTEGER NOT NULL,
		full_name TEXT NOT NULL,
		email TEXT,
		company_ein TEXT,
		title TEXT,
		start_date TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_employees_ein ON employees(company_ein);

	CREATE TABLE IF NOT EXISTS plans (
		company_ein TEXT NOT NULL,
		plan_type TEXT NOT NULL,
		carrier_name TEXT NOT NULL,
		start_date TEXT,
		end_date TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_plans_ein_type ON plans(company_ein, plan_type);

	CREATE TABLE IF NOT EXISTS claims (
		company_ein TEXT NOT NULL,
		service_date TEXT,
		amount TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_claims_ein_date ON claims(company_ein, service_date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// IMPORT (full reload per run, transactional)
// =============================================================================

// ImportEmployees replaces the employees table with the cleaned batch
// history. Rolls back on any failure.
func (s *Store) ImportEmployees(ctx context.Context, rows []record.Employee) error {
	return s.reload(ctx, "employees", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO employees (row_id, full_name, email, company_ein, title, start_date)
			 VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.RowID, r.FullName, r.Email, r.CompanyEIN, r.Title, r.StartDate); err != nil {
				return fmt.Errorf("failed to insert employee row %d: %w", r.RowID, err)
			}
		}
		return nil
	})
}

// ImportPlans replaces the plans table. A plan without an employer
// identifier or plan type is a load failure.
func (s *Store) ImportPlans(ctx context.Context, rows []ingest.PlanRow) error {
	return s.reload(ctx, "plans", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO plans (company_ein, plan_type, carrier_name, start_date, end_date)
			 VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, r := range rows {
			if r.CompanyEIN == "" || r.PlanType == "" {
				return fmt.Errorf("plan row %d has no identifier", i)
			}
			if _, err := stmt.ExecContext(ctx, r.CompanyEIN, r.PlanType, r.Carrier, normalizeDate(r.StartDate), normalizeDate(r.EndDate)); err != nil {
				return fmt.Errorf("failed to insert plan row %d: %w", i, err)
			}
		}
		return nil
	})
}

// ImportClaims replaces the claims table. An amount that does not
// parse as a decimal is a load failure.
func (s *Store) ImportClaims(ctx context.Context, rows []ingest.ClaimRow) error {
	return s.reload(ctx, "claims", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO claims (company_ein, service_date, amount) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, r := range rows {
			if r.CompanyEIN == "" {
				return fmt.Errorf("claim row %d has no employer identifier", i)
			}
			amount, err := decimal.NewFromString(r.Amount)
			if err != nil {
				return fmt.Errorf("claim row %d has unparseable amount %q: %w", i, r.Amount, err)
			}
			if _, err := stmt.ExecContext(ctx, r.CompanyEIN, normalizeDate(r.ServiceDate), amount.String()); err != nil {
				return fmt.Errorf("failed to insert claim row %d: %w", i, err)
			}
		}
		return nil
	})
}

// reload clears one table and refills it inside a single transaction.
func (s *Store) reload(ctx context.Context, table string, fill func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin %s import: %w", table, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	if err := fill(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("%s import aborted: %w", table, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s import: %w", table, err)
	}
	return nil
}

// normalizeDate stores dates in ISO form when they parse; otherwise
// the raw text is kept so queries can count and skip it.
func normalizeDate(raw string) string {
	if d, err := temporal.ParseDate(raw); err == nil {
		return d.String()
	}
	return raw
}

// =============================================================================
// FULL-HISTORY QUERIES
// =============================================================================

// Plans returns every plan row with parseable dates, plus the count of
// rows skipped for unparseable dates.
func (s *Store) Plans(ctx context.Context) ([]record.Plan, int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT company_ein, plan_type, carrier_name, start_date, end_date
		 FROM plans ORDER BY company_ein, plan_type, start_date`)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var out []record.Plan
	skipped := 0
	for rows.Next() {
		var ein, planType, carrier, startRaw, endRaw string
		if err := rows.Scan(&ein, &planType, &carrier, &startRaw, &endRaw); err != nil {
			return nil, 0, fmt.Errorf("failed to scan plan: %w", err)
		}
		start, err1 := temporal.ParseDate(startRaw)
		end, err2 := temporal.ParseDate(endRaw)
		if err1 != nil || err2 != nil {
			skipped++
			continue
		}
		out = append(out, record.Plan{
			CompanyEIN: ein,
			PlanType:   planType,
			Carrier:    carrier,
			Coverage:   temporal.Span{Start: start, End: end},
		})
	}
	return out, skipped, rows.Err()
}

// Claims returns every claim row with a parseable service date, plus
// the skipped count.
func (s *Store) Claims(ctx context.Context) ([]record.Claim, int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT company_ein, service_date, amount
		 FROM claims ORDER BY company_ein, service_date`)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()

	var out []record.Claim
	skipped := 0
	for rows.Next() {
		var ein, dateRaw, amountRaw string
		if err := rows.Scan(&ein, &dateRaw, &amountRaw); err != nil {
			return nil, 0, fmt.Errorf("failed to scan claim: %w", err)
		}
		date, derr := temporal.ParseDate(dateRaw)
		if derr != nil {
			skipped++
			continue
		}
		amount, aerr := decimal.NewFromString(amountRaw)
		if aerr != nil {
			// Amounts were validated on import; a bad one here means
			// the table was written by something else.
			return nil, 0, fmt.Errorf("corrupt claim amount %q: %w", amountRaw, aerr)
		}
		out = append(out, record.Claim{CompanyEIN: ein, ServiceDate: date, Amount: amount})
	}
	return out, skipped, rows.Err()
}

// EmployeeCounts returns the observed employee count per employer.
// Rows without an employer identifier are not attributable and are
// excluded.
func (s *Store) EmployeeCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT company_ein, COUNT(*) FROM employees
		 WHERE company_ein <> '' GROUP BY company_ein`)
	if err != nil {
		return nil, fmt.Errorf("failed to count employees: %w", err)
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var ein string
		var n int
		if err := rows.Scan(&ein, &n); err != nil {
			return nil, fmt.Errorf("failed to scan employee count: %w", err)
		}
		out[ein] = n
	}
	return out, rows.Err()
}
