package ingest

import (
	"regexp"
	"strings"

	"github.com/warp/benefits-pipeline/record"
	"github.com/warp/benefits-pipeline/temporal"
)

// emailShape is the local@domain.tld check. Deliberately loose: the
// ledger flags malformed addresses, it does not enforce RFC 5322.
var emailShape = regexp.MustCompile(`^[^@]+@[^@]+\.[^@]+$`)

// Cleaner validates and normalizes employee rows. Validation never
// drops a row; every problem becomes a ledger entry and the row flows
// on. The zero Cleaner is not usable; construct with NewCleaner.
type Cleaner struct {
	domains map[string]string // email domain -> company EIN
}

// NewCleaner builds a Cleaner with the static domain lookup.
func NewCleaner(domains map[string]string) *Cleaner {
	if domains == nil {
		domains = map[string]string{}
	}
	return &Cleaner{domains: domains}
}

// Clean runs the full employee cleaning sequence:
//
//  1. Missing EINs are inferred from the email domain (before validation).
//  2. Email shape check -> "Invalid email" ledger entries.
//  3. Exact-duplicate rows are dropped.
//  4. Start-date parse check -> "Invalid date" ledger entries.
//  5. Titles are forward- then backward-filled within rows sharing
//     the same full name.
//
// The returned rows preserve input order minus duplicates.
func (c *Cleaner) Clean(rows []record.Employee) ([]record.Employee, []record.ValidationError) {
	var errs []record.ValidationError

	out := make([]record.Employee, len(rows))
	copy(out, rows)

	for i := range out {
		if out[i].CompanyEIN == "" {
			out[i].CompanyEIN = c.inferEIN(out[i].Email)
		}
	}

	for _, row := range out {
		if !emailShape.MatchString(row.Email) {
			errs = append(errs, record.ValidationError{
				RowID:  row.RowID,
				Field:  "email",
				Reason: record.ReasonInvalidEmail,
			})
		}
	}

	out = dropDuplicates(out)

	for i := range out {
		d, err := temporal.ParseDate(out[i].StartDate)
		if err != nil {
			errs = append(errs, record.ValidationError{
				RowID:  out[i].RowID,
				Field:  "start_date",
				Reason: record.ReasonInvalidDate,
			})
			continue
		}
		// Normalize to ISO so downstream consumers parse one layout.
		out[i].StartDate = d.String()
	}

	fillTitles(out)

	return out, errs
}

// inferEIN maps the email's domain through the static lookup.
// Unmapped or malformed addresses leave the EIN absent.
func (c *Cleaner) inferEIN(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return c.domains[email[at+1:]]
}

// dropDuplicates removes exact duplicates (all source fields equal),
// keeping the first occurrence.
func dropDuplicates(rows []record.Employee) []record.Employee {
	seen := make(map[string]bool, len(rows))
	out := rows[:0]
	for _, row := range rows {
		k := row.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, row)
	}
	return out
}

// fillTitles carries titles across rows of the same person: a forward
// pass fills a missing title from the previous sighting, a backward
// pass from the next one. Mirrors a grouped ffill-then-bfill.
func fillTitles(rows []record.Employee) {
	last := map[string]string{}
	for i := range rows {
		if rows[i].Title == "" {
			rows[i].Title = last[rows[i].FullName]
		} else {
			last[rows[i].FullName] = rows[i].Title
		}
	}

	next := map[string]string{}
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Title == "" {
			rows[i].Title = next[rows[i].FullName]
		} else {
			next[rows[i].FullName] = rows[i].Title
		}
	}
}
