package ingest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/benefits-pipeline/ingest"
	"github.com/warp/benefits-pipeline/record"
)

func testDomains() map[string]string {
	return map[string]string{
		"acme.com":  "11-1111111",
		"globex.io": "22-2222222",
	}
}

func TestCleaner_InvalidEmail_FlaggedNotDropped(t *testing.T) {
	// GIVEN: one malformed email among valid rows
	c := ingest.NewCleaner(testDomains())
	rows := []record.Employee{
		{RowID: 0, FullName: "Ada Park", Email: "ada@acme.com", CompanyEIN: "11-1111111", Title: "Engineer", StartDate: "2024-01-02"},
		{RowID: 1, FullName: "Bo Lee", Email: "not-an-email", CompanyEIN: "11-1111111", Title: "Analyst", StartDate: "2024-01-03"},
	}

	// WHEN: cleaning
	cleaned, errs := c.Clean(rows)

	// THEN: the bad row is flagged but still present
	require.Len(t, cleaned, 2)
	require.Len(t, errs, 1)
	assert.Equal(t, 1, errs[0].RowID)
	assert.Equal(t, "email", errs[0].Field)
	assert.Equal(t, record.ReasonInvalidEmail, errs[0].Reason)
}

func TestCleaner_EmailShapes(t *testing.T) {
	c := ingest.NewCleaner(nil)
	cases := []struct {
		email string
		valid bool
	}{
		{"a@b.co", true},
		{"first.last@sub.domain.org", true},
		{"missing-at.com", false},
		{"no-tld@domain", false},
		{"two@@signs.com", false},
		{"", false},
	}

	for _, tc := range cases {
		_, errs := c.Clean([]record.Employee{{RowID: 7, Email: tc.email, StartDate: "2024-01-01"}})
		if tc.valid {
			assert.Empty(t, errs, "email %q should pass", tc.email)
		} else {
			require.Len(t, errs, 1, "email %q should fail", tc.email)
			assert.Equal(t, record.ReasonInvalidEmail, errs[0].Reason)
		}
	}
}

func TestCleaner_InvalidDate_Flagged(t *testing.T) {
	c := ingest.NewCleaner(nil)
	rows := []record.Employee{
		{RowID: 3, FullName: "Cy Quinn", Email: "cy@acme.com", StartDate: "soon"},
	}

	cleaned, errs := c.Clean(rows)

	require.Len(t, cleaned, 1)
	require.Len(t, errs, 1)
	assert.Equal(t, "start_date", errs[0].Field)
	assert.Equal(t, record.ReasonInvalidDate, errs[0].Reason)
	// The raw value is left in place for the ledger reader.
	assert.Equal(t, "soon", cleaned[0].StartDate)
}

func TestCleaner_DateNormalizedToISO(t *testing.T) {
	c := ingest.NewCleaner(nil)
	rows := []record.Employee{
		{RowID: 0, Email: "d@e.fg", StartDate: "03/05/2024"},
	}

	cleaned, errs := c.Clean(rows)

	assert.Empty(t, errs)
	assert.Equal(t, "2024-03-05", cleaned[0].StartDate)
}

func TestCleaner_EINInferredFromDomain(t *testing.T) {
	// GIVEN: a row missing its EIN but with a mapped email domain,
	// and one with an unmapped domain
	c := ingest.NewCleaner(testDomains())
	rows := []record.Employee{
		{RowID: 0, FullName: "Ada Park", Email: "ada@globex.io", StartDate: "2024-01-02"},
		{RowID: 1, FullName: "Bo Lee", Email: "bo@unknown.net", StartDate: "2024-01-03"},
		{RowID: 2, FullName: "Cy Quinn", Email: "cy@acme.com", CompanyEIN: "99-9999999", StartDate: "2024-01-04"},
	}

	cleaned, _ := c.Clean(rows)

	// THEN: mapped domain fills, unmapped stays absent, present EIN untouched
	assert.Equal(t, "22-2222222", cleaned[0].CompanyEIN)
	assert.Equal(t, "", cleaned[1].CompanyEIN)
	assert.Equal(t, "99-9999999", cleaned[2].CompanyEIN)
}

func TestCleaner_ExactDuplicatesDropped(t *testing.T) {
	c := ingest.NewCleaner(nil)
	row := record.Employee{FullName: "Ada Park", Email: "ada@acme.com", CompanyEIN: "11-1111111", Title: "Engineer", StartDate: "2024-01-02"}
	dup := row
	dup.RowID = 5 // row identity does not defeat exact-duplicate detection
	other := row
	other.Title = "Senior Engineer"

	cleaned, _ := c.Clean([]record.Employee{row, dup, other})

	require.Len(t, cleaned, 2)
	assert.Equal(t, "Engineer", cleaned[0].Title)
	assert.Equal(t, "Senior Engineer", cleaned[1].Title)
}

func TestCleaner_TitleFill_ForwardAndBackward(t *testing.T) {
	// GIVEN: the same person appearing with and without a title,
	// in both directions
	c := ingest.NewCleaner(nil)
	rows := []record.Employee{
		{RowID: 0, FullName: "Ada Park", Email: "ada@acme.com", Title: "Engineer", StartDate: "2024-01-01"},
		{RowID: 1, FullName: "Ada Park", Email: "ada@acme.com", Title: "", StartDate: "2024-02-01"},
		{RowID: 2, FullName: "Bo Lee", Email: "bo@acme.com", Title: "", StartDate: "2024-01-05"},
		{RowID: 3, FullName: "Bo Lee", Email: "bo@acme.com", Title: "Analyst", StartDate: "2024-03-01"},
		{RowID: 4, FullName: "Cy Quinn", Email: "cy@acme.com", Title: "", StartDate: "2024-01-09"},
	}

	cleaned, _ := c.Clean(rows)

	assert.Equal(t, "Engineer", cleaned[1].Title, "forward fill")
	assert.Equal(t, "Analyst", cleaned[2].Title, "backward fill")
	assert.Equal(t, "", cleaned[4].Title, "no sighting to fill from")
}
