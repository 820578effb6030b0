package ingest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/warp/benefits-pipeline/record"
)

// PlanRow is one raw plan feed row. Dates stay untyped here; the store
// and the analytics parse them where the failure policy differs.
type PlanRow struct {
	CompanyEIN string
	PlanType   string
	Carrier    string
	StartDate  string
	EndDate    string
}

// ClaimRow is one raw claims feed row.
type ClaimRow struct {
	CompanyEIN  string
	ServiceDate string
	Amount      string
}

// header maps column names to positions, so feeds may reorder columns.
type header map[string]int

func readHeader(r *csv.Reader, path string, required []string) (header, error) {
	cols, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	h := make(header, len(cols))
	for i, name := range cols {
		h[name] = i
	}
	for _, name := range required {
		if _, ok := h[name]; !ok {
			return nil, fmt.Errorf("feed %s is missing column %q", path, name)
		}
	}
	return h, nil
}

func (h header) get(row []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func openFeed(path string) (*os.File, *csv.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open feed %s: %w", path, err)
	}
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // ragged rows surface as empty fields, not load failures
	return f, r, nil
}

// ReadEmployeeFeed reads the employee feed. RowID is the zero-based
// position of the row among data rows, mirroring the row identifier
// used in validation-error entries.
func ReadEmployeeFeed(path string) ([]record.Employee, error) {
	f, r, err := openFeed(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := readHeader(r, path, []string{"full_name", "email", "company_ein", "title", "start_date"})
	if err != nil {
		return nil, err
	}

	var rows []record.Employee
	for i := 0; ; i++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s row %d: %w", path, i, err)
		}
		rows = append(rows, record.Employee{
			RowID:      i,
			FullName:   h.get(rec, "full_name"),
			Email:      h.get(rec, "email"),
			CompanyEIN: h.get(rec, "company_ein"),
			Title:      h.get(rec, "title"),
			StartDate:  h.get(rec, "start_date"),
		})
	}
	return rows, nil
}

// ReadPlanFeed reads the benefit-plan feed.
func ReadPlanFeed(path string) ([]PlanRow, error) {
	f, r, err := openFeed(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := readHeader(r, path, []string{"company_ein", "plan_type", "carrier_name", "start_date", "end_date"})
	if err != nil {
		return nil, err
	}

	var rows []PlanRow
	for i := 0; ; i++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s row %d: %w", path, i, err)
		}
		rows = append(rows, PlanRow{
			CompanyEIN: h.get(rec, "company_ein"),
			PlanType:   h.get(rec, "plan_type"),
			Carrier:    h.get(rec, "carrier_name"),
			StartDate:  h.get(rec, "start_date"),
			EndDate:    h.get(rec, "end_date"),
		})
	}
	return rows, nil
}

// ReadClaimFeed reads the claims feed.
func ReadClaimFeed(path string) ([]ClaimRow, error) {
	f, r, err := openFeed(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h, err := readHeader(r, path, []string{"company_ein", "service_date", "amount"})
	if err != nil {
		return nil, err
	}

	var rows []ClaimRow
	for i := 0; ; i++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s row %d: %w", path, i, err)
		}
		rows = append(rows, ClaimRow{
			CompanyEIN:  h.get(rec, "company_ein"),
			ServiceDate: h.get(rec, "service_date"),
			Amount:      h.get(rec, "amount"),
		})
	}
	return rows, nil
}

// LoadDomainLookup reads the static email-domain to EIN mapping.
func LoadDomainLookup(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read domain lookup: %w", err)
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse domain lookup: %w", err)
	}
	return m, nil
}
