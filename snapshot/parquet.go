/*
Package snapshot owns the durable columnar snapshot of cleaned,
enriched employee rows.

PURPOSE:
  Each run appends its incremental batch to the snapshot: load the
  existing Parquet file if present, concatenate, drop exact duplicate
  rows, rewrite. The rewrite is atomic — the new file is written to a
  temp path in the same directory and renamed over the old one, so a
  reader never observes a partial snapshot.

FORMAT:
  Parquet via Arrow (parquet/pqarrow), snappy-compressed. Nullable
  enrichment columns preserve the distinction between "defaulted after
  enrichment failure" (null) and a real zero.

SEE ALSO:
  - etl/run.go: calls Merge once per non-skipped run
  - record/types.go: the row shape
*/
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/file"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
	"github.com/warp/benefits-pipeline/record"
)

// Store reads and rewrites the employee snapshot at a fixed path.
type Store struct {
	path string
	mem  memory.Allocator
}

// New creates a snapshot store for the given Parquet path.
func New(path string) *Store {
	return &Store{path: path, mem: memory.NewGoAllocator()}
}

// Path returns the snapshot location.
func (s *Store) Path() string { return s.path }

func employeeSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "row_id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "full_name", Type: arrow.BinaryTypes.String},
		{Name: "email", Type: arrow.BinaryTypes.String},
		{Name: "company_ein", Type: arrow.BinaryTypes.String},
		{Name: "title", Type: arrow.BinaryTypes.String},
		{Name: "start_date", Type: arrow.BinaryTypes.String},
		{Name: "industry", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "revenue", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "headcount", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)
}

// Merge appends rows to the snapshot, deduplicates, and atomically
// rewrites it. Returns the row count of the resulting snapshot.
// Merging an empty batch into an existing snapshot rewrites it
// unchanged; with no prior snapshot the batch becomes the initial one.
func (s *Store) Merge(ctx context.Context, rows []record.Employee) (int, error) {
	existing, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}

	merged := dedupe(append(existing, rows...))
	if err := s.write(merged); err != nil {
		return 0, err
	}
	return len(merged), nil
}

// dedupe drops rows identical in every column, keeping first occurrence.
func dedupe(rows []record.Employee) []record.Employee {
	seen := make(map[string]bool, len(rows))
	out := make([]record.Employee, 0, len(rows))
	for _, r := range rows {
		k := fullKey(r)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

func fullKey(r record.Employee) string {
	k := fmt.Sprintf("%d\x1f%s", r.RowID, r.Key())
	if r.Industry != nil {
		k += "\x1f" + *r.Industry
	} else {
		k += "\x1f\x00"
	}
	if r.Revenue != nil {
		k += fmt.Sprintf("\x1f%d", *r.Revenue)
	} else {
		k += "\x1f\x00"
	}
	if r.Headcount != nil {
		k += fmt.Sprintf("\x1f%d", *r.Headcount)
	} else {
		k += "\x1f\x00"
	}
	return k
}

// write builds one Arrow record for the whole snapshot and writes it
// to a temp file, then renames into place.
func (s *Store) write(rows []record.Employee) error {
	schema := employeeSchema()
	b := array.NewRecordBuilder(s.mem, schema)
	defer b.Release()

	rowID := b.Field(0).(*array.Int64Builder)
	fullName := b.Field(1).(*array.StringBuilder)
	email := b.Field(2).(*array.StringBuilder)
	ein := b.Field(3).(*array.StringBuilder)
	title := b.Field(4).(*array.StringBuilder)
	startDate := b.Field(5).(*array.StringBuilder)
	industry := b.Field(6).(*array.StringBuilder)
	revenue := b.Field(7).(*array.Int64Builder)
	headcount := b.Field(8).(*array.Int64Builder)

	for _, r := range rows {
		rowID.Append(int64(r.RowID))
		fullName.Append(r.FullName)
		email.Append(r.Email)
		ein.Append(r.CompanyEIN)
		title.Append(r.Title)
		startDate.Append(r.StartDate)
		if r.Industry != nil {
			industry.Append(*r.Industry)
		} else {
			industry.AppendNull()
		}
		if r.Revenue != nil {
			revenue.Append(*r.Revenue)
		} else {
			revenue.AppendNull()
		}
		if r.Headcount != nil {
			headcount.Append(*r.Headcount)
		} else {
			headcount.AppendNull()
		}
	}

	rec := b.NewRecord()
	defer rec.Release()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".snapshot-*.parquet")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithDictionaryDefault(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	w, err := pqarrow.NewFileWriter(schema, tmp, props, arrowProps)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to open snapshot writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := w.Close(); err != nil { // closes the underlying file too
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load reads the whole snapshot. A missing file yields no rows: the
// first-run case, not an error.
func (s *Store) Load(ctx context.Context) ([]record.Employee, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil, nil
	}

	pf, err := file.OpenParquetFile(s.path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer pf.Close()

	reader, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, s.mem)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	table, err := reader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	defer table.Release()

	return tableToRows(table)
}

func tableToRows(table arrow.Table) ([]record.Employee, error) {
	if table.NumCols() != 9 {
		return nil, fmt.Errorf("snapshot has %d columns, want 9", table.NumCols())
	}

	rows := make([]record.Employee, 0, table.NumRows())

	// Columns are chunked; all columns share chunk boundaries because
	// the file is written as a single record per run.
	nChunks := len(table.Column(0).Data().Chunks())
	for c := 0; c < nChunks; c++ {
		rowID := table.Column(0).Data().Chunks()[c].(*array.Int64)
		fullName := table.Column(1).Data().Chunks()[c].(*array.String)
		email := table.Column(2).Data().Chunks()[c].(*array.String)
		ein := table.Column(3).Data().Chunks()[c].(*array.String)
		title := table.Column(4).Data().Chunks()[c].(*array.String)
		startDate := table.Column(5).Data().Chunks()[c].(*array.String)
		industry := table.Column(6).Data().Chunks()[c].(*array.String)
		revenue := table.Column(7).Data().Chunks()[c].(*array.Int64)
		headcount := table.Column(8).Data().Chunks()[c].(*array.Int64)

		for i := 0; i < rowID.Len(); i++ {
			row := record.Employee{
				RowID:      int(rowID.Value(i)),
				FullName:   fullName.Value(i),
				Email:      email.Value(i),
				CompanyEIN: ein.Value(i),
				Title:      title.Value(i),
				StartDate:  startDate.Value(i),
			}
			if industry.IsValid(i) {
				v := industry.Value(i)
				row.Industry = &v
			}
			if revenue.IsValid(i) {
				v := revenue.Value(i)
				row.Revenue = &v
			}
			if headcount.IsValid(i) {
				v := headcount.Value(i)
				row.Headcount = &v
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}
