package annotation

import (
	"context"
	"fmt"
	"io"
	"time"

	"pagetagger/internal/storage/csvtable"
)

var Header = []string{"ID", "Page", "State"}

// CSVBackend rewrites the whole annotation file on every Sync. LockWait is
// how long a Sync waits for another writer's lock before giving up.
type CSVBackend struct {
	Path     string
	LockWait time.Duration
}

func NewCSVBackend(path string, lockWait time.Duration) *CSVBackend {
	return &CSVBackend{Path: path, LockWait: lockWait}
}

func (b *CSVBackend) Load(_ context.Context) ([]Row, error) {
	records, err := csvtable.ReadFile(b.Path, Header)
	if err != nil {
		return nil, err
	}
	return rowsFromRecords(records), nil
}

func (b *CSVBackend) Sync(_ context.Context, all []Row, _ []Change) error {
	return csvtable.WriteFile(b.Path, Header, recordsFromRows(all), b.LockWait)
}

func (b *CSVBackend) Close() error {
	return nil
}

// WriteCSV writes the table with an ID,Page,State header.
func (s *Store) WriteCSV(w io.Writer) error {
	return csvtable.Encode(w, Header, recordsFromRows(s.Rows()))
}

// ReadCSV parses an ID,Page,State table.
func ReadCSV(r io.Reader) ([]Row, error) {
	records, err := csvtable.Read(r, Header)
	if err != nil {
		return nil, fmt.Errorf("read annotations: %w", err)
	}
	return rowsFromRecords(records), nil
}

func rowsFromRecords(records [][]string) []Row {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, Row{ID: rec[0], Page: rec[1], State: rec[2]})
	}
	return rows
}

func recordsFromRows(rows []Row) [][]string {
	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		records = append(records, []string{row.ID, row.Page, row.State})
	}
	return records
}
