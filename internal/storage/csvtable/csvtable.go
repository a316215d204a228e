// Package csvtable reads and writes small header-checked CSV tables that
// are rewritten in full on every change.
package csvtable

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"pagetagger/internal/storage/fs"
)

// ErrWriteBlocked means the table could not be written because another
// process holds it or the destination refuses writes.
var ErrWriteBlocked = errors.New("table file is locked or not writable")

var writers = fs.NewLocker()

// Read parses r and returns the records whose columns are named by header,
// in header order. Extra columns are ignored. Missing required columns are
// an error; an empty input yields no records.
func Read(r io.Reader, header []string) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	first, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := columnIndex(first, header)
	if err != nil {
		return nil, err
	}
	var out [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		if blankRecord(rec) {
			continue
		}
		row := make([]string, len(header))
		for i, idx := range cols {
			if idx < len(rec) {
				row[i] = rec[idx]
			}
		}
		out = append(out, row)
	}
	return out, nil
}

// ReadFile is Read over a file. A missing file yields no records.
func ReadFile(path string, header []string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	records, err := Read(f, header)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// Encode writes header and records as CSV.
func Encode(w io.Writer, header []string, records [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(records); err != nil {
		return err
	}
	return cw.Error()
}

// WriteFile replaces the table at path. It waits up to lockWait for the
// advisory lock and refuses with ErrWriteBlocked when the lock stays held
// elsewhere or the destination cannot be written. The file is left as it
// was in that case.
func WriteFile(path string, header []string, records [][]string, lockWait time.Duration) error {
	var buf bytes.Buffer
	if err := Encode(&buf, header, records); err != nil {
		return err
	}

	unlock := writers.Lock(path)
	defer unlock()

	lock, err := fs.AcquireFileLockWithTimeout(path, lockWait)
	if err != nil {
		return blocked(path, err)
	}
	defer func() { _ = lock.Release() }()

	// The atomic writer flattens its errors, so permission problems have to
	// be found before it runs.
	if err := fs.CheckWritable(path); err != nil {
		return blocked(path, err)
	}
	if err := fs.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return blocked(path, err)
	}
	return nil
}

func blocked(path string, err error) error {
	if errors.Is(err, fs.ErrLocked) || errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%s: %w: %v", path, ErrWriteBlocked, err)
	}
	return fmt.Errorf("write %s: %w", path, err)
}

func columnIndex(got, want []string) ([]int, error) {
	pos := make(map[string]int, len(got))
	for i, name := range got {
		name = normalizeColumn(name)
		if _, dup := pos[name]; !dup {
			pos[name] = i
		}
	}
	out := make([]int, len(want))
	var missing []string
	for i, name := range want {
		idx, ok := pos[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		out[i] = idx
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func normalizeColumn(name string) string {
	return strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
}

func blankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
