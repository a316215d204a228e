// Package metadata loads the optional bibliographic table that labels books
// with a title, author, and date.
package metadata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/text/cases"
)

// Columns probed, in order of preference.
var (
	idColumns   = []string{"htid", "htid_old"}
	dateColumns = []string{"date", "rights_date_used"}
)

type Record struct {
	ID     string
	Title  string
	Author string
	Date   string
}

func (r Record) Empty() bool {
	return r.Title == "" && r.Author == "" && r.Date == ""
}

// ShortTitle trims the title for list views.
func (r Record) ShortTitle(max int) string {
	runes := []rune(r.Title)
	if max <= 0 || len(runes) <= max {
		return r.Title
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}

type Catalog struct {
	byID map[string]Record
}

func Empty() *Catalog {
	return &Catalog{byID: map[string]Record{}}
}

// Load reads the metadata CSV at path. An empty path or a missing file
// gives an empty catalog; rows without an identifier are skipped.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Empty(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("metadata file missing", "path", path)
			return Empty(), nil
		}
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	slog.Debug("metadata loaded", "path", path, "records", c.Len())
	return c, nil
}

func Parse(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	c := Empty()
	if firstPresent(cols, idColumns) < 0 {
		slog.Warn("metadata has no id column", "want", strings.Join(idColumns, " or "))
		return c, nil
	}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read metadata: %w", err)
		}
		field := func(name string) string {
			idx, ok := cols[name]
			if !ok || idx >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[idx])
		}
		record := Record{
			Title:  field("title"),
			Author: field("author"),
		}
		for _, name := range dateColumns {
			if v := field(name); v != "" {
				record.Date = v
				break
			}
		}
		for _, name := range idColumns {
			id := field(name)
			if id == "" {
				continue
			}
			if record.ID == "" {
				record.ID = id
			}
			if _, exists := c.byID[id]; !exists {
				c.byID[id] = record
			}
		}
	}
	return c, nil
}

func firstPresent(cols map[string]int, names []string) int {
	for _, name := range names {
		if idx, ok := cols[name]; ok {
			return idx
		}
	}
	return -1
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.byID)
}

// Lookup finds the record for a book by htid, then htid_old.
func (c *Catalog) Lookup(bookID string) (Record, bool) {
	if c == nil {
		return Record{}, false
	}
	rec, ok := c.byID[bookID]
	return rec, ok
}

// Matches reports whether query occurs, case-folded, in the book ID or in
// any of its metadata values. An empty query matches everything.
func (c *Catalog) Matches(bookID, query string) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return true
	}
	needle := fold(query)
	if strings.Contains(fold(bookID), needle) {
		return true
	}
	rec, ok := c.Lookup(bookID)
	if !ok {
		return false
	}
	for _, v := range []string{rec.Title, rec.Author, rec.Date} {
		if v != "" && strings.Contains(fold(v), needle) {
			return true
		}
	}
	return false
}

// fold builds a Caser per call; Casers keep state and must not be shared.
func fold(s string) string {
	return cases.Fold().String(s)
}
