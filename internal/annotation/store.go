// Package annotation holds the page-state table: at most one state per
// (book, page), mirrored to a persistent backend after every mutation.
package annotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
)

var (
	ErrInvalidRange = errors.New("invalid page range")
	ErrEmptyState   = errors.New("state must not be empty")
)

type Row struct {
	ID    string
	Page  string
	State string
}

type Key struct {
	ID   string
	Page string
}

// Change is one keyed mutation waiting to be persisted. Deleted changes
// carry an empty State.
type Change struct {
	Key     Key
	State   string
	Deleted bool
}

// Backend persists the table. Sync receives the full table and the keyed
// changes since the last successful Sync; a backend uses whichever suits it.
type Backend interface {
	Load(ctx context.Context) ([]Row, error)
	Sync(ctx context.Context, all []Row, changes []Change) error
	Close() error
}

type Outcome int

const (
	Inserted Outcome = iota + 1
	Updated
	Cleared
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Cleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// PersistError wraps a failed write. The in-memory table already holds the
// mutation and the change stays pending until the next successful Sync.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return "persist annotations: " + e.Err.Error()
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

type Store struct {
	mu      sync.Mutex
	backend Backend
	rows    map[Key]string
	pending map[Key]Change
}

// Open loads the table from backend.
func Open(ctx context.Context, backend Backend) (*Store, error) {
	loaded, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load annotations: %w", err)
	}
	s := &Store{
		backend: backend,
		rows:    make(map[Key]string, len(loaded)),
		pending: make(map[Key]Change),
	}
	for _, row := range loaded {
		if row.ID == "" || row.Page == "" || row.State == "" {
			continue
		}
		// Later duplicates win.
		s.rows[Key{ID: row.ID, Page: row.Page}] = row.State
	}
	slog.Debug("annotations loaded", "rows", len(s.rows))
	return s, nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}

// SetState toggles the state of one page: insert when absent, overwrite
// when different, delete when equal.
func (s *Store) SetState(ctx context.Context, bookID, page, state string) (Outcome, error) {
	if state == "" {
		return 0, ErrEmptyState
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Key{ID: bookID, Page: page}
	current, ok := s.rows[key]
	var outcome Outcome
	switch {
	case !ok:
		s.put(key, state)
		outcome = Inserted
	case current != state:
		s.put(key, state)
		outcome = Updated
	default:
		s.remove(key)
		outcome = Cleared
	}
	slog.Debug("annotation set", "book", bookID, "page", page, "state", state, "outcome", outcome.String())
	return outcome, s.persistLocked(ctx)
}

// MarkUnannotated gives defaultState to every page without a row and
// returns how many rows it inserted. Existing rows are never touched.
func (s *Store) MarkUnannotated(ctx context.Context, bookID string, pages []string, defaultState string) (int, error) {
	if defaultState == "" {
		return 0, ErrEmptyState
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0
	for _, page := range pages {
		key := Key{ID: bookID, Page: page}
		if _, ok := s.rows[key]; ok {
			continue
		}
		s.put(key, defaultState)
		inserted++
	}
	if inserted == 0 {
		return 0, nil
	}
	slog.Debug("annotations marked", "book", bookID, "state", defaultState, "inserted", inserted)
	return inserted, s.persistLocked(ctx)
}

// SetRange sets state on pages[from-1 : to], 1-based and inclusive. Unlike
// SetState it never clears. to past the last page is clamped.
func (s *Store) SetRange(ctx context.Context, bookID string, pages []string, from, to int, state string) (int, error) {
	if state == "" {
		return 0, ErrEmptyState
	}
	if from < 1 || from > to || from > len(pages) {
		return 0, fmt.Errorf("%w: %d-%d of %d pages", ErrInvalidRange, from, to, len(pages))
	}
	if to > len(pages) {
		to = len(pages)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, page := range pages[from-1 : to] {
		key := Key{ID: bookID, Page: page}
		if current, ok := s.rows[key]; ok && current == state {
			continue
		}
		s.put(key, state)
		changed++
	}
	slog.Debug("annotation range set", "book", bookID, "from", from, "to", to, "state", state, "changed", changed)
	if changed == 0 {
		return 0, nil
	}
	return changed, s.persistLocked(ctx)
}

// Completion is the percentage of pages that carry a state, rounded to two
// decimals. Rows for pages not in pages are not counted.
func (s *Store) Completion(bookID string, pages []string) float64 {
	if len(pages) == 0 {
		return 0
	}
	pct := float64(s.Annotated(bookID, pages)) / float64(len(pages)) * 100
	return math.Round(pct*100) / 100
}

func (s *Store) FirstUnannotated(bookID string, orderedPages []string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, page := range orderedPages {
		if _, ok := s.rows[Key{ID: bookID, Page: page}]; !ok {
			return page, true
		}
	}
	return "", false
}

func (s *Store) State(bookID, page string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.rows[Key{ID: bookID, Page: page}]
	return state, ok
}

// ForBook maps page to state for one book.
func (s *Store) ForBook(bookID string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string)
	for key, state := range s.rows {
		if key.ID == bookID {
			out[key.Page] = state
		}
	}
	return out
}

// Annotated counts the entries of pages that have a row.
func (s *Store) Annotated(bookID string, pages []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, page := range pages {
		if _, ok := s.rows[Key{ID: bookID, Page: page}]; ok {
			n++
		}
	}
	return n
}

// Rows returns the whole table ordered by ID, then Page.
func (s *Store) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowsLocked()
}

// Pending reports how many changes have not reached the backend yet.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush retries persisting pending changes.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	return s.persistLocked(ctx)
}

func (s *Store) put(key Key, state string) {
	s.rows[key] = state
	s.pending[key] = Change{Key: key, State: state}
}

func (s *Store) remove(key Key) {
	delete(s.rows, key)
	s.pending[key] = Change{Key: key, Deleted: true}
}

func (s *Store) rowsLocked() []Row {
	out := make([]Row, 0, len(s.rows))
	for key, state := range s.rows {
		out = append(out, Row{ID: key.ID, Page: key.Page, State: state})
	}
	sortRows(out)
	return out
}

func (s *Store) persistLocked(ctx context.Context) error {
	changes := make([]Change, 0, len(s.pending))
	for _, change := range s.pending {
		changes = append(changes, change)
	}
	sort.Slice(changes, func(i, j int) bool {
		return lessKey(changes[i].Key, changes[j].Key)
	})
	if err := s.backend.Sync(ctx, s.rowsLocked(), changes); err != nil {
		slog.Warn("annotations not persisted", "pending", len(changes), "err", err)
		return &PersistError{Err: err}
	}
	clear(s.pending)
	return nil
}

func sortRows(rows []Row) {
	sort.Slice(rows, func(i, j int) bool {
		return lessKey(Key{ID: rows[i].ID, Page: rows[i].Page}, Key{ID: rows[j].ID, Page: rows[j].Page})
	})
}

func lessKey(a, b Key) bool {
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.Page < b.Page
}
