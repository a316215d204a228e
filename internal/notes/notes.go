// Package notes keeps one free-text note per book in an ID,Notes CSV file.
package notes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"pagetagger/internal/storage/csvtable"
)

var Header = []string{"ID", "Notes"}

// PersistError wraps a failed write; the in-memory note stands.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string {
	return "persist volume notes: " + e.Err.Error()
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

type Store struct {
	mu       sync.Mutex
	path     string
	lockWait time.Duration
	notes    map[string]string
	dirty    bool
}

// Open loads the notes at path. Writes wait up to lockWait for another
// writer's lock.
func Open(path string, lockWait time.Duration) (*Store, error) {
	records, err := csvtable.ReadFile(path, Header)
	if err != nil {
		return nil, fmt.Errorf("load volume notes: %w", err)
	}
	s := &Store{path: path, lockWait: lockWait, notes: make(map[string]string, len(records))}
	for _, rec := range records {
		if rec[0] == "" || strings.TrimSpace(rec[1]) == "" {
			continue
		}
		s.notes[rec[0]] = rec[1]
	}
	return s, nil
}

func (s *Store) Get(bookID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.notes[bookID]
	return text, ok
}

// Save replaces the note for bookID. Blank text removes it.
func (s *Store) Save(ctx context.Context, bookID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notes, bookID)
	if strings.TrimSpace(text) != "" {
		s.notes[bookID] = text
	}
	slog.Debug("volume note saved", "book", bookID, "chars", len(text))
	return s.persistLocked(ctx)
}

func (s *Store) Clear(ctx context.Context, bookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notes, bookID)
	slog.Debug("volume note cleared", "book", bookID)
	return s.persistLocked(ctx)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notes)
}

// Dirty reports whether memory holds changes the file does not.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Flush retries a write that failed earlier.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.persistLocked(ctx)
}

func (s *Store) persistLocked(_ context.Context) error {
	ids := make([]string, 0, len(s.notes))
	for id := range s.notes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	records := make([][]string, 0, len(ids))
	for _, id := range ids {
		records = append(records, []string{id, s.notes[id]})
	}
	if err := csvtable.WriteFile(s.path, Header, records, s.lockWait); err != nil {
		s.dirty = true
		slog.Warn("volume notes not persisted", "path", s.path, "err", err)
		return &PersistError{Err: err}
	}
	s.dirty = false
	return nil
}
