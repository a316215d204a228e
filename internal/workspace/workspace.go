// Package workspace opens everything a settings record points at: the
// books directory, the annotation and notes tables, and the metadata file.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"pagetagger/internal/annotation"
	"pagetagger/internal/books"
	"pagetagger/internal/config"
	"pagetagger/internal/metadata"
	"pagetagger/internal/notes"
	"pagetagger/internal/settings"
)

var (
	ErrIncomplete = errors.New("settings incomplete")
	// ErrUnsaved means a store that would be dropped still holds changes
	// that could not be written.
	ErrUnsaved = errors.New("unsaved changes could not be written")
)

type Workspace struct {
	Settings    settings.Settings
	Library     *books.Library
	Annotations *annotation.Store
	Notes       *notes.Store
	Metadata    *metadata.Source

	// storeKey identifies where Annotations persists.
	storeKey string
}

// Open builds a workspace from complete settings. The store backend comes
// from cfg.
func Open(ctx context.Context, cfg config.Config, s settings.Settings) (*Workspace, error) {
	return open(ctx, cfg, s, nil, nil)
}

// Reopen builds the workspace for s from prev. Stores whose files did not
// change are carried over with whatever they still hold in memory. Stores
// that are dropped must be written first; if one cannot be, Reopen returns
// ErrUnsaved. On any error prev is left open and untouched.
func Reopen(ctx context.Context, cfg config.Config, prev *Workspace, s settings.Settings) (*Workspace, error) {
	if prev == nil {
		return Open(ctx, cfg, s)
	}
	if missing := s.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrIncomplete, strings.Join(missing, ", "))
	}
	var keepAnnotations *annotation.Store
	if prev.storeKey == storeKey(cfg, s) {
		keepAnnotations = prev.Annotations
	} else if err := prev.Annotations.Flush(ctx); err != nil {
		return nil, fmt.Errorf("%w: annotations: %v", ErrUnsaved, err)
	}
	var keepNotes *notes.Store
	if filepath.Clean(prev.Settings.VolumeNotesCSV) == filepath.Clean(s.VolumeNotesCSV) {
		keepNotes = prev.Notes
	} else if err := prev.Notes.Flush(ctx); err != nil {
		return nil, fmt.Errorf("%w: volume notes: %v", ErrUnsaved, err)
	}

	next, err := open(ctx, cfg, s, keepAnnotations, keepNotes)
	if err != nil {
		return nil, err
	}
	if keepAnnotations == nil {
		if err := prev.Annotations.Close(); err != nil {
			slog.Warn("close previous annotation store", "err", err)
		}
	}
	return next, nil
}

func open(ctx context.Context, cfg config.Config, s settings.Settings, store *annotation.Store, noteStore *notes.Store) (*Workspace, error) {
	if missing := s.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrIncomplete, strings.Join(missing, ", "))
	}
	opened := store == nil
	if opened {
		backend, err := openBackend(ctx, cfg, s)
		if err != nil {
			return nil, err
		}
		store, err = annotation.Open(ctx, backend)
		if err != nil {
			_ = backend.Close()
			return nil, err
		}
	}
	if noteStore == nil {
		var err error
		noteStore, err = notes.Open(s.VolumeNotesCSV, cfg.LockTimeout)
		if err != nil {
			if opened {
				_ = store.Close()
			}
			return nil, err
		}
	}
	meta, err := metadata.NewSource(s.MetadataCSV)
	if err != nil {
		// Metadata is display-only; a bad file must not block annotating.
		slog.Warn("metadata unavailable", "path", s.MetadataCSV, "err", err)
		meta, _ = metadata.NewSource("")
	}
	slog.Info("workspace opened",
		"books_dir", s.BooksDir,
		"annotations", s.AnnotationsCSV,
		"store", cfg.StoreBackend,
		"reused_store", !opened,
		"rows", len(store.Rows()),
		"pending", store.Pending(),
		"metadata_records", meta.Catalog().Len(),
	)
	return &Workspace{
		Settings:    s,
		Library:     books.New(s.BooksDir),
		Annotations: store,
		Notes:       noteStore,
		Metadata:    meta,
		storeKey:    storeKey(cfg, s),
	}, nil
}

func openBackend(ctx context.Context, cfg config.Config, s settings.Settings) (annotation.Backend, error) {
	switch cfg.StoreBackend {
	case "", config.StoreCSV:
		return annotation.NewCSVBackend(s.AnnotationsCSV, cfg.LockTimeout), nil
	case config.StoreSQLite:
		return annotation.OpenSQLiteBackend(ctx, cfg.SQLiteFile(s.AnnotationsCSV), annotation.SQLiteOptions{
			ImportCSV:   s.AnnotationsCSV,
			LockTimeout: cfg.LockTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func storeKey(cfg config.Config, s settings.Settings) string {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		return config.StoreSQLite + ":" + filepath.Clean(cfg.SQLiteFile(s.AnnotationsCSV))
	default:
		return config.StoreCSV + ":" + filepath.Clean(s.AnnotationsCSV)
	}
}

// Flush writes anything the stores still hold only in memory.
func (w *Workspace) Flush(ctx context.Context) error {
	if w == nil {
		return nil
	}
	return errors.Join(w.Annotations.Flush(ctx), w.Notes.Flush(ctx))
}

// Close flushes pending changes and releases the backend.
func (w *Workspace) Close(ctx context.Context) error {
	if w == nil {
		return nil
	}
	flushErr := w.Flush(ctx)
	if flushErr != nil {
		slog.Warn("unsaved changes lost on close", "pending", w.Annotations.Pending(), "err", flushErr)
	}
	return errors.Join(flushErr, w.Annotations.Close())
}

// BookSummary is one book with its progress.
type BookSummary struct {
	ID         string
	Pages      int
	Annotated  int
	Completion float64
	Metadata   metadata.Record
	HasMeta    bool
}

// Summarize reports progress for the given books. Books whose pages cannot
// be read are reported with zero pages.
func (w *Workspace) Summarize(bookIDs []string) []BookSummary {
	catalog := w.Metadata.Catalog()
	out := make([]BookSummary, 0, len(bookIDs))
	for _, id := range bookIDs {
		pages, err := w.Library.Pages(id)
		if err != nil {
			slog.Warn("read book pages", "book", id, "err", err)
		}
		rec, ok := catalog.Lookup(id)
		out = append(out, BookSummary{
			ID:         id,
			Pages:      len(pages),
			Annotated:  w.Annotations.Annotated(id, pages),
			Completion: w.Annotations.Completion(id, pages),
			Metadata:   rec,
			HasMeta:    ok,
		})
	}
	return out
}

// SearchBooks lists books whose ID or metadata matches query.
func (w *Workspace) SearchBooks(query string) ([]string, error) {
	all, err := w.Library.List()
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return all, nil
	}
	catalog := w.Metadata.Catalog()
	var out []string
	for _, id := range all {
		if catalog.Matches(id, query) {
			out = append(out, id)
		}
	}
	return out, nil
}
