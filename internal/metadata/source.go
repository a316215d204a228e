package metadata

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Source holds the current catalog for a metadata path and swaps in a new
// one on Reload.
type Source struct {
	path    string
	current atomic.Pointer[Catalog]
	reloads atomic.Int64
}

func NewSource(path string) (*Source, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Source{path: path}
	s.current.Store(c)
	return s, nil
}

func (s *Source) Catalog() *Catalog {
	if s == nil {
		return Empty()
	}
	return s.current.Load()
}

// Reloads counts successful reloads after the initial load.
func (s *Source) Reloads() int64 {
	return s.reloads.Load()
}

// Reload re-reads the file. On error the previous catalog stays.
func (s *Source) Reload() error {
	c, err := Load(s.path)
	if err != nil {
		return err
	}
	s.current.Store(c)
	s.reloads.Add(1)
	slog.Info("metadata reloaded", "path", s.path, "records", c.Len())
	return nil
}

// Watch reloads the catalog whenever the metadata file is written, created,
// or renamed into place, until ctx is done. It watches the parent directory
// so editors that replace the file are seen.
func (s *Source) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	target := filepath.Clean(s.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		_ = watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
				} else {
					timer.Reset(reloadDebounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				if err := s.Reload(); err != nil {
					slog.Warn("metadata reload failed", "path", s.path, "err", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("metadata watcher error", "err", err)
			}
		}
	}()
	return nil
}
