package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"pagetagger/internal/config"
	"pagetagger/internal/settings"
	"pagetagger/internal/workspace"
)

type Server struct {
	cfg    config.Config
	mux    *http.ServeMux
	views  *Templates
	auth   *Auth
	toasts *toastStore

	mu          sync.RWMutex
	settings    settings.Settings
	ws          *workspace.Workspace
	openErr     error
	stopWatcher context.CancelFunc
}

// NewServer loads the settings file named by cfg and, when the settings are
// complete, opens the workspace they describe.
func NewServer(cfg config.Config) (*Server, error) {
	auth, err := newAuth(cfg)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:    cfg,
		mux:    http.NewServeMux(),
		views:  MustParseTemplates(),
		auth:   auth,
		toasts: newToastStore(),
	}
	current, err := settings.Load(cfg.SettingsPath)
	if err != nil {
		return nil, err
	}
	if err := s.applySettings(context.Background(), current); err != nil {
		return nil, err
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.requireSettings(h)
	h = s.withSession(h)
	if s.auth != nil {
		h = s.auth.Middleware(h)
	}
	return logRequests(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /settings", s.handleSettings)
	s.mux.HandleFunc("POST /settings", s.handleSaveSettings)
	s.mux.HandleFunc("GET /book/{id}", s.handleBook)
	s.mux.HandleFunc("POST /book/{id}/annotate", s.handleAnnotate)
	s.mux.HandleFunc("POST /book/{id}/mark-all", s.handleMarkAll)
	s.mux.HandleFunc("POST /book/{id}/range", s.handleRange)
	s.mux.HandleFunc("GET /book/{id}/next-unannotated", s.handleNextUnannotated)
	s.mux.HandleFunc("POST /book/{id}/notes", s.handleSaveNotes)
	s.mux.HandleFunc("POST /book/{id}/notes/clear", s.handleClearNotes)
	s.mux.HandleFunc("GET /annotations", s.handleExport)
	s.mux.HandleFunc("GET /annotations.csv", s.handleExport)
}

// Close flushes and releases the current workspace.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopWatcher != nil {
		s.stopWatcher()
		s.stopWatcher = nil
	}
	err := s.ws.Close(context.Background())
	s.ws = nil
	return err
}

func (s *Server) workspace() (*workspace.Workspace, settings.Settings) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ws, s.settings
}

// applySettings swaps in a workspace for next. Stores whose files did not
// change are carried over. It refuses, leaving the current workspace and
// settings in place, when the swap would drop changes that could not be
// written or when a running workspace cannot be replaced. When there was no
// workspace and next cannot be opened the server stays on the settings
// screen and remembers why.
func (s *Server) applySettings(ctx context.Context, next settings.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ws *workspace.Workspace
	if next.Complete() {
		var err error
		ws, err = workspace.Reopen(ctx, s.cfg, s.ws, next)
		if err != nil {
			if s.ws != nil {
				slog.Warn("settings not applied", "err", err)
				return err
			}
			slog.Error("open workspace", "err", err)
			s.settings = next
			s.openErr = err
			return nil
		}
	} else {
		slog.Info("settings incomplete", "missing", next.Missing())
		if err := s.ws.Flush(ctx); err != nil {
			slog.Warn("settings not applied", "err", err)
			return fmt.Errorf("%w: %v", workspace.ErrUnsaved, err)
		}
		if err := s.ws.Close(ctx); err != nil {
			slog.Warn("close workspace", "err", err)
		}
	}

	if s.stopWatcher != nil {
		s.stopWatcher()
		s.stopWatcher = nil
	}
	s.ws = ws
	s.settings = next
	s.openErr = nil
	if ws == nil {
		return nil
	}
	if s.cfg.WatchMetadata && next.MetadataCSV != "" {
		watchCtx, cancel := context.WithCancel(context.Background())
		if err := ws.Metadata.Watch(watchCtx); err != nil {
			cancel()
			slog.Warn("metadata watch disabled", "path", next.MetadataCSV, "err", err)
			return nil
		}
		s.stopWatcher = cancel
	}
	return nil
}

func (s *Server) requireSettings(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/settings", "/healthz":
			next.ServeHTTP(w, r)
			return
		}
		if ws, _ := s.workspace(); ws == nil {
			http.Redirect(w, r, "/settings", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	ws, _ := s.workspace()
	if ws == nil {
		_, _ = w.Write([]byte("unconfigured\n"))
		return
	}
	_, _ = w.Write([]byte("ok\n"))
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

var errNoWorkspace = errors.New("workspace not configured")
