package web

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"

	"pagetagger/internal/annotation"
	"pagetagger/internal/books"
	"pagetagger/internal/notes"
	"pagetagger/internal/settings"
	"pagetagger/internal/storage/fs"
	"pagetagger/internal/workspace"
)

var mdRenderer = goldmark.New()

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	ws, cur := s.workspace()
	if ws == nil {
		http.Redirect(w, r, "/settings", http.StatusSeeOther)
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	ids, err := ws.SearchBooks(query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	pager := books.Paginate(len(ids), cur.BooksPerPage, queryInt(r, "p", 1))
	data := s.viewData(r, "Books", "index")
	data.SearchQuery = query
	data.TotalBooks = len(ids)
	data.Pager = pager
	data.Books = ws.Summarize(ids[pager.Start:pager.End])
	s.views.RenderPage(w, data)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	_, cur := s.workspace()
	s.renderSettings(w, r, http.StatusOK, cur, "")
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	next, err := settings.FromForm(r.PostForm)
	if err != nil {
		s.renderSettings(w, r, http.StatusBadRequest, next, err.Error())
		return
	}
	if err := s.applySettings(r.Context(), next); err != nil {
		msg := "Settings not applied, the previous settings stay in use: " + err.Error()
		s.renderSettings(w, r, http.StatusConflict, next, msg)
		return
	}
	if err := settings.Save(s.cfg.SettingsPath, next); err != nil {
		s.renderSettings(w, r, http.StatusInternalServerError, next, err.Error())
		return
	}
	slog.Info("settings saved", "path", s.cfg.SettingsPath)

	s.mu.RLock()
	ws, openErr := s.ws, s.openErr
	s.mu.RUnlock()
	if ws == nil {
		msg := "Fill in the required settings."
		if openErr != nil {
			msg = openErr.Error()
		}
		s.renderSettings(w, r, http.StatusOK, next, msg)
		return
	}
	s.addToast(r, toastSuccess, "Settings saved.")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) renderSettings(w http.ResponseWriter, r *http.Request, status int, cur settings.Settings, message string) {
	if message == "" {
		s.mu.RLock()
		if s.openErr != nil {
			message = s.openErr.Error()
		}
		s.mu.RUnlock()
	}
	data := s.viewData(r, "Settings", "settings")
	data.Settings = cur
	data.Missing = cur.Missing()
	data.SettingsError = message
	s.views.RenderPageStatus(w, status, data)
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	ws, cur, id, pages, ok := s.loadBook(w, r)
	if !ok {
		return
	}
	pager := books.Paginate(len(pages), cur.PagesPerView, queryInt(r, "p", 1))
	states := ws.Annotations.ForBook(id)

	views := make([]PageView, 0, pager.End-pager.Start)
	for i := pager.Start; i < pager.End; i++ {
		text, err := ws.Library.ReadPage(id, pages[i])
		if err != nil {
			slog.Warn("read page", "book", id, "page", pages[i], "err", err)
			text = ""
		}
		views = append(views, PageView{
			Name:     pages[i],
			Position: i + 1,
			Anchor:   pageAnchor(i + 1),
			Text:     text,
			State:    states[pages[i]],
		})
	}

	data := s.viewData(r, id, "book")
	data.BookID = id
	data.Pager = pager
	data.Pages = views
	data.PageCount = len(pages)
	data.Annotated = ws.Annotations.Annotated(id, pages)
	data.Completion = ws.Annotations.Completion(id, pages)
	data.States = cur.StateList()
	data.DefaultState = cur.DefaultMarkState()
	data.Metadata, data.HasMetadata = ws.Metadata.Catalog().Lookup(id)
	if text, ok := ws.Notes.Get(id); ok {
		data.NotesRaw = text
		var buf bytes.Buffer
		if err := mdRenderer.Convert([]byte(text), &buf); err != nil {
			slog.Warn("render notes", "book", id, "err", err)
		} else {
			data.NotesHTML = template.HTML(buf.String())
		}
	}
	s.views.RenderPage(w, data)
}

func (s *Server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	ws, cur, id, pages, ok := s.loadBook(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	page := r.PostForm.Get("page")
	state := r.PostForm.Get("state")
	position := slices.Index(pages, page)
	if position < 0 {
		http.Error(w, fmt.Sprintf("unknown page %q", page), http.StatusBadRequest)
		return
	}
	if !cur.HasState(state) {
		http.Error(w, fmt.Sprintf("unknown state %q", state), http.StatusBadRequest)
		return
	}
	outcome, err := ws.Annotations.SetState(r.Context(), id, page, state)
	if !s.reportWrite(w, r, err) {
		return
	}
	slog.Info("page annotated", "book", id, "page", page, "state", state, "outcome", outcome)
	target := bookViewURL(id, books.PageOfIndex(position, cur.PagesPerView)) + "#" + pageAnchor(position+1)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) handleMarkAll(w http.ResponseWriter, r *http.Request) {
	ws, cur, id, pages, ok := s.loadBook(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	state := cur.DefaultMarkState()
	inserted, err := ws.Annotations.MarkUnannotated(r.Context(), id, pages, state)
	if !s.reportWrite(w, r, err) {
		return
	}
	s.addToast(r, toastSuccess, fmt.Sprintf("Marked %d unannotated pages as %s.", inserted, state))
	http.Redirect(w, r, bookViewURL(id, formInt(r, "p", 1)), http.StatusSeeOther)
}

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	ws, cur, id, pages, ok := s.loadBook(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	from, errFrom := strconv.Atoi(strings.TrimSpace(r.PostForm.Get("from")))
	to, errTo := strconv.Atoi(strings.TrimSpace(r.PostForm.Get("to")))
	if errFrom != nil || errTo != nil {
		http.Error(w, "from and to must be page numbers", http.StatusBadRequest)
		return
	}
	state := r.PostForm.Get("state")
	if !cur.HasState(state) {
		http.Error(w, fmt.Sprintf("unknown state %q", state), http.StatusBadRequest)
		return
	}
	changed, err := ws.Annotations.SetRange(r.Context(), id, pages, from, to, state)
	if !s.reportWrite(w, r, err) {
		return
	}
	s.addToast(r, toastSuccess, fmt.Sprintf("Set pages %d-%d to %s (%d changed).", from, min(to, len(pages)), state, changed))
	http.Redirect(w, r, bookViewURL(id, books.PageOfIndex(from-1, cur.PagesPerView)), http.StatusSeeOther)
}

func (s *Server) handleNextUnannotated(w http.ResponseWriter, r *http.Request) {
	ws, cur, id, pages, ok := s.loadBook(w, r)
	if !ok {
		return
	}
	page, found := ws.Annotations.FirstUnannotated(id, pages)
	if !found {
		s.addToast(r, toastInfo, "Every page of this book is annotated.")
		http.Redirect(w, r, bookViewURL(id, queryInt(r, "p", 1)), http.StatusSeeOther)
		return
	}
	position := slices.Index(pages, page)
	target := bookViewURL(id, books.PageOfIndex(position, cur.PagesPerView)) + "#" + pageAnchor(position+1)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) handleSaveNotes(w http.ResponseWriter, r *http.Request) {
	ws, _, id, _, ok := s.loadBook(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	text := r.PostForm.Get("notes")
	if !s.reportWrite(w, r, ws.Notes.Save(r.Context(), id, text)) {
		return
	}
	if strings.TrimSpace(text) == "" {
		s.addToast(r, toastSuccess, "Notes cleared.")
	} else {
		s.addToast(r, toastSuccess, "Notes saved.")
	}
	http.Redirect(w, r, bookViewURL(id, formInt(r, "p", 1)), http.StatusSeeOther)
}

func (s *Server) handleClearNotes(w http.ResponseWriter, r *http.Request) {
	ws, _, id, _, ok := s.loadBook(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !s.reportWrite(w, r, ws.Notes.Clear(r.Context(), id)) {
		return
	}
	s.addToast(r, toastSuccess, "Notes cleared.")
	http.Redirect(w, r, bookViewURL(id, formInt(r, "p", 1)), http.StatusSeeOther)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ws, _ := s.workspace()
	if ws == nil {
		http.Error(w, errNoWorkspace.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="annotations.csv"`)
	if err := ws.Annotations.WriteCSV(w); err != nil {
		slog.Error("export annotations", "err", err)
	}
}

// loadBook resolves the {id} path value to a book with at least one page.
// It writes the error response itself and reports false when it did.
func (s *Server) loadBook(w http.ResponseWriter, r *http.Request) (*workspace.Workspace, settings.Settings, string, []string, bool) {
	ws, cur := s.workspace()
	if ws == nil {
		http.Redirect(w, r, "/settings", http.StatusSeeOther)
		return nil, cur, "", nil, false
	}
	id := r.PathValue("id")
	pages, err := ws.Library.Pages(id)
	switch {
	case errors.Is(err, books.ErrNotFound), errors.Is(err, fs.ErrUnsafePath):
		http.NotFound(w, r)
		return nil, cur, "", nil, false
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, cur, "", nil, false
	case len(pages) == 0:
		http.NotFound(w, r)
		return nil, cur, "", nil, false
	}
	return ws, cur, id, pages, true
}

// reportWrite turns a store error into a response. A failed write to disk
// is only a warning since the change is kept in memory. It reports whether
// the caller should go on with its redirect.
func (s *Server) reportWrite(w http.ResponseWriter, r *http.Request, err error) bool {
	if err == nil {
		return true
	}
	var annErr *annotation.PersistError
	var notesErr *notes.PersistError
	switch {
	case errors.As(err, &annErr), errors.As(err, &notesErr):
		s.addToast(r, toastWarning, "Change kept but not saved to disk: "+err.Error())
		return true
	case errors.Is(err, annotation.ErrInvalidRange), errors.Is(err, annotation.ErrEmptyState):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return false
	}
}

func (s *Server) viewData(r *http.Request, title, content string) ViewData {
	data := ViewData{
		Title:           title,
		ContentTemplate: content,
		Toasts:          s.toasts.Take(toastKey(r)),
	}
	if user, ok := CurrentUser(r.Context()); ok {
		data.UserName = user.Name
	}
	return data
}

func bookViewURL(id string, view int) string {
	u := "/book/" + url.PathEscape(id)
	if view > 1 {
		u += "?p=" + strconv.Itoa(view)
	}
	return u
}

func pageAnchor(position int) string {
	return "page-" + strconv.Itoa(position)
}

func queryInt(r *http.Request, key string, fallback int) int {
	return parseIntOr(r.URL.Query().Get(key), fallback)
}

func formInt(r *http.Request, key string, fallback int) int {
	return parseIntOr(r.PostForm.Get(key), fallback)
}

func parseIntOr(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return n
}
