package web

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pagetagger/internal/config"
	"pagetagger/internal/settings"
	"pagetagger/internal/storage/fs"
)

type testEnv struct {
	t        *testing.T
	dir      string
	server   *Server
	handler  http.Handler
	cookies  []*http.Cookie
	settings settings.Settings
}

// newTestEnv builds a books directory holding bookA with the given number
// of pages and a complete settings file pointing at it.
func newTestEnv(t *testing.T, pages int, mutate func(*settings.Settings, *config.Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	bookDir := filepath.Join(dir, "books", "bookA")
	if err := os.MkdirAll(bookDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for i := 1; i <= pages; i++ {
		name := filepath.Join(bookDir, fmt.Sprintf("%04d.txt", i))
		if err := os.WriteFile(name, []byte(fmt.Sprintf("text of page %d", i)), 0o644); err != nil {
			t.Fatalf("write page: %v", err)
		}
	}

	s := settings.Defaults()
	s.BooksDir = filepath.Join(dir, "books")
	s.AnnotationsCSV = filepath.Join(dir, "annotations.csv")
	s.VolumeNotesCSV = filepath.Join(dir, "volume_notes.csv")
	s.PagesPerView = 2
	cfg := config.Config{
		SettingsPath: filepath.Join(dir, "settings.json"),
		StoreBackend: config.StoreCSV,
		LockTimeout:  100 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&s, &cfg)
	}
	if err := settings.Save(cfg.SettingsPath, s); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	return startEnv(t, dir, cfg, s)
}

func startEnv(t *testing.T, dir string, cfg config.Config, s settings.Settings) *testEnv {
	t.Helper()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return &testEnv{t: t, dir: dir, server: srv, handler: srv.Handler(), settings: s}
}

func (e *testEnv) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	e.t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for _, c := range e.cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if cookies := rec.Result().Cookies(); len(cookies) > 0 {
		e.cookies = cookies
	}
	return rec
}

func (e *testEnv) state(page string) (string, bool) {
	ws, _ := e.server.workspace()
	if ws == nil {
		e.t.Fatalf("workspace not open")
	}
	return ws.Annotations.State("bookA", page)
}

func expectRedirect(t *testing.T, rec *httptest.ResponseRecorder, location string) {
	t.Helper()
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Location"); got != location {
		t.Fatalf("expected redirect to %q, got %q", location, got)
	}
}

func TestSettingsGateRedirectsUntilConfigured(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Config{
		SettingsPath: filepath.Join(dir, "settings.json"),
		StoreBackend: config.StoreCSV,
	}
	env := startEnv(t, dir, cfg, settings.Defaults())

	for _, target := range []string{"/", "/book/bookA", "/annotations.csv"} {
		expectRedirect(t, env.do(http.MethodGet, target, nil), "/settings")
	}
	rec := env.do(http.MethodPost, "/book/bookA/annotate", url.Values{"page": {"0001.txt"}, "state": {"Front"}})
	expectRedirect(t, rec, "/settings")

	rec = env.do(http.MethodGet, "/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("settings page: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "books_dir") {
		t.Fatalf("expected missing books_dir to be listed")
	}
	rec = env.do(http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "unconfigured") {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}

	books := filepath.Join(dir, "books", "bookB")
	if err := os.MkdirAll(books, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(books, "0001.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	form := url.Values{
		"books_dir":        {filepath.Join(dir, "books")},
		"annotations_csv":  {filepath.Join(dir, "annotations.csv")},
		"volume_notes_csv": {filepath.Join(dir, "volume_notes.csv")},
		"states":           {"Front, Core, Back"},
		"books_per_page":   {"10"},
		"pages_per_view":   {"5"},
	}
	expectRedirect(t, env.do(http.MethodPost, "/settings", form), "/")

	rec = env.do(http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("index after settings: %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "bookB") || !strings.Contains(body, "Settings saved.") {
		t.Fatalf("expected book list with confirmation, got %s", body)
	}
	saved, err := settings.Load(cfg.SettingsPath)
	if err != nil {
		t.Fatalf("load saved settings: %v", err)
	}
	if saved.States != "Front, Core, Back" {
		t.Fatalf("unexpected saved states %q", saved.States)
	}
}

func TestSaveSettingsRejectsBadNumbers(t *testing.T) {
	env := newTestEnv(t, 1, nil)
	form := url.Values{
		"books_dir":        {env.settings.BooksDir},
		"annotations_csv":  {env.settings.AnnotationsCSV},
		"volume_notes_csv": {env.settings.VolumeNotesCSV},
		"states":           {"Front"},
		"books_per_page":   {"zero"},
	}
	rec := env.do(http.MethodPost, "/settings", form)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "books per page") {
		t.Fatalf("expected error message in page, got %s", rec.Body.String())
	}
}

func TestAnnotateToggles(t *testing.T) {
	env := newTestEnv(t, 5, nil)
	form := url.Values{"page": {"0003.txt"}, "state": {"Core"}}

	expectRedirect(t, env.do(http.MethodPost, "/book/bookA/annotate", form), "/book/bookA?p=2#page-3")
	if state, ok := env.state("0003.txt"); !ok || state != "Core" {
		t.Fatalf("expected Core, got %q %v", state, ok)
	}

	overwrite := url.Values{"page": {"0003.txt"}, "state": {"Back"}}
	env.do(http.MethodPost, "/book/bookA/annotate", overwrite)
	if state, _ := env.state("0003.txt"); state != "Back" {
		t.Fatalf("expected overwrite to Back, got %q", state)
	}

	env.do(http.MethodPost, "/book/bookA/annotate", overwrite)
	if _, ok := env.state("0003.txt"); ok {
		t.Fatalf("expected second click to clear the row")
	}

	data, err := os.ReadFile(env.settings.AnnotationsCSV)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if string(data) != "ID,Page,State\n" {
		t.Fatalf("expected header only, got %q", data)
	}
}

func TestAnnotateRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, 2, nil)

	rec := env.do(http.MethodPost, "/book/bookA/annotate", url.Values{"page": {"0001.txt"}, "state": {"Nope"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown state: expected 400, got %d", rec.Code)
	}
	rec = env.do(http.MethodPost, "/book/bookA/annotate", url.Values{"page": {"0099.txt"}, "state": {"Core"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown page: expected 400, got %d", rec.Code)
	}
	rec = env.do(http.MethodPost, "/book/missing/annotate", url.Values{"page": {"0001.txt"}, "state": {"Core"}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown book: expected 404, got %d", rec.Code)
	}
	rec = env.do(http.MethodGet, "/book/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown book view: expected 404, got %d", rec.Code)
	}
}

func TestRangeThenMarkAll(t *testing.T) {
	env := newTestEnv(t, 5, nil)

	rec := env.do(http.MethodPost, "/book/bookA/range", url.Values{"from": {"2"}, "to": {"4"}, "state": {"Core"}})
	expectRedirect(t, rec, "/book/bookA")
	for page, want := range map[string]string{"0002.txt": "Core", "0003.txt": "Core", "0004.txt": "Core"} {
		if got, _ := env.state(page); got != want {
			t.Fatalf("%s: expected %q, got %q", page, want, got)
		}
	}
	for _, page := range []string{"0001.txt", "0005.txt"} {
		if _, ok := env.state(page); ok {
			t.Fatalf("%s should be unannotated", page)
		}
	}

	expectRedirect(t, env.do(http.MethodPost, "/book/bookA/mark-all", url.Values{"p": {"1"}}), "/book/bookA")
	for page, want := range map[string]string{"0001.txt": "Front", "0003.txt": "Core", "0005.txt": "Front"} {
		if got, _ := env.state(page); got != want {
			t.Fatalf("%s: expected %q, got %q", page, want, got)
		}
	}

	rec = env.do(http.MethodGet, "/", nil)
	if !strings.Contains(rec.Body.String(), "100.00%") {
		t.Fatalf("expected full completion on index, got %s", rec.Body.String())
	}

	rec = env.do(http.MethodPost, "/book/bookA/range", url.Values{"from": {"4"}, "to": {"2"}, "state": {"Core"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("reversed range: expected 400, got %d", rec.Code)
	}
	rec = env.do(http.MethodPost, "/book/bookA/range", url.Values{"from": {"a"}, "to": {"2"}, "state": {"Core"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric range: expected 400, got %d", rec.Code)
	}
}

func TestNextUnannotatedJumpsToViewPage(t *testing.T) {
	env := newTestEnv(t, 3, nil)

	expectRedirect(t, env.do(http.MethodGet, "/book/bookA/next-unannotated", nil), "/book/bookA#page-1")

	env.do(http.MethodPost, "/book/bookA/range", url.Values{"from": {"1"}, "to": {"2"}, "state": {"Front"}})
	expectRedirect(t, env.do(http.MethodGet, "/book/bookA/next-unannotated", nil), "/book/bookA?p=2#page-3")

	env.do(http.MethodPost, "/book/bookA/annotate", url.Values{"page": {"0003.txt"}, "state": {"Back"}})
	expectRedirect(t, env.do(http.MethodGet, "/book/bookA/next-unannotated?p=2", nil), "/book/bookA?p=2")

	rec := env.do(http.MethodGet, "/book/bookA?p=2", nil)
	if !strings.Contains(rec.Body.String(), "Every page of this book is annotated.") {
		t.Fatalf("expected completion flash, got %s", rec.Body.String())
	}
}

func TestBookViewShowsPagesAndNotes(t *testing.T) {
	env := newTestEnv(t, 3, func(s *settings.Settings, _ *config.Config) {
		s.PagesPerView = 5
	})

	expectRedirect(t, env.do(http.MethodPost, "/book/bookA/notes", url.Values{"notes": {"Has **foldouts**"}}), "/book/bookA")
	env.do(http.MethodPost, "/book/bookA/annotate", url.Values{"page": {"0002.txt"}, "state": {"Core"}})

	rec := env.do(http.MethodGet, "/book/bookA", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("book view: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"text of page 1",
		"text of page 3",
		"<strong>foldouts</strong>",
		`value="Core" class="active"`,
		"1 of 3 pages annotated (33.33%)",
		"Notes saved.",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in book view, got %s", want, body)
		}
	}

	expectRedirect(t, env.do(http.MethodPost, "/book/bookA/notes/clear", url.Values{}), "/book/bookA")
	ws, _ := env.server.workspace()
	if _, ok := ws.Notes.Get("bookA"); ok {
		t.Fatalf("expected notes cleared")
	}
	data, err := os.ReadFile(env.settings.VolumeNotesCSV)
	if err != nil {
		t.Fatalf("read notes csv: %v", err)
	}
	if string(data) != "ID,Notes\n" {
		t.Fatalf("expected empty notes table, got %q", data)
	}
}

func TestExportDownloadsCSV(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	env.do(http.MethodPost, "/book/bookA/annotate", url.Values{"page": {"0002.txt"}, "state": {"Back"}})
	env.do(http.MethodPost, "/book/bookA/annotate", url.Values{"page": {"0001.txt"}, "state": {"Front"}})

	for _, target := range []string{"/annotations", "/annotations.csv"} {
		rec := env.do(http.MethodGet, target, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: %d", target, rec.Code)
		}
		if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "annotations.csv") {
			t.Fatalf("%s: unexpected disposition %q", target, got)
		}
		want := "ID,Page,State\nbookA,0001.txt,Front\nbookA,0002.txt,Back\n"
		if rec.Body.String() != want {
			t.Fatalf("%s: expected %q, got %q", target, want, rec.Body.String())
		}
	}
}

func TestLockedAnnotationsFileKeepsMemory(t *testing.T) {
	env := newTestEnv(t, 2, nil)
	held, err := fs.TryLockFile(env.settings.AnnotationsCSV)
	if err != nil {
		t.Fatalf("hold lock: %v", err)
	}

	rec := env.do(http.MethodPost, "/book/bookA/annotate", url.Values{"page": {"0001.txt"}, "state": {"Front"}})
	expectRedirect(t, rec, "/book/bookA#page-1")
	if state, ok := env.state("0001.txt"); !ok || state != "Front" {
		t.Fatalf("expected in-memory Front, got %q %v", state, ok)
	}
	if _, err := os.Stat(env.settings.AnnotationsCSV); !os.IsNotExist(err) {
		t.Fatalf("expected no annotations file while locked, got %v", err)
	}
	rec = env.do(http.MethodGet, "/book/bookA", nil)
	if !strings.Contains(rec.Body.String(), "not saved to disk") {
		t.Fatalf("expected warning flash, got %s", rec.Body.String())
	}

	if err := held.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	env.do(http.MethodPost, "/book/bookA/annotate", url.Values{"page": {"0002.txt"}, "state": {"Back"}})
	data, err := os.ReadFile(env.settings.AnnotationsCSV)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	want := "ID,Page,State\nbookA,0001.txt,Front\nbookA,0002.txt,Back\n"
	if string(data) != want {
		t.Fatalf("expected pending row written with the next save, got %q", data)
	}
}

func TestBasicAuthGuardsEverythingButHealth(t *testing.T) {
	env := newTestEnv(t, 1, func(_ *settings.Settings, cfg *config.Config) {
		cfg.AuthUser = "reader"
		cfg.AuthPass = "secret"
	})

	rec := env.do(http.MethodGet, "/", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = env.do(http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("reader", "secret")
	ok := httptest.NewRecorder()
	env.handler.ServeHTTP(ok, req)
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", ok.Code)
	}
	if !strings.Contains(ok.Body.String(), "reader") {
		t.Fatalf("expected user name in header")
	}
}

func settingsForm(s settings.Settings) url.Values {
	return url.Values{
		"books_dir":        {s.BooksDir},
		"annotations_csv":  {s.AnnotationsCSV},
		"volume_notes_csv": {s.VolumeNotesCSV},
		"metadata_csv":     {s.MetadataCSV},
		"states":           {s.States},
		"default_state":    {s.DefaultState},
		"books_per_page":   {fmt.Sprint(s.BooksPerPage)},
		"pages_per_view":   {fmt.Sprint(s.PagesPerView)},
	}
}

func TestResavingSettingsKeepsUnwrittenAnnotations(t *testing.T) {
	env := newTestEnv(t, 3, nil)
	held, err := fs.TryLockFile(env.settings.AnnotationsCSV)
	if err != nil {
		t.Fatalf("hold lock: %v", err)
	}
	env.do(http.MethodPost, "/book/bookA/annotate", url.Values{"page": {"0001.txt"}, "state": {"Front"}})

	changed := env.settings
	changed.PagesPerView = 3
	expectRedirect(t, env.do(http.MethodPost, "/settings", settingsForm(changed)), "/")

	if state, ok := env.state("0001.txt"); !ok || state != "Front" {
		t.Fatalf("expected unwritten annotation to survive the settings save, got %q %v", state, ok)
	}
	ws, cur := env.server.workspace()
	if cur.PagesPerView != 3 {
		t.Fatalf("expected new settings in use, got pages_per_view=%d", cur.PagesPerView)
	}
	if ws.Annotations.Pending() != 1 {
		t.Fatalf("expected the change still pending, got %d", ws.Annotations.Pending())
	}

	if err := held.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	env.do(http.MethodPost, "/book/bookA/annotate", url.Values{"page": {"0002.txt"}, "state": {"Core"}})
	data, err := os.ReadFile(env.settings.AnnotationsCSV)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	want := "ID,Page,State\nbookA,0001.txt,Front\nbookA,0002.txt,Core\n"
	if string(data) != want {
		t.Fatalf("expected both rows written, got %q", data)
	}
}

func TestSettingsSwapRefusedWhileChangesUnwritten(t *testing.T) {
	env := newTestEnv(t, 3, nil)
	held, err := fs.TryLockFile(env.settings.AnnotationsCSV)
	if err != nil {
		t.Fatalf("hold lock: %v", err)
	}
	defer func() { _ = held.Release() }()
	env.do(http.MethodPost, "/book/bookA/annotate", url.Values{"page": {"0001.txt"}, "state": {"Front"}})

	moved := env.settings
	moved.AnnotationsCSV = filepath.Join(env.dir, "elsewhere.csv")
	moved.PagesPerView = 4
	rec := env.do(http.MethodPost, "/settings", settingsForm(moved))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "previous settings stay in use") {
		t.Fatalf("expected warning on settings page, got %s", rec.Body.String())
	}

	if state, ok := env.state("0001.txt"); !ok || state != "Front" {
		t.Fatalf("expected annotation kept in memory, got %q %v", state, ok)
	}
	_, cur := env.server.workspace()
	if cur.AnnotationsCSV != env.settings.AnnotationsCSV || cur.PagesPerView != env.settings.PagesPerView {
		t.Fatalf("expected previous settings in use, got %+v", cur)
	}
	saved, err := settings.Load(filepath.Join(env.dir, "settings.json"))
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if saved.AnnotationsCSV != env.settings.AnnotationsCSV {
		t.Fatalf("expected settings file untouched, got %q", saved.AnnotationsCSV)
	}

	rec = env.do(http.MethodPost, "/settings", settingsForm(moved))
	if rec.Code != http.StatusConflict {
		t.Fatalf("still locked: expected 409, got %d", rec.Code)
	}
	if err := held.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	expectRedirect(t, env.do(http.MethodPost, "/settings", settingsForm(moved)), "/")
	data, err := os.ReadFile(env.settings.AnnotationsCSV)
	if err != nil {
		t.Fatalf("read old csv: %v", err)
	}
	if string(data) != "ID,Page,State\nbookA,0001.txt,Front\n" {
		t.Fatalf("expected pending row flushed to the old file, got %q", data)
	}
}
