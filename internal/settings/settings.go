// Package settings holds the user-editable workspace settings, stored as a
// single JSON document.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/tailscale/hujson"

	"pagetagger/internal/storage/fs"
)

const (
	DefaultBooksPerPage = 10
	DefaultPagesPerView = 5
	DefaultStates       = "Front, Core, Back, Unknown"
)

type Settings struct {
	BooksDir       string `json:"books_dir"`
	AnnotationsCSV string `json:"annotations_csv"`
	VolumeNotesCSV string `json:"volume_notes_csv"`
	BooksPerPage   int    `json:"books_per_page"`
	PagesPerView   int    `json:"pages_per_view"`
	States         string `json:"states"`
	DefaultState   string `json:"default_state"`
	MetadataCSV    string `json:"metadata_csv,omitempty"`
}

func Defaults() Settings {
	return Settings{
		AnnotationsCSV: "annotations.csv",
		VolumeNotesCSV: "volume_notes.csv",
		BooksPerPage:   DefaultBooksPerPage,
		PagesPerView:   DefaultPagesPerView,
		States:         DefaultStates,
	}
}

// Load reads path. A missing file yields Defaults. Comments and trailing
// commas are accepted.
func Load(path string) (Settings, error) {
	s := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return s, fmt.Errorf("read settings: %w", err)
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return s, fmt.Errorf("parse settings %s: %w", path, err)
	}
	if err := json.Unmarshal(standardized, &s); err != nil {
		return s, fmt.Errorf("decode settings %s: %w", path, err)
	}
	s.normalize()
	return s, nil
}

// Save overwrites path with s.
func Save(path string, s Settings) error {
	s.normalize()
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := fs.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Missing names the required settings that are still empty.
func (s Settings) Missing() []string {
	var missing []string
	if strings.TrimSpace(s.BooksDir) == "" {
		missing = append(missing, "books_dir")
	}
	if strings.TrimSpace(s.AnnotationsCSV) == "" {
		missing = append(missing, "annotations_csv")
	}
	if strings.TrimSpace(s.VolumeNotesCSV) == "" {
		missing = append(missing, "volume_notes_csv")
	}
	if len(s.StateList()) == 0 {
		missing = append(missing, "states")
	}
	return missing
}

func (s Settings) Complete() bool {
	return len(s.Missing()) == 0
}

// StateList splits the comma-separated vocabulary, trimming blanks and
// dropping repeats.
func (s Settings) StateList() []string {
	var out []string
	for _, part := range strings.Split(s.States, ",") {
		part = strings.TrimSpace(part)
		if part == "" || slices.Contains(out, part) {
			continue
		}
		out = append(out, part)
	}
	return out
}

// DefaultMarkState is the state used by "mark all as": the configured
// default when it is part of the vocabulary, else the first state.
func (s Settings) DefaultMarkState() string {
	states := s.StateList()
	if len(states) == 0 {
		return ""
	}
	if def := strings.TrimSpace(s.DefaultState); def != "" && slices.Contains(states, def) {
		return def
	}
	return states[0]
}

func (s Settings) HasState(state string) bool {
	return slices.Contains(s.StateList(), state)
}

// FromForm builds settings from a submitted settings form.
func FromForm(values url.Values) (Settings, error) {
	s := Settings{
		BooksDir:       strings.TrimSpace(values.Get("books_dir")),
		AnnotationsCSV: strings.TrimSpace(values.Get("annotations_csv")),
		VolumeNotesCSV: strings.TrimSpace(values.Get("volume_notes_csv")),
		States:         strings.TrimSpace(values.Get("states")),
		DefaultState:   strings.TrimSpace(values.Get("default_state")),
		MetadataCSV:    strings.TrimSpace(values.Get("metadata_csv")),
	}
	var err error
	if s.BooksPerPage, err = positiveInt(values.Get("books_per_page"), DefaultBooksPerPage); err != nil {
		return s, fmt.Errorf("books per page: %w", err)
	}
	if s.PagesPerView, err = positiveInt(values.Get("pages_per_view"), DefaultPagesPerView); err != nil {
		return s, fmt.Errorf("pages per view: %w", err)
	}
	if s.DefaultState != "" && !s.HasState(s.DefaultState) {
		return s, fmt.Errorf("default state %q is not one of the states", s.DefaultState)
	}
	s.normalize()
	return s, nil
}

func positiveInt(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", raw)
	}
	if n < 1 {
		return 0, fmt.Errorf("must be at least 1, got %d", n)
	}
	return n, nil
}

func (s *Settings) normalize() {
	if s.BooksPerPage < 1 {
		s.BooksPerPage = DefaultBooksPerPage
	}
	if s.PagesPerView < 1 {
		s.PagesPerView = DefaultPagesPerView
	}
	s.States = strings.Join(s.StateList(), ", ")
}
