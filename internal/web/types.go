package web

import (
	"html/template"

	"pagetagger/internal/books"
	"pagetagger/internal/metadata"
	"pagetagger/internal/settings"
	"pagetagger/internal/workspace"
)

type ViewData struct {
	Title           string
	ContentTemplate string
	ContentHTML     template.HTML
	Toasts          []Toast
	UserName        string

	// book list
	SearchQuery string
	Books       []workspace.BookSummary
	TotalBooks  int
	Pager       books.Pager

	// book view
	BookID       string
	Metadata     metadata.Record
	HasMetadata  bool
	Pages        []PageView
	PageCount    int
	Annotated    int
	Completion   float64
	States       []string
	DefaultState string
	NotesRaw     string
	NotesHTML    template.HTML

	// settings
	Settings      settings.Settings
	Missing       []string
	SettingsError string
}

// PageView is one book page as shown in the book view.
type PageView struct {
	Name     string
	Position int
	Anchor   string
	Text     string
	State    string
}
