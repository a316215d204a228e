// Package books reads the books directory: one folder per book, one text
// file per page.
package books

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"pagetagger/internal/storage/fs"
)

var ErrNotFound = errors.New("book not found")

const pageExt = ".txt"

type Library struct {
	Root string
}

func New(root string) *Library {
	return &Library{Root: root}
}

// List returns the folders under Root that hold at least one page, sorted.
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	var out []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		pages, err := l.Pages(entry.Name())
		if err != nil || len(pages) == 0 {
			continue
		}
		out = append(out, entry.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Pages returns the page file names of a book in reading order.
func (l *Library) Pages(bookID string) ([]string, error) {
	dir, err := fs.ChildPath(l.Root, bookID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var pages []string
	for _, entry := range entries {
		if entry.IsDir() || !isPage(entry.Name()) {
			continue
		}
		pages = append(pages, entry.Name())
	}
	sort.Strings(pages)
	return pages, nil
}

func (l *Library) ReadPage(bookID, page string) (string, error) {
	path, err := fs.ChildPath(l.Root, bookID, page)
	if err != nil {
		return "", err
	}
	if !isPage(page) {
		return "", fs.ErrUnsafePath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	return string(data), nil
}

func isPage(name string) bool {
	return strings.EqualFold(filepath.Ext(name), pageExt) && !strings.HasPrefix(name, ".")
}
