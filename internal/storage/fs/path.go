package fs

import (
	"errors"
	"path/filepath"
	"strings"
)

var ErrUnsafePath = errors.New("unsafe path")

// ValidateName accepts a single path element: no separators, no NUL, not
// "." or "..".
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrUnsafePath
	}
	if strings.ContainsRune(name, 0) || strings.ContainsAny(name, `/\`) {
		return ErrUnsafePath
	}
	if name == "." || name == ".." {
		return ErrUnsafePath
	}
	return nil
}

// ChildPath joins root with the given single-element names, refusing
// anything that would leave root.
func ChildPath(root string, names ...string) (string, error) {
	if len(names) == 0 {
		return "", ErrUnsafePath
	}
	for _, name := range names {
		if err := ValidateName(name); err != nil {
			return "", err
		}
	}
	full := filepath.Join(append([]string{root}, names...)...)
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", ErrUnsafePath
	}
	return full, nil
}
