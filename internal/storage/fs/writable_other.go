//go:build !unix

package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// CheckWritable reports an error wrapping os.ErrPermission when path, or
// the directory that would receive its replacement, refuses writes. Paths
// that do not exist yet are not an error.
func CheckWritable(path string) error {
	if f, err := os.OpenFile(path, os.O_WRONLY, 0); err == nil {
		_ = f.Close()
	} else if !errors.Is(err, os.ErrNotExist) {
		return notWritable(path, err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".writable-*")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return notWritable(dir, err)
	}
	name := tmp.Name()
	_ = tmp.Close()
	_ = os.Remove(name)
	return nil
}

func notWritable(path string, err error) error {
	return fmt.Errorf("%s: %w (%v)", path, os.ErrPermission, err)
}
