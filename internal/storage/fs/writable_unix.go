//go:build unix

package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// CheckWritable reports an error wrapping os.ErrPermission when path, or
// the directory that would receive its replacement, refuses writes. Paths
// that do not exist yet are not an error.
func CheckWritable(path string) error {
	dir := filepath.Dir(path)
	if err := unix.Access(dir, unix.W_OK|unix.X_OK); err != nil && !errors.Is(err, unix.ENOENT) {
		return notWritable(dir, err)
	}
	if err := unix.Access(path, unix.W_OK); err != nil && !errors.Is(err, unix.ENOENT) {
		return notWritable(path, err)
	}
	return nil
}

func notWritable(path string, err error) error {
	return fmt.Errorf("%s: %w (%v)", path, os.ErrPermission, err)
}
