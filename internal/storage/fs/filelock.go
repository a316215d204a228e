package fs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked reports that another process holds the lock on a file.
var ErrLocked = errors.New("file is locked by another process")

const lockRetryDelay = 50 * time.Millisecond

type FileLock struct {
	lock *flock.Flock
}

// LockPath is the advisory lock file that guards path.
func LockPath(path string) string {
	return path + ".lock"
}

// TryLockFile takes the advisory lock for path without waiting.
func TryLockFile(path string) (*FileLock, error) {
	lock, err := newFlock(path)
	if err != nil {
		return nil, err
	}
	ok, err := lock.TryLock()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	return &FileLock{lock: lock}, nil
}

// AcquireFileLockWithTimeout waits up to timeout for the advisory lock for
// path. A non-positive timeout behaves like TryLockFile.
func AcquireFileLockWithTimeout(path string, timeout time.Duration) (*FileLock, error) {
	if timeout <= 0 {
		return TryLockFile(path)
	}
	lock, err := newFlock(path)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ok, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrLocked
		}
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	return &FileLock{lock: lock}, nil
}

func newFlock(path string) (*flock.Flock, error) {
	lockPath := LockPath(path)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, err
	}
	return flock.New(lockPath), nil
}

func (l *FileLock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
