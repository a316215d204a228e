package fs

import (
	"path/filepath"
	"sync"
)

// Locker serializes writers of the same file inside this process. Paths are
// compared after cleaning and making them absolute, so "a/../t.csv" and
// "t.csv" share one mutex.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sync.Mutex)}
}

// Lock blocks until path is free and returns the matching unlock.
func (l *Locker) Lock(path string) func() {
	key := lockerKey(path)
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func lockerKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
