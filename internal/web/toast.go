package web

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	toastInfo    = "info"
	toastSuccess = "success"
	toastWarning = "warning"
)

const (
	toastTTL        = 10 * time.Minute
	maxToastsPerKey = 20
)

type Toast struct {
	ID        string
	Message   string
	Kind      string
	CreatedAt time.Time
}

// toastStore queues flash messages per user or browser session until the
// next page render takes them.
type toastStore struct {
	mu    sync.Mutex
	byKey map[string][]Toast
}

func newToastStore() *toastStore {
	return &toastStore{byKey: make(map[string][]Toast)}
}

func (s *toastStore) Add(key string, toast Toast) {
	if key == "" {
		return
	}
	if toast.ID == "" {
		toast.ID = uuid.NewString()
	}
	if toast.CreatedAt.IsZero() {
		toast.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(time.Now().Add(-toastTTL))
	queued := append(s.byKey[key], toast)
	if len(queued) > maxToastsPerKey {
		queued = queued[len(queued)-maxToastsPerKey:]
	}
	s.byKey[key] = queued
}

// pruneLocked drops toasts created before cutoff and forgets keys left
// with none. Keys whose browser never comes back are only reclaimed here.
func (s *toastStore) pruneLocked(cutoff time.Time) {
	for key, toasts := range s.byKey {
		kept := toasts[:0]
		for _, toast := range toasts {
			if !toast.CreatedAt.Before(cutoff) {
				kept = append(kept, toast)
			}
		}
		if len(kept) == 0 {
			delete(s.byKey, key)
			continue
		}
		s.byKey[key] = kept
	}
}

// Take returns and forgets the unexpired toasts for key.
func (s *toastStore) Take(key string) []Toast {
	if key == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	toasts := s.byKey[key]
	delete(s.byKey, key)
	cutoff := time.Now().Add(-toastTTL)
	var out []Toast
	for _, toast := range toasts {
		if toast.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, toast)
	}
	return out
}

func toastKey(r *http.Request) string {
	if user, ok := CurrentUser(r.Context()); ok && strings.TrimSpace(user.Name) != "" {
		return "user:" + strings.TrimSpace(user.Name)
	}
	if id := SessionID(r.Context()); id != "" {
		return "session:" + id
	}
	return ""
}

func (s *Server) addToast(r *http.Request, kind, message string) {
	s.toasts.Add(toastKey(r), Toast{Kind: kind, Message: message})
}
