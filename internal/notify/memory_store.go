package notify

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps notifications in process. Used when Redis is not configured.
type MemoryStore struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string][]Notification
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:   time.Now,
		items: make(map[string][]Notification),
	}
}

func (s *MemoryStore) Save(_ context.Context, n Notification, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ExpiresAt.IsZero() {
		n.ExpiresAt = s.now().Add(ttl)
	}
	s.items[n.Scope] = append(s.prune(n.Scope), n)
	return nil
}

func (s *MemoryStore) Active(_ context.Context, scope string) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := s.prune(scope)
	out := make([]Notification, len(live))
	copy(out, live)
	return out, nil
}

func (s *MemoryStore) prune(scope string) []Notification {
	now := s.now()
	current := s.items[scope]
	live := current[:0]
	for _, n := range current {
		if n.ExpiresAt.After(now) {
			live = append(live, n)
		}
	}
	if len(live) == 0 {
		delete(s.items, scope)
		return nil
	}
	s.items[scope] = live
	return live
}
