package audit

import (
	"context"
	"sync"
)

// InMemoryStore keeps a bounded trail of recent events.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []Event
	max    int
}

func NewInMemoryStore(max int) *InMemoryStore {
	if max <= 0 {
		max = 10000
	}
	return &InMemoryStore{max: max}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	if len(s.events) > s.max {
		s.events = s.events[len(s.events)-s.max:]
	}
	return nil
}

func (s *InMemoryStore) List(_ context.Context, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Event, 0, n)
	for i := len(s.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.events[i])
	}
	return out, nil
}
