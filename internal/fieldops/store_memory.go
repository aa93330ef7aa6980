package fieldops

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/sentinel"
)

const defaultListLimit = 100

// InMemoryStore backs field requests for tests and local development.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[uuid.UUID]Request
	byKey    map[string]uuid.UUID // requester_id + "\x00" + idempotency_key
	events   []ConnectionStateEvent
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests: make(map[uuid.UUID]Request),
		byKey:    make(map[string]uuid.UUID),
	}
}

func dedupeKey(requesterID, idempotencyKey string) string {
	return requesterID + "\x00" + idempotencyKey
}

func (s *InMemoryStore) Insert(_ context.Context, req *Request) (*Request, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupeKey(req.RequesterID, req.IdempotencyKey)
	if id, ok := s.byKey[key]; ok {
		existing := s.requests[id]
		return &existing, false, nil
	}

	stored := *req
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	stored.Status = StatusPending

	s.requests[stored.ID] = stored
	s.byKey[key] = stored.ID
	return &stored, true, nil
}

func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("field request %s: %w", id, sentinel.ErrNotFound)
	}
	return &req, nil
}

// GetForUpdate has no row lock in memory; the memory tx runner serializes
// whole transactions instead.
func (s *InMemoryStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*Request, error) {
	return s.Get(ctx, id)
}

func (s *InMemoryStore) List(_ context.Context, status Status, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Request
	for _, req := range s.requests {
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) MarkReviewed(_ context.Context, id uuid.UUID, status Status, reviewerID, reason string, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("mark reviewed with status %q: %w", status, sentinel.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return fmt.Errorf("field request %s: %w", id, sentinel.ErrNotFound)
	}
	if req.Status != StatusPending {
		return fmt.Errorf("field request %s already %s: %w", id, req.Status, sentinel.ErrConflict)
	}

	req.Status = status
	req.ReviewerID = reviewerID
	req.ReviewReason = reason
	reviewedAt := at
	req.ReviewedAt = &reviewedAt
	s.requests[id] = req
	return nil
}

func (s *InMemoryStore) AppendEvent(_ context.Context, event *ConnectionStateEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *event
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.events = append(s.events, stored)
	return nil
}

func (s *InMemoryStore) ListEvents(_ context.Context, recordID int64) ([]ConnectionStateEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ConnectionStateEvent
	for _, e := range s.events {
		if e.RecordID == recordID {
			out = append(out, e)
		}
	}
	return out, nil
}
