package accounts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/sentinel"
)

const defaultSearchLimit = 50

// InMemoryStore backs the canonical register for tests and local development.
type InMemoryStore struct {
	mu       sync.RWMutex
	accounts map[int64]Account
	streets  map[int64]Street
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		accounts: make(map[int64]Account),
		streets:  make(map[int64]Street),
	}
}

// Seed loads streets and accounts, replacing existing entries with the same id.
func (s *InMemoryStore) Seed(streets []Street, accounts []Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range streets {
		s.streets[st.ID] = st
	}
	for _, a := range accounts {
		s.accounts[a.ID] = a
	}
}

func (s *InMemoryStore) Get(_ context.Context, id int64) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, sentinel.ErrNotFound)
	}
	return &a, nil
}

// GetForUpdate has no row lock in memory; the memory tx runner serializes
// whole transactions instead.
func (s *InMemoryStore) GetForUpdate(ctx context.Context, id int64) (*Account, error) {
	return s.Get(ctx, id)
}

func (s *InMemoryStore) Update(_ context.Context, account *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.ID]; !ok {
		return fmt.Errorf("account %d: %w", account.ID, sentinel.ErrNotFound)
	}
	updated := *account
	updated.UpdatedAt = time.Now()
	s.accounts[account.ID] = updated
	return nil
}

func (s *InMemoryStore) Search(_ context.Context, q string, streetID int64, limit int) ([]Account, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	q = strings.ToLower(strings.TrimSpace(q))

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Account
	for _, a := range s.accounts {
		if streetID != 0 && a.StreetID != streetID {
			continue
		}
		if q != "" && !matchesQuery(a, q) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesQuery(a Account, q string) bool {
	return strings.Contains(strings.ToLower(a.FullName), q) ||
		strings.Contains(strings.ToLower(a.TaxID), q) ||
		strings.Contains(strings.ToLower(a.MunicipalCode), q) ||
		strings.Contains(strings.ToLower(a.Address), q)
}

func (s *InMemoryStore) List(_ context.Context, limit int) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts), nil
}

func (s *InMemoryStore) ListStreets(_ context.Context) ([]Street, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Street, 0, len(s.streets))
	for _, st := range s.streets {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
