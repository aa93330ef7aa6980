// Package snapshot manages the device's read-only reference snapshot and the
// freshness policy that gates all offline work.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/accounts"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/agent/localstore"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/sentinel"
)

// MaxAge is the freshness horizon: offline work on a snapshot older than this
// is disabled rather than silently served stale.
const MaxAge = 72 * time.Hour

// Fetcher pulls reference data from the server while online.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, limit int) (*accounts.SnapshotPayload, error)
	SearchRecords(ctx context.Context, q string, streetID int64, limit int) ([]accounts.Account, error)
}

// Connectivity answers whether the device currently has a usable connection.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// Manager owns the snapshot lifecycle: refreshed only while online, read
// continuously while offline, never partially updated.
type Manager struct {
	store        *localstore.Store
	fetcher      Fetcher
	connectivity Connectivity
	logger       *slog.Logger
	limit        int
	clock        func() time.Time
}

type Option func(*Manager)

// WithClock injects a clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

func NewManager(store *localstore.Store, fetcher Fetcher, connectivity Connectivity, limit int, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		fetcher:      fetcher,
		connectivity: connectivity,
		logger:       logger,
		limit:        limit,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Refresh fetches the reference dataset and replaces the local snapshot. On
// any failure the prior snapshot stays fully intact.
func (m *Manager) Refresh(ctx context.Context) error {
	if !m.connectivity.Online(ctx) {
		return fmt.Errorf("snapshot refresh requires connectivity: %w", sentinel.ErrUnavailable)
	}

	payload, err := m.fetcher.FetchSnapshot(ctx, m.limit)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}

	syncedAt := m.clock()
	if err := m.store.ReplaceSnapshot(ctx, payload, syncedAt); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}

	m.logger.InfoContext(ctx, "snapshot refreshed",
		"total", payload.Total,
		"synced_at", syncedAt,
	)
	return nil
}

// IsFresh reports whether a snapshot exists and is within the freshness
// horizon.
func (m *Manager) IsFresh(ctx context.Context) (bool, error) {
	meta, err := m.store.SnapshotMeta(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return m.clock().Sub(meta.SyncedAt) <= MaxAge, nil
}

// RequiresFreshnessGate is the core correctness guard: true iff the device is
// offline and the snapshot is stale or absent. Callers must then behave as if
// no data exists rather than operating on stale assumptions.
func (m *Manager) RequiresFreshnessGate(ctx context.Context) (bool, error) {
	if m.connectivity.Online(ctx) {
		return false, nil
	}
	fresh, err := m.IsFresh(ctx)
	if err != nil {
		return false, err
	}
	return !fresh, nil
}

// Search finds records for selection: the live endpoint while online, the
// local snapshot otherwise. Behind the gate it returns an empty result.
func (m *Manager) Search(ctx context.Context, q string, streetID int64, limit int) ([]accounts.Account, error) {
	gated, err := m.RequiresFreshnessGate(ctx)
	if err != nil {
		return nil, err
	}
	if gated {
		return nil, nil
	}

	if m.connectivity.Online(ctx) {
		records, err := m.fetcher.SearchRecords(ctx, q, streetID, limit)
		if err == nil {
			return records, nil
		}
		m.logger.WarnContext(ctx, "live search failed, falling back to local snapshot", "error", err)
	}

	return m.store.SearchRecords(ctx, q, streetID, limit)
}

// Record returns a single record for selection, gated like Search.
func (m *Manager) Record(ctx context.Context, id int64) (*accounts.Account, error) {
	gated, err := m.RequiresFreshnessGate(ctx)
	if err != nil {
		return nil, err
	}
	if gated {
		return nil, fmt.Errorf("record %d: %w", id, sentinel.ErrNotFound)
	}
	return m.store.GetRecord(ctx, id)
}
