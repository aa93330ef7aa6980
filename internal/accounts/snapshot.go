package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/platform/metrics"
	platformredis "github.com/OleOle19/sistema-agua-municipalidad/internal/platform/redis"
)

// SnapshotService assembles the bounded offline snapshot. Payloads are cached
// in Redis for a short TTL because every agent pulls the same dataset when a
// crew goes out in the morning. Cache failures degrade to a direct read; they
// never fail the request.
type SnapshotService struct {
	store    Store
	cache    *platformredis.Client
	ttl      time.Duration
	maxLimit int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewSnapshotService(store Store, cache *platformredis.Client, ttl time.Duration, maxLimit int, m *metrics.Metrics, logger *slog.Logger) *SnapshotService {
	return &SnapshotService{
		store:    store,
		cache:    cache,
		ttl:      ttl,
		maxLimit: maxLimit,
		metrics:  m,
		logger:   logger,
	}
}

// Build returns the snapshot payload for the given record limit.
func (s *SnapshotService) Build(ctx context.Context, limit int) (*SnapshotPayload, error) {
	if limit <= 0 || limit > s.maxLimit {
		limit = s.maxLimit
	}
	cacheKey := fmt.Sprintf("offline-snapshot:%d", limit)

	if s.cache != nil {
		raw, err := s.cache.Get(ctx, cacheKey).Bytes()
		if err == nil {
			var payload SnapshotPayload
			if err := json.Unmarshal(raw, &payload); err == nil {
				s.metrics.SnapshotCacheHits.Inc()
				s.metrics.SnapshotsServed.Inc()
				return &payload, nil
			}
			s.logger.WarnContext(ctx, "discarding corrupt snapshot cache entry", "key", cacheKey)
		}
		s.metrics.SnapshotCacheMisses.Inc()
	}

	streets, err := s.store.ListStreets(ctx)
	if err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}
	records, err := s.store.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}

	payload := &SnapshotPayload{
		Total:   len(records),
		Streets: streets,
		Records: records,
	}

	if s.cache != nil {
		raw, err := json.Marshal(payload)
		if err == nil {
			if err := s.cache.Set(ctx, cacheKey, raw, s.ttl).Err(); err != nil {
				s.logger.WarnContext(ctx, "snapshot cache write failed", "error", err)
			}
		}
	}

	s.metrics.SnapshotsServed.Inc()
	return payload, nil
}
