// Package queue manages the durable mutation queue: pending field submissions
// waiting for delivery, retried one at a time, never duplicated server-side
// thanks to their idempotency keys.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/agent/api"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/agent/localstore"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/fieldops"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/sentinel"
)

// ErrBusy is returned when another attempt or removal already holds the item.
var ErrBusy = errors.New("queue item busy")

// DefaultMaxAuthRetries bounds consecutive auth failures before an item is
// blocked. Auth failures stay classified as transient, but an expired
// credential must not retry silently forever.
const DefaultMaxAuthRetries = 5

// Store is the durable queue surface of the local store.
type Store interface {
	InsertQueueItem(ctx context.Context, item *localstore.QueueItem) error
	GetQueueItem(ctx context.Context, key string) (*localstore.QueueItem, error)
	ListQueueItems(ctx context.Context, userID string) ([]localstore.QueueItem, error)
	UpdateQueueItem(ctx context.Context, item *localstore.QueueItem) error
	DeleteQueueItem(ctx context.Context, key string) error
}

// Sender delivers one submission to the server.
type Sender interface {
	Submit(ctx context.Context, sub fieldops.Submission) error
}

// Connectivity answers whether the device currently has a usable connection.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// Outcome is the result of one delivery attempt.
type Outcome int

const (
	// OutcomeDelivered: server confirmed, item deleted.
	OutcomeDelivered Outcome = iota
	// OutcomeRetry: transient failure, item stays pending.
	OutcomeRetry
	// OutcomeBlocked: permanent failure, item needs operator action.
	OutcomeBlocked
)

// Manager owns queue mutations. At most one in-flight attempt per key at any
// time: an action key marks the item busy so a UI-triggered retry and an
// automatic flush cannot race the same item.
type Manager struct {
	store        Store
	sender       Sender
	connectivity Connectivity
	logger       *slog.Logger

	maxAuthRetries int
	clock          func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
}

type Option func(*Manager)

// WithClock injects a clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithMaxAuthRetries overrides the auth-failure escalation threshold.
func WithMaxAuthRetries(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAuthRetries = n
		}
	}
}

func NewManager(store Store, sender Sender, connectivity Connectivity, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		sender:         sender,
		connectivity:   connectivity,
		logger:         logger,
		maxAuthRetries: DefaultMaxAuthRetries,
		clock:          time.Now,
		active:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue stores a submission that could not be confirmed as delivered. The
// idempotency key ties the stored item to at most one server-side effect.
func (m *Manager) Enqueue(ctx context.Context, userID string, ref localstore.RecordRef, payload fieldops.Submission) (*localstore.QueueItem, error) {
	if payload.IdempotencyKey == "" {
		payload.IdempotencyKey = BuildKey(userID, payload.RecordID)
	}

	item := &localstore.QueueItem{
		IdempotencyKey: payload.IdempotencyKey,
		UserID:         userID,
		CreatedAt:      m.clock(),
		Status:         localstore.StatusPending,
		RecordRef:      ref,
		Payload:        payload,
	}
	if err := m.store.InsertQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("enqueue submission: %w", err)
	}

	m.logger.InfoContext(ctx, "submission queued",
		"idempotency_key", item.IdempotencyKey,
		"record_id", ref.ID,
	)
	return item, nil
}

// BuildKey builds a fresh idempotency key for one logical submission.
func BuildKey(userID string, recordID int64) string {
	return fmt.Sprintf("field:%s:%d:%s", userID, recordID, uuid.NewString())
}

// ListForUser returns the user's items in creation order.
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]localstore.QueueItem, error) {
	return m.store.ListQueueItems(ctx, userID)
}

func (m *Manager) acquire(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.active[key]; held {
		return false
	}
	m.active[key] = struct{}{}
	return true
}

func (m *Manager) release(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, key)
}

// Attempt retries delivery of a single item. Offline attempts keep the item
// pending; online failures are classified into transient (stays pending) or
// permanent (blocked). Confirmed delivery deletes the item.
func (m *Manager) Attempt(ctx context.Context, key string) (Outcome, error) {
	if !m.acquire(key) {
		return OutcomeRetry, ErrBusy
	}
	defer m.release(key)

	item, err := m.store.GetQueueItem(ctx, key)
	if err != nil {
		return OutcomeRetry, err
	}

	// A blocked item waits for operator action: remove it, or enqueue a
	// corrected submission under a fresh key. Resending it as-is would
	// replay data the server already refused.
	if item.Status == localstore.StatusBlocked {
		return OutcomeBlocked, fmt.Errorf("attempt %s: %w", key, sentinel.ErrInvalidState)
	}

	if !m.connectivity.Online(ctx) {
		item.LastError = "no_connection"
		if err := m.store.UpdateQueueItem(ctx, item); err != nil {
			return OutcomeRetry, err
		}
		return OutcomeRetry, nil
	}

	sendErr := m.sender.Submit(ctx, item.Payload)
	if sendErr == nil {
		if err := m.store.DeleteQueueItem(ctx, key); err != nil {
			return OutcomeRetry, err
		}
		m.logger.InfoContext(ctx, "submission delivered", "idempotency_key", key)
		return OutcomeDelivered, nil
	}

	return m.recordFailure(ctx, item, sendErr)
}

func (m *Manager) recordFailure(ctx context.Context, item *localstore.QueueItem, sendErr error) (Outcome, error) {
	var delivery *api.DeliveryError
	if !errors.As(sendErr, &delivery) {
		// Unclassified failures are treated as network-level.
		delivery = api.NetworkError(sendErr)
	}

	item.LastError = delivery.Error()
	outcome := OutcomeRetry

	switch {
	case delivery.Kind == api.KindAuth:
		item.AuthFailures++
		item.LastError = "session expired"
		if item.AuthFailures >= m.maxAuthRetries {
			item.Status = localstore.StatusBlocked
			item.LastError = fmt.Sprintf("session expired (%d consecutive auth failures)", item.AuthFailures)
			outcome = OutcomeBlocked
		}
	case delivery.Kind.Transient():
		item.AuthFailures = 0
	default:
		item.Status = localstore.StatusBlocked
		outcome = OutcomeBlocked
	}

	if err := m.store.UpdateQueueItem(ctx, item); err != nil {
		return OutcomeRetry, err
	}

	m.logger.WarnContext(ctx, "submission attempt failed",
		"idempotency_key", item.IdempotencyKey,
		"kind", string(delivery.Kind),
		"status", string(item.Status),
	)

	if outcome == OutcomeRetry {
		return OutcomeRetry, delivery
	}
	return OutcomeBlocked, nil
}

// Remove deletes an item regardless of its status. Always allowed; the busy
// guard only protects against racing an in-flight attempt.
func (m *Manager) Remove(ctx context.Context, key string) error {
	if !m.acquire(key) {
		return ErrBusy
	}
	defer m.release(key)
	return m.store.DeleteQueueItem(ctx, key)
}
