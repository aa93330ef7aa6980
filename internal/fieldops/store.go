package fieldops

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists field requests and the connection-state audit trail.
// Implementations must honor an ambient transaction (pkg/platform/tx) so
// review transitions commit atomically with canonical updates.
type Store interface {
	// Insert records the request idempotently on (requester_id,
	// idempotency_key). When a row already exists it is returned unchanged
	// with created=false; no duplicate is ever created.
	Insert(ctx context.Context, req *Request) (stored *Request, created bool, err error)
	Get(ctx context.Context, id uuid.UUID) (*Request, error)
	// GetForUpdate reads the request with a row-level lock inside the ambient
	// transaction so concurrent reviews of the same request serialize.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Request, error)
	// List returns requests for review, newest first. Empty status means all.
	List(ctx context.Context, status Status, limit int) ([]Request, error)
	// MarkReviewed transitions Pending to the given terminal status. A request
	// already in a terminal state yields sentinel.ErrConflict and no change.
	MarkReviewed(ctx context.Context, id uuid.UUID, status Status, reviewerID, reason string, at time.Time) error
	AppendEvent(ctx context.Context, event *ConnectionStateEvent) error
	ListEvents(ctx context.Context, recordID int64) ([]ConnectionStateEvent, error)
}
