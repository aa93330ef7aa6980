package fieldops

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/sentinel"
	txcontext "github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/tx"
)

// PostgresStore persists field requests and connection-state events.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const uniqueViolation = "23505"

const requestColumns = `id, created_at, record_id, municipal_code, status, requester_id,
	requester_name, source, connection_state_before, connection_state_after,
	verified_fields, observation, review_reason, reviewer_id, reviewed_at,
	idempotency_key, metadata`

func (s *PostgresStore) querier(ctx context.Context) txcontext.Querier {
	return txcontext.Resolve(ctx, s.db)
}

// Insert writes the request once per (requester_id, idempotency_key). A retry
// that races the first delivery loses on the unique index and gets the
// original row back, so re-sent submissions never create duplicates.
func (s *PostgresStore) Insert(ctx context.Context, req *Request) (*Request, bool, error) {
	fields, err := json.Marshal(req.VerifiedFields)
	if err != nil {
		return nil, false, fmt.Errorf("marshal verified fields: %w", err)
	}
	meta, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("marshal metadata: %w", err)
	}

	id := req.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	query := fmt.Sprintf(`
		INSERT INTO field_requests (%s)
		VALUES ($1, NOW(), $2, $3, '%s', $4, $5, $6, $7, $8, $9, $10, '', NULL, NULL, $11, $12)
		RETURNING %s
	`, requestColumns, StatusPending, requestColumns)

	row := s.querier(ctx).QueryRowContext(ctx, query,
		id, req.RecordID, req.MunicipalCode, req.RequesterID, req.RequesterName,
		req.Source, req.ConnectionStateBefore, req.ConnectionStateAfter,
		fields, req.Observation, req.IdempotencyKey, meta,
	)
	stored, err := scanRequest(row)
	if err == nil {
		return stored, true, nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		existing, ferr := s.getByKey(ctx, req.RequesterID, req.IdempotencyKey)
		if ferr != nil {
			return nil, false, ferr
		}
		return existing, false, nil
	}
	return nil, false, fmt.Errorf("insert field request: %w", err)
}

func (s *PostgresStore) getByKey(ctx context.Context, requesterID, idempotencyKey string) (*Request, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM field_requests
		WHERE requester_id = $1 AND idempotency_key = $2
	`, requestColumns)
	stored, err := scanRequest(s.querier(ctx).QueryRowContext(ctx, query, requesterID, idempotencyKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("field request for key %s: %w", idempotencyKey, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get field request by key: %w", err)
	}
	return stored, nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM field_requests WHERE id = $1`, requestColumns)
	return s.getOne(ctx, query, id)
}

// GetForUpdate locks the request row inside the ambient transaction.
func (s *PostgresStore) GetForUpdate(ctx context.Context, id uuid.UUID) (*Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM field_requests WHERE id = $1 FOR UPDATE`, requestColumns)
	return s.getOne(ctx, query, id)
}

func (s *PostgresStore) getOne(ctx context.Context, query string, id uuid.UUID) (*Request, error) {
	stored, err := scanRequest(s.querier(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("field request %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("get field request: %w", err)
	}
	return stored, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var (
		req        Request
		fields     []byte
		meta       []byte
		reviewerID sql.NullString
		reviewedAt sql.NullTime
	)
	err := row.Scan(&req.ID, &req.CreatedAt, &req.RecordID, &req.MunicipalCode,
		&req.Status, &req.RequesterID, &req.RequesterName, &req.Source,
		&req.ConnectionStateBefore, &req.ConnectionStateAfter, &fields,
		&req.Observation, &req.ReviewReason, &reviewerID, &reviewedAt,
		&req.IdempotencyKey, &meta)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &req.VerifiedFields); err != nil {
		return nil, fmt.Errorf("unmarshal verified fields: %w", err)
	}
	if err := json.Unmarshal(meta, &req.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if reviewerID.Valid {
		req.ReviewerID = reviewerID.String
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		req.ReviewedAt = &t
	}
	return &req, nil
}

func (s *PostgresStore) List(ctx context.Context, status Status, limit int) ([]Request, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := fmt.Sprintf(`
		SELECT %s FROM field_requests
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, requestColumns)
	rows, err := s.querier(ctx).QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list field requests: %w", err)
	}
	defer rows.Close()

	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan field request: %w", err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field requests: %w", err)
	}
	return out, nil
}

// MarkReviewed is a compare-and-set on status; the WHERE clause makes a second
// review of the same request report a conflict instead of overwriting.
func (s *PostgresStore) MarkReviewed(ctx context.Context, id uuid.UUID, status Status, reviewerID, reason string, at time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("mark reviewed with status %q: %w", status, sentinel.ErrInvalidState)
	}

	query := `
		UPDATE field_requests
		SET status = $2, reviewer_id = $3, review_reason = $4, reviewed_at = $5
		WHERE id = $1 AND status = $6
	`
	res, err := s.querier(ctx).ExecContext(ctx, query, id, status, reviewerID, reason, at, StatusPending)
	if err != nil {
		return fmt.Errorf("mark reviewed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark reviewed: %w", err)
	}
	if n == 0 {
		// Either missing or already terminal; distinguish for the caller.
		if _, gerr := s.Get(ctx, id); gerr != nil {
			return gerr
		}
		return fmt.Errorf("field request %s already reviewed: %w", id, sentinel.ErrConflict)
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, event *ConnectionStateEvent) error {
	id := event.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	query := `
		INSERT INTO connection_state_events (id, created_at, record_id, state_before, state_after, reason)
		VALUES ($1, NOW(), $2, $3, $4, $5)
	`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		id, event.RecordID, event.StateBefore, event.StateAfter, event.Reason)
	if err != nil {
		return fmt.Errorf("append connection state event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, recordID int64) ([]ConnectionStateEvent, error) {
	query := `
		SELECT id, created_at, record_id, state_before, state_after, reason
		FROM connection_state_events
		WHERE record_id = $1
		ORDER BY created_at
	`
	rows, err := s.querier(ctx).QueryContext(ctx, query, recordID)
	if err != nil {
		return nil, fmt.Errorf("list connection state events: %w", err)
	}
	defer rows.Close()

	var out []ConnectionStateEvent
	for rows.Next() {
		var e ConnectionStateEvent
		if err := rows.Scan(&e.ID, &e.CreatedAt, &e.RecordID, &e.StateBefore,
			&e.StateAfter, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan connection state event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate connection state events: %w", err)
	}
	return out, nil
}
