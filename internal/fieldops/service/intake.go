// Package service implements the intake and reconciliation pipeline for field
// submissions. Intake records submissions for review without touching the
// canonical register; the reviewer applies or rejects them later.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/accounts"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/audit"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/fieldops"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/platform/metrics"
	domainerrors "github.com/OleOle19/sistema-agua-municipalidad/pkg/domain-errors"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/sentinel"
)

// Identity names the authenticated user on whose behalf a call runs.
type Identity struct {
	ID   string
	Name string
}

// Intake turns delivered submissions into pending review items. It is
// idempotent on (requester, idempotency key) so queue retries after a lost
// ack are safe.
type Intake struct {
	accounts accounts.Store
	requests fieldops.Store
	audit    *audit.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewIntake(accountStore accounts.Store, requestStore fieldops.Store, rec *audit.Recorder, m *metrics.Metrics, logger *slog.Logger) *Intake {
	return &Intake{
		accounts: accountStore,
		requests: requestStore,
		audit:    rec,
		metrics:  m,
		logger:   logger,
	}
}

// Submit records a field submission as a pending request. The canonical
// record is read now so the request carries the connection state the office
// can audit against; nothing canonical is mutated here. When a request with
// the same (requester, idempotency key) already exists it is returned
// unchanged with created=false.
func (s *Intake) Submit(ctx context.Context, requester Identity, sub fieldops.Submission) (*fieldops.Request, bool, error) {
	if sub.RecordID <= 0 {
		return nil, false, domainerrors.New(domainerrors.CodeBadRequest, "record_id is required")
	}
	if sub.IdempotencyKey == "" {
		return nil, false, domainerrors.New(domainerrors.CodeBadRequest, "idempotency key is required")
	}
	if sub.Fields.CutOff && sub.Fields.CutOffDate == nil {
		return nil, false, domainerrors.New(domainerrors.CodeBadRequest, "cut_off_date is required when cut_off is set")
	}

	account, err := s.accounts.Get(ctx, sub.RecordID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, false, domainerrors.Wrap(err, domainerrors.CodeNotFound, "record not found")
		}
		return nil, false, domainerrors.Wrap(err, domainerrors.CodeInternal, "load record")
	}

	req := &fieldops.Request{
		RecordID:              account.ID,
		MunicipalCode:         account.MunicipalCode,
		RequesterID:           requester.ID,
		RequesterName:         requester.Name,
		Source:                sub.Metadata.Source,
		ConnectionStateBefore: account.ConnectionState,
		ConnectionStateAfter:  fieldops.DeriveConnectionState(account.ConnectionState, sub.Fields),
		VerifiedFields:        sub.Fields,
		Observation:           sub.Observation,
		IdempotencyKey:        sub.IdempotencyKey,
		Metadata:              sub.Metadata,
	}

	stored, created, err := s.requests.Insert(ctx, req)
	if err != nil {
		return nil, false, domainerrors.Wrap(err, domainerrors.CodeInternal, "record field request")
	}

	if created {
		s.metrics.RequestsReceived.Inc()
		s.audit.Record(audit.Event{
			Action:    audit.ActionRequestReceived,
			ActorID:   requester.ID,
			ActorName: requester.Name,
			RequestID: stored.ID.String(),
			RecordID:  stored.RecordID,
		})
		s.logger.InfoContext(ctx, "field request recorded",
			"request_id", stored.ID,
			"record_id", stored.RecordID,
			"requester_id", requester.ID,
		)
	} else {
		s.metrics.RequestsDeduplicated.Inc()
		s.logger.InfoContext(ctx, "field request resubmission deduplicated",
			"request_id", stored.ID,
			"idempotency_key", sub.IdempotencyKey,
		)
	}

	return stored, created, nil
}

// ListForReview returns requests for the review screen.
func (s *Intake) ListForReview(ctx context.Context, status fieldops.Status, limit int) ([]fieldops.Request, error) {
	if status != "" && status != fieldops.StatusPending && !status.Terminal() {
		return nil, domainerrors.New(domainerrors.CodeBadRequest, "unknown status filter")
	}
	list, err := s.requests.List(ctx, status, limit)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "list field requests")
	}
	return list, nil
}
