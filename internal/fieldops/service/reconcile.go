package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/accounts"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/audit"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/fieldops"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/platform/metrics"
	domainerrors "github.com/OleOle19/sistema-agua-municipalidad/pkg/domain-errors"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/sentinel"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/tx"
)

// Reviewer applies or rejects pending field requests. Approval re-reads the
// canonical record under a row lock rather than trusting the submission-time
// snapshot: the record can legitimately change between field capture and
// office review, and applying against stale assumptions would silently
// clobber newer state.
type Reviewer struct {
	accounts accounts.Store
	requests fieldops.Store
	runner   tx.Runner
	audit    *audit.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewReviewer(accountStore accounts.Store, requestStore fieldops.Store, runner tx.Runner, rec *audit.Recorder, m *metrics.Metrics, logger *slog.Logger) *Reviewer {
	return &Reviewer{
		accounts: accountStore,
		requests: requestStore,
		runner:   runner,
		audit:    rec,
		metrics:  m,
		logger:   logger,
		tracer:   otel.Tracer("fieldops/reviewer"),
	}
}

// Approve applies the accepted diff in one transaction: verified identity
// fields that differ, the connection-state change only if it differs from the
// current canonical state, one ConnectionStateEvent when state actually
// changed, and the Pending->Approved transition. Any failure rolls the whole
// transaction back.
func (s *Reviewer) Approve(ctx context.Context, reviewer Identity, requestID uuid.UUID, reason string) (*fieldops.Request, error) {
	ctx, span := s.tracer.Start(ctx, "reviewer.approve",
		trace.WithAttributes(attribute.String("request_id", requestID.String())))
	defer span.End()

	var approved *fieldops.Request
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		req, err := s.requests.GetForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != fieldops.StatusPending {
			return fmt.Errorf("field request %s already %s: %w", req.ID, req.Status, sentinel.ErrConflict)
		}

		// Claim the request before touching the register: the compare-and-set
		// guarantees at most one review decision wins the race.
		now := time.Now()
		if err := s.requests.MarkReviewed(ctx, requestID, fieldops.StatusApproved, reviewer.ID, reason, now); err != nil {
			return err
		}

		account, err := s.accounts.GetForUpdate(ctx, req.RecordID)
		if err != nil {
			return err
		}

		changed := applyVerifiedFields(account, req.VerifiedFields)

		stateBefore := account.ConnectionState
		stateChanged := req.ConnectionStateAfter.Valid() && req.ConnectionStateAfter != stateBefore
		if stateChanged {
			account.ConnectionState = req.ConnectionStateAfter
			changed = true
		}

		if changed {
			if err := s.accounts.Update(ctx, account); err != nil {
				return err
			}
		}

		if stateChanged {
			if err := s.requests.AppendEvent(ctx, &fieldops.ConnectionStateEvent{
				RecordID:    account.ID,
				StateBefore: stateBefore,
				StateAfter:  account.ConnectionState,
				Reason:      reason,
			}); err != nil {
				return err
			}
		}

		reviewed := *req
		reviewed.Status = fieldops.StatusApproved
		reviewed.ReviewerID = reviewer.ID
		reviewed.ReviewReason = reason
		reviewed.ReviewedAt = &now
		approved = &reviewed
		return nil
	})
	if err != nil {
		return nil, s.mapReviewError(ctx, err, requestID)
	}

	s.metrics.RequestsApproved.Inc()
	s.audit.Record(audit.Event{
		Action:    audit.ActionRequestApproved,
		ActorID:   reviewer.ID,
		ActorName: reviewer.Name,
		RequestID: requestID.String(),
		RecordID:  approved.RecordID,
		Reason:    reason,
	})
	s.logger.InfoContext(ctx, "field request approved",
		"request_id", requestID,
		"record_id", approved.RecordID,
		"reviewer_id", reviewer.ID,
	)
	return approved, nil
}

// Reject marks the request Rejected. Canonical data is never touched.
func (s *Reviewer) Reject(ctx context.Context, reviewer Identity, requestID uuid.UUID, reason string) (*fieldops.Request, error) {
	if err := s.requests.MarkReviewed(ctx, requestID, fieldops.StatusRejected, reviewer.ID, reason, time.Now()); err != nil {
		return nil, s.mapReviewError(ctx, err, requestID)
	}

	req, err := s.requests.Get(ctx, requestID)
	if err != nil {
		return nil, domainerrors.Wrap(err, domainerrors.CodeInternal, "load rejected request")
	}

	s.metrics.RequestsRejected.Inc()
	s.audit.Record(audit.Event{
		Action:    audit.ActionRequestRejected,
		ActorID:   reviewer.ID,
		ActorName: reviewer.Name,
		RequestID: requestID.String(),
		RecordID:  req.RecordID,
		Reason:    reason,
	})
	s.logger.InfoContext(ctx, "field request rejected",
		"request_id", requestID,
		"reviewer_id", reviewer.ID,
	)
	return req, nil
}

func (s *Reviewer) mapReviewError(ctx context.Context, err error, requestID uuid.UUID) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return domainerrors.Wrap(err, domainerrors.CodeConflict, "request already reviewed")
	case errors.Is(err, sentinel.ErrNotFound):
		return domainerrors.Wrap(err, domainerrors.CodeNotFound, "request not found")
	default:
		s.logger.ErrorContext(ctx, "review transaction failed",
			"request_id", requestID,
			"error", err,
		)
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "review failed")
	}
}

// applyVerifiedFields copies corrected fields that are present and differ.
// Reports whether anything changed.
func applyVerifiedFields(account *accounts.Account, fields fieldops.VerifiedFields) bool {
	changed := false
	if fields.FullName != nil && *fields.FullName != account.FullName {
		account.FullName = *fields.FullName
		changed = true
	}
	if fields.TaxID != nil && *fields.TaxID != account.TaxID {
		account.TaxID = *fields.TaxID
		changed = true
	}
	if fields.Address != nil && *fields.Address != account.Address {
		account.Address = *fields.Address
		changed = true
	}
	if fields.Water != nil && *fields.Water != account.Water {
		account.Water = *fields.Water
		changed = true
	}
	if fields.Sewer != nil && *fields.Sewer != account.Sewer {
		account.Sewer = *fields.Sewer
		changed = true
	}
	return changed
}
