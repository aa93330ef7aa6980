// Package handler exposes the field-request endpoints. It delegates to the
// intake/review services and keeps transport concerns out of domain logic.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/fieldops"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/fieldops/service"
	domainerrors "github.com/OleOle19/sistema-agua-municipalidad/pkg/domain-errors"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/httputil"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/middleware/auth"
)

// IntakeService records submissions and lists them for review.
type IntakeService interface {
	Submit(ctx context.Context, requester service.Identity, sub fieldops.Submission) (*fieldops.Request, bool, error)
	ListForReview(ctx context.Context, status fieldops.Status, limit int) ([]fieldops.Request, error)
}

// ReviewService applies terminal transitions.
type ReviewService interface {
	Approve(ctx context.Context, reviewer service.Identity, requestID uuid.UUID, reason string) (*fieldops.Request, error)
	Reject(ctx context.Context, reviewer service.Identity, requestID uuid.UUID, reason string) (*fieldops.Request, error)
}

type Handler struct {
	intake    IntakeService
	review    ReviewService
	validator auth.TokenValidator
	roles     auth.RoleChecker
	logger    *slog.Logger
}

func New(intake IntakeService, review ReviewService, validator auth.TokenValidator, roles auth.RoleChecker, logger *slog.Logger) *Handler {
	return &Handler{
		intake:    intake,
		review:    review,
		validator: validator,
		roles:     roles,
		logger:    logger,
	}
}

// Register mounts the field-request routes with their role requirements.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.validator, h.logger))
		r.Use(auth.RequireRole(h.roles, auth.RoleFieldAgent, h.logger))
		r.Post("/field/requests", h.handleSubmit)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.validator, h.logger))
		r.Use(auth.RequireRole(h.roles, auth.RoleReviewer, h.logger))
		r.Get("/field/requests", h.handleList)
		r.Post("/field/requests/{id}/approve", h.handleApprove)
		r.Post("/field/requests/{id}/reject", h.handleReject)
	})
}

func identityFrom(ctx context.Context) service.Identity {
	return service.Identity{
		ID:   auth.GetUserID(ctx),
		Name: auth.GetUserName(ctx),
	}
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var sub fieldops.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		h.logger.WarnContext(ctx, "invalid submission body", "error", err)
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return
	}

	// The header is authoritative; the body copy exists for payload
	// completeness on the device side.
	if key := r.Header.Get("Idempotency-Key"); key != "" {
		sub.IdempotencyKey = key
	}

	req, created, err := h.intake.Submit(ctx, identityFrom(ctx), sub)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, req)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := fieldops.Status(r.URL.Query().Get("status"))
	limit := queryInt(r, "limit")

	list, err := h.intake.ListForReview(ctx, status, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"requests": list,
		"total":    len(list),
	})
}

type reviewRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.handleReview(w, r, h.review.Approve)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.handleReview(w, r, h.review.Reject)
}

func (h *Handler) handleReview(w http.ResponseWriter, r *http.Request,
	transition func(context.Context, service.Identity, uuid.UUID, string) (*fieldops.Request, error)) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request id"))
		return
	}

	var body reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid request body"))
		return
	}
	if body.Reason == "" {
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "reason is required"))
		return
	}

	req, err := transition(ctx, identityFrom(ctx), id, body.Reason)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, req)
}

func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}
