// Package handler exposes the reference-data endpoints field devices consume:
// the bounded offline snapshot and the live record search.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/accounts"
	domainerrors "github.com/OleOle19/sistema-agua-municipalidad/pkg/domain-errors"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/httputil"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/middleware/auth"
)

// SnapshotBuilder assembles the offline snapshot payload.
type SnapshotBuilder interface {
	Build(ctx context.Context, limit int) (*accounts.SnapshotPayload, error)
}

// Searcher answers live record searches while a device is online.
type Searcher interface {
	Search(ctx context.Context, q string, streetID int64, limit int) ([]accounts.Account, error)
}

type Handler struct {
	snapshots SnapshotBuilder
	search    Searcher
	validator auth.TokenValidator
	roles     auth.RoleChecker
	logger    *slog.Logger
}

func New(snapshots SnapshotBuilder, search Searcher, validator auth.TokenValidator, roles auth.RoleChecker, logger *slog.Logger) *Handler {
	return &Handler{
		snapshots: snapshots,
		search:    search,
		validator: validator,
		roles:     roles,
		logger:    logger,
	}
}

// Register mounts the reference-data routes. Both require field-agent role.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(h.validator, h.logger))
		r.Use(auth.RequireRole(h.roles, auth.RoleFieldAgent, h.logger))
		r.Get("/field/offline-snapshot", h.handleSnapshot)
		r.Get("/field/records/search", h.handleSearch)
	})
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid limit"))
			return
		}
		limit = n
	}

	payload, err := h.snapshots.Build(ctx, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "snapshot build failed", "error", err)
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeInternal, "snapshot unavailable"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query().Get("q")

	var streetID int64
	if v := r.URL.Query().Get("street_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid street_id"))
			return
		}
		streetID = n
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httputil.WriteError(w, domainerrors.New(domainerrors.CodeBadRequest, "invalid limit"))
			return
		}
		limit = n
	}

	records, err := h.search.Search(ctx, q, streetID, limit)
	if err != nil {
		h.logger.ErrorContext(ctx, "record search failed", "error", err)
		httputil.WriteError(w, domainerrors.New(domainerrors.CodeInternal, "search failed"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   len(records),
	})
}
