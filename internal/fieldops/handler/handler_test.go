package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/accounts"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/audit"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/fieldops"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/fieldops/service"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/platform/metrics"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/middleware/auth"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/tx"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/testutil"
)

const signingKey = "test-signing-key"

type fixture struct {
	router   chi.Router
	accounts *accounts.InMemoryStore
	requests *fieldops.InMemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	accountStore := accounts.NewInMemoryStore()
	accountStore.Seed(
		[]accounts.Street{{ID: 1, Name: "Av. San Martin"}},
		[]accounts.Account{{
			ID: 101, MunicipalCode: "WS-101", FullName: "Maria Lopez",
			StreetID: 1, Water: true, ConnectionState: accounts.StateConnected,
		}},
	)
	requestStore := fieldops.NewInMemoryStore()
	m := metrics.NewWith(prometheus.NewRegistry())
	rec := audit.NewRecorder(make(chan audit.Event, 16))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	intake := service.NewIntake(accountStore, requestStore, rec, m, logger)
	reviewer := service.NewReviewer(accountStore, requestStore, tx.NewSerialRunner(), rec, m, logger)

	h := New(intake, reviewer, auth.NewJWTValidator(signingKey), auth.RankedRoles{}, logger)
	r := chi.NewRouter()
	h.Register(r)

	return &fixture{router: r, accounts: accountStore, requests: requestStore}
}

func bearer(t *testing.T, userID, name, role string) string {
	t.Helper()
	token, err := auth.SignToken(signingKey, userID, name, role)
	require.NoError(t, err)
	return "Bearer " + token
}

func submissionBody(key string) map[string]any {
	return map[string]any{
		"record_id": 101,
		"verified_fields": map[string]any{
			"visited": true,
			"cut_off": true,
			"cut_off_date": time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC),
		},
		"observation":     "verified on site",
		"idempotency_key": key,
		"metadata":        map[string]any{"source": "mobile", "client_timestamp": time.Now()},
	}
}

func (f *fixture) submit(t *testing.T, key string) *fieldops.Request {
	t.Helper()
	req := testutil.NewJSONRequest(t, http.MethodPost, "/field/requests", submissionBody(key))
	req.Header.Set("Authorization", bearer(t, "agent-7", "Ana Torres", auth.RoleFieldAgent))
	rr := testutil.DoRequest(f.router, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return testutil.UnmarshalResponse[fieldops.Request](t, rr)
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/field/requests", submissionBody("key-1"))
	req.Header.Set("Authorization", bearer(t, "agent-7", "Ana Torres", auth.RoleFieldAgent))
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatus(t, rr, http.StatusCreated)
	created := testutil.UnmarshalResponse[fieldops.Request](t, rr)
	assert.Equal(t, fieldops.StatusPending, created.Status)
	assert.Equal(t, "agent-7", created.RequesterID)
	assert.Equal(t, accounts.StateCutOff, created.ConnectionStateAfter)

	// Replayed delivery comes back 200 with the original request.
	rr = testutil.DoRequest(f.router, func() *http.Request {
		r := testutil.NewJSONRequest(t, http.MethodPost, "/field/requests", submissionBody("key-1"))
		r.Header.Set("Authorization", bearer(t, "agent-7", "Ana Torres", auth.RoleFieldAgent))
		return r
	}())
	testutil.AssertStatus(t, rr, http.StatusOK)
	replayed := testutil.UnmarshalResponse[fieldops.Request](t, rr)
	assert.Equal(t, created.ID, replayed.ID)
}

func TestSubmit_IdempotencyKeyHeaderWins(t *testing.T) {
	f := newFixture(t)

	req := testutil.NewJSONRequest(t, http.MethodPost, "/field/requests", submissionBody("body-key"))
	req.Header.Set("Authorization", bearer(t, "agent-7", "Ana Torres", auth.RoleFieldAgent))
	req.Header.Set("Idempotency-Key", "header-key")
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatus(t, rr, http.StatusCreated)
	created := testutil.UnmarshalResponse[fieldops.Request](t, rr)
	assert.Equal(t, "header-key", created.IdempotencyKey)
}

func TestSubmit_AuthRequired(t *testing.T) {
	f := newFixture(t)

	t.Run("missing token", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/field/requests", submissionBody("key"))
		rr := testutil.DoRequest(f.router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "unauthorized")
	})

	t.Run("garbage token", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/field/requests", submissionBody("key"))
		req.Header.Set("Authorization", "Bearer not-a-jwt")
		rr := testutil.DoRequest(f.router, req)
		testutil.AssertStatus(t, rr, http.StatusUnauthorized)
	})

	t.Run("unknown role", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/field/requests", submissionBody("key"))
		req.Header.Set("Authorization", bearer(t, "x", "X", "intern"))
		rr := testutil.DoRequest(f.router, req)
		testutil.AssertStatus(t, rr, http.StatusForbidden)
	})
}

func TestList_RequiresReviewerRole(t *testing.T) {
	f := newFixture(t)
	f.submit(t, "key-1")

	req := testutil.NewRequest(t, http.MethodGet, "/field/requests?status=pending")
	req.Header.Set("Authorization", bearer(t, "agent-7", "Ana Torres", auth.RoleFieldAgent))
	rr := testutil.DoRequest(f.router, req)
	testutil.AssertStatus(t, rr, http.StatusForbidden)

	req = testutil.NewRequest(t, http.MethodGet, "/field/requests?status=pending")
	req.Header.Set("Authorization", bearer(t, "rev-1", "Carlos Mena", auth.RoleReviewer))
	rr = testutil.DoRequest(f.router, req)
	testutil.AssertStatus(t, rr, http.StatusOK)

	type listResponse struct {
		Requests []fieldops.Request `json:"requests"`
		Total    int                `json:"total"`
	}
	list := testutil.UnmarshalResponse[listResponse](t, rr)
	assert.Equal(t, 1, list.Total)
}

func TestApprove(t *testing.T) {
	f := newFixture(t)
	created := f.submit(t, "key-1")

	req := testutil.NewJSONRequest(t, http.MethodPost, "/field/requests/"+created.ID.String()+"/approve",
		map[string]string{"reason": "verified on site"})
	req.Header.Set("Authorization", bearer(t, "rev-1", "Carlos Mena", auth.RoleReviewer))
	rr := testutil.DoRequest(f.router, req)

	testutil.AssertStatus(t, rr, http.StatusOK)
	approved := testutil.UnmarshalResponse[fieldops.Request](t, rr)
	assert.Equal(t, fieldops.StatusApproved, approved.Status)
	assert.Equal(t, "rev-1", approved.ReviewerID)

	// The second decision on the same request conflicts.
	req = testutil.NewJSONRequest(t, http.MethodPost, "/field/requests/"+created.ID.String()+"/reject",
		map[string]string{"reason": "changed my mind"})
	req.Header.Set("Authorization", bearer(t, "rev-1", "Carlos Mena", auth.RoleReviewer))
	rr = testutil.DoRequest(f.router, req)
	testutil.AssertStatusAndError(t, rr, http.StatusConflict, "conflict")
}

func TestReview_Validation(t *testing.T) {
	f := newFixture(t)
	created := f.submit(t, "key-1")
	reviewerAuth := bearer(t, "rev-1", "Carlos Mena", auth.RoleReviewer)

	t.Run("missing reason", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/field/requests/"+created.ID.String()+"/reject",
			map[string]string{})
		req.Header.Set("Authorization", reviewerAuth)
		rr := testutil.DoRequest(f.router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "bad_request")
	})

	t.Run("malformed id", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/field/requests/not-a-uuid/approve",
			map[string]string{"reason": "r"})
		req.Header.Set("Authorization", reviewerAuth)
		rr := testutil.DoRequest(f.router, req)
		testutil.AssertStatus(t, rr, http.StatusBadRequest)
	})

	t.Run("unknown request", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost,
			"/field/requests/00000000-0000-0000-0000-000000000001/approve",
			map[string]string{"reason": "r"})
		req.Header.Set("Authorization", reviewerAuth)
		rr := testutil.DoRequest(f.router, req)
		testutil.AssertStatusAndError(t, rr, http.StatusNotFound, "not_found")
	})
}
