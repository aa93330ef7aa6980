//go:build integration

package fieldops_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/accounts"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/fieldops"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/sentinel"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *fieldops.PostgresStore
	accounts *accounts.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())

	ddl, err := os.ReadFile("../../migrations/schema.sql")
	s.Require().NoError(err)
	s.Require().NoError(s.postgres.ApplySchema(context.Background(), string(ddl)))

	s.store = fieldops.NewPostgres(s.postgres.DB)
	s.accounts = accounts.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	for _, table := range []string{"connection_state_events", "field_requests", "accounts", "streets"} {
		_, err := s.postgres.DB.ExecContext(ctx, "DELETE FROM "+table)
		s.Require().NoError(err)
	}
	_, err := s.postgres.DB.ExecContext(ctx, `
		INSERT INTO streets (id, name) VALUES (1, 'Av. San Martin');
		INSERT INTO accounts (id, municipal_code, full_name, street_id, connection_state)
		VALUES (101, 'WS-101', 'Maria Lopez', 1, 'connected');
	`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) pendingRequest(key string) *fieldops.Request {
	return &fieldops.Request{
		RecordID:              101,
		MunicipalCode:         "WS-101",
		RequesterID:           "agent-7",
		RequesterName:         "Ana Torres",
		Source:                "mobile",
		ConnectionStateBefore: accounts.StateConnected,
		ConnectionStateAfter:  accounts.StateCutOff,
		VerifiedFields:        fieldops.VerifiedFields{Visited: true, CutOff: true},
		Observation:           "service cut off at the meter",
		IdempotencyKey:        key,
		Metadata:              fieldops.Metadata{Source: "mobile", ClientTimestamp: time.Now()},
	}
}

func (s *PostgresStoreSuite) TestInsertIsIdempotent() {
	ctx := context.Background()

	first, created, err := s.store.Insert(ctx, s.pendingRequest("key-1"))
	s.Require().NoError(err)
	s.True(created)
	s.Equal(fieldops.StatusPending, first.Status)

	second, created, err := s.store.Insert(ctx, s.pendingRequest("key-1"))
	s.Require().NoError(err)
	s.False(created)
	s.Equal(first.ID, second.ID)

	other, created, err := s.store.Insert(ctx, func() *fieldops.Request {
		r := s.pendingRequest("key-1")
		r.RequesterID = "agent-8"
		return r
	}())
	s.Require().NoError(err)
	s.True(created, "the unique index is scoped per requester")
	s.NotEqual(first.ID, other.ID)
}

// TestConcurrentInsertSameKey verifies racing deliveries of one submission
// collapse onto a single stored request.
func (s *PostgresStoreSuite) TestConcurrentInsertSameKey() {
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, goroutines)
	createdCount := make(chan bool, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, created, err := s.store.Insert(ctx, s.pendingRequest("race-key"))
			if err != nil {
				return
			}
			ids <- req.ID
			createdCount <- created
		}()
	}
	wg.Wait()
	close(ids)
	close(createdCount)

	unique := make(map[uuid.UUID]struct{})
	for id := range ids {
		unique[id] = struct{}{}
	}
	s.Len(unique, 1, "every delivery sees the same request")

	var creations int
	for c := range createdCount {
		if c {
			creations++
		}
	}
	s.Equal(1, creations, "exactly one delivery creates the row")
}

func (s *PostgresStoreSuite) TestMarkReviewedTransitionsOnce() {
	ctx := context.Background()

	req, _, err := s.store.Insert(ctx, s.pendingRequest("key-review"))
	s.Require().NoError(err)

	err = s.store.MarkReviewed(ctx, req.ID, fieldops.StatusApproved, "rev-1", "verified on site", time.Now())
	s.Require().NoError(err)

	stored, err := s.store.Get(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(fieldops.StatusApproved, stored.Status)
	s.Equal("rev-1", stored.ReviewerID)
	s.NotNil(stored.ReviewedAt)

	err = s.store.MarkReviewed(ctx, req.ID, fieldops.StatusRejected, "rev-2", "too late", time.Now())
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	err = s.store.MarkReviewed(ctx, uuid.New(), fieldops.StatusApproved, "rev-1", "r", time.Now())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestConnectionStateEvents() {
	ctx := context.Background()

	err := s.store.AppendEvent(ctx, &fieldops.ConnectionStateEvent{
		RecordID:    101,
		StateBefore: accounts.StateConnected,
		StateAfter:  accounts.StateCutOff,
		Reason:      "verified on site",
	})
	s.Require().NoError(err)

	events, err := s.store.ListEvents(ctx, 101)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal(accounts.StateCutOff, events[0].StateAfter)
	s.NotEqual(uuid.Nil, events[0].ID)
}

func (s *PostgresStoreSuite) TestAccountRoundTrip() {
	ctx := context.Background()

	account, err := s.accounts.Get(ctx, 101)
	s.Require().NoError(err)
	s.Equal("Maria Lopez", account.FullName)

	account.Address = "Av. San Martin 122"
	account.ConnectionState = accounts.StateCutOff
	s.Require().NoError(s.accounts.Update(ctx, account))

	updated, err := s.accounts.Get(ctx, 101)
	s.Require().NoError(err)
	s.Equal("Av. San Martin 122", updated.Address)
	s.Equal(accounts.StateCutOff, updated.ConnectionState)

	results, err := s.accounts.Search(ctx, "lopez", 0, 10)
	s.Require().NoError(err)
	s.Len(results, 1)
}
