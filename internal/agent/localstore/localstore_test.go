package localstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/accounts"
	"github.com/OleOle19/sistema-agua-municipalidad/internal/fieldops"
	"github.com/OleOle19/sistema-agua-municipalidad/pkg/platform/sentinel"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testPayload() *accounts.SnapshotPayload {
	return &accounts.SnapshotPayload{
		Total: 2,
		Streets: []accounts.Street{
			{ID: 1, Name: "Av. San Martin"},
			{ID: 2, Name: "Calle Belgrano"},
		},
		Records: []accounts.Account{
			{
				ID: 101, MunicipalCode: "WS-101", FullName: "Maria Lopez",
				TaxID: "20-11111111-1", Address: "Av. San Martin 120", StreetID: 1,
				Water: true, Sewer: false, MonthsOwed: 3, DebtTotal: 150000,
				ConnectionState: accounts.StateConnected,
			},
			{
				ID: 102, MunicipalCode: "WS-102", FullName: "Jorge Paz",
				TaxID: "20-22222222-2", Address: "Calle Belgrano 44", StreetID: 2,
				Water: true, Sewer: true, MonthsOwed: 0, DebtTotal: 0,
				ConnectionState: accounts.StateCutOff,
			},
		},
	}
}

func TestReplaceSnapshot(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	_, err := store.SnapshotMeta(ctx)
	require.ErrorIs(t, err, sentinel.ErrNotFound, "fresh store should have no snapshot")

	syncedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.ReplaceSnapshot(ctx, testPayload(), syncedAt))

	meta, err := store.SnapshotMeta(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, meta.Total)
	assert.Equal(t, syncedAt.Unix(), meta.SyncedAt.Unix())

	streets, err := store.ListStreets(ctx)
	require.NoError(t, err)
	require.Len(t, streets, 2)
	assert.Equal(t, "Av. San Martin", streets[0].Name)

	rec, err := store.GetRecord(ctx, 102)
	require.NoError(t, err)
	assert.Equal(t, "Jorge Paz", rec.FullName)
	assert.Equal(t, accounts.StateCutOff, rec.ConnectionState)

	_, err = store.GetRecord(ctx, 999)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestReplaceSnapshot_FailureKeepsPreviousSnapshot(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	first := testPayload()
	syncedAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.ReplaceSnapshot(ctx, first, syncedAt))

	// A duplicate record id violates the primary key mid-transaction.
	broken := testPayload()
	broken.Records = append(broken.Records, broken.Records[0])
	err := store.ReplaceSnapshot(ctx, broken, syncedAt.Add(24*time.Hour))
	require.Error(t, err)

	meta, err := store.SnapshotMeta(ctx)
	require.NoError(t, err)
	assert.Equal(t, syncedAt.Unix(), meta.SyncedAt.Unix(), "metadata must not advance on failed replace")

	recs, err := store.SearchRecords(ctx, "", 0, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 2, "previous records must survive a failed replace")
}

func TestSearchRecords(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.ReplaceSnapshot(ctx, testPayload(), time.Now()))

	tests := []struct {
		name     string
		q        string
		streetID int64
		wantIDs  []int64
	}{
		{name: "empty query returns all", q: "", wantIDs: []int64{101, 102}},
		{name: "match by name", q: "lopez", wantIDs: []int64{101}},
		{name: "match by municipal code", q: "ws-102", wantIDs: []int64{102}},
		{name: "match by address", q: "belgrano", wantIDs: []int64{102}},
		{name: "street filter", q: "", streetID: 1, wantIDs: []int64{101}},
		{name: "no match", q: "zzz", wantIDs: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := store.SearchRecords(ctx, tt.q, tt.streetID, 10)
			require.NoError(t, err)
			var ids []int64
			for _, r := range recs {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func queueItem(key, userID string, createdAt time.Time) *QueueItem {
	return &QueueItem{
		IdempotencyKey: key,
		UserID:         userID,
		CreatedAt:      createdAt,
		Status:         StatusPending,
		RecordRef:      RecordRef{ID: 101, Code: "WS-101", Name: "Maria Lopez"},
		Payload: fieldops.Submission{
			RecordID:       101,
			Fields:         fieldops.VerifiedFields{Visited: true},
			Observation:    "medidor roto",
			IdempotencyKey: key,
		},
	}
}

func TestQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	now := time.Now()

	item := queueItem("field:u1:101:aaa", "u1", now)
	require.NoError(t, store.InsertQueueItem(ctx, item))

	err := store.InsertQueueItem(ctx, item)
	require.ErrorIs(t, err, sentinel.ErrConflict, "duplicate idempotency key must conflict")

	got, err := store.GetQueueItem(ctx, item.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "medidor roto", got.Payload.Observation)
	assert.Equal(t, int64(101), got.RecordRef.ID)

	got.Status = StatusBlocked
	got.LastError = "record not found"
	got.AuthFailures = 2
	require.NoError(t, store.UpdateQueueItem(ctx, got))

	got, err = store.GetQueueItem(ctx, item.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, got.Status)
	assert.Equal(t, "record not found", got.LastError)
	assert.Equal(t, 2, got.AuthFailures)

	require.NoError(t, store.DeleteQueueItem(ctx, item.IdempotencyKey))
	_, err = store.GetQueueItem(ctx, item.IdempotencyKey)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, store.DeleteQueueItem(ctx, item.IdempotencyKey),
		"deleting an already removed item is not an error")
}

func TestListQueueItems_PerUserAndOrdered(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	base := time.Now()

	require.NoError(t, store.InsertQueueItem(ctx, queueItem("k2", "u1", base.Add(time.Second))))
	require.NoError(t, store.InsertQueueItem(ctx, queueItem("k1", "u1", base)))
	require.NoError(t, store.InsertQueueItem(ctx, queueItem("k3", "u2", base)))

	items, err := store.ListQueueItems(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 2, "another user's items must never appear")
	assert.Equal(t, "k1", items[0].IdempotencyKey, "items come back in creation order")
	assert.Equal(t, "k2", items[1].IdempotencyKey)

	none, err := store.ListQueueItems(ctx, "u3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpdateQueueItem_Missing(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	err := store.UpdateQueueItem(ctx, queueItem("ghost", "u1", time.Now()))
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
