package accounts

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OleOle19/sistema-agua-municipalidad/internal/platform/metrics"
)

func seededStore() *InMemoryStore {
	store := NewInMemoryStore()
	store.Seed(
		[]Street{{ID: 1, Name: "Av. San Martin"}, {ID: 2, Name: "Calle Belgrano"}},
		[]Account{
			{ID: 101, MunicipalCode: "WS-101", FullName: "Maria Lopez", StreetID: 1, ConnectionState: StateConnected},
			{ID: 102, MunicipalCode: "WS-102", FullName: "Jorge Paz", StreetID: 2, ConnectionState: StateCutOff},
			{ID: 103, MunicipalCode: "WS-103", FullName: "Lucia Diaz", StreetID: 1, ConnectionState: StateConnected},
		},
	)
	return store
}

func newSnapshotService(store Store, maxLimit int) *SnapshotService {
	m := metrics.NewWith(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSnapshotService(store, nil, time.Minute, maxLimit, m, logger)
}

func TestSnapshotBuild(t *testing.T) {
	svc := newSnapshotService(seededStore(), 5000)

	payload, err := svc.Build(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, payload.Total)
	assert.Len(t, payload.Records, 3)
	assert.Len(t, payload.Streets, 2)
	assert.Equal(t, int64(101), payload.Records[0].ID, "records come back in id order")
}

func TestSnapshotBuild_LimitClamped(t *testing.T) {
	svc := newSnapshotService(seededStore(), 2)

	tests := []struct {
		name  string
		limit int
	}{
		{name: "zero falls back to max", limit: 0},
		{name: "above max clamps to max", limit: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := svc.Build(context.Background(), tt.limit)
			require.NoError(t, err)
			assert.Equal(t, 2, payload.Total)
			assert.Len(t, payload.Records, 2)
		})
	}

	payload, err := svc.Build(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, payload.Records, 1, "an explicit limit below the max is honored")
}
