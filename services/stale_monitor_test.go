package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"learning-coach-platform/internal/database"
	"learning-coach-platform/models"
)

func TestStaleMonitor_ScanFindsOldProcessingDocuments(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore()
	require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: "stuck", Status: models.StatusUploaded}))
	require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: "idle", Status: models.StatusUploaded}))
	require.NoError(t, store.BeginIndexing(ctx, "stuck", 4, "", ""))

	monitor := NewStaleMonitor(store, nil, time.Minute, time.Hour)
	monitor.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	stale, err := monitor.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "stuck", stale[0].ID)

	got, err := store.GetDocument(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status, "the monitor only reports")
}

func TestStaleMonitor_StartStop(t *testing.T) {
	monitor := NewStaleMonitor(database.NewMemoryStore(), nil, time.Hour, time.Hour)
	require.NoError(t, monitor.Start())
	monitor.Stop()
}
