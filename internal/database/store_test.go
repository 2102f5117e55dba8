package database

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"learning-coach-platform/internal/config"
	"learning-coach-platform/models"
)

// exerciseStore runs the shared behaviour every Store must provide.
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()
	doc := &models.Document{
		ID:       uuid.NewString(),
		UserID:   "user-" + uuid.NewString(),
		Title:    "Notes",
		FilePath: "/tmp/notes.txt",
		MimeType: "text/plain",
		Status:   models.StatusUploaded,
	}
	require.NoError(t, store.CreateDocument(ctx, doc))

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, got.Status)

	require.NoError(t, store.BeginIndexing(ctx, doc.ID, 3, "summary", "full text"))
	got, err = store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Equal(t, 3, got.TotalChunks)
	assert.Empty(t, got.ErrorMessage)

	chunks := []models.Chunk{
		{ID: uuid.NewString(), DocumentID: doc.ID, Index: 0, Text: "alpha", Embedding: []float32{1, 0, 0}},
		{ID: uuid.NewString(), DocumentID: doc.ID, Index: 1, Text: "beta", Embedding: []float32{0, 1, 0}},
		{ID: uuid.NewString(), DocumentID: doc.ID, Index: 2, Text: "gamma", Embedding: []float32{0.9, 0.1, 0}, Metadata: models.ChunkMetadata{Page: 2}},
	}
	require.NoError(t, store.InsertChunks(ctx, chunks))
	require.NoError(t, store.UpdateProgress(ctx, doc.ID, 0.5))

	n, err := store.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	hits, err := store.NearestChunks(ctx, doc.ID, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "alpha", hits[0].Chunk.Text)
	assert.Equal(t, "gamma", hits[1].Chunk.Text)
	assert.Equal(t, 2, hits[1].Chunk.Metadata.Page)
	assert.LessOrEqual(t, hits[0].Distance, hits[1].Distance)

	require.NoError(t, store.MarkReady(ctx, doc.ID, 3, "summary", "full text"))
	got, err = store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, got.Status)
	assert.Equal(t, 1.0, got.ProcessingProgress)
	assert.NotNil(t, got.IndexedAt)

	require.NoError(t, store.MarkFailed(ctx, doc.ID, "embedding failed"))
	got, err = store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "embedding failed", got.ErrorMessage)
	n, err = store.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	listed, err := store.ListDocuments(ctx, doc.UserID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	require.NoError(t, store.SoftDeleteDocument(ctx, doc.ID))
	_, err = store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, models.ErrDocumentNotFound)
	assert.ErrorIs(t, store.UpdateProgress(ctx, doc.ID, 0.1), models.ErrDocumentNotFound)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_ListStaleProcessing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: "stuck", Status: models.StatusUploaded}))
	require.NoError(t, store.CreateDocument(ctx, &models.Document{ID: "fresh", Status: models.StatusUploaded}))
	require.NoError(t, store.BeginIndexing(ctx, "stuck", 1, "", ""))

	store.now = func() time.Time { return base.Add(2 * time.Hour) }
	require.NoError(t, store.BeginIndexing(ctx, "fresh", 1, "", ""))

	stale, err := store.ListStaleProcessing(ctx, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "stuck", stale[0].ID)
}

func TestCosineDistance(t *testing.T) {
	d, err := cosineDistance([]float32{1, 0}, []float32{1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-9)

	d, err = cosineDistance([]float32{1, 0}, []float32{-1, 0})
	require.NoError(t, err)
	assert.InDelta(t, 2, d, 1e-9)

	_, err = cosineDistance([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	store, err := NewPostgresStore(&config.Config{DatabaseURL: url, VectorDimensions: 3, DBConnectTimeout: 10 * time.Second})
	require.NoError(t, err)
	defer store.Close(context.Background())

	// The vector column dimension is fixed per table, so start clean.
	require.NoError(t, store.db.Exec("DROP TABLE IF EXISTS document_chunks, documents CASCADE").Error)

	require.NoError(t, store.Migrate(context.Background()))
	exerciseStore(t, store)
}

// Atlas $vectorSearch needs a search index, so only the lifecycle runs here.
func TestMongoStore_Lifecycle(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)

	dbName := "lc_test_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	store := NewMongoStore(client, dbName, "unused", 3)
	defer func() {
		client.Database(dbName).Drop(ctx)
		store.Close(ctx)
	}()
	require.NoError(t, store.Migrate(ctx))

	doc := &models.Document{ID: uuid.NewString(), UserID: "learner", Title: "Notes", Status: models.StatusUploaded}
	require.NoError(t, store.CreateDocument(ctx, doc))
	require.NoError(t, store.BeginIndexing(ctx, doc.ID, 1, "", ""))
	require.NoError(t, store.InsertChunks(ctx, []models.Chunk{
		{ID: uuid.NewString(), DocumentID: doc.ID, Text: "alpha", Embedding: []float32{1, 0, 0}},
	}))
	require.NoError(t, store.MarkReady(ctx, doc.ID, 1, "summary", "alpha"))

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, got.Status)

	require.NoError(t, store.MarkFailed(ctx, doc.ID, "boom"))
	n, err := store.CountChunks(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.StatusFailed])
}
