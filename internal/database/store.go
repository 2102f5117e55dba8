package database

import (
	"context"
	"fmt"
	"time"

	"learning-coach-platform/internal/config"
	"learning-coach-platform/models"
)

// Store persists documents and their chunk vectors. GetDocument returns
// models.ErrDocumentNotFound for unknown or soft-deleted documents.
type Store interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
	Migrate(ctx context.Context) error

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, userID string) ([]models.Document, error)
	SoftDeleteDocument(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[string]int, error)

	// BeginIndexing moves a document to processing with progress 0 and
	// the error cleared.
	BeginIndexing(ctx context.Context, id string, totalChunks int, summary, contentText string) error
	UpdateProgress(ctx context.Context, id string, progress float64) error
	// MarkReady sets status ready, progress 1 and indexed_at.
	MarkReady(ctx context.Context, id string, totalChunks int, summary, contentText string) error
	// MarkFailed removes the document's chunk rows and records message.
	MarkFailed(ctx context.Context, id, message string) error

	DeleteChunks(ctx context.Context, documentID string) error
	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	CountChunks(ctx context.Context, documentID string) (int, error)
	// NearestChunks returns at most k chunks of one document ordered by
	// ascending vector distance.
	NearestChunks(ctx context.Context, documentID string, vector []float32, k int) ([]models.ScoredChunk, error)

	// ListStaleProcessing returns documents still processing whose last
	// update is older than updatedBefore.
	ListStaleProcessing(ctx context.Context, updatedBefore time.Time) ([]models.Document, error)
}

// Open connects the store selected by STORE_DRIVER.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case "postgres":
		return NewPostgresStore(cfg)
	case "mongo":
		client, err := config.ConnectMongoDB(cfg)
		if err != nil {
			return nil, err
		}
		return NewMongoStore(client, cfg.DBName, cfg.VectorIndexName, cfg.VectorDimensions), nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.StoreDriver)
	}
}
