package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"learning-coach-platform/internal/config"
	"learning-coach-platform/models"
)

type documentRow struct {
	ID                 string         `gorm:"type:uuid;primaryKey"`
	UserID             string         `gorm:"type:text;not null;index"`
	Title              string         `gorm:"type:text;not null"`
	FilePath           string         `gorm:"type:text;not null"`
	MimeType           string         `gorm:"type:text"`
	FileSizeBytes      int64          `gorm:"not null;default:0"`
	Status             string         `gorm:"type:text;not null;default:uploaded;index"`
	ProcessingProgress float64        `gorm:"type:double precision;not null;default:0"`
	TotalChunks        int            `gorm:"not null;default:0"`
	ErrorMessage       *string        `gorm:"type:text"`
	Summary            *string        `gorm:"type:text"`
	ContentText        *string        `gorm:"type:text"`
	UploadedAt         time.Time      `gorm:"not null"`
	IndexedAt          *time.Time
	UpdatedAt          time.Time
	DeletedAt          gorm.DeletedAt `gorm:"index"`
}

func (documentRow) TableName() string { return "documents" }

type chunkRow struct {
	ID         string                                   `gorm:"type:uuid;primaryKey"`
	DocumentID string                                   `gorm:"type:uuid;not null;index"`
	ChunkText  string                                   `gorm:"type:text;not null"`
	ChunkIndex int                                      `gorm:"not null"`
	Metadata   datatypes.JSONType[models.ChunkMetadata] `gorm:"type:jsonb"`
	Embedding  pgvector.Vector                          `gorm:"type:vector"`
	CreatedAt  time.Time
}

func (chunkRow) TableName() string { return "document_chunks" }

type scoredChunkRow struct {
	Chunk    chunkRow `gorm:"embedded"`
	Distance float64
}

// PostgresStore keeps documents and pgvector chunk embeddings in Postgres.
type PostgresStore struct {
	db        *gorm.DB
	dimension int
}

func NewPostgresStore(cfg *config.Config) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DBConnectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresStoreFromDB(db, cfg.VectorDimensions), nil
}

// NewPostgresStoreFromDB wraps an existing gorm handle.
func NewPostgresStoreFromDB(db *gorm.DB, dimension int) *PostgresStore {
	return &PostgresStore{db: db, dimension: dimension}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *PostgresStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Migrate creates the pgvector extension, both tables and their indexes.
// The chunk table is created by hand because the vector column carries
// the configured dimension.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	if err := db.AutoMigrate(&documentRow{}); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_chunks (
			id uuid PRIMARY KEY,
			document_id uuid NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			chunk_text text NOT NULL,
			chunk_index integer NOT NULL,
			metadata jsonb NOT NULL DEFAULT '{}'::jsonb,
			embedding vector(%d) NOT NULL,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_document ON document_chunks (document_id, chunk_index)`,
		`CREATE INDEX IF NOT EXISTS idx_document_chunks_embedding ON document_chunks USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("schema migration failed: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	now := time.Now().UTC()
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = now
	}
	doc.UpdatedAt = now

	row := toDocumentRow(doc)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return &models.PersistenceError{Op: "create document", Err: err}
	}
	return nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrDocumentNotFound
	}

	var row documentRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrDocumentNotFound
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get document", Err: err}
	}
	return row.toModel(), nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	q := s.db.WithContext(ctx).Order("uploaded_at DESC")
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}

	var rows []documentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, &models.PersistenceError{Op: "list documents", Err: err}
	}

	docs := make([]models.Document, 0, len(rows))
	for i := range rows {
		docs = append(docs, *rows[i].toModel())
	}
	return docs, nil
}

func (s *PostgresStore) SoftDeleteDocument(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return models.ErrDocumentNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&chunkRow{}).Error; err != nil {
			return &models.PersistenceError{Op: "delete chunks", Err: err}
		}
		res := tx.Where("id = ?", id).Delete(&documentRow{})
		if res.Error != nil {
			return &models.PersistenceError{Op: "delete document", Err: res.Error}
		}
		if res.RowsAffected == 0 {
			return models.ErrDocumentNotFound
		}
		return nil
	})
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	var rows []struct {
		Status string
		Count  int
	}
	err := s.db.WithContext(ctx).Model(&documentRow{}).
		Select("status, count(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, &models.PersistenceError{Op: "count documents", Err: err}
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (s *PostgresStore) BeginIndexing(ctx context.Context, id string, totalChunks int, summary, contentText string) error {
	return s.updateDocument(ctx, s.db, "begin indexing", id, map[string]any{
		"status":              models.StatusProcessing,
		"total_chunks":        totalChunks,
		"processing_progress": 0.0,
		"error_message":       nil,
		"summary":             nullable(summary),
		"content_text":        nullable(contentText),
	})
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, id string, progress float64) error {
	return s.updateDocument(ctx, s.db, "update progress", id, map[string]any{
		"processing_progress": progress,
	})
}

func (s *PostgresStore) MarkReady(ctx context.Context, id string, totalChunks int, summary, contentText string) error {
	return s.updateDocument(ctx, s.db, "mark ready", id, map[string]any{
		"status":              models.StatusReady,
		"total_chunks":        totalChunks,
		"processing_progress": 1.0,
		"error_message":       nil,
		"summary":             nullable(summary),
		"content_text":        nullable(contentText),
		"indexed_at":          time.Now().UTC(),
	})
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, message string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&chunkRow{}).Error; err != nil {
			return &models.PersistenceError{Op: "mark failed", Err: err}
		}
		return s.updateDocument(ctx, tx, "mark failed", id, map[string]any{
			"status":              models.StatusFailed,
			"processing_progress": 0.0,
			"error_message":       message,
		})
	})
}

func (s *PostgresStore) DeleteChunks(ctx context.Context, documentID string) error {
	if err := s.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&chunkRow{}).Error; err != nil {
		return &models.PersistenceError{Op: "delete chunks", Err: err}
	}
	return nil
}

func (s *PostgresStore) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	rows := make([]chunkRow, 0, len(chunks))
	now := time.Now().UTC()
	for _, ch := range chunks {
		createdAt := ch.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		rows = append(rows, chunkRow{
			ID:         ch.ID,
			DocumentID: ch.DocumentID,
			ChunkText:  ch.Text,
			ChunkIndex: ch.Index,
			Metadata:   datatypes.NewJSONType(ch.Metadata),
			Embedding:  pgvector.NewVector(ch.Embedding),
			CreatedAt:  createdAt,
		})
	}

	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return &models.PersistenceError{Op: "insert chunks", Err: err}
	}
	return nil
}

func (s *PostgresStore) CountChunks(ctx context.Context, documentID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&chunkRow{}).Where("document_id = ?", documentID).Count(&count).Error; err != nil {
		return 0, &models.PersistenceError{Op: "count chunks", Err: err}
	}
	return int(count), nil
}

func (s *PostgresStore) NearestChunks(ctx context.Context, documentID string, vector []float32, k int) ([]models.ScoredChunk, error) {
	var rows []scoredChunkRow
	err := s.db.WithContext(ctx).
		Table("document_chunks").
		Select("id, document_id, chunk_text, chunk_index, metadata, embedding, created_at, embedding <=> ? AS distance", pgvector.NewVector(vector)).
		Where("document_id = ?", documentID).
		Order("distance").
		Limit(k).
		Scan(&rows).Error
	if err != nil {
		return nil, &models.PersistenceError{Op: "nearest chunks", Err: err}
	}

	out := make([]models.ScoredChunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.ScoredChunk{Chunk: r.Chunk.toModel(), Distance: r.Distance})
	}
	return out, nil
}

func (s *PostgresStore) ListStaleProcessing(ctx context.Context, updatedBefore time.Time) ([]models.Document, error) {
	var rows []documentRow
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.StatusProcessing, updatedBefore).
		Find(&rows).Error
	if err != nil {
		return nil, &models.PersistenceError{Op: "list stale documents", Err: err}
	}

	docs := make([]models.Document, 0, len(rows))
	for i := range rows {
		docs = append(docs, *rows[i].toModel())
	}
	return docs, nil
}

func (s *PostgresStore) updateDocument(ctx context.Context, db *gorm.DB, op, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&documentRow{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return &models.PersistenceError{Op: op, Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return models.ErrDocumentNotFound
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toDocumentRow(doc *models.Document) documentRow {
	return documentRow{
		ID:                 doc.ID,
		UserID:             doc.UserID,
		Title:              doc.Title,
		FilePath:           doc.FilePath,
		MimeType:           doc.MimeType,
		FileSizeBytes:      doc.FileSizeBytes,
		Status:             doc.Status,
		ProcessingProgress: doc.ProcessingProgress,
		TotalChunks:        doc.TotalChunks,
		ErrorMessage:       nullable(doc.ErrorMessage),
		Summary:            nullable(doc.Summary),
		ContentText:        nullable(doc.ContentText),
		UploadedAt:         doc.UploadedAt,
		IndexedAt:          doc.IndexedAt,
		UpdatedAt:          doc.UpdatedAt,
	}
}

func (r *documentRow) toModel() *models.Document {
	doc := &models.Document{
		ID:                 r.ID,
		UserID:             r.UserID,
		Title:              r.Title,
		FilePath:           r.FilePath,
		MimeType:           r.MimeType,
		FileSizeBytes:      r.FileSizeBytes,
		Status:             r.Status,
		ProcessingProgress: r.ProcessingProgress,
		TotalChunks:        r.TotalChunks,
		ErrorMessage:       deref(r.ErrorMessage),
		Summary:            deref(r.Summary),
		ContentText:        deref(r.ContentText),
		UploadedAt:         r.UploadedAt,
		IndexedAt:          r.IndexedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time
		doc.DeletedAt = &t
	}
	return doc
}

func (r chunkRow) toModel() models.Chunk {
	return models.Chunk{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		Index:      r.ChunkIndex,
		Text:       r.ChunkText,
		Metadata:   r.Metadata.Data(),
		Embedding:  r.Embedding.Slice(),
		CreatedAt:  r.CreatedAt,
	}
}
