package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"learning-coach-platform/internal/database"
	"learning-coach-platform/internal/logger"
	"learning-coach-platform/internal/telemetry"
	"learning-coach-platform/models"
)

// unexpectedFailureMessage is stored when an indexing run panics.
const unexpectedFailureMessage = "Document processing failed unexpectedly"

// DocumentTextExtractor turns a stored file into text.
type DocumentTextExtractor interface {
	Extract(ctx context.Context, path, mimeType string) (*models.ExtractionResult, error)
}

// Summarizer produces a short abstract from a document's chunks.
type Summarizer interface {
	Summarize(ctx context.Context, chunks []models.Chunk) (string, error)
}

// IndexingService runs the extract, chunk, summarize, embed and persist
// pipeline for one document and keeps its status in step.
type IndexingService struct {
	store      database.Store
	extractor  DocumentTextExtractor
	chunker    *Chunker
	embeddings *EmbeddingService
	summarizer Summarizer
	locker     IndexLocker
	metrics    *telemetry.Metrics
	// pacing is the pause between embedding batches.
	pacing time.Duration
}

// IndexingDeps are the collaborators of an IndexingService. Locker
// defaults to an in-process lock set; Summarizer and Metrics may be nil.
type IndexingDeps struct {
	Store      database.Store
	Extractor  DocumentTextExtractor
	Chunker    *Chunker
	Embeddings *EmbeddingService
	Summarizer Summarizer
	Locker     IndexLocker
	Metrics    *telemetry.Metrics
	Pacing     time.Duration
}

func NewIndexingService(deps IndexingDeps) *IndexingService {
	if deps.Locker == nil {
		deps.Locker = NewLocalIndexLocker()
	}
	if deps.Chunker == nil {
		deps.Chunker = NewChunker(models.ChunkingConfig{})
	}
	return &IndexingService{
		store:      deps.Store,
		extractor:  deps.Extractor,
		chunker:    deps.Chunker,
		embeddings: deps.Embeddings,
		summarizer: deps.Summarizer,
		locker:     deps.Locker,
		metrics:    deps.Metrics,
		pacing:     deps.Pacing,
	}
}

// Index (re)builds the chunk index of one document. Every failure after
// the document is loaded leaves it failed with a message and no chunk
// rows; the error is returned as well so the caller can log it.
func (s *IndexingService) Index(ctx context.Context, documentID string) (err error) {
	ctx, span := otel.Tracer("indexing-service").Start(ctx, "document.index")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID))

	log := logger.With("document_id", documentID)

	release, ok, err := s.locker.TryLock(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to acquire index lock: %w", err)
	}
	if !ok {
		log.Warn("Indexing already running, skipping")
		return models.ErrIndexingInProgress
	}
	defer release()

	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	start := time.Now()
	chunkCount := 0
	defer func() {
		if r := recover(); r != nil {
			log.Error("Indexing panicked", "panic", r, "stack", string(debug.Stack()))
			s.fail(ctx, log, documentID, "panic", unexpectedFailureMessage)
			err = fmt.Errorf("indexing panicked: %v", r)
		}

		status := models.StatusReady
		if err != nil {
			status = models.StatusFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.RecordIndexing(ctx, time.Since(start).Seconds(), status, chunkCount)
	}()

	log.Info("Indexing started", "title", doc.Title, "mime_type", doc.MimeType)
	cachedSummary := doc.Summary

	extracted, err := s.extract(ctx, doc)
	if err != nil {
		s.fail(ctx, log, documentID, "extract", err.Error())
		return err
	}

	chunks := s.chunker.Chunk(extracted.Text)
	AssignPages(chunks, extracted.PageStarts)
	if len(chunks) == 0 {
		err := &models.ChunkingError{Reason: "no chunks produced from extracted text"}
		s.fail(ctx, log, documentID, "chunk", err.Error())
		return err
	}
	log.Info("Text chunked", "method", extracted.Method, "chunks", len(chunks))

	summary := cachedSummary
	if summary == "" && s.summarizer != nil {
		summary, err = s.summarizer.Summarize(ctx, chunks)
		if err != nil {
			log.Warn("Summary generation failed, continuing without one", "error", err)
			summary = ""
		}
	}

	if err := s.store.DeleteChunks(ctx, documentID); err != nil {
		s.fail(ctx, log, documentID, "reset", err.Error())
		return err
	}
	if err := s.store.BeginIndexing(ctx, documentID, len(chunks), summary, extracted.Text); err != nil {
		s.fail(ctx, log, documentID, "begin", err.Error())
		return err
	}

	if err := s.embedAndStore(ctx, log, documentID, chunks); err != nil {
		s.fail(ctx, log, documentID, "embed", err.Error())
		return err
	}

	if err := s.store.MarkReady(ctx, documentID, len(chunks), summary, extracted.Text); err != nil {
		s.fail(ctx, log, documentID, "finalize", err.Error())
		return err
	}
	chunkCount = len(chunks)

	log.Info("Indexing completed", "chunks", len(chunks), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (s *IndexingService) extract(ctx context.Context, doc *models.Document) (*models.ExtractionResult, error) {
	ctx, span := otel.Tracer("indexing-service").Start(ctx, "document.extract")
	defer span.End()

	result, err := s.extractor.Extract(ctx, doc.FilePath, doc.MimeType)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("extraction.method", result.Method),
		attribute.Int("extraction.chars", len(result.Text)),
	)
	return result, nil
}

// embedAndStore embeds chunks batch by batch in order, persisting each
// batch and advancing progress before the next one starts.
func (s *IndexingService) embedAndStore(ctx context.Context, log *slog.Logger, documentID string, chunks []models.Chunk) error {
	total := len(chunks)
	batchSize := s.embeddings.BatchSize()
	processed := 0

	for start := 0; start < total; start += batchSize {
		if start > 0 && s.pacing > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.pacing):
			}
		}

		end := min(start+batchSize, total)
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, ch := range batch {
			texts[i] = ch.Text
		}

		vectors, err := s.embeddings.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}

		rows := make([]models.Chunk, len(batch))
		for i, ch := range batch {
			ch.ID = uuid.NewString()
			ch.DocumentID = documentID
			ch.Embedding = vectors[i]
			rows[i] = ch
		}
		err = s.store.InsertChunks(ctx, rows)
		s.metrics.RecordDatabaseOperation("insert", "document_chunks", err == nil)
		if err != nil {
			return err
		}

		processed += len(batch)
		if err := s.store.UpdateProgress(ctx, documentID, float64(processed)/float64(total)); err != nil {
			return err
		}
		log.Debug("Embedding batch stored", "processed", processed, "total", total)
	}
	return nil
}

// fail marks the document failed. It runs detached from ctx so a
// cancelled run still records its outcome.
func (s *IndexingService) fail(ctx context.Context, log *slog.Logger, documentID, stage, message string) {
	log.Error("Indexing failed", "stage", stage, "error", message)
	if message == "" {
		message = unexpectedFailureMessage
	}
	if err := s.store.MarkFailed(context.WithoutCancel(ctx), documentID, message); err != nil && !errors.Is(err, models.ErrDocumentNotFound) {
		log.Error("Failed to mark document failed", "error", err)
	}
}
