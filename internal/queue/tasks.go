package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"learning-coach-platform/internal/config"
	"learning-coach-platform/internal/logger"
	"learning-coach-platform/models"
)

const (
	TaskIndexDocument = "document:index"

	// indexTimeout bounds one indexing run, OCR and embedding included.
	indexTimeout = 30 * time.Minute
)

type IndexDocumentPayload struct {
	DocumentID string `json:"document_id"`
}

// IndexTaskID is the task id used to keep one queued run per document.
func IndexTaskID(documentID string) string {
	return "index:" + documentID
}

// NewIndexDocumentTask builds the indexing task. Failures are recorded on
// the document itself, so the task is never retried by the queue.
func NewIndexDocumentTask(documentID string) (*asynq.Task, error) {
	payload, err := json.Marshal(IndexDocumentPayload{DocumentID: documentID})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TaskIndexDocument,
		payload,
		asynq.MaxRetry(0),
		asynq.Timeout(indexTimeout),
		asynq.Queue("default"),
		asynq.TaskID(IndexTaskID(documentID)),
	), nil
}

// Indexer runs the indexing pipeline for one document.
type Indexer interface {
	Index(ctx context.Context, documentID string) error
}

// TaskProcessor consumes queued tasks.
type TaskProcessor struct {
	indexer Indexer
}

func NewTaskProcessor(indexer Indexer) *TaskProcessor {
	return &TaskProcessor{indexer: indexer}
}

// Register adds the processor's handlers to mux.
func (p *TaskProcessor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskIndexDocument, p.ProcessIndexDocument)
}

func (p *TaskProcessor) ProcessIndexDocument(ctx context.Context, t *asynq.Task) error {
	var payload IndexDocumentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %w", asynq.SkipRetry)
	}
	if payload.DocumentID == "" {
		return fmt.Errorf("missing document_id: %w", asynq.SkipRetry)
	}

	logger.Info("Processing indexing task", "document_id", payload.DocumentID)
	return runIndex(ctx, p.indexer, payload.DocumentID)
}

// runIndex runs one indexing attempt and logs its outcome. A run skipped
// because another holds the document lock is not an error.
func runIndex(ctx context.Context, indexer Indexer, documentID string) error {
	start := time.Now()
	err := indexer.Index(ctx, documentID)
	switch {
	case err == nil:
		logger.Info("Indexing task completed", "document_id", documentID, "duration_ms", time.Since(start).Milliseconds())
		return nil
	case errors.Is(err, models.ErrIndexingInProgress):
		logger.Warn("Indexing task skipped, document is locked", "document_id", documentID)
		return nil
	case errors.Is(err, models.ErrDocumentNotFound):
		logger.Warn("Indexing task for unknown document", "document_id", documentID)
		return nil
	default:
		logger.Error("Indexing task failed", "document_id", documentID, "error", err)
		return err
	}
}

// RedisConnOpt converts the Redis settings for asynq.
func RedisConnOpt(cfg *config.Config) (asynq.RedisClientOpt, error) {
	opt, err := config.RedisOptions(cfg)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}
	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Username:  opt.Username,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: opt.TLSConfig,
	}, nil
}
