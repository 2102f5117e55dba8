package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"learning-coach-platform/internal/ai"
	"learning-coach-platform/internal/logger"
	"learning-coach-platform/internal/telemetry"
	"learning-coach-platform/models"
	"learning-coach-platform/utils"
)

// EmbeddingOptions configures batching and retries.
type EmbeddingOptions struct {
	BatchSize   int
	MaxAttempts int
	RetryDelay  time.Duration
}

// EmbeddingService batches texts to an ai.Embedder and retries each
// batch with linear backoff.
type EmbeddingService struct {
	embedder  ai.Embedder
	batchSize int
	policy    utils.RetryPolicy
	metrics   *telemetry.Metrics
}

func NewEmbeddingService(embedder ai.Embedder, opts EmbeddingOptions, metrics *telemetry.Metrics) *EmbeddingService {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}

	s := &EmbeddingService{
		embedder:  embedder,
		batchSize: opts.BatchSize,
		metrics:   metrics,
	}
	s.policy = utils.RetryPolicy{
		MaxAttempts: opts.MaxAttempts,
		Backoff:     utils.LinearBackoff(opts.RetryDelay),
		Retryable:   isRetryableEmbeddingError,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			logger.Warn("Embedding batch failed, retrying", "provider", embedder.Name(), "attempt", attempt, "wait", wait.String(), "error", err)
			s.metrics.RecordEmbeddingRetry(context.Background())
		},
	}
	return s
}

// BatchSize is the number of texts sent per upstream call.
func (s *EmbeddingService) BatchSize() int { return s.batchSize }

// Embed returns one vector per text, in order, batching internally.
func (s *EmbeddingService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.batchSize {
		end := min(start+s.batchSize, len(texts))
		vecs, err := s.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// EmbedBatch embeds one batch with retries. A reply whose vector count
// differs from the input count fails at once.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	ctx, span := otel.Tracer("embedding-service").Start(ctx, "embedding.batch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("embedding.batch_size", len(batch)),
		attribute.String("embedding.provider", s.embedder.Name()),
	)

	vecs, attempts, err := utils.Retry(ctx, s.policy, func(ctx context.Context) ([][]float32, error) {
		vecs, err := s.embedder.Embed(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("%w: got %d vectors for %d texts", models.ErrEmbeddingCountMismatch, len(vecs), len(batch))
		}
		return vecs, nil
	})
	span.SetAttributes(attribute.Int("embedding.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		return nil, &models.EmbeddingError{Attempts: attempts, Err: err}
	}
	return vecs, nil
}

// EmbedQuery embeds a single text through the same batching and retries.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func isRetryableEmbeddingError(err error) bool {
	if errors.Is(err, models.ErrEmbeddingCountMismatch) {
		return false
	}
	var upstream *models.UpstreamError
	if errors.As(err, &upstream) {
		return upstream.Temporary()
	}
	return true
}
