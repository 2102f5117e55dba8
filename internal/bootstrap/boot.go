package bootstrap

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/redis/go-redis/v9"

	"learning-coach-platform/internal/ai"
	"learning-coach-platform/internal/config"
	"learning-coach-platform/internal/database"
	"learning-coach-platform/internal/logger"
	"learning-coach-platform/internal/queue"
	"learning-coach-platform/internal/telemetry"
	"learning-coach-platform/models"
	"learning-coach-platform/services"
)

// model is what the configured answer provider offers: grounded answers
// for documents and free-form coach chat.
type model interface {
	ai.Answerer
	ai.CoachChatter
}

// App holds the wired services shared by the API server and the worker.
type App struct {
	Config     *config.Config
	Metrics    *telemetry.Metrics
	Store      database.Store
	Redis      *redis.Client
	Indexing   *services.IndexingService
	RAG        *services.RAGService
	Coach      ai.CoachChatter
	Dispatcher queue.Dispatcher

	closers []func()
}

// Build connects the store, model clients and queue selected by cfg.
// withDispatcher is false for the worker, which consumes tasks instead
// of producing them.
func Build(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics, withDispatcher bool) (*App, error) {
	app := &App{Config: cfg, Metrics: metrics}

	store, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreDriver, err)
	}
	app.Store = store
	app.onClose(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.DBConnectTimeout)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("Failed to close store", "error", err)
		}
	})

	httpClient := &http.Client{Timeout: cfg.LLMTimeout}

	embedder, err := ai.NewEmbedder(ctx, cfg, httpClient)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	if c, ok := embedder.(io.Closer); ok {
		app.onClose(func() { c.Close() })
	}

	answers, err := newModel(ctx, cfg, httpClient)
	if err != nil {
		app.Close()
		return nil, err
	}
	if c, ok := answers.(io.Closer); ok {
		app.onClose(func() { c.Close() })
	}
	app.Coach = answers

	var locker services.IndexLocker = services.NewLocalIndexLocker()
	if cfg.QueueDriver == "asynq" {
		rdb, err := config.NewRedisClient(cfg)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Redis = rdb
		app.onClose(func() { rdb.Close() })
		locker = services.NewRedisIndexLocker(rdb, cfg.IndexLockTTL)
	}

	embeddings := services.NewEmbeddingService(embedder, services.EmbeddingOptions{
		BatchSize:   cfg.EmbeddingBatchSize,
		MaxAttempts: cfg.EmbeddingRetries,
		RetryDelay:  cfg.EmbeddingRetryDelay,
	}, metrics)

	extractor := services.NewTextExtractor(services.NewOCRServiceFromConfig(cfg), services.ExtractorOptions{
		MinTextLength: cfg.MinTextLength,
	})

	app.Indexing = services.NewIndexingService(services.IndexingDeps{
		Store:     store,
		Extractor: extractor,
		Chunker: services.NewChunker(models.ChunkingConfig{
			WindowWords:  cfg.ChunkWords,
			OverlapWords: cfg.ChunkOverlap,
			MaxChars:     cfg.MaxEmbeddingChars,
		}),
		Embeddings: embeddings,
		Summarizer: services.NewSummarizationService(answers, cfg.SummaryMaxChars),
		Locker:     locker,
		Metrics:    metrics,
		Pacing:     cfg.EmbeddingPacing,
	})
	app.RAG = services.NewRAGService(store, embeddings, answers, cfg.TopK)

	if withDispatcher {
		dispatcher, err := newDispatcher(cfg, app.Indexing)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Dispatcher = dispatcher
		app.onClose(func() { dispatcher.Close() })
	}

	logger.Info("Services wired",
		"store", cfg.StoreDriver,
		"queue", cfg.QueueDriver,
		"embeddings", embedder.Name(),
		"answers", cfg.AnswerProvider,
		"ocr", cfg.OCREngine,
	)
	return app, nil
}

func newModel(ctx context.Context, cfg *config.Config, httpClient *http.Client) (model, error) {
	switch cfg.AnswerProvider {
	case "gemini":
		client, err := ai.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, int(cfg.LLMRateLimitRPS*60))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
		}
		return client, nil
	default:
		return ai.NewLLMBackendClient(cfg.LLMBackendURL, httpClient, cfg.LLMRateLimitRPS), nil
	}
}

func newDispatcher(cfg *config.Config, indexer queue.Indexer) (queue.Dispatcher, error) {
	if cfg.QueueDriver == "local" {
		return queue.NewLocalDispatcher(indexer, cfg.WorkerConcurrency, 0), nil
	}
	opt, err := queue.RedisConnOpt(cfg)
	if err != nil {
		return nil, err
	}
	return queue.NewAsynqDispatcher(opt), nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
