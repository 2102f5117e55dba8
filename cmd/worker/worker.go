package main

import (
	"context"
	"log"
	"os"

	"github.com/hibiken/asynq"

	"learning-coach-platform/internal/bootstrap"
	"learning-coach-platform/internal/config"
	"learning-coach-platform/internal/logger"
	"learning-coach-platform/internal/queue"
	"learning-coach-platform/internal/telemetry"
	"learning-coach-platform/services"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	if cfg.QueueDriver != "asynq" {
		logger.Error("The worker consumes the Redis queue; set QUEUE_DRIVER=asynq", "queue", cfg.QueueDriver)
		os.Exit(1)
	}

	if cfg.OTelEnabled {
		shutdown, err := telemetry.InitTracer(cfg.ServiceName+"-worker", cfg.OTelEndpoint, cfg.Environment)
		if err != nil {
			logger.Warn("Tracing disabled", "error", err)
		} else {
			defer shutdown()
		}
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		logger.Warn("Metrics disabled", "error", err)
	}

	app, err := bootstrap.Build(context.Background(), cfg, metrics, false)
	if err != nil {
		logger.Error("Failed to start services", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	redisOpt, err := queue.RedisConnOpt(cfg)
	if err != nil {
		logger.Error("Invalid Redis configuration", "error", err)
		os.Exit(1)
	}

	// Create Asynq server
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				"default": 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	// Create task processor
	processor := queue.NewTaskProcessor(app.Indexing)
	mux := asynq.NewServeMux()
	processor.Register(mux)

	monitor := services.NewStaleMonitor(app.Store, metrics, cfg.StaleScanInterval, cfg.StaleProcessingAfter)
	if err := monitor.Start(); err != nil {
		logger.Warn("Stale processing monitor not started", "error", err)
	}
	defer monitor.Stop()

	logger.Info("Starting Asynq worker",
		"concurrency", cfg.WorkerConcurrency,
		"redis", redisOpt.Addr,
		"store", cfg.StoreDriver,
	)

	// Run blocks until SIGINT/SIGTERM
	if err := server.Run(mux); err != nil {
		logger.Error("Worker stopped", "error", err)
		os.Exit(1)
	}
}
