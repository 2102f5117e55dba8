package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"learning-coach-platform/internal/bootstrap"
	"learning-coach-platform/internal/config"
	"learning-coach-platform/internal/logger"
	"learning-coach-platform/internal/telemetry"
	"learning-coach-platform/middleware"
	"learning-coach-platform/routes"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	if cfg.OTelEnabled {
		shutdown, err := telemetry.InitTracer(cfg.ServiceName, cfg.OTelEndpoint, cfg.Environment)
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

	app, err := bootstrap.Build(context.Background(), cfg, metrics, true)
	if err != nil {
		logger.Error("Failed to start services", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	// Initialize Gin router
	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.TracingMiddleware(cfg.ServiceName))
	router.Use(middleware.EnrichTrace())
	router.Use(middleware.MetricsMiddleware(metrics))
	router.Use(middleware.CORSMiddlewareWithOrigins(cfg.CORSOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.MaxRequestBytes))

	var counter middleware.RequestCounter = middleware.NewLocalCounter()
	if app.Redis != nil {
		counter = middleware.NewRedisCounter(app.Redis)
	}
	router.Use(middleware.RateLimitMiddleware(counter, cfg.RateLimitReqs, cfg.RateLimitWindow))

	// Setup routes
	routes.SetupHealthRoutes(router, app.Store, app.Dispatcher.Mode())
	routes.SetupDocumentRoutes(router, routes.DocumentDeps{
		Store:      app.Store,
		Dispatcher: app.Dispatcher,
		RAG:        app.RAG,
	})
	routes.SetupChatRoutes(router, app.Coach)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port, "queue", app.Dispatcher.Mode())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
