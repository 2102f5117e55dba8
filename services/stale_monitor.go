package services

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"learning-coach-platform/internal/database"
	"learning-coach-platform/internal/logger"
	"learning-coach-platform/internal/telemetry"
	"learning-coach-platform/models"
)

const staleScanTag = "stale-processing-scan"

// StaleMonitor periodically reports documents stuck in processing, for
// example after a worker crash. It never changes their state; reindexing
// is how they are recovered.
type StaleMonitor struct {
	store     database.Store
	metrics   *telemetry.Metrics
	interval  time.Duration
	after     time.Duration
	scheduler *gocron.Scheduler
	now       func() time.Time
}

func NewStaleMonitor(store database.Store, metrics *telemetry.Metrics, interval, after time.Duration) *StaleMonitor {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if after <= 0 {
		after = time.Hour
	}
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()

	return &StaleMonitor{
		store:     store,
		metrics:   metrics,
		interval:  interval,
		after:     after,
		scheduler: s,
		now:       time.Now,
	}
}

// Start schedules the scan and runs the scheduler in the background.
func (m *StaleMonitor) Start() error {
	_, err := m.scheduler.Every(m.interval).Tag(staleScanTag).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := m.Scan(ctx); err != nil {
			logger.Error("Stale document scan failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	m.scheduler.StartAsync()
	logger.Info("Stale processing monitor started", "interval", m.interval.String(), "threshold", m.after.String())
	return nil
}

func (m *StaleMonitor) Stop() {
	m.scheduler.Stop()
}

// Scan returns the documents whose processing state has not been updated
// within the threshold, logging each one.
func (m *StaleMonitor) Scan(ctx context.Context) ([]models.Document, error) {
	stale, err := m.store.ListStaleProcessing(ctx, m.now().Add(-m.after))
	if err != nil {
		return nil, err
	}
	for _, doc := range stale {
		logger.Warn("Document stuck in processing",
			"document_id", doc.ID,
			"progress", doc.ProcessingProgress,
			"updated_at", doc.UpdatedAt,
		)
	}
	m.metrics.RecordStaleDocuments(ctx, len(stale))
	return stale, nil
}
