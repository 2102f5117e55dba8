package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	RequestCounter     metric.Int64Counter
	RequestDuration    metric.Float64Histogram
	DocumentsIndexed   metric.Int64Counter
	IndexingDuration   metric.Float64Histogram
	ChunksIndexed      metric.Int64Counter
	EmbeddingRetries   metric.Int64Counter
	UpstreamErrors     metric.Int64Counter
	StaleDocuments     metric.Int64Counter
	DatabaseOperations metric.Int64Counter
}

// InitMetrics initializes all application metrics against the global
// meter provider (a no-op until one is installed).
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("learning-coach-platform")
	m := &Metrics{}
	var err error

	if m.RequestCounter, err = meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	); err != nil {
		return nil, err
	}

	if m.RequestDuration, err = meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.DocumentsIndexed, err = meter.Int64Counter(
		"documents.indexed.total",
		metric.WithDescription("Indexing attempts by final status"),
	); err != nil {
		return nil, err
	}

	if m.IndexingDuration, err = meter.Float64Histogram(
		"document.indexing.duration",
		metric.WithDescription("Document indexing duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.ChunksIndexed, err = meter.Int64Counter(
		"chunks.indexed.total",
		metric.WithDescription("Chunks embedded and persisted"),
	); err != nil {
		return nil, err
	}

	if m.EmbeddingRetries, err = meter.Int64Counter(
		"embedding.retries.total",
		metric.WithDescription("Embedding batch retries"),
	); err != nil {
		return nil, err
	}

	if m.UpstreamErrors, err = meter.Int64Counter(
		"upstream.errors.total",
		metric.WithDescription("Failed calls to external model services"),
	); err != nil {
		return nil, err
	}

	if m.StaleDocuments, err = meter.Int64Counter(
		"documents.stale.detected",
		metric.WithDescription("Documents found stuck in processing"),
	); err != nil {
		return nil, err
	}

	if m.DatabaseOperations, err = meter.Int64Counter(
		"database.operations.total",
		metric.WithDescription("Total database operations"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordRequest records HTTP request metrics
func (m *Metrics) RecordRequest(method, path, status string, duration float64) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("http.method", method),
		attribute.String("http.path", path),
		attribute.String("http.status", status),
	}

	m.RequestCounter.Add(context.Background(), 1, metric.WithAttributes(attrs...))
	m.RequestDuration.Record(context.Background(), duration, metric.WithAttributes(attrs...))
}

// RecordIndexing records one finished indexing attempt.
func (m *Metrics) RecordIndexing(ctx context.Context, duration float64, status string, chunks int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("document.status", status))

	m.DocumentsIndexed.Add(ctx, 1, attrs)
	m.IndexingDuration.Record(ctx, duration, attrs)
	if chunks > 0 {
		m.ChunksIndexed.Add(ctx, int64(chunks))
	}
}

func (m *Metrics) RecordEmbeddingRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.EmbeddingRetries.Add(ctx, 1)
}

// RecordUpstreamError counts a failed call to an external model service.
func (m *Metrics) RecordUpstreamError(ctx context.Context, service string) {
	if m == nil {
		return
	}
	m.UpstreamErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

func (m *Metrics) RecordStaleDocuments(ctx context.Context, count int) {
	if m == nil || count == 0 {
		return
	}
	m.StaleDocuments.Add(ctx, int64(count))
}

// RecordDatabaseOperation records database operation metrics
func (m *Metrics) RecordDatabaseOperation(operation, table string, success bool) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
		attribute.String("db.table", table),
		attribute.Bool("db.success", success),
	}

	m.DatabaseOperations.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
