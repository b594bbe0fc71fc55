package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the otel instruments for document processing
type Metrics struct {
	RequestCounter         metric.Int64Counter
	RequestDuration        metric.Float64Histogram
	DocumentProcessingTime metric.Float64Histogram
	StrategyAttempts       metric.Int64Counter
	ChunksPersisted        metric.Int64Counter
	CircuitBreakerState    metric.Int64Counter
}

// InitMetrics initializes all application metrics
func InitMetrics() (*Metrics, error) {
	meter := otel.Meter("legal-ingest-platform")

	requestCounter, err := meter.Int64Counter(
		"http.requests.total",
		metric.WithDescription("Total HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	processingTime, err := meter.Float64Histogram(
		"document.processing.duration",
		metric.WithDescription("Document processing duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	strategyAttempts, err := meter.Int64Counter(
		"extraction.strategy.attempts",
		metric.WithDescription("Extraction strategy attempts by method and validity"),
	)
	if err != nil {
		return nil, err
	}

	chunksPersisted, err := meter.Int64Counter(
		"document.chunks.persisted",
		metric.WithDescription("Chunks persisted per document run"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerState, err := meter.Int64Counter(
		"circuit_breaker.state_changes",
		metric.WithDescription("Circuit breaker state changes"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		RequestCounter:         requestCounter,
		RequestDuration:        requestDuration,
		DocumentProcessingTime: processingTime,
		StrategyAttempts:       strategyAttempts,
		ChunksPersisted:        chunksPersisted,
		CircuitBreakerState:    circuitBreakerState,
	}, nil
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

// RecordDocumentProcessing records one document run
func (m *Metrics) RecordDocumentProcessing(ctx context.Context, duration float64, status, method string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("document.status", status),
		attribute.String("extraction.method", method),
	}

	m.DocumentProcessingTime.Record(ctx, duration, metric.WithAttributes(attrs...))
}

// RecordStrategyAttempt records one extraction strategy outcome
func (m *Metrics) RecordStrategyAttempt(ctx context.Context, method string, valid bool) {
	if m == nil {
		return
	}
	m.StrategyAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("extraction.method", method),
		attribute.Bool("extraction.valid", valid),
	))
}

// RecordChunksPersisted records how many chunks a run stored
func (m *Metrics) RecordChunksPersisted(ctx context.Context, count int, contentType string) {
	if m == nil {
		return
	}
	m.ChunksPersisted.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("content.type", contentType),
	))
}

// RecordCircuitBreakerState records circuit breaker state changes
func (m *Metrics) RecordCircuitBreakerState(service, state string) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("service", service),
		attribute.String("state", state),
	}

	m.CircuitBreakerState.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}
