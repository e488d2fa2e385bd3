// Package observability exposes producer metrics in Prometheus format through
// an OpenTelemetry meter provider.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/stackvity/stack-ingest/pkg/ingest"
	"github.com/stackvity/stack-ingest/pkg/ingest/classify"
)

const meterName = "stack-ingest"

// PrometheusMetrics implements ingest.Metrics. The zero value records nothing.
type PrometheusMetrics struct {
	filesTotal    metric.Int64Counter
	fileDuration  metric.Float64Histogram
	publishWait   metric.Float64Histogram
	registry      *promclient.Registry
	meterProvider *sdkmetric.MeterProvider
}

var _ ingest.Metrics = (*PrometheusMetrics)(nil)

// InitMetrics creates the meter provider and instruments. When cfg is disabled it
// returns a zero-value PrometheusMetrics.
func InitMetrics(cfg ingest.MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	registry := promclient.NewRegistry()
	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)
	meter := meterProvider.Meter(meterName)

	filesTotal, err := meter.Int64Counter(
		"stackingest_files_total",
		metric.WithDescription("Files handled by the producer, by category and final status"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create files counter: %w", err)
	}

	fileDuration, err := meter.Float64Histogram(
		"stackingest_file_duration_seconds",
		metric.WithDescription("Time spent classifying, hashing and publishing one file"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create file duration histogram: %w", err)
	}

	publishWait, err := meter.Float64Histogram(
		"stackingest_publish_wait_seconds",
		metric.WithDescription("Time a record waited for sink capacity"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publish wait histogram: %w", err)
	}

	return &PrometheusMetrics{
		filesTotal:    filesTotal,
		fileDuration:  fileDuration,
		publishWait:   publishWait,
		registry:      registry,
		meterProvider: meterProvider,
	}, nil
}

// Enabled reports whether instruments were created.
func (m *PrometheusMetrics) Enabled() bool {
	return m != nil && m.registry != nil
}

// ObserveFile implements ingest.Metrics.
func (m *PrometheusMetrics) ObserveFile(category classify.Category, status ingest.Status, duration time.Duration) {
	if m == nil || m.filesTotal == nil || m.fileDuration == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("category", string(category)),
		attribute.String("status", string(status)),
	)
	m.filesTotal.Add(ctx, 1, attrs)
	m.fileDuration.Record(ctx, duration.Seconds(), attrs)
}

// ObservePublishWait implements ingest.Metrics.
func (m *PrometheusMetrics) ObservePublishWait(duration time.Duration) {
	if m == nil || m.publishWait == nil {
		return
	}
	m.publishWait.Record(context.Background(), duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops the meter provider.
func (m *PrometheusMetrics) Shutdown(ctx context.Context) error {
	if m == nil || m.meterProvider == nil {
		return nil
	}
	return m.meterProvider.Shutdown(ctx)
}
