package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MetricsProvider manages OpenTelemetry metrics and Prometheus integration
// for the bus and the calculators that consume it.
type MetricsProvider struct {
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	registry      *prometheus.Registry

	publishedTotal     metric.Int64Counter
	messagesLostTotal  metric.Int64Counter
	consumerLagRatio   metric.Float64Gauge
	scoreEmittedTotal  metric.Int64Counter
	vpinBucketsFilled  metric.Int64Counter
	shockAnchorTimeout metric.Int64Counter
	providerStaleTotal metric.Int64Counter
	httpRequestsTotal  metric.Int64Counter
	httpRequestLatency metric.Float64Histogram
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	Namespace      string
	Port           int
	Enabled        bool
}

// NewMetricsProvider creates a new metrics provider
func NewMetricsProvider(cfg MetricsConfig) (*MetricsProvider, error) {
	if !cfg.Enabled {
		return &MetricsProvider{}, nil
	}

	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(
		otelprom.WithRegisterer(registry),
		otelprom.WithNamespace(cfg.Namespace),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(cfg.ServiceName)

	mp := &MetricsProvider{
		meterProvider: meterProvider,
		meter:         meter,
		registry:      registry,
	}

	if err := mp.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return mp, nil
}

// initializeMetrics creates all bus/calculator metrics
func (mp *MetricsProvider) initializeMetrics() error {
	var err error

	mp.publishedTotal, err = mp.meter.Int64Counter(
		"bus_published_total",
		metric.WithDescription("Total number of snapshots published onto a ring buffer"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create bus_published_total counter: %w", err)
	}

	mp.messagesLostTotal, err = mp.meter.Int64Counter(
		"bus_messages_lost_total",
		metric.WithDescription("Total number of messages a consumer was lapped past"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create bus_messages_lost_total counter: %w", err)
	}

	mp.consumerLagRatio, err = mp.meter.Float64Gauge(
		"bus_consumer_lag_ratio",
		metric.WithDescription("Consumer lag as a fraction of buffer capacity"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create bus_consumer_lag_ratio gauge: %w", err)
	}

	mp.scoreEmittedTotal, err = mp.meter.Int64Counter(
		"resilience_score_emitted_total",
		metric.WithDescription("Total number of resilience/bias scores emitted"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create resilience_score_emitted_total counter: %w", err)
	}

	mp.vpinBucketsFilled, err = mp.meter.Int64Counter(
		"vpin_buckets_filled_total",
		metric.WithDescription("Total number of completed VPIN volume buckets"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create vpin_buckets_filled_total counter: %w", err)
	}

	mp.shockAnchorTimeout, err = mp.meter.Int64Counter(
		"resilience_shock_anchor_timeout_total",
		metric.WithDescription("Total number of shock anchors that timed out without recovery"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create resilience_shock_anchor_timeout_total counter: %w", err)
	}

	mp.providerStaleTotal, err = mp.meter.Int64Counter(
		"marketdata_provider_stale_total",
		metric.WithDescription("Total number of provider-stale transitions observed by the watchdog"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create marketdata_provider_stale_total counter: %w", err)
	}

	mp.httpRequestsTotal, err = mp.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests to the health/metrics server"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	mp.httpRequestLatency, err = mp.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return fmt.Errorf("failed to create http_request_duration histogram: %w", err)
	}

	return nil
}

// RecordPublish records a successful publish onto a bus for a symbol.
func (mp *MetricsProvider) RecordPublish(ctx context.Context, busName, symbol string) {
	if mp.publishedTotal == nil {
		return
	}
	mp.publishedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("bus", busName),
		attribute.String("symbol", symbol),
	))
}

// RecordMessagesLost records how many slots a consumer was lapped past.
func (mp *MetricsProvider) RecordMessagesLost(ctx context.Context, busName string, consumerID string, count int64) {
	if mp.messagesLostTotal == nil || count <= 0 {
		return
	}
	mp.messagesLostTotal.Add(ctx, count, metric.WithAttributes(
		attribute.String("bus", busName),
		attribute.String("consumer", consumerID),
	))
}

// UpdateConsumerLagRatio records the current lag ratio for a consumer.
func (mp *MetricsProvider) UpdateConsumerLagRatio(ctx context.Context, busName, consumerID string, ratio float64) {
	if mp.consumerLagRatio == nil {
		return
	}
	mp.consumerLagRatio.Record(ctx, ratio, metric.WithAttributes(
		attribute.String("bus", busName),
		attribute.String("consumer", consumerID),
	))
}

// RecordScoreEmitted records a resilience or bias score emission.
func (mp *MetricsProvider) RecordScoreEmitted(ctx context.Context, symbol, calculator string) {
	if mp.scoreEmittedTotal == nil {
		return
	}
	mp.scoreEmittedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("calculator", calculator),
	))
}

// RecordVPINBucketFilled records a completed VPIN bucket.
func (mp *MetricsProvider) RecordVPINBucketFilled(ctx context.Context, symbol string) {
	if mp.vpinBucketsFilled == nil {
		return
	}
	mp.vpinBucketsFilled.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}

// RecordShockAnchorTimeout records a shock anchor that aged out without recovering.
func (mp *MetricsProvider) RecordShockAnchorTimeout(ctx context.Context, symbol, kind string) {
	if mp.shockAnchorTimeout == nil {
		return
	}
	mp.shockAnchorTimeout.Add(ctx, 1, metric.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("kind", kind),
	))
}

// RecordProviderStale records a provider-stale transition for a symbol.
func (mp *MetricsProvider) RecordProviderStale(ctx context.Context, symbol string) {
	if mp.providerStaleTotal == nil {
		return
	}
	mp.providerStaleTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}

// RecordHTTPRequest records an HTTP request metric for the health/metrics server.
func (mp *MetricsProvider) RecordHTTPRequest(ctx context.Context, method, path, status string, duration time.Duration) {
	if mp.httpRequestsTotal == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	}

	mp.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	mp.httpRequestLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// StartMetricsServer starts the Prometheus metrics HTTP server
func (mp *MetricsProvider) StartMetricsServer(port int) error {
	if mp.registry == nil {
		return fmt.Errorf("metrics not enabled")
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(mp.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	return server.ListenAndServe()
}

// Shutdown gracefully shuts down the metrics provider
func (mp *MetricsProvider) Shutdown(ctx context.Context) error {
	if mp.meterProvider == nil {
		return nil
	}
	return mp.meterProvider.Shutdown(ctx)
}
