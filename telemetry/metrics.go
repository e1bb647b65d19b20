// Package telemetry provides OpenTelemetry metrics and tracing.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// MetricsConfig holds metrics configuration. When Endpoint is set, metrics
// are pushed over OTLP/HTTP every ExportInterval.
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	ExportInterval time.Duration
}

const defaultExportInterval = 60 * time.Second

// MetricsProvider provides metrics functionality.
type MetricsProvider struct {
	provider *sdkmetric.MeterProvider
	meter    metric.Meter
}

// NewMetricsProvider creates a meter provider and installs it globally.
// Extra readers are passed through opts.
func NewMetricsProvider(ctx context.Context, config MetricsConfig, opts ...sdkmetric.Option) (*MetricsProvider, error) {
	res, err := serviceResource(ctx, config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, err
	}

	providerOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if config.Endpoint != "" {
		exporter, err := otlpmetrichttp.New(ctx, metricExporterOptions(config.Endpoint)...)
		if err != nil {
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		interval := config.ExportInterval
		if interval <= 0 {
			interval = defaultExportInterval
		}
		providerOpts = append(providerOpts,
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))))
	}

	provider := sdkmetric.NewMeterProvider(append(providerOpts, opts...)...)
	otel.SetMeterProvider(provider)

	return &MetricsProvider{
		provider: provider,
		meter:    provider.Meter(config.ServiceName),
	}, nil
}

// Meter returns the meter for creating instruments.
func (m *MetricsProvider) Meter() metric.Meter {
	return m.meter
}

// Shutdown shuts down the metrics provider.
func (m *MetricsProvider) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

// metricExporterOptions maps the collector endpoint to exporter options.
// Only host and scheme are taken; metrics always go to /v1/metrics.
func metricExporterOptions(endpoint string) []otlpmetrichttp.Option {
	host, insecure, _ := splitEndpoint(endpoint)
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return opts
}

func serviceResource(ctx context.Context, name, version, environment string) (*resource.Resource, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(version),
			attribute.String("environment", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// HTTPMetrics provides HTTP-related metrics.
type HTTPMetrics struct {
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram
	responseSize    metric.Int64Histogram
	activeRequests  metric.Int64UpDownCounter
}

// NewHTTPMetrics creates HTTP metrics.
func NewHTTPMetrics(meter metric.Meter) (*HTTPMetrics, error) {
	requestsTotal, err := meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		return nil, err
	}

	requestDuration, err := meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, err
	}

	responseSize, err := meter.Int64Histogram(
		"http_response_size_bytes",
		metric.WithDescription("HTTP response size in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("Number of active HTTP requests"),
		metric.WithUnit("{requests}"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		requestsTotal:   requestsTotal,
		requestDuration: requestDuration,
		responseSize:    responseSize,
		activeRequests:  activeRequests,
	}, nil
}

// RecordRequest records HTTP request metrics.
func (m *HTTPMetrics) RecordRequest(ctx context.Context, method, route string, status int, duration time.Duration, respSize int64) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status_code", status),
		attribute.String("status_class", statusClass(status)),
	)

	m.requestsTotal.Add(ctx, 1, attrs)
	m.requestDuration.Record(ctx, duration.Seconds(), attrs)
	m.responseSize.Record(ctx, respSize, attrs)
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// MetricsMiddleware records request metrics labelled by the chi route
// pattern, so ids in paths do not create new series.
func MetricsMiddleware(metrics *HTTPMetrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			metrics.activeRequests.Add(ctx, 1)
			defer metrics.activeRequests.Add(ctx, -1)

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.RecordRequest(ctx, r.Method, route, status, time.Since(start), int64(ww.BytesWritten()))
		})
	}
}

// DatabaseMetrics records repository operations.
type DatabaseMetrics struct {
	operationsTotal   metric.Int64Counter
	operationDuration metric.Float64Histogram
	errorsTotal       metric.Int64Counter
}

// NewDatabaseMetrics creates database metrics for one backend.
func NewDatabaseMetrics(meter metric.Meter, dbType string) (*DatabaseMetrics, error) {
	prefix := fmt.Sprintf("db_%s", dbType)

	operationsTotal, err := meter.Int64Counter(
		prefix+"_operations_total",
		metric.WithDescription("Total database operations"),
		metric.WithUnit("{operations}"),
	)
	if err != nil {
		return nil, err
	}

	operationDuration, err := meter.Float64Histogram(
		prefix+"_operation_duration_seconds",
		metric.WithDescription("Database operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5),
	)
	if err != nil {
		return nil, err
	}

	errorsTotal, err := meter.Int64Counter(
		prefix+"_errors_total",
		metric.WithDescription("Total database errors"),
		metric.WithUnit("{errors}"),
	)
	if err != nil {
		return nil, err
	}

	return &DatabaseMetrics{
		operationsTotal:   operationsTotal,
		operationDuration: operationDuration,
		errorsTotal:       errorsTotal,
	}, nil
}

// RecordOperation records a database operation.
func (m *DatabaseMetrics) RecordOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("operation", operation))

	m.operationsTotal.Add(ctx, 1, attrs)
	m.operationDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.errorsTotal.Add(ctx, 1, attrs)
	}
}

// GeofenceMetrics covers the store and the containment engine. A nil
// *GeofenceMetrics records nothing.
type GeofenceMetrics struct {
	queriesTotal   metric.Int64Counter
	queryDuration  metric.Float64Histogram
	candidates     metric.Int64Histogram
	matches        metric.Int64Histogram
	mutationsTotal metric.Int64Counter
	stored         metric.Int64UpDownCounter
}

// NewGeofenceMetrics creates geofence metrics.
func NewGeofenceMetrics(meter metric.Meter) (*GeofenceMetrics, error) {
	queriesTotal, err := meter.Int64Counter(
		"geofence_queries_total",
		metric.WithDescription("Total containment queries"),
		metric.WithUnit("{queries}"),
	)
	if err != nil {
		return nil, err
	}

	queryDuration, err := meter.Float64Histogram(
		"geofence_query_duration_seconds",
		metric.WithDescription("Containment query latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05),
	)
	if err != nil {
		return nil, err
	}

	candidates, err := meter.Int64Histogram(
		"geofence_query_candidates",
		metric.WithDescription("Candidates examined per containment query"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 25, 50, 100, 500),
	)
	if err != nil {
		return nil, err
	}

	matches, err := meter.Int64Histogram(
		"geofence_query_matches",
		metric.WithDescription("Geofences containing the queried point"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 25, 50),
	)
	if err != nil {
		return nil, err
	}

	mutationsTotal, err := meter.Int64Counter(
		"geofence_mutations_total",
		metric.WithDescription("Store mutations by operation and outcome"),
		metric.WithUnit("{mutations}"),
	)
	if err != nil {
		return nil, err
	}

	stored, err := meter.Int64UpDownCounter(
		"geofences_stored",
		metric.WithDescription("Geofences currently held by the store"),
	)
	if err != nil {
		return nil, err
	}

	return &GeofenceMetrics{
		queriesTotal:   queriesTotal,
		queryDuration:  queryDuration,
		candidates:     candidates,
		matches:        matches,
		mutationsTotal: mutationsTotal,
		stored:         stored,
	}, nil
}

// RecordQuery records one containment query.
func (m *GeofenceMetrics) RecordQuery(ctx context.Context, duration time.Duration, candidates, matches int) {
	if m == nil {
		return
	}
	m.queriesTotal.Add(ctx, 1)
	m.queryDuration.Record(ctx, duration.Seconds())
	m.candidates.Record(ctx, int64(candidates))
	m.matches.Record(ctx, int64(matches))
}

// RecordMutation records a store mutation; outcome is "ok" or an error code.
func (m *GeofenceMetrics) RecordMutation(ctx context.Context, op, outcome string) {
	if m == nil {
		return
	}
	m.mutationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

// AddStored adjusts the stored geofence gauge.
func (m *GeofenceMetrics) AddStored(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.stored.Add(ctx, delta)
}
