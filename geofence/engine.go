package geofence

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mycobrun/geofence-service/errors"
	"github.com/mycobrun/geofence-service/geo"
	"github.com/mycobrun/geofence-service/telemetry"
)

// Engine answers containment queries against a Store. It touches memory only.
type Engine struct {
	store   *Store
	tracer  trace.Tracer
	metrics *telemetry.GeofenceMetrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTracer sets the tracer used for query spans.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithEngineMetrics sets the metrics sink.
func WithEngineMetrics(m *telemetry.GeofenceMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine over store.
func NewEngine(store *Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:  store,
		tracer: otel.Tracer(telemetry.TracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Query returns every geofence whose polygon contains pt, boundary included,
// ordered by id.
func (e *Engine) Query(ctx context.Context, pt geo.Point) ([]Match, error) {
	if !pt.IsFinite() {
		return nil, errors.Validation("query point must have finite coordinates")
	}

	ctx, span := e.tracer.Start(ctx, "geofence.Query",
		trace.WithAttributes(telemetry.QueryAttributes(pt.Lng, pt.Lat)...))
	defer span.End()

	start := time.Now()
	candidates := e.store.index.Candidates(pt)

	matches := make([]Match, 0, len(candidates))
	for _, id := range candidates {
		g := e.store.record(id)
		if g == nil {
			// deleted after the index lookup
			continue
		}
		if g.Polygon.Contains(pt) {
			matches = append(matches, Match{ID: g.ID, Name: g.Name})
		}
	}

	span.SetAttributes(
		attribute.Int("geofence.query.candidates", len(candidates)),
		attribute.Int("geofence.query.matches", len(matches)),
	)
	e.metrics.RecordQuery(ctx, time.Since(start), len(candidates), len(matches))
	return matches, nil
}
