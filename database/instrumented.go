package database

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mycobrun/geofence-service/geofence"
	"github.com/mycobrun/geofence-service/telemetry"
)

const geofenceTable = "geofences"

// InstrumentedRepository traces and measures every call to the wrapped
// repository.
type InstrumentedRepository struct {
	next    geofence.Repository
	dbType  string
	tracer  trace.Tracer
	metrics *telemetry.DatabaseMetrics
}

// Instrument wraps repo. A nil tracer falls back to the global provider and
// nil metrics record nothing.
func Instrument(repo geofence.Repository, dbType string, tracer trace.Tracer, metrics *telemetry.DatabaseMetrics) *InstrumentedRepository {
	if tracer == nil {
		tracer = otel.Tracer(telemetry.TracerName)
	}
	return &InstrumentedRepository{next: repo, dbType: dbType, tracer: tracer, metrics: metrics}
}

// Unwrap returns the wrapped repository.
func (r *InstrumentedRepository) Unwrap() geofence.Repository {
	return r.next
}

func (r *InstrumentedRepository) do(ctx context.Context, operation string, fn func(context.Context) error) error {
	start := time.Now()
	err := telemetry.WrapDatabaseOperation(ctx, r.tracer, r.dbType, operation, geofenceTable, fn)
	r.metrics.RecordOperation(ctx, operation, time.Since(start), err)
	return err
}

func (r *InstrumentedRepository) Load(ctx context.Context) ([]*geofence.Geofence, error) {
	var out []*geofence.Geofence
	err := r.do(ctx, "SELECT", func(ctx context.Context) error {
		var err error
		out, err = r.next.Load(ctx)
		return err
	})
	return out, err
}

func (r *InstrumentedRepository) Insert(ctx context.Context, g *geofence.Geofence) error {
	return r.do(ctx, "INSERT", func(ctx context.Context) error {
		return r.next.Insert(ctx, g)
	})
}

func (r *InstrumentedRepository) Update(ctx context.Context, g *geofence.Geofence) error {
	return r.do(ctx, "UPDATE", func(ctx context.Context) error {
		return r.next.Update(ctx, g)
	})
}

func (r *InstrumentedRepository) Delete(ctx context.Context, id int64) error {
	return r.do(ctx, "DELETE", func(ctx context.Context) error {
		return r.next.Delete(ctx, id)
	})
}

func (r *InstrumentedRepository) HighWater(ctx context.Context) (int64, error) {
	var id int64
	err := r.do(ctx, "SELECT", func(ctx context.Context) error {
		var err error
		id, err = r.next.HighWater(ctx)
		return err
	})
	return id, err
}

func (r *InstrumentedRepository) Ping(ctx context.Context) error {
	return r.next.Ping(ctx)
}

func (r *InstrumentedRepository) Close() error {
	return r.next.Close()
}
