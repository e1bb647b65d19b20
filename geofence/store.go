package geofence

import (
	"cmp"
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mycobrun/geofence-service/errors"
	"github.com/mycobrun/geofence-service/geo"
	"github.com/mycobrun/geofence-service/logging"
	"github.com/mycobrun/geofence-service/spatial"
	"github.com/mycobrun/geofence-service/telemetry"
)

// Store owns the authoritative set of geofences and keeps the spatial index
// in step with it.
//
// Records are immutable once published in the map; an update builds a new
// version and swaps the map entry. Mutations on one id are serialised by a
// claim: a second mutation arriving while the claim is held fails with
// CONFLICT instead of waiting.
type Store struct {
	repo      Repository
	index     *spatial.GridIndex
	publisher Publisher
	logger    *logging.Logger
	metrics   *telemetry.GeofenceMetrics
	now       func() time.Time

	mu      sync.RWMutex
	records map[int64]*Geofence

	claimMu sync.Mutex
	claims  map[int64]struct{}

	lastID atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithPublisher sets the change event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Store) { s.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.GeofenceMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store. A nil repo keeps everything in memory.
func NewStore(repo Repository, index *spatial.GridIndex, opts ...Option) *Store {
	if repo == nil {
		repo = NewMemoryRepository()
	}
	s := &Store{
		repo:    repo,
		index:   index,
		logger:  logging.Discard(),
		now:     time.Now,
		records: make(map[int64]*Geofence),
		claims:  make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Index exposes the spatial index for health reporting.
func (s *Store) Index() *spatial.GridIndex {
	return s.index
}

// Repository returns the durable backend.
func (s *Store) Repository() Repository {
	return s.repo
}

// Load replaces the in-memory state with the repository contents and seeds
// the id sequence past every id the repository has seen, deleted ones
// included.
func (s *Store) Load(ctx context.Context) error {
	records, err := s.repo.Load(ctx)
	if err != nil {
		return fmt.Errorf("load geofences: %w", err)
	}
	highWater, err := s.repo.HighWater(ctx)
	if err != nil {
		return fmt.Errorf("load id high-water mark: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := len(s.records)
	for id := range s.records {
		s.index.Remove(id)
	}
	s.records = make(map[int64]*Geofence, len(records))

	maxID := highWater
	for _, g := range records {
		if err := g.Polygon.Validate(); err != nil {
			return fmt.Errorf("load geofence %d: %w", g.ID, err)
		}
		if g.Metadata == nil {
			g.Metadata = map[string]any{}
		}
		s.records[g.ID] = g
		box := g.Polygon.BoundingBox()
		s.index.Insert(g.ID, box)
		s.index.Retain(g.ID, box)
		maxID = max(maxID, g.ID)
	}
	if maxID > s.lastID.Load() {
		s.lastID.Store(maxID)
	}

	s.metrics.AddStored(ctx, int64(len(records)-previous))
	s.logger.Info("geofences loaded", "count", len(records), "last_id", s.lastID.Load())
	return nil
}

// Create validates and stores a new geofence.
func (s *Store) Create(ctx context.Context, name string, ring *geo.Polygon, metadata map[string]any) (*Geofence, error) {
	g, err := s.create(ctx, name, ring, metadata)
	s.metrics.RecordMutation(ctx, "create", outcome(err))
	return g, err
}

func (s *Store) create(ctx context.Context, name string, ring *geo.Polygon, metadata map[string]any) (*Geofence, error) {
	name, err := ValidateName(name)
	if err != nil {
		return nil, errors.Validation(err.Error())
	}
	if err := ring.Validate(); err != nil {
		return nil, errors.MalformedGeometry(err)
	}
	if err := ValidateMetadata(metadata); err != nil {
		return nil, errors.Validation(err.Error())
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	now := s.now().UTC()
	g := &Geofence{
		ID:        s.lastID.Add(1),
		Name:      name,
		Polygon:   ring.Clone(),
		Metadata:  cloneMetadata(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Insert(ctx, g); err != nil {
		s.logger.WithGeofenceID(g.ID).WithError(err).Error("persist geofence failed")
		return nil, errors.InternalWrap(err, "failed to persist geofence")
	}

	box := g.Polygon.BoundingBox()
	s.index.Insert(g.ID, box)
	s.mu.Lock()
	s.records[g.ID] = g
	s.mu.Unlock()

	s.metrics.AddStored(ctx, 1)
	s.logger.WithGeofenceID(g.ID).Info("geofence created", "name", g.Name)
	s.publish(ctx, EventCreated, g)
	return g.Clone(), nil
}

// Get returns a copy of the geofence with the given id.
func (s *Store) Get(ctx context.Context, id int64) (*Geofence, error) {
	g := s.record(id)
	if g == nil {
		return nil, errors.NotFound("geofence")
	}
	return g.Clone(), nil
}

// List returns copies of every geofence ordered by id.
func (s *Store) List(ctx context.Context) ([]*Geofence, error) {
	s.mu.RLock()
	out := make([]*Geofence, 0, len(s.records))
	for _, g := range s.records {
		out = append(out, g)
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Geofence) int {
		return cmp.Compare(a.ID, b.ID)
	})
	for i, g := range out {
		out[i] = g.Clone()
	}
	return out, nil
}

// Update applies patch to the geofence. The new shape is fully indexed
// before Update returns.
func (s *Store) Update(ctx context.Context, id int64, patch Patch) (*Geofence, error) {
	g, err := s.update(ctx, id, patch)
	s.metrics.RecordMutation(ctx, "update", outcome(err))
	return g, err
}

func (s *Store) update(ctx context.Context, id int64, patch Patch) (*Geofence, error) {
	if patch.IsEmpty() {
		return nil, errors.Validation("at least one of name, coordinates or metadata is required")
	}
	var name string
	if patch.Name != nil {
		n, err := ValidateName(*patch.Name)
		if err != nil {
			return nil, errors.Validation(err.Error())
		}
		name = n
	}
	if patch.Polygon != nil {
		if err := patch.Polygon.Validate(); err != nil {
			return nil, errors.MalformedGeometry(err)
		}
	}
	if err := ValidateMetadata(patch.Metadata); err != nil {
		return nil, errors.Validation(err.Error())
	}

	if !s.claim(id) {
		return nil, errors.Conflict(fmt.Sprintf("geofence %d is being modified", id))
	}
	defer s.release(id)

	cur := s.record(id)
	if cur == nil {
		return nil, errors.NotFound("geofence")
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(err)
	}

	next := cur.Clone()
	if patch.Name != nil {
		next.Name = name
	}
	if patch.Polygon != nil {
		next.Polygon = patch.Polygon.Clone()
	}
	if patch.Metadata != nil {
		next.Metadata = cloneMetadata(patch.Metadata)
	}
	next.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, next); err != nil {
		if stderrors.Is(err, ErrRecordNotFound) {
			return nil, errors.NotFound("geofence")
		}
		s.logger.WithGeofenceID(id).WithError(err).Error("persist geofence update failed")
		return nil, errors.InternalWrap(err, "failed to persist geofence")
	}

	box := next.Polygon.BoundingBox()
	if patch.Polygon != nil {
		s.index.Insert(id, box)
	}
	s.mu.Lock()
	s.records[id] = next
	s.mu.Unlock()
	if patch.Polygon != nil {
		s.index.Retain(id, box)
	}

	s.logger.WithGeofenceID(id).Info("geofence updated", "name", next.Name, "geometry_changed", patch.Polygon != nil)
	s.publish(ctx, EventUpdated, next)
	return next.Clone(), nil
}

// Delete removes the geofence.
func (s *Store) Delete(ctx context.Context, id int64) error {
	err := s.delete(ctx, id)
	s.metrics.RecordMutation(ctx, "delete", outcome(err))
	return err
}

func (s *Store) delete(ctx context.Context, id int64) error {
	if !s.claim(id) {
		return errors.Conflict(fmt.Sprintf("geofence %d is being modified", id))
	}
	defer s.release(id)

	cur := s.record(id)
	if cur == nil {
		return errors.NotFound("geofence")
	}
	if err := ctx.Err(); err != nil {
		return cancelled(err)
	}

	if err := s.repo.Delete(ctx, id); err != nil && !stderrors.Is(err, ErrRecordNotFound) {
		s.logger.WithGeofenceID(id).WithError(err).Error("persist geofence delete failed")
		return errors.InternalWrap(err, "failed to delete geofence")
	}

	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	s.index.Remove(id)

	s.metrics.AddStored(ctx, -1)
	s.logger.WithGeofenceID(id).Info("geofence deleted")
	s.publish(ctx, EventDeleted, &Geofence{ID: id, Name: cur.Name})
	return nil
}

// Len returns the number of stored geofences.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// record returns the current immutable version, or nil.
func (s *Store) record(id int64) *Geofence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id]
}

func (s *Store) claim(id int64) bool {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if _, held := s.claims[id]; held {
		return false
	}
	s.claims[id] = struct{}{}
	return true
}

func (s *Store) release(id int64) {
	s.claimMu.Lock()
	delete(s.claims, id)
	s.claimMu.Unlock()
}

func (s *Store) publish(ctx context.Context, typ EventType, g *Geofence) {
	if s.publisher == nil {
		return
	}
	event := Event{
		Type:       typ,
		ID:         g.ID,
		Name:       g.Name,
		OccurredAt: s.now().UTC(),
	}
	if g.Polygon != nil {
		event.Geom = g.WKT()
	}
	// The commit already happened; a cancelled caller must not drop the event.
	if err := s.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.WithGeofenceID(g.ID).WithError(err).Warn("publish geofence event failed", "type", string(typ))
	}
}

func cancelled(err error) error {
	return errors.Wrap(err, errors.CodeTimeout, "request cancelled before commit")
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := errors.Code(err); code != "" {
		return code
	}
	return errors.CodeInternal
}

func cloneMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
