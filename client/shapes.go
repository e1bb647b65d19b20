package client

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mycobrun/geofence-service/api"
	"github.com/mycobrun/geofence-service/errors"
	"github.com/mycobrun/geofence-service/geo"
)

// SyncState says whether a locally drawn shape has a server-side geofence.
// The zero value is Unsynced.
type SyncState struct {
	id     int64
	synced bool
}

// Unsynced is the state of a shape that has not been created on the server.
func Unsynced() SyncState {
	return SyncState{}
}

// Synced is the state of a shape persisted as geofence id.
func Synced(id int64) SyncState {
	return SyncState{id: id, synced: true}
}

// IsSynced reports whether the shape has a server id.
func (s SyncState) IsSynced() bool {
	return s.synced
}

// ID returns the server id, if any.
func (s SyncState) ID() (int64, bool) {
	return s.id, s.synced
}

func (s SyncState) String() string {
	if !s.synced {
		return "unsynced"
	}
	return fmt.Sprintf("synced(%d)", s.id)
}

// Handle identifies a shape locally.
type Handle string

// Shape is a locally tracked drawing. Dirty is set when a synced shape has
// been edited since it was last pushed.
type Shape struct {
	Handle      Handle
	Name        string
	Coordinates [][]float64
	Metadata    map[string]any
	State       SyncState
	Dirty       bool
}

// Edit changes a shape locally. Nil fields are left unchanged.
type Edit struct {
	Name        *string
	Coordinates [][]float64
	Metadata    map[string]any
}

// ShapeRegistry maps local shape handles to their server sync state.
// It is safe for concurrent use; calls for the same handle should not
// overlap.
type ShapeRegistry struct {
	client *Client

	mu     sync.Mutex
	shapes map[Handle]*Shape
}

// NewShapeRegistry creates an empty registry backed by c.
func NewShapeRegistry(c *Client) *ShapeRegistry {
	return &ShapeRegistry{
		client: c,
		shapes: make(map[Handle]*Shape),
	}
}

// Add registers a new local shape in the Unsynced state.
func (r *ShapeRegistry) Add(name string, coordinates [][]float64, metadata map[string]any) Handle {
	h := Handle(uuid.NewString())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.shapes[h] = &Shape{
		Handle:      h,
		Name:        name,
		Coordinates: coordinates,
		Metadata:    metadata,
		State:       Unsynced(),
	}
	return h
}

// Get returns a copy of the shape.
func (r *ShapeRegistry) Get(h Handle) (Shape, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shapes[h]
	if !ok {
		return Shape{}, false
	}
	return *s, true
}

// Shapes returns every tracked shape, synced ones first by id.
func (r *ShapeRegistry) Shapes() []Shape {
	r.mu.Lock()
	out := make([]Shape, 0, len(r.shapes))
	for _, s := range r.shapes {
		out = append(out, *s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].State, out[j].State
		if a.synced != b.synced {
			return a.synced
		}
		if a.synced {
			return a.id < b.id
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}

// Lookup finds the handle tracking server geofence id.
func (r *ShapeRegistry) Lookup(id int64) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h, s := range r.shapes {
		if s.State.synced && s.State.id == id {
			return h, true
		}
	}
	return "", false
}

// Edit applies a local change. Synced shapes become dirty until the next Sync.
func (r *ShapeRegistry) Edit(h Handle, e Edit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shapes[h]
	if !ok {
		return errors.NotFound("shape")
	}
	if e.Name != nil {
		s.Name = *e.Name
	}
	if e.Coordinates != nil {
		s.Coordinates = e.Coordinates
	}
	if e.Metadata != nil {
		s.Metadata = e.Metadata
	}
	if s.State.synced {
		s.Dirty = true
	}
	return nil
}

// Sync pushes a shape to the server. Unsynced shapes are created, dirty
// synced shapes are updated, clean synced shapes are left alone. If the
// server no longer has the geofence the shape falls back to Unsynced.
func (r *ShapeRegistry) Sync(ctx context.Context, h Handle) (SyncState, error) {
	snap, ok := r.Get(h)
	if !ok {
		return SyncState{}, errors.NotFound("shape")
	}

	if id, synced := snap.State.ID(); synced {
		if !snap.Dirty {
			return snap.State, nil
		}
		name := snap.Name
		_, err := r.client.Update(ctx, id, api.UpdateGeofenceRequest{
			Name:        &name,
			Coordinates: snap.Coordinates,
			Metadata:    snap.Metadata,
		})
		if errors.IsNotFound(err) {
			return r.setState(h, Unsynced(), false), err
		}
		if err != nil {
			return snap.State, err
		}
		return r.setState(h, snap.State, false), nil
	}

	created, err := r.client.Create(ctx, snap.Name, snap.Coordinates, snap.Metadata)
	if err != nil {
		return snap.State, err
	}
	return r.setState(h, Synced(created.ID), false), nil
}

// SyncAll pushes every unsynced or dirty shape. It stops at the first error.
func (r *ShapeRegistry) SyncAll(ctx context.Context) error {
	for _, s := range r.Shapes() {
		if s.State.synced && !s.Dirty {
			continue
		}
		if _, err := r.Sync(ctx, s.Handle); err != nil {
			return fmt.Errorf("sync shape %s: %w", s.Handle, err)
		}
	}
	return nil
}

// Remove drops a shape locally and deletes its geofence if it was synced.
// A geofence that is already gone on the server is not an error.
func (r *ShapeRegistry) Remove(ctx context.Context, h Handle) error {
	snap, ok := r.Get(h)
	if !ok {
		return errors.NotFound("shape")
	}
	if id, synced := snap.State.ID(); synced {
		if err := r.client.Delete(ctx, id); err != nil && !errors.IsNotFound(err) {
			return err
		}
	}

	r.mu.Lock()
	delete(r.shapes, h)
	r.mu.Unlock()
	return nil
}

// Import registers every server geofence not already tracked as a Synced
// shape. It returns the number of shapes added.
func (r *ShapeRegistry) Import(ctx context.Context) (int, error) {
	all, err := r.client.List(ctx)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, g := range all {
		if _, tracked := r.Lookup(g.ID); tracked {
			continue
		}
		poly, err := geo.DecodeWKT(g.Geom)
		if err != nil {
			return added, errors.MalformedGeometry(err)
		}

		h := Handle(uuid.NewString())
		r.mu.Lock()
		r.shapes[h] = &Shape{
			Handle:      h,
			Name:        g.Name,
			Coordinates: poly.Coordinates(),
			Metadata:    g.Metadata,
			State:       Synced(g.ID),
		}
		r.mu.Unlock()
		added++
	}
	return added, nil
}

func (r *ShapeRegistry) setState(h Handle, state SyncState, dirty bool) SyncState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.shapes[h]; ok {
		s.State = state
		s.Dirty = dirty
	}
	return state
}
