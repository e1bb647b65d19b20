// Package geofence holds the geofence store and the containment engine.
package geofence

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/mycobrun/geofence-service/geo"
)

// Geofence is one stored record. Values handed out by the Store are copies.
type Geofence struct {
	ID        int64
	Name      string
	Polygon   *geo.Polygon
	Metadata  map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy.
func (g *Geofence) Clone() *Geofence {
	if g == nil {
		return nil
	}
	c := *g
	c.Polygon = g.Polygon.Clone()
	c.Metadata = maps.Clone(g.Metadata)
	if c.Metadata == nil {
		c.Metadata = map[string]any{}
	}
	return &c
}

// WKT returns the polygon encoded as WKT.
func (g *Geofence) WKT() string {
	return geo.EncodeWKT(g.Polygon)
}

// Patch lists the fields an update replaces. Nil fields are left as they are.
type Patch struct {
	Name     *string
	Polygon  *geo.Polygon
	Metadata map[string]any
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Polygon == nil && p.Metadata == nil
}

// Match is one containment result.
type Match struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// EventType names a committed store mutation.
type EventType string

const (
	EventCreated EventType = "geofence.created"
	EventUpdated EventType = "geofence.updated"
	EventDeleted EventType = "geofence.deleted"
)

// Event is published after a mutation commits. Geom is empty for deletes.
type Event struct {
	Type       EventType `json:"type"`
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Geom       string    `json:"geom,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers change events. Failures never undo a commit.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// ErrRecordNotFound is returned by repositories for unknown ids.
var ErrRecordNotFound = errors.New("geofence record not found")

// Repository is the durable side of the store. Implementations must be safe
// for concurrent use; the store never calls them for the same id concurrently.
type Repository interface {
	Load(ctx context.Context) ([]*Geofence, error)
	Insert(ctx context.Context, g *Geofence) error
	Update(ctx context.Context, g *Geofence) error
	Delete(ctx context.Context, id int64) error
	// HighWater returns the highest id ever removed by Delete, or 0. Ids
	// at or below max(stored ids, HighWater) have been handed out before.
	HighWater(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// ValidateName trims and checks a geofence name.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("name must not be empty")
	}
	return name, nil
}

// ValidateMetadata checks that every value is a string, number or bool.
func ValidateMetadata(md map[string]any) error {
	for k, v := range md {
		switch v.(type) {
		case string, bool,
			float64, float32, int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64:
		default:
			return fmt.Errorf("metadata value for %q must be a string, number or boolean", k)
		}
	}
	return nil
}
