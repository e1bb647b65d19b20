package api

import (
	"time"

	"github.com/mycobrun/geofence-service/geo"
	"github.com/mycobrun/geofence-service/geofence"
)

// CreateGeofenceRequest is the body of POST /geofences. Coordinates are
// [lng, lat] pairs; the ring may be given open or closed.
type CreateGeofenceRequest struct {
	Name        string         `json:"name" validate:"required,notblank,max=255"`
	Coordinates geo.Coordinates `json:"coordinates" validate:"required"`
	Metadata    map[string]any `json:"metadata,omitempty" validate:"omitempty,scalarmap"`
}

// UpdateGeofenceRequest is the body of PUT /geofences/{id}. Absent fields
// are left unchanged; at least one must be present.
type UpdateGeofenceRequest struct {
	Name        *string        `json:"name,omitempty" validate:"omitnil,notblank,max=255"`
	Coordinates geo.Coordinates `json:"coordinates,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" validate:"omitempty,scalarmap"`
}

// StatusRequest is the body of POST /geofences/status.
type StatusRequest struct {
	Lat *float64 `json:"lat" validate:"required,latitude"`
	Lon *float64 `json:"lon" validate:"required,longitude"`
}

// GeofenceResponse is the wire form of a stored geofence. Geom is WKT.
type GeofenceResponse struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Geom      string         `json:"geom"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// StatusResponse lists the geofences containing the queried point.
type StatusResponse struct {
	Status          bool             `json:"status"`
	InsideGeofences []geofence.Match `json:"inside_geofences"`
}

// DeleteResponse acknowledges a delete.
type DeleteResponse struct {
	Detail string `json:"detail"`
	ID     int64  `json:"id"`
}

func toResponse(g *geofence.Geofence) GeofenceResponse {
	md := g.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return GeofenceResponse{
		ID:        g.ID,
		Name:      g.Name,
		Geom:      g.WKT(),
		Metadata:  md,
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
}
