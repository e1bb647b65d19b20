// Package geo provides planar geometry for geofences.
//
// Coordinates follow a single convention everywhere in this package:
// x is longitude and y is latitude. Presentation layers that use
// (lat, lng) order must convert before calling in.
package geo

import (
	"math"
)

// Point represents a coordinate pair with x = Lng and y = Lat.
type Point struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// NewPoint creates a new Point from (x, y) = (lng, lat).
func NewPoint(lng, lat float64) Point {
	return Point{Lng: lng, Lat: lat}
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Point) IsFinite() bool {
	return !math.IsNaN(p.Lng) && !math.IsInf(p.Lng, 0) &&
		!math.IsNaN(p.Lat) && !math.IsInf(p.Lat, 0)
}

// IsValid checks if the point has valid geographic coordinates.
func (p Point) IsValid() bool {
	return p.IsFinite() && p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// BoundingBox is an axis-aligned rectangle in (lng, lat) space.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLng float64 `json:"max_lng"`
}

// Contains checks if a point is within the bounding box, edges included.
func (bb BoundingBox) Contains(p Point) bool {
	return p.Lat >= bb.MinLat && p.Lat <= bb.MaxLat &&
		p.Lng >= bb.MinLng && p.Lng <= bb.MaxLng
}
