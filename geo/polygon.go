package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformedGeometry is returned for rings and WKT text that do not
// describe a single valid polygon.
var ErrMalformedGeometry = errors.New("malformed geometry")

// edgeTolerance scales the collinearity check in onSegment.
const edgeTolerance = 1e-9

// Polygon is a single exterior ring stored without the closing vertex.
type Polygon struct {
	Points []Point `json:"points"`
}

// NewPolygon creates a new polygon from points. A trailing vertex equal to
// the first one is dropped.
func NewPolygon(points []Point) *Polygon {
	pts := make([]Point, len(points))
	copy(pts, points)
	if n := len(pts); n > 1 && pts[0] == pts[n-1] {
		pts = pts[:n-1]
	}
	return &Polygon{Points: pts}
}

// Validate checks the ring has at least three distinct vertices and that
// every coordinate is finite.
func (p *Polygon) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil polygon", ErrMalformedGeometry)
	}
	distinct := make(map[Point]struct{}, len(p.Points))
	for i, pt := range p.Points {
		if !pt.IsFinite() {
			return fmt.Errorf("%w: vertex %d has a non-finite coordinate", ErrMalformedGeometry, i)
		}
		distinct[pt] = struct{}{}
	}
	if len(distinct) < 3 {
		return fmt.Errorf("%w: polygon needs at least 3 distinct vertices, got %d", ErrMalformedGeometry, len(distinct))
	}
	return nil
}

// IsValid reports whether Validate succeeds.
func (p *Polygon) IsValid() bool {
	return p.Validate() == nil
}

// Contains reports whether point lies inside the polygon or on its boundary.
// Edges and vertices count as inside; everything else is decided with even-odd
// ray casting. Self-intersecting rings give unspecified results.
func (p *Polygon) Contains(point Point) bool {
	n := len(p.Points)
	if n < 3 {
		return false
	}

	j := n - 1
	for i := 0; i < n; i++ {
		if onSegment(p.Points[j], p.Points[i], point) {
			return true
		}
		j = i
	}

	inside := false
	j = n - 1
	for i := 0; i < n; i++ {
		pi := p.Points[i]
		pj := p.Points[j]

		if ((pi.Lat > point.Lat) != (pj.Lat > point.Lat)) &&
			(point.Lng < (pj.Lng-pi.Lng)*(point.Lat-pi.Lat)/(pj.Lat-pi.Lat)+pi.Lng) {
			inside = !inside
		}
		j = i
	}

	return inside
}

// onSegment reports whether q lies on the segment a-b.
func onSegment(a, b, q Point) bool {
	if q.Lng < math.Min(a.Lng, b.Lng) || q.Lng > math.Max(a.Lng, b.Lng) ||
		q.Lat < math.Min(a.Lat, b.Lat) || q.Lat > math.Max(a.Lat, b.Lat) {
		return false
	}
	dx := b.Lng - a.Lng
	dy := b.Lat - a.Lat
	cross := dx*(q.Lat-a.Lat) - dy*(q.Lng-a.Lng)
	return math.Abs(cross) <= edgeTolerance*(math.Abs(dx)+math.Abs(dy))
}

// BoundingBox returns the bounding box of the polygon.
func (p *Polygon) BoundingBox() BoundingBox {
	if len(p.Points) == 0 {
		return BoundingBox{}
	}

	minLat, maxLat := p.Points[0].Lat, p.Points[0].Lat
	minLng, maxLng := p.Points[0].Lng, p.Points[0].Lng

	for _, pt := range p.Points[1:] {
		minLat = math.Min(minLat, pt.Lat)
		maxLat = math.Max(maxLat, pt.Lat)
		minLng = math.Min(minLng, pt.Lng)
		maxLng = math.Max(maxLng, pt.Lng)
	}

	return BoundingBox{
		MinLat: minLat,
		MaxLat: maxLat,
		MinLng: minLng,
		MaxLng: maxLng,
	}
}

// Clone returns a deep copy of the polygon.
func (p *Polygon) Clone() *Polygon {
	if p == nil {
		return nil
	}
	pts := make([]Point, len(p.Points))
	copy(pts, p.Points)
	return &Polygon{Points: pts}
}

// Equal reports whether both rings have the same vertices in the same order.
func (p *Polygon) Equal(other *Polygon) bool {
	if p == nil || other == nil {
		return p == other
	}
	if len(p.Points) != len(other.Points) {
		return false
	}
	for i := range p.Points {
		if p.Points[i] != other.Points[i] {
			return false
		}
	}
	return true
}

// Coordinates returns the ring as [lng, lat] pairs, closing vertex excluded.
func (p *Polygon) Coordinates() [][]float64 {
	coords := make([][]float64, len(p.Points))
	for i, pt := range p.Points {
		coords[i] = []float64{pt.Lng, pt.Lat}
	}
	return coords
}

// RingFromCoordinates converts API coordinate pairs in [lng, lat] order into
// a validated polygon.
func RingFromCoordinates(coords [][]float64) (*Polygon, error) {
	points := make([]Point, 0, len(coords))
	for i, pair := range coords {
		if len(pair) != 2 {
			return nil, fmt.Errorf("%w: coordinate %d must be a [lng, lat] pair", ErrMalformedGeometry, i)
		}
		points = append(points, NewPoint(pair[0], pair[1]))
	}
	poly := NewPolygon(points)
	if err := poly.Validate(); err != nil {
		return nil, err
	}
	return poly, nil
}
