package geo

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

const wktPolygon = "POLYGON"

// wktSeparators matches whitespace around parentheses and commas.
var wktSeparators = regexp.MustCompile(`\s*([(),])\s*`)

// EncodeWKT writes the polygon as a closed WKT exterior ring, for example
// POLYGON((0 0,10 0,10 10,0 0)). Floats parse back exactly.
func EncodeWKT(p *Polygon) string {
	return wkt.MarshalString(p.toOrb())
}

// DecodeWKT parses a single-ring WKT polygon. The keyword is matched
// case-insensitively, whitespace between tokens is free and the closing
// vertex is optional.
func DecodeWKT(text string) (*Polygon, error) {
	s := normalizeWKT(text)
	if !strings.HasPrefix(s, wktPolygon) {
		return nil, fmt.Errorf("%w: expected POLYGON", ErrMalformedGeometry)
	}
	if !strings.HasPrefix(s[len(wktPolygon):], "((") {
		return nil, fmt.Errorf("%w: polygon body must be a parenthesised ring", ErrMalformedGeometry)
	}

	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedGeometry, err)
	}
	parsed, ok := g.(orb.Polygon)
	if !ok {
		return nil, fmt.Errorf("%w: expected POLYGON, got %T", ErrMalformedGeometry, g)
	}
	if len(parsed) != 1 {
		return nil, fmt.Errorf("%w: exactly one ring is supported, got %d", ErrMalformedGeometry, len(parsed))
	}

	points := make([]Point, 0, len(parsed[0]))
	for _, pt := range parsed[0] {
		points = append(points, NewPoint(pt.X(), pt.Y()))
	}
	poly := NewPolygon(points)
	if err := poly.Validate(); err != nil {
		return nil, err
	}
	return poly, nil
}

// normalizeWKT upper-cases the keyword and collapses whitespace so the
// parser sees the compact form it writes.
func normalizeWKT(text string) string {
	s := strings.Join(strings.Fields(text), " ")
	s = wktSeparators.ReplaceAllString(s, "$1")
	if len(s) >= len(wktPolygon) && strings.EqualFold(s[:len(wktPolygon)], wktPolygon) {
		s = wktPolygon + s[len(wktPolygon):]
	}
	return s
}

// toOrb returns the polygon as a closed orb ring.
func (p *Polygon) toOrb() orb.Polygon {
	ring := make(orb.Ring, 0, len(p.Points)+1)
	for _, pt := range p.Points {
		ring = append(ring, orb.Point{pt.Lng, pt.Lat})
	}
	if len(p.Points) > 0 {
		ring = append(ring, orb.Point{p.Points[0].Lng, p.Points[0].Lat})
	}
	return orb.Polygon{ring}
}
