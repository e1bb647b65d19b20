package geo

import (
	"errors"
	"math"
	"testing"
)

func unitSquare() *Polygon {
	return NewPolygon([]Point{
		{Lng: 0, Lat: 0},
		{Lng: 10, Lat: 0},
		{Lng: 10, Lat: 10},
		{Lng: 0, Lat: 10},
	})
}

func TestPolygon_Contains(t *testing.T) {
	square := unitSquare()

	tests := []struct {
		name  string
		point Point
		want  bool
	}{
		{"center", NewPoint(5, 5), true},
		{"outside right", NewPoint(15, 5), false},
		{"outside below", NewPoint(5, -0.001), false},
		{"on bottom edge", NewPoint(5, 0), true},
		{"on left edge", NewPoint(0, 5), true},
		{"on top edge", NewPoint(5, 10), true},
		{"on right edge", NewPoint(10, 5), true},
		{"on vertex", NewPoint(10, 10), true},
		{"on origin vertex", NewPoint(0, 0), true},
		{"on edge extension", NewPoint(11, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := square.Contains(tt.point); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.point, got, tt.want)
			}
		})
	}
}

func TestPolygon_ContainsConcave(t *testing.T) {
	// U shape open at the top between x=3 and x=7
	u := NewPolygon([]Point{
		{Lng: 0, Lat: 0}, {Lng: 10, Lat: 0}, {Lng: 10, Lat: 10}, {Lng: 7, Lat: 10},
		{Lng: 7, Lat: 3}, {Lng: 3, Lat: 3}, {Lng: 3, Lat: 10}, {Lng: 0, Lat: 10},
	})

	if !u.Contains(NewPoint(1, 8)) {
		t.Error("left arm should contain (1, 8)")
	}
	if u.Contains(NewPoint(5, 8)) {
		t.Error("notch should not contain (5, 8)")
	}
	if !u.Contains(NewPoint(5, 3)) {
		t.Error("notch floor edge should be inside")
	}
}

func TestPolygon_ContainsDiagonalEdge(t *testing.T) {
	tri := NewPolygon([]Point{{Lng: 0, Lat: 0}, {Lng: 4, Lat: 0}, {Lng: 0, Lat: 4}})

	if !tri.Contains(NewPoint(2, 2)) {
		t.Error("point on hypotenuse should be inside")
	}
	if tri.Contains(NewPoint(2.01, 2.01)) {
		t.Error("point just beyond hypotenuse should be outside")
	}
}

func TestPolygon_Validate(t *testing.T) {
	tests := []struct {
		name    string
		points  []Point
		wantErr bool
	}{
		{"triangle", []Point{{0, 0}, {1, 0}, {0, 1}}, false},
		{"two vertices", []Point{{0, 0}, {1, 1}}, true},
		{"closed two vertices", []Point{{0, 0}, {1, 1}, {0, 0}}, true},
		{"repeated vertices", []Point{{0, 0}, {1, 1}, {1, 1}, {0, 0}}, true},
		{"nan coordinate", []Point{{0, 0}, {math.NaN(), 0}, {0, 1}}, true},
		{"inf coordinate", []Point{{0, 0}, {1, math.Inf(1)}, {0, 1}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewPolygon(tt.points).Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrMalformedGeometry) {
				t.Errorf("Validate() error = %v, want ErrMalformedGeometry", err)
			}
		})
	}
}

func TestNewPolygon_DropsClosingVertex(t *testing.T) {
	p := NewPolygon([]Point{{0, 0}, {1, 0}, {1, 1}, {0, 0}})
	if len(p.Points) != 3 {
		t.Errorf("expected 3 vertices, got %d", len(p.Points))
	}
}

func TestPolygon_BoundingBox(t *testing.T) {
	p := NewPolygon([]Point{{Lng: -3, Lat: 2}, {Lng: 4, Lat: -1}, {Lng: 1, Lat: 7}})
	bb := p.BoundingBox()

	want := BoundingBox{MinLat: -1, MaxLat: 7, MinLng: -3, MaxLng: 4}
	if bb != want {
		t.Errorf("BoundingBox() = %+v, want %+v", bb, want)
	}
	if !bb.Contains(NewPoint(4, 7)) {
		t.Error("bounding box should include its corner")
	}
}

func TestPolygon_CloneIsIndependent(t *testing.T) {
	p := unitSquare()
	c := p.Clone()
	c.Points[0].Lng = 99

	if p.Points[0].Lng != 0 {
		t.Error("mutating the clone changed the original")
	}
	if p.Equal(c) {
		t.Error("Equal() should detect the changed vertex")
	}
}

func TestRingFromCoordinates(t *testing.T) {
	tests := []struct {
		name    string
		coords  [][]float64
		want    int
		wantErr bool
	}{
		{"open ring", [][]float64{{0, 0}, {1, 0}, {1, 1}}, 3, false},
		{"closed ring", [][]float64{{0, 0}, {1, 0}, {1, 1}, {0, 0}}, 3, false},
		{"short pair", [][]float64{{0, 0}, {1}, {1, 1}}, 0, true},
		{"long pair", [][]float64{{0, 0, 0}, {1, 0}, {1, 1}}, 0, true},
		{"too few", [][]float64{{0, 0}, {1, 1}}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := RingFromCoordinates(tt.coords)
			if (err != nil) != tt.wantErr {
				t.Fatalf("RingFromCoordinates() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && len(p.Points) != tt.want {
				t.Errorf("got %d vertices, want %d", len(p.Points), tt.want)
			}
		})
	}
}

func TestRingFromCoordinates_LngLatOrder(t *testing.T) {
	p, err := RingFromCoordinates([][]float64{{-122.4, 37.7}, {-122.3, 37.7}, {-122.3, 37.8}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Points[0].Lng != -122.4 || p.Points[0].Lat != 37.7 {
		t.Errorf("first vertex = %+v, want lng=-122.4 lat=37.7", p.Points[0])
	}
}
