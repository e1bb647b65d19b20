package spatial

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mycobrun/geofence-service/geo"
)

func box(minLng, minLat, maxLng, maxLat float64) geo.BoundingBox {
	return geo.BoundingBox{MinLng: minLng, MinLat: minLat, MaxLng: maxLng, MaxLat: maxLat}
}

func newIndex(t *testing.T, opts ...Option) *GridIndex {
	t.Helper()
	g, err := NewGridIndex(opts...)
	require.NoError(t, err)
	return g
}

func TestNewGridIndex_RejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"zero cell size", []Option{WithCellSize(0)}},
		{"negative cell size", []Option{WithCellSize(-1)}},
		{"zero max cells", []Option{WithMaxCellsPerEntry(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGridIndex(tt.opts...)
			assert.Error(t, err)
		})
	}
}

func TestGridIndex_Candidates(t *testing.T) {
	g := newIndex(t, WithCellSize(1))
	g.Insert(1, box(0, 0, 2, 2))
	g.Insert(2, box(5, 5, 6, 6))

	tests := []struct {
		name  string
		point geo.Point
		want  []int64
	}{
		{"inside first", geo.NewPoint(1.5, 1.5), []int64{1}},
		{"inside second", geo.NewPoint(5.5, 5.5), []int64{2}},
		{"empty region", geo.NewPoint(-10, -10), nil},
		{"on max edge of first", geo.NewPoint(2, 2), []int64{1}},
		{"on min edge of second", geo.NewPoint(5, 5), []int64{2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.Candidates(tt.point)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGridIndex_SharedCellEdge(t *testing.T) {
	g := newIndex(t, WithCellSize(0.25))
	// Two boxes meeting exactly on a cell boundary.
	g.Insert(1, box(0, 0, 0.25, 0.25))
	g.Insert(2, box(0.25, 0, 0.5, 0.25))

	got := g.Candidates(geo.NewPoint(0.25, 0.1))
	assert.Equal(t, []int64{1, 2}, got)
}

func TestGridIndex_RetainMovesEntry(t *testing.T) {
	g := newIndex(t, WithCellSize(1))
	old := box(0, 0, 1, 1)
	moved := box(10, 10, 11, 11)
	g.Insert(7, old)

	g.Insert(7, moved)
	assert.Equal(t, []int64{7}, g.Candidates(geo.NewPoint(0.5, 0.5)), "old cells stay until retain")
	assert.Equal(t, []int64{7}, g.Candidates(geo.NewPoint(10.5, 10.5)))

	g.Retain(7, moved)
	assert.Empty(t, g.Candidates(geo.NewPoint(0.5, 0.5)))
	assert.Equal(t, []int64{7}, g.Candidates(geo.NewPoint(10.5, 10.5)))
	assert.Equal(t, 1, g.Stats().Entries)
}

func TestGridIndex_Remove(t *testing.T) {
	g := newIndex(t, WithCellSize(1))
	g.Insert(3, box(0, 0, 3, 3))
	g.Remove(3)

	assert.Empty(t, g.Candidates(geo.NewPoint(1, 1)))
	assert.Equal(t, Stats{}, g.Stats())

	// Removing an unknown id is a no-op.
	g.Remove(42)
}

func TestGridIndex_Oversized(t *testing.T) {
	g := newIndex(t, WithCellSize(1), WithMaxCellsPerEntry(16))
	g.Insert(1, box(0, 0, 100, 100))
	g.Insert(2, box(0, 0, 1, 1))

	stats := g.Stats()
	assert.Equal(t, 1, stats.Oversized)
	assert.Equal(t, 2, stats.Entries)

	assert.Equal(t, []int64{1}, g.Candidates(geo.NewPoint(-500, -500)))
	assert.Equal(t, []int64{1, 2}, g.Candidates(geo.NewPoint(0.5, 0.5)))

	g.Insert(1, box(50, 50, 51, 51))
	g.Retain(1, box(50, 50, 51, 51))
	assert.Equal(t, 0, g.Stats().Oversized)
	assert.Empty(t, g.Candidates(geo.NewPoint(-500, -500)))
	assert.Equal(t, []int64{1}, g.Candidates(geo.NewPoint(50.5, 50.5)))
}

func TestGridIndex_HugeCoordinatesGoOversized(t *testing.T) {
	g := newIndex(t, WithCellSize(1e-9))
	g.Insert(1, box(-1e300, -1e300, 1e300, 1e300))

	assert.Equal(t, 1, g.Stats().Oversized)
	assert.Equal(t, []int64{1}, g.Candidates(geo.NewPoint(3, 4)))
}

func TestGridIndex_SupersetOfBoxes(t *testing.T) {
	g := newIndex(t, WithCellSize(0.5))
	rng := rand.New(rand.NewSource(1))

	boxes := make(map[int64]geo.BoundingBox)
	for id := int64(1); id <= 200; id++ {
		x, y := rng.Float64()*20-10, rng.Float64()*20-10
		b := box(x, y, x+rng.Float64()*3, y+rng.Float64()*3)
		boxes[id] = b
		g.Insert(id, b)
	}

	for i := 0; i < 500; i++ {
		pt := geo.NewPoint(rng.Float64()*24-12, rng.Float64()*24-12)
		got := make(map[int64]bool)
		for _, id := range g.Candidates(pt) {
			got[id] = true
		}
		for id, b := range boxes {
			if b.Contains(pt) && !got[id] {
				t.Fatalf("point %+v inside box %d but not a candidate", pt, id)
			}
		}
	}
}

func TestGridIndex_ConcurrentReadersAndWriters(t *testing.T) {
	g := newIndex(t, WithCellSize(1))
	g.Insert(0, box(-1, -1, 1, 1))

	var wg sync.WaitGroup
	for w := 1; w <= 4; w++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				b := box(float64(i%10), 0, float64(i%10)+1, 1)
				g.Insert(id, b)
				g.Retain(id, b)
			}
			g.Remove(id)
		}(int64(w))
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				ids := g.Candidates(geo.NewPoint(0.5, 0.5))
				if len(ids) == 0 || ids[0] != 0 {
					t.Errorf("stable entry missing from candidates: %v", ids)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, g.Stats().Entries)
}
