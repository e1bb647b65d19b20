// Package spatial provides the candidate filter used by containment queries.
package spatial

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/mycobrun/geofence-service/geo"
)

const (
	// DefaultCellSize is the grid cell edge length in degrees.
	DefaultCellSize = 0.25

	// DefaultMaxCellsPerEntry caps how many cells one entry may occupy before
	// it is moved to the oversized set.
	DefaultMaxCellsPerEntry = 4096

	shardCount = 32

	// maxCellCoord bounds cell coordinates so int64 arithmetic cannot overflow.
	maxCellCoord = 1 << 40
)

type cellKey struct {
	X, Y int64
}

// cellRange is an inclusive block of cells.
type cellRange struct {
	MinX, MinY, MaxX, MaxY int64
}

// noCells keeps nothing when passed to removeCells.
var noCells = cellRange{MinX: 1, MaxX: 0, MinY: 1, MaxY: 0}

func (r cellRange) exceeds(limit int64) bool {
	w := r.MaxX - r.MinX + 1
	h := r.MaxY - r.MinY + 1
	if w > limit || h > limit {
		return true
	}
	return w*h > limit
}

type shard struct {
	mu    sync.RWMutex
	cells map[cellKey]map[int64]struct{}
}

// entry tracks where an id is currently registered.
type entry struct {
	ranges    []cellRange
	oversized bool
}

// Stats describes index occupancy.
type Stats struct {
	Entries   int `json:"entries"`
	Cells     int `json:"cells"`
	Oversized int `json:"oversized"`
}

// GridIndex is a sharded uniform grid. Candidates returns a superset of the
// ids whose box covers the point; callers run the exact test themselves.
type GridIndex struct {
	cellSize float64
	maxCells int64
	shards   [shardCount]*shard

	// writeMu serialises index writers; queries never take it.
	writeMu sync.Mutex
	entries map[int64]*entry

	overMu    sync.RWMutex
	oversized map[int64]struct{}
}

// Option configures a GridIndex.
type Option func(*GridIndex)

// WithCellSize sets the cell edge length in degrees.
func WithCellSize(size float64) Option {
	return func(g *GridIndex) {
		g.cellSize = size
	}
}

// WithMaxCellsPerEntry sets the oversized threshold.
func WithMaxCellsPerEntry(n int) Option {
	return func(g *GridIndex) {
		g.maxCells = int64(n)
	}
}

// NewGridIndex creates an empty index.
func NewGridIndex(opts ...Option) (*GridIndex, error) {
	g := &GridIndex{
		cellSize:  DefaultCellSize,
		maxCells:  DefaultMaxCellsPerEntry,
		entries:   make(map[int64]*entry),
		oversized: make(map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if !(g.cellSize > 0) || math.IsInf(g.cellSize, 0) {
		return nil, fmt.Errorf("cell size must be a positive finite number, got %v", g.cellSize)
	}
	if g.maxCells <= 0 {
		return nil, fmt.Errorf("max cells per entry must be positive, got %d", g.maxCells)
	}
	for i := range g.shards {
		g.shards[i] = &shard{cells: make(map[cellKey]map[int64]struct{})}
	}
	return g, nil
}

// CellSize returns the configured cell edge length.
func (g *GridIndex) CellSize() float64 {
	return g.cellSize
}

// Insert registers id under every cell box overlaps, in addition to any cells
// it already occupies.
func (g *GridIndex) Insert(id int64, box geo.BoundingBox) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	e := g.entries[id]
	if e == nil {
		e = &entry{}
		g.entries[id] = e
	}
	g.add(id, e, box)
}

// Retain drops every registration of id except those needed for box. It is
// called after Insert with the same box once the new shape is visible.
func (g *GridIndex) Retain(id int64, box geo.BoundingBox) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	old := g.entries[id]
	if old == nil {
		return
	}
	r, oversized := g.rangeFor(box)
	if oversized {
		for _, cr := range old.ranges {
			g.removeCells(id, cr, noCells)
		}
		old.ranges = nil
		return
	}

	for _, cr := range old.ranges {
		g.removeCells(id, cr, r)
	}
	if old.oversized {
		g.overMu.Lock()
		delete(g.oversized, id)
		g.overMu.Unlock()
		old.oversized = false
	}
	old.ranges = []cellRange{r}
}

// Remove unregisters id entirely.
func (g *GridIndex) Remove(id int64) {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()

	e := g.entries[id]
	if e == nil {
		return
	}
	for _, cr := range e.ranges {
		g.removeCells(id, cr, noCells)
	}
	if e.oversized {
		g.overMu.Lock()
		delete(g.oversized, id)
		g.overMu.Unlock()
	}
	delete(g.entries, id)
}

// Candidates returns the sorted ids that may contain pt.
func (g *GridIndex) Candidates(pt geo.Point) []int64 {
	var ids []int64

	g.overMu.RLock()
	for id := range g.oversized {
		ids = append(ids, id)
	}
	g.overMu.RUnlock()

	if key, ok := g.cellOf(pt); ok {
		s := g.shardFor(key)
		s.mu.RLock()
		for id := range s.cells[key] {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
	}

	slices.Sort(ids)
	return slices.Compact(ids)
}

// Stats reports occupancy.
func (g *GridIndex) Stats() Stats {
	g.writeMu.Lock()
	entries := len(g.entries)
	g.writeMu.Unlock()

	cells := 0
	for _, s := range g.shards {
		s.mu.RLock()
		cells += len(s.cells)
		s.mu.RUnlock()
	}

	g.overMu.RLock()
	oversized := len(g.oversized)
	g.overMu.RUnlock()

	return Stats{Entries: entries, Cells: cells, Oversized: oversized}
}

func (g *GridIndex) add(id int64, e *entry, box geo.BoundingBox) {
	r, oversized := g.rangeFor(box)
	if oversized {
		if !e.oversized {
			g.overMu.Lock()
			g.oversized[id] = struct{}{}
			g.overMu.Unlock()
			e.oversized = true
		}
		return
	}

	for x := r.MinX; x <= r.MaxX; x++ {
		for y := r.MinY; y <= r.MaxY; y++ {
			key := cellKey{X: x, Y: y}
			s := g.shardFor(key)
			s.mu.Lock()
			set := s.cells[key]
			if set == nil {
				set = make(map[int64]struct{})
				s.cells[key] = set
			}
			set[id] = struct{}{}
			s.mu.Unlock()
		}
	}
	e.ranges = append(e.ranges, r)
}

// removeCells drops id from every cell of cr that lies outside keep.
func (g *GridIndex) removeCells(id int64, cr, keep cellRange) {
	for x := cr.MinX; x <= cr.MaxX; x++ {
		for y := cr.MinY; y <= cr.MaxY; y++ {
			if x >= keep.MinX && x <= keep.MaxX && y >= keep.MinY && y <= keep.MaxY {
				continue
			}
			key := cellKey{X: x, Y: y}
			s := g.shardFor(key)
			s.mu.Lock()
			if set := s.cells[key]; set != nil {
				delete(set, id)
				if len(set) == 0 {
					delete(s.cells, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// rangeFor maps a box to its inclusive cell range. The second result is true
// when the box must live in the oversized set instead.
func (g *GridIndex) rangeFor(box geo.BoundingBox) (cellRange, bool) {
	minX, ok1 := g.coord(box.MinLng)
	minY, ok2 := g.coord(box.MinLat)
	maxX, ok3 := g.coord(box.MaxLng)
	maxY, ok4 := g.coord(box.MaxLat)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return cellRange{}, true
	}
	r := cellRange{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
	if r.exceeds(g.maxCells) {
		return cellRange{}, true
	}
	return r, false
}

func (g *GridIndex) cellOf(pt geo.Point) (cellKey, bool) {
	x, okX := g.coord(pt.Lng)
	y, okY := g.coord(pt.Lat)
	return cellKey{X: x, Y: y}, okX && okY
}

func (g *GridIndex) coord(v float64) (int64, bool) {
	c := math.Floor(v / g.cellSize)
	if math.IsNaN(c) || c > maxCellCoord || c < -maxCellCoord {
		return 0, false
	}
	return int64(c), true
}

func (g *GridIndex) shardFor(key cellKey) *shard {
	h := uint64(key.X)*0x9E3779B97F4A7C15 ^ uint64(key.Y)*0xC2B2AE3D27D4EB4F
	return g.shards[(h>>32)%shardCount]
}
