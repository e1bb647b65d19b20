package geofence

import (
	"context"
	"sync"
)

// MemoryRepository keeps records in process memory. It backs the "memory"
// store backend and the tests.
type MemoryRepository struct {
	mu        sync.RWMutex
	records   map[int64]*Geofence
	highWater int64
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[int64]*Geofence)}
}

func (m *MemoryRepository) Load(ctx context.Context) ([]*Geofence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Geofence, 0, len(m.records))
	for _, g := range m.records {
		out = append(out, g.Clone())
	}
	return out, nil
}

func (m *MemoryRepository) Insert(ctx context.Context, g *Geofence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[g.ID] = g.Clone()
	return nil
}

func (m *MemoryRepository) Update(ctx context.Context, g *Geofence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[g.ID]; !ok {
		return ErrRecordNotFound
	}
	m.records[g.ID] = g.Clone()
	return nil
}

func (m *MemoryRepository) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return ErrRecordNotFound
	}
	delete(m.records, id)
	m.highWater = max(m.highWater, id)
	return nil
}

func (m *MemoryRepository) HighWater(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.highWater, nil
}

func (m *MemoryRepository) Ping(ctx context.Context) error { return nil }

func (m *MemoryRepository) Close() error { return nil }
