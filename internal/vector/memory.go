package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/tiku/internal/models"
	"github.com/hyperjump/tiku/pkg/utils"
)

// MemoryStore is an in-memory dense store using brute-force cosine search.
// It backs tests and serves as the search cache of BoltStore.
type MemoryStore struct {
	mu         sync.RWMutex
	dimensions int
	order      []uint64
	points     map[uint64]*Point
	byChunk    map[string]uint64
}

// NewMemoryStore creates an empty store. dimensions may be 0 to fix it at first write.
func NewMemoryStore(dimensions int) *MemoryStore {
	return &MemoryStore{
		dimensions: dimensions,
		points:     make(map[uint64]*Point),
		byChunk:    make(map[string]uint64),
	}
}

// Type returns the store type identifier.
func (m *MemoryStore) Type() string {
	return string(StoreTypeMemory)
}

// Upsert writes points, replacing any with the same id. Vectors are copied and normalized.
func (m *MemoryStore) Upsert(ctx context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(points)
}

func (m *MemoryStore) upsertLocked(points []Point) error {
	for _, p := range points {
		if err := m.checkDim(len(p.Vector)); err != nil {
			return err
		}
	}
	for _, p := range points {
		if p.Chunk == nil {
			return fmt.Errorf("point %d has no payload", p.ID)
		}
		if m.dimensions == 0 {
			m.dimensions = len(p.Vector)
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		utils.NormalizeL2(vec)
		if old, ok := m.points[p.ID]; ok {
			delete(m.byChunk, old.Chunk.ChunkID)
		} else {
			m.order = append(m.order, p.ID)
		}
		m.points[p.ID] = &Point{ID: p.ID, Vector: vec, Chunk: p.Chunk}
		m.byChunk[p.Chunk.ChunkID] = p.ID
	}
	return nil
}

func (m *MemoryStore) checkDim(n int) error {
	if n == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	if m.dimensions != 0 && n != m.dimensions {
		return fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, n, m.dimensions)
	}
	return nil
}

// DeleteDoc removes every point of docID.
func (m *MemoryStore) DeleteDoc(ctx context.Context, docID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deleteLocked(docID)), nil
}

func (m *MemoryStore) docPointsLocked(docID string) []uint64 {
	var ids []uint64
	for _, id := range m.order {
		if m.points[id].Chunk.DocID == docID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *MemoryStore) deleteLocked(docID string) []uint64 {
	var removed []uint64
	kept := m.order[:0]
	for _, id := range m.order {
		p := m.points[id]
		if p.Chunk.DocID == docID {
			removed = append(removed, id)
			delete(m.points, id)
			delete(m.byChunk, p.Chunk.ChunkID)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return removed
}

// Search returns the top-k points by cosine similarity among those passing f.
// Equal scores keep insertion order.
func (m *MemoryStore) Search(ctx context.Context, query []float32, k int, f *models.Filters) ([]*Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.order) == 0 {
		return nil, nil
	}
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("%w: query has %d, expected %d", ErrDimensionMismatch, len(query), m.dimensions)
	}
	q := make([]float32, len(query))
	copy(q, query)
	utils.NormalizeL2(q)

	hits := make([]*Hit, 0, len(m.order))
	for _, id := range m.order {
		p := m.points[id]
		if !f.Match(p.Chunk) {
			continue
		}
		hits = append(hits, &Hit{Chunk: p.Chunk, Score: utils.Dot(q, p.Vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Get returns the payload of a chunk by id.
func (m *MemoryStore) Get(ctx context.Context, chunkID string) (*models.Chunk, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byChunk[chunkID]
	if !ok {
		return nil, false
	}
	return m.points[id].Chunk, true
}

// Count returns the number of points passing f.
func (m *MemoryStore) Count(ctx context.Context, f *models.Filters) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if f == nil {
		return len(m.order)
	}
	n := 0
	for _, id := range m.order {
		if f.Match(m.points[id].Chunk) {
			n++
		}
	}
	return n
}

// Dimensions returns the collection dimension, 0 before the first write.
func (m *MemoryStore) Dimensions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dimensions
}

// Close is a no-op for MemoryStore.
func (m *MemoryStore) Close() error {
	return nil
}
