package vector

import (
	"context"
	"fmt"
	"sync"
)

// MemoryIndex is an in-memory vector index using brute-force cosine distance over float32 rows.
type MemoryIndex struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	nonZero    []bool
	slots      map[string]int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		ids:        make([]string, 0),
		vectors:    make([][]float32, 0),
		nonZero:    make([]bool, 0),
		slots:      make(map[string]int),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return IndexTypeMemory
}

// Dimensions returns the configured vector dimension.
func (m *MemoryIndex) Dimensions() int {
	return m.dimensions
}

// Add normalizes and stores vectors with the given IDs.
func (m *MemoryIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	for _, vec := range vectors {
		if len(vec) != m.dimensions {
			return dimensionError(len(vec), m.dimensions)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		vec, ok := Normalized(vectors[i])
		if slot, exists := m.slots[id]; exists {
			m.vectors[slot] = vec
			m.nonZero[slot] = ok
			continue
		}
		m.slots[id] = len(m.ids)
		m.ids = append(m.ids, id)
		m.vectors = append(m.vectors, vec)
		m.nonZero = append(m.nonZero, ok)
	}
	return nil
}

// Search returns the k nearest vectors by cosine distance.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, dimensionError(len(query), m.dimensions)
	}
	q, queryOK := Normalized(query)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 || len(m.ids) == 0 {
		return []*VectorResult{}, nil
	}
	distances := make([]float64, len(m.vectors))
	for i, vec := range m.vectors {
		if !queryOK || !m.nonZero[i] {
			distances[i] = MaxDistance
			continue
		}
		distances[i] = distanceFromDot(InnerProduct(q, vec))
	}
	return m.results(selectTopK(distances, k)), nil
}

func (m *MemoryIndex) results(top []candidate) []*VectorResult {
	out := make([]*VectorResult, len(top))
	for i, c := range top {
		out[i] = &VectorResult{ID: m.ids[c.slot], Distance: c.distance, Rank: i + 1}
	}
	return out
}

// Save persists the index to path. An empty path is a no-op.
func (m *MemoryIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return writeIndexFile(path, m.dimensions, m.ids, func(i int) []float32 { return m.vectors[i] })
}

// Load reads the index from path and replaces the in-memory contents. Dimensions must match.
// If the file does not exist, no error is returned and the index is unchanged.
func (m *MemoryIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	ids, vectors, err := readIndexFile(path, m.dimensions)
	if err != nil {
		return err
	}
	if ids == nil {
		return nil
	}
	m.mu.Lock()
	m.ids = make([]string, 0, len(ids))
	m.vectors = make([][]float32, 0, len(ids))
	m.nonZero = make([]bool, 0, len(ids))
	m.slots = make(map[string]int, len(ids))
	m.mu.Unlock()
	return m.Add(context.Background(), ids, vectors)
}

// Size returns the number of vectors in the index.
func (m *MemoryIndex) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
