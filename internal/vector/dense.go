package vector

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// DenseIndex stores normalized vectors as rows of one row-major float64 matrix and scores a
// query with a single matrix-vector product. Ordering semantics match MemoryIndex.
type DenseIndex struct {
	dimensions int
	ids        []string
	data       []float64
	nonZero    []bool
	slots      map[string]int
	mu         sync.RWMutex
}

// NewDenseIndex creates a gonum-backed flat index with the given dimension.
func NewDenseIndex(dimensions int) (*DenseIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &DenseIndex{
		dimensions: dimensions,
		slots:      make(map[string]int),
	}, nil
}

// Type returns the index type identifier.
func (d *DenseIndex) Type() string {
	return IndexTypeDense
}

// Dimensions returns the configured vector dimension.
func (d *DenseIndex) Dimensions() int {
	return d.dimensions
}

// Add normalizes and stores vectors with the given IDs.
func (d *DenseIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	for _, vec := range vectors {
		if len(vec) != d.dimensions {
			return dimensionError(len(vec), d.dimensions)
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, id := range ids {
		vec, ok := Normalized(vectors[i])
		slot, exists := d.slots[id]
		if !exists {
			slot = len(d.ids)
			d.slots[id] = slot
			d.ids = append(d.ids, id)
			d.nonZero = append(d.nonZero, ok)
			d.data = append(d.data, make([]float64, d.dimensions)...)
		}
		d.nonZero[slot] = ok
		row := d.data[slot*d.dimensions : (slot+1)*d.dimensions]
		for j, v := range vec {
			row[j] = float64(v)
		}
	}
	return nil
}

// Search returns the k nearest vectors by cosine distance.
func (d *DenseIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != d.dimensions {
		return nil, dimensionError(len(query), d.dimensions)
	}
	q, queryOK := Normalized(query)
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := len(d.ids)
	if k <= 0 || n == 0 {
		return []*VectorResult{}, nil
	}
	distances := make([]float64, n)
	if queryOK {
		qv := make([]float64, d.dimensions)
		for i, v := range q {
			qv[i] = float64(v)
		}
		var dots mat.VecDense
		dots.MulVec(mat.NewDense(n, d.dimensions, d.data), mat.NewVecDense(d.dimensions, qv))
		for i := 0; i < n; i++ {
			if !d.nonZero[i] {
				distances[i] = MaxDistance
				continue
			}
			distances[i] = distanceFromDot(dots.AtVec(i))
		}
	} else {
		for i := range distances {
			distances[i] = MaxDistance
		}
	}
	top := selectTopK(distances, k)
	out := make([]*VectorResult, len(top))
	for i, c := range top {
		out[i] = &VectorResult{ID: d.ids[c.slot], Distance: c.distance, Rank: i + 1}
	}
	return out, nil
}

// Save persists the index to path. An empty path is a no-op.
func (d *DenseIndex) Save(path string) error {
	if path == "" {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return writeIndexFile(path, d.dimensions, d.ids, func(i int) []float32 {
		row := d.data[i*d.dimensions : (i+1)*d.dimensions]
		out := make([]float32, d.dimensions)
		for j, v := range row {
			out[j] = float32(v)
		}
		return out
	})
}

// Load reads the index from path and replaces the contents. A missing file leaves the index unchanged.
func (d *DenseIndex) Load(path string) error {
	if path == "" {
		return nil
	}
	ids, vectors, err := readIndexFile(path, d.dimensions)
	if err != nil {
		return err
	}
	if ids == nil {
		return nil
	}
	d.mu.Lock()
	d.ids = nil
	d.data = nil
	d.nonZero = nil
	d.slots = make(map[string]int, len(ids))
	d.mu.Unlock()
	return d.Add(context.Background(), ids, vectors)
}

// Size returns the number of vectors in the index.
func (d *DenseIndex) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ids)
}

// Close is a no-op for DenseIndex.
func (d *DenseIndex) Close() error {
	return nil
}
