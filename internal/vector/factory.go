package vector

import "fmt"

// Index types accepted by NewVectorIndex and the vector.index_type setting.
const (
	// IndexTypeMemory scans float32 rows with SIMD dot products. Default.
	IndexTypeMemory = "memory"
	// IndexTypeDense keeps one float64 matrix and scores with a gonum matrix-vector product.
	IndexTypeDense = "dense"
)

// NewVectorIndex creates a vector index of the specified type.
// Supported types: "memory" (default), "dense". Both are exact flat indices.
func NewVectorIndex(indexType string, dimensions int) (VectorIndex, error) {
	switch indexType {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeDense:
		return NewDenseIndex(dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, dense)", indexType)
	}
}

// Builder returns a constructor for fresh indices of one type and dimension, validating both once.
func Builder(indexType string, dimensions int) (func() (VectorIndex, error), error) {
	idx, err := NewVectorIndex(indexType, dimensions)
	if err != nil {
		return nil, err
	}
	_ = idx.Close()
	return func() (VectorIndex, error) {
		return NewVectorIndex(indexType, dimensions)
	}, nil
}
