// Package vector provides flat (exact) vector indices ranked by cosine distance.
package vector

import "context"

// VectorIndex defines vector storage and exact nearest-neighbor search by cosine distance.
// Implementations copy and L2-normalize every vector they store.
type VectorIndex interface {
	// Add stores vectors under ids. A duplicate id replaces the earlier vector but keeps its
	// insertion slot. If any vector has the wrong dimension nothing is stored.
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	// Search returns up to k entries ordered by ascending distance, ties by insertion order.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID string
	// Distance is 1 - cosine similarity, in [0, 2]. Zero vectors are at MaxDistance.
	Distance float64
	// Rank is the 1-based position in the distance-ordered result list.
	Rank int
}
