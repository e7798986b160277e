package vector

import (
	"container/heap"
	"math"

	"github.com/viterin/vek/vek32"
	"gonum.org/v1/gonum/floats"
)

// MaxDistance is the largest cosine distance. Zero vectors are placed here against everything.
const MaxDistance = 2.0

// InnerProduct returns the inner product of two vectors (for normalized vectors equals cosine similarity).
func InnerProduct(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return float64(vek32.Dot(a, b))
}

// l2Norm returns the L2 norm of x, accumulated in float64 so that finite float32 vectors
// never overflow or underflow to a zero norm.
func l2Norm(x []float32) float64 {
	if len(x) == 0 {
		return 0
	}
	return floats.Norm(widen(x), 2)
}

// Normalized returns a unit-length copy of x and whether x had a non-zero norm.
// A zero vector, or one with a non-finite component, is returned as a zero copy.
func Normalized(x []float32) ([]float32, bool) {
	out := make([]float32, len(x))
	if len(x) == 0 {
		return out, false
	}
	wide := widen(x)
	norm := floats.Norm(wide, 2)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return out, false
	}
	floats.Scale(1/norm, wide)
	for i, v := range wide {
		out[i] = float32(v)
	}
	return out, true
}

func widen(x []float32) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = float64(v)
	}
	return out
}

func distanceFromDot(dot float64) float64 {
	if dot > 1 {
		dot = 1
	}
	if dot < -1 {
		dot = -1
	}
	return 1 - dot
}

// candidate is a (distance, slot) pair; slot is the insertion position used for tie-breaking.
type candidate struct {
	distance float64
	slot     int
}

func less(a, b candidate) bool {
	if a.distance != b.distance {
		return a.distance < b.distance
	}
	return a.slot < b.slot
}

// worstFirst is a max-heap on (distance, slot) holding the current best k candidates.
type worstFirst []candidate

func (h worstFirst) Len() int            { return len(h) }
func (h worstFirst) Less(i, j int) bool  { return less(h[j], h[i]) }
func (h worstFirst) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *worstFirst) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *worstFirst) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// selectTopK returns the k smallest (distance, slot) pairs in ascending order.
// distances[i] belongs to slot i. The result equals a stable ascending sort truncated to k.
func selectTopK(distances []float64, k int) []candidate {
	if k > len(distances) {
		k = len(distances)
	}
	if k <= 0 {
		return nil
	}
	h := make(worstFirst, 0, k)
	for slot, d := range distances {
		c := candidate{distance: d, slot: slot}
		if len(h) < k {
			heap.Push(&h, c)
			continue
		}
		if less(c, h[0]) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}
	out := make([]candidate, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&h).(candidate)
	}
	return out
}
