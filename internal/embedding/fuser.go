package embedding

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/hyperjump/dermamatch/internal/models"
)

// FuseInfo reports how the input deviated from the declared layout.
// Any padding, truncation or sanitizing marks the result low-confidence.
type FuseInfo struct {
	LowConfidence bool     `json:"low_confidence"`
	Padded        []string `json:"padded,omitempty"`
	Truncated     []string `json:"truncated,omitempty"`
	Sanitized     []string `json:"sanitized,omitempty"`
	// Unknown lists input groups that are not in the layout; they are ignored.
	Unknown  []string `json:"unknown,omitempty"`
	ZeroNorm bool     `json:"zero_norm,omitempty"`
	CacheHit bool     `json:"-"`
}

// Fuser concatenates raw feature groups into a fixed-dimension L2-normalized embedding.
type Fuser struct {
	layout *Layout
	cache  *FusionCache
	logger *zap.Logger
}

// FuserOption configures a Fuser.
type FuserOption func(*Fuser)

// WithCache memoizes fused vectors in c.
func WithCache(c *FusionCache) FuserOption {
	return func(f *Fuser) { f.cache = c }
}

// WithLogger sets a logger for low-confidence fusion events.
func WithLogger(l *zap.Logger) FuserOption {
	return func(f *Fuser) { f.logger = l }
}

// NewFuser creates a fuser for layout. It fails with ErrDimensionMismatch when the layout's
// total slice allocation differs from dimensions.
func NewFuser(layout *Layout, dimensions int, opts ...FuserOption) (*Fuser, error) {
	if layout == nil {
		return nil, fmt.Errorf("layout is required")
	}
	if layout.Dimensions() != dimensions {
		return nil, fmt.Errorf("%w: layout allocates %d components, embedding dimension is %d",
			models.ErrDimensionMismatch, layout.Dimensions(), dimensions)
	}
	f := &Fuser{layout: layout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Dimensions returns the output dimension.
func (f *Fuser) Dimensions() int {
	return f.layout.Dimensions()
}

// Cached reports whether fused vectors are memoized.
func (f *Fuser) Cached() bool {
	return f.cache != nil
}

// CacheEntries returns the number of memoized fused vectors.
func (f *Fuser) CacheEntries() int {
	if f.cache == nil {
		return 0
	}
	return f.cache.Len()
}

// Layout returns the fuser's declared-slice table.
func (f *Fuser) Layout() *Layout {
	return f.layout
}

// Fuse assembles features into a new embedding. Missing or short groups are zero-filled, long groups
// keep their first components, and the result is L2-normalized (a zero vector stays zero).
// A nil group counts as absent. features is never modified, and the returned slice is owned by the caller.
func (f *Fuser) Fuse(features map[string][]float64) ([]float32, FuseInfo) {
	if f.cache != nil {
		key := cacheKey(features)
		if vec, info, ok := f.cache.get(key); ok {
			info.CacheHit = true
			return vec, info
		}
		vec, info := f.fuse(features)
		f.cache.put(key, vec, info)
		return vec, info
	}
	return f.fuse(features)
}

func (f *Fuser) fuse(features map[string][]float64) ([]float32, FuseInfo) {
	var info FuseInfo
	buf := make([]float64, f.layout.Dimensions())
	for i, g := range f.layout.groups {
		offset := f.layout.offsets[i]
		values, present := features[g.Name]
		n := len(values)
		if n > g.Size {
			n = g.Size
			info.Truncated = append(info.Truncated, g.Name)
		}
		if !present || len(values) < g.Size {
			info.Padded = append(info.Padded, g.Name)
		}
		sanitized := false
		for j := 0; j < n; j++ {
			v, changed := g.Kind.sanitize(values[j])
			buf[offset+j] = v
			sanitized = sanitized || changed
		}
		if sanitized {
			info.Sanitized = append(info.Sanitized, g.Name)
		}
	}
	for name, values := range features {
		if values == nil {
			continue
		}
		if _, _, ok := f.layout.Slice(name); !ok {
			info.Unknown = append(info.Unknown, name)
		}
	}
	sort.Strings(info.Unknown)
	info.LowConfidence = len(info.Padded) > 0 || len(info.Truncated) > 0 || len(info.Sanitized) > 0

	norm := floats.Norm(buf, 2)
	out := make([]float32, len(buf))
	if norm == 0 {
		info.ZeroNorm = true
		return out, info
	}
	floats.Scale(1/norm, buf)
	for i, v := range buf {
		out[i] = float32(v)
	}
	if info.LowConfidence {
		f.logger.Debug("low-confidence fusion",
			zap.Strings("padded", info.Padded),
			zap.Strings("truncated", info.Truncated),
			zap.Strings("sanitized", info.Sanitized),
		)
	}
	return out, info
}
