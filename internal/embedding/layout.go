// Package embedding fuses heterogeneous raw feature groups into one normalized embedding.
package embedding

import (
	"fmt"
	"math"
	"strings"
)

// GroupKind is the closed set of raw feature group kinds the fuser understands.
type GroupKind int

const (
	// KindFacialGeometry is a vision backbone / landmark geometry feature vector.
	KindFacialGeometry GroupKind = iota + 1
	// KindColorHistogram is a non-negative color histogram.
	KindColorHistogram
	// KindTexture is a texture descriptor (e.g. LBP or Gabor responses).
	KindTexture
	// KindConditionScores holds per-condition classifier probabilities in [0,1].
	KindConditionScores
)

// String returns the configuration name of the kind.
func (k GroupKind) String() string {
	switch k {
	case KindFacialGeometry:
		return "facial_geometry"
	case KindColorHistogram:
		return "color_histogram"
	case KindTexture:
		return "texture"
	case KindConditionScores:
		return "condition_scores"
	default:
		return "unknown"
	}
}

// ParseGroupKind parses a kind name as written in configuration.
func ParseGroupKind(s string) (GroupKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "facial_geometry":
		return KindFacialGeometry, nil
	case "color_histogram":
		return KindColorHistogram, nil
	case "texture":
		return KindTexture, nil
	case "condition_scores":
		return KindConditionScores, nil
	default:
		return 0, fmt.Errorf("unknown feature group kind %q", s)
	}
}

// sanitize coerces one component into the kind's valid domain and reports whether it changed.
// Non-finite values become 0 for every kind.
func (k GroupKind) sanitize(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, true
	}
	switch k {
	case KindColorHistogram:
		if v < 0 {
			return 0, true
		}
	case KindConditionScores:
		if v < 0 {
			return 0, true
		}
		if v > 1 {
			return 1, true
		}
	}
	return v, false
}

// Group declares one feature group and the size of its slice of the fused vector.
type Group struct {
	Name string    `yaml:"name"`
	Kind GroupKind `yaml:"-"`
	Size int       `yaml:"size"`
}

// Layout is the declared-slice table: groups in output order with their offsets.
type Layout struct {
	groups  []Group
	offsets []int
	byName  map[string]int
	dim     int
}

// NewLayout validates groups (unique non-empty names, known kinds, positive sizes) and builds a layout.
func NewLayout(groups []Group) (*Layout, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("layout needs at least one feature group")
	}
	l := &Layout{
		groups:  make([]Group, len(groups)),
		offsets: make([]int, len(groups)),
		byName:  make(map[string]int, len(groups)),
	}
	for i, g := range groups {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			return nil, fmt.Errorf("feature group %d has no name", i)
		}
		if _, dup := l.byName[name]; dup {
			return nil, fmt.Errorf("duplicate feature group %q", name)
		}
		if g.Kind.String() == "unknown" {
			return nil, fmt.Errorf("feature group %q has unknown kind", name)
		}
		if g.Size <= 0 {
			return nil, fmt.Errorf("feature group %q must have a positive size, got %d", name, g.Size)
		}
		g.Name = name
		l.groups[i] = g
		l.offsets[i] = l.dim
		l.byName[name] = i
		l.dim += g.Size
	}
	return l, nil
}

// DefaultGroups returns the standard four-group table for dim: three quarters facial geometry,
// one eighth color histogram, three thirty-seconds texture, and the rest condition scores.
// For dim=2048 that is 1536/256/192/64.
func DefaultGroups(dim int) []Group {
	facial := dim * 3 / 4
	color := dim / 8
	texture := dim * 3 / 32
	scores := dim - facial - color - texture
	return []Group{
		{Name: KindFacialGeometry.String(), Kind: KindFacialGeometry, Size: facial},
		{Name: KindColorHistogram.String(), Kind: KindColorHistogram, Size: color},
		{Name: KindTexture.String(), Kind: KindTexture, Size: texture},
		{Name: KindConditionScores.String(), Kind: KindConditionScores, Size: scores},
	}
}

// Dimensions returns the total slice allocation.
func (l *Layout) Dimensions() int {
	return l.dim
}

// Groups returns a copy of the declared groups in output order.
func (l *Layout) Groups() []Group {
	return append([]Group(nil), l.groups...)
}

// Slice returns the [start, end) range of the named group and whether it is declared.
func (l *Layout) Slice(name string) (int, int, bool) {
	i, ok := l.byName[name]
	if !ok {
		return 0, 0, false
	}
	return l.offsets[i], l.offsets[i] + l.groups[i].Size, true
}
