package models

import (
	"fmt"
	"strings"
)

// Filters restricts search results. Zero-valued fields do not filter.
type Filters struct {
	ConditionLabel string `json:"condition_label,omitempty"`
}

// IsEmpty reports whether the filter accepts every case.
func (f *Filters) IsEmpty() bool {
	return f == nil || strings.TrimSpace(f.ConditionLabel) == ""
}

// Match reports whether c passes the filter. A nil filter matches everything.
func (f *Filters) Match(c *ReferenceCase) bool {
	if f.IsEmpty() {
		return true
	}
	if c == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(f.ConditionLabel), strings.TrimSpace(c.ConditionLabel))
}

// SearchQuery is a similarity search request: raw feature groups plus optional demographics.
type SearchQuery struct {
	RawFeatures  map[string][]float64 `json:"raw_features"`
	Demographics Demographics         `json:"demographics"`
	K            int                  `json:"k"`
	Filters      *Filters             `json:"filters,omitempty"`
	// Explain adds the per-field score breakdown to each result.
	Explain bool `json:"explain,omitempty"`
}

// Validate checks that the query can be served. K must be positive and at most maxK (when maxK > 0).
// It never modifies the query.
func (q *SearchQuery) Validate(maxK int) error {
	if q.K <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrInvalidQuery, q.K)
	}
	if maxK > 0 && q.K > maxK {
		return fmt.Errorf("%w: k must be at most %d, got %d", ErrInvalidQuery, maxK, q.K)
	}
	for name := range q.RawFeatures {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("%w: feature group with empty name", ErrInvalidQuery)
		}
	}
	return nil
}
