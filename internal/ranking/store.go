package ranking

import (
	"sync"
	"sync/atomic"
)

// WeightStore holds the process-wide WeightConfig. Readers load a complete snapshot;
// writers build a new normalized value and swap it in, so no reader sees a partial update.
type WeightStore struct {
	current atomic.Pointer[WeightConfig]
	mu      sync.Mutex // serializes writers
}

// NewWeightStore creates a store holding initial after validating and re-normalizing it.
func NewWeightStore(initial WeightConfig) (*WeightStore, error) {
	cfg, err := NewWeightConfig(initial.DemographicWeight, initial.EthnicityWeight, initial.SkinTypeWeight, initial.AgeGroupWeight)
	if err != nil {
		return nil, err
	}
	s := &WeightStore{}
	s.current.Store(&cfg)
	return s, nil
}

// Snapshot returns the current configuration by value.
func (s *WeightStore) Snapshot() WeightConfig {
	return *s.current.Load()
}

// SetDemographicWeight replaces the demographic weight, keeping the component weights.
// On error the previous configuration stays in effect.
func (s *WeightStore) SetDemographicWeight(w float64) (WeightConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.Snapshot()
	next, err := NewWeightConfig(w, old.EthnicityWeight, old.SkinTypeWeight, old.AgeGroupWeight)
	if err != nil {
		return old, err
	}
	s.current.Store(&next)
	return next, nil
}

// SetComponentWeights replaces the three component weights, normalizing them to sum to 1.
// On error the previous configuration stays in effect.
func (s *WeightStore) SetComponentWeights(ethnicity, skinType, ageGroup float64) (WeightConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.Snapshot()
	next, err := NewWeightConfig(old.DemographicWeight, ethnicity, skinType, ageGroup)
	if err != nil {
		return old, err
	}
	s.current.Store(&next)
	return next, nil
}
