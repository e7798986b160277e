// Package ranking provides demographic-aware similarity scoring.
package ranking

import (
	"fmt"
	"math"

	"github.com/hyperjump/dermamatch/internal/models"
)

// weightTolerance bounds the drift allowed when checking that component weights sum to 1.
const weightTolerance = 1e-9

// WeightConfig holds the demographic blend weights. The three component weights always sum to 1.
type WeightConfig struct {
	// DemographicWeight scales the agreement bonus added to the vector similarity, in [0,1].
	DemographicWeight float64 `yaml:"demographic" json:"demographic_weight"`
	EthnicityWeight   float64 `yaml:"ethnicity" json:"ethnicity_weight"`
	SkinTypeWeight    float64 `yaml:"skin_type" json:"skin_type_weight"`
	AgeGroupWeight    float64 `yaml:"age_group" json:"age_group_weight"`
}

// DefaultWeightConfig returns the default blend weights.
func DefaultWeightConfig() WeightConfig {
	return WeightConfig{
		DemographicWeight: 0.2,
		EthnicityWeight:   0.4,
		SkinTypeWeight:    0.4,
		AgeGroupWeight:    0.2,
	}
}

// NewWeightConfig validates the inputs and returns a config with component weights normalized to sum to 1.
func NewWeightConfig(demographic, ethnicity, skinType, ageGroup float64) (WeightConfig, error) {
	if err := checkDemographicWeight(demographic); err != nil {
		return WeightConfig{}, err
	}
	e, s, a, err := normalizeComponents(ethnicity, skinType, ageGroup)
	if err != nil {
		return WeightConfig{}, err
	}
	return WeightConfig{DemographicWeight: demographic, EthnicityWeight: e, SkinTypeWeight: s, AgeGroupWeight: a}, nil
}

// Component returns the weight of one demographic field.
func (c WeightConfig) Component(field models.DemographicField) float64 {
	switch field {
	case models.FieldEthnicity:
		return c.EthnicityWeight
	case models.FieldSkinType:
		return c.SkinTypeWeight
	case models.FieldAgeGroup:
		return c.AgeGroupWeight
	default:
		return 0
	}
}

// Validate reports whether c is usable as-is: finite, non-negative, and normalized.
func (c WeightConfig) Validate() error {
	if err := checkDemographicWeight(c.DemographicWeight); err != nil {
		return err
	}
	sum := 0.0
	for _, w := range []float64{c.EthnicityWeight, c.SkinTypeWeight, c.AgeGroupWeight} {
		if err := checkComponent(w); err != nil {
			return err
		}
		sum += w
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("%w: component weights sum to %v, want 1", models.ErrInvalidWeightConfig, sum)
	}
	return nil
}

func checkDemographicWeight(w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 || w > 1 {
		return fmt.Errorf("%w: demographic weight must be in [0,1], got %v", models.ErrInvalidWeightConfig, w)
	}
	return nil
}

func checkComponent(w float64) error {
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return fmt.Errorf("%w: component weight must be finite and non-negative, got %v", models.ErrInvalidWeightConfig, w)
	}
	return nil
}

func normalizeComponents(ethnicity, skinType, ageGroup float64) (float64, float64, float64, error) {
	for _, w := range []float64{ethnicity, skinType, ageGroup} {
		if err := checkComponent(w); err != nil {
			return 0, 0, 0, err
		}
	}
	sum := ethnicity + skinType + ageGroup
	if sum == 0 {
		return 0, 0, 0, fmt.Errorf("%w: component weights must not all be zero", models.ErrInvalidWeightConfig)
	}
	if math.IsInf(sum, 0) {
		return 0, 0, 0, fmt.Errorf("%w: component weights overflow", models.ErrInvalidWeightConfig)
	}
	return ethnicity / sum, skinType / sum, ageGroup / sum, nil
}
