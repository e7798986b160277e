package ranking

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/dermamatch/internal/models"
)

func TestScore_NoDemographics(t *testing.T) {
	cfg := DefaultWeightConfig()
	score, bd := Score(0.25, models.Demographics{}, models.Demographics{Ethnicity: "a"}, cfg)
	assert.InDelta(t, 0.75, score, 1e-12)
	assert.Equal(t, 0.0, bd.Agreement)
	assert.Equal(t, 0.0, bd.Bonus)
	assert.Empty(t, bd.Fields)
}

func TestScore_IntersectionRenormalized(t *testing.T) {
	cfg, err := NewWeightConfig(0.5, 0.5, 0.25, 0.25)
	require.NoError(t, err)

	query := models.Demographics{Ethnicity: "A", SkinType: "III"}
	candidate := models.Demographics{Ethnicity: "a", SkinType: "IV", AgeGroup: "30-39"}
	score, bd := Score(0.5, query, candidate, cfg)

	// Only ethnicity and skin type are compared: weights 0.5 and 0.25 renormalize to 2/3 and 1/3.
	require.Len(t, bd.Fields, 2)
	assert.Equal(t, models.FieldEthnicity, bd.Fields[0].Field)
	assert.True(t, bd.Fields[0].Matched)
	assert.InDelta(t, 2.0/3.0, bd.Fields[0].Weight, 1e-12)
	assert.False(t, bd.Fields[1].Matched)
	assert.InDelta(t, 1.0/3.0, bd.Fields[1].Weight, 1e-12)
	assert.InDelta(t, 2.0/3.0, bd.Agreement, 1e-12)
	assert.InDelta(t, 0.5*2.0/3.0, bd.Bonus, 1e-12)
	assert.InDelta(t, 0.5+0.5*2.0/3.0, score, 1e-12)
}

func TestScore_ZeroWeightIntersection(t *testing.T) {
	cfg, err := NewWeightConfig(1, 1, 0, 0)
	require.NoError(t, err)
	// Only age group is shared, and it carries no weight.
	score, bd := Score(0.4, models.Demographics{AgeGroup: "adult"}, models.Demographics{AgeGroup: "adult"}, cfg)
	assert.Equal(t, 0.0, bd.Agreement)
	assert.InDelta(t, 0.6, score, 1e-12)
}

func TestScore_ClampAfterSum(t *testing.T) {
	cfg, err := NewWeightConfig(1, 1, 1, 1)
	require.NoError(t, err)
	d := models.Demographics{Ethnicity: "x", SkinType: "y", AgeGroup: "z"}
	score, bd := Score(0.1, d, d, cfg)
	assert.Equal(t, 1.0, score)
	assert.InDelta(t, 1.9, bd.Raw, 1e-12)

	score, _ = Score(1.8, models.Demographics{}, models.Demographics{}, cfg)
	assert.Equal(t, 0.0, score, "opposite vectors clamp to zero")

	score, _ = Score(math.NaN(), d, d, cfg)
	assert.Equal(t, 1.0, score)
	assert.False(t, math.IsNaN(score))
}

func TestScore_MonotonicInDistance(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	cfg := DefaultWeightConfig()
	q := models.Demographics{Ethnicity: "a", SkinType: "ii"}
	c := models.Demographics{Ethnicity: "a", SkinType: "iv"}
	prev := math.Inf(1)
	for d := 0.0; d <= 2.0; d += 0.01 + rng.Float64()*0.01 {
		s, _ := Score(d, q, c, cfg)
		assert.LessOrEqual(t, s, prev, "score must not increase with distance (d=%v)", d)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
		prev = s
	}
}

func TestScore_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	values := []string{"", "a", "b", "c"}
	pick := func() string { return values[rng.Intn(len(values))] }
	for i := 0; i < 200; i++ {
		cfg, err := NewWeightConfig(rng.Float64(), rng.Float64()+0.01, rng.Float64(), rng.Float64())
		require.NoError(t, err)
		q := models.Demographics{Ethnicity: pick(), SkinType: pick(), AgeGroup: pick()}
		c := models.Demographics{Ethnicity: pick(), SkinType: pick(), AgeGroup: pick()}
		d := rng.Float64() * 2
		s1, b1 := Score(d, q, c, cfg)
		s2, b2 := Score(d, q, c, cfg)
		assert.Equal(t, s1, s2)
		assert.Equal(t, b1, b2)
	}
}

// Equal distance, demographic_weight=1, ethnicity_weight=1: matching cases must outscore the rest.
func TestScore_EthnicityOnlyWeighting(t *testing.T) {
	cfg, err := NewWeightConfig(1, 1, 0, 0)
	require.NoError(t, err)
	q := models.Demographics{Ethnicity: "A"}
	sA, bA := Score(0.3, q, models.Demographics{Ethnicity: "A"}, cfg)
	sB, bB := Score(0.3, q, models.Demographics{Ethnicity: "B"}, cfg)
	assert.Greater(t, sA, sB)
	assert.Greater(t, bA.Raw, bB.Raw)

	// Saturated: both clamp to 1, the raw blend still separates them.
	sA, bA = Score(0, q, models.Demographics{Ethnicity: "A"}, cfg)
	sB, bB = Score(0, q, models.Demographics{Ethnicity: "B"}, cfg)
	assert.Equal(t, sA, sB)
	assert.Greater(t, bA.Raw, bB.Raw)
}
