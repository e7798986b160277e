package ranking

import (
	"math"

	"github.com/hyperjump/dermamatch/internal/models"
)

// Score blends vector distance with demographic agreement:
//
//	base      = clamp(1 - distance, 0, 1)
//	agreement = sum(w_i * match_i) / sum(w_i) over fields populated in both query and case
//	score     = clamp(base + cfg.DemographicWeight*agreement, 0, 1)
//
// It is pure: the weights are passed in, never read from shared state.
func Score(distance float64, query, candidate models.Demographics, cfg WeightConfig) (float64, models.ScoreBreakdown) {
	breakdown := models.ScoreBreakdown{BaseSimilarity: BaseSimilarity(distance)}

	var compared, matched float64
	for _, field := range models.DemographicFields {
		qv, ok := query.Get(field)
		if !ok {
			continue
		}
		cv, ok := candidate.Get(field)
		if !ok {
			continue
		}
		w := cfg.Component(field)
		compared += w
		fm := models.FieldMatch{Field: field, Matched: qv == cv, Weight: w}
		if fm.Matched {
			matched += w
		}
		breakdown.Fields = append(breakdown.Fields, fm)
	}
	if compared > 0 {
		breakdown.Agreement = matched / compared
		for i := range breakdown.Fields {
			breakdown.Fields[i].Weight /= compared
		}
	} else {
		for i := range breakdown.Fields {
			breakdown.Fields[i].Weight = 0
		}
	}
	breakdown.Bonus = cfg.DemographicWeight * breakdown.Agreement
	breakdown.Raw = breakdown.BaseSimilarity + breakdown.Bonus
	return clamp01(breakdown.Raw), breakdown
}

// BaseSimilarity converts a cosine distance to a similarity in [0,1]. NaN maps to 0.
func BaseSimilarity(distance float64) float64 {
	if math.IsNaN(distance) {
		return 0
	}
	return clamp01(1 - distance)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
