package search

import (
	"fmt"
	"sort"

	"github.com/hyperjump/dermamatch/internal/models"
	"github.com/hyperjump/dermamatch/internal/ranking"
	"github.com/hyperjump/dermamatch/internal/vector"
)

// candidate is one index hit after demographic weighting.
type candidate struct {
	c         *models.ReferenceCase
	distance  float64
	indexRank int
	score     float64
	breakdown models.ScoreBreakdown
}

// weigh scores every hit that passes filters. Hits must all be present in cases.
func weigh(hits []*vector.VectorResult, cases map[string]*models.ReferenceCase,
	demographics models.Demographics, filters *models.Filters, cfg ranking.WeightConfig) ([]*candidate, error) {
	out := make([]*candidate, 0, len(hits))
	for _, hit := range hits {
		c, ok := cases[hit.ID]
		if !ok {
			return nil, fmt.Errorf("%w: index entry %s has no reference case", models.ErrCaseNotFound, hit.ID)
		}
		if !filters.Match(c) {
			continue
		}
		score, breakdown := ranking.Score(hit.Distance, demographics, c.Demographics, cfg)
		out = append(out, &candidate{
			c:         c,
			distance:  hit.Distance,
			indexRank: hit.Rank,
			score:     score,
			breakdown: breakdown,
		})
	}
	return out, nil
}

// sortCandidates orders by score descending, then unclamped score descending, then distance
// ascending, then index rank ascending.
func sortCandidates(cands []*candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.breakdown.Raw != b.breakdown.Raw {
			return a.breakdown.Raw > b.breakdown.Raw
		}
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		return a.indexRank < b.indexRank
	})
}

// toResults truncates to k and assigns final ranks 1..k.
func toResults(cands []*candidate, k int, explain bool) []*models.SearchResult {
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]*models.SearchResult, len(cands))
	for i, cand := range cands {
		r := &models.SearchResult{
			CaseID:          cand.c.CaseID,
			ConditionLabel:  cand.c.ConditionLabel,
			Distance:        cand.distance,
			SimilarityScore: cand.score,
			Rank:            i + 1,
		}
		if explain {
			b := cand.breakdown
			r.Breakdown = &b
		}
		out[i] = r
	}
	return out
}
