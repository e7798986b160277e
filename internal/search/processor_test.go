package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/dermamatch/internal/models"
)

func TestProcessQuery(t *testing.T) {
	cfg := testSearchConfig()

	q := &models.SearchQuery{Filters: &models.Filters{ConditionLabel: "  "}}
	require.NoError(t, ProcessQuery(q, cfg))
	assert.Equal(t, cfg.DefaultK, q.K)
	assert.Nil(t, q.Filters, "blank filter is dropped")

	q = &models.SearchQuery{K: 4, Filters: &models.Filters{ConditionLabel: " acne "}}
	require.NoError(t, ProcessQuery(q, cfg))
	assert.Equal(t, 4, q.K)
	assert.Equal(t, "acne", q.Filters.ConditionLabel)

	err := ProcessQuery(&models.SearchQuery{K: cfg.MaxK + 1}, cfg)
	assert.ErrorIs(t, err, models.ErrInvalidQuery)
}

func TestSortCandidates_TieBreaks(t *testing.T) {
	mk := func(id string, score, raw, dist float64, rank int) *candidate {
		return &candidate{
			c:         &models.ReferenceCase{CaseID: id},
			score:     score,
			distance:  dist,
			indexRank: rank,
			breakdown: models.ScoreBreakdown{Raw: raw},
		}
	}
	cands := []*candidate{
		mk("rank", 0.5, 0.5, 0.5, 4),
		mk("dist", 0.5, 0.5, 0.4, 5),
		mk("raw", 1, 1.2, 0.1, 3),
		mk("top", 1, 1.5, 0.2, 2),
		mk("first", 0.5, 0.5, 0.5, 1),
	}
	sortCandidates(cands)
	var got []string
	for _, c := range cands {
		got = append(got, c.c.CaseID)
	}
	assert.Equal(t, []string{"top", "raw", "dist", "first", "rank"}, got)

	results := toResults(cands, 2, false)
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[1].Rank)
	assert.Nil(t, results[0].Breakdown)
}
