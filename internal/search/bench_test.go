package search

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/hyperjump/dermamatch/internal/corpus"
	"github.com/hyperjump/dermamatch/internal/embedding"
	"github.com/hyperjump/dermamatch/internal/models"
	"github.com/hyperjump/dermamatch/internal/ranking"
	"github.com/hyperjump/dermamatch/internal/vector"
)

func benchEngine(b *testing.B, n, dim int) *Engine {
	b.Helper()
	rng := rand.New(rand.NewSource(3))
	skinTypes := []string{"I", "II", "III", "IV", "V", "VI"}
	cases := make([]*models.ReferenceCase, n)
	for i := range cases {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()
		}
		cases[i] = &models.ReferenceCase{
			CaseID:         fmt.Sprintf("case-%d", i),
			ConditionLabel: fmt.Sprintf("condition-%d", i%20),
			Demographics:   models.Demographics{SkinType: skinTypes[i%len(skinTypes)]},
			Embedding:      v,
		}
	}
	layout, err := embedding.NewLayout([]embedding.Group{{Name: group, Kind: embedding.KindFacialGeometry, Size: dim}})
	if err != nil {
		b.Fatal(err)
	}
	fuser, err := embedding.NewFuser(layout, dim)
	if err != nil {
		b.Fatal(err)
	}
	weights, err := ranking.NewWeightStore(ranking.DefaultWeightConfig())
	if err != nil {
		b.Fatal(err)
	}
	builder, err := vector.Builder(vector.IndexTypeMemory, dim)
	if err != nil {
		b.Fatal(err)
	}
	e := NewEngine(fuser, corpus.NewAdapter(&mutableSource{cases: cases}, dim), weights, builder, testSearchConfig())
	if _, err := e.Rebuild(context.Background()); err != nil {
		b.Fatal(err)
	}
	return e
}

func benchQuery(dim, k int, filter string) *models.SearchQuery {
	raw := make([]float64, dim)
	for i := range raw {
		raw[i] = float64(i%7) / 7
	}
	q := &models.SearchQuery{
		RawFeatures:  map[string][]float64{group: raw},
		Demographics: models.Demographics{SkinType: "IV"},
		K:            k,
	}
	if filter != "" {
		q.Filters = &models.Filters{ConditionLabel: filter}
	}
	return q
}

func BenchmarkFindSimilar(b *testing.B) {
	e := benchEngine(b, 5000, 512)
	ctx := context.Background()
	q := benchQuery(512, 10, "")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.FindSimilar(ctx, q); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkFindSimilar_Filtered(b *testing.B) {
	e := benchEngine(b, 5000, 512)
	ctx := context.Background()
	q := benchQuery(512, 10, "condition-3")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.FindSimilar(ctx, q); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRebuild(b *testing.B) {
	e := benchEngine(b, 2000, 512)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Rebuild(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
