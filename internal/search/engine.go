// Package search runs demographic-aware similarity search over the reference corpus.
package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/dermamatch/internal/config"
	"github.com/hyperjump/dermamatch/internal/corpus"
	"github.com/hyperjump/dermamatch/internal/embedding"
	"github.com/hyperjump/dermamatch/internal/metrics"
	"github.com/hyperjump/dermamatch/internal/models"
	"github.com/hyperjump/dermamatch/internal/ranking"
	"github.com/hyperjump/dermamatch/internal/vector"
)

// Engine answers similarity queries against an immutable snapshot of the index and the case
// table it was built from. Rebuilds construct a new snapshot and swap it in whole.
type Engine struct {
	fuser     *embedding.Fuser
	adapter   *corpus.Adapter
	weights   *ranking.WeightStore
	newIndex  func() (vector.VectorIndex, error)
	config    config.SearchConfig
	indexPath string
	logger    *zap.Logger

	current   atomic.Pointer[snapshot]
	rebuildMu sync.Mutex
}

type snapshot struct {
	index   vector.VectorIndex
	cases   map[string]*models.ReferenceCase
	report  models.RebuildReport
	builtAt time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithIndexPath saves every rebuilt index to path.
func WithIndexPath(path string) Option {
	return func(e *Engine) { e.indexPath = path }
}

// NewEngine creates an engine. It serves no queries until the first successful Rebuild.
func NewEngine(
	fuser *embedding.Fuser,
	adapter *corpus.Adapter,
	weights *ranking.WeightStore,
	newIndex func() (vector.VectorIndex, error),
	cfg config.SearchConfig,
	opts ...Option,
) *Engine {
	if cfg.OverfetchFactor < 1 {
		cfg.OverfetchFactor = 1
	}
	e := &Engine{
		fuser:    fuser,
		adapter:  adapter,
		weights:  weights,
		newIndex: newIndex,
		config:   cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FindSimilar fuses the query features, fetches k' = max(k*factor, k) nearest cases, re-scores
// them with the current demographic weights and returns the top k. With a filter that leaves
// fewer than k matches, the fetch grows by the over-fetch factor for up to
// MaxOverfetchRounds more rounds before the response is marked partial.
func (e *Engine) FindSimilar(ctx context.Context, query *models.SearchQuery) (resp *models.SearchResponse, err error) {
	start := time.Now()
	defer func() { e.observeSearch(start, resp, err) }()

	// RECEIVED
	if query == nil {
		return nil, e.fail(StageReceived, fmt.Errorf("%w: nil query", models.ErrInvalidQuery))
	}
	if err := query.Validate(e.config.MaxK); err != nil {
		return nil, e.fail(StageReceived, err)
	}
	snap := e.current.Load()
	if snap == nil {
		return nil, e.fail(StageReceived, models.ErrSearchUnavailable)
	}
	weights := e.weights.Snapshot()

	// FUSED
	if err := ctx.Err(); err != nil {
		return nil, e.fail(StageFused, err)
	}
	vec, info := e.fuser.Fuse(query.RawFeatures)
	if len(vec) != snap.index.Dimensions() {
		return nil, e.fail(StageFused, fmt.Errorf("%w: query embedding has %d components, index expects %d",
			models.ErrDimensionMismatch, len(vec), snap.index.Dimensions()))
	}
	if e.fuser.Cached() {
		if info.CacheHit {
			metrics.FusionCacheTotal.WithLabelValues("hit").Inc()
		} else {
			metrics.FusionCacheTotal.WithLabelValues("miss").Inc()
		}
	}

	// INDEX_QUERIED and WEIGHTED, repeated while a filter starves the result.
	k := query.K
	fetch := max(k*e.config.OverfetchFactor, k)
	growth := max(e.config.OverfetchFactor, 2)
	rounds := 0
	var (
		cands []*candidate
		hits  []*vector.VectorResult
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, e.fail(StageIndexQueried, err)
		}
		hits, err = snap.index.Search(ctx, vec, fetch)
		if err != nil {
			return nil, e.fail(StageIndexQueried, err)
		}
		cands, err = weigh(hits, snap.cases, query.Demographics, query.Filters, weights)
		if err != nil {
			return nil, e.fail(StageWeighted, err)
		}
		exhausted := len(hits) >= snap.index.Size()
		if query.Filters.IsEmpty() || len(cands) >= k || exhausted || rounds >= e.config.MaxOverfetchRounds {
			break
		}
		rounds++
		fetch *= growth
	}

	// SORTED
	if err := ctx.Err(); err != nil {
		return nil, e.fail(StageSorted, err)
	}
	sortCandidates(cands)

	// RETURNED
	resp = &models.SearchResponse{
		Results:         toResults(cands, k, query.Explain),
		PartialResults:  !query.Filters.IsEmpty() && len(cands) < k,
		LowConfidence:   info.LowConfidence,
		OverFetchRounds: rounds,
		Candidates:      len(hits),
		QueryTime:       time.Since(start).Milliseconds(),
	}
	return resp, nil
}

func (e *Engine) fail(stage Stage, err error) error {
	e.logger.Debug("search failed", zap.String("stage", string(stage)), zap.Error(err))
	return &StageError{Stage: stage, Err: err}
}

func (e *Engine) observeSearch(start time.Time, resp *models.SearchResponse, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		var se *StageError
		if errors.As(err, &se) {
			metrics.SearchStageFailuresTotal.WithLabelValues(string(se.Stage)).Inc()
		}
	}
	metrics.SearchDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	if resp != nil {
		if resp.PartialResults {
			metrics.SearchPartialResultsTotal.Inc()
		}
		if resp.LowConfidence {
			metrics.SearchLowConfidenceTotal.Inc()
		}
	}
}

// Rebuild reloads the corpus, builds a new index from it and swaps it in. Rebuilds are
// serialized. If the corpus cannot be loaded the current snapshot, if any, stays live.
func (e *Engine) Rebuild(ctx context.Context) (*models.RebuildReport, error) {
	e.rebuildMu.Lock()
	defer e.rebuildMu.Unlock()

	start := time.Now()
	report, err := e.rebuild(ctx, start)
	metrics.RebuildDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RebuildsTotal.WithLabelValues("failed").Inc()
		e.logger.Error("rebuild failed", zap.Error(err), zap.Bool("serving_previous", e.current.Load() != nil))
		return nil, err
	}
	metrics.RebuildsTotal.WithLabelValues("ok").Inc()
	metrics.RebuildSkippedRecords.Set(float64(report.SkippedRecords))
	metrics.IndexSize.Set(float64(report.IndexedRecords))
	e.logger.Info("index rebuilt",
		zap.Int("total", report.TotalRecords),
		zap.Int("indexed", report.IndexedRecords),
		zap.Int("skipped", report.SkippedRecords),
		zap.Int64("duration_ms", report.Duration),
	)
	return report, nil
}

func (e *Engine) rebuild(ctx context.Context, start time.Time) (*models.RebuildReport, error) {
	cases, stats, err := e.adapter.Load(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := e.newIndex()
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	ids := make([]string, len(cases))
	vectors := make([][]float32, len(cases))
	byID := make(map[string]*models.ReferenceCase, len(cases))
	for i, c := range cases {
		ids[i] = c.CaseID
		vectors[i] = c.Embedding
		byID[c.CaseID] = c
	}
	if err := idx.Add(ctx, ids, vectors); err != nil {
		_ = idx.Close()
		return nil, fmt.Errorf("failed to index corpus: %w", err)
	}

	snap := &snapshot{
		index: idx,
		cases: byID,
		report: models.RebuildReport{
			TotalRecords:   stats.Total,
			IndexedRecords: idx.Size(),
			SkippedRecords: stats.Total - idx.Size(),
			Duration:       time.Since(start).Milliseconds(),
		},
		builtAt: time.Now(),
	}
	// The previous index may still serve in-flight searches, so it is left to the GC.
	e.current.Store(snap)

	if err := idx.Save(e.indexPath); err != nil {
		e.logger.Warn("failed to persist index", zap.String("path", e.indexPath), zap.Error(err))
	}
	report := snap.report
	return &report, nil
}

// Ready reports whether a snapshot is being served.
func (e *Engine) Ready() bool {
	return e.current.Load() != nil
}

// GetCase returns a reference case from the loaded corpus.
func (e *Engine) GetCase(id string) (*models.ReferenceCase, error) {
	if e.current.Load() == nil {
		return nil, models.ErrSearchUnavailable
	}
	return e.adapter.GetCase(id)
}

// SetDemographicWeight replaces the demographic weight. Searches already running keep the
// weights they started with.
func (e *Engine) SetDemographicWeight(w float64) (ranking.WeightConfig, error) {
	cfg, err := e.weights.SetDemographicWeight(w)
	if err == nil {
		e.logger.Info("demographic weight updated", zap.Float64("demographic_weight", cfg.DemographicWeight))
	}
	return cfg, err
}

// SetComponentWeights replaces the ethnicity, skin type and age group weights; they are
// normalized to sum to 1.
func (e *Engine) SetComponentWeights(ethnicity, skinType, ageGroup float64) (ranking.WeightConfig, error) {
	cfg, err := e.weights.SetComponentWeights(ethnicity, skinType, ageGroup)
	if err == nil {
		e.logger.Info("component weights updated",
			zap.Float64("ethnicity", cfg.EthnicityWeight),
			zap.Float64("skin_type", cfg.SkinTypeWeight),
			zap.Float64("age_group", cfg.AgeGroupWeight),
		)
	}
	return cfg, err
}

// Configuration returns the current weight configuration.
func (e *Engine) Configuration() ranking.WeightConfig {
	return e.weights.Snapshot()
}

// FeatureGroup describes one raw feature group a query may carry.
type FeatureGroup struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Size int    `json:"size"`
}

// FeatureGroups lists the groups of layout in fused order.
func FeatureGroups(layout *embedding.Layout) []FeatureGroup {
	groups := layout.Groups()
	out := make([]FeatureGroup, len(groups))
	for i, g := range groups {
		out[i] = FeatureGroup{Name: g.Name, Kind: g.Kind.String(), Size: g.Size}
	}
	return out
}

// Status describes the live snapshot.
type Status struct {
	Ready         bool                  `json:"ready"`
	CorpusSource  string                `json:"corpus_source,omitempty"`
	IndexType     string                `json:"index_type,omitempty"`
	IndexSize     int                   `json:"index_size"`
	Dimensions    int                   `json:"dimensions"`
	FeatureGroups []FeatureGroup        `json:"feature_groups,omitempty"`
	CachedFusions int                   `json:"cached_fusions"`
	BuiltAt       *time.Time            `json:"built_at,omitempty"`
	LastRebuild   *models.RebuildReport `json:"last_rebuild,omitempty"`
	Weights       ranking.WeightConfig  `json:"weights"`
}

// Status returns a description of the live snapshot and weights.
func (e *Engine) Status() Status {
	st := Status{
		CorpusSource:  e.adapter.Source().Name(),
		Dimensions:    e.fuser.Dimensions(),
		FeatureGroups: FeatureGroups(e.fuser.Layout()),
		CachedFusions: e.fuser.CacheEntries(),
		Weights:       e.weights.Snapshot(),
	}
	snap := e.current.Load()
	if snap == nil {
		return st
	}
	report := snap.report
	builtAt := snap.builtAt
	st.Ready = true
	st.IndexType = snap.index.Type()
	st.IndexSize = snap.index.Size()
	st.BuiltAt = &builtAt
	st.LastRebuild = &report
	return st
}
