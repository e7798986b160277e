package corpus

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/dermamatch/internal/models"
)

// LoadStats counts what a Load kept and why records were excluded.
type LoadStats struct {
	Total   int `json:"total"`
	Indexed int `json:"indexed"`
	// Skipped is the sum of every exclusion below.
	Skipped          int `json:"skipped"`
	SkippedMissingID int `json:"skipped_missing_id,omitempty"`
	SkippedNoVector  int `json:"skipped_no_embedding,omitempty"`
	SkippedDimension int `json:"skipped_dimension,omitempty"`
	SkippedInvalid   int `json:"skipped_invalid,omitempty"`
	// Duplicates counts records whose ID repeated an earlier one; the later record wins.
	Duplicates int `json:"duplicates,omitempty"`
}

// Adapter loads reference cases from a Source and keeps the last loaded set in memory.
type Adapter struct {
	source     Source
	dimensions int
	logger     *zap.Logger
	current    atomic.Pointer[snapshot]
}

type snapshot struct {
	cases []*models.ReferenceCase
	byID  map[string]*models.ReferenceCase
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// NewAdapter creates an adapter reading from source. Records whose embedding length is not
// dimensions are excluded.
func NewAdapter(source Source, dimensions int, opts ...Option) *Adapter {
	a := &Adapter{source: source, dimensions: dimensions, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Source returns the backing source.
func (a *Adapter) Source() Source {
	return a.source
}

// Load reads every record, excludes the ones that cannot be indexed, caches the result and
// returns it in source order. A source failure wraps models.ErrCorpusUnavailable and leaves
// the previously cached set in place.
func (a *Adapter) Load(ctx context.Context) ([]*models.ReferenceCase, LoadStats, error) {
	records, err := a.source.ReadAll(ctx)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("%w: %s source: %w", models.ErrCorpusUnavailable, a.source.Name(), err)
	}

	stats := LoadStats{Total: len(records)}
	snap := &snapshot{byID: make(map[string]*models.ReferenceCase, len(records))}
	position := make(map[string]int, len(records))
	for _, rec := range records {
		if rec == nil || rec.CaseID == "" {
			stats.SkippedMissingID++
			continue
		}
		switch {
		case !rec.HasEmbedding():
			stats.SkippedNoVector++
			continue
		case len(rec.Embedding) != a.dimensions:
			stats.SkippedDimension++
			a.logger.Debug("skipping case with wrong embedding dimension",
				zap.String("case_id", rec.CaseID),
				zap.Int("got", len(rec.Embedding)),
				zap.Int("expected", a.dimensions),
			)
			continue
		case !finite(rec.Embedding):
			stats.SkippedInvalid++
			continue
		}

		c := *rec
		c.Embedding = append([]float32(nil), rec.Embedding...)
		if i, dup := position[c.CaseID]; dup {
			stats.Duplicates++
			snap.cases[i] = &c
		} else {
			position[c.CaseID] = len(snap.cases)
			snap.cases = append(snap.cases, &c)
		}
		snap.byID[c.CaseID] = &c
	}
	stats.Skipped = stats.SkippedMissingID + stats.SkippedNoVector + stats.SkippedDimension + stats.SkippedInvalid
	stats.Indexed = len(snap.cases)

	a.current.Store(snap)
	a.logger.Info("reference corpus loaded",
		zap.String("source", a.source.Name()),
		zap.Int("total", stats.Total),
		zap.Int("indexed", stats.Indexed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("duplicates", stats.Duplicates),
	)
	return append([]*models.ReferenceCase(nil), snap.cases...), stats, nil
}

// GetCase returns a case from the last loaded set.
func (a *Adapter) GetCase(id string) (*models.ReferenceCase, error) {
	snap := a.current.Load()
	if snap == nil {
		return nil, fmt.Errorf("%w: %s (corpus not loaded)", models.ErrCaseNotFound, id)
	}
	c, ok := snap.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrCaseNotFound, id)
	}
	return c, nil
}

func finite(v []float32) bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
