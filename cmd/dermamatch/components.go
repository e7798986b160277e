package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/dermamatch/internal/config"
	"github.com/hyperjump/dermamatch/internal/corpus"
	"github.com/hyperjump/dermamatch/internal/embedding"
	"github.com/hyperjump/dermamatch/internal/ingest"
	"github.com/hyperjump/dermamatch/internal/metrics"
	"github.com/hyperjump/dermamatch/internal/ranking"
	"github.com/hyperjump/dermamatch/internal/search"
	"github.com/hyperjump/dermamatch/internal/storage"
	"github.com/hyperjump/dermamatch/internal/vector"
	"github.com/hyperjump/dermamatch/internal/watcher"
)

// Components holds the wired services for one process.
type Components struct {
	Storage  *storage.SQLiteStorage
	Adapter  *corpus.Adapter
	Fuser    *embedding.Fuser
	Weights  *ranking.WeightStore
	Engine   *search.Engine
	Importer *ingest.Importer
}

// Close releases the database handle.
func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	metrics.RegisterSearchMetrics()

	// The case database is always opened: it backs the sqlite corpus and the importer.
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	source, err := corpus.NewSource(cfg.Corpus.Source, cfg.Corpus.FilePath, store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize corpus source: %w", err)
	}
	dims := cfg.Embedding.Dimensions
	adapter := corpus.NewAdapter(source, dims, corpus.WithLogger(logger))

	layout, err := cfg.Embedding.Layout()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("invalid embedding layout: %w", err)
	}
	fuserOpts := []embedding.FuserOption{embedding.WithLogger(logger)}
	if cfg.Embedding.CacheSize > 0 {
		cache, err := embedding.NewFusionCache(cfg.Embedding.CacheSize)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize fusion cache: %w", err)
		}
		fuserOpts = append(fuserOpts, embedding.WithCache(cache))
	}
	fuser, err := embedding.NewFuser(layout, dims, fuserOpts...)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize fuser: %w", err)
	}

	initial, err := cfg.Weights.WeightConfig()
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("invalid weights: %w", err)
	}
	weights, err := ranking.NewWeightStore(initial)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	newIndex, err := vector.Builder(cfg.Vector.IndexType, dims)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}

	engine := search.NewEngine(fuser, adapter, weights, newIndex, cfg.Search,
		search.WithLogger(logger),
		search.WithIndexPath(cfg.Storage.IndexPath),
	)
	logger.Info("engine initialized",
		zap.String("corpus_source", source.Name()),
		zap.String("index_type", cfg.Vector.IndexType),
		zap.Int("dimensions", dims),
		zap.Int("fusion_cache", cfg.Embedding.CacheSize),
	)

	return &Components{
		Storage:  store,
		Adapter:  adapter,
		Fuser:    fuser,
		Weights:  weights,
		Engine:   engine,
		Importer: ingest.NewImporter(store, dims, logger),
	}, nil
}

// corpusWatcher returns a watcher when the corpus is a watched file, or nil.
func corpusWatcher(cfg *config.Config, c *Components, logger *zap.Logger) (*watcher.Watcher, error) {
	if !cfg.Corpus.Watch || cfg.Corpus.Source != corpus.SourceFile {
		return nil, nil
	}
	return watcher.NewWatcher(cfg.Corpus.FilePath, rebuildFunc(c.Engine),
		watcher.WithLogger(logger),
		watcher.WithDebounce(time.Duration(cfg.Corpus.WatchDebounceMs)*time.Millisecond),
	)
}

func rebuildFunc(engine *search.Engine) watcher.ReloadFunc {
	return func(ctx context.Context) error {
		_, err := engine.Rebuild(ctx)
		return err
	}
}
