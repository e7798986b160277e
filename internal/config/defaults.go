package config

import (
	"github.com/hyperjump/dermamatch/internal/ranking"
	"github.com/hyperjump/dermamatch/internal/vector"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/dermamatch/data/db/cases.db"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 2048
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1024
	}
	if cfg.Vector.IndexType == "" {
		cfg.Vector.IndexType = vector.IndexTypeMemory
	}
	if cfg.Corpus.Source == "" {
		cfg.Corpus.Source = "sqlite"
	}
	if cfg.Corpus.WatchDebounceMs == 0 {
		cfg.Corpus.WatchDebounceMs = 500
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 10
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Search.OverfetchFactor == 0 {
		cfg.Search.OverfetchFactor = 3
	}
	// Zero is a valid round count and demographic weight, so both use -1 for "unset".
	if cfg.Search.MaxOverfetchRounds < 0 {
		cfg.Search.MaxOverfetchRounds = 2
	}
	d := ranking.DefaultWeightConfig()
	if cfg.Weights.Demographic < 0 {
		cfg.Weights.Demographic = d.DemographicWeight
	}
	if cfg.Weights.Ethnicity == 0 && cfg.Weights.SkinType == 0 && cfg.Weights.AgeGroup == 0 {
		cfg.Weights.Ethnicity = d.EthnicityWeight
		cfg.Weights.SkinType = d.SkinTypeWeight
		cfg.Weights.AgeGroup = d.AgeGroupWeight
	}
}

// unsetConfig marks the fields whose zero value is meaningful so ApplyDefaults can tell
// "absent" from "explicitly zero".
func unsetConfig() Config {
	return Config{
		Search:  SearchConfig{MaxOverfetchRounds: -1},
		Weights: WeightsConfig{Demographic: -1},
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := unsetConfig()
	ApplyDefaults(&cfg)
	return &cfg
}
