// Package config provides configuration loading and structs for the dermamatch server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/dermamatch/internal/embedding"
	"github.com/hyperjump/dermamatch/internal/ranking"
	"github.com/hyperjump/dermamatch/internal/vector"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	Corpus    CorpusConfig    `yaml:"corpus"`
	Search    SearchConfig    `yaml:"search"`
	Weights   WeightsConfig   `yaml:"weights"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the case database and the persisted index.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	// IndexPath is where the vector index is saved after a rebuild; empty disables persistence.
	IndexPath string `yaml:"index_path"`
}

// EmbeddingConfig holds fusion settings.
type EmbeddingConfig struct {
	Dimensions int           `yaml:"dimensions"`
	CacheSize  int           `yaml:"cache_size"`
	Groups     []GroupConfig `yaml:"groups"`
}

// GroupConfig declares one raw feature group of the fused embedding.
type GroupConfig struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	Size int    `yaml:"size"`
}

// Layout builds the declared-slice table. With no groups configured the default
// four-group layout for Dimensions is used.
func (e EmbeddingConfig) Layout() (*embedding.Layout, error) {
	if len(e.Groups) == 0 {
		return embedding.NewLayout(embedding.DefaultGroups(e.Dimensions))
	}
	groups := make([]embedding.Group, len(e.Groups))
	for i, g := range e.Groups {
		kind, err := embedding.ParseGroupKind(g.Kind)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", g.Name, err)
		}
		groups[i] = embedding.Group{Name: g.Name, Kind: kind, Size: g.Size}
	}
	return embedding.NewLayout(groups)
}

// VectorConfig selects the index backend.
type VectorConfig struct {
	IndexType string `yaml:"index_type"`
}

// CorpusConfig selects where reference cases are read from.
type CorpusConfig struct {
	Source   string `yaml:"source"`
	FilePath string `yaml:"file_path"`
	// Watch rebuilds the index when the file source changes.
	Watch           bool `yaml:"watch"`
	WatchDebounceMs int  `yaml:"watch_debounce_ms"`
}

// SearchConfig holds query limits and the over-fetch policy.
type SearchConfig struct {
	DefaultK           int `yaml:"default_k"`
	MaxK               int `yaml:"max_k"`
	OverfetchFactor    int `yaml:"overfetch_factor"`
	MaxOverfetchRounds int `yaml:"max_overfetch_rounds"`
}

// WeightsConfig holds the initial demographic weighting.
type WeightsConfig struct {
	Demographic float64 `yaml:"demographic"`
	Ethnicity   float64 `yaml:"ethnicity"`
	SkinType    float64 `yaml:"skin_type"`
	AgeGroup    float64 `yaml:"age_group"`
}

// WeightConfig returns the validated, normalized ranking configuration.
func (w WeightsConfig) WeightConfig() (ranking.WeightConfig, error) {
	return ranking.NewWeightConfig(w.Demographic, w.Ethnicity, w.SkinType, w.AgeGroup)
}

// Load reads and parses the config file at path, expands ${VAR} references and paths,
// applies defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	data = expandEnvVars(data)

	cfg := unsetConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Corpus.FilePath = expandPath(cfg.Corpus.FilePath, configDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks settings that defaults cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimensions must be positive"))
	} else if layout, err := c.Embedding.Layout(); err != nil {
		errs = append(errs, fmt.Errorf("embedding.groups: %w", err))
	} else if layout.Dimensions() != c.Embedding.Dimensions {
		errs = append(errs, fmt.Errorf("embedding.groups allocate %d components, dimensions is %d",
			layout.Dimensions(), c.Embedding.Dimensions))
	}
	switch c.Vector.IndexType {
	case vector.IndexTypeMemory, vector.IndexTypeDense:
	default:
		errs = append(errs, fmt.Errorf("vector.index_type: unsupported %q", c.Vector.IndexType))
	}
	switch c.Corpus.Source {
	case "sqlite":
	case "file":
		if c.Corpus.FilePath == "" {
			errs = append(errs, errors.New("corpus.file_path is required for the file source"))
		}
	default:
		errs = append(errs, fmt.Errorf("corpus.source: unsupported %q", c.Corpus.Source))
	}
	if c.Search.DefaultK > c.Search.MaxK {
		errs = append(errs, fmt.Errorf("search.default_k (%d) exceeds search.max_k (%d)", c.Search.DefaultK, c.Search.MaxK))
	}
	if c.Search.OverfetchFactor < 1 {
		errs = append(errs, fmt.Errorf("search.overfetch_factor must be at least 1"))
	}
	if c.Search.MaxOverfetchRounds < 0 {
		errs = append(errs, fmt.Errorf("search.max_overfetch_rounds must not be negative"))
	}
	if _, err := c.Weights.WeightConfig(); err != nil {
		errs = append(errs, fmt.Errorf("weights: %w", err))
	}
	return errors.Join(errs...)
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		name, def, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(name)
		if val == "" && hasDefault {
			val = def
		}
		return []byte(val)
	})
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty stays empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
