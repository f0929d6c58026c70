// Package config holds the application configuration, loaded from a YAML
// file with environment overrides applied by the cmd entry points.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"cohortql/internal/catalog"
	"cohortql/internal/domain/query"
)

// CatalogConfig locates the field catalog file.
type CatalogConfig struct {
	// Path is the catalog file; .gz and .zst files are decompressed on read.
	Path string `yaml:"path"`
}

// SearchConfig mirrors catalog.SearchConfig for YAML binding.
type SearchConfig struct {
	MinTermLength        int     `yaml:"min_term_length"`
	MaxCandidatesPerTerm int     `yaml:"max_candidates_per_term"`
	FuzzyThreshold       float64 `yaml:"fuzzy_threshold"`
}

// CacheConfig controls the optional search-result cache.
type CacheConfig struct {
	Enabled    bool   `yaml:"enabled"`
	TTL        string `yaml:"ttl"`
	MaxEntries int    `yaml:"max_entries"`
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config is the full application configuration.
type Config struct {
	Catalog CatalogConfig `yaml:"catalog"`
	Search  SearchConfig  `yaml:"search"`
	Query   query.Config  `yaml:"query"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	search := catalog.DefaultSearchConfig()
	return Config{
		Catalog: CatalogConfig{Path: "catalog.json"},
		Search: SearchConfig{
			MinTermLength:        search.MinTermLength,
			MaxCandidatesPerTerm: search.MaxCandidatesPerTerm,
			FuzzyThreshold:       search.FuzzyThreshold,
		},
		Query: query.DefaultConfig(),
		Cache: CacheConfig{
			Enabled:    false,
			TTL:        "5m",
			MaxEntries: 1000,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// SearchConfig converts the YAML binding to the catalog package's type.
func (c Config) SearchConfig() catalog.SearchConfig {
	return catalog.SearchConfig{
		MinTermLength:        c.Search.MinTermLength,
		MaxCandidatesPerTerm: c.Search.MaxCandidatesPerTerm,
		FuzzyThreshold:       c.Search.FuzzyThreshold,
	}
}
