// Package main is the entry point for the translate CLI: it reads parsed
// terms as JSON and emits the generated query, variables and audit output.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"cohortql/internal/catalog"
	"cohortql/internal/config"
	appctx "cohortql/internal/core/context"
	"cohortql/internal/domain/compose"
	"cohortql/internal/domain/filter"
	"cohortql/internal/domain/query"
	"cohortql/internal/domain/resolve"
	"cohortql/internal/infrastructure/cache"
	"cohortql/internal/pipeline"
	"cohortql/pkg/logger"
)

func main() {
	cfg := loadConfig()

	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", cfg.Log.Level),
		Development: getEnv("APP_ENV", "development") == "development",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx := appctx.WithTrace(context.Background(), appctx.NewTraceContext())

	loader := catalog.NewLoader(cfg.Catalog.Path, log)
	index := catalog.NewIndex(loader, cfg.SearchConfig(), log)
	if err := index.Build(ctx, false); err != nil {
		log.Fatalw("failed to build catalog index", "error", err)
	}

	var searcher pipeline.Searcher = index
	if cfg.Cache.Enabled {
		ttl, err := time.ParseDuration(cfg.Cache.TTL)
		if err != nil {
			log.Fatalw("invalid cache ttl", "ttl", cfg.Cache.TTL, "error", err)
		}
		searcher = cache.New(index, cache.Config{TTL: ttl, MaxEntries: cfg.Cache.MaxEntries}, log)
	}

	service := pipeline.NewService(
		searcher,
		index,
		resolve.NewResolver(log),
		compose.NewComposer(log),
		query.NewBuilder(cfg.Query, log),
		log,
	)

	terms, err := readTerms(os.Stdin)
	if err != nil {
		log.Fatalw("failed to read terms", "error", err)
	}
	if len(terms) == 0 {
		log.Fatal("no terms given: pass a JSON array of {term} objects on stdin")
	}

	combinator := filter.Combinator(getEnv("COMBINE_MODE", string(filter.CombineAnd)))

	result, err := service.Translate(ctx, terms, combinator)
	if err != nil {
		log.Fatalw("translation failed", "error", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalw("failed to encode result", "error", err)
	}
}

func loadConfig() config.Config {
	path := getEnv("CONFIG_PATH", "")

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			fmt.Printf("failed to load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Optional configuration overrides
	cfg.Catalog.Path = getEnv("CATALOG_PATH", cfg.Catalog.Path)
	if max := getEnvInt("MAX_CANDIDATES_PER_TERM", 0); max > 0 {
		cfg.Search.MaxCandidatesPerTerm = max
	}
	if limit := getEnvInt("QUERY_LIMIT", 0); limit > 0 {
		cfg.Query.Limit = limit
	}
	return cfg
}

// readTerms parses a JSON array of ParsedTerms. Plain strings are accepted
// as bare terms.
func readTerms(r io.Reader) ([]pipeline.ParsedTerm, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var terms []pipeline.ParsedTerm
	if err := json.Unmarshal(data, &terms); err == nil {
		return terms, nil
	}

	var plain []string
	if err := json.Unmarshal(data, &plain); err != nil {
		return nil, fmt.Errorf("input must be a JSON array of term objects or strings: %w", err)
	}

	terms = make([]pipeline.ParsedTerm, len(plain))
	for i, t := range plain {
		terms[i] = pipeline.ParsedTerm{Term: t}
	}
	return terms, nil
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns environment variable as int or default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
