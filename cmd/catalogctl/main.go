// Package main is the catalogctl CLI for inspecting the field catalog:
// index stats, candidate search, path and value validation, suggestions.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"cohortql/internal/catalog"
	"cohortql/internal/config"
	appctx "cohortql/internal/core/context"
	"cohortql/pkg/logger"
)

const usage = `usage: catalogctl <command> [args]

commands:
  stats                         index statistics
  paths                         list all field paths
  search <term>                 search candidate fields for a term
  field <path>                  show one field descriptor
  validate <path> [value]       validate a field path (and enum value)
  suggest <path> <value>        suggest enumeration values
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	log, err := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "warn"),
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Default()
	if path := getEnv("CONFIG_PATH", ""); path != "" {
		if cfg, err = config.Load(path); err != nil {
			log.Fatalw("failed to load config", "error", err)
		}
	}
	cfg.Catalog.Path = getEnv("CATALOG_PATH", cfg.Catalog.Path)

	ctx := appctx.WithTrace(context.Background(), appctx.NewTraceContext())

	loader := catalog.NewLoader(cfg.Catalog.Path, log)
	index := catalog.NewIndex(loader, cfg.SearchConfig(), log)
	validator := catalog.NewValidator(index, log)

	if err := index.Build(ctx, false); err != nil {
		log.Fatalw("failed to build catalog index", "error", err)
	}

	if err := run(ctx, os.Args[1], os.Args[2:], index, validator); err != nil {
		fmt.Fprintf(os.Stderr, "catalogctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string, index *catalog.Index, validator *catalog.Validator) error {
	switch command {
	case "stats":
		stats, err := index.Stats(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)

	case "paths":
		paths, err := index.AllPaths(ctx)
		if err != nil {
			return err
		}
		for _, path := range paths {
			fmt.Println(path)
		}
		return nil

	case "search":
		if len(args) < 1 {
			return fmt.Errorf("search requires a term")
		}
		candidates, err := index.Search(ctx, args[0], 0)
		if err != nil {
			return err
		}
		return printJSON(candidates)

	case "field":
		if len(args) < 1 {
			return fmt.Errorf("field requires a path")
		}
		field, err := validator.FieldInfo(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(field)

	case "validate":
		return runValidate(ctx, args, validator)

	case "suggest":
		if len(args) < 2 {
			return fmt.Errorf("suggest requires a path and a value")
		}
		suggestions, err := validator.SuggestEnumerationValues(ctx, args[0], args[1], 5)
		if err != nil {
			return err
		}
		return printJSON(suggestions)
	}

	fmt.Fprint(os.Stderr, usage)
	return fmt.Errorf("unknown command %q", command)
}

func runValidate(ctx context.Context, args []string, validator *catalog.Validator) error {
	if len(args) < 1 {
		return fmt.Errorf("validate requires a path")
	}
	path := args[0]

	if err := validator.ValidatePathSyntax(path); err != nil {
		return err
	}

	ok, err := validator.ValidateFieldPath(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("field %q not in catalog", path)
	}

	if len(args) < 2 {
		fmt.Printf("ok: %s\n", path)
		return nil
	}

	canonical, err := validator.NormalizeEnumerationValue(ctx, path, args[1])
	if err != nil {
		return err
	}
	fmt.Printf("ok: %s = %q\n", path, canonical)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// getEnv returns environment variable value or default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
