package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"cohortql/internal/core/apperror"
	"cohortql/pkg/logger"
)

// catalogEntry is the raw on-disk shape of one catalog record.
type catalogEntry struct {
	FieldPath       string   `json:"field_path"`
	Type            string   `json:"type"`
	EnumValues      any      `json:"enum_values"`
	FieldName       string   `json:"field_name"`
	Description     string   `json:"description"`
	SearchableTerms []string `json:"searchable_terms"`
}

// Loader reads the catalog file into field descriptors.
// Compressed catalogs (.gz, .zst) are decompressed transparently.
type Loader struct {
	path string
	log  *logger.Logger

	mu         sync.Mutex
	entries    []catalogEntry
	lastLoaded time.Time
	fileMtime  time.Time
}

// NewLoader creates a loader for the given catalog file path.
func NewLoader(path string, log *logger.Logger) *Loader {
	return &Loader{
		path: path,
		log:  log.WithComponent("catalog.loader"),
	}
}

// Path returns the configured catalog file path.
func (l *Loader) Path() string {
	return l.path
}

// Reload discards cached entries and re-reads the catalog file.
func (l *Loader) Reload(ctx context.Context) error {
	_, err := l.load(ctx, true)
	return err
}

// load reads the catalog file. Cached entries are reused while the file
// mtime is unchanged unless forceReload is set. Missing or malformed files
// are fatal.
func (l *Loader) load(ctx context.Context, forceReload bool) ([]catalogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !forceReload && l.cacheValid() {
		l.log.Debugw("using cached catalog data", "path", l.path)
		return l.entries, nil
	}

	info, err := os.Stat(l.path)
	if err != nil {
		return nil, apperror.NewCatalog(fmt.Sprintf("catalog file not found: %s", l.path)).WithCause(err)
	}

	raw, err := l.readFile()
	if err != nil {
		return nil, apperror.NewCatalog(fmt.Sprintf("failed to read catalog: %s", l.path)).WithCause(err)
	}

	var entries []catalogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, apperror.NewCatalog("catalog file must contain a JSON array of field records").WithCause(err)
	}

	l.entries = entries
	l.lastLoaded = time.Now()
	l.fileMtime = info.ModTime()

	l.log.Infow("loaded catalog", "path", l.path, "entries", len(entries))
	return entries, nil
}

// readFile reads the catalog file, decompressing by extension.
func (l *Loader) readFile() ([]byte, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	switch {
	case strings.HasSuffix(l.path, ".gz"):
		gr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip catalog: %w", err)
		}
		defer gr.Close()
		r = gr
	case strings.HasSuffix(l.path, ".zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open zstd catalog: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	return io.ReadAll(r)
}

func (l *Loader) cacheValid() bool {
	if l.entries == nil || l.fileMtime.IsZero() {
		return false
	}
	info, err := os.Stat(l.path)
	if err != nil {
		return false
	}
	return info.ModTime().Equal(l.fileMtime)
}

// Fields returns all catalog fields as structured descriptors.
// Entries that cannot be parsed are skipped and logged, never fatal.
func (l *Loader) Fields(ctx context.Context) ([]Field, error) {
	entries, err := l.load(ctx, false)
	if err != nil {
		return nil, err
	}

	fields := make([]Field, 0, len(entries))
	for _, entry := range entries {
		field, ok := parseEntry(entry)
		if !ok {
			l.log.Warnw("skipping catalog entry without field_path")
			continue
		}
		fields = append(fields, field)
	}

	return fields, nil
}

// parseEntry converts one raw record into a Field. Returns false when the
// record has no path.
func parseEntry(entry catalogEntry) (Field, bool) {
	if entry.FieldPath == "" {
		return Field{}, false
	}

	fieldType := determineFieldType(entry)

	var enumValues []string
	if fieldType == TypeEnumeration {
		enumValues = normalizeEnumValues(entry.EnumValues)
	}

	// Searchable terms: explicit terms, field name, description, enum values.
	terms := make([]string, 0, len(entry.SearchableTerms)+len(enumValues)+2)
	terms = append(terms, entry.SearchableTerms...)
	if entry.FieldName != "" {
		terms = append(terms, entry.FieldName)
	}
	if entry.Description != "" {
		terms = append(terms, entry.Description)
	}
	terms = append(terms, enumValues...)

	seen := make(map[string]bool, len(terms))
	searchable := make([]string, 0, len(terms))
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		searchable = append(searchable, t)
	}
	sort.Strings(searchable)

	return Field{
		Path:            entry.FieldPath,
		Type:            fieldType,
		EnumValues:      enumValues,
		Description:     entry.Description,
		SearchableTerms: searchable,
	}, true
}

// determineFieldType resolves the field type from the explicit type string,
// falling back to enum_values presence, then string.
func determineFieldType(entry catalogEntry) FieldType {
	switch strings.ToLower(entry.Type) {
	case "enumeration", "enum":
		return TypeEnumeration
	case "string", "text":
		return TypeString
	case "number", "int", "integer", "float":
		return TypeNumber
	case "boolean", "bool":
		return TypeBoolean
	case "date", "datetime":
		return TypeDate
	}

	if len(normalizeEnumValues(entry.EnumValues)) > 0 {
		return TypeEnumeration
	}

	return TypeString
}

// normalizeEnumValues accepts both a bare string and a list of strings.
func normalizeEnumValues(raw any) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []any:
		values := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				values = append(values, s)
			}
		}
		return values
	}
	return nil
}

// Stats summarizes the loaded catalog.
type Stats struct {
	TotalEntries int               `json:"totalEntries"`
	ValidFields  int               `json:"validFields"`
	FieldTypes   map[FieldType]int `json:"fieldTypes"`
	LastLoaded   time.Time         `json:"lastLoaded"`
	FilePath     string            `json:"filePath"`
}

// Stats returns statistics about the loaded catalog.
func (l *Loader) Stats(ctx context.Context) (Stats, error) {
	entries, err := l.load(ctx, false)
	if err != nil {
		return Stats{}, err
	}

	fields, err := l.Fields(ctx)
	if err != nil {
		return Stats{}, err
	}

	typeCounts := make(map[FieldType]int)
	for _, f := range fields {
		typeCounts[f.Type]++
	}

	l.mu.Lock()
	last := l.lastLoaded
	l.mu.Unlock()

	return Stats{
		TotalEntries: len(entries),
		ValidFields:  len(fields),
		FieldTypes:   typeCounts,
		LastLoaded:   last,
		FilePath:     l.path,
	}, nil
}
