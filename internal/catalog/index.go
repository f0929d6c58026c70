package catalog

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"cohortql/pkg/logger"
)

// SearchConfig holds tunables for index construction and search.
type SearchConfig struct {
	// MinTermLength is the minimum token length indexed and matched.
	MinTermLength int

	// MaxCandidatesPerTerm caps search results per term.
	MaxCandidatesPerTerm int

	// FuzzyThreshold is the minimum similarity ratio for fuzzy matches.
	FuzzyThreshold float64
}

// DefaultSearchConfig returns the standard search tunables.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		MinTermLength:        2,
		MaxCandidatesPerTerm: 5,
		FuzzyThreshold:       0.8,
	}
}

// snapshot is an immutable built index. Readers always see either the
// previous complete snapshot or the new one, never a partially built state.
type snapshot struct {
	fields    []Field
	termIndex map[string][]int // cleaned term -> field indices
	pathIndex map[string]int   // path -> field index
}

// Index serves exact, partial and fuzzy lookups over the catalog fields.
// Search is safe for unlimited concurrent use once built; rebuilds are
// serialized and swap the snapshot atomically.
type Index struct {
	loader *Loader
	cfg    SearchConfig
	log    *logger.Logger

	buildMu sync.Mutex
	snap    atomic.Pointer[snapshot]
}

// NewIndex creates an index over the loader's fields. The index builds
// lazily on first search; call Build to fail fast at startup.
func NewIndex(loader *Loader, cfg SearchConfig, log *logger.Logger) *Index {
	if cfg.MinTermLength <= 0 {
		cfg.MinTermLength = DefaultSearchConfig().MinTermLength
	}
	if cfg.MaxCandidatesPerTerm <= 0 {
		cfg.MaxCandidatesPerTerm = DefaultSearchConfig().MaxCandidatesPerTerm
	}
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = DefaultSearchConfig().FuzzyThreshold
	}
	return &Index{
		loader: loader,
		cfg:    cfg,
		log:    log.WithComponent("catalog.index"),
	}
}

// Build constructs the search index. Idempotent unless forceRebuild is set.
// A failed build leaves any previous snapshot intact and queryable.
func (ix *Index) Build(ctx context.Context, forceRebuild bool) error {
	ix.buildMu.Lock()
	defer ix.buildMu.Unlock()

	if ix.snap.Load() != nil && !forceRebuild {
		return nil
	}

	ix.log.Info("building catalog search index")

	fields, err := ix.loader.Fields(ctx)
	if err != nil {
		return fmt.Errorf("load catalog fields: %w", err)
	}

	snap := &snapshot{
		fields:    fields,
		termIndex: make(map[string][]int),
		pathIndex: make(map[string]int, len(fields)),
	}

	for i, field := range fields {
		snap.pathIndex[field.Path] = i

		// A field is indexed at most once per key: full terms and their
		// tokens overlap (a one-word term is its own token), and duplicate
		// postings would let partial overlap counts exceed the query word
		// count and push scores past 1.0.
		keys := make(map[string]bool)
		for _, term := range field.SearchableTerms {
			clean := CleanTerm(term)
			if clean == "" {
				continue
			}
			keys[clean] = true
			for _, word := range tokenize(clean, ix.cfg.MinTermLength) {
				keys[word] = true
			}
		}
		for key := range keys {
			snap.termIndex[key] = append(snap.termIndex[key], i)
		}
	}

	ix.snap.Store(snap)
	ix.log.Infow("built index", "fields", len(fields), "terms", len(snap.termIndex))
	return nil
}

// snapshotOrBuild returns the current snapshot, building lazily when absent.
func (ix *Index) snapshotOrBuild(ctx context.Context) (*snapshot, error) {
	if snap := ix.snap.Load(); snap != nil {
		return snap, nil
	}
	if err := ix.Build(ctx, false); err != nil {
		return nil, err
	}
	return ix.snap.Load(), nil
}

// Search finds fields matching a query term by merging exact, partial and
// fuzzy strategies. Results are ranked by score; at most maxCandidates are
// returned (<= 0 uses the configured default).
func (ix *Index) Search(ctx context.Context, queryTerm string, maxCandidates int) ([]Candidate, error) {
	snap, err := ix.snapshotOrBuild(ctx)
	if err != nil {
		return nil, err
	}

	if maxCandidates <= 0 {
		maxCandidates = ix.cfg.MaxCandidatesPerTerm
	}

	clean := CleanTerm(queryTerm)
	if clean == "" {
		return nil, nil
	}

	var candidates []Candidate
	candidates = append(candidates, ix.exactMatch(snap, clean)...)
	candidates = append(candidates, ix.partialMatch(snap, clean)...)
	candidates = append(candidates, ix.fuzzyMatch(snap, clean)...)

	candidates = dedupeAndRank(candidates)

	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}

	ix.log.Debugw("search complete", "term", queryTerm, "candidates", len(candidates))
	return candidates, nil
}

// exactMatch finds fields whose indexed terms contain the cleaned query
// verbatim. Score 1.0.
func (ix *Index) exactMatch(snap *snapshot, clean string) []Candidate {
	indices, ok := snap.termIndex[clean]
	if !ok {
		return nil
	}

	candidates := make([]Candidate, 0, len(indices))
	for _, idx := range indices {
		candidates = append(candidates, Candidate{
			Term:        clean,
			Field:       snap.fields[idx],
			MatchScore:  1.0,
			MatchReason: "exact term match",
		})
	}
	return candidates
}

// partialMatch scores fields by token overlap with the query; overlap ratios
// below 0.3 are discarded and survivors take a 0.8 penalty.
func (ix *Index) partialMatch(snap *snapshot, clean string) []Candidate {
	words := tokenize(clean, ix.cfg.MinTermLength)
	if len(words) == 0 {
		return nil
	}

	matched := make(map[int]int) // field index -> overlapping word count
	for _, word := range words {
		for _, idx := range snap.termIndex[word] {
			matched[idx]++
		}
	}

	var candidates []Candidate
	for idx, overlap := range matched {
		score := float64(overlap) / float64(len(words))
		if score < 0.3 {
			continue
		}
		candidates = append(candidates, Candidate{
			Term:        clean,
			Field:       snap.fields[idx],
			MatchScore:  score * 0.8,
			MatchReason: fmt.Sprintf("partial match (%d/%d words)", overlap, len(words)),
		})
	}
	return candidates
}

// fuzzyMatch compares the query against every searchable term of every field
// and keeps the best similarity per field when it clears the threshold, with
// a 0.6 penalty. Skipped for queries shorter than 3 characters.
func (ix *Index) fuzzyMatch(snap *snapshot, clean string) []Candidate {
	if len(clean) < 3 {
		return nil
	}

	var candidates []Candidate
	for _, field := range snap.fields {
		var bestScore float64
		var bestTerm string

		for _, term := range field.SearchableTerms {
			if sim := Similarity(clean, term); sim > bestScore {
				bestScore = sim
				bestTerm = term
			}
		}

		if bestScore >= ix.cfg.FuzzyThreshold {
			candidates = append(candidates, Candidate{
				Term:        clean,
				Field:       field,
				MatchScore:  bestScore * 0.6,
				MatchReason: fmt.Sprintf("fuzzy match with %q (similarity: %.2f)", bestTerm, bestScore),
			})
		}
	}
	return candidates
}

// dedupeAndRank keeps the highest-scoring candidate per field path and sorts
// by score descending, path ascending on ties for determinism.
func dedupeAndRank(candidates []Candidate) []Candidate {
	best := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		if cur, ok := best[c.Field.Path]; !ok || c.MatchScore > cur.MatchScore {
			best[c.Field.Path] = c
		}
	}

	unique := make([]Candidate, 0, len(best))
	for _, c := range best {
		unique = append(unique, c)
	}

	sort.Slice(unique, func(i, j int) bool {
		if unique[i].MatchScore != unique[j].MatchScore {
			return unique[i].MatchScore > unique[j].MatchScore
		}
		return unique[i].Field.Path < unique[j].Field.Path
	})

	return unique
}

// FieldByPath returns a field by its GraphQL path.
func (ix *Index) FieldByPath(ctx context.Context, path string) (Field, bool, error) {
	snap, err := ix.snapshotOrBuild(ctx)
	if err != nil {
		return Field{}, false, err
	}

	idx, ok := snap.pathIndex[path]
	if !ok {
		return Field{}, false, nil
	}
	return snap.fields[idx], true, nil
}

// AllPaths returns all indexed field paths, sorted.
func (ix *Index) AllPaths(ctx context.Context) ([]string, error) {
	snap, err := ix.snapshotOrBuild(ctx)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(snap.pathIndex))
	for path := range snap.pathIndex {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

// Loaded reports whether the index is built and non-empty.
func (ix *Index) Loaded() bool {
	snap := ix.snap.Load()
	return snap != nil && len(snap.fields) > 0
}

// EntryCount returns the number of indexed fields, 0 when unbuilt.
func (ix *Index) EntryCount() int {
	if snap := ix.snap.Load(); snap != nil {
		return len(snap.fields)
	}
	return 0
}

// IndexStats summarizes a built index.
type IndexStats struct {
	TotalFields  int `json:"totalFields"`
	IndexedTerms int `json:"indexedTerms"`
	PathsIndexed int `json:"pathsIndexed"`
}

// Stats returns index statistics, building lazily when needed.
func (ix *Index) Stats(ctx context.Context) (IndexStats, error) {
	snap, err := ix.snapshotOrBuild(ctx)
	if err != nil {
		return IndexStats{}, err
	}
	return IndexStats{
		TotalFields:  len(snap.fields),
		IndexedTerms: len(snap.termIndex),
		PathsIndexed: len(snap.pathIndex),
	}, nil
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9\s]`)
var whitespace = regexp.MustCompile(`\s+`)

// CleanTerm normalizes a search term: lowercase, strip special characters,
// collapse whitespace.
func CleanTerm(term string) string {
	clean := strings.ToLower(strings.TrimSpace(term))
	clean = nonAlnum.ReplaceAllString(clean, "")
	clean = whitespace.ReplaceAllString(clean, " ")
	return strings.TrimSpace(clean)
}

// tokenize splits a cleaned term into words of at least minLen characters.
func tokenize(term string, minLen int) []string {
	if term == "" {
		return nil
	}
	var words []string
	for _, word := range strings.Fields(term) {
		if len(word) >= minLen {
			words = append(words, word)
		}
	}
	return words
}
