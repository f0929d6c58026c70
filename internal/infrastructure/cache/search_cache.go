// Package cache provides a TTL cache for catalog search results. The cache
// is optional: pipeline semantics are identical with or without it.
package cache

import (
	"context"
	"sync"
	"time"

	"cohortql/internal/catalog"
	"cohortql/pkg/logger"
)

// Searcher is the lookup the cache wraps; *catalog.Index satisfies it.
type Searcher interface {
	Search(ctx context.Context, term string, maxCandidates int) ([]catalog.Candidate, error)
}

// Config holds cache tunables.
type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// DefaultConfig returns the standard cache tunables.
func DefaultConfig() Config {
	return Config{
		TTL:        5 * time.Minute,
		MaxEntries: 1000,
	}
}

type entry struct {
	candidates []catalog.Candidate
	expiresAt  time.Time
}

// SearchCache memoizes search results keyed by the cleaned term. Entries
// expire after the TTL; when the cache is full, expired entries are evicted
// first and the whole cache is dropped as a last resort. Invalidate after
// every index rebuild.
type SearchCache struct {
	inner Searcher
	cfg   Config
	log   *logger.Logger

	mu      sync.RWMutex
	entries map[string]entry

	hits   int64
	misses int64
}

// New wraps a searcher with a TTL cache.
func New(inner Searcher, cfg Config, log *logger.Logger) *SearchCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}
	return &SearchCache{
		inner:   inner,
		cfg:     cfg,
		log:     log.WithComponent("cache.search"),
		entries: make(map[string]entry),
	}
}

// Search returns cached candidates when fresh, delegating to the wrapped
// searcher otherwise. Only the default candidate limit is cached; callers
// passing an explicit limit bypass the cache.
func (c *SearchCache) Search(ctx context.Context, term string, maxCandidates int) ([]catalog.Candidate, error) {
	if maxCandidates > 0 {
		return c.inner.Search(ctx, term, maxCandidates)
	}

	key := catalog.CleanTerm(term)
	if key == "" {
		return nil, nil
	}

	now := time.Now()

	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && now.Before(cached.expiresAt) {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return cached.candidates, nil
	}

	candidates, err := c.inner.Search(ctx, term, maxCandidates)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.misses++
	if len(c.entries) >= c.cfg.MaxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = entry{
		candidates: candidates,
		expiresAt:  now.Add(c.cfg.TTL),
	}
	c.mu.Unlock()

	return candidates, nil
}

// evictLocked drops expired entries, or everything when nothing has expired.
// Caller holds the write lock.
func (c *SearchCache) evictLocked(now time.Time) {
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) >= c.cfg.MaxEntries {
		c.log.Debugw("cache full, dropping all entries", "entries", len(c.entries))
		c.entries = make(map[string]entry)
	}
}

// Invalidate drops all cached results. Call after an index rebuild.
func (c *SearchCache) Invalidate() {
	c.mu.Lock()
	dropped := len(c.entries)
	c.entries = make(map[string]entry)
	c.mu.Unlock()

	c.log.Infow("search cache invalidated", "dropped", dropped)
}

// Stats summarizes cache effectiveness.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Stats returns a snapshot of the cache counters.
func (c *SearchCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
	}
}
