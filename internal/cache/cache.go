// Package cache implements the semantic reply cache: replies to previously
// answered questions are reused for new questions that embed close enough to
// the original one.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SLU-IT-arkitektur/slu-docbot/internal/store"
)

// Embedder produces the query vector used for nearest-neighbor lookup.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Backend is the storage surface the cache needs.
type Backend interface {
	UpsertCacheEntry(ctx context.Context, query, reply string, sections []store.SectionRef, embedding []float32, ttl time.Duration) error
	NearestCacheEntry(ctx context.Context, embedding []float32) (*store.CacheHit, error)
	DeleteAllCacheEntries(ctx context.Context) error
}

// SemanticCache looks up replies by embedding proximity instead of exact
// query match. A lookup is a hit only when the nearest stored query is at
// least minSimilarity close (inclusive).
type SemanticCache struct {
	backend       Backend
	embedder      Embedder
	minSimilarity float64
	ttl           time.Duration
	logger        *slog.Logger
}

// Config collects the SemanticCache dependencies.
type Config struct {
	Backend       Backend
	Embedder      Embedder
	MinSimilarity float64
	TTL           time.Duration
	Logger        *slog.Logger
}

func New(cfg Config) (*SemanticCache, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("cache: backend is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("cache: embedder is required")
	}
	if cfg.MinSimilarity < 0 || cfg.MinSimilarity > 1 {
		return nil, fmt.Errorf("cache: min similarity %v not in [0, 1]", cfg.MinSimilarity)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("cache: ttl must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SemanticCache{
		backend:       cfg.Backend,
		embedder:      cfg.Embedder,
		minSimilarity: cfg.MinSimilarity,
		ttl:           cfg.TTL,
		logger:        cfg.Logger,
	}, nil
}

// Lookup embeds the query and returns the nearest cached reply when its
// similarity meets the threshold. A miss returns (nil, nil).
func (c *SemanticCache) Lookup(ctx context.Context, query string) (*store.CacheHit, error) {
	embedding, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding cache lookup query: %w", err)
	}

	hit, err := c.backend.NearestCacheEntry(ctx, embedding)
	if err != nil {
		return nil, fmt.Errorf("cache nearest-neighbor lookup: %w", err)
	}
	if hit == nil {
		return nil, nil
	}
	if hit.Similarity < c.minSimilarity {
		c.logger.Debug("semantic cache near miss",
			"similarity", hit.Similarity,
			"threshold", c.minSimilarity)
		return nil, nil
	}

	c.logger.Info("semantic cache hit",
		"similarity", hit.Similarity,
		"original_query", hit.Query)
	return hit, nil
}

// Store saves a fresh reply under its own embedding. The entry expires
// after the configured TTL so answers never outlive the knowledge base by
// much.
func (c *SemanticCache) Store(ctx context.Context, query, reply string, sections []store.SectionRef) error {
	embedding, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("embedding cache entry query: %w", err)
	}
	if err := c.backend.UpsertCacheEntry(ctx, query, reply, sections, embedding, c.ttl); err != nil {
		return fmt.Errorf("storing cache entry: %w", err)
	}
	return nil
}

// InvalidateAll drops every cached reply. Called after an index swap so no
// reply from the previous generation survives.
func (c *SemanticCache) InvalidateAll(ctx context.Context) error {
	if err := c.backend.DeleteAllCacheEntries(ctx); err != nil {
		return fmt.Errorf("flushing semantic cache: %w", err)
	}
	c.logger.Info("semantic cache flushed")
	return nil
}
