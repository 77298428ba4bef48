// Package reindex rebuilds the passive copy of the knowledge base, gates it
// behind a question/answer quality check and atomically promotes it.
package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SLU-IT-arkitektur/slu-docbot/internal/answer"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/llm"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/store"
)

// ErrQualityGateFailed aborts a reindex before the generation swap. The
// active index and cache are left untouched.
var ErrQualityGateFailed = errors.New("reindex quality gate failed")

// DefaultMinAnswerSimilarity is the gate threshold: every probe answer must
// be strictly more similar than this to its expected answer.
const DefaultMinAnswerSimilarity = 0.90

// SectionSource produces the sections for the new index generation.
type SectionSource interface {
	Sections(ctx context.Context) ([]store.Section, error)
}

// Storage is the index-management surface of the store.
type Storage interface {
	PassiveGeneration(ctx context.Context) (store.Generation, error)
	DeleteAllSections(ctx context.Context, gen store.Generation) error
	PutSections(ctx context.Context, gen store.Generation, sections []store.Section) error
	SetActiveGeneration(ctx context.Context, gen store.Generation) error
	SetEmbeddingsVersion(ctx context.Context, day time.Time) error
}

// Cache is flushed after a successful swap.
type Cache interface {
	InvalidateAll(ctx context.Context) error
}

// Answerer probes the rebuilt index through the normal answer flow.
type Answerer interface {
	HandleQuery(ctx context.Context, query string, opts ...answer.QueryOption) (*answer.Reply, error)
}

// Embedder is used to compare probe answers with expected ones.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// QAPair is one quality-gate probe: a question and the answer the rebuilt
// index is expected to support.
type QAPair struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Coordinator runs the blue/green rebuild.
type Coordinator struct {
	storage  Storage
	cache    Cache
	answerer Answerer
	embedder Embedder
	source   SectionSource
	pairs    []QAPair
	minSim   float64
	logger   *slog.Logger
	now      func() time.Time
}

// Config collects the Coordinator dependencies.
type Config struct {
	Storage  Storage
	Cache    Cache
	Answerer Answerer
	Embedder Embedder
	Source   SectionSource
	QAPairs  []QAPair

	// MinAnswerSimilarity defaults to DefaultMinAnswerSimilarity when zero.
	MinAnswerSimilarity float64
	Logger              *slog.Logger
}

func New(cfg Config) (*Coordinator, error) {
	if cfg.Storage == nil || cfg.Cache == nil || cfg.Answerer == nil || cfg.Embedder == nil || cfg.Source == nil {
		return nil, fmt.Errorf("reindex: storage, cache, answerer, embedder and source are all required")
	}
	if len(cfg.QAPairs) == 0 {
		return nil, fmt.Errorf("reindex: at least one quality-gate pair is required")
	}
	if cfg.MinAnswerSimilarity == 0 {
		cfg.MinAnswerSimilarity = DefaultMinAnswerSimilarity
	}
	if cfg.MinAnswerSimilarity < 0 || cfg.MinAnswerSimilarity >= 1 {
		return nil, fmt.Errorf("reindex: min answer similarity %v not in [0, 1)", cfg.MinAnswerSimilarity)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Coordinator{
		storage:  cfg.Storage,
		cache:    cfg.Cache,
		answerer: cfg.Answerer,
		embedder: cfg.Embedder,
		source:   cfg.Source,
		pairs:    cfg.QAPairs,
		minSim:   cfg.MinAnswerSimilarity,
		logger:   cfg.Logger,
		now:      time.Now,
	}, nil
}

// Run rebuilds the passive generation and promotes it. Any failure before
// the promotion leaves the active index and the cache untouched.
func (c *Coordinator) Run(ctx context.Context) error {
	target, err := c.storage.PassiveGeneration(ctx)
	if err != nil {
		return fmt.Errorf("resolving passive generation: %w", err)
	}
	c.logger.Info("reindex started", "target_generation", target)

	if err := c.storage.DeleteAllSections(ctx, target); err != nil {
		return fmt.Errorf("clearing %s generation: %w", target, err)
	}

	sections, err := c.source.Sections(ctx)
	if err != nil {
		return fmt.Errorf("loading sections: %w", err)
	}
	if len(sections) == 0 {
		return fmt.Errorf("section source produced no sections")
	}
	if err := c.storage.PutSections(ctx, target, sections); err != nil {
		return fmt.Errorf("writing %d sections to %s generation: %w", len(sections), target, err)
	}
	c.logger.Info("sections written", "generation", target, "count", len(sections))

	if err := c.qualityGate(ctx); err != nil {
		return err
	}

	if err := c.storage.SetActiveGeneration(ctx, target); err != nil {
		return fmt.Errorf("promoting %s generation: %w", target, err)
	}
	if err := c.cache.InvalidateAll(ctx); err != nil {
		return fmt.Errorf("flushing cache after swap: %w", err)
	}

	day := c.now()
	if err := c.storage.SetEmbeddingsVersion(ctx, day); err != nil {
		return fmt.Errorf("recording embeddings version: %w", err)
	}

	c.logger.Info("reindex complete",
		"active_generation", target,
		"embeddings_version", day.Format("2006-01-02"))
	return nil
}

// qualityGate answers every probe question against the rebuilt passive
// index and requires each answer to land close to its expected answer.
func (c *Coordinator) qualityGate(ctx context.Context) error {
	for _, pair := range c.pairs {
		reply, err := c.answerer.HandleQuery(ctx, pair.Question,
			answer.WithPassiveGeneration(), answer.WithoutCache())
		if err != nil {
			return fmt.Errorf("%w: probe %q errored: %v", ErrQualityGateFailed, pair.Question, err)
		}

		got, err := c.embedder.Embed(ctx, reply.Message)
		if err != nil {
			return fmt.Errorf("embedding probe answer for %q: %w", pair.Question, err)
		}
		want, err := c.embedder.Embed(ctx, pair.Answer)
		if err != nil {
			return fmt.Errorf("embedding expected answer for %q: %w", pair.Question, err)
		}

		sim := llm.Cosine(got, want)
		if sim <= c.minSim {
			return fmt.Errorf("%w: probe %q scored %.4f (need > %.2f)",
				ErrQualityGateFailed, pair.Question, sim, c.minSim)
		}
		c.logger.Info("quality gate probe passed", "question", pair.Question, "similarity", sim)
	}
	return nil
}
