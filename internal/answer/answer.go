// Package answer drives a question through validation, semantic cache,
// retrieval, context assembly and completion, and records every exchange.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/SLU-IT-arkitektur/slu-docbot/internal/i18n"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/llm"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/store"
)

// Token policy for the completion prompt. The model window is shared
// between instructions, question, retrieved context and the response, with
// a safety margin for prompt scaffolding.
const (
	maxQueryChars = 80
	topKSections  = 3

	modelWindowTokens     = 16000
	responseReserveTokens = 1000
	promptMarginTokens    = 100
	minContextTokens      = 100
)

// Storage is the persistence surface the orchestrator needs.
type Storage interface {
	SearchSections(ctx context.Context, gen store.Generation, embedding []float32, k int) ([]store.SectionMatch, error)
	ActiveGeneration(ctx context.Context) (store.Generation, error)
	PassiveGeneration(ctx context.Context) (store.Generation, error)
	EmbeddingsVersion(ctx context.Context) (string, error)
	SaveInteraction(ctx context.Context, it store.Interaction) error
	SetFeedback(ctx context.Context, id uuid.UUID, feedback, comment string) error
}

// Cache is the semantic reply cache. A nil Cache disables caching.
type Cache interface {
	Lookup(ctx context.Context, query string) (*store.CacheHit, error)
	Store(ctx context.Context, query, reply string, sections []store.SectionRef) error
}

// Embedder turns a query into its vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Completer produces the model answer for a fully assembled prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// TokenCounter measures and cuts text against the model's tokenizer.
// *tokens.Codec satisfies it.
type TokenCounter interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// Reply is the outcome of one question, shaped for direct serialization.
type Reply struct {
	Message           string             `json:"message"`
	InteractionID     string             `json:"interaction_id,omitempty"`
	Sections          []store.SectionRef `json:"sectionHeaders,omitempty"`
	EmbeddingsVersion string             `json:"embeddings_version,omitempty"`
	FromCache         bool               `json:"from_cache,omitempty"`
	OriginalQuery     string             `json:"original_query,omitempty"`
}

// ValidationError rejects user input with a message already localized for
// display. No interaction is recorded for rejected input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Handler orchestrates the full question/answer flow.
type Handler struct {
	storage   Storage
	cache     Cache
	embedder  Embedder
	completer Completer
	codec     TokenCounter
	tr        i18n.Translator
	logger    *slog.Logger

	instructions         string
	instructionTokens    int
	sectionMinSimilarity float64
	completionTimeout    time.Duration
}

// Config collects the Handler dependencies. Cache may be nil.
type Config struct {
	Storage              Storage
	Cache                Cache
	Embedder             Embedder
	Completer            Completer
	Codec                TokenCounter
	Translator           i18n.Translator
	Logger               *slog.Logger
	PromptInstructions   string
	SectionMinSimilarity float64
	CompletionTimeout    time.Duration
}

func New(cfg Config) (*Handler, error) {
	if cfg.Storage == nil {
		return nil, fmt.Errorf("answer: storage is required")
	}
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("answer: embedder is required")
	}
	if cfg.Completer == nil {
		return nil, fmt.Errorf("answer: completer is required")
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("answer: token codec is required")
	}
	if cfg.PromptInstructions == "" {
		return nil, fmt.Errorf("answer: prompt instructions are required")
	}
	if cfg.SectionMinSimilarity < 0 || cfg.SectionMinSimilarity > 1 {
		return nil, fmt.Errorf("answer: section min similarity %v not in [0, 1]", cfg.SectionMinSimilarity)
	}
	if cfg.CompletionTimeout <= 0 {
		return nil, fmt.Errorf("answer: completion timeout must be positive")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Handler{
		storage:              cfg.Storage,
		cache:                cfg.Cache,
		embedder:             cfg.Embedder,
		completer:            cfg.Completer,
		codec:                cfg.Codec,
		tr:                   cfg.Translator,
		logger:               cfg.Logger,
		instructions:         cfg.PromptInstructions,
		instructionTokens:    cfg.Codec.Count(cfg.PromptInstructions),
		sectionMinSimilarity: cfg.SectionMinSimilarity,
		completionTimeout:    cfg.CompletionTimeout,
	}, nil
}

// QueryOption tweaks a single HandleQuery call.
type QueryOption func(*queryOptions)

type queryOptions struct {
	passive bool
	noCache bool
}

// WithPassiveGeneration answers from the passive index copy. Used by the
// reindex quality gate to probe a rebuilt index before it goes live.
func WithPassiveGeneration() QueryOption {
	return func(o *queryOptions) { o.passive = true }
}

// WithoutCache skips both cache lookup and cache store for this call.
func WithoutCache() QueryOption {
	return func(o *queryOptions) { o.noCache = true }
}

// HandleQuery answers a single question. It returns a ValidationError for
// rejected input (no interaction recorded). On completion failure or
// timeout the returned Reply is still non-nil and carries a localized
// message; err is then llm.ErrCompletionFailed or llm.ErrCompletionTimeout
// so callers can map it to a transport status.
func (h *Handler) HandleQuery(ctx context.Context, query string, opts ...QueryOption) (*Reply, error) {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}

	if query == "" {
		return nil, &ValidationError{Message: h.tr.T("enter_query")}
	}
	if len([]rune(query)) > maxQueryChars {
		return nil, &ValidationError{Message: h.tr.T("query_too_long")}
	}

	start := time.Now()
	interactionID := uuid.New()
	logger := h.logger.With("interaction_id", interactionID)

	if h.cache != nil && !o.noCache {
		if reply := h.tryCache(ctx, logger, interactionID, query, start); reply != nil {
			return reply, nil
		}
	}

	matches := h.retrieve(ctx, logger, query, o.passive)
	prompt, refs, ok := h.buildPrompt(logger, query, matches)
	if !ok {
		h.saveInteraction(ctx, logger, store.Interaction{
			ID:              interactionID,
			Query:           query,
			RequestDuration: time.Since(start),
		})
		return &Reply{
			Message:           h.tr.T("no_answer_found"),
			InteractionID:     interactionID.String(),
			EmbeddingsVersion: h.embeddingsVersion(ctx, logger),
		}, nil
	}

	completionStart := time.Now()
	text, err := h.complete(ctx, prompt)
	completionDuration := time.Since(completionStart)

	if err != nil {
		h.saveInteraction(ctx, logger, store.Interaction{
			ID:                 interactionID,
			Query:              query,
			RequestDuration:    time.Since(start),
			CompletionDuration: completionDuration,
		})
		msgKey := "something_went_wrong"
		if errors.Is(err, llm.ErrCompletionTimeout) {
			msgKey = "completion_timeout"
			logger.Warn("completion abandoned at deadline", "timeout", h.completionTimeout)
		} else {
			logger.Error("completion failed", "error", err)
		}
		return &Reply{
			Message:       h.tr.T(msgKey),
			InteractionID: interactionID.String(),
		}, err
	}

	h.saveInteraction(ctx, logger, store.Interaction{
		ID:                 interactionID,
		Query:              query,
		Reply:              text,
		RequestDuration:    time.Since(start),
		CompletionDuration: completionDuration,
	})

	if h.cache != nil && !o.noCache {
		if err := h.cache.Store(ctx, query, text, refs); err != nil {
			logger.Warn("storing reply in semantic cache failed", "error", err)
		}
	}

	logger.Info("answered query",
		"request_duration", time.Since(start),
		"completion_duration", completionDuration,
		"sections", len(refs))

	return &Reply{
		Message:           text,
		InteractionID:     interactionID.String(),
		Sections:          refs,
		EmbeddingsVersion: h.embeddingsVersion(ctx, logger),
	}, nil
}

// tryCache returns a ready Reply on a cache hit and nil on a miss. Cache
// failures count as misses.
func (h *Handler) tryCache(ctx context.Context, logger *slog.Logger, id uuid.UUID, query string, start time.Time) *Reply {
	hit, err := h.cache.Lookup(ctx, query)
	if err != nil {
		logger.Warn("semantic cache lookup failed", "error", err)
		return nil
	}
	if hit == nil {
		return nil
	}

	h.saveInteraction(ctx, logger, store.Interaction{
		ID:              id,
		Query:           query,
		Reply:           hit.Reply,
		RequestDuration: time.Since(start),
		FromCache:       true,
		OriginalQuery:   hit.Query,
	})

	return &Reply{
		Message:           hit.Reply,
		InteractionID:     id.String(),
		Sections:          hit.Sections,
		EmbeddingsVersion: h.embeddingsVersion(ctx, logger),
		FromCache:         true,
		OriginalQuery:     hit.Query,
	}
}

// retrieve embeds the query and searches the selected index generation.
// Any upstream failure degrades to an empty result set, which surfaces to
// the user as "no answer found" rather than an error.
func (h *Handler) retrieve(ctx context.Context, logger *slog.Logger, query string, passive bool) []store.SectionMatch {
	embedding, err := h.embedder.Embed(ctx, query)
	if err != nil {
		logger.Error("embedding query failed", "error", err)
		return nil
	}

	var gen store.Generation
	if passive {
		gen, err = h.storage.PassiveGeneration(ctx)
	} else {
		gen, err = h.storage.ActiveGeneration(ctx)
	}
	if err != nil {
		logger.Error("reading index generation failed", "error", err)
		return nil
	}

	matches, err := h.storage.SearchSections(ctx, gen, embedding, topKSections)
	if err != nil {
		logger.Error("section search failed", "generation", gen, "error", err)
		return nil
	}
	return matches
}

// complete runs the model call in its own goroutine so the request can be
// abandoned at the deadline even if the underlying call lingers.
func (h *Handler) complete(ctx context.Context, prompt string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, h.completionTimeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := h.completer.Complete(cctx, prompt)
		done <- result{text, err}
	}()

	select {
	case r := <-done:
		return r.text, r.err
	case <-cctx.Done():
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: no answer within %v", llm.ErrCompletionTimeout, h.completionTimeout)
		}
		return "", fmt.Errorf("%w: %v", llm.ErrCompletionFailed, cctx.Err())
	}
}

func (h *Handler) saveInteraction(ctx context.Context, logger *slog.Logger, it store.Interaction) {
	if err := h.storage.SaveInteraction(ctx, it); err != nil {
		logger.Error("saving interaction failed", "error", err)
	}
}

func (h *Handler) embeddingsVersion(ctx context.Context, logger *slog.Logger) string {
	version, err := h.storage.EmbeddingsVersion(ctx)
	if err != nil {
		logger.Warn("reading embeddings version failed", "error", err)
		return ""
	}
	return version
}
