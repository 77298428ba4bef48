// Package llm wraps the Genkit model and embedder surface behind the two
// narrow operations the bot needs: embedding a text and completing a prompt.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"golang.org/x/time/rate"

	"github.com/SLU-IT-arkitektur/slu-docbot/internal/config"
)

var (
	// ErrEmbeddingUnavailable wraps any failure to produce an embedding.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrCompletionFailed wraps a model call that errored or returned
	// empty text.
	ErrCompletionFailed = errors.New("completion failed")

	// ErrCompletionTimeout marks a completion abandoned at its deadline.
	ErrCompletionTimeout = errors.New("completion timed out")
)

// Client is a thin adapter from Genkit to the Embedder and Completer
// interfaces consumed elsewhere. Completions are rate limited; embeddings
// are not (reindexing issues them in bulk and the provider limits are far
// higher for embedding endpoints).
type Client struct {
	g         *genkit.Genkit
	embedder  ai.Embedder
	modelName string
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// Setup initializes Genkit with the configured provider plugin and returns
// a ready Client. The provider API key is read from the environment by the
// plugin itself (OPENAI_API_KEY or GEMINI_API_KEY).
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var g *genkit.Genkit
	switch cfg.Provider {
	case config.ProviderGoogleAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	default:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
	}
	if g == nil {
		return nil, fmt.Errorf("initializing genkit with %s provider", cfg.Provider)
	}

	embedder := lookupEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not registered by %s plugin", cfg.EmbedderModel, cfg.Provider)
	}

	logger.Info("initialized model client",
		"provider", cfg.Provider,
		"model", cfg.ModelName,
		"embedder", cfg.EmbedderModel)

	return &Client{
		g:         g,
		embedder:  embedder,
		modelName: cfg.FullModelName(),
		limiter:   rate.NewLimiter(rate.Limit(cfg.CompletionRPS), 1),
		logger:    logger,
	}, nil
}

// lookupEmbedder resolves the embedder action registered by the provider
// plugin. OpenAI auto-registers its embedders during Init; Google AI exposes
// a constructor instead.
func lookupEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderGoogleAI:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	default:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	}
}

// Embed returns the embedding vector for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(text, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingUnavailable, err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrEmbeddingUnavailable)
	}
	return resp.Embeddings[0].Embedding, nil
}

// Complete sends a single-turn prompt to the chat model and returns the
// response text. The call first waits for a rate-limiter token, then runs
// under whatever deadline ctx carries.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", completionErr(err)
	}

	resp, err := genkit.Generate(ctx, c.g,
		ai.WithModelName(c.modelName),
		ai.WithPrompt(prompt),
	)
	if err != nil {
		return "", completionErr(err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: model returned empty text", ErrCompletionFailed)
	}
	return text, nil
}

func completionErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrCompletionTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrCompletionFailed, err)
}
