package config

import (
	"fmt"
	"os"

	"github.com/SLU-IT-arkitektur/slu-docbot/internal/i18n"
)

// Validate checks the configuration and fails fast with a sentinel error.
// Wrapped details are added via %w so callers can use errors.Is.
func (c *Config) Validate() error {
	if !i18n.Supported(c.Language) {
		return fmt.Errorf("%w: %q (supported: sv, en)", ErrInvalidLanguage, c.Language)
	}

	switch c.Provider {
	case ProviderOpenAI, ProviderGoogleAI:
	default:
		return fmt.Errorf("%w: %q (supported: openai, googleai)", ErrInvalidProvider, c.Provider)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name is empty", ErrInvalidProvider)
	}
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model is empty", ErrInvalidProvider)
	}

	if c.PromptInstructions == "" {
		return fmt.Errorf("%w: set PROMPT_INST or prompt_instructions", ErrMissingPromptInstructions)
	}

	if c.CacheMinSimilarity < 0 || c.CacheMinSimilarity > 1 {
		return fmt.Errorf("%w: cache_min_similarity %v not in [0, 1]", ErrInvalidThreshold, c.CacheMinSimilarity)
	}
	if c.SectionMinSimilarity < 0 || c.SectionMinSimilarity > 1 {
		return fmt.Errorf("%w: section_min_similarity %v not in [0, 1]", ErrInvalidThreshold, c.SectionMinSimilarity)
	}

	if c.CompletionTimeout <= 0 {
		return fmt.Errorf("%w: completion_timeout must be positive", ErrInvalidTimeout)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("%w: cache_ttl must be positive", ErrInvalidTimeout)
	}
	if c.CompletionRPS <= 0 {
		return fmt.Errorf("%w: completion_rps must be positive", ErrInvalidTimeout)
	}

	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	return c.validateAPIKey()
}

// validateAPIKey checks that the selected provider's API key is present in
// the environment. The key itself is consumed by the Genkit plugin.
func (c *Config) validateAPIKey() error {
	switch c.Provider {
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY not set", ErrMissingAPIKey)
		}
	case ProviderGoogleAI:
		if os.Getenv("GEMINI_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY not set", ErrMissingAPIKey)
		}
	}
	return nil
}
