// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.slu-docbot/config.yaml, or ./config.yaml)
//  3. Default values
//
// The loaded Config is an immutable value handed to each component at
// construction; no component reads configuration from ambient global state.
//
// Security: the Postgres password is masked in MarshalJSON/String. API keys
// for the model providers (OPENAI_API_KEY, GEMINI_API_KEY) are read directly
// by the Genkit plugins and never pass through this package; Validate only
// checks their presence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates the selected provider's API key is not set.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrMissingPromptInstructions indicates no prompt instructions were configured.
	ErrMissingPromptInstructions = errors.New("missing prompt instructions")

	// ErrInvalidLanguage indicates an unsupported language code.
	ErrInvalidLanguage = errors.New("invalid language")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidThreshold indicates a similarity threshold outside [0, 1].
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidTimeout indicates a non-positive duration setting.
	ErrInvalidTimeout = errors.New("invalid timeout")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Language of the knowledge base and of user-facing messages ("sv" or "en").
	Language string `mapstructure:"language" json:"language"`

	// AI provider and model configuration.
	Provider      string `mapstructure:"provider" json:"provider"`             // "openai" (default) or "googleai"
	ModelName     string `mapstructure:"model_name" json:"model_name"`         // chat model, e.g. "gpt-4o"
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"` // must produce 1536-dim vectors

	// PromptInstructions is the fixed instruction text appended after the
	// context and question in every completion prompt.
	PromptInstructions string `mapstructure:"prompt_instructions" json:"prompt_instructions"`

	// Semantic cache configuration.
	CacheEnabled       bool          `mapstructure:"cache_enabled" json:"cache_enabled"`
	CacheMinSimilarity float64       `mapstructure:"cache_min_similarity" json:"cache_min_similarity"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl" json:"cache_ttl"`

	// SectionMinSimilarity is the floor below which a retrieved section is
	// excluded from the completion context.
	SectionMinSimilarity float64 `mapstructure:"section_min_similarity" json:"section_min_similarity"`

	// CompletionTimeout is the hard deadline for one chat completion call.
	CompletionTimeout time.Duration `mapstructure:"completion_timeout" json:"completion_timeout"`

	// CompletionRPS caps outgoing completion calls per second.
	CompletionRPS float64 `mapstructure:"completion_rps" json:"completion_rps"`

	// Storage configuration.
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Tracing configuration (optional OTLP export to a local agent).
	TracingEnabled bool   `mapstructure:"tracing_enabled" json:"tracing_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	ServiceName    string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".slu-docbot")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// English deployments can override the instruction text wholesale.
	if cfg.Language == "en" {
		if en := os.Getenv("PROMPT_INST_EN"); en != "" {
			cfg.PromptInstructions = en
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("language", "sv")

	v.SetDefault("provider", ProviderOpenAI)
	v.SetDefault("model_name", "gpt-4o")
	v.SetDefault("embedder_model", "text-embedding-ada-002")

	v.SetDefault("cache_enabled", true)
	v.SetDefault("cache_min_similarity", 0.97)
	v.SetDefault("cache_ttl", 90*time.Minute)
	v.SetDefault("section_min_similarity", 0.8)

	v.SetDefault("completion_timeout", 25*time.Second)
	v.SetDefault("completion_rps", 2.0)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "docbot")
	v.SetDefault("postgres_password", "docbot_dev_password")
	v.SetDefault("postgres_db_name", "docbot")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("tracing_enabled", false)
	v.SetDefault("otlp_endpoint", "localhost:4318")
	v.SetDefault("service_name", "slu-docbot")
}

// bindEnvVariables binds environment overrides explicitly. API keys are read
// directly by the Genkit plugins (OPENAI_API_KEY / GEMINI_API_KEY), not here.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("language", "DOCBOT_LANG")
	mustBind("provider", "DOCBOT_PROVIDER")
	mustBind("model_name", "DOCBOT_MODEL_NAME")
	mustBind("embedder_model", "DOCBOT_EMBEDDER_MODEL")
	mustBind("prompt_instructions", "PROMPT_INST")
	mustBind("cache_enabled", "SEMANTIC_CACHE_ENABLED")
	mustBind("cache_min_similarity", "SEMANTIC_CACHE_MIN_SIMILARITY_SCORE")
	mustBind("section_min_similarity", "SECTIONS_MIN_SIMILARITY_SCORE")
	mustBind("postgres_host", "DOCBOT_POSTGRES_HOST")
	mustBind("postgres_port", "DOCBOT_POSTGRES_PORT")
	mustBind("postgres_user", "DOCBOT_POSTGRES_USER")
	mustBind("postgres_password", "DOCBOT_POSTGRES_PASSWORD")
	mustBind("postgres_db_name", "DOCBOT_POSTGRES_DB")
	mustBind("tracing_enabled", "DOCBOT_TRACING_ENABLED")
	mustBind("otlp_endpoint", "DOCBOT_OTLP_ENDPOINT")
}

// PostgresURL returns the postgres:// connection URL.
func (c *Config) PostgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   c.PostgresDBName,
	}
	q := u.Query()
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// FullModelName returns the provider-qualified model name for Genkit,
// e.g. "openai/gpt-4o" or "googleai/gemini-2.5-flash".
func (c *Config) FullModelName() string {
	return c.Provider + "/" + c.ModelName
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	if a.PostgresPassword != "" {
		a.PostgresPassword = maskedValue
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
