package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SLU-IT-arkitektur/slu-docbot/db"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/answer"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/cache"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/config"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/i18n"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/llm"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/log"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/observability"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/store"
	"github.com/SLU-IT-arkitektur/slu-docbot/internal/tokens"
)

// app holds the wired components behind every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	pool     *pgxpool.Pool
	store    *store.Store
	codec    *tokens.Codec
	client   *llm.Client
	semcache *cache.SemanticCache
	handler  *answer.Handler
	tr       i18n.Translator

	tracingShutdown func(context.Context) error
}

// newApp loads configuration, migrates the database and wires the full
// component graph. Callers must invoke close when done.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: flagJSONLogs})
	logger.Debug("configuration loaded", "config", cfg)

	a := &app{cfg: cfg, logger: logger, tr: i18n.New(cfg.Language)}

	if cfg.TracingEnabled {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.OTLPEndpoint,
			ServiceName: cfg.ServiceName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		a.tracingShutdown = shutdown
	}

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	a.pool, err = store.NewPool(ctx, cfg.PostgresURL())
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	a.store = store.New(a.pool, logger)

	a.codec, err = tokens.NewCodec()
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}

	a.client, err = llm.Setup(ctx, cfg, logger)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("setting up model client: %w", err)
	}

	if cfg.CacheEnabled {
		a.semcache, err = cache.New(cache.Config{
			Backend:       a.store,
			Embedder:      a.client,
			MinSimilarity: cfg.CacheMinSimilarity,
			TTL:           cfg.CacheTTL,
			Logger:        logger,
		})
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("setting up semantic cache: %w", err)
		}
	}

	handlerCfg := answer.Config{
		Storage:              a.store,
		Embedder:             a.client,
		Completer:            a.client,
		Codec:                a.codec,
		Translator:           a.tr,
		Logger:               logger,
		PromptInstructions:   cfg.PromptInstructions,
		SectionMinSimilarity: cfg.SectionMinSimilarity,
		CompletionTimeout:    cfg.CompletionTimeout,
	}
	if a.semcache != nil {
		handlerCfg.Cache = a.semcache
	}
	a.handler, err = answer.New(handlerCfg)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("setting up answer handler: %w", err)
	}

	return a, nil
}

func (a *app) close(ctx context.Context) {
	if a.tracingShutdown != nil {
		if err := a.tracingShutdown(ctx); err != nil {
			a.logger.Warn("flushing traces failed", "error", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
