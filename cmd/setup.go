package cmd

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medicore/medicore/internal/chatlog"
	"github.com/medicore/medicore/internal/config"
	"github.com/medicore/medicore/internal/corpus"
	"github.com/medicore/medicore/internal/llm"
	"github.com/medicore/medicore/internal/log"
	"github.com/medicore/medicore/internal/rag"
)

// app bundles the wired components shared by the serve and backfill commands.
type app struct {
	cfg      *config.Config
	logger   log.Logger
	pool     *pgxpool.Pool
	client   *llm.Client
	corpus   *corpus.Store
	history  *chatlog.Store
	pipeline *rag.Pipeline
}

// setup loads configuration and wires every component. Callers must call
// close() when done.
func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	// serve and backfill both talk to the gateway; migrate loads config
	// without this check.
	if err := cfg.ValidateServe(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	logger := initLogger(cfg.LogLevel, cfg.LogJSON)

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
	}

	client, err := llm.NewClient(llm.Config{
		BaseURL:    cfg.GatewayURL,
		APIKey:     cfg.GatewayAPIKey,
		ChatModel:  cfg.ChatModel,
		EmbedModel: cfg.EmbedModel,
	}, logger.With("component", "llm"))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating gateway client: %w", err)
	}

	corpusStore, err := corpus.NewStore(pool, cfg.EmbedDimension, logger.With("component", "corpus"))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating corpus store: %w", err)
	}

	historyStore, err := chatlog.NewStore(pool, logger.With("component", "chatlog"))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating chatlog store: %w", err)
	}

	pipeline, err := rag.New(client, corpusStore, historyStore, client, rag.Options{
		Threshold:    cfg.Threshold,
		TopK:         cfg.TopK,
		HistoryLimit: cfg.HistoryLimit,
	}, logger.With("component", "pipeline"))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		client:   client,
		corpus:   corpusStore,
		history:  historyStore,
		pipeline: pipeline,
	}, nil
}

func (a *app) close() {
	a.pool.Close()
}
