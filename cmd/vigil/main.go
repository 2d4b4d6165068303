package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/vigil/internal/accounting"
	"github.com/MikeSquared-Agency/vigil/internal/advisory"
	"github.com/MikeSquared-Agency/vigil/internal/anthropic"
	"github.com/MikeSquared-Agency/vigil/internal/api"
	"github.com/MikeSquared-Agency/vigil/internal/config"
	"github.com/MikeSquared-Agency/vigil/internal/embedding"
	"github.com/MikeSquared-Agency/vigil/internal/hermes"
	"github.com/MikeSquared-Agency/vigil/internal/knowledge"
	"github.com/MikeSquared-Agency/vigil/internal/monitor"
	"github.com/MikeSquared-Agency/vigil/internal/slack"
	"github.com/MikeSquared-Agency/vigil/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("vigil starting", "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Engine config: invalid keyword lists or interval tables halt startup.
	engine, err := config.LoadEngine(cfg.EngineConfigPath)
	if err != nil {
		slog.Error("invalid engine config", "path", cfg.EngineConfigPath, "error", err)
		os.Exit(1)
	}
	classifier, err := engine.Classifier()
	if err != nil {
		slog.Error("invalid keyword lists", "error", err)
		os.Exit(1)
	}
	intervals, err := engine.IntervalTable()
	if err != nil {
		slog.Error("invalid interval table", "error", err)
		os.Exit(1)
	}

	// Database (optional: advisory history and pgvector corpus)
	var db *store.Store
	if cfg.DatabaseURL != "" {
		db, err = store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		slog.Info("database connected")
	} else {
		slog.Warn("DATABASE_URL not set, advisory history disabled")
	}

	// Prompt cache and cost accounting
	acct, closeCache, err := buildAccountant(ctx, cfg, engine)
	if err != nil {
		slog.Error("failed to set up prompt cache", "error", err)
		os.Exit(1)
	}
	defer closeCache()

	// Anthropic client
	if cfg.AnthropicAPIKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}
	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	gen := advisory.NewGenerator(advisory.NewAnthropicModel(llm), llm.Model(), acct, advisory.Config{
		Timeout:   engine.Model.Timeout,
		Retries:   *engine.Model.Retries,
		Backoff:   engine.Model.Backoff,
		MaxTokens: engine.Model.MaxTokens,
	}, slog.Default())
	slog.Info("anthropic client ready", "model", cfg.AnthropicModel, "prompt_cache", cfg.PromptCache)

	// Knowledge corpus
	retriever, closeIndex, err := buildRetriever(cfg, engine, db)
	if err != nil {
		slog.Error("failed to set up knowledge retriever", "backend", cfg.CorpusBackend, "error", err)
		os.Exit(1)
	}
	defer closeIndex()

	// NATS/Hermes
	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer hermesClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	sinks := []monitor.Sink{monitor.NewNATSSink(hermesClient)}
	if db != nil {
		sinks = append(sinks, monitor.NewStoreSink(db))
	}

	// Slack escalation (optional; vigil works without Slack, just no supervisor alerts)
	var escalation *monitor.EscalationSink
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		poster := slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
		escalation = monitor.NewEscalationSink(poster, hermesClient, slog.Default())
		sinks = append(sinks, escalation)
		slog.Info("slack escalation ready", "channel", cfg.SlackChannel)
	} else {
		slog.Warn("slack not configured, running without RED escalation")
	}

	// Session manager: one timer-driven loop per monitored session
	mgr := monitor.NewManager(monitor.Config{
		Classifier: classifier,
		Extractor:  engine.Extractor(),
		Intervals:  intervals,
		Retriever:  retriever,
		Advisor:    gen,
		Accountant: acct,
		Retrieval: knowledge.Query{
			TopK:     engine.Retrieval.TopK,
			MinScore: engine.Retrieval.MinScore,
			Category: engine.Retrieval.Category,
		},
		IdleTimeout: engine.IdleTimeout,
	}, slog.Default(), sinks...)

	if err := mgr.StartReaper(engine.ReapEvery); err != nil {
		slog.Error("failed to start idle reaper", "error", err)
		os.Exit(1)
	}

	subscriptions := map[string]func(string, []byte){
		hermes.SubjectTranscript:   mgr.HandleTranscriptChunk,
		hermes.SubjectSessionStart: mgr.HandleSessionStart,
		hermes.SubjectSessionStop:  mgr.HandleSessionStop,
	}
	if escalation != nil {
		subscriptions[slack.SubjectReaction] = escalation.HandleReaction
	}
	for subject, handler := range subscriptions {
		if err := hermesClient.Subscribe(subject, handler); err != nil {
			slog.Error("failed to subscribe", "subject", subject, "error", err)
			os.Exit(1)
		}
	}

	// HTTP API
	deps := api.Deps{
		Sessions:   mgr,
		Classifier: classifier,
		Intervals:  intervals,
	}
	if db != nil {
		deps.History = db
	}
	srv := api.NewServer(cfg.Port, cfg.APIToken, deps, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	// Announce registration
	if err := hermesClient.Publish("swarm.agent.vigil.registered", map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      cfg.Port,
		"corpus":    cfg.CorpusBackend,
	}); err != nil {
		slog.Warn("failed to publish registration", "error", err)
	}

	slog.Info("vigil ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown failed", "error", err)
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		slog.Warn("session shutdown incomplete", "error", err)
	}
	cancel()
	slog.Info("vigil stopped")
}

func buildAccountant(ctx context.Context, cfg config.Config, engine *config.Engine) (*accounting.Accountant, func(), error) {
	rates := accounting.RateTable{
		Input:      engine.Rates.Input,
		Output:     engine.Rates.Output,
		CacheWrite: engine.Rates.CacheWrite,
		CacheRead:  engine.Rates.CacheRead,
	}
	if !cfg.PromptCache {
		slog.Info("prompt caching disabled")
		return accounting.NewAccountant(accounting.NoopCache{}, rates, slog.Default()), func() {}, nil
	}

	var registry accounting.Registry = accounting.NewMemoryRegistry()
	closeFn := func() {}
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		registry = accounting.NewRedisRegistry(rdb)
		closeFn = func() { rdb.Close() }
		slog.Info("prompt cache registry on redis")
	}

	cache := accounting.NewEphemeralCache(registry, accounting.DefaultCacheTTL)
	return accounting.NewAccountant(cache, rates, slog.Default()), closeFn, nil
}

func buildRetriever(cfg config.Config, engine *config.Engine, db *store.Store) (knowledge.Retriever, func(), error) {
	noop := func() {}

	var index knowledge.Index
	closeFn := noop
	switch cfg.CorpusBackend {
	case "", "none":
		slog.Warn("no knowledge corpus configured, advisories are ungrounded")
		return knowledge.NoopRetriever{}, noop, nil
	case "memory":
		if cfg.CorpusPath == "" {
			slog.Warn("VIGIL_CORPUS_PATH not set, advisories are ungrounded")
			return knowledge.NoopRetriever{}, noop, nil
		}
		idx, err := knowledge.LoadMemoryIndex(cfg.CorpusPath)
		if err != nil {
			return nil, noop, err
		}
		slog.Info("knowledge corpus loaded", "path", cfg.CorpusPath, "chunks", idx.Len())
		index = idx
	case "pgvector":
		if db == nil {
			return nil, noop, errors.New("pgvector corpus requires DATABASE_URL")
		}
		index = db.TheoryIndex()
	case "qdrant":
		idx, err := knowledge.NewQdrantIndex(knowledge.QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     cfg.QdrantTLS,
			Collection: cfg.QdrantCollection,
		})
		if err != nil {
			return nil, noop, err
		}
		index = idx
		closeFn = func() { idx.Close() }
		slog.Info("qdrant corpus ready", "host", cfg.QdrantHost, "collection", cfg.QdrantCollection)
	default:
		return nil, noop, fmt.Errorf("unknown corpus backend %q", cfg.CorpusBackend)
	}

	if cfg.EmbeddingAPIKey == "" {
		closeFn()
		return nil, noop, errors.New("VIGIL_EMBEDDING_API_KEY is required with a knowledge corpus")
	}
	emb := embedding.NewClient(cfg.EmbeddingURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
	r := knowledge.NewVectorRetriever(emb, index, engine.Retrieval.Timeout, *engine.Retrieval.Retries, slog.Default())
	return r, closeFn, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
