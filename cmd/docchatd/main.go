package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docchat/internal/cache"
	"docchat/internal/config"
	"docchat/internal/embedder"
	"docchat/internal/ingestion"
	"docchat/internal/llm"
	"docchat/internal/ranking"
	"docchat/internal/repository/postgres"
	"docchat/internal/reranker"
	"docchat/internal/server"
	"docchat/internal/service"
	"docchat/internal/session"
	"docchat/internal/vectorstore"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting document chat service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	// PostgreSQL: sessions, messages, ingestion fingerprints.
	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	slog.Info("connected to PostgreSQL")

	sessionRepo := postgres.NewSessionRepo(db)
	messageRepo := postgres.NewMessageRepo(db)
	fingerprintRepo := postgres.NewFingerprintRepo(db)

	// Redis: answer and retrieval caches.
	cacheStore := cache.NewRedisStore(cache.RedisConfig{
		Addr:    cfg.RedisAddr,
		DB:      cfg.RedisDB,
		Timeout: cfg.RedisTimeout,
	}, slog.Default())
	defer cacheStore.Close()
	if err := cacheStore.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	slog.Info("connected to Redis")

	// Qdrant: per-session vector indexes.
	vectorStore, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorStore.Close()
	slog.Info("connected to Qdrant")

	// Ollama: embeddings, generation, and pairwise scoring.
	embed := embedder.NewOllamaEmbedder(
		embedder.WithBaseURL(cfg.OllamaURL),
		embedder.WithModel(cfg.OllamaEmbeddingModel),
	)
	slog.Info("initialized embedder", "model", cfg.OllamaEmbeddingModel, "dimension", embed.Dimension())

	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
	)
	slog.Info("initialized LLM", "model", cfg.OllamaLLMModel)

	var rer reranker.Reranker
	if cfg.RerankerEnabled {
		rer = reranker.NewLLMReranker(llmClient, reranker.WithModel(cfg.OllamaRerankModel))
		slog.Info("initialized reranker", "model", cfg.OllamaRerankModel)
	}

	engine := ranking.NewEngine(ranking.Config{
		SearchType:         cfg.SearchType,
		TopK:               cfg.TopK,
		FetchK:             cfg.FetchK,
		LambdaMult:         float64(cfg.LambdaMult),
		FinalK:             cfg.FinalK,
		TopKForCheck:       cfg.TopKForCheck,
		Alpha:              cfg.RelevanceAlpha,
		Beta:               cfg.RelevanceBeta,
		RelevanceThreshold: cfg.RelevanceThreshold,
		ScoreThreshold:     cfg.ScoreThreshold,
	}, rer, slog.Default())

	registry := session.NewRegistry(cfg.SessionIndexTTL, vectorStore, embed, fingerprintRepo, slog.Default())

	chatSvc := service.NewChatService(
		cacheStore,
		registry,
		engine,
		embed,
		llmClient,
		sessionRepo,
		messageRepo,
		service.ChatConfig{
			AnswerTTL:         cfg.AnswerCacheTTL,
			RetrievalTTL:      cfg.RetrievalCacheTTL,
			SemanticThreshold: cfg.SemanticThreshold,
			Workers:           cfg.WorkerPoolSize,
			Model:             cfg.OllamaLLMModel,
		},
		slog.Default(),
	)
	ingestSvc := service.NewIngestService(registry, ingestion.NewSplitter(ingestion.SplitterConfig{}), sessionRepo, slog.Default())
	sessionSvc := service.NewSessionService(sessionRepo, messageRepo, vectorStore, registry, slog.Default())

	httpServer := server.NewHTTPServer(server.HTTPServerConfig{
		Port:           cfg.HTTPPort,
		Logger:         slog.Default(),
		AllowedOrigins: []string{"*"},
		Ready: func(ctx context.Context) error {
			if err := db.Pool.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if err := cacheStore.Ping(ctx); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
	}, server.NewChatHandler(chatSvc, ingestSvc, sessionSvc))

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
