package api

import (
	"context"
	"errors"
	"fmt"

	authrepository "mailrecall-backend/internal/auth/repository"
	authusecase "mailrecall-backend/internal/auth/usecase"
	emaildelivery "mailrecall-backend/internal/email/delivery"
	emaildomain "mailrecall-backend/internal/email/domain"
	"mailrecall-backend/internal/email/extractor"
	emailrepository "mailrecall-backend/internal/email/repository"
	"mailrecall-backend/internal/email/usecase"
	"mailrecall-backend/pkg/ai"
	"mailrecall-backend/pkg/chroma"
	"mailrecall-backend/pkg/config"
	"mailrecall-backend/pkg/database"
	"mailrecall-backend/pkg/gmail"
	"mailrecall-backend/pkg/imap"
	"mailrecall-backend/pkg/mailbox"
	"mailrecall-backend/pkg/metrics"
	"mailrecall-backend/pkg/observability"
	"mailrecall-backend/pkg/qdrant"
	"mailrecall-backend/pkg/vectorstore/memory"
	"mailrecall-backend/pkg/vectorstore/pgvector"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds every wired component. The HTTP server and the CLI commands share it.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	DB          *gorm.DB
	Store       usecase.VectorStore
	Embedder    ai.Embedder
	Credentials authrepository.CredentialRepository
	History     *usecase.HistoryService
	Ingestor    *usecase.IngestionPipeline
	Searcher    *usecase.SearchEngine
	Tokens      authusecase.TokenService

	closers []func(context.Context) error
}

// NewApp connects to the database and the configured vector backend, then wires the
// ingestion, search and history services.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	app := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close(context.Background())
		}
	}()

	metrics.Register()

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:  "mailrecall-backend",
		Environment:  cfg.AppEnv,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SampleRate:   cfg.TraceSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	app.closers = append(app.closers, tp.Shutdown)

	app.DB, err = database.NewPostgresConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(app.DB, cfg.VectorBackend == config.BackendPgvector); err != nil {
		return nil, err
	}

	app.Store, err = app.newVectorStore(ctx)
	if err != nil {
		return nil, err
	}

	app.Embedder, err = ai.NewEmbedder(ai.Config{
		Provider:      ai.ProviderType(cfg.EmbeddingProvider),
		GeminiAPIKey:  cfg.GeminiApiKey,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIModel:   cfg.OpenAIModel,
		OllamaBaseURL: cfg.OllamaBaseURL,
		OllamaModel:   cfg.OllamaModel,

		OllamaFallbackBaseURL: cfg.OllamaFallbackURL,

		RateLimit: ai.RateLimitConfig{
			RequestsPerSecond: cfg.EmbedRateLimit,
			BurstSize:         cfg.EmbedRateBurst,
		},
	}, logger)
	if err != nil {
		return nil, err
	}

	app.Credentials = authrepository.NewCredentialRepository(app.DB)
	router := mailbox.NewRouter(
		app.Credentials,
		gmail.NewService(cfg.GoogleClientID, cfg.GoogleClientSecret),
		imap.NewService(),
		cfg.EncryptionKey,
		logger,
	)

	app.History = usecase.NewHistoryService(
		emailrepository.NewSearchHistoryRepository(app.DB),
		usecase.HistoryConfig{FuzzyFill: cfg.HistoryFuzzyFill},
		logger,
	)

	app.Ingestor = usecase.NewIngestionPipeline(
		router,
		app.Embedder,
		app.Store,
		extractor.NewBuilder(cfg.MaxEmbedChars),
		usecase.IngestConfig{
			Workers:     cfg.IngestWorkers,
			CallTimeout: cfg.ExternalCallTimeout,
		},
		logger,
	)

	app.Searcher = usecase.NewSearchEngine(
		app.Embedder,
		app.Store,
		router,
		app.History,
		usecase.SearchConfig{
			DefaultLimit:     cfg.SearchDefaultLimit,
			DefaultThreshold: cfg.SearchThreshold,
			OverFetchFactor:  cfg.SearchOverFetch,
			OverFetchCap:     cfg.SearchOverFetchCap,
			HydrationWorkers: cfg.HydrationWorkers,
			CallTimeout:      cfg.ExternalCallTimeout,
		},
		logger,
	)

	app.Tokens = authusecase.NewTokenService(cfg.JWTSecret)
	return app, nil
}

func (a *App) newVectorStore(ctx context.Context) (usecase.VectorStore, error) {
	cfg := a.Config
	switch cfg.VectorBackend {
	case config.BackendPgvector:
		store := pgvector.NewStore(a.DB, pgvector.HNSWConfig{
			M:              cfg.HNSWM,
			EfConstruction: cfg.HNSWEfConstruction,
			EfSearch:       cfg.HNSWEfSearch,
		})
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil

	case config.BackendChroma:
		store, err := chroma.NewChromaStore(ctx, chroma.Config{
			APIKey:     cfg.ChromaAPIKey,
			Tenant:     cfg.ChromaTenant,
			Database:   cfg.ChromaDatabase,
			Collection: cfg.ChromaCollection,
		}, a.Logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		return store, nil

	case config.BackendQdrant:
		store, err := qdrant.NewQdrantStore(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection, a.Logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		if err := store.EnsureCollection(ctx); err != nil {
			return nil, err
		}
		return store, nil

	case config.BackendMemory:
		a.Logger.Warn("[Store] Using the in-memory vector store; embeddings are lost on exit")
		return memory.NewStore(), nil
	}
	return nil, fmt.Errorf("vector backend %q: %w", cfg.VectorBackend, emaildomain.ErrConfiguration)
}

// EmailHandler builds the HTTP handler over the wired services.
func (a *App) EmailHandler() *emaildelivery.EmailHandler {
	return emaildelivery.NewEmailHandler(a.Searcher, a.History, a.Ingestor, a.Logger)
}

// Verify probes the embedding provider for its vector width.
func (a *App) Verify(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.Config.ExternalCallTimeout)
	defer cancel()
	return ai.VerifyDimension(ctx, a.Embedder)
}

// Close waits for pending history writes and releases connections in reverse order.
func (a *App) Close(ctx context.Context) error {
	if a.History != nil {
		a.History.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
