// Package commands implements the docvecd subcommands.
package commands

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/docvec/internal/cache"
	"github.com/cloo-solutions/docvec/internal/config"
	"github.com/cloo-solutions/docvec/internal/database"
	"github.com/cloo-solutions/docvec/internal/jobs"
	"github.com/cloo-solutions/docvec/internal/memstore"
	"github.com/cloo-solutions/docvec/internal/notify"
	"github.com/cloo-solutions/docvec/internal/parser"
	"github.com/cloo-solutions/docvec/internal/provider"
	"github.com/cloo-solutions/docvec/internal/repository"
	"github.com/cloo-solutions/docvec/internal/service"
	"github.com/cloo-solutions/docvec/internal/telemetry"
)

// AppOptions control how NewApp connects.
type AppOptions struct {
	// Migrate applies pending migrations before the stores are built.
	Migrate bool
	// MigrationsSource overrides database.DefaultMigrationsSource.
	MigrationsSource string
	// Provider replaces the configured embedding provider (tests).
	Provider service.EmbeddingProvider
}

// App holds the wired services shared by every subcommand.
type App struct {
	Config   *config.Config
	Pipeline *service.DocumentPipeline
	Search   *service.SearchService

	// Queue and Jobs are nil with the memory store.
	Queue *service.JobQueue
	Jobs  jobs.JobStore

	closers []func()
}

// NewApp builds the stores, provider, cache and sinks described by cfg.
func NewApp(ctx context.Context, cfg *config.Config, opts AppOptions) (*App, error) {
	app := &App{Config: cfg}

	stores, err := app.openStores(ctx, opts)
	if err != nil {
		app.Close()
		return nil, err
	}

	embedder := opts.Provider
	if embedder == nil {
		embedder, err = provider.New(ctx, ProviderConfig(cfg))
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to create embedding provider: %w", err)
		}
		if c, ok := embedder.(io.Closer); ok {
			app.closers = append(app.closers, func() { _ = c.Close() })
		}
	}

	var (
		embeddingCache service.EmbeddingCache
		sink           service.NotificationSink = service.LogSink{}
	)
	if cfg.HasRedis() {
		client, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = client.Close() })
		embeddingCache = cache.NewRedisCache(client, cfg.EmbeddingCacheTTL)
		sink = service.MultiSink{service.LogSink{}, notify.NewRedisSink(client, cfg.NotifyChannel)}
		log.Printf("redis: embedding cache and progress channel %q enabled", cfg.NotifyChannel)
	}

	embeddings := service.NewEmbeddingServiceWithConfig(embedder, embeddingCache, EmbeddingConfig(cfg))
	app.Pipeline = service.NewDocumentPipeline(stores.docs, stores.chunks, stores.tx, embeddings, parser.Default(), sink, PipelineConfig(cfg))
	app.Search = service.NewSearchService(embeddings, stores.chunks, stores.records, SearchConfig(cfg))
	if stores.jobs != nil {
		app.Queue = service.NewJobQueue(stores.jobs, stores.tx)
		app.Jobs = stores.runnerJobs
	}
	return app, nil
}

type appStores struct {
	docs       service.DocumentRepository
	chunks     service.ChunkStore
	tx         service.TxRunner
	records    service.SearchRecordRepository
	jobs       service.JobRepository
	runnerJobs jobs.JobStore
}

func (a *App) openStores(ctx context.Context, opts AppOptions) (*appStores, error) {
	if a.Config.UsesMemoryStore() {
		store := memstore.New()
		log.Println("store: using in-memory store, async processing disabled")
		return &appStores{docs: store, chunks: store.Chunks(), tx: store, records: store.SearchRecords()}, nil
	}

	if opts.Migrate {
		if _, err := database.Migrate(a.Config.DatabaseURL, opts.MigrationsSource); err != nil {
			return nil, err
		}
	}

	pool, err := database.NewPool(ctx, database.Config{URL: a.Config.DatabaseURL, MaxConns: a.Config.DBMaxConns})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	log.Println("connected to database")

	return postgresStores(pool), nil
}

func postgresStores(pool *pgxpool.Pool) *appStores {
	jobRepo := repository.NewProcessingJobRepository(pool)
	return &appStores{
		docs:       repository.NewDocumentRepository(pool),
		chunks:     repository.NewChunkStore(pool),
		tx:         repository.NewTxRunner(pool),
		records:    repository.NewSearchRecordRepository(pool),
		jobs:       jobRepo,
		runnerJobs: jobRepo,
	}
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ProviderConfig maps cfg onto the provider factory settings.
func ProviderConfig(cfg *config.Config) provider.Config {
	return provider.Config{
		Provider:       cfg.EmbeddingProvider,
		Model:          cfg.EmbeddingModel,
		Dimensions:     cfg.EmbeddingDimensions,
		BaseURL:        cfg.EmbeddingBaseURL,
		OpenAIAPIKey:   cfg.OpenAIAPIKey,
		GeminiAPIKey:   cfg.GeminiAPIKey,
		RateLimit:      cfg.EmbeddingRateLimit,
		CircuitBreaker: cfg.EmbeddingCircuitBreaker,
	}
}

func EmbeddingConfig(cfg *config.Config) service.EmbeddingConfig {
	return service.EmbeddingConfig{
		MaxInputChars: cfg.EmbeddingMaxInputChars,
		BatchSize:     cfg.EmbeddingBatchSize,
		Timeout:       cfg.EmbeddingTimeout,
	}
}

func PipelineConfig(cfg *config.Config) service.PipelineConfig {
	return service.PipelineConfig{
		Chunk:           service.ChunkConfig{Size: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		IngestBatchSize: cfg.IngestBatchSize,
		Concurrency:     cfg.WorkerConcurrency,
		EmbedBatchSize:  cfg.EmbeddingBatchSize,
	}
}

func SearchConfig(cfg *config.Config) service.SearchConfig {
	return service.SearchConfig{
		SimilarityThreshold: cfg.SearchSimilarityThreshold,
		MaxResults:          cfg.MaxSearchResults,
		Ranking: service.RankingOptions{
			Enabled:          cfg.UsageRanking,
			SimilarityWeight: cfg.SimilarityWeight,
			FrequencyWeight:  cfg.FrequencyWeight,
			RecencyWeight:    cfg.RecencyWeight,
		},
	}
}

// initTelemetry starts Sentry when a DSN is configured. Failure is logged and
// the command continues without tracing.
func initTelemetry(cfg *config.Config) func() {
	if cfg.SentryDSN == "" {
		return func() {}
	}
	shutdown, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: telemetry.SampleRateFor(cfg.Environment),
		Debug:            cfg.Debug,
	})
	if err != nil {
		log.Printf("telemetry init failed (continuing without tracing): %v", err)
		return func() {}
	}
	return shutdown
}
