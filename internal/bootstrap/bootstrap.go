package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/literature-assistant/internal/config"
	"github.com/kirillkom/literature-assistant/internal/core/ports"
	"github.com/kirillkom/literature-assistant/internal/core/usecase"
	"github.com/kirillkom/literature-assistant/internal/infrastructure/events/nats"
	"github.com/kirillkom/literature-assistant/internal/infrastructure/extractor/document"
	"github.com/kirillkom/literature-assistant/internal/infrastructure/files"
	"github.com/kirillkom/literature-assistant/internal/infrastructure/jsonrepair"
	"github.com/kirillkom/literature-assistant/internal/infrastructure/llm/openai"
	"github.com/kirillkom/literature-assistant/internal/infrastructure/prompts"
	"github.com/kirillkom/literature-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/literature-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/literature-assistant/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/literature-assistant/internal/infrastructure/workpool"
	"github.com/kirillkom/literature-assistant/internal/observability/metrics"
)

const (
	serviceName        = "literature-api"
	poolReleaseTimeout = 10 * time.Second
)

type App struct {
	Config config.Config

	Guides  ports.GuideGenerator
	Batches ports.BatchImporter
	Reader  ports.LiteratureReader

	HTTPMetrics *metrics.HTTPServerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewLiteratureRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	fileService := files.NewService(storage, document.NewExtractor())

	promptSource := prompts.New(cfg.PromptsPath)
	if _, err := promptSource.GuidePrompt(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	modelClient := openai.New(openai.Config{
		BaseURL:        cfg.LLMBaseURL,
		APIKey:         cfg.LLMAPIKey,
		Model:          cfg.LLMModel,
		ConnectTimeout: time.Duration(cfg.LLMConnectTimeoutSecs) * time.Second,
		ReadTimeout:    time.Duration(cfg.LLMReadTimeoutSecs) * time.Second,
	}, resilience.NewBreaker(breakerConfig(cfg)))

	pool, err := workpool.New(workpool.Config{
		Name:     "pipeline",
		Capacity: cfg.WorkerPoolSize,
		Expiry:   time.Duration(cfg.WorkerPoolExpirySeconds) * time.Second,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init worker pool: %w", err)
	}

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	pipelineMetrics := metrics.NewPipelineMetrics(serviceName, httpMetrics.Registerer())
	pipelineMetrics.ObservePool(pool.Running, pool.Cap())

	var events ports.EventPublisher
	var publisher *nats.Publisher
	if cfg.NATSURL != "" {
		publisher, err = nats.NewPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, nats.Options{
			Breaker: resilience.NewBreaker(resilience.DefaultConfig()),
		})
		if err != nil {
			_ = pool.Release(poolReleaseTimeout)
			_ = db.Close()
			return nil, fmt.Errorf("init event publisher: %w", err)
		}
		events = publisher
	} else {
		slog.Info("literature_events_disabled")
	}

	orchestrator := usecase.NewGenerationOrchestrator(usecase.Dependencies{
		Repo:     repo,
		Files:    fileService,
		Model:    modelClient,
		Prompts:  promptSource,
		Decoder:  jsonrepair.NewClassificationDecoder(),
		Runner:   pool,
		Events:   events,
		Observer: pipelineMetrics,
		Guide: usecase.GuideOptions{
			MaxTokens:   cfg.LLMGuideMaxTokens,
			Temperature: cfg.LLMGuideTemperature,
		},
	})

	return &App{
		Config:      cfg,
		Guides:      orchestrator,
		Batches:     usecase.NewBatchImportUseCase(orchestrator),
		Reader:      usecase.NewLiteratureQueryUseCase(repo, fileService),
		HTTPMetrics: httpMetrics,
		closeFn: func() {
			closeAll(pool, publisher, db)
		},
	}, nil
}

func breakerConfig(cfg config.Config) resilience.Config {
	return resilience.Config{
		Enabled:          cfg.LLMBreakerEnabled,
		MinRequests:      uint32(max(cfg.LLMBreakerMinRequests, 0)),
		FailureRatio:     cfg.LLMBreakerFailureRatio,
		OpenTimeout:      time.Duration(cfg.LLMBreakerOpenTimeoutSecs) * time.Second,
		HalfOpenMaxCalls: uint32(max(cfg.LLMBreakerHalfOpenMaxCalls, 0)),
	}
}

// closeAll releases the pool first so in-flight items can still reach the
// database and the bus.
func closeAll(pool *workpool.Pool, publisher *nats.Publisher, db *sql.DB) {
	if err := pool.Release(poolReleaseTimeout); err != nil {
		slog.Warn("worker_pool_release_failed", "error", err)
	}
	if publisher != nil {
		publisher.Close()
	}
	if err := db.Close(); err != nil {
		slog.Warn("postgres_close_failed", "error", err)
	}
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
