// Package app assembles the import engine from configuration. Both binaries
// build on it so the API server and the CLI run identical wiring.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/timmy/shotguess/internal/api/handler"
	"github.com/timmy/shotguess/internal/broadcast"
	"github.com/timmy/shotguess/internal/config"
	"github.com/timmy/shotguess/internal/domain"
	"github.com/timmy/shotguess/internal/engine"
	"github.com/timmy/shotguess/internal/logger"
	"github.com/timmy/shotguess/internal/queue"
	"github.com/timmy/shotguess/internal/ratelimit"
	"github.com/timmy/shotguess/internal/repository"
	"github.com/timmy/shotguess/internal/service"
	"github.com/timmy/shotguess/internal/source/rawg"
	"github.com/timmy/shotguess/internal/storage"
	"gorm.io/gorm"
)

// Options tweak assembly per binary.
type Options struct {
	// InProcessQueue forces the memory queue even when Redis is enabled.
	InProcessQueue bool
}

// App holds the assembled components.
type App struct {
	Config   *config.Config
	DB       *gorm.DB
	Progress *repository.ProgressRepository
	Engine   *engine.Engine
	Jobs     *service.JobService
	Queue    queue.Queue
	Worker   *queue.Worker
	Hub      *broadcast.Hub

	redis *queue.RedisQueue
}

// NewLogger builds the process logger from the log section and installs it as default.
func NewLogger(cfg config.LogConfig, service string) *logger.Logger {
	l := logger.New(&logger.Config{
		Level:       cfg.Level,
		Format:      cfg.Format,
		ServiceName: service,
		File:        cfg.File,
		FileOnly:    cfg.FileOnly,
		MaxSizeMB:   cfg.MaxSizeMB,
		MaxBackups:  cfg.MaxBackups,
		MaxAgeDays:  cfg.MaxAgeDays,
		Compress:    cfg.Compress,
	})
	logger.SetDefaultLogger(l)
	return l
}

// New connects storage and registers every strategy whose dependencies are configured.
// The full_import and sync strategies are skipped, with a warning, when no API key is set.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	progressRepo := repository.NewProgressRepository(db)
	gameRepo := repository.NewGameRepository(db)
	sessionRepo := repository.NewSessionRepository(db)

	hub := broadcast.NewHub(broadcast.HubConfig{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		AllowAllOrigins: cfg.Server.AllowAllOrigins,
	})
	bc := broadcast.Multi{broadcast.LogBroadcaster{}, hub}

	eng := engine.New(progressRepo, bc, engine.Config{CheckpointEvery: cfg.Import.CheckpointEvery})
	eng.Register(service.NewRecalcStrategy(sessionRepo))

	if err := registerImportStrategies(ctx, cfg, eng, gameRepo); err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		DB:       db,
		Progress: progressRepo,
		Engine:   eng,
		Hub:      hub,
	}

	if cfg.Redis.Enabled && !opts.InProcessQueue {
		rq, err := queue.NewRedisQueue(ctx, queue.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			QueueName: cfg.Redis.QueueName,
		})
		if err != nil {
			return nil, err
		}
		a.redis = rq
		a.Queue = rq
		logger.Info("Using Redis task queue at %s", cfg.Redis.Addr)
	} else {
		a.Queue = queue.NewMemoryQueue(256)
		logger.Info("Using in-process task queue")
	}

	a.Worker = queue.NewWorker(a.Queue, eng, progressRepo, queue.WorkerConfig{
		BatchDelay: cfg.Import.BatchDelay,
	})

	a.Jobs = service.NewJobService(progressRepo, eng, a.Queue, bc, service.JobServiceConfig{
		BatchSize:        cfg.Import.BatchSize,
		PageSize:         cfg.Import.PageSize,
		AssetsPerRecord:  cfg.Import.AssetsPerRecord,
		Ordering:         cfg.Import.Ordering,
		Genres:           cfg.Import.Genres,
		Platforms:        cfg.Import.Platforms,
		SyncBatchSize:    cfg.Sync.BatchSize,
		SyncLookbackDays: cfg.Sync.LookbackDays,
		RecalcBatchSize:  cfg.Recalc.BatchSize,
		RecalcPageSize:   cfg.Recalc.PageSize,
	})

	return a, nil
}

func registerImportStrategies(ctx context.Context, cfg *config.Config, eng *engine.Engine, games *repository.GameRepository) error {
	limiter := ratelimit.New(ratelimit.Config{
		MaxRequests:  cfg.RateLimit.MaxRequests,
		Window:       cfg.RateLimit.Window,
		MinSpacing:   cfg.RateLimit.MinSpacing,
		SafetyMargin: cfg.RateLimit.SafetyMargin,
	})
	client, err := rawg.NewClient(rawg.Config{
		BaseURL:             cfg.RAWG.BaseURL,
		APIKey:              cfg.RAWG.APIKey,
		Timeout:             cfg.RAWG.Timeout,
		Cooldown:            cfg.RAWG.RateLimitCooldown,
		MaxRateLimitRetries: cfg.RAWG.MaxRateLimitRetries,
	}, limiter)
	if errors.Is(err, domain.ErrMissingCredential) {
		logger.Warn("Game imports disabled: %v", err)
		return nil
	}
	if err != nil {
		return err
	}

	mirror, err := storage.NewMirror(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage mirror: %w", err)
	}

	fetcher := service.NewAssetFetcher(&service.AssetFetcherConfig{
		Retries:   cfg.Assets.Retries,
		BaseDelay: cfg.Assets.BaseDelay,
		Timeout:   cfg.Assets.Timeout,
	})
	local := storage.NewLocalStorage(cfg.Assets.Root)

	for _, t := range []domain.ImportType{domain.ImportTypeFull, domain.ImportTypeSync} {
		eng.Register(service.NewGameImportStrategy(t, client, games, fetcher, local, mirror))
	}
	return nil
}

// HealthChecks returns the dependencies reported by /health.
func (a *App) HealthChecks() map[string]handler.Pinger {
	checks := map[string]handler.Pinger{
		"database": handler.PingFunc(func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
	}
	if a.redis != nil {
		checks["redis"] = a.redis
	}
	return checks
}

// Close releases connections.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
