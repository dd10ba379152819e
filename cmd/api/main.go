package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/shotguess/internal/api"
	"github.com/timmy/shotguess/internal/api/middleware"
	"github.com/timmy/shotguess/internal/app"
	"github.com/timmy/shotguess/internal/config"
	cronrunner "github.com/timmy/shotguess/internal/cron"
	"github.com/timmy/shotguess/internal/logger"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.GetDefault().WithError(err).Fatal("Failed to load config")
	}

	appLogger := app.NewLogger(cfg.Log, "shotguess-api")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	if _, err := a.Worker.Recover(ctx); err != nil {
		appLogger.WithError(err).Warn("Failed to recover in-progress jobs")
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := a.Worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.WithError(err).Error("Worker stopped")
		}
	}()

	scheduler := cronrunner.New(ctx)
	if cfg.Sync.Enabled {
		if _, err := scheduler.AddSync(cfg.Sync.Schedule, a.Jobs, cfg.Sync.BatchSize); err != nil {
			appLogger.WithError(err).Fatal("Failed to schedule sync")
		}
		appLogger.WithField("schedule", cfg.Sync.Schedule).Info("Scheduled recurring sync")
	}
	scheduler.Start()

	router := api.SetupRouter(api.RouterDeps{
		Jobs:   a.Jobs,
		Hub:    a.Hub,
		Health: a.HealthChecks(),
		Mode:   cfg.Server.Mode,
		CORS: middleware.CORSConfig{
			AllowedOrigins:  cfg.Server.AllowedOrigins,
			AllowAllOrigins: cfg.Server.AllowAllOrigins,
		},
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	// The running batch checkpoints and returns once its context is cancelled.
	select {
	case <-workerDone:
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker did not stop before the shutdown deadline")
	}

	appLogger.Info("Server exited")
}
