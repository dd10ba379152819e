package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/timmy/shotguess/internal/app"
	"github.com/timmy/shotguess/internal/config"
	"github.com/timmy/shotguess/internal/domain"
	"github.com/timmy/shotguess/internal/logger"
	"github.com/timmy/shotguess/internal/service"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "shotguess-ingest",
	})
	logger.SetDefaultLogger(appLogger)

	action := flag.String("action", "status", "start, run, pause, resume, status, list or recalc")
	importType := flag.String("type", string(domain.ImportTypeFull), "full_import, sync or recalculate")
	jobID := flag.String("job", "", "Job ID for pause, resume and status")
	batchSize := flag.Int("batch-size", 0, "Records per batch, 0 uses the configured default")
	pageSize := flag.Int("page-size", 0, "Records per page, 0 uses the configured default")
	dryRun := flag.Bool("dry-run", false, "Recalculate without writing scores")
	local := flag.Bool("local", false, "Run batches in this process even when Redis is enabled")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	appLogger = app.NewLogger(cfg.Log, "shotguess-ingest")
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inProcess := *local || !cfg.Redis.Enabled || *action == "run"
	a, err := app.New(ctx, cfg, app.Options{InProcessQueue: inProcess})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	appLogger.WithFields(logger.Fields{
		"action":               *action,
		logger.FieldImportType: *importType,
		logger.FieldJobID:      *jobID,
		"in_process":           inProcess,
	}).Info("Starting ingest command")

	var p *domain.ImportProgress
	switch *action {
	case "start", "recalc":
		t := domain.ImportType(*importType)
		if *action == "recalc" {
			t = domain.ImportTypeRecalculate
		}
		p, err = a.Jobs.Start(ctx, service.StartRequest{
			Type:      t,
			BatchSize: *batchSize,
			PageSize:  *pageSize,
			DryRun:    *dryRun,
		})
	case "resume":
		p, err = a.Jobs.Resume(ctx, requireJob(*jobID))
	case "pause":
		p, err = a.Jobs.Pause(ctx, requireJob(*jobID))
	case "run":
		_, err = a.Worker.Recover(ctx)
	case "status":
		if *jobID != "" {
			p, err = a.Jobs.Get(ctx, *jobID)
		} else {
			p, err = a.Jobs.GetActive(ctx, domain.ImportType(*importType))
		}
	case "list":
		var jobs []domain.ImportProgress
		jobs, err = a.Jobs.List(ctx, 20)
		if err == nil {
			printJSON(jobs)
		}
	default:
		appLogger.Fatalf("Unknown action %q", *action)
	}
	if err != nil {
		appLogger.WithError(err).Fatalf("Action %s failed", *action)
	}

	if inProcess && (*action == "start" || *action == "recalc" || *action == "resume" || *action == "run") {
		if err := a.Worker.Drain(ctx); err != nil {
			appLogger.WithError(err).Warn("Stopped before the job finished; resume it later")
		}
		if p != nil {
			if p, err = a.Jobs.Get(context.WithoutCancel(ctx), p.ID); err != nil {
				appLogger.WithError(err).Fatal("Failed to reload job")
			}
		}
	}

	if p != nil {
		printJSON(p)
	} else if *action == "status" {
		fmt.Println("no active job")
	}
}

func requireJob(id string) string {
	if id == "" {
		fmt.Fprintln(os.Stderr, "-job is required")
		os.Exit(2)
	}
	return id
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
