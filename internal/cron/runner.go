// Package cronrunner schedules recurring import jobs.
package cronrunner

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"github.com/timmy/shotguess/internal/domain"
	"github.com/timmy/shotguess/internal/logger"
	"github.com/timmy/shotguess/internal/service"
)

// JobStarter starts import jobs.
type JobStarter interface {
	Start(ctx context.Context, req service.StartRequest) (*domain.ImportProgress, error)
}

// Runner wraps a seconds-precision cron scheduler.
type Runner struct {
	cron    *cron.Cron
	baseCtx context.Context
}

// New creates a Runner whose jobs run with baseCtx.
func New(baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Runner{
		cron:    cron.New(cron.WithSeconds()),
		baseCtx: logger.SetComponent(baseCtx, "cron"),
	}
}

// Add registers job under a cron schedule.
func (r *Runner) Add(schedule string, job func(context.Context)) (cron.EntryID, error) {
	return r.cron.AddFunc(schedule, func() {
		job(r.baseCtx)
	})
}

// AddSync schedules a recurring sync job. A tick that finds a sync already
// running is a no-op.
func (r *Runner) AddSync(schedule string, starter JobStarter, batchSize int) (cron.EntryID, error) {
	return r.Add(schedule, func(ctx context.Context) {
		StartSync(ctx, starter, batchSize)
	})
}

// StartSync starts one sync job, logging rather than returning the outcome.
func StartSync(ctx context.Context, starter JobStarter, batchSize int) {
	p, err := starter.Start(ctx, service.StartRequest{Type: domain.ImportTypeSync, BatchSize: batchSize})
	switch {
	case errors.Is(err, domain.ErrJobAlreadyActive):
		logger.CtxInfo(ctx, "Scheduled sync skipped: %v", err)
	case err != nil:
		logger.CtxError(ctx, "Scheduled sync failed to start: %v", err)
	default:
		logger.With(logger.Fields{logger.FieldJobID: p.ID}).Info(ctx, "Scheduled sync started")
	}
}

// Entries returns the number of scheduled jobs.
func (r *Runner) Entries() int {
	return len(r.cron.Entries())
}

func (r *Runner) Start() {
	logger.CtxInfo(r.baseCtx, "Cron started")
	r.cron.Start()
}

// Stop waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	logger.CtxInfo(r.baseCtx, "Cron stopped")
}
