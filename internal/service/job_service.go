package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/timmy/shotguess/internal/broadcast"
	"github.com/timmy/shotguess/internal/domain"
	"github.com/timmy/shotguess/internal/engine"
	"github.com/timmy/shotguess/internal/logger"
	"github.com/timmy/shotguess/internal/queue"
	"gorm.io/datatypes"
)

// maxPageSize is the largest page the metadata API serves.
const maxPageSize = 40

// ProgressStore is the progress persistence the job service needs.
type ProgressStore interface {
	Create(ctx context.Context, p *domain.ImportProgress) error
	FindByID(ctx context.Context, id string) (*domain.ImportProgress, error)
	FindActiveByType(ctx context.Context, t domain.ImportType) (*domain.ImportProgress, error)
	TransitionStatus(ctx context.Context, id string, from, to domain.ImportStatus) (*domain.ImportProgress, error)
	MarkFailed(ctx context.Context, id string, reason string) error
	List(ctx context.Context, limit int) ([]domain.ImportProgress, error)
}

// StrategyRegistry resolves the strategy of a job type.
type StrategyRegistry interface {
	Strategy(t domain.ImportType) (engine.Strategy, bool)
}

// JobServiceConfig holds per-type defaults.
type JobServiceConfig struct {
	BatchSize        int
	PageSize         int
	AssetsPerRecord  int
	Ordering         string
	Genres           string
	Platforms        string
	SyncBatchSize    int
	SyncLookbackDays int
	RecalcBatchSize  int
	RecalcPageSize   int
}

// StartRequest describes a new job. Zero values take the configured defaults.
type StartRequest struct {
	Type            domain.ImportType `json:"type"`
	BatchSize       int               `json:"batch_size,omitempty"`
	PageSize        int               `json:"page_size,omitempty"`
	DryRun          bool              `json:"dry_run,omitempty"`
	AssetsPerRecord int               `json:"assets_per_record,omitempty"`
}

// JobService is the operator surface: start, pause, resume and inspect jobs.
type JobService struct {
	store       ProgressStore
	strategies  StrategyRegistry
	queue       queue.Queue
	broadcaster broadcast.Broadcaster
	cfg         JobServiceConfig
	now         func() time.Time
}

// NewJobService creates a new job service.
func NewJobService(
	store ProgressStore,
	strategies StrategyRegistry,
	q queue.Queue,
	b broadcast.Broadcaster,
	cfg JobServiceConfig,
) *JobService {
	if b == nil {
		b = broadcast.Nop{}
	}
	return &JobService{
		store:       store,
		strategies:  strategies,
		queue:       q,
		broadcaster: b,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Start creates a job and enqueues its first batch.
// Returns domain.ErrJobAlreadyActive if a job of the same type is in progress or paused.
func (s *JobService) Start(ctx context.Context, req StartRequest) (*domain.ImportProgress, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown import type %q", domain.ErrInvalidArgument, req.Type)
	}
	strategy, ok := s.strategies.Strategy(req.Type)
	if !ok {
		if req.Type == domain.ImportTypeFull || req.Type == domain.ImportTypeSync {
			return nil, fmt.Errorf("%w: %s needs rawg.api_key", domain.ErrMissingCredential, req.Type)
		}
		return nil, fmt.Errorf("%w: %s is not available", domain.ErrInvalidArgument, req.Type)
	}
	if req.BatchSize < 0 || req.PageSize < 0 || req.AssetsPerRecord < 0 {
		return nil, fmt.Errorf("%w: sizes must not be negative", domain.ErrInvalidArgument)
	}

	active, err := s.store.FindActiveByType(ctx, req.Type)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrJobAlreadyActive, active.ID, active.Status)
	}

	now := s.now()
	p := &domain.ImportProgress{
		ID:          uuid.New().String(),
		ImportType:  req.Type,
		Status:      domain.ImportStatusInProgress,
		CurrentPage: 1,
		StartedAt:   &now,
	}
	s.applyDefaults(p, req, now)

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldJobID:      p.ID,
		logger.FieldImportType: p.ImportType,
	})

	// The first record of page 1 is enough to learn the total.
	first, err := strategy.FetchPage(engine.WithProgress(ctx, p), 1, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate total: %w", err)
	}
	total := first.Total
	batches := domain.EstimateBatches(total, p.BatchSize)
	p.TotalAvailable = &total
	p.TotalBatchesEstimated = &batches

	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, queue.Task{JobID: p.ID, Batch: 0}); err != nil {
		_ = s.store.MarkFailed(ctx, p.ID, "failed to enqueue first batch: "+err.Error())
		return nil, fmt.Errorf("failed to enqueue first batch: %w", err)
	}

	logger.With(logger.Fields{
		logger.FieldCount: total,
		"batches":         batches,
		"batch_size":      p.BatchSize,
	}).Info(ctx, "Import job started")
	s.broadcaster.Broadcast(ctx, broadcast.NewSnapshot(p, "started"))
	return p, nil
}

func (s *JobService) applyDefaults(p *domain.ImportProgress, req StartRequest, now time.Time) {
	opts := domain.JobOptions{DryRun: req.DryRun}
	batchSize, pageSize := req.BatchSize, req.PageSize

	switch req.Type {
	case domain.ImportTypeRecalculate:
		batchSize = firstPositive(batchSize, s.cfg.RecalcBatchSize, 500)
		pageSize = firstPositive(pageSize, s.cfg.RecalcPageSize, 100)
	case domain.ImportTypeSync:
		batchSize = firstPositive(batchSize, s.cfg.SyncBatchSize, s.cfg.BatchSize, 50)
		pageSize = firstPositive(pageSize, s.cfg.PageSize, maxPageSize)
		opts.Ordering = "-released"
		opts.Dates = SyncDates(now, s.cfg.SyncLookbackDays)
	default:
		batchSize = firstPositive(batchSize, s.cfg.BatchSize, 100)
		pageSize = firstPositive(pageSize, s.cfg.PageSize, maxPageSize)
		opts.Ordering = s.cfg.Ordering
	}
	if req.Type != domain.ImportTypeRecalculate {
		if pageSize > maxPageSize {
			pageSize = maxPageSize
		}
		opts.AssetsPerRecord = firstPositive(req.AssetsPerRecord, s.cfg.AssetsPerRecord, defaultAssetsPerRecord)
		opts.Genres = s.cfg.Genres
		opts.Platforms = s.cfg.Platforms
	}

	p.BatchSize = batchSize
	p.PageSize = pageSize
	p.Options = datatypes.NewJSONType(opts)
}

// Pause stops a running job at its next checkpoint.
func (s *JobService) Pause(ctx context.Context, id string) (*domain.ImportProgress, error) {
	p, err := s.store.TransitionStatus(ctx, id, domain.ImportStatusInProgress, domain.ImportStatusPaused)
	if err != nil {
		return nil, err
	}
	logger.CtxInfo(logger.SetJobID(ctx, id), "Import job paused")
	s.broadcaster.Broadcast(ctx, broadcast.NewSnapshot(p, "paused"))
	return p, nil
}

// Resume continues a paused job from its stored cursor.
func (s *JobService) Resume(ctx context.Context, id string) (*domain.ImportProgress, error) {
	p, err := s.store.TransitionStatus(ctx, id, domain.ImportStatusPaused, domain.ImportStatusInProgress)
	if err != nil {
		return nil, err
	}
	ctx = logger.SetJobID(ctx, id)
	if err := s.queue.Enqueue(ctx, queue.Task{JobID: p.ID, Batch: p.CurrentBatch, Resume: true}); err != nil {
		return nil, fmt.Errorf("failed to enqueue resumed batch: %w", err)
	}
	logger.CtxInfo(ctx, "Import job resumed at page %d", p.CurrentPage)
	s.broadcaster.Broadcast(ctx, broadcast.NewSnapshot(p, "resumed"))
	return p, nil
}

// GetActive returns the in-progress or paused job of a type, or nil.
func (s *JobService) GetActive(ctx context.Context, t domain.ImportType) (*domain.ImportProgress, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown import type %q", domain.ErrInvalidArgument, t)
	}
	return s.store.FindActiveByType(ctx, t)
}

// Get returns a job by ID.
func (s *JobService) Get(ctx context.Context, id string) (*domain.ImportProgress, error) {
	return s.store.FindByID(ctx, id)
}

// List returns recent jobs, newest first.
func (s *JobService) List(ctx context.Context, limit int) ([]domain.ImportProgress, error) {
	return s.store.List(ctx, limit)
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
