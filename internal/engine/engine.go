// Package engine runs resumable import jobs one batch at a time.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/timmy/shotguess/internal/broadcast"
	"github.com/timmy/shotguess/internal/domain"
	"github.com/timmy/shotguess/internal/logger"
)

// DefaultCheckpointEvery is the number of processed records between checkpoints.
const DefaultCheckpointEvery = 10

// Store is the progress persistence the engine needs.
type Store interface {
	FindByID(ctx context.Context, id string) (*domain.ImportProgress, error)
	GetStatus(ctx context.Context, id string) (domain.ImportStatus, error)
	Update(ctx context.Context, id string, fields map[string]interface{}) error
	UpdateProgress(ctx context.Context, id string, c domain.ProgressCounters) error
	SetStatus(ctx context.Context, id string, status domain.ImportStatus) (*domain.ImportProgress, error)
	MarkFailed(ctx context.Context, id string, reason string) error
}

// BatchResult summarises one RunBatch call.
type BatchResult struct {
	JobID            string
	Batch            int
	Status           domain.ImportStatus
	Processed        int
	Imported         int
	Skipped          int
	Failed           int
	AssetsDownloaded int
	AssetsFailed     int
	Paused           bool
	Completed        bool
	// Interrupted is set when the context was cancelled mid-batch; the job stays in_progress.
	Interrupted bool
	Duration    time.Duration
}

// Config holds engine settings.
type Config struct {
	CheckpointEvery int
}

// Engine executes batches for registered strategies.
type Engine struct {
	store           Store
	broadcaster     broadcast.Broadcaster
	strategies      map[domain.ImportType]Strategy
	checkpointEvery int
}

// New creates an Engine.
func New(store Store, b broadcast.Broadcaster, cfg Config) *Engine {
	if b == nil {
		b = broadcast.Nop{}
	}
	every := cfg.CheckpointEvery
	if every <= 0 {
		every = DefaultCheckpointEvery
	}
	return &Engine{
		store:           store,
		broadcaster:     b,
		strategies:      make(map[domain.ImportType]Strategy),
		checkpointEvery: every,
	}
}

// Register adds a strategy, replacing any previous one for the same type.
func (e *Engine) Register(s Strategy) {
	e.strategies[s.Type()] = s
}

// Strategy returns the registered strategy for t.
func (e *Engine) Strategy(t domain.ImportType) (Strategy, bool) {
	s, ok := e.strategies[t]
	return s, ok
}

// errStop signals a pause checkpoint hit: the job is no longer in_progress.
var errStop = errors.New("job left in_progress")

// batch is the mutable state of one RunBatch call.
type batch struct {
	progress        *domain.ImportProgress
	counters        domain.ProgressCounters
	result          *BatchResult
	page            int
	offset          int
	sinceCheckpoint int
}

func (b *batch) record(outcome Outcome) {
	b.counters.ItemsProcessed++
	b.result.Processed++
	switch outcome.Result {
	case ResultImported:
		b.counters.ItemsImported++
		b.result.Imported++
	case ResultSkipped:
		b.counters.ItemsSkipped++
		b.result.Skipped++
	default:
		b.counters.ItemsFailed++
		b.result.Failed++
	}
	b.counters.AssetsDownloaded += outcome.AssetsDownloaded
	b.counters.AssetsFailed += outcome.AssetsFailed
	b.result.AssetsDownloaded += outcome.AssetsDownloaded
	b.result.AssetsFailed += outcome.AssetsFailed
	for _, w := range outcome.Warnings {
		b.counters.RecentErrors = domain.AppendRecentError(b.counters.RecentErrors, w)
	}
	b.sinceCheckpoint++
}

// saveCursor copies the page cursor into the counters about to be persisted.
func (b *batch) saveCursor() {
	b.counters.CurrentPage = b.page
	b.counters.PageOffset = b.offset
}

// qualifying counts records that consume batch capacity: imported and failed.
func (b *batch) qualifying() int {
	return b.result.Imported + b.result.Failed
}

// RunBatch processes up to BatchSize qualifying records of a job and persists the
// new cursor. It is safe to call repeatedly; terminal and paused jobs return
// without doing work.
func (e *Engine) RunBatch(ctx context.Context, jobID string) (*BatchResult, error) {
	start := time.Now()
	p, err := e.store.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldJobID:      p.ID,
		logger.FieldImportType: p.ImportType,
		logger.FieldBatch:      p.CurrentBatch + 1,
	})

	switch p.Status {
	case domain.ImportStatusPaused:
		return &BatchResult{JobID: p.ID, Batch: p.CurrentBatch, Status: p.Status, Paused: true}, nil
	case domain.ImportStatusCompleted, domain.ImportStatusFailed:
		return &BatchResult{
			JobID:     p.ID,
			Batch:     p.CurrentBatch,
			Status:    p.Status,
			Completed: p.Status == domain.ImportStatusCompleted,
		}, nil
	case domain.ImportStatusPending:
		now := time.Now()
		if err := e.store.Update(ctx, p.ID, map[string]interface{}{
			"status":     domain.ImportStatusInProgress,
			"started_at": now,
		}); err != nil {
			return nil, err
		}
		p.Status = domain.ImportStatusInProgress
		p.StartedAt = &now
	}

	strategy, ok := e.strategies[p.ImportType]
	if !ok {
		reason := fmt.Sprintf("no strategy registered for %s", p.ImportType)
		_ = e.store.MarkFailed(ctx, p.ID, reason)
		return nil, errors.New(reason)
	}

	b := &batch{
		progress: p,
		counters: p.Counters(),
		result:   &BatchResult{JobID: p.ID, Batch: p.CurrentBatch + 1},
		page:     p.CurrentPage,
		offset:   p.PageOffset,
	}
	if b.page < 1 {
		b.page = 1
		b.offset = 0
	}
	if b.offset < 0 {
		b.offset = 0
	}

	logger.CtxInfo(ctx, "Starting batch at page %d, record %d", b.page, b.offset+1)

	exhausted, runErr := e.runPages(ctx, strategy, b)

	switch {
	case runErr == nil:
		return e.finishBatch(ctx, b, exhausted, start)
	case errors.Is(runErr, errStop):
		return e.stopBatch(ctx, b, start)
	case ctx.Err() != nil:
		return e.interruptBatch(ctx, b, start)
	default:
		return e.failBatch(ctx, b, runErr, start)
	}
}

// runPages is the batch loop. It returns whether the source is exhausted, errStop
// when a pause checkpoint fired, or the FetchPage error.
func (e *Engine) runPages(ctx context.Context, strategy Strategy, b *batch) (bool, error) {
	p := b.progress
	wholePages := false
	if pa, ok := strategy.(PageAligned); ok {
		wholePages = pa.CompletePages()
	}
	for b.qualifying() < p.BatchSize {
		if err := e.pauseCheckpoint(ctx, p.ID); err != nil {
			return false, err
		}

		pageCtx := WithProgress(logger.WithField(ctx, logger.FieldPage, b.page), p)
		page, err := strategy.FetchPage(pageCtx, b.page, p.PageSize)
		if err != nil {
			return false, fmt.Errorf("fetch page %d: %w", b.page, err)
		}

		for i, item := range page.Items {
			if i < b.offset {
				// Handled and counted by an earlier batch.
				continue
			}
			if b.qualifying() >= p.BatchSize && !wholePages {
				return false, nil
			}
			if err := e.pauseCheckpoint(ctx, p.ID); err != nil {
				return false, err
			}

			outcome, err := strategy.ProcessItem(pageCtx, p, item)
			if err != nil {
				if ctx.Err() != nil {
					return false, ctx.Err()
				}
				logger.CtxWarn(pageCtx, "Record %s failed: %v", item.Key, err)
				outcome.Result = ResultFailed
				outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("%s: %v", item.Key, err))
			}
			b.record(outcome)
			b.offset = i + 1

			if b.sinceCheckpoint >= e.checkpointEvery {
				e.checkpoint(ctx, b, fmt.Sprintf("page %d, record %d", b.page, i+1))
			}
		}

		b.page++
		b.offset = 0
		if !page.HasNext || len(page.Items) == 0 {
			return true, nil
		}
	}
	return false, nil
}

// pauseCheckpoint re-reads the persisted status and the context.
func (e *Engine) pauseCheckpoint(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	status, err := e.store.GetStatus(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// An unreadable flag is not a reason to stop; the next checkpoint retries.
		logger.CtxWarn(ctx, "Failed to read job status: %v", err)
		return nil
	}
	if status != domain.ImportStatusInProgress {
		return errStop
	}
	return nil
}

// checkpoint persists counters mid-batch. Failures are logged and the batch goes on.
func (e *Engine) checkpoint(ctx context.Context, b *batch, message string) {
	b.saveCursor()
	if err := e.store.UpdateProgress(ctx, b.progress.ID, b.counters); err != nil {
		logger.CtxError(ctx, "Checkpoint failed: %v", err)
		return
	}
	b.sinceCheckpoint = 0
	b.progress.Apply(b.counters)
	e.broadcaster.Broadcast(ctx, broadcast.NewSnapshot(b.progress, message))
}

func (e *Engine) finishBatch(ctx context.Context, b *batch, exhausted bool, start time.Time) (*BatchResult, error) {
	p := b.progress
	b.counters.CurrentBatch++
	b.saveCursor()
	if err := e.store.UpdateProgress(ctx, p.ID, b.counters); err != nil {
		return nil, err
	}
	p.Apply(b.counters)

	b.result.Status = domain.ImportStatusInProgress
	complete := exhausted || (p.TotalAvailable != nil && p.ItemsProcessed >= *p.TotalAvailable)
	if complete {
		updated, err := e.store.SetStatus(ctx, p.ID, domain.ImportStatusCompleted)
		if err != nil {
			return nil, err
		}
		p = updated
		b.progress = p
		b.result.Status = domain.ImportStatusCompleted
		b.result.Completed = true
	}
	b.result.Duration = time.Since(start)

	message := fmt.Sprintf("batch %d done: %d imported, %d skipped, %d failed",
		b.result.Batch, b.result.Imported, b.result.Skipped, b.result.Failed)
	if complete {
		message = fmt.Sprintf("import complete after %d batches", p.CurrentBatch)
	}
	e.broadcaster.Broadcast(ctx, broadcast.NewSnapshot(p, message))

	logger.With(logger.Fields{
		logger.FieldCount:      b.result.Processed,
		logger.FieldStatus:     b.result.Status,
		logger.FieldDurationMs: b.result.Duration.Milliseconds(),
		"imported":             b.result.Imported,
		"skipped":              b.result.Skipped,
		"failed":               b.result.Failed,
		"next_page":            p.CurrentPage,
	}).Info(ctx, "Batch finished")
	return b.result, nil
}

// stopBatch handles a pause (or any external status change) seen at a checkpoint.
func (e *Engine) stopBatch(ctx context.Context, b *batch, start time.Time) (*BatchResult, error) {
	p := b.progress
	b.saveCursor()
	if err := e.store.UpdateProgress(ctx, p.ID, b.counters); err != nil {
		return nil, err
	}
	current, err := e.store.FindByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	b.result.Status = current.Status
	b.result.Paused = current.Status == domain.ImportStatusPaused
	b.result.Completed = current.Status == domain.ImportStatusCompleted
	b.result.Duration = time.Since(start)

	e.broadcaster.Broadcast(ctx, broadcast.NewSnapshot(current, fmt.Sprintf("stopped at page %d: job is %s", b.page, current.Status)))
	logger.With(logger.Fields{
		logger.FieldCount:      b.result.Processed,
		logger.FieldStatus:     current.Status,
		logger.FieldDurationMs: b.result.Duration.Milliseconds(),
	}).Info(ctx, "Batch stopped at pause checkpoint")
	return b.result, nil
}

// interruptBatch saves progress after the context was cancelled, using a
// detached context so the write still happens.
func (e *Engine) interruptBatch(ctx context.Context, b *batch, start time.Time) (*BatchResult, error) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	b.saveCursor()
	if err := e.store.UpdateProgress(saveCtx, b.progress.ID, b.counters); err != nil {
		logger.CtxError(saveCtx, "Failed to save progress on interrupt: %v", err)
	}
	b.progress.Apply(b.counters)
	b.result.Status = domain.ImportStatusInProgress
	b.result.Interrupted = true
	b.result.Duration = time.Since(start)

	e.broadcaster.Broadcast(saveCtx, broadcast.NewSnapshot(b.progress, "interrupted, will resume"))
	logger.CtxWarn(saveCtx, "Batch interrupted at page %d after %d records", b.page, b.result.Processed)
	return b.result, ctx.Err()
}

// failBatch handles an upstream failure that aborts the whole job.
func (e *Engine) failBatch(ctx context.Context, b *batch, runErr error, start time.Time) (*BatchResult, error) {
	p := b.progress
	b.saveCursor()
	b.counters.RecentErrors = domain.AppendRecentError(b.counters.RecentErrors, runErr.Error())
	if err := e.store.UpdateProgress(ctx, p.ID, b.counters); err != nil {
		logger.CtxError(ctx, "Failed to save progress before failing: %v", err)
	}
	if err := e.store.MarkFailed(ctx, p.ID, runErr.Error()); err != nil {
		logger.CtxError(ctx, "Failed to mark job failed: %v", err)
	}
	p.Apply(b.counters)
	p.Status = domain.ImportStatusFailed
	p.LastError = runErr.Error()

	b.result.Status = domain.ImportStatusFailed
	b.result.Duration = time.Since(start)

	e.broadcaster.Broadcast(ctx, broadcast.NewSnapshot(p, "failed: "+runErr.Error()))
	logger.CtxError(ctx, "Batch failed: %v", runErr)
	return b.result, runErr
}
