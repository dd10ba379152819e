package queue

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/shotguess/internal/domain"
	"github.com/timmy/shotguess/internal/engine"
	"github.com/timmy/shotguess/internal/logger"
)

const (
	defaultLockTTL    = 30 * time.Minute
	defaultRetryDelay = 2 * time.Second
)

// BatchRunner runs one batch of a job.
type BatchRunner interface {
	RunBatch(ctx context.Context, jobID string) (*engine.BatchResult, error)
}

// JobStore is the progress lookup the worker needs.
type JobStore interface {
	FindByID(ctx context.Context, id string) (*domain.ImportProgress, error)
	ListByStatus(ctx context.Context, status domain.ImportStatus) ([]domain.ImportProgress, error)
}

// WorkerConfig holds worker settings.
type WorkerConfig struct {
	// BatchDelay is the pause between one batch finishing and the next being enqueued.
	BatchDelay time.Duration
	LockTTL    time.Duration
	RetryDelay time.Duration
}

// Worker pops tasks, runs one batch each, and enqueues the follow-up batch
// while the job is still in_progress.
type Worker struct {
	queue  Queue
	locker Locker
	runner BatchRunner
	store  JobStore
	cfg    WorkerConfig
}

// NewWorker creates a Worker. If q also implements Locker it is used to keep
// two workers off the same job.
func NewWorker(q Queue, runner BatchRunner, store JobStore, cfg WorkerConfig) *Worker {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	w := &Worker{queue: q, runner: runner, store: store, cfg: cfg}
	if l, ok := q.(Locker); ok {
		w.locker = l
	}
	return w
}

// Run processes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ctx = logger.SetComponent(ctx, "worker")
	logger.CtxInfo(ctx, "Batch worker started")
	for {
		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.CtxInfo(ctx, "Batch worker stopping")
				return nil
			}
			logger.CtxError(ctx, "Failed to dequeue task: %v", err)
			if err := sleepCtx(ctx, w.cfg.RetryDelay); err != nil {
				return nil
			}
			continue
		}
		if task == nil {
			continue
		}
		w.Handle(ctx, *task)
	}
}

// Drain processes queued tasks until the queue is empty. The queue must
// support non-blocking reads.
func (w *Worker) Drain(ctx context.Context) error {
	nb, ok := w.queue.(interface{ TryDequeue() (*Task, bool) })
	if !ok {
		return errors.New("queue does not support draining")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		task, ok := nb.TryDequeue()
		if !ok {
			return nil
		}
		w.Handle(ctx, *task)
	}
}

// Handle runs a single task.
func (w *Worker) Handle(ctx context.Context, task Task) {
	ctx = logger.SetJobID(ctx, task.JobID)

	release := func() {}
	if w.locker != nil {
		r, ok, err := w.locker.TryLock(ctx, "shotguess:lock:"+task.JobID, w.cfg.LockTTL)
		if err != nil {
			logger.CtxError(ctx, "Failed to acquire job lock: %v", err)
			w.requeueLater(ctx, task)
			return
		}
		if !ok {
			logger.CtxInfo(ctx, "Job is locked by another worker, re-queueing task")
			w.requeueLater(ctx, task)
			return
		}
		release = r
	}

	p, err := w.store.FindByID(ctx, task.JobID)
	if err != nil {
		release()
		logger.CtxError(ctx, "Dropping task: %v", err)
		return
	}
	if p.CurrentBatch != task.Batch {
		release()
		logger.CtxInfo(ctx, "Dropping stale task for batch %d, job is at batch %d", task.Batch, p.CurrentBatch)
		return
	}

	if task.Resume {
		logger.With(logger.Fields{logger.FieldBatch: task.Batch, logger.FieldPage: p.CurrentPage, "offset": p.PageOffset}).
			Info(ctx, "Resuming paused job")
	}

	res, err := w.runner.RunBatch(ctx, task.JobID)
	release()
	if err != nil {
		if res != nil && res.Interrupted {
			logger.CtxWarn(ctx, "Batch interrupted, job will be recovered on restart")
			return
		}
		if res != nil && res.Status == domain.ImportStatusFailed {
			logger.CtxError(ctx, "Batch failed: %v", err)
			return
		}
		w.retryBatch(ctx, task, err)
		return
	}
	if res.Status != domain.ImportStatusInProgress || res.Paused || res.Interrupted {
		return
	}

	if w.cfg.BatchDelay > 0 {
		if err := sleepCtx(ctx, w.cfg.BatchDelay); err != nil {
			return
		}
	}
	next := Task{JobID: task.JobID, Batch: res.Batch}
	if err := w.queue.Enqueue(ctx, next); err != nil {
		logger.CtxError(ctx, "Failed to enqueue next batch: %v", err)
	}
}

// Recover re-enqueues every in_progress job, e.g. after a restart that
// interrupted a batch. It returns the number of tasks enqueued.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	jobs, err := w.store.ListByStatus(ctx, domain.ImportStatusInProgress)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range jobs {
		if err := w.queue.Enqueue(ctx, Task{JobID: p.ID, Batch: p.CurrentBatch}); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		logger.With(logger.Fields{logger.FieldCount: n}).Info(ctx, "Recovered in-progress import jobs")
	}
	return n, nil
}

// retryBatch re-queues a job whose batch errored without reaching a terminal
// status, e.g. when the cursor could not be saved.
func (w *Worker) retryBatch(ctx context.Context, task Task, cause error) {
	p, err := w.store.FindByID(ctx, task.JobID)
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		logger.CtxError(ctx, "Batch failed: %v", cause)
		return
	case err == nil && p.Status != domain.ImportStatusInProgress:
		logger.CtxError(ctx, "Batch failed with job %s: %v", p.Status, cause)
		return
	case err == nil:
		task.Batch = p.CurrentBatch
	}
	logger.CtxWarn(ctx, "Batch failed, retrying in %s: %v", w.cfg.RetryDelay, cause)
	task.Resume = false
	w.requeueLater(ctx, task)
}

func (w *Worker) requeueLater(ctx context.Context, task Task) {
	go func() {
		if err := sleepCtx(ctx, w.cfg.RetryDelay); err != nil {
			return
		}
		if err := w.queue.Enqueue(ctx, task); err != nil {
			logger.CtxError(ctx, "Failed to re-queue task: %v", err)
		}
	}()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
