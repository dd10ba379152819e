// Package queue carries batch tasks between the job service and workers.
package queue

import (
	"context"
	"errors"
	"time"
)

// ErrQueueFull is returned by MemoryQueue when its buffer is exhausted.
var ErrQueueFull = errors.New("queue is full")

// Task asks a worker to run the next batch of a job.
type Task struct {
	JobID string `json:"job_id"`
	// Batch is the job's CurrentBatch when the task was enqueued. A task whose
	// Batch no longer matches is a duplicate and is dropped.
	Batch      int       `json:"batch"`
	Resume     bool      `json:"resume,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is a FIFO of tasks.
type Queue interface {
	Enqueue(ctx context.Context, t Task) error
	// Dequeue blocks until a task arrives. It may return (nil, nil) on an idle
	// timeout so callers can re-check their context.
	Dequeue(ctx context.Context) (*Task, error)
}

// Locker serialises batches of the same job across workers.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(), ok bool, err error)
}
