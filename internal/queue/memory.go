package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process queue for single-node and CLI use.
type MemoryQueue struct {
	ch chan Task

	mu    sync.Mutex
	locks map[string]struct{}
}

// NewMemoryQueue creates a MemoryQueue holding up to size tasks.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1024
	}
	return &MemoryQueue{
		ch:    make(chan Task, size),
		locks: make(map[string]struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, t Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	select {
	case q.ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case t := <-q.ch:
		return &t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryDequeue returns the next task without blocking.
func (q *MemoryQueue) TryDequeue() (*Task, bool) {
	select {
	case t := <-q.ch:
		return &t, true
	default:
		return nil, false
	}
}

// Len returns the number of queued tasks.
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

func (q *MemoryQueue) TryLock(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, held := q.locks[key]; held {
		return nil, false, nil
	}
	q.locks[key] = struct{}{}
	return func() {
		q.mu.Lock()
		delete(q.locks, key)
		q.mu.Unlock()
	}, true, nil
}
