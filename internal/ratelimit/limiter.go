// Package ratelimit throttles calls to the external metadata API.
//
// The limiter enforces two constraints at once: at most MaxRequests calls in any
// sliding Window, and at least MinSpacing between consecutive calls.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time so tests can run without real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Config holds limiter settings.
type Config struct {
	MaxRequests  int
	Window       time.Duration
	MinSpacing   time.Duration
	SafetyMargin time.Duration
}

// DefaultConfig matches the upstream free tier: 20 requests a minute, 3s apart.
func DefaultConfig() Config {
	return Config{
		MaxRequests:  20,
		Window:       time.Minute,
		MinSpacing:   3 * time.Second,
		SafetyMargin: 100 * time.Millisecond,
	}
}

// Limiter is safe for concurrent use.
type Limiter struct {
	cfg   Config
	clock Clock

	mu     sync.Mutex
	stamps []time.Time
	last   time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// New creates a Limiter. Non-positive settings fall back to DefaultConfig.
func New(cfg Config, opts ...Option) *Limiter {
	def := DefaultConfig()
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = def.MaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MinSpacing < 0 {
		cfg.MinSpacing = 0
	}
	if cfg.SafetyMargin < 0 {
		cfg.SafetyMargin = 0
	}
	l := &Limiter{cfg: cfg, clock: realClock{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until a request may be sent and records it.
// The only error is ctx.Err() when the wait is cancelled.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.mu.Lock()
		now := l.clock.Now()
		l.prune(now)
		wait := l.waitLocked(now)
		if wait <= 0 {
			l.stamps = append(l.stamps, now)
			l.last = now
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		// Re-check after sleeping; another caller may have taken the slot.
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(l.stamps) && !l.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[i:]...)
	}
}

func (l *Limiter) waitLocked(now time.Time) time.Duration {
	var wait time.Duration
	if len(l.stamps) >= l.cfg.MaxRequests {
		wait = l.stamps[0].Add(l.cfg.Window + l.cfg.SafetyMargin).Sub(now)
	}
	if !l.last.IsZero() {
		if spacing := l.last.Add(l.cfg.MinSpacing).Sub(now); spacing > wait {
			wait = spacing
		}
	}
	return wait
}

// Stats is a point-in-time view of the limiter.
type Stats struct {
	InWindow    int
	MaxRequests int
	LastRequest time.Time
}

// Stats returns current window occupancy.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.clock.Now())
	return Stats{
		InWindow:    len(l.stamps),
		MaxRequests: l.cfg.MaxRequests,
		LastRequest: l.last,
	}
}
