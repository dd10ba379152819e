package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock advances instantly on Sleep.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.slept += d
	c.mu.Unlock()
	return nil
}

func TestLimiter_WindowAndSpacing(t *testing.T) {
	clock := newFakeClock()
	cfg := DefaultConfig()
	l := New(cfg, WithClock(clock))

	var stamps []time.Time
	for i := 0; i < 25; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		stamps = append(stamps, clock.Now())
	}

	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < cfg.MinSpacing {
			t.Errorf("requests %d and %d only %v apart", i-1, i, gap)
		}
	}

	for i := range stamps {
		inWindow := 0
		for j := range stamps {
			if !stamps[j].After(stamps[i]) && stamps[i].Sub(stamps[j]) < cfg.Window {
				inWindow++
			}
		}
		if inWindow > cfg.MaxRequests {
			t.Errorf("%d requests within one window ending at request %d", inWindow, i)
		}
	}

	// The 21st request must wait for the first to leave the window plus margin.
	if got, want := stamps[20].Sub(stamps[0]), cfg.Window+cfg.SafetyMargin; got < want {
		t.Errorf("21st request after %v, want at least %v", got, want)
	}
}

func TestLimiter_FirstRequestImmediate(t *testing.T) {
	clock := newFakeClock()
	l := New(DefaultConfig(), WithClock(clock))

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}
	if clock.slept != 0 {
		t.Errorf("first acquire slept %v", clock.slept)
	}
	if s := l.Stats(); s.InWindow != 1 || s.MaxRequests != 20 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestLimiter_Cancelled(t *testing.T) {
	l := New(Config{MaxRequests: 1, Window: time.Hour, MinSpacing: time.Hour})
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := l.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("cancelled acquire did not return promptly")
	}
}
