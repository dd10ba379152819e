package rawg

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/timmy/shotguess/internal/domain"
)

type countingLimiter struct {
	calls int32
}

func (l *countingLimiter) Acquire(ctx context.Context) error {
	atomic.AddInt32(&l.calls, 1)
	return ctx.Err()
}

func newTestClient(t *testing.T, url string, maxRetries int, limiter Limiter) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:             url,
		APIKey:              "test-key",
		Cooldown:            5 * time.Millisecond,
		MaxRateLimitRetries: maxRetries,
	}, limiter)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestNewClient_MissingKey(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	if !errors.Is(err, domain.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestListGames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/games" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("key") != "test-key" || q.Get("page") != "2" || q.Get("page_size") != "40" || q.Get("ordering") != "-added" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if q.Has("dates") {
			t.Error("empty filter should be omitted")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"count":237,"next":"http://x/games?page=3","results":[{"id":7,"name":"Portal","screenshots_count":4}]}`)
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	c := newTestClient(t, srv.URL, 0, limiter)

	list, err := c.ListGames(context.Background(), ListParams{Page: 2, PageSize: 40, Ordering: "-added"})
	if err != nil {
		t.Fatal(err)
	}
	if list.Count != 237 || !list.HasNext() || len(list.Results) != 1 || list.Results[0].ID != 7 {
		t.Errorf("unexpected list: %+v", list)
	}
	if !list.Results[0].HasScreenshots() {
		t.Error("expected screenshots")
	}
	if limiter.calls != 1 {
		t.Errorf("limiter called %d times", limiter.calls)
	}
}

func TestRateLimitRetriedTransparently(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":7,"name":"Portal","description_raw":"cake"}`)
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	c := newTestClient(t, srv.URL, 0, limiter)

	game, err := c.GetGame(context.Background(), 7)
	if err != nil {
		t.Fatalf("expected success after 429s, got %v", err)
	}
	if game.DescriptionRaw != "cake" {
		t.Errorf("unexpected game: %+v", game)
	}
	if hits != 3 || limiter.calls != 3 {
		t.Errorf("hits=%d limiter=%d, want 3 and 3", hits, limiter.calls)
	}
}

func TestRateLimitCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2, nil)
	_, err := c.ListScreenshots(context.Background(), 7)
	if !errors.Is(err, ErrRateLimitExhausted) {
		t.Fatalf("expected ErrRateLimitExhausted, got %v", err)
	}
}

func TestNon2xxIsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"detail":"Not found."}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0, nil)
	_, err := c.GetGame(context.Background(), 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound {
		t.Errorf("status = %d", apiErr.Status)
	}
}

func TestAPIErrorBodyTrimmedOnRuneBoundary(t *testing.T) {
	body := "a" + strings.Repeat("é", 300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0, nil)
	_, err := c.GetGame(context.Background(), 1)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if !utf8.ValidString(apiErr.Body) {
		t.Errorf("body split a rune: %q", apiErr.Body[len(apiErr.Body)-4:])
	}
	if len(apiErr.Body) != 499 || !strings.HasPrefix(body, apiErr.Body) {
		t.Errorf("body is %d bytes, want 499", len(apiErr.Body))
	}
}

func TestCooldownHonoursCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Cooldown: time.Hour}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = c.GetGame(ctx, 1)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
