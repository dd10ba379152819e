// Package rawg is a client for a RAWG-style game metadata API.
package rawg

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/shotguess/internal/domain"
	"github.com/timmy/shotguess/internal/logger"
)

const defaultBaseURL = "https://api.rawg.io/api"

// ErrRateLimitExhausted is returned when MaxRateLimitRetries consecutive 429s were received.
var ErrRateLimitExhausted = errors.New("rate limit retries exhausted")

// APIError is a non-2xx, non-429 response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rawg API returned HTTP %d: %s", e.Status, e.Body)
}

// Limiter gates outgoing requests.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Config holds client settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// Cooldown is the wait after a 429 before retrying the same request.
	Cooldown time.Duration
	// MaxRateLimitRetries caps consecutive 429 retries; 0 retries forever.
	MaxRateLimitRetries int
}

// Client talks to the metadata API. Every request passes through the limiter.
type Client struct {
	http       *resty.Client
	apiKey     string
	limiter    Limiter
	cooldown   time.Duration
	maxRetries int
}

// NewClient creates a Client.
// Returns domain.ErrMissingCredential when no API key is configured.
func NewClient(cfg Config, limiter Limiter) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: rawg.api_key (RAWG_API_KEY) is not set", domain.ErrMissingCredential)
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "shotguess-importer/1.0")

	return &Client{
		http:       client,
		apiKey:     cfg.APIKey,
		limiter:    limiter,
		cooldown:   cooldown,
		maxRetries: cfg.MaxRateLimitRetries,
	}, nil
}

// ListGames returns one page of games.
func (c *Client) ListGames(ctx context.Context, p ListParams) (*GameList, error) {
	query := map[string]string{}
	if p.Page > 0 {
		query["page"] = strconv.Itoa(p.Page)
	}
	if p.PageSize > 0 {
		query["page_size"] = strconv.Itoa(p.PageSize)
	}
	setIfNotEmpty(query, "ordering", p.Ordering)
	setIfNotEmpty(query, "dates", p.Dates)
	setIfNotEmpty(query, "genres", p.Genres)
	setIfNotEmpty(query, "platforms", p.Platforms)
	setIfNotEmpty(query, "search", p.Search)

	var out GameList
	if err := c.get(ctx, "/games", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetGame returns the detail record of a game.
func (c *Client) GetGame(ctx context.Context, id int) (*GameDetail, error) {
	var out GameDetail
	if err := c.get(ctx, fmt.Sprintf("/games/%d", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListScreenshots returns the screenshots of a game.
func (c *Client) ListScreenshots(ctx context.Context, id int) (*ScreenshotList, error) {
	var out ScreenshotList
	if err := c.get(ctx, fmt.Sprintf("/games/%d/screenshots", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// get performs a rate-limited GET. A 429 is never surfaced while retries remain:
// the same request is re-sent after the cooldown.
func (c *Client) get(ctx context.Context, path string, query map[string]string, out interface{}) error {
	attempt := 0
	for {
		if c.limiter != nil {
			if err := c.limiter.Acquire(ctx); err != nil {
				return err
			}
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(query).
			SetQueryParam("key", c.apiKey).
			SetResult(out).
			Get(path)
		if err != nil {
			return fmt.Errorf("failed to call rawg %s: %w", path, err)
		}

		status := resp.StatusCode()
		if status == 429 {
			attempt++
			if c.maxRetries > 0 && attempt > c.maxRetries {
				return fmt.Errorf("%w: %s after %d attempts", ErrRateLimitExhausted, path, attempt)
			}
			logger.With(logger.Fields{
				logger.FieldAttempt: attempt,
				logger.FieldStatus:  status,
			}).Warn(ctx, "Rate limited on %s, cooling down for %s", path, c.cooldown)
			if err := sleep(ctx, c.cooldown); err != nil {
				return err
			}
			continue
		}
		if status < 200 || status >= 300 {
			return &APIError{Status: status, Body: domain.Truncate(string(resp.Body()), 500)}
		}
		if attempt > 0 {
			logger.With(logger.Fields{logger.FieldAttempt: attempt}).
				Info(ctx, "Recovered from rate limit on %s", path)
		}
		return nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func setIfNotEmpty(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}
