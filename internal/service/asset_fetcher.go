package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/shotguess/internal/logger"
)

// AssetFetcher downloads binary assets to disk with retries.
type AssetFetcher struct {
	client    *resty.Client
	retries   int
	baseDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// FetcherOption configures an AssetFetcher.
type FetcherOption func(*AssetFetcher)

// WithSleep replaces the wait between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) FetcherOption {
	return func(f *AssetFetcher) { f.sleep = sleep }
}

// AssetFetcherConfig holds configuration for the asset fetcher.
type AssetFetcherConfig struct {
	Retries   int
	BaseDelay time.Duration
	Timeout   time.Duration
}

// NewAssetFetcher creates a new asset fetcher.
func NewAssetFetcher(cfg *AssetFetcherConfig, opts ...FetcherOption) *AssetFetcher {
	retries := cfg.Retries
	if retries <= 0 {
		retries = 3
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "shotguess-importer/1.0")

	f := &AssetFetcher{
		client:    client,
		retries:   retries,
		baseDelay: cfg.BaseDelay,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads url to destPath, making up to retries attempts. The wait before
// retry n (1-based) is baseDelay * 2^(n-1), so the first retry waits baseDelay.
// A partial download never appears at destPath. Returns false once every attempt failed.
func (f *AssetFetcher) Fetch(ctx context.Context, url, destPath string) bool {
	for attempt := 0; attempt < f.retries; attempt++ {
		if attempt > 0 {
			delay := f.baseDelay << (attempt - 1)
			if err := f.sleep(ctx, delay); err != nil {
				return false
			}
		}
		err := f.download(ctx, url, destPath)
		if err == nil {
			return true
		}
		logger.With(logger.Fields{logger.FieldAttempt: attempt + 1}).
			Warn(ctx, "Download of %s failed: %v", url, err)
		if ctx.Err() != nil {
			return false
		}
	}
	return false
}

func (f *AssetFetcher) download(ctx context.Context, url, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(url)
	if err != nil {
		return err
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode())
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".download-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write body: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
