package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/timmy/shotguess/internal/config"
)

// NewMirror creates the screenshot mirror from configuration.
// Returns nil with no error when the mirror is disabled.
func NewMirror(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage.bucket is required when the mirror is enabled")
	}

	s3Cfg := &S3Config{
		Type:      detectStorageType(cfg.Endpoint),
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		UseSSL:    cfg.UseSSL,
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		PublicURL: cfg.PublicURL,
		Prefix:    cfg.Prefix,
	}
	store, err := NewS3Storage(ctx, s3Cfg)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// detectStorageType attempts to detect the storage type from the endpoint
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case endpoint == "" || strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	default:
		return StorageTypeS3Compatible
	}
}
