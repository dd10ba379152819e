package storage

import (
	"context"
	"io"
)

// ObjectStorage is a remote mirror for downloaded screenshots.
type ObjectStorage interface {
	// Upload uploads an object to storage
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns the URL for accessing an object
	GetURL(key string) string
}
