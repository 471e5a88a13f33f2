package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStorage defines the interface for object storage operations.
type ObjectStorage interface {
	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Get returns the full contents of key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns a browser-reachable URL for key.
	GetURL(key string) string

	// URI returns the s3://bucket/key form handed to inference services.
	URI(key string) string

	// Ping verifies the bucket is reachable.
	Ping(ctx context.Context) error
}
