// Package storage keeps exported documents in object storage. Keys are
// slash-separated paths relative to the storage root.
package storage

import (
	"context"
	"fmt"

	"github.com/jsonsqlite/jsonsqlite/internal/errors"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.NewStorageError(errors.CodeObjectNotFound, "object not found", nil)

// ObjectStorage abstracts object storage operations.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Put stores data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys under the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Backend names accepted by Config.Backend.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

// Config selects and configures a storage backend.
type Config struct {
	Backend   string
	LocalPath string
	S3        S3Config

	// CacheDir and CacheMaxBytes put a local cache in front of S3 when
	// both are set. Keys ending in one of CacheSkipSuffixes bypass it.
	CacheDir          string
	CacheMaxBytes     int64
	CacheSkipSuffixes []string
}

// New creates the backend named by cfg.Backend.
func New(ctx context.Context, cfg Config) (ObjectStorage, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		local, err := NewLocalStorage(cfg.LocalPath)
		if err != nil {
			return nil, err
		}
		return local, nil
	case BackendS3:
		remote, err := NewS3Storage(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		if cfg.CacheDir == "" || cfg.CacheMaxBytes <= 0 {
			return remote, nil
		}
		return NewCachedStorage(remote, CacheConfig{
			Dir:          cfg.CacheDir,
			MaxBytes:     cfg.CacheMaxBytes,
			SkipSuffixes: cfg.CacheSkipSuffixes,
		})
	default:
		return nil, errors.New(errors.ErrCategoryConfig, errors.CodeInvalidConfig,
			fmt.Sprintf("unknown storage backend %q", cfg.Backend))
	}
}
