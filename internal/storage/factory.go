package storage

import (
	"fmt"
	"strings"
)

// NewStorage creates an ObjectStorage instance based on the configuration.
// Parameters:
//   - cfg: storage configuration including endpoint, credentials, and bucket.
// Returns:
//   - ObjectStorage: initialized storage client implementation.
//   - error: non-nil if the storage client cannot be created.
func NewStorage(cfg *Config) (ObjectStorage, error) {
	if cfg.Type == "" {
		cfg.Type = detectStorageType(cfg.Endpoint)
	}

	switch cfg.Type {
	case StorageTypeMinIO:
		return NewMinIOStorage(cfg)
	case StorageTypeMemory:
		return NewMemoryStorage(cfg.Bucket, cfg.PublicURL), nil
	case StorageTypeS3, StorageTypeR2, StorageTypeS3Compatible:
		return NewS3Storage(cfg)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// detectStorageType guesses the backend from the endpoint host.
func detectStorageType(endpoint string) StorageType {
	endpoint = strings.ToLower(endpoint)

	switch {
	case endpoint == "":
		return StorageTypeMemory
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return StorageTypeR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return StorageTypeS3
	case strings.Contains(endpoint, ":9000"):
		return StorageTypeMinIO
	default:
		return StorageTypeS3Compatible
	}
}
