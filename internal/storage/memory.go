package storage

import (
	"context"
	"fmt"
	"sync"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStorage keeps objects in process memory. It backs local runs and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	bucket  string
	baseURL string
	objects map[string]memoryObject
}

// NewMemoryStorage creates an empty in-memory bucket.
func NewMemoryStorage(bucket, baseURL string) *MemoryStorage {
	if baseURL == "" {
		baseURL = "memory://" + bucket
	}
	return &MemoryStorage{
		bucket:  bucket,
		baseURL: baseURL,
		objects: make(map[string]memoryObject),
	}
}

func (s *MemoryStorage) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	s.objects[key] = memoryObject{data: cp, contentType: contentType}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	return ok, nil
}

func (s *MemoryStorage) GetURL(key string) string {
	return s.baseURL + "/" + key
}

func (s *MemoryStorage) URI(key string) string {
	return FormatURI(s.bucket, key)
}

func (s *MemoryStorage) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Keys lists stored keys. Intended for tests.
func (s *MemoryStorage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}
