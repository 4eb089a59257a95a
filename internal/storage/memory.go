package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps objects in memory. Used in development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]Object
	// FailBucket makes uploads into that bucket fail.
	FailBucket string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

func memoryKey(bucket, objectPath string) string { return bucket + "/" + objectPath }

// Upload stores a copy of obj.
func (s *MemoryStore) Upload(ctx context.Context, obj Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.FailBucket != "" && obj.Bucket == s.FailBucket {
		return fmt.Errorf("%w: bucket %s rejected %s", ErrUpload, obj.Bucket, obj.Path)
	}
	obj.Data = append([]byte(nil), obj.Data...)
	s.mu.Lock()
	s.objects[memoryKey(obj.Bucket, obj.Path)] = obj
	s.mu.Unlock()
	return nil
}

// Delete drops the given objects.
func (s *MemoryStore) Delete(ctx context.Context, bucket string, paths []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	for _, p := range paths {
		delete(s.objects, memoryKey(bucket, p))
	}
	s.mu.Unlock()
	return nil
}

// PublicURL returns a memory:// URL.
func (s *MemoryStore) PublicURL(bucket, objectPath string) string {
	return "memory://" + memoryKey(bucket, objectPath)
}

// Get returns a stored object.
func (s *MemoryStore) Get(bucket, objectPath string) (Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[memoryKey(bucket, objectPath)]
	if !ok {
		return Object{}, ErrNotFound
	}
	return obj, nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
