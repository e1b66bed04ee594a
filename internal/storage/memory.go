package storage

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a concurrency-safe in-memory ObjectStore, suitable for a
// single instance and for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	// Return a copy to prevent callers from mutating internal state.
	return bytes.Clone(obj.data), nil
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	obj := memoryObject{data: bytes.Clone(data), contentType: contentType}

	s.mu.Lock()
	s.objects[key] = obj
	s.mu.Unlock()

	return nil
}

// ContentType returns the content type recorded for key by the last Put.
func (s *MemoryStore) ContentType(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	return obj.contentType, ok
}
