package storage

import (
	"context"
	"strings"
	"sync"
)

// MemStore is an in-memory ObjectStore for tests and local development.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	urlBase string
}

// NewMemStore creates an empty store. urlBase may be empty; Put then returns
// "mem://" URLs.
func NewMemStore(urlBase string) *MemStore {
	if urlBase == "" {
		urlBase = "mem://bucket"
	}
	return &MemStore{
		objects: make(map[string][]byte),
		urlBase: strings.TrimSuffix(urlBase, "/"),
	}
}

func (s *MemStore) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(body))
	copy(buf, body)
	s.objects[key] = buf
	return s.urlBase + "/" + key, nil
}

func (s *MemStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (s *MemStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *MemStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports the number of stored objects.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

var _ ObjectStore = (*MemStore)(nil)
