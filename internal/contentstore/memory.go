package contentstore

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store. It does not survive restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	maxSize int64
}

// NewMemoryStore creates an empty MemoryStore. maxSize <= 0 disables the size limit.
func NewMemoryStore(maxSize int64) *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte), maxSize: maxSize}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, data []byte) (string, error) {
	if err := checkSize(data, s.maxSize); err != nil {
		return "", err
	}
	id := IDOf(data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		cp := make([]byte, len(data))
		copy(cp, data)
		s.blobs[id] = cp
	}
	return id, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) ([]byte, error) {
	d, err := ParseID(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, ok := s.blobs[d.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if err := verify(d, data); err != nil {
		return nil, err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Ping implements Store.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
