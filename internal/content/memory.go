package content

import (
	"context"
	"sync"
)

// InMemory is a mutex-guarded Store for tests and single-node setups.
type InMemory struct {
	mu        sync.Mutex
	resources map[string]*Resource
}

// NewInMemory returns an empty in-memory catalog.
func NewInMemory() *InMemory {
	return &InMemory{resources: make(map[string]*Resource)}
}

// Put inserts or replaces a resource.
func (s *InMemory) Put(r *Resource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *r
	s.resources[r.ID] = &clone
}

func (s *InMemory) Find(_ context.Context, id string) (*Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (s *InMemory) IncrementDownloads(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.resources[id]
	if !ok {
		return ErrNotFound
	}
	r.Downloads++
	return nil
}
