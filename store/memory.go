package store

import (
	"context"
	"sync"
	"time"

	"github.com/nomis52/flowmaster/flow"
)

// MemoryStore keeps flows in memory only (no persistence).
type MemoryStore struct {
	mu    sync.Mutex
	flows map[string]*flow.Flow
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flows: make(map[string]*flow.Flow),
		now:   time.Now,
	}
}

// Create stores a new flow.
func (s *MemoryStore) Create(_ context.Context, f *flow.Flow) error {
	stored, err := prepareCreate(f, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flows[stored.ID()]; exists {
		return ErrAlreadyExists
	}
	s.flows[stored.ID()] = stored
	commit(f, stored)
	return nil
}

// Get returns a copy of the flow.
func (s *MemoryStore) Get(_ context.Context, id string) (*flow.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return f.Clone()
}

// Update replaces the flow if the version matches.
func (s *MemoryStore) Update(_ context.Context, f *flow.Flow) error {
	stored, err := prepareUpdate(f, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.flows[stored.ID()]
	if !ok {
		return ErrNotFound
	}
	if current.Master.Version != f.Master.Version {
		return ErrVersionConflict
	}
	s.flows[stored.ID()] = stored
	commit(f, stored)
	return nil
}

// Delete removes the flow.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[id]; !ok {
		return ErrNotFound
	}
	delete(s.flows, id)
	return nil
}

// List returns copies of matching flows.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]*flow.Flow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*flow.Flow
	for _, f := range s.flows {
		if !filter.Match(f) {
			continue
		}
		c, err := f.Clone()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return sortAndLimit(out, filter.Limit), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
