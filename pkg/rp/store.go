package rp

import (
	"context"
	"slices"
	"sync"
)

// Store is durable storage for Rp records. A missing record is reported
// as (nil, nil), never as an error.
type Store interface {
	Get(ctx context.Context, oxdID string) (*Rp, error)

	// GetByClientID returns the first registered Rp with clientID.
	GetByClientID(ctx context.Context, clientID string) (*Rp, error)

	// Put inserts or replaces the record keyed by rp.OxdID.
	Put(ctx context.Context, rp *Rp) error

	// Remove deletes the record. Removing an unknown oxd_id is not an error.
	Remove(ctx context.Context, oxdID string) error

	// List returns every record in registration order.
	List(ctx context.Context) ([]*Rp, error)
}

// MemoryStore is an in-process Store. It is the default storage and the
// store used by tests.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*Rp
	order []string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Rp)}
}

func (s *MemoryStore) Get(_ context.Context, oxdID string) (*Rp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[oxdID].Clone(), nil
}

func (s *MemoryStore) GetByClientID(_ context.Context, clientID string) (*Rp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if r := s.byID[id]; r.ClientID == clientID {
			return r.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) Put(_ context.Context, rp *Rp) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[rp.OxdID]; !exists {
		s.order = append(s.order, rp.OxdID)
	}
	s.byID[rp.OxdID] = rp.Clone()
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, oxdID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[oxdID]; !exists {
		return nil
	}
	delete(s.byID, oxdID)
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == oxdID })
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Rp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Rp, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id].Clone())
	}
	return out, nil
}
