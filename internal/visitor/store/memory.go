package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"visitorpass/internal/visitor/models"
	"visitorpass/pkg/platform/sentinel"
)

// InMemoryStore keeps visitors in a map. Records are cloned on the way in and
// out so callers never share memory with the store.
type InMemoryStore struct {
	mu       sync.Mutex
	visitors map[string]*models.Visitor
}

// NewInMemory returns an empty store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{visitors: make(map[string]*models.Visitor)}
}

func (s *InMemoryStore) Create(_ context.Context, v *models.Visitor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.visitors[v.ID]; exists {
		return fmt.Errorf("visitor %s: %w", v.ID, sentinel.ErrConflict)
	}
	s.visitors[v.ID] = v.Clone()
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (*models.Visitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visitors[id]
	if !ok {
		return nil, fmt.Errorf("visitor %s: %w", id, sentinel.ErrNotFound)
	}
	return v.Clone(), nil
}

// ListAll returns every visitor, newest created first.
func (s *InMemoryStore) ListAll(_ context.Context) ([]*models.Visitor, error) {
	s.mu.Lock()
	out := make([]*models.Visitor, 0, len(s.visitors))
	for _, v := range s.visitors {
		out = append(out, v.Clone())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) Execute(_ context.Context, id string, validate ValidateFunc, mutate MutateFunc) (*models.Visitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.visitors[id]
	if !ok {
		return nil, fmt.Errorf("visitor %s: %w", id, sentinel.ErrNotFound)
	}
	working := current.Clone()
	if err := validate(working); err != nil {
		return current.Clone(), err
	}
	mutate(working)
	s.visitors[id] = working
	return working.Clone(), nil
}
