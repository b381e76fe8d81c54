// Package persona resolves callers to their configured persona and renders
// the persona into the system instruction that seeds every conversation.
package persona

import (
	"context"
	"errors"
	"sync"

	"github.com/soyeahso/owlvin/internal/domain"
)

var (
	// ErrNotFound is returned when no profile is stored under a key.
	ErrNotFound = errors.New("persona not found")

	// ErrNoIdentity is returned when the caller address could not be
	// resolved, so there is nothing to look up.
	ErrNoIdentity = errors.New("caller identity unresolved")
)

// Store is the persona key-value store, keyed by caller-identity hash.
type Store interface {
	// Get returns the profile stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (*domain.Profile, error)

	// Put creates or replaces the profile stored under key.
	Put(ctx context.Context, key string, p domain.Profile) error
}

// MemoryStore is an in-memory Store implementation.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]domain.Profile)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*domain.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, p domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[key] = p
	return nil
}

// Len returns the number of stored profiles.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}
