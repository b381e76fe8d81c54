package persona

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/owlvin/internal/domain"
	"github.com/soyeahso/owlvin/internal/identity"
)

// Resolver looks up the persona for a caller identity.
type Resolver struct {
	store  Store
	hasher *identity.Hasher
}

// NewResolver creates a Resolver over the given store.
func NewResolver(store Store, hasher *identity.Hasher) *Resolver {
	return &Resolver{store: store, hasher: hasher}
}

// Fetch performs a single store read for the caller. It returns
// ErrNoIdentity for an unresolved identity without touching the store and
// ErrNotFound when no persona is configured.
func (r *Resolver) Fetch(ctx context.Context, id domain.CallerIdentity) (*domain.Profile, error) {
	key := r.hasher.Key(id)
	if key == "" {
		return nil, ErrNoIdentity
	}

	p, err := r.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching persona: %w", err)
	}
	return p, nil
}

// Key returns the store key for an identity ("" when unresolved).
func (r *Resolver) Key(id domain.CallerIdentity) string {
	return r.hasher.Key(id)
}

// Store returns the underlying persona store.
func (r *Resolver) Store() Store {
	return r.store
}
