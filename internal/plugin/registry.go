package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/soyeahso/owlvin/internal/hooks"
	"github.com/soyeahso/owlvin/internal/logging"
)

// Registry manages plugin lifecycle.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	order   []string // insertion order for deterministic lifecycle
	hooks   *hooks.Manager
	log     *logging.Logger
}

// NewRegistry creates a plugin registry.
func NewRegistry(hm *hooks.Manager, log *logging.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		hooks:   hm,
		log:     log.Sub("plugins"),
	}
}

// Register adds a plugin to the registry without initializing it.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[p.ID()]; exists {
		return fmt.Errorf("plugin already registered: %s", p.ID())
	}

	r.plugins[p.ID()] = p
	r.order = append(r.order, p.ID())
	r.log.Debug().Str("id", p.ID()).Msg("plugin registered")
	return nil
}

// InitAll initializes all registered plugins in registration order.
func (r *Registry) InitAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		api := API{
			Hooks: r.hooks,
			Log:   r.log.Sub(id),
		}
		r.log.Info().Str("id", id).Msg("initializing plugin")
		if err := r.plugins[id].Init(ctx, api); err != nil {
			return fmt.Errorf("init plugin %s: %w", id, err)
		}
	}
	return nil
}

// CloseAll shuts down all plugins in reverse registration order.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.order) - 1; i >= 0; i-- {
		id := r.order[i]
		if err := r.plugins[id].Close(); err != nil {
			r.log.Error().Err(err).Str("id", id).Msg("plugin close error")
		}
	}
}

// List returns all registered plugin IDs in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}
