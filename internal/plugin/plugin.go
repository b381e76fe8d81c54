// Package plugin hosts optional components that observe the relay through
// hook events and share the server's lifecycle.
package plugin

import (
	"context"

	"github.com/soyeahso/owlvin/internal/hooks"
	"github.com/soyeahso/owlvin/internal/logging"
)

// Plugin is a component started with the server and closed on shutdown.
type Plugin interface {
	// ID returns a unique identifier (e.g. "metrics").
	ID() string

	// Init subscribes to hooks and acquires resources.
	Init(ctx context.Context, api API) error

	// Close releases resources.
	Close() error
}

// API is what a plugin receives at Init.
type API struct {
	Hooks *hooks.Manager
	Log   *logging.Logger
}
