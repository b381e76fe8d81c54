package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/soyeahso/owlvin/internal/config"
	"github.com/soyeahso/owlvin/internal/logging"
)

// ProviderError is returned when an LLM provider fails.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code (401, 429, 500, etc.)
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Registry manages provider clients by name.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client
	fallback string
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered LLM provider")
}

// SetFallback sets the provider used when a name does not match.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Resolve returns the Client registered under name, or the fallback.
func (r *Registry) Resolve(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[name]; ok {
		return c, nil
	}
	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no LLM provider %q", name)
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewRegistryFromConfig registers the primary provider and every fallback
// named in cfg. Providers missing required credentials are skipped and logged.
func NewRegistryFromConfig(cfg config.LLMConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	for _, name := range append([]string{cfg.Provider}, cfg.Fallbacks...) {
		if _, exists := reg.clients[name]; exists {
			continue
		}
		client := newProviderClient(name, cfg)
		if client == nil {
			reg.log.Warn().Str("provider", name).Msg("provider not configured, skipping")
			continue
		}
		reg.Register(name, client)
	}
	reg.SetFallback(cfg.Provider)
	return reg
}

// NewClientFromConfig returns the Client the relay should use: the primary
// provider alone, or a FailoverClient when fallbacks are configured.
func NewClientFromConfig(cfg config.LLMConfig, log *logging.Logger) (Client, error) {
	reg := NewRegistryFromConfig(cfg, log)
	if len(cfg.Fallbacks) == 0 {
		return reg.Resolve(cfg.Provider)
	}
	if len(reg.List()) == 0 {
		return nil, fmt.Errorf("no LLM provider configured")
	}
	return NewFailoverClient(reg, cfg.Provider, cfg.Fallbacks, log), nil
}

func newProviderClient(name string, cfg config.LLMConfig) Client {
	entry := cfg.Providers[name]
	model := entry.Model
	if model == "" && name == cfg.Provider {
		model = cfg.Model
	}

	switch name {
	case "openai":
		if entry.APIKey == "" {
			return nil
		}
		if model == "" {
			model = config.DefaultModel
		}
		return NewOpenAIClient(entry.APIKey, model, entry.BaseURL)
	case "claude":
		if entry.APIKey == "" || model == "" {
			return nil
		}
		return NewClaudeAPIClient(entry.APIKey, model, entry.BaseURL)
	case "ollama":
		if model == "" {
			return nil
		}
		return NewOllamaAPIClient(entry.BaseURL, model)
	case "mock":
		return &MockClient{ProviderName: "mock", Deltas: []string{"Hello", " there", " what", " shall", " we", " talk", " about?"}}
	}
	return nil
}
