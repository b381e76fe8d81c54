package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/soyeahso/owlvin/internal/logging"
)

// FailoverClient wraps a Registry and tries fallback providers when the
// primary cannot start a stream.
type FailoverClient struct {
	registry  *Registry
	primary   string
	fallbacks []string
	log       *logging.Logger
}

// NewFailoverClient creates a client that tries the primary provider first,
// then falls back through the list on retryable errors (401, 429, 5xx).
func NewFailoverClient(registry *Registry, primary string, fallbacks []string, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
		log:       log.Sub("failover"),
	}
}

// Name returns the primary provider name.
func (f *FailoverClient) Name() string {
	return f.primary
}

// Stream tries each provider in order. Failover only happens before the
// first event; once a stream is open its errors are delivered in-band.
func (f *FailoverClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	names := append([]string{f.primary}, f.fallbacks...)

	var lastErr error
	for i, name := range names {
		client, err := f.registry.Resolve(name)
		if err != nil {
			f.log.Debug().Str("provider", name).Err(err).Msg("no provider registered, skipping")
			lastErr = err
			continue
		}

		attempt := req
		if i > 0 {
			// The configured model belongs to the primary provider.
			attempt.Model = ""
		}
		ch, err := client.Stream(ctx, attempt)
		if err == nil {
			return ch, nil
		}

		lastErr = err
		if isRetryable(err) {
			f.log.Warn().
				Str("provider", name).
				Err(err).
				Msg("retryable stream error, trying next provider")
			continue
		}

		return nil, err
	}

	return nil, lastErr
}

// isRetryable checks if the error suggests trying another provider.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Code {
		case 401, 403, 429, 500, 502, 503, 529:
			return true
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "capacity") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused")
}
