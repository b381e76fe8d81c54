package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/soyeahso/owlvin/internal/config"
	"github.com/soyeahso/owlvin/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// collect drains a stream, failing the test if it does not close in time.
func collect(t *testing.T, ch <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, evt)
		case <-timeout:
			t.Fatal("stream did not close")
			return nil
		}
	}
}

func deltas(events []StreamEvent) []string {
	var out []string
	for _, e := range events {
		if e.Type == EventDelta {
			out = append(out, e.Content)
		}
	}
	return out
}

func sampleRequest() CompletionRequest {
	return CompletionRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "Hi there!"},
		},
		ContinuityToken: "caller-token",
	}
}

// --- Registry tests ---

func TestRegistryRegisterAndResolve(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("test-provider", &MockClient{ProviderName: "test-provider"})

	client, err := reg.Resolve("test-provider")
	require.NoError(t, err)
	assert.Equal(t, "test-provider", client.Name())
}

func TestRegistryFallback(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("default-llm", &MockClient{ProviderName: "default-llm"})
	reg.SetFallback("default-llm")

	client, err := reg.Resolve("unknown")
	require.NoError(t, err)
	assert.Equal(t, "default-llm", client.Name())
}

func TestRegistryResolveNotFound(t *testing.T) {
	reg := NewRegistry(silentLog())
	_, err := reg.Resolve("nothing")
	assert.Error(t, err)
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("b", &MockClient{ProviderName: "b"})
	reg.Register("a", &MockClient{ProviderName: "a"})
	assert.Equal(t, []string{"a", "b"}, reg.List())
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := config.LLMConfig{
		Provider:  "openai",
		Model:     "gpt-4.1-nano",
		Fallbacks: []string{"claude", "ollama", "mock"},
		Providers: map[string]config.LLMProviderEntry{
			"openai": {APIKey: "sk"},
			"claude": {APIKey: "ck"}, // no model: skipped
			"ollama": {Model: "llama3"},
		},
	}
	reg := NewRegistryFromConfig(cfg, silentLog())
	assert.Equal(t, []string{"mock", "ollama", "openai"}, reg.List())

	client, err := reg.Resolve("claude")
	require.NoError(t, err)
	assert.Equal(t, "openai", client.Name(), "unknown names resolve to the primary")
}

func TestNewClientFromConfig(t *testing.T) {
	client, err := NewClientFromConfig(config.LLMConfig{Provider: "mock"}, silentLog())
	require.NoError(t, err)
	assert.Equal(t, "mock", client.Name())

	client, err = NewClientFromConfig(config.LLMConfig{Provider: "mock", Fallbacks: []string{"ollama"}}, silentLog())
	require.NoError(t, err)
	assert.IsType(t, &FailoverClient{}, client)

	_, err = NewClientFromConfig(config.LLMConfig{Provider: "openai"}, silentLog())
	assert.Error(t, err)
}

// --- Mock tests ---

func TestMockClientStream(t *testing.T) {
	m := &MockClient{ProviderName: "mock", Deltas: []string{"Hel", "lo"}}
	ch, err := m.Stream(context.Background(), sampleRequest())
	require.NoError(t, err)

	events := collect(t, ch)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"Hel", "lo"}, deltas(events))
	assert.Equal(t, EventDone, events[2].Type)
	assert.Equal(t, "Hello", events[2].Response.Content)
}

func TestMockClientDefaultDelta(t *testing.T) {
	m := &MockClient{}
	ch, err := m.Stream(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"mock"}, deltas(collect(t, ch)))
}

// --- OpenAI tests ---

func TestOpenAIStream(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, piece := range []string{"Hel", "lo", " there"} {
			fmt.Fprintf(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer ts.Close()

	c := NewOpenAIClient("sk-test", "gpt-4.1-nano", ts.URL+"/v1")
	assert.Equal(t, "openai", c.Name())

	ch, err := c.Stream(context.Background(), sampleRequest())
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, []string{"Hel", "lo", " there"}, deltas(events))
	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	assert.Equal(t, "Hello there", last.Response.Content)
	assert.Equal(t, "stop", last.Response.StopReason)

	assert.Equal(t, "gpt-4.1-nano", got["model"])
	assert.Equal(t, true, got["stream"])
	assert.Equal(t, "caller-token", got["user"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenAIStreamZeroTemperature(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer ts.Close()

	zero := 0.0
	req := sampleRequest()
	req.Temperature = &zero

	c := NewOpenAIClient("sk-test", "gpt-4.1-nano", ts.URL+"/v1")
	ch, err := c.Stream(context.Background(), req)
	require.NoError(t, err)
	collect(t, ch)

	require.Contains(t, got, "temperature")
	temp := got["temperature"].(float64)
	assert.Greater(t, temp, 0.0)
	assert.Less(t, temp, 1e-30)
}

func TestOpenAITemperature(t *testing.T) {
	assert.Equal(t, float32(math.SmallestNonzeroFloat32), openAITemperature(0))
	assert.Equal(t, float32(0.7), openAITemperature(0.7))
	assert.Equal(t, float32(2), openAITemperature(2))
}

func TestOpenAIStreamHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_error"}}`)
	}))
	defer ts.Close()

	c := NewOpenAIClient("sk-test", "gpt-4.1-nano", ts.URL+"/v1")
	_, err := c.Stream(context.Background(), sampleRequest())
	require.Error(t, err)

	var provErr *ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, http.StatusTooManyRequests, provErr.Code)
	assert.True(t, isRetryable(err))
}

// --- Claude tests ---

func TestClaudeStream(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ck", r.Header.Get("x-api-key"))
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "owlvin/"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"model\":\"m\",\"usage\":{\"input_tokens\":12}}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Olá\"}}\n\n")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\" amigo\"}}\n\n")
		fmt.Fprint(w, "event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":4}}\n\n")
		fmt.Fprint(w, "event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n")
	}))
	defer ts.Close()

	c := NewClaudeAPIClient("ck", "claude-test", ts.URL)
	ch, err := c.Stream(context.Background(), sampleRequest())
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, []string{"Olá", " amigo"}, deltas(events))
	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	assert.Equal(t, "Olá amigo", last.Response.Content)
	assert.Equal(t, "end_turn", last.Response.StopReason)
	assert.Equal(t, Usage{InputTokens: 12, OutputTokens: 4}, last.Response.Usage)

	assert.Equal(t, "be brief", got["system"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 1, "system turns move to the system field")
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
	assert.EqualValues(t, claudeDefaultMaxTokens, got["max_tokens"])
}

func TestClaudeStreamErrorEvent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"par\"}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"busy\"}}\n\n")
	}))
	defer ts.Close()

	ch, err := NewClaudeAPIClient("ck", "m", ts.URL).Stream(context.Background(), sampleRequest())
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, EventError, events[1].Type)
	assert.Contains(t, events[1].Error, "busy")
}

func TestClaudeStreamTruncated(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"cut\"}}\n\n")
	}))
	defer ts.Close()

	ch, err := NewClaudeAPIClient("ck", "m", ts.URL).Stream(context.Background(), sampleRequest())
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 2)
	assert.Equal(t, EventError, events[1].Type)
}

func TestClaudeStreamHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "down")
	}))
	defer ts.Close()

	_, err := NewClaudeAPIClient("ck", "m", ts.URL).Stream(context.Background(), sampleRequest())
	var provErr *ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, 503, provErr.Code)
	assert.Equal(t, "down", provErr.Message)
}

// --- Ollama tests ---

func TestOllamaStream(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "owlvin/"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))

		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hi"},"done":false}`)
		fmt.Fprintln(w, ``)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":" friend"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":9,"eval_count":2}`)
	}))
	defer ts.Close()

	temp := 0.2
	req := sampleRequest()
	req.Temperature = &temp
	ch, err := NewOllamaAPIClient(ts.URL, "llama3").Stream(context.Background(), req)
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, []string{"Hi", " friend"}, deltas(events))
	last := events[len(events)-1]
	require.Equal(t, EventDone, last.Type)
	assert.Equal(t, "Hi friend", last.Response.Content)
	assert.Equal(t, Usage{InputTokens: 9, OutputTokens: 2}, last.Response.Usage)

	assert.Equal(t, "llama3", got["model"])
	assert.InDelta(t, 0.2, got["options"].(map[string]any)["temperature"], 1e-9)
}

func TestOllamaStreamErrorLine(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model not loaded"}`)
	}))
	defer ts.Close()

	ch, err := NewOllamaAPIClient(ts.URL, "llama3").Stream(context.Background(), sampleRequest())
	require.NoError(t, err)
	events := collect(t, ch)
	require.Len(t, events, 1)
	assert.Equal(t, "model not loaded", events[0].Error)
}

// --- Cancellation ---

func TestStreamStopsOnCancel(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"message":{"content":"one"},"done":false}`)
		flusher.Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer ts.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := NewOllamaAPIClient(ts.URL, "llama3").Stream(ctx, sampleRequest())
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, "one", first.Content)
	cancel()

	// The channel must close without a done event once the context ends.
	for evt := range ch {
		assert.NotEqual(t, EventDone, evt.Type)
	}
}

// --- Failover ---

func TestFailoverOnRetryableError(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("primary", &MockClient{
		ProviderName: "primary",
		StreamFunc: func(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
			return nil, &ProviderError{Provider: "primary", Code: 503, Message: "down"}
		},
	})
	reg.Register("backup", &MockClient{ProviderName: "backup", Deltas: []string{"ok"}})

	f := NewFailoverClient(reg, "primary", []string{"backup"}, silentLog())
	assert.Equal(t, "primary", f.Name())

	ch, err := f.Stream(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, deltas(collect(t, ch)))
}

func TestFailoverStopsOnPermanentError(t *testing.T) {
	calls := 0
	reg := NewRegistry(silentLog())
	reg.Register("primary", &MockClient{
		ProviderName: "primary",
		StreamFunc: func(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
			return nil, &ProviderError{Provider: "primary", Code: 400, Message: "bad request"}
		},
	})
	reg.Register("backup", &MockClient{
		ProviderName: "backup",
		StreamFunc: func(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
			calls++
			return nil, errors.New("unreachable")
		},
	})

	f := NewFailoverClient(reg, "primary", []string{"backup"}, silentLog())
	_, err := f.Stream(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad request")
	assert.Zero(t, calls)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(nil))
	assert.True(t, isRetryable(&ProviderError{Code: 429}))
	assert.True(t, isRetryable(fmt.Errorf("wrapped: %w", &ProviderError{Code: 500})))
	assert.False(t, isRetryable(&ProviderError{Code: 404}))
	assert.True(t, isRetryable(errors.New("request timeout")))
	assert.False(t, isRetryable(errors.New("invalid json")))
}

func TestProviderErrorFormat(t *testing.T) {
	assert.Equal(t, "openai: 401 unauthorized", (&ProviderError{Provider: "openai", Code: 401, Message: "unauthorized"}).Error())
	assert.Equal(t, "ollama: offline", (&ProviderError{Provider: "ollama", Message: "offline"}).Error())
}

func TestServerSentEventScanner(t *testing.T) {
	input := ": comment\nevent: x\ndata: one\n\ndata:two\n\ndata: [DONE]\ndata: never\n"
	s := newServerSentEventScanner(strings.NewReader(input))
	require.True(t, s.Scan())
	assert.Equal(t, "one", s.Data())
	require.True(t, s.Scan())
	assert.Equal(t, "two", s.Data())
	assert.False(t, s.Scan())
	assert.NoError(t, s.Err())
}
