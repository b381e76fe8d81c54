package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/owlvin/internal/version"
)

const (
	claudeDefaultBaseURL   = "https://api.anthropic.com"
	claudeDefaultMaxTokens = 1024
)

// ClaudeAPIClient is a direct HTTP client for the Claude Messages API.
type ClaudeAPIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewClaudeAPIClient creates a new Claude API client. An empty baseURL
// selects the public endpoint.
func NewClaudeAPIClient(apiKey, model, baseURL string) *ClaudeAPIClient {
	if baseURL == "" {
		baseURL = claudeDefaultBaseURL
	}
	return &ClaudeAPIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Stream sends a streaming completion request to the Claude API.
func (c *ClaudeAPIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	payload, err := json.Marshal(c.buildRequestBody(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &ProviderError{Provider: c.Name(), Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	eventChan := make(chan StreamEvent)
	go c.readStream(ctx, resp.Body, eventChan)
	return eventChan, nil
}

// Name returns the provider name.
func (c *ClaudeAPIClient) Name() string {
	return "claude"
}

// buildRequestBody moves system turns into the top-level "system" field, which
// is where the Messages API expects them.
func (c *ClaudeAPIClient) buildRequestBody(req CompletionRequest) map[string]any {
	var system []string
	messages := make([]map[string]string, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, map[string]string{
			"role":    m.Role,
			"content": m.Content,
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = claudeDefaultMaxTokens
	}
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	body := map[string]any{
		"model":      model,
		"messages":   messages,
		"max_tokens": maxTokens,
		"stream":     true,
	}
	if len(system) > 0 {
		body["system"] = strings.Join(system, "\n\n")
	}
	if req.Temperature != nil {
		body["temperature"] = *req.Temperature
	}
	return body
}

func (c *ClaudeAPIClient) readStream(ctx context.Context, body io.ReadCloser, eventChan chan StreamEvent) {
	defer close(eventChan)
	defer body.Close()

	start := time.Now()
	scanner := newServerSentEventScanner(body)
	var fullContent strings.Builder
	var usage Usage
	var stopReason string

	for scanner.Scan() {
		var event claudeStreamEvent
		if err := json.Unmarshal([]byte(scanner.Data()), &event); err != nil {
			continue
		}

		switch event.Type {
		case "content_block_delta":
			if event.Delta.Type == "text_delta" && event.Delta.Text != "" {
				fullContent.WriteString(event.Delta.Text)
				if !emit(ctx, eventChan, StreamEvent{Type: EventDelta, Content: event.Delta.Text}) {
					return
				}
			}
		case "message_start":
			if event.Message != nil {
				usage.InputTokens = event.Message.Usage.InputTokens
			}
		case "message_delta":
			stopReason = event.Delta.StopReason
			if event.Usage != nil {
				usage.OutputTokens = event.Usage.OutputTokens
			}
		case "error":
			msg := "stream error"
			if event.Error != nil {
				msg = event.Error.Type + ": " + event.Error.Message
			}
			emit(ctx, eventChan, StreamEvent{Type: EventError, Error: msg})
			return
		case "message_stop":
			emit(ctx, eventChan, StreamEvent{
				Type: EventDone,
				Response: &CompletionResponse{
					Content:    fullContent.String(),
					StopReason: stopReason,
					Usage:      usage,
					Model:      c.model,
					Duration:   time.Since(start),
				},
			})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		emit(ctx, eventChan, StreamEvent{Type: EventError, Error: fmt.Sprintf("reading stream: %v", err)})
		return
	}
	emit(ctx, eventChan, StreamEvent{Type: EventError, Error: "stream ended without message_stop"})
}

// API stream structures

type claudeStreamEvent struct {
	Type    string             `json:"type"`
	Delta   claudeStreamDelta  `json:"delta"`
	Message *claudeMessageInfo `json:"message,omitempty"`
	Usage   *claudeUsage       `json:"usage,omitempty"`
	Error   *claudeError       `json:"error,omitempty"`
}

type claudeStreamDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

type claudeMessageInfo struct {
	Model string      `json:"model"`
	Usage claudeUsage `json:"usage"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
