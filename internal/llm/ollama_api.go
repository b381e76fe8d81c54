package llm

import (
	"bufio"
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

// OllamaAPIClient is a direct HTTP client for the Ollama chat API.
type OllamaAPIClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaAPIClient creates a new Ollama API client.
// baseURL should be like "http://localhost:11434"
func NewOllamaAPIClient(baseURL, model string) *OllamaAPIClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaAPIClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Stream sends a streaming chat request to the Ollama API.
func (o *OllamaAPIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	model := o.model
	if req.Model != "" {
		model = req.Model
	}

	body := map[string]any{
		"model":    model,
		"messages": req.Messages,
		"stream":   true,
	}
	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}
	if len(options) > 0 {
		body["options"] = options
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &ProviderError{Provider: o.Name(), Code: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	eventChan := make(chan StreamEvent)
	go o.readStream(ctx, resp.Body, model, eventChan)
	return eventChan, nil
}

// Name returns the provider name.
func (o *OllamaAPIClient) Name() string {
	return "ollama"
}

func (o *OllamaAPIClient) readStream(ctx context.Context, body io.ReadCloser, model string, eventChan chan StreamEvent) {
	defer close(eventChan)
	defer body.Close()

	start := time.Now()
	scanner := bufio.NewScanner(body)
	var fullContent strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}

		var event ollamaChatEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		if event.Error != "" {
			emit(ctx, eventChan, StreamEvent{Type: EventError, Error: event.Error})
			return
		}

		if event.Message.Content != "" {
			fullContent.WriteString(event.Message.Content)
			if !emit(ctx, eventChan, StreamEvent{Type: EventDelta, Content: event.Message.Content}) {
				return
			}
		}

		if event.Done {
			emit(ctx, eventChan, StreamEvent{
				Type: EventDone,
				Response: &CompletionResponse{
					Content:    fullContent.String(),
					StopReason: event.DoneReason,
					Usage: Usage{
						InputTokens:  event.PromptEvalCount,
						OutputTokens: event.EvalCount,
					},
					Model:    model,
					Duration: time.Since(start),
				},
			})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		emit(ctx, eventChan, StreamEvent{Type: EventError, Error: fmt.Sprintf("reading stream: %v", err)})
		return
	}
	emit(ctx, eventChan, StreamEvent{Type: EventError, Error: "stream ended before done"})
}

// API response structures

type ollamaChatEvent struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error,omitempty"`
}
