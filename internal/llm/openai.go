package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient streams chat completions through the OpenAI API, or any
// endpoint that speaks the same protocol.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a new OpenAI client. An empty baseURL selects the
// public endpoint.
func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Stream opens a streaming chat completion.
func (c *OpenAIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	model := c.model
	if req.Model != "" {
		model = req.Model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	apiReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		Stream:    true,
		MaxTokens: req.MaxTokens,
		User:      req.ContinuityToken,
	}
	if req.Temperature != nil {
		apiReq.Temperature = openAITemperature(*req.Temperature)
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, apiReq)
	if err != nil {
		return nil, c.providerError(err)
	}

	eventChan := make(chan StreamEvent)
	go c.readStream(ctx, stream, model, eventChan)
	return eventChan, nil
}

// openAITemperature converts t for the request. The client drops a zero
// temperature from the JSON body, so an explicit zero is sent as the
// smallest positive float32 instead.
func openAITemperature(t float64) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}

func (c *OpenAIClient) readStream(ctx context.Context, stream *openai.ChatCompletionStream, model string, eventChan chan StreamEvent) {
	defer close(eventChan)
	defer stream.Close()

	start := time.Now()
	var fullContent strings.Builder
	var stopReason string
	var usage Usage

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			emit(ctx, eventChan, StreamEvent{Type: EventError, Error: c.providerError(err).Error()})
			return
		}

		if resp.Usage != nil {
			usage.InputTokens = resp.Usage.PromptTokens
			usage.OutputTokens = resp.Usage.CompletionTokens
		}
		for _, choice := range resp.Choices {
			if choice.FinishReason != "" {
				stopReason = string(choice.FinishReason)
			}
			if choice.Delta.Content == "" {
				continue
			}
			fullContent.WriteString(choice.Delta.Content)
			if !emit(ctx, eventChan, StreamEvent{Type: EventDelta, Content: choice.Delta.Content}) {
				return
			}
		}
	}

	emit(ctx, eventChan, StreamEvent{
		Type: EventDone,
		Response: &CompletionResponse{
			Content:    fullContent.String(),
			StopReason: stopReason,
			Usage:      usage,
			Model:      model,
			Duration:   time.Since(start),
		},
	})
}

// providerError maps go-openai errors onto ProviderError so failover can
// inspect the HTTP status.
func (c *OpenAIClient) providerError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: c.Name(), Code: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: c.Name(), Code: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return fmt.Errorf("%s: %w", c.Name(), err)
}
