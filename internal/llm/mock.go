package llm

import "context"

// MockClient is a test double for Client. With no StreamFunc it streams the
// Deltas (or a single "mock" delta) and then a done event.
type MockClient struct {
	ProviderName string
	Deltas       []string
	StreamFunc   func(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
}

func (m *MockClient) Name() string { return m.ProviderName }

func (m *MockClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	deltas := m.Deltas
	if deltas == nil {
		deltas = []string{"mock"}
	}
	ch := make(chan StreamEvent, len(deltas)+1)
	content := ""
	for _, d := range deltas {
		content += d
		ch <- StreamEvent{Type: EventDelta, Content: d}
	}
	ch <- StreamEvent{Type: EventDone, Response: &CompletionResponse{Content: content}}
	close(ch)
	return ch, nil
}
