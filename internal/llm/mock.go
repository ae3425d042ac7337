package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for Client. It records every request it sees.
type MockClient struct {
	ProviderName string
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	mu       sync.Mutex
	requests []CompletionRequest
}

func (m *MockClient) Name() string { return m.ProviderName }

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &CompletionResponse{Content: `{"message":"mock response"}`, Model: req.Model}, nil
}

// Requests returns a copy of the requests received so far.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CompletionRequest(nil), m.requests...)
}

// Replying returns a MockClient that answers every request with content.
func Replying(content string) *MockClient {
	return &MockClient{
		ProviderName: "mock",
		CompleteFunc: func(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
			return &CompletionResponse{Content: content, Model: req.Model}, nil
		},
	}
}
