package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockProvider is a testing implementation of Provider.
// When Chunks is set it also streams them through ChatStream.
type MockProvider struct {
	Response string
	Chunks   []string
	Err      error
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	content := m.Response
	if content == "" && len(m.Chunks) > 0 {
		content = strings.Join(m.Chunks, "")
	}
	return &ChatResponse{
		Content: content,
		Usage: Usage{
			PromptTokens:     10,
			CompletionTokens: 10,
			TotalTokens:      20,
		},
	}, nil
}

// ChatStream implements StreamingProvider.
func (m *MockProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	parts := m.Chunks
	if len(parts) == 0 {
		resp, err := m.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		parts = []string{resp.Content}
	}
	out := make(chan StreamChunk, len(parts)+1)
	go func() {
		defer close(out)
		for _, p := range parts {
			select {
			case out <- StreamChunk{Content: p}:
			case <-ctx.Done():
				return
			}
		}
		out <- StreamChunk{Done: true}
	}()
	return out, nil
}

// FailingMockProvider always fails.
type FailingMockProvider struct {
	Err error
}

func (f *FailingMockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if f.Err == nil {
		return nil, fmt.Errorf("mock error")
	}
	return nil, f.Err
}

var _ StreamingProvider = (*MockProvider)(nil)
