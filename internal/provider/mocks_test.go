package provider

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/conduit/pkg/anthropic"
	"github.com/sells-group/conduit/pkg/ollama"
	"github.com/sells-group/conduit/pkg/openai"
)

// mockAdapter implements Adapter for registry tests.
type mockAdapter struct {
	mock.Mock
	name  string
	kind  Kind
	model string
}

func newMockAdapter(name string) *mockAdapter {
	return &mockAdapter{name: name, kind: KindOllama, model: name + "-model"}
}

func (m *mockAdapter) Name() string          { return m.name }
func (m *mockAdapter) Kind() Kind            { return m.kind }
func (m *mockAdapter) Model() string         { return m.model }
func (m *mockAdapter) SetModel(model string) { m.model = model }

func (m *mockAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ChatResponse), args.Error(1)
}

func (m *mockAdapter) IsAvailable(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

type mockAnthropicClient struct {
	mock.Mock
}

func (m *mockAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

type mockOpenAIClient struct {
	mock.Mock
}

func (m *mockOpenAIClient) CreateChat(ctx context.Context, req openai.ChatRequest) (*openai.ChatResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*openai.ChatResponse), args.Error(1)
}

func (m *mockOpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

type mockOllamaClient struct {
	mock.Mock
}

func (m *mockOllamaClient) Chat(ctx context.Context, req ollama.ChatRequest) (*ollama.ChatResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ollama.ChatResponse), args.Error(1)
}

func (m *mockOllamaClient) IsRunning(ctx context.Context) bool {
	return m.Called(ctx).Bool(0)
}

func (m *mockOllamaClient) ListModels(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
