// Package openai wraps the OpenAI chat completions API and servers that
// speak the same protocol (LM Studio, llama.cpp, vLLM).
package openai

import (
	"context"
	"net/http"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rotisserie/eris"
)

// placeholderKey is sent to local servers that ignore authentication.
const placeholderKey = "not-needed"

// Client defines the chat-completion operations used by the bridge.
type Client interface {
	CreateChat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	ListModels(ctx context.Context) ([]string, error)
}

// Message is a single chat message.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

// ChatRequest is our own request type for CreateChat.
type ChatRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int64
	Temperature *float64
	TopP        *float64
}

// ChatResponse is our own response type from CreateChat.
type ChatResponse struct {
	Model        string
	Content      string
	InputTokens  int64
	OutputTokens int64
}

// Option configures the client.
type Option func(*clientOptions)

type clientOptions struct {
	baseURL    string
	httpClient *http.Client
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(o *clientOptions) { o.baseURL = url }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = hc }
}

type sdkClient struct {
	client sdk.Client
}

// NewClient creates a Client backed by openai-go. An empty apiKey is replaced
// with a placeholder so local servers accept the request.
func NewClient(apiKey string, opts ...Option) Client {
	var o clientOptions
	for _, fn := range opts {
		fn(&o)
	}
	if apiKey == "" {
		apiKey = placeholderKey
	}

	sdkOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if o.baseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(o.baseURL))
	}
	if o.httpClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(o.httpClient))
	}

	return &sdkClient{client: sdk.NewClient(sdkOpts...)}
}

func (c *sdkClient) CreateChat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	params := sdk.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: toSDKMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = sdk.Int(req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = sdk.Float(*req.TopP)
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "openai: create chat completion")
	}

	out := &ChatResponse{
		Model:        completion.Model,
		InputTokens:  completion.Usage.PromptTokens,
		OutputTokens: completion.Usage.CompletionTokens,
	}
	if len(completion.Choices) > 0 {
		out.Content = completion.Choices[0].Message.Content
	}
	return out, nil
}

// ListModels returns the model ids the server advertises at GET /models.
func (c *sdkClient) ListModels(ctx context.Context) ([]string, error) {
	page, err := c.client.Models.List(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "openai: list models")
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func toSDKMessages(msgs []Message) []sdk.ChatCompletionMessageParamUnion {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, sdk.SystemMessage(m.Content))
		case "assistant":
			out = append(out, sdk.AssistantMessage(m.Content))
		default:
			out = append(out, sdk.UserMessage(m.Content))
		}
	}
	return out
}
