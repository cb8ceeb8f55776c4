package provider

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/conduit/pkg/anthropic"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

type anthropicAdapter struct {
	base
	apiKey string

	once      sync.Once
	client    anthropic.Client
	newClient func() anthropic.Client
}

func newAnthropicAdapter(opts Options, factory func() anthropic.Client) *anthropicAdapter {
	a := &anthropicAdapter{apiKey: opts.APIKey}
	a.init(KindAnthropic, opts, "anthropic", defaultAnthropicModel)
	a.newClient = factory
	if a.newClient == nil {
		a.newClient = func() anthropic.Client {
			var copts []anthropic.Option
			if opts.BaseURL != "" {
				copts = append(copts, anthropic.WithBaseURL(opts.BaseURL))
			}
			if opts.HTTPClient != nil {
				copts = append(copts, anthropic.WithHTTPClient(opts.HTTPClient))
			}
			return anthropic.NewClient(a.apiKey, copts...)
		}
	}
	return a
}

func (a *anthropicAdapter) api() anthropic.Client {
	a.once.Do(func() { a.client = a.newClient() })
	return a.client
}

func (a *anthropicAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	model := a.Model()
	msgs := make([]anthropic.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = anthropic.Message{Role: m.Role, Content: m.Content}
	}

	mreq := anthropic.MessageRequest{
		Model:       model,
		MaxTokens:   int64(maxTokensOr(req.MaxTokens, defaultMaxTokens)),
		System:      req.System,
		Messages:    msgs,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.TopK != nil {
		k := int64(*req.TopK)
		mreq.TopK = &k
	}

	resp, err := a.api().CreateMessage(ctx, mreq)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: %s chat", a.name)
	}
	resp.Usage.LogCost(model, "chat")

	respModel := resp.Model
	if respModel == "" {
		respModel = model
	}
	return &ChatResponse{
		Text:         resp.Text(),
		Model:        respModel,
		Provider:     a.name,
		InputTokens:  intPtr(resp.Usage.InputTokens),
		OutputTokens: intPtr(resp.Usage.OutputTokens),
	}, nil
}

// IsAvailable reports whether an API key is configured.
func (a *anthropicAdapter) IsAvailable(context.Context) bool {
	return a.apiKey != ""
}
