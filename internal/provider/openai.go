package provider

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/conduit/pkg/openai"
)

const (
	defaultOpenAIModel = "gpt-4o"
	defaultCompatModel = "local-model"
)

// openAIAdapter serves both the hosted OpenAI API and compatible local
// servers; compat decides naming and how availability is probed.
type openAIAdapter struct {
	base
	apiKey  string
	baseURL string
	compat  bool

	once      sync.Once
	client    openai.Client
	newClient func() openai.Client
}

func newOpenAIAdapter(opts Options, factory func() openai.Client) *openAIAdapter {
	a := &openAIAdapter{apiKey: opts.APIKey, baseURL: opts.BaseURL}
	a.init(KindOpenAI, opts, "openai", defaultOpenAIModel)
	a.setFactory(opts, factory)
	return a
}

func newCompatAdapter(opts Options, factory func() openai.Client) *openAIAdapter {
	a := &openAIAdapter{apiKey: opts.APIKey, baseURL: opts.BaseURL, compat: true}
	a.init(KindOpenAICompatible, opts, "openai_compatible", defaultCompatModel)
	a.setFactory(opts, factory)
	return a
}

func (a *openAIAdapter) setFactory(opts Options, factory func() openai.Client) {
	a.newClient = factory
	if a.newClient != nil {
		return
	}
	a.newClient = func() openai.Client {
		var copts []openai.Option
		if a.baseURL != "" {
			copts = append(copts, openai.WithBaseURL(a.baseURL))
		}
		if opts.HTTPClient != nil {
			copts = append(copts, openai.WithHTTPClient(opts.HTTPClient))
		}
		return openai.NewClient(a.apiKey, copts...)
	}
}

func (a *openAIAdapter) api() openai.Client {
	a.once.Do(func() { a.client = a.newClient() })
	return a.client
}

func (a *openAIAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	model := a.Model()
	msgs := make([]openai.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, openai.Message{Role: m.Role, Content: m.Content})
	}

	resp, err := a.api().CreateChat(ctx, openai.ChatRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   int64(maxTokensOr(req.MaxTokens, defaultMaxTokens)),
		Temperature: req.Temperature,
		TopP:        req.TopP,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "provider: %s chat", a.name)
	}

	out := &ChatResponse{
		Text:         resp.Content,
		Model:        resp.Model,
		Provider:     a.name,
		InputTokens:  intPtr(resp.InputTokens),
		OutputTokens: intPtr(resp.OutputTokens),
	}
	// Local servers report whatever file they loaded; keep the configured name.
	if a.compat || out.Model == "" {
		out.Model = model
	}
	return out, nil
}

// IsAvailable reports key presence for the hosted API. Compatible servers
// are probed with GET <base>/models.
func (a *openAIAdapter) IsAvailable(ctx context.Context) bool {
	if !a.compat {
		return a.apiKey != ""
	}
	ctx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()
	_, err := a.api().ListModels(ctx)
	return err == nil
}

// ListModels returns the models a compatible server advertises.
func (a *openAIAdapter) ListModels(ctx context.Context) ([]string, error) {
	models, err := a.api().ListModels(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: %s list models", a.name)
	}
	return models, nil
}
