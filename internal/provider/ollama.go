package provider

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/conduit/pkg/ollama"
)

const (
	defaultOllamaModel   = "llama3.2"
	defaultOllamaBaseURL = "http://localhost:11434"
)

type ollamaAdapter struct {
	base
	baseURL string
	numCtx  int

	once      sync.Once
	client    ollama.Client
	newClient func() ollama.Client
}

func newOllamaAdapter(opts Options, factory func() ollama.Client) *ollamaAdapter {
	a := &ollamaAdapter{baseURL: opts.BaseURL, numCtx: opts.NumCtx}
	a.init(KindOllama, opts, "ollama", defaultOllamaModel)
	if a.baseURL == "" {
		a.baseURL = defaultOllamaBaseURL
	}
	if a.numCtx <= 0 {
		a.numCtx = defaultOllamaNumCtx
	}
	a.newClient = factory
	if a.newClient == nil {
		a.newClient = func() ollama.Client {
			var copts []ollama.Option
			if opts.HTTPClient != nil {
				copts = append(copts, ollama.WithHTTPClient(opts.HTTPClient))
			}
			return ollama.NewClient(a.baseURL, copts...)
		}
	}
	return a
}

func (a *ollamaAdapter) api() ollama.Client {
	a.once.Do(func() { a.client = a.newClient() })
	return a.client
}

func (a *ollamaAdapter) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	model := a.Model()
	msgs := make([]ollama.Message, 0, len(req.Messages)+1)
	msgs = append(msgs, ollama.Message{Role: "system", Content: req.System})
	for _, m := range req.Messages {
		msgs = append(msgs, ollama.Message{Role: m.Role, Content: m.Content})
	}

	creq := ollama.ChatRequest{
		Model:    model,
		Messages: msgs,
		Format:   req.JSONSchema,
		Options: ollama.Options{
			NumPredict:    maxTokensOr(req.MaxTokens, defaultOllamaMaxTokens),
			NumCtx:        a.numCtx,
			Temperature:   req.Temperature,
			RepeatPenalty: req.RepeatPenalty,
			TopP:          req.TopP,
			TopK:          req.TopK,
		},
	}
	qwen3 := ollama.IsQwen3(model)
	if qwen3 {
		// think is a top-level field, not an option.
		off := false
		creq.Think = &off
	}

	resp, err := a.api().Chat(ctx, creq)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: %s chat", a.name)
	}

	text := resp.Message.Content
	if qwen3 {
		text = ollama.StripThinking(text)
	}
	return &ChatResponse{
		Text:         text,
		Model:        model,
		Provider:     a.name,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}, nil
}

// IsAvailable probes GET /api/tags.
func (a *ollamaAdapter) IsAvailable(ctx context.Context) bool {
	return a.api().IsRunning(ctx)
}

// ListModels returns the models installed in the daemon.
func (a *ollamaAdapter) ListModels(ctx context.Context) ([]string, error) {
	models, err := a.api().ListModels(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: %s list models", a.name)
	}
	return models, nil
}
