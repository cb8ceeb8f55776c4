// Package ollama is a small client for a local Ollama daemon's REST API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/conduit/internal/resilience"
)

const (
	probeTimeout = 3 * time.Second
	listTimeout  = 10 * time.Second
)

// Client defines the Ollama operations used by the bridge.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	IsRunning(ctx context.Context) bool
	ListModels(ctx context.Context) ([]string, error)
}

// Message represents a chat message in the Ollama API format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are the model runtime options sent under "options".
type Options struct {
	NumPredict    int      `json:"num_predict"`
	NumCtx        int      `json:"num_ctx,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
}

// ChatRequest is the JSON body for POST /api/chat.
type ChatRequest struct {
	Model    string          `json:"model"`
	Messages []Message       `json:"messages"`
	Stream   bool            `json:"stream"`
	Think    *bool           `json:"think,omitempty"`
	Format   json.RawMessage `json:"format,omitempty"`
	Options  Options         `json:"options"`
}

// ChatResponse is the JSON returned by POST /api/chat (non-streaming).
type ChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	PromptEvalCount *int    `json:"prompt_eval_count,omitempty"`
	EvalCount       *int    `json:"eval_count,omitempty"`
}

// tagsResponse mirrors the JSON returned by GET /api/tags.
type tagsResponse struct {
	Models []modelEntry `json:"models"`
}

type modelEntry struct {
	Name string `json:"name"`
}

// Option configures the HTTP client.
type Option func(*httpClient)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client targeting the given Ollama base URL. Call
// deadlines come from the caller's context.
func NewClient(baseURL string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
	for _, fn := range opts {
		fn(c)
	}
	return c
}

// IsRunning returns true if the daemon answers GET /api/tags with 200 within
// the probe timeout.
func (c *httpClient) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close() //nolint:errcheck
	return resp.StatusCode == http.StatusOK
}

// ListModels returns the names of all locally installed models.
func (c *httpClient) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, eris.Wrap(err, "ollama: create tags request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ollama: list models")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, eris.Wrap(resilience.NewStatusError("ollama", resp.StatusCode, body), "ollama: list models")
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, eris.Wrap(err, "ollama: decode tags")
	}

	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// Chat sends a non-streaming chat request.
func (c *httpClient) Chat(ctx context.Context, cr ChatRequest) (*ChatResponse, error) {
	cr.Stream = false
	body, err := json.Marshal(cr)
	if err != nil {
		return nil, eris.Wrap(err, "ollama: marshal chat request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "ollama: create chat request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "ollama: chat")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, eris.Wrap(resilience.NewStatusError("ollama", resp.StatusCode, raw), "ollama: chat")
	}

	var result ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, eris.Wrap(err, "ollama: decode chat response")
	}
	return &result, nil
}

// IsQwen3 reports whether model belongs to the qwen3 family, which needs
// thinking mode disabled.
func IsQwen3(model string) bool {
	base := strings.ToLower(model)
	if i := strings.Index(base, ":"); i >= 0 {
		base = base[:i]
	}
	return strings.HasPrefix(base, "qwen3")
}

var (
	thinkBlockRe  = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)
	cotPreambleRe = regexp.MustCompile(`(?i)^(?:Hmm|Okay|Alright|Let me)[^\n]*(?:think|asking|recall|consider)[^\n]*\n*`)
)

// StripThinking removes <think> blocks and a leading chain-of-thought line
// that qwen3 models leak into content even with thinking disabled.
func StripThinking(text string) string {
	if text == "" {
		return text
	}
	text = thinkBlockRe.ReplaceAllString(text, "")
	text = cotPreambleRe.ReplaceAllString(text, "")
	return strings.TrimLeftFunc(text, unicode.IsSpace)
}
