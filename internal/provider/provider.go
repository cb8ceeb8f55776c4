// Package provider adapts LLM backends to one chat interface and fails over
// between them.
package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// Timeouts applied by adapters when the caller's context has no earlier
// deadline.
const (
	DefaultChatTimeout = 120 * time.Second
	ProbeTimeout       = 3 * time.Second
)

const (
	defaultMaxTokens       = 4096
	defaultOllamaMaxTokens = 512
	defaultOllamaNumCtx    = 1024
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a backend-neutral chat call. Nil pointers and empty values
// leave the backend's defaults in place.
type ChatRequest struct {
	System        string
	Messages      []Message
	MaxTokens     int
	Temperature   *float64
	JSONSchema    json.RawMessage
	RepeatPenalty *float64
	TopP          *float64
	TopK          *int
}

// ChatResponse is the text a backend produced and who produced it.
type ChatResponse struct {
	Text         string
	Model        string
	Provider     string
	InputTokens  *int
	OutputTokens *int
}

// Adapter is the uniform interface over LLM backends.
type Adapter interface {
	Name() string
	Kind() Kind
	Model() string
	SetModel(model string)
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	IsAvailable(ctx context.Context) bool
}

// ModelLister is implemented by adapters that can enumerate installed models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Kind identifies an adapter variant.
type Kind int

const (
	// KindAnthropic is the Anthropic Messages API.
	KindAnthropic Kind = iota
	// KindOpenAI is the hosted OpenAI API.
	KindOpenAI
	// KindOllama is a local Ollama daemon.
	KindOllama
	// KindOpenAICompatible is any server speaking the OpenAI chat protocol.
	KindOpenAICompatible
)

func (k Kind) String() string {
	switch k {
	case KindAnthropic:
		return "anthropic"
	case KindOpenAI:
		return "openai"
	case KindOllama:
		return "ollama"
	case KindOpenAICompatible:
		return "openai_compatible"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name in JSON payloads.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ErrUnknownKind is returned for provider type strings with no adapter.
var ErrUnknownKind = eris.New("provider: unknown type (use ollama, openai, openai_compatible, anthropic)")

// ParseKind maps a type string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "anthropic":
		return KindAnthropic, nil
	case "openai":
		return KindOpenAI, nil
	case "ollama":
		return KindOllama, nil
	case "openai_compatible":
		return KindOpenAICompatible, nil
	default:
		return 0, eris.Wrapf(ErrUnknownKind, "provider: parse kind %q", s)
	}
}

// ErrMissingBaseURL is returned when an OpenAI-compatible provider has no URL.
var ErrMissingBaseURL = eris.New("provider: base_url required for openai_compatible")

// Options are the connection parameters for New.
type Options struct {
	Name    string
	Model   string
	BaseURL string
	APIKey  string
	// NumCtx is the Ollama context window. Zero means the default.
	NumCtx int
	// Timeout bounds each Chat call. Zero means DefaultChatTimeout.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// New builds an adapter of the given kind. Name and Model fall back to the
// kind's defaults when empty.
func New(kind Kind, opts Options) (Adapter, error) {
	switch kind {
	case KindAnthropic:
		return newAnthropicAdapter(opts, nil), nil
	case KindOpenAI:
		return newOpenAIAdapter(opts, nil), nil
	case KindOllama:
		return newOllamaAdapter(opts, nil), nil
	case KindOpenAICompatible:
		if opts.BaseURL == "" {
			return nil, ErrMissingBaseURL
		}
		return newCompatAdapter(opts, nil), nil
	default:
		return nil, eris.Wrapf(ErrUnknownKind, "provider: new %d", int(kind))
	}
}

// base holds the fields every adapter shares.
type base struct {
	name    string
	kind    Kind
	timeout time.Duration

	mu    sync.RWMutex
	model string
}

func (b *base) init(kind Kind, opts Options, defaultName, defaultModel string) {
	b.name = opts.Name
	b.kind = kind
	b.timeout = opts.Timeout
	b.model = opts.Model
	if b.name == "" {
		b.name = defaultName
	}
	if b.model == "" {
		b.model = defaultModel
	}
	if b.timeout <= 0 {
		b.timeout = DefaultChatTimeout
	}
}

func (b *base) Name() string { return b.name }
func (b *base) Kind() Kind   { return b.kind }

func (b *base) Model() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

func (b *base) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

func maxTokensOr(n, def int) int {
	if n > 0 {
		return n
	}
	return def
}

func intPtr(v int64) *int {
	i := int(v)
	return &i
}
