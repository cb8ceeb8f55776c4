// Package generate turns client prompts into provider calls and parsed,
// validated MIDI.
package generate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/conduit/internal/config"
	"github.com/sells-group/conduit/internal/midi"
	"github.com/sells-group/conduit/internal/normalize"
	"github.com/sells-group/conduit/internal/provider"
	"github.com/sells-group/conduit/internal/resilience"
)

var (
	// ErrInvalidRequest marks requests rejected before any provider call.
	ErrInvalidRequest = eris.New("generate: invalid request")
	// ErrUpstreamUnavailable marks requests every provider failed.
	ErrUpstreamUnavailable = eris.New("generate: upstream unavailable")
)

// UpstreamError wraps the registry error when every provider failed.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return "generate: upstream unavailable: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrUpstreamUnavailable.
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstreamUnavailable }

const (
	chatMaxTokens     = 4096
	retryBudgetStep   = 600
	generateTemp      = 0.4
	retryTemp         = 0.2
	generateRepeat    = 1.18
	generateTopP      = 0.9
	defaultAttempts   = 2
	defaultAccept     = 0.5
	warmupSystem      = "Respond with OK."
	warmupUserMessage = "hi"
	warmupMaxTokens   = 4
	failoverSuffix    = " (failover)"
)

// Router is the part of the provider registry the orchestrator uses.
type Router interface {
	Active() (provider.Adapter, error)
	Get(name string) (provider.Adapter, bool)
	ChatWithFailover(ctx context.Context, req provider.ChatRequest) (*provider.ChatResponse, error)
	Breaker() *resilience.CircuitBreaker
}

// SystemPrompter builds the system prompt for a mode and genre.
type SystemPrompter interface {
	SystemPrompt(mode, genre string) string
}

// UsageRecorder receives the token counts of every successful provider call.
type UsageRecorder interface {
	Record(providerName, model string, input, output *int)
}

// Options tunes generate mode.
type Options struct {
	// Provider is the dedicated generation provider tried before failover.
	Provider    string
	MaxAttempts int
	// AcceptRatio is the share of an explicit note count a reply must reach.
	AcceptRatio float64
}

// DefaultOptions returns the stock generate settings.
func DefaultOptions() Options {
	return Options{
		Provider:    provider.GenerateProviderName,
		MaxAttempts: defaultAttempts,
		AcceptRatio: defaultAccept,
	}
}

// OptionsFromConfig maps config onto Options, keeping defaults for unset
// fields.
func OptionsFromConfig(cfg config.GenerateConfig) Options {
	opts := DefaultOptions()
	if cfg.Provider != "" {
		opts.Provider = cfg.Provider
	}
	if cfg.MaxAttempts > 0 {
		opts.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.AcceptRatio > 0 {
		opts.AcceptRatio = cfg.AcceptRatio
	}
	return opts
}

// Response is what Ask returns to clients.
type Response struct {
	Text      string           `json:"text"`
	Blocks    []map[string]any `json:"json_blocks"`
	Timestamp time.Time        `json:"timestamp"`
	Model     string           `json:"model"`
	Provider  string           `json:"provider"`
	PatternID *int             `json:"pattern_id"`
}

// WarmupResult reports one provider's warmup call.
type WarmupResult struct {
	Name     string `json:"name"`
	Model    string `json:"model"`
	WarmupMs int64  `json:"warmup_ms,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Orchestrator runs requests against a provider router and records the
// outcome in a session. Concurrent requests are not serialized; the session
// and registry guard their own state.
type Orchestrator struct {
	router  Router
	prompts SystemPrompter
	session *Session
	opts    Options
	log     *zap.Logger
	nowFunc func() time.Time

	mu    sync.Mutex // guards usage
	usage UsageRecorder
}

// New creates an Orchestrator.
func New(router Router, prompts SystemPrompter, session *Session, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultAttempts
	}
	return &Orchestrator{
		router:  router,
		prompts: prompts,
		session: session,
		opts:    opts,
		log:     zap.L().With(zap.String("component", "generate")),
		nowFunc: time.Now,
	}
}

// SetUsageRecorder makes every successful provider call report its token
// counts to u.
func (o *Orchestrator) SetUsageRecorder(u UsageRecorder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.usage = u
}

// Session returns the session the orchestrator writes to.
func (o *Orchestrator) Session() *Session { return o.session }

// Ask answers one prompt. Chat mode sends the whole history through
// failover and extracts fenced JSON. Generate mode tries the dedicated
// provider with validation and retry first, then falls back to failover.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (*Response, error) {
	req.Prompt = strings.TrimSpace(req.Prompt)
	if req.Prompt == "" {
		return nil, eris.Wrap(ErrInvalidRequest, "prompt is required")
	}
	switch req.Mode {
	case "":
		req.Mode = ModeChat
	case ModeChat, ModeGenerate:
	default:
		return nil, eris.Wrapf(ErrInvalidRequest, "unknown mode %q", req.Mode)
	}

	if _, err := o.router.Active(); err != nil {
		return nil, eris.Wrap(err, "generate: ask")
	}

	genre := req.Genre
	if genre == "" {
		genre = o.session.Genre()
	}
	system := o.prompts.SystemPrompt(string(req.Mode), genre)
	userMsg := BuildUserMessage(req)
	o.session.History.Append(roleUser, userMsg)

	if req.Mode == ModeGenerate {
		return o.generate(ctx, req, system, userMsg, genre)
	}
	return o.chat(ctx, req, system, genre)
}

func (o *Orchestrator) chat(ctx context.Context, req Request, system, genre string) (*Response, error) {
	resp, err := o.router.ChatWithFailover(ctx, provider.ChatRequest{
		System:    system,
		Messages:  o.session.History.Messages(),
		MaxTokens: chatMaxTokens,
	})
	if err != nil {
		o.log.Error("all providers failed", zap.Error(err))
		return nil, &UpstreamError{Err: err}
	}
	o.recordUsage(resp.Provider, resp)
	o.session.History.Append(roleAssistant, resp.Text)

	blocks := normalize.ExtractJSONBlocks(resp.Text)
	o.logResult(req, resp, genre, blocks, 0)
	return o.respond(resp, blocks, 0), nil
}

func (o *Orchestrator) generate(ctx context.Context, req Request, system, userMsg, genre string) (*Response, error) {
	target := CountRequestedNotes(req.Prompt)
	creq := provider.ChatRequest{
		System:        system,
		Messages:      []provider.Message{{Role: roleUser, Content: userMsg}},
		MaxTokens:     EstimateTokens(req.Prompt),
		Temperature:   float64Ptr(generateTemp),
		JSONSchema:    MIDISchema,
		RepeatPenalty: float64Ptr(generateRepeat),
		TopP:          float64Ptr(generateTopP),
	}

	if resp := o.generateDedicated(ctx, req, &creq, target, genre); resp != nil {
		return resp, nil
	}

	// Failover backends don't all honor a schema, so it is left off.
	creq.JSONSchema = nil
	resp, err := o.router.ChatWithFailover(ctx, creq)
	if err != nil {
		o.log.Error("all providers failed", zap.Error(err))
		return nil, &UpstreamError{Err: err}
	}
	o.recordUsage(resp.Provider, resp)
	o.session.History.Append(roleAssistant, resp.Text)

	blocks := midi.Validate(normalize.ParseGenerateResponse(resp.Text))
	if target > 0 {
		blocks = midi.Extend(blocks, target)
	}
	pid := o.session.Patterns.Save(req.Prompt, genre, resp.Model, blocks)
	o.logResult(req, resp, genre, blocks, pid)
	return o.respond(resp, blocks, pid), nil
}

// generateDedicated runs the validate-and-retry loop on the dedicated
// provider. It returns nil when the provider is missing, unreachable or
// fails, so the caller falls back to failover.
func (o *Orchestrator) generateDedicated(ctx context.Context, req Request, creq *provider.ChatRequest, target int, genre string) *Response {
	name := o.opts.Provider
	if name == "" {
		return nil
	}
	gen, ok := o.router.Get(name)
	if !ok {
		return nil
	}
	breaker := o.router.Breaker()
	if !breaker.IsAvailable(name) {
		o.log.Debug("dedicated provider skipped",
			zap.String("provider", name),
			zap.String("reason", breaker.WhyUnavailable(name)),
		)
		return nil
	}
	if !gen.IsAvailable(ctx) {
		o.log.Debug("dedicated provider unreachable", zap.String("provider", name))
		return nil
	}

	extendTo := target
	if extendTo == 0 {
		extendTo = DefaultNoteTarget(req.Prompt)
	}

	for attempt := 1; attempt <= o.opts.MaxAttempts; attempt++ {
		start := o.nowFunc()
		resp, err := gen.Chat(ctx, *creq)
		elapsed := float64(o.nowFunc().Sub(start).Microseconds()) / 1000
		if err != nil {
			breaker.RecordFailure(name, elapsed)
			o.log.Warn("dedicated provider failed, falling back",
				zap.String("provider", name),
				zap.Int("attempt", attempt),
				zap.Bool("transient", resilience.IsTransient(err)),
				zap.Error(err),
			)
			return nil
		}
		breaker.RecordSuccess(name, elapsed)
		o.recordUsage(name, resp)
		o.log.Info("generated",
			zap.String("provider", name),
			zap.String("model", resp.Model),
			zap.Int("attempt", attempt),
			zap.Float64("elapsed_ms", elapsed),
		)

		blocks := midi.Validate(normalize.ParseGenerateResponse(resp.Text))
		notes := midi.NoteCount(blocks)

		accepted := o.accept(notes, target, attempt)
		if accepted || attempt == o.opts.MaxAttempts {
			blocks = midi.Extend(blocks, extendTo)
			o.session.History.Append(roleAssistant, resp.Text)
			pid := o.session.Patterns.Save(req.Prompt, genre, resp.Model, blocks)
			o.logResult(req, resp, genre, blocks, pid)
			return o.respond(resp, blocks, pid)
		}

		creq.MaxTokens = min(creq.MaxTokens+retryBudgetStep, maxTokenBudget)
		creq.Temperature = float64Ptr(retryTemp)
		o.log.Info("retrying generation",
			zap.Int("attempt", attempt+1),
			zap.Int("max_tokens", creq.MaxTokens),
		)
	}
	return nil
}

// accept reports whether a reply is good enough to stop retrying.
func (o *Orchestrator) accept(notes, target, attempt int) bool {
	if notes == 0 {
		o.log.Warn("no valid notes parsed", zap.Int("attempt", attempt))
		return false
	}
	if target > 0 && float64(notes) < o.opts.AcceptRatio*float64(target) {
		o.log.Warn("too few notes",
			zap.Int("attempt", attempt),
			zap.Int("notes", notes),
			zap.Int("wanted", target),
		)
		return false
	}
	return true
}

// Warmup sends a tiny request to the active and dedicated providers so
// local servers load their models before the first real prompt.
func (o *Orchestrator) Warmup(ctx context.Context) ([]WarmupResult, error) {
	active, err := o.router.Active()
	if err != nil {
		return nil, eris.Wrap(err, "generate: warmup")
	}
	targets := []provider.Adapter{active}
	if gen, ok := o.router.Get(o.opts.Provider); ok && gen.Name() != active.Name() {
		targets = append(targets, gen)
	}

	results := make([]*WarmupResult, len(targets))
	var g errgroup.Group
	for i, a := range targets {
		g.Go(func() error {
			results[i] = o.warm(ctx, a)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]WarmupResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (o *Orchestrator) warm(ctx context.Context, a provider.Adapter) *WarmupResult {
	if !a.IsAvailable(ctx) {
		return nil
	}
	res := &WarmupResult{Name: a.Name(), Model: a.Model()}
	start := o.nowFunc()
	_, err := a.Chat(ctx, provider.ChatRequest{
		System:      warmupSystem,
		Messages:    []provider.Message{{Role: roleUser, Content: warmupUserMessage}},
		MaxTokens:   warmupMaxTokens,
		Temperature: float64Ptr(0),
	})
	elapsed := o.nowFunc().Sub(start)
	if err != nil {
		o.log.Warn("warmup failed", zap.String("provider", a.Name()), zap.Duration("elapsed", elapsed), zap.Error(err))
		res.Error = err.Error()
		return res
	}
	ms := float64(elapsed.Microseconds()) / 1000
	o.router.Breaker().RecordSuccess(a.Name(), ms)
	res.WarmupMs = elapsed.Milliseconds()
	o.log.Info("warmed up", zap.String("provider", a.Name()), zap.String("model", a.Model()), zap.Duration("elapsed", elapsed))
	return res
}

func (o *Orchestrator) respond(resp *provider.ChatResponse, blocks []map[string]any, pid int) *Response {
	if blocks == nil {
		blocks = []map[string]any{}
	}
	out := &Response{
		Text:      resp.Text,
		Blocks:    blocks,
		Timestamp: o.nowFunc().UTC(),
		Model:     resp.Model,
		Provider:  resp.Provider,
	}
	if pid > 0 {
		out.PatternID = &pid
	}
	return out
}

func (o *Orchestrator) logResult(req Request, resp *provider.ChatResponse, genre string, blocks []map[string]any, pid int) {
	fields := []zap.Field{
		zap.String("provider", resp.Provider),
		zap.String("model", resp.Model),
		zap.String("mode", string(req.Mode)),
		zap.String("genre", genre),
		zap.Int("json_blocks", len(blocks)),
		zap.Int("notes", midi.NoteCount(blocks)),
	}
	if pid > 0 {
		fields = append(fields, zap.Int("pattern_id", pid))
	}
	if resp.InputTokens != nil {
		fields = append(fields, zap.Int("input_tokens", *resp.InputTokens))
	}
	if resp.OutputTokens != nil {
		fields = append(fields, zap.Int("output_tokens", *resp.OutputTokens))
	}
	o.log.Info("request complete", fields...)
}

// recordUsage reports resp under the provider name without its failover tag.
func (o *Orchestrator) recordUsage(name string, resp *provider.ChatResponse) {
	o.mu.Lock()
	usage := o.usage
	o.mu.Unlock()
	if usage == nil {
		return
	}
	name = strings.TrimSuffix(name, failoverSuffix)
	usage.Record(name, resp.Model, resp.InputTokens, resp.OutputTokens)
}

func float64Ptr(v float64) *float64 { return &v }
