package provider

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/conduit/internal/config"
	"github.com/sells-group/conduit/internal/resilience"
)

// GenerateProviderName is the conventional name of the dedicated
// generate-mode provider.
const GenerateProviderName = "ollama_generate"

const generateNumCtx = 2048

// BuildDefault registers the providers implied by cfg: cloud providers that
// have keys, the local Ollama chat model, a dedicated generate model when one
// is configured, LM Studio, and any extra providers listed in config.
func BuildDefault(ctx context.Context, cfg *config.Config, opts ...BuildOption) (*Registry, error) {
	return buildDefault(ctx, cfg, New, opts...)
}

// BuildOption adjusts the breaker config BuildDefault starts from.
type BuildOption func(*resilience.BreakerConfig)

// WithStateChangeHook installs fn as the breaker's state change callback.
func WithStateChangeHook(fn func(name string, from, to resilience.CircuitState)) BuildOption {
	return func(c *resilience.BreakerConfig) { c.OnStateChange = fn }
}

type factoryFunc func(Kind, Options) (Adapter, error)

func buildDefault(ctx context.Context, cfg *config.Config, factory factoryFunc, opts ...BuildOption) (*Registry, error) {
	bc := resilience.FromBreakerConfig(cfg.Breaker.FailureThreshold, cfg.Breaker.RecoverySecs)
	for _, o := range opts {
		o(&bc)
	}
	reg := NewRegistry(bc)
	timeout := time.Duration(cfg.Generate.TimeoutSecs) * time.Second

	add := func(kind Kind, opts Options, setActive bool) (Adapter, error) {
		opts.Timeout = timeout
		a, err := factory(kind, opts)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(a, setActive); err != nil {
			return nil, err
		}
		return a, nil
	}

	cloudActive := false
	if cfg.Anthropic.Key != "" {
		if _, err := add(KindAnthropic, Options{APIKey: cfg.Anthropic.Key, Model: cfg.Anthropic.Model}, true); err != nil {
			return nil, err
		}
		cloudActive = true
	}
	if cfg.OpenAI.Key != "" {
		if _, err := add(KindOpenAI, Options{APIKey: cfg.OpenAI.Key, Model: cfg.OpenAI.Model}, false); err != nil {
			return nil, err
		}
		cloudActive = true
	}

	ollama, err := add(KindOllama, Options{
		Name:    "ollama",
		Model:   cfg.Ollama.Model,
		BaseURL: cfg.Ollama.BaseURL,
		NumCtx:  cfg.Ollama.NumCtx,
	}, false)
	if err != nil {
		return nil, err
	}

	if gen := cfg.Ollama.GenerateModel; gen != "" && gen != ollama.Model() {
		if _, err := add(KindOllama, Options{
			Name:    GenerateProviderName,
			Model:   gen,
			BaseURL: cfg.Ollama.BaseURL,
			NumCtx:  generateNumCtx,
		}, false); err != nil {
			return nil, err
		}
		zap.L().Info("generate model configured", zap.String("model", gen))
	} else {
		zap.L().Info("generate model same as chat", zap.String("model", ollama.Model()))
	}

	if cfg.LMStudio.Enabled {
		if _, err := add(KindOpenAICompatible, Options{
			Name:    "lm_studio",
			Model:   cfg.LMStudio.Model,
			BaseURL: cfg.LMStudio.BaseURL,
		}, false); err != nil {
			return nil, err
		}
	}

	for _, pc := range cfg.Providers {
		kind, err := ParseKind(pc.Type)
		if err != nil {
			return nil, eris.Wrapf(err, "provider: configured provider %q", pc.Name)
		}
		if _, err := add(kind, Options{
			Name:    pc.Name,
			Model:   pc.Model,
			BaseURL: pc.BaseURL,
			APIKey:  pc.APIKey,
		}, false); err != nil {
			return nil, eris.Wrapf(err, "provider: configured provider %q", pc.Name)
		}
	}

	// Without a cloud key, prefer a reachable Ollama over whatever was
	// registered first.
	if !cloudActive && ollama.IsAvailable(ctx) {
		if _, err := reg.Switch(ollama.Name()); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
