package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/conduit/internal/resilience"
)

// Registry errors.
var (
	ErrUnknownProvider    = eris.New("provider: unknown provider")
	ErrDuplicateProvider  = eris.New("provider: already registered")
	ErrNoActiveProvider   = eris.New("provider: no active provider")
	ErrAllProvidersFailed = eris.New("provider: all providers failed")
)

// ExhaustedError is returned when every candidate provider was skipped or
// failed. It carries the last failure and a health snapshot of every
// provider the breaker knows about.
type ExhaustedError struct {
	Last   error
	Tried  []string
	Health map[string]resilience.HealthSnapshot
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString(ErrAllProvidersFailed.Error())
	if len(e.Tried) > 0 {
		fmt.Fprintf(&b, " (tried %s)", strings.Join(e.Tried, ", "))
	}
	if e.Last != nil {
		b.WriteString(": ")
		b.WriteString(e.Last.Error())
	}

	names := make([]string, 0, len(e.Health))
	for n := range e.Health {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		h := e.Health[n]
		fmt.Fprintf(&b, "; %s=%s score=%d", n, h.State, h.HealthScore)
	}
	return b.String()
}

// Unwrap exposes the last cause.
func (e *ExhaustedError) Unwrap() error { return e.Last }

// Is matches ErrAllProvidersFailed.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}

// Status is one row of ListAvailable.
type Status struct {
	Name      string                    `json:"name"`
	Kind      Kind                      `json:"type"`
	Model     string                    `json:"model"`
	Active    bool                      `json:"active"`
	Available bool                      `json:"available"`
	Health    resilience.HealthSnapshot `json:"health"`
}

// Registry owns the adapters, their registration order, the active pointer
// and the circuit breaker.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Adapter
	order     []string
	active    string

	breaker *resilience.CircuitBreaker
	log     *zap.Logger

	// nowFunc allows test injection of time for call timing.
	nowFunc func() time.Time
}

// NewRegistry creates an empty registry with its own breaker.
func NewRegistry(cfg resilience.BreakerConfig) *Registry {
	return &Registry{
		providers: make(map[string]Adapter),
		breaker:   resilience.NewCircuitBreaker(cfg),
		log:       zap.L().With(zap.String("component", "registry")),
		nowFunc:   time.Now,
	}
}

// Breaker returns the registry's circuit breaker.
func (r *Registry) Breaker() *resilience.CircuitBreaker {
	return r.breaker
}

// Register adds an adapter. It becomes active when none is active yet or
// setActive is true.
func (r *Registry) Register(a Adapter, setActive bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, ok := r.providers[name]; ok {
		return eris.Wrapf(ErrDuplicateProvider, "provider: register %q", name)
	}
	r.providers[name] = a
	r.order = append(r.order, name)
	if setActive || r.active == "" {
		r.active = name
	}
	r.log.Info("registered provider",
		zap.String("provider", name),
		zap.String("type", a.Kind().String()),
		zap.String("model", a.Model()),
		zap.Bool("active", r.active == name),
	)
	return nil
}

// Switch makes name the active provider. Breaker state is untouched.
func (r *Registry) Switch(name string) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.providers[name]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownProvider, "provider: switch %q (available: %s)", name, strings.Join(r.order, ", "))
	}
	r.active = name
	r.log.Info("switched provider", zap.String("provider", name), zap.String("model", a.Model()))
	return a, nil
}

// Active returns the active adapter.
func (r *Registry) Active() (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.active == "" {
		return nil, ErrNoActiveProvider
	}
	return r.providers[r.active], nil
}

// Get returns the named adapter.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.providers[name]
	return a, ok
}

// Names returns provider names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// candidates returns the active provider followed by the rest in
// registration order.
func (r *Registry) candidates() (active string, list []Adapter) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list = make([]Adapter, 0, len(r.order))
	if a, ok := r.providers[r.active]; ok {
		list = append(list, a)
	}
	for _, name := range r.order {
		if name != r.active {
			list = append(list, r.providers[name])
		}
	}
	return r.active, list
}

// ChatWithFailover tries the active provider and then every other provider
// in registration order, skipping those whose circuit is open. Each attempt
// is timed and recorded on the breaker.
func (r *Registry) ChatWithFailover(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	active, list := r.candidates()
	if len(list) == 0 {
		return nil, ErrNoActiveProvider
	}

	var (
		lastErr error
		tried   []string
	)
	for _, a := range list {
		name := a.Name()
		if !r.breaker.IsAvailable(name) {
			r.log.Debug("skipping provider",
				zap.String("provider", name),
				zap.String("reason", r.breaker.WhyUnavailable(name)),
			)
			if lastErr == nil {
				lastErr = eris.Wrapf(resilience.ErrCircuitOpen, "provider: %s", name)
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			lastErr = eris.Wrap(err, "provider: failover cancelled")
			break
		}

		tried = append(tried, name)
		start := r.nowFunc()
		resp, err := a.Chat(ctx, req)
		elapsedMs := float64(r.nowFunc().Sub(start).Microseconds()) / 1000

		if err != nil {
			r.breaker.RecordFailure(name, elapsedMs)
			r.log.Warn("provider failed",
				zap.String("provider", name),
				zap.Float64("elapsed_ms", elapsedMs),
				zap.Bool("transient", resilience.IsTransient(err)),
				zap.Error(err),
			)
			lastErr = err
			continue
		}

		r.breaker.RecordSuccess(name, elapsedMs)
		if name != active {
			resp.Provider = name + " (failover)"
			r.log.Info("served by failover provider", zap.String("provider", name), zap.String("active", active))
		} else if resp.Provider == "" {
			resp.Provider = name
		}
		return resp, nil
	}

	return nil, &ExhaustedError{
		Last:   lastErr,
		Tried:  tried,
		Health: r.breaker.AllHealth(),
	}
}

// ListAvailable reports every provider in registration order with a live
// availability probe and its breaker health.
func (r *Registry) ListAvailable(ctx context.Context) []Status {
	r.mu.RLock()
	active := r.active
	list := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		list = append(list, r.providers[name])
	}
	r.mu.RUnlock()

	out := make([]Status, 0, len(list))
	for _, a := range list {
		out = append(out, Status{
			Name:      a.Name(),
			Kind:      a.Kind(),
			Model:     a.Model(),
			Active:    a.Name() == active,
			Available: a.IsAvailable(ctx),
			Health:    r.breaker.Health(a.Name()),
		})
	}
	return out
}

// ResetCircuit clears the breaker record for name.
func (r *Registry) ResetCircuit(name string) error {
	if _, ok := r.Get(name); !ok {
		return eris.Wrapf(ErrUnknownProvider, "provider: reset circuit %q", name)
	}
	r.breaker.Reset(name)
	return nil
}
