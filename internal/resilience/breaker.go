// Package resilience tracks per-provider health and gates calls through a
// circuit breaker.
package resilience

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a provider's circuit.
type CircuitState int

const (
	// CircuitClosed is the normal operating state; requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects requests until the recovery window elapses.
	CircuitOpen
	// CircuitHalfOpen allows a probe request to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON payloads.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrCircuitOpen is the reason attached to a provider skipped because its
// circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// responseWindow is the number of recent response times kept per provider.
const responseWindow = 20

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 3.
	FailureThreshold int

	// RecoveryWindow is how long an open circuit rejects calls before the
	// next availability check moves it to half-open. Default: 60s.
	RecoveryWindow time.Duration

	// OnStateChange is called after a provider's circuit changes state.
	// It runs with the provider's lock held and must not call back into
	// the breaker.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultBreakerConfig returns the stock thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		RecoveryWindow:   60 * time.Second,
	}
}

// FromBreakerConfig converts config values to a BreakerConfig, keeping the
// defaults for non-positive values.
func FromBreakerConfig(failureThreshold, recoverySecs int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	if failureThreshold > 0 {
		cfg.FailureThreshold = failureThreshold
	}
	if recoverySecs > 0 {
		cfg.RecoveryWindow = time.Duration(recoverySecs) * time.Second
	}
	return cfg
}

// HealthSnapshot is a point-in-time view of one provider's health.
type HealthSnapshot struct {
	State               CircuitState `json:"state"`
	HealthScore         int          `json:"health_score"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	AvgResponseMs       float64      `json:"avg_response_ms"`
	TotalSuccess        int          `json:"total_success"`
	TotalErrors         int          `json:"total_errors"`
}

type providerHealth struct {
	mu sync.Mutex

	state               CircuitState
	consecutiveFailures int
	trippedAt           time.Time
	responseTimes       []float64
	successCount        int
	errorCount          int
}

func (h *providerHealth) recordTime(ms float64) {
	if len(h.responseTimes) == responseWindow {
		copy(h.responseTimes, h.responseTimes[1:])
		h.responseTimes = h.responseTimes[:responseWindow-1]
	}
	h.responseTimes = append(h.responseTimes, ms)
}

func (h *providerHealth) avgResponseMs() float64 {
	if len(h.responseTimes) == 0 {
		return 0
	}
	var sum float64
	for _, ms := range h.responseTimes {
		sum += ms
	}
	return sum / float64(len(h.responseTimes))
}

// score is 100 with no traffic. Lifetime error rate costs up to 60 points
// and average latency up to 40 (10 points per second).
func (h *providerHealth) score() int {
	total := h.successCount + h.errorCount
	if total == 0 {
		return 100
	}
	errRate := float64(h.errorCount) / float64(total)
	latencyPenalty := math.Min(h.avgResponseMs()/1000*10, 40)
	s := int(100 - 60*errRate - latencyPenalty)
	if s < 0 {
		return 0
	}
	return s
}

func (h *providerHealth) snapshot() HealthSnapshot {
	return HealthSnapshot{
		State:               h.state,
		HealthScore:         h.score(),
		ConsecutiveFailures: h.consecutiveFailures,
		AvgResponseMs:       math.Round(h.avgResponseMs()*10) / 10,
		TotalSuccess:        h.successCount,
		TotalErrors:         h.errorCount,
	}
}

// CircuitBreaker keeps a health record per provider name. Records are created
// on first reference and are never removed, only reset.
type CircuitBreaker struct {
	cfg BreakerConfig
	log *zap.Logger

	mu        sync.RWMutex
	providers map[string]*providerHealth

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = 60 * time.Second
	}
	return &CircuitBreaker{
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "circuit_breaker")),
		providers: make(map[string]*providerHealth),
		nowFunc:   time.Now,
	}
}

// get returns the health record for name, creating one if needed.
func (cb *CircuitBreaker) get(name string) *providerHealth {
	cb.mu.RLock()
	h, ok := cb.providers[name]
	cb.mu.RUnlock()
	if ok {
		return h
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	// Double-check after acquiring write lock.
	if h, ok = cb.providers[name]; ok {
		return h
	}
	h = &providerHealth{state: CircuitClosed}
	cb.providers[name] = h
	return h
}

// IsAvailable reports whether a request may be sent to name right now. An
// open circuit whose recovery window has elapsed moves to half-open here.
func (cb *CircuitBreaker) IsAvailable(name string) bool {
	h := cb.get(name)
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case CircuitOpen:
		if cb.nowFunc().Sub(h.trippedAt) >= cb.cfg.RecoveryWindow {
			cb.transition(name, h, CircuitHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// WhyUnavailable returns a human-readable reason when the circuit is open,
// or "" otherwise.
func (cb *CircuitBreaker) WhyUnavailable(name string) string {
	h := cb.get(name)
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != CircuitOpen {
		return ""
	}
	remaining := cb.cfg.RecoveryWindow - cb.nowFunc().Sub(h.trippedAt)
	secs := int(remaining / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("circuit open (%d failures, retry in %ds)", h.consecutiveFailures, secs)
}

// RecordSuccess records a successful call that took ms milliseconds.
func (cb *CircuitBreaker) RecordSuccess(name string, ms float64) {
	h := cb.get(name)
	h.mu.Lock()
	defer h.mu.Unlock()

	h.recordTime(ms)
	h.successCount++
	h.consecutiveFailures = 0
	if h.state == CircuitHalfOpen {
		cb.transition(name, h, CircuitClosed)
	}
}

// RecordFailure records a failed call. ms is added to the response window
// only when positive.
func (cb *CircuitBreaker) RecordFailure(name string, ms float64) {
	h := cb.get(name)
	h.mu.Lock()
	defer h.mu.Unlock()

	if ms > 0 {
		h.recordTime(ms)
	}
	h.errorCount++
	h.consecutiveFailures++

	switch {
	case h.state == CircuitHalfOpen:
		h.trippedAt = cb.nowFunc()
		cb.transition(name, h, CircuitOpen)
	case h.consecutiveFailures >= cb.cfg.FailureThreshold:
		h.trippedAt = cb.nowFunc()
		if h.state != CircuitOpen {
			cb.transition(name, h, CircuitOpen)
		}
	}
}

// Reset restores name's record to defaults. Unknown names are ignored.
func (cb *CircuitBreaker) Reset(name string) {
	cb.mu.RLock()
	h, ok := cb.providers[name]
	cb.mu.RUnlock()
	if !ok {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.state
	h.state = CircuitClosed
	h.consecutiveFailures = 0
	h.trippedAt = time.Time{}
	h.responseTimes = nil
	h.successCount = 0
	h.errorCount = 0
	cb.log.Info("circuit reset", zap.String("provider", name))
	if old != CircuitClosed && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(name, old, CircuitClosed)
	}
}

// Health returns a snapshot for name.
func (cb *CircuitBreaker) Health(name string) HealthSnapshot {
	h := cb.get(name)
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshot()
}

// AllHealth returns a snapshot of every provider the breaker has seen.
func (cb *CircuitBreaker) AllHealth() map[string]HealthSnapshot {
	cb.mu.RLock()
	names := make([]string, 0, len(cb.providers))
	for name := range cb.providers {
		names = append(names, name)
	}
	cb.mu.RUnlock()

	out := make(map[string]HealthSnapshot, len(names))
	for _, name := range names {
		out[name] = cb.Health(name)
	}
	return out
}

// transition must be called with h.mu held.
func (cb *CircuitBreaker) transition(name string, h *providerHealth, to CircuitState) {
	from := h.state
	h.state = to

	switch to {
	case CircuitOpen:
		if from == CircuitHalfOpen {
			cb.log.Warn("circuit re-opened, recovery failed", zap.String("provider", name))
		} else {
			cb.log.Warn("circuit open",
				zap.String("provider", name),
				zap.Int("consecutive_failures", h.consecutiveFailures),
				zap.Duration("cooldown", cb.cfg.RecoveryWindow),
			)
		}
	case CircuitHalfOpen:
		cb.log.Info("circuit half-open, testing recovery", zap.String("provider", name))
	case CircuitClosed:
		cb.log.Info("circuit closed, recovered", zap.String("provider", name))
	}

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(name, from, to)
	}
}
