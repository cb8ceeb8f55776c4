package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/conduit/internal/config"
	"github.com/sells-group/conduit/internal/resilience"
)

// capturingReporter returns an enabled Reporter whose events are recorded
// and dropped before transport.
func capturingReporter(t *testing.T) (*Reporter, func() []*sentry.Event) {
	t.Helper()
	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	r, err := newReporter(sentry.ClientOptions{
		Dsn: "https://public@sentry.example.com/1",
		BeforeSend: func(e *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
			return nil
		},
	})
	require.NoError(t, err)
	return r, func() []*sentry.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]*sentry.Event(nil), events...)
	}
}

func TestNewReporter_DisabledWithoutDSN(t *testing.T) {
	r, err := NewReporter(config.SentryConfig{})
	require.NoError(t, err)
	assert.False(t, r.Enabled())

	// Everything is a no-op.
	r.CaptureError(errors.New("boom"), nil)
	r.CaptureMessage(sentry.LevelInfo, "hi", nil)
	r.Flush(time.Millisecond)
	ctx, span := r.StartTransaction(context.Background(), "test")
	assert.NotNil(t, ctx)
	span.Finish()
}

func TestNewReporter_BadDSN(t *testing.T) {
	_, err := NewReporter(config.SentryConfig{DSN: "::not a dsn"})
	assert.Error(t, err)
}

func TestReporter_CaptureError(t *testing.T) {
	r, events := capturingReporter(t)
	assert.True(t, r.Enabled())

	r.CaptureError(errors.New("all providers failed"), map[string]string{"mode": "generate"})
	r.CaptureError(nil, nil)

	got := events()
	require.Len(t, got, 1)
	assert.Equal(t, "generate", got[0].Tags["mode"])
	require.NotEmpty(t, got[0].Exception)
	assert.Equal(t, "all providers failed", got[0].Exception[len(got[0].Exception)-1].Value)
}

func TestReporter_BreakerHook(t *testing.T) {
	r, events := capturingReporter(t)
	hook := r.BreakerHook()

	hook("ollama", resilience.CircuitClosed, resilience.CircuitOpen)
	hook("ollama", resilience.CircuitOpen, resilience.CircuitHalfOpen)
	hook("ollama", resilience.CircuitHalfOpen, resilience.CircuitClosed)

	got := events()
	require.Len(t, got, 2)
	assert.Equal(t, "circuit opened for ollama", got[0].Message)
	assert.Equal(t, sentry.LevelWarning, got[0].Level)
	assert.Equal(t, "ollama", got[0].Tags["provider"])
	assert.Equal(t, "circuit closed for ollama", got[1].Message)
	assert.Equal(t, "half_open", got[1].Tags["from"])
}

func TestReporter_WiredIntoBreaker(t *testing.T) {
	r, events := capturingReporter(t)
	cfg := resilience.DefaultBreakerConfig()
	cfg.OnStateChange = r.BreakerHook()
	cb := resilience.NewCircuitBreaker(cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		cb.RecordFailure("anthropic", 10)
	}
	got := events()
	require.Len(t, got, 1)
	assert.Equal(t, "anthropic", got[0].Tags["provider"])
}
