package monitoring

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/conduit/internal/config"
	"github.com/sells-group/conduit/internal/resilience"
)

// Reporter sends errors, alerts and traces to Sentry. A Reporter without a
// DSN is disabled and drops everything.
type Reporter struct {
	hub *sentry.Hub
}

// NewReporter builds a Reporter from config. An empty DSN yields a disabled
// Reporter and no error.
func NewReporter(cfg config.SentryConfig) (*Reporter, error) {
	if cfg.DSN == "" {
		return &Reporter{}, nil
	}
	return newReporter(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		EnableTracing:    cfg.TracesSampleRate > 0,
		TracesSampleRate: cfg.TracesSampleRate,
	})
}

func newReporter(opts sentry.ClientOptions) (*Reporter, error) {
	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: init sentry")
	}
	zap.L().Info("sentry enabled", zap.String("environment", opts.Environment))
	return &Reporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Enabled reports whether events are forwarded.
func (r *Reporter) Enabled() bool { return r != nil && r.hub != nil }

// CaptureError reports err with optional tags.
func (r *Reporter) CaptureError(err error, tags map[string]string) {
	if !r.Enabled() || err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		r.hub.CaptureException(err)
	})
}

// CaptureMessage reports msg at level with optional tags.
func (r *Reporter) CaptureMessage(level sentry.Level, msg string, tags map[string]string) {
	if !r.Enabled() {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		scope.SetTags(tags)
		r.hub.CaptureMessage(msg)
	})
}

// StartTransaction opens a trace span named op. Call Finish on the span.
// The returned context carries the span for child spans.
func (r *Reporter) StartTransaction(ctx context.Context, op string) (context.Context, *sentry.Span) {
	if r.Enabled() {
		ctx = sentry.SetHubOnContext(ctx, r.hub)
	}
	span := sentry.StartTransaction(ctx, op)
	return span.Context(), span
}

// BreakerHook returns a circuit breaker state-change callback that reports
// trips and recoveries.
func (r *Reporter) BreakerHook() func(name string, from, to resilience.CircuitState) {
	return func(name string, from, to resilience.CircuitState) {
		tags := map[string]string{
			"provider": name,
			"from":     from.String(),
			"to":       to.String(),
		}
		switch to {
		case resilience.CircuitOpen:
			r.CaptureMessage(sentry.LevelWarning, "circuit opened for "+name, tags)
		case resilience.CircuitClosed:
			if from != resilience.CircuitClosed {
				r.CaptureMessage(sentry.LevelInfo, "circuit closed for "+name, tags)
			}
		}
	}
}

// Flush waits up to timeout for queued events to be delivered.
func (r *Reporter) Flush(timeout time.Duration) {
	if !r.Enabled() {
		return
	}
	if !r.hub.Flush(timeout) {
		zap.L().Warn("sentry flush timed out", zap.Duration("timeout", timeout))
	}
}
