package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/conduit/internal/config"
	"github.com/sells-group/conduit/internal/cost"
	"github.com/sells-group/conduit/internal/generate"
	"github.com/sells-group/conduit/internal/monitoring"
	"github.com/sells-group/conduit/internal/prompt"
	"github.com/sells-group/conduit/internal/provider"
)

const sentryFlushTimeout = 2 * time.Second

// app holds the components every command shares.
type app struct {
	Registry     *provider.Registry
	Orchestrator *generate.Orchestrator
	Reporter     *monitoring.Reporter
	Usage        *cost.Tracker
}

// newApp builds the reporter, the provider registry with breaker trips
// reported to Sentry, and the orchestrator over a fresh session with token
// usage priced at list rates.
func newApp(ctx context.Context, c *config.Config) (*app, error) {
	reporter, err := monitoring.NewReporter(c.Sentry)
	if err != nil {
		return nil, err
	}

	reg, err := provider.BuildDefault(ctx, c, provider.WithStateChangeHook(reporter.BreakerHook()))
	if err != nil {
		return nil, eris.Wrap(err, "build providers")
	}

	usage := cost.NewTracker(cost.NewCalculator(cost.DefaultRates()))
	orch := generate.New(reg, prompt.New(), generate.NewSession(), generate.OptionsFromConfig(c.Generate))
	orch.SetUsageRecorder(usage)
	return &app{
		Registry:     reg,
		Orchestrator: orch,
		Reporter:     reporter,
		Usage:        usage,
	}, nil
}

// Close flushes pending error reports.
func (a *app) Close() {
	a.Reporter.Flush(sentryFlushTimeout)
}
