package monitoring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/sells-group/conduit/internal/config"
	"github.com/sells-group/conduit/internal/resilience"
)

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 1}
	checker := NewChecker(NewCollector(staticHealth{}), NewAlerter(cfg, nil), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestChecker_SendsOncePerEpisode(t *testing.T) {
	health := staticHealth{"a": {State: resilience.CircuitOpen, HealthScore: 100}, "b": {HealthScore: 100}}
	sink := &recordingSink{}
	cfg := config.MonitoringConfig{}
	checker := NewChecker(NewCollector(health), NewAlerter(cfg, sink), cfg)
	log := zap.NewNop()

	assert.Equal(t, 1, checker.check(log))
	assert.Equal(t, 0, checker.check(log), "still firing, not resent")

	health["a"] = resilience.HealthSnapshot{State: resilience.CircuitClosed, HealthScore: 100}
	assert.Equal(t, 0, checker.check(log))

	health["a"] = resilience.HealthSnapshot{State: resilience.CircuitOpen}
	assert.Equal(t, 1, checker.check(log), "fires again after clearing")
	assert.Len(t, sink.msgs, 2)
}
