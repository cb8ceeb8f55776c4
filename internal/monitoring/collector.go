// Package monitoring watches provider health and reports outages to Sentry.
package monitoring

import (
	"sort"
	"time"

	"github.com/sells-group/conduit/internal/resilience"
)

// MetricsSnapshot holds a point-in-time view of provider health.
type MetricsSnapshot struct {
	Providers      int      `json:"providers"`
	Open           []string `json:"open"`
	HalfOpen       []string `json:"half_open"`
	AvgHealthScore float64  `json:"avg_health_score"`
	TotalSuccess   int      `json:"total_success"`
	TotalErrors    int      `json:"total_errors"`
	ErrorRate      float64  `json:"error_rate"`

	CollectedAt time.Time `json:"collected_at"`
}

// HealthSource is implemented by the circuit breaker.
type HealthSource interface {
	AllHealth() map[string]resilience.HealthSnapshot
}

// Collector turns breaker state into a MetricsSnapshot.
type Collector struct {
	source  HealthSource
	nowFunc func() time.Time
}

// NewCollector creates a collector reading from source.
func NewCollector(source HealthSource) *Collector {
	return &Collector{source: source, nowFunc: time.Now}
}

// Collect gathers a snapshot. Providers that have never been called are
// not part of the breaker and so are not counted.
func (c *Collector) Collect() *MetricsSnapshot {
	health := c.source.AllHealth()
	snap := &MetricsSnapshot{
		Providers:   len(health),
		Open:        []string{},
		HalfOpen:    []string{},
		CollectedAt: c.nowFunc().UTC(),
	}
	if len(health) == 0 {
		return snap
	}

	scoreSum := 0
	for name, h := range health {
		switch h.State {
		case resilience.CircuitOpen:
			snap.Open = append(snap.Open, name)
		case resilience.CircuitHalfOpen:
			snap.HalfOpen = append(snap.HalfOpen, name)
		}
		scoreSum += h.HealthScore
		snap.TotalSuccess += h.TotalSuccess
		snap.TotalErrors += h.TotalErrors
	}
	sort.Strings(snap.Open)
	sort.Strings(snap.HalfOpen)

	snap.AvgHealthScore = float64(scoreSum) / float64(len(health))
	if total := snap.TotalSuccess + snap.TotalErrors; total > 0 {
		snap.ErrorRate = float64(snap.TotalErrors) / float64(total)
	}
	return snap
}
