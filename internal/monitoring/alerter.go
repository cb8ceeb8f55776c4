package monitoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/sells-group/conduit/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

// Alert types.
const (
	AlertProvidersDown AlertType = "providers_down"
	AlertCircuitOpen   AlertType = "circuit_open"
	AlertLowHealth     AlertType = "low_health"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// MessageSink receives alerts. *Reporter implements it.
type MessageSink interface {
	CaptureMessage(level sentry.Level, msg string, tags map[string]string)
}

// Alerter evaluates a MetricsSnapshot against configured thresholds and
// forwards breaches to a MessageSink.
type Alerter struct {
	cfg  config.MonitoringConfig
	sink MessageSink
}

// NewAlerter creates an Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig, sink MessageSink) *Alerter {
	return &Alerter{cfg: cfg, sink: sink}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt

	switch {
	case snap.Providers > 0 && len(snap.Open) == snap.Providers:
		alerts = append(alerts, Alert{
			Type:     AlertProvidersDown,
			Severity: "critical",
			Message:  fmt.Sprintf("All %d providers have open circuits", snap.Providers),
			Details: map[string]any{
				"open": snap.Open,
			},
			Timestamp: now,
		})
	case len(snap.Open) > 0:
		alerts = append(alerts, Alert{
			Type:     AlertCircuitOpen,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d of %d provider circuits open: %s",
				len(snap.Open), snap.Providers, strings.Join(snap.Open, ", "),
			),
			Details: map[string]any{
				"open":      snap.Open,
				"half_open": snap.HalfOpen,
			},
			Timestamp: now,
		})
	}

	if a.cfg.HealthScoreThreshold > 0 && snap.Providers > 0 &&
		snap.AvgHealthScore < float64(a.cfg.HealthScoreThreshold) {
		alerts = append(alerts, Alert{
			Type:     AlertLowHealth,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Average provider health %.0f below threshold %d (error rate %.1f%%)",
				snap.AvgHealthScore, a.cfg.HealthScoreThreshold, snap.ErrorRate*100,
			),
			Details: map[string]any{
				"avg_health_score": snap.AvgHealthScore,
				"threshold":        a.cfg.HealthScoreThreshold,
				"error_rate":       snap.ErrorRate,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the sink and returns how many were sent.
func (a *Alerter) SendAlerts(alerts []Alert) int {
	if a.sink == nil || len(alerts) == 0 {
		return 0
	}
	for _, alert := range alerts {
		a.sink.CaptureMessage(severityLevel(alert.Severity), alert.Message, map[string]string{
			"alert_type": string(alert.Type),
			"severity":   alert.Severity,
		})
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
	}
	return len(alerts)
}

func severityLevel(severity string) sentry.Level {
	switch severity {
	case "critical":
		return sentry.LevelFatal
	case "high":
		return sentry.LevelError
	default:
		return sentry.LevelWarning
	}
}
