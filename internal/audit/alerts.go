package audit

import (
	"context"
	"fmt"

	"github.com/arloliu/rota/types"
)

// Alert codes emitted by the auditor.
const (
	AlertQueueLength = "queue_length"
	AlertActiveLocks = "active_locks"
	AlertUnresolved  = "unresolved_conflicts"
)

// Threshold grades a gauge. A zero level is disabled.
type Threshold struct {
	Warning float64 `yaml:"warning"`
	Error   float64 `yaml:"error"`
}

// Severity returns the severity for value, or "" when below both levels.
func (t Threshold) Severity(value float64) (types.Severity, float64) {
	switch {
	case t.Error > 0 && value >= t.Error:
		return types.SeverityError, t.Error
	case t.Warning > 0 && value >= t.Warning:
		return types.SeverityWarning, t.Warning
	default:
		return "", 0
	}
}

// Thresholds holds the alert levels checked after every pass.
type Thresholds struct {
	QueueLength Threshold `yaml:"queueLength"`
	ActiveLocks Threshold `yaml:"activeLocks"`
	Unresolved  Threshold `yaml:"unresolvedConflicts"`
}

// DefaultThresholds returns the alert levels used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		QueueLength: Threshold{Warning: 10, Error: 25},
		ActiveLocks: Threshold{Warning: 200, Error: 1000},
		Unresolved:  Threshold{Warning: 1, Error: 5},
	}
}

func (a *Auditor) alerts(ctx context.Context, report *types.AuditReport) {
	th := *a.thresholds.Load()
	checks := []struct {
		code  string
		what  string
		value int
		level Threshold
	}{
		{AlertQueueLength, "workers waiting in queue", report.QueueLength, th.QueueLength},
		{AlertActiveLocks, "active locks", report.ActiveLocks, th.ActiveLocks},
		{AlertUnresolved, "unresolved conflicts", report.Unresolved, th.Unresolved},
	}

	for _, c := range checks {
		severity, limit := c.level.Severity(float64(c.value))
		if severity == "" {
			continue
		}

		alert := types.OperatorAlert{
			Severity:  severity,
			Code:      c.code,
			Message:   fmt.Sprintf("%d %s (threshold %g)", c.value, c.what, limit),
			Value:     float64(c.value),
			Threshold: limit,
			At:        a.clock.Now(),
		}
		report.Alerts = append(report.Alerts, alert)
		a.metrics.RecordAlert(c.code, string(severity))

		if severity == types.SeverityError {
			a.logger.Error("audit alert", "code", c.code, "value", c.value, "threshold", limit)
		} else {
			a.logger.Warn("audit alert", "code", c.code, "value", c.value, "threshold", limit)
		}

		if a.notifier != nil {
			if err := a.notifier.Notify(ctx, alert); err != nil {
				a.logger.Warn("alert notification failed", "code", c.code, "error", err)
			}
		}
	}
}
