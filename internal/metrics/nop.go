// Package metrics provides types.MetricsCollector implementations.
package metrics

import "github.com/arloliu/rota/types"

// NopMetrics implements a no-op metrics collector.
//
// All metrics are discarded. Useful for testing or when external
// metrics collection is used.
type NopMetrics struct{}

// Compile-time assertion that NopMetrics implements MetricsCollector.
var _ types.MetricsCollector = (*NopMetrics)(nil)

// NewNop creates a new no-op metrics collector.
//
// Example:
//
//	mgr, err := rota.NewManager(&cfg, rota.WithMetrics(metrics.NewNop()))
func NewNop() *NopMetrics {
	return &NopMetrics{}
}

// LockMetrics implementation

func (n *NopMetrics) RecordLockAcquire(_ /* subject */, _ /* result */ string) {}
func (n *NopMetrics) RecordLocksReaped(_ /* count */ int) {}

// QueueMetrics implementation

func (n *NopMetrics) RecordQueueSize(_ /* size */ int) {}
func (n *NopMetrics) RecordQueueWait(_ /* seconds */ float64) {}

// TimeoutMetrics implementation

func (n *NopMetrics) RecordInactivityWarning(_ /* severity */ string) {}
func (n *NopMetrics) RecordInactivityTimeout(_ /* handled */ bool) {}
func (n *NopMetrics) RecordActiveTimers(_ /* count */ int) {}

// AssignmentMetrics implementation

func (n *NopMetrics) RecordAssignment(_ /* reason */ string) {}
func (n *NopMetrics) RecordRoute(_ /* result */ string) {}
func (n *NopMetrics) RecordBindingDuration(_ /* seconds */ float64) {}
func (n *NopMetrics) RecordActiveBindings(_ /* count */ int) {}
func (n *NopMetrics) RecordNotificationRound(_ /* round */, _ /* notified */ int) {}

// AuditMetrics implementation

func (n *NopMetrics) RecordAuditPass(_ /* seconds */ float64) {}
func (n *NopMetrics) RecordRepair(_ /* kind */ string, _ /* count */ int) {}
func (n *NopMetrics) RecordAlert(_ /* code */, _ /* severity */ string) {}

// NotificationMetrics implementation

func (n *NopMetrics) RecordNotification(_ /* kind */, _ /* result */ string) {}
