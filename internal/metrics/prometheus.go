package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/rota/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Collectors are created and registered lazily on first use so constructing
// a collector that is never exercised leaves the registry untouched.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	lockAcquires *prometheus.CounterVec
	locksReaped  prometheus.Counter

	queueSize prometheus.Gauge
	queueWait prometheus.Histogram

	warnings     *prometheus.CounterVec
	timeouts     *prometheus.CounterVec
	activeTimers prometheus.Gauge

	assignments     *prometheus.CounterVec
	routes          *prometheus.CounterVec
	bindingDuration prometheus.Histogram
	activeBindings  prometheus.Gauge
	rounds          *prometheus.CounterVec
	roundWorkers    prometheus.Counter

	auditDuration prometheus.Histogram
	repairs       *prometheus.CounterVec
	alerts        *prometheus.CounterVec

	notifications *prometheus.CounterVec
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer interface (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "rota" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "rota"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.lockAcquires = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "lock",
			Name:      "acquires_total",
			Help:      "Lock acquire attempts by subject and result (acquired,busy,error).",
		}, []string{"subject", "result"})
		p.locksReaped = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "lock",
			Name:      "reaped_total",
			Help:      "Expired locks removed by the reaper.",
		})

		p.queueSize = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "queue",
			Name:      "length",
			Help:      "Workers currently waiting for a resource.",
		})
		p.queueWait = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "queue",
			Name:      "wait_seconds",
			Help:      "Time dequeued workers spent waiting.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		})

		p.warnings = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "timeout",
			Name:      "warnings_total",
			Help:      "Inactivity warnings sent by severity.",
		}, []string{"severity"})
		p.timeouts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "timeout",
			Name:      "expirations_total",
			Help:      "Expired bindings by handling outcome (handled,failed).",
		}, []string{"result"})
		p.activeTimers = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "timeout",
			Name:      "active_timers",
			Help:      "Bindings with a scheduled inactivity timer.",
		})

		p.assignments = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "assignment",
			Name:      "bindings_created_total",
			Help:      "Bindings created by assignment reason.",
		}, []string{"reason"})
		p.routes = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "assignment",
			Name:      "routes_total",
			Help:      "Conversation routing outcomes.",
		}, []string{"result"})
		p.bindingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "assignment",
			Name:      "binding_duration_seconds",
			Help:      "How long ended bindings were held.",
			Buckets:   prometheus.ExponentialBuckets(30, 2, 10), // 30s .. ~4h
		})
		p.activeBindings = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "assignment",
			Name:      "active_bindings",
			Help:      "Currently active bindings.",
		})
		p.rounds = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "escalation",
			Name:      "rounds_total",
			Help:      "Work-available notification rounds by round number.",
		}, []string{"round"})
		p.roundWorkers = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "escalation",
			Name:      "workers_notified_total",
			Help:      "Offline workers notified across all rounds.",
		})

		p.auditDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "audit",
			Name:      "pass_duration_seconds",
			Help:      "Duration of reconciliation passes.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. ~2s
		})
		p.repairs = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "audit",
			Name:      "repairs_total",
			Help:      "Repaired invariant violations by kind.",
		}, []string{"kind"})
		p.alerts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "audit",
			Name:      "alerts_total",
			Help:      "Operator alerts by code and severity.",
		}, []string{"code", "severity"})

		p.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Outbound notifications by kind and result (sent,failed,dropped).",
		}, []string{"kind", "result"})

		p.reg.MustRegister(
			p.lockAcquires, p.locksReaped,
			p.queueSize, p.queueWait,
			p.warnings, p.timeouts, p.activeTimers,
			p.assignments, p.routes, p.bindingDuration, p.activeBindings, p.rounds, p.roundWorkers,
			p.auditDuration, p.repairs, p.alerts,
			p.notifications,
		)
	})
}

// RecordLockAcquire increments lock acquire attempts.
func (p *PrometheusCollector) RecordLockAcquire(subject string, result string) {
	p.ensureRegistered()
	p.lockAcquires.WithLabelValues(subject, result).Inc()
}

// RecordLocksReaped adds to the reaped lock counter.
func (p *PrometheusCollector) RecordLocksReaped(count int) {
	if count <= 0 {
		return
	}
	p.ensureRegistered()
	p.locksReaped.Add(float64(count))
}

// RecordQueueSize sets the queue length gauge.
func (p *PrometheusCollector) RecordQueueSize(size int) {
	p.ensureRegistered()
	p.queueSize.Set(float64(size))
}

// RecordQueueWait observes a dequeue wait.
func (p *PrometheusCollector) RecordQueueWait(seconds float64) {
	p.ensureRegistered()
	p.queueWait.Observe(seconds)
}

// RecordInactivityWarning increments warnings by severity.
func (p *PrometheusCollector) RecordInactivityWarning(severity string) {
	p.ensureRegistered()
	p.warnings.WithLabelValues(severity).Inc()
}

// RecordInactivityTimeout increments expirations by outcome.
func (p *PrometheusCollector) RecordInactivityTimeout(handled bool) {
	p.ensureRegistered()
	result := "handled"
	if !handled {
		result = "failed"
	}
	p.timeouts.WithLabelValues(result).Inc()
}

// RecordActiveTimers sets the active timer gauge.
func (p *PrometheusCollector) RecordActiveTimers(count int) {
	p.ensureRegistered()
	p.activeTimers.Set(float64(count))
}

// RecordAssignment increments created bindings by reason.
func (p *PrometheusCollector) RecordAssignment(reason string) {
	p.ensureRegistered()
	p.assignments.WithLabelValues(reason).Inc()
}

// RecordRoute increments routing outcomes.
func (p *PrometheusCollector) RecordRoute(result string) {
	p.ensureRegistered()
	p.routes.WithLabelValues(result).Inc()
}

// RecordBindingDuration observes an ended binding's lifetime.
func (p *PrometheusCollector) RecordBindingDuration(seconds float64) {
	p.ensureRegistered()
	p.bindingDuration.Observe(seconds)
}

// RecordActiveBindings sets the active binding gauge.
func (p *PrometheusCollector) RecordActiveBindings(count int) {
	p.ensureRegistered()
	p.activeBindings.Set(float64(count))
}

// RecordNotificationRound records an escalation broadcast.
func (p *PrometheusCollector) RecordNotificationRound(round int, notified int) {
	p.ensureRegistered()
	p.rounds.WithLabelValues(strconv.Itoa(round)).Inc()
	p.roundWorkers.Add(float64(notified))
}

// RecordAuditPass observes a completed audit pass.
func (p *PrometheusCollector) RecordAuditPass(seconds float64) {
	p.ensureRegistered()
	p.auditDuration.Observe(seconds)
}

// RecordRepair adds repaired violations by kind.
func (p *PrometheusCollector) RecordRepair(kind string, count int) {
	if count <= 0 {
		return
	}
	p.ensureRegistered()
	p.repairs.WithLabelValues(kind).Add(float64(count))
}

// RecordAlert increments emitted operator alerts.
func (p *PrometheusCollector) RecordAlert(code string, severity string) {
	p.ensureRegistered()
	p.alerts.WithLabelValues(code, severity).Inc()
}

// RecordNotification increments outbound deliveries.
func (p *PrometheusCollector) RecordNotification(kind string, result string) {
	p.ensureRegistered()
	p.notifications.WithLabelValues(kind, result).Inc()
}
