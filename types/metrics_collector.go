package types

// MetricsCollector records operational metrics.
//
// Implementations must be non-blocking and safe for concurrent use; all
// methods are called from request paths and timer goroutines.
//
// The interface is composed of small per-component interfaces so each
// component only depends on what it records.
type MetricsCollector interface {
	LockMetrics
	QueueMetrics
	TimeoutMetrics
	AssignmentMetrics
	AuditMetrics
	NotificationMetrics
}

// LockMetrics defines metrics for the Lock Manager.
type LockMetrics interface {
	// RecordLockAcquire records an acquire attempt.
	//
	// Parameters:
	//   - subject: Lock subject ("resource", "conversation")
	//   - result: "acquired", "busy" or "error"
	RecordLockAcquire(subject string, result string)

	// RecordLocksReaped records how many expired locks one reap removed.
	RecordLocksReaped(count int)
}

// QueueMetrics defines metrics for the Queue Manager.
type QueueMetrics interface {
	// RecordQueueSize sets the current queue length (gauge metric).
	RecordQueueSize(size int)

	// RecordQueueWait records how long a dequeued worker waited, in seconds.
	RecordQueueWait(seconds float64)
}

// TimeoutMetrics defines metrics for the Timeout Manager.
type TimeoutMetrics interface {
	// RecordInactivityWarning records a fired warning checkpoint.
	RecordInactivityWarning(severity string)

	// RecordInactivityTimeout records an expired binding and whether handling succeeded.
	RecordInactivityTimeout(handled bool)

	// RecordActiveTimers sets the number of scheduled binding timers (gauge metric).
	RecordActiveTimers(count int)
}

// AssignmentMetrics defines metrics for the Assignment Engine.
type AssignmentMetrics interface {
	// RecordAssignment records a created binding by reason.
	RecordAssignment(reason string)

	// RecordRoute records a routing outcome ("existing", "assigned", "none_available", "busy", "error").
	RecordRoute(result string)

	// RecordBindingDuration records how long an ended binding was held, in seconds.
	RecordBindingDuration(seconds float64)

	// RecordActiveBindings sets the number of active bindings (gauge metric).
	RecordActiveBindings(count int)

	// RecordNotificationRound records an escalation broadcast.
	RecordNotificationRound(round int, notified int)
}

// AuditMetrics defines metrics for the reconciliation auditor.
type AuditMetrics interface {
	// RecordAuditPass records a completed pass and its duration in seconds.
	RecordAuditPass(seconds float64)

	// RecordRepair records repaired invariant violations by kind.
	RecordRepair(kind string, count int)

	// RecordAlert records an emitted operator alert.
	RecordAlert(code string, severity string)
}

// NotificationMetrics defines metrics for outbound delivery.
type NotificationMetrics interface {
	// RecordNotification records a delivery attempt by kind and result ("sent", "failed", "dropped").
	RecordNotification(kind string, result string)
}
