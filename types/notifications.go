package types

import (
	"context"
	"fmt"
	"time"
)

// NotificationKind names an outbound notification payload.
type NotificationKind string

const (
	KindAssignmentChanged    NotificationKind = "assignment.changed"
	KindInactivityWarning    NotificationKind = "inactivity.warning"
	KindInactivityTimeout    NotificationKind = "inactivity.timeout"
	KindQueuePositionChanged NotificationKind = "queue.position_changed"
	KindLockStatusChanged    NotificationKind = "lock.status_changed"
	KindWorkAvailable        NotificationKind = "work.available"
	KindOperatorAlert        NotificationKind = "operator.alert"
)

// Notification is an outbound payload addressed to a channel
// ("worker.<id>", "resource.<id>" or "operator").
type Notification interface {
	Kind() NotificationKind
	Channel() string
}

// Notifier relays notifications to the delivery collaborator.
//
// Delivery is best-effort: callers log and count errors but never roll back
// state because a notification failed.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// WorkerChannel returns the channel name addressing one worker.
func WorkerChannel(id WorkerID) string { return fmt.Sprintf("worker.%d", id) }

// ResourceChannel returns the channel name addressing one resource.
func ResourceChannel(id ResourceID) string { return fmt.Sprintf("resource.%d", id) }

// OperatorChannel addresses operator-facing alerts.
const OperatorChannel = "operator"

// AssignmentChanged announces that a resource got a new holder.
type AssignmentChanged struct {
	WorkerID         WorkerID         `json:"worker_id"`
	ResourceID       ResourceID       `json:"resource_id"`
	BindingID        BindingID        `json:"binding_id"`
	PreviousWorkerID WorkerID         `json:"previous_worker_id,omitempty"`
	Reason           AssignmentReason `json:"reason"`
}

// Severity grades warnings and alerts.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
)

// WarningSeverity derives the inactivity warning severity from the remaining
// time: ≤10s critical, ≤20s high, otherwise medium.
func WarningSeverity(remaining time.Duration) Severity {
	switch {
	case remaining <= 10*time.Second:
		return SeverityCritical
	case remaining <= 20*time.Second:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// InactivityWarning warns a worker that a binding is about to time out.
type InactivityWarning struct {
	WorkerID         WorkerID   `json:"worker_id"`
	ResourceID       ResourceID `json:"resource_id"`
	RemainingSeconds int        `json:"remaining_seconds"`
	Severity         Severity   `json:"severity"`
	CheckpointID     string     `json:"checkpoint_id"`
}

// InactivityTimeout tells a worker that a binding expired.
type InactivityTimeout struct {
	WorkerID   WorkerID   `json:"worker_id"`
	ResourceID ResourceID `json:"resource_id"`
	BindingID  BindingID  `json:"binding_id"`
	Reason     string     `json:"reason"`
}

// QueuePositionChanged tells a queued worker where it stands.
type QueuePositionChanged struct {
	WorkerID          WorkerID      `json:"worker_id"`
	Position          int           `json:"position"`
	EstimatedWait     time.Duration `json:"estimated_wait"`
	FreeResourceCount int           `json:"free_resource_count"`
}

// LockStatus is the state reported by LockStatusChanged.
type LockStatus string

const (
	LockLocked   LockStatus = "locked"
	LockUnlocked LockStatus = "unlocked"
)

// LockStatusChanged reports resource lock transitions.
type LockStatusChanged struct {
	ResourceID      ResourceID `json:"resource_id"`
	Status          LockStatus `json:"status"`
	WorkerID        WorkerID   `json:"worker_id,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
}

// WorkAvailable is one notification-round message to an offline worker.
type WorkAvailable struct {
	WorkerID         WorkerID `json:"worker_id"`
	RoundNumber      int      `json:"round_number"`
	PendingWorkCount int      `json:"pending_work_count"`
}

// OperatorAlert is a severity-tagged report for operators. Alerts describe
// conditions; any remediation has already happened when they are emitted.
type OperatorAlert struct {
	Severity  Severity  `json:"severity"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	At        time.Time `json:"at"`
}

func (AssignmentChanged) Kind() NotificationKind    { return KindAssignmentChanged }
func (InactivityWarning) Kind() NotificationKind    { return KindInactivityWarning }
func (InactivityTimeout) Kind() NotificationKind    { return KindInactivityTimeout }
func (QueuePositionChanged) Kind() NotificationKind { return KindQueuePositionChanged }
func (LockStatusChanged) Kind() NotificationKind    { return KindLockStatusChanged }
func (WorkAvailable) Kind() NotificationKind        { return KindWorkAvailable }
func (OperatorAlert) Kind() NotificationKind        { return KindOperatorAlert }

func (n AssignmentChanged) Channel() string    { return WorkerChannel(n.WorkerID) }
func (n InactivityWarning) Channel() string    { return WorkerChannel(n.WorkerID) }
func (n InactivityTimeout) Channel() string    { return WorkerChannel(n.WorkerID) }
func (n QueuePositionChanged) Channel() string { return WorkerChannel(n.WorkerID) }
func (n LockStatusChanged) Channel() string    { return ResourceChannel(n.ResourceID) }
func (n WorkAvailable) Channel() string        { return WorkerChannel(n.WorkerID) }
func (OperatorAlert) Channel() string          { return OperatorChannel }
