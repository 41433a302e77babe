package rota

import "github.com/arloliu/rota/types"

// Re-export the shared contracts from the types package so callers can use
// rota.Binding, rota.Notifier and friends without a second import. Internal
// packages depend on types directly, which keeps the root free of cycles.
type (
	WorkerID   = types.WorkerID
	ResourceID = types.ResourceID
	ClientID   = types.ClientID
	BindingID  = types.BindingID

	Binding           = types.Binding
	Worker            = types.Worker
	QueueEntry        = types.QueueEntry
	QueueStatus       = types.QueueStatus
	PendingWork       = types.PendingWork
	Lock              = types.Lock
	AuditReport       = types.AuditReport
	NotificationRound = types.NotificationRound
	Snapshot          = types.Snapshot
	AssignmentReason  = types.AssignmentReason
	ActivityKind      = types.ActivityKind
)

// Inbound events.
type (
	Event                  = types.Event
	MessageArrived         = types.MessageArrived
	WorkerWentOnline       = types.WorkerWentOnline
	WorkerWentOffline      = types.WorkerWentOffline
	ManualReleaseRequested = types.ManualReleaseRequested
	ManualAssignRequested  = types.ManualAssignRequested
	ActivityRecorded       = types.ActivityRecorded
)

// Outbound notifications.
type (
	Notification         = types.Notification
	AssignmentChanged    = types.AssignmentChanged
	InactivityWarning    = types.InactivityWarning
	InactivityTimeout    = types.InactivityTimeout
	QueuePositionChanged = types.QueuePositionChanged
	LockStatusChanged    = types.LockStatusChanged
	WorkAvailable        = types.WorkAvailable
	OperatorAlert        = types.OperatorAlert
)

// Collaborator interfaces.
type (
	Notifier         = types.Notifier
	NotifierFunc     = types.NotifierFunc
	Persister        = types.Persister
	SnapshotLoader   = types.SnapshotLoader
	LockBackend      = types.LockBackend
	Clock            = types.Clock
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
)

// Worker statuses.
const (
	WorkerActive    = types.WorkerActive
	WorkerSuspended = types.WorkerSuspended
)

// Activity kinds.
const (
	ActivityMessage   = types.ActivityMessage
	ActivityTyping    = types.ActivityTyping
	ActivityHeartbeat = types.ActivityHeartbeat
)

// Assignment reasons.
const (
	ReasonNewAssignment   = types.ReasonNewAssignment
	ReasonInactivity      = types.ReasonInactivity
	ReasonPendingMessages = types.ReasonPendingMessages
	ReasonRotation        = types.ReasonRotation
)
