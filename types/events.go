package types

import "time"

// EventType names an inbound event on the wire.
type EventType string

const (
	EventMessageArrived         EventType = "message.arrived.v1"
	EventWorkerWentOnline       EventType = "worker.online.v1"
	EventWorkerWentOffline      EventType = "worker.offline.v1"
	EventManualReleaseRequested EventType = "manual.release.v1"
	EventManualAssignRequested  EventType = "manual.assign.v1"
	EventActivityRecorded       EventType = "activity.recorded.v1"
)

// Event is an inbound notification produced by an external collaborator.
type Event interface {
	EventType() EventType
}

// MessageArrived is raised for every chat message on a resource. Client
// messages trigger routing; worker replies (IsFromClient=false) count as
// activity on the sender's binding and clear the client's pending work.
type MessageArrived struct {
	ClientID     ClientID   `json:"client_id"`
	ResourceID   ResourceID `json:"resource_id"`
	IsFromClient bool       `json:"is_from_client"`
	SentAt       time.Time  `json:"sent_at"`
	WorkerID     WorkerID   `json:"worker_id,omitempty"`
}

// WorkerWentOnline marks a worker as online.
type WorkerWentOnline struct {
	WorkerID WorkerID `json:"worker_id"`
}

// WorkerWentOffline marks a worker as offline.
type WorkerWentOffline struct {
	WorkerID WorkerID `json:"worker_id"`
}

// ManualReleaseRequested asks to end a worker's binding on a resource.
type ManualReleaseRequested struct {
	WorkerID   WorkerID   `json:"worker_id"`
	ResourceID ResourceID `json:"resource_id"`
}

// ManualAssignRequested asks to bind a worker to a resource.
type ManualAssignRequested struct {
	WorkerID   WorkerID   `json:"worker_id"`
	ResourceID ResourceID `json:"resource_id"`
	Primary    bool       `json:"primary"`
}

// ActivityKind classifies liveness signals that reset inactivity timers.
type ActivityKind string

const (
	ActivityMessage   ActivityKind = "message"
	ActivityTyping    ActivityKind = "typing"
	ActivityHeartbeat ActivityKind = "heartbeat"
)

// ActivityRecorded is a typing or heartbeat signal from a worker's UI.
type ActivityRecorded struct {
	WorkerID   WorkerID     `json:"worker_id"`
	ResourceID ResourceID   `json:"resource_id"`
	Kind       ActivityKind `json:"kind"`
	At         time.Time    `json:"at"`
}

func (MessageArrived) EventType() EventType         { return EventMessageArrived }
func (WorkerWentOnline) EventType() EventType       { return EventWorkerWentOnline }
func (WorkerWentOffline) EventType() EventType      { return EventWorkerWentOffline }
func (ManualReleaseRequested) EventType() EventType { return EventManualReleaseRequested }
func (ManualAssignRequested) EventType() EventType  { return EventManualAssignRequested }
func (ActivityRecorded) EventType() EventType       { return EventActivityRecorded }
