package types

import "time"

// WorkerStatus is the account status owned by the authentication collaborator.
type WorkerStatus string

const (
	WorkerActive    WorkerStatus = "active"
	WorkerSuspended WorkerStatus = "suspended"
)

// Worker is the subset of a moderator's account the engine reads and writes.
type Worker struct {
	ID         WorkerID     `json:"id"`
	Online     bool         `json:"online"`
	Status     WorkerStatus `json:"status"`
	LastSeenAt time.Time    `json:"last_seen_at"`
}

// Eligible reports whether the worker can receive new bindings, given the
// cutoff before which a last_seen_at is considered stale. A zero cutoff
// disables the staleness check.
func (w Worker) Eligible(staleBefore time.Time) bool {
	if !w.Online || w.Status != WorkerActive {
		return false
	}
	if !staleBefore.IsZero() && w.LastSeenAt.Before(staleBefore) {
		return false
	}

	return true
}

// PendingWork records unanswered client messages on a resource.
type PendingWork struct {
	ResourceID ResourceID             `json:"resource_id"`
	Clients    map[ClientID]time.Time `json:"clients"`
}

// Oldest returns the arrival time of the oldest unanswered message.
func (p PendingWork) Oldest() time.Time {
	var oldest time.Time
	for _, at := range p.Clients {
		if oldest.IsZero() || at.Before(oldest) {
			oldest = at
		}
	}

	return oldest
}
