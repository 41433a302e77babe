package types

import "time"

// QueueEntry is a worker waiting for a free resource.
//
// Lower Priority values are served first; within one priority the entry with
// the earliest QueuedAt wins. Position is 1-based.
type QueueEntry struct {
	WorkerID      WorkerID      `json:"worker_id"`
	QueuedAt      time.Time     `json:"queued_at"`
	Priority      int           `json:"priority"`
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}

// QueueStatus is what a worker without a resource is told instead of an error.
type QueueStatus struct {
	Queued        bool          `json:"queued"`
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait"`
	FreeResources int           `json:"free_resources"`
}

// NotificationRound records one "work available" broadcast to offline workers.
type NotificationRound struct {
	RoundNumber      int        `json:"round_number"`
	WorkersNotified  []WorkerID `json:"workers_notified"`
	SentAt           time.Time  `json:"sent_at"`
	PendingWorkCount int        `json:"pending_work_count"`
}
