package types

import "context"

// Persister receives copies of every record the engine mutates so the
// persistence collaborator can store them. Calls happen after the in-memory
// mutation succeeded; errors are logged and counted, never rolled back.
type Persister interface {
	SaveBinding(ctx context.Context, b Binding) error
	SaveWorker(ctx context.Context, w Worker) error
	SaveQueueEntry(ctx context.Context, e QueueEntry) error
	DeleteQueueEntry(ctx context.Context, worker WorkerID) error
	SaveLock(ctx context.Context, l Lock) error
	DeleteLock(ctx context.Context, key string) error
	SaveNotificationRound(ctx context.Context, r NotificationRound) error
}

// Snapshot is the durable state restored when a Manager starts.
type Snapshot struct {
	Bindings []Binding    // active bindings only
	Workers  []Worker
	Queue    []QueueEntry // in service order
}

// SnapshotLoader reads the last persisted state. Timers are not persisted;
// the auditor recreates them for every restored active binding.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context) (Snapshot, error)
}
