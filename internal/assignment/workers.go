package assignment

import (
	"context"
	"fmt"
	"time"

	"github.com/arloliu/rota/types"
)

// RegisterWorker creates or updates a worker record. A zero Status means
// active.
func (e *Engine) RegisterWorker(ctx context.Context, w types.Worker) error {
	if !w.ID.Valid() {
		return fmt.Errorf("%w: %d", types.ErrInvalidWorkerID, w.ID)
	}
	if w.Status == "" {
		w.Status = types.WorkerActive
	}
	if w.LastSeenAt.IsZero() {
		w.LastSeenAt = e.clock.Now()
	}
	e.store.SaveWorker(ctx, w)
	if !w.Eligible(time.Time{}) {
		e.queue.Remove(ctx, w.ID)
	}

	return nil
}

// MarkOnline flags worker online and refreshes LastSeenAt. Unknown workers
// are registered as active.
func (e *Engine) MarkOnline(ctx context.Context, worker types.WorkerID) error {
	if !worker.Valid() {
		return fmt.Errorf("%w: %d", types.ErrInvalidWorkerID, worker)
	}

	now := e.clock.Now()
	e.store.UpdateWorker(ctx, worker, true, func(w *types.Worker) bool {
		if w.Status == "" {
			w.Status = types.WorkerActive
		}
		w.Online = true
		if now.After(w.LastSeenAt) {
			w.LastSeenAt = now
		}

		return true
	})
	e.logger.Info("worker online", "worker_id", worker)

	return nil
}

// MarkOffline flags worker offline and drops it from the queue. Its
// bindings are left to their inactivity timers.
func (e *Engine) MarkOffline(ctx context.Context, worker types.WorkerID) error {
	_, ok := e.store.UpdateWorker(ctx, worker, false, func(w *types.Worker) bool {
		w.Online = false
		return true
	})
	if !ok {
		return fmt.Errorf("%w: %d", types.ErrUnknownWorker, worker)
	}
	e.queue.Remove(ctx, worker)
	e.logger.Info("worker offline", "worker_id", worker, "active_bindings", e.store.ActiveCount(worker))

	return nil
}

// QueueStatus tells a worker where it stands: its queue position and
// estimated wait, or Queued=false when it is not waiting.
func (e *Engine) QueueStatus(worker types.WorkerID) types.QueueStatus {
	st := types.QueueStatus{FreeResources: e.store.FreeCount()}

	pos, err := e.queue.PositionOf(worker)
	if err != nil {
		return st
	}
	wait, err := e.queue.EstimateWait(worker)
	if err != nil {
		return st
	}
	st.Queued = true
	st.Position = pos
	st.EstimatedWait = wait

	return st
}

// Enqueue queues an idle worker at priority; a negative priority means the
// default. Workers holding a binding are not queued.
func (e *Engine) Enqueue(ctx context.Context, worker types.WorkerID, priority int) (int, error) {
	if e.store.ActiveCount(worker) > 0 {
		return 0, fmt.Errorf("%w: worker %d holds a resource", types.ErrAlreadyBound, worker)
	}
	if priority < 0 {
		priority = e.queuePriority
	}

	return e.queue.Enqueue(ctx, worker, priority)
}
