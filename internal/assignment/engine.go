package assignment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/arloliu/rota/internal/ids"
	"github.com/arloliu/rota/internal/lock"
	"github.com/arloliu/rota/internal/queue"
	"github.com/arloliu/rota/internal/store"
	"github.com/arloliu/rota/internal/timeout"
	"github.com/arloliu/rota/types"
)

// Engine is the central allocator.
type Engine struct {
	store    *store.Store
	locks    *lock.Manager
	queue    *queue.Manager
	timeouts *timeout.Manager
	clock    types.Clock

	lockTTL              time.Duration
	lockAttempts         int
	lockBackoff          time.Duration
	excludeInactiveAfter time.Duration
	queuePriority        int
	maxBindingAge        time.Duration

	notifier types.Notifier
	metrics  types.AssignmentMetrics
	logger   types.Logger
}

// New creates an engine and registers it as the inactivity handler of the
// timeout manager.
func New(cfg *Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.SetDefaults()

	e := &Engine{
		store:                cfg.Store,
		locks:                cfg.Locks,
		queue:                cfg.Queue,
		timeouts:             cfg.Timeouts,
		clock:                cfg.Clock,
		lockTTL:              cfg.LockTTL,
		lockAttempts:         cfg.LockAttempts,
		lockBackoff:          cfg.LockBackoff,
		excludeInactiveAfter: cfg.ExcludeInactiveAfter,
		queuePriority:        cfg.QueuePriority,
		maxBindingAge:        cfg.MaxBindingAge,
		notifier:             cfg.Notifier,
		metrics:              cfg.Metrics,
		logger:               cfg.Logger,
	}
	e.timeouts.SetHandler(e.HandleInactivity)

	return e, nil
}

// assignParams describes one binding to create.
type assignParams struct {
	worker        types.WorkerID
	resource      types.ResourceID
	primary       bool
	reason        types.AssignmentReason
	previous      types.WorkerID
	conversations []types.ClientID
}

// assignLocked creates an active binding. The caller holds the resource lock.
func (e *Engine) assignLocked(ctx context.Context, p assignParams) (types.Binding, error) {
	if len(e.store.ActiveForResource(p.resource)) > 0 {
		return types.Binding{}, fmt.Errorf("%w: resource %d", types.ErrAlreadyBound, p.resource)
	}
	if _, ok := e.store.Worker(p.worker); !ok {
		return types.Binding{}, fmt.Errorf("%w: %d", types.ErrUnknownWorker, p.worker)
	}

	now := e.clock.Now()
	b := types.Binding{
		ID:             ids.NewBindingID(now),
		WorkerID:       p.worker,
		ResourceID:     p.resource,
		Active:         true,
		Primary:        p.primary,
		Exclusive:      true,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	for _, c := range p.conversations {
		if c.Valid() {
			b.AddConversation(c)
		}
	}
	if pending, ok := e.store.Pending(p.resource); ok {
		for c := range pending.Clients {
			b.AddConversation(c)
		}
	}

	// Queue removal happens inside the same critical section as the bind.
	e.queue.Remove(ctx, p.worker)
	if p.primary {
		e.demotePrimaries(ctx, p.worker, p.resource)
	}
	e.store.SaveBinding(ctx, b)
	e.timeouts.Schedule(b, now)

	e.metrics.RecordAssignment(string(p.reason))
	e.metrics.RecordActiveBindings(e.store.ActiveBindingCount())
	e.logger.Info("binding created",
		"binding_id", b.ID, "worker_id", b.WorkerID, "resource_id", b.ResourceID,
		"primary", b.Primary, "reason", p.reason, "previous_worker_id", p.previous)

	e.notify(ctx, types.AssignmentChanged{
		WorkerID:         b.WorkerID,
		ResourceID:       b.ResourceID,
		BindingID:        b.ID,
		PreviousWorkerID: p.previous,
		Reason:           p.reason,
	})

	return b, nil
}

// demotePrimaries clears the primary flag on the worker's other active
// bindings. Each demotion needs that binding's resource lock; a busy lock is
// skipped and left to the auditor, which keeps the newest primary.
func (e *Engine) demotePrimaries(ctx context.Context, worker types.WorkerID, except types.ResourceID) {
	for _, b := range e.store.ActiveForWorker(worker) {
		if !b.Primary || b.ResourceID == except {
			continue
		}
		err := e.withResource(ctx, b.ResourceID, 0, 1, func(ctx context.Context) error {
			cur, ok := e.store.Binding(b.ID)
			if !ok || !cur.Active || !cur.Primary {
				return nil
			}
			cur.Primary = false
			e.store.SaveBinding(ctx, cur)

			return nil
		})
		if err != nil {
			e.logger.Debug("primary demotion deferred", "binding_id", b.ID, "error", err)
		}
	}
}

// endLocked deactivates a binding, keeping it as history. The caller holds
// the resource lock.
func (e *Engine) endLocked(ctx context.Context, b types.Binding, reason types.EndReason) types.Binding {
	now := e.clock.Now()
	b.Active = false
	b.EndedAt = now
	b.EndReason = reason
	e.store.SaveBinding(ctx, b)
	e.timeouts.Cancel(b.WorkerID, b.ResourceID)

	if reason != types.EndDuplicate {
		d := b.Duration(now)
		e.queue.ObserveTurnover(d)
		e.metrics.RecordBindingDuration(d.Seconds())
	}
	e.metrics.RecordActiveBindings(e.store.ActiveBindingCount())
	e.logger.Info("binding ended",
		"binding_id", b.ID, "worker_id", b.WorkerID, "resource_id", b.ResourceID, "reason", reason)

	return b
}

// selectWorker applies the selection rule: eligible, not excluded, fewest
// active bindings, then oldest LastSeenAt, then lowest ID.
func (e *Engine) selectWorker(exclude ...types.WorkerID) (types.Worker, bool) {
	cutoff := e.staleBefore()

	var best types.Worker
	bestLoad := -1
	for _, w := range e.store.Workers() {
		if !w.Eligible(cutoff) || slices.Contains(exclude, w.ID) {
			continue
		}
		load := e.store.ActiveCount(w.ID)
		if bestLoad < 0 || load < bestLoad || (load == bestLoad && w.LastSeenAt.Before(best.LastSeenAt)) {
			best, bestLoad = w, load
		}
	}

	return best, bestLoad >= 0
}

func (e *Engine) staleBefore() time.Time {
	if e.excludeInactiveAfter <= 0 {
		return time.Time{}
	}

	return e.clock.Now().Add(-e.excludeInactiveAfter)
}

// eligible reports whether worker may receive a binding now.
func (e *Engine) eligible(worker types.WorkerID) bool {
	w, ok := e.store.Worker(worker)
	return ok && w.Eligible(e.staleBefore())
}

// drainable accepts queued workers that are eligible, hold nothing and are
// not exclude.
func (e *Engine) drainable(exclude types.WorkerID) func(types.QueueEntry) bool {
	return func(q types.QueueEntry) bool {
		return q.WorkerID != exclude && e.eligible(q.WorkerID) && e.store.ActiveCount(q.WorkerID) == 0
	}
}

func (e *Engine) hasDrainable(exclude types.WorkerID) bool {
	keep := e.drainable(exclude)
	for _, q := range e.queue.Entries() {
		if keep(q) {
			return true
		}
	}

	return false
}

func (e *Engine) hasPrimary(worker types.WorkerID) bool {
	for _, b := range e.store.ActiveForWorker(worker) {
		if b.Primary {
			return true
		}
	}

	return false
}

// activeBinding returns the active binding of resource held by worker; a
// zero worker matches any holder.
func (e *Engine) activeBinding(resource types.ResourceID, worker types.WorkerID) (types.Binding, bool) {
	for _, b := range e.store.ActiveForResource(resource) {
		if !worker.Valid() || b.WorkerID == worker {
			return b, true
		}
	}

	return types.Binding{}, false
}

// requeueIdle queues worker when it is online and holds no binding.
func (e *Engine) requeueIdle(ctx context.Context, worker types.WorkerID, priority int) {
	if !e.eligible(worker) || e.store.ActiveCount(worker) > 0 {
		return
	}
	if _, err := e.queue.Enqueue(ctx, worker, priority); err != nil {
		e.logger.Warn("requeue failed", "worker_id", worker, "error", err)
	}
}

// acquire takes key, retrying busy locks up to attempts times with a linear
// backoff.
func (e *Engine) acquire(ctx context.Context, key types.LockKey, holder types.WorkerID, attempts int) (types.Lock, error) {
	for attempt := 1; ; attempt++ {
		l, err := e.locks.Acquire(ctx, key, holder, e.lockTTL)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, types.ErrBusy) || attempt >= attempts {
			return types.Lock{}, err
		}

		t := time.NewTimer(e.lockBackoff * time.Duration(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return types.Lock{}, ctx.Err()
		case <-t.C:
		}
	}
}

func (e *Engine) release(ctx context.Context, l types.Lock) {
	if err := e.locks.Release(context.WithoutCancel(ctx), l); err != nil {
		e.logger.Warn("lock release failed", "key", l.Key, "error", err)
	}
}

// withResource runs fn inside the resource's critical section.
func (e *Engine) withResource(ctx context.Context, resource types.ResourceID, holder types.WorkerID, attempts int, fn func(ctx context.Context) error) error {
	l, err := e.acquire(ctx, types.ResourceLockKey(resource), holder, attempts)
	if err != nil {
		return err
	}
	defer e.release(ctx, l)

	return fn(ctx)
}

func (e *Engine) notify(ctx context.Context, n types.Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("assignment notification failed", "kind", n.Kind(), "error", err)
	}
}

func endReasonFor(reason types.AssignmentReason) types.EndReason {
	switch reason {
	case types.ReasonInactivity:
		return types.EndInactivity
	case types.ReasonRotation:
		return types.EndRotation
	default:
		return types.EndReassigned
	}
}

func validIDs(worker types.WorkerID, resource types.ResourceID) error {
	if !worker.Valid() {
		return fmt.Errorf("%w: %d", types.ErrInvalidWorkerID, worker)
	}
	if !resource.Valid() {
		return fmt.Errorf("%w: %d", types.ErrInvalidResourceID, resource)
	}

	return nil
}
