package assignment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arloliu/rota/internal/timeout"
	"github.com/arloliu/rota/types"
)

// Assign binds worker to resource.
//
// It returns types.ErrAlreadyBound when the resource already has an active
// binding and types.ErrBusy when the resource lock is held; the lock is tried
// exactly once so the caller decides whether to retry or queue. With
// makePrimary the worker's previous primary binding is demoted.
func (e *Engine) Assign(ctx context.Context, worker types.WorkerID, resource types.ResourceID, makePrimary bool) (types.Binding, error) {
	if err := validIDs(worker, resource); err != nil {
		return types.Binding{}, err
	}

	var out types.Binding
	err := e.withResource(ctx, resource, worker, 1, func(ctx context.Context) error {
		b, err := e.assignLocked(ctx, assignParams{
			worker:   worker,
			resource: resource,
			primary:  makePrimary,
			reason:   types.ReasonNewAssignment,
		})
		out = b

		return err
	})

	return out, err
}

// RouteConversation routes a client message on resource to a worker.
//
// An existing active binding absorbs the client (set semantics). Otherwise
// the least-loaded eligible worker is bound; the binding is primary when
// that worker holds no primary yet. Without an eligible worker the message
// stays pending and types.ErrNoneAvailable is returned.
func (e *Engine) RouteConversation(ctx context.Context, client types.ClientID, resource types.ResourceID) (types.WorkerID, error) {
	if !client.Valid() {
		return 0, fmt.Errorf("%w: %d", types.ErrInvalidClientID, client)
	}
	if !resource.Valid() {
		return 0, fmt.Errorf("%w: %d", types.ErrInvalidResourceID, resource)
	}

	worker, err := e.route(ctx, client, resource)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrNoneAvailable):
		e.metrics.RecordRoute("none_available")
	case errors.Is(err, types.ErrBusy):
		e.metrics.RecordRoute("busy")
	default:
		e.metrics.RecordRoute("error")
	}

	return worker, err
}

func (e *Engine) route(ctx context.Context, client types.ClientID, resource types.ResourceID) (types.WorkerID, error) {
	conv, err := e.acquire(ctx, types.ConversationLockKey(client, resource), 0, e.lockAttempts)
	if err != nil {
		return 0, err
	}
	defer e.release(ctx, conv)

	var worker types.WorkerID
	err = e.withResource(ctx, resource, 0, e.lockAttempts, func(ctx context.Context) error {
		e.store.AddPending(resource, client, e.clock.Now())

		if b, ok := e.activeBinding(resource, 0); ok {
			if b.AddConversation(client) {
				e.store.SaveBinding(ctx, b)
			}
			worker = b.WorkerID
			e.metrics.RecordRoute("existing")

			return nil
		}

		w, ok := e.selectWorker()
		if !ok {
			e.logger.Debug("no eligible worker", "client_id", client, "resource_id", resource)
			return types.ErrNoneAvailable
		}
		b, err := e.assignLocked(ctx, assignParams{
			worker:        w.ID,
			resource:      resource,
			primary:       !e.hasPrimary(w.ID),
			reason:        types.ReasonNewAssignment,
			conversations: []types.ClientID{client},
		})
		if err != nil {
			return err
		}
		worker = b.WorkerID
		e.metrics.RecordRoute("assigned")

		return nil
	})

	return worker, err
}

// Reassign ends the active binding of resource held by from (any holder when
// from is zero) and binds the least-loaded eligible worker other than from,
// carrying the conversations over. The old binding stays as history.
//
// Without a replacement it returns types.ErrNoWorkerAvailable, the resource
// stays unbound and its conversations become pending work. A worker freed by
// rotation that holds nothing else re-enters the queue at priority 0.
func (e *Engine) Reassign(ctx context.Context, resource types.ResourceID, from types.WorkerID, reason types.AssignmentReason) (types.Binding, error) {
	if !resource.Valid() {
		return types.Binding{}, fmt.Errorf("%w: %d", types.ErrInvalidResourceID, resource)
	}

	var (
		out   types.Binding
		freed types.WorkerID
	)
	err := e.withResource(ctx, resource, 0, e.lockAttempts, func(ctx context.Context) error {
		current, ok := e.activeBinding(resource, from)
		if !ok {
			return fmt.Errorf("%w: resource %d", types.ErrNotBound, resource)
		}
		freed = current.WorkerID
		b, err := e.reassignLocked(ctx, current, reason)
		out = b

		return err
	})
	if reason == types.ReasonRotation && freed.Valid() {
		e.requeueIdle(ctx, freed, 0)
	}

	return out, err
}

func (e *Engine) reassignLocked(ctx context.Context, current types.Binding, reason types.AssignmentReason) (types.Binding, error) {
	e.endLocked(ctx, current, endReasonFor(reason))

	w, ok := e.selectWorker(current.WorkerID)
	if !ok {
		now := e.clock.Now()
		for _, c := range current.ConversationIDs {
			e.store.AddPending(current.ResourceID, c, now)
		}
		e.logger.Warn("resource left unbound, no replacement worker",
			"resource_id", current.ResourceID, "previous_worker_id", current.WorkerID, "reason", reason)

		return types.Binding{}, fmt.Errorf("%w: resource %d", types.ErrNoWorkerAvailable, current.ResourceID)
	}

	return e.assignLocked(ctx, assignParams{
		worker:        w.ID,
		resource:      current.ResourceID,
		primary:       !e.hasPrimary(w.ID),
		reason:        reason,
		previous:      current.WorkerID,
		conversations: current.ConversationIDs,
	})
}

// Release ends worker's binding on resource outside of inactivity.
//
// It returns types.ErrAccessDenied when worker does not hold resource. When
// the resource has pending work, one eligible queued worker is drained into
// it. The releasing worker, if online with nothing left, is queued at the
// default priority.
func (e *Engine) Release(ctx context.Context, worker types.WorkerID, resource types.ResourceID) error {
	if err := validIDs(worker, resource); err != nil {
		return err
	}

	err := e.withResource(ctx, resource, worker, e.lockAttempts, func(ctx context.Context) error {
		current, ok := e.activeBinding(resource, worker)
		if !ok {
			return fmt.Errorf("%w: worker %d does not hold resource %d", types.ErrAccessDenied, worker, resource)
		}
		e.endLocked(ctx, current, types.EndReleased)

		if _, pending := e.store.Pending(resource); !pending {
			return nil
		}
		entry, err := e.queue.DequeueFirst(ctx, e.drainable(worker))
		if err != nil {
			return nil //nolint:nilerr // empty queue: the resource stays free
		}
		_, err = e.assignLocked(ctx, assignParams{
			worker:        entry.WorkerID,
			resource:      resource,
			primary:       !e.hasPrimary(entry.WorkerID),
			reason:        types.ReasonPendingMessages,
			previous:      worker,
			conversations: current.ConversationIDs,
		})
		if err != nil {
			e.requeue(ctx, entry)
			e.logger.Warn("drain after release failed", "resource_id", resource, "worker_id", entry.WorkerID, "error", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	e.requeueIdle(ctx, worker, e.queuePriority)

	return nil
}

// HandleInactivity is the timeout handler: it reassigns the expired binding
// with reason inactivity. A binding that already ended is treated as
// handled. Finding no replacement is not an error; the resource stays
// unbound for later pickup.
func (e *Engine) HandleInactivity(ctx context.Context, sig timeout.Signal) error {
	return e.withResource(ctx, sig.ResourceID, 0, e.lockAttempts, func(ctx context.Context) error {
		current, ok := e.store.Binding(sig.BindingID)
		if !ok || !current.Active {
			return nil
		}

		_, err := e.reassignLocked(ctx, current, types.ReasonInactivity)
		if errors.Is(err, types.ErrNoWorkerAvailable) {
			return nil
		}

		return err
	})
}

// ClaimFreeResource gives a worker that just came online something to do:
// a free resource (pending work first), or a queue slot at the default
// priority. It reports whether a binding exists afterwards.
func (e *Engine) ClaimFreeResource(ctx context.Context, worker types.WorkerID) (types.Binding, bool, error) {
	w, ok := e.store.Worker(worker)
	if !ok {
		return types.Binding{}, false, fmt.Errorf("%w: %d", types.ErrUnknownWorker, worker)
	}
	if !w.Eligible(e.staleBefore()) {
		return types.Binding{}, false, nil
	}
	if active := e.store.ActiveForWorker(worker); len(active) > 0 {
		return active[0], true, nil
	}

	for _, resource := range e.store.FreeResources() {
		var b types.Binding
		err := e.withResource(ctx, resource, worker, 1, func(ctx context.Context) error {
			var err error
			b, err = e.assignLocked(ctx, assignParams{
				worker:   worker,
				resource: resource,
				primary:  !e.hasPrimary(worker),
				reason:   e.reasonFor(resource),
			})

			return err
		})
		switch {
		case err == nil:
			return b, true, nil
		case errors.Is(err, types.ErrBusy), errors.Is(err, types.ErrAlreadyBound):
			continue
		default:
			return types.Binding{}, false, err
		}
	}

	if _, err := e.queue.Enqueue(ctx, worker, e.queuePriority); err != nil {
		return types.Binding{}, false, err
	}

	return types.Binding{}, false, nil
}

// DrainQueue binds waiting workers to free resources, resources with pending
// work first. It returns how many workers were bound.
func (e *Engine) DrainQueue(ctx context.Context) (int, error) {
	drained := 0
	for _, resource := range e.store.FreeResources() {
		if e.queue.Size() == 0 {
			break
		}

		bound := false
		err := e.withResource(ctx, resource, 0, 1, func(ctx context.Context) error {
			if _, ok := e.activeBinding(resource, 0); ok {
				return nil
			}
			entry, err := e.queue.DequeueFirst(ctx, e.drainable(0))
			if err != nil {
				return err
			}
			if _, err := e.assignLocked(ctx, assignParams{
				worker:   entry.WorkerID,
				resource: resource,
				primary:  !e.hasPrimary(entry.WorkerID),
				reason:   e.reasonFor(resource),
			}); err != nil {
				e.requeue(ctx, entry)
				return err
			}
			bound = true

			return nil
		})
		switch {
		case errors.Is(err, types.ErrQueueEmpty):
			return drained, nil
		case errors.Is(err, types.ErrBusy), errors.Is(err, types.ErrAlreadyBound):
			continue
		case err != nil:
			return drained, err
		}
		if bound {
			drained++
		}
	}

	return drained, nil
}

// Rotate hands bindings older than MaxBindingAge, oldest first, to eligible
// queued workers when no resource is free. Workers rotated out re-enter the
// queue at priority 0 once the pass is over, so one pass never rotates them
// straight into another resource. It returns how many bindings were rotated.
func (e *Engine) Rotate(ctx context.Context) (int, error) {
	if e.maxBindingAge <= 0 || e.store.FreeCount() > 0 {
		return 0, nil
	}

	var freed []types.WorkerID
	defer func() {
		for _, w := range freed {
			e.requeueIdle(ctx, w, 0)
		}
	}()

	cutoff := e.clock.Now().Add(-e.maxBindingAge)
	for _, b := range e.store.ActiveBindings() {
		if !b.CreatedAt.Before(cutoff) || !e.hasDrainable(0) {
			break
		}

		err := e.withResource(ctx, b.ResourceID, 0, 1, func(ctx context.Context) error {
			current, ok := e.store.Binding(b.ID)
			if !ok || !current.Active {
				return nil
			}
			entry, err := e.queue.DequeueFirst(ctx, e.drainable(current.WorkerID))
			if err != nil {
				return err
			}
			e.endLocked(ctx, current, types.EndRotation)
			if _, err := e.assignLocked(ctx, assignParams{
				worker:        entry.WorkerID,
				resource:      current.ResourceID,
				primary:       !e.hasPrimary(entry.WorkerID),
				reason:        types.ReasonRotation,
				previous:      current.WorkerID,
				conversations: current.ConversationIDs,
			}); err != nil {
				e.requeue(ctx, entry)
				return err
			}
			freed = append(freed, current.WorkerID)

			return nil
		})
		switch {
		case err == nil, errors.Is(err, types.ErrQueueEmpty), errors.Is(err, types.ErrBusy):
			continue
		default:
			return len(freed), err
		}
	}

	return len(freed), nil
}

// RecordActivity records a liveness signal on worker's binding and resets
// its inactivity timer. It returns types.ErrAccessDenied when worker does not
// hold resource.
func (e *Engine) RecordActivity(ctx context.Context, worker types.WorkerID, resource types.ResourceID, kind types.ActivityKind, at time.Time) error {
	return e.recordActivity(ctx, worker, resource, kind, at, 0)
}

// RecordReply records a worker's reply to client: message activity plus
// clearing the client's pending work on resource.
func (e *Engine) RecordReply(ctx context.Context, worker types.WorkerID, resource types.ResourceID, client types.ClientID, at time.Time) error {
	return e.recordActivity(ctx, worker, resource, types.ActivityMessage, at, client)
}

func (e *Engine) recordActivity(ctx context.Context, worker types.WorkerID, resource types.ResourceID, kind types.ActivityKind, at time.Time, client types.ClientID) error {
	if err := validIDs(worker, resource); err != nil {
		return err
	}
	if at.IsZero() {
		at = e.clock.Now()
	}

	return e.withResource(ctx, resource, worker, e.lockAttempts, func(ctx context.Context) error {
		b, ok := e.activeBinding(resource, worker)
		if !ok {
			return fmt.Errorf("%w: worker %d does not hold resource %d", types.ErrAccessDenied, worker, resource)
		}

		if at.After(b.LastActivityAt) {
			b.LastActivityAt = at
		}
		switch kind {
		case types.ActivityMessage:
			if at.After(b.LastMessageSentAt) {
				b.LastMessageSentAt = at
			}
		case types.ActivityTyping:
			if at.After(b.LastTypingAt) {
				b.LastTypingAt = at
			}
		}
		e.store.SaveBinding(ctx, b)

		if client.Valid() {
			e.store.ClearPending(resource, client)
		}
		// A late event never pulls the deadline earlier.
		from := b.LastActivityAt
		if !e.timeouts.Touch(worker, resource, from) {
			e.timeouts.Schedule(b, from)
		}
		e.touchWorker(ctx, worker, at)

		return nil
	})
}

// touchWorker only moves LastSeenAt forward; presence flags belong to
// MarkOnline and MarkOffline.
func (e *Engine) touchWorker(ctx context.Context, worker types.WorkerID, at time.Time) {
	e.store.UpdateWorker(ctx, worker, false, func(w *types.Worker) bool {
		if !at.After(w.LastSeenAt) {
			return false
		}
		w.LastSeenAt = at

		return true
	})
}

func (e *Engine) requeue(ctx context.Context, entry types.QueueEntry) {
	if _, err := e.queue.Enqueue(ctx, entry.WorkerID, entry.Priority); err != nil {
		e.logger.Warn("requeue failed", "worker_id", entry.WorkerID, "error", err)
	}
}

func (e *Engine) reasonFor(resource types.ResourceID) types.AssignmentReason {
	if _, ok := e.store.Pending(resource); ok {
		return types.ReasonPendingMessages
	}

	return types.ReasonNewAssignment
}
