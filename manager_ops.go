package rota

import (
	"context"
	"time"

	"github.com/arloliu/rota/internal/audit"
)

// RegisterWorker creates or updates a worker record. A zero Status means
// active; a suspended worker is dropped from the queue.
func (m *Manager) RegisterWorker(ctx context.Context, w Worker) error {
	return m.engine.RegisterWorker(ctx, w)
}

// RegisterResource adds a resource to the pool. It reports whether the
// resource was new.
func (m *Manager) RegisterResource(id ResourceID) (bool, error) {
	if !id.Valid() {
		return false, ErrInvalidResourceID
	}

	return m.store.RegisterResource(id), nil
}

// Assign binds resource to worker. See HandleManualAssign.
func (m *Manager) Assign(ctx context.Context, worker WorkerID, resource ResourceID, makePrimary bool) (Binding, error) {
	return m.engine.Assign(ctx, worker, resource, makePrimary)
}

// RouteConversation returns the worker serving client on resource, binding
// one when necessary. It returns ErrNoneAvailable when the message has to
// wait as pending work.
func (m *Manager) RouteConversation(ctx context.Context, client ClientID, resource ResourceID) (WorkerID, error) {
	return m.engine.RouteConversation(ctx, client, resource)
}

// Reassign moves resource away from its current holder (from, or any holder
// when zero) to the least-loaded eligible worker.
func (m *Manager) Reassign(ctx context.Context, resource ResourceID, from WorkerID, reason AssignmentReason) (Binding, error) {
	return m.engine.Reassign(ctx, resource, from, reason)
}

// Release ends worker's binding on resource.
func (m *Manager) Release(ctx context.Context, worker WorkerID, resource ResourceID) error {
	return m.engine.Release(ctx, worker, resource)
}

// Enqueue places an idle worker in the waiting queue; a negative priority
// uses Config.QueuePriorityDefault.
func (m *Manager) Enqueue(ctx context.Context, worker WorkerID, priority int) (int, error) {
	return m.engine.Enqueue(ctx, worker, priority)
}

// QueueStatus returns the worker's queue position and estimated wait.
// A worker that is not waiting gets Queued=false rather than an error.
func (m *Manager) QueueStatus(worker WorkerID) QueueStatus {
	return m.engine.QueueStatus(worker)
}

// Audit runs one reconciliation pass now. It returns ErrAuditRunning when a
// pass is already in progress.
func (m *Manager) Audit(ctx context.Context) (AuditReport, error) {
	return m.auditor.Run(ctx)
}

// LastAudit returns the report of the latest completed pass.
func (m *Manager) LastAudit() (AuditReport, bool) {
	return m.auditor.LastReport()
}

// AlertThresholds returns the alert levels in effect.
func (m *Manager) AlertThresholds() audit.Thresholds {
	return m.auditor.Thresholds()
}

// Binding returns a binding, active or ended, by ID.
func (m *Manager) Binding(id BindingID) (Binding, bool) {
	return m.store.Binding(id)
}

// ActiveBindings returns every active binding.
func (m *Manager) ActiveBindings() []Binding {
	return m.store.ActiveBindings()
}

// BindingsForWorker returns the worker's active bindings, oldest first.
func (m *Manager) BindingsForWorker(worker WorkerID) []Binding {
	return m.store.ActiveForWorker(worker)
}

// BindingsForResource returns the resource's active bindings, oldest first.
// More than one means an exclusivity violation awaiting the auditor.
func (m *Manager) BindingsForResource(resource ResourceID) []Binding {
	return m.store.ActiveForResource(resource)
}

// Workers returns every known worker ordered by ID.
func (m *Manager) Workers() []Worker {
	return m.store.Workers()
}

// Worker returns a worker by ID.
func (m *Manager) Worker(id WorkerID) (Worker, bool) {
	return m.store.Worker(id)
}

// FreeResources returns unbound resources, pending work first.
func (m *Manager) FreeResources() []ResourceID {
	return m.store.FreeResources()
}

// PendingWork returns the unanswered conversations per resource.
func (m *Manager) PendingWork() []PendingWork {
	return m.store.PendingWork()
}

// Queue returns the waiting workers in service order.
func (m *Manager) Queue() []QueueEntry {
	return m.queue.Entries()
}

// Locks lists the locks currently held, expired ones included until the
// next reap.
func (m *Manager) Locks(ctx context.Context) ([]Lock, error) {
	return m.locks.List(ctx)
}

// InactivityDeadline returns when the binding of worker on resource expires
// unless activity is recorded.
func (m *Manager) InactivityDeadline(worker WorkerID, resource ResourceID) (time.Time, bool) {
	return m.timeouts.Deadline(worker, resource)
}

// NotificationRounds returns the rounds of the current escalation cycle.
func (m *Manager) NotificationRounds() []NotificationRound {
	if m.escalator == nil {
		return nil
	}

	return m.escalator.Rounds()
}
