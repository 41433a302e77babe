// Package types holds the data model and the collaborator contracts shared by
// the rota packages.
//
// Keeping these definitions outside the root package lets the internal
// components (lock, queue, timeout, assignment, audit) depend on them without
// importing the root rota package, which wires those components together.
//
// Key types:
//   - Binding: the worker↔resource assignment record
//   - Worker, QueueEntry, Lock, NotificationRound: the rest of the store model
//   - Notification: outbound payloads (AssignmentChanged, InactivityWarning, ...)
//   - Event: inbound collaborator events (MessageArrived, WorkerWentOnline, ...)
//   - Logger, MetricsCollector, Notifier, Persister, Clock: injected dependencies
package types
