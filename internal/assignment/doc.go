// Package assignment implements the engine that binds workers to resources.
//
// Every state-changing operation runs inside the resource's critical section
// taken through the lock manager. Request-driven callers (message routing,
// manual actions) and time-driven callers (inactivity timers, the auditor)
// all go through the same Engine methods, so the invariants hold whichever
// trigger fires first:
//
//   - a resource has at most one active binding
//   - a worker has at most one active primary binding
//   - a client is routed into at most one active binding per resource
//
// Lock contention on hot paths (routing, release, inactivity handling) is
// retried locally with a linear backoff and only surfaces as types.ErrBusy
// once the attempts are exhausted. Explicit Assign and the repair
// primitives try once and report contention to the caller.
//
// # Selection
//
// Candidates must be online, active and seen within ExcludeInactiveAfter.
// The worker with the fewest active bindings wins; ties go to the oldest
// LastSeenAt, then to the lowest ID.
//
// # Escalation
//
// When unattended conversations exceed what the online workers can absorb,
// an Escalator broadcasts WorkAvailable rounds to offline workers and
// re-checks once after a delay instead of polling.
package assignment
