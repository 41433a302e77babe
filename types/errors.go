package types

import (
	"errors"
	"strings"
)

// Sentinel errors for the rota packages.
//
// Components return these (possibly wrapped with fmt.Errorf("...: %w", err))
// so callers can branch with errors.Is regardless of which layer failed.

// Assignment errors - outcomes of the allocator operations.
var (
	// ErrBusy is returned when a lock is held by someone else. It is transient:
	// the caller retries, defers or queues.
	ErrBusy = errors.New("resource busy")

	// ErrAlreadyBound is returned when an operation would create a second
	// active binding for a resource. No state is mutated.
	ErrAlreadyBound = errors.New("resource already bound")

	// ErrNoWorkerAvailable is returned by reassignment when no eligible
	// replacement exists. The resource is left unbound.
	ErrNoWorkerAvailable = errors.New("no worker available")

	// ErrNoneAvailable is returned by routing when no eligible worker exists.
	// The conversation is recorded as pending work.
	ErrNoneAvailable = errors.New("no eligible worker for conversation")

	// ErrAccessDenied is returned when a worker acts on a resource it does not hold.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotBound is returned when an operation expects an active binding.
	ErrNotBound = errors.New("resource not bound")

	// ErrInvalidClientID is returned for non-numeric or non-positive client IDs.
	ErrInvalidClientID = errors.New("invalid client id")

	// ErrInvalidWorkerID is returned for non-positive worker IDs.
	ErrInvalidWorkerID = errors.New("invalid worker id")

	// ErrInvalidResourceID is returned for non-positive resource IDs.
	ErrInvalidResourceID = errors.New("invalid resource id")

	// ErrUnknownWorker is returned when a worker is not registered in the store.
	ErrUnknownWorker = errors.New("unknown worker")
)

// Reconciliation errors - raised by the timeout manager and auditor.
var (
	// ErrInvariantViolation marks state the auditor had to repair.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrTimerHandlingFailure is reported when inactivity handling kept
	// failing after all retry attempts.
	ErrTimerHandlingFailure = errors.New("timer handling failure")

	// ErrAuditRunning is returned when an audit pass is already in progress.
	ErrAuditRunning = errors.New("audit already running")
)

// Lock errors - Lock Manager component errors.
var (
	// ErrLockNotHeld is returned when releasing with a token that does not own the lock.
	ErrLockNotHeld = errors.New("lock not held by token")
)

// Queue errors - Queue Manager component errors.
var (
	// ErrQueueEmpty is returned by DequeueNext on an empty queue.
	ErrQueueEmpty = errors.New("queue empty")

	// ErrNotQueued is returned for position lookups of workers not in the queue.
	ErrNotQueued = errors.New("worker not queued")
)

// Lifecycle errors - shared by Manager and background components.
var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrAlreadyStarted = errors.New("already started")
	ErrNotStarted     = errors.New("not started")
	ErrAlreadyStopped = errors.New("already stopped")

	// ErrConnectivity indicates a NATS/KV connectivity issue.
	ErrConnectivity = errors.New("connectivity issue")

	// ErrNoKeysFound is returned when NATS KV returns no keys (expected condition).
	ErrNoKeysFound = errors.New("no keys found")
)

// IsNoKeysFoundError reports whether err is the NATS "no keys found" condition,
// which is an empty result rather than a failure.
func IsNoKeysFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoKeysFound) {
		return true
	}

	return strings.Contains(err.Error(), "no keys found")
}

// IsTransient reports whether err should be retried rather than surfaced.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrConnectivity)
}
