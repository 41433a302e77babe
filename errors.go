package rota

import (
	"errors"

	"github.com/arloliu/rota/types"
)

// Sentinel errors returned by the Manager and its components. Check them
// with errors.Is; most are wrapped with the offending ID.
var (
	ErrBusy                 = types.ErrBusy
	ErrAlreadyBound         = types.ErrAlreadyBound
	ErrNoWorkerAvailable    = types.ErrNoWorkerAvailable
	ErrNoneAvailable        = types.ErrNoneAvailable
	ErrAccessDenied         = types.ErrAccessDenied
	ErrNotBound             = types.ErrNotBound
	ErrInvalidClientID      = types.ErrInvalidClientID
	ErrInvalidWorkerID      = types.ErrInvalidWorkerID
	ErrInvalidResourceID    = types.ErrInvalidResourceID
	ErrUnknownWorker        = types.ErrUnknownWorker
	ErrInvariantViolation   = types.ErrInvariantViolation
	ErrTimerHandlingFailure = types.ErrTimerHandlingFailure
	ErrAuditRunning         = types.ErrAuditRunning
	ErrLockNotHeld          = types.ErrLockNotHeld
	ErrQueueEmpty           = types.ErrQueueEmpty
	ErrNotQueued            = types.ErrNotQueued
	ErrInvalidConfig        = types.ErrInvalidConfig
	ErrAlreadyStarted       = types.ErrAlreadyStarted
	ErrNotStarted           = types.ErrNotStarted
	ErrAlreadyStopped       = types.ErrAlreadyStopped
)

// Manager-level errors.
var (
	// ErrNATSConnectionRequired is returned when a NATS-backed feature is
	// configured without WithNATS.
	ErrNATSConnectionRequired = errors.New("NATS connection is required")

	// ErrUnknownEvent is returned by HandleEvent for event types it does not
	// recognize.
	ErrUnknownEvent = errors.New("unknown event type")
)

// IsTransient reports whether err is worth retrying later.
func IsTransient(err error) bool { return types.IsTransient(err) }
