package assignment

import (
	"errors"
	"time"

	"github.com/arloliu/rota/internal/lock"
	"github.com/arloliu/rota/internal/logger"
	"github.com/arloliu/rota/internal/metrics"
	"github.com/arloliu/rota/internal/queue"
	"github.com/arloliu/rota/internal/store"
	"github.com/arloliu/rota/internal/timeout"
	"github.com/arloliu/rota/types"
)

// Default engine settings.
const (
	DefaultLockAttempts = 5
	DefaultLockBackoff  = 20 * time.Millisecond
)

// Config holds Engine configuration.
//
// Required fields must be set before calling New. Optional fields are set to
// defaults when zero-valued.
type Config struct {
	// Required dependencies
	Store    *store.Store
	Locks    *lock.Manager
	Queue    *queue.Manager
	Timeouts *timeout.Manager
	Clock    types.Clock

	// Optional configuration
	LockTTL              time.Duration // TTL of engine locks (default: the lock manager's default)
	LockAttempts         int           // Hot-path lock attempts before ErrBusy (default: 5)
	LockBackoff          time.Duration // Backoff unit, multiplied by the attempt number (default: 20ms)
	ExcludeInactiveAfter time.Duration // Workers unseen for longer are never selected (0: no cutoff)
	QueuePriority        int           // Priority of ordinary enqueues; rotated-out workers use 0
	MaxBindingAge        time.Duration // Bindings older than this may be rotated (0: rotation off)

	// Optional dependencies
	Notifier types.Notifier          // Receives AssignmentChanged (default: none)
	Metrics  types.AssignmentMetrics // Default: no-op
	Logger   types.Logger            // Default: no-op
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("the Store is required")
	}
	if c.Locks == nil {
		return errors.New("the Locks manager is required")
	}
	if c.Queue == nil {
		return errors.New("the Queue manager is required")
	}
	if c.Timeouts == nil {
		return errors.New("the Timeouts manager is required")
	}
	if c.Clock == nil {
		return errors.New("the Clock is required")
	}
	if c.LockAttempts < 0 {
		return errors.New("the LockAttempts must not be negative")
	}
	if c.QueuePriority < 0 {
		return errors.New("the QueuePriority must not be negative")
	}
	if c.ExcludeInactiveAfter < 0 || c.MaxBindingAge < 0 || c.LockBackoff < 0 || c.LockTTL < 0 {
		return errors.New("durations must not be negative")
	}

	return nil
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.LockAttempts == 0 {
		c.LockAttempts = DefaultLockAttempts
	}
	if c.LockBackoff == 0 {
		c.LockBackoff = DefaultLockBackoff
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNop()
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
}
