package lock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/rota/internal/logger"
	"github.com/arloliu/rota/internal/metrics"
	"github.com/arloliu/rota/types"
)

// DefaultTTL applies when neither the Config nor the caller gives a TTL.
const DefaultTTL = 10 * time.Second

// EngineHolder is the holder recorded for locks taken by the engine itself
// (audits, timers) rather than on behalf of a worker.
const EngineHolder = "engine"

// Config holds Manager configuration.
type Config struct {
	// Required dependencies
	Backend types.LockBackend
	Clock   types.Clock

	// Optional configuration
	DefaultTTL time.Duration // TTL used when callers pass zero (default: 10s)

	// Optional dependencies
	Notifier  types.Notifier    // Receives LockStatusChanged for resource locks
	Persister types.Persister   // Write-through of acquired and released locks
	Metrics   types.LockMetrics // Default: no-op
	Logger    types.Logger      // Default: no-op
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Backend == nil {
		return errors.New("the Backend is required")
	}
	if c.Clock == nil {
		return errors.New("the Clock is required")
	}
	if c.DefaultTTL < 0 {
		return errors.New("the DefaultTTL must not be negative")
	}

	return nil
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.DefaultTTL == 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNop()
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
}

// Manager is the Lock Manager: non-blocking acquire with expiry, explicit
// release and reaping of expired locks.
type Manager struct {
	backend    types.LockBackend
	clock      types.Clock
	defaultTTL time.Duration
	notifier   types.Notifier
	persister  types.Persister
	metrics    types.LockMetrics
	logger     types.Logger
}

// NewManager creates a lock manager with validated configuration.
func NewManager(cfg *Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.SetDefaults()

	return &Manager{
		backend:    cfg.Backend,
		clock:      cfg.Clock,
		defaultTTL: cfg.DefaultTTL,
		notifier:   cfg.Notifier,
		persister:  cfg.Persister,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}, nil
}

// HolderFor returns the holder string recorded for a worker. Worker zero maps
// to EngineHolder.
func HolderFor(worker types.WorkerID) string {
	if !worker.Valid() {
		return EngineHolder
	}

	return "worker." + worker.String()
}

// Acquire takes the lock for key on behalf of worker. A zero ttl means the
// configured default. It returns types.ErrBusy when the lock is held and
// unexpired; it never blocks waiting for the holder.
func (m *Manager) Acquire(ctx context.Context, key types.LockKey, worker types.WorkerID, ttl time.Duration) (types.Lock, error) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	l, err := m.backend.Acquire(ctx, key.String(), HolderFor(worker), ttl)
	switch {
	case errors.Is(err, types.ErrBusy):
		m.metrics.RecordLockAcquire(string(key.Subject), "busy")
		return types.Lock{}, err
	case err != nil:
		m.metrics.RecordLockAcquire(string(key.Subject), "error")
		m.logger.Warn("lock acquire failed", "key", key.String(), "error", err)

		return types.Lock{}, err
	}
	m.metrics.RecordLockAcquire(string(key.Subject), "acquired")

	if m.persister != nil {
		if err := m.persister.SaveLock(ctx, l); err != nil {
			m.logger.Warn("lock persist failed", "key", l.Key, "error", err)
		}
	}
	if key.Subject == types.LockSubjectResource {
		m.notify(ctx, types.LockStatusChanged{
			ResourceID: key.ResourceID,
			Status:     types.LockLocked,
			WorkerID:   worker,
		})
	}

	return l, nil
}

// Release frees a lock previously returned by Acquire. Releasing a reaped
// or already released lock is a no-op that announces nothing; releasing a
// lock now held under a different token returns types.ErrLockNotHeld.
func (m *Manager) Release(ctx context.Context, l types.Lock) error {
	deleted, err := m.backend.Release(ctx, l.Key, l.Token)
	if err != nil {
		return err
	}
	if deleted {
		m.released(ctx, l)
	}

	return nil
}

// WithLock runs fn while holding key. The lock is released afterwards even
// when fn fails; a release error is logged, not returned.
func (m *Manager) WithLock(ctx context.Context, key types.LockKey, worker types.WorkerID, ttl time.Duration, fn func(ctx context.Context) error) error {
	l, err := m.Acquire(ctx, key, worker, ttl)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Release(context.WithoutCancel(ctx), l); err != nil {
			m.logger.Warn("lock release failed", "key", l.Key, "error", err)
		}
	}()

	return fn(ctx)
}

// IsLocked reports whether key is currently held and unexpired.
func (m *Manager) IsLocked(ctx context.Context, key types.LockKey) (bool, error) {
	l, ok, err := m.backend.Get(ctx, key.String())
	if err != nil {
		return false, err
	}

	return ok && !l.Expired(m.clock.Now()), nil
}

// ReapExpired removes every expired lock and returns how many were removed.
// Calling it repeatedly is safe.
func (m *Manager) ReapExpired(ctx context.Context) (int, error) {
	reaped, err := m.backend.ReapExpired(ctx)
	for _, l := range reaped {
		m.logger.Debug("expired lock reaped", "key", l.Key, "holder", l.Holder)
		m.released(ctx, l)
	}
	m.metrics.RecordLocksReaped(len(reaped))

	if err != nil {
		return len(reaped), fmt.Errorf("reap expired locks: %w", err)
	}

	return len(reaped), nil
}

// List returns a snapshot of held, unexpired locks.
func (m *Manager) List(ctx context.Context) ([]types.Lock, error) {
	all, err := m.backend.List(ctx)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	live := all[:0]
	for _, l := range all {
		if !l.Expired(now) {
			live = append(live, l)
		}
	}

	return live, nil
}

// Count returns the number of held, unexpired locks.
func (m *Manager) Count(ctx context.Context) (int, error) {
	live, err := m.List(ctx)
	if err != nil {
		return 0, err
	}

	return len(live), nil
}

func (m *Manager) released(ctx context.Context, l types.Lock) {
	if m.persister != nil {
		if err := m.persister.DeleteLock(ctx, l.Key); err != nil {
			m.logger.Warn("lock delete persist failed", "key", l.Key, "error", err)
		}
	}

	resource, ok := resourceFromKey(l.Key)
	if !ok {
		return
	}
	m.notify(ctx, types.LockStatusChanged{
		ResourceID:      resource,
		Status:          types.LockUnlocked,
		WorkerID:        workerFromHolder(l.Holder),
		DurationSeconds: m.clock.Now().Sub(l.LockedAt).Seconds(),
	})
}

func (m *Manager) notify(ctx context.Context, n types.Notification) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, n); err != nil {
		m.logger.Warn("lock notification failed", "kind", n.Kind(), "error", err)
	}
}

func resourceFromKey(key string) (types.ResourceID, bool) {
	rest, ok := strings.CutPrefix(key, string(types.LockSubjectResource)+".")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}

	return types.ResourceID(id), true
}

func workerFromHolder(holder string) types.WorkerID {
	rest, ok := strings.CutPrefix(holder, "worker.")
	if !ok {
		return 0
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0
	}

	return types.WorkerID(id)
}
