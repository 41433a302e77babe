package rota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/rota/internal/assignment"
	"github.com/arloliu/rota/internal/audit"
	"github.com/arloliu/rota/internal/clock"
	"github.com/arloliu/rota/internal/events"
	"github.com/arloliu/rota/internal/lock"
	"github.com/arloliu/rota/internal/logger"
	"github.com/arloliu/rota/internal/metrics"
	"github.com/arloliu/rota/internal/notify"
	"github.com/arloliu/rota/internal/presence"
	"github.com/arloliu/rota/internal/queue"
	"github.com/arloliu/rota/internal/store"
	"github.com/arloliu/rota/internal/timeout"
	"github.com/arloliu/rota/types"
)

// Manager is the entry point of the engine. It owns the assignment store and
// wires the lock, queue, timeout, assignment and audit components together.
//
// Thread Safety:
//   - All public methods are safe for concurrent use
//   - Operations on one resource are serialized by its lock; different
//     resources proceed in parallel
//   - Read methods return copies and may be slightly stale
//
// Lifecycle:
//   - Create with NewManager()
//   - Call Start() to restore state and begin auditing, presence monitoring
//     and event consumption
//   - Feed events through HandleEvent (or the JetStream consumer)
//   - Call Stop() for graceful shutdown
type Manager struct {
	cfg  Config
	conn *nats.Conn

	clock     types.Clock
	persister types.Persister
	loader    types.SnapshotLoader
	metrics   types.MetricsCollector
	logger    types.Logger

	// Notification delivery
	fanout   *notify.Fanout
	async    *notify.Async
	notifier types.Notifier

	// Internal components
	store     *store.Store
	kvLocks   *deferredBackend
	locks     *lock.Manager
	queue     *queue.Manager
	timeouts  *timeout.Manager
	engine    *assignment.Engine
	escalator *assignment.Escalator
	auditor   *audit.Auditor

	// Started with NATS
	presence *presence.Monitor
	consumer *events.Consumer

	// Lifecycle management
	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
}

// NewManager creates a Manager with the provided configuration.
//
// Missing configuration values are filled with defaults and the result is
// validated. No network I/O happens until Start.
//
// Parameters:
//   - cfg: Engine configuration
//   - opts: Optional dependencies (NATS, notifiers, persister, clock, metrics, logger)
//
// Returns:
//   - *Manager: Initialized manager instance
//   - error: Validation error if the configuration is invalid
//
// Example:
//
//	cfg := rota.DefaultConfig()
//	mgr, err := rota.NewManager(&cfg, rota.WithNATS(nc), rota.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop(context.Background())
func NewManager(cfg *Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}

	SetDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if options.clock == nil {
		options.clock = clock.Real{}
	}
	if options.metrics == nil {
		options.metrics = metrics.NewNop()
	}
	if options.logger == nil {
		options.logger = logger.NewNop()
	}

	needsNATS := cfg.Events.Enabled || (cfg.Locks.Backend == LockBackendKV && options.lockBackend == nil)
	if needsNATS && options.conn == nil {
		return nil, ErrNATSConnectionRequired
	}

	cfg.ValidateWithWarnings(options.logger)

	m := &Manager{
		cfg:       *cfg,
		conn:      options.conn,
		clock:     options.clock,
		persister: options.persister,
		loader:    options.loader,
		metrics:   options.metrics,
		logger:    options.logger,
	}

	if err := m.buildNotifier(options.notifiers); err != nil {
		return nil, err
	}
	if err := m.buildComponents(options.lockBackend); err != nil {
		return nil, err
	}

	return m, nil
}

// buildNotifier assembles in-process subscribers and the asynchronous path
// to external transports.
func (m *Manager) buildNotifier(external []types.Notifier) error {
	m.fanout = notify.NewFanout(m.metrics)

	if m.conn != nil && m.cfg.Notify.NATSPrefix != "" {
		n, err := notify.NewNATS(notify.NATSConfig{
			Conn:     m.conn,
			Prefix:   m.cfg.Notify.NATSPrefix,
			Producer: m.cfg.Notify.Producer,
			Clock:    m.clock,
		})
		if err != nil {
			return fmt.Errorf("failed to create NATS notifier: %w", err)
		}
		external = append(external, n)
	}

	if len(external) == 0 {
		m.notifier = m.fanout
		return nil
	}

	m.async = notify.NewAsync(notify.Multi(external...), m.cfg.Notify.AsyncBuffer, m.metrics, m.logger)
	m.notifier = notify.Multi(m.fanout, m.async)

	return nil
}

func (m *Manager) buildComponents(backend types.LockBackend) error {
	storeOpts := []store.Option{store.WithLogger(m.logger)}
	if m.persister != nil {
		storeOpts = append(storeOpts, store.WithPersister(m.persister))
	}
	m.store = store.New(storeOpts...)

	if backend == nil {
		switch m.cfg.Locks.Backend {
		case LockBackendKV:
			m.kvLocks = &deferredBackend{}
			backend = m.kvLocks
		default:
			backend = lock.NewMemory(m.clock, m.cfg.Locks.Shards)
		}
	}

	var err error
	m.locks, err = lock.NewManager(&lock.Config{
		Backend:    backend,
		Clock:      m.clock,
		DefaultTTL: m.cfg.LockDefaultTTL,
		Notifier:   m.notifier,
		Persister:  m.persister,
		Metrics:    m.metrics,
		Logger:     m.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create lock manager: %w", err)
	}

	m.queue, err = queue.New(&queue.Config{
		Clock:           m.clock,
		DefaultTurnover: m.cfg.Queue.DefaultTurnover,
		FreeResources:   m.store.FreeCount,
		Notifier:        m.notifier,
		Persister:       m.persister,
		Metrics:         m.metrics,
		Logger:          m.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create queue manager: %w", err)
	}

	m.timeouts, err = timeout.New(&timeout.Config{
		Clock:          m.clock,
		Timeout:        m.cfg.InactivityTimeout,
		FirstWarning:   m.cfg.Warnings.First,
		SecondWarning:  m.cfg.Warnings.Second,
		FinalWarning:   m.cfg.Warnings.Final,
		MaxAttempts:    m.cfg.Reassignment.MaxAttempts,
		RetryDelay:     m.cfg.Reassignment.RetryDelay,
		HandlerTimeout: m.cfg.OperationTimeout,
		Notifier:       m.notifier,
		Metrics:        m.metrics,
		Logger:         m.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create timeout manager: %w", err)
	}

	m.engine, err = assignment.New(&assignment.Config{
		Store:                m.store,
		Locks:                m.locks,
		Queue:                m.queue,
		Timeouts:             m.timeouts,
		Clock:                m.clock,
		LockAttempts:         m.cfg.Routing.LockAttempts,
		LockBackoff:          m.cfg.Routing.LockBackoff,
		ExcludeInactiveAfter: m.cfg.Reassignment.ExcludeInactiveAfter,
		QueuePriority:        m.cfg.QueuePriorityDefault,
		MaxBindingAge:        m.cfg.Rotation.MaxBindingAge,
		Notifier:             m.notifier,
		Metrics:              m.metrics,
		Logger:               m.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create assignment engine: %w", err)
	}

	if m.cfg.Escalation.Enabled {
		m.escalator, err = assignment.NewEscalator(&assignment.EscalationConfig{
			Store:            m.store,
			Clock:            m.clock,
			PendingPerWorker: m.cfg.Escalation.PendingPerWorker,
			WorkersPerRound:  m.cfg.Escalation.WorkersPerRound,
			MinResponders:    m.cfg.Escalation.MinResponders,
			MaxRounds:        m.cfg.Escalation.MaxRounds,
			FollowUpDelay:    m.cfg.Escalation.FollowUpDelay,
			CycleInterval:    m.cfg.Escalation.CycleInterval,
			Notifier:         m.notifier,
			Persister:        m.persister,
			Metrics:          m.metrics,
			Logger:           m.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create escalator: %w", err)
		}
	}

	thresholds := m.cfg.Alerts
	auditCfg := &audit.Config{
		Engine:     m.engine,
		Store:      m.store,
		Locks:      m.locks,
		Queue:      m.queue,
		Timeouts:   m.timeouts,
		Clock:      m.clock,
		Interval:   m.cfg.AuditInterval,
		Thresholds: &thresholds,
		Escalator:  m.escalator,
		Notifier:   m.notifier,
		Metrics:    m.metrics,
		Logger:     m.logger,
	}
	m.auditor, err = audit.New(auditCfg)
	if err != nil {
		return fmt.Errorf("failed to create auditor: %w", err)
	}

	return nil
}

// Start restores persisted state, connects the NATS-backed components and
// starts the audit schedule.
//
// When a SnapshotLoader is configured, one audit pass runs before Start
// returns so restored bindings get their inactivity timers back.
//
// Parameters:
//   - ctx: Context for startup I/O
//
// Returns:
//   - error: ErrAlreadyStarted, ErrAlreadyStopped, or a startup failure
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrAlreadyStopped
	}
	if m.started {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	restored, err := m.restore(ctx)
	if err != nil {
		cancel()
		return err
	}

	if m.async != nil {
		m.async.Start()
	}

	if m.conn != nil {
		if err := m.startNATS(ctx, runCtx); err != nil {
			cancel()
			m.stopNATS(context.Background())

			return err
		}
	}

	if restored {
		if _, err := m.auditor.Run(ctx); err != nil {
			m.logger.Warn("initial audit pass incomplete", "error", err)
		}
	}

	if err := m.auditor.Start(runCtx); err != nil {
		cancel()
		m.stopNATS(context.Background())

		return fmt.Errorf("failed to start auditor: %w", err)
	}

	m.cancel = cancel
	m.started = true
	m.logger.Info("manager started",
		"lock_backend", m.cfg.Locks.Backend,
		"events", m.consumer != nil,
		"presence", m.presence != nil,
		"audit_interval", m.cfg.AuditInterval,
	)

	return nil
}

func (m *Manager) restore(ctx context.Context) (bool, error) {
	if m.loader == nil {
		return false, nil
	}

	snap, err := m.loader.LoadSnapshot(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load snapshot: %w", err)
	}
	m.store.Restore(snap)
	m.queue.Restore(snap.Queue)
	m.logger.Info("state restored",
		"bindings", len(snap.Bindings),
		"workers", len(snap.Workers),
		"queued", len(snap.Queue),
	)

	return true, nil
}

// Stop gracefully shuts down the manager.
//
// Background components stop in reverse start order: event consumer,
// presence monitor, auditor, escalation follow-ups, inactivity timers and
// finally notification delivery. The wait is bounded by ctx and
// Config.ShutdownTimeout, whichever is shorter.
//
// Returns:
//   - error: ErrNotStarted, ErrAlreadyStopped, or the joined shutdown errors
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		if m.stopped {
			return ErrAlreadyStopped
		}

		return ErrNotStarted
	}
	m.started = false
	m.stopped = true
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := m.stopNATS(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := m.auditor.Stop(); err != nil && !errors.Is(err, types.ErrNotStarted) {
		errs = append(errs, fmt.Errorf("auditor stop failed: %w", err))
	}
	if m.escalator != nil {
		m.escalator.Stop()
	}
	m.timeouts.Stop()
	m.cancel()

	if m.async != nil {
		if err := m.async.Stop(ctx); err != nil {
			m.logger.Warn("undelivered notifications dropped", "pending", m.async.Pending(), "error", err)
			errs = append(errs, fmt.Errorf("notification flush failed: %w", err))
		}
	}
	m.fanout.Close()

	if err := errors.Join(errs...); err != nil {
		m.logger.Error("manager stopped with errors", "error", err)
		return err
	}
	m.logger.Info("manager stopped gracefully")

	return nil
}

// Config returns a copy of the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// SetAlertThresholds replaces the alert levels used by later audit passes.
func (m *Manager) SetAlertThresholds(th audit.Thresholds) {
	m.auditor.SetThresholds(th)
	m.logger.Info("alert thresholds updated",
		"queue_length_warning", th.QueueLength.Warning,
		"queue_length_error", th.QueueLength.Error,
	)
}

// Subscribe registers an in-process subscriber for the given notification
// channels ("worker.7", "resource.3", "operator"); no channels means all.
// Slow subscribers lose notifications instead of blocking the engine.
//
// Returns:
//   - <-chan Notification: receives matching notifications
//   - func(): unsubscribe function; it closes the channel
func (m *Manager) Subscribe(buffer int, channels ...string) (<-chan Notification, func()) {
	return m.fanout.Subscribe(buffer, channels...)
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.cfg.OperationTimeout)
}

func (m *Manager) now(at time.Time) time.Time {
	if at.IsZero() {
		return m.clock.Now()
	}

	return at
}
