package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/rota/internal/assignment"
	"github.com/arloliu/rota/internal/lock"
	"github.com/arloliu/rota/internal/logger"
	"github.com/arloliu/rota/internal/metrics"
	"github.com/arloliu/rota/internal/queue"
	"github.com/arloliu/rota/internal/store"
	"github.com/arloliu/rota/internal/timeout"
	"github.com/arloliu/rota/types"
)

// DefaultInterval is the spacing between scheduled passes.
const DefaultInterval = 30 * time.Second

// Config holds Auditor configuration.
type Config struct {
	// Required dependencies
	Engine   *assignment.Engine
	Store    *store.Store
	Locks    *lock.Manager
	Queue    *queue.Manager
	Timeouts *timeout.Manager
	Clock    types.Clock

	// Optional configuration
	Interval   time.Duration // Spacing between scheduled passes (default: 30s)
	Thresholds *Thresholds   // Alert levels (default: DefaultThresholds)

	// Optional dependencies
	Escalator *assignment.Escalator // Checked after the queue drain when set
	Notifier  types.Notifier
	Metrics   types.AuditMetrics // Default: no-op
	Logger    types.Logger       // Default: no-op
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	switch {
	case c.Engine == nil:
		return errors.New("the Engine is required")
	case c.Store == nil:
		return errors.New("the Store is required")
	case c.Locks == nil:
		return errors.New("the Locks manager is required")
	case c.Queue == nil:
		return errors.New("the Queue manager is required")
	case c.Timeouts == nil:
		return errors.New("the Timeouts manager is required")
	case c.Clock == nil:
		return errors.New("the Clock is required")
	case c.Interval < 0:
		return errors.New("the Interval must not be negative")
	}

	return nil
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.Thresholds == nil {
		th := DefaultThresholds()
		c.Thresholds = &th
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNop()
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
}

// Auditor is the Conflict & Reconciliation Auditor.
type Auditor struct {
	engine    *assignment.Engine
	store     *store.Store
	locks     *lock.Manager
	queue     *queue.Manager
	timeouts  *timeout.Manager
	clock     types.Clock
	interval  time.Duration
	escalator *assignment.Escalator
	notifier  types.Notifier
	metrics   types.AuditMetrics
	logger    types.Logger

	thresholds atomic.Pointer[Thresholds]
	running    atomic.Bool
	last       atomic.Pointer[types.AuditReport]

	mu      sync.Mutex
	started bool
	ctx     context.Context //nolint:containedctx // scheduled passes outlive Start
	cancel  context.CancelFunc
	timer   types.Timer
	wg      sync.WaitGroup
}

// New creates an auditor with validated configuration.
func New(cfg *Config) (*Auditor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.SetDefaults()

	a := &Auditor{
		engine:    cfg.Engine,
		store:     cfg.Store,
		locks:     cfg.Locks,
		queue:     cfg.Queue,
		timeouts:  cfg.Timeouts,
		clock:     cfg.Clock,
		interval:  cfg.Interval,
		escalator: cfg.Escalator,
		notifier:  cfg.Notifier,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
	}
	th := *cfg.Thresholds
	a.thresholds.Store(&th)

	return a, nil
}

// SetThresholds replaces the alert levels used by later passes.
func (a *Auditor) SetThresholds(th Thresholds) {
	a.thresholds.Store(&th)
}

// Thresholds returns the alert levels in effect.
func (a *Auditor) Thresholds() Thresholds {
	return *a.thresholds.Load()
}

// LastReport returns the report of the latest completed pass.
func (a *Auditor) LastReport() (types.AuditReport, bool) {
	r := a.last.Load()
	if r == nil {
		return types.AuditReport{}, false
	}

	return *r, true
}

// Start schedules a pass every interval until Stop. Scheduled passes that
// collide with an on-demand pass are skipped.
func (a *Auditor) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return types.ErrAlreadyStarted
	}
	a.started = true
	a.ctx, a.cancel = context.WithCancel(context.WithoutCancel(ctx))
	a.scheduleLocked()
	a.logger.Info("auditor started", "interval", a.interval)

	return nil
}

// Stop cancels the schedule and waits for an in-flight scheduled pass.
func (a *Auditor) Stop() error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return types.ErrNotStarted
	}
	a.started = false
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.cancel()
	a.mu.Unlock()

	a.wg.Wait()
	a.logger.Info("auditor stopped")

	return nil
}

func (a *Auditor) scheduleLocked() {
	a.timer = a.clock.AfterFunc(a.interval, a.tick)
}

func (a *Auditor) tick() {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	ctx := a.ctx
	a.wg.Add(1)
	a.mu.Unlock()

	defer a.wg.Done()

	if _, err := a.Run(ctx); err != nil && !errors.Is(err, types.ErrAuditRunning) {
		a.logger.Error("audit pass failed", "error", err)
	}

	a.mu.Lock()
	if a.started {
		a.scheduleLocked()
	}
	a.mu.Unlock()
}

// Run executes one pass. A failing step is logged and the pass goes on; the
// joined step errors are returned with the report.
func (a *Auditor) Run(ctx context.Context) (types.AuditReport, error) {
	if !a.running.CompareAndSwap(false, true) {
		return types.AuditReport{}, types.ErrAuditRunning
	}
	defer a.running.Store(false)

	report := types.AuditReport{StartedAt: a.clock.Now()}
	var errs []error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			a.logger.Warn("audit step failed", "step", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("exclusivity", func() error {
		res, err := a.engine.RepairResourceExclusivity(ctx)
		report.DuplicateBindings = res.Repaired
		report.Unresolved += res.Unresolved

		return err
	})
	step("primaries", func() error {
		res, err := a.engine.RepairPrimaries(ctx)
		report.PrimariesDemoted = res.Repaired
		report.Unresolved += res.Unresolved

		return err
	})
	step("routing", func() error {
		res, err := a.engine.RepairDuplicateRouting(ctx)
		report.RoutesDeduplicated = res.Repaired
		report.Unresolved += res.Unresolved

		return err
	})
	step("counters", func() error {
		res, err := a.engine.RepairCounters(ctx)
		report.CountersRepaired = res.Repaired
		report.EntriesPruned = res.Pruned
		report.Unresolved += res.Unresolved

		return err
	})
	step("timeouts", func() error {
		return a.sweepTimeouts(ctx, &report)
	})
	step("orphans", func() error {
		res, err := a.engine.RehomeOrphans(ctx)
		report.OrphansRehomed = res.Repaired
		report.Unresolved += res.Unresolved

		return err
	})
	step("drain", func() error {
		n, err := a.engine.DrainQueue(ctx)
		report.QueueDrained = n

		return err
	})
	step("rotation", func() error {
		n, err := a.engine.Rotate(ctx)
		report.Rotated = n

		return err
	})
	if a.escalator != nil {
		a.escalator.Check(ctx)
	}
	step("locks", func() error {
		n, err := a.locks.ReapExpired(ctx)
		report.LocksReaped = n

		return err
	})

	report.QueueLength = a.queue.Size()
	step("lock_count", func() error {
		n, err := a.locks.Count(ctx)
		report.ActiveLocks = n

		return err
	})
	a.alerts(ctx, &report)

	report.Duration = a.clock.Now().Sub(report.StartedAt)
	a.record(report)
	a.last.Store(&report)

	return report, errors.Join(errs...)
}

// sweepTimeouts re-drives expired bindings whose handling never succeeded
// and restores timers of active bindings that lack one.
func (a *Auditor) sweepTimeouts(ctx context.Context, report *types.AuditReport) error {
	var errs []error
	for _, sig := range a.timeouts.Expired(a.clock.Now()) {
		if err := a.timeouts.Retry(ctx, sig); err != nil {
			if types.IsTransient(err) {
				report.Unresolved++
				continue
			}
			errs = append(errs, fmt.Errorf("binding %s: %w", sig.BindingID, err))

			continue
		}
		report.ExpiredHandled++
	}

	for _, b := range a.store.ActiveBindings() {
		if a.timeouts.Ensure(b) {
			report.TimersRestored++
		}
	}

	return errors.Join(errs...)
}

func (a *Auditor) record(r types.AuditReport) {
	a.metrics.RecordAuditPass(r.Duration.Seconds())
	for kind, n := range map[string]int{
		"duplicate_binding": r.DuplicateBindings,
		"primary":           r.PrimariesDemoted,
		"routing":           r.RoutesDeduplicated,
		"counter":           r.CountersRepaired,
		"expired_timer":     r.ExpiredHandled,
		"missing_timer":     r.TimersRestored,
		"orphan":            r.OrphansRehomed,
	} {
		if n > 0 {
			a.metrics.RecordRepair(kind, n)
		}
	}

	if r.Repairs() > 0 || r.Unresolved > 0 {
		a.logger.Warn("audit pass repaired state",
			"error", types.ErrInvariantViolation,
			"duplicate_bindings", r.DuplicateBindings, "primaries_demoted", r.PrimariesDemoted,
			"routes_deduplicated", r.RoutesDeduplicated, "counters_repaired", r.CountersRepaired,
			"unresolved", r.Unresolved)
	}
	a.logger.Debug("audit pass finished",
		"duration", r.Duration, "expired_handled", r.ExpiredHandled, "timers_restored", r.TimersRestored,
		"orphans_rehomed", r.OrphansRehomed, "queue_drained", r.QueueDrained, "rotated", r.Rotated,
		"locks_reaped", r.LocksReaped, "queue_length", r.QueueLength, "active_locks", r.ActiveLocks)
}
