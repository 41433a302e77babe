package timeout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/arloliu/rota/internal/ids"
	"github.com/arloliu/rota/internal/logger"
	"github.com/arloliu/rota/internal/metrics"
	"github.com/arloliu/rota/types"
)

// Default timing values.
const (
	DefaultTimeout      = 300 * time.Second
	DefaultFirstWarn    = 60 * time.Second
	DefaultSecondWarn   = 30 * time.Second
	DefaultFinalWarn    = 10 * time.Second
	DefaultMaxAttempts  = 3
	DefaultRetryDelay   = 5 * time.Second
	DefaultHandlerLimit = 10 * time.Second
)

// ReasonInactivity is the reason carried by inactivity signals.
const ReasonInactivity = "inactivity"

// AlertTimerHandlingFailure is the operator alert code raised when a signal
// could not be handled after all attempts.
const AlertTimerHandlingFailure = "timer_handling_failure"

// Signal tells the handler that a binding idled out.
type Signal struct {
	WorkerID   types.WorkerID
	ResourceID types.ResourceID
	BindingID  types.BindingID
	Reason     string
	ExpiredAt  time.Time
}

// Handler reacts to an inactivity signal. A nil error marks the binding
// Handled; an error schedules a retry.
type Handler func(ctx context.Context, sig Signal) error

// Config holds Manager configuration.
type Config struct {
	// Required dependencies
	Clock types.Clock

	// Optional configuration (with defaults)
	Timeout        time.Duration // Inactivity timeout (default: 300s)
	FirstWarning   time.Duration // Checkpoint before deadline (default: 60s)
	SecondWarning  time.Duration // Checkpoint before deadline (default: 30s)
	FinalWarning   time.Duration // Checkpoint before deadline (default: 10s)
	MaxAttempts    int           // Handler attempts per expiry (default: 3)
	RetryDelay     time.Duration // Linear backoff unit between attempts (default: 5s)
	HandlerTimeout time.Duration // Context deadline for timer-driven handler calls (default: 10s)

	// Optional dependencies
	Handler  Handler // May also be set later with SetHandler
	Notifier types.Notifier
	Metrics  types.MetricsCollector // Default: no-op
	Logger   types.Logger           // Default: no-op
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Clock == nil {
		return errors.New("the Clock is required")
	}
	if c.Timeout < 0 || c.RetryDelay < 0 || c.MaxAttempts < 0 {
		return errors.New("timeout settings must not be negative")
	}

	return nil
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.FirstWarning == 0 {
		c.FirstWarning = DefaultFirstWarn
	}
	if c.SecondWarning == 0 {
		c.SecondWarning = DefaultSecondWarn
	}
	if c.FinalWarning == 0 {
		c.FinalWarning = DefaultFinalWarn
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.HandlerTimeout == 0 {
		c.HandlerTimeout = DefaultHandlerLimit
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNop()
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
}

type key struct {
	worker   types.WorkerID
	resource types.ResourceID
}

type entry struct {
	binding  types.BindingID
	deadline time.Time
	state    State
	gen      uint64
	attempts int
	timers   []types.Timer
}

func (e *entry) stopTimers() {
	for _, t := range e.timers {
		t.Stop()
	}
	e.timers = nil
}

type checkpoint struct {
	before time.Duration
	state  State
}

// Manager is the Timeout Manager. It is safe for concurrent use.
type Manager struct {
	clock          types.Clock
	timeout        time.Duration
	checkpoints    []checkpoint
	maxAttempts    int
	retryDelay     time.Duration
	handlerTimeout time.Duration
	notifier       types.Notifier
	metrics        types.MetricsCollector
	logger         types.Logger

	mu      sync.Mutex
	handler Handler
	entries map[key]*entry
	gen     uint64
	stopped bool
}

// New creates a timeout manager with validated configuration.
func New(cfg *Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.SetDefaults()

	return &Manager{
		clock:   cfg.Clock,
		timeout: cfg.Timeout,
		checkpoints: []checkpoint{
			{before: cfg.FirstWarning, state: StateWarn1},
			{before: cfg.SecondWarning, state: StateWarn2},
			{before: cfg.FinalWarning, state: StateWarnFinal},
		},
		maxAttempts:    cfg.MaxAttempts,
		retryDelay:     cfg.RetryDelay,
		handlerTimeout: cfg.HandlerTimeout,
		handler:        cfg.Handler,
		notifier:       cfg.Notifier,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		entries:        make(map[key]*entry),
	}, nil
}

// SetHandler registers the inactivity handler.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.handler = h
}

// Schedule starts (or restarts) the timer of an active binding with the
// deadline counted from "from".
func (m *Manager) Schedule(b types.Binding, from time.Time) {
	k := key{worker: b.WorkerID, resource: b.ResourceID}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}
	if prev, ok := m.entries[k]; ok {
		prev.stopTimers()
	}
	e := &entry{binding: b.ID}
	m.entries[k] = e
	m.arm(k, e, from)
	m.metrics.RecordActiveTimers(len(m.entries))
}

// Touch resets the binding's timer to Running with a deadline counted from
// at. It reports whether a timer existed.
func (m *Manager) Touch(worker types.WorkerID, resource types.ResourceID, at time.Time) bool {
	k := key{worker: worker, resource: resource}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[k]
	if !ok || m.stopped {
		return false
	}
	e.stopTimers()
	e.attempts = 0
	m.arm(k, e, at)

	return true
}

// Cancel drops the binding's timer. Cancelling an unknown or already fired
// timer is a no-op.
func (m *Manager) Cancel(worker types.WorkerID, resource types.ResourceID) bool {
	k := key{worker: worker, resource: resource}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[k]
	if !ok {
		return false
	}
	e.stopTimers()
	delete(m.entries, k)
	m.metrics.RecordActiveTimers(len(m.entries))

	return true
}

// Ensure schedules a timer for an active binding that has none, counting
// from its last activity. It reports whether a timer was created.
func (m *Manager) Ensure(b types.Binding) bool {
	if !b.Active {
		return false
	}
	if m.Has(b.WorkerID, b.ResourceID) {
		return false
	}

	from := b.LastActivityAt
	if from.IsZero() {
		from = b.CreatedAt
	}
	m.Schedule(b, from)

	return true
}

// Has reports whether a timer exists for the binding.
func (m *Manager) Has(worker types.WorkerID, resource types.ResourceID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.entries[key{worker: worker, resource: resource}]

	return ok
}

// State returns the binding's timer state.
func (m *Manager) State(worker types.WorkerID, resource types.ResourceID) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key{worker: worker, resource: resource}]
	if !ok {
		return 0, false
	}

	return e.state, true
}

// Deadline returns the binding's current deadline.
func (m *Manager) Deadline(worker types.WorkerID, resource types.ResourceID) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key{worker: worker, resource: resource}]
	if !ok {
		return time.Time{}, false
	}

	return e.deadline, true
}

// Expired lists bindings whose deadline passed at now without being handled.
func (m *Manager) Expired(now time.Time) []Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Signal
	for k, e := range m.entries {
		if e.state == StateHandled || now.Before(e.deadline) {
			continue
		}
		out = append(out, m.signal(k, e))
	}

	return out
}

// Retry runs the handler for sig immediately, outside the timer schedule.
// A success marks the binding Handled and drops its timer.
func (m *Manager) Retry(ctx context.Context, sig Signal) error {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()

	if h == nil {
		return errors.New("no inactivity handler registered")
	}
	if err := h(ctx, sig); err != nil {
		return err
	}
	m.handled(key{worker: sig.WorkerID, resource: sig.ResourceID}, sig.BindingID)

	return nil
}

// Len returns the number of tracked timers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// Stop cancels every timer. Later Schedule calls are ignored.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	for k, e := range m.entries {
		e.stopTimers()
		delete(m.entries, k)
	}
	m.metrics.RecordActiveTimers(0)
}

// arm sets the deadline and schedules checkpoint and deadline timers.
// Callers hold mu.
func (m *Manager) arm(k key, e *entry, from time.Time) {
	m.gen++
	e.gen = m.gen
	e.state = StateRunning
	e.deadline = from.Add(m.timeout)

	now := m.clock.Now()
	gen := e.gen
	for _, cp := range m.checkpoints {
		if cp.before <= 0 || cp.before >= m.timeout {
			continue
		}
		at := e.deadline.Add(-cp.before)
		if at.Before(now) {
			continue
		}
		e.timers = append(e.timers, m.clock.AfterFunc(at.Sub(now), func() { m.warn(k, gen, cp) }))
	}
	e.timers = append(e.timers, m.clock.AfterFunc(e.deadline.Sub(now), func() { m.expire(k, gen) }))
}

func (m *Manager) warn(k key, gen uint64, cp checkpoint) {
	m.mu.Lock()
	e, ok := m.entries[k]
	if !ok || e.gen != gen || e.state >= cp.state {
		m.mu.Unlock()
		return
	}
	e.state = cp.state
	m.mu.Unlock()

	severity := types.WarningSeverity(cp.before)
	m.metrics.RecordInactivityWarning(string(severity))
	m.logger.Debug("inactivity warning", "worker_id", k.worker, "resource_id", k.resource, "remaining", cp.before)

	m.notify(types.InactivityWarning{
		WorkerID:         k.worker,
		ResourceID:       k.resource,
		RemainingSeconds: int(cp.before / time.Second),
		Severity:         severity,
		CheckpointID:     ids.NewCheckpointID(),
	})
}

func (m *Manager) expire(k key, gen uint64) {
	m.mu.Lock()
	e, ok := m.entries[k]
	if !ok || e.gen != gen || e.state >= StateExpired {
		m.mu.Unlock()
		return
	}
	e.state = StateExpired
	e.timers = nil
	sig := m.signal(k, e)
	m.mu.Unlock()

	m.logger.Info("binding inactive", "worker_id", k.worker, "resource_id", k.resource, "binding_id", sig.BindingID)
	m.notify(types.InactivityTimeout{
		WorkerID:   k.worker,
		ResourceID: k.resource,
		BindingID:  sig.BindingID,
		Reason:     ReasonInactivity,
	})

	m.attempt(k, gen, sig)
}

// attempt runs the handler once and schedules the next attempt on failure.
func (m *Manager) attempt(k key, gen uint64, sig Signal) {
	m.mu.Lock()
	h := m.handler
	e, ok := m.entries[k]
	if !ok || e.gen != gen || e.state != StateExpired {
		m.mu.Unlock()
		return
	}
	e.attempts++
	attempt := e.attempts
	m.mu.Unlock()

	var err error
	if h == nil {
		err = errors.New("no inactivity handler registered")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), m.handlerTimeout)
		err = h(ctx, sig)
		cancel()
	}

	if err == nil {
		m.metrics.RecordInactivityTimeout(true)
		m.handled(k, sig.BindingID)

		return
	}

	m.logger.Warn("inactivity handling failed",
		"worker_id", k.worker, "resource_id", k.resource, "attempt", attempt, "error", err)

	if attempt >= m.maxAttempts {
		m.metrics.RecordInactivityTimeout(false)
		m.alert(sig, attempt, err)

		return
	}

	m.mu.Lock()
	if e, ok := m.entries[k]; ok && e.gen == gen && e.state == StateExpired && !m.stopped {
		delay := m.retryDelay * time.Duration(attempt)
		e.timers = append(e.timers, m.clock.AfterFunc(delay, func() { m.attempt(k, gen, sig) }))
	}
	m.mu.Unlock()
}

func (m *Manager) handled(k key, binding types.BindingID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[k]
	if !ok || e.binding != binding {
		return
	}
	e.state = StateHandled
	e.stopTimers()
	delete(m.entries, k)
	m.metrics.RecordActiveTimers(len(m.entries))
}

func (m *Manager) alert(sig Signal, attempts int, cause error) {
	m.logger.Error("inactivity handling exhausted",
		"worker_id", sig.WorkerID, "resource_id", sig.ResourceID, "attempts", attempts,
		"error", fmt.Errorf("%w: %w", types.ErrTimerHandlingFailure, cause))
	m.metrics.RecordAlert(AlertTimerHandlingFailure, string(types.SeverityError))

	m.notify(types.OperatorAlert{
		Severity: types.SeverityError,
		Code:     AlertTimerHandlingFailure,
		Message: fmt.Sprintf("inactivity handling for worker %d on resource %d failed after %d attempts: %v",
			sig.WorkerID, sig.ResourceID, attempts, cause),
		Value:     float64(attempts),
		Threshold: float64(m.maxAttempts),
		At:        m.clock.Now(),
	})
}

func (m *Manager) signal(k key, e *entry) Signal {
	return Signal{
		WorkerID:   k.worker,
		ResourceID: k.resource,
		BindingID:  e.binding,
		Reason:     ReasonInactivity,
		ExpiredAt:  e.deadline,
	}
}

func (m *Manager) notify(n types.Notification) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(context.Background(), n); err != nil {
		m.logger.Warn("timeout notification failed", "kind", n.Kind(), "error", err)
	}
}
