// Package queue implements the ordered waiting list of workers without a
// resource.
//
// Workers are served by priority (lower first), then by arrival time, then
// by insertion order. Every enqueue and every position shift is announced to
// the affected worker with a QueuePositionChanged notification.
package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/arloliu/rota/internal/logger"
	"github.com/arloliu/rota/internal/metrics"
	"github.com/arloliu/rota/types"
)

// DefaultTurnover seeds the average binding duration used for wait estimates.
const DefaultTurnover = 5 * time.Minute

// turnoverAlpha is the EWMA weight of each new turnover observation.
const turnoverAlpha = 0.2

// Config holds Manager configuration.
type Config struct {
	// Required dependencies
	Clock types.Clock

	// Optional configuration
	DefaultTurnover time.Duration // Seed for the turnover average (default: 5m)

	// FreeResources reports the current number of unbound resources; it is
	// included in position notifications. It must not call back into the queue.
	FreeResources func() int

	// Optional dependencies
	Notifier  types.Notifier
	Persister types.Persister
	Metrics   types.QueueMetrics // Default: no-op
	Logger    types.Logger       // Default: no-op
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Clock == nil {
		return errors.New("the Clock is required")
	}
	if c.DefaultTurnover < 0 {
		return errors.New("the DefaultTurnover must not be negative")
	}

	return nil
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.DefaultTurnover == 0 {
		c.DefaultTurnover = DefaultTurnover
	}
	if c.FreeResources == nil {
		c.FreeResources = func() int { return 0 }
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNop()
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
}

type entry struct {
	worker   types.WorkerID
	queuedAt time.Time
	priority int
	seq      uint64
}

func (e *entry) less(o *entry) bool {
	if e.priority != o.priority {
		return e.priority < o.priority
	}
	if !e.queuedAt.Equal(o.queuedAt) {
		return e.queuedAt.Before(o.queuedAt)
	}

	return e.seq < o.seq
}

// Manager is the Queue Manager. It is safe for concurrent use.
type Manager struct {
	clock         types.Clock
	freeResources func() int
	notifier      types.Notifier
	persister     types.Persister
	metrics       types.QueueMetrics
	logger        types.Logger

	mu       sync.Mutex
	entries  []*entry
	seq      uint64
	turnover time.Duration
}

// New creates a queue manager with validated configuration.
func New(cfg *Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.SetDefaults()

	return &Manager{
		clock:         cfg.Clock,
		freeResources: cfg.FreeResources,
		notifier:      cfg.Notifier,
		persister:     cfg.Persister,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		turnover:      cfg.DefaultTurnover,
	}, nil
}

// Enqueue adds worker with the given priority and returns its 1-based
// position. Enqueuing an already queued worker is a no-op that returns the
// existing position.
func (m *Manager) Enqueue(ctx context.Context, worker types.WorkerID, priority int) (int, error) {
	if !worker.Valid() {
		return 0, fmt.Errorf("%w: %d", types.ErrInvalidWorkerID, worker)
	}

	m.mu.Lock()
	if idx := m.indexOf(worker); idx >= 0 {
		m.mu.Unlock()
		return idx + 1, nil
	}

	m.seq++
	e := &entry{worker: worker, queuedAt: m.clock.Now(), priority: priority, seq: m.seq}
	idx, _ := slices.BinarySearchFunc(m.entries, e, func(a, b *entry) int {
		if a.less(b) {
			return -1
		}

		return 1
	})
	m.entries = slices.Insert(m.entries, idx, e)
	changed := m.snapshotFrom(idx)
	size := len(m.entries)
	m.mu.Unlock()

	m.logger.Debug("worker queued", "worker_id", worker, "position", idx+1, "priority", priority)
	m.metrics.RecordQueueSize(size)
	if m.persister != nil {
		if err := m.persister.SaveQueueEntry(ctx, changed[0]); err != nil {
			m.logger.Warn("queue entry persist failed", "worker_id", worker, "error", err)
		}
	}
	m.announce(ctx, changed)

	return idx + 1, nil
}

// DequeueNext removes and returns the head of the queue, or
// types.ErrQueueEmpty.
func (m *Manager) DequeueNext(ctx context.Context) (types.QueueEntry, error) {
	return m.DequeueFirst(ctx, nil)
}

// DequeueFirst removes and returns the first entry, in queue order, accepted
// by keep. A nil keep accepts the head. It returns types.ErrQueueEmpty when
// no entry qualifies.
func (m *Manager) DequeueFirst(ctx context.Context, keep func(types.QueueEntry) bool) (types.QueueEntry, error) {
	m.mu.Lock()
	idx := -1
	for i, e := range m.entries {
		if keep == nil || keep(m.toEntry(i, e)) {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return types.QueueEntry{}, types.ErrQueueEmpty
	}

	out := m.toEntry(idx, m.entries[idx])
	m.entries = slices.Delete(m.entries, idx, idx+1)
	changed := m.snapshotFrom(idx)
	size := len(m.entries)
	m.mu.Unlock()

	m.metrics.RecordQueueSize(size)
	m.metrics.RecordQueueWait(m.clock.Now().Sub(out.QueuedAt).Seconds())
	m.deleted(ctx, out.WorkerID)
	m.announce(ctx, changed)

	return out, nil
}

// Remove drops worker from the queue. It reports whether the worker was
// queued.
func (m *Manager) Remove(ctx context.Context, worker types.WorkerID) bool {
	m.mu.Lock()
	idx := m.indexOf(worker)
	if idx < 0 {
		m.mu.Unlock()
		return false
	}
	m.entries = slices.Delete(m.entries, idx, idx+1)
	changed := m.snapshotFrom(idx)
	size := len(m.entries)
	m.mu.Unlock()

	m.logger.Debug("worker removed from queue", "worker_id", worker)
	m.metrics.RecordQueueSize(size)
	m.deleted(ctx, worker)
	m.announce(ctx, changed)

	return true
}

// PositionOf returns the 1-based position of worker or types.ErrNotQueued.
func (m *Manager) PositionOf(worker types.WorkerID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(worker)
	if idx < 0 {
		return 0, types.ErrNotQueued
	}

	return idx + 1, nil
}

// EstimateWait returns position × average turnover for worker.
func (m *Manager) EstimateWait(worker types.WorkerID) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(worker)
	if idx < 0 {
		return 0, types.ErrNotQueued
	}

	return time.Duration(idx+1) * m.turnover, nil
}

// Contains reports whether worker is queued.
func (m *Manager) Contains(worker types.WorkerID) bool {
	_, err := m.PositionOf(worker)
	return err == nil
}

// Size returns the queue length.
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// Entries returns the queue in service order with positions and estimates.
func (m *Manager) Entries() []types.QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.snapshotFrom(0)
}

// Restore replaces the queue with persisted entries, kept in the given
// service order. Nothing is persisted or announced.
func (m *Manager) Restore(entries []types.QueueEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = m.entries[:0]
	for _, qe := range entries {
		if !qe.WorkerID.Valid() || m.indexOf(qe.WorkerID) >= 0 {
			continue
		}
		m.seq++
		m.entries = append(m.entries, &entry{worker: qe.WorkerID, queuedAt: qe.QueuedAt, priority: qe.Priority, seq: m.seq})
	}
	slices.SortStableFunc(m.entries, func(a, b *entry) int {
		if a.less(b) {
			return -1
		}
		if b.less(a) {
			return 1
		}

		return 0
	})
	m.metrics.RecordQueueSize(len(m.entries))
}

// ObserveTurnover folds an observed binding duration into the average used
// for wait estimates.
func (m *Manager) ObserveTurnover(d time.Duration) {
	if d <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.turnover = time.Duration(turnoverAlpha*float64(d) + (1-turnoverAlpha)*float64(m.turnover))
}

// AverageTurnover returns the current turnover average.
func (m *Manager) AverageTurnover() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.turnover
}

func (m *Manager) indexOf(worker types.WorkerID) int {
	return slices.IndexFunc(m.entries, func(e *entry) bool { return e.worker == worker })
}

func (m *Manager) toEntry(idx int, e *entry) types.QueueEntry {
	return types.QueueEntry{
		WorkerID:      e.worker,
		QueuedAt:      e.queuedAt,
		Priority:      e.priority,
		Position:      idx + 1,
		EstimatedWait: time.Duration(idx+1) * m.turnover,
	}
}

// snapshotFrom returns the entries from idx to the end. Callers hold mu.
func (m *Manager) snapshotFrom(idx int) []types.QueueEntry {
	out := make([]types.QueueEntry, 0, len(m.entries)-idx)
	for i := idx; i < len(m.entries); i++ {
		out = append(out, m.toEntry(i, m.entries[i]))
	}

	return out
}

func (m *Manager) deleted(ctx context.Context, worker types.WorkerID) {
	if m.persister == nil {
		return
	}
	if err := m.persister.DeleteQueueEntry(ctx, worker); err != nil {
		m.logger.Warn("queue entry delete failed", "worker_id", worker, "error", err)
	}
}

func (m *Manager) announce(ctx context.Context, changed []types.QueueEntry) {
	if m.notifier == nil || len(changed) == 0 {
		return
	}

	free := m.freeResources()
	for _, e := range changed {
		err := m.notifier.Notify(ctx, types.QueuePositionChanged{
			WorkerID:          e.WorkerID,
			Position:          e.Position,
			EstimatedWait:     e.EstimatedWait,
			FreeResourceCount: free,
		})
		if err != nil {
			m.logger.Warn("queue position notification failed", "worker_id", e.WorkerID, "error", err)
		}
	}
}
