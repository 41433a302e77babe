package presence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/rota/internal/logger"
	"github.com/arloliu/rota/types"
)

// DefaultPollInterval is the fallback scan period.
const DefaultPollInterval = 3 * time.Second

const debounce = 100 * time.Millisecond

// MonitorConfig holds Monitor configuration.
type MonitorConfig struct {
	// Required dependencies
	KV jetstream.KeyValue

	// Optional configuration
	Prefix       string        // Key prefix (default: "worker")
	PollInterval time.Duration // Fallback scan period (default: 3s)

	// Callbacks, invoked from the monitor goroutine
	OnOnline  func(ctx context.Context, worker types.WorkerID)
	OnOffline func(ctx context.Context, worker types.WorkerID)

	// Optional dependencies
	Logger types.Logger // Default: no-op
}

// Validate checks configuration validity.
func (c *MonitorConfig) Validate() error {
	if c.KV == nil {
		return errors.New("the KV is required")
	}
	if c.PollInterval < 0 {
		return errors.New("the PollInterval must not be negative")
	}

	return nil
}

// SetDefaults applies default values for optional fields.
func (c *MonitorConfig) SetDefaults() {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
}

// Monitor turns presence keys into online/offline transitions.
type Monitor struct {
	kv        jetstream.KeyValue
	prefix    string
	poll      time.Duration
	onOnline  func(ctx context.Context, worker types.WorkerID)
	onOffline func(ctx context.Context, worker types.WorkerID)
	logger    types.Logger

	online *xsync.Map[types.WorkerID, struct{}]
	scanMu sync.Mutex // serializes Scan between watcher and poller

	watcher   jetstream.KeyWatcher
	watcherMu sync.Mutex

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewMonitor creates a monitor with validated configuration.
func NewMonitor(cfg *MonitorConfig) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.SetDefaults()

	return &Monitor{
		kv:        cfg.KV,
		prefix:    cfg.Prefix,
		poll:      cfg.PollInterval,
		onOnline:  cfg.OnOnline,
		onOffline: cfg.OnOffline,
		logger:    cfg.Logger,
		online:    xsync.NewMap[types.WorkerID, struct{}](),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start runs an initial scan and then monitors in the background.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return types.ErrAlreadyStopped
	}
	if m.started {
		return types.ErrAlreadyStarted
	}

	if err := m.Scan(ctx); err != nil {
		m.logger.Warn("initial presence scan failed", "error", err)
	}

	m.started = true
	go m.run(ctx)

	return nil
}

// Stop ends monitoring and waits for the goroutines to exit. Stopping twice
// is a no-op.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return types.ErrNotStarted
	}
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh
	m.stopWatcher()

	return nil
}

// Online returns the workers currently considered online, ascending.
func (m *Monitor) Online() []types.WorkerID {
	out := make([]types.WorkerID, 0, m.online.Size())
	m.online.Range(func(id types.WorkerID, _ struct{}) bool {
		out = append(out, id)
		return true
	})
	slices.Sort(out)

	return out
}

// IsOnline reports whether worker has a live presence key.
func (m *Monitor) IsOnline(worker types.WorkerID) bool {
	_, ok := m.online.Load(worker)
	return ok
}

// Present lists the workers with a presence key in the bucket.
func (m *Monitor) Present(ctx context.Context) ([]types.WorkerID, error) {
	keys, err := m.kv.Keys(ctx)
	if err != nil {
		if types.IsNoKeysFoundError(err) || errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list presence keys: %w", err)
	}

	workers := make([]types.WorkerID, 0, len(keys))
	for _, key := range keys {
		id, ok := m.parseKey(key)
		if !ok {
			m.logger.Debug("skipping non-presence key", "key", key)
			continue
		}
		workers = append(workers, id)
	}
	slices.Sort(workers)

	return workers, nil
}

// Scan compares the bucket with the known online set and fires callbacks for
// every transition.
func (m *Monitor) Scan(ctx context.Context) error {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()

	present, err := m.Present(ctx)
	if err != nil {
		return err
	}

	seen := make(map[types.WorkerID]struct{}, len(present))
	for _, id := range present {
		seen[id] = struct{}{}
		if _, loaded := m.online.LoadOrStore(id, struct{}{}); !loaded {
			m.logger.Info("worker online", "worker_id", id)
			if m.onOnline != nil {
				m.onOnline(ctx, id)
			}
		}
	}

	var gone []types.WorkerID
	m.online.Range(func(id types.WorkerID, _ struct{}) bool {
		if _, ok := seen[id]; !ok {
			gone = append(gone, id)
		}

		return true
	})
	slices.Sort(gone)
	for _, id := range gone {
		m.online.Delete(id)
		m.logger.Info("worker offline", "worker_id", id)
		if m.onOffline != nil {
			m.onOffline(ctx, id)
		}
	}

	return nil
}

func (m *Monitor) parseKey(key string) (types.WorkerID, bool) {
	rest, ok := strings.CutPrefix(key, m.prefix+".")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return types.WorkerID(id), true
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.doneCh)

	if err := m.startWatcher(ctx); err != nil {
		m.logger.Warn("failed to start watcher, falling back to polling only", "error", err)
	}

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Scan(ctx); err != nil {
				m.logger.Error("presence polling error", "error", err)
			}
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) startWatcher(ctx context.Context) error {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	if m.watcher != nil {
		return nil
	}

	pattern := m.prefix + ".*"
	watcher, err := m.kv.Watch(ctx, pattern, jetstream.UpdatesOnly())
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	m.watcher = watcher
	m.logger.Debug("presence watcher started", "pattern", pattern)

	go m.processWatcherEvents(ctx, watcher)

	return nil
}

func (m *Monitor) stopWatcher() {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()

	if m.watcher != nil {
		if err := m.watcher.Stop(); err != nil {
			m.logger.Warn("failed to stop watcher", "error", err)
		}
		m.watcher = nil
	}
}

// processWatcherEvents debounces bursts of key updates into one Scan.
func (m *Monitor) processWatcherEvents(ctx context.Context, watcher jetstream.KeyWatcher) {
	timer := time.NewTimer(debounce)
	timer.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				return
			}
			if entry == nil {
				continue
			}
			// Puts for already-online workers do not change the online set.
			if entry.Operation() == jetstream.KeyValuePut {
				if id, ok := m.parseKey(entry.Key()); ok && m.IsOnline(id) {
					continue
				}
			}
			if !pending {
				pending = true
				timer.Reset(debounce)
			}
		case <-timer.C:
			if pending {
				pending = false
				if err := m.Scan(ctx); err != nil {
					m.logger.Error("watcher-triggered scan failed", "error", err)
				}
			}
		}
	}
}
