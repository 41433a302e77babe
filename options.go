package rota

import "github.com/nats-io/nats.go"

// Option configures a Manager with optional dependencies.
type Option func(*managerOptions)

// managerOptions holds optional Manager configuration.
type managerOptions struct {
	conn        *nats.Conn
	notifiers   []Notifier
	persister   Persister
	loader      SnapshotLoader
	lockBackend LockBackend
	clock       Clock
	metrics     MetricsCollector
	logger      Logger
}

// WithNATS supplies the NATS connection used by the KV lock backend,
// presence monitoring, the event consumer and the NATS notifier.
//
// Without it the Manager runs fully in process: memory locks, no presence
// bucket, events only through HandleEvent.
//
// Example:
//
//	nc, _ := nats.Connect(nats.DefaultURL)
//	mgr, err := rota.NewManager(&cfg, rota.WithNATS(nc))
func WithNATS(conn *nats.Conn) Option {
	return func(o *managerOptions) {
		o.conn = conn
	}
}

// WithNotifier adds an external notification relay. It may be given more
// than once; every notifier receives every notification.
//
// External notifiers sit behind a bounded asynchronous buffer so a slow
// transport never blocks assignment. In-process subscribers registered with
// Manager.Subscribe are served separately.
//
// Parameters:
//   - n: Notifier implementation (see internal transports: NATS, AMQP)
//
// Returns:
//   - Option: Functional option for NewManager
func WithNotifier(n Notifier) Option {
	return func(o *managerOptions) {
		if n != nil {
			o.notifiers = append(o.notifiers, n)
		}
	}
}

// WithPersister enables write-through of bindings, workers, queue entries,
// locks and notification rounds. Persistence is best effort: failures are
// logged and never roll back the in-memory change.
func WithPersister(p Persister) Option {
	return func(o *managerOptions) {
		o.persister = p
	}
}

// WithSnapshotLoader restores persisted state on Start. The first audit pass
// recreates inactivity timers for restored bindings.
//
// Example:
//
//	store := myPersistentStore // implements Persister and SnapshotLoader
//	mgr, _ := rota.NewManager(&cfg, rota.WithPersister(store), rota.WithSnapshotLoader(store))
func WithSnapshotLoader(l SnapshotLoader) Option {
	return func(o *managerOptions) {
		o.loader = l
	}
}

// WithLockBackend overrides the backend selected by Config.Locks.
func WithLockBackend(b LockBackend) Option {
	return func(o *managerOptions) {
		o.lockBackend = b
	}
}

// WithClock replaces the wall clock. Tests pass a manual clock to drive
// timers deterministically.
func WithClock(c Clock) Option {
	return func(o *managerOptions) {
		o.clock = c
	}
}

// WithMetrics sets a metrics collector.
//
// Parameters:
//   - metrics: MetricsCollector implementation
//
// Returns:
//   - Option: Functional option for NewManager
//
// Example:
//
//	collector := myPrometheusCollector
//	mgr := rota.NewManager(&cfg, rota.WithMetrics(collector))
func WithMetrics(metrics MetricsCollector) Option {
	return func(o *managerOptions) {
		o.metrics = metrics
	}
}

// WithLogger sets a logger.
//
// Parameters:
//   - logger: Logger implementation (compatible with zap.SugaredLogger)
//
// Returns:
//   - Option: Functional option for NewManager
func WithLogger(logger Logger) Option {
	return func(o *managerOptions) {
		o.logger = logger
	}
}
