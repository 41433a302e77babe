package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/arloliu/rota/internal/logger"
	"github.com/arloliu/rota/internal/metrics"
	"github.com/arloliu/rota/types"
)

// DefaultAsyncBuffer is the queue size used when NewAsync gets zero.
const DefaultAsyncBuffer = 1024

// DefaultDeliveryTimeout bounds one downstream Notify call.
const DefaultDeliveryTimeout = 5 * time.Second

// ErrDropped is returned by Async.Notify when the buffer is full or the
// notifier is stopped.
var ErrDropped = errors.New("notification dropped")

// Async decouples senders from a slow notifier: Notify only enqueues, and a
// single goroutine delivers in order.
type Async struct {
	next    types.Notifier
	queue   chan types.Notification
	timeout time.Duration
	metrics types.NotificationMetrics
	logger  types.Logger

	mu      sync.RWMutex
	started bool
	stopped bool
	doneCh  chan struct{}
}

var _ types.Notifier = (*Async)(nil)

// NewAsync wraps next with a buffer of the given size.
func NewAsync(next types.Notifier, buffer int, m types.NotificationMetrics, l types.Logger) *Async {
	if buffer <= 0 {
		buffer = DefaultAsyncBuffer
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if l == nil {
		l = logger.NewNop()
	}

	return &Async{
		next:    next,
		queue:   make(chan types.Notification, buffer),
		timeout: DefaultDeliveryTimeout,
		metrics: m,
		logger:  l,
		doneCh:  make(chan struct{}),
	}
}

// Start launches the delivery goroutine. Calling it twice is a no-op.
func (a *Async) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.stopped {
		return
	}
	a.started = true

	go a.run()
}

// Notify enqueues n. It returns ErrDropped instead of blocking when the
// buffer is full.
func (a *Async) Notify(_ context.Context, n types.Notification) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.stopped {
		a.metrics.RecordNotification(string(n.Kind()), "dropped")
		return ErrDropped
	}

	select {
	case a.queue <- n:
		return nil
	default:
		a.metrics.RecordNotification(string(n.Kind()), "dropped")
		return ErrDropped
	}
}

// Pending returns the number of buffered notifications.
func (a *Async) Pending() int {
	return len(a.queue)
}

// Stop closes the buffer and waits until everything queued was delivered or
// ctx is done.
func (a *Async) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return types.ErrAlreadyStopped
	}
	a.stopped = true
	started := a.started
	close(a.queue)
	a.mu.Unlock()

	if !started {
		return nil
	}

	select {
	case <-a.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Async) run() {
	defer close(a.doneCh)

	for n := range a.queue {
		a.deliver(n)
	}
}

func (a *Async) deliver(n types.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.next.Notify(ctx, n); err != nil {
		a.metrics.RecordNotification(string(n.Kind()), "failed")
		a.logger.Warn("notification delivery failed", "kind", n.Kind(), "channel", n.Channel(), "error", err)

		return
	}
	a.metrics.RecordNotification(string(n.Kind()), "sent")
}
