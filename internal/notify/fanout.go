package notify

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/arloliu/rota/internal/metrics"
	"github.com/arloliu/rota/types"
)

// DefaultSubscriberBuffer is the channel size used when Subscribe gets zero.
const DefaultSubscriberBuffer = 64

// Fanout is an in-process notifier that copies every notification to the
// subscribers interested in its channel. Slow subscribers lose messages
// instead of blocking the sender.
type Fanout struct {
	subscribers *xsync.Map[uint64, *subscriber]
	nextID      atomic.Uint64
	metrics     types.NotificationMetrics
}

var _ types.Notifier = (*Fanout)(nil)

// NewFanout creates an empty fan-out. A nil metrics collector is replaced by
// a no-op.
func NewFanout(m types.NotificationMetrics) *Fanout {
	if m == nil {
		m = metrics.NewNop()
	}

	return &Fanout{
		subscribers: xsync.NewMap[uint64, *subscriber](),
		metrics:     m,
	}
}

// Subscribe registers a subscriber for the given channels ("worker.7",
// "operator", ...). No channels means every notification.
//
// Returns:
//   - <-chan types.Notification: receives matching notifications
//   - func(): unsubscribe function; it closes the channel and is idempotent
//
// Example:
//
//	ch, unsubscribe := fanout.Subscribe(16, types.WorkerChannel(7))
//	defer unsubscribe()
//	for n := range ch {
//	    fmt.Println(n.Kind())
//	}
func (f *Fanout) Subscribe(buffer int, channels ...string) (<-chan types.Notification, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}

	id := f.nextID.Add(1)
	sub := &subscriber{
		ch:       make(chan types.Notification, buffer),
		channels: slices.Clone(channels),
	}
	f.subscribers.Store(id, sub)

	return sub.ch, func() {
		if s, ok := f.subscribers.LoadAndDelete(id); ok {
			s.close()
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (f *Fanout) Subscribers() int {
	return f.subscribers.Size()
}

// Notify implements types.Notifier. It never blocks and never fails.
func (f *Fanout) Notify(_ context.Context, n types.Notification) error {
	channel := n.Channel()
	f.subscribers.Range(func(_ uint64, sub *subscriber) bool {
		if !sub.wants(channel) {
			return true
		}
		if sub.trySend(n) {
			f.metrics.RecordNotification(string(n.Kind()), "sent")
		} else {
			f.metrics.RecordNotification(string(n.Kind()), "dropped")
		}

		return true
	})

	return nil
}

// Close unsubscribes everyone.
func (f *Fanout) Close() {
	f.subscribers.Range(func(id uint64, _ *subscriber) bool {
		if s, ok := f.subscribers.LoadAndDelete(id); ok {
			s.close()
		}

		return true
	})
}

type subscriber struct {
	ch       chan types.Notification
	channels []string

	mu     sync.Mutex
	closed bool
}

func (s *subscriber) wants(channel string) bool {
	return len(s.channels) == 0 || slices.Contains(s.channels, channel)
}

// trySend delivers without blocking and reports whether it did.
func (s *subscriber) trySend(n types.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.ch <- n:
		return true
	default:
		return false
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
