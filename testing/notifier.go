package testing

import (
	"context"
	"slices"
	"sync"

	"github.com/arloliu/rota/types"
)

// RecordingNotifier is a types.Notifier that keeps every notification it
// receives. It is safe for concurrent use.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []types.Notification
	err  error
}

var _ types.Notifier = (*RecordingNotifier)(nil)

// NewRecordingNotifier creates an empty recorder.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

// Notify records n and returns the configured error, if any.
func (r *RecordingNotifier) Notify(_ context.Context, n types.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = append(r.sent, n)

	return r.err
}

// FailWith makes subsequent Notify calls return err after recording.
func (r *RecordingNotifier) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.err = err
}

// All returns a copy of everything recorded so far.
func (r *RecordingNotifier) All() []types.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	return slices.Clone(r.sent)
}

// OfKind returns the recorded notifications of one kind, in order.
func (r *RecordingNotifier) OfKind(kind types.NotificationKind) []types.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []types.Notification
	for _, n := range r.sent {
		if n.Kind() == kind {
			out = append(out, n)
		}
	}

	return out
}

// Reset forgets everything recorded.
func (r *RecordingNotifier) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sent = nil
}

// Of returns the recorded notifications of payload type T, in order.
func Of[T types.Notification](r *RecordingNotifier) []T {
	var out []T
	for _, n := range r.All() {
		if v, ok := n.(T); ok {
			out = append(out, v)
		}
	}

	return out
}
