package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/rota/internal/logger"
	"github.com/arloliu/rota/types"
)

// DefaultPrefix is the key prefix of presence entries.
const DefaultPrefix = "worker"

// DefaultHeartbeatInterval is used when NewHeartbeat gets a zero interval.
const DefaultHeartbeatInterval = 2 * time.Second

// Beat is the value stored under a presence key.
type Beat struct {
	WorkerID types.WorkerID `json:"worker_id"`
	At       time.Time      `json:"at"`
}

// Heartbeat keeps one worker's presence key alive.
type Heartbeat struct {
	kv       jetstream.KeyValue
	prefix   string
	worker   types.WorkerID
	interval time.Duration
	logger   types.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHeartbeat creates a heartbeat for worker. An empty prefix means
// DefaultPrefix; a nil logger means no logging.
//
// Example:
//
//	kv, _ := js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
//	    Bucket: "rota-presence",
//	    TTL:    6 * time.Second, // 3x interval
//	})
//	hb := presence.NewHeartbeat(kv, "", 42, 2*time.Second, nil)
//	if err := hb.Start(ctx); err != nil {
//	    return err
//	}
//	defer hb.Stop()
func NewHeartbeat(kv jetstream.KeyValue, prefix string, worker types.WorkerID, interval time.Duration, l types.Logger) *Heartbeat {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if l == nil {
		l = logger.NewNop()
	}

	return &Heartbeat{
		kv:       kv,
		prefix:   prefix,
		worker:   worker,
		interval: interval,
		logger:   l,
	}
}

// Start publishes the first beat immediately and then one per interval.
func (h *Heartbeat) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return types.ErrAlreadyStarted
	}
	if !h.worker.Valid() {
		return types.ErrInvalidWorkerID
	}

	if err := h.Beat(ctx); err != nil {
		return fmt.Errorf("failed to publish initial heartbeat: %w", err)
	}

	h.started = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	go h.loop(h.stopCh, h.doneCh)

	return nil
}

// Stop ends the loop and deletes the presence key so the worker goes
// offline without waiting for the TTL.
func (h *Heartbeat) Stop() error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return types.ErrNotStarted
	}
	h.started = false
	close(h.stopCh)
	doneCh := h.doneCh
	h.mu.Unlock()

	<-doneCh

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.kv.Delete(ctx, Key(h.prefix, h.worker)); err != nil {
		return fmt.Errorf("stopped but failed to delete presence key: %w", err)
	}

	return nil
}

// Beat writes one presence entry.
func (h *Heartbeat) Beat(ctx context.Context) error {
	value, err := json.Marshal(Beat{WorkerID: h.worker, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	if _, err := h.kv.Put(ctx, Key(h.prefix, h.worker), value); err != nil {
		return fmt.Errorf("failed to publish heartbeat for worker %d: %w", h.worker, err)
	}

	return nil
}

func (h *Heartbeat) loop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := h.Beat(ctx)
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				h.logger.Warn("heartbeat failed", "worker_id", h.worker, "error", err)
			}
		}
	}
}

// Key returns the presence key of worker under prefix.
func Key(prefix string, worker types.WorkerID) string {
	return prefix + "." + worker.String()
}
