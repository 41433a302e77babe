package rota

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/rota/internal/events"
	"github.com/arloliu/rota/internal/kvutil"
	"github.com/arloliu/rota/internal/lock"
	"github.com/arloliu/rota/internal/presence"
	"github.com/arloliu/rota/types"
)

// deferredBackend is the KV lock backend before Start has opened the bucket.
// Until then every call fails with ErrNotStarted.
type deferredBackend struct {
	kv atomic.Pointer[lock.KV]
}

var _ types.LockBackend = (*deferredBackend)(nil)

func (d *deferredBackend) backend() (*lock.KV, error) {
	kv := d.kv.Load()
	if kv == nil {
		return nil, fmt.Errorf("lock bucket not open: %w", types.ErrNotStarted)
	}

	return kv, nil
}

func (d *deferredBackend) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (types.Lock, error) {
	kv, err := d.backend()
	if err != nil {
		return types.Lock{}, err
	}

	return kv.Acquire(ctx, key, holder, ttl)
}

func (d *deferredBackend) Release(ctx context.Context, key, token string) (bool, error) {
	kv, err := d.backend()
	if err != nil {
		return false, err
	}

	return kv.Release(ctx, key, token)
}

func (d *deferredBackend) Get(ctx context.Context, key string) (types.Lock, bool, error) {
	kv, err := d.backend()
	if err != nil {
		return types.Lock{}, false, err
	}

	return kv.Get(ctx, key)
}

func (d *deferredBackend) ReapExpired(ctx context.Context) ([]types.Lock, error) {
	kv, err := d.backend()
	if err != nil {
		return nil, err
	}

	return kv.ReapExpired(ctx)
}

func (d *deferredBackend) List(ctx context.Context) ([]types.Lock, error) {
	kv, err := d.backend()
	if err != nil {
		return nil, err
	}

	return kv.List(ctx)
}

// ensureKVBucket creates or opens a KV bucket with the given TTL.
func (m *Manager) ensureKVBucket(ctx context.Context, js jetstream.JetStream, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	opCtx, cancel := m.withTimeout(ctx)
	defer cancel()

	return kvutil.EnsureBucket(opCtx, js, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
		TTL:     ttl,
	}, kvutil.DefaultRetries)
}

// startNATS opens the lock and presence buckets and starts the presence
// monitor and event consumer. Background work runs on runCtx.
func (m *Manager) startNATS(ctx, runCtx context.Context) error {
	js, err := jetstream.New(m.conn)
	if err != nil {
		return fmt.Errorf("failed to create jetstream context: %w", err)
	}

	if m.kvLocks != nil {
		// No bucket TTL: lock expiry is evaluated from the stored ExpiresAt.
		kv, err := m.ensureKVBucket(ctx, js, m.cfg.KVBuckets.LockBucket, 0)
		if err != nil {
			return fmt.Errorf("failed to create lock KV: %w", err)
		}
		m.kvLocks.kv.Store(lock.NewKV(kv, m.clock))
	}

	if m.cfg.KVBuckets.PresenceBucket != "" {
		if err := m.startPresence(ctx, runCtx, js); err != nil {
			return err
		}
	}

	if m.cfg.Events.Enabled {
		if err := m.startEvents(ctx, js); err != nil {
			return err
		}
	}

	return nil
}

func (m *Manager) startPresence(ctx, runCtx context.Context, js jetstream.JetStream) error {
	kv, err := m.ensureKVBucket(ctx, js, m.cfg.KVBuckets.PresenceBucket, m.cfg.KVBuckets.PresenceTTL)
	if err != nil {
		return fmt.Errorf("failed to create presence KV: %w", err)
	}

	mon, err := presence.NewMonitor(&presence.MonitorConfig{
		KV: kv,
		OnOnline: func(ctx context.Context, worker types.WorkerID) {
			if err := m.HandleWorkerOnline(ctx, WorkerWentOnline{WorkerID: worker}); err != nil {
				m.logger.Warn("presence online handling failed", "worker_id", worker, "error", err)
			}
		},
		OnOffline: func(ctx context.Context, worker types.WorkerID) {
			if err := m.HandleWorkerOffline(ctx, WorkerWentOffline{WorkerID: worker}); err != nil {
				m.logger.Warn("presence offline handling failed", "worker_id", worker, "error", err)
			}
		},
		Logger: m.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create presence monitor: %w", err)
	}
	if err := mon.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start presence monitor: %w", err)
	}
	m.presence = mon

	return nil
}

// startEvents ensures the event stream and starts the consumer. The consumer
// detaches from ctx once started.
func (m *Manager) startEvents(ctx context.Context, js jetstream.JetStream) error {
	opCtx, cancel := m.withTimeout(ctx)
	defer cancel()

	_, err := kvutil.EnsureStream(opCtx, js, jetstream.StreamConfig{
		Name:     m.cfg.Events.Stream,
		Subjects: []string{m.cfg.Events.Prefix + ".>"},
	}, kvutil.DefaultRetries)
	if err != nil {
		return fmt.Errorf("failed to create event stream: %w", err)
	}

	consumer, err := events.NewConsumer(&events.Config{
		JetStream:   js,
		Stream:      m.cfg.Events.Stream,
		Prefix:      m.cfg.Events.Prefix,
		Durable:     m.cfg.Events.Durable,
		Concurrency: m.cfg.Events.Concurrency,
		BatchSize:   m.cfg.Events.BatchSize,
		AckWait:     m.cfg.Events.AckWait,
		MaxDeliver:  m.cfg.Events.MaxDeliver,
		Logger:      m.logger,
	}, m)
	if err != nil {
		return fmt.Errorf("failed to create event consumer: %w", err)
	}
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start event consumer: %w", err)
	}
	m.consumer = consumer

	return nil
}

// stopNATS stops whatever startNATS started. Already stopped components are
// ignored.
func (m *Manager) stopNATS(ctx context.Context) error {
	var errs []error

	if m.consumer != nil {
		if err := m.consumer.Stop(ctx); err != nil && !errors.Is(err, types.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("event consumer stop failed: %w", err))
		}
	}
	if m.presence != nil {
		if err := m.presence.Stop(); err != nil && !errors.Is(err, types.ErrNotStarted) {
			errs = append(errs, fmt.Errorf("presence monitor stop failed: %w", err))
		}
	}

	return errors.Join(errs...)
}
