package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/rota/internal/natsutil"
	"github.com/arloliu/rota/types"
)

// KV is a LockBackend stored in a NATS JetStream KeyValue bucket, so several
// rota instances can share locks.
//
// Keys are the lock key strings ("resource.12", "conversation.4.12"); values
// are the JSON encoded types.Lock. Expiry is evaluated by readers against
// the ExpiresAt field, and a stale entry is taken over with an Update that is
// conditional on the revision that was read.
type KV struct {
	kv    jetstream.KeyValue
	clock types.Clock
}

var _ types.LockBackend = (*KV)(nil)

// NewKV creates a KV backend over an existing bucket.
func NewKV(kv jetstream.KeyValue, clk types.Clock) *KV {
	return &KV{kv: kv, clock: clk}
}

// Acquire claims key with kv.Create, or takes over an expired entry with
// kv.Update at the observed revision.
func (k *KV) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (types.Lock, error) {
	now := k.clock.Now()
	l := newLock(key, holder, now, ttl)

	data, err := json.Marshal(l)
	if err != nil {
		return types.Lock{}, fmt.Errorf("encode lock %s: %w", key, err)
	}

	_, err = k.kv.Create(ctx, key, data)
	if err == nil {
		return l, nil
	}
	if !errors.Is(err, jetstream.ErrKeyExists) {
		return types.Lock{}, k.wrap("create", key, err)
	}

	entry, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			// Released between Create and Get; let the caller retry.
			return types.Lock{}, types.ErrBusy
		}

		return types.Lock{}, k.wrap("get", key, err)
	}

	cur, err := decodeLock(entry.Value())
	if err != nil || !cur.Expired(now) {
		if err != nil {
			return types.Lock{}, fmt.Errorf("decode lock %s: %w", key, err)
		}

		return types.Lock{}, types.ErrBusy
	}

	if _, err := k.kv.Update(ctx, key, data, entry.Revision()); err != nil {
		if isRevisionConflict(err) {
			return types.Lock{}, types.ErrBusy
		}

		return types.Lock{}, k.wrap("update", key, err)
	}

	return l, nil
}

// Release deletes key when the stored token matches.
func (k *KV) Release(ctx context.Context, key, token string) (bool, error) {
	entry, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return false, nil
		}

		return false, k.wrap("get", key, err)
	}

	cur, err := decodeLock(entry.Value())
	if err != nil {
		return false, fmt.Errorf("decode lock %s: %w", key, err)
	}
	if cur.Token != token && !cur.Expired(k.clock.Now()) {
		return false, types.ErrLockNotHeld
	}

	if err := k.kv.Delete(ctx, key, jetstream.LastRevision(entry.Revision())); err != nil {
		if isRevisionConflict(err) {
			// Taken over after expiry; nothing of ours left to release.
			return false, nil
		}

		return false, k.wrap("delete", key, err)
	}

	return cur.Token == token, nil
}

// Get reads the lock stored under key.
func (k *KV) Get(ctx context.Context, key string) (types.Lock, bool, error) {
	entry, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return types.Lock{}, false, nil
		}

		return types.Lock{}, false, k.wrap("get", key, err)
	}

	l, err := decodeLock(entry.Value())
	if err != nil {
		return types.Lock{}, false, fmt.Errorf("decode lock %s: %w", key, err)
	}

	return l, true, nil
}

// ReapExpired deletes expired entries, each conditional on the revision read.
func (k *KV) ReapExpired(ctx context.Context) ([]types.Lock, error) {
	now := k.clock.Now()

	entries, err := k.entries(ctx)
	if err != nil {
		return nil, err
	}

	var reaped []types.Lock
	for _, e := range entries {
		if !e.lock.Expired(now) {
			continue
		}
		if err := k.kv.Delete(ctx, e.lock.Key, jetstream.LastRevision(e.revision)); err != nil {
			if isRevisionConflict(err) {
				continue
			}

			return reaped, k.wrap("delete", e.lock.Key, err)
		}
		reaped = append(reaped, e.lock)
	}

	return reaped, nil
}

// List returns every lock in the bucket ordered by key.
func (k *KV) List(ctx context.Context) ([]types.Lock, error) {
	entries, err := k.entries(ctx)
	if err != nil {
		return nil, err
	}

	locks := make([]types.Lock, 0, len(entries))
	for _, e := range entries {
		locks = append(locks, e.lock)
	}
	sortLocks(locks)

	return locks, nil
}

type kvLock struct {
	lock     types.Lock
	revision uint64
}

func (k *KV) entries(ctx context.Context) ([]kvLock, error) {
	keys, err := k.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) || types.IsNoKeysFoundError(err) {
			return nil, nil
		}

		return nil, k.wrap("keys", "*", err)
	}

	out := make([]kvLock, 0, len(keys))
	for _, key := range keys {
		entry, err := k.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}

			return nil, k.wrap("get", key, err)
		}
		l, err := decodeLock(entry.Value())
		if err != nil {
			continue
		}
		out = append(out, kvLock{lock: l, revision: entry.Revision()})
	}

	return out, nil
}

func (k *KV) wrap(op, key string, err error) error {
	if natsutil.IsConnectivityError(err) {
		return fmt.Errorf("lock kv %s %s: %w: %w", op, key, types.ErrConnectivity, err)
	}

	return fmt.Errorf("lock kv %s %s: %w", op, key, err)
}

func decodeLock(data []byte) (types.Lock, error) {
	var l types.Lock
	if err := json.Unmarshal(data, &l); err != nil {
		return types.Lock{}, err
	}

	return l, nil
}

func isRevisionConflict(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}

	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
	}

	return false
}
