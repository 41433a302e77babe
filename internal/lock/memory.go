package lock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/arloliu/rota/internal/ids"
	"github.com/arloliu/rota/types"
)

// DefaultShards is the shard count used when NewMemory is given zero.
const DefaultShards = 32

// Memory is an in-process LockBackend.
type Memory struct {
	clock  types.Clock
	shards []*memoryShard
}

type memoryShard struct {
	mu    sync.Mutex
	locks map[string]types.Lock
}

var _ types.LockBackend = (*Memory)(nil)

// NewMemory creates an in-memory backend with the given shard count.
func NewMemory(clk types.Clock, shards int) *Memory {
	if shards <= 0 {
		shards = DefaultShards
	}

	m := &Memory{clock: clk, shards: make([]*memoryShard, shards)}
	for i := range m.shards {
		m.shards[i] = &memoryShard{locks: make(map[string]types.Lock)}
	}

	return m
}

func (m *Memory) shard(key string) *memoryShard {
	return m.shards[xxh3.HashString(key)%uint64(len(m.shards))]
}

// Acquire takes the lock when it is free or expired.
func (m *Memory) Acquire(_ context.Context, key, holder string, ttl time.Duration) (types.Lock, error) {
	s := m.shard(key)
	now := m.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.locks[key]; ok && !cur.Expired(now) {
		return types.Lock{}, types.ErrBusy
	}

	l := newLock(key, holder, now, ttl)
	s.locks[key] = l

	return l, nil
}

// Release removes the lock when token matches. Missing entries are a no-op;
// an expired entry is dropped whoever holds it.
func (m *Memory) Release(_ context.Context, key, token string) (bool, error) {
	s := m.shard(key)
	now := m.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.locks[key]
	if !ok {
		return false, nil
	}
	if cur.Expired(now) {
		delete(s.locks, key)
		return cur.Token == token, nil
	}
	if cur.Token != token {
		return false, types.ErrLockNotHeld
	}
	delete(s.locks, key)

	return true, nil
}

// Get returns the current lock for key, including expired ones not yet reaped.
func (m *Memory) Get(_ context.Context, key string) (types.Lock, bool, error) {
	s := m.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[key]

	return l, ok, nil
}

// ReapExpired deletes and returns every expired lock.
func (m *Memory) ReapExpired(_ context.Context) ([]types.Lock, error) {
	now := m.clock.Now()

	var reaped []types.Lock
	for _, s := range m.shards {
		s.mu.Lock()
		for key, l := range s.locks {
			if l.Expired(now) {
				delete(s.locks, key)
				reaped = append(reaped, l)
			}
		}
		s.mu.Unlock()
	}
	sortLocks(reaped)

	return reaped, nil
}

// List returns a snapshot of all stored locks ordered by key.
func (m *Memory) List(_ context.Context) ([]types.Lock, error) {
	var all []types.Lock
	for _, s := range m.shards {
		s.mu.Lock()
		for _, l := range s.locks {
			all = append(all, l)
		}
		s.mu.Unlock()
	}
	sortLocks(all)

	return all, nil
}

func newLock(key, holder string, now time.Time, ttl time.Duration) types.Lock {
	l := types.Lock{
		Key:      key,
		Holder:   holder,
		Token:    ids.NewToken(),
		LockedAt: now,
	}
	if ttl > 0 {
		l.ExpiresAt = now.Add(ttl)
	}

	return l
}

func sortLocks(locks []types.Lock) {
	sort.Slice(locks, func(i, j int) bool { return locks[i].Key < locks[j].Key })
}
