package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/rota/internal/clock"
	rotatest "github.com/arloliu/rota/testing"
	"github.com/arloliu/rota/types"
)

func newTestManager(t *testing.T) (*Manager, *clock.Manual, *rotatest.RecordingNotifier) {
	t.Helper()

	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	notifier := rotatest.NewRecordingNotifier()
	m, err := NewManager(&Config{
		Backend:  NewMemory(clk, 0),
		Clock:    clk,
		Notifier: notifier,
		Logger:   rotatest.NewTestLogger(t),
	})
	require.NoError(t, err)

	return m, clk, notifier
}

func TestNewManager_Validate(t *testing.T) {
	_, err := NewManager(&Config{})
	require.Error(t, err)

	_, err = NewManager(&Config{Backend: NewMemory(clock.Real{}, 1)})
	require.Error(t, err)
}

func TestManager_DefaultTTL(t *testing.T) {
	m, clk, _ := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, types.ResourceLockKey(1), 3, 0)
	require.NoError(t, err)
	require.Equal(t, clk.Now().Add(DefaultTTL), l.ExpiresAt)
	require.Equal(t, "worker.3", l.Holder)

	locked, err := m.IsLocked(ctx, types.ResourceLockKey(1))
	require.NoError(t, err)
	require.True(t, locked)

	clk.Advance(DefaultTTL)

	locked, err = m.IsLocked(ctx, types.ResourceLockKey(1))
	require.NoError(t, err)
	require.False(t, locked, "a lock is free once its TTL elapsed")
}

func TestManager_LockStatusNotifications(t *testing.T) {
	m, clk, notifier := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, types.ResourceLockKey(9), 4, time.Minute)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, types.ConversationLockKey(5, 9), 4, time.Minute)
	require.NoError(t, err)

	clk.Advance(3 * time.Second)
	require.NoError(t, m.Release(ctx, l))

	changes := rotatest.Of[types.LockStatusChanged](notifier)
	require.Len(t, changes, 2, "conversation locks are not announced")
	require.Equal(t, types.LockLocked, changes[0].Status)
	require.Equal(t, types.WorkerID(4), changes[0].WorkerID)
	require.Equal(t, types.LockUnlocked, changes[1].Status)
	require.Equal(t, types.ResourceID(9), changes[1].ResourceID)
	require.InDelta(t, 3.0, changes[1].DurationSeconds, 0.001)
}

func TestManager_WithLockReleasesOnError(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	key := types.ResourceLockKey(2)

	boom := errors.New("boom")
	err := m.WithLock(ctx, key, 0, 0, func(ctx context.Context) error {
		locked, err := m.IsLocked(ctx, key)
		require.NoError(t, err)
		require.True(t, locked)

		require.ErrorIs(t, m.WithLock(ctx, key, 0, 0, func(context.Context) error { return nil }), types.ErrBusy)

		return boom
	})
	require.ErrorIs(t, err, boom)

	locked, err := m.IsLocked(ctx, key)
	require.NoError(t, err)
	require.False(t, locked)
}

func TestManager_ReapAndCount(t *testing.T) {
	m, clk, notifier := newTestManager(t)
	ctx := context.Background()

	_, err := m.Acquire(ctx, types.ResourceLockKey(1), 1, time.Second)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, types.ResourceLockKey(2), 2, time.Hour)
	require.NoError(t, err)

	count, err := m.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	clk.Advance(time.Minute)
	notifier.Reset()

	count, err = m.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count, "expired locks are not counted even before reaping")

	n, err := m.ReapExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = m.ReapExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	unlocked := rotatest.Of[types.LockStatusChanged](notifier)
	require.Len(t, unlocked, 1)
	require.Equal(t, types.ResourceID(1), unlocked[0].ResourceID)
}

func TestManager_ReleaseAfterReapAnnouncesOnce(t *testing.T) {
	m, clk, notifier := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, types.ResourceLockKey(6), 2, time.Second)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	n, err := m.ReapExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, m.Release(ctx, l), "releasing a reaped lock is a no-op")
	require.NoError(t, m.Release(ctx, l))

	changes := rotatest.Of[types.LockStatusChanged](notifier)
	require.Len(t, changes, 2)
	require.Equal(t, types.LockLocked, changes[0].Status)
	require.Equal(t, types.LockUnlocked, changes[1].Status)
}

func TestManager_ReleaseOfExpiredUnreapedLockAnnounces(t *testing.T) {
	m, clk, notifier := newTestManager(t)
	ctx := context.Background()

	l, err := m.Acquire(ctx, types.ResourceLockKey(7), 2, time.Second)
	require.NoError(t, err)

	clk.Advance(time.Minute)
	require.NoError(t, m.Release(ctx, l))

	changes := rotatest.Of[types.LockStatusChanged](notifier)
	require.Len(t, changes, 2)
	require.Equal(t, types.LockUnlocked, changes[1].Status)

	n, err := m.ReapExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestKeyParsing(t *testing.T) {
	id, ok := resourceFromKey("resource.42")
	require.True(t, ok)
	require.Equal(t, types.ResourceID(42), id)

	_, ok = resourceFromKey("conversation.1.42")
	require.False(t, ok)

	require.Equal(t, types.WorkerID(7), workerFromHolder("worker.7"))
	require.Zero(t, workerFromHolder(EngineHolder))
	require.Equal(t, EngineHolder, HolderFor(0))
}
