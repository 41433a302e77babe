package assignment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/rota/internal/clock"
	"github.com/arloliu/rota/internal/lock"
	"github.com/arloliu/rota/internal/queue"
	"github.com/arloliu/rota/internal/store"
	"github.com/arloliu/rota/internal/timeout"
	rotatest "github.com/arloliu/rota/testing"
	"github.com/arloliu/rota/types"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

const inactivity = 300 * time.Second

type fixture struct {
	clk      *clock.Manual
	store    *store.Store
	locks    *lock.Manager
	queue    *queue.Manager
	timeouts *timeout.Manager
	engine   *Engine
	notifier *rotatest.RecordingNotifier
}

type fixtureOption func(*Config)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	f := &fixture{
		clk:      clock.NewManual(t0),
		store:    store.New(),
		notifier: rotatest.NewRecordingNotifier(),
	}
	log := rotatest.NewTestLogger(t)

	var err error
	f.locks, err = lock.NewManager(&lock.Config{
		Backend:  lock.NewMemory(f.clk, 4),
		Clock:    f.clk,
		Notifier: f.notifier,
		Logger:   log,
	})
	require.NoError(t, err)

	f.queue, err = queue.New(&queue.Config{
		Clock:         f.clk,
		FreeResources: f.store.FreeCount,
		Notifier:      f.notifier,
		Logger:        log,
	})
	require.NoError(t, err)

	f.timeouts, err = timeout.New(&timeout.Config{
		Clock:      f.clk,
		Timeout:    inactivity,
		RetryDelay: time.Second,
		Notifier:   f.notifier,
		Logger:     log,
	})
	require.NoError(t, err)
	t.Cleanup(f.timeouts.Stop)

	cfg := &Config{
		Store:         f.store,
		Locks:         f.locks,
		Queue:         f.queue,
		Timeouts:      f.timeouts,
		Clock:         f.clk,
		QueuePriority: 5,
		LockBackoff:   5 * time.Millisecond,
		Notifier:      f.notifier,
		Logger:        log,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	f.engine, err = New(cfg)
	require.NoError(t, err)

	return f
}

// online registers an online, active worker last seen at t0+offset.
func (f *fixture) online(t *testing.T, id types.WorkerID, offset time.Duration) {
	t.Helper()
	f.store.SaveWorker(context.Background(), types.Worker{
		ID: id, Online: true, Status: types.WorkerActive, LastSeenAt: t0.Add(offset),
	})
}

func (f *fixture) offline(t *testing.T, id types.WorkerID) {
	t.Helper()
	f.store.SaveWorker(context.Background(), types.Worker{
		ID: id, Status: types.WorkerActive, LastSeenAt: t0,
	})
}

func (f *fixture) active(resource types.ResourceID) []types.Binding {
	return f.store.ActiveForResource(resource)
}

func TestNew_Validate(t *testing.T) {
	_, err := New(&Config{})
	require.Error(t, err)
}

func TestAssign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(t, 1, 0)

	_, err := f.queue.Enqueue(ctx, 1, 5)
	require.NoError(t, err)

	b, err := f.engine.Assign(ctx, 1, 10, true)
	require.NoError(t, err)
	require.True(t, b.Active)
	require.True(t, b.Primary)
	require.True(t, b.Exclusive)
	require.Equal(t, t0, b.CreatedAt)
	require.False(t, f.queue.Contains(1), "binding removes the worker from the queue")
	require.True(t, f.timeouts.Has(1, 10))

	changed := rotatest.Of[types.AssignmentChanged](f.notifier)
	require.Len(t, changed, 1)
	require.Equal(t, types.ReasonNewAssignment, changed[0].Reason)
	require.Equal(t, b.ID, changed[0].BindingID)

	f.online(t, 2, 0)
	_, err = f.engine.Assign(ctx, 2, 10, false)
	require.ErrorIs(t, err, types.ErrAlreadyBound)
	require.Len(t, f.active(10), 1)
}

func TestAssign_BusyIsSingleAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(t, 1, 0)

	held, err := f.locks.Acquire(ctx, types.ResourceLockKey(10), 99, 0)
	require.NoError(t, err)

	_, err = f.engine.Assign(ctx, 1, 10, false)
	require.ErrorIs(t, err, types.ErrBusy)
	require.Empty(t, f.active(10), "a lost lock race mutates nothing")

	require.NoError(t, f.locks.Release(ctx, held))
	_, err = f.engine.Assign(ctx, 1, 10, false)
	require.NoError(t, err)
}

func TestAssign_MakePrimaryDemotesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(t, 1, 0)

	first, err := f.engine.Assign(ctx, 1, 10, true)
	require.NoError(t, err)
	f.clk.Advance(time.Second)
	second, err := f.engine.Assign(ctx, 1, 11, true)
	require.NoError(t, err)

	got, ok := f.store.Binding(first.ID)
	require.True(t, ok)
	require.False(t, got.Primary)
	got, _ = f.store.Binding(second.ID)
	require.True(t, got.Primary)
}

func TestAssign_InvalidIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Assign(ctx, 0, 1, false)
	require.ErrorIs(t, err, types.ErrInvalidWorkerID)
	_, err = f.engine.Assign(ctx, 1, -1, false)
	require.ErrorIs(t, err, types.ErrInvalidResourceID)
	_, err = f.engine.Assign(ctx, 1, 1, false)
	require.ErrorIs(t, err, types.ErrUnknownWorker)
}

func TestRouteConversation_SelectsLeastLoaded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(t, 1, 0)
	f.online(t, 2, -time.Minute) // seen longer ago, wins ties
	f.online(t, 3, 0)

	w, err := f.engine.RouteConversation(ctx, 100, 10)
	require.NoError(t, err)
	require.Equal(t, types.WorkerID(2), w)

	// Worker 2 now holds one binding; 1 and 3 tie on load and LastSeenAt,
	// so the lower ID wins.
	w, err = f.engine.RouteConversation(ctx, 101, 11)
	require.NoError(t, err)
	require.Equal(t, types.WorkerID(1), w)

	b := f.active(10)[0]
	require.True(t, b.Primary, "first binding of a worker is primary")
	require.Equal(t, []types.ClientID{100}, b.ConversationIDs)
}

func TestRouteConversation_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(t, 1, 0)
	f.online(t, 2, 0)

	first, err := f.engine.RouteConversation(ctx, 100, 10)
	require.NoError(t, err)
	second, err := f.engine.RouteConversation(ctx, 100, 10)
	require.NoError(t, err)
	require.Equal(t, first, second)

	active := f.active(10)
	require.Len(t, active, 1)
	require.Equal(t, []types.ClientID{100}, active[0].ConversationIDs)
	require.Equal(t, 1, active[0].ActiveConversationCount)

	_, err = f.engine.RouteConversation(ctx, 101, 10)
	require.NoError(t, err)
	require.Equal(t, []types.ClientID{100, 101}, f.active(10)[0].ConversationIDs)
}

func TestRouteConversation_SecondBindingNotPrimary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(t, 1, 0)

	_, err := f.engine.RouteConversation(ctx, 100, 10)
	require.NoError(t, err)
	_, err = f.engine.RouteConversation(ctx, 101, 11)
	require.NoError(t, err)

	require.True(t, f.active(10)[0].Primary)
	require.False(t, f.active(11)[0].Primary)
}

func TestRouteConversation_NoneAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.offline(t, 1)

	_, err := f.engine.RouteConversation(ctx, 100, 10)
	require.ErrorIs(t, err, types.ErrNoneAvailable)
	require.Empty(t, f.active(10))
	require.Equal(t, 0, f.queue.Size(), "routing never enqueues")

	pending, ok := f.store.Pending(10)
	require.True(t, ok)
	require.Contains(t, pending.Clients, types.ClientID(100))

	_, err = f.engine.RouteConversation(ctx, 0, 10)
	require.ErrorIs(t, err, types.ErrInvalidClientID)
}

func TestRouteConversation_ExcludesStaleWorkers(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.ExcludeInactiveAfter = 10 * time.Minute })
	ctx := context.Background()
	f.online(t, 1, -time.Hour)
	f.online(t, 2, -time.Minute)

	w, err := f.engine.RouteConversation(ctx, 100, 10)
	require.NoError(t, err)
	require.Equal(t, types.WorkerID(2), w)
}

func TestRouteConversation_Contested(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(t, 1, 0)
	f.online(t, 2, 0)

	var wg sync.WaitGroup
	results := make([]types.WorkerID, 2)
	errs := make([]error, 2)
	for i, client := range []types.ClientID{100, 200} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.engine.RouteConversation(ctx, client, 10)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	require.Equal(t, results[0], results[1])

	active := f.active(10)
	require.Len(t, active, 1, "exactly one binding for the contested resource")
	require.Equal(t, []types.ClientID{100, 200}, active[0].ConversationIDs)
	require.Len(t, f.store.Bindings(), 1)
}

func TestInactivity_ReassignsToEligibleWorker(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(t, 1, 0)

	original, err := f.engine.Assign(ctx, 1, 10, true)
	require.NoError(t, err)
	_, err = f.engine.RouteConversation(ctx, 100, 10)
	require.NoError(t, err)
	f.online(t, 2, 0)

	f.clk.Advance(inactivity - time.Second)
	require.Empty(t, rotatest.Of[types.InactivityTimeout](f.notifier))

	f.clk.Advance(time.Second)

	timeouts := rotatest.Of[types.InactivityTimeout](f.notifier)
	require.Len(t, timeouts, 1)
	require.Equal(t, types.WorkerID(1), timeouts[0].WorkerID)
	require.Equal(t, original.ID, timeouts[0].BindingID)

	old, ok := f.store.Binding(original.ID)
	require.True(t, ok)
	require.False(t, old.Active)
	require.Equal(t, types.EndInactivity, old.EndReason)
	require.Equal(t, []types.ClientID{100}, old.ConversationIDs, "history keeps the conversations")

	active := f.active(10)
	require.Len(t, active, 1)
	require.Equal(t, types.WorkerID(2), active[0].WorkerID)
	require.Equal(t, []types.ClientID{100}, active[0].ConversationIDs)

	deadline, ok := f.timeouts.Deadline(2, 10)
	require.True(t, ok, "the new binding gets a fresh timer")
	require.Equal(t, t0.Add(2*inactivity), deadline)
	require.False(t, f.timeouts.Has(1, 10))

	changed := rotatest.Of[types.AssignmentChanged](f.notifier)
	last := changed[len(changed)-1]
	require.Equal(t, types.ReasonInactivity, last.Reason)
	require.Equal(t, types.WorkerID(1), last.PreviousWorkerID)
	require.False(t, f.queue.Contains(1), "an idled-out worker is not queued")
}

func TestInactivity_NoReplacementLeavesResourceUnbound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(t, 1, 0)

	_, err := f.engine.RouteConversation(ctx, 100, 10)
	require.NoError(t, err)
	require.NoError(t, f.engine.RecordReply(ctx, 1, 10, 100, t0))
	_, ok := f.store.Pending(10)
	require.False(t, ok)

	f.clk.Advance(inactivity)

	require.Empty(t, f.active(10))
	require.Equal(t, 0, f.timeouts.Len(), "the expiry counts as handled")
	pending, ok := f.store.Pending(10)
	require.True(t, ok, "conversations become pending work")
	require.Contains(t, pending.Clients, types.ClientID(100))
}

func TestRecordActivity_ResetsTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(t, 1, 0)
	f.online(t, 2, 0)

	_, err := f.engine.Assign(ctx, 1, 10, true)
	require.NoError(t, err)

	f.clk.Advance(inactivity - time.Second)
	require.NoError(t, f.engine.RecordActivity(ctx, 1, 10, types.ActivityTyping, f.clk.Now()))

	f.clk.Advance(time.Second)
	require.Equal(t, types.WorkerID(1), f.active(10)[0].WorkerID, "no expiry at the original deadline")

	f.clk.Advance(inactivity - 2*time.Second)
	require.Equal(t, types.WorkerID(1), f.active(10)[0].WorkerID)

	f.clk.Advance(time.Second)
	require.Equal(t, types.WorkerID(2), f.active(10)[0].WorkerID, "expires at activity + timeout")
}

func TestRecordActivity_Timestamps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(t, 1, 0)

	_, err := f.engine.Assign(ctx, 1, 10, false)
	require.NoError(t, err)

	at := t0.Add(time.Minute)
	require.NoError(t, f.engine.RecordActivity(ctx, 1, 10, types.ActivityMessage, at))
	b := f.active(10)[0]
	require.Equal(t, at, b.LastActivityAt)
	require.Equal(t, at, b.LastMessageSentAt)
	require.True(t, b.LastTypingAt.IsZero())

	w, _ := f.store.Worker(1)
	require.Equal(t, at, w.LastSeenAt)

	err = f.engine.RecordActivity(ctx, 2, 10, types.ActivityTyping, at)
	require.ErrorIs(t, err, types.ErrAccessDenied)
}

func TestRecordActivity_LateEventKeepsDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(t, 1, 0)
	f.online(t, 2, 0)

	_, err := f.engine.Assign(ctx, 1, 10, true)
	require.NoError(t, err)

	f.clk.Advance(200 * time.Second)
	latest := f.clk.Now()
	require.NoError(t, f.engine.RecordActivity(ctx, 1, 10, types.ActivityMessage, latest))

	f.clk.Advance(10 * time.Second)
	require.NoError(t, f.engine.RecordActivity(ctx, 1, 10, types.ActivityHeartbeat, t0.Add(10*time.Second)))
	require.NoError(t, f.engine.RecordActivity(ctx, 1, 10, types.ActivityMessage, t0.Add(20*time.Second)))

	deadline, ok := f.timeouts.Deadline(1, 10)
	require.True(t, ok)
	require.Equal(t, latest.Add(inactivity), deadline)

	b := f.active(10)[0]
	require.Equal(t, latest, b.LastActivityAt)
	require.Equal(t, latest, b.LastMessageSentAt)

	f.clk.Advance(110 * time.Second)
	require.Equal(t, types.WorkerID(1), f.active(10)[0].WorkerID, "stale activity must not expire the binding early")

	f.clk.Advance(latest.Add(inactivity).Sub(f.clk.Now()))
	require.Equal(t, types.WorkerID(2), f.active(10)[0].WorkerID, "expires at latest activity + timeout")
}

func TestRelease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(t, 1, 0)
	f.online(t, 2, 0)

	b, err := f.engine.Assign(ctx, 1, 10, true)
	require.NoError(t, err)

	require.ErrorIs(t, f.engine.Release(ctx, 2, 10), types.ErrAccessDenied)

	require.NoError(t, f.engine.Release(ctx, 1, 10))
	ended, _ := f.store.Binding(b.ID)
	require.False(t, ended.Active)
	require.Equal(t, types.EndReleased, ended.EndReason)
	require.False(t, f.timeouts.Has(1, 10))
	require.Empty(t, f.active(10), "no pending work, nothing drained")

	pos, err := f.queue.PositionOf(1)
	require.NoError(t, err, "the idle releaser is queued")
	require.Equal(t, 1, pos)
	require.Equal(t, 5, f.queue.Entries()[0].Priority)
}

func TestRelease_DrainsQueuedWorkerIntoPendingWork(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(t, 1, 0)

	_, err := f.engine.RouteConversation(ctx, 100, 10)
	require.NoError(t, err)

	f.online(t, 2, 0)
	_, err = f.queue.Enqueue(ctx, 2, 5)
	require.NoError(t, err)

	require.NoError(t, f.engine.Release(ctx, 1, 10))

	active := f.active(10)
	require.Len(t, active, 1)
	require.Equal(t, types.WorkerID(2), active[0].WorkerID)
	require.Equal(t, []types.ClientID{100}, active[0].ConversationIDs)
	require.False(t, f.queue.Contains(2))

	changed := rotatest.Of[types.AssignmentChanged](f.notifier)
	require.Equal(t, types.ReasonPendingMessages, changed[len(changed)-1].Reason)
	require.True(t, f.queue.Contains(1))
}

func TestReassign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(t, 1, 0)

	_, err := f.engine.Reassign(ctx, 10, 1, types.ReasonRotation)
	require.ErrorIs(t, err, types.ErrNotBound)

	_, err = f.engine.RouteConversation(ctx, 100, 10)
	require.NoError(t, err)

	_, err = f.engine.Reassign(ctx, 10, 1, types.ReasonRotation)
	require.ErrorIs(t, err, types.ErrNoWorkerAvailable)
	require.Empty(t, f.active(10))

	f.online(t, 2, 0)
	_, err = f.engine.Assign(ctx, 2, 10, false)
	require.NoError(t, err)

	b, err := f.engine.Reassign(ctx, 10, 2, types.ReasonRotation)
	require.NoError(t, err)
	require.Equal(t, types.WorkerID(1), b.WorkerID)

	entries := f.queue.Entries()
	require.Len(t, entries, 1, "the rotated-out worker is queued")
	require.Equal(t, types.WorkerID(2), entries[0].WorkerID)
	require.Equal(t, 0, entries[0].Priority)
}

func TestClaimFreeResource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.RegisterResource(10)
	f.store.AddPending(11, 100, t0)

	f.online(t, 1, 0)
	b, ok, err := f.engine.ClaimFreeResource(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.ResourceID(11), b.ResourceID, "pending work first")
	require.Equal(t, []types.ClientID{100}, b.ConversationIDs)

	again, ok, err := f.engine.ClaimFreeResource(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, b.ID, again.ID)

	f.online(t, 2, 0)
	_, ok, err = f.engine.ClaimFreeResource(ctx, 2)
	require.NoError(t, err)
	require.True(t, ok)

	f.online(t, 3, 0)
	_, ok, err = f.engine.ClaimFreeResource(ctx, 3)
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, f.queue.Contains(3))

	_, _, err = f.engine.ClaimFreeResource(ctx, 42)
	require.ErrorIs(t, err, types.ErrUnknownWorker)
}

func TestDrainQueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []types.WorkerID{1, 2, 3} {
		f.online(t, id, 0)
	}
	f.offline(t, 4)
	for _, id := range []types.WorkerID{4, 1, 2, 3} {
		_, err := f.queue.Enqueue(ctx, id, 5)
		require.NoError(t, err)
	}
	f.store.RegisterResource(10)
	f.store.AddPending(11, 100, t0)

	n, err := f.engine.DrainQueue(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.Equal(t, types.WorkerID(1), f.active(11)[0].WorkerID, "queue head gets the pending resource")
	require.Equal(t, types.WorkerID(2), f.active(10)[0].WorkerID)
	require.True(t, f.queue.Contains(4), "offline workers are skipped, not dropped")
	require.True(t, f.queue.Contains(3))
}

func TestRotate(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxBindingAge = time.Hour })
	ctx := context.Background()
	f.online(t, 1, 0)
	f.online(t, 2, 0)

	_, err := f.engine.Assign(ctx, 1, 10, true)
	require.NoError(t, err)
	f.clk.Advance(time.Minute)
	_, err = f.engine.Assign(ctx, 2, 11, true)
	require.NoError(t, err)

	f.online(t, 3, 0)
	_, err = f.engine.Enqueue(ctx, 3, -1)
	require.NoError(t, err)

	n, err := f.engine.Rotate(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n, "nothing is old enough yet")

	// Keep both bindings alive past the rotation age.
	for range 16 {
		f.clk.Advance(4 * time.Minute)
		require.NoError(t, f.engine.RecordActivity(ctx, 1, 10, types.ActivityHeartbeat, f.clk.Now()))
		require.NoError(t, f.engine.RecordActivity(ctx, 2, 11, types.ActivityHeartbeat, f.clk.Now()))
	}

	n, err = f.engine.Rotate(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "one queued worker, one rotation")

	require.Equal(t, types.WorkerID(3), f.active(10)[0].WorkerID, "oldest binding rotates first")
	require.Equal(t, types.WorkerID(2), f.active(11)[0].WorkerID)

	entries := f.queue.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, types.WorkerID(1), entries[0].WorkerID)
	require.Equal(t, 0, entries[0].Priority)
}

func TestWorkers_OfflineWinsOverConcurrentActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.online(t, 1, 0)

	_, err := f.engine.Assign(ctx, 1, 10, true)
	require.NoError(t, err)

	for i := range 200 {
		require.NoError(t, f.engine.MarkOnline(ctx, 1))

		at := t0.Add(time.Duration(i+1) * time.Second)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = f.engine.RecordActivity(ctx, 1, 10, types.ActivityHeartbeat, at)
		}()
		go func() {
			defer wg.Done()
			_ = f.engine.MarkOffline(ctx, 1)
		}()
		wg.Wait()

		w, ok := f.store.Worker(1)
		require.True(t, ok)
		require.False(t, w.Online, "iteration %d: activity resurrected an offline worker", i)
		require.False(t, w.Eligible(time.Time{}))
	}
}

func TestWorkers_OnlineOfflineAndQueueStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.engine.MarkOnline(ctx, 1))
	w, ok := f.store.Worker(1)
	require.True(t, ok)
	require.True(t, w.Online)
	require.Equal(t, types.WorkerActive, w.Status)

	f.store.RegisterResource(10)
	_, err := f.engine.Assign(ctx, 1, 10, true)
	require.NoError(t, err)
	_, err = f.engine.Enqueue(ctx, 1, 0)
	require.ErrorIs(t, err, types.ErrAlreadyBound)

	require.NoError(t, f.engine.MarkOnline(ctx, 2))
	_, err = f.engine.Enqueue(ctx, 2, -1)
	require.NoError(t, err)

	st := f.engine.QueueStatus(2)
	require.True(t, st.Queued)
	require.Equal(t, 1, st.Position)
	require.Equal(t, queue.DefaultTurnover, st.EstimatedWait)
	require.Equal(t, 0, st.FreeResources)

	require.NoError(t, f.engine.MarkOffline(ctx, 2))
	require.False(t, f.engine.QueueStatus(2).Queued)
	require.ErrorIs(t, f.engine.MarkOffline(ctx, 9), types.ErrUnknownWorker)

	require.NoError(t, f.engine.MarkOffline(ctx, 1))
	require.NoError(t, f.engine.RegisterWorker(ctx, types.Worker{ID: 3, Online: true, Status: types.WorkerSuspended}))
	_, err = f.engine.RouteConversation(ctx, 100, 11)
	require.ErrorIs(t, err, types.ErrNoneAvailable, "suspended and offline workers are not eligible")
}
