package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/rota/internal/assignment"
	"github.com/arloliu/rota/internal/clock"
	"github.com/arloliu/rota/internal/lock"
	"github.com/arloliu/rota/internal/queue"
	"github.com/arloliu/rota/internal/store"
	"github.com/arloliu/rota/internal/timeout"
	rotatest "github.com/arloliu/rota/testing"
	"github.com/arloliu/rota/types"
)

var t0 = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fixture struct {
	clk      *clock.Manual
	store    *store.Store
	locks    *lock.Manager
	queue    *queue.Manager
	timeouts *timeout.Manager
	engine   *assignment.Engine
	auditor  *Auditor
	notifier *rotatest.RecordingNotifier
}

func newFixture(t *testing.T, notifier types.Notifier) *fixture {
	t.Helper()

	f := &fixture{
		clk:      clock.NewManual(t0),
		store:    store.New(),
		notifier: rotatest.NewRecordingNotifier(),
	}
	log := rotatest.NewTestLogger(t)

	var err error
	f.locks, err = lock.NewManager(&lock.Config{Backend: lock.NewMemory(f.clk, 0), Clock: f.clk, Logger: log})
	require.NoError(t, err)
	f.queue, err = queue.New(&queue.Config{Clock: f.clk, FreeResources: f.store.FreeCount, Logger: log})
	require.NoError(t, err)
	f.timeouts, err = timeout.New(&timeout.Config{
		Clock:       f.clk,
		MaxAttempts: 1,
		Notifier:    f.notifier,
		Logger:      log,
	})
	require.NoError(t, err)
	t.Cleanup(f.timeouts.Stop)

	f.engine, err = assignment.New(&assignment.Config{
		Store:         f.store,
		Locks:         f.locks,
		Queue:         f.queue,
		Timeouts:      f.timeouts,
		Clock:         f.clk,
		QueuePriority: 5,
		LockBackoff:   time.Millisecond,
		Notifier:      f.notifier,
		Logger:        log,
	})
	require.NoError(t, err)

	if notifier == nil {
		notifier = f.notifier
	}
	f.auditor, err = New(&Config{
		Engine:   f.engine,
		Store:    f.store,
		Locks:    f.locks,
		Queue:    f.queue,
		Timeouts: f.timeouts,
		Clock:    f.clk,
		Notifier: notifier,
		Logger:   log,
	})
	require.NoError(t, err)

	return f
}

func (f *fixture) online(id types.WorkerID) {
	f.store.SaveWorker(context.Background(), types.Worker{
		ID: id, Online: true, Status: types.WorkerActive, LastSeenAt: t0,
	})
}

func (f *fixture) seed(id string, worker types.WorkerID, resource types.ResourceID, primary bool, created time.Time, clients ...types.ClientID) {
	f.store.SaveBinding(context.Background(), types.Binding{
		ID:                      types.BindingID(id),
		WorkerID:                worker,
		ResourceID:              resource,
		Active:                  true,
		Primary:                 primary,
		Exclusive:               true,
		CreatedAt:               created,
		LastActivityAt:          created,
		ConversationIDs:         clients,
		ActiveConversationCount: len(clients),
	})
}

func TestNew_Validate(t *testing.T) {
	_, err := New(&Config{})
	require.Error(t, err)
}

func TestRun_RepairsInvariants(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.seed("b-10", 1, 10, true, t0)
	f.seed("b-11", 1, 11, true, t0.Add(time.Minute))
	f.seed("b-12a", 2, 12, false, t0, 5)
	f.seed("b-12b", 3, 12, false, t0.Add(time.Second), 5, 6)

	report, err := f.auditor.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.DuplicateBindings)
	require.Equal(t, 1, report.PrimariesDemoted)
	require.Zero(t, report.RoutesDeduplicated)
	require.Equal(t, 2, report.TimersRestored, "the kept duplicate got its timer during the exclusivity repair")
	require.Zero(t, report.Unresolved)
	require.Empty(t, report.Alerts)

	b10, _ := f.store.Binding("b-10")
	b11, _ := f.store.Binding("b-11")
	require.False(t, b10.Primary)
	require.True(t, b11.Primary)

	active := f.store.ActiveForResource(12)
	require.Len(t, active, 1)
	require.Equal(t, []types.ClientID{5, 6}, active[0].ConversationIDs)
	require.Equal(t, 3, f.timeouts.Len())

	again, err := f.auditor.Run(ctx)
	require.NoError(t, err)
	require.Zero(t, again.Repairs())
	require.Zero(t, again.TimersRestored)

	last, ok := f.auditor.LastReport()
	require.True(t, ok)
	require.Equal(t, again.StartedAt, last.StartedAt)
}

func TestRun_BusyConflictIsUnresolvedAndAlerted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.seed("b-1", 1, 10, false, t0)
	f.seed("b-2", 2, 10, false, t0.Add(time.Second))

	held, err := f.locks.Acquire(ctx, types.ResourceLockKey(10), 99, time.Hour)
	require.NoError(t, err)

	report, err := f.auditor.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Unresolved)
	require.Equal(t, 1, report.ActiveLocks)
	require.Len(t, report.Alerts, 1)
	require.Equal(t, AlertUnresolved, report.Alerts[0].Code)
	require.Equal(t, types.SeverityWarning, report.Alerts[0].Severity)
	require.Len(t, rotatest.Of[types.OperatorAlert](f.notifier), 1)

	require.NoError(t, f.locks.Release(ctx, held))
	report, err = f.auditor.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.DuplicateBindings)
	require.Zero(t, report.Unresolved)
}

func TestRun_RedrivesExpiredBindings(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.online(1)

	b, err := f.engine.Assign(ctx, 1, 10, true)
	require.NoError(t, err)
	f.online(2)

	held, err := f.locks.Acquire(ctx, types.ResourceLockKey(10), 99, time.Hour)
	require.NoError(t, err)

	f.clk.Advance(timeout.DefaultTimeout)
	state, ok := f.timeouts.State(1, 10)
	require.True(t, ok)
	require.Equal(t, timeout.StateExpired, state, "handling failed while the lock was busy")

	require.NoError(t, f.locks.Release(ctx, held))

	report, err := f.auditor.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.ExpiredHandled)

	old, _ := f.store.Binding(b.ID)
	require.False(t, old.Active)
	require.Equal(t, types.EndInactivity, old.EndReason)
	active := f.store.ActiveForResource(10)
	require.Len(t, active, 1)
	require.Equal(t, types.WorkerID(2), active[0].WorkerID)
}

func TestRun_RehomesOrphansAndReapsLocks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.online(1)
	f.store.AddPending(10, 100, t0)

	_, err := f.locks.Acquire(ctx, types.ResourceLockKey(77), 1, time.Second)
	require.NoError(t, err)
	f.clk.Advance(2 * time.Second)

	report, err := f.auditor.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.OrphansRehomed)
	require.Equal(t, 1, report.LocksReaped)
	require.Zero(t, report.ActiveLocks)

	active := f.store.ActiveForResource(10)
	require.Len(t, active, 1)
	require.Equal(t, []types.ClientID{100}, active[0].ConversationIDs)
}

func TestRun_QueueLengthAlert(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.auditor.SetThresholds(Thresholds{QueueLength: Threshold{Warning: 1, Error: 3}})

	for _, id := range []types.WorkerID{1, 2} {
		_, err := f.queue.Enqueue(ctx, id, 5)
		require.NoError(t, err)
	}
	report, err := f.auditor.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.QueueLength)
	require.Len(t, report.Alerts, 1)
	require.Equal(t, AlertQueueLength, report.Alerts[0].Code)
	require.Equal(t, types.SeverityWarning, report.Alerts[0].Severity)
	require.InDelta(t, 1.0, report.Alerts[0].Threshold, 0)

	_, err = f.queue.Enqueue(ctx, 3, 5)
	require.NoError(t, err)
	report, err = f.auditor.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, types.SeverityError, report.Alerts[0].Severity)
}

type blockingNotifier struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (b *blockingNotifier) Notify(context.Context, types.Notification) error {
	b.once.Do(func() {
		close(b.entered)
		<-b.release
	})

	return nil
}

func TestRun_RejectsOverlappingPass(t *testing.T) {
	blocker := &blockingNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, blocker)
	ctx := context.Background()
	f.auditor.SetThresholds(Thresholds{QueueLength: Threshold{Warning: 1}})
	_, err := f.queue.Enqueue(ctx, 1, 5)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.auditor.Run(ctx)
		done <- err
	}()

	<-blocker.entered
	_, err = f.auditor.Run(ctx)
	require.ErrorIs(t, err, types.ErrAuditRunning)

	close(blocker.release)
	require.NoError(t, <-done)

	_, err = f.auditor.Run(ctx)
	require.NoError(t, err)
}

func TestAuditor_StartStop(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, ok := f.auditor.LastReport()
	require.False(t, ok)

	require.NoError(t, f.auditor.Start(ctx))
	require.ErrorIs(t, f.auditor.Start(ctx), types.ErrAlreadyStarted)

	f.clk.Advance(DefaultInterval)
	first, ok := f.auditor.LastReport()
	require.True(t, ok)
	require.Equal(t, t0.Add(DefaultInterval), first.StartedAt)

	f.clk.Advance(DefaultInterval)
	second, _ := f.auditor.LastReport()
	require.Equal(t, t0.Add(2*DefaultInterval), second.StartedAt)

	require.NoError(t, f.auditor.Stop())
	require.ErrorIs(t, f.auditor.Stop(), types.ErrNotStarted)

	f.clk.Advance(DefaultInterval)
	after, _ := f.auditor.LastReport()
	require.Equal(t, second.StartedAt, after.StartedAt)
}

func TestThreshold_Severity(t *testing.T) {
	th := Threshold{Warning: 5, Error: 10}

	sev, _ := th.Severity(4)
	require.Empty(t, sev)
	sev, limit := th.Severity(5)
	require.Equal(t, types.SeverityWarning, sev)
	require.InDelta(t, 5.0, limit, 0)
	sev, _ = th.Severity(12)
	require.Equal(t, types.SeverityError, sev)

	sev, _ = Threshold{}.Severity(1000)
	require.Empty(t, sev, "zero levels are disabled")
}
