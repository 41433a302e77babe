package rota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/rota/internal/audit"
	"github.com/arloliu/rota/internal/clock"
	rotatest "github.com/arloliu/rota/testing"
	"github.com/arloliu/rota/types"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, mutate func(*Config), opts ...Option) (*Manager, *clock.Manual) {
	t.Helper()

	clk := clock.NewManual(t0)
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	opts = append([]Option{WithClock(clk), WithLogger(rotatest.NewTestLogger(t))}, opts...)
	mgr, err := NewManager(&cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(func() { _ = mgr.Stop(context.Background()) })

	return mgr, clk
}

// drain returns whatever is buffered on ch without blocking.
func drain(ch <-chan Notification) []Notification {
	var out []Notification
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, n)
		default:
			return out
		}
	}
}

func ofType[T Notification](ns []Notification) []T {
	var out []T
	for _, n := range ns {
		if v, ok := n.(T); ok {
			out = append(out, v)
		}
	}

	return out
}

type fakeLoader struct {
	snap types.Snapshot
	err  error
}

func (f fakeLoader) LoadSnapshot(context.Context) (types.Snapshot, error) {
	return f.snap, f.err
}

func TestNewManager_Errors(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := NewManager(nil)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("invalid config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Warnings.First = cfg.InactivityTimeout
		_, err := NewManager(&cfg)
		require.ErrorIs(t, err, ErrInvalidConfig)
		require.ErrorContains(t, err, "InactivityTimeout")
	})

	t.Run("events without NATS", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Events.Enabled = true
		_, err := NewManager(&cfg)
		require.ErrorIs(t, err, ErrNATSConnectionRequired)
	})

	t.Run("kv locks without NATS", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Locks.Backend = LockBackendKV
		_, err := NewManager(&cfg)
		require.ErrorIs(t, err, ErrNATSConnectionRequired)
	})

	t.Run("kv locks with explicit backend", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Locks.Backend = LockBackendKV
		mgr, err := NewManager(&cfg, WithLockBackend(nil))
		require.ErrorIs(t, err, ErrNATSConnectionRequired, "a nil backend does not count")
		require.Nil(t, mgr)
	})

	t.Run("empty config gets defaults", func(t *testing.T) {
		cfg := Config{}
		mgr, err := NewManager(&cfg)
		require.NoError(t, err)
		require.Equal(t, 300*time.Second, mgr.Config().InactivityTimeout)
	})
}

func TestManager_Lifecycle(t *testing.T) {
	cfg := DefaultConfig()
	mgr, err := NewManager(&cfg, WithClock(clock.NewManual(t0)))
	require.NoError(t, err)
	ctx := context.Background()

	require.ErrorIs(t, mgr.Stop(ctx), ErrNotStarted)
	require.NoError(t, mgr.Start(ctx))
	require.ErrorIs(t, mgr.Start(ctx), ErrAlreadyStarted)
	require.NoError(t, mgr.Stop(ctx))
	require.ErrorIs(t, mgr.Stop(ctx), ErrAlreadyStopped)
	require.ErrorIs(t, mgr.Start(ctx), ErrAlreadyStopped)
}

func TestManager_StartFailsOnSnapshotError(t *testing.T) {
	cfg := DefaultConfig()
	mgr, err := NewManager(&cfg,
		WithClock(clock.NewManual(t0)),
		WithSnapshotLoader(fakeLoader{err: errors.New("database down")}),
	)
	require.NoError(t, err)

	err = mgr.Start(context.Background())
	require.ErrorContains(t, err, "database down")
	require.ErrorIs(t, mgr.Stop(context.Background()), ErrNotStarted)
}

func TestManager_AssignmentFlow(t *testing.T) {
	mgr, clk := newTestManager(t, nil)
	ctx := context.Background()

	for _, r := range []ResourceID{10, 11} {
		added, err := mgr.RegisterResource(r)
		require.NoError(t, err)
		require.True(t, added)
	}
	_, err := mgr.RegisterResource(0)
	require.ErrorIs(t, err, ErrInvalidResourceID)

	w1, unsub := mgr.Subscribe(32, types.WorkerChannel(1))
	defer unsub()
	w3, unsub3 := mgr.Subscribe(32, types.WorkerChannel(3))
	defer unsub3()

	// Online workers claim free resources in ID order; the third one waits.
	require.NoError(t, mgr.HandleEvent(ctx, WorkerWentOnline{WorkerID: 1}))
	require.NoError(t, mgr.HandleEvent(ctx, &WorkerWentOnline{WorkerID: 2}))
	require.NoError(t, mgr.HandleEvent(ctx, WorkerWentOnline{WorkerID: 3}))

	b10 := mgr.BindingsForResource(10)
	require.Len(t, b10, 1)
	require.Equal(t, WorkerID(1), b10[0].WorkerID)
	require.True(t, b10[0].Primary)
	require.Len(t, mgr.BindingsForResource(11), 1)
	require.Empty(t, mgr.FreeResources())

	st := mgr.QueueStatus(3)
	require.True(t, st.Queued)
	require.Equal(t, 1, st.Position)
	require.Equal(t, 5*time.Minute, st.EstimatedWait)
	require.Zero(t, st.FreeResources)
	require.False(t, mgr.QueueStatus(1).Queued)

	// A client message joins the existing binding and stays pending until
	// the worker replies.
	require.NoError(t, mgr.HandleEvent(ctx, MessageArrived{ClientID: 100, ResourceID: 10, IsFromClient: true}))
	require.Equal(t, []ClientID{100}, mgr.BindingsForResource(10)[0].ConversationIDs)
	require.Len(t, mgr.PendingWork(), 1)

	require.NoError(t, mgr.HandleEvent(ctx, MessageArrived{ClientID: 100, ResourceID: 10, WorkerID: 1}))
	require.Empty(t, mgr.PendingWork())

	err = mgr.HandleEvent(ctx, MessageArrived{ClientID: 100, ResourceID: 10})
	require.ErrorIs(t, err, ErrInvalidWorkerID)

	deadline, ok := mgr.InactivityDeadline(1, 10)
	require.True(t, ok)
	require.Equal(t, t0.Add(5*time.Minute), deadline)

	clk.Advance(200 * time.Second)
	require.NoError(t, mgr.HandleEvent(ctx, ActivityRecorded{WorkerID: 2, ResourceID: 11, Kind: ActivityTyping}))

	// Worker 1 idles out: resource 10 moves to the least-loaded worker, which
	// is the queued worker 3, with the conversation carried over.
	clk.Advance(100 * time.Second)

	b10 = mgr.BindingsForResource(10)
	require.Len(t, b10, 1)
	require.Equal(t, WorkerID(3), b10[0].WorkerID)
	require.Equal(t, []ClientID{100}, b10[0].ConversationIDs)
	require.True(t, b10[0].Primary)
	require.False(t, mgr.QueueStatus(3).Queued)
	require.Empty(t, mgr.BindingsForWorker(1))

	require.Len(t, mgr.BindingsForResource(11), 1, "worker 2 stayed active")
	_, ok = mgr.InactivityDeadline(2, 11)
	require.True(t, ok)

	warnings := ofType[types.InactivityWarning](drain(w1))
	require.Len(t, warnings, 3)

	changed := ofType[types.AssignmentChanged](drain(w3))
	require.Len(t, changed, 1)
	require.Equal(t, ReasonInactivity, changed[0].Reason)
	require.Equal(t, WorkerID(1), changed[0].PreviousWorkerID)

	// Only the new holder may record activity.
	err = mgr.HandleEvent(ctx, ActivityRecorded{WorkerID: 1, ResourceID: 10})
	require.ErrorIs(t, err, ErrAccessDenied)
	require.NoError(t, mgr.HandleEvent(ctx, ActivityRecorded{WorkerID: 3, ResourceID: 10}))
}

func TestManager_PendingWorkWithoutWorkers(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, mgr.HandleEvent(ctx, MessageArrived{ClientID: 7, ResourceID: 20, IsFromClient: true}),
		"no eligible worker is not an error")

	pending := mgr.PendingWork()
	require.Len(t, pending, 1)
	require.Equal(t, ResourceID(20), pending[0].ResourceID)
	require.Contains(t, pending[0].Clients, ClientID(7))
	require.Equal(t, []ResourceID{20}, mgr.FreeResources())
	require.Empty(t, mgr.NotificationRounds(), "no offline workers to notify")

	require.NoError(t, mgr.HandleEvent(ctx, WorkerWentOnline{WorkerID: 4}))

	bs := mgr.BindingsForWorker(4)
	require.Len(t, bs, 1)
	require.Equal(t, ResourceID(20), bs[0].ResourceID)
}

func TestManager_ManualAssignAndRelease(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, mgr.RegisterWorker(ctx, Worker{ID: 5, Online: true}))
	w, ok := mgr.Worker(5)
	require.True(t, ok)
	require.Equal(t, WorkerActive, w.Status)

	require.NoError(t, mgr.HandleEvent(ctx, ManualAssignRequested{WorkerID: 5, ResourceID: 30, Primary: true}))
	err := mgr.HandleEvent(ctx, &ManualAssignRequested{WorkerID: 5, ResourceID: 30})
	require.ErrorIs(t, err, ErrAlreadyBound)

	b := mgr.BindingsForResource(30)
	require.Len(t, b, 1)
	got, ok := mgr.Binding(b[0].ID)
	require.True(t, ok)
	require.True(t, got.Active)

	err = mgr.HandleEvent(ctx, ManualReleaseRequested{WorkerID: 6, ResourceID: 30})
	require.ErrorIs(t, err, ErrAccessDenied)

	require.NoError(t, mgr.HandleEvent(ctx, ManualReleaseRequested{WorkerID: 5, ResourceID: 30}))
	require.Empty(t, mgr.ActiveBindings())
	_, ok = mgr.InactivityDeadline(5, 30)
	require.False(t, ok)

	ended, ok := mgr.Binding(b[0].ID)
	require.True(t, ok)
	require.False(t, ended.Active)
}

func TestManager_HandleEventUnknown(t *testing.T) {
	mgr, _ := newTestManager(t, nil)

	err := mgr.HandleEvent(context.Background(), nil)
	require.ErrorIs(t, err, ErrUnknownEvent)

	err = mgr.HandleEvent(context.Background(), WorkerWentOffline{WorkerID: 99})
	require.ErrorIs(t, err, ErrUnknownWorker)
}

func TestManager_WorkerOfflineKeepsBindings(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	_, err := mgr.RegisterResource(1)
	require.NoError(t, err)
	require.NoError(t, mgr.HandleEvent(ctx, WorkerWentOnline{WorkerID: 1}))
	require.NoError(t, mgr.HandleEvent(ctx, WorkerWentOnline{WorkerID: 2}))
	require.Len(t, mgr.Queue(), 1)

	require.NoError(t, mgr.HandleEvent(ctx, WorkerWentOffline{WorkerID: 1}))
	require.NoError(t, mgr.HandleEvent(ctx, WorkerWentOffline{WorkerID: 2}))

	require.Len(t, mgr.BindingsForWorker(1), 1)
	require.Empty(t, mgr.Queue())
	w, ok := mgr.Worker(1)
	require.True(t, ok)
	require.False(t, w.Online)
	require.Len(t, mgr.Workers(), 2)
}

func TestManager_ReassignAndEnqueue(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	for _, id := range []WorkerID{1, 2} {
		require.NoError(t, mgr.RegisterWorker(ctx, Worker{ID: id, Online: true}))
	}

	got, err := mgr.RouteConversation(ctx, 50, 40)
	require.NoError(t, err)
	require.Equal(t, WorkerID(1), got)

	b, err := mgr.Reassign(ctx, 40, 1, ReasonRotation)
	require.NoError(t, err)
	require.Equal(t, WorkerID(2), b.WorkerID)
	require.Equal(t, []ClientID{50}, b.ConversationIDs)

	// Rotation already requeued the freed worker; enqueueing again reports
	// its current position.
	pos, err := mgr.Enqueue(ctx, 1, -1)
	require.NoError(t, err)
	require.Equal(t, 1, pos)
	require.Len(t, mgr.Queue(), 1)
	require.Equal(t, WorkerID(1), mgr.Queue()[0].WorkerID)
}

func TestManager_AuditAndThresholds(t *testing.T) {
	mgr, _ := newTestManager(t, nil)
	ctx := context.Background()

	_, ok := mgr.LastAudit()
	require.False(t, ok)

	for _, id := range []WorkerID{1, 2} {
		require.NoError(t, mgr.HandleEvent(ctx, WorkerWentOnline{WorkerID: id}))
	}

	th := audit.DefaultThresholds()
	th.QueueLength = audit.Threshold{Warning: 1, Error: 5}
	mgr.SetAlertThresholds(th)
	require.Equal(t, th, mgr.AlertThresholds())

	ops, unsub := mgr.Subscribe(8, types.OperatorChannel)
	defer unsub()

	report, err := mgr.Audit(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.QueueLength)
	require.NotEmpty(t, report.Alerts)

	last, ok := mgr.LastAudit()
	require.True(t, ok)
	require.Equal(t, report.StartedAt, last.StartedAt)

	alerts := ofType[types.OperatorAlert](drain(ops))
	require.NotEmpty(t, alerts)

	locks, err := mgr.Locks(ctx)
	require.NoError(t, err)
	require.Empty(t, locks, "every operation releases its locks")
}

func TestManager_ScheduledAudit(t *testing.T) {
	mgr, clk := newTestManager(t, func(c *Config) { c.AuditInterval = 20 * time.Second })

	_, ok := mgr.LastAudit()
	require.False(t, ok)

	clk.Advance(20 * time.Second)
	report, ok := mgr.LastAudit()
	require.True(t, ok)
	require.Equal(t, t0.Add(20*time.Second), report.StartedAt)
}

func TestManager_RestoreFromSnapshot(t *testing.T) {
	snap := types.Snapshot{
		Workers: []Worker{
			{ID: 1, Status: WorkerActive, Online: true, LastSeenAt: t0.Add(-time.Minute)},
			{ID: 2, Status: WorkerActive, Online: true, LastSeenAt: t0.Add(-time.Minute)},
		},
		Bindings: []Binding{{
			ID:              "b-restored",
			WorkerID:        1,
			ResourceID:      5,
			Active:          true,
			Primary:         true,
			Exclusive:       true,
			CreatedAt:       t0.Add(-2 * time.Minute),
			LastActivityAt:  t0.Add(-time.Minute),
			ConversationIDs: []ClientID{9},
		}},
		Queue: []QueueEntry{{WorkerID: 2, Priority: 5, EnqueuedAt: t0.Add(-time.Minute)}},
	}

	mgr, _ := newTestManager(t, nil, WithSnapshotLoader(fakeLoader{snap: snap}))

	b, ok := mgr.Binding("b-restored")
	require.True(t, ok)
	require.Equal(t, WorkerID(1), b.WorkerID)
	require.Len(t, mgr.Workers(), 2)
	require.Len(t, mgr.Queue(), 1)

	deadline, ok := mgr.InactivityDeadline(1, 5)
	require.True(t, ok, "the first audit pass restores timers")
	require.Equal(t, t0.Add(4*time.Minute), deadline)

	report, ok := mgr.LastAudit()
	require.True(t, ok)
	require.Equal(t, 1, report.TimersRestored)
}

func TestManager_ExternalNotifier(t *testing.T) {
	rec := rotatest.NewRecordingNotifier()
	mgr, _ := newTestManager(t, nil, WithNotifier(rec))
	ctx := context.Background()

	_, err := mgr.RegisterResource(1)
	require.NoError(t, err)
	require.NoError(t, mgr.HandleEvent(ctx, WorkerWentOnline{WorkerID: 1}))

	require.Eventually(t, func() bool {
		return len(rotatest.Of[types.AssignmentChanged](rec)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, mgr.Stop(ctx))
}
