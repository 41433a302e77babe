package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	rotatest "github.com/arloliu/rota/testing"
	"github.com/arloliu/rota/types"
)

type transitions struct {
	mu      sync.Mutex
	online  []types.WorkerID
	offline []types.WorkerID
}

func (tr *transitions) config() (func(context.Context, types.WorkerID), func(context.Context, types.WorkerID)) {
	return func(_ context.Context, id types.WorkerID) {
			tr.mu.Lock()
			defer tr.mu.Unlock()
			tr.online = append(tr.online, id)
		}, func(_ context.Context, id types.WorkerID) {
			tr.mu.Lock()
			defer tr.mu.Unlock()
			tr.offline = append(tr.offline, id)
		}
}

func (tr *transitions) snapshot() ([]types.WorkerID, []types.WorkerID) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	return append([]types.WorkerID(nil), tr.online...), append([]types.WorkerID(nil), tr.offline...)
}

func TestHeartbeat_StartWritesKeyAndStopDeletesIt(t *testing.T) {
	_, nc := rotatest.StartEmbeddedNATS(t)
	kv := rotatest.CreateJetStreamKV(t, nc, "presence-hb")
	ctx := context.Background()

	hb := NewHeartbeat(kv, "", 42, time.Hour, rotatest.NewTestLogger(t))
	require.NoError(t, hb.Start(ctx))
	require.ErrorIs(t, hb.Start(ctx), types.ErrAlreadyStarted)

	entry, err := kv.Get(ctx, "worker.42")
	require.NoError(t, err)
	require.Contains(t, string(entry.Value()), `"worker_id":42`)

	require.NoError(t, hb.Stop())
	_, err = kv.Get(ctx, "worker.42")
	require.Error(t, err)

	require.ErrorIs(t, hb.Stop(), types.ErrNotStarted)
}

func TestHeartbeat_RejectsInvalidWorker(t *testing.T) {
	_, nc := rotatest.StartEmbeddedNATS(t)
	kv := rotatest.CreateJetStreamKV(t, nc, "presence-invalid")

	hb := NewHeartbeat(kv, "", 0, time.Second, nil)
	require.ErrorIs(t, hb.Start(context.Background()), types.ErrInvalidWorkerID)
}

func TestMonitor_ScanDiffsOnlineSet(t *testing.T) {
	_, nc := rotatest.StartEmbeddedNATS(t)
	kv := rotatest.CreateJetStreamKV(t, nc, "presence-scan")
	ctx := context.Background()

	tr := &transitions{}
	on, off := tr.config()
	m, err := NewMonitor(&MonitorConfig{KV: kv, OnOnline: on, OnOffline: off})
	require.NoError(t, err)

	require.NoError(t, m.Scan(ctx))
	require.Empty(t, m.Online())

	_, err = kv.Put(ctx, Key(DefaultPrefix, 2), []byte("{}"))
	require.NoError(t, err)
	_, err = kv.Put(ctx, Key(DefaultPrefix, 1), []byte("{}"))
	require.NoError(t, err)
	_, err = kv.Put(ctx, "other.5", []byte("{}"))
	require.NoError(t, err)
	_, err = kv.Put(ctx, "worker.abc", []byte("{}"))
	require.NoError(t, err)

	require.NoError(t, m.Scan(ctx))
	require.Equal(t, []types.WorkerID{1, 2}, m.Online())
	require.True(t, m.IsOnline(1))

	require.NoError(t, kv.Delete(ctx, Key(DefaultPrefix, 1)))
	require.NoError(t, m.Scan(ctx))
	require.Equal(t, []types.WorkerID{2}, m.Online())

	online, offline := tr.snapshot()
	require.Equal(t, []types.WorkerID{1, 2}, online)
	require.Equal(t, []types.WorkerID{1}, offline)
}

func TestMonitor_WatcherDetectsChanges(t *testing.T) {
	_, nc := rotatest.StartEmbeddedNATS(t)
	kv := rotatest.CreateJetStreamKV(t, nc, "presence-watch")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &transitions{}
	on, off := tr.config()
	m, err := NewMonitor(&MonitorConfig{KV: kv, PollInterval: time.Hour, OnOnline: on, OnOffline: off})
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))
	defer func() { require.NoError(t, m.Stop()) }()

	hb := NewHeartbeat(kv, "", 7, time.Hour, nil)
	require.NoError(t, hb.Start(ctx))

	require.Eventually(t, func() bool { return m.IsOnline(7) }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, hb.Stop())
	require.Eventually(t, func() bool { return !m.IsOnline(7) }, 5*time.Second, 20*time.Millisecond)

	online, offline := tr.snapshot()
	require.Equal(t, []types.WorkerID{7}, online)
	require.Equal(t, []types.WorkerID{7}, offline)
}

func TestMonitor_Lifecycle(t *testing.T) {
	_, err := NewMonitor(&MonitorConfig{})
	require.Error(t, err)

	_, nc := rotatest.StartEmbeddedNATS(t)
	kv := rotatest.CreateJetStreamKV(t, nc, "presence-life")
	m, err := NewMonitor(&MonitorConfig{KV: kv})
	require.NoError(t, err)

	require.ErrorIs(t, m.Stop(), types.ErrNotStarted)
	require.NoError(t, m.Start(context.Background()))
	require.ErrorIs(t, m.Start(context.Background()), types.ErrAlreadyStarted)
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	require.ErrorIs(t, m.Start(context.Background()), types.ErrAlreadyStopped)
}
