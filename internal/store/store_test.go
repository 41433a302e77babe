package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/rota/types"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func binding(id string, worker types.WorkerID, resource types.ResourceID, created time.Time) types.Binding {
	return types.Binding{
		ID:         types.BindingID(id),
		WorkerID:   worker,
		ResourceID: resource,
		Active:     true,
		CreatedAt:  created,
	}
}

func TestStore_ActiveIndexes(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.SaveBinding(ctx, binding("b", 1, 10, t0.Add(time.Second)))
	s.SaveBinding(ctx, binding("a", 2, 10, t0))
	s.SaveBinding(ctx, binding("c", 1, 11, t0))

	active := s.ActiveForResource(10)
	require.Len(t, active, 2, "the store keeps violating records for the auditor")
	require.Equal(t, types.BindingID("a"), active[0].ID, "oldest first")

	require.Equal(t, 2, s.ActiveCount(1))
	require.Equal(t, 3, s.ActiveBindingCount())

	ended, ok := s.Binding("b")
	require.True(t, ok)
	ended.Active = false
	s.SaveBinding(ctx, ended)

	require.Len(t, s.ActiveForResource(10), 1)
	require.Equal(t, 1, s.ActiveCount(1))
	require.Len(t, s.Bindings(), 3, "history is kept")
}

func TestStore_ReadsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	b := binding("a", 1, 10, t0)
	b.AddConversation(5)
	s.SaveBinding(ctx, b)

	got, _ := s.Binding("a")
	got.AddConversation(6)

	again, _ := s.Binding("a")
	require.Equal(t, []types.ClientID{5}, again.ConversationIDs)
}

func TestStore_FreeResourcesPendingFirst(t *testing.T) {
	s := New()
	ctx := context.Background()

	for _, r := range []types.ResourceID{1, 2, 3, 4} {
		s.RegisterResource(r)
	}
	require.False(t, s.RegisterResource(1))

	s.SaveBinding(ctx, binding("a", 1, 1, t0))
	s.AddPending(4, 100, t0.Add(time.Minute))
	s.AddPending(3, 101, t0.Add(2*time.Minute))

	require.Equal(t, []types.ResourceID{4, 3, 2}, s.FreeResources())
	require.Equal(t, 3, s.FreeCount())
}

func TestStore_PendingWork(t *testing.T) {
	s := New()

	s.AddPending(7, 1, t0.Add(time.Minute))
	s.AddPending(7, 1, t0.Add(time.Hour))
	s.AddPending(7, 2, t0)
	s.AddPending(8, 3, t0.Add(time.Second))

	pw, ok := s.Pending(7)
	require.True(t, ok)
	require.Equal(t, t0.Add(time.Minute), pw.Clients[1], "first arrival is kept")
	require.Equal(t, t0, pw.Oldest())
	require.Equal(t, 3, s.PendingCount())

	all := s.PendingWork()
	require.Len(t, all, 2)
	require.Equal(t, types.ResourceID(7), all[0].ResourceID)

	s.ClearPending(7, 1)
	s.ClearPending(7, 2)
	_, ok = s.Pending(7)
	require.False(t, ok)

	s.SaveBinding(context.Background(), binding("x", 1, 8, t0))
	require.Zero(t, s.UnattendedPendingCount())
	require.Equal(t, 1, s.PendingCount())
}

type failingPersister struct {
	types.Persister
	calls int
}

func (f *failingPersister) SaveBinding(context.Context, types.Binding) error {
	f.calls++
	return errors.New("db down")
}

func (f *failingPersister) SaveWorker(context.Context, types.Worker) error {
	f.calls++
	return nil
}

func TestStore_WriteThroughIsBestEffort(t *testing.T) {
	p := &failingPersister{}
	s := New(WithPersister(p))
	ctx := context.Background()

	s.SaveBinding(ctx, binding("a", 1, 10, t0))
	s.SaveWorker(ctx, types.Worker{ID: 1, Online: true, Status: types.WorkerActive})

	require.Equal(t, 2, p.calls)
	_, ok := s.Binding("a")
	require.True(t, ok, "a persistence failure does not roll back the mutation")

	w, ok := s.Worker(1)
	require.True(t, ok)
	require.True(t, w.Online)
	require.Len(t, s.Workers(), 1)
}

func TestStore_UpdateWorker(t *testing.T) {
	p := &failingPersister{}
	s := New(WithPersister(p))
	ctx := context.Background()

	_, ok := s.UpdateWorker(ctx, 1, false, func(*types.Worker) bool {
		t.Fatal("fn must not run for an unknown worker without create")
		return true
	})
	require.False(t, ok)
	require.Empty(t, s.Workers())

	w, ok := s.UpdateWorker(ctx, 1, true, func(w *types.Worker) bool {
		w.Online = true
		return true
	})
	require.True(t, ok)
	require.Equal(t, types.WorkerID(1), w.ID)
	require.True(t, w.Online)
	require.Equal(t, 1, p.calls)

	_, ok = s.UpdateWorker(ctx, 1, false, func(*types.Worker) bool { return false })
	require.True(t, ok)
	require.Equal(t, 1, p.calls, "an unchanged record is not written through")
}

func TestStore_UpdateWorkerIsAtomic(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.SaveWorker(ctx, types.Worker{ID: 1, Status: types.WorkerActive})

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.UpdateWorker(ctx, 1, false, func(w *types.Worker) bool {
				w.LastSeenAt = w.LastSeenAt.Add(time.Second)
				return true
			})
		}()
	}
	wg.Wait()

	w, _ := s.Worker(1)
	require.Equal(t, time.Time{}.Add(50*time.Second), w.LastSeenAt, "no increment is lost")
}

func TestStore_RestoreSkipsWriteThrough(t *testing.T) {
	p := &failingPersister{}
	s := New(WithPersister(p))

	s.Restore(types.Snapshot{
		Bindings: []types.Binding{binding("a", 1, 10, t0), binding("b", 2, 11, t0)},
		Workers:  []types.Worker{{ID: 1, Status: types.WorkerActive}, {ID: 2, Status: types.WorkerActive}},
	})

	require.Zero(t, p.calls)
	require.Equal(t, 2, s.ActiveBindingCount())
	require.Len(t, s.Workers(), 2)
	require.ElementsMatch(t, []types.ResourceID{10, 11}, s.Resources())
}
