// Package store holds the assignment data model: bindings, workers, the
// resource registry and pending work.
//
// The store's mutex only protects map integrity. Cross-record invariants
// (one active binding per resource, one primary per worker) are enforced by
// the assignment engine under resource locks and repaired by the auditor, so
// the store deliberately accepts records that violate them.
//
// Every mutation is written through to an optional types.Persister after the
// in-memory change; persistence errors are logged and never rolled back.
package store

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/arloliu/rota/internal/logger"
	"github.com/arloliu/rota/types"
)

// Store is the in-memory assignment store. It is safe for concurrent use;
// reads return copies.
type Store struct {
	persister types.Persister
	logger    types.Logger

	// workerMu orders worker mutations with their write-through.
	workerMu sync.Mutex

	mu         sync.RWMutex
	bindings   map[types.BindingID]*types.Binding
	byResource map[types.ResourceID]map[types.BindingID]struct{} // active only
	byWorker   map[types.WorkerID]map[types.BindingID]struct{}   // active only
	workers    map[types.WorkerID]types.Worker
	resources  map[types.ResourceID]struct{}
	pending    map[types.ResourceID]map[types.ClientID]time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPersister enables write-through of every mutation.
func WithPersister(p types.Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(l types.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		logger:     logger.NewNop(),
		bindings:   make(map[types.BindingID]*types.Binding),
		byResource: make(map[types.ResourceID]map[types.BindingID]struct{}),
		byWorker:   make(map[types.WorkerID]map[types.BindingID]struct{}),
		workers:    make(map[types.WorkerID]types.Worker),
		resources:  make(map[types.ResourceID]struct{}),
		pending:    make(map[types.ResourceID]map[types.ClientID]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// SaveBinding inserts or replaces a binding and registers its resource.
func (s *Store) SaveBinding(ctx context.Context, b types.Binding) {
	b = b.Clone()

	s.mu.Lock()
	if prev, ok := s.bindings[b.ID]; ok {
		s.unindex(prev)
	}
	s.bindings[b.ID] = &b
	if b.Active {
		s.index(&b)
	}
	s.resources[b.ResourceID] = struct{}{}
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.SaveBinding(ctx, b); err != nil {
			s.logger.Warn("binding persist failed", "binding_id", b.ID, "error", err)
		}
	}
}

// Binding returns a binding by ID.
func (s *Store) Binding(id types.BindingID) (types.Binding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bindings[id]
	if !ok {
		return types.Binding{}, false
	}

	return b.Clone(), true
}

// ActiveForResource returns the active bindings of a resource, oldest first.
// More than one means the exclusivity invariant is violated.
func (s *Store) ActiveForResource(resource types.ResourceID) []types.Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(s.byResource[resource])
}

// ActiveForWorker returns the active bindings of a worker, oldest first.
func (s *Store) ActiveForWorker(worker types.WorkerID) []types.Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(s.byWorker[worker])
}

// ActiveCount returns how many active bindings the worker holds.
func (s *Store) ActiveCount(worker types.WorkerID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.byWorker[worker])
}

// ActiveBindings returns every active binding, oldest first.
func (s *Store) ActiveBindings() []types.Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		if b.Active {
			out = append(out, b.Clone())
		}
	}
	sortBindings(out)

	return out
}

// Bindings returns every binding, active or historical, oldest first.
func (s *Store) Bindings() []types.Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		out = append(out, b.Clone())
	}
	sortBindings(out)

	return out
}

// ActiveBindingCount returns the number of active bindings.
func (s *Store) ActiveBindingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, ids := range s.byResource {
		n += len(ids)
	}

	return n
}

func (s *Store) index(b *types.Binding) {
	if s.byResource[b.ResourceID] == nil {
		s.byResource[b.ResourceID] = make(map[types.BindingID]struct{})
	}
	s.byResource[b.ResourceID][b.ID] = struct{}{}

	if s.byWorker[b.WorkerID] == nil {
		s.byWorker[b.WorkerID] = make(map[types.BindingID]struct{})
	}
	s.byWorker[b.WorkerID][b.ID] = struct{}{}
}

func (s *Store) unindex(b *types.Binding) {
	if ids := s.byResource[b.ResourceID]; ids != nil {
		delete(ids, b.ID)
		if len(ids) == 0 {
			delete(s.byResource, b.ResourceID)
		}
	}
	if ids := s.byWorker[b.WorkerID]; ids != nil {
		delete(ids, b.ID)
		if len(ids) == 0 {
			delete(s.byWorker, b.WorkerID)
		}
	}
}

func (s *Store) collect(ids map[types.BindingID]struct{}) []types.Binding {
	out := make([]types.Binding, 0, len(ids))
	for id := range ids {
		out = append(out, s.bindings[id].Clone())
	}
	sortBindings(out)

	return out
}

func sortBindings(bs []types.Binding) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].CreatedAt.Before(bs[j].CreatedAt)
		}

		return bs[i].ID < bs[j].ID
	})
}

// SaveWorker inserts or replaces a worker record.
func (s *Store) SaveWorker(ctx context.Context, w types.Worker) {
	s.workerMu.Lock()
	defer s.workerMu.Unlock()

	s.mu.Lock()
	s.workers[w.ID] = w
	s.mu.Unlock()

	s.persistWorker(ctx, w)
}

// UpdateWorker applies fn to the stored worker record as one atomic
// read-modify-write. An unknown worker starts from types.Worker{ID: id} when
// create is set; otherwise fn is not called and ok is false. fn returns
// false to leave the record untouched.
func (s *Store) UpdateWorker(ctx context.Context, id types.WorkerID, create bool, fn func(w *types.Worker) bool) (types.Worker, bool) {
	s.workerMu.Lock()
	defer s.workerMu.Unlock()

	s.mu.Lock()
	w, ok := s.workers[id]
	if !ok && !create {
		s.mu.Unlock()
		return types.Worker{}, false
	}
	if !ok {
		w = types.Worker{ID: id}
	}
	if !fn(&w) {
		s.mu.Unlock()
		return w, true
	}
	s.workers[id] = w
	s.mu.Unlock()

	s.persistWorker(ctx, w)

	return w, true
}

func (s *Store) persistWorker(ctx context.Context, w types.Worker) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveWorker(ctx, w); err != nil {
		s.logger.Warn("worker persist failed", "worker_id", w.ID, "error", err)
	}
}

// Worker returns a worker by ID.
func (s *Store) Worker(id types.WorkerID) (types.Worker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workers[id]

	return w, ok
}

// Workers returns every known worker ordered by ID.
func (s *Store) Workers() []types.Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Collect(maps.Values(s.workers))
	slices.SortFunc(out, func(a, b types.Worker) int { return cmp.Compare(a.ID, b.ID) })

	return out
}

// RegisterResource adds a resource to the registry. It reports whether the
// resource was new.
func (s *Store) RegisterResource(id types.ResourceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resources[id]; ok {
		return false
	}
	s.resources[id] = struct{}{}

	return true
}

// Resources returns all registered resources in ascending order.
func (s *Store) Resources() []types.ResourceID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Collect(maps.Keys(s.resources))
	slices.Sort(out)

	return out
}

// FreeResources returns registered resources with no active binding,
// resources with pending work first (oldest pending first), then by ID.
func (s *Store) FreeResources() []types.ResourceID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var free []types.ResourceID
	for id := range s.resources {
		if len(s.byResource[id]) == 0 {
			free = append(free, id)
		}
	}

	oldest := func(id types.ResourceID) time.Time {
		return types.PendingWork{Clients: s.pending[id]}.Oldest()
	}
	sort.Slice(free, func(i, j int) bool {
		oi, oj := oldest(free[i]), oldest(free[j])
		switch {
		case !oi.IsZero() && oj.IsZero():
			return true
		case oi.IsZero() && !oj.IsZero():
			return false
		case !oi.Equal(oj):
			return oi.Before(oj)
		default:
			return free[i] < free[j]
		}
	})

	return free
}

// FreeCount returns the number of registered resources without an active binding.
func (s *Store) FreeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for id := range s.resources {
		if len(s.byResource[id]) == 0 {
			n++
		}
	}

	return n
}

// AddPending records an unanswered client message on a resource. The first
// arrival time per client is kept.
func (s *Store) AddPending(resource types.ResourceID, client types.ClientID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resources[resource] = struct{}{}
	clients := s.pending[resource]
	if clients == nil {
		clients = make(map[types.ClientID]time.Time)
		s.pending[resource] = clients
	}
	if _, ok := clients[client]; !ok {
		clients[client] = at
	}
}

// ClearPending removes one client's pending entry on a resource.
func (s *Store) ClearPending(resource types.ResourceID, client types.ClientID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if clients := s.pending[resource]; clients != nil {
		delete(clients, client)
		if len(clients) == 0 {
			delete(s.pending, resource)
		}
	}
}

// Pending returns the pending work of a resource.
func (s *Store) Pending(resource types.ResourceID) (types.PendingWork, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients, ok := s.pending[resource]
	if !ok {
		return types.PendingWork{}, false
	}

	return types.PendingWork{ResourceID: resource, Clients: maps.Clone(clients)}, true
}

// PendingWork returns every resource with pending work, oldest first.
func (s *Store) PendingWork() []types.PendingWork {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.PendingWork, 0, len(s.pending))
	for id, clients := range s.pending {
		out = append(out, types.PendingWork{ResourceID: id, Clients: maps.Clone(clients)})
	}
	sort.Slice(out, func(i, j int) bool {
		oi, oj := out[i].Oldest(), out[j].Oldest()
		if !oi.Equal(oj) {
			return oi.Before(oj)
		}

		return out[i].ResourceID < out[j].ResourceID
	})

	return out
}

// PendingCount returns the number of unanswered conversations across all
// resources.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, clients := range s.pending {
		n += len(clients)
	}

	return n
}

// UnattendedPendingCount returns the number of pending conversations on
// resources with no active binding.
func (s *Store) UnattendedPendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for id, clients := range s.pending {
		if len(s.byResource[id]) == 0 {
			n += len(clients)
		}
	}

	return n
}

// Restore loads a persisted snapshot without writing it back to the
// persister. Existing records with the same IDs are replaced.
func (s *Store) Restore(snap types.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range snap.Workers {
		s.workers[w.ID] = w
	}
	for _, b := range snap.Bindings {
		b = b.Clone()
		if prev, ok := s.bindings[b.ID]; ok {
			s.unindex(prev)
		}
		s.bindings[b.ID] = &b
		if b.Active {
			s.index(&b)
		}
		s.resources[b.ResourceID] = struct{}{}
	}
}
