package assignment

import (
	"context"
	"errors"
	"slices"

	"github.com/arloliu/rota/types"
)

// RepairResult counts what one repair primitive did.
type RepairResult struct {
	Repaired   int // violations fixed
	Pruned     int // invalid conversation entries removed (counter repair only)
	Unresolved int // violations left alone because the resource lock was busy
}

// RepairResourceExclusivity heals resources with more than one active
// binding. The oldest binding is kept and absorbs the conversations of the
// others, which are ended with reason duplicate.
func (e *Engine) RepairResourceExclusivity(ctx context.Context) (RepairResult, error) {
	var res RepairResult
	for _, resource := range conflicted(e.store.ActiveBindings()) {
		err := e.withResource(ctx, resource, 0, 1, func(ctx context.Context) error {
			active := e.store.ActiveForResource(resource)
			if len(active) < 2 {
				return nil
			}

			keeper := active[0]
			for _, dup := range active[1:] {
				for _, c := range dup.ConversationIDs {
					keeper.AddConversation(c)
				}
				e.endLocked(ctx, dup, types.EndDuplicate)
				res.Repaired++
				e.logger.Warn("duplicate active binding ended",
					"error", types.ErrInvariantViolation, "resource_id", resource,
					"kept_binding_id", keeper.ID, "ended_binding_id", dup.ID)
			}
			e.store.SaveBinding(ctx, keeper)
			// Ending a duplicate of the same worker cancels the shared timer.
			e.timeouts.Ensure(keeper)

			for _, dup := range active[1:] {
				if dup.WorkerID != keeper.WorkerID {
					e.requeueIdle(ctx, dup.WorkerID, e.queuePriority)
				}
			}

			return nil
		})
		if err := tally(&res, err); err != nil {
			return res, err
		}
	}

	return res, nil
}

// RepairPrimaries keeps, per worker, only the most recently assigned active
// binding as primary.
func (e *Engine) RepairPrimaries(ctx context.Context) (RepairResult, error) {
	primaries := make(map[types.WorkerID][]types.Binding)
	for _, b := range e.store.ActiveBindings() {
		if b.Primary {
			primaries[b.WorkerID] = append(primaries[b.WorkerID], b)
		}
	}

	var res RepairResult
	for _, worker := range sortedKeys(primaries) {
		bs := primaries[worker]
		if len(bs) < 2 {
			continue
		}
		// Oldest first, so the last one is kept.
		for _, b := range bs[:len(bs)-1] {
			err := e.withResource(ctx, b.ResourceID, 0, 1, func(ctx context.Context) error {
				cur, ok := e.store.Binding(b.ID)
				if !ok || !cur.Active || !cur.Primary {
					return nil
				}
				cur.Primary = false
				e.store.SaveBinding(ctx, cur)
				res.Repaired++
				e.logger.Warn("extra primary binding demoted",
					"error", types.ErrInvariantViolation, "worker_id", worker, "binding_id", cur.ID)

				return nil
			})
			if err := tally(&res, err); err != nil {
				return res, err
			}
		}
	}

	return res, nil
}

// RepairDuplicateRouting removes a client from every active binding of a
// resource except the oldest one that contains it.
func (e *Engine) RepairDuplicateRouting(ctx context.Context) (RepairResult, error) {
	var res RepairResult
	for _, resource := range conflicted(e.store.ActiveBindings()) {
		err := e.withResource(ctx, resource, 0, 1, func(ctx context.Context) error {
			seen := make(map[types.ClientID]struct{})
			for _, b := range e.store.ActiveForResource(resource) {
				// Restored or hand-written sets may be unsorted; removal searches.
				slices.Sort(b.ConversationIDs)
				removed := 0
				for _, c := range slices.Clone(b.ConversationIDs) {
					if _, dup := seen[c]; dup {
						if b.RemoveConversation(c) {
							removed++
						}
						continue
					}
					seen[c] = struct{}{}
				}
				if removed > 0 {
					e.store.SaveBinding(ctx, b)
					res.Repaired += removed
					e.logger.Warn("duplicate routing removed",
						"error", types.ErrInvariantViolation, "resource_id", resource,
						"binding_id", b.ID, "clients", removed)
				}
			}

			return nil
		})
		if err := tally(&res, err); err != nil {
			return res, err
		}
	}

	return res, nil
}

// RepairCounters normalizes conversation sets (sorted, unique, positive IDs)
// and recomputes ActiveConversationCount where it drifted.
func (e *Engine) RepairCounters(ctx context.Context) (RepairResult, error) {
	var res RepairResult
	for _, b := range e.store.ActiveBindings() {
		if !needsNormalizing(b) {
			continue
		}
		err := e.withResource(ctx, b.ResourceID, 0, 1, func(ctx context.Context) error {
			cur, ok := e.store.Binding(b.ID)
			if !ok || !cur.Active || !needsNormalizing(cur) {
				return nil
			}
			pruned, _ := cur.NormalizeConversations()
			e.store.SaveBinding(ctx, cur)
			res.Repaired++
			res.Pruned += pruned
			e.logger.Warn("conversation counter repaired",
				"error", types.ErrInvariantViolation, "binding_id", cur.ID, "pruned", pruned,
				"count", cur.ActiveConversationCount)

			return nil
		})
		if err := tally(&res, err); err != nil {
			return res, err
		}
	}

	return res, nil
}

// RehomeOrphans binds resources that have pending work but no active
// binding, preferring eligible queued workers over the selection rule.
func (e *Engine) RehomeOrphans(ctx context.Context) (RepairResult, error) {
	var res RepairResult
	for _, pw := range e.store.PendingWork() {
		if _, bound := e.activeBinding(pw.ResourceID, 0); bound {
			continue
		}

		err := e.withResource(ctx, pw.ResourceID, 0, 1, func(ctx context.Context) error {
			if _, bound := e.activeBinding(pw.ResourceID, 0); bound {
				return nil
			}

			p := assignParams{resource: pw.ResourceID, reason: types.ReasonPendingMessages}
			entry, err := e.queue.DequeueFirst(ctx, e.drainable(0))
			switch {
			case err == nil:
				p.worker = entry.WorkerID
			default:
				w, ok := e.selectWorker()
				if !ok {
					return types.ErrNoneAvailable
				}
				p.worker = w.ID
			}
			p.primary = !e.hasPrimary(p.worker)

			if _, err := e.assignLocked(ctx, p); err != nil {
				if entry.WorkerID.Valid() {
					e.requeue(ctx, entry)
				}

				return err
			}
			res.Repaired++

			return nil
		})
		if errors.Is(err, types.ErrNoneAvailable) {
			break
		}
		if err := tally(&res, err); err != nil {
			return res, err
		}
	}

	return res, nil
}

// tally counts busy locks as unresolved and passes other errors through.
func tally(res *RepairResult, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrBusy):
		res.Unresolved++
		return nil
	default:
		return err
	}
}

// conflicted returns resources with more than one active binding, ascending.
func conflicted(active []types.Binding) []types.ResourceID {
	count := make(map[types.ResourceID]int)
	for _, b := range active {
		count[b.ResourceID]++
	}

	var out []types.ResourceID
	for id, n := range count {
		if n > 1 {
			out = append(out, id)
		}
	}
	slices.Sort(out)

	return out
}

func needsNormalizing(b types.Binding) bool {
	if b.ActiveConversationCount != len(b.ConversationIDs) || !slices.IsSorted(b.ConversationIDs) {
		return true
	}
	for i, c := range b.ConversationIDs {
		if !c.Valid() || (i > 0 && b.ConversationIDs[i-1] == c) {
			return true
		}
	}

	return false
}

func sortedKeys[V any](m map[types.WorkerID]V) []types.WorkerID {
	out := make([]types.WorkerID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)

	return out
}
