package rota

import (
	"context"
	"errors"
	"fmt"

	"github.com/arloliu/rota/internal/events"
	"github.com/arloliu/rota/types"
)

var _ events.Handler = (*Manager)(nil)

// HandleEvent dispatches an inbound event to its typed handler. It is the
// events.Handler of the JetStream consumer; a transient error (ErrBusy or a
// connectivity failure) asks for redelivery.
//
// Returns:
//   - error: the handler error, or ErrUnknownEvent
func (m *Manager) HandleEvent(ctx context.Context, ev Event) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	switch e := ev.(type) {
	case MessageArrived:
		return m.HandleMessage(ctx, e)
	case *MessageArrived:
		return m.HandleMessage(ctx, *e)
	case WorkerWentOnline:
		return m.HandleWorkerOnline(ctx, e)
	case *WorkerWentOnline:
		return m.HandleWorkerOnline(ctx, *e)
	case WorkerWentOffline:
		return m.HandleWorkerOffline(ctx, e)
	case *WorkerWentOffline:
		return m.HandleWorkerOffline(ctx, *e)
	case ManualReleaseRequested:
		return m.HandleManualRelease(ctx, e)
	case *ManualReleaseRequested:
		return m.HandleManualRelease(ctx, *e)
	case ManualAssignRequested:
		return m.HandleManualAssign(ctx, e)
	case *ManualAssignRequested:
		return m.HandleManualAssign(ctx, *e)
	case ActivityRecorded:
		return m.HandleActivity(ctx, e)
	case *ActivityRecorded:
		return m.HandleActivity(ctx, *e)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, ev)
	}
}

// HandleMessage routes a client message to its worker, or records a worker
// reply.
//
// A client message with no eligible worker is not an error: it stays as
// pending work, and the escalation policy is consulted. A worker reply resets
// the binding's inactivity timer and clears the client's pending message.
func (m *Manager) HandleMessage(ctx context.Context, ev MessageArrived) error {
	if !ev.IsFromClient {
		if !ev.WorkerID.Valid() {
			return fmt.Errorf("%w: reply without worker id", ErrInvalidWorkerID)
		}

		return m.engine.RecordReply(ctx, ev.WorkerID, ev.ResourceID, ev.ClientID, m.now(ev.SentAt))
	}

	worker, err := m.engine.RouteConversation(ctx, ev.ClientID, ev.ResourceID)
	switch {
	case err == nil:
		m.logger.Debug("message routed", "client_id", ev.ClientID, "resource_id", ev.ResourceID, "worker_id", worker)
		return nil
	case errors.Is(err, types.ErrNoneAvailable):
		m.logger.Info("message pending, no eligible worker", "client_id", ev.ClientID, "resource_id", ev.ResourceID)
		if m.escalator != nil {
			m.escalator.Check(ctx)
		}

		return nil
	default:
		return err
	}
}

// HandleWorkerOnline marks the worker online and gives it a free resource,
// pending work first, or a queue slot.
func (m *Manager) HandleWorkerOnline(ctx context.Context, ev WorkerWentOnline) error {
	if err := m.engine.MarkOnline(ctx, ev.WorkerID); err != nil {
		return err
	}

	b, bound, err := m.engine.ClaimFreeResource(ctx, ev.WorkerID)
	if err != nil {
		return fmt.Errorf("claim for worker %d: %w", ev.WorkerID, err)
	}
	if bound {
		m.logger.Debug("online worker bound", "worker_id", ev.WorkerID, "resource_id", b.ResourceID)
	}

	return nil
}

// HandleWorkerOffline marks the worker offline and removes it from the
// queue. Its bindings stay until their inactivity timers expire.
func (m *Manager) HandleWorkerOffline(ctx context.Context, ev WorkerWentOffline) error {
	return m.engine.MarkOffline(ctx, ev.WorkerID)
}

// HandleManualRelease ends the worker's binding on the resource.
func (m *Manager) HandleManualRelease(ctx context.Context, ev ManualReleaseRequested) error {
	return m.engine.Release(ctx, ev.WorkerID, ev.ResourceID)
}

// HandleManualAssign binds the resource to the worker.
func (m *Manager) HandleManualAssign(ctx context.Context, ev ManualAssignRequested) error {
	_, err := m.engine.Assign(ctx, ev.WorkerID, ev.ResourceID, ev.Primary)

	return err
}

// HandleActivity records typing, heartbeat or message activity on the
// worker's binding.
func (m *Manager) HandleActivity(ctx context.Context, ev ActivityRecorded) error {
	kind := ev.Kind
	if kind == "" {
		kind = types.ActivityHeartbeat
	}

	return m.engine.RecordActivity(ctx, ev.WorkerID, ev.ResourceID, kind, m.now(ev.At))
}
