// Package rota assigns a pool of workers (moderators) to a pool of
// exclusively held resources (profiles), routes client conversations to the
// worker holding the resource, and takes resources back from workers that go
// idle.
//
// # Quick Start
//
// In-process usage with default settings:
//
//	import "github.com/arloliu/rota"
//
//	cfg := rota.DefaultConfig()
//	mgr, err := rota.NewManager(&cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := mgr.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer mgr.Stop(context.Background())
//
//	_ = mgr.HandleEvent(ctx, rota.WorkerWentOnline{WorkerID: 7})
//	_ = mgr.HandleEvent(ctx, rota.MessageArrived{ClientID: 42, ResourceID: 3, IsFromClient: true})
//
// # Key Features
//
//   - Exclusive resources: at most one active binding per resource, enforced
//     by short-lived locks
//   - Inactivity handling: staged warnings, then reassignment to the
//     least-loaded eligible worker with the conversations carried over
//   - Waiting queue: workers without a resource get a position and an
//     estimated wait instead of an error
//   - Reconciliation: a periodic audit repairs duplicate bindings, extra
//     primaries, duplicated routing and drifting counters, re-drives expired
//     timers and raises operator alerts
//   - Escalation: notification rounds to offline workers when unattended work
//     piles up
//
// # Architecture
//
// Every inbound event goes through the assignment engine:
//
//	events → Manager.HandleEvent → Engine ─┬─ Lock Manager   (resource/conversation locks)
//	                                       ├─ Queue Manager  (waiting workers)
//	                                       ├─ Timeout Manager (inactivity timers)
//	                                       └─ Store          (bindings, workers, pending work)
//
// The auditor runs on its own schedule against the same components.
// Notifications leave through in-process subscribers (Manager.Subscribe) and
// any external Notifier given with WithNotifier.
//
// # Distributed Usage
//
// With WithNATS, locks can live in a JetStream KV bucket shared by replicas,
// worker presence is read from a KV bucket that gateways refresh, and events
// are consumed from a JetStream stream:
//
//	cfg := rota.DefaultConfig()
//	cfg.Locks.Backend = rota.LockBackendKV
//	cfg.Events.Enabled = true
//	cfg.Notify.NATSPrefix = "rota.notify"
//
//	mgr, err := rota.NewManager(&cfg, rota.WithNATS(nc), rota.WithPersister(store))
//
// The rotad command wires all of this together.
package rota
