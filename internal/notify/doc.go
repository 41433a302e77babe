// Package notify provides types.Notifier implementations.
//
// The engine emits notifications synchronously; transports that may block
// (NATS, AMQP) are normally wrapped in an Async so request paths never wait
// on the network:
//
//	bus := notify.NewFanout(metrics)
//	out := notify.NewAsync(notify.Multi(bus, natsNotifier), 1024, metrics, logger)
//	out.Start()
//	defer out.Stop(ctx)
//
// Delivery is best-effort everywhere in this package. Failures are counted
// and logged but never propagate back into assignment state.
package notify
