// Package timeout implements per-binding inactivity timers.
//
// Each active binding moves through
//
//	Running → Warn1 → Warn2 → WarnFinal → Expired → Handled
//
// Warning checkpoints fire once each and produce InactivityWarning
// notifications. At the deadline the binding is marked Expired, the worker
// receives InactivityTimeout and the registered Handler (the assignment
// engine) is invoked. Handler failures are retried on the clock with linear
// backoff; once attempts are exhausted an operator alert is raised and the
// entry stays Expired until the auditor re-drives it.
//
// Activity resets a binding to Running with a fresh deadline.
package timeout
