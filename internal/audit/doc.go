// Package audit implements the reconciliation auditor.
//
// An Auditor pass checks the assignment state against its invariants and
// repairs what it finds, in a fixed order:
//
//  1. resource exclusivity (one active binding per resource, oldest kept)
//  2. primary uniqueness (newest primary per worker kept)
//  3. duplicate routing (a client stays on the oldest binding)
//  4. conversation counters
//  5. timeout sweep: expired but unhandled bindings are re-driven and active
//     bindings without a timer get one
//  6. orphaned pending work is re-homed, the queue drained, old bindings
//     rotated and the escalation policy checked
//  7. expired locks are reaped
//  8. queue length, active locks and unresolved conflicts are compared with
//     their alert thresholds
//
// Passes run on a fixed interval once Start is called and on demand through
// Run. Two passes never overlap; a Run while another pass is in flight
// returns types.ErrAuditRunning.
package audit
