package types

import "time"

// AuditReport summarizes one reconciliation pass.
type AuditReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	DuplicateBindings  int `json:"duplicate_bindings"`
	PrimariesDemoted   int `json:"primaries_demoted"`
	RoutesDeduplicated int `json:"routes_deduplicated"`
	CountersRepaired   int `json:"counters_repaired"`
	EntriesPruned      int `json:"entries_pruned"`
	ExpiredHandled     int `json:"expired_handled"`
	TimersRestored     int `json:"timers_restored"`
	OrphansRehomed     int `json:"orphans_rehomed"`
	QueueDrained       int `json:"queue_drained"`
	Rotated            int `json:"rotated"`
	LocksReaped        int `json:"locks_reaped"`

	// Unresolved counts conflicts a repair step could not fix this pass
	// (typically because the resource lock was busy).
	Unresolved int `json:"unresolved"`

	QueueLength int             `json:"queue_length"`
	ActiveLocks int             `json:"active_locks"`
	Alerts      []OperatorAlert `json:"alerts,omitempty"`
}

// Repairs returns the total number of invariant repairs in the pass.
func (r AuditReport) Repairs() int {
	return r.DuplicateBindings + r.PrimariesDemoted + r.RoutesDeduplicated + r.CountersRepaired
}
