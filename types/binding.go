package types

import (
	"slices"
	"time"
)

// AssignmentReason explains why a binding was created.
type AssignmentReason string

const (
	// ReasonNewAssignment is a fresh match of a worker to a free resource.
	ReasonNewAssignment AssignmentReason = "new_assignment"

	// ReasonInactivity is a reassignment after the previous holder idled out.
	ReasonInactivity AssignmentReason = "inactivity"

	// ReasonPendingMessages is a queued worker drained into a resource with unread work.
	ReasonPendingMessages AssignmentReason = "pending_messages"

	// ReasonRotation is a periodic rotation of a long-held resource.
	ReasonRotation AssignmentReason = "rotation"
)

// EndReason explains why a binding was deactivated.
type EndReason string

const (
	EndInactivity EndReason = "inactivity"
	EndRotation   EndReason = "rotation"
	EndReleased   EndReason = "released"
	EndReassigned EndReason = "reassigned"
	EndDuplicate  EndReason = "duplicate"
)

// Binding is the active or historical relationship between a worker and a
// resource.
//
// Invariants maintained by the assignment engine and repaired by the auditor:
//   - at most one Active binding per ResourceID
//   - at most one Active && Primary binding per WorkerID
//   - ConversationIDs holds unique positive client IDs, sorted ascending
//   - ActiveConversationCount == len(ConversationIDs)
type Binding struct {
	ID         BindingID  `json:"id"`
	WorkerID   WorkerID   `json:"worker_id"`
	ResourceID ResourceID `json:"resource_id"`
	Active     bool       `json:"active"`
	Primary    bool       `json:"primary"`
	Exclusive  bool       `json:"exclusive"`

	CreatedAt         time.Time `json:"created_at"`
	EndedAt           time.Time `json:"ended_at,omitzero"`
	EndReason         EndReason `json:"end_reason,omitempty"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	LastMessageSentAt time.Time `json:"last_message_sent_at,omitzero"`
	LastTypingAt      time.Time `json:"last_typing_at,omitzero"`

	ConversationIDs         []ClientID `json:"conversation_ids"`
	ActiveConversationCount int        `json:"active_conversation_count"`
}

// Clone returns a deep copy so callers never share the conversation slice
// with the store.
func (b Binding) Clone() Binding {
	b.ConversationIDs = slices.Clone(b.ConversationIDs)
	return b
}

// HasConversation reports whether the client is routed to this binding.
func (b *Binding) HasConversation(client ClientID) bool {
	_, found := slices.BinarySearch(b.ConversationIDs, client)
	return found
}

// AddConversation inserts the client with set semantics.
// It returns false when the client was already present.
func (b *Binding) AddConversation(client ClientID) bool {
	idx, found := slices.BinarySearch(b.ConversationIDs, client)
	if found {
		return false
	}
	b.ConversationIDs = slices.Insert(b.ConversationIDs, idx, client)
	b.ActiveConversationCount = len(b.ConversationIDs)

	return true
}

// RemoveConversation removes the client; it returns false when absent.
func (b *Binding) RemoveConversation(client ClientID) bool {
	idx, found := slices.BinarySearch(b.ConversationIDs, client)
	if !found {
		return false
	}
	b.ConversationIDs = slices.Delete(b.ConversationIDs, idx, idx+1)
	b.ActiveConversationCount = len(b.ConversationIDs)

	return true
}

// NormalizeConversations sorts and dedupes the conversation set, drops
// non-positive IDs and fixes the counter. It returns how many entries were
// pruned and whether the counter had drifted.
func (b *Binding) NormalizeConversations() (pruned int, counterDrift bool) {
	counterDrift = b.ActiveConversationCount != len(b.ConversationIDs)

	cleaned := make([]ClientID, 0, len(b.ConversationIDs))
	for _, id := range b.ConversationIDs {
		if !id.Valid() {
			pruned++
			continue
		}
		cleaned = append(cleaned, id)
	}
	slices.Sort(cleaned)
	before := len(cleaned)
	cleaned = slices.Compact(cleaned)
	pruned += before - len(cleaned)

	b.ConversationIDs = cleaned
	if b.ActiveConversationCount != len(cleaned) {
		counterDrift = true
	}
	b.ActiveConversationCount = len(cleaned)

	return pruned, counterDrift
}

// Duration returns how long the binding was (or has been) held.
func (b Binding) Duration(now time.Time) time.Duration {
	end := b.EndedAt
	if end.IsZero() {
		end = now
	}

	return end.Sub(b.CreatedAt)
}
