package types

import (
	"context"
	"fmt"
	"time"
)

// LockSubject is the kind of entity a lock protects.
type LockSubject string

const (
	LockSubjectResource     LockSubject = "resource"
	LockSubjectConversation LockSubject = "conversation"
)

// LockKey identifies a lock subject.
type LockKey struct {
	Subject    LockSubject
	ResourceID ResourceID
	ClientID   ClientID
}

// ResourceLockKey returns the key serializing all mutations of one resource.
func ResourceLockKey(resource ResourceID) LockKey {
	return LockKey{Subject: LockSubjectResource, ResourceID: resource}
}

// ConversationLockKey returns the key serializing routing of one conversation.
func ConversationLockKey(client ClientID, resource ResourceID) LockKey {
	return LockKey{Subject: LockSubjectConversation, ResourceID: resource, ClientID: client}
}

// String renders the key in a form valid for NATS KV keys.
func (k LockKey) String() string {
	if k.Subject == LockSubjectConversation {
		return fmt.Sprintf("conversation.%d.%d", k.ClientID, k.ResourceID)
	}

	return fmt.Sprintf("resource.%d", k.ResourceID)
}

// Lock is a held mutual-exclusion token over a subject key.
type Lock struct {
	Key       string    `json:"key"`
	Holder    string    `json:"holder"`
	Token     string    `json:"token"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Expired reports whether the lock is past its TTL. Locks without an expiry
// never expire on their own.
func (l Lock) Expired(now time.Time) bool {
	return !l.ExpiresAt.IsZero() && !now.Before(l.ExpiresAt)
}

// LockBackend is the atomic key-value store behind the Lock Manager. An
// in-memory sharded map and a NATS JetStream KV bucket are interchangeable.
//
// Acquire must be a single check-and-set that never blocks: a held and
// unexpired key yields ErrBusy, an expired one may be taken over.
//
// Release reports whether it deleted the entry stored under token; a missing,
// reaped or taken-over entry yields false with a nil error.
type LockBackend interface {
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (Lock, error)
	Release(ctx context.Context, key, token string) (bool, error)
	Get(ctx context.Context, key string) (Lock, bool, error)
	ReapExpired(ctx context.Context) ([]Lock, error)
	List(ctx context.Context) ([]Lock, error)
}
