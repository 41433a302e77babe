package notify

import (
	"context"

	"github.com/arloliu/rota/types"
)

// Nop discards every notification.
type Nop struct{}

var _ types.Notifier = Nop{}

// NewNop returns a notifier that drops everything.
func NewNop() Nop { return Nop{} }

// Notify implements types.Notifier.
func (Nop) Notify(context.Context, types.Notification) error { return nil }
