// Package ids generates binding identifiers, lock tokens and checkpoint IDs.
package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/xid"

	"github.com/arloliu/rota/types"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewBindingID returns a lexicographically sortable binding identifier whose
// timestamp component is at.
func NewBindingID(at time.Time) types.BindingID {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return types.BindingID(ulid.MustNew(ulid.Timestamp(at), entropy).String())
}

// NewToken returns a compact globally unique token for lock ownership.
func NewToken() string {
	return xid.New().String()
}

// NewCheckpointID returns an identifier for one warning checkpoint.
func NewCheckpointID() string {
	return xid.New().String()
}
