package types

import (
	"fmt"
	"strconv"
)

// WorkerID identifies a moderator. Valid IDs are positive.
type WorkerID int64

// ResourceID identifies a profile. Valid IDs are positive.
type ResourceID int64

// ClientID identifies the client side of a conversation. Valid IDs are positive.
type ClientID int64

// BindingID identifies a Binding record (ULID string).
type BindingID string

// String implements fmt.Stringer.
func (id WorkerID) String() string { return strconv.FormatInt(int64(id), 10) }

// String implements fmt.Stringer.
func (id ResourceID) String() string { return strconv.FormatInt(int64(id), 10) }

// String implements fmt.Stringer.
func (id ClientID) String() string { return strconv.FormatInt(int64(id), 10) }

// Valid reports whether the ID is a usable worker identifier.
func (id WorkerID) Valid() bool { return id > 0 }

// Valid reports whether the ID is a usable resource identifier.
func (id ResourceID) Valid() bool { return id > 0 }

// Valid reports whether the ID is a usable client identifier.
func (id ClientID) Valid() bool { return id > 0 }

// ParseClientID parses a client identifier coming from an untyped source
// (JSON payloads, persisted sets). Non-numeric and non-positive values are
// rejected with ErrInvalidClientID.
func ParseClientID(v any) (ClientID, error) {
	var n int64
	switch x := v.(type) {
	case ClientID:
		n = int64(x)
	case int:
		n = int64(x)
	case int64:
		n = x
	case float64:
		if x != float64(int64(x)) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidClientID, v)
		}
		n = int64(x)
	case string:
		parsed, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidClientID, x)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("%w: %v", ErrInvalidClientID, v)
	}

	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidClientID, n)
	}

	return ClientID(n), nil
}
