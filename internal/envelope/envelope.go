// Package envelope defines the JSON wire format shared by inbound events and
// outbound notifications: {"meta": {...}, "data": {...}}.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrMissingType is returned when decoding an envelope without meta.type.
var ErrMissingType = errors.New("envelope meta.type is required")

// Meta carries the identity of one message.
type Meta struct {
	// Unique message ID (UUIDv4)
	ID string `json:"id"`
	// Message type, e.g. assignment.changed or message.arrived.v1
	Type string `json:"type"`
	// Emission time
	Time time.Time `json:"time"`
	// Notification channel (worker.<id>, resource.<id>, operator); empty for events
	Channel string `json:"channel,omitempty"`
	// Trace / request correlation ID
	CorrelationID string `json:"correlation_id,omitempty"`
	// Emitting service
	Producer string `json:"producer,omitempty"`
}

// Envelope is a typed payload with its metadata. Data stays raw so decoding
// can be deferred until the type is known.
type Envelope struct {
	Meta Meta            `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// New wraps data in an envelope with a fresh ID.
func New(typ string, data any, at time.Time) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}

	return Envelope{
		Meta: Meta{
			ID:   uuid.NewString(),
			Type: typ,
			Time: at.UTC(),
		},
		Data: raw,
	}, nil
}

// Marshal encodes the envelope, filling a missing correlation ID with the
// message ID.
func (e Envelope) Marshal() ([]byte, error) {
	if e.Meta.CorrelationID == "" {
		e.Meta.CorrelationID = e.Meta.ID
	}

	return json.Marshal(e)
}

// Decode parses an envelope and checks that it names a type.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if e.Meta.Type == "" {
		return Envelope{}, ErrMissingType
	}

	return e, nil
}

// DecodeData unmarshals the payload into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope %s has no data", e.Meta.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("unmarshal %s data: %w", e.Meta.Type, err)
	}

	return nil
}
