package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/rota/internal/envelope"
	"github.com/arloliu/rota/types"
)

// DefaultPrefix is the subject prefix of inbound events.
const DefaultPrefix = "rota.events"

// ErrUnknownType is returned for envelopes whose meta.type names no event.
var ErrUnknownType = errors.New("unknown event type")

var subjects = map[types.EventType]string{
	types.EventMessageArrived:         "message",
	types.EventWorkerWentOnline:       "worker.online",
	types.EventWorkerWentOffline:      "worker.offline",
	types.EventManualReleaseRequested: "manual.release",
	types.EventManualAssignRequested:  "manual.assign",
	types.EventActivityRecorded:       "activity",
}

// Subject returns the subject an event type is published on.
func Subject(prefix string, typ types.EventType) string {
	suffix, ok := subjects[typ]
	if !ok {
		suffix = strings.ReplaceAll(string(typ), ".", "_")
	}

	return prefix + "." + suffix
}

// Decode turns an envelope into the typed event named by its meta.type.
func Decode(env envelope.Envelope) (types.Event, error) {
	switch types.EventType(env.Meta.Type) {
	case types.EventMessageArrived:
		return decodeAs[types.MessageArrived](env)
	case types.EventWorkerWentOnline:
		return decodeAs[types.WorkerWentOnline](env)
	case types.EventWorkerWentOffline:
		return decodeAs[types.WorkerWentOffline](env)
	case types.EventManualReleaseRequested:
		return decodeAs[types.ManualReleaseRequested](env)
	case types.EventManualAssignRequested:
		return decodeAs[types.ManualAssignRequested](env)
	case types.EventActivityRecorded:
		return decodeAs[types.ActivityRecorded](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Meta.Type)
	}
}

func decodeAs[T types.Event](env envelope.Envelope) (types.Event, error) {
	var ev T
	if err := env.DecodeData(&ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Meta.Type, err)
	}

	return ev, nil
}

// shardKey groups events that must be handled in order.
func shardKey(ev types.Event) string {
	switch e := ev.(type) {
	case types.MessageArrived:
		return "resource." + e.ResourceID.String()
	case types.ManualReleaseRequested:
		return "resource." + e.ResourceID.String()
	case types.ManualAssignRequested:
		return "resource." + e.ResourceID.String()
	case types.ActivityRecorded:
		return "resource." + e.ResourceID.String()
	case types.WorkerWentOnline:
		return "worker." + e.WorkerID.String()
	case types.WorkerWentOffline:
		return "worker." + e.WorkerID.String()
	default:
		return string(ev.EventType())
	}
}

// Publisher publishes events as envelopes. The envelope ID doubles as the
// JetStream message ID so the stream drops duplicate publishes.
type Publisher struct {
	js       jetstream.JetStream
	prefix   string
	producer string
	clock    types.Clock
}

// NewPublisher creates a publisher. An empty prefix means DefaultPrefix.
func NewPublisher(js jetstream.JetStream, prefix, producer string, clk types.Clock) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Publisher{js: js, prefix: prefix, producer: producer, clock: clk}
}

// Publish sends ev and waits for the stream acknowledgement.
func (p *Publisher) Publish(ctx context.Context, ev types.Event) error {
	env, err := envelope.New(string(ev.EventType()), ev, p.clock.Now())
	if err != nil {
		return err
	}
	env.Meta.Producer = p.producer

	data, err := env.Marshal()
	if err != nil {
		return err
	}

	subject := Subject(p.prefix, ev.EventType())
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(env.Meta.ID)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	return nil
}
