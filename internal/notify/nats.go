package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/arloliu/rota/internal/clock"
	"github.com/arloliu/rota/internal/envelope"
	"github.com/arloliu/rota/types"
)

// DefaultSubjectPrefix is prepended to the notification channel to form the
// NATS subject (rota.notify.worker.7).
const DefaultSubjectPrefix = "rota.notify"

// HeaderKind carries the notification kind on NATS messages so subscribers
// can filter without decoding the body.
const HeaderKind = "Rota-Kind"

// MsgPublisher is the subset of *nats.Conn used by NATS.
type MsgPublisher interface {
	PublishMsg(m *nats.Msg) error
}

// NATSConfig configures a NATS notifier.
type NATSConfig struct {
	// Required dependencies
	Conn MsgPublisher

	// Optional configuration
	Prefix   string      // Subject prefix (default: "rota.notify")
	Producer string      // meta.producer value
	Clock    types.Clock // Envelope timestamps (default: real clock)
}

// NATS publishes every notification as a JSON envelope on
// <prefix>.<channel>.
type NATS struct {
	conn     MsgPublisher
	prefix   string
	producer string
	clock    types.Clock
}

var _ types.Notifier = (*NATS)(nil)

// NewNATS creates a NATS notifier.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	if cfg.Conn == nil {
		return nil, fmt.Errorf("invalid config: %w", errors.New("the Conn is required"))
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultSubjectPrefix
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}

	return &NATS{
		conn:     cfg.Conn,
		prefix:   cfg.Prefix,
		producer: cfg.Producer,
		clock:    cfg.Clock,
	}, nil
}

// Subject returns the subject a notification is published on.
func (p *NATS) Subject(n types.Notification) string {
	return p.prefix + "." + n.Channel()
}

// Notify implements types.Notifier.
func (p *NATS) Notify(_ context.Context, n types.Notification) error {
	body, err := encode(n, p.producer, p.clock)
	if err != nil {
		return err
	}

	msg := nats.NewMsg(p.Subject(n))
	msg.Header.Set(HeaderKind, string(n.Kind()))
	msg.Data = body

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}

	return nil
}

func encode(n types.Notification, producer string, clk types.Clock) ([]byte, error) {
	env, err := envelope.New(string(n.Kind()), n, clk.Now())
	if err != nil {
		return nil, err
	}
	env.Meta.Channel = n.Channel()
	env.Meta.Producer = producer

	return env.Marshal()
}
