package notify

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/arloliu/rota/internal/clock"
	"github.com/arloliu/rota/internal/envelope"
	"github.com/arloliu/rota/types"
)

// DefaultExchange is the topic exchange notifications are published to.
const DefaultExchange = "rota.notifications"

// AMQPChannel is the subset of *amqp.Channel used by AMQP.
type AMQPChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPConfig configures an AMQP notifier.
type AMQPConfig struct {
	// Required dependencies
	Channel AMQPChannel

	// Optional configuration
	Exchange string      // Topic exchange (default: "rota.notifications")
	Producer string      // meta.producer and AppId
	Clock    types.Clock // Envelope timestamps (default: real clock)
}

// AMQP publishes notifications as persistent JSON envelopes. The routing key
// is the notification channel, so consumers bind with patterns such as
// "worker.*" or "operator".
type AMQP struct {
	ch       AMQPChannel
	exchange string
	producer string
	clock    types.Clock
}

var _ types.Notifier = (*AMQP)(nil)

// NewAMQP creates an AMQP notifier.
func NewAMQP(cfg AMQPConfig) (*AMQP, error) {
	if cfg.Channel == nil {
		return nil, fmt.Errorf("invalid config: %w", errors.New("the Channel is required"))
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}

	return &AMQP{
		ch:       cfg.Channel,
		exchange: cfg.Exchange,
		producer: cfg.Producer,
		clock:    cfg.Clock,
	}, nil
}

// Notify implements types.Notifier.
func (p *AMQP) Notify(ctx context.Context, n types.Notification) error {
	env, err := envelope.New(string(n.Kind()), n, p.clock.Now())
	if err != nil {
		return err
	}
	env.Meta.Channel = n.Channel()
	env.Meta.Producer = p.producer
	env.Meta.CorrelationID = env.Meta.ID

	body, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, n.Channel(), false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.ID,
		Type:          env.Meta.Type,
		Timestamp:     env.Meta.Time,
		AppId:         p.producer,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", n.Kind(), err)
	}

	return nil
}

// AMQPConnection owns a dialed connection and the channel notifications are
// published on.
type AMQPConnection struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// DialAMQP connects to url, opens a channel and declares exchange as a
// durable topic exchange.
func DialAMQP(url, exchange string) (*AMQPConnection, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPConnection{conn: conn, ch: ch}, nil
}

// Channel returns the publishing channel.
func (c *AMQPConnection) Channel() *amqp.Channel {
	return c.ch
}

// Close closes the channel and the connection.
func (c *AMQPConnection) Close() error {
	return errors.Join(c.ch.Close(), c.conn.Close())
}
