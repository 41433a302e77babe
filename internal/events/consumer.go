package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zeebo/xxh3"

	"github.com/arloliu/rota/internal/envelope"
	"github.com/arloliu/rota/internal/logger"
	"github.com/arloliu/rota/types"
)

// Default consumer settings.
const (
	DefaultDurable      = "rota-engine"
	DefaultConcurrency  = 8
	DefaultBatchSize    = 16
	DefaultFetchTimeout = 5 * time.Second
	DefaultAckWait      = 30 * time.Second
	DefaultMaxDeliver   = 5
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = 100 * time.Millisecond
	DefaultMaxBackoff   = 5 * time.Second
)

// Handler handles one decoded event.
type Handler interface {
	HandleEvent(ctx context.Context, ev types.Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev types.Event) error

// HandleEvent implements Handler.
func (f HandlerFunc) HandleEvent(ctx context.Context, ev types.Event) error { return f(ctx, ev) }

// Config holds Consumer configuration.
type Config struct {
	// Required
	JetStream jetstream.JetStream
	Stream    string

	// Optional configuration
	Prefix       string        // Subject prefix (default: "rota.events")
	Durable      string        // Durable consumer name (default: "rota-engine")
	Concurrency  int           // Handler goroutines (default: 8)
	BatchSize    int           // Messages per pull (default: 16)
	FetchTimeout time.Duration // Pull expiry (default: 5s)
	AckWait      time.Duration // Redelivery deadline (default: 30s)
	MaxDeliver   int           // Delivery attempts per message (default: 5)
	MaxRetries   int           // Consumer create attempts (default: 3)
	RetryBackoff time.Duration // Base delay for retries and NAK delays (default: 100ms)
	MaxBackoff   time.Duration // Cap of the NAK delay (default: 5s)

	Logger types.Logger
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.JetStream == nil {
		return errors.New("the JetStream context is required")
	}
	if c.Stream == "" {
		return errors.New("the Stream name is required")
	}
	if c.Concurrency < 0 || c.BatchSize < 0 || c.MaxDeliver < 0 || c.MaxRetries < 0 {
		return errors.New("consumer limits must not be negative")
	}

	return nil
}

// SetDefaults applies default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.Durable == "" {
		c.Durable = DefaultDurable
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.AckWait == 0 {
		c.AckWait = DefaultAckWait
	}
	if c.MaxDeliver == 0 {
		c.MaxDeliver = DefaultMaxDeliver
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = DefaultRetryBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.Logger == nil {
		c.Logger = logger.NewNop()
	}
}

type delivery struct {
	msg jetstream.Msg
	ev  types.Event
}

// Consumer pulls events from a JetStream stream and dispatches them to a
// Handler through a sharded worker pool.
type Consumer struct {
	cfg     Config
	handler Handler
	logger  types.Logger

	mu       sync.Mutex
	started  bool
	consumer jetstream.Consumer
	cancel   context.CancelFunc
	shards   []chan delivery
	wg       sync.WaitGroup
}

// NewConsumer creates a consumer with validated configuration.
func NewConsumer(cfg *Config, handler Handler) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if handler == nil {
		return nil, errors.New("event handler is required")
	}
	cfg.SetDefaults()

	return &Consumer{cfg: *cfg, handler: handler, logger: cfg.Logger}, nil
}

// Durable returns the sanitized durable consumer name.
func (c *Consumer) Durable() string {
	return sanitizeConsumerName(c.cfg.Durable)
}

// Start creates or updates the durable consumer and starts the pull loop
// and worker pool.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return types.ErrAlreadyStarted
	}

	durable := c.Durable()
	cfg := jetstream.ConsumerConfig{
		Name:          durable,
		Durable:       durable,
		FilterSubject: c.cfg.Prefix + ".>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       c.cfg.AckWait,
		MaxDeliver:    c.cfg.MaxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}

	var (
		cons    jetstream.Consumer
		lastErr error
	)
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		cons, lastErr = c.cfg.JetStream.CreateOrUpdateConsumer(ctx, c.cfg.Stream, cfg)
		if lastErr == nil {
			break
		}
		if attempt >= c.cfg.MaxRetries {
			return fmt.Errorf("create consumer %s after %d attempts: %w", durable, c.cfg.MaxRetries+1, lastErr)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryBackoff):
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.consumer = cons
	c.cancel = cancel
	c.shards = make([]chan delivery, c.cfg.Concurrency)
	for i := range c.shards {
		c.shards[i] = make(chan delivery, c.cfg.BatchSize)
		c.wg.Add(1)
		go c.work(runCtx, c.shards[i])
	}
	c.wg.Add(1)
	go c.pull(runCtx)
	c.started = true

	c.logger.Info("event consumer started",
		"stream", c.cfg.Stream, "durable", durable, "prefix", c.cfg.Prefix, "concurrency", c.cfg.Concurrency)

	return nil
}

// Stop cancels the pull loop and waits for in-flight handlers, or until ctx
// is done. Unacknowledged messages are redelivered after AckWait.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return types.ErrNotStarted
	}
	c.started = false
	c.cancel()
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("event consumer stopped")
		return nil
	case <-ctx.Done():
		c.logger.Warn("event consumer stop timed out")
		return ctx.Err()
	}
}

// pull reads messages and routes each decoded event to its shard.
func (c *Consumer) pull(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		for _, ch := range c.shards {
			close(ch)
		}
	}()

	for {
		iter, err := c.consumer.Messages(
			jetstream.PullMaxMessages(c.cfg.BatchSize),
			jetstream.PullExpiry(c.cfg.FetchTimeout),
			jetstream.PullHeartbeat(c.cfg.FetchTimeout/2),
		)
		if err != nil {
			c.logger.Error("failed to create message iterator", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.RetryBackoff):
				continue
			}
		}

		stop := context.AfterFunc(ctx, iter.Stop)
		c.drain(ctx, iter)
		stop()
		iter.Stop()

		if ctx.Err() != nil {
			return
		}
	}
}

// drain dispatches messages until the iterator fails or ctx is done.
func (c *Consumer) drain(ctx context.Context, iter jetstream.MessagesContext) {
	for {
		msg, err := iter.Next()
		if err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, jetstream.ErrMsgIteratorClosed):
			case errors.Is(err, jetstream.ErrNoHeartbeat):
				c.logger.Warn("event pull loop: no heartbeat, recreating iterator")
			default:
				c.logger.Warn("event pull loop: iterator error, retrying", "error", err)
				select {
				case <-ctx.Done():
				case <-time.After(c.cfg.RetryBackoff):
				}
			}

			return
		}

		ev, err := decodeMsg(msg)
		if err != nil {
			c.logger.Warn("dropping undecodable event", "subject", msg.Subject(), "error", err)
			_ = msg.Term()

			continue
		}

		shard := c.shards[xxh3.HashString(shardKey(ev))%uint64(len(c.shards))]
		select {
		case shard <- delivery{msg: msg, ev: ev}:
		case <-ctx.Done():
			_ = msg.Nak()
			return
		}
	}
}

func (c *Consumer) work(ctx context.Context, in <-chan delivery) {
	defer c.wg.Done()

	for d := range in {
		if ctx.Err() != nil {
			_ = d.msg.Nak()
			continue
		}
		c.handle(ctx, d)
	}
}

func (c *Consumer) handle(ctx context.Context, d delivery) {
	err := c.handler.HandleEvent(ctx, d.ev)
	switch {
	case err == nil:
		if ackErr := d.msg.Ack(); ackErr != nil {
			c.logger.Warn("event ack failed", "type", d.ev.EventType(), "error", ackErr)
		}
	case types.IsTransient(err):
		var delivered uint64 = 1
		if meta, metaErr := d.msg.Metadata(); metaErr == nil {
			delivered = meta.NumDelivered
		}
		delay := redeliveryDelay(delivered, c.cfg.RetryBackoff, c.cfg.MaxBackoff, nil)
		c.logger.Debug("event redelivery scheduled", "type", d.ev.EventType(), "delivered", delivered, "delay", delay, "error", err)
		_ = d.msg.NakWithDelay(delay)
	default:
		c.logger.Warn("event handling failed", "type", d.ev.EventType(), "error", err)
		_ = d.msg.Term()
	}
}

func decodeMsg(msg jetstream.Msg) (types.Event, error) {
	env, err := envelope.Decode(msg.Data())
	if err != nil {
		return nil, err
	}

	return Decode(env)
}

// sanitizeConsumerName replaces characters NATS does not allow in consumer
// names with underscores.
func sanitizeConsumerName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' ||
			r == '.' || r == '*' || r == '>' ||
			r == '/' || r == '\\' ||
			r < 32 || r == 127 {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}

	return b.String()
}
