package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"permit_portal_backend/platform/config"
	"permit_portal_backend/platform/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

const deliveryTimeout = 30 * time.Second

// Consumer reads trigger events from a durable queue bound to the topic
// exchange by event name.
type Consumer struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	exchange   string
	prefetch   int
	dispatcher *Dispatcher
	log        *logger.Logger
}

// Dial connects to the broker and declares the exchange, queue and bindings.
func Dial(cfg config.IngestConfig, dispatcher *Dispatcher, log *logger.Logger) (*Consumer, error) {
	if cfg.GetAMQPURL() == "" {
		return nil, fmt.Errorf("amqp url not configured")
	}
	if log == nil {
		log = logger.Nop()
	}

	conn, err := amqp.Dial(cfg.GetAMQPURL())
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c := &Consumer{
		conn:       conn,
		ch:         ch,
		queue:      cfg.GetAMQPQueue(),
		exchange:   cfg.GetAMQPExchange(),
		prefetch:   cfg.GetAMQPPrefetch(),
		dispatcher: dispatcher,
		log:        log,
	}
	if err := c.declare(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Consumer) declare() error {
	if err := DeclareExchange(c.ch, c.exchange); err != nil {
		return err
	}
	if _, err := c.ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}
	for _, key := range InboundEvents {
		if err := c.ch.QueueBind(c.queue, key, c.exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, c.queue, err)
		}
	}
	prefetch := c.prefetch
	if prefetch < 1 {
		prefetch = 10
	}
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	return nil
}

// DeclareExchange declares the durable topic exchange events travel on.
func DeclareExchange(ch *amqp.Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return nil
}

// Channel exposes the consumer's channel for publishers sharing the connection.
func (c *Consumer) Channel() *amqp.Channel {
	return c.ch
}

// Run consumes until ctx is cancelled or the broker closes the channel.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	c.log.Info("consuming trigger events", "queue", c.queue, "exchange", c.exchange)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

func (c *Consumer) Close() error {
	var errs []error
	if c.ch != nil {
		errs = append(errs, c.ch.Close())
	}
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
	}
	return errors.Join(errs...)
}

// handle acks processed and duplicate deliveries, rejects permanent failures
// and requeues the rest.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	msgCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	err := c.process(msgCtx, d)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.log.Error("failed to ack delivery", "error", ackErr)
		}
	case Permanent(err) || errors.Is(err, ErrUnknownEvent):
		c.log.Warn("rejecting delivery", "routing_key", d.RoutingKey, "message_id", d.MessageId, "error", err)
		if rejErr := d.Reject(false); rejErr != nil {
			c.log.Error("failed to reject delivery", "error", rejErr)
		}
	default:
		c.log.Error("delivery failed, requeueing", "routing_key", d.RoutingKey, "message_id", d.MessageId, "error", err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.log.Error("failed to nack delivery", "error", nackErr)
		}
	}
}

func (c *Consumer) process(ctx context.Context, d amqp.Delivery) error {
	event, err := Decode(d.RoutingKey, d.Body)
	if err != nil {
		return err
	}
	_, err = c.dispatcher.Dispatch(ctx, event)
	return err
}
