package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/angelmondragon/creatorpay-backend/pkg/config"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox/registry"
)

// Consumer reads the settlement queue. Messages a handler rejects as
// non-retryable are dead-lettered to the DLQ exchange instead of requeued.
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	logg    *logger.Logger

	mu      sync.Mutex
	running bool
}

// NewConsumer declares the queue (named after the settlement subscription)
// and binds it to every routing key given.
func NewConsumer(ctx context.Context, cfg config.EventBusConfig, routingKeys []string, logg *logger.Logger) (*Consumer, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	queue := strings.TrimSpace(cfg.SettlementSubscription)
	if queue == "" {
		return nil, errors.New("settlement queue name required")
	}
	if len(routingKeys) == 0 {
		return nil, errors.New("at least one routing key required")
	}
	conn, ch, err := dial(cfg.RabbitURL, cfg.RabbitExchange)
	if err != nil {
		return nil, err
	}
	cleanup := func() {
		_ = ch.Close()
		_ = conn.Close()
	}

	args := amqp.Table{}
	if dlq := strings.TrimSpace(cfg.DLQTopic); dlq != "" {
		if err := ch.ExchangeDeclare(dlq, "fanout", true, false, false, false, nil); err != nil {
			cleanup()
			return nil, fmt.Errorf("declare dlq exchange %s: %w", dlq, err)
		}
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			cleanup()
			return nil, fmt.Errorf("declare dlq queue %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, "", dlq, false, nil); err != nil {
			cleanup()
			return nil, fmt.Errorf("bind dlq queue %s: %w", dlq, err)
		}
		args["x-dead-letter-exchange"] = dlq
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		cleanup()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	for _, key := range routingKeys {
		if err := ch.QueueBind(queue, key, cfg.RabbitExchange, false, nil); err != nil {
			cleanup()
			return nil, fmt.Errorf("bind %s to %s: %w", queue, key, err)
		}
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"queue":    queue,
		"exchange": cfg.RabbitExchange,
	}), "rabbitmq consumer connected")
	return &Consumer{conn: conn, channel: ch, queue: queue, logg: logg}, nil
}

// Consume processes one message at a time until ctx ends or the broker closes
// the channel.
func (c *Consumer) Consume(ctx context.Context, handler outbox.DeliveryHandler) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("consumer already running")
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	if err := c.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := c.channel.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			c.dispatch(ctx, msg, handler)
		}
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg amqp.Delivery, handler outbox.DeliveryHandler) {
	attrs := make(map[string]string, len(msg.Headers))
	for k, v := range msg.Headers {
		if s, ok := v.(string); ok {
			attrs[k] = s
		}
	}
	err := handler(ctx, outbox.Delivery{
		ID:          msg.MessageId,
		EventType:   msg.RoutingKey,
		Data:        msg.Body,
		Attributes:  attrs,
		PublishedAt: msg.Timestamp,
	})
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id":  msg.MessageId,
		"routing_key": msg.RoutingKey,
	})
	var nonRetry registry.NonRetryableError
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			c.logg.Error(logCtx, "ack failed", ackErr)
		}
	case errors.As(err, &nonRetry):
		c.logg.Error(logCtx, "dead-lettering message", err)
		if nackErr := msg.Nack(false, false); nackErr != nil {
			c.logg.Error(logCtx, "nack failed", nackErr)
		}
	default:
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "message requeued")
		if nackErr := msg.Nack(false, true); nackErr != nil {
			c.logg.Error(logCtx, "nack failed", nackErr)
		}
	}
}

func (c *Consumer) Ping(context.Context) error {
	if c == nil || c.conn == nil || c.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

func (c *Consumer) Close() error {
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logg.Warn(context.Background(), "error closing rabbitmq channel")
		}
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
