package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/angelmondragon/creatorpay-backend/pkg/config"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox/registry"
)

const exchangeKind = "topic"

// Publisher sends outbox rows to a durable topic exchange with publisher
// confirms, so Publish only returns nil once the broker has the message.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logg     *logger.Logger
	mu       sync.Mutex
}

func NewPublisher(ctx context.Context, cfg config.EventBusConfig, logg *logger.Logger) (*Publisher, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	exchange := strings.TrimSpace(cfg.RabbitExchange)
	if exchange == "" {
		return nil, errors.New("rabbitmq exchange required")
	}
	conn, ch, err := dial(cfg.RabbitURL, exchange)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	logg.Info(logg.WithField(ctx, "exchange", exchange), "rabbitmq publisher connected")
	return &Publisher{conn: conn, channel: ch, exchange: exchange, logg: logg}, nil
}

func dial(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

// Publish routes by msg.Key (the event type). msg.Topic is ignored: every
// settlement event goes to the one exchange.
func (p *Publisher) Publish(ctx context.Context, msg outbox.Message) error {
	if strings.TrimSpace(msg.Key) == "" {
		return registry.NewNonRetryableError(errors.New("routing key required"))
	}
	headers := amqp.Table{}
	for k, v := range msg.Attributes {
		headers[k] = v
	}

	p.mu.Lock()
	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
		p.exchange,
		msg.Key,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.Attributes["event_id"],
			Type:         msg.Key,
			Timestamp:    time.Now().UTC(),
			Headers:      headers,
			Body:         msg.Data,
		},
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.Key, err)
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm %s: %w", msg.Key, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked %s", msg.Key)
	}
	return nil
}

func (p *Publisher) Ping(context.Context) error {
	if p == nil || p.conn == nil || p.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logg.Warn(context.Background(), "error closing rabbitmq channel")
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NoopPublisher accepts and discards messages. Local runs without a broker use it.
type NoopPublisher struct {
	logg *logger.Logger
}

func NewNoopPublisher(logg *logger.Logger) *NoopPublisher {
	return &NoopPublisher{logg: logg}
}

func (p *NoopPublisher) Publish(ctx context.Context, msg outbox.Message) error {
	if p.logg != nil {
		p.logg.Debug(p.logg.WithFields(ctx, map[string]any{
			"routing_key": msg.Key,
			"size":        len(msg.Data),
		}), "noop publish")
	}
	return nil
}

func (p *NoopPublisher) Ping(context.Context) error { return nil }

func (p *NoopPublisher) Close() error { return nil }
