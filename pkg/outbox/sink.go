package outbox

import (
	"context"
	"time"
)

// Message is one outbox row on its way to a broker. Key is the routing key for
// topic exchanges and the ordering key for Pub/Sub.
type Message struct {
	Topic      string
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Sink publishes outbox messages. Publish blocks until the broker confirms.
type Sink interface {
	Publish(ctx context.Context, msg Message) error
	Ping(ctx context.Context) error
	Close() error
}

// Delivery is a message received from a broker, independent of transport.
type Delivery struct {
	ID          string
	EventType   string
	Data        []byte
	Attributes  map[string]string
	PublishedAt time.Time
}

// DeliveryHandler processes one delivery. A nil error acks it; any other error
// asks the broker for redelivery unless it wraps registry.NonRetryableError.
type DeliveryHandler func(ctx context.Context, d Delivery) error

// MessageAttributes builds the attribute set every sink attaches.
func MessageAttributes(eventID, eventType, aggregateType, aggregateID string, createdAt time.Time) map[string]string {
	return map[string]string{
		"event_id":       eventID,
		"event_type":     eventType,
		"aggregate_type": aggregateType,
		"aggregate_id":   aggregateID,
		"created_at":     createdAt.UTC().Format(time.RFC3339Nano),
	}
}
