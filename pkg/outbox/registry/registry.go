package registry

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/creatorpay-backend/pkg/config"
	"github.com/angelmondragon/creatorpay-backend/pkg/db/models"
	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox"
)

// EventDescriptor says where an event type is published and which aggregate
// emits it.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

// ResolvedEvent is an outbox row that passed validation, with its decoded
// envelope and typed payload.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry validates outbox rows before they are published. Anything it
// rejects is a NonRetryableError: retrying a malformed row cannot fix it.
type EventRegistry struct {
	descriptors map[enums.OutboxEventType]EventDescriptor
	decoders    *DecoderRegistry
}

func NewEventRegistry(cfg config.EventBusConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.SettlementTopic)
	if topic == "" {
		return nil, errors.New("settlement topic is required")
	}
	reg := &EventRegistry{
		descriptors: make(map[enums.OutboxEventType]EventDescriptor, len(settlementCatalog)),
		decoders:    NewSettlementDecoders(),
	}
	for _, entry := range settlementCatalog {
		reg.descriptors[entry.eventType] = EventDescriptor{
			EventType:     entry.eventType,
			AggregateType: entry.aggregate,
			Topic:         topic,
		}
	}
	return reg, nil
}

func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.descriptors[row.EventType]
	switch {
	case !ok:
		return nil, reject("unsupported event type %s", row.EventType)
	case desc.AggregateType != row.AggregateType:
		return nil, reject("aggregate mismatch: %s is emitted by %s, row says %s", row.EventType, desc.AggregateType, row.AggregateType)
	case row.AggregateID == uuid.Nil:
		return nil, reject("missing aggregate_id")
	}

	envelope, err := outbox.DecodeEnvelope(row.Payload)
	if err != nil {
		return nil, reject("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, reject("payload missing for %s", row.EventType)
	}
	version := envelope.Version
	if version <= 0 {
		version = outbox.DefaultVersion
	}
	payload, err := r.decoders.Decode(row.EventType, version, envelope.Data)
	if err != nil {
		return nil, reject("decode %s payload: %w", row.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

func reject(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}
