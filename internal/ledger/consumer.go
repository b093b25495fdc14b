package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
	"github.com/angelmondragon/creatorpay-backend/pkg/logger"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox/registry"
)

const consumerName = "settlement-ledger"

type dedupe interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type payloadDecoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (interface{}, error)
}

type ConsumerParams struct {
	Service     Service
	Idempotency dedupe
	Decoders    payloadDecoder
	Logger      *logger.Logger
}

// Consumer turns delivered settlement events into ledger rows. A Redis claim
// short-circuits redeliveries and the unique source_event_id is the durable guard.
type Consumer struct {
	svc      Service
	dedupe   dedupe
	decoders payloadDecoder
	logg     *logger.Logger
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Service == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	decoders := params.Decoders
	if decoders == nil {
		decoders = registry.NewSettlementDecoders()
	}
	return &Consumer{
		svc:      params.Service,
		dedupe:   params.Idempotency,
		decoders: decoders,
		logg:     params.Logger,
	}, nil
}

func isSettlement(eventType enums.OutboxEventType) bool {
	switch eventType {
	case enums.EventPaymentCompleted, enums.EventPaymentFailed, enums.EventPaymentCancelled, enums.EventPaymentRefunded:
		return true
	}
	return false
}

// Handle satisfies outbox.DeliveryHandler. Malformed messages come back as
// registry.NonRetryableError so the transport drops or dead-letters them.
func (c *Consumer) Handle(ctx context.Context, d outbox.Delivery) error {
	eventType := enums.OutboxEventType(d.EventType)
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": d.ID,
		"event_type": d.EventType,
	})
	if !isSettlement(eventType) {
		c.logg.Debug(logCtx, "skipping non-settlement event")
		return nil
	}

	envelope, err := outbox.DecodeEnvelope(d.Data)
	if err != nil {
		return registry.NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		return registry.NewNonRetryableError(fmt.Errorf("invalid event id %q: %w", envelope.EventID, err))
	}
	logCtx = c.logg.WithField(logCtx, "event_id", eventID.String())

	claimed, err := c.dedupe.Claim(ctx, consumerName, eventID)
	if err != nil {
		return fmt.Errorf("idempotency claim: %w", err)
	}
	if !claimed {
		c.logg.Info(logCtx, "event already processed")
		return nil
	}

	version := envelope.Version
	if version <= 0 {
		version = outbox.DefaultVersion
	}
	decoded, err := c.decoders.Decode(eventType, version, envelope.Data)
	if err != nil {
		c.release(logCtx, eventID)
		return registry.NewNonRetryableError(fmt.Errorf("decode %s payload: %w", eventType, err))
	}
	settlement, ok := decoded.(payloads.SettlementEvent)
	if !ok {
		c.release(logCtx, eventID)
		return registry.NewNonRetryableError(fmt.Errorf("unexpected payload %T for %s", decoded, eventType))
	}
	if settlement.OccurredAt.IsZero() {
		settlement.OccurredAt = envelope.OccurredAt
	}

	logCtx = c.logg.WithPaymentID(logCtx, settlement.PaymentID.String())
	_, inserted, err := c.svc.Record(ctx, RecordInput{SourceEventID: eventID, Settlement: settlement})
	if err != nil {
		c.release(logCtx, eventID)
		if pkgerrors.IsValidation(err) {
			return registry.NewNonRetryableError(err)
		}
		return err
	}
	if inserted {
		c.logg.Info(c.logg.WithField(logCtx, "outcome", string(settlement.Outcome)), "settlement recorded")
	} else {
		c.logg.Info(logCtx, "ledger row already present")
	}
	// the row is durable; a failed mark only costs a redundant insert attempt later
	if err := c.dedupe.Complete(ctx, consumerName, eventID); err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "failed to mark event processed")
	}
	return nil
}

// release drops the claim so a redelivery gets another attempt.
func (c *Consumer) release(ctx context.Context, eventID uuid.UUID) {
	if err := c.dedupe.Release(ctx, consumerName, eventID); err != nil {
		c.logg.Error(ctx, "failed to release idempotency claim", err)
	}
}
