package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/angelmondragon/creatorpay-backend/pkg/enums"
	"github.com/angelmondragon/creatorpay-backend/pkg/outbox/payloads"
)

type decoderFunc func(payload json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry holds payload decoders keyed by event type and envelope
// version, so a consumer can read old and new payload shapes side by side.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[decoderKey]decoderFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[decoderKey]decoderFunc)}
}

func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder decoderFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[decoderKey{eventType, version}] = decoder
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mu.RLock()
	decoder, ok := r.decoders[decoderKey{eventType, version}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decoder not registered for %s@v%d", eventType, version)
	}
	return decoder(payload)
}

// decodeJSON returns T by value.
func decodeJSON[T any](payload json.RawMessage) (any, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// settlementCatalog lists every event the settlement topic carries, with the
// aggregate it belongs to and its v1 payload decoder.
var settlementCatalog = []struct {
	eventType enums.OutboxEventType
	aggregate enums.OutboxAggregateType
	decode    decoderFunc
}{
	{enums.EventPaymentCompleted, enums.AggregatePayment, decodeJSON[payloads.SettlementEvent]},
	{enums.EventPaymentFailed, enums.AggregatePayment, decodeJSON[payloads.SettlementEvent]},
	{enums.EventPaymentCancelled, enums.AggregatePayment, decodeJSON[payloads.SettlementEvent]},
	{enums.EventPaymentRefunded, enums.AggregatePayment, decodeJSON[payloads.SettlementEvent]},
	{enums.EventPayoutRequested, enums.AggregatePayout, decodeJSON[payloads.PayoutEvent]},
	{enums.EventPayoutSettled, enums.AggregatePayout, decodeJSON[payloads.PayoutEvent]},
}

// NewSettlementDecoders registers the v1 decoder of every settlement topic event.
func NewSettlementDecoders() *DecoderRegistry {
	reg := NewDecoderRegistry()
	for _, entry := range settlementCatalog {
		reg.Register(entry.eventType, 1, entry.decode)
	}
	return reg
}
