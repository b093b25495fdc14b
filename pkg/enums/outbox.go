package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregatePayment OutboxAggregateType = "payment"
	AggregatePayout  OutboxAggregateType = "payout"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePayment,
	AggregatePayout,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventPaymentCompleted OutboxEventType = "payment_completed"
	EventPaymentFailed    OutboxEventType = "payment_failed"
	EventPaymentCancelled OutboxEventType = "payment_cancelled"
	EventPaymentRefunded  OutboxEventType = "payment_refunded"
	EventPayoutRequested  OutboxEventType = "payout_requested"
	EventPayoutSettled    OutboxEventType = "payout_settled"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPaymentCompleted,
	EventPaymentFailed,
	EventPaymentCancelled,
	EventPaymentRefunded,
	EventPayoutRequested,
	EventPayoutSettled,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// SettlementEventType returns the outbox event emitted for a settlement outcome.
func SettlementEventType(outcome SettlementOutcome) (OutboxEventType, bool) {
	switch outcome {
	case SettlementCompleted:
		return EventPaymentCompleted, true
	case SettlementFailed:
		return EventPaymentFailed, true
	case SettlementCancelled:
		return EventPaymentCancelled, true
	case SettlementRefunded:
		return EventPaymentRefunded, true
	default:
		return "", false
	}
}
