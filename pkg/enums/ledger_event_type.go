package enums

import "fmt"

// LedgerEventType maps to the ledger_event_type enum in Postgres.
type LedgerEventType string

const (
	LedgerEventPaymentCompleted LedgerEventType = "payment_completed"
	LedgerEventPaymentFailed    LedgerEventType = "payment_failed"
	LedgerEventPaymentCancelled LedgerEventType = "payment_cancelled"
	LedgerEventPaymentRefunded  LedgerEventType = "payment_refunded"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventPaymentCompleted,
	LedgerEventPaymentFailed,
	LedgerEventPaymentCancelled,
	LedgerEventPaymentRefunded,
}

// String implements fmt.Stringer.
func (l LedgerEventType) String() string {
	return string(l)
}

// IsValid reports whether the value is a known LedgerEventType.
func (l LedgerEventType) IsValid() bool {
	for _, candidate := range validLedgerEventTypes {
		if candidate == l {
			return true
		}
	}
	return false
}

// ParseLedgerEventType converts raw input into a LedgerEventType.
func ParseLedgerEventType(value string) (LedgerEventType, error) {
	for _, candidate := range validLedgerEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger event type %q", value)
}

// LedgerEventTypeFor maps a settlement outcome onto its audit entry type.
func LedgerEventTypeFor(outcome SettlementOutcome) (LedgerEventType, bool) {
	switch outcome {
	case SettlementCompleted:
		return LedgerEventPaymentCompleted, true
	case SettlementFailed:
		return LedgerEventPaymentFailed, true
	case SettlementCancelled:
		return LedgerEventPaymentCancelled, true
	case SettlementRefunded:
		return LedgerEventPaymentRefunded, true
	default:
		return "", false
	}
}
