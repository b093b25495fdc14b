package enums

import "fmt"

// SettlementOutcome is the terminal result reported for a payment.
type SettlementOutcome string

const (
	SettlementCompleted SettlementOutcome = "COMPLETED"
	SettlementFailed    SettlementOutcome = "FAILED"
	SettlementCancelled SettlementOutcome = "CANCELLED"
	SettlementRefunded  SettlementOutcome = "REFUNDED"
)

var validSettlementOutcomes = []SettlementOutcome{
	SettlementCompleted,
	SettlementFailed,
	SettlementCancelled,
	SettlementRefunded,
}

// String implements fmt.Stringer.
func (s SettlementOutcome) String() string {
	return string(s)
}

// IsValid reports whether the value is a known SettlementOutcome.
func (s SettlementOutcome) IsValid() bool {
	for _, candidate := range validSettlementOutcomes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSettlementOutcome converts raw input into a SettlementOutcome.
func ParseSettlementOutcome(value string) (SettlementOutcome, error) {
	for _, candidate := range validSettlementOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid settlement outcome %q", value)
}

// Succeeded reports whether money actually moved to the payee.
func (s SettlementOutcome) Succeeded() bool {
	return s == SettlementCompleted
}
