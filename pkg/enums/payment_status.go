package enums

import "fmt"

// PaymentStatus is the settlement state of a single money-movement attempt.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusCompleted,
	PaymentStatusFailed,
	PaymentStatusCancelled,
	PaymentStatusRefunded,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}

// Outcome maps a terminal payment status to the settlement outcome it reports.
func (p PaymentStatus) Outcome() (SettlementOutcome, bool) {
	switch p {
	case PaymentStatusCompleted:
		return SettlementCompleted, true
	case PaymentStatusFailed:
		return SettlementFailed, true
	case PaymentStatusCancelled:
		return SettlementCancelled, true
	case PaymentStatusRefunded:
		return SettlementRefunded, true
	default:
		return "", false
	}
}
