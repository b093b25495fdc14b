package enums

import "fmt"

// TipStatus mirrors the settlement of the payment backing a tip.
type TipStatus string

const (
	TipStatusPending   TipStatus = "PENDING"
	TipStatusCompleted TipStatus = "COMPLETED"
	TipStatusFailed    TipStatus = "FAILED"
	TipStatusRefunded  TipStatus = "REFUNDED"
)

var validTipStatuses = []TipStatus{
	TipStatusPending,
	TipStatusCompleted,
	TipStatusFailed,
	TipStatusRefunded,
}

// String implements fmt.Stringer.
func (t TipStatus) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TipStatus.
func (t TipStatus) IsValid() bool {
	for _, candidate := range validTipStatuses {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTipStatus converts raw input into a TipStatus.
func ParseTipStatus(value string) (TipStatus, error) {
	for _, candidate := range validTipStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid tip status %q", value)
}
