package enums

import (
	"fmt"
	"time"
)

// BillingPeriod is the renewal cadence of a subscription tier.
type BillingPeriod string

const (
	BillingPeriodMonthly   BillingPeriod = "MONTHLY"
	BillingPeriodQuarterly BillingPeriod = "QUARTERLY"
	BillingPeriodYearly    BillingPeriod = "YEARLY"
	BillingPeriodLifetime  BillingPeriod = "LIFETIME"
)

var validBillingPeriods = []BillingPeriod{
	BillingPeriodMonthly,
	BillingPeriodQuarterly,
	BillingPeriodYearly,
	BillingPeriodLifetime,
}

// String implements fmt.Stringer.
func (b BillingPeriod) String() string {
	return string(b)
}

// IsValid reports whether the value is a known BillingPeriod.
func (b BillingPeriod) IsValid() bool {
	for _, candidate := range validBillingPeriods {
		if candidate == b {
			return true
		}
	}
	return false
}

// ParseBillingPeriod converts raw input into a BillingPeriod.
func ParseBillingPeriod(value string) (BillingPeriod, error) {
	for _, candidate := range validBillingPeriods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid billing period %q", value)
}

// Advance returns the end of one billing period starting at from. Month
// arithmetic clamps to the last day of the target month, so Jan 31 advances to
// Feb 28. LIFETIME periods never end, so ok is false.
func (b BillingPeriod) Advance(from time.Time) (end time.Time, ok bool) {
	switch b {
	case BillingPeriodMonthly:
		return addMonths(from, 1), true
	case BillingPeriodQuarterly:
		return addMonths(from, 3), true
	case BillingPeriodYearly:
		return addMonths(from, 12), true
	default:
		return time.Time{}, false
	}
}

func addMonths(from time.Time, months int) time.Time {
	year, month, day := from.Date()
	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, from.Location())
	// day 0 of the following month is the last day of the target month
	last := time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, from.Location()).Day()
	hour, minute, sec := from.Clock()
	return time.Date(first.Year(), first.Month(), min(day, last), hour, minute, sec, from.Nanosecond(), from.Location())
}

// Recurring reports whether subscriptions on this period ever come due.
func (b BillingPeriod) Recurring() bool {
	return b != BillingPeriodLifetime
}
