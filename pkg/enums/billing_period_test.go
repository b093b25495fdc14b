package enums

import (
	"testing"
	"time"
)

func TestBillingPeriodAdvance(t *testing.T) {
	start := time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC)
	tests := []struct {
		period BillingPeriod
		want   time.Time
		ok     bool
	}{
		{BillingPeriodMonthly, time.Date(2026, 2, 15, 9, 30, 0, 0, time.UTC), true},
		{BillingPeriodQuarterly, time.Date(2026, 4, 15, 9, 30, 0, 0, time.UTC), true},
		{BillingPeriodYearly, time.Date(2027, 1, 15, 9, 30, 0, 0, time.UTC), true},
		{BillingPeriodLifetime, time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := tt.period.Advance(start)
		if ok != tt.ok {
			t.Fatalf("%s: expected ok=%v got %v", tt.period, tt.ok, ok)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("%s: expected %v got %v", tt.period, tt.want, got)
		}
		if ok && got.Before(start) {
			t.Fatalf("%s: end before start", tt.period)
		}
	}
	if BillingPeriodLifetime.Recurring() || !BillingPeriodMonthly.Recurring() {
		t.Fatalf("unexpected recurring flags")
	}
}

func TestBillingPeriodAdvanceClampsToMonthEnd(t *testing.T) {
	tests := []struct {
		name   string
		period BillingPeriod
		from   time.Time
		want   time.Time
	}{
		{"jan 31 monthly", BillingPeriodMonthly, time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC), time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)},
		{"leap jan 31 monthly", BillingPeriodMonthly, time.Date(2028, 1, 31, 12, 0, 0, 0, time.UTC), time.Date(2028, 2, 29, 12, 0, 0, 0, time.UTC)},
		{"mar 31 quarterly", BillingPeriodQuarterly, time.Date(2026, 3, 31, 8, 0, 0, 0, time.UTC), time.Date(2026, 6, 30, 8, 0, 0, 0, time.UTC)},
		{"nov 30 quarterly crosses year", BillingPeriodQuarterly, time.Date(2026, 11, 30, 0, 0, 0, 0, time.UTC), time.Date(2027, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"feb 29 yearly", BillingPeriodYearly, time.Date(2028, 2, 29, 6, 45, 0, 0, time.UTC), time.Date(2029, 2, 28, 6, 45, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, ok := tt.period.Advance(tt.from)
		if !ok || !got.Equal(tt.want) {
			t.Fatalf("%s: expected %v got %v (ok=%v)", tt.name, tt.want, got, ok)
		}
	}

	// chained periods advance from the clamped end, so Feb 28 becomes Mar 28
	end := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)
	for range 2 {
		end, _ = BillingPeriodMonthly.Advance(end)
	}
	if want := time.Date(2026, 3, 28, 12, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Fatalf("expected %v got %v", want, end)
	}
}

func TestParseBillingPeriod(t *testing.T) {
	if got, err := ParseBillingPeriod("QUARTERLY"); err != nil || got != BillingPeriodQuarterly {
		t.Fatalf("unexpected parse result %q %v", got, err)
	}
	if _, err := ParseBillingPeriod("weekly"); err == nil {
		t.Fatalf("expected error for unknown period")
	}
}

func TestSubscriptionStatusIsTerminal(t *testing.T) {
	open := []SubscriptionStatus{SubscriptionStatusPending, SubscriptionStatusTrial, SubscriptionStatusActive}
	for _, s := range open {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
	closed := []SubscriptionStatus{SubscriptionStatusCancelled, SubscriptionStatusExpired, SubscriptionStatusSuspended}
	for _, s := range closed {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
}

func TestPaymentStatusOutcome(t *testing.T) {
	if _, ok := PaymentStatusPending.Outcome(); ok {
		t.Fatalf("pending has no outcome")
	}
	outcome, ok := PaymentStatusRefunded.Outcome()
	if !ok || outcome != SettlementRefunded {
		t.Fatalf("unexpected outcome %q", outcome)
	}
	event, ok := SettlementEventType(outcome)
	if !ok || event != EventPaymentRefunded {
		t.Fatalf("unexpected event type %q", event)
	}
	ledgerType, ok := LedgerEventTypeFor(SettlementFailed)
	if !ok || ledgerType != LedgerEventPaymentFailed {
		t.Fatalf("unexpected ledger type %q", ledgerType)
	}
}

func TestPayoutStatusFlags(t *testing.T) {
	if !PayoutStatusProcessing.IsCancellable() || PayoutStatusCompleted.IsCancellable() {
		t.Fatalf("unexpected cancellable flags")
	}
	if !PayoutStatusCompleted.IsInFlight() || PayoutStatusFailed.IsInFlight() || PayoutStatusCancelled.IsInFlight() {
		t.Fatalf("unexpected in-flight flags")
	}
}
