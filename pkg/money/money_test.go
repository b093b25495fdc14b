package money

import (
	"testing"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
)

func TestNewRoundsToMinorUnits(t *testing.T) {
	tests := []struct {
		raw      string
		currency string
		want     string
	}{
		{"19.999", "usd", "20.00 USD"},
		{"0.005", "USD", "0.01 USD"},
		{"1500.4", "JPY", "1500 JPY"},
		{"7", "", "7.00 USD"},
	}
	for _, tt := range tests {
		m, err := Parse(tt.raw, tt.currency)
		if err != nil {
			t.Fatalf("Parse(%q,%q) error: %v", tt.raw, tt.currency, err)
		}
		if got := m.String(); got != tt.want {
			t.Fatalf("Parse(%q,%q) = %q, want %q", tt.raw, tt.currency, got, tt.want)
		}
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	if _, err := Parse("abc", "USD"); !pkgerrors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := Parse("1.00", "XYZ"); !pkgerrors.IsValidation(err) {
		t.Fatalf("expected validation error for unsupported currency, got %v", err)
	}
}

func TestArithmeticRequiresSameCurrency(t *testing.T) {
	usd := MustParse("10.00", "USD")
	eur := MustParse("10.00", "EUR")

	if _, err := usd.Add(eur); !pkgerrors.IsCurrencyMismatch(err) {
		t.Fatalf("expected currency mismatch on Add, got %v", err)
	}
	if _, err := usd.Sub(eur); !pkgerrors.IsCurrencyMismatch(err) {
		t.Fatalf("expected currency mismatch on Sub, got %v", err)
	}
	if _, err := usd.Cmp(eur); !pkgerrors.IsCurrencyMismatch(err) {
		t.Fatalf("expected currency mismatch on Cmp, got %v", err)
	}

	sum, err := usd.Add(MustParse("2.50", "USD"))
	if err != nil || sum.String() != "12.50 USD" {
		t.Fatalf("unexpected sum %v err=%v", sum, err)
	}
	diff, err := usd.Sub(MustParse("12.50", "USD"))
	if err != nil || !diff.IsNegative() {
		t.Fatalf("expected negative difference, got %v err=%v", diff, err)
	}
}

func TestApplyDiscount(t *testing.T) {
	price := MustParse("20.00", "USD")
	tests := []struct {
		pct  int64
		want string
	}{
		{0, "20.00 USD"},
		{25, "15.00 USD"},
		{33, "13.40 USD"},
		{100, "0.00 USD"},
	}
	for _, tt := range tests {
		got := price.ApplyDiscount(decimal.NewFromInt(tt.pct))
		if got.String() != tt.want {
			t.Fatalf("discount %d: got %s want %s", tt.pct, got, tt.want)
		}
		cmp, err := got.Cmp(price)
		if err != nil || cmp > 0 {
			t.Fatalf("discounted price must never exceed price")
		}
		if got.IsNegative() {
			t.Fatalf("discounted price must never be negative")
		}
	}
}

func TestPercentAndMinorUnits(t *testing.T) {
	m := MustParse("99.99", "USD")
	if fee := m.Percent(decimal.NewFromInt(20)); fee.String() != "20.00 USD" {
		t.Fatalf("unexpected fee %s", fee)
	}
	if cents := m.MinorUnits(); cents != 9999 {
		t.Fatalf("expected 9999 cents, got %d", cents)
	}
	if yen := MustParse("500", "JPY").MinorUnits(); yen != 500 {
		t.Fatalf("expected 500 yen, got %d", yen)
	}
}

func TestZeroAndEqual(t *testing.T) {
	z := Zero("usd")
	if !z.IsZero() || z.Currency() != "USD" {
		t.Fatalf("unexpected zero %v", z)
	}
	if !MustParse("1.10", "USD").Equal(MustParse("1.1", "USD")) {
		t.Fatalf("equal amounts should compare equal")
	}
	if MustParse("1.10", "USD").Equal(MustParse("1.10", "EUR")) {
		t.Fatalf("different currencies are never equal")
	}
}
