// Package money implements a fixed-point amount tagged with an ISO currency.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/creatorpay-backend/pkg/errors"
)

// DefaultCurrency applies when callers leave the currency blank.
const DefaultCurrency = "USD"

var minorUnits = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"CAD": 2,
	"AUD": 2,
	"MXN": 2,
	"JPY": 0,
}

var hundred = decimal.NewFromInt(100)

// Money is an immutable amount in a single currency. The zero value is not
// usable; build values with New, Parse or Zero.
type Money struct {
	amount   decimal.Decimal
	currency string
}

// Supported reports whether the currency code is known.
func Supported(currency string) bool {
	_, ok := minorUnits[normalize(currency)]
	return ok
}

// Precision returns the number of fractional digits for the currency.
func Precision(currency string) int32 {
	if places, ok := minorUnits[normalize(currency)]; ok {
		return places
	}
	return 2
}

// New rounds amount to the currency's minor unit.
func New(amount decimal.Decimal, currency string) (Money, error) {
	code := normalize(currency)
	if code == "" {
		code = DefaultCurrency
	}
	places, ok := minorUnits[code]
	if !ok {
		return Money{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unsupported currency %q", currency))
	}
	return Money{amount: amount.Round(places), currency: code}, nil
}

// Parse reads a decimal string such as "19.99".
func Parse(raw, currency string) (Money, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Money{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("invalid amount %q", raw))
	}
	return New(amount, currency)
}

// MustParse is Parse for constants and tests.
func MustParse(raw, currency string) Money {
	m, err := Parse(raw, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns an empty amount in currency.
func Zero(currency string) Money {
	m, err := New(decimal.Zero, currency)
	if err != nil {
		return Money{amount: decimal.Zero, currency: normalize(currency)}
	}
	return m
}

func (m Money) Amount() decimal.Decimal { return m.amount }

func (m Money) Currency() string { return m.currency }

func (m Money) IsZero() bool { return m.amount.IsZero() }

func (m Money) IsNegative() bool { return m.amount.IsNegative() }

func (m Money) IsPositive() bool { return m.amount.IsPositive() }

// Add returns m + other. Differing currencies are a CURRENCY_MISMATCH error.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other, "add"); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Add(other.amount), currency: m.currency}, nil
}

// Sub returns m - other. Differing currencies are a CURRENCY_MISMATCH error.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other, "subtract"); err != nil {
		return Money{}, err
	}
	return Money{amount: m.amount.Sub(other.amount), currency: m.currency}, nil
}

// Cmp compares two amounts in the same currency (-1, 0, +1).
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other, "compare"); err != nil {
		return 0, err
	}
	return m.amount.Cmp(other.amount), nil
}

// Equal reports whether both the amount and the currency match.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount.Equal(other.amount)
}

// Percent returns pct percent of m, rounded to the minor unit.
func (m Money) Percent(pct decimal.Decimal) Money {
	return Money{
		amount:   m.amount.Mul(pct).Div(hundred).Round(Precision(m.currency)),
		currency: m.currency,
	}
}

// ApplyDiscount returns m reduced by pct percent, clamped at zero.
func (m Money) ApplyDiscount(pct decimal.Decimal) Money {
	if pct.LessThanOrEqual(decimal.Zero) {
		return m
	}
	factor := hundred.Sub(pct)
	if factor.IsNegative() {
		factor = decimal.Zero
	}
	return Money{
		amount:   m.amount.Mul(factor).Div(hundred).Round(Precision(m.currency)),
		currency: m.currency,
	}
}

// MinorUnits returns the amount in the currency's smallest unit (cents for USD).
func (m Money) MinorUnits() int64 {
	return m.amount.Shift(Precision(m.currency)).Round(0).IntPart()
}

// String formats the amount with its full precision, e.g. "15.00 USD".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.amount.StringFixed(Precision(m.currency)), m.currency)
}

func (m Money) sameCurrency(other Money, op string) error {
	if m.currency == other.currency {
		return nil
	}
	return pkgerrors.New(
		pkgerrors.CodeCurrencyMismatch,
		fmt.Sprintf("cannot %s %s and %s", op, m.currency, other.currency),
	).WithDetails(map[string]any{"left": m.currency, "right": other.currency})
}

func normalize(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}
