package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a KES amount stored as BIGINT cents to avoid floating point
// errors. Negative amounts represent debits.
type Money struct {
	Cents    int64
	Currency string // ISO 4217
}

// NewMoney creates a Money value from cents.
func NewMoney(cents int64) Money {
	return Money{Cents: cents, Currency: DefaultCurrency}
}

// ToDecimal converts the int64 cents to a shopspring/decimal.Decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return decimal.NewFromInt(m.Cents).Div(decimal.NewFromInt(100))
}

// FromDecimal converts a decimal currency amount to int64 cents,
// truncating anything below cent precision.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).IntPart()
}

// ParseCents parses a decimal string (as carried in API requests and
// provider callback parameters) into cents.
func ParseCents(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return FromDecimal(d), nil
}

// String returns the amount formatted to two decimal places with its currency.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}
