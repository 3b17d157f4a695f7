/*
Package generic provides the domain-agnostic temporal engine.

PURPOSE:
  Prices, service rates and staff postings all share one shape: a fact about
  a key that holds from a date until a later-dated fact replaces it. This
  package owns that shape once, instead of every repository re-deriving
  "latest row with date <= D".

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal value in a currency, rounded to the currency's minor unit
  - Currency: ISO 4217 code, minor-unit precision looked up from go-money

OTHER FILES:
  - time.go:      Date (calendar-day granularity) and Clock
  - versioned.go: Version and EffectiveDated (append-only "as of" lookups)
  - interval.go:  Interval and Tracker (exclusive, non-overlapping tenures)
  - store.go:     Persistence interfaces
  - errors.go:    Error taxonomy

DESIGN PRINCIPLES:
  1. Append-only: versions are never updated; intervals are only ever closed
  2. Precision: decimal.Decimal everywhere money is involved
  3. Type Safety: domain packages bring their own key types (ProductID, EmployeeID)

SEE ALSO:
  - pricing/: product and service price catalogs built on EffectiveDated
  - staffing/: employee to branch roster built on Tracker
*/
package generic

import (
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY
// =============================================================================

// Currency is an ISO 4217 code.
type Currency string

const DefaultCurrency Currency = "USD"

// Known reports whether go-money has the currency in its table.
func (c Currency) Known() bool {
	return money.GetCurrency(strings.ToUpper(string(c))) != nil
}

// Fraction is the number of minor-unit digits (2 for USD, 0 for VND).
func (c Currency) Fraction() int32 {
	cur := money.GetCurrency(strings.ToUpper(string(c)))
	if cur == nil {
		return 2
	}
	return int32(cur.Fraction)
}

// =============================================================================
// MONEY
// =============================================================================

type Money struct {
	Value    decimal.Decimal `json:"value"`
	Currency Currency        `json:"currency"`
}

func NewMoney(value decimal.Decimal, currency Currency) Money {
	return Money{Value: value, Currency: currency}
}

func NewMoneyFromInt(value int64, currency Currency) Money {
	return Money{Value: decimal.NewFromInt(value), Currency: currency}
}

// ParseMoney parses a decimal string such as "12.50".
func ParseMoney(s string, currency Currency) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{Value: d, Currency: currency}, nil
}

func (m Money) Zero() Money                 { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(o Money) Money           { return Money{Value: m.Value.Add(o.Value), Currency: m.Currency} }
func (m Money) Mul(s decimal.Decimal) Money { return Money{Value: m.Value.Mul(s), Currency: m.Currency} }
func (m Money) MulInt(n int) Money          { return m.Mul(decimal.NewFromInt(int64(n))) }
func (m Money) IsNegative() bool            { return m.Value.IsNegative() }
func (m Money) IsZero() bool                { return m.Value.IsZero() }
func (m Money) Equal(o Money) bool          { return m.Currency == o.Currency && m.Value.Equal(o.Value) }

// Round rounds half away from zero to the currency's minor unit.
func (m Money) Round() Money {
	return Money{Value: m.Value.Round(m.Currency.Fraction()), Currency: m.Currency}
}

// MinorUnits returns the value in cents (or the currency's minor unit).
func (m Money) MinorUnits() int64 {
	return m.Value.Shift(m.Currency.Fraction()).Round(0).IntPart()
}

// Display formats with the currency's grapheme, e.g. "$12.50".
func (m Money) Display() string {
	if !m.Currency.Known() {
		return m.Value.StringFixed(m.Currency.Fraction()) + " " + string(m.Currency)
	}
	return money.New(m.MinorUnits(), strings.ToUpper(string(m.Currency))).Display()
}

func (m Money) String() string {
	return m.Value.StringFixed(m.Currency.Fraction()) + " " + string(m.Currency)
}
