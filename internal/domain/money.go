package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// minorUnits maps each supported ISO-4217 currency to its minor-unit precision.
// A currency missing from this table is not accepted anywhere in the service.
var minorUnits = map[string]int32{
	"KES": 2,
	"NGN": 2,
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"TZS": 0,
	"UGX": 0,
	"JPY": 0,
}

// Money is a fixed-point amount in a single currency. All arithmetic requires
// matching currencies; crossing currencies goes through Convert with an
// explicit rate.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	if _, ok := minorUnits[currency]; !ok {
		return Money{}, NewUnsupportedCurrencyError(currency)
	}
	if amount.IsNegative() {
		return Money{}, NewInvalidAmountError(amount.String())
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// MustMoney is for constants and tests where the inputs are known-good.
func MustMoney(amount string, currency string) Money {
	m, err := NewMoney(decimal.RequireFromString(amount), currency)
	if err != nil {
		panic(err)
	}
	return m
}

func SupportedCurrency(currency string) bool {
	_, ok := minorUnits[currency]
	return ok
}

// MinorUnits returns the minor-unit precision of a supported currency:
// 2 for KES, 0 for JPY. Unsupported currencies report 0; callers validate
// the currency through NewMoney.
func MinorUnits(currency string) int32 {
	return minorUnits[currency]
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, NewCurrencyMismatchError(m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, NewCurrencyMismatchError(m.Currency, other.Currency)
	}
	result := m.Amount.Sub(other.Amount)
	if result.IsNegative() {
		return Money{}, NewInvalidAmountError(result.String())
	}
	return Money{Amount: result, Currency: m.Currency}, nil
}

func (m Money) MulScalar(factor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(factor), Currency: m.Currency}
}

// Cmp returns -1, 0 or 1. Comparing across currencies is a contract violation,
// same as Add.
func (m Money) Cmp(other Money) (int, error) {
	if m.Currency != other.Currency {
		return 0, NewCurrencyMismatchError(m.Currency, other.Currency)
	}
	return m.Amount.Cmp(other.Amount), nil
}

// Convert applies an exchange rate and rounds half-up to the target currency's
// minor units. Used for display and initiation only; settlement amounts come
// from the provider.
func (m Money) Convert(rate decimal.Decimal, toCurrency string) (Money, error) {
	units, ok := minorUnits[toCurrency]
	if !ok {
		return Money{}, NewUnsupportedCurrencyError(toCurrency)
	}
	if rate.Sign() <= 0 {
		return Money{}, NewInvalidAmountError(rate.String())
	}
	converted := m.Amount.Mul(rate).Round(units)
	return Money{Amount: converted, Currency: toCurrency}, nil
}

// Round normalizes the amount to the currency's minor units, half-up.
func (m Money) Round() Money {
	return Money{Amount: m.Amount.Round(minorUnits[m.Currency]), Currency: m.Currency}
}

func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

func (m Money) Format() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(minorUnits[m.Currency]), m.Currency)
}

func (m Money) String() string {
	return m.Format()
}
