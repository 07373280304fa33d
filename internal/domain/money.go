package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of minor-unit digits carried by every Money amount.
const MoneyScale int32 = 2

// DefaultCurrency is used when a value arrives without a currency code.
const DefaultCurrency = "USD"

// ErrCurrencyMismatch is returned when arithmetic mixes two currencies.
var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// Money is an exact decimal amount tagged with an ISO 4217 currency code.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

// NewMoney rounds amount to the minor-unit scale and upper-cases the currency.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{
		Amount:   amount.Round(MoneyScale),
		Currency: normaliseCurrency(currency),
	}
}

// MustParseMoney parses a canonical decimal string. It panics on malformed input and is intended
// for constants and tests.
func MustParseMoney(amount, currency string) Money {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		panic(fmt.Sprintf("money: parse %q: %v", amount, err))
	}
	return NewMoney(d, currency)
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	return NewMoney(decimal.Zero, currency)
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return NewMoney(m.Amount.Add(other.Amount), m.Currency), nil
}

// Sub returns m - other.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return NewMoney(m.Amount.Sub(other.Amount), m.Currency), nil
}

// MulInt multiplies the amount by an integer quantity.
func (m Money) MulInt(quantity int) Money {
	return NewMoney(m.Amount.Mul(decimal.NewFromInt(int64(quantity))), m.Currency)
}

// MulRate multiplies the amount by a decimal rate, rounding the product to the minor unit.
func (m Money) MulRate(rate decimal.Decimal) Money {
	return NewMoney(m.Amount.Mul(rate), m.Currency)
}

// Cmp compares two amounts of the same currency.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.Amount.Cmp(other.Amount), nil
}

// Equal reports whether both currency and amount match.
func (m Money) Equal(other Money) bool {
	return normaliseCurrency(m.Currency) == normaliseCurrency(other.Currency) && m.Amount.Equal(other.Amount)
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.Amount.IsZero() }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// StringFixed renders the amount with exactly two decimals.
func (m Money) StringFixed() string { return m.Amount.StringFixed(MoneyScale) }

// String renders "12.34 USD".
func (m Money) String() string {
	return m.StringFixed() + " " + m.Currency
}

func (m Money) sameCurrency(other Money) error {
	if normaliseCurrency(m.Currency) != normaliseCurrency(other.Currency) {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return nil
}

func normaliseCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return DefaultCurrency
	}
	return code
}

// SumMoney adds values in order, starting from zero in the given currency.
func SumMoney(currency string, values ...Money) (Money, error) {
	total := Zero(currency)
	for _, v := range values {
		next, err := total.Add(v)
		if err != nil {
			return Money{}, err
		}
		total = next
	}
	return total, nil
}
