// Package money implements a fixed-precision decimal value for all
// monetary amounts in the trade-execution core. It wraps
// shopspring/decimal — never float64 — so that balance and cost
// arithmetic is exact and reproducible.
package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every Money value is
// normalized to. Rounding uses half-even (banker's rounding), matching
// decimal.Decimal's RoundBank.
const Scale int32 = 8

// ErrInvalidAmount is returned when a Money value is constructed from
// null, empty, or malformed input.
var ErrInvalidAmount = errors.New("money: invalid amount")

// ErrArithmetic is returned for arithmetic errors such as division by
// zero.
var ErrArithmetic = errors.New("money: arithmetic error")

// Zero is the additive identity.
var Zero = Money{d: decimal.Zero}

// Money is an immutable fixed-precision decimal value at Scale 8.
// The zero value is not meaningful — always construct via Of/OfInt/
// OfDecimal.
type Money struct {
	d decimal.Decimal
}

// Of parses a decimal string into a Money value.
func Of(s string) (Money, error) {
	if s == "" {
		return Money{}, fmt.Errorf("%w: empty string", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %s", ErrInvalidAmount, s)
	}
	return Money{d: d.RoundBank(Scale)}, nil
}

// MustOf parses a decimal string and panics on error. Intended for
// constants and tests.
func MustOf(s string) Money {
	m, err := Of(s)
	if err != nil {
		panic(err)
	}
	return m
}

// OfInt constructs a Money value from an integer number of whole units.
func OfInt(n int64) Money {
	return Money{d: decimal.NewFromInt(n).RoundBank(Scale)}
}

// OfDecimal wraps an existing decimal.Decimal, normalizing its scale.
func OfDecimal(d decimal.Decimal) Money {
	return Money{d: d.RoundBank(Scale)}
}

// Decimal returns the underlying decimal.Decimal at Scale precision.
func (m Money) Decimal() decimal.Decimal {
	return m.d
}

// String renders the canonical plain-decimal representation with
// exactly Scale fractional digits.
func (m Money) String() string {
	return m.d.StringFixed(Scale)
}

// Float64 converts to float64 for observability (metrics, logging)
// only. Never use this result for a monetary decision.
func (m Money) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

// Add returns m + other.
func (m Money) Add(other Money) Money {
	return Money{d: m.d.Add(other.d).RoundBank(Scale)}
}

// Subtract returns m - other.
func (m Money) Subtract(other Money) Money {
	return Money{d: m.d.Sub(other.d).RoundBank(Scale)}
}

// Negate returns -m.
func (m Money) Negate() Money {
	return Money{d: m.d.Neg().RoundBank(Scale)}
}

// Abs returns |m|.
func (m Money) Abs() Money {
	return Money{d: m.d.Abs().RoundBank(Scale)}
}

// MultiplyInt returns m * n for an integer multiplier.
func (m Money) MultiplyInt(n int64) Money {
	return Money{d: m.d.Mul(decimal.NewFromInt(n)).RoundBank(Scale)}
}

// Multiply returns m * other for a decimal multiplier (e.g. a price or
// a slippage factor).
func (m Money) Multiply(other Money) Money {
	return Money{d: m.d.Mul(other.d).RoundBank(Scale)}
}

// divGuardDigits is the number of extra fractional digits carried
// before the final half-even rounding in DivideInt/Divide.
// decimal.DivRound itself rounds half-away-from-zero, so dividing
// straight to Scale would silently reintroduce that policy at the last
// digit; computing a few guard digits past Scale and then applying
// RoundBank makes the division's final rounding decision half-even.
const divGuardDigits = 6

// DivideInt returns m / n for an integer divisor. Fails with
// ErrArithmetic if n is zero.
func (m Money) DivideInt(n int64) (Money, error) {
	if n == 0 {
		return Money{}, fmt.Errorf("%w: division by zero", ErrArithmetic)
	}
	guard := m.d.DivRound(decimal.NewFromInt(n), Scale+divGuardDigits)
	return Money{d: guard.RoundBank(Scale)}, nil
}

// Divide returns m / other. Fails with ErrArithmetic if other is zero.
func (m Money) Divide(other Money) (Money, error) {
	if other.d.IsZero() {
		return Money{}, fmt.Errorf("%w: division by zero", ErrArithmetic)
	}
	guard := m.d.DivRound(other.d, Scale+divGuardDigits)
	return Money{d: guard.RoundBank(Scale)}, nil
}

// Equal compares value, ignoring trailing-zero representation.
func (m Money) Equal(other Money) bool {
	return m.d.Equal(other.d)
}

// LessThan reports whether m < other.
func (m Money) LessThan(other Money) bool {
	return m.d.LessThan(other.d)
}

// LessThanOrEqual reports whether m <= other.
func (m Money) LessThanOrEqual(other Money) bool {
	return m.d.LessThanOrEqual(other.d)
}

// GreaterThan reports whether m > other.
func (m Money) GreaterThan(other Money) bool {
	return m.d.GreaterThan(other.d)
}

// GreaterThanOrEqual reports whether m >= other.
func (m Money) GreaterThanOrEqual(other Money) bool {
	return m.d.GreaterThanOrEqual(other.d)
}

// IsZero reports whether m == 0.
func (m Money) IsZero() bool {
	return m.d.IsZero()
}

// IsPositive reports whether m > 0.
func (m Money) IsPositive() bool {
	return m.d.IsPositive()
}

// IsNegative reports whether m < 0.
func (m Money) IsNegative() bool {
	return m.d.IsNegative()
}

// MarshalJSON renders Money as its canonical decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON parses Money from a JSON string or bare number.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Of(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
