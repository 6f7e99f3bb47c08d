package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// CurrencyUSDC is the settlement currency for tickets and metering.
const CurrencyUSDC = "usdc"

// Money represents a monetary value in the smallest currency unit.
// All arithmetic is integer-only, no floating point.
//
// Examples:
//   - USDC(100000) = 0.10 USDC (100000 micro-dollars)
//   - USDC(1000)   = 0.001 USDC
//   - USD(4900)    = $49.00
type Money struct {
	Amount   int64  `json:"amount"`   // Smallest unit (micros for usdc, cents for usd)
	Currency string `json:"currency"` // lowercase code: "usdc", "usd"
}

// ErrInvalidAmount is returned by ParseMajor for malformed decimal input.
var ErrInvalidAmount = errors.New("money: invalid amount")

// USDC creates a Money value in USDC micro-units (6 decimals).
func USDC(micros int64) Money { return Money{Amount: micros, Currency: CurrencyUSDC} }

// USD creates a Money value in US Dollars (cents).
func USD(cents int64) Money { return Money{Amount: cents, Currency: "usd"} }

// Zero returns a zero Money value in the specified currency.
func Zero(currency string) Money { return Money{Amount: 0, Currency: strings.ToLower(currency)} }

// ParseMajor parses a decimal major-unit string such as "0.10" or "1.5"
// into Money. Digits beyond the currency's precision are rejected rather
// than rounded.
func ParseMajor(s, currency string) (Money, error) {
	currency = strings.ToLower(currency)
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	decimals := currencyDecimals(currency)
	if len(frac) > decimals {
		trimmed := strings.TrimRight(frac[decimals:], "0")
		if trimmed != "" {
			return Money{}, fmt.Errorf("%w: %q exceeds %d decimals", ErrInvalidAmount, s, decimals)
		}
		frac = frac[:decimals]
	}
	frac += strings.Repeat("0", decimals-len(frac))

	major, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || major < 0 {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	var minor int64
	if frac != "" {
		minor, err = strconv.ParseInt(frac, 10, 64)
		if err != nil || minor < 0 {
			return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}

	amount := major*pow10(decimals) + minor
	if neg {
		amount = -amount
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// MustParseMajor is like ParseMajor but panics on error.
func MustParseMajor(s, currency string) Money {
	m, err := ParseMajor(s, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Add adds two Money values. Panics if currencies don't match.
func (m Money) Add(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}
}

// Subtract subtracts another Money value. Panics if currencies don't match.
func (m Money) Subtract(other Money) Money {
	m.assertSameCurrency(other)
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}
}

// Multiply multiplies the Money by a quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty, Currency: m.Currency}
}

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative returns true if the amount is less than zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Equal returns true if both Money values are equal (same amount and currency).
func (m Money) Equal(other Money) bool {
	return m.Amount == other.Amount && m.Currency == other.Currency
}

// LessThan returns true if this Money is less than other. Panics if currencies don't match.
func (m Money) LessThan(other Money) bool {
	m.assertSameCurrency(other)
	return m.Amount < other.Amount
}

// FormatMajor returns the major unit string without currency symbol.
// Trailing zeros are trimmed down to two decimals, so USDC(100000)
// renders "0.10" and USDC(3000) renders "0.003".
func (m Money) FormatMajor() string {
	decimals := currencyDecimals(m.Currency)
	if decimals == 0 {
		return strconv.FormatInt(m.Amount, 10)
	}

	abs := m.Amount
	sign := ""
	if abs < 0 {
		abs = -abs
		sign = "-"
	}

	divisor := pow10(decimals)
	frac := fmt.Sprintf("%0*d", decimals, abs%divisor)
	frac = strings.TrimRight(frac, "0")
	for len(frac) < 2 {
		frac += "0"
	}
	return sign + strconv.FormatInt(abs/divisor, 10) + "." + frac
}

// String returns a human-readable string with the currency code or symbol.
// Examples: "0.10 USDC", "$49.00".
func (m Money) String() string {
	if m.Currency == "usd" {
		return "$" + m.FormatMajor()
	}
	return m.FormatMajor() + " " + strings.ToUpper(m.Currency)
}

// MarshalJSON implements json.Marshaler.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}{
		Amount:   m.Amount,
		Currency: m.Currency,
		Display:  m.FormatMajor(),
	})
}

// UnmarshalJSON implements json.Unmarshaler. The display field is ignored.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Amount = raw.Amount
	m.Currency = strings.ToLower(raw.Currency)
	return nil
}

func (m Money) assertSameCurrency(other Money) {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("money: currency mismatch: %s != %s", m.Currency, other.Currency))
	}
}

func currencyDecimals(currency string) int {
	switch strings.ToLower(currency) {
	case CurrencyUSDC, "usdt", "eurc":
		return 6
	case "jpy", "krw":
		return 0
	}
	return 2
}

func pow10(n int) int64 {
	p := int64(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}

// Sum calculates the sum of multiple Money values. All must have the same currency.
func Sum(values ...Money) Money {
	if len(values) == 0 {
		return Zero(CurrencyUSDC)
	}

	result := values[0]
	for i := 1; i < len(values); i++ {
		result = result.Add(values[i])
	}
	return result
}
