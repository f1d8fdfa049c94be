/*
Package generic provides the domain-agnostic building blocks of the clinic engine.

PURPOSE:
  Everything in here is independent of appointments, orders or staff.
  Domain packages (appointment, billing, staff, identity) build on these
  types and never talk to a concrete database directly.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money:    A currency amount backed by decimal.Decimal
  - Record:   A schemaless row exchanged with the record store
  - NewID:    Opaque identifiers for stored records

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, never float64
  2. Two-decimal currency: every displayed amount is rounded half-up to cents
  3. Normalized records: record values are string, int64 or nil so that
     every store implementation compares them the same way

USAGE:
  fee := generic.NewMoney(100)
  line := fee.MulInt(2)               // 200.00
  total := generic.SumMoney(fee, line) // 300.00

SEE ALSO:
  - store.go: Record store contract
  - errors.go: Error taxonomy
  - billing/cart.go: Cart totals built on Money
*/
package generic

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Exact two-decimal currency amounts
// =============================================================================

type Currency string

const CurrencyUSD Currency = "USD"

// CentsPlaces is the number of decimal places kept for currency amounts.
const CentsPlaces = 2

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewMoney(value int64) Money {
	return Money{Value: decimal.NewFromInt(value), Currency: CurrencyUSD}
}

func NewMoneyFromDecimal(value decimal.Decimal) Money {
	return Money{Value: value.Round(CentsPlaces), Currency: CurrencyUSD}
}

// ParseMoney parses a decimal string such as "12.50".
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return NewMoneyFromDecimal(d), nil
}

// MustParseMoney is ParseMoney for literals and validated input. It panics
// on a malformed amount.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func ZeroMoney() Money { return Money{Value: decimal.Zero, Currency: CurrencyUSD} }

func (m Money) Add(b Money) Money       { return Money{Value: m.Value.Add(b.Value), Currency: m.currency()} }
func (m Money) MulInt(n int) Money      { return Money{Value: m.Value.Mul(decimal.NewFromInt(int64(n))), Currency: m.currency()} }
func (m Money) IsNegative() bool        { return m.Value.IsNegative() }
func (m Money) IsZero() bool            { return m.Value.IsZero() }
func (m Money) Equal(b Money) bool      { return m.Value.Equal(b.Value) }
func (m Money) Round() Money            { return Money{Value: m.Value.Round(CentsPlaces), Currency: m.currency()} }
func (m Money) String() string          { return m.Value.StringFixed(CentsPlaces) }
func (m Money) InexactFloat64() float64 { return m.Value.InexactFloat64() }

// MarshalJSON encodes the amount as a fixed two-decimal string.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON accepts either a quoted decimal string or a bare number.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Money) currency() Currency {
	if m.Currency == "" {
		return CurrencyUSD
	}
	return m.Currency
}

// SumMoney adds all amounts exactly and rounds the result to cents.
func SumMoney(amounts ...Money) Money {
	total := ZeroMoney()
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total.Round()
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// NewID returns a new random record identifier.
func NewID() string {
	return uuid.NewString()
}

// =============================================================================
// RECORD - Row exchanged with the record store
// =============================================================================

// Record is a single stored row keyed by column name.
// Values are normalized to string, int64 or nil (see Normalize).
type Record map[string]any

// ID returns the record's "id" column.
func (r Record) ID() string { return r.String("id") }

// String returns a column as string, or "" when absent or NULL.
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Int returns a column as int, or 0 when absent or not numeric.
func (r Record) Int(field string) int {
	switch v := r[field].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Money returns a decimal string column as Money. A column that does not
// parse is reported as ErrExternalStore: the stored row is corrupt.
func (r Record) Money(field string) (Money, error) {
	m, err := ParseMoney(r.String(field))
	if err != nil {
		return Money{}, fmt.Errorf("%w: column %s: %v", ErrExternalStore, field, err)
	}
	return m, nil
}

// Clone returns a normalized shallow copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = Normalize(v)
	}
	return out
}

// Normalize converts a Go value into one of the record value kinds.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return x
	case []byte:
		return string(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case decimal.Decimal:
		return x.String()
	case Money:
		return x.String()
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// CompareValues orders two normalized values. NULL sorts first.
func CompareValues(a, b any) int {
	a, b = Normalize(a), Normalize(b)
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	ai, aInt := a.(int64)
	bi, bInt := b.(int64)
	if aInt && bInt {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}
