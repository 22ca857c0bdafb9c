// Package money provides the exact decimal value type used for every amount,
// price and valuation in the ledger.
package money

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidValue is returned when an input cannot be parsed as a numeral.
	ErrInvalidValue = errors.New("invalid value")
	// ErrUnsupportedOperand is returned when an operand is neither a Decimal nor an integer.
	ErrUnsupportedOperand = errors.New("unsupported operand")
	// ErrDivisionByZero is returned by divisions whose divisor is zero.
	ErrDivisionByZero = errors.New("division by zero")
	// ErrInexactConversion is returned when an exact integer conversion would lose information.
	ErrInexactConversion = errors.New("inexact conversion")
	// ErrOverflow is returned when a result's exponent exceeds MaxExponent.
	ErrOverflow = errors.New("overflow")
)

// DefaultMaxDiff is the tolerance used by IsClose when none is given.
const DefaultMaxDiff = "1e-6"

var (
	// Zero is the additive identity and the zero value of Decimal.
	Zero = Decimal{}
	// One is the multiplicative identity.
	One = FromInt(1)
	// Hundred scales fractions to percentages.
	Hundred = FromInt(100)
)

// Decimal is an immutable arbitrary-precision signed decimal.
// The zero value is 0.
type Decimal struct {
	d decimal.Decimal
}

// New builds a Decimal from a float, byte string, string, integer, big integer,
// shopspring decimal or another Decimal.
func New(value any) (Decimal, error) {
	switch v := value.(type) {
	case Decimal:
		return v, nil
	case *Decimal:
		if v == nil {
			return Decimal{}, fmt.Errorf("%w: nil decimal", ErrInvalidValue)
		}
		return *v, nil
	case decimal.Decimal:
		return bounded(v)
	case string:
		return FromString(v)
	case []byte:
		return FromBytes(v)
	case float64:
		return FromFloat(v)
	case float32:
		return FromFloat(float64(v))
	case *big.Int:
		if v == nil {
			return Decimal{}, fmt.Errorf("%w: nil big.Int", ErrInvalidValue)
		}
		return bounded(decimal.NewFromBigInt(v, 0))
	}
	if i, ok := asBigInt(value); ok {
		return Decimal{d: decimal.NewFromBigInt(i, 0)}, nil
	}
	return Decimal{}, fmt.Errorf("%w: cannot build decimal from %T", ErrInvalidValue, value)
}

// MustNew is like New but panics on error. Intended for constants and tests.
func MustNew(value any) Decimal {
	d, err := New(value)
	if err != nil {
		panic(err)
	}
	return d
}

// FromString parses a decimal numeral. Scientific notation is accepted,
// NaN and infinities are not, and exponents must stay within
// [MinExponent, MaxExponent].
func FromString(s string) (Decimal, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return Decimal{}, fmt.Errorf("%w: empty string", ErrInvalidValue)
	}
	// A single leading plus is allowed, and only directly before the digits.
	if len(text) > 1 && text[0] == '+' && (isDigit(text[1]) || text[1] == '.') {
		text = text[1:]
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return Decimal{}, fmt.Errorf("%w: %q", ErrInvalidValue, s)
	}
	return bounded(d)
}

// FromBytes parses a UTF-8 encoded numeral.
func FromBytes(b []byte) (Decimal, error) {
	if !utf8.Valid(b) {
		return Decimal{}, fmt.Errorf("%w: bytes are not valid utf-8", ErrInvalidValue)
	}
	return FromString(string(b))
}

// FromFloat converts a float through its shortest base-10 rendering, so
// FromFloat(0.1) is exactly 0.1.
func FromFloat(f float64) (Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Decimal{}, fmt.Errorf("%w: %v", ErrInvalidValue, f)
	}
	return FromString(strconv.FormatFloat(f, 'g', -1, 64))
}

// FromInt converts a machine integer.
func FromInt(i int64) Decimal {
	return Decimal{d: decimal.NewFromInt(i)}
}

// FromTokenAmount scales a raw on-chain integer amount by 10^-decimals.
func FromTokenAmount(raw *big.Int, decimals uint8) Decimal {
	if raw == nil {
		return Zero
	}
	return Decimal{d: decimal.NewFromBigInt(raw, -int32(decimals))}
}

// Operand evaluates a dynamically typed operand. Only Decimal values and Go
// integers are accepted.
func Operand(value any) (Decimal, error) {
	switch v := value.(type) {
	case Decimal:
		return v, nil
	case *Decimal:
		if v != nil {
			return *v, nil
		}
	default:
		if i, ok := asBigInt(value); ok {
			return Decimal{d: decimal.NewFromBigInt(i, 0)}, nil
		}
	}
	return Decimal{}, fmt.Errorf("%w: expected Decimal or integer, got %T", ErrUnsupportedOperand, value)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func asBigInt(value any) (*big.Int, bool) {
	switch v := value.(type) {
	case int:
		return big.NewInt(int64(v)), true
	case int8:
		return big.NewInt(int64(v)), true
	case int16:
		return big.NewInt(int64(v)), true
	case int32:
		return big.NewInt(int64(v)), true
	case int64:
		return big.NewInt(v), true
	case uint:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint64:
		return new(big.Int).SetUint64(v), true
	default:
		return nil, false
	}
}

// Decimal exposes the underlying shopspring value.
func (d Decimal) Decimal() decimal.Decimal {
	return d.d
}

func (d Decimal) String() string {
	return d.d.String()
}

// Add, Sub and Mul round to Precision significant digits and fail with
// ErrOverflow when the result exceeds MaxExponent.
func (d Decimal) Add(other Decimal) (Decimal, error) {
	return finish(roundSignificant(d.d.Add(other.d), Precision))
}

func (d Decimal) Sub(other Decimal) (Decimal, error) {
	return finish(roundSignificant(d.d.Sub(other.d), Precision))
}

func (d Decimal) Mul(other Decimal) (Decimal, error) {
	return finish(roundSignificant(d.d.Mul(other.d), Precision))
}

// Div is true division rounded to Precision significant digits.
func (d Decimal) Div(other Decimal) (Decimal, error) {
	if other.d.IsZero() {
		return Decimal{}, fmt.Errorf("%w: %s / 0", ErrDivisionByZero, d)
	}
	return finish(divide(d.d, other.d))
}

// FloorDiv returns the integer part of d / other, truncated toward zero.
func (d Decimal) FloorDiv(other Decimal) (Decimal, error) {
	if other.d.IsZero() {
		return Decimal{}, fmt.Errorf("%w: %s // 0", ErrDivisionByZero, d)
	}
	q, _ := d.d.QuoRem(other.d, 0)
	return finish(roundSignificant(q, Precision))
}

// Pow raises d to an integral exponent. Results too small to represent are
// zero, results too large fail with ErrOverflow.
func (d Decimal) Pow(exponent Decimal) (Decimal, error) {
	if !exponent.isInteger() {
		return Decimal{}, fmt.Errorf("%w: non-integral exponent %s", ErrInvalidValue, exponent)
	}
	n := exponent.d.BigInt()
	if d.d.IsZero() {
		switch n.Sign() {
		case 0:
			return Decimal{}, fmt.Errorf("%w: 0 ** 0", ErrInvalidValue)
		case -1:
			return Decimal{}, fmt.Errorf("%w: 0 ** %s", ErrDivisionByZero, exponent)
		}
		return Zero, nil
	}
	if d.d.Abs().Equal(decimal.NewFromInt(1)) {
		if d.d.Sign() < 0 && n.Bit(0) == 1 {
			return FromInt(-1), nil
		}
		return One, nil
	}
	result, out := power(d.d, new(big.Int).Abs(n))
	if n.Sign() < 0 {
		out = -out
	}
	switch out {
	case 1:
		return Decimal{}, fmt.Errorf("%w: %s ** %s", ErrOverflow, d, exponent)
	case -1:
		return Zero, nil
	}
	if n.Sign() < 0 {
		return finish(divide(decimal.NewFromInt(1), result))
	}
	return finish(roundSignificant(result, Precision))
}

func (d Decimal) Neg() Decimal {
	return Decimal{d: d.d.Neg()}
}

func (d Decimal) Abs() Decimal {
	return Decimal{d: d.d.Abs()}
}

// FMA returns d*other+third, keeping the product exact and rounding once.
func (d Decimal) FMA(other, third Decimal) (Decimal, error) {
	return finish(roundSignificant(d.d.Mul(other.d).Add(third.d), Precision))
}

// Cmp compares numeric values: -1 if d < other, 0 if equal, +1 if d > other.
func (d Decimal) Cmp(other Decimal) int {
	return d.d.Cmp(other.d)
}

// Compare is Cmp for a dynamically typed operand.
func (d Decimal) Compare(other any) (int, error) {
	o, err := Operand(other)
	if err != nil {
		return 0, err
	}
	return d.d.Cmp(o.d), nil
}

func (d Decimal) Equal(other Decimal) bool {
	return d.d.Cmp(other.d) == 0
}

func (d Decimal) GreaterThan(other Decimal) bool {
	return d.d.Cmp(other.d) > 0
}

func (d Decimal) GreaterThanOrEqual(other Decimal) bool {
	return d.d.Cmp(other.d) >= 0
}

func (d Decimal) LessThan(other Decimal) bool {
	return d.d.Cmp(other.d) < 0
}

func (d Decimal) LessThanOrEqual(other Decimal) bool {
	return d.d.Cmp(other.d) <= 0
}

func (d Decimal) IsZero() bool {
	return d.d.IsZero()
}

func (d Decimal) Sign() int {
	return d.d.Sign()
}

// ToPercentage renders d*100 with five fraction digits, e.g. "12.34568%".
func (d Decimal) ToPercentage() string {
	return d.d.Mul(decimal.NewFromInt(100)).StringFixedBank(5) + "%"
}

// ToInt converts to int64, truncating toward zero. With exact set, any
// fractional remainder is an error.
func (d Decimal) ToInt(exact bool) (int64, error) {
	if exact && !d.isInteger() {
		return 0, fmt.Errorf("%w: %s has a fractional part", ErrInexactConversion, d)
	}
	i := d.d.BigInt()
	if !i.IsInt64() {
		return 0, fmt.Errorf("%w: %s overflows int64", ErrInexactConversion, d)
	}
	return i.Int64(), nil
}

// IsClose reports whether |d - other| <= maxDiff. Both operands are parsed
// with New; a nil maxDiff means DefaultMaxDiff.
func (d Decimal) IsClose(other any, maxDiff any) (bool, error) {
	if maxDiff == nil {
		maxDiff = DefaultMaxDiff
	}
	limit, err := New(maxDiff)
	if err != nil {
		return false, err
	}
	o, err := New(other)
	if err != nil {
		return false, err
	}
	diff, err := d.Sub(o)
	if err != nil {
		return false, err
	}
	return diff.Abs().LessThanOrEqual(limit), nil
}

func (d Decimal) isInteger() bool {
	return d.d.Equal(d.d.Truncate(0))
}
