package money

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Precision is the number of significant digits kept by arithmetic results.
// Rounding is half-even.
const Precision = 28

// MaxExponent and MinExponent bound the adjusted exponent (the power of ten of
// the most significant digit) of every value.
const (
	MaxExponent = 999999
	MinExponent = -999999
)

// minScale is the smallest exponent of the least significant digit. Results
// below MinExponent lose precision down to it, and smaller ones round to zero.
const minScale = MinExponent - Precision + 1

// guardDigits are carried by intermediate products of Pow.
const guardDigits = 9

func digits(d decimal.Decimal) int {
	c := d.Coefficient()
	if c.Sign() == 0 {
		return 1
	}
	return len(c.Abs(c).String())
}

// adjusted returns the exponent of the most significant digit.
func adjusted(d decimal.Decimal) int {
	return digits(d) + int(d.Exponent()) - 1
}

func roundSignificant(d decimal.Decimal, prec int) decimal.Decimal {
	n := digits(d)
	if n <= prec {
		return d
	}
	places := -(int(d.Exponent()) + n - prec)
	return d.RoundBank(int32(places))
}

// divide computes a/b correctly rounded to Precision digits. The quotient is
// truncated two digits past the target and a sticky digit records any
// remainder, so the final half-even rounding never sees a false tie.
func divide(a, b decimal.Decimal) decimal.Decimal {
	if a.IsZero() {
		return decimal.Zero
	}
	places := Precision - adjusted(a) + adjusted(b) + 2
	q, r := a.QuoRem(b, int32(places))
	if !r.IsZero() {
		sign := int64(a.Sign() * b.Sign())
		q = q.Add(decimal.New(sign, -int32(places+1)))
		return roundSignificant(q, Precision)
	}
	return reduce(roundSignificant(q, Precision), a.Exponent()-b.Exponent())
}

// reduce strips trailing zeros from an exact result while the exponent stays
// at or below ideal.
func reduce(d decimal.Decimal, ideal int32) decimal.Decimal {
	coef := d.Coefficient()
	exp := d.Exponent()
	if coef.Sign() == 0 {
		return decimal.New(0, ideal)
	}
	ten := big.NewInt(10)
	q, r := new(big.Int), new(big.Int)
	for exp < ideal {
		q.QuoRem(coef, ten, r)
		if r.Sign() != 0 {
			break
		}
		coef.Set(q)
		exp++
	}
	return decimal.NewFromBigInt(coef, exp)
}

// power computes base**n for n >= 0 by squaring, keeping guard digits on the
// intermediate products. It stops once a product leaves the representable
// range with margin: out is +1 when the magnitude is too large, -1 when too
// small, and 0 otherwise.
func power(base decimal.Decimal, n *big.Int) (result decimal.Decimal, out int) {
	result = decimal.NewFromInt(1)
	b := base
	e := new(big.Int).Set(n)
	for e.Sign() > 0 {
		if e.Bit(0) == 1 {
			result = roundSignificant(result.Mul(b), Precision+guardDigits)
			if out = outOfRange(result); out != 0 {
				return decimal.Decimal{}, out
			}
		}
		e.Rsh(e, 1)
		if e.Sign() > 0 {
			b = roundSignificant(b.Mul(b), Precision+guardDigits)
			if out = outOfRange(b); out != 0 {
				return decimal.Decimal{}, out
			}
		}
	}
	return result, 0
}

// outOfRange classifies an intermediate power. The margin keeps values whose
// reciprocal is still representable.
func outOfRange(d decimal.Decimal) int {
	if d.IsZero() {
		return 0
	}
	adj := adjusted(d)
	switch {
	case adj > MaxExponent+Precision+2:
		return 1
	case adj < minScale-2:
		return -1
	}
	return 0
}

// finish applies the exponent limits to a result already rounded to
// Precision digits.
func finish(d decimal.Decimal) (Decimal, error) {
	if d.IsZero() {
		return Decimal{d: clampZero(d)}, nil
	}
	if adj := adjusted(d); adj > MaxExponent {
		return Decimal{}, fmt.Errorf("%w: exponent %d exceeds %d", ErrOverflow, adj, MaxExponent)
	}
	if d.Exponent() < minScale {
		d = d.RoundBank(-minScale)
		if d.IsZero() {
			return Decimal{d: decimal.New(0, minScale)}, nil
		}
	}
	return Decimal{d: d}, nil
}

// bounded accepts a constructed value only when its exponents are within the
// limits arithmetic relies on.
func bounded(d decimal.Decimal) (Decimal, error) {
	if d.IsZero() {
		return Decimal{d: clampZero(d)}, nil
	}
	if adj := adjusted(d); adj > MaxExponent || d.Exponent() < minScale {
		return Decimal{}, fmt.Errorf("%w: exponent out of range [%d, %d]", ErrInvalidValue, minScale, MaxExponent)
	}
	return Decimal{d: d}, nil
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	switch exp := d.Exponent(); {
	case exp > MaxExponent:
		return decimal.New(0, MaxExponent)
	case exp < minScale:
		return decimal.New(0, minScale)
	}
	return d
}
