package money

import (
	"encoding/json"
	"errors"
	"math"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
)

func mustString(t *testing.T, s string) Decimal {
	t.Helper()
	d, err := FromString(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func mustOp(t *testing.T) func(Decimal, error) Decimal {
	t.Helper()
	return func(d Decimal, err error) Decimal {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return d
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := []any{
		"0", "1.0", "-1.5", "1e-7", "3.14159265358979323846264338327950288",
		"  42 ", "+7", 12, int64(-9000000000), uint8(255), []byte("0.25"),
		big.NewInt(1234567890123456789),
	}
	for _, in := range inputs {
		d, err := New(in)
		if err != nil {
			t.Fatalf("new %v: %v", in, err)
		}
		again, err := New(d.String())
		if err != nil {
			t.Fatalf("reparse %q: %v", d.String(), err)
		}
		if !again.Equal(d) {
			t.Fatalf("round trip %v: %s != %s", in, again, d)
		}
	}
}

func TestConstructionNeverRounds(t *testing.T) {
	d := mustString(t, "1.0000000000000000000000000000000000001")
	if d.String() != "1.0000000000000000000000000000000000001" {
		t.Fatalf("unexpected %s", d)
	}
}

func TestFloatUsesDecimalRendering(t *testing.T) {
	d, err := FromFloat(0.1)
	if err != nil {
		t.Fatalf("from float: %v", err)
	}
	if !d.Equal(mustString(t, "0.1")) {
		t.Fatalf("expected 0.1, got %s", d)
	}
	d = MustNew(395.5897732474379)
	if d.String() != "395.5897732474379" {
		t.Fatalf("unexpected %s", d)
	}
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		if _, err := FromFloat(f); !errors.Is(err, ErrInvalidValue) {
			t.Fatalf("expected invalid value for %v, got %v", f, err)
		}
	}
}

func TestInvalidValues(t *testing.T) {
	inputs := []any{
		"", "abc", "1.2.3", "NaN", "Infinity", []byte{0xff, 0xfe}, struct{}{}, nil,
		"+", "+-1", "++1", "-+1", "+ 1", "1e2000000", "1e-1000027", "1e2000000000",
	}
	for _, in := range inputs {
		if _, err := New(in); !errors.Is(err, ErrInvalidValue) {
			t.Fatalf("expected invalid value for %#v, got %v", in, err)
		}
	}
}

func TestEqualityIsNumeric(t *testing.T) {
	if !mustString(t, "1.0").Equal(mustString(t, "1.00")) {
		t.Fatalf("1.0 should equal 1.00")
	}
	cmp, err := mustString(t, "3.00").Compare(3)
	if err != nil || cmp != 0 {
		t.Fatalf("expected 3.00 == 3, got %d %v", cmp, err)
	}
	cmp, err = mustString(t, "2.5").Compare(uint64(3))
	if err != nil || cmp != -1 {
		t.Fatalf("expected 2.5 < 3, got %d %v", cmp, err)
	}
}

func TestCompareRejectsForeignTypes(t *testing.T) {
	d := mustString(t, "1")
	for _, other := range []any{"1", 1.0, []byte("1"), nil} {
		if _, err := d.Compare(other); !errors.Is(err, ErrUnsupportedOperand) {
			t.Fatalf("expected unsupported operand for %#v, got %v", other, err)
		}
	}
}

func TestArithmetic(t *testing.T) {
	cases := []struct {
		name string
		got  func() (Decimal, error)
		want string
	}{
		{"add", func() (Decimal, error) { return mustString(t, "0.1").Add(mustString(t, "0.2")) }, "0.3"},
		{"sub", func() (Decimal, error) {
			return mustString(t, "19.01364749076136579119809947").Sub(mustString(t, "19.779488662371895"))
		}, "-0.76584117161052920880190053"},
		{"mul", func() (Decimal, error) {
			return mustString(t, "7.243955701843903648").Mul(mustString(t, "408.7084082189914"))
		}, "2960.665604109508525164251425"},
		{"mul exact", func() (Decimal, error) {
			return mustString(t, "0.05").Mul(mustString(t, "395.5897732474379"))
		}, "19.779488662371895"},
		{"div third", func() (Decimal, error) { return One.Div(FromInt(3)) }, "0.3333333333333333333333333333"},
		{"div two thirds", func() (Decimal, error) { return FromInt(2).Div(FromInt(3)) }, "0.6666666666666666666666666667"},
		{"div exact", func() (Decimal, error) { return FromInt(10).Div(FromInt(4)) }, "2.5"},
		{"div rate", func() (Decimal, error) {
			return mustString(t, "11.260284842802604032").Div(mustString(t, "1.616934038985744521"))
		}, "6.963972908793392530935439799"},
		{"div inverse rate", func() (Decimal, error) {
			return mustString(t, "1.616934038985744521").Div(mustString(t, "11.260284842802604032"))
		}, "0.1435961933076020882129179755"},
		{"floor div negative", func() (Decimal, error) { return FromInt(-7).FloorDiv(FromInt(2)) }, "-3"},
		{"floor div fraction", func() (Decimal, error) { return mustString(t, "7.5").FloorDiv(FromInt(2)) }, "3"},
		{"pow", func() (Decimal, error) { return FromInt(2).Pow(FromInt(10)) }, "1024"},
		{"pow fraction", func() (Decimal, error) { return mustString(t, "1.1").Pow(FromInt(3)) }, "1.331"},
		{"pow negative", func() (Decimal, error) { return FromInt(2).Pow(FromInt(-2)) }, "0.25"},
		{"pow minus one even", func() (Decimal, error) { return FromInt(-1).Pow(mustString(t, "1e30001")) }, "1"},
		{"pow minus one odd", func() (Decimal, error) { return FromInt(-1).Pow(mustString(t, "-1000000000001")) }, "-1"},
		{"neg", func() (Decimal, error) { return mustString(t, "1.5").Neg(), nil }, "-1.5"},
		{"abs", func() (Decimal, error) { return mustString(t, "-1.5").Abs(), nil }, "1.5"},
	}
	for _, tc := range cases {
		got, err := tc.got()
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !got.Equal(mustString(t, tc.want)) {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestDivisionByZero(t *testing.T) {
	if _, err := One.Div(Zero); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
	if _, err := One.FloorDiv(mustString(t, "0.000")); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
	if _, err := Zero.Pow(FromInt(-1)); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
}

func TestPowRejectsFractionalExponent(t *testing.T) {
	if _, err := FromInt(2).Pow(mustString(t, "0.5")); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected invalid value, got %v", err)
	}
}

func TestFMARoundsOnce(t *testing.T) {
	a := mustString(t, "1.0000000000000000000000000001")
	c := mustString(t, "-1.0000000000000000000000000002")

	fused := mustOp(t)(a.FMA(a, c))
	if !fused.Equal(mustString(t, "1e-56")) {
		t.Fatalf("expected 1e-56, got %s", fused)
	}
	separate := mustOp(t)(mustOp(t)(a.Mul(a)).Add(c))
	if !separate.Equal(mustString(t, "-2e-28")) {
		t.Fatalf("expected -2e-28, got %s", separate)
	}
}

func TestFMAMatchesSeparateWithoutRoundingBoundary(t *testing.T) {
	a := mustString(t, "1.5")
	b := mustString(t, "2.25")
	c := mustString(t, "0.125")
	fused := mustOp(t)(a.FMA(b, c))
	separate := mustOp(t)(mustOp(t)(a.Mul(b)).Add(c))
	if !fused.Equal(separate) {
		t.Fatalf("fma %s != %s", fused, separate)
	}
	if !fused.Equal(mustString(t, "3.5")) {
		t.Fatalf("expected 3.5, got %s", fused)
	}
}

func TestLeadingPlus(t *testing.T) {
	cases := map[string]string{"+1.5": "1.5", "+.5": "0.5", " +7 ": "7", "+0": "0"}
	for in, want := range cases {
		if got := mustString(t, in); !got.Equal(mustString(t, want)) {
			t.Fatalf("parse %q: expected %s, got %s", in, want, got)
		}
	}
}

func TestExponentLimits(t *testing.T) {
	if _, err := FromString("1e999999"); err != nil {
		t.Fatalf("largest exponent: %v", err)
	}
	if _, err := FromString("1e-1000026"); err != nil {
		t.Fatalf("smallest exponent: %v", err)
	}
	if got := mustString(t, "0e5000000"); !got.IsZero() {
		t.Fatalf("expected zero, got %s", got)
	}
	if _, err := New(decimal.New(1, math.MaxInt32)); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected invalid value, got %v", err)
	}
}

func TestOverflow(t *testing.T) {
	huge := mustString(t, "1e999999")
	tiny := mustString(t, "1e-999999")
	cases := []struct {
		name string
		got  func() (Decimal, error)
	}{
		{"mul", func() (Decimal, error) { return huge.Mul(huge) }},
		{"add", func() (Decimal, error) { return mustString(t, "9.999999999999999999999999999e999999").Add(huge) }},
		{"fma", func() (Decimal, error) { return huge.FMA(FromInt(10), Zero) }},
		{"div", func() (Decimal, error) { return huge.Div(tiny) }},
		{"floor div", func() (Decimal, error) { return huge.FloorDiv(tiny) }},
		{"pow", func() (Decimal, error) { return FromInt(2).Pow(mustString(t, "10000000000")) }},
		{"pow negative", func() (Decimal, error) { return mustString(t, "0.5").Pow(mustString(t, "-10000000000")) }},
		{"pow huge base", func() (Decimal, error) { return huge.Pow(FromInt(2)) }},
	}
	for _, tc := range cases {
		if _, err := tc.got(); !errors.Is(err, ErrOverflow) {
			t.Fatalf("%s: expected overflow, got %v", tc.name, err)
		}
	}
}

func TestUnderflowRoundsToZero(t *testing.T) {
	tiny := mustString(t, "1e-999999")
	cases := []struct {
		name string
		got  func() (Decimal, error)
	}{
		{"mul", func() (Decimal, error) { return tiny.Mul(tiny) }},
		{"div", func() (Decimal, error) { return tiny.Div(mustString(t, "1e999999")) }},
		{"pow", func() (Decimal, error) { return mustString(t, "0.1").Pow(FromInt(10000000)) }},
		{"pow negative", func() (Decimal, error) { return FromInt(2).Pow(mustString(t, "-10000000000")) }},
	}
	for _, tc := range cases {
		got, err := tc.got()
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !got.IsZero() {
			t.Fatalf("%s: expected zero, got %s", tc.name, got)
		}
	}

	got := mustOp(t)(tiny.Mul(mustString(t, "1.5e-20")))
	if !got.Equal(mustString(t, "1.5e-1000019")) {
		t.Fatalf("expected subnormal 1.5e-1000019, got %s", got)
	}
	got = mustOp(t)(mustString(t, "1.25e-1000010").Mul(mustString(t, "1e-15")))
	if !got.Equal(mustString(t, "1.2e-1000025")) {
		t.Fatalf("expected 1.2e-1000025, got %s", got)
	}
}

func TestToPercentage(t *testing.T) {
	cases := map[string]string{
		"0.123456789": "12.34568%",
		"-1.5":        "-150.00000%",
		"1":           "100.00000%",
		"0":           "0.00000%",
	}
	for in, want := range cases {
		if got := mustString(t, in).ToPercentage(); got != want {
			t.Fatalf("percentage of %s: expected %s, got %s", in, want, got)
		}
	}
}

func TestToInt(t *testing.T) {
	got, err := mustString(t, "3.0").ToInt(true)
	if err != nil || got != 3 {
		t.Fatalf("expected 3, got %d %v", got, err)
	}
	if _, err := mustString(t, "3.5").ToInt(true); !errors.Is(err, ErrInexactConversion) {
		t.Fatalf("expected inexact conversion, got %v", err)
	}
	got, err = mustString(t, "-3.5").ToInt(false)
	if err != nil || got != -3 {
		t.Fatalf("expected -3, got %d %v", got, err)
	}
	if _, err := mustString(t, "1e30").ToInt(false); !errors.Is(err, ErrInexactConversion) {
		t.Fatalf("expected overflow to be inexact, got %v", err)
	}
}

func TestIsClose(t *testing.T) {
	cases := []struct {
		value   string
		other   any
		maxDiff any
		want    bool
	}{
		{"1.000002", "1.0", "1e-6", false},
		{"1.000002", "1.0", "1e-5", true},
		{"1.0000001", "1.0", "1e-6", true},
		{"1.0000001", "1.0", "1e-8", false},
		{"1.000001", "1.0", "1e-6", true},
		{"1.0000001", 1, nil, true},
		{"0.99", 1, nil, false},
	}
	for _, tc := range cases {
		got, err := mustString(t, tc.value).IsClose(tc.other, tc.maxDiff)
		if err != nil {
			t.Fatalf("is close %s: %v", tc.value, err)
		}
		if got != tc.want {
			t.Fatalf("%s close to %v within %v: expected %v", tc.value, tc.other, tc.maxDiff, tc.want)
		}
	}
	if _, err := One.IsClose("x", nil); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected invalid value, got %v", err)
	}
}

func TestFromTokenAmount(t *testing.T) {
	raw, _ := new(big.Int).SetString("11260284842802604032", 10)
	if got := FromTokenAmount(raw, 18); got.String() != "11.260284842802604032" {
		t.Fatalf("unexpected %s", got)
	}
	if got := FromTokenAmount(big.NewInt(150000000), 8); got.String() != "1.5" {
		t.Fatalf("unexpected %s", got)
	}
}

func TestJSON(t *testing.T) {
	type payload struct {
		Amount Decimal `json:"amount"`
	}
	out, err := json.Marshal(payload{Amount: mustString(t, "1.616934038985744521")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"amount":"1.616934038985744521"}` {
		t.Fatalf("unexpected json %s", out)
	}

	var in payload
	if err := json.Unmarshal([]byte(`{"amount":0.05}`), &in); err != nil {
		t.Fatalf("unmarshal number: %v", err)
	}
	if !in.Amount.Equal(mustString(t, "0.05")) {
		t.Fatalf("unexpected %s", in.Amount)
	}
	if err := json.Unmarshal([]byte(`{"amount":"abc"}`), &in); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected invalid value, got %v", err)
	}
}

func TestScan(t *testing.T) {
	var d Decimal
	if err := d.Scan([]byte("12.5")); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !d.Equal(mustString(t, "12.5")) {
		t.Fatalf("unexpected %s", d)
	}
	v, err := d.Value()
	if err != nil || v != "12.5" {
		t.Fatalf("unexpected value %v %v", v, err)
	}
}
