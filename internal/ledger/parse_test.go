package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func decEq(t *testing.T, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("got %s, want %s", got.String(), want)
	}
}

func TestParse_Combined(t *testing.T) {
	p, err := Parse("+1000/7*0.95")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decEq(t, p.Amount, "1000")
	if p.Rate == nil || p.FeeRate == nil {
		t.Fatal("rate and fee rate must both be set")
	}
	decEq(t, *p.Rate, "7")
	decEq(t, *p.FeeRate, "0.95")
}

func TestParse_FeeOnly(t *testing.T) {
	p, err := Parse("+1000*0.95")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decEq(t, p.Amount, "1000")
	if p.Rate != nil {
		t.Fatalf("rate must be absent, got %s", p.Rate.String())
	}
	if p.FeeRate == nil {
		t.Fatal("fee rate must be set")
	}
	decEq(t, *p.FeeRate, "0.95")
}

func TestParse_RateOnly(t *testing.T) {
	p, err := Parse("+100/2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decEq(t, p.Amount, "100")
	if p.Rate == nil {
		t.Fatal("rate must be set")
	}
	decEq(t, *p.Rate, "2")
	if p.FeeRate != nil {
		t.Fatal("fee rate must be absent")
	}
}

func TestParse_PlainNumbers(t *testing.T) {
	// sign and decimals survive exactly, no rounding
	cases := []struct{ in, want string }{
		{"+100", "100"},
		{"-500", "-500"},
		{"+12.34", "12.34"},
		{"-0.05", "-0.05"},
		{"42", "42"},
		{" +100 ", "100"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			p, err := Parse(tc.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			decEq(t, p.Amount, tc.want)
			if p.Rate != nil || p.FeeRate != nil {
				t.Fatal("plain numbers carry no modifiers")
			}
		})
	}
}

func TestParse_Arithmetic(t *testing.T) {
	cases := []struct{ in, want string }{
		{"+100-20", "80"},
		{"100-20+5", "85"},
		{"1+2*3", "7"},
		{"(10+20)*2", "60"},
		{"100/-5", "-20"}, // non-positive rate falls through to arithmetic
		{"10/3+0", "3.3"}, // arithmetic results round to one decimal
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			p, err := Parse(tc.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			decEq(t, p.Amount, tc.want)
		})
	}
}

func TestParse_Rejected(t *testing.T) {
	cases := []string{
		"",
		"hello",
		"+100 USD", // space and letters outside the charset
		"12a",
		"1.2.3",
		"100/0",   // division by zero is non-finite, never a ledger entry
		"(1+2",    // unbalanced
		"1+",      // dangling operator
		"+",       // bare sign
		"1;2",     // charset violation
		"2**3",    // missing factor
	}
	for _, in := range cases {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			if !errors.Is(err, ErrNotCommand) {
				t.Fatalf("expected ErrNotCommand, got %v", err)
			}
		})
	}
}

func TestParse_Deterministic(t *testing.T) {
	a, err1 := Parse("+1000/7*0.95")
	b, err2 := Parse("+1000/7*0.95")
	if err1 != nil || err2 != nil {
		t.Fatalf("unexpected errors: %v %v", err1, err2)
	}
	if !a.Amount.Equal(b.Amount) || !a.Rate.Equal(*b.Rate) || !a.FeeRate.Equal(*b.FeeRate) {
		t.Fatal("repeated parse must give identical results")
	}
}
