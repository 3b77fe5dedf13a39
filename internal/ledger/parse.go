package ledger

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Parsed is the structured form of an accounting command.
// Rate and FeeRate are nil when the command did not carry them.
type Parsed struct {
	Amount  decimal.Decimal
	Rate    *decimal.Decimal
	FeeRate *decimal.Decimal
}

// Precision applied to parser output. Downstream aggregation re-rounds after
// every accumulation step so totals stay equal to the sum of rounded parts.
const (
	amountPlaces = 2
	ratePlaces   = 4
	exprPlaces   = 1
)

var (
	combinedRe = regexp.MustCompile(`^([+-]?\d+(?:\.\d+)?)/(\d+(?:\.\d+)?)\*(\d+(?:\.\d+)?)$`)
	feeOnlyRe  = regexp.MustCompile(`^([+-]?\d+(?:\.\d+)?)\*(\d+(?:\.\d+)?)$`)
	rateOnlyRe = regexp.MustCompile(`^([+-]?\d+(?:\.\d+)?)/(-?\d+(?:\.\d+)?)$`)
	plainRe    = regexp.MustCompile(`^[+-]?\d+(?:\.\d+)?$`)
)

// Parse turns a command string into a Parsed amount. Forms are tried in
// priority order: combined amount/rate*fee, amount*fee, amount/rate, additive
// arithmetic, plain signed number. Anything else returns ErrNotCommand.
//
// A rate-only command whose rate is zero or negative does not fail outright:
// it falls through to the arithmetic form, so "100/0" is rejected for
// non-finiteness and "100/-5" evaluates as a division. This mirrors the
// historical behavior of the command language and is relied upon by users.
func Parse(text string) (Parsed, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return Parsed{}, ErrNotCommand
	}

	if m := combinedRe.FindStringSubmatch(s); m != nil {
		amount, err := decimal.NewFromString(m[1])
		if err != nil {
			return Parsed{}, ErrNotCommand
		}
		rate, err := decimal.NewFromString(m[2])
		if err != nil {
			return Parsed{}, ErrNotCommand
		}
		fee, err := decimal.NewFromString(m[3])
		if err != nil {
			return Parsed{}, ErrNotCommand
		}
		rate = rate.Round(ratePlaces)
		fee = fee.Round(ratePlaces)
		return Parsed{Amount: amount.Round(amountPlaces), Rate: &rate, FeeRate: &fee}, nil
	}

	if m := feeOnlyRe.FindStringSubmatch(s); m != nil {
		amount, err := decimal.NewFromString(m[1])
		if err != nil {
			return Parsed{}, ErrNotCommand
		}
		fee, err := decimal.NewFromString(m[2])
		if err != nil {
			return Parsed{}, ErrNotCommand
		}
		fee = fee.Round(ratePlaces)
		return Parsed{Amount: amount.Round(amountPlaces), FeeRate: &fee}, nil
	}

	if m := rateOnlyRe.FindStringSubmatch(s); m != nil {
		amount, aerr := decimal.NewFromString(m[1])
		rate, rerr := decimal.NewFromString(m[2])
		if aerr == nil && rerr == nil && rate.IsPositive() {
			rate = rate.Round(ratePlaces)
			return Parsed{Amount: amount.Round(amountPlaces), Rate: &rate}, nil
		}
		// rate <= 0: fall through to the arithmetic form
	}

	if plainRe.MatchString(s) {
		amount, err := decimal.NewFromString(s)
		if err != nil {
			return Parsed{}, ErrNotCommand
		}
		return Parsed{Amount: amount}, nil
	}

	if !exprCharsetOK(s) {
		return Parsed{}, ErrNotCommand
	}
	value, err := evalExpr(s)
	if err != nil {
		return Parsed{}, ErrNotCommand
	}
	return Parsed{Amount: value.Round(exprPlaces)}, nil
}

// exprCharsetOK reports whether s contains only characters the arithmetic
// evaluator accepts. Anything outside the whitelist rejects the whole input;
// expressions are never handed to a general-purpose interpreter.
func exprCharsetOK(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r == '+' || r == '-' || r == '*' || r == '/':
		case r == '.' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return true
}

// exprParser is a recursive-descent evaluator over decimal literals and
// + - * / ( ) with unary sign. Division by zero is an error, which Parse
// maps to ErrNotCommand (the non-finite-result rule).
type exprParser struct {
	s   string
	pos int
}

func evalExpr(s string) (decimal.Decimal, error) {
	p := &exprParser{s: s}
	v, err := p.parseSum()
	if err != nil {
		return decimal.Zero, err
	}
	if p.pos != len(p.s) {
		return decimal.Zero, fmt.Errorf("unexpected character at %d", p.pos)
	}
	return v, nil
}

func (p *exprParser) peek() byte {
	if p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *exprParser) parseSum() (decimal.Decimal, error) {
	left, err := p.parseProduct()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseProduct()
			if err != nil {
				return decimal.Zero, err
			}
			left = left.Add(right)
		case '-':
			p.pos++
			right, err := p.parseProduct()
			if err != nil {
				return decimal.Zero, err
			}
			left = left.Sub(right)
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseProduct() (decimal.Decimal, error) {
	left, err := p.parseFactor()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return decimal.Zero, err
			}
			left = left.Mul(right)
		case '/':
			p.pos++
			right, err := p.parseFactor()
			if err != nil {
				return decimal.Zero, err
			}
			if right.IsZero() {
				return decimal.Zero, fmt.Errorf("division by zero")
			}
			left = left.Div(right)
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseFactor() (decimal.Decimal, error) {
	switch p.peek() {
	case '+':
		p.pos++
		return p.parseFactor()
	case '-':
		p.pos++
		v, err := p.parseFactor()
		if err != nil {
			return decimal.Zero, err
		}
		return v.Neg(), nil
	case '(':
		p.pos++
		v, err := p.parseSum()
		if err != nil {
			return decimal.Zero, err
		}
		if p.peek() != ')' {
			return decimal.Zero, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}
	return p.parseNumber()
}

func (p *exprParser) parseNumber() (decimal.Decimal, error) {
	start := p.pos
	dots := 0
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		if c >= '0' && c <= '9' {
			p.pos++
			continue
		}
		if c == '.' {
			dots++
			p.pos++
			continue
		}
		break
	}
	if p.pos == start || dots > 1 {
		return decimal.Zero, fmt.Errorf("expected number at %d", start)
	}
	return decimal.NewFromString(p.s[start:p.pos])
}
