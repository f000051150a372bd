// Package arith answers spoken arithmetic without a model call.
//
// The accepted grammar is deliberately small:
//
//	expr    := term (('+' | '-') term)*
//	term    := unary (('*' | '/' | '%') unary)*
//	unary   := '-' unary | power
//	power   := primary ('^' unary)?
//	primary := number | '(' expr ')'
//
// Exponentiation is right-associative and binds tighter than unary minus on
// its left, so "-2^2" is -4. Nothing outside the grammar is ever evaluated.
package arith

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrSyntax is returned for input outside the grammar.
	ErrSyntax = errors.New("arith: syntax error")

	// ErrDivisionByZero is returned for x/0 and x%0.
	ErrDivisionByZero = errors.New("arith: division by zero")

	// ErrNotFinite is returned when a result overflows or is undefined.
	ErrNotFinite = errors.New("arith: result is not finite")
)

// maxDepth bounds parenthesis and exponent nesting.
const maxDepth = 64

// spoken maps spoken operator phrases to symbols, longest phrases first.
var spoken = []struct {
	re  *regexp.Regexp
	sym string
}{
	{regexp.MustCompile(`\bto the power of\b`), " ^ "},
	{regexp.MustCompile(`\bmultiplied by\b`), " * "},
	{regexp.MustCompile(`\bdivided by\b`), " / "},
	{regexp.MustCompile(`\braised to\b`), " ^ "},
	{regexp.MustCompile(`\bmodulo\b`), " % "},
	{regexp.MustCompile(`\bplus\b`), " + "},
	{regexp.MustCompile(`\bminus\b`), " - "},
	{regexp.MustCompile(`\btimes\b`), " * "},
	{regexp.MustCompile(`\bover\b`), " / "},
	{regexp.MustCompile(`\bmod\b`), " % "},
	{regexp.MustCompile(`\bx\b`), " * "},
}

var (
	leadIn   = regexp.MustCompile(`^(what is|what's|whats|calculate|compute|how much is)\s+`)
	trailing = regexp.MustCompile(`[\s?!.=]+$`)
	spaces   = regexp.MustCompile(`\s+`)
)

// Normalize lowercases text, strips a leading question phrase and trailing
// punctuation, and replaces spoken operators with symbols.
func Normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.ReplaceAll(s, "×", "*")
	s = strings.ReplaceAll(s, "÷", "/")
	s = strings.ReplaceAll(s, "−", "-")
	s = leadIn.ReplaceAllString(s, "")
	s = trailing.ReplaceAllString(s, "")
	for _, sp := range spoken {
		s = sp.re.ReplaceAllString(s, sp.sym)
	}
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}

// Detect reports whether the whole of text is an arithmetic expression with
// at least one binary operator, and returns it normalised. "I have 2 dogs"
// and a bare "42" are not expressions.
func Detect(text string) (string, bool) {
	expr := Normalize(text)
	if expr == "" {
		return "", false
	}
	p := &parser{src: expr}
	if _, err := p.parse(); errors.Is(err, ErrSyntax) {
		return "", false
	}
	if p.operators == 0 {
		return "", false
	}
	return expr, true
}

// Eval parses and evaluates expr.
func Eval(expr string) (float64, error) {
	p := &parser{src: expr}
	return p.parse()
}

// Format renders a result the way it is spoken back. Values are rounded to
// ten decimal places so binary float noise is not read aloud.
func Format(v float64) string {
	if math.Abs(v) < 1e15 {
		v = math.Round(v*1e10) / 1e10
	}
	if v == 0 {
		v = 0 // normalise negative zero
	}
	return "The result is " + strconv.FormatFloat(v, 'f', -1, 64)
}

// Answer detects, evaluates and formats text in one step. ok is false when
// text is not an expression; err is set when it is one but cannot be
// evaluated.
func Answer(text string) (answer string, ok bool, err error) {
	expr, ok := Detect(text)
	if !ok {
		return "", false, nil
	}
	v, err := Eval(expr)
	if err != nil {
		return "", true, err
	}
	return Format(v), true, nil
}

// ── Parser ──────────────────────────────────────────────────────────────────

type parser struct {
	src       string
	pos       int
	depth     int
	operators int

	// evalErr holds the first evaluation error. Parsing continues past it
	// so syntax errors later in the input still win.
	evalErr error
}

func (p *parser) parse() (float64, error) {
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return 0, p.errorf("unexpected %q", p.src[p.pos:])
	}
	if p.evalErr != nil {
		return 0, p.evalErr
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, ErrNotFinite
	}
	return v, nil
}

func (p *parser) expr() (float64, error) {
	v, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.next()
			r, err := p.term()
			if err != nil {
				return 0, err
			}
			v += r
		case '-':
			p.next()
			r, err := p.term()
			if err != nil {
				return 0, err
			}
			v -= r
		default:
			return v, nil
		}
	}
}

func (p *parser) term() (float64, error) {
	v, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' && op != '%' {
			return v, nil
		}
		p.next()
		r, err := p.unary()
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			v *= r
		case '/':
			if r == 0 {
				p.fail(ErrDivisionByZero)
			}
			v /= r
		case '%':
			if r == 0 {
				p.fail(ErrDivisionByZero)
			}
			v = math.Mod(v, r)
		}
	}
}

func (p *parser) unary() (float64, error) {
	if p.peek() == '-' {
		p.pos++ // unary minus is not a binary operator
		if err := p.enter(); err != nil {
			return 0, err
		}
		defer p.leave()
		v, err := p.unary()
		return -v, err
	}
	return p.power()
}

func (p *parser) power() (float64, error) {
	base, err := p.primary()
	if err != nil {
		return 0, err
	}
	if p.peek() != '^' {
		return base, nil
	}
	p.next()
	if err := p.enter(); err != nil {
		return 0, err
	}
	defer p.leave()
	exp, err := p.unary()
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (p *parser) primary() (float64, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0, p.errorf("unexpected end of input")
	}
	if p.src[p.pos] == '(' {
		p.pos++
		if err := p.enter(); err != nil {
			return 0, err
		}
		defer p.leave()
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, p.errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}
	return p.number()
}

func (p *parser) number() (float64, error) {
	start := p.pos
	seenDot := false
scan:
	for ; p.pos < len(p.src); p.pos++ {
		c := p.src[p.pos]
		switch {
		case c >= '0' && c <= '9':
		case c == '.' && !seenDot:
			seenDot = true
		case c == ',' && p.pos > start && !seenDot && isDigits(p.src, p.pos+1, 3):
			// thousands separator, as in "1,000"
		default:
			break scan
		}
	}
	lit := strings.ReplaceAll(p.src[start:p.pos], ",", "")
	if lit == "" || lit == "." {
		return 0, p.errorf("expected number at offset %d", start)
	}
	v, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return 0, p.errorf("bad number %q", lit)
	}
	return v, nil
}

func isDigits(s string, from, n int) bool {
	if from+n > len(s) {
		return false
	}
	for i := from; i < from+n; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return from+n == len(s) || s[from+n] < '0' || s[from+n] > '9'
}

// peek returns the next non-space byte without consuming it, or 0 at end.
func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

// next consumes a binary operator.
func (p *parser) next() {
	p.pos++
	p.operators++
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return p.errorf("nesting deeper than %d", maxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) fail(err error) {
	if p.evalErr == nil {
		p.evalErr = err
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSyntax, fmt.Sprintf(format, args...))
}
