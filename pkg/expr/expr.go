// Package expr implements the restricted expression grammar used for
// ${...} interpolation and input mappings. The grammar covers numeric and
// string literals, identifiers with dotted property access, the four basic
// arithmetic operators, and parentheses. Evaluation never panics and never
// returns an error: malformed or unresolvable input yields nil.
package expr

import (
	"strconv"
	"strings"
)

// Placeholder reports whether s is an interpolation expression of the
// form "${...}" and returns the inner expression if so.
func Placeholder(s string) (string, bool) {
	if len(s) < 4 || !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	return s[2 : len(s)-1], true
}

// Resolve walks a dotted path against root. Each segment indexes a
// map[string]any; nil is returned as soon as a segment cannot be resolved.
func Resolve(path string, root any) any {
	current := root
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return nil
		}
		m, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = m[segment]
		if !ok {
			return nil
		}
	}
	return current
}

// Evaluate evaluates expression against vars and returns the result, or
// nil when the expression cannot be parsed or resolved.
func Evaluate(expression string, vars map[string]any) any {
	p := &parser{input: expression, vars: vars}
	p.skipSpace()
	value, ok := p.parseExpr()
	if !ok {
		return nil
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil
	}
	return value
}

type parser struct {
	input string
	pos   int
	vars  map[string]any
}

// parseExpr handles + and - at the lowest precedence level.
func (p *parser) parseExpr() (any, bool) {
	left, ok := p.parseTerm()
	if !ok {
		return nil, false
	}
	for {
		p.skipSpace()
		op, ok := p.peekOp("+", "-")
		if !ok {
			return left, true
		}
		p.pos++
		right, ok := p.parseTerm()
		if !ok {
			return nil, false
		}
		left, ok = apply(op, left, right)
		if !ok {
			return nil, false
		}
	}
}

// parseTerm handles * and /.
func (p *parser) parseTerm() (any, bool) {
	left, ok := p.parseFactor()
	if !ok {
		return nil, false
	}
	for {
		p.skipSpace()
		op, ok := p.peekOp("*", "/")
		if !ok {
			return left, true
		}
		p.pos++
		right, ok := p.parseFactor()
		if !ok {
			return nil, false
		}
		left, ok = apply(op, left, right)
		if !ok {
			return nil, false
		}
	}
}

func (p *parser) parseFactor() (any, bool) {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return nil, false
	}
	switch c := p.input[p.pos]; {
	case c == '(':
		p.pos++
		value, ok := p.parseExpr()
		if !ok {
			return nil, false
		}
		p.skipSpace()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return nil, false
		}
		p.pos++
		return value, true
	case c == '-':
		p.pos++
		value, ok := p.parseFactor()
		if !ok {
			return nil, false
		}
		return apply("-", 0.0, value)
	case c == '\'' || c == '"':
		return p.parseString(c)
	case c >= '0' && c <= '9':
		return p.parseNumber()
	case isIdentStart(c):
		return p.parseReference()
	default:
		return nil, false
	}
}

func (p *parser) parseString(quote byte) (any, bool) {
	end := strings.IndexByte(p.input[p.pos+1:], quote)
	if end < 0 {
		return nil, false
	}
	value := p.input[p.pos+1 : p.pos+1+end]
	p.pos += end + 2
	return value, true
}

func (p *parser) parseNumber() (any, bool) {
	start := p.pos
	for p.pos < len(p.input) && (p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
		p.pos++
	}
	value, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return nil, false
	}
	return value, true
}

func (p *parser) parseReference() (any, bool) {
	start := p.pos
	for p.pos < len(p.input) && (isIdentStart(p.input[p.pos]) || p.input[p.pos] >= '0' && p.input[p.pos] <= '9' || p.input[p.pos] == '.') {
		p.pos++
	}
	path := p.input[start:p.pos]
	value := Resolve(path, anyMap(p.vars))
	if value == nil {
		return nil, false
	}
	return value, true
}

func (p *parser) peekOp(ops ...string) (string, bool) {
	if p.pos >= len(p.input) {
		return "", false
	}
	for _, op := range ops {
		if strings.HasPrefix(p.input[p.pos:], op) {
			return op, true
		}
	}
	return "", false
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

// apply performs arithmetic over numeric operands. String concatenation is
// allowed for + when both sides are strings.
func apply(op string, left, right any) (any, bool) {
	if op == "+" {
		ls, lok := left.(string)
		rs, rok := right.(string)
		if lok && rok {
			return ls + rs, true
		}
	}
	l, lok := toFloat(left)
	r, rok := toFloat(right)
	if !lok || !rok {
		return nil, false
	}
	switch op {
	case "+":
		return l + r, true
	case "-":
		return l - r, true
	case "*":
		return l * r, true
	case "/":
		if r == 0 {
			return nil, false
		}
		return l / r, true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func anyMap(vars map[string]any) map[string]any {
	if vars == nil {
		return map[string]any{}
	}
	return vars
}
