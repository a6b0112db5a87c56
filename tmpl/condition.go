package tmpl

import (
	"math"
	"strings"
)

// evalCondition evaluates an if/unless expression. Supported forms:
// `a == lit`, `a != lit`, `a > n`, `a < n`, `!a`, `a`. The left side is
// always a variable path; the right side is a literal. A missing variable
// compares as the empty string and as NaN numerically.
func evalCondition(expr string, ctx *Map) bool {
	expr = strings.TrimSpace(expr)

	if left, op, right, ok := splitComparison(expr); ok {
		switch op {
		case "==":
			return operandString(left, ctx) == literal(right)
		case "!=":
			return operandString(left, ctx) != literal(right)
		case ">":
			l, r := operandNumber(left, ctx), parseNumber(literal(right))
			return !math.IsNaN(l) && !math.IsNaN(r) && l > r
		case "<":
			l, r := operandNumber(left, ctx), parseNumber(literal(right))
			return !math.IsNaN(l) && !math.IsNaN(r) && l < r
		}
	}
	if rest, ok := strings.CutPrefix(expr, "!"); ok {
		v, found := Lookup(ctx, strings.TrimSpace(rest))
		return !found || !v.Truthy()
	}
	v, found := Lookup(ctx, expr)
	return found && v.Truthy()
}

// splitComparison finds the first comparison operator outside quoted text.
// A third "=" (`===`, `!==`) is folded into the operator.
func splitComparison(expr string) (left, op, right string, ok bool) {
	var quote byte
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			continue
		case c == '"' || c == '\'':
			quote = c
			continue
		}
		switch {
		case strings.HasPrefix(expr[i:], "=="), strings.HasPrefix(expr[i:], "!="):
			op, right = expr[i:i+2], expr[i+2:]
		case c == '>' || c == '<':
			op, right = expr[i:i+1], expr[i+1:]
		default:
			continue
		}
		if op != ">" && op != "<" {
			right = strings.TrimPrefix(right, "=")
		}
		return expr[:i], op, right, true
	}
	return "", "", "", false
}

func operandString(path string, ctx *Map) string {
	v, ok := Lookup(ctx, strings.TrimSpace(path))
	if !ok {
		return ""
	}
	return v.String()
}

func operandNumber(path string, ctx *Map) float64 {
	v, ok := Lookup(ctx, strings.TrimSpace(path))
	if !ok {
		return math.NaN()
	}
	return v.Float()
}

// literal trims whitespace and one pair of surrounding quotes.
func literal(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
