package engine

import (
	"cmp"

	"github.com/roach88/docrules/internal/ir"
)

// OperatorFunc compares a fact value against a condition value.
type OperatorFunc func(factValue, compareValue any) bool

// DefaultOperators returns the built-in operator table.
func DefaultOperators() map[string]OperatorFunc {
	return map[string]OperatorFunc{
		"equal":                equalOp,
		"notEqual":             func(a, b any) bool { return !equalOp(a, b) },
		"lessThan":             ordered(func(c int) bool { return c < 0 }),
		"lessThanInclusive":    ordered(func(c int) bool { return c <= 0 }),
		"greaterThan":          ordered(func(c int) bool { return c > 0 }),
		"greaterThanInclusive": ordered(func(c int) bool { return c >= 0 }),
		"in":                   inOp,
		"notIn":                func(a, b any) bool { return !inOp(a, b) },
		"contains":             containsOp,
		"doesNotContain":       doesNotContainOp,
		"hasProp":              HasProp,
	}
}

// HasProp reports whether the dot path named by path resolves inside v to a
// value that is not empty. path must be a string.
func HasProp(v, path any) bool {
	p, ok := path.(string)
	if !ok {
		return false
	}
	got, ok := ir.Get(v, p)
	return ok && !ir.IsEmpty(got)
}

func equalOp(a, b any) bool {
	return Equal(a, b)
}

// Equal compares two decoded JSON values deeply. Numbers compare by value
// regardless of their Go type.
func Equal(a, b any) bool {
	if fa, ok := ir.ToFloat(a); ok {
		fb, ok := ir.ToFloat(b)
		return ok && fa == fb
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	return false
}

// ordered wraps an ordering check. Both sides must be numbers, or both
// store timestamps compared by (seconds, nanoseconds).
func ordered(check func(c int) bool) OperatorFunc {
	return func(a, b any) bool {
		c, ok := compareValues(a, b)
		return ok && check(c)
	}
}

func compareValues(a, b any) (int, bool) {
	if ta, ok := ir.AsTimestamp(a); ok {
		tb, ok := ir.AsTimestamp(b)
		if !ok {
			return 0, false
		}
		return ta.Compare(tb), true
	}
	fa, ok := ir.ToFloat(a)
	if !ok {
		return 0, false
	}
	fb, ok := ir.ToFloat(b)
	if !ok {
		return 0, false
	}
	return cmp.Compare(fa, fb), true
}

func inOp(a, list any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if Equal(a, item) {
			return true
		}
	}
	return false
}

func containsOp(list, b any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	return inOp(b, items)
}

func doesNotContainOp(list, b any) bool {
	items, ok := list.([]any)
	if !ok {
		return false
	}
	return !inOp(b, items)
}
