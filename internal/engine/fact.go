package engine

import "context"

// FactFunc computes a dynamic fact. params are the params the condition or
// action asked with; a is the almanac of the running evaluation, so a fact
// may depend on other facts.
type FactFunc func(ctx context.Context, params map[string]any, a *Almanac) (any, error)

// Fact is a named input to rule evaluation. A static fact carries a fixed
// value; a dynamic fact is computed on first use and memoized per run.
type Fact struct {
	Name  string
	value any
	calc  FactFunc
}

// StaticFact creates a fact with a fixed value.
func StaticFact(name string, value any) *Fact {
	return &Fact{Name: name, value: value}
}

// DynamicFact creates a fact computed by fn.
func DynamicFact(name string, fn FactFunc) *Fact {
	return &Fact{Name: name, calc: fn}
}

// IsDynamic reports whether the fact is computed.
func (f *Fact) IsDynamic() bool {
	return f.calc != nil
}

// Value returns a static fact's value. It is nil for dynamic facts.
func (f *Fact) Value() any {
	return f.value
}
