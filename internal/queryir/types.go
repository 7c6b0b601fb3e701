package queryir

import (
	"slices"

	"github.com/roach88/docrules/internal/ir"
)

// Operator is a where-clause comparison.
type Operator string

const (
	OpEqual            Operator = "=="
	OpNotEqual         Operator = "!="
	OpLess             Operator = "<"
	OpLessEqual        Operator = "<="
	OpGreater          Operator = ">"
	OpGreaterEqual     Operator = ">="
	OpIn               Operator = "in"
	OpNotIn            Operator = "not-in"
	OpArrayContains    Operator = "array-contains"
	OpArrayContainsAny Operator = "array-contains-any"
)

// Operators lists every supported operator.
var Operators = []Operator{
	OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual,
	OpIn, OpNotIn, OpArrayContains, OpArrayContainsAny,
}

// Valid reports whether op is supported.
func (op Operator) Valid() bool {
	return slices.Contains(Operators, op)
}

// TakesList reports whether op compares against a list of values.
func (op Operator) TakesList() bool {
	return op == OpIn || op == OpNotIn || op == OpArrayContainsAny
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Step is one chained query operation.
//
// This is a sealed interface: only Where, OrderBy and Limit implement it.
type Step interface {
	stepNode()
}

// Where filters documents whose field at Path compares to Value.
type Where struct {
	Path  string
	Op    Operator
	Value any
}

func (Where) stepNode() {}

// OrderBy sorts by the field at Path.
type OrderBy struct {
	Path      string
	Direction Direction
}

func (OrderBy) stepNode() {}

// Limit caps the number of documents returned. A later Limit replaces an
// earlier one.
type Limit struct {
	N int
}

func (Limit) stepNode() {}

// Query is a collection query. The zero Query is invalid; build one with
// From. Builder methods return a new Query and never modify the receiver.
type Query struct {
	Collection string
	Steps      []Step
}

// From starts a query over collection.
func From(collection string) Query {
	return Query{Collection: collection}
}

func (q Query) with(s Step) Query {
	steps := make([]Step, len(q.Steps), len(q.Steps)+1)
	copy(steps, q.Steps)
	return Query{Collection: q.Collection, Steps: append(steps, s)}
}

// Where adds a filter. A leading "$." on path is dropped.
func (q Query) Where(path string, op Operator, value any) Query {
	return q.with(Where{Path: ir.NormalizePath(path), Op: op, Value: value})
}

// OrderBy adds a sort key. An empty direction sorts ascending.
func (q Query) OrderBy(path string, dir Direction) Query {
	if dir == "" {
		dir = Asc
	}
	return q.with(OrderBy{Path: ir.NormalizePath(path), Direction: dir})
}

// Limit caps the result size.
func (q Query) Limit(n int) Query {
	return q.with(Limit{N: n})
}

// Wheres returns the filter steps in order.
func (q Query) Wheres() []Where {
	var out []Where
	for _, s := range q.Steps {
		if w, ok := s.(Where); ok {
			out = append(out, w)
		}
	}
	return out
}

// Orders returns the sort steps in order.
func (q Query) Orders() []OrderBy {
	var out []OrderBy
	for _, s := range q.Steps {
		if o, ok := s.(OrderBy); ok {
			out = append(out, o)
		}
	}
	return out
}

// EffectiveLimit returns the last Limit step, or 0 when the query is
// unlimited.
func (q Query) EffectiveLimit() int {
	n := 0
	for _, s := range q.Steps {
		if l, ok := s.(Limit); ok {
			n = l.N
		}
	}
	return n
}
