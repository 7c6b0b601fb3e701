package facts

import (
	"context"
	"fmt"

	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/queryir"
)

// ValueSource resolves facts for where-filter values. *engine.Almanac
// implements it; before a run, use an almanac from Engine.NewAlmanac.
type ValueSource interface {
	FactValue(ctx context.Context, name string, params map[string]any) (any, error)
}

// BuildQuery turns filter specs into a query on collection. Entries apply
// in list order. A where value shaped {fact, path} (or naming the now fact)
// is resolved from src first; with a nil src such values stay as written.
func BuildQuery(ctx context.Context, collection string, filters []ir.FilterSpec, src ValueSource) (queryir.Query, error) {
	if collection == "" {
		return queryir.Query{}, &ir.ConfigError{Field: "collection", Message: "query fact requires a collection"}
	}

	q := queryir.From(collection)
	for i, f := range filters {
		field := fmt.Sprintf("query[%d]", i)
		switch f.Type {
		case ir.FilterWhere:
			if f.Path == "" || f.Operator == "" || f.Value == nil {
				return queryir.Query{}, &ir.ConfigError{Field: field, Message: `where filter requires "path", "operator" and "value"`}
			}
			value, err := whereValue(ctx, f.Value, src)
			if err != nil {
				return queryir.Query{}, fmt.Errorf("%s: %w", field, err)
			}
			q = q.Where(f.Path, queryir.Operator(f.Operator), value)

		case ir.FilterLimit:
			n, ok := ir.ToInt64(f.Value)
			if !ok || n <= 0 {
				return queryir.Query{}, &ir.ConfigError{Field: field, Message: `limit filter requires a positive integer "value"`}
			}
			q = q.Limit(int(n))

		case ir.FilterOrder:
			if f.Path == "" || f.Direction == "" {
				return queryir.Query{}, &ir.ConfigError{Field: field, Message: `order filter requires "path" and "direction"`}
			}
			q = q.OrderBy(f.Path, queryir.Direction(f.Direction))

		default:
			return queryir.Query{}, &ir.ConfigError{
				Field:   field,
				Message: fmt.Sprintf("invalid filter type %q (acceptable: where, limit, order)", f.Type),
			}
		}
	}

	if err := queryir.Validate(q); err != nil {
		return queryir.Query{}, &ir.ConfigError{Field: "query", Message: err.Error()}
	}
	return q, nil
}

// whereValue resolves a filter value reference. References need a path,
// except for the now fact which is usable bare.
func whereValue(ctx context.Context, v any, src ValueSource) (any, error) {
	ref, ok := ir.AsFactRef(v)
	if !ok || src == nil {
		return v, nil
	}
	name := ref.Fact
	if name == "firestore:now" {
		name = NowFactName
	}
	if ref.Path == "" && name != NowFactName {
		return v, nil
	}

	fact, err := src.FactValue(ctx, name, ref.Params)
	if err != nil {
		return nil, fmt.Errorf("resolve where value from fact %q: %w", ref.Fact, err)
	}
	if ir.NormalizePath(ref.Path) == "" {
		return fact, nil
	}
	out, _ := ir.Get(fact, ref.Path)
	return out, nil
}
