// Package querysql compiles queryir queries to parameterized SQL over the
// documents table.
//
// Every compiled query ends with the id as the final ORDER BY key so results
// are deterministic, and every value is bound as a parameter, never
// interpolated.
package querysql

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/queryir"
)

// Dialect selects the SQL flavour.
type Dialect int

const (
	// SQLite uses json_extract/json_each over a TEXT data column.
	SQLite Dialect = iota
	// Postgres uses the #> operator over a JSONB data column.
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// Body returns the expression selecting a document body as it was written.
// Rows written before the raw column existed fall back to data.
func (d Dialect) Body() string {
	if d == Postgres {
		return "COALESCE(raw, data::text)"
	}
	return "COALESCE(raw, data)"
}

// Columns returns the column list every compiled query returns.
func (d Dialect) Columns() string {
	return "id, " + d.Body() + ", created_at, updated_at"
}

// Compiler turns queries into SQL for one dialect.
type Compiler struct {
	Dialect Dialect
}

// NewCompiler returns a compiler for d.
func NewCompiler(d Dialect) *Compiler {
	return &Compiler{Dialect: d}
}

// Compile converts a query to SQL. Returns (sql, params, error).
func (c *Compiler) Compile(q queryir.Query) (string, []any, error) {
	if err := queryir.Validate(q); err != nil {
		return "", nil, fmt.Errorf("invalid query: %w", err)
	}

	b := &builder{dialect: c.Dialect}
	where := []string{"collection = " + b.bind(q.Collection)}
	var orders []string

	for _, s := range q.Steps {
		switch step := s.(type) {
		case queryir.Where:
			frag, err := b.where(step)
			if err != nil {
				return "", nil, err
			}
			where = append(where, frag)
		case queryir.OrderBy:
			dir := "ASC"
			if step.Direction == queryir.Desc {
				dir = "DESC"
			}
			for _, key := range b.orderKeys(step.Path) {
				orders = append(orders, key+" "+dir)
			}
		case queryir.Limit:
			// applied after the loop so the last limit wins
		default:
			return "", nil, fmt.Errorf("unsupported step type: %T", s)
		}
	}

	// Deterministic tiebreaker, always last.
	orders = append(orders, b.idOrder())

	sql := fmt.Sprintf("SELECT %s FROM documents WHERE %s ORDER BY %s",
		c.Dialect.Columns(),
		strings.Join(where, " AND "),
		strings.Join(orders, ", "))

	if n := q.EffectiveLimit(); n > 0 {
		sql += " LIMIT " + b.bind(n)
	}

	return sql, b.params, nil
}

type builder struct {
	dialect Dialect
	params  []any
}

// bind appends a parameter and returns its placeholder.
func (b *builder) bind(v any) string {
	b.params = append(b.params, v)
	if b.dialect == Postgres {
		return fmt.Sprintf("$%d", len(b.params))
	}
	return "?"
}

func (b *builder) idOrder() string {
	if b.dialect == Postgres {
		return `id COLLATE "C" ASC`
	}
	return "id COLLATE BINARY ASC"
}

// orderKeys returns the sort expressions for path. A timestamp object sorts
// by its seconds then its nanoseconds; any other value sorts as itself.
func (b *builder) orderKeys(path string) []string {
	first := "(CASE WHEN " + b.typeOf(path) + " = 'object' THEN " + b.field(path+"._seconds") +
		" ELSE " + b.field(path) + " END)"
	return []string{first, b.field(path + "._nanoseconds")}
}

// field returns the expression selecting path from the data column.
func (b *builder) field(path string) string {
	if b.dialect == Postgres {
		return "(data #> " + b.bind(pgPath(path)) + "::text[])"
	}
	return "json_extract(data, " + b.bind(sqlitePath(path)) + ")"
}

// value binds a scalar comparison value.
func (b *builder) value(v any) (string, error) {
	if b.dialect == Postgres {
		raw, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode value: %w", err)
		}
		return b.bind(string(raw)) + "::jsonb", nil
	}
	switch t := v.(type) {
	case bool:
		// json_extract yields 1/0 for JSON booleans.
		if t {
			return b.bind(1), nil
		}
		return b.bind(0), nil
	case string, float64, float32, int, int32, int64:
		return b.bind(t), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

func (b *builder) values(list []any) (string, error) {
	parts := make([]string, len(list))
	for i, v := range list {
		p, err := b.value(v)
		if err != nil {
			return "", fmt.Errorf("list[%d]: %w", i, err)
		}
		parts[i] = p
	}
	return strings.Join(parts, ", "), nil
}

func (b *builder) where(w queryir.Where) (string, error) {
	if w.Value == nil {
		switch w.Op {
		case queryir.OpEqual:
			return b.typeOf(w.Path) + " = 'null'", nil
		case queryir.OpNotEqual:
			return b.typeOf(w.Path) + " <> 'null'", nil
		}
		return "", fmt.Errorf("operator %q cannot compare against null", w.Op)
	}

	if ts, ok := ir.AsTimestamp(w.Value); ok {
		return b.timestampWhere(w, ts)
	}

	switch w.Op {
	case queryir.OpEqual, queryir.OpNotEqual, queryir.OpLess, queryir.OpLessEqual, queryir.OpGreater, queryir.OpGreaterEqual:
		field := b.field(w.Path)
		val, err := b.value(w.Value)
		if err != nil {
			return "", err
		}
		op := string(w.Op)
		if w.Op == queryir.OpEqual {
			op = "="
		}
		return fmt.Sprintf("%s %s %s", field, op, val), nil

	case queryir.OpIn, queryir.OpNotIn:
		if w.Op == queryir.OpIn {
			field := b.field(w.Path)
			list, err := b.values(w.Value.([]any))
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%s IN (%s)", field, list), nil
		}
		present := b.field(w.Path)
		field := b.field(w.Path)
		list, err := b.values(w.Value.([]any))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s IS NOT NULL AND %s NOT IN (%s))", present, field, list), nil

	case queryir.OpArrayContains:
		return b.arrayExists(w.Path, []any{w.Value})

	case queryir.OpArrayContainsAny:
		return b.arrayExists(w.Path, w.Value.([]any))
	}
	return "", fmt.Errorf("unsupported operator %q", w.Op)
}

// timestampWhere compares a timestamp field by (seconds, nanoseconds).
// Placeholders are bound in the order they appear in the SQL text.
func (b *builder) timestampWhere(w queryir.Where, ts ir.Timestamp) (string, error) {
	secs := func() string { return b.field(w.Path + "._seconds") }
	nanos := func() string { return b.field(w.Path + "._nanoseconds") }
	val := func(n int64) string {
		v, _ := b.value(n)
		return v
	}

	switch w.Op {
	case queryir.OpEqual:
		return "(" + secs() + " = " + val(ts.Seconds) + " AND " + nanos() + " = " + val(ts.Nanoseconds) + ")", nil
	case queryir.OpNotEqual:
		return "(" + secs() + " <> " + val(ts.Seconds) + " OR " + nanos() + " <> " + val(ts.Nanoseconds) + ")", nil
	case queryir.OpLess, queryir.OpLessEqual, queryir.OpGreater, queryir.OpGreaterEqual:
		strict := "<"
		if w.Op == queryir.OpGreater || w.Op == queryir.OpGreaterEqual {
			strict = ">"
		}
		return "(" + secs() + " " + strict + " " + val(ts.Seconds) +
			" OR (" + secs() + " = " + val(ts.Seconds) + " AND " + nanos() + " " + string(w.Op) + " " + val(ts.Nanoseconds) + "))", nil
	}
	return "", fmt.Errorf("operator %q cannot compare against a timestamp", w.Op)
}

func (b *builder) arrayExists(path string, list []any) (string, error) {
	// Placeholders are bound in the order they appear in the SQL text.
	kind := b.typeOf(path)
	var elems string
	if b.dialect == Postgres {
		elems = "jsonb_array_elements(CASE WHEN " + b.typeOf(path) + " = 'array' THEN " + b.field(path) + " ELSE '[]'::jsonb END) AS e(value)"
	} else {
		elems = "json_each(data, " + b.bind(sqlitePath(path)) + ") AS e"
	}
	vals, err := b.values(list)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s = 'array' AND EXISTS (SELECT 1 FROM %s WHERE e.value IN (%s)))", kind, elems, vals), nil
}

// typeOf returns the JSON type name of the value at path.
func (b *builder) typeOf(path string) string {
	if b.dialect == Postgres {
		return "jsonb_typeof" + b.field(path)
	}
	return "json_type(data, " + b.bind(sqlitePath(path)) + ")"
}

func sqlitePath(path string) string {
	var sb strings.Builder
	sb.WriteString("$")
	for _, seg := range strings.Split(path, ".") {
		if isIndex(seg) {
			sb.WriteString("[" + seg + "]")
			continue
		}
		sb.WriteString(`."` + strings.ReplaceAll(seg, `"`, `\"`) + `"`)
	}
	return sb.String()
}

func pgPath(path string) string {
	segs := strings.Split(path, ".")
	for i, s := range segs {
		segs[i] = `"` + strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `"`, `\"`) + `"`
	}
	return "{" + strings.Join(segs, ",") + "}"
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
