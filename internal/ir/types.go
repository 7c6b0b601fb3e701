package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RuleType selects which trigger evaluates a rule set.
type RuleType string

const (
	RuleTypeDoc       RuleType = "doc"
	RuleTypeScheduled RuleType = "scheduled"
	RuleTypeAPI       RuleType = "api"
	RuleTypeCallable  RuleType = "callable"
)

// Valid reports whether t is a known rule type.
func (t RuleType) Valid() bool {
	switch t {
	case RuleTypeDoc, RuleTypeScheduled, RuleTypeAPI, RuleTypeCallable:
		return true
	}
	return false
}

// RuleSet is a stored rule set document.
//
// ID is the document id in the rulesets collection and is not part of the
// stored body.
type RuleSet struct {
	ID              string                `json:"-"`
	Title           string                `json:"title"`
	Active          bool                  `json:"active"`
	RuleType        RuleType              `json:"ruleType"`
	Filters         Filters               `json:"filters"`
	DryRun          bool                  `json:"dryRun,omitempty"`
	FieldMaps       map[string][]FieldMap `json:"fieldMaps,omitempty"`
	AdditionalFacts FactDefs              `json:"additionalFacts,omitempty"`
	Rules           []RuleDef             `json:"rules"`
}

// Filters select the trigger events a rule set responds to.
type Filters struct {
	Collection string `json:"collection,omitempty"`
	Cron       string `json:"cron,omitempty"`
	Method     string `json:"method,omitempty"`
	EndPoint   string `json:"endPoint,omitempty"`
}

// UnmarshalJSON accepts the legacy layout where cron, method and endPoint
// sit at the top level of the rule set instead of under filters.
func (rs *RuleSet) UnmarshalJSON(data []byte) error {
	type plain RuleSet
	var aux struct {
		plain
		Cron     string `json:"cron"`
		Method   string `json:"method"`
		EndPoint string `json:"endPoint"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*rs = RuleSet(aux.plain)
	if rs.Filters.Cron == "" {
		rs.Filters.Cron = aux.Cron
	}
	if rs.Filters.Method == "" {
		rs.Filters.Method = aux.Method
	}
	if rs.Filters.EndPoint == "" {
		rs.Filters.EndPoint = aux.EndPoint
	}
	return nil
}

// IsBulk reports whether any additional fact is a collection query. Such a
// rule set is replicated once per document the query returns.
func (rs *RuleSet) IsBulk() bool {
	for _, f := range rs.AdditionalFacts {
		if f.Def.Shape() == FactShapeQuery {
			return true
		}
	}
	return false
}

// FieldMap renames a field between the stored shape ("ours") and the shape
// exposed over the api ("theirs"). Value, when set, is written instead of
// the incoming value.
type FieldMap struct {
	Ours   string `json:"ours"`
	Theirs string `json:"theirs"`
	Value  any    `json:"value,omitempty"`
}

// FactShape classifies a FactDef.
type FactShape int

const (
	FactShapeInvalid FactShape = iota
	FactShapeLiteral
	FactShapeDocByID
	FactShapeDocByDerivedID
	FactShapeQuery
)

func (s FactShape) String() string {
	switch s {
	case FactShapeLiteral:
		return "literal"
	case FactShapeDocByID:
		return "doc"
	case FactShapeDocByDerivedID:
		return "derived-doc"
	case FactShapeQuery:
		return "query"
	default:
		return "invalid"
	}
}

// FactDef declares how an additional fact is produced.
//
// Exactly one shape applies: {data}, {collection, id}, {collection, id:{fact,path}}
// or {collection, query|filters}.
type FactDef struct {
	Data       any          `json:"data,omitempty"`
	Collection string       `json:"collection,omitempty"`
	ID         *IDRef       `json:"id,omitempty"`
	Query      []FilterSpec `json:"query,omitempty"`
	Filters    []FilterSpec `json:"filters,omitempty"`
}

// Shape returns which of the FactDef shapes applies. A def that carries both
// an id and a query is invalid.
func (d FactDef) Shape() FactShape {
	hasQuery := d.Query != nil || d.Filters != nil
	switch {
	case d.Data != nil && d.Collection == "" && d.ID == nil && !hasQuery:
		return FactShapeLiteral
	case d.Collection != "" && hasQuery && d.ID == nil:
		return FactShapeQuery
	case d.Collection != "" && d.ID != nil && !hasQuery:
		if d.ID.Ref != nil {
			return FactShapeDocByDerivedID
		}
		if d.ID.Literal != "" {
			return FactShapeDocByID
		}
	}
	return FactShapeInvalid
}

// FilterList returns the query filters, preferring filters over query when
// both are present.
func (d FactDef) FilterList() []FilterSpec {
	if d.Filters != nil {
		return d.Filters
	}
	return d.Query
}

// Refs returns the names of the facts def reads: the derived id source and
// every where value that references a fact.
func (d FactDef) Refs() []string {
	var names []string
	if d.ID != nil && d.ID.Ref != nil {
		names = append(names, d.ID.Ref.Fact)
	}
	for _, f := range d.FilterList() {
		if f.Type != FilterWhere {
			continue
		}
		if ref, ok := AsFactRef(f.Value); ok {
			names = append(names, ref.Fact)
		}
	}
	return names
}

// IDRef is a document id: a literal string or a {fact, path} reference.
type IDRef struct {
	Literal string
	Ref     *FactRef
}

func (r IDRef) MarshalJSON() ([]byte, error) {
	if r.Ref != nil {
		return json.Marshal(r.Ref)
	}
	return json.Marshal(r.Literal)
}

func (r *IDRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var ref FactRef
		if err := json.Unmarshal(data, &ref); err != nil {
			return err
		}
		if ref.Fact == "" {
			return fmt.Errorf("id reference requires a fact name")
		}
		r.Ref = &ref
		return nil
	}
	var lit any
	if err := json.Unmarshal(data, &lit); err != nil {
		return err
	}
	switch v := lit.(type) {
	case string:
		r.Literal = v
	case float64:
		r.Literal = formatNumber(v)
	default:
		return fmt.Errorf("id must be a string or a fact reference, got %T", lit)
	}
	return nil
}

// FilterType distinguishes query filter entries.
type FilterType string

const (
	FilterWhere FilterType = "where"
	FilterLimit FilterType = "limit"
	FilterOrder FilterType = "order"
)

// FilterSpec is one entry of a query fact. Entries are applied in list order.
type FilterSpec struct {
	Type      FilterType `json:"type"`
	Path      string     `json:"path,omitempty"`
	Operator  string     `json:"operator,omitempty"`
	Value     any        `json:"value,omitempty"`
	Direction string     `json:"direction,omitempty"`
}

// FactRef points at a fact value, optionally narrowed by a dot path.
type FactRef struct {
	Fact   string         `json:"fact"`
	Path   string         `json:"path,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// AsFactRef recognises a decoded {fact, path?, params?} object.
func AsFactRef(v any) (FactRef, bool) {
	switch m := v.(type) {
	case map[string]any:
		name, ok := m["fact"].(string)
		if !ok || name == "" {
			return FactRef{}, false
		}
		ref := FactRef{Fact: name}
		if p, ok := m["path"].(string); ok {
			ref.Path = p
		}
		if params, ok := m["params"].(map[string]any); ok {
			ref.Params = params
		}
		return ref, true
	case FactRef:
		return m, m.Fact != ""
	case *FactRef:
		if m == nil {
			return FactRef{}, false
		}
		return *m, m.Fact != ""
	}
	return FactRef{}, false
}

// RuleDef is a single rule inside a rule set.
type RuleDef struct {
	Name       string    `json:"name"`
	Priority   int       `json:"priority,omitempty"`
	Conditions Condition `json:"conditions"`
	Event      Event     `json:"event"`
	OnSuccess  Outcome   `json:"onSuccess"`
	OnFailure  Outcome   `json:"onFailure"`
}

// Event is the descriptor reported when a rule resolves.
type Event struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params,omitempty"`
}

// Outcome lists the actions dispatched for one rule result.
type Outcome struct {
	Actions Actions `json:"actions,omitempty"`
}

// Condition is a node of a condition tree. Exactly one of All, Any, Not or
// the leaf fields is set.
type Condition struct {
	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`
	Not *Condition  `json:"not,omitempty"`

	Fact     string         `json:"fact,omitempty"`
	Path     string         `json:"path,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
	Operator string         `json:"operator,omitempty"`
	Value    any            `json:"value,omitempty"`
}

// ConditionKind identifies the node type of a Condition.
type ConditionKind int

const (
	ConditionInvalid ConditionKind = iota
	ConditionAll
	ConditionAny
	ConditionNot
	ConditionLeaf
)

// Kind reports the node type.
func (c Condition) Kind() ConditionKind {
	switch {
	case c.All != nil:
		return ConditionAll
	case c.Any != nil:
		return ConditionAny
	case c.Not != nil:
		return ConditionNot
	case c.Fact != "" && c.Operator != "":
		return ConditionLeaf
	}
	return ConditionInvalid
}

// Walk calls fn for every leaf in the tree, depth first.
func (c Condition) Walk(fn func(leaf Condition)) {
	switch c.Kind() {
	case ConditionAll:
		for _, sub := range c.All {
			sub.Walk(fn)
		}
	case ConditionAny:
		for _, sub := range c.Any {
			sub.Walk(fn)
		}
	case ConditionNot:
		c.Not.Walk(fn)
	case ConditionLeaf:
		fn(c)
	}
}
