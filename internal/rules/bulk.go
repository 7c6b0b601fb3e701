package rules

import (
	"github.com/roach88/docrules/internal/ir"
)

// Renames maps fact names to their per-document replacements.
type Renames map[string]string

func (r Renames) name(fact string) string {
	if to, ok := r[fact]; ok {
		return to
	}
	return fact
}

// ref rewrites v when it is a {fact, ...} reference. Other values are
// returned as they are.
func (r Renames) ref(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	name, ok := m["fact"].(string)
	if !ok {
		return v
	}
	to, ok := r[name]
	if !ok {
		return v
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		out[k] = val
	}
	out["fact"] = to
	return out
}

// Condition returns c with fact references renamed: leaf facts and leaf
// values shaped {fact, ...}.
func (r Renames) Condition(c ir.Condition) ir.Condition {
	switch c.Kind() {
	case ir.ConditionAll:
		c.All = r.conditions(c.All)
	case ir.ConditionAny:
		c.Any = r.conditions(c.Any)
	case ir.ConditionNot:
		sub := r.Condition(*c.Not)
		c.Not = &sub
	case ir.ConditionLeaf:
		c.Fact = r.name(c.Fact)
		c.Value = r.ref(c.Value)
	}
	return c
}

func (r Renames) conditions(cs []ir.Condition) []ir.Condition {
	out := make([]ir.Condition, len(cs))
	for i, c := range cs {
		out[i] = r.Condition(c)
	}
	return out
}

// Actions returns a with top-level param references renamed.
func (r Renames) Actions(a ir.Actions) ir.Actions {
	if a == nil {
		return nil
	}
	out := make(ir.Actions, len(a))
	for i, act := range a {
		params := make(map[string]any, len(act.Params))
		for k, v := range act.Params {
			params[k] = r.ref(v)
		}
		out[i] = ir.Action{Name: act.Name, Params: params}
	}
	return out
}

// FactDef returns def with its derived id and where values renamed.
func (r Renames) FactDef(def ir.FactDef) ir.FactDef {
	if def.ID != nil && def.ID.Ref != nil {
		ref := *def.ID.Ref
		ref.Fact = r.name(ref.Fact)
		def.ID = &ir.IDRef{Ref: &ref}
	}
	def.Query = r.filters(def.Query)
	def.Filters = r.filters(def.Filters)
	return def
}

func (r Renames) filters(fs []ir.FilterSpec) []ir.FilterSpec {
	if fs == nil {
		return nil
	}
	out := make([]ir.FilterSpec, len(fs))
	for i, f := range fs {
		if f.Type == ir.FilterWhere {
			f.Value = r.ref(f.Value)
		}
		out[i] = f
	}
	return out
}

// RuleDef returns a copy of def with fact references renamed in its
// conditions and actions.
func (r Renames) RuleDef(def ir.RuleDef) ir.RuleDef {
	def.Conditions = r.Condition(def.Conditions)
	def.OnSuccess.Actions = r.Actions(def.OnSuccess.Actions)
	def.OnFailure.Actions = r.Actions(def.OnFailure.Actions)
	return def
}

// dependents returns the additional facts other than root that read root,
// directly or through another dependent, in declaration order.
func dependents(defs ir.FactDefs, root string) ir.FactDefs {
	tainted := map[string]bool{root: true}
	for changed := true; changed; {
		changed = false
		for _, nf := range defs {
			if tainted[nf.Name] {
				continue
			}
			for _, ref := range nf.Def.Refs() {
				if tainted[ref] {
					tainted[nf.Name] = true
					changed = true
					break
				}
			}
		}
	}
	var out ir.FactDefs
	for _, nf := range defs {
		if nf.Name != root && tainted[nf.Name] {
			out = append(out, nf)
		}
	}
	return out
}

// bulkRenames builds the renames for one bulk document: the bulk fact and
// every fact depending on it get the "-<docID>" suffix.
func bulkRenames(defs ir.FactDefs, bulkFact, docID string) (Renames, ir.FactDefs) {
	deps := dependents(defs, bulkFact)
	r := Renames{bulkFact: bulkFact + "-" + docID}
	for _, nf := range deps {
		r[nf.Name] = nf.Name + "-" + docID
	}
	return r, deps
}
