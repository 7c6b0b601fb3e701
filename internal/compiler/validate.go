package compiler

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/docrules/internal/engine"
	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/queryir"
	"github.com/roach88/docrules/internal/trigger"
)

// Validation error codes (E200-E299)
const (
	ErrSchema = "E200" // file does not match the rule-set schema

	ErrRuleType        = "E201" // unknown ruleType
	ErrMissingColl     = "E202" // doc rule set without filters.collection
	ErrInvalidCron     = "E203" // scheduled rule set with a bad or missing cron
	ErrMissingEndpoint = "E204" // api rule set without method or endPoint
	ErrFactShape       = "E205" // additional fact matches no shape
	ErrFilter          = "E206" // bad query filter entry
	ErrCondition       = "E207" // condition node is neither a leaf nor a group
	ErrOperator        = "E208" // unknown condition operator
	ErrRuleName        = "E209" // empty or duplicate rule name
	ErrEventType       = "E210" // empty event type
	ErrUnknownAction   = "E211" // action name not registered
	ErrFactCycle       = "E212" // additional fact depends on itself
)

// ValidationError represents one rule-set validation problem.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateOption tunes ValidateRuleSet.
type ValidateOption func(*validator)

// WithActions makes unknown action names an error. Without it action names
// are not checked.
func WithActions(names []string) ValidateOption {
	return func(v *validator) {
		v.actions = make(map[string]bool, len(names))
		for _, n := range names {
			v.actions[n] = true
		}
	}
}

// WithOperators adds custom condition operators to the built-in set.
func WithOperators(names ...string) ValidateOption {
	return func(v *validator) {
		for _, n := range names {
			v.operators[n] = true
		}
	}
}

type validator struct {
	errs      []ValidationError
	operators map[string]bool
	actions   map[string]bool
}

func (v *validator) add(code, field, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

// ValidateRuleSet checks a decoded rule set for problems the runtime would
// only hit mid-run. Returns all errors found (does not fail-fast).
func ValidateRuleSet(rs ir.RuleSet, opts ...ValidateOption) []ValidationError {
	v := &validator{operators: make(map[string]bool)}
	for name := range engine.DefaultOperators() {
		v.operators[name] = true
	}
	for _, opt := range opts {
		opt(v)
	}

	v.filters(rs)
	for _, nf := range rs.AdditionalFacts {
		v.fact("additionalFacts."+nf.Name, nf.Def)
	}
	v.factCycles(rs.AdditionalFacts)

	seen := make(map[string]bool)
	for i, r := range rs.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		switch {
		case strings.TrimSpace(r.Name) == "":
			v.add(ErrRuleName, field+".name", "rule name is required")
		case seen[r.Name]:
			v.add(ErrRuleName, field+".name", "duplicate rule name %q", r.Name)
		}
		seen[r.Name] = true

		if strings.TrimSpace(r.Event.Type) == "" {
			v.add(ErrEventType, field+".event.type", "event type is required")
		}
		v.condition(field+".conditions", r.Conditions, true)
		v.actionNames(field+".onSuccess.actions", r.OnSuccess.Actions)
		v.actionNames(field+".onFailure.actions", r.OnFailure.Actions)
	}
	return v.errs
}

func (v *validator) filters(rs ir.RuleSet) {
	if !rs.RuleType.Valid() {
		v.add(ErrRuleType, "ruleType", "unknown rule type %q", rs.RuleType)
		return
	}
	switch rs.RuleType {
	case ir.RuleTypeDoc:
		if rs.Filters.Collection == "" {
			v.add(ErrMissingColl, "filters.collection", "doc rule sets require a collection")
		}
	case ir.RuleTypeScheduled:
		if _, err := trigger.ParseCron(rs.Filters.Cron); err != nil {
			v.add(ErrInvalidCron, "filters.cron", "%s", cronMessage(err))
		}
	case ir.RuleTypeAPI:
		if rs.Filters.Method == "" {
			v.add(ErrMissingEndpoint, "filters.method", "api rule sets require a method")
		}
		if rs.Filters.EndPoint == "" {
			v.add(ErrMissingEndpoint, "filters.endPoint", "api rule sets require an endPoint")
		}
	}
}

func cronMessage(err error) string {
	var ce *ir.ConfigError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return err.Error()
}

func (v *validator) fact(field string, def ir.FactDef) {
	shape := def.Shape()
	if shape == ir.FactShapeInvalid {
		v.add(ErrFactShape, field,
			"fact must be one of {data}, {collection, id} or {collection, query}")
		return
	}
	if shape != ir.FactShapeQuery {
		return
	}
	for i, f := range def.FilterList() {
		v.filter(fmt.Sprintf("%s.query[%d]", field, i), f)
	}
}

// factCycles reports every additional fact that reaches itself through
// derived ids or where values.
func (v *validator) factCycles(defs ir.FactDefs) {
	deps := make(map[string][]string, len(defs))
	for _, nf := range defs {
		deps[nf.Name] = nf.Def.Refs()
	}
	for _, nf := range defs {
		if path := cyclePath(deps, nf.Name); path != nil {
			v.add(ErrFactCycle, "additionalFacts."+nf.Name,
				"fact depends on itself: %s", strings.Join(path, " -> "))
		}
	}
}

// cyclePath returns a dependency path from start back to start, or nil.
func cyclePath(deps map[string][]string, start string) []string {
	visited := make(map[string]bool)
	var walk func(name string, path []string) []string
	walk = func(name string, path []string) []string {
		for _, next := range deps[name] {
			if next == start {
				return append(slices.Clone(path), next)
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			if found := walk(next, append(slices.Clone(path), next)); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(start, []string{start})
}

func (v *validator) filter(field string, f ir.FilterSpec) {
	switch f.Type {
	case ir.FilterWhere:
		if f.Path == "" {
			v.add(ErrFilter, field+".path", "where filter requires a path")
		}
		if !queryir.Operator(f.Operator).Valid() {
			v.add(ErrFilter, field+".operator", "unsupported operator %q", f.Operator)
		}
	case ir.FilterLimit:
		n, ok := ir.ToInt64(f.Value)
		if !ok || n < 0 {
			v.add(ErrFilter, field+".value", "limit requires a non-negative integer")
		}
	case ir.FilterOrder:
		if f.Path == "" {
			v.add(ErrFilter, field+".path", "order filter requires a path")
		}
		switch queryir.Direction(f.Direction) {
		case "", queryir.Asc, queryir.Desc:
		default:
			v.add(ErrFilter, field+".direction", "direction must be asc or desc, got %q", f.Direction)
		}
	default:
		v.add(ErrFilter, field+".type", "filter type must be where, limit or order, got %q", f.Type)
	}
}

func (v *validator) condition(field string, c ir.Condition, root bool) {
	switch c.Kind() {
	case ir.ConditionAll:
		for i, sub := range c.All {
			v.condition(fmt.Sprintf("%s.all[%d]", field, i), sub, false)
		}
	case ir.ConditionAny:
		for i, sub := range c.Any {
			v.condition(fmt.Sprintf("%s.any[%d]", field, i), sub, false)
		}
	case ir.ConditionNot:
		v.condition(field+".not", *c.Not, false)
	case ir.ConditionLeaf:
		if root {
			v.add(ErrCondition, field, "top-level conditions must be all, any or not")
		}
		if !v.operators[c.Operator] {
			v.add(ErrOperator, field+".operator", "unknown operator %q", c.Operator)
		}
	default:
		v.add(ErrCondition, field, "condition needs all, any, not or a fact with an operator")
	}
}

func (v *validator) actionNames(field string, a ir.Actions) {
	if v.actions == nil {
		return
	}
	for _, name := range a.Names() {
		if !v.actions[name] {
			v.add(ErrUnknownAction, field+"."+name, "unknown action %q (known: %s)", name, v.known())
		}
	}
}

func (v *validator) known() string {
	names := make([]string, 0, len(v.actions))
	for n := range v.actions {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
