package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/docrules/internal/ir"
)

// ConditionResult is the evaluated form of one condition node. Leaves carry
// the resolved fact and compare values; combinators carry their children.
type ConditionResult struct {
	Kind     string            `json:"kind"` // all, any, not or leaf
	Children []ConditionResult `json:"children,omitempty"`

	Fact        string `json:"fact,omitempty"`
	Path        string `json:"path,omitempty"`
	Operator    string `json:"operator,omitempty"`
	Value       any    `json:"value,omitempty"`
	FactResult  any    `json:"factResult,omitempty"`
	ValueResult any    `json:"valueResult,omitempty"`

	Result bool `json:"result"`
}

// Leaves returns every leaf result in tree order.
func (r ConditionResult) Leaves() []ConditionResult {
	if r.Kind == "leaf" {
		return []ConditionResult{r}
	}
	var out []ConditionResult
	for _, c := range r.Children {
		out = append(out, c.Leaves()...)
	}
	return out
}

type evaluator struct {
	rule      string
	operators map[string]OperatorFunc
	almanac   *Almanac
	logger    *slog.Logger
}

// evaluate scores c. Every child is evaluated even after the outcome of a
// combinator is known, so each leaf result can be inspected afterwards.
func (ev *evaluator) evaluate(ctx context.Context, c ir.Condition) (ConditionResult, error) {
	switch c.Kind() {
	case ir.ConditionAll:
		res := ConditionResult{Kind: "all", Result: true}
		for _, sub := range c.All {
			child, err := ev.evaluate(ctx, sub)
			if err != nil {
				return res, err
			}
			res.Children = append(res.Children, child)
			res.Result = res.Result && child.Result
		}
		return res, nil

	case ir.ConditionAny:
		res := ConditionResult{Kind: "any"}
		for _, sub := range c.Any {
			child, err := ev.evaluate(ctx, sub)
			if err != nil {
				return res, err
			}
			res.Children = append(res.Children, child)
			res.Result = res.Result || child.Result
		}
		return res, nil

	case ir.ConditionNot:
		child, err := ev.evaluate(ctx, *c.Not)
		if err != nil {
			return ConditionResult{Kind: "not"}, err
		}
		return ConditionResult{Kind: "not", Children: []ConditionResult{child}, Result: !child.Result}, nil

	case ir.ConditionLeaf:
		return ev.evaluateLeaf(ctx, c)
	}
	return ConditionResult{}, newInvalidConditionError(ev.rule, "condition must have all, any, not, or fact and operator")
}

func (ev *evaluator) evaluateLeaf(ctx context.Context, c ir.Condition) (ConditionResult, error) {
	res := ConditionResult{
		Kind:     "leaf",
		Fact:     c.Fact,
		Path:     c.Path,
		Operator: c.Operator,
		Value:    c.Value,
	}

	op, ok := ev.operators[c.Operator]
	if !ok {
		return res, newUnknownOperatorError(ev.rule, c.Operator)
	}

	factValue, err := ev.resolve(ctx, c.Fact, c.Path, c.Params)
	if err != nil {
		return res, err
	}

	compare := c.Value
	if ref, ok := ir.AsFactRef(c.Value); ok {
		compare, err = ev.resolve(ctx, ref.Fact, ref.Path, ref.Params)
		if err != nil {
			return res, err
		}
	}

	res.FactResult = factValue
	res.ValueResult = compare
	res.Result = op(factValue, compare)
	return res, nil
}

// resolve reads a fact for a condition. Undefined facts and failing fact
// calculations read as nil; only context cancellation aborts.
func (ev *evaluator) resolve(ctx context.Context, name, path string, params map[string]any) (any, error) {
	v, err := ev.almanac.PathValue(ctx, name, path, params)
	if err == nil {
		return v, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	if IsUndefinedFact(err) {
		ev.logger.Warn("undefined fact in condition", "rule", ev.rule, "fact", name)
	} else {
		ev.logger.Error("fact resolution failed", "rule", ev.rule, "fact", name, "error", err)
	}
	return nil, nil
}
