package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/docrules/internal/ir"
)

// DefaultPriority is the priority of a rule that does not set one.
const DefaultPriority = 1

// Callback runs after a rule is evaluated, on the goroutine running the
// rules. It receives the run's almanac and the rule's result.
type Callback func(ctx context.Context, a *Almanac, result RuleResult)

// Rule is an executable rule: a condition tree plus the callbacks for each
// outcome. Rules are values; the engine never modifies a rule after
// AddRule.
type Rule struct {
	Name       string
	Priority   int
	Conditions ir.Condition
	Event      ir.Event
	OnSuccess  Callback
	OnFailure  Callback
}

// RuleResult is the outcome of evaluating one rule.
type RuleResult struct {
	// Seq numbers results in evaluation order within one run, from 1.
	Seq        int64           `json:"seq"`
	Name       string          `json:"name"`
	Priority   int             `json:"priority"`
	Event      ir.Event        `json:"event"`
	Result     bool            `json:"result"`
	Conditions ConditionResult `json:"conditions"`
}

// RunResult collects the rule results of one run in evaluation order.
type RunResult struct {
	Results        []RuleResult // passed
	FailureResults []RuleResult // failed
	All            []RuleResult
	Almanac        *Almanac
}

// Engine holds registered facts, operators and rules. Build it, then Run
// it; each Run gets a fresh almanac over the registered facts.
//
// Thread-safety: AddFact, AddRule and AddOperator must not be called
// concurrently with Run.
type Engine struct {
	facts     map[string]*Fact
	rules     []Rule
	operators map[string]OperatorFunc
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for warnings about undefined or failing facts.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an engine with the default operators installed.
func New(opts ...Option) *Engine {
	e := &Engine{
		facts:     make(map[string]*Fact),
		operators: DefaultOperators(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddFact registers f, replacing any fact with the same name.
func (e *Engine) AddFact(f *Fact) {
	e.facts[f.Name] = f
}

// Fact returns the registered fact name.
func (e *Engine) Fact(name string) (*Fact, bool) {
	f, ok := e.facts[name]
	return f, ok
}

// AddOperator installs or replaces an operator.
func (e *Engine) AddOperator(name string, fn OperatorFunc) {
	e.operators[name] = fn
}

// AddRule registers r. The condition tree must be well formed.
func (e *Engine) AddRule(r Rule) error {
	if err := checkCondition(r.Name, r.Conditions); err != nil {
		return err
	}
	if r.Priority == 0 {
		r.Priority = DefaultPriority
	}
	e.rules = append(e.rules, r)
	return nil
}

// Rules returns the registered rules in registration order.
func (e *Engine) Rules() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// NewAlmanac returns an almanac over the registered facts. Run creates its
// own; this is for resolving facts before a run.
func (e *Engine) NewAlmanac() *Almanac {
	return NewAlmanac(e.facts, e.logger)
}

// Run evaluates every rule against a fresh almanac seeded with runtime
// facts. Rules run in descending priority; equal priorities keep
// registration order. Each rule's callback runs before the next rule is
// evaluated.
//
// Run returns an error for malformed rules (unknown operator) or context
// cancellation; results gathered so far are returned alongside.
func (e *Engine) Run(ctx context.Context, runtimeFacts map[string]any) (*RunResult, error) {
	almanac := e.NewAlmanac()
	names := make([]string, 0, len(runtimeFacts))
	for name := range runtimeFacts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		almanac.AddRuntimeFact(name, runtimeFacts[name])
	}
	ctx = WithAlmanac(ctx, almanac)

	rules := e.Rules()
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	out := &RunResult{Almanac: almanac}
	for i, r := range rules {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		ev := &evaluator{rule: r.Name, operators: e.operators, almanac: almanac, logger: e.logger}
		cond, err := ev.evaluate(ctx, r.Conditions)
		if err != nil {
			return out, fmt.Errorf("rule %q: %w", r.Name, err)
		}

		res := RuleResult{
			Seq:        int64(i + 1),
			Name:       r.Name,
			Priority:   r.Priority,
			Event:      r.Event,
			Result:     cond.Result,
			Conditions: cond,
		}
		out.All = append(out.All, res)
		if res.Result {
			out.Results = append(out.Results, res)
			if r.OnSuccess != nil {
				r.OnSuccess(ctx, almanac, res)
			}
		} else {
			out.FailureResults = append(out.FailureResults, res)
			if r.OnFailure != nil {
				r.OnFailure(ctx, almanac, res)
			}
		}
	}
	return out, nil
}

func checkCondition(rule string, c ir.Condition) error {
	switch c.Kind() {
	case ir.ConditionAll:
		for _, sub := range c.All {
			if err := checkCondition(rule, sub); err != nil {
				return err
			}
		}
	case ir.ConditionAny:
		for _, sub := range c.Any {
			if err := checkCondition(rule, sub); err != nil {
				return err
			}
		}
	case ir.ConditionNot:
		return checkCondition(rule, *c.Not)
	case ir.ConditionLeaf:
	default:
		return newInvalidConditionError(rule, "condition must have all, any, not, or fact and operator")
	}
	return nil
}
