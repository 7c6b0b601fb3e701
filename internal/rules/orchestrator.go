package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/docrules/internal/actions"
	"github.com/roach88/docrules/internal/engine"
	"github.com/roach88/docrules/internal/facts"
	"github.com/roach88/docrules/internal/ir"
)

// Trigger names the kind of event that started a run.
type Trigger string

const (
	TriggerDoc       Trigger = "doc"
	TriggerScheduled Trigger = "scheduled"
	TriggerAPI       Trigger = "api"
)

// Stage is a step of one rule-set evaluation.
type Stage string

const (
	StageIdle         Stage = "Idle"
	StageConfigLoaded Stage = "ConfigLoaded"
	StageFactsWired   Stage = "FactsWired"
	StageBulkExpanded Stage = "BulkExpanded"
	StageRulesAdded   Stage = "RulesAdded"
	StageRunning      Stage = "Running"
	StageDone         Stage = "Done"
)

// Built-in fact names supplied by triggers.
const (
	SrcDocFact     = "srcDoc"
	DocBeforeFact  = "docBefore"
	CollectionFact = "collection"
	TriggerFact    = "trigger"
)

// Input is what a trigger hands to one rule-set evaluation.
type Input struct {
	Trigger Trigger

	// Facts are registered as static facts before additional facts.
	Facts map[string]any

	// OnFinished, when set, runs after the actions of every rule outcome
	// with the action results accumulated so far.
	OnFinished actions.Callback
}

// ExecutableRule is one concrete rule built for a single evaluation. Bulk
// rule sets produce one per (document, rule definition).
type ExecutableRule struct {
	Name       string
	Priority   int
	Conditions ir.Condition
	Event      ir.Event
	OnSuccess  ir.Actions
	OnFailure  ir.Actions

	// BulkDoc is the id of the bulk document this rule was built for.
	BulkDoc string
}

// Outcome reports one rule-set evaluation.
type Outcome struct {
	RunID         string
	RuleSet       string
	Stages        []Stage
	Rules         []ExecutableRule
	Results       []engine.RuleResult
	ActionResults map[string]any
	Err           error
}

func (o *Outcome) enter(s Stage) {
	o.Stages = append(o.Stages, s)
}

// RunObserver is notified of finished runs and evaluated rules.
type RunObserver interface {
	RuleSetRun(trigger, result string, elapsed time.Duration)
	RuleEvaluated(passed bool)
}

// Orchestrator runs rule sets.
//
// Thread-safety: Orchestrator is safe for concurrent use. Every Run builds
// its own engine and almanac.
type Orchestrator struct {
	resolver   *facts.Resolver
	dispatcher *actions.Dispatcher
	settings   *Settings
	logger     *slog.Logger
	now        func() time.Time
	runIDs     func() string
	observer   RunObserver
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock sets the clock behind the now fact.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRunIDs overrides run id generation.
func WithRunIDs(next func() string) Option {
	return func(o *Orchestrator) { o.runIDs = next }
}

// WithObserver reports runs to obs.
func WithObserver(obs RunObserver) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// New creates an orchestrator.
func New(resolver *facts.Resolver, dispatcher *actions.Dispatcher, settings *Settings, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		resolver:   resolver,
		dispatcher: dispatcher,
		settings:   settings,
		logger:     slog.Default(),
		now:        time.Now,
		runIDs:     func() string { return uuid.Must(uuid.NewV7()).String() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Settings returns the settings the orchestrator reads.
func (o *Orchestrator) Settings() *Settings {
	return o.settings
}

// Run evaluates rs once. Failures, including panics, end up in
// Outcome.Err; Run itself never panics.
func (o *Orchestrator) Run(ctx context.Context, rs ir.RuleSet, in Input) (out *Outcome) {
	start := time.Now()
	out = &Outcome{RunID: o.runIDs(), RuleSet: rs.ID}
	out.enter(StageIdle)
	logger := o.logger.With("run", out.RunID, "ruleSet", Label(rs), "trigger", string(in.Trigger))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("rule set run panicked", "panic", r, "stack", string(debug.Stack()))
			out.Err = fmt.Errorf("rule set %q: panic: %v", Label(rs), r)
		}
		if out.Err != nil {
			logger.Error("rule set run failed", "error", out.Err)
		}
		if o.observer != nil {
			result := "ok"
			if out.Err != nil {
				result = "error"
			}
			o.observer.RuleSetRun(string(in.Trigger), result, time.Since(start))
		}
	}()

	if err := o.settings.Load(ctx); err != nil {
		out.Err = err
		return out
	}
	out.enter(StageConfigLoaded)
	dbg := o.settings.Debug()

	logDryRun(logger, rs)
	rs = ApplyDryRun(rs)

	eng := engine.New(engine.WithLogger(logger))
	for name, v := range in.Facts {
		eng.AddFact(engine.StaticFact(name, v))
	}
	if rs.FieldMaps != nil {
		eng.AddFact(engine.StaticFact(actions.FieldMapsFact, rs.FieldMaps))
	}
	eng.AddFact(facts.NowFact(o.now))
	if err := o.resolver.RegisterAll(eng, rs.AdditionalFacts); err != nil {
		out.Err = withRuleSet(err, rs)
		return out
	}
	out.enter(StageFactsWired)

	var concrete []ExecutableRule
	if rs.IsBulk() {
		var err error
		concrete, err = o.expandBulk(ctx, eng, rs, dbg, logger)
		if err != nil {
			out.Err = withRuleSet(err, rs)
			return out
		}
		out.enter(StageBulkExpanded)
	} else {
		for _, def := range rs.Rules {
			if dbg {
				logger.Info("adding rule", "rule", def.Name, "event", def.Event.Type)
			}
			concrete = append(concrete, Executable(def))
		}
	}

	for _, r := range concrete {
		if err := eng.AddRule(o.engineRule(r, in.OnFinished, dbg, logger)); err != nil {
			out.Err = withRuleSet(err, rs)
			return out
		}
	}
	out.Rules = concrete
	out.enter(StageRulesAdded)

	out.enter(StageRunning)
	if dbg {
		logger.Info("running rules", "count", len(concrete))
	}
	res, err := eng.Run(ctx, nil)
	if res != nil {
		out.Results = res.All
		if v, ok := res.Almanac.RuntimeFact(actions.ResultsFact); ok {
			out.ActionResults, _ = v.(map[string]any)
		}
		if dbg {
			logConditions(logger, res.All)
		}
	}
	if err != nil {
		out.Err = err
		return out
	}
	out.enter(StageDone)
	return out
}

// Executable builds the executable form of def. def is not modified.
func Executable(def ir.RuleDef) ExecutableRule {
	return ExecutableRule{
		Name:       def.Name,
		Priority:   def.Priority,
		Conditions: def.Conditions,
		Event:      def.Event,
		OnSuccess:  def.OnSuccess.Actions,
		OnFailure:  def.OnFailure.Actions,
	}
}

// expandBulk builds |docs| × |rules| executable rules for every query fact
// of rs. Each document is registered as "<fact>-<docID>" and the rules and
// dependent facts are rewritten to use it.
func (o *Orchestrator) expandBulk(ctx context.Context, eng *engine.Engine, rs ir.RuleSet, dbg bool, logger *slog.Logger) ([]ExecutableRule, error) {
	var out []ExecutableRule
	for _, nf := range rs.AdditionalFacts {
		if nf.Def.Shape() != ir.FactShapeQuery {
			continue
		}
		docs, err := o.resolver.QueryDocs(ctx, nf.Def, eng.NewAlmanac())
		if err != nil {
			return nil, fmt.Errorf("bulk fact %q: %w", nf.Name, err)
		}
		for _, doc := range docs {
			renames, deps := bulkRenames(rs.AdditionalFacts, nf.Name, doc.ID)
			eng.AddFact(engine.StaticFact(renames[nf.Name], doc.Value()))
			for _, dep := range deps {
				if err := o.resolver.Register(eng, renames[dep.Name], renames.FactDef(dep.Def)); err != nil {
					return nil, err
				}
			}
			for _, def := range rs.Rules {
				if dbg {
					logger.Info("adding rule", "rule", def.Name, "event", def.Event.Type, "bulkDoc", doc.ID)
				}
				r := Executable(renames.RuleDef(def))
				r.BulkDoc = doc.ID
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (o *Orchestrator) engineRule(r ExecutableRule, onFinished actions.Callback, dbg bool, logger *slog.Logger) engine.Rule {
	return engine.Rule{
		Name:       r.Name,
		Priority:   r.Priority,
		Conditions: r.Conditions,
		Event:      r.Event,
		OnSuccess:  o.outcome("passed", r.OnSuccess, onFinished, dbg, logger),
		OnFailure:  o.outcome("failed", r.OnFailure, onFinished, dbg, logger),
	}
}

// outcome builds the engine callback dispatching acts.
func (o *Orchestrator) outcome(verdict string, acts ir.Actions, onFinished actions.Callback, dbg bool, logger *slog.Logger) engine.Callback {
	invs := make([]actions.Invocation, 0, len(acts)+1)
	for _, a := range acts {
		invs = append(invs, actions.Invocation{Name: a.Name, Params: a.Params})
	}
	if onFinished != nil {
		invs = append(invs, actions.Invocation{Name: "onFinished", Callback: onFinished})
	}
	return func(ctx context.Context, a *engine.Almanac, res engine.RuleResult) {
		if o.observer != nil {
			o.observer.RuleEvaluated(res.Result)
		}
		if dbg {
			logger.Info("rule "+verdict, "rule", res.Name, "event", res.Event.Type)
		}
		o.dispatcher.Dispatch(ctx, a, invs)
	}
}

// logConditions logs every condition node of every rule, nested ones
// included.
func logConditions(logger *slog.Logger, results []engine.RuleResult) {
	for _, r := range results {
		logCondition(logger, r.Name, "", r.Conditions)
	}
}

func logCondition(logger *slog.Logger, rule, at string, c engine.ConditionResult) {
	msg := "condition succeeded"
	if !c.Result {
		msg = "condition failed"
	}
	if c.Kind == "leaf" {
		logger.Info(msg, "rule", rule, "at", at,
			"fact", c.Fact, "path", c.Path, "operator", c.Operator,
			"value", c.Value, "factResult", c.FactResult, "valueResult", c.ValueResult)
		return
	}
	logger.Info(msg, "rule", rule, "at", at, "kind", c.Kind)
	for i, child := range c.Children {
		logCondition(logger, rule, fmt.Sprintf("%s%s[%d]", at, c.Kind, i), child)
	}
}

func withRuleSet(err error, rs ir.RuleSet) error {
	var ce *ConfigError
	if errors.As(err, &ce) && ce.RuleSet == "" {
		copied := *ce
		copied.RuleSet = Label(rs)
		return &copied
	}
	return fmt.Errorf("rule set %q: %w", Label(rs), err)
}
