package actions

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/roach88/docrules/internal/engine"
	"github.com/roach88/docrules/internal/ir"
)

// ResultsFact is the runtime fact accumulating action results by action
// name for the rest of the run.
const ResultsFact = "actionResults"

// FactsParam is the param every handler receives holding a snapshot of the
// almanac's known facts.
const FactsParam = "facts"

// Callback is an inline final step that receives the accumulated action
// results instead of running a registered action.
type Callback func(ctx context.Context, actionResults map[string]any)

// Invocation is one action to dispatch. A non-nil Callback makes it an
// inline callback; Name and Params are then ignored.
type Invocation struct {
	Name     string
	Params   map[string]any
	Callback Callback
}

// Status values reported to an Observer.
const (
	StatusOK         = "ok"
	StatusError      = "error"
	StatusMissing    = "missing"
	StatusUnresolved = "unresolved"
)

// Observer is notified after every dispatched action.
type Observer interface {
	ActionDone(name, status string, elapsed time.Duration)
}

// Dispatcher runs action invocations against a registry.
//
// Thread-safety: Dispatcher is safe for concurrent use; each call works on
// the almanac it is given.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
	debug    func() bool
	observer Observer
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithDebug makes the dispatcher log every call with its params while
// enabled() reports true.
func WithDebug(enabled func() bool) DispatcherOption {
	return func(d *Dispatcher) { d.debug = enabled }
}

// WithObserver reports action outcomes to o.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = o }
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		logger:   slog.Default(),
		debug:    func() bool { return false },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch executes invocations in order. A failing action never stops the
// ones after it.
func (d *Dispatcher) Dispatch(ctx context.Context, a *engine.Almanac, invs []Invocation) {
	for _, inv := range invs {
		d.Execute(ctx, a, inv)
	}
}

// Execute runs one invocation and returns the value recorded for it.
//
// Steps:
//  1. An inline callback is called with the current actionResults and
//     nothing is recorded.
//  2. An unregistered action is logged and skipped.
//  3. Top-level params shaped {fact, path?} are replaced by the fact value.
//     A reference that does not resolve to an object or array records an
//     internalError 500 and the handler is not run.
//  4. params.facts is set to a snapshot of the almanac.
//  5. The handler runs; an error or panic becomes an internalError result.
//  6. The result is merged into the actionResults runtime fact under the
//     action name.
func (d *Dispatcher) Execute(ctx context.Context, a *engine.Almanac, inv Invocation) any {
	if inv.Callback != nil {
		inv.Callback(ctx, currentResults(a))
		return nil
	}

	start := time.Now()
	action, ok := d.registry.Lookup(inv.Name)
	if !ok {
		d.logger.Warn("action not registered", "action", inv.Name)
		d.observe(inv.Name, StatusMissing, start)
		return nil
	}

	params, err := d.resolveParams(ctx, a, inv.Name, inv.Params)
	if err != nil {
		ie := toInternalError(err)
		d.logger.Error("action params not resolved", "action", inv.Name, "error", err)
		d.record(a, inv.Name, ie.Value())
		d.observe(inv.Name, StatusUnresolved, start)
		return ie.Value()
	}
	params[FactsParam] = a.Snapshot()

	if d.debug() {
		d.logger.Info("action called", "action", inv.Name, "params", withoutFacts(params))
	}

	ctx = engine.WithAlmanac(ctx, a)
	result, err := d.run(ctx, inv.Name, action, params)
	status := StatusOK
	if err != nil {
		status = StatusError
		d.logger.Error("action failed",
			"action", inv.Name, "params", withoutFacts(params), "error", err)
		result = toInternalError(err).Value()
	}

	d.record(a, inv.Name, result)
	d.observe(inv.Name, status, start)
	return result
}

func (d *Dispatcher) run(ctx context.Context, name string, action Action, params map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("action panicked", "action", name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("action %s panicked: %v", name, r)
		}
	}()
	return action.Execute(ctx, params)
}

// resolveParams returns a copy of params with fact references replaced.
func (d *Dispatcher) resolveParams(ctx context.Context, a *engine.Almanac, action string, params map[string]any) (map[string]any, error) {
	out := ir.CloneMap(params)
	if out == nil {
		out = map[string]any{}
	}
	for key, raw := range out {
		ref, ok := ir.AsFactRef(raw)
		if !ok {
			continue
		}
		v, err := a.FactValue(ctx, ref.Fact, ref.Params)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			d.logger.Warn("action param fact not resolved", "action", action, "param", key, "fact", ref.Fact, "error", err)
			v = nil
		}
		resolved, err := d.narrow(action, key, ref, v)
		if err != nil {
			return nil, err
		}
		out[key] = resolved
	}
	return out, nil
}

// narrow applies a reference's path to the resolved fact value.
func (d *Dispatcher) narrow(action, param string, ref ir.FactRef, v any) (any, error) {
	path := ir.NormalizePath(ref.Path)
	switch val := v.(type) {
	case []any:
		if path == "" {
			return ir.Clone(val), nil
		}
		out := make([]any, len(val))
		for i, el := range val {
			got, ok := ir.Get(el, path)
			if !ok {
				d.logger.Warn("path missing on fact element",
					"action", action, "param", param, "fact", ref.Fact, "path", ref.Path, "index", i)
			}
			out[i] = ir.Clone(got)
		}
		return out, nil
	case map[string]any:
		if path == "" {
			return ir.Clone(val), nil
		}
		got, _ := ir.Get(val, path)
		return ir.Clone(got), nil
	}
	return nil, Errorf(500, "Could not get fact %s. Bad path, query, or collection name?", ref.Fact)
}

func (d *Dispatcher) record(a *engine.Almanac, name string, result any) {
	a.UpdateRuntimeFact(ResultsFact, func(old any, _ bool) any {
		merged := map[string]any{}
		if prev, ok := old.(map[string]any); ok {
			for k, v := range prev {
				merged[k] = v
			}
		}
		merged[name] = result
		return merged
	})
}

func (d *Dispatcher) observe(name, status string, start time.Time) {
	if d.observer != nil {
		d.observer.ActionDone(name, status, time.Since(start))
	}
}

func currentResults(a *engine.Almanac) map[string]any {
	v, _ := a.RuntimeFact(ResultsFact)
	if m, ok := v.(map[string]any); ok {
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out
	}
	return map[string]any{}
}

func withoutFacts(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if k != FactsParam {
			out[k] = v
		}
	}
	return out
}
