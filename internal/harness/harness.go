package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/roach88/docrules/internal/actions"
	"github.com/roach88/docrules/internal/api"
	"github.com/roach88/docrules/internal/blob"
	"github.com/roach88/docrules/internal/compiler"
	"github.com/roach88/docrules/internal/facts"
	"github.com/roach88/docrules/internal/rules"
	"github.com/roach88/docrules/internal/store"
	"github.com/roach88/docrules/internal/testutil"
	"github.com/roach88/docrules/internal/trigger"
)

// maxCascade bounds the document changes processed after the trigger. Rule
// sets that keep writing to their own collection would otherwise never
// settle.
const maxCascade = 100

// Harness runs one scenario against a fresh in-memory store with a fixed
// clock and sequential document ids.
type Harness struct {
	store     *store.Store
	clock     func() time.Time
	logger    *slog.Logger
	registry  *actions.Registry
	runner    *trigger.Runner
	docs      *trigger.DocTrigger
	scheduler *trigger.Scheduler
	api       *api.Handler

	mu     sync.Mutex
	result *Result
}

// Run executes a scenario and returns the result.
//
// Execution flow:
//  1. Open a fresh in-memory store and seed it
//  2. Store the scenario's rule sets
//  3. Fire the trigger and run every cascaded document change
//  4. Evaluate assertions against the trace and the store
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()
	clock := testutil.FixedClock(testutil.Now)

	st, err := store.Open(store.DriverSQLite3, ":memory:",
		store.WithClock(clock),
		store.WithIDGenerator(&testutil.SequenceIDs{Prefix: "doc"}),
		store.WithChangeFeed())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := newHarness(st, clock, scenario.Stubs)
	h.result = NewResult()

	if err := h.setup(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.fire(ctx, scenario.Trigger); err != nil {
		return nil, fmt.Errorf("failed to execute trigger: %w", err)
	}
	if err := h.settle(ctx); err != nil {
		return nil, fmt.Errorf("failed to run cascaded changes: %w", err)
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func newHarness(st *store.Store, clock func() time.Time, stubs map[string]any) *Harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{store: st, clock: clock, logger: logger}

	reg := actions.NewRegistry()
	actions.RegisterBuiltins(reg, actions.Deps{
		Docs:   st,
		Blobs:  blob.NewMemory(),
		Now:    clock,
		Logger: logger,
	})
	for name, result := range stubs {
		reg.RegisterFunc(name, stubAction(result))
	}
	for _, name := range reg.Names() {
		a, _ := reg.Lookup(name)
		reg.Register(name, h.recorded(name, a))
	}
	h.registry = reg

	settings := rules.NewSettings(st)
	orch := rules.New(facts.NewResolver(st, logger), actions.NewDispatcher(reg, actions.WithLogger(logger)), settings,
		rules.WithLogger(logger),
		rules.WithClock(clock),
		rules.WithRunIDs((&testutil.SequenceIDs{Prefix: "run"}).Generate))
	loader := rules.NewLoader(st, logger)

	h.runner = trigger.NewRunner(orch, trigger.WithConcurrency(1), trigger.WithRunnerLogger(logger))
	h.docs = trigger.NewDocTrigger(loader, h.runner, logger)
	h.scheduler = trigger.NewScheduler(loader, h.runner,
		trigger.WithSchedulerClock(clock),
		trigger.WithSchedulerLogger(logger))
	h.api = api.New(trigger.NewAPITrigger(loader, orch, logger),
		api.WithLogWriter(st),
		api.WithScheduled(h.scheduler),
		api.WithClock(clock),
		api.WithLogger(logger))
	return h
}

// setup writes the seed documents and rule sets, then drops their changes.
func (h *Harness) setup(ctx context.Context, scenario *Scenario) error {
	for i, d := range scenario.Seed {
		if _, err := h.store.AddDoc(ctx, d.Collection, normalizeMap(d.Data), d.ID); err != nil {
			return fmt.Errorf("seed[%d] %s/%s: %w", i, d.Collection, d.ID, err)
		}
	}
	for _, path := range scenario.RuleSets {
		f, err := compiler.LoadFile(path)
		if err != nil {
			return err
		}
		if err := h.store.SetDocJSON(ctx, rules.RuleSetsCollection, f.ID, f.JSON); err != nil {
			return fmt.Errorf("store rule set %s: %w", f.ID, err)
		}
	}

	q := h.store.Changes()
	for {
		if _, ok := q.TryDequeue(); !ok {
			return nil
		}
	}
}

func (h *Harness) fire(ctx context.Context, step TriggerStep) error {
	switch step.Type {
	case TriggerDoc:
		return h.change(ctx, step.Change)
	case TriggerScheduled:
		at := h.clock()
		if step.At != "" {
			parsed, err := time.Parse(time.RFC3339, step.At)
			if err != nil {
				return fmt.Errorf("trigger.at: %w", err)
			}
			at = parsed
		}
		_, err := h.scheduler.RunDue(ctx, at)
		return err
	case TriggerAPI:
		return h.request(step.Request)
	}
	return fmt.Errorf("unknown trigger type %q", step.Type)
}

// change performs the document write of a doc trigger.
func (h *Harness) change(ctx context.Context, c *ChangeStep) error {
	switch c.Type {
	case "create":
		_, err := h.store.AddDoc(ctx, c.Collection, normalizeMap(c.Data), c.ID)
		return err
	case "update":
		return h.store.SetDoc(ctx, c.Collection, c.ID, normalizeMap(c.Data), true)
	case "delete":
		_, err := h.store.DeleteDoc(ctx, c.Collection, c.ID)
		return err
	}
	return fmt.Errorf("unknown change type %q", c.Type)
}

// request sends an api trigger through the handler and records the
// response envelope.
func (h *Harness) request(r *RequestStep) error {
	var body io.Reader = http.NoBody
	if r.Body != nil {
		raw, err := json.Marshal(normalize(r.Body))
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(r.Method, r.Path, body)
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	h.api.ServeHTTP(rec, req)

	var env any
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	h.add(TraceEvent{Type: EventResponse, Status: rec.Code, Result: env})
	return nil
}

// settle waits for running rule sets and feeds every queued document
// change to the document trigger until nothing is left.
func (h *Harness) settle(ctx context.Context) error {
	q := h.store.Changes()
	for n := 0; ; {
		h.runner.Wait()
		c, ok := q.TryDequeue()
		if !ok {
			return nil
		}
		if n++; n > maxCascade {
			return fmt.Errorf("more than %d cascaded changes", maxCascade)
		}
		if _, err := h.docs.Handle(ctx, c); err != nil {
			return err
		}
	}
}

// recorded wraps a so every call lands in the trace with its params (the
// facts snapshot removed) and its result or error.
func (h *Harness) recorded(name string, a actions.Action) actions.Action {
	return actions.ActionFunc(func(ctx context.Context, params map[string]any) (any, error) {
		result, err := a.Execute(ctx, params)

		event := TraceEvent{Type: EventAction, Action: name, Params: normalize(withoutFacts(params))}
		if err != nil {
			event.Result = map[string]any{"error": err.Error()}
		} else {
			event.Result = normalize(result)
		}
		h.add(event)
		return result, err
	})
}

func (h *Harness) add(e TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e.Seq = len(h.result.Trace) + 1
	h.result.Trace = append(h.result.Trace, e)
}

// stubAction returns a record-only action that always returns result.
func stubAction(result any) func(ctx context.Context, params map[string]any) (any, error) {
	return func(context.Context, map[string]any) (any, error) {
		return normalize(result), nil
	}
}

func withoutFacts(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if k != actions.FactsParam {
			out[k] = v
		}
	}
	return out
}

// normalize converts v to its decoded JSON form so YAML ints, typed results
// and store values all compare the same way.
func normalize(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Sprint(v)
	}
	return out
}

func normalizeMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out, _ := normalize(m).(map[string]any)
	return out
}
