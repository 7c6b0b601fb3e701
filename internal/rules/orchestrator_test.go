package rules

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docrules/internal/actions"
	"github.com/roach88/docrules/internal/facts"
	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/store"
	"github.com/roach88/docrules/internal/testutil"
)

type fixture struct {
	st     *store.Store
	reader *testutil.CountingReader
	rec    *testutil.Recorder
	orch   *Orchestrator
	obs    *countingObserver
}

func newFixture(t *testing.T, settings *Settings) *fixture {
	t.Helper()
	st := testutil.OpenStore(t)
	reader := &testutil.CountingReader{Reader: st}
	rec := &testutil.Recorder{}

	reg := actions.NewRegistry()
	actions.RegisterBuiltins(reg, actions.Deps{Docs: st, Now: testutil.FixedClock(testutil.Now)})
	for _, name := range []string{actions.AddDoc, "notify", "audit"} {
		reg.RegisterFunc(name, rec.Handler(name, map[string]any{"success": true}, nil))
	}

	if settings == nil {
		settings = StaticSettings(true, "1")
	}
	obs := &countingObserver{}
	orch := New(facts.NewResolver(reader, nil), actions.NewDispatcher(reg), settings,
		WithClock(testutil.FixedClock(testutil.Now)),
		WithRunIDs(func() string { return "run-1" }),
		WithObserver(obs))
	return &fixture{st: st, reader: reader, rec: rec, orch: orch, obs: obs}
}

func ruleSet(t *testing.T, raw string) ir.RuleSet {
	t.Helper()
	var rs ir.RuleSet
	require.NoError(t, json.Unmarshal([]byte(raw), &rs))
	return rs
}

type countingObserver struct {
	mu     sync.Mutex
	runs   []string
	passed int
	failed int
}

func (o *countingObserver) RuleSetRun(trigger, result string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs = append(o.runs, trigger+":"+result)
}

func (o *countingObserver) RuleEvaluated(passed bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if passed {
		o.passed++
	} else {
		o.failed++
	}
}

type failingSettings struct{}

func (failingSettings) GetSettings(context.Context, string) (map[string]any, error) {
	return nil, assert.AnError
}

const statusRuleSet = `{
	"title": "new documents",
	"active": true,
	"ruleType": "doc",
	"filters": {"collection": "orders"},
	"rules": [{
		"name": "is-new",
		"conditions": {"all": [{"fact": "srcDoc", "path": "$.status", "operator": "equal", "value": "new"}]},
		"event": {"type": "new"},
		"onSuccess": {"actions": {"addDoc": {"collection": "log", "data": {"msg": "ok"}}}}
	}]
}`

func TestRun_DocCreatedWithMatchingStatus(t *testing.T) {
	f := newFixture(t, nil)
	rs := ruleSet(t, statusRuleSet)

	out := f.orch.Run(context.Background(), rs, Input{
		Trigger: TriggerDoc,
		Facts:   map[string]any{SrcDocFact: map[string]any{"id": "o1", "status": "new"}},
	})
	require.NoError(t, out.Err)

	calls := f.rec.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, actions.AddDoc, calls[0].Action)
	assert.Equal(t, "ok", calls[0].Params["data"].(map[string]any)["msg"])

	assert.Equal(t, "run-1", out.RunID)
	assert.Equal(t, []Stage{StageIdle, StageConfigLoaded, StageFactsWired, StageRulesAdded, StageRunning, StageDone}, out.Stages)
	assert.Equal(t, map[string]any{actions.AddDoc: map[string]any{"success": true}}, out.ActionResults)
	assert.Equal(t, []string{"doc:ok"}, f.obs.runs)
	assert.Equal(t, 1, f.obs.passed)
}

func TestRun_FailureOutcome(t *testing.T) {
	f := newFixture(t, nil)
	rs := ruleSet(t, `{
		"ruleType": "doc",
		"rules": [{
			"name": "is-new",
			"conditions": {"all": [{"fact": "srcDoc", "path": "status", "operator": "equal", "value": "new"}]},
			"event": {"type": "new"},
			"onSuccess": {"actions": {"notify": {}}},
			"onFailure": {"actions": {"audit": {"why": "not new"}}}
		}]
	}`)

	out := f.orch.Run(context.Background(), rs, Input{
		Trigger: TriggerDoc,
		Facts:   map[string]any{SrcDocFact: map[string]any{"status": "old"}},
	})
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"audit"}, f.rec.Names())
	require.Len(t, out.Results, 1)
	assert.False(t, out.Results[0].Result)
	assert.Equal(t, 1, f.obs.failed)
}

func TestRun_ActionsRunInWrittenOrder(t *testing.T) {
	f := newFixture(t, nil)
	rs := ruleSet(t, `{
		"ruleType": "doc",
		"rules": [{
			"name": "always",
			"conditions": {"all": []},
			"event": {"type": "x"},
			"onSuccess": {"actions": {"notify": {}, "audit": {}, "addDoc": {}}}
		}]
	}`)

	out := f.orch.Run(context.Background(), rs, Input{Trigger: TriggerDoc})
	require.NoError(t, out.Err)
	assert.Equal(t, []string{"notify", "audit", actions.AddDoc}, f.rec.Names())
}

func TestRun_OnFinishedSeesAccumulatedResults(t *testing.T) {
	f := newFixture(t, nil)
	rs := ruleSet(t, `{
		"ruleType": "api",
		"rules": [{
			"name": "always",
			"conditions": {"all": []},
			"event": {"type": "x"},
			"onSuccess": {"actions": {"notify": {}, "audit": {}}}
		}]
	}`)

	var got map[string]any
	out := f.orch.Run(context.Background(), rs, Input{
		Trigger:    TriggerAPI,
		OnFinished: func(_ context.Context, results map[string]any) { got = results },
	})
	require.NoError(t, out.Err)
	assert.Equal(t, map[string]any{
		"notify": map[string]any{"success": true},
		"audit":  map[string]any{"success": true},
	}, got)
}

func TestRun_EveryLiteralFactRegistered(t *testing.T) {
	f := newFixture(t, nil)
	rs := ruleSet(t, `{
		"ruleType": "scheduled",
		"additionalFacts": {"a": {"data": 1}, "b": {"data": "two"}, "c": {"data": [3]}},
		"rules": [{
			"name": "literals",
			"conditions": {"all": [
				{"fact": "a", "operator": "equal", "value": 1},
				{"fact": "b", "operator": "equal", "value": "two"},
				{"fact": "c", "operator": "contains", "value": 3}
			]},
			"event": {"type": "x"},
			"onSuccess": {"actions": {"notify": {}}}
		}]
	}`)

	out := f.orch.Run(context.Background(), rs, Input{Trigger: TriggerScheduled})
	require.NoError(t, out.Err)
	require.Len(t, out.Results, 1)
	assert.True(t, out.Results[0].Result)
	assert.Equal(t, []string{"notify"}, f.rec.Names())
}

func TestRun_InvalidFactIsConfigError(t *testing.T) {
	f := newFixture(t, nil)
	rs := ruleSet(t, `{
		"title": "broken",
		"ruleType": "doc",
		"additionalFacts": {"bad": {"collection": "x"}},
		"rules": []
	}`)

	out := f.orch.Run(context.Background(), rs, Input{Trigger: TriggerDoc})
	require.Error(t, out.Err)
	assert.True(t, IsConfigError(out.Err))
	assert.Contains(t, out.Err.Error(), `rule set "broken"`)
	assert.Equal(t, []Stage{StageIdle, StageConfigLoaded}, out.Stages)
	assert.Equal(t, []string{"doc:error"}, f.obs.runs)
}

func TestRun_DocumentFactResolvedOncePerRun(t *testing.T) {
	f := newFixture(t, nil)
	testutil.Seed(t, f.st, "teams", "t1", map[string]any{"name": "core", "size": 4})
	rs := ruleSet(t, `{
		"ruleType": "doc",
		"additionalFacts": {"team": {"collection": "teams", "id": {"fact": "srcDoc", "path": "$.team"}}},
		"rules": [
			{"name": "named", "conditions": {"all": [{"fact": "team", "path": "name", "operator": "equal", "value": "core"}]}, "event": {"type": "a"}},
			{"name": "sized", "conditions": {"all": [{"fact": "team", "path": "size", "operator": "greaterThan", "value": 2}]}, "event": {"type": "b"}}
		]
	}`)

	out := f.orch.Run(context.Background(), rs, Input{
		Trigger: TriggerDoc,
		Facts:   map[string]any{SrcDocFact: map[string]any{"team": "t1"}},
	})
	require.NoError(t, out.Err)
	require.Len(t, out.Results, 2)
	assert.True(t, out.Results[0].Result)
	assert.True(t, out.Results[1].Result)
	assert.Equal(t, 1, f.reader.Gets())
}

func TestRun_DryRunReplacesActions(t *testing.T) {
	f := newFixture(t, nil)
	rs := ruleSet(t, `{
		"ruleType": "doc",
		"dryRun": true,
		"rules": [{
			"name": "always",
			"conditions": {"all": []},
			"event": {"type": "x"},
			"onSuccess": {"actions": {"notify": {"n": 1}, "audit": {"n": 2}}}
		}]
	}`)

	out := f.orch.Run(context.Background(), rs, Input{Trigger: TriggerDoc})
	require.NoError(t, out.Err)
	assert.Empty(t, f.rec.Calls())
	assert.Equal(t, map[string]any{actions.ExampleAction: map[string]any{"success": true}}, out.ActionResults)
	assert.Equal(t, []string{"notify", "audit"}, rs.Rules[0].OnSuccess.Actions.Names())
}

func TestRun_BulkExpandsPerDocument(t *testing.T) {
	f := newFixture(t, nil)
	testutil.Seed(t, f.st, "teams", "t1", map[string]any{"name": "core"})
	testutil.Seed(t, f.st, "teams", "t2", map[string]any{"name": "edge"})
	testutil.Seed(t, f.st, "workers", "w1", map[string]any{"region": "west", "team": "t1", "late": true})
	testutil.Seed(t, f.st, "workers", "w2", map[string]any{"region": "west", "team": "t2", "late": false})
	testutil.Seed(t, f.st, "workers", "w3", map[string]any{"region": "east", "team": "t1", "late": true})

	rs := ruleSet(t, `{
		"ruleType": "scheduled",
		"additionalFacts": {
			"limit": {"data": 3},
			"workers": {"collection": "workers", "query": [
				{"type": "where", "path": "region", "operator": "==", "value": "west"},
				{"type": "order", "path": "team", "direction": "asc"}
			]},
			"team": {"collection": "teams", "id": {"fact": "workers", "path": "team"}}
		},
		"rules": [
			{
				"name": "late",
				"conditions": {"all": [{"fact": "workers", "path": "late", "operator": "equal", "value": true}]},
				"event": {"type": "late"},
				"onSuccess": {"actions": {"notify": {"team": {"fact": "team"}}}}
			},
			{
				"name": "limited",
				"conditions": {"all": [{"fact": "limit", "operator": "equal", "value": 3}]},
				"event": {"type": "limit"}
			}
		]
	}`)

	out := f.orch.Run(context.Background(), rs, Input{Trigger: TriggerScheduled})
	require.NoError(t, out.Err)
	assert.Contains(t, out.Stages, StageBulkExpanded)

	require.Len(t, out.Rules, 4)
	var docs []string
	for _, r := range out.Rules {
		docs = append(docs, r.BulkDoc)
	}
	assert.Equal(t, []string{"w1", "w1", "w2", "w2"}, docs)
	assert.Equal(t, "workers-w1", out.Rules[0].Conditions.All[0].Fact)
	assert.Equal(t, "limit", out.Rules[1].Conditions.All[0].Fact)

	calls := f.rec.Calls()
	require.Len(t, calls, 1)
	team := calls[0].Params["team"].(map[string]any)
	assert.Equal(t, "t1", team["id"])
	assert.Equal(t, "core", team["name"])

	// The input rule set is not rewritten.
	assert.Equal(t, "workers", rs.Rules[0].Conditions.All[0].Fact)
}

func TestRun_BulkWithNoDocumentsAddsNoRules(t *testing.T) {
	f := newFixture(t, nil)
	rs := ruleSet(t, `{
		"ruleType": "scheduled",
		"additionalFacts": {"workers": {"collection": "workers", "filters": [{"type": "limit", "value": 5}]}},
		"rules": [{"name": "any", "conditions": {"all": []}, "event": {"type": "x"}, "onSuccess": {"actions": {"notify": {}}}}]
	}`)

	out := f.orch.Run(context.Background(), rs, Input{Trigger: TriggerScheduled})
	require.NoError(t, out.Err)
	assert.Empty(t, out.Rules)
	assert.Empty(t, f.rec.Calls())
}

func TestRun_PanicIsRecovered(t *testing.T) {
	f := newFixture(t, nil)
	rs := ruleSet(t, `{
		"ruleType": "api",
		"rules": [{"name": "always", "conditions": {"all": []}, "event": {"type": "x"}, "onSuccess": {"actions": {"notify": {}}}}]
	}`)

	var out *Outcome
	require.NotPanics(t, func() {
		out = f.orch.Run(context.Background(), rs, Input{
			Trigger:    TriggerAPI,
			OnFinished: func(context.Context, map[string]any) { panic("boom") },
		})
	})
	require.Error(t, out.Err)
	assert.Contains(t, out.Err.Error(), "boom")
	assert.NotContains(t, out.Stages, StageDone)
}

func TestRun_SettingsLoadFailure(t *testing.T) {
	f := newFixture(t, NewSettings(failingSettings{}))
	out := f.orch.Run(context.Background(), ruleSet(t, statusRuleSet), Input{Trigger: TriggerDoc})
	require.Error(t, out.Err)
	assert.Equal(t, []Stage{StageIdle}, out.Stages)
	assert.Empty(t, f.rec.Calls())
}

func TestRun_FieldMapsFactAvailableToActions(t *testing.T) {
	f := newFixture(t, nil)
	testutil.Seed(t, f.st, "projects", "p1", map[string]any{"title": "Roof"})
	rs := ruleSet(t, `{
		"ruleType": "doc",
		"fieldMaps": {"projects": [{"ours": "title", "theirs": "name"}]},
		"rules": [{"name": "fetch", "conditions": {"all": []}, "event": {"type": "x"},
			"onSuccess": {"actions": {"getDoc": {"collection": "projects", "id": "p1"}}}}]
	}`)

	out := f.orch.Run(context.Background(), rs, Input{Trigger: TriggerDoc})
	require.NoError(t, out.Err)
	got := out.ActionResults[actions.GetDoc].(map[string]any)
	assert.Equal(t, "Roof", got["name"])
	assert.NotContains(t, got, "title")
}
