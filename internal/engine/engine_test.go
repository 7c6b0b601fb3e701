package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docrules/internal/ir"
)

func cond(t *testing.T, raw string) ir.Condition {
	t.Helper()
	var c ir.Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	return c
}

func TestRun_SuccessAndFailureCallbacks(t *testing.T) {
	e := New()
	e.AddFact(StaticFact("srcDoc", map[string]any{"id": "d1", "status": "new"}))

	var calls []string
	record := func(tag string) Callback {
		return func(ctx context.Context, a *Almanac, r RuleResult) {
			calls = append(calls, tag+":"+r.Name)
		}
	}

	require.NoError(t, e.AddRule(Rule{
		Name:       "is-new",
		Conditions: cond(t, `{"all":[{"fact":"srcDoc","path":"$.status","operator":"equal","value":"new"}]}`),
		OnSuccess:  record("success"),
		OnFailure:  record("failure"),
	}))
	require.NoError(t, e.AddRule(Rule{
		Name:       "is-done",
		Conditions: cond(t, `{"all":[{"fact":"srcDoc","path":"$.status","operator":"equal","value":"done"}]}`),
		OnSuccess:  record("success"),
		OnFailure:  record("failure"),
	}))

	res, err := e.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"success:is-new", "failure:is-done"}, calls)
	require.Len(t, res.Results, 1)
	require.Len(t, res.FailureResults, 1)
	assert.Equal(t, int64(1), res.All[0].Seq)
	assert.Equal(t, int64(2), res.All[1].Seq)
}

func TestRun_PriorityOrder(t *testing.T) {
	e := New()
	var order []string
	cb := func(ctx context.Context, a *Almanac, r RuleResult) { order = append(order, r.Name) }

	always := cond(t, `{"all":[]}`)
	require.NoError(t, e.AddRule(Rule{Name: "low", Priority: 1, Conditions: always, OnSuccess: cb}))
	require.NoError(t, e.AddRule(Rule{Name: "default", Conditions: always, OnSuccess: cb}))
	require.NoError(t, e.AddRule(Rule{Name: "high", Priority: 10, Conditions: always, OnSuccess: cb}))

	_, err := e.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"high", "low", "default"}, order)
}

func TestRun_EveryLeafEvaluated(t *testing.T) {
	e := New()
	e.AddFact(StaticFact("n", 5))

	require.NoError(t, e.AddRule(Rule{
		Name: "mixed",
		Conditions: cond(t, `{"all":[
			{"fact":"n","operator":"lessThan","value":3},
			{"any":[
				{"fact":"n","operator":"equal","value":5},
				{"fact":"n","operator":"equal","value":6}
			]},
			{"not":{"fact":"n","operator":"greaterThan","value":10}}
		]}`),
	}))

	res, err := e.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.All, 1)

	r := res.All[0]
	assert.False(t, r.Result)
	leaves := r.Conditions.Leaves()
	require.Len(t, leaves, 4)
	assert.False(t, leaves[0].Result)
	assert.True(t, leaves[1].Result)
	assert.False(t, leaves[2].Result)
	assert.False(t, leaves[3].Result)
	assert.Equal(t, 5, leaves[0].FactResult)
	assert.Equal(t, float64(3), leaves[0].ValueResult)
	assert.True(t, r.Conditions.Children[2].Result, "not node inverts its child")
}

func TestRun_ValueFactReference(t *testing.T) {
	e := New()
	e.AddFact(StaticFact("srcDoc", map[string]any{"owner": "u1"}))
	e.AddFact(StaticFact("user", map[string]any{"id": "u1"}))

	require.NoError(t, e.AddRule(Rule{
		Name:       "owner",
		Conditions: cond(t, `{"all":[{"fact":"srcDoc","path":"owner","operator":"equal","value":{"fact":"user","path":"$.id"}}]}`),
	}))

	res, err := e.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.All[0].Result)
}

func TestRun_UndefinedFactReadsNil(t *testing.T) {
	e := New()
	require.NoError(t, e.AddRule(Rule{
		Name:       "missing",
		Conditions: cond(t, `{"all":[{"fact":"nope","operator":"equal","value":null}]}`),
	}))

	res, err := e.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, res.All[0].Result)
}

func TestRun_UnknownOperator(t *testing.T) {
	e := New()
	e.AddFact(StaticFact("x", 1))
	require.NoError(t, e.AddRule(Rule{
		Name:       "bad-op",
		Conditions: cond(t, `{"all":[{"fact":"x","operator":"sortaEqual","value":1}]}`),
	}))

	_, err := e.Run(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsUnknownOperator(err))
}

func TestAddRule_InvalidCondition(t *testing.T) {
	e := New()
	err := e.AddRule(Rule{Name: "bad", Conditions: cond(t, `{"all":[{"fact":"x"}]}`)})
	require.Error(t, err)
	assert.True(t, IsInvalidCondition(err))
}

func TestRun_MemoizesAcrossRules(t *testing.T) {
	e := New()
	calls := 0
	e.AddFact(DynamicFact("users", func(ctx context.Context, params map[string]any, a *Almanac) (any, error) {
		calls++
		return []any{"a", "b"}, nil
	}))

	c := cond(t, `{"all":[{"fact":"users","operator":"contains","value":"a"}]}`)
	require.NoError(t, e.AddRule(Rule{Name: "one", Conditions: c}))
	require.NoError(t, e.AddRule(Rule{Name: "two", Conditions: c}))

	_, err := e.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// A new run gets a new almanac.
	_, err = e.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRun_RuntimeFactsAndCallbacksShareAlmanac(t *testing.T) {
	e := New()
	always := cond(t, `{"all":[]}`)
	require.NoError(t, e.AddRule(Rule{
		Name:       "writer",
		Priority:   2,
		Conditions: always,
		OnSuccess: func(ctx context.Context, a *Almanac, r RuleResult) {
			a.AddRuntimeFact("seen", true)
		},
	}))
	require.NoError(t, e.AddRule(Rule{
		Name:       "reader",
		Conditions: cond(t, `{"all":[{"fact":"seen","operator":"equal","value":true},{"fact":"input","operator":"equal","value":"x"}]}`),
	}))

	res, err := e.Run(context.Background(), map[string]any{"input": "x"})
	require.NoError(t, err)
	assert.True(t, res.All[1].Result)
}

func TestRun_CanceledContext(t *testing.T) {
	e := New()
	require.NoError(t, e.AddRule(Rule{Name: "r", Conditions: cond(t, `{"all":[]}`)}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_SeqRestartsEachRun(t *testing.T) {
	e := New()
	always := cond(t, `{"all":[]}`)
	require.NoError(t, e.AddRule(Rule{Name: "low", Priority: 1, Conditions: always}))
	require.NoError(t, e.AddRule(Rule{Name: "high", Priority: 5, Conditions: always}))

	for range 2 {
		res, err := e.Run(context.Background(), nil)
		require.NoError(t, err)
		require.Len(t, res.All, 2)
		assert.Equal(t, "high", res.All[0].Name)
		assert.Equal(t, int64(1), res.All[0].Seq)
		assert.Equal(t, int64(2), res.All[1].Seq)
	}
}
