package cli

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docrules/internal/actions"
	"github.com/roach88/docrules/internal/queryir"
	"github.com/roach88/docrules/internal/rules"
)

type evalResponse struct {
	Status string     `json:"status"`
	Data   EvalResult `json:"data"`
}

func TestEvalDryRun(t *testing.T) {
	env := newTestEnv(t)
	rs := filepath.Join(env.dir, "orders.json")
	doc := filepath.Join(env.dir, "order.json")
	writeFile(t, rs, ordersRuleSet)
	writeFile(t, doc, `{"id": "o1", "total": 250}`)

	out, err := execute(NewEvalCommand(env.rootOpts("json")), "--ruleset", rs, "--doc", doc)
	require.NoError(t, err)

	var resp evalResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "orders", resp.Data.RuleSet)
	require.Len(t, resp.Data.Rules, 1)
	assert.True(t, resp.Data.Rules[0].Passed)
	assert.Equal(t, "big", resp.Data.Rules[0].Event.Type)
	assert.Contains(t, resp.Data.Actions, actions.ExampleAction)
	assert.Contains(t, resp.Data.Stages, rules.StageDone)

	docs, err := openStore(t, env.db).QueryDocs(context.Background(), queryir.From("review"))
	require.NoError(t, err)
	assert.Empty(t, docs, "dry run writes nothing")
}

func TestEvalLive(t *testing.T) {
	env := newTestEnv(t)
	rs := filepath.Join(env.dir, "orders.json")
	doc := filepath.Join(env.dir, "order.json")
	writeFile(t, rs, ordersRuleSet)
	writeFile(t, doc, `{"id": "o2", "total": 500}`)

	out, err := execute(NewEvalCommand(env.rootOpts("text")), "--ruleset", rs, "--doc", doc, "--live")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ big-order (big)")
	assert.Contains(t, out, `"addDoc"`)

	docs, err := openStore(t, env.db).QueryDocs(context.Background(), queryir.From("review"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "o2", docs[0].ID, "top-level fact params resolve")
	assert.Equal(t, map[string]any{"reason": "big"}, docs[0].Data)
}

func TestEvalFailingRule(t *testing.T) {
	env := newTestEnv(t)
	rs := filepath.Join(env.dir, "orders.json")
	doc := filepath.Join(env.dir, "order.json")
	writeFile(t, rs, ordersRuleSet)
	writeFile(t, doc, `{"id": "o3", "total": 5}`)

	out, err := execute(NewEvalCommand(env.rootOpts("text")), "--ruleset", rs, "--doc", doc)
	require.NoError(t, err)
	assert.Contains(t, out, "✗ big-order")
}

func TestEvalInputErrors(t *testing.T) {
	env := newTestEnv(t)
	rs := filepath.Join(env.dir, "orders.json")
	writeFile(t, rs, ordersRuleSet)

	_, err := execute(NewEvalCommand(env.rootOpts("text")), "--ruleset", rs, "--trigger", "rename")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = execute(NewEvalCommand(env.rootOpts("text")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ruleset")
}

func TestEvalOptionsInput(t *testing.T) {
	dir := t.TempDir()
	before := filepath.Join(dir, "before.json")
	writeFile(t, before, `{"id": 7, "status": "new"}`)

	o := &EvalOptions{Before: before, Trigger: "delete"}
	in, err := o.input(decodeRuleSet(t, `{"ruleType": "doc", "filters": {"collection": "orders"}}`))
	require.NoError(t, err)
	assert.Equal(t, rules.TriggerDoc, in.Trigger)
	assert.Equal(t, map[string]any{"id": "7", "status": "new"}, in.Facts[rules.SrcDocFact])
	assert.Equal(t, "orders", in.Facts[rules.CollectionFact])

	in, err = (&EvalOptions{}).input(decodeRuleSet(t, `{"ruleType": "api"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"request": map[string]any{}}, in.Facts)

	_, err = (&EvalOptions{}).input(decodeRuleSet(t, `{"ruleType": "callable"}`))
	assert.Error(t, err)
}
