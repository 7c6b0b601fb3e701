package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docrules/internal/ir"
	"github.com/roach88/docrules/internal/testutil"
)

func TestLoader_FiltersByTypeAndCollection(t *testing.T) {
	st := testutil.OpenStore(t)
	testutil.Seed(t, st, RuleSetsCollection, "orders", map[string]any{
		"title": "orders", "active": true, "ruleType": "doc",
		"filters": map[string]any{"collection": "orders"}, "rules": []any{},
	})
	testutil.Seed(t, st, RuleSetsCollection, "users", map[string]any{
		"title": "users", "active": true, "ruleType": "doc",
		"filters": map[string]any{"collection": "users"}, "rules": []any{},
	})
	testutil.Seed(t, st, RuleSetsCollection, "inactive", map[string]any{
		"title": "inactive", "active": false, "ruleType": "doc",
		"filters": map[string]any{"collection": "orders"}, "rules": []any{},
	})
	testutil.Seed(t, st, RuleSetsCollection, "nightly", map[string]any{
		"title": "nightly", "active": true, "ruleType": "scheduled",
		"filters": map[string]any{"cron": "0 3 * * *"}, "rules": []any{},
	})

	l := NewLoader(st, nil)
	got, err := l.Load(context.Background(), ir.RuleTypeDoc, Filter{Collection: "orders"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "orders", got[0].ID)

	got, err = l.Load(context.Background(), ir.RuleTypeScheduled, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0 3 * * *", got[0].Filters.Cron)
}

func TestLoader_MatchesMethodAndEndpoint(t *testing.T) {
	st := testutil.OpenStore(t)
	testutil.Seed(t, st, RuleSetsCollection, "create", map[string]any{
		"active": true, "ruleType": "api",
		"filters": map[string]any{"method": "post", "endPoint": "projects"}, "rules": []any{},
	})
	// Legacy layout: method and endPoint at the top level.
	testutil.Seed(t, st, RuleSetsCollection, "list", map[string]any{
		"active": true, "ruleType": "api",
		"method": "GET", "endPoint": "projects", "rules": []any{},
	})

	l := NewLoader(st, nil)
	got, err := l.Load(context.Background(), ir.RuleTypeAPI, Filter{Method: "POST", EndPoint: "projects"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "create", got[0].ID)

	got, err = l.Load(context.Background(), ir.RuleTypeAPI, Filter{Method: "GET", EndPoint: "projects"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "list", got[0].ID)

	got, err = l.Load(context.Background(), ir.RuleTypeAPI, Filter{Method: "GET", EndPoint: "tasks"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoader_SkipsUndecodableRuleSets(t *testing.T) {
	st := testutil.OpenStore(t)
	testutil.Seed(t, st, RuleSetsCollection, "bad", map[string]any{
		"active": true, "ruleType": "doc", "rules": "not a list",
	})
	testutil.Seed(t, st, RuleSetsCollection, "good", map[string]any{
		"active": true, "ruleType": "doc", "rules": []any{},
	})

	got, err := NewLoader(st, nil).Load(context.Background(), ir.RuleTypeDoc, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "good", got[0].ID)
}

func TestDecodeRuleSet_KeepsActionOrderFromRaw(t *testing.T) {
	st := testutil.OpenStore(t)
	raw := `{"active":true,"ruleType":"doc","rules":[{"name":"r","conditions":{"all":[]},"event":{"type":"x"},
		"onSuccess":{"actions":{"zeta":{},"alpha":{},"mid":{}}}}]}`
	require.NoError(t, st.SetDocJSON(context.Background(), RuleSetsCollection, "ordered", []byte(raw)))

	doc, err := st.GetDoc(context.Background(), RuleSetsCollection, "ordered")
	require.NoError(t, err)
	rs, err := DecodeRuleSet(*doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, rs.Rules[0].OnSuccess.Actions.Names())
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "title", Label(ir.RuleSet{ID: "id", Title: "title"}))
	assert.Equal(t, "id", Label(ir.RuleSet{ID: "id"}))
}
