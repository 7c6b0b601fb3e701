package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docrules/internal/ir"
)

// testEnv is a temp dir with a config file pointing at a fresh SQLite store
// and an in-memory blob store.
type testEnv struct {
	dir    string
	db     string
	config string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		dir:    dir,
		db:     filepath.Join(dir, "docrules.db"),
		config: filepath.Join(dir, "docrules.yaml"),
	}
	writeFile(t, env.config, `
store:
  driver: sqlite3
  dsn: `+env.db+`
http:
  addr: 127.0.0.1:0
scheduler:
  enabled: false
blob:
  driver: memory
`)
	return env
}

func (e testEnv) rootOpts(format string) *RootOptions {
	return &RootOptions{Format: format, Config: e.config}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func decodeRuleSet(t *testing.T, raw string) ir.RuleSet {
	t.Helper()
	var rs ir.RuleSet
	require.NoError(t, json.Unmarshal([]byte(raw), &rs))
	return rs
}

func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

const ordersRuleSet = `{
  "title": "orders",
  "active": true,
  "ruleType": "doc",
  "filters": {"collection": "orders"},
  "rules": [{
    "name": "big-order",
    "conditions": {"all": [{"fact": "srcDoc", "path": "total", "operator": "greaterThan", "value": 100}]},
    "event": {"type": "big"},
    "onSuccess": {"actions": {"addDoc": {"collection": "review", "id": {"fact": "srcDoc", "path": "id"}, "data": {"reason": "big"}}}}
  }]
}`

const nightlyRuleSet = `
title: nightly
active: true
ruleType: scheduled
filters:
  cron: "* * * * *"
rules:
  - name: always
    conditions: {all: []}
    event: {type: tick}
    onSuccess:
      actions:
        addDoc: {collection: ticks, data: {ok: true}}
`
