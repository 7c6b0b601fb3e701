package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docrules/internal/api"
	"github.com/roach88/docrules/internal/queryir"
	"github.com/roach88/docrules/internal/store"
)

func TestRunScheduled(t *testing.T) {
	env := newTestEnv(t)
	dir := filepath.Join(env.dir, "rulesets")
	writeFile(t, filepath.Join(dir, "nightly.yaml"), nightlyRuleSet)
	_, err := execute(NewImportCommand(env.rootOpts("text")), dir)
	require.NoError(t, err)

	out, err := execute(NewRunScheduledCommand(env.rootOpts("json")))
	require.NoError(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   ScheduledResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Started)
	assert.Empty(t, resp.Data.Failed)

	docs, err := openStore(t, env.db).QueryDocs(context.Background(), queryir.From("ticks"))
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

const projectsAPI = `{
  "active": true,
  "ruleType": "api",
  "filters": {"method": "POST", "endPoint": "projects"},
  "rules": [{
    "name": "create",
    "conditions": {"all": [{"fact": "request", "path": "body", "operator": "hasProp", "value": "name"}]},
    "event": {"type": "create"},
    "onSuccess": {"actions": {"addDoc": {"collection": "projects", "data": {"fact": "request", "path": "body"}}}}
  }]
}`

const projectWatch = `{
  "active": true,
  "ruleType": "doc",
  "filters": {"collection": "projects"},
  "rules": [{
    "name": "audit",
    "conditions": {"all": [{"fact": "trigger", "operator": "equal", "value": "create"}]},
    "event": {"type": "created"},
    "onSuccess": {"actions": {"addDoc": {"collection": "audit", "data": {"project": {"fact": "srcDoc", "path": "id"}}}}}
  }]
}`

func TestServe(t *testing.T) {
	env := newTestEnv(t)
	dir := filepath.Join(env.dir, "rulesets")
	writeFile(t, filepath.Join(dir, "projects.json"), projectsAPI)
	writeFile(t, filepath.Join(dir, "watch.json"), projectWatch)
	_, err := execute(NewImportCommand(env.rootOpts("text")), dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrs := make(chan string, 1)
	opts := &ServeOptions{RootOptions: env.rootOpts("text"), ready: func(addr string) { addrs <- addr }}
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)

	done := make(chan error, 1)
	go func() { done <- runServe(opts, cmd) }()

	var base string
	select {
	case addr := <-addrs:
		base = "http://" + addr
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start")
	}

	resp, err := http.Post(base+"/projects", "application/json", strings.NewReader(`{"name": "Roof"}`))
	require.NoError(t, err)
	var env1 api.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env1))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, env1.Error)

	// The api write is a document change the doc trigger picks up.
	require.Eventually(t, func() bool {
		st, err := store.Open(store.DriverSQLite3, env.db)
		if err != nil {
			return false
		}
		defer st.Close()
		docs, err := st.QueryDocs(context.Background(), queryir.From("audit"))
		return err == nil && len(docs) == 1
	}, 5*time.Second, 50*time.Millisecond)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, bytes.Contains(body, []byte("docrules_ruleset_runs_total")))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}
