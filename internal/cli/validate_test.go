package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docrules/internal/compiler"
)

func TestValidateValidRuleSets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "orders.json"), ordersRuleSet)
	writeFile(t, filepath.Join(dir, "nightly.yaml"), nightlyRuleSet)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All rule sets valid")
}

func TestValidateValidRuleSetsJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "orders.json"), ordersRuleSet)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), dir)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateReportsEveryFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a-good.json"), ordersRuleSet)
	writeFile(t, filepath.Join(dir, "b-schema.json"), `{"active": true, "ruleType": "doc", "rules": [], "extra": 1}`)
	writeFile(t, filepath.Join(dir, "c-semantic.json"), `{"active": true, "ruleType": "scheduled", "filters": {"cron": "every day"},
		"rules": [{"name": "r", "conditions": {"all": []}, "event": {"type": "x"}, "onSuccess": {"actions": {"fax": {}}}}]}`)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  CLIError         `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.Len(t, resp.Data.Files, 3)
	assert.Empty(t, resp.Data.Files[0].Errors)
	require.Len(t, resp.Data.Files[1].Errors, 1)
	assert.Equal(t, compiler.ErrSchema, resp.Data.Files[1].Errors[0].Code)
	assert.Equal(t, compiler.ErrSchema, resp.Error.Code)

	var got []string
	for _, e := range resp.Data.Files[2].Errors {
		got = append(got, e.Code)
	}
	assert.Equal(t, []string{compiler.ErrInvalidCron, compiler.ErrUnknownAction}, got)
}

func TestValidateTextOutput(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.json"), `{"active": true, "ruleType": "doc", "rules": []}`)

	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, compiler.ErrMissingColl)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	out, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), "/nonexistent/rulesets")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeNotFound)
	assert.Contains(t, out, "not found")
}

func TestValidateEmptyDirectory(t *testing.T) {
	_, err := execute(NewValidateCommand(&RootOptions{Format: "text"}), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrCodeNoFiles)
}
