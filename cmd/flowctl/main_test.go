package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nomis52/flowmaster/flow"
	"github.com/nomis52/flowmaster/orchestrator"
)

// writeTestConfig points flowctl at a disk store so invocations share flows.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "flowmaster.yaml")
	content := fmt.Sprintf(`logging:
  level: error
  output: %s
store:
  type: disk
  disk:
    dir: %s
retry:
  max_attempts: 1
`, filepath.Join(dir, "flowctl.log"), filepath.Join(dir, "flows"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runFlowctl(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func tenantArgs(configPath string, args ...string) []string {
	return append([]string{"-c", configPath, "--client", "acct-1", "--engagement", "eng-1", "--user", "alice", "--json"}, args...)
}

func TestFlowctl_Lifecycle(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runFlowctl(t, tenantArgs(cfg, "create", "discovery", "--name", "estate", "--set", "source=cmdb")...)
	require.NoError(t, err)
	var created orchestrator.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.NotEmpty(t, created.FlowID)
	assert.Equal(t, "estate", created.FlowName)
	assert.Equal(t, flow.StatusInitialized, created.Status)
	assert.Equal(t, "data_import", created.CurrentPhase)
	id := created.FlowID

	out, err = runFlowctl(t, tenantArgs(cfg, "execute", id, "data_import", "--input", `{"source":"cmdb","rows":3}`)...)
	require.NoError(t, err)
	var res orchestrator.PhaseResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, orchestrator.PhaseCompleted, res.Status)
	assert.Equal(t, "field_mapping", res.NextPhase)
	assert.Equal(t, 1, res.Attempts)

	out, err = runFlowctl(t, tenantArgs(cfg, "pause", id, "--reason", "review")...)
	require.NoError(t, err)
	var paused orchestrator.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &paused))
	assert.Equal(t, flow.StatusPaused, paused.Status)

	out, err = runFlowctl(t, tenantArgs(cfg, "resume", id, "--set", "approved_by=bob")...)
	require.NoError(t, err)
	var resumed orchestrator.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &resumed))
	assert.Equal(t, flow.StatusResumed, resumed.Status)
	assert.Equal(t, "field_mapping", resumed.CurrentPhase)

	out, err = runFlowctl(t, tenantArgs(cfg, "list")...)
	require.NoError(t, err)
	var active []orchestrator.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &active))
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].FlowID)

	out, err = runFlowctl(t, tenantArgs(cfg, "status", id, "--details")...)
	require.NoError(t, err)
	var status orchestrator.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	require.NotNil(t, status.Details)
	assert.Equal(t, "cmdb", status.Details.Configuration["source"])
	assert.Len(t, status.Details.PausePoints, 1)

	_, err = runFlowctl(t, tenantArgs(cfg, "delete", id, "--hard")...)
	require.NoError(t, err)

	_, err = runFlowctl(t, tenantArgs(cfg, "status", id)...)
	assert.ErrorIs(t, err, orchestrator.ErrFlowNotFound)
}

func TestFlowctl_ExecuteValidationFailure(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runFlowctl(t, tenantArgs(cfg, "create", "discovery")...)
	require.NoError(t, err)
	var created orchestrator.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &created))

	_, err = runFlowctl(t, tenantArgs(cfg, "execute", created.FlowID, "data_import", "--set", "rows=3")...)
	var verr *orchestrator.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestFlowctl_OtherTenantCannotSeeFlow(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runFlowctl(t, tenantArgs(cfg, "create", "assessment")...)
	require.NoError(t, err)
	var created orchestrator.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &created))

	_, err = runFlowctl(t, "-c", cfg, "--client", "acct-2", "--engagement", "eng-1", "status", created.FlowID)
	assert.ErrorIs(t, err, orchestrator.ErrFlowNotFound)
}

func TestFlowctl_MissingScope(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runFlowctl(t, "-c", cfg, "list")
	assert.Error(t, err)
}

func TestFlowctl_BadInput(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runFlowctl(t, tenantArgs(cfg, "execute", "f1", "data_import", "--input", "[1,2]")...)
	assert.ErrorContains(t, err, "--input must be a JSON object")
}

func TestFlowctl_ValidateConfig(t *testing.T) {
	cfg := writeTestConfig(t)
	out, err := runFlowctl(t, "-c", cfg, "validate-config")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration validation successful")
	assert.Contains(t, out, "3 flow types")
}

func TestFlowctl_ValidateConfig_UnknownHandler(t *testing.T) {
	dir := t.TempDir()
	types := filepath.Join(dir, "types.yaml")
	require.NoError(t, os.WriteFile(types, []byte(`flow_types:
  - name: broken
    phases:
      - name: only
        task: {handler: missing}
`), 0o644))
	cfg := filepath.Join(dir, "flowmaster.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("flow_types_file: "+types+"\n"), 0o644))

	_, err := runFlowctl(t, "-c", cfg, "validate-config")
	assert.ErrorContains(t, err, `"missing"`)
}

func TestFlowctl_Version(t *testing.T) {
	out, err := runFlowctl(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "flowmaster dev")
}

func TestFlowctl_BadLogLevel(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runFlowctl(t, tenantArgs(cfg, "--log-level", "loud", "list")...)
	assert.ErrorContains(t, err, "invalid --log-level")
}
