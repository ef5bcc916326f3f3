package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../harness/testdata/scenarios"

const enterScenario = `name: enter_office
description: "Entering the office reaches the responder"
setup:
  - action: add_geofence
    args: {identifier: office, latitude: 52.53, longitude: 13.38, radius: 150}
flow:
  - invoke: start_monitoring
  - invoke: attach
  - invoke: move_to
    args: {latitude: 52.53, longitude: 13.38}
assertions:
  - type: trace_contains
    action: region_entered
    case: dispatched
`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestSimulate_Directory(t *testing.T) {
	r := execute(t, tempDB(t), "", "simulate", scenarioDir)
	require.NoError(t, r.err, r.stdout)
	assert.Contains(t, r.stdout, "✓ arrive_home")
	assert.Contains(t, r.stdout, "✓ catalog_notify")
	assert.Contains(t, r.stdout, "✓ permission_denied")
	assert.Contains(t, r.stdout, "3 scenario(s): 3 passed, 0 failed")
}

func TestSimulate_Filter(t *testing.T) {
	r := execute(t, tempDB(t), "", "simulate", scenarioDir, "--filter", "permission", "--format", "json")
	require.NoError(t, r.err)

	var result SimulateResult
	decodeData(t, r.stdout, &result)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, "permission_denied", result.Scenarios[0].Name)
	assert.True(t, result.Scenarios[0].Pass)
	assert.Equal(t, GoldenMissing, result.Scenarios[0].Golden)
}

func TestSimulate_UpdateThenMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "enter_office.yaml", enterScenario)

	r := execute(t, tempDB(t), "", "simulate", path, "--update")
	require.NoError(t, r.err, r.stdout)
	assert.Contains(t, r.stdout, "✓ enter_office (golden: updated)")

	goldenPath := filepath.Join(dir, "golden", "enter_office.golden")
	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name": "enter_office"`)

	r = execute(t, tempDB(t), "", "simulate", dir)
	require.NoError(t, r.err, r.stdout)
	assert.Contains(t, r.stdout, "✓ enter_office (golden: match)")

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}\n"), 0644))
	r = execute(t, tempDB(t), "", "simulate", dir)
	require.Error(t, r.err)
	assert.Equal(t, ExitFailure, GetExitCode(r.err))
	assert.Contains(t, r.stdout, "✗ enter_office (golden: mismatch)")
	assert.Contains(t, r.stdout, "trace differs from golden file")
}

func TestSimulate_GoldenDir(t *testing.T) {
	dir := t.TempDir()
	goldenDir := filepath.Join(t.TempDir(), "traces")
	path := writeScenario(t, dir, "enter_office.yaml", enterScenario)

	r := execute(t, tempDB(t), "", "simulate", path, "--update", "--golden-dir", goldenDir)
	require.NoError(t, r.err)
	assert.FileExists(t, filepath.Join(goldenDir, "enter_office.golden"))
	assert.NoDirExists(t, filepath.Join(dir, "golden"))
}

func TestSimulate_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "never_enters.yaml", `name: never_enters
description: "Expects a crossing that cannot happen"
setup:
  - action: add_geofence
    args: {identifier: office, latitude: 52.53, longitude: 13.38, radius: 150}
flow:
  - invoke: start_monitoring
assertions:
  - type: trace_contains
    action: region_entered
`)
	writeScenario(t, dir, "enter_office.yaml", enterScenario)

	r := execute(t, tempDB(t), "", "simulate", dir)
	require.Error(t, r.err)
	assert.Equal(t, ExitFailure, GetExitCode(r.err))
	assert.Contains(t, r.stdout, "✓ enter_office")
	assert.Contains(t, r.stdout, "✗ never_enters")
	assert.Contains(t, r.stdout, "2 scenario(s): 1 passed, 1 failed")
}

func TestSimulate_InvalidScenarioFile(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: broken\nflow: [\n")

	r := execute(t, tempDB(t), "", "simulate", dir, "--format", "json")
	require.Error(t, r.err)

	var result SimulateResult
	decodeData(t, r.stdout, &result)
	require.Len(t, result.Scenarios, 1)
	assert.False(t, result.Scenarios[0].Pass)
	assert.Contains(t, result.Scenarios[0].Errors[0], "failed to load scenario")
}

func TestSimulate_NoScenarios(t *testing.T) {
	r := execute(t, tempDB(t), "", "simulate", t.TempDir())
	require.Error(t, r.err)
	assert.Equal(t, ExitCommandError, GetExitCode(r.err))
	assert.Contains(t, r.stdout, "no scenarios found")
}

func TestSimulate_MissingPath(t *testing.T) {
	r := execute(t, tempDB(t), "", "simulate", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, r.err)
	assert.Equal(t, ExitCommandError, GetExitCode(r.err))
}
