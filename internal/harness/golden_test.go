package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithGolden_ArriveHome(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "arrive_home.yaml"))
	require.NoError(t, err)

	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "arrive_home.yaml"))
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := MarshalSnapshot(scenario.Name, first.Trace)
	require.NoError(t, err)
	b, err := MarshalSnapshot(scenario.Name, second.Trace)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestMarshalSnapshot_Shape(t *testing.T) {
	data, err := MarshalSnapshot("tiny", []TraceEvent{
		{Seq: 1, Type: RecordInvoke, Action: "attach"},
	})
	require.NoError(t, err)

	want := `{
  "scenario_name": "tiny",
  "trace": [
    {
      "seq": 1,
      "type": "invoke",
      "action": "attach"
    }
  ]
}
`
	assert.Equal(t, want, string(data))
}
