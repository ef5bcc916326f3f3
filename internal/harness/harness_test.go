package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runYAML(t *testing.T, src string) *Result {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	result, err := Run(s)
	require.NoError(t, err)
	return result
}

func records(trace []TraceEvent, typ, action string) []TraceEvent {
	var out []TraceEvent
	for _, r := range trace {
		if r.Type == typ && r.Action == action {
			out = append(out, r)
		}
	}
	return out
}

func TestRun_CatalogNotify(t *testing.T) {
	path := filepath.Join("testdata", "scenarios", "catalog_notify.yaml")
	s, err := LoadScenarioWithBasePath(path, filepath.Dir(path))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	notes := records(result.Trace, RecordNotification, "local_notification")
	require.Len(t, notes, 1)
	assert.Equal(t, map[string]interface{}{
		"identifier": "home",
		"action":     "ENTER",
		"title":      "Welcome",
		"body":       "You have arrived",
	}, notes[0].Result)
}

func TestRun_PermissionDenied(t *testing.T) {
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", "permission_denied.yaml"))
	require.NoError(t, err)

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_PermissionGranted(t *testing.T) {
	result := runYAML(t, `
name: permission_granted
description: "A request made before permission resolves once the user grants it"
device:
  authorization: none
  grant_on_request: when-in-use
  location: {latitude: 52.52, longitude: 13.405}
flow:
  - invoke: request_location
    expect:
      case: ok
      result: {locations: 1}
assertions:
  - type: trace_order
    actions: [authorization_changed, locations_updated]
    record: event
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_LocationFailure(t *testing.T) {
	result := runYAML(t, `
name: location_failure
description: "A platform location error reaches the request"
device:
  location: {latitude: 52.52, longitude: 13.405}
setup:
  - action: fail_location
    args: {code: LOCATION_TIMEOUT}
flow:
  - invoke: request_location
    expect: {case: LOCATION_TIMEOUT}
  - invoke: fail_location
  - invoke: request_location
    expect: {case: ok}
assertions:
  - type: trace_contains
    action: location_failed
    args: {error: LOCATION_TIMEOUT}
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_MonitoringUnavailable(t *testing.T) {
	result := runYAML(t, `
name: unavailable
description: "Start monitoring fails on a device without region monitoring"
device: {unavailable: true}
setup:
  - action: add_geofence
    args: {identifier: home, latitude: 52.52, longitude: 13.405, radius: 200}
flow:
  - invoke: start_monitoring
    expect: {case: CAPABILITY_UNAVAILABLE}
assertions:
  - type: final_state
    table: status
    expect: {monitored_regions: 0, activated: false}
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_RegistrationRejected(t *testing.T) {
	result := runYAML(t, `
name: rejected
description: "A platform rejection fails the batch"
setup:
  - action: add_geofence
    args: {identifier: home, latitude: 52.52, longitude: 13.405, radius: 200}
  - action: reject_next
    args: {identifier: home, reason: "too many regions"}
flow:
  - invoke: start_monitoring
    expect: {case: REGISTRATION_FAILED}
assertions:
  - type: trace_contains
    action: monitoring_failed
    args: {identifier: home, error: "too many regions"}
  - type: final_state
    table: status
    expect: {monitored_regions: 0, batch_open: false}
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_DuplicateWindow(t *testing.T) {
	result := runYAML(t, `
name: duplicates
description: "Repeated callbacks inside the duplicate window are dropped"
device:
  location: {latitude: 52.52, longitude: 13.405}
setup:
  - action: add_geofence
    args: {identifier: home, latitude: 52.52, longitude: 13.405, radius: 200}
  - action: attach
flow:
  - invoke: cross
    args: {identifier: home, kind: enter}
  - invoke: advance
    args: {seconds: 2}
  - invoke: cross
    args: {identifier: home, kind: enter}
  - invoke: advance
    args: {seconds: 6}
  - invoke: cross
    args: {identifier: home, kind: enter}
assertions:
  - type: trace_count
    action: region_entered
    case: dispatched
    count: 2
  - type: trace_count
    action: region_entered
    case: duplicate
    count: 1
  - type: trace_count
    action: geofence_event
    record: response
    count: 2
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_UnknownGeofence(t *testing.T) {
	result := runYAML(t, `
name: unresolved
description: "A callback for an unknown geofence is dropped"
device:
  location: {latitude: 52.52, longitude: 13.405}
flow:
  - invoke: attach
  - invoke: cross
    args: {identifier: ghost, kind: exit}
assertions:
  - type: trace_contains
    action: region_exited
    case: unresolved
  - type: trace_count
    action: geofence_event
    count: 0
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_TriggerStoredAndTemplates(t *testing.T) {
	result := runYAML(t, `
name: stored
description: "The latest buffered crossing is replayed on demand"
device:
  location: {latitude: 52.40, longitude: 13.10}
setup:
  - action: set_templates
    args:
      leaving: {title: "Bye", body: "See you", associated_node_id: "node-1"}
  - action: add_geofence
    args: {identifier: home, latitude: 52.52, longitude: 13.405, radius: 200}
  - action: start_monitoring
  - action: move_to
    args: {latitude: 52.52, longitude: 13.405}
  - action: move_to
    args: {latitude: 52.40, longitude: 13.10}
flow:
  - invoke: trigger_stored
    expect:
      case: ok
      result: {delivered: false}
  - invoke: attach
  - invoke: trigger_stored
    expect:
      case: ok
      result: {delivered: false}
assertions:
  - type: trace_count
    action: region_entered
    case: buffered
    count: 1
  - type: trace_count
    action: local_notification
    count: 1
  - type: trace_count
    action: geofence_event
    count: 1
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	notes := records(result.Trace, RecordNotification, "local_notification")
	require.Len(t, notes, 1)
	res := notes[0].Result.(map[string]interface{})
	assert.Equal(t, "EXIT", res["action"])
	assert.Equal(t, "node-1", res["associatedNodeId"])

	responses := records(result.Trace, RecordResponse, "geofence_event")
	require.Len(t, responses, 1)
	assert.Equal(t, "EXIT", responses[0].Result.(map[string]interface{})["action"], "only the latest buffered crossing is kept")
}

func TestRun_StopAndRestart(t *testing.T) {
	result := runYAML(t, `
name: stop_restart
description: "Stopping clears everything and restart is then a no-op"
setup:
  - action: add_geofence
    args: {identifier: home, latitude: 52.52, longitude: 13.405, radius: 200}
  - action: start_monitoring
flow:
  - invoke: stop_monitoring
    expect: {case: ok}
  - invoke: restart
    expect:
      case: ok
      result: {regions: []}
assertions:
  - type: final_state
    table: status
    expect: {geofences: 0, monitored_regions: 0, activated: false}
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_RemoveGeofence(t *testing.T) {
	result := runYAML(t, `
name: remove
description: "Removing a geofence stops its region"
setup:
  - action: add_geofence
    args: {identifier: home, latitude: 52.52, longitude: 13.405, radius: 200}
  - action: add_geofence
    args: {identifier: work, latitude: 52.53, longitude: 13.38, radius: 200}
  - action: start_monitoring
flow:
  - invoke: remove_geofence
    args: {identifier: home}
    expect: {case: ok}
assertions:
  - type: final_state
    table: status
    expect: {geofences: 1, monitored_regions: 1}
  - type: final_state
    table: geofences
    where: {identifier: work}
    expect: {radius: 200, center: {latitude: 52.53, longitude: 13.38}}
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_InvalidGeofence(t *testing.T) {
	result := runYAML(t, `
name: invalid
description: "An invalid geofence is rejected"
flow:
  - invoke: add_geofence
    args: {identifier: bad, latitude: 95, longitude: 0, radius: 10}
    expect: {case: INVALID_GEOFENCE}
assertions:
  - type: final_state
    table: status
    expect: {geofences: 0}
`)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	result := runYAML(t, `
name: mismatch
description: "A wrong expectation fails the run"
flow:
  - invoke: add_geofence
    args: {identifier: home, latitude: 52.52, longitude: 13.405, radius: 200}
    expect: {case: PERSISTENCE_FAILED}
assertions:
  - type: trace_count
    action: add_geofence
    record: completion
    count: 1
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected case PERSISTENCE_FAILED, got ok")
}

func TestRun_AssertionFailureFails(t *testing.T) {
	result := runYAML(t, `
name: wrong_state
description: "A wrong final state fails the run"
flow:
  - invoke: attach
assertions:
  - type: final_state
    table: status
    expect: {geofences: 3}
`)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "final_state")
}

func TestRun_BadArgsAbort(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: bad_args
description: "Missing arguments abort the run"
flow:
  - invoke: move_to
    args: {latitude: 52.52}
assertions:
  - type: trace_count
    action: move_to
    count: 1
`))
	require.NoError(t, err)

	_, err = Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `arg "longitude"`)
}

func TestActions_Sorted(t *testing.T) {
	actions := Actions()
	assert.Contains(t, actions, "add_geofence")
	assert.Contains(t, actions, "trigger_stored")
	assert.IsIncreasing(t, actions)
}
