// Package harness runs coordinator scenarios.
//
// A scenario drives a real engine.Coordinator against a simulated device and
// checks the resulting trace and final state. Runs use an in-memory store, a
// manual wall clock and sequential location request ids, so the same
// scenario always produces the same trace and can be compared to a golden
// file.
//
// # Scenario Format
//
//	name: arrive_home
//	description: "Entering a monitored geofence reaches the responder"
//	catalog: catalogs/home        # optional CUE catalog directory
//	device:
//	  authorization: always
//	  location: {latitude: 52.40, longitude: 13.10}
//	setup:
//	  - action: add_geofence
//	    args: {identifier: home, latitude: 52.52, longitude: 13.405, radius: 200}
//	flow:
//	  - invoke: start_monitoring
//	    expect:
//	      case: ok
//	      result: {regions: [home]}
//	  - invoke: attach
//	  - invoke: move_to
//	    args: {latitude: 52.52, longitude: 13.405}
//	assertions:
//	  - type: trace_contains
//	    action: region_entered
//	    case: dispatched
//	  - type: final_state
//	    table: status
//	    expect: {monitored_regions: 1, activated: true}
//
// # Trace Records
//
// Every step adds an invoke record. Steps that call the coordinator add a
// completion whose case is "ok" or an error code. Platform callbacks the
// coordinator processed appear as event records, with the crossing outcome
// as the case for region events. Crossings handed to an attached responder
// appear as response records and posted notifications as notification
// records.
//
// # Assertion Types
//
//   - trace_contains: a record with the action, case and args exists
//   - trace_order: actions appear in the given order
//   - trace_count: an action appears exactly N times
//   - final_state: the status or one geofence matches expected fields
package harness
