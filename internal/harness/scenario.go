package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a coordinator scenario.
// Scenarios drive a coordinator against a simulated device through a flow of
// steps and assert on the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Catalog is an optional directory of CUE geofence catalogs, added before
	// setup. Relative to the scenario file when loaded with a base path.
	Catalog string `yaml:"catalog,omitempty"`

	// Device configures the simulated platform.
	Device Device `yaml:"device,omitempty"`

	// Setup contains steps run before the main flow.
	Setup []ActionStep `yaml:"setup,omitempty"`

	// Flow contains the main steps, each with an optional expectation.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count, final_state
	Assertions []Assertion `yaml:"assertions"`
}

// Device is the initial state of the simulated platform.
type Device struct {
	// Authorization is the starting permission level: none, when-in-use or
	// always. Defaults to always.
	Authorization string `yaml:"authorization,omitempty"`

	// GrantOnRequest is the level picked when permission is requested.
	// Defaults to always.
	GrantOnRequest string `yaml:"grant_on_request,omitempty"`

	// RegionLimit caps concurrent registrations.
	RegionLimit int `yaml:"region_limit,omitempty"`

	// Unavailable turns region monitoring off.
	Unavailable bool `yaml:"unavailable,omitempty"`

	// Location is the starting position, if any.
	Location *Position `yaml:"location,omitempty"`
}

// Position is a latitude/longitude pair in degrees.
type Position struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// ActionStep represents a single step in Setup. Setup steps carry no
// expectation.
type ActionStep struct {
	// Action is the step name (e.g., "add_geofence").
	Action string `yaml:"action"`

	// Args contains the step arguments.
	Args map[string]interface{} `yaml:"args,omitempty"`
}

// FlowStep represents a step in the main flow.
type FlowStep struct {
	// Invoke is the step name.
	Invoke string `yaml:"invoke"`

	// Args contains the step arguments.
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Expect specifies the expected completion. If nil, no validation is
	// performed.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies expected completion behavior.
type ExpectClause struct {
	// Case is "ok" or an error code (e.g., "AUTHORIZATION_INSUFFICIENT").
	Case string `yaml:"case"`

	// Result contains expected result fields. Subset match.
	Result map[string]interface{} `yaml:"result,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": a record with action (and args, case) is in the trace
	// - "trace_order": actions appear in order
	// - "trace_count": action appears exactly N times
	// - "final_state": coordinator state matches expected values
	Type string `yaml:"type"`

	// Action is the step or event name (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Record restricts trace matching to one record type (invoke,
	// completion, event, response, notification).
	Record string `yaml:"record,omitempty"`

	// Args are expected record args. Subset match.
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Case is the expected record case (trace_contains).
	Case string `yaml:"case,omitempty"`

	// Table is "status" or "geofences" (final_state).
	Table string `yaml:"table,omitempty"`

	// Where selects a geofence by field (final_state on geofences).
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect contains expected field values (final_state). Subset match.
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences (trace_count).
	Count int `yaml:"count,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// final_state tables.
const (
	TableStatus    = "status"
	TableGeofences = "geofences"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, "")
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the catalog path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Catalog != "" && !filepath.IsAbs(scenario.Catalog) && basePath != "" {
		scenario.Catalog = filepath.Join(basePath, scenario.Catalog)
	}
	if scenario.Catalog != "" {
		if _, err := os.Stat(scenario.Catalog); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: catalog not found: %s", scenario.Catalog)
		}
	}

	return scenario, nil
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if err := validateDevice(s.Device); err != nil {
		return fmt.Errorf("device: %w", err)
	}

	for i, step := range s.Setup {
		if step.Action == "" {
			return fmt.Errorf("setup[%d]: action is required", i)
		}
		if _, ok := steps[step.Action]; !ok {
			return fmt.Errorf("setup[%d]: unknown action %q", i, step.Action)
		}
	}

	for i, step := range s.Flow {
		if step.Invoke == "" {
			return fmt.Errorf("flow[%d]: invoke is required", i)
		}
		def, ok := steps[step.Invoke]
		if !ok {
			return fmt.Errorf("flow[%d]: unknown action %q", i, step.Invoke)
		}
		if step.Expect != nil {
			if step.Expect.Case == "" {
				return fmt.Errorf("flow[%d].expect: case is required", i)
			}
			if def.completion == completesNever {
				return fmt.Errorf("flow[%d].expect: %s has no completion to expect", i, step.Invoke)
			}
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateDevice(d Device) error {
	for _, level := range []string{d.Authorization, d.GrantOnRequest} {
		if _, err := parseAuthorizationOr(level, "always"); err != nil {
			return err
		}
	}
	if d.RegionLimit < 0 {
		return fmt.Errorf("region_limit must be non-negative")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		switch a.Table {
		case TableStatus, TableGeofences:
		case "":
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		default:
			return fmt.Errorf("assertions[%d]: unknown table %q (want status or geofences)", index, a.Table)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Record != "" && !validRecord(a.Record) {
		return fmt.Errorf("assertions[%d]: unknown record type %q", index, a.Record)
	}

	return nil
}
