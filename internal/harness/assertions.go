package harness

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", event.Seq, event.Type, event.Action)
			if event.Case != "" {
				fmt.Fprintf(&buf, " -> %s", event.Case)
			}
			if len(event.Args) > 0 {
				fmt.Fprintf(&buf, " %v", event.Args)
			}
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

// matchesRecord reports whether event is of the assertion's record type, if
// one is given, and has the assertion's action.
func matchesRecord(event TraceEvent, assertion Assertion, action string) bool {
	if assertion.Record != "" && event.Type != assertion.Record {
		return false
	}
	return event.Action == action
}

// assertTraceContains checks if the trace contains a record matching the
// specified action, case and args (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if !matchesRecord(event, assertion, assertion.Action) {
			continue
		}
		if assertion.Case != "" && event.Case != assertion.Case {
			continue
		}
		actual, _ := normalize(event.Args).(map[string]interface{})
		if matchArgs(actual, assertion.Args) {
			return nil
		}
	}

	expected := fmt.Sprintf("action %s with args %v", assertion.Action, assertion.Args)
	if assertion.Case != "" {
		expected += fmt.Sprintf(" and case %s", assertion.Case)
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: expected,
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening records are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	// Find first position of each expected action
	positions := make(map[string]int)
	for i, event := range trace {
		for _, expectedAction := range assertion.Actions {
			if matchesRecord(event, assertion, expectedAction) && positions[expectedAction] == 0 {
				positions[expectedAction] = i + 1 // 1-indexed for readability
			}
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the action appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if !matchesRecord(event, assertion, assertion.Action) {
			continue
		}
		if assertion.Case != "" && event.Case != assertion.Case {
			continue
		}
		count++
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertFinalState checks the final state snapshot. On the status table the
// expected fields are matched against the status; on the geofences table
// exactly one geofence must match Where, and its fields must match Expect.
func assertFinalState(state map[string]interface{}, assertion Assertion) error {
	switch assertion.Table {
	case TableStatus:
		status, _ := state[TableStatus].(map[string]interface{})
		if field, ok := firstMismatch(status, assertion.Expect); !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("status %s = %v", field, assertion.Expect[field]),
				Actual:   fmt.Sprintf("status %s = %v", field, status[field]),
			}
		}
		return nil

	case TableGeofences:
		rows, _ := state[TableGeofences].([]interface{})
		var matched []map[string]interface{}
		for _, r := range rows {
			row, _ := r.(map[string]interface{})
			if matchArgs(row, assertion.Where) {
				matched = append(matched, row)
			}
		}

		whereDesc := formatWhereClause(assertion.Where)
		switch len(matched) {
		case 0:
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("geofence where %s", whereDesc),
				Actual:   "geofence not found",
			}
		case 1:
		default:
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("exactly one geofence where %s", whereDesc),
				Actual:   "multiple geofences matched (assertion is ambiguous)",
			}
		}

		if field, ok := firstMismatch(matched[0], assertion.Expect); !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v", field, assertion.Expect[field]),
				Actual:   fmt.Sprintf("field %q = %v", field, matched[0][field]),
			}
		}
		return nil

	default:
		return fmt.Errorf("final_state: unknown table %q", assertion.Table)
	}
}

// formatWhereClause creates a human-readable description of Where conditions.
func formatWhereClause(where map[string]interface{}) string {
	if len(where) == 0 {
		return "(no conditions)"
	}

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// normalize round-trips v through JSON so YAML-decoded expectations and
// recorded values compare equal: numbers become float64, slices []any and
// structs maps.
func normalize(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// firstMismatch returns the first expected key, in sorted order, whose
// value differs in actual.
func firstMismatch(actual, expected map[string]interface{}) (string, bool) {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		actualVal, exists := actual[key]
		if !exists || !valuesEqual(actualVal, expected[key]) {
			return key, false
		}
	}
	return "", true
}

// matchArgs checks if actual contains all expected keys (subset match).
// Extra keys in actual are ignored.
func matchArgs(actual, expected map[string]interface{}) bool {
	_, ok := firstMismatch(actual, expected)
	return ok
}

// valuesEqual compares two values after normalization.
func valuesEqual(actual, expected interface{}) bool {
	return reflect.DeepEqual(normalize(actual), normalize(expected))
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result.State, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
