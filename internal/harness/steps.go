package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/geofencer/internal/geo"
	"github.com/roach88/geofencer/internal/location"
)

type completionMode int

const (
	// completesNever steps drive the device; they have no completion.
	completesNever completionMode = iota
	// completesSync steps complete when the coordinator call returns.
	completesSync
	// completesAsync steps complete through a coordinator callback.
	completesAsync
)

type stepDef struct {
	completion completionMode
	run        func(ctx context.Context, h *Harness, action string, a args) (interface{}, error)
}

// steps is the table of scenario actions.
var steps = map[string]stepDef{
	"add_geofence":      {completesSync, stepAddGeofence},
	"remove_geofence":   {completesSync, stepRemoveGeofence},
	"remove_all":        {completesSync, stepRemoveAll},
	"start_monitoring":  {completesAsync, stepStartMonitoring},
	"stop_monitoring":   {completesAsync, stepStopMonitoring},
	"restart":           {completesAsync, stepRestart},
	"request_location":  {completesAsync, stepRequestLocation},
	"attach":            {completesSync, stepAttach},
	"detach":            {completesSync, stepDetach},
	"trigger_stored":    {completesSync, stepTriggerStored},
	"set_templates":     {completesSync, stepSetTemplates},
	"move_to":           {completesNever, stepMoveTo},
	"cross":             {completesNever, stepCross},
	"set_authorization": {completesNever, stepSetAuthorization},
	"set_available":     {completesNever, stepSetAvailable},
	"reject_next":       {completesNever, stepRejectNext},
	"fail_location":     {completesNever, stepFailLocation},
	"advance":           {completesNever, stepAdvance},
}

// Actions returns the names of all scenario actions.
func Actions() []string {
	names := make([]string, 0, len(steps))
	for name := range steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func stepAddGeofence(ctx context.Context, h *Harness, _ string, a args) (interface{}, error) {
	g, err := a.geofence()
	if err != nil {
		return nil, err
	}
	added, err := h.coord.Add(ctx, g)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"identifier": added.Identifier}, nil
}

func stepRemoveGeofence(ctx context.Context, h *Harness, _ string, a args) (interface{}, error) {
	id, err := a.requireString("identifier")
	if err != nil {
		return nil, err
	}
	return nil, h.coord.Remove(ctx, id)
}

func stepRemoveAll(ctx context.Context, h *Harness, _ string, _ args) (interface{}, error) {
	return nil, h.coord.RemoveAll(ctx)
}

func (h *Harness) regionCompletion(action string) func([]geo.Region, error) {
	return func(regions []geo.Region, err error) {
		h.complete(action, map[string]interface{}{"regions": regionIDs(regions)}, err)
	}
}

func stepStartMonitoring(ctx context.Context, h *Harness, action string, _ args) (interface{}, error) {
	return nil, h.coord.StartMonitoringAll(ctx, h.regionCompletion(action))
}

func stepStopMonitoring(ctx context.Context, h *Harness, action string, _ args) (interface{}, error) {
	return nil, h.coord.StopMonitoringAll(ctx, func(_ []geo.Region, err error) {
		h.complete(action, nil, err)
	})
}

func stepRestart(ctx context.Context, h *Harness, action string, _ args) (interface{}, error) {
	return nil, h.coord.Restart(ctx, h.regionCompletion(action))
}

func stepRequestLocation(ctx context.Context, h *Harness, action string, _ args) (interface{}, error) {
	_, err := h.coord.RequestLocation(ctx, func(locs []geo.Location, err error) {
		h.complete(action, map[string]interface{}{"locations": len(locs)}, err)
	})
	return nil, err
}

func stepAttach(ctx context.Context, h *Harness, _ string, _ args) (interface{}, error) {
	return nil, h.coord.OnGeofenceEvent(ctx, h.respond)
}

func stepDetach(ctx context.Context, h *Harness, _ string, _ args) (interface{}, error) {
	return nil, h.coord.DetachResponder(ctx)
}

func stepTriggerStored(ctx context.Context, h *Harness, _ string, _ args) (interface{}, error) {
	delivered, err := h.coord.TriggerStoredEvents(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"delivered": delivered}, nil
}

func stepSetTemplates(ctx context.Context, h *Harness, _ string, a args) (interface{}, error) {
	arriving, err := a.template("arriving")
	if err != nil {
		return nil, err
	}
	leaving, err := a.template("leaving")
	if err != nil {
		return nil, err
	}
	return nil, h.coord.SetNotificationTemplates(ctx, arriving, leaving)
}

func stepMoveTo(_ context.Context, h *Harness, _ string, a args) (interface{}, error) {
	lat, err := a.requireNumber("latitude")
	if err != nil {
		return nil, err
	}
	lon, err := a.requireNumber("longitude")
	if err != nil {
		return nil, err
	}
	acc, _, err := a.number("accuracy")
	if err != nil {
		return nil, err
	}
	h.device.MoveTo(h.locationAt(lat, lon, acc))
	return nil, nil
}

func stepCross(_ context.Context, h *Harness, _ string, a args) (interface{}, error) {
	id, err := a.requireString("identifier")
	if err != nil {
		return nil, err
	}
	k, err := a.requireString("kind")
	if err != nil {
		return nil, err
	}
	kind, err := geo.ParseCrossingKind(k)
	if err != nil {
		return nil, &argError{field: "kind", err: err}
	}
	h.device.Cross(id, kind)
	return nil, nil
}

func stepSetAuthorization(_ context.Context, h *Harness, _ string, a args) (interface{}, error) {
	s, err := a.requireString("level")
	if err != nil {
		return nil, err
	}
	level, err := geo.ParseAuthorization(s)
	if err != nil {
		return nil, &argError{field: "level", err: err}
	}
	h.device.SetAuthorization(level)
	return nil, nil
}

func stepSetAvailable(_ context.Context, h *Harness, _ string, a args) (interface{}, error) {
	available, err := a.boolOr("available", true)
	if err != nil {
		return nil, err
	}
	h.device.SetAvailable(available)
	return nil, nil
}

func stepRejectNext(_ context.Context, h *Harness, _ string, a args) (interface{}, error) {
	id, err := a.requireString("identifier")
	if err != nil {
		return nil, err
	}
	reason, err := a.stringOr("reason", "registration rejected")
	if err != nil {
		return nil, err
	}
	h.device.RejectNext(id, errors.New(reason))
	return nil, nil
}

func stepFailLocation(_ context.Context, h *Harness, _ string, a args) (interface{}, error) {
	s, err := a.stringOr("code", "")
	if err != nil {
		return nil, err
	}
	if s == "" {
		h.device.FailLocation(nil)
		return nil, nil
	}
	code, err := location.ParseErrorCode(s)
	if err != nil {
		return nil, &argError{field: "code", err: err}
	}
	h.device.FailLocation(location.NewError(code, "simulated failure"))
	return nil, nil
}

func stepAdvance(_ context.Context, h *Harness, _ string, a args) (interface{}, error) {
	secs, err := a.requireNumber("seconds")
	if err != nil {
		return nil, err
	}
	h.clock.Advance(time.Duration(secs * float64(time.Second)))
	return nil, nil
}

// argError reports a malformed step argument. It aborts the run instead of
// being recorded as a completion.
type argError struct {
	field string
	err   error
}

func (e *argError) Error() string {
	return fmt.Sprintf("arg %q: %v", e.field, e.err)
}

func (e *argError) Unwrap() error {
	return e.err
}

// args wraps YAML-decoded step arguments.
type args map[string]interface{}

func (a args) requireString(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", &argError{field: key, err: errors.New("required")}
	}
	s, ok := v.(string)
	if !ok {
		return "", &argError{field: key, err: fmt.Errorf("want string, got %T", v)}
	}
	return s, nil
}

func (a args) stringOr(key, fallback string) (string, error) {
	if _, ok := a[key]; !ok {
		return fallback, nil
	}
	return a.requireString(key)
}

// number accepts YAML ints and floats.
func (a args) number(key string) (float64, bool, error) {
	v, ok := a[key]
	if !ok {
		return 0, false, nil
	}
	switch n := v.(type) {
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	case float64:
		return n, true, nil
	default:
		return 0, false, &argError{field: key, err: fmt.Errorf("want number, got %T", v)}
	}
}

func (a args) requireNumber(key string) (float64, error) {
	n, ok, err := a.number(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &argError{field: key, err: errors.New("required")}
	}
	return n, nil
}

func (a args) boolOr(key string, fallback bool) (bool, error) {
	v, ok := a[key]
	if !ok {
		return fallback, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, &argError{field: key, err: fmt.Errorf("want bool, got %T", v)}
	}
	return b, nil
}

func (a args) geofence() (geo.Geofence, error) {
	id, err := a.requireString("identifier")
	if err != nil {
		return geo.Geofence{}, err
	}
	lat, err := a.requireNumber("latitude")
	if err != nil {
		return geo.Geofence{}, err
	}
	lon, err := a.requireNumber("longitude")
	if err != nil {
		return geo.Geofence{}, err
	}
	radius, err := a.requireNumber("radius")
	if err != nil {
		return geo.Geofence{}, err
	}
	entry, err := a.boolOr("notify_on_entry", true)
	if err != nil {
		return geo.Geofence{}, err
	}
	exit, err := a.boolOr("notify_on_exit", true)
	if err != nil {
		return geo.Geofence{}, err
	}
	return geo.Geofence{
		Identifier:    id,
		Center:        geo.Coordinate{Latitude: lat, Longitude: lon},
		Radius:        radius,
		NotifyOnEntry: entry,
		NotifyOnExit:  exit,
	}, nil
}

// template reads an optional {title, body, associated_node_id} map.
func (a args) template(key string) (*geo.NotificationTemplate, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, &argError{field: key, err: fmt.Errorf("want map, got %T", v)}
	}
	sub := args(m)
	title, err := sub.requireString("title")
	if err != nil {
		return nil, err
	}
	body, err := sub.requireString("body")
	if err != nil {
		return nil, err
	}
	node, err := sub.stringOr("associated_node_id", "")
	if err != nil {
		return nil, err
	}
	return &geo.NotificationTemplate{Title: title, Body: body, AssociatedNodeID: node}, nil
}
