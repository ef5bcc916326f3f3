package geo

import (
	"fmt"
	"time"
)

// DuplicateWindow is the timestamp tolerance under which two otherwise
// identical crossing events are treated as the same occurrence.
const DuplicateWindow = 5 * time.Second

// CrossingKind is the direction of a region crossing.
type CrossingKind string

const (
	CrossingEntry CrossingKind = "ENTER"
	CrossingExit  CrossingKind = "EXIT"
)

// ParseCrossingKind accepts "ENTER"/"EXIT" and the lower-case aliases
// "entry"/"enter"/"exit".
func ParseCrossingKind(s string) (CrossingKind, error) {
	switch s {
	case "ENTER", "enter", "entry", "ENTRY":
		return CrossingEntry, nil
	case "EXIT", "exit":
		return CrossingExit, nil
	default:
		return "", fmt.Errorf("unknown crossing kind %q", s)
	}
}

// CrossingEvent is one entry into or exit from a geofence.
type CrossingEvent struct {
	Geofence Geofence     `json:"geofence"`
	Region   Region       `json:"region"`
	Location Location     `json:"location"`
	Kind     CrossingKind `json:"action"`
	Time     time.Time    `json:"time"`
}

// Equal reports whether e and other describe the same crossing, allowing the
// timestamps to differ by less than DuplicateWindow.
func (e CrossingEvent) Equal(other CrossingEvent) bool {
	if e.Kind != other.Kind || e.Geofence != other.Geofence {
		return false
	}
	if e.Region.Radius != other.Region.Radius || e.Region.Center != other.Region.Center {
		return false
	}
	d := e.Time.Sub(other.Time)
	if d < 0 {
		d = -d
	}
	return d < DuplicateWindow
}

// Payload renders the event in the shape consumed outside the coordinator:
//
//	{"action": "ENTER", "identifier": "home", "timestamp": 1700000000000,
//	 "location": {"coords": {...}}, "geofence": {"identifier": "home"}}
func (e CrossingEvent) Payload() map[string]any {
	return map[string]any{
		"action":     string(e.Kind),
		"identifier": e.Geofence.Identifier,
		"timestamp":  e.Time.UnixMilli(),
		"location": map[string]any{
			"coords": map[string]any{
				"latitude":          e.Location.Latitude,
				"longitude":         e.Location.Longitude,
				"altitude":          e.Location.Altitude,
				"heading":           e.Location.Heading,
				"speed":             e.Location.Speed,
				"accuracy":          e.Location.Accuracy,
				"altitude_accuracy": e.Location.AltitudeAccuracy,
			},
		},
		"geofence": map[string]any{
			"identifier": e.Geofence.Identifier,
		},
	}
}
