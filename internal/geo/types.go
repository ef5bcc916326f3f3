package geo

import (
	"fmt"
	"time"
)

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Geofence is a named circular region of interest.
type Geofence struct {
	Identifier    string     `json:"identifier"`
	Center        Coordinate `json:"center"`
	Radius        float64    `json:"radius"` // meters
	NotifyOnEntry bool       `json:"notifyOnEntry"`
	NotifyOnExit  bool       `json:"notifyOnExit"`
}

// Region is what the platform monitoring service tracks for a geofence.
// It mirrors the geofence geometry at registration time.
type Region struct {
	Identifier    string     `json:"identifier"`
	Center        Coordinate `json:"center"`
	Radius        float64    `json:"radius"`
	NotifyOnEntry bool       `json:"notifyOnEntry"`
	NotifyOnExit  bool       `json:"notifyOnExit"`
}

// RegionFor builds the monitoring region for a geofence.
func RegionFor(g Geofence) Region {
	return Region{
		Identifier:    g.Identifier,
		Center:        g.Center,
		Radius:        g.Radius,
		NotifyOnEntry: g.NotifyOnEntry,
		NotifyOnExit:  g.NotifyOnExit,
	}
}

// Location is a single position fix reported by the platform.
type Location struct {
	Coordinate
	Altitude         float64   `json:"altitude"`
	Accuracy         float64   `json:"accuracy"`
	AltitudeAccuracy float64   `json:"altitudeAccuracy"`
	Heading          float64   `json:"heading"`
	Speed            float64   `json:"speed"`
	Timestamp        time.Time `json:"timestamp"`
}

// Authorization is the location permission level granted to the application.
type Authorization int

const (
	// AuthorizationNone means no location access has been granted.
	AuthorizationNone Authorization = iota
	// AuthorizationWhenInUse grants access while the application is in use.
	AuthorizationWhenInUse
	// AuthorizationAlways grants background access.
	AuthorizationAlways
)

// Granted reports whether the level allows monitoring and location fetches.
func (a Authorization) Granted() bool {
	return a >= AuthorizationWhenInUse
}

func (a Authorization) String() string {
	switch a {
	case AuthorizationNone:
		return "none"
	case AuthorizationWhenInUse:
		return "when-in-use"
	case AuthorizationAlways:
		return "always"
	default:
		return fmt.Sprintf("authorization(%d)", int(a))
	}
}

// ParseAuthorization parses the String form of an Authorization.
func ParseAuthorization(s string) (Authorization, error) {
	switch s {
	case "none", "":
		return AuthorizationNone, nil
	case "when-in-use":
		return AuthorizationWhenInUse, nil
	case "always":
		return AuthorizationAlways, nil
	default:
		return AuthorizationNone, fmt.Errorf("unknown authorization %q", s)
	}
}

// NotificationTemplate is the title/body shown for an arrival or departure,
// plus the application node the notification refers to.
type NotificationTemplate struct {
	Title            string `json:"title"`
	Body             string `json:"body"`
	AssociatedNodeID string `json:"associatedNodeId"`
}
