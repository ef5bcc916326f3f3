// Package platform defines the callbacks the operating system's location
// and region services deliver to the coordinator.
//
// Every callback is a value of one of the Event types below. Callbacks are
// delivered through a Sink, which for the coordinator enqueues them on its
// event loop.
package platform

import "github.com/roach88/geofencer/internal/geo"

// Event is one platform callback.
type Event interface {
	// Name is a stable tag used in logs and traces.
	Name() string
	isEvent()
}

// RegionEntered reports that the device entered a monitored region.
type RegionEntered struct {
	Identifier string
}

// RegionExited reports that the device left a monitored region.
type RegionExited struct {
	Identifier string
}

// MonitoringStarted confirms a region registration.
type MonitoringStarted struct {
	Identifier string
}

// MonitoringFailed rejects a region registration.
type MonitoringFailed struct {
	Identifier string
	Err        error
}

// LocationsUpdated carries fresh location fixes.
type LocationsUpdated struct {
	Locations []geo.Location
}

// LocationFailed reports a location fetch failure.
type LocationFailed struct {
	Err error
}

// AuthorizationChanged reports a new location permission level.
type AuthorizationChanged struct {
	Authorization geo.Authorization
}

func (RegionEntered) Name() string        { return "region_entered" }
func (RegionExited) Name() string         { return "region_exited" }
func (MonitoringStarted) Name() string    { return "monitoring_started" }
func (MonitoringFailed) Name() string     { return "monitoring_failed" }
func (LocationsUpdated) Name() string     { return "locations_updated" }
func (LocationFailed) Name() string       { return "location_failed" }
func (AuthorizationChanged) Name() string { return "authorization_changed" }

func (RegionEntered) isEvent()        {}
func (RegionExited) isEvent()         {}
func (MonitoringStarted) isEvent()    {}
func (MonitoringFailed) isEvent()     {}
func (LocationsUpdated) isEvent()     {}
func (LocationFailed) isEvent()       {}
func (AuthorizationChanged) isEvent() {}

// Sink receives platform events. Deliver must not block.
type Sink interface {
	Deliver(e Event) bool
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event) bool

// Deliver calls f(e).
func (f SinkFunc) Deliver(e Event) bool {
	return f(e)
}
