// Package sim is a deterministic in-process stand-in for the device's region
// monitoring and location services.
//
// It implements region.Monitor, location.Provider and crossing.Locator, and
// reports everything through a platform.Sink the way the real services call
// back. Crossings are computed with haversine containment when the simulated
// device moves.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/geofencer/internal/crossing"
	"github.com/roach88/geofencer/internal/geo"
	"github.com/roach88/geofencer/internal/location"
	"github.com/roach88/geofencer/internal/platform"
	"github.com/roach88/geofencer/internal/region"
)

var (
	_ region.Monitor    = (*Simulator)(nil)
	_ location.Provider = (*Simulator)(nil)
	_ crossing.Locator  = (*Simulator)(nil)
)

// DefaultRegionLimit matches the per-application limit on iOS.
const DefaultRegionLimit = 20

// ErrRegionLimit is reported through MonitoringFailed when the limit is hit.
var ErrRegionLimit = errors.New("region monitoring limit reached")

// Config configures a Simulator.
type Config struct {
	// Unavailable makes IsMonitoringAvailable report false.
	Unavailable bool

	// Authorization is the initial permission level.
	Authorization geo.Authorization

	// GrantOnRequest is the level the simulated user picks when asked.
	GrantOnRequest geo.Authorization

	// RegionLimit caps concurrent registrations. Zero uses DefaultRegionLimit.
	RegionLimit int
}

// Simulator is safe for concurrent use.
type Simulator struct {
	mu          sync.Mutex
	cfg         Config
	auth        geo.Authorization
	sink        platform.Sink
	regions     map[string]geo.Region
	inside      map[string]bool
	current     *geo.Location
	locationErr error
	rejectNext  map[string]error
}

// New creates a simulator with no location and no regions.
func New(cfg Config) *Simulator {
	if cfg.RegionLimit <= 0 {
		cfg.RegionLimit = DefaultRegionLimit
	}
	return &Simulator{
		cfg:        cfg,
		auth:       cfg.Authorization,
		regions:    make(map[string]geo.Region),
		inside:     make(map[string]bool),
		rejectNext: make(map[string]error),
	}
}

// SetSink sets where callbacks go. Without a sink callbacks are dropped.
func (s *Simulator) SetSink(sink platform.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

func (s *Simulator) deliver(events ...platform.Event) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}
	for _, e := range events {
		sink.Deliver(e)
	}
}

// IsMonitoringAvailable implements region.Monitor.
func (s *Simulator) IsMonitoringAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cfg.Unavailable
}

// Authorization implements region.Monitor and location.Provider.
func (s *Simulator) Authorization() geo.Authorization {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

// StartMonitoring implements region.Monitor. The result arrives as
// MonitoringStarted or MonitoringFailed.
func (s *Simulator) StartMonitoring(_ context.Context, r geo.Region) error {
	s.mu.Lock()
	if err, ok := s.rejectNext[r.Identifier]; ok {
		delete(s.rejectNext, r.Identifier)
		s.mu.Unlock()
		s.deliver(platform.MonitoringFailed{Identifier: r.Identifier, Err: err})
		return nil
	}
	if _, exists := s.regions[r.Identifier]; !exists && len(s.regions) >= s.cfg.RegionLimit {
		s.mu.Unlock()
		s.deliver(platform.MonitoringFailed{
			Identifier: r.Identifier,
			Err:        fmt.Errorf("%w (%d)", ErrRegionLimit, s.cfg.RegionLimit),
		})
		return nil
	}
	s.regions[r.Identifier] = r
	// Registering while already inside does not count as an entry.
	s.inside[r.Identifier] = s.current != nil && r.Contains(s.current.Coordinate)
	s.mu.Unlock()

	s.deliver(platform.MonitoringStarted{Identifier: r.Identifier})
	return nil
}

// StopMonitoring implements region.Monitor.
func (s *Simulator) StopMonitoring(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.regions, identifier)
	delete(s.inside, identifier)
	return nil
}

// MonitoredRegions implements region.Monitor, sorted by identifier.
func (s *Simulator) MonitoredRegions(context.Context) ([]geo.Region, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedRegionsLocked(), nil
}

func (s *Simulator) sortedRegionsLocked() []geo.Region {
	ids := make([]string, 0, len(s.regions))
	for id := range s.regions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]geo.Region, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.regions[id])
	}
	return out
}

// StartUpdates implements location.Provider. It reports the current location
// once, or the configured failure.
func (s *Simulator) StartUpdates(context.Context) error {
	s.mu.Lock()
	err := s.locationErr
	var loc *geo.Location
	if s.current != nil {
		c := *s.current
		loc = &c
	}
	s.mu.Unlock()

	switch {
	case err != nil:
		s.deliver(platform.LocationFailed{Err: err})
	case loc == nil:
		s.deliver(platform.LocationFailed{Err: location.NewError(location.CodeIsNull, "no location fix")})
	default:
		s.deliver(platform.LocationsUpdated{Locations: []geo.Location{*loc}})
	}
	return nil
}

// RequestAuthorization implements location.Provider. The simulated user
// answers immediately with Config.GrantOnRequest.
func (s *Simulator) RequestAuthorization(context.Context) error {
	s.mu.Lock()
	s.auth = s.cfg.GrantOnRequest
	level := s.auth
	s.mu.Unlock()

	s.deliver(platform.AuthorizationChanged{Authorization: level})
	return nil
}

// CurrentLocation implements crossing.Locator.
func (s *Simulator) CurrentLocation() (geo.Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return geo.Location{}, false
	}
	return *s.current, true
}

// SetAuthorization changes the permission level as if the user edited it in
// settings, and reports the change.
func (s *Simulator) SetAuthorization(level geo.Authorization) {
	s.mu.Lock()
	s.auth = level
	s.mu.Unlock()
	s.deliver(platform.AuthorizationChanged{Authorization: level})
}

// SetAvailable toggles region monitoring support.
func (s *Simulator) SetAvailable(available bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Unavailable = !available
}

// FailLocation makes subsequent StartUpdates report err. Nil clears it.
func (s *Simulator) FailLocation(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locationErr = err
}

// RejectNext makes the next registration of identifier fail with err.
func (s *Simulator) RejectNext(identifier string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext[identifier] = err
}

// MoveTo sets the device location and reports every resulting crossing,
// honoring each region's notify flags. Crossings are reported in identifier
// order. It returns the crossings reported.
func (s *Simulator) MoveTo(loc geo.Location) []platform.Event {
	s.mu.Lock()
	c := loc
	s.current = &c

	var events []platform.Event
	for _, r := range s.sortedRegionsLocked() {
		now := r.Contains(loc.Coordinate)
		was := s.inside[r.Identifier]
		s.inside[r.Identifier] = now
		switch {
		case now && !was && r.NotifyOnEntry:
			events = append(events, platform.RegionEntered{Identifier: r.Identifier})
		case !now && was && r.NotifyOnExit:
			events = append(events, platform.RegionExited{Identifier: r.Identifier})
		}
	}
	s.mu.Unlock()

	s.deliver(events...)
	return events
}

// Cross reports an entry or exit for identifier without moving the device.
// It stands in for callbacks the device replays after a restart.
func (s *Simulator) Cross(identifier string, kind geo.CrossingKind) {
	switch kind {
	case geo.CrossingEntry:
		s.deliver(platform.RegionEntered{Identifier: identifier})
	case geo.CrossingExit:
		s.deliver(platform.RegionExited{Identifier: identifier})
	}
}
