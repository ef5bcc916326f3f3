package geo

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const earthRadiusMeters = 6371000

// NormalizeIdentifier returns the NFC form of an identifier.
func NormalizeIdentifier(id string) string {
	return norm.NFC.String(id)
}

// NewIdentifier returns a system-generated geofence identifier.
func NewIdentifier() string {
	return uuid.NewString()
}

// Normalize returns a copy of g with its identifier NFC-normalized. An empty
// identifier is replaced with a generated one.
func (g Geofence) Normalize() Geofence {
	if g.Identifier == "" {
		g.Identifier = NewIdentifier()
		return g
	}
	g.Identifier = NormalizeIdentifier(g.Identifier)
	return g
}

// Validate checks the geometry of g.
func (g Geofence) Validate() error {
	if g.Identifier == "" {
		return NewInvalidGeofenceError(g.Identifier, "identifier is required")
	}
	if err := g.Center.Validate(); err != nil {
		return NewInvalidGeofenceError(g.Identifier, err.Error())
	}
	if math.IsNaN(g.Radius) || math.IsInf(g.Radius, 0) || g.Radius <= 0 {
		return NewInvalidGeofenceError(g.Identifier, fmt.Sprintf("radius must be a positive number of meters, got %v", g.Radius))
	}
	return nil
}

// Validate checks that c lies within WGS84 bounds.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", c.Longitude)
	}
	return nil
}

// Contains reports whether c lies inside the region.
func (r Region) Contains(c Coordinate) bool {
	return Distance(r.Center, c) <= r.Radius
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	dLat := toRad(b.Latitude - a.Latitude)
	dLon := toRad(b.Longitude - a.Longitude)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Latitude))*math.Cos(toRad(b.Latitude))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
