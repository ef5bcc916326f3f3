// Package geo defines the domain types shared by every geofencer component.
//
// The types here are plain values: geofences, the regions registered with the
// host monitoring service, location fixes, crossing events and notification
// templates. They carry no behavior that touches persistence or the platform.
//
// # Identifiers
//
// Geofence identifiers are the join key between the application's desired
// set, the monitored-region table and the identifiers reported back by the
// platform. They are NFC-normalized at every boundary (NormalizeIdentifier)
// so that two visually identical identifiers never produce two geofences.
//
// # Crossing Event Equality
//
// CrossingEvent.Equal is not strict equality. Two events are equal when
// their kind, geofence and region geometry match and their timestamps are
// less than DuplicateWindow apart. This models retried or duplicated
// platform callbacks.
package geo
