// Package geofence holds the canonical, identifier-keyed geofence set and
// persists it through a store.KeyValue.
//
// Store is not safe for concurrent use. The coordinator owns it and calls it
// only from its event loop.
package geofence

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/roach88/geofencer/internal/geo"
	"github.com/roach88/geofencer/internal/store"
)

// Durable keys. These are stable across releases.
const (
	KeyGeofences = "savedItems"
	KeyActivated = "geofencesActivated"
)

// Store is the canonical geofence set.
//
// INVARIANTS:
//   - identifiers are unique and NFC-normalized
//   - order is insertion order; an update keeps the original position
//   - every mutation writes the full set before returning
type Store struct {
	kv        store.KeyValue
	logger    *slog.Logger
	geofences []geo.Geofence
	index     map[string]int
	activated bool
}

// NewStore creates an empty set backed by kv. Call Load to read persisted state.
func NewStore(kv store.KeyValue, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kv:     kv,
		logger: logger,
		index:  make(map[string]int),
	}
}

// Load replaces the in-memory set and activation flag with the persisted ones.
// A missing key loads as empty. On a read or decode error the in-memory state
// is left untouched and a PersistenceFailed error is returned.
func (s *Store) Load(ctx context.Context) error {
	loaded, err := s.readPersisted(ctx)
	if err != nil {
		return err
	}

	activated, err := s.loadActivated(ctx)
	if err != nil {
		return err
	}

	s.geofences = s.geofences[:0]
	s.index = make(map[string]int, len(loaded))
	for _, g := range loaded {
		g.Identifier = geo.NormalizeIdentifier(g.Identifier)
		if i, ok := s.index[g.Identifier]; ok {
			s.geofences[i] = g
			continue
		}
		s.index[g.Identifier] = len(s.geofences)
		s.geofences = append(s.geofences, g)
	}
	s.activated = activated

	s.logger.Debug("geofences loaded", "count", len(s.geofences), "activated", activated)
	return nil
}

// Resolve looks up identifier for a crossing callback. The in-memory set is
// consulted first; a geofence it lacks is read from the persisted set, which
// may hold writes made by another process. Neither lookup changes the
// in-memory set, so a mutation whose save failed keeps resolving.
func (s *Store) Resolve(ctx context.Context, identifier string) (geo.Geofence, bool) {
	identifier = geo.NormalizeIdentifier(identifier)
	if g, ok := s.Get(identifier); ok {
		return g, true
	}

	persisted, err := s.readPersisted(ctx)
	if err != nil {
		s.logger.Warn("reading persisted geofences failed", "geofence", identifier, "error", err)
		return geo.Geofence{}, false
	}
	// Later duplicates win, as in Load.
	for i := len(persisted) - 1; i >= 0; i-- {
		if g := persisted[i]; geo.NormalizeIdentifier(g.Identifier) == identifier {
			g.Identifier = identifier
			return g, true
		}
	}
	return geo.Geofence{}, false
}

func (s *Store) readPersisted(ctx context.Context) ([]geo.Geofence, error) {
	data, found, err := s.kv.Get(ctx, KeyGeofences)
	if err != nil {
		return nil, geo.NewPersistenceError("load geofences", err)
	}
	if !found || len(data) == 0 {
		return nil, nil
	}
	var loaded []geo.Geofence
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, geo.NewPersistenceError("decode geofences", err)
	}
	return loaded, nil
}

func (s *Store) loadActivated(ctx context.Context) (bool, error) {
	data, found, err := s.kv.Get(ctx, KeyActivated)
	if err != nil {
		return false, geo.NewPersistenceError("load activation flag", err)
	}
	if !found || len(data) == 0 {
		return false, nil
	}
	var activated bool
	if err := json.Unmarshal(data, &activated); err != nil {
		return false, geo.NewPersistenceError("decode activation flag", err)
	}
	return activated, nil
}

// Add inserts g, or replaces center, radius and notify flags of the geofence
// with the same identifier. It returns the stored geofence and whether an
// existing one was updated.
//
// The in-memory mutation stands even when persisting fails; the
// PersistenceFailed error is returned for visibility.
func (s *Store) Add(ctx context.Context, g geo.Geofence) (geo.Geofence, bool, error) {
	g = g.Normalize()
	if err := g.Validate(); err != nil {
		return geo.Geofence{}, false, err
	}

	updated := s.put(g)
	return g, updated, s.save(ctx)
}

// AddAll applies Add to each geofence in order. Invalid geofences are
// skipped; the first error encountered is returned after all were applied.
func (s *Store) AddAll(ctx context.Context, gs []geo.Geofence) ([]geo.Geofence, error) {
	var firstErr error
	out := make([]geo.Geofence, 0, len(gs))
	for _, g := range gs {
		stored, _, err := s.Add(ctx, g)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			if geo.IsInvalidGeofence(err) {
				continue
			}
		}
		out = append(out, stored)
	}
	return out, firstErr
}

func (s *Store) put(g geo.Geofence) bool {
	if i, ok := s.index[g.Identifier]; ok {
		s.geofences[i] = g
		return true
	}
	s.index[g.Identifier] = len(s.geofences)
	s.geofences = append(s.geofences, g)
	return false
}

// Remove deletes the geofence with the given identifier. Removing a missing
// identifier is not an error and does not write.
func (s *Store) Remove(ctx context.Context, identifier string) (bool, error) {
	identifier = geo.NormalizeIdentifier(identifier)
	i, ok := s.index[identifier]
	if !ok {
		return false, nil
	}

	s.geofences = append(s.geofences[:i], s.geofences[i+1:]...)
	delete(s.index, identifier)
	for j := i; j < len(s.geofences); j++ {
		s.index[s.geofences[j].Identifier] = j
	}

	return true, s.save(ctx)
}

// RemoveAll clears the set and deletes the persisted key.
func (s *Store) RemoveAll(ctx context.Context) error {
	s.geofences = nil
	s.index = make(map[string]int)

	if err := s.kv.Delete(ctx, KeyGeofences); err != nil {
		perr := geo.NewPersistenceError("delete geofences", err)
		s.logger.Error("persisting geofences failed", "error", perr)
		return perr
	}
	return nil
}

// Get returns the geofence with the given identifier.
func (s *Store) Get(identifier string) (geo.Geofence, bool) {
	i, ok := s.index[geo.NormalizeIdentifier(identifier)]
	if !ok {
		return geo.Geofence{}, false
	}
	return s.geofences[i], true
}

// List returns a copy of all geofences in insertion order.
func (s *Store) List() []geo.Geofence {
	out := make([]geo.Geofence, len(s.geofences))
	copy(out, s.geofences)
	return out
}

// Len returns the number of geofences.
func (s *Store) Len() int {
	return len(s.geofences)
}

// Activated reports whether monitoring was last switched on.
func (s *Store) Activated() bool {
	return s.activated
}

// SetActivated records whether monitoring is switched on, so a restarted
// process knows whether to re-register its regions.
func (s *Store) SetActivated(ctx context.Context, activated bool) error {
	s.activated = activated
	data, _ := json.Marshal(activated)
	if err := s.kv.Put(ctx, KeyActivated, data); err != nil {
		perr := geo.NewPersistenceError("save activation flag", err)
		s.logger.Error("persisting activation flag failed", "error", perr)
		return perr
	}
	return nil
}

// save writes the full set.
func (s *Store) save(ctx context.Context) error {
	list := s.geofences
	if list == nil {
		list = []geo.Geofence{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		perr := geo.NewPersistenceError("encode geofences", err)
		s.logger.Error("persisting geofences failed", "error", perr)
		return perr
	}
	if err := s.kv.Put(ctx, KeyGeofences, data); err != nil {
		perr := geo.NewPersistenceError("save geofences", err)
		s.logger.Error("persisting geofences failed", "error", perr, "count", len(list))
		return perr
	}
	return nil
}
