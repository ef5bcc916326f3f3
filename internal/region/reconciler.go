// Package region keeps the platform's monitored regions in step with the
// geofence set.
//
// The platform confirms or rejects each registration asynchronously, so the
// Reconciler tracks an open batch and fires its completion exactly once.
package region

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/roach88/geofencer/internal/geo"
)

// Monitor is the platform region monitoring service.
//
// StartMonitoring and StopMonitoring only submit the request; the outcome of a
// start arrives later through HandleStarted or HandleFailed.
type Monitor interface {
	StartMonitoring(ctx context.Context, r geo.Region) error
	StopMonitoring(ctx context.Context, identifier string) error
	MonitoredRegions(ctx context.Context) ([]geo.Region, error)
	IsMonitoringAvailable() bool
	Authorization() geo.Authorization
}

// Completion receives the outcome of a batch.
type Completion func(regions []geo.Region, err error)

// ErrMonitoringStopped is wrapped into the completion error of a batch that
// was still open when all monitoring was stopped.
var ErrMonitoringStopped = errors.New("monitoring stopped before registration completed")

type batch struct {
	pending     map[string]struct{}
	completions []Completion
}

// Reconciler owns the monitored-region table.
//
// Not safe for concurrent use; the coordinator calls it from its event loop.
type Reconciler struct {
	monitor   Monitor
	logger    *slog.Logger
	monitored map[string]geo.Region
	open      *batch
}

// NewReconciler creates a Reconciler with an empty table.
func NewReconciler(monitor Monitor, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		monitor:   monitor,
		logger:    logger,
		monitored: make(map[string]geo.Region),
	}
}

// Ready returns the error that prevents any registration, or nil.
func (r *Reconciler) Ready() error {
	if !r.monitor.IsMonitoringAvailable() {
		return geo.NewCapabilityUnavailableError()
	}
	if have := r.monitor.Authorization(); !have.Granted() {
		return geo.NewAuthorizationError(have, geo.AuthorizationWhenInUse)
	}
	return nil
}

// StartMonitoringAll registers every geofence not already in the table and
// reports through completion once all of them started or one failed.
//
// A call made while a batch is open joins it: its geofences are added to the
// pending set and its completion fires together with the earlier one.
func (r *Reconciler) StartMonitoringAll(ctx context.Context, geofences []geo.Geofence, completion Completion) {
	if err := r.Ready(); err != nil {
		r.logger.Warn("cannot start monitoring", "error", err)
		complete(completion, nil, err)
		return
	}

	if len(geofences) == 0 {
		r.logger.Warn("start monitoring requested with no geofences")
	}

	b := r.open
	if b == nil {
		b = &batch{pending: make(map[string]struct{})}
	}
	b.completions = append(b.completions, completion)

	var toRegister []geo.Region
	for _, g := range geofences {
		if _, ok := r.monitored[g.Identifier]; ok {
			continue
		}
		region := geo.RegionFor(g)
		r.monitored[g.Identifier] = region
		b.pending[g.Identifier] = struct{}{}
		toRegister = append(toRegister, region)
	}

	if len(b.pending) == 0 {
		r.open = nil
		r.finish(b, r.Monitored(), nil)
		return
	}
	r.open = b

	for _, region := range toRegister {
		r.logger.Debug("registering region", "geofence", region.Identifier, "radius", region.Radius)
		if err := r.monitor.StartMonitoring(ctx, region); err != nil {
			r.HandleFailed(region.Identifier, err)
		}
	}
}

// RegisterRegion registers a single geofence outside any batch, as when a
// geofence is added while monitoring is on. Failures are logged and returned.
func (r *Reconciler) RegisterRegion(ctx context.Context, g geo.Geofence) error {
	if err := r.Ready(); err != nil {
		r.logger.Warn("cannot register region", "geofence", g.Identifier, "error", err)
		return err
	}

	region := geo.RegionFor(g)
	r.monitored[g.Identifier] = region
	if err := r.monitor.StartMonitoring(ctx, region); err != nil {
		delete(r.monitored, g.Identifier)
		regErr := geo.NewRegistrationError(g.Identifier, err)
		r.logger.Warn("region registration rejected", "geofence", g.Identifier, "error", err)
		return regErr
	}
	return nil
}

// StopRegion stops monitoring one identifier. Stopping a region that is not
// registered is a no-op.
func (r *Reconciler) StopRegion(ctx context.Context, identifier string) error {
	if _, ok := r.monitored[identifier]; !ok {
		return nil
	}
	delete(r.monitored, identifier)
	r.dropPending(identifier)

	if err := r.monitor.StopMonitoring(ctx, identifier); err != nil {
		r.logger.Warn("stop region failed", "geofence", identifier, "error", err)
		return geo.NewRegistrationError(identifier, err)
	}
	return nil
}

// UpdateRegionMonitoring replaces the registration for g with one that
// reflects its current geometry. If g is still pending in the open batch it
// stays pending, so the batch waits for the platform to confirm or reject
// the new registration.
func (r *Reconciler) UpdateRegionMonitoring(ctx context.Context, g geo.Geofence) error {
	if _, ok := r.monitored[g.Identifier]; ok {
		delete(r.monitored, g.Identifier)
		if err := r.monitor.StopMonitoring(ctx, g.Identifier); err != nil {
			r.logger.Warn("stop region failed", "geofence", g.Identifier, "error", err)
			r.dropPending(g.Identifier)
			return geo.NewRegistrationError(g.Identifier, err)
		}
	}
	if err := r.RegisterRegion(ctx, g); err != nil {
		r.failPending(g.Identifier, err)
		return err
	}
	return nil
}

// StopMonitoringAll stops every region in the table plus any region the
// platform still reports for a known geofence, which covers registrations
// made by a previous process. The table is cleared and completion fires with
// success.
func (r *Reconciler) StopMonitoringAll(ctx context.Context, known []geo.Geofence, completion Completion) {
	ids := make(map[string]struct{}, len(r.monitored))
	for id := range r.monitored {
		ids[id] = struct{}{}
	}

	reported, err := r.monitor.MonitoredRegions(ctx)
	if err != nil {
		r.logger.Warn("listing platform regions failed", "error", err)
	}
	isKnown := make(map[string]struct{}, len(known))
	for _, g := range known {
		isKnown[g.Identifier] = struct{}{}
	}
	for _, region := range reported {
		if _, ok := isKnown[region.Identifier]; ok {
			ids[region.Identifier] = struct{}{}
		}
	}

	for _, id := range sortedKeys(ids) {
		if err := r.monitor.StopMonitoring(ctx, id); err != nil {
			r.logger.Warn("stop region failed", "geofence", id, "error", err)
		}
	}
	r.monitored = make(map[string]geo.Region)

	if b := r.open; b != nil {
		r.open = nil
		r.finish(b, nil, geo.NewRegistrationError("", ErrMonitoringStopped))
	}

	r.logger.Info("monitoring stopped", "regions", len(ids))
	complete(completion, nil, nil)
}

// HandleStarted records the platform's confirmation for identifier.
func (r *Reconciler) HandleStarted(identifier string) {
	b := r.open
	if b == nil {
		r.logger.Debug("region started outside a batch", "geofence", identifier)
		return
	}
	if _, ok := b.pending[identifier]; !ok {
		return
	}
	delete(b.pending, identifier)
	if len(b.pending) == 0 {
		r.open = nil
		r.finish(b, r.Monitored(), nil)
	}
}

// HandleFailed records a rejected registration. The region leaves the table.
// If it belonged to the open batch the batch completes with the error.
func (r *Reconciler) HandleFailed(identifier string, cause error) {
	delete(r.monitored, identifier)
	err := geo.NewRegistrationError(identifier, cause)
	r.logger.Warn("region monitoring failed", "geofence", identifier, "error", cause)
	r.failPending(identifier, err)
}

// failPending completes the open batch with err if identifier belongs to it.
func (r *Reconciler) failPending(identifier string, err error) {
	b := r.open
	if b == nil {
		return
	}
	if _, ok := b.pending[identifier]; !ok {
		return
	}
	r.open = nil
	r.finish(b, nil, err)
}

// dropPending removes identifier from the open batch, completing the batch if
// nothing else is outstanding.
func (r *Reconciler) dropPending(identifier string) {
	b := r.open
	if b == nil {
		return
	}
	if _, ok := b.pending[identifier]; !ok {
		return
	}
	delete(b.pending, identifier)
	if len(b.pending) == 0 {
		r.open = nil
		r.finish(b, r.Monitored(), nil)
	}
}

// IsMonitored reports whether identifier has a registration in the table.
func (r *Reconciler) IsMonitored(identifier string) bool {
	_, ok := r.monitored[identifier]
	return ok
}

// Monitored returns the table sorted by identifier.
func (r *Reconciler) Monitored() []geo.Region {
	out := make([]geo.Region, 0, len(r.monitored))
	for _, id := range sortedKeys(r.monitored) {
		out = append(out, r.monitored[id])
	}
	return out
}

// BatchOpen reports whether a batch is waiting on the platform.
func (r *Reconciler) BatchOpen() bool {
	return r.open != nil
}

func (r *Reconciler) finish(b *batch, regions []geo.Region, err error) {
	for _, c := range b.completions {
		complete(c, regions, err)
	}
}

func complete(c Completion, regions []geo.Region, err error) {
	if c != nil {
		c(regions, err)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
