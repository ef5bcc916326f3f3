package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/geofencer/internal/crossing"
	"github.com/roach88/geofencer/internal/geo"
	"github.com/roach88/geofencer/internal/geofence"
	"github.com/roach88/geofencer/internal/location"
	"github.com/roach88/geofencer/internal/notify"
	"github.com/roach88/geofencer/internal/platform"
	"github.com/roach88/geofencer/internal/region"
	"github.com/roach88/geofencer/internal/store"
)

var _ platform.Sink = (*Coordinator)(nil)

// Config holds the collaborators a Coordinator cannot run without.
type Config struct {
	// KV persists geofences, the activation flag and templates.
	KV store.KeyValue

	// Monitor is the platform region monitoring service.
	Monitor region.Monitor

	// Provider is the platform location service.
	Provider location.Provider

	// Locator supplies the location attached to crossing events.
	Locator crossing.Locator
}

// Observation describes one processed platform callback.
type Observation struct {
	Seq   int64
	Event platform.Event

	// Outcome is set for RegionEntered and RegionExited.
	Outcome crossing.Outcome

	// Crossing is set when Outcome is dispatched, buffered or duplicate.
	Crossing *geo.CrossingEvent
}

// Observer is told about every processed platform callback, on the Run
// goroutine.
type Observer func(Observation)

// Coordinator is the single owner of all geofence state.
//
// Thread-safety model:
//   - public methods and Deliver: safe from any goroutine
//   - Run(): must be called from exactly one goroutine
type Coordinator struct {
	queue  *taskQueue
	clock  *Clock
	logger *slog.Logger

	geofences *geofence.Store
	regions   *region.Reconciler
	locations *location.Queue
	pipeline  *crossing.Pipeline
	templates *notify.Cache

	now      func() time.Time
	notifier crossing.Notifier
	ids      location.IDGenerator
	observer Observer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger for the coordinator and its components.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithWallClock sets the clock used to stamp crossing events.
func WithWallClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithNotifier enables local notifications for crossings that happen while
// no responder is attached.
func WithNotifier(n crossing.Notifier) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithRequestIDs sets the generator for location request ids.
//
// Default: location.UUIDv7Generator.
func WithRequestIDs(g location.IDGenerator) Option {
	return func(c *Coordinator) {
		c.ids = g
	}
}

// WithObserver registers an observer of processed platform callbacks.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// New creates a Coordinator. Call Load, then run Run on its own goroutine.
func New(cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:  newTaskQueue(),
		clock:  NewClock(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.geofences = geofence.NewStore(cfg.KV, c.logger)
	c.regions = region.NewReconciler(cfg.Monitor, c.logger)
	c.locations = location.NewQueue(cfg.Provider, c.ids, c.logger)
	c.templates = notify.NewCache(cfg.KV, c.logger)

	pipelineOpts := []crossing.Option{
		crossing.WithClock(c.now),
		crossing.WithLogger(c.logger),
		crossing.WithTemplates(c.templates),
	}
	if c.notifier != nil {
		pipelineOpts = append(pipelineOpts, crossing.WithNotifier(c.notifier))
	}
	c.pipeline = crossing.NewPipeline(c.geofences, cfg.Locator, pipelineOpts...)

	return c
}

// Clock returns the logical clock stamping processed tasks.
func (c *Coordinator) Clock() *Clock {
	return c.clock
}

// QueueLen returns the number of tasks waiting for the Run loop.
func (c *Coordinator) QueueLen() int {
	return c.queue.Len()
}

// Run starts the single-writer event loop.
// Blocks until context is cancelled or Stop() is called. Tasks still queued
// when the loop exits are aborted with ErrStopped.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("coordinator starting")
	defer c.abortPending()

	for {
		t, ok := c.queue.TryDequeue()
		if ok {
			c.process(ctx, t)
			continue
		}

		select {
		case <-ctx.Done():
			c.logger.Info("coordinator stopping: context cancelled")
			c.queue.Close()
			return ctx.Err()

		case <-c.queue.Wait():
			// The signal channel closes when the queue is closed,
			// which will cause this case to fire immediately.
			if c.queue.Len() == 0 && c.queue.Closed() {
				c.logger.Info("coordinator stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run finishes the tasks already queued, then returns.
func (c *Coordinator) Stop() {
	c.queue.Close()
}

func (c *Coordinator) process(ctx context.Context, t task) {
	seq := c.clock.Next()
	c.logger.Debug("processing task", "task", t.name, "seq", seq)
	t.run(ctx)
}

func (c *Coordinator) abortPending() {
	for _, t := range c.queue.Drain() {
		if t.abort != nil {
			t.abort(ErrStopped)
		}
	}
}

type result[T any] struct {
	value T
	err   error
}

// call runs fn on the loop and waits for its result.
func call[T any](ctx context.Context, c *Coordinator, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	done := make(chan result[T], 1)

	ok := c.queue.Enqueue(task{
		name: name,
		run: func(loopCtx context.Context) {
			v, err := fn(loopCtx)
			done <- result[T]{value: v, err: err}
		},
		abort: func(err error) {
			done <- result[T]{err: err}
		},
	})
	if !ok {
		return zero, ErrStopped
	}

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Deliver implements platform.Sink. It never blocks; it returns false once
// the coordinator has stopped.
func (c *Coordinator) Deliver(e platform.Event) bool {
	return c.queue.Enqueue(task{
		name: e.Name(),
		run: func(ctx context.Context) {
			c.handleEvent(ctx, e)
		},
	})
}

func (c *Coordinator) handleEvent(ctx context.Context, e platform.Event) {
	obs := Observation{Seq: c.clock.Current(), Event: e}

	switch ev := e.(type) {
	case platform.RegionEntered:
		c.handleCrossing(ctx, ev.Identifier, geo.CrossingEntry, &obs)
	case platform.RegionExited:
		c.handleCrossing(ctx, ev.Identifier, geo.CrossingExit, &obs)
	case platform.MonitoringStarted:
		c.regions.HandleStarted(ev.Identifier)
	case platform.MonitoringFailed:
		c.regions.HandleFailed(ev.Identifier, ev.Err)
	case platform.LocationsUpdated:
		c.locations.ResolveNext(ev.Locations, nil)
	case platform.LocationFailed:
		c.locations.ResolveNext(nil, ev.Err)
	case platform.AuthorizationChanged:
		c.locations.HandleAuthorization(ctx, ev.Authorization)
	default:
		c.logger.Warn("unknown platform event", "event", e.Name())
	}

	if c.observer != nil {
		c.observer(obs)
	}
}

func (c *Coordinator) handleCrossing(ctx context.Context, identifier string, kind geo.CrossingKind, obs *Observation) {
	event, outcome := c.pipeline.HandleRegionEvent(ctx, identifier, kind)
	obs.Outcome = outcome
	switch outcome {
	case crossing.OutcomeDispatched, crossing.OutcomeBuffered, crossing.OutcomeDuplicate:
		obs.Crossing = &event
	}
}

// Load reads the geofence set, the activation flag and the notification
// templates from the key-value store.
func (c *Coordinator) Load(ctx context.Context) error {
	_, err := call(ctx, c, "load", func(ctx context.Context) (struct{}, error) {
		errG := c.geofences.Load(ctx)
		errT := c.templates.Load(ctx)
		return struct{}{}, errors.Join(errG, errT)
	})
	return err
}

// Add inserts or updates a geofence and reconciles its region: an update of
// a monitored geofence re-registers it; a new geofence is registered only
// while monitoring is switched on. Registration outcomes are logged, not
// returned. The returned error is an InvalidGeofence or PersistenceFailed.
func (c *Coordinator) Add(ctx context.Context, g geo.Geofence) (geo.Geofence, error) {
	return call(ctx, c, "add", func(ctx context.Context) (geo.Geofence, error) {
		return c.add(ctx, g)
	})
}

func (c *Coordinator) add(ctx context.Context, g geo.Geofence) (geo.Geofence, error) {
	stored, updated, err := c.geofences.Add(ctx, g)
	if geo.IsInvalidGeofence(err) {
		return geo.Geofence{}, err
	}

	switch {
	case c.regions.IsMonitored(stored.Identifier):
		_ = c.regions.UpdateRegionMonitoring(ctx, stored)
	case c.geofences.Activated():
		_ = c.regions.RegisterRegion(ctx, stored)
	}

	c.logger.Debug("geofence stored", "geofence", stored.Identifier, "updated", updated)
	return stored, err
}

// AddAll applies Add to each geofence in order and returns the stored ones.
// Invalid geofences are skipped; the first error is returned.
func (c *Coordinator) AddAll(ctx context.Context, gs []geo.Geofence) ([]geo.Geofence, error) {
	return call(ctx, c, "add_all", func(ctx context.Context) ([]geo.Geofence, error) {
		var firstErr error
		out := make([]geo.Geofence, 0, len(gs))
		for _, g := range gs {
			stored, err := c.add(ctx, g)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			if geo.IsInvalidGeofence(err) {
				continue
			}
			out = append(out, stored)
		}
		return out, firstErr
	})
}

// Remove deletes a geofence and stops its region. Removing an unknown
// identifier is not an error.
func (c *Coordinator) Remove(ctx context.Context, identifier string) error {
	_, err := call(ctx, c, "remove", func(ctx context.Context) (struct{}, error) {
		identifier := geo.NormalizeIdentifier(identifier)
		_, err := c.geofences.Remove(ctx, identifier)
		_ = c.regions.StopRegion(ctx, identifier)
		return struct{}{}, err
	})
	return err
}

// RemoveAll stops every region and clears the geofence set, including its
// persisted copy. Whether monitoring is switched on is unchanged.
func (c *Coordinator) RemoveAll(ctx context.Context) error {
	_, err := call(ctx, c, "remove_all", func(ctx context.Context) (struct{}, error) {
		c.regions.StopMonitoringAll(ctx, c.geofences.List(), nil)
		return struct{}{}, c.geofences.RemoveAll(ctx)
	})
	return err
}

// Get returns one geofence.
func (c *Coordinator) Get(ctx context.Context, identifier string) (geo.Geofence, bool, error) {
	type found struct {
		g  geo.Geofence
		ok bool
	}
	r, err := call(ctx, c, "get", func(context.Context) (found, error) {
		g, ok := c.geofences.Get(identifier)
		return found{g: g, ok: ok}, nil
	})
	return r.g, r.ok, err
}

// List returns all geofences in insertion order.
func (c *Coordinator) List(ctx context.Context) ([]geo.Geofence, error) {
	return call(ctx, c, "list", func(context.Context) ([]geo.Geofence, error) {
		return c.geofences.List(), nil
	})
}

// MonitoredRegions returns the monitored-region table.
func (c *Coordinator) MonitoredRegions(ctx context.Context) ([]geo.Region, error) {
	return call(ctx, c, "monitored_regions", func(context.Context) ([]geo.Region, error) {
		return c.regions.Monitored(), nil
	})
}

// StartMonitoringAll switches monitoring on and registers every geofence.
// completion fires once, later, on the Run goroutine. The returned error
// only reports that the command could not be queued.
//
// completion must not call Coordinator methods: they wait for the Run
// goroutine it is running on, so the coordinator would deadlock.
func (c *Coordinator) StartMonitoringAll(ctx context.Context, completion region.Completion) error {
	_, err := call(ctx, c, "start_monitoring_all", func(ctx context.Context) (struct{}, error) {
		if c.regions.Ready() == nil {
			_ = c.geofences.SetActivated(ctx, true)
		}
		c.regions.StartMonitoringAll(ctx, c.geofences.List(), completion)
		return struct{}{}, nil
	})
	return err
}

// StopMonitoringAll stops every region, deletes every geofence and switches
// monitoring off. completion fires with success before the call returns.
func (c *Coordinator) StopMonitoringAll(ctx context.Context, completion region.Completion) error {
	_, err := call(ctx, c, "stop_monitoring_all", func(ctx context.Context) (struct{}, error) {
		c.regions.StopMonitoringAll(ctx, c.geofences.List(), nil)
		_ = c.geofences.RemoveAll(ctx)
		_ = c.geofences.SetActivated(ctx, false)
		if completion != nil {
			completion(nil, nil)
		}
		return struct{}{}, nil
	})
	return err
}

// Restart re-registers all geofences after a process or device restart, but
// only if monitoring was switched on before. Otherwise completion fires with
// success and nothing is registered.
func (c *Coordinator) Restart(ctx context.Context, completion region.Completion) error {
	_, err := call(ctx, c, "restart", func(ctx context.Context) (struct{}, error) {
		if !c.geofences.Activated() {
			c.logger.Debug("restart skipped: monitoring not active")
			if completion != nil {
				completion(nil, nil)
			}
			return struct{}{}, nil
		}
		c.logger.Info("re-registering geofences", "count", c.geofences.Len())
		c.regions.StartMonitoringAll(ctx, c.geofences.List(), completion)
		return struct{}{}, nil
	})
	return err
}

// RequestLocation queues a one-shot location request and returns its id.
// completion fires exactly once, later, on the Run goroutine, and must not
// call Coordinator methods.
func (c *Coordinator) RequestLocation(ctx context.Context, completion location.Completion) (string, error) {
	return call(ctx, c, "request_location", func(ctx context.Context) (string, error) {
		return c.locations.Enqueue(ctx, completion), nil
	})
}

// OnGeofenceEvent attaches responder. A crossing buffered while detached is
// handed to it before this call returns.
//
// responder runs on the Run goroutine. It must not call Coordinator methods
// or the coordinator deadlocks; hand the event to another goroutine instead.
func (c *Coordinator) OnGeofenceEvent(ctx context.Context, responder crossing.Responder) error {
	_, err := call(ctx, c, "attach", func(context.Context) (struct{}, error) {
		c.pipeline.Attach(responder)
		return struct{}{}, nil
	})
	return err
}

// DetachResponder returns to buffering crossings.
func (c *Coordinator) DetachResponder(ctx context.Context) error {
	_, err := call(ctx, c, "detach", func(context.Context) (struct{}, error) {
		c.pipeline.Detach()
		return struct{}{}, nil
	})
	return err
}

// TriggerStoredEvents hands a buffered crossing to the attached responder and
// reports whether there was one.
func (c *Coordinator) TriggerStoredEvents(ctx context.Context) (bool, error) {
	return call(ctx, c, "trigger_stored_events", func(context.Context) (bool, error) {
		return c.pipeline.TriggerStoredEvents(), nil
	})
}

// SetNotificationTemplates replaces the arrival and departure templates. A
// nil template clears it.
func (c *Coordinator) SetNotificationTemplates(ctx context.Context, arriving, leaving *geo.NotificationTemplate) error {
	_, err := call(ctx, c, "set_templates", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.templates.SetTemplates(ctx, arriving, leaving)
	})
	return err
}

// Status is a snapshot of coordinator state.
type Status struct {
	Geofences        int  `json:"geofences"`
	MonitoredRegions int  `json:"monitored_regions"`
	Activated        bool `json:"activated"`
	PendingLocations int  `json:"pending_locations"`
	BatchOpen        bool `json:"batch_open"`
	BufferedCrossing bool `json:"buffered_crossing"`

	// Queued counts tasks that were queued behind the snapshot.
	Queued int `json:"queued"`
}

// Status returns a snapshot taken on the Run goroutine. Every task queued
// before it has been processed when it returns.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	return call(ctx, c, "status", func(context.Context) (Status, error) {
		_, buffered := c.pipeline.Pending()
		return Status{
			Geofences:        c.geofences.Len(),
			MonitoredRegions: len(c.regions.Monitored()),
			Activated:        c.geofences.Activated(),
			PendingLocations: c.locations.Len(),
			BatchOpen:        c.regions.BatchOpen(),
			BufferedCrossing: buffered,
			Queued:           c.queue.Len(),
		}, nil
	})
}
