package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/geofencer/internal/catalog"
	"github.com/roach88/geofencer/internal/crossing"
	"github.com/roach88/geofencer/internal/engine"
	"github.com/roach88/geofencer/internal/geo"
	"github.com/roach88/geofencer/internal/location"
	"github.com/roach88/geofencer/internal/platform"
	"github.com/roach88/geofencer/internal/platform/sim"
	"github.com/roach88/geofencer/internal/store"
	"github.com/roach88/geofencer/internal/testutil"
)

// DefaultTimeout bounds a whole scenario run.
const DefaultTimeout = 30 * time.Second

// Harness is the scenario execution engine.
// It runs a real coordinator over an in-memory SQLite store against a
// simulated device with a manual wall clock and sequential request ids, so
// traces are reproducible.
type Harness struct {
	coord  *engine.Coordinator
	kv     *store.Store
	device *sim.Simulator
	clock  *testutil.ManualClock
	seq    *engine.Clock
	logger *slog.Logger

	// pending holds records produced on the coordinator goroutine until the
	// current step is committed.
	mu      sync.Mutex
	pending []TraceEvent
}

// Option configures a scenario run.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	timeout time.Duration
}

// WithLogger routes coordinator logs to l. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithTimeout bounds the run. Default: DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Start the coordinator loop and load persisted state
// 2. Add catalog geofences and templates, if any
// 3. Execute setup steps
// 4. Execute flow steps with expect validation
// 5. Snapshot final state and evaluate assertions
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	h, err := newHarness(scenario.Device, o.logger)
	if err != nil {
		return nil, err
	}
	defer h.kv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- h.coord.Run(ctx) }()
	defer func() {
		h.coord.Stop()
		<-errCh
	}()

	if err := h.coord.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load coordinator: %w", err)
	}

	result := NewResult()

	if scenario.Catalog != "" {
		if err := h.loadCatalog(ctx, scenario.Catalog); err != nil {
			return nil, err
		}
		if err := h.commit(ctx, result, nil); err != nil {
			return nil, err
		}
	}

	if err := h.executeSetup(ctx, scenario.Setup, result); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}

	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	if err := h.snapshot(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to snapshot state: %w", err)
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

func newHarness(d Device, logger *slog.Logger) (*Harness, error) {
	auth, err := parseAuthorizationOr(d.Authorization, "always")
	if err != nil {
		return nil, err
	}
	grant, err := parseAuthorizationOr(d.GrantOnRequest, "always")
	if err != nil {
		return nil, err
	}

	kv, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	h := &Harness{
		kv:     kv,
		device: sim.New(sim.Config{
			Unavailable:    d.Unavailable,
			Authorization:  auth,
			GrantOnRequest: grant,
			RegionLimit:    d.RegionLimit,
		}),
		clock:  testutil.NewManualClock(time.Time{}),
		seq:    engine.NewClock(),
		logger: logger,
	}
	if d.Location != nil {
		h.device.MoveTo(h.locationAt(d.Location.Latitude, d.Location.Longitude, 0))
	}

	h.coord = engine.New(
		engine.Config{KV: kv, Monitor: h.device, Provider: h.device, Locator: h.device},
		engine.WithLogger(logger),
		engine.WithWallClock(h.clock.Now),
		engine.WithRequestIDs(testutil.NewSequenceIDGenerator("req")),
		engine.WithNotifier(h),
		engine.WithObserver(h.observe),
	)
	h.device.SetSink(h.coord)
	return h, nil
}

func parseAuthorizationOr(s, fallback string) (geo.Authorization, error) {
	if s == "" {
		s = fallback
	}
	return geo.ParseAuthorization(s)
}

func (h *Harness) locationAt(lat, lon, accuracy float64) geo.Location {
	if accuracy <= 0 {
		accuracy = 10
	}
	return geo.Location{
		Coordinate: geo.Coordinate{Latitude: lat, Longitude: lon},
		Accuracy:   accuracy,
		Timestamp:  h.clock.Now(),
	}
}

func (h *Harness) loadCatalog(ctx context.Context, dir string) error {
	cat, errs := catalog.LoadDir(dir, catalog.CollectAll)
	if len(errs) > 0 {
		return fmt.Errorf("failed to load catalog %s: %w", dir, errors.Join(errs...))
	}
	if _, err := h.coord.AddAll(ctx, cat.Geofences); err != nil {
		return fmt.Errorf("failed to add catalog geofences: %w", err)
	}
	if cat.Arriving != nil || cat.Leaving != nil {
		if err := h.coord.SetNotificationTemplates(ctx, cat.Arriving, cat.Leaving); err != nil {
			return fmt.Errorf("failed to set catalog templates: %w", err)
		}
	}
	return nil
}

// executeSetup runs all setup steps. Their completions are traced but not
// validated.
func (h *Harness) executeSetup(ctx context.Context, setup []ActionStep, result *Result) error {
	for i, step := range setup {
		if _, err := h.execute(ctx, step.Action, step.Args, result); err != nil {
			return fmt.Errorf("setup step %d (%s): %w", i, step.Action, err)
		}
		h.logger.Debug("setup step completed", "step", i, "action", step.Action)
	}
	return nil
}

// executeFlow runs all flow steps and validates expect clauses.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		records, err := h.execute(ctx, step.Invoke, step.Args, result)
		if err != nil {
			return fmt.Errorf("flow step %d (%s): %w", i, step.Invoke, err)
		}

		if step.Expect != nil {
			if msg := checkExpect(step, records); msg != "" {
				result.AddError(fmt.Sprintf("flow[%d] %s: %s", i, step.Invoke, msg))
			}
		}

		h.logger.Debug("flow step completed", "step", i, "action", step.Invoke, "records", len(records))
	}
	return nil
}

// execute runs one step, waits for the coordinator to go idle, and commits
// the step's records. It returns the committed records.
func (h *Harness) execute(ctx context.Context, action string, raw map[string]interface{}, result *Result) ([]TraceEvent, error) {
	def, ok := steps[action]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", action)
	}

	stepRecords := []TraceEvent{{Type: RecordInvoke, Action: action, Args: raw}}

	res, err := def.run(ctx, h, action, args(raw))
	var ae *argError
	if errors.As(err, &ae) {
		return nil, err
	}
	switch def.completion {
	case completesSync:
		stepRecords = append(stepRecords, completionRecord(action, res, err))
	case completesAsync:
		// The callback records success and failure; only a rejected call
		// is recorded here.
		if err != nil {
			stepRecords = append(stepRecords, completionRecord(action, nil, err))
		}
	case completesNever:
		if err != nil {
			return nil, err
		}
	}

	start := len(result.Trace)
	if err := h.commit(ctx, result, stepRecords); err != nil {
		return nil, err
	}
	return result.Trace[start:], nil
}

// commit waits for the coordinator to go idle, then appends records followed
// by everything the coordinator produced meanwhile.
func (h *Harness) commit(ctx context.Context, result *Result, records []TraceEvent) error {
	if err := h.flush(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	records = append(records, h.pending...)
	h.pending = nil
	h.mu.Unlock()

	for _, r := range records {
		r.Seq = h.seq.Next()
		result.Trace = append(result.Trace, r)
	}
	return nil
}

// flush waits until the loop is idle, including callbacks queued by the
// tasks it ran along the way.
func (h *Harness) flush(ctx context.Context) error {
	for {
		st, err := h.coord.Status(ctx)
		if err != nil {
			return fmt.Errorf("waiting for coordinator: %w", err)
		}
		if st.Queued == 0 {
			return nil
		}
	}
}

func (h *Harness) record(ev TraceEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = append(h.pending, ev)
}

func (h *Harness) observe(o engine.Observation) {
	ev := TraceEvent{Type: RecordEvent, Action: o.Event.Name(), Args: eventArgs(o.Event)}
	switch o.Event.(type) {
	case platform.RegionEntered, platform.RegionExited:
		ev.Case = o.Outcome.String()
	}
	h.record(ev)
}

func (h *Harness) respond(e geo.CrossingEvent) {
	h.record(TraceEvent{
		Type:   RecordResponse,
		Action: "geofence_event",
		Result: map[string]interface{}{
			"identifier": e.Geofence.Identifier,
			"action":     string(e.Kind),
		},
	})
}

// Post implements crossing.Notifier.
func (h *Harness) Post(_ context.Context, n crossing.Notification) error {
	res := map[string]interface{}{
		"identifier": n.Identifier,
		"action":     string(n.Kind),
		"title":      n.Title,
		"body":       n.Body,
	}
	if n.AssociatedNodeID != "" {
		res["associatedNodeId"] = n.AssociatedNodeID
	}
	h.record(TraceEvent{Type: RecordNotification, Action: "local_notification", Result: res})
	return nil
}

func (h *Harness) complete(action string, res interface{}, err error) {
	h.record(completionRecord(action, res, err))
}

func completionRecord(action string, res interface{}, err error) TraceEvent {
	ev := TraceEvent{Type: RecordCompletion, Action: action, Case: errorCase(err)}
	if err == nil {
		ev.Result = res
	}
	return ev
}

// snapshot stores the final status and geofence set in result.State.
func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	if err := h.flush(ctx); err != nil {
		return err
	}
	st, err := h.coord.Status(ctx)
	if err != nil {
		return err
	}
	fences, err := h.coord.List(ctx)
	if err != nil {
		return err
	}
	result.State[TableStatus] = normalize(st)
	result.State[TableGeofences] = normalize(fences)
	return nil
}

func eventArgs(e platform.Event) map[string]interface{} {
	switch ev := e.(type) {
	case platform.RegionEntered:
		return map[string]interface{}{"identifier": ev.Identifier}
	case platform.RegionExited:
		return map[string]interface{}{"identifier": ev.Identifier}
	case platform.MonitoringStarted:
		return map[string]interface{}{"identifier": ev.Identifier}
	case platform.MonitoringFailed:
		return map[string]interface{}{"identifier": ev.Identifier, "error": ev.Err.Error()}
	case platform.LocationsUpdated:
		return map[string]interface{}{"count": len(ev.Locations)}
	case platform.LocationFailed:
		return map[string]interface{}{"error": errorCase(ev.Err)}
	case platform.AuthorizationChanged:
		return map[string]interface{}{"authorization": ev.Authorization.String()}
	default:
		return nil
	}
}

// errorCase renders err as a completion case: "ok", a coordinator or
// location error code, "STOPPED" or "ERROR".
func errorCase(err error) string {
	if err == nil {
		return CaseOK
	}
	if code := geo.CodeOf(err); code != "" {
		return string(code)
	}
	var le *location.Error
	if errors.As(err, &le) {
		return le.Code.String()
	}
	if engine.IsStopped(err) {
		return "STOPPED"
	}
	return "ERROR"
}

func regionIDs(regions []geo.Region) []string {
	ids := make([]string, 0, len(regions))
	for _, r := range regions {
		ids = append(ids, r.Identifier)
	}
	sort.Strings(ids)
	return ids
}

// checkExpect compares a flow step's first completion with its expect
// clause. It returns "" on a match.
func checkExpect(step FlowStep, records []TraceEvent) string {
	for _, r := range records {
		if r.Type != RecordCompletion || r.Action != step.Invoke {
			continue
		}
		if r.Case != step.Expect.Case {
			return fmt.Sprintf("expected case %s, got %s", step.Expect.Case, r.Case)
		}
		if len(step.Expect.Result) > 0 {
			actual, _ := normalize(r.Result).(map[string]interface{})
			if !matchArgs(actual, step.Expect.Result) {
				return fmt.Sprintf("expected result %v, got %v", step.Expect.Result, r.Result)
			}
		}
		return ""
	}
	return "no completion recorded"
}
