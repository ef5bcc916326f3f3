package crossing

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/geofencer/internal/geo"
)

// Locator supplies the most recent device location.
type Locator interface {
	CurrentLocation() (geo.Location, bool)
}

// Resolver looks up the geofence a callback names. A callback may arrive in a
// process that has not seen the latest writes, so implementations may read
// persisted state.
type Resolver interface {
	Resolve(ctx context.Context, identifier string) (geo.Geofence, bool)
}

// Templates supplies notification templates per crossing kind.
type Templates interface {
	Template(ctx context.Context, kind geo.CrossingKind) (geo.NotificationTemplate, bool)
}

// Notification is a local notification rendered from a template.
type Notification struct {
	Identifier       string            `json:"identifier"`
	Kind             geo.CrossingKind  `json:"action"`
	Title            string            `json:"title"`
	Body             string            `json:"body"`
	AssociatedNodeID string            `json:"associatedNodeId,omitempty"`
	Event            geo.CrossingEvent `json:"event"`
}

// Notifier posts local notifications.
type Notifier interface {
	Post(ctx context.Context, n Notification) error
}

// Responder receives crossing events while the application is attached.
type Responder func(geo.CrossingEvent)

// Attachment is either Attached or Detached.
type Attachment interface {
	isAttachment()
}

// Attached routes events to Responder.
type Attached struct {
	Responder Responder
}

// Detached buffers the latest event.
type Detached struct{}

func (Attached) isAttachment() {}
func (Detached) isAttachment() {}

// Outcome says what the pipeline did with a callback.
type Outcome int

const (
	OutcomeDispatched Outcome = iota
	OutcomeBuffered
	OutcomeDuplicate
	OutcomeUnresolved
	OutcomeNoLocation
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDispatched:
		return "dispatched"
	case OutcomeBuffered:
		return "buffered"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeUnresolved:
		return "unresolved"
	case OutcomeNoLocation:
		return "no_location"
	default:
		return "unknown"
	}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithNotifier enables local notifications while detached.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithTemplates sets the template source for local notifications.
func WithTemplates(t Templates) Option {
	return func(p *Pipeline) { p.templates = t }
}

// WithClock sets the wall clock used to stamp events.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// Pipeline is the crossing event pipeline.
//
// Not safe for concurrent use; the coordinator calls it from its event loop.
type Pipeline struct {
	resolver  Resolver
	locator   Locator
	templates Templates
	notifier  Notifier
	now       func() time.Time
	logger    *slog.Logger

	attachment Attachment
	pending    *geo.CrossingEvent
	last       *geo.CrossingEvent
}

// NewPipeline creates a detached pipeline.
func NewPipeline(resolver Resolver, locator Locator, opts ...Option) *Pipeline {
	p := &Pipeline{
		resolver:   resolver,
		locator:    locator,
		now:        time.Now,
		logger:     slog.Default(),
		attachment: Detached{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleRegionEvent processes one entry or exit callback. The returned event
// is meaningful for OutcomeDispatched, OutcomeBuffered and OutcomeDuplicate.
func (p *Pipeline) HandleRegionEvent(ctx context.Context, identifier string, kind geo.CrossingKind) (geo.CrossingEvent, Outcome) {
	g, ok := p.resolver.Resolve(ctx, identifier)
	if !ok {
		p.logger.Debug("dropping crossing", "error", geo.NewResolutionError(identifier), "action", kind)
		return geo.CrossingEvent{}, OutcomeUnresolved
	}

	loc, ok := p.locator.CurrentLocation()
	if !ok {
		p.logger.Debug("dropping crossing with no current location", "geofence", identifier, "action", kind)
		return geo.CrossingEvent{}, OutcomeNoLocation
	}

	event := geo.CrossingEvent{
		Geofence: g,
		Region:   geo.RegionFor(g),
		Location: loc,
		Kind:     kind,
		Time:     p.now(),
	}

	if p.last != nil && p.last.Equal(event) {
		p.logger.Debug("dropping duplicate crossing", "geofence", identifier, "action", kind)
		return event, OutcomeDuplicate
	}
	accepted := event
	p.last = &accepted

	switch a := p.attachment.(type) {
	case Attached:
		p.logger.Debug("dispatching crossing", "geofence", identifier, "action", kind)
		a.Responder(event)
		return event, OutcomeDispatched
	default:
		buffered := event
		p.pending = &buffered
		p.logger.Debug("buffering crossing", "geofence", identifier, "action", kind)
		p.notify(ctx, event)
		return event, OutcomeBuffered
	}
}

func (p *Pipeline) notify(ctx context.Context, event geo.CrossingEvent) {
	if p.notifier == nil || p.templates == nil {
		return
	}
	switch event.Kind {
	case geo.CrossingEntry:
		if !event.Geofence.NotifyOnEntry {
			return
		}
	case geo.CrossingExit:
		if !event.Geofence.NotifyOnExit {
			return
		}
	}

	tmpl, ok := p.templates.Template(ctx, event.Kind)
	if !ok {
		return
	}
	n := Notification{
		Identifier:       event.Geofence.Identifier,
		Kind:             event.Kind,
		Title:            tmpl.Title,
		Body:             tmpl.Body,
		AssociatedNodeID: tmpl.AssociatedNodeID,
		Event:            event,
	}
	if err := p.notifier.Post(ctx, n); err != nil {
		p.logger.Warn("posting notification failed", "geofence", n.Identifier, "error", err)
	}
}

// Attach routes future events to responder and hands it the buffered event,
// if any, exactly once.
func (p *Pipeline) Attach(responder Responder) {
	if responder == nil {
		p.Detach()
		return
	}
	p.attachment = Attached{Responder: responder}
	p.drain()
}

// Detach returns the pipeline to buffering.
func (p *Pipeline) Detach() {
	p.attachment = Detached{}
}

// TriggerStoredEvents hands the buffered event to the attached responder.
// It reports whether an event was delivered.
func (p *Pipeline) TriggerStoredEvents() bool {
	return p.drain()
}

func (p *Pipeline) drain() bool {
	a, ok := p.attachment.(Attached)
	if !ok || p.pending == nil {
		return false
	}
	event := *p.pending
	p.pending = nil
	a.Responder(event)
	return true
}

// Pending returns the buffered event, if any.
func (p *Pipeline) Pending() (geo.CrossingEvent, bool) {
	if p.pending == nil {
		return geo.CrossingEvent{}, false
	}
	return *p.pending, true
}

// Attachment returns the current attachment state.
func (p *Pipeline) Attachment() Attachment {
	return p.attachment
}
