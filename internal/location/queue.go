// Package location resolves one-shot current-location requests.
//
// The platform delivers location results without saying which request they
// answer. Requests are therefore resolved strictly oldest first, which is
// only correct while at most one fetch is in flight at a time.
package location

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/roach88/geofencer/internal/geo"
)

// Provider is the platform location service.
type Provider interface {
	Authorization() geo.Authorization
	StartUpdates(ctx context.Context) error
	RequestAuthorization(ctx context.Context) error
}

// Completion receives the result of one request.
type Completion func(locations []geo.Location, err error)

// IDGenerator produces request ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-ordered UUIDv7 request ids.
type UUIDv7Generator struct{}

// Generate returns a new UUIDv7 string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

type request struct {
	id         string
	completion Completion
}

// Queue is the FIFO of outstanding location requests.
//
// Not safe for concurrent use; the coordinator calls it from its event loop.
type Queue struct {
	provider Provider
	ids      IDGenerator
	logger   *slog.Logger

	pending            []request
	awaitingPermission bool
}

// NewQueue creates an empty queue. A nil ids uses UUIDv7Generator.
func NewQueue(provider Provider, ids IDGenerator, logger *slog.Logger) *Queue {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		provider: provider,
		ids:      ids,
		logger:   logger,
	}
}

// Enqueue appends a request and returns its id without waiting. When
// authorized, location updates are started; otherwise permission is requested
// and the request waits for HandleAuthorization.
func (q *Queue) Enqueue(ctx context.Context, completion Completion) string {
	id := q.ids.Generate()
	q.pending = append(q.pending, request{id: id, completion: completion})
	q.logger.Debug("location requested", "request_id", id, "pending", len(q.pending))

	if q.provider.Authorization().Granted() {
		q.startUpdates(ctx)
		return id
	}

	q.awaitingPermission = true
	if err := q.provider.RequestAuthorization(ctx); err != nil {
		q.logger.Warn("requesting location permission failed", "error", err)
	}
	return id
}

func (q *Queue) startUpdates(ctx context.Context) {
	if err := q.provider.StartUpdates(ctx); err != nil {
		q.logger.Warn("starting location updates failed", "error", err)
		q.ResolveNext(nil, err)
	}
}

// ResolveNext completes the oldest pending request with the given result and
// removes it. It returns false, and does nothing else, when no request is
// pending.
func (q *Queue) ResolveNext(locations []geo.Location, err error) bool {
	if len(q.pending) == 0 {
		q.logger.Debug("location result with no pending request", "code", geo.ErrCodeNoPendingRequest)
		return false
	}

	next := q.pending[0]
	q.pending[0] = request{}
	q.pending = q.pending[1:]

	if err != nil {
		q.logger.Debug("location request failed", "request_id", next.id, "error", err)
	} else {
		q.logger.Debug("location request resolved", "request_id", next.id, "locations", len(locations))
	}
	if next.completion != nil {
		next.completion(locations, err)
	}
	return true
}

// HandleAuthorization reacts to a permission change. A grant with requests
// pending starts updates. A refusal after a permission request fails every
// pending request with AuthorizationInsufficient; they are not retried.
func (q *Queue) HandleAuthorization(ctx context.Context, level geo.Authorization) {
	if level.Granted() {
		q.awaitingPermission = false
		if len(q.pending) > 0 {
			q.startUpdates(ctx)
		}
		return
	}

	if level != geo.AuthorizationNone || !q.awaitingPermission {
		return
	}
	q.awaitingPermission = false

	err := geo.NewAuthorizationError(level, geo.AuthorizationWhenInUse)
	failed := q.pending
	q.pending = nil
	q.logger.Info("location permission denied", "failed_requests", len(failed))
	for _, r := range failed {
		if r.completion != nil {
			r.completion(nil, err)
		}
	}
}

// Len returns the number of pending requests.
func (q *Queue) Len() int {
	return len(q.pending)
}

// PendingIDs returns the ids of pending requests, oldest first.
func (q *Queue) PendingIDs() []string {
	ids := make([]string, len(q.pending))
	for i, r := range q.pending {
		ids[i] = r.id
	}
	return ids
}
