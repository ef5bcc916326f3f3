package location

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/geofencer/internal/geo"
	"github.com/roach88/geofencer/internal/testutil"
)

type fakeProvider struct {
	auth          geo.Authorization
	starts        int
	permissionAsk int
	startErr      error
}

func (p *fakeProvider) Authorization() geo.Authorization { return p.auth }

func (p *fakeProvider) StartUpdates(context.Context) error {
	p.starts++
	return p.startErr
}

func (p *fakeProvider) RequestAuthorization(context.Context) error {
	p.permissionAsk++
	return nil
}

type result struct {
	locations []geo.Location
	err       error
}

func recordInto(results *[]result, tag string, order *[]string) Completion {
	return func(locations []geo.Location, err error) {
		*results = append(*results, result{locations: locations, err: err})
		*order = append(*order, tag)
	}
}

func fix(lat float64) []geo.Location {
	return []geo.Location{{
		Coordinate: geo.Coordinate{Latitude: lat, Longitude: 0},
		Timestamp:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}}
}

func TestQueue_FIFOResolution(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{auth: geo.AuthorizationAlways}
	q := NewQueue(p, testutil.NewSequenceIDGenerator("req"), nil)

	var results []result
	var order []string
	idA := q.Enqueue(ctx, recordInto(&results, "A", &order))
	idB := q.Enqueue(ctx, recordInto(&results, "B", &order))

	assert.Equal(t, "req-1", idA)
	assert.Equal(t, "req-2", idB)
	assert.Equal(t, 2, p.starts)
	assert.Equal(t, []string{"req-1", "req-2"}, q.PendingIDs())

	require.True(t, q.ResolveNext(fix(1), nil))
	require.True(t, q.ResolveNext(fix(2), nil))

	assert.Equal(t, []string{"A", "B"}, order)
	assert.Equal(t, 1.0, results[0].locations[0].Latitude)
	assert.Equal(t, 2.0, results[1].locations[0].Latitude)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ResolveWithNothingPendingIsNoop(t *testing.T) {
	q := NewQueue(&fakeProvider{auth: geo.AuthorizationAlways}, nil, nil)
	assert.False(t, q.ResolveNext(fix(1), nil))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ErrorResolvesOldest(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(&fakeProvider{auth: geo.AuthorizationWhenInUse}, nil, nil)

	var results []result
	var order []string
	q.Enqueue(ctx, recordInto(&results, "A", &order))
	q.Enqueue(ctx, recordInto(&results, "B", &order))

	failure := NewError(CodeTimeout, "no fix")
	require.True(t, q.ResolveNext(nil, failure))

	require.Len(t, results, 1)
	assert.Equal(t, []string{"A"}, order)
	assert.True(t, IsLocationTimeout(results[0].err))
	assert.Equal(t, 1, q.Len())
}

func TestQueue_UnauthorizedRequestsPermission(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{auth: geo.AuthorizationNone}
	q := NewQueue(p, nil, nil)

	q.Enqueue(ctx, nil)
	assert.Equal(t, 1, p.permissionAsk)
	assert.Equal(t, 0, p.starts)
	assert.Equal(t, 1, q.Len())

	q.HandleAuthorization(ctx, geo.AuthorizationWhenInUse)
	assert.Equal(t, 1, p.starts)
	assert.Equal(t, 1, q.Len(), "request waits for the location result")
}

func TestQueue_DenialFailsAllPending(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{auth: geo.AuthorizationNone}
	q := NewQueue(p, nil, nil)

	var results []result
	var order []string
	q.Enqueue(ctx, recordInto(&results, "A", &order))
	q.Enqueue(ctx, recordInto(&results, "B", &order))

	q.HandleAuthorization(ctx, geo.AuthorizationNone)

	require.Len(t, results, 2)
	assert.Equal(t, []string{"A", "B"}, order)
	for _, r := range results {
		assert.True(t, geo.IsAuthorizationInsufficient(r.err))
	}
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, p.starts, "no retry after denial")
}

func TestQueue_DenialWithoutPermissionRequestIgnored(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{auth: geo.AuthorizationAlways}
	q := NewQueue(p, nil, nil)

	var results []result
	var order []string
	q.Enqueue(ctx, recordInto(&results, "A", &order))

	q.HandleAuthorization(ctx, geo.AuthorizationNone)
	assert.Empty(t, results)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_GrantWithNothingPendingDoesNotStart(t *testing.T) {
	p := &fakeProvider{auth: geo.AuthorizationNone}
	q := NewQueue(p, nil, nil)

	q.HandleAuthorization(context.Background(), geo.AuthorizationAlways)
	assert.Equal(t, 0, p.starts)
}

func TestQueue_StartFailureResolvesOldest(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{auth: geo.AuthorizationAlways, startErr: errors.New("gps off")}
	q := NewQueue(p, nil, nil)

	var results []result
	var order []string
	q.Enqueue(ctx, recordInto(&results, "A", &order))

	require.Len(t, results, 1)
	assert.EqualError(t, results[0].err, "gps off")
	assert.Equal(t, 0, q.Len())
}

func TestUUIDv7Generator_GeneratesVersion7(t *testing.T) {
	gen := UUIDv7Generator{}
	a := gen.Generate()
	b := gen.Generate()

	assert.NotEqual(t, a, b)
	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}
