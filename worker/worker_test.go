package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldtrack/db"
	"fieldtrack/rtdb"
)

// scriptedProvider feeds fixes and errors pushed by the test.
type scriptedProvider struct {
	mu      sync.Mutex
	onFix   func(Fix)
	onError func(error)
	stopped bool
}

func (p *scriptedProvider) Watch(ctx context.Context, opts WatchOptions, onFix func(Fix), onError func(error)) (func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFix = onFix
	p.onError = onError
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.stopped = true
	}, nil
}

func (p *scriptedProvider) emit(fix Fix) {
	p.mu.Lock()
	fn := p.onFix
	p.mu.Unlock()
	if fn != nil {
		fn(fix)
	}
}

func (p *scriptedProvider) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *scriptedProvider) fail(err error) {
	p.mu.Lock()
	fn := p.onError
	p.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

type statusRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (s *statusRecorder) record(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *statusRecorder) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return ""
	}
	return s.lines[len(s.lines)-1]
}

func newHarness() (*db.DataModel, *scriptedProvider, *statusRecorder) {
	return db.NewDataModel(rtdb.NewMemoryClient()), &scriptedProvider{}, &statusRecorder{}
}

func TestSessionIDFromLink(t *testing.T) {
	id, err := SessionIDFromLink("https://track.example.com/worker?session=abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	_, err = SessionIDFromLink("https://track.example.com/worker")
	assert.ErrorIs(t, err, ErrInvalidLink)

	_, err = SessionIDFromLink("https://track.example.com/worker?session=")
	assert.ErrorIs(t, err, ErrInvalidLink)
}

func TestNoSessionIsTerminal(t *testing.T) {
	dm, provider, status := newHarness()
	c := New(dm, "https://track.example.com/worker", provider, status.record)

	assert.Equal(t, StateNoSession, c.State())
	assert.Contains(t, status.last(), "Invalid link")

	err := c.Start(context.Background(), Identity{Name: "Ben", Phone: "9"})
	assert.ErrorIs(t, err, ErrInvalidLink)
	assert.Equal(t, StateNoSession, c.State())
}

func TestStartRequiresIdentity(t *testing.T) {
	dm, provider, status := newHarness()
	c := New(dm, "https://x/worker?session=s1", provider, status.record)

	assert.ErrorIs(t, c.Start(context.Background(), Identity{Name: "Ben"}), ErrMissingIdentity)
	assert.ErrorIs(t, c.Start(context.Background(), Identity{Phone: "9"}), ErrMissingIdentity)
	assert.Equal(t, StateAwaitingConsent, c.State())
}

func TestStartWithoutProvider(t *testing.T) {
	dm, _, status := newHarness()
	c := New(dm, "https://x/worker?session=s1", nil, status.record)

	err := c.Start(context.Background(), Identity{Name: "Ben", Phone: "9"})
	assert.ErrorIs(t, err, ErrUnsupportedDevice)
}

func TestTrackingFlow(t *testing.T) {
	ctx := context.Background()
	dm, provider, status := newHarness()
	c := New(dm, "https://x/worker?session=s1", provider, status.record)

	require.NoError(t, c.Start(ctx, Identity{Name: "Ben", Phone: "91234567", Role: "rigger"}))
	assert.Equal(t, StateTracking, c.State())
	require.NotEmpty(t, c.WorkerID())

	// Identity was registered under the session.
	var registered map[string]any
	require.NoError(t, dm.Store().Get(ctx, "sessions/s1/users/"+c.WorkerID(), &registered))
	assert.Equal(t, "Ben", registered["name"])

	provider.emit(Fix{Lat: 1.3644, Lng: 103.9915, Accuracy: 12})

	locations, err := dm.LiveLocations(ctx, "s1")
	require.NoError(t, err)
	loc, ok := locations[c.WorkerID()]
	require.True(t, ok)
	require.NotNil(t, loc.Lat)
	assert.Equal(t, 1.3644, *loc.Lat)
	assert.Equal(t, "Ben", loc.Name)
	require.NotNil(t, loc.Role)
	assert.Equal(t, "rigger", *loc.Role)
	assert.Contains(t, status.last(), "Tracking active")

	// A later fix overwrites the entry wholesale.
	provider.emit(Fix{Lat: 1.37, Lng: 104.0, Accuracy: 5, Ts: 99})
	locations, err = dm.LiveLocations(ctx, "s1")
	require.NoError(t, err)
	loc = locations[c.WorkerID()]
	assert.Equal(t, 1.37, *loc.Lat)
	assert.Equal(t, int64(99), loc.LastUpdated)
}

func TestAcquisitionFailureKeepsTracking(t *testing.T) {
	ctx := context.Background()
	dm, provider, status := newHarness()
	c := New(dm, "https://x/worker?session=s1", provider, status.record)
	require.NoError(t, c.Start(ctx, Identity{Name: "Ben", Phone: "9"}))

	provider.fail(errors.New("position unavailable"))

	assert.Equal(t, StateTracking, c.State(), "a failed sample must not change state")
	assert.Contains(t, status.last(), "Error getting location")

	// The watch keeps delivering afterwards.
	provider.emit(Fix{Lat: 1.0, Lng: 2.0})
	locations, err := dm.LiveLocations(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, locations, 1)
}

func TestStopMarksInactiveAndIsTerminal(t *testing.T) {
	ctx := context.Background()
	dm, provider, status := newHarness()
	c := New(dm, "https://x/worker?session=s1", provider, status.record)
	require.NoError(t, c.Start(ctx, Identity{Name: "Ben", Phone: "9"}))
	provider.emit(Fix{Lat: 1.0, Lng: 2.0})

	c.Stop(ctx)
	assert.Equal(t, StateStopped, c.State())
	assert.True(t, provider.isStopped(), "watch must be cancelled")

	locations, err := dm.LiveLocations(ctx, "s1")
	require.NoError(t, err)
	loc := locations[c.WorkerID()]
	require.NotNil(t, loc.Active)
	assert.False(t, *loc.Active)

	// Fixes arriving after Stop are dropped.
	before := loc.LastUpdated
	provider.emit(Fix{Lat: 9.0, Lng: 9.0, Ts: time.Now().UnixMilli() + 1000})
	locations, err = dm.LiveLocations(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, before, locations[c.WorkerID()].LastUpdated)

	// Stop twice is fine; Start afterwards is rejected.
	c.Stop(ctx)
	assert.ErrorIs(t, c.Start(ctx, Identity{Name: "Ben", Phone: "9"}), ErrBadState)
}
