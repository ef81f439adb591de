package dashboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldtrack/db"
	"fieldtrack/models"
	"fieldtrack/rtdb"
)

type recordingView struct {
	mu      sync.Mutex
	markers map[string]Marker
	bounds  []Bounds
}

func newRecordingView() *recordingView {
	return &recordingView{markers: make(map[string]Marker)}
}

func (v *recordingView) SetMarker(id string, m Marker) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.markers[id] = m
}

func (v *recordingView) RemoveMarker(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.markers, id)
}

func (v *recordingView) FitBounds(b Bounds) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bounds = append(v.bounds, b)
}

func (v *recordingView) marker(id string) (Marker, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m, ok := v.markers[id]
	return m, ok
}

func (v *recordingView) markerCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.markers)
}

func (v *recordingView) lastBounds() (Bounds, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.bounds) == 0 {
		return Bounds{}, false
	}
	return v.bounds[len(v.bounds)-1], true
}

func f64(v float64) *float64 { return &v }

func setLoc(t *testing.T, dm *db.DataModel, userID string, lat, lng float64, updated int64) {
	t.Helper()
	require.NoError(t, dm.SetLiveLocation(context.Background(), "s1", userID, models.LiveLocation{
		Name: "Worker " + userID, Phone: "9000", Lat: f64(lat), Lng: f64(lng), LastUpdated: updated,
	}))
}

// waitUntil polls the view until cond holds or the deadline passes.
// Deliveries coalesce, so tests assert on converged state, not on counts.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestDashboardCreatesAndUpdatesMarkers(t *testing.T) {
	ctx := context.Background()
	dm := db.NewDataModel(rtdb.NewMemoryClient())
	view := newRecordingView()

	setLoc(t, dm, "u1", 1.35, 103.82, 100)

	sess, err := Open(ctx, dm, "s1", view)
	require.NoError(t, err)
	defer sess.Close()

	waitUntil(t, func() bool { return view.markerCount() == 1 })
	m, _ := view.marker("u1")
	assert.Equal(t, 1.35, m.Lat)
	assert.Equal(t, "Worker u1", m.Label)

	setLoc(t, dm, "u1", 1.40, 103.90, 200)
	waitUntil(t, func() bool {
		m, ok := view.marker("u1")
		return ok && m.Lat == 1.40
	})
}

func TestDashboardPrunesDepartedWorkers(t *testing.T) {
	ctx := context.Background()
	dm := db.NewDataModel(rtdb.NewMemoryClient())
	view := newRecordingView()

	setLoc(t, dm, "u1", 1.35, 103.82, 100)
	setLoc(t, dm, "u2", 1.36, 103.83, 100)

	sess, err := Open(ctx, dm, "s1", view)
	require.NoError(t, err)
	defer sess.Close()

	waitUntil(t, func() bool { return view.markerCount() == 2 })

	require.NoError(t, dm.Store().Delete(ctx, "sessions/s1/locations/u2"))
	waitUntil(t, func() bool { return view.markerCount() == 1 })
	_, ok := view.marker("u2")
	assert.False(t, ok, "departed worker's marker must be pruned")
}

func TestDashboardSkipsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	dm := db.NewDataModel(rtdb.NewMemoryClient())
	view := newRecordingView()

	setLoc(t, dm, "u1", 1.35, 103.82, 100)
	// Registered but no coordinates yet.
	require.NoError(t, dm.SetLiveLocation(ctx, "s1", "u2", models.LiveLocation{Name: "Pending", Phone: "9"}))
	// Garbage from a foreign writer.
	require.NoError(t, dm.Store().Set(ctx, "sessions/s1/locations/u3", map[string]any{"lat": "oops"}))

	sess, err := Open(ctx, dm, "s1", view)
	require.NoError(t, err)
	defer sess.Close()

	waitUntil(t, func() bool { return view.markerCount() == 1 })
	users := sess.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].ID)
}

func TestDashboardViewportBoundsAllPoints(t *testing.T) {
	ctx := context.Background()
	dm := db.NewDataModel(rtdb.NewMemoryClient())
	view := newRecordingView()

	setLoc(t, dm, "u1", 1.30, 103.70, 100)
	setLoc(t, dm, "u2", 1.40, 103.90, 100)
	setLoc(t, dm, "u3", 1.35, 103.80, 100)

	sess, err := Open(ctx, dm, "s1", view)
	require.NoError(t, err)
	defer sess.Close()

	waitUntil(t, func() bool { return view.markerCount() == 3 })
	b, ok := view.lastBounds()
	require.True(t, ok)
	assert.Equal(t, Bounds{MinLat: 1.30, MinLng: 103.70, MaxLat: 1.40, MaxLng: 103.90}, b)
}

func TestDashboardUserListOrdering(t *testing.T) {
	ctx := context.Background()
	dm := db.NewDataModel(rtdb.NewMemoryClient())
	view := newRecordingView()

	setLoc(t, dm, "u1", 1.3, 103.8, 100)
	setLoc(t, dm, "u2", 1.3, 103.8, 300)
	setLoc(t, dm, "u3", 1.3, 103.8, 200)

	sess, err := Open(ctx, dm, "s1", view)
	require.NoError(t, err)
	defer sess.Close()

	waitUntil(t, func() bool { return len(sess.Users()) == 3 })
	users := sess.Users()
	assert.Equal(t, []string{"u2", "u3", "u1"}, []string{users[0].ID, users[1].ID, users[2].ID})
}

func TestDashboardCloseDetaches(t *testing.T) {
	ctx := context.Background()
	dm := db.NewDataModel(rtdb.NewMemoryClient())
	view := newRecordingView()

	setLoc(t, dm, "u1", 1.3, 103.8, 100)
	sess, err := Open(ctx, dm, "s1", view)
	require.NoError(t, err)
	waitUntil(t, func() bool { return view.markerCount() == 1 })

	sess.Close()
	sess.Close() // idempotent

	setLoc(t, dm, "u2", 1.4, 103.9, 200)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, view.markerCount(), "no deliveries after Close")
}

func TestFormatUpdated(t *testing.T) {
	assert.Equal(t, "—", FormatUpdated(0))
	assert.NotEqual(t, "—", FormatUpdated(time.Now().UnixMilli()))
}
