package db

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldtrack/models"
	"fieldtrack/rtdb"
)

func newModel() (*DataModel, *rtdb.MemoryClient) {
	client := rtdb.NewMemoryClient()
	return NewDataModel(client), client
}

func f64(v float64) *float64 { return &v }

func TestCreateUserDefaults(t *testing.T) {
	ctx := context.Background()
	dm, _ := newModel()

	require.NoError(t, dm.CreateUser(ctx, "u1", models.User{Name: "Aisha", Phone: "91234567"}))

	user, err := dm.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, models.RoleWorker, user.Role)
	assert.Nil(t, user.ActiveSessionID)
	assert.Nil(t, user.AssignedTrackerID)
}

func TestGetUserAbsent(t *testing.T) {
	ctx := context.Background()
	dm, _ := newModel()

	user, err := dm.GetUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestTrackerRoundTrip(t *testing.T) {
	ctx := context.Background()
	dm, _ := newModel()

	require.NoError(t, dm.CreateTracker(ctx, "tracker_abc"))

	tracker, err := dm.GetTracker(ctx, "tracker_abc")
	require.NoError(t, err)
	require.NotNil(t, tracker)
	assert.Nil(t, tracker.Last.Lat)
	assert.False(t, tracker.Status.Online)
	assert.True(t, tracker.Status.InsideFence)
	assert.Zero(t, tracker.Status.OutsideCount)
	assert.Nil(t, tracker.PairedTo)
}

func TestUpdateTrackerLocationReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	dm, _ := newModel()
	require.NoError(t, dm.CreateTracker(ctx, "t1"))

	// Seed a status with an excursion in progress.
	outsideSince := int64(1000)
	require.NoError(t, dm.UpdateTrackerStatus(ctx, "t1", map[string]any{
		"insideFence":    false,
		"outsideSinceTs": outsideSince,
		"outsideCount":   3,
	}))

	// A location write that passes a bare status drops every field the
	// caller omitted, other than the forced online flag.
	require.NoError(t, dm.UpdateTrackerLocation(ctx, "t1", 1.35, 103.82, f64(1.2), f64(8), models.TrackerStatus{InsideFence: true}))

	tracker, err := dm.GetTracker(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, tracker)
	assert.True(t, tracker.Status.Online, "online forced true on every fix")
	assert.True(t, tracker.Status.InsideFence)
	assert.Nil(t, tracker.Status.OutsideSince, "outsideSinceTs must not survive a wholesale status write")
	assert.Zero(t, tracker.Status.OutsideCount, "outsideCount must not survive a wholesale status write")
	require.NotNil(t, tracker.Last.Lat)
	assert.Equal(t, 1.35, *tracker.Last.Lat)
	assert.Equal(t, 103.82, *tracker.Last.Lng)
	assert.NotNil(t, tracker.Last.Ts)
}

func TestUpdateTrackerStatusMergePreservesSiblings(t *testing.T) {
	ctx := context.Background()
	dm, _ := newModel()
	require.NoError(t, dm.CreateTracker(ctx, "t1"))

	require.NoError(t, dm.UpdateTrackerStatus(ctx, "t1", map[string]any{
		"insideFence":    false,
		"outsideSinceTs": int64(5000),
		"outsideCount":   2,
	}))
	require.NoError(t, dm.UpdateTrackerStatus(ctx, "t1", map[string]any{"online": true}))

	tracker, err := dm.GetTracker(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, tracker)
	assert.True(t, tracker.Status.Online)
	assert.False(t, tracker.Status.InsideFence, "merge must preserve untouched siblings")
	require.NotNil(t, tracker.Status.OutsideSince)
	assert.Equal(t, int64(5000), *tracker.Status.OutsideSince)
	assert.Equal(t, 2, tracker.Status.OutsideCount)
}

func TestPairAndUnpairTracker(t *testing.T) {
	ctx := context.Background()
	dm, _ := newModel()
	require.NoError(t, dm.CreateTracker(ctx, "t1"))
	require.NoError(t, dm.CreateUser(ctx, "u1", models.User{Name: "Ben", Phone: "98765432", Company: "Acme"}))

	require.NoError(t, dm.PairTrackerToUser(ctx, "t1", models.PairedUser{
		UID: "u1", Name: "Ben", Company: "Acme", Role: models.RoleWorker,
	}))

	tracker, err := dm.GetTracker(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, tracker.PairedTo)
	assert.Equal(t, "u1", tracker.PairedTo.UID)

	user, err := dm.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, user.AssignedTrackerID)
	assert.Equal(t, "t1", *user.AssignedTrackerID, "pairing keeps the cross-reference in both directions")

	require.NoError(t, dm.UnpairTracker(ctx, "t1"))

	tracker, err = dm.GetTracker(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, tracker.PairedTo)

	user, err = dm.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, user.AssignedTrackerID)
}

func TestResolveAlertExactlyOnce(t *testing.T) {
	ctx := context.Background()
	dm, _ := newModel()

	id, err := dm.CreateAlert(ctx, models.Alert{
		Type: models.AlertInitial, TrackerID: "t1", UID: "u1",
		Name: "Ben", LeftFenceTs: 1000, LastLat: 1.36, LastLng: 103.99,
	})
	require.NoError(t, err)

	require.NoError(t, dm.ResolveAlert(ctx, id))

	alert, err := dm.GetAlert(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, alert.ResolvedTs)
	first := *alert.ResolvedTs

	err = dm.ResolveAlert(ctx, id)
	assert.ErrorIs(t, err, ErrAlreadyResolved)

	alert, err = dm.GetAlert(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first, *alert.ResolvedTs, "resolvedTs never moves once set")
}

func TestResolveAlertAbsent(t *testing.T) {
	ctx := context.Background()
	dm, _ := newModel()
	assert.ErrorIs(t, dm.ResolveAlert(ctx, "ghost"), ErrNotFound)
}

func TestActiveAlertsFiltersResolved(t *testing.T) {
	ctx := context.Background()
	dm, _ := newModel()

	a, err := dm.CreateAlert(ctx, models.Alert{Type: models.AlertInitial, TrackerID: "t1"})
	require.NoError(t, err)
	_, err = dm.CreateAlert(ctx, models.Alert{Type: models.AlertConfirmed, TrackerID: "t2"})
	require.NoError(t, err)

	require.NoError(t, dm.ResolveAlert(ctx, a))

	active, err := dm.ActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	for _, alert := range active {
		assert.Equal(t, "t2", alert.TrackerID)
	}
}

func TestClockOutExactlyOnce(t *testing.T) {
	ctx := context.Background()
	dm, _ := newModel()

	id, err := dm.CreateSession(ctx, models.Session{UID: "u1", ClockInLat: 1.35, ClockInLng: 103.82})
	require.NoError(t, err)

	require.NoError(t, dm.ClockOutSession(ctx, id, 1.36, 103.83))

	session, err := dm.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, session.ClockOutTs)
	first := *session.ClockOutTs

	err = dm.ClockOutSession(ctx, id, 9, 9)
	assert.ErrorIs(t, err, ErrAlreadyClockedOut)

	session, err = dm.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first, *session.ClockOutTs, "second clock-out must not move the original timestamp")
	assert.Equal(t, 1.36, *session.ClockOutLat)
}

func TestUserSessionsQuery(t *testing.T) {
	ctx := context.Background()
	dm, _ := newModel()

	_, err := dm.CreateSession(ctx, models.Session{UID: "u1"})
	require.NoError(t, err)
	_, err = dm.CreateSession(ctx, models.Session{UID: "u2"})
	require.NoError(t, err)
	_, err = dm.CreateSession(ctx, models.Session{UID: "u1"})
	require.NoError(t, err)

	sessions, err := dm.UserSessions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestLiveLocationsSkipMalformed(t *testing.T) {
	ctx := context.Background()
	dm, client := newModel()

	require.NoError(t, dm.SetLiveLocation(ctx, "s1", "u1", models.LiveLocation{
		Name: "Ben", Phone: "9", Lat: f64(1.3), Lng: f64(103.8), LastUpdated: 1,
	}))
	// A foreign writer can put anything at a location path.
	require.NoError(t, client.Set(ctx, "sessions/s1/locations/u2", map[string]any{
		"name": "Bad", "lat": "not-a-number",
	}))

	locations, err := dm.LiveLocations(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Contains(t, locations, "u1")
}

func TestMarkLocationInactiveKeepsCoordinates(t *testing.T) {
	ctx := context.Background()
	dm, _ := newModel()

	require.NoError(t, dm.SetLiveLocation(ctx, "s1", "u1", models.LiveLocation{
		Name: "Ben", Phone: "9", Lat: f64(1.3), Lng: f64(103.8), LastUpdated: 7,
	}))
	require.NoError(t, dm.MarkLocationInactive(ctx, "s1", "u1"))

	locations, err := dm.LiveLocations(ctx, "s1")
	require.NoError(t, err)
	loc := locations["u1"]
	require.NotNil(t, loc.Active)
	assert.False(t, *loc.Active)
	require.NotNil(t, loc.Lat)
	assert.Equal(t, 1.3, *loc.Lat, "inactive flag merges, coordinates survive")
}

func TestGeofenceReportSequentialAssociative(t *testing.T) {
	ctx := context.Background()
	dm, _ := newModel()

	e1 := models.GeofenceEvent{IsExit: true, Ts: 1000, Lat: 1.37, Lng: 103.99}
	e2 := models.GeofenceEvent{IsExit: false, Ts: 61000, Lat: 1.36, Lng: 103.99, DurationMs: 60000}

	require.NoError(t, dm.UpdateGeofenceReport(ctx, "2026-08-29", "t1", e1))
	require.NoError(t, dm.UpdateGeofenceReport(ctx, "2026-08-29", "t1", e2))

	report, err := dm.GetGeofenceReport(ctx, "2026-08-29", "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalOutsideCount)
	assert.Equal(t, int64(60000), report.TotalOutsideDurationMs)
	require.Len(t, report.Events, 2)
	assert.True(t, report.Events[0].IsExit)
	assert.False(t, report.Events[1].IsExit)
}

func TestGeofenceReportScopedPerKey(t *testing.T) {
	ctx := context.Background()
	dm, _ := newModel()

	exit := models.GeofenceEvent{IsExit: true, Ts: 1}
	require.NoError(t, dm.UpdateGeofenceReport(ctx, "2026-08-29", "t1", exit))
	require.NoError(t, dm.UpdateGeofenceReport(ctx, "2026-08-30", "t1", exit))
	require.NoError(t, dm.UpdateGeofenceReport(ctx, "2026-08-29", "t2", exit))

	report, err := dm.GetGeofenceReport(ctx, "2026-08-29", "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalOutsideCount)
}

// racingClient holds every reader at a barrier until all expected readers
// have observed the same base state, forcing the read-modify-write
// interleaving that loses an update.
type racingClient struct {
	*rtdb.MemoryClient
	barrier *sync.WaitGroup
}

func (c *racingClient) Get(ctx context.Context, path string, dest any) error {
	err := c.MemoryClient.Get(ctx, path, dest)
	c.barrier.Done()
	c.barrier.Wait()
	return err
}

func TestGeofenceReportConcurrentUpdateLastWriterWins(t *testing.T) {
	// Characterizes, not fixes, the documented race: two updates for the
	// same (date, trackerId) reading the same base state — the last write
	// replaces the whole record and the other update is lost.
	ctx := context.Background()
	var barrier sync.WaitGroup
	barrier.Add(2)
	client := &racingClient{MemoryClient: rtdb.NewMemoryClient(), barrier: &barrier}
	dm := NewDataModel(client)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := dm.UpdateGeofenceReport(ctx, "2026-08-29", "t1", models.GeofenceEvent{IsExit: true, Ts: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	report, err := NewDataModel(client.MemoryClient).GetGeofenceReport(ctx, "2026-08-29", "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.TotalOutsideCount, "one of the two updates is lost")
	assert.Len(t, report.Events, 1)
}

func TestWatchActiveAlertsDeliveries(t *testing.T) {
	ctx := context.Background()
	dm, _ := newModel()

	deliveries := make(chan map[string]models.Alert, 16)
	cancel, err := dm.WatchActiveAlerts(ctx, func(active map[string]models.Alert) {
		deliveries <- active
	})
	require.NoError(t, err)
	defer cancel()

	assert.Empty(t, <-deliveries)

	id, err := dm.CreateAlert(ctx, models.Alert{Type: models.AlertInitial, TrackerID: "t1"})
	require.NoError(t, err)
	active := <-deliveries
	require.Len(t, active, 1)

	require.NoError(t, dm.ResolveAlert(ctx, id))
	for len(active) != 0 {
		active = <-deliveries
	}
}
