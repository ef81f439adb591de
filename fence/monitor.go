// Package fence evaluates tracker fixes against the geofence and drives
// the alert lifecycle: INITIAL on leaving the fence, CONFIRMED once the
// excursion outlasts the confirmation delay, and a daily report event for
// every exit and re-entry.
package fence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fieldtrack/db"
	"fieldtrack/geo"
	"fieldtrack/models"
)

// DefaultConfirmDelay is how long a tracker must stay outside before the
// INITIAL alert is escalated to CONFIRMED.
const DefaultConfirmDelay = 5 * time.Minute

// Monitor holds the fence polygon and the per-excursion escalation state.
// The escalation flag is process-local: running two monitors against the
// same tree can double-fire CONFIRMED alerts, the same way every other
// concurrent writer races in this system.
type Monitor struct {
	dm           *db.DataModel
	polygon      []geo.LatLng
	confirmDelay time.Duration
	now          func() time.Time

	mu        sync.Mutex
	confirmed map[string]bool
}

// NewMonitor builds a monitor. An empty polygon falls back to
// geo.DefaultFence; a non-positive delay falls back to DefaultConfirmDelay.
func NewMonitor(dm *db.DataModel, polygon []geo.LatLng, confirmDelay time.Duration) *Monitor {
	if confirmDelay <= 0 {
		confirmDelay = DefaultConfirmDelay
	}
	return &Monitor{
		dm:           dm,
		polygon:      polygon,
		confirmDelay: confirmDelay,
		now:          time.Now,
		confirmed:    make(map[string]bool),
	}
}

// HandleFix records one fix for a tracker: updates the tracker's last
// position and status wholesale, then applies the fence transition the fix
// implies. The tracker must exist.
func (m *Monitor) HandleFix(ctx context.Context, trackerID string, lat, lng float64, speed, accuracy *float64) error {
	inside, err := geo.IsInsideGeofence(lat, lng, m.polygon)
	if err != nil {
		return fmt.Errorf("fence check failed: %w", err)
	}

	tracker, err := m.dm.GetTracker(ctx, trackerID)
	if err != nil {
		return err
	}
	if tracker == nil {
		return fmt.Errorf("tracker %s: %w", trackerID, db.ErrNotFound)
	}

	prev := tracker.Status
	ts := m.now().UnixMilli()
	date := models.DateString(m.now())

	status := models.TrackerStatus{
		InsideFence:  inside,
		OutsideSince: prev.OutsideSince,
		OutsideCount: prev.OutsideCount,
	}

	switch {
	case !inside && prev.InsideFence:
		// Left the fence.
		status.OutsideSince = &ts
		status.OutsideCount = prev.OutsideCount + 1
	case inside && !prev.InsideFence:
		// Came back.
		status.OutsideSince = nil
	}

	if err := m.dm.UpdateTrackerLocation(ctx, trackerID, lat, lng, speed, accuracy, status); err != nil {
		return err
	}

	switch {
	case !inside && prev.InsideFence:
		return m.onExit(ctx, trackerID, tracker, lat, lng, ts, date)
	case inside && !prev.InsideFence:
		return m.onReturn(ctx, trackerID, prev, lat, lng, ts, date)
	case !inside:
		return m.maybeConfirm(ctx, trackerID, tracker, lat, lng, ts)
	default:
		return nil
	}
}

func (m *Monitor) onExit(ctx context.Context, trackerID string, tracker *models.Tracker, lat, lng float64, ts int64, date string) error {
	m.mu.Lock()
	delete(m.confirmed, trackerID)
	m.mu.Unlock()

	alert := alertFor(tracker, trackerID, models.AlertInitial, ts, lat, lng)
	if _, err := m.dm.CreateAlert(ctx, alert); err != nil {
		return err
	}

	return m.dm.UpdateGeofenceReport(ctx, date, trackerID, models.GeofenceEvent{
		IsExit: true,
		Ts:     ts,
		Lat:    lat,
		Lng:    lng,
	})
}

func (m *Monitor) onReturn(ctx context.Context, trackerID string, prev models.TrackerStatus, lat, lng float64, ts int64, date string) error {
	m.mu.Lock()
	delete(m.confirmed, trackerID)
	m.mu.Unlock()

	var duration int64
	if prev.OutsideSince != nil {
		duration = ts - *prev.OutsideSince
	}
	return m.dm.UpdateGeofenceReport(ctx, date, trackerID, models.GeofenceEvent{
		IsExit:     false,
		Ts:         ts,
		Lat:        lat,
		Lng:        lng,
		DurationMs: duration,
	})
}

func (m *Monitor) maybeConfirm(ctx context.Context, trackerID string, tracker *models.Tracker, lat, lng float64, ts int64) error {
	since := tracker.Status.OutsideSince
	if since == nil || ts-*since < m.confirmDelay.Milliseconds() {
		return nil
	}

	m.mu.Lock()
	already := m.confirmed[trackerID]
	m.confirmed[trackerID] = true
	m.mu.Unlock()
	if already {
		return nil
	}

	alert := alertFor(tracker, trackerID, models.AlertConfirmed, *since, lat, lng)
	alert.ConfirmedTs = &ts
	if _, err := m.dm.CreateAlert(ctx, alert); err != nil {
		m.mu.Lock()
		delete(m.confirmed, trackerID)
		m.mu.Unlock()
		return err
	}
	return nil
}

// alertFor snapshots the paired user's identity into the alert. Unpaired
// trackers alert with blank identity fields rather than not at all.
func alertFor(tracker *models.Tracker, trackerID string, typ models.AlertType, leftTs int64, lat, lng float64) models.Alert {
	alert := models.Alert{
		Type:        typ,
		TrackerID:   trackerID,
		LeftFenceTs: leftTs,
		LastLat:     lat,
		LastLng:     lng,
	}
	if tracker.PairedTo != nil {
		alert.UID = tracker.PairedTo.UID
		alert.Name = tracker.PairedTo.Name
		alert.Company = tracker.PairedTo.Company
		alert.Role = tracker.PairedTo.Role
	}
	return alert
}
