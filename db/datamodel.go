// Package db exposes the typed data model over the realtime tree: one
// small set of operations per entity collection (users, trackers, alerts,
// sessions, geofence reports). Paths are the stable contract surface; every
// operation is an independent commit with no cross-path transaction.
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"fieldtrack/models"
	"fieldtrack/rtdb"
)

var (
	// ErrNotFound is returned by point lookups whose path holds no data
	// when the operation needs one to proceed.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyClockedOut rejects a second clock-out; the terminal state
	// of a session is one-way.
	ErrAlreadyClockedOut = errors.New("session already clocked out")

	// ErrAlreadyResolved rejects a second resolution of an alert.
	ErrAlreadyResolved = errors.New("alert already resolved")
)

// DataModel wraps a realtime store client with per-entity operations.
type DataModel struct {
	client rtdb.Client
}

// NewDataModel wraps the given store client.
func NewDataModel(client rtdb.Client) *DataModel {
	return &DataModel{client: client}
}

// Store returns the underlying client, for callers that need a raw
// subscription on one of the documented paths.
func (d *DataModel) Store() rtdb.Client {
	return d.client
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// --- User Operations ---

// CreateUser writes users/{uid} as a full replace, applying the
// registration defaults: empty company, worker role, no active session or
// assigned tracker.
func (d *DataModel) CreateUser(ctx context.Context, uid string, user models.User) error {
	if user.Role == "" {
		user.Role = models.RoleWorker
	}
	if err := d.client.Set(ctx, "users/"+uid, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UpdateUser merges updates into users/{uid}; untouched fields survive.
func (d *DataModel) UpdateUser(ctx context.Context, uid string, updates map[string]any) error {
	if err := d.client.Update(ctx, "users/"+uid, updates); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by id. Returns (nil, nil) when absent.
func (d *DataModel) GetUser(ctx context.Context, uid string) (*models.User, error) {
	var user *models.User
	if err := d.client.Get(ctx, "users/"+uid, &user); err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListenToUser delivers the current user once and again on every change.
func (d *DataModel) ListenToUser(ctx context.Context, uid string, fn func(*models.User)) (rtdb.CancelFunc, error) {
	return d.client.Subscribe(ctx, "users/"+uid, func(data json.RawMessage) {
		var user *models.User
		if err := json.Unmarshal(data, &user); err != nil {
			log.Printf("Warning: failed to parse user %s: %v", uid, err)
			return
		}
		fn(user)
	})
}

// --- Tracker Operations ---

// CreateTracker writes trackers/{trackerId} with the blank-slate defaults:
// no fix yet, offline, assumed inside the fence, unpaired.
func (d *DataModel) CreateTracker(ctx context.Context, trackerID string) error {
	tracker := models.Tracker{
		Status: models.TrackerStatus{InsideFence: true},
	}
	if err := d.client.Set(ctx, "trackers/"+trackerID, tracker); err != nil {
		return fmt.Errorf("failed to create tracker: %w", err)
	}
	return nil
}

// GetTracker retrieves a tracker by id. Returns (nil, nil) when absent.
func (d *DataModel) GetTracker(ctx context.Context, trackerID string) (*models.Tracker, error) {
	var tracker *models.Tracker
	if err := d.client.Get(ctx, "trackers/"+trackerID, &tracker); err != nil {
		return nil, fmt.Errorf("failed to get tracker: %w", err)
	}
	return tracker, nil
}

// UpdateTrackerLocation records a fix. Both the `last` and `status`
// sub-objects are replaced wholesale — status fields the caller does not
// pass do not survive, except online which is forced true. Callers that
// only want to touch individual status fields must use UpdateTrackerStatus
// instead, or they will clobber concurrent writers.
func (d *DataModel) UpdateTrackerLocation(ctx context.Context, trackerID string, lat, lng float64, speed, accuracy *float64, status models.TrackerStatus) error {
	ts := nowMillis()
	status.Online = true
	last := models.TrackerFix{
		Lat:      &lat,
		Lng:      &lng,
		Ts:       &ts,
		Speed:    speed,
		Accuracy: accuracy,
	}
	err := d.client.Update(ctx, "trackers/"+trackerID, map[string]any{
		"last":   last,
		"status": status,
	})
	if err != nil {
		return fmt.Errorf("failed to update tracker location: %w", err)
	}
	return nil
}

// UpdateTrackerStatus merges updates into trackers/{trackerId}/status only;
// sibling status fields are preserved.
func (d *DataModel) UpdateTrackerStatus(ctx context.Context, trackerID string, updates map[string]any) error {
	if err := d.client.Update(ctx, "trackers/"+trackerID+"/status", updates); err != nil {
		return fmt.Errorf("failed to update tracker status: %w", err)
	}
	return nil
}

// PairTrackerToUser snapshots the user's identity under pairedTo and points
// the user's assignedTrackerId back at the tracker. The two writes are
// independent commits; the cross-reference is an application-level
// invariant, not a transaction.
func (d *DataModel) PairTrackerToUser(ctx context.Context, trackerID string, user models.PairedUser) error {
	if err := d.client.Set(ctx, "trackers/"+trackerID+"/pairedTo", user); err != nil {
		return fmt.Errorf("failed to pair tracker: %w", err)
	}
	if err := d.UpdateUser(ctx, user.UID, map[string]any{"assignedTrackerId": trackerID}); err != nil {
		return fmt.Errorf("failed to assign tracker to user: %w", err)
	}
	return nil
}

// UnpairTracker clears pairedTo and the paired user's back-reference.
func (d *DataModel) UnpairTracker(ctx context.Context, trackerID string) error {
	tracker, err := d.GetTracker(ctx, trackerID)
	if err != nil {
		return err
	}
	if tracker == nil {
		return fmt.Errorf("tracker %s: %w", trackerID, ErrNotFound)
	}
	if tracker.PairedTo != nil {
		if err := d.UpdateUser(ctx, tracker.PairedTo.UID, map[string]any{"assignedTrackerId": nil}); err != nil {
			return fmt.Errorf("failed to clear tracker assignment: %w", err)
		}
	}
	if err := d.client.Delete(ctx, "trackers/"+trackerID+"/pairedTo"); err != nil {
		return fmt.Errorf("failed to unpair tracker: %w", err)
	}
	return nil
}

// ListenToTracker delivers the tracker once and again on every change.
func (d *DataModel) ListenToTracker(ctx context.Context, trackerID string, fn func(*models.Tracker)) (rtdb.CancelFunc, error) {
	return d.client.Subscribe(ctx, "trackers/"+trackerID, func(data json.RawMessage) {
		var tracker *models.Tracker
		if err := json.Unmarshal(data, &tracker); err != nil {
			log.Printf("Warning: failed to parse tracker %s: %v", trackerID, err)
			return
		}
		fn(tracker)
	})
}

// WatchAllTrackers subscribes to the whole tracker collection.
func (d *DataModel) WatchAllTrackers(ctx context.Context, fn func(map[string]models.Tracker)) (rtdb.CancelFunc, error) {
	return d.client.Subscribe(ctx, "trackers", func(data json.RawMessage) {
		trackers := make(map[string]models.Tracker)
		if err := json.Unmarshal(data, &trackers); err != nil {
			log.Printf("Warning: failed to parse tracker collection: %v", err)
			return
		}
		fn(trackers)
	})
}

// --- Alert Operations ---

// CreateAlert appends the alert under a store-generated key and returns the
// key. Alerts are created unresolved regardless of the input.
func (d *DataModel) CreateAlert(ctx context.Context, alert models.Alert) (string, error) {
	alert.ResolvedTs = nil
	key, err := d.client.Push(ctx, "alerts", alert)
	if err != nil {
		return "", fmt.Errorf("failed to create alert: %w", err)
	}
	return key, nil
}

// GetAlert retrieves an alert by id. Returns (nil, nil) when absent.
func (d *DataModel) GetAlert(ctx context.Context, alertID string) (*models.Alert, error) {
	var alert *models.Alert
	if err := d.client.Get(ctx, "alerts/"+alertID, &alert); err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return alert, nil
}

// ResolveAlert stamps resolvedTs exactly once. A second resolution returns
// ErrAlreadyResolved and leaves the original timestamp untouched.
func (d *DataModel) ResolveAlert(ctx context.Context, alertID string) error {
	alert, err := d.GetAlert(ctx, alertID)
	if err != nil {
		return err
	}
	if alert == nil {
		return fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
	}
	if alert.ResolvedTs != nil {
		return fmt.Errorf("alert %s: %w", alertID, ErrAlreadyResolved)
	}
	err = d.client.Update(ctx, "alerts/"+alertID, map[string]any{"resolvedTs": nowMillis()})
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	return nil
}

// ActiveAlerts reads all alerts without a resolvedTs.
func (d *DataModel) ActiveAlerts(ctx context.Context) (map[string]models.Alert, error) {
	all := make(map[string]models.Alert)
	if err := d.client.Get(ctx, "alerts", &all); err != nil {
		return nil, fmt.Errorf("failed to get alerts: %w", err)
	}
	return filterActive(all), nil
}

// WatchActiveAlerts delivers the unresolved alerts once and again on every
// change to the alert collection.
func (d *DataModel) WatchActiveAlerts(ctx context.Context, fn func(map[string]models.Alert)) (rtdb.CancelFunc, error) {
	return d.client.Subscribe(ctx, "alerts", func(data json.RawMessage) {
		all := make(map[string]models.Alert)
		if err := json.Unmarshal(data, &all); err != nil {
			log.Printf("Warning: failed to parse alert collection: %v", err)
			return
		}
		fn(filterActive(all))
	})
}

func filterActive(all map[string]models.Alert) map[string]models.Alert {
	active := make(map[string]models.Alert)
	for id, alert := range all {
		if alert.ResolvedTs == nil {
			active[id] = alert
		}
	}
	return active
}

// --- Session Operations ---

// CreateSession appends a session under a store-generated key. ClockInTs
// defaults to the current time when unset; clock-out fields start null.
func (d *DataModel) CreateSession(ctx context.Context, session models.Session) (string, error) {
	if session.ClockInTs == 0 {
		session.ClockInTs = nowMillis()
	}
	session.ClockOutTs = nil
	session.ClockOutLat = nil
	session.ClockOutLng = nil
	key, err := d.client.Push(ctx, "sessions", session)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return key, nil
}

// GetSession retrieves a session by id. Returns (nil, nil) when absent.
func (d *DataModel) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var session *models.Session
	if err := d.client.Get(ctx, "sessions/"+sessionID, &session); err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// ClockOutSession stamps the clock-out fields exactly once. A second
// clock-out returns ErrAlreadyClockedOut and does not move the original
// timestamp.
func (d *DataModel) ClockOutSession(ctx context.Context, sessionID string, lat, lng float64) error {
	session, err := d.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if session.ClockOutTs != nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrAlreadyClockedOut)
	}
	err = d.client.Update(ctx, "sessions/"+sessionID, map[string]any{
		"clockOutTs":  nowMillis(),
		"clockOutLat": lat,
		"clockOutLng": lng,
	})
	if err != nil {
		return fmt.Errorf("failed to clock out session: %w", err)
	}
	return nil
}

// UserSessions retrieves all sessions belonging to a user.
func (d *DataModel) UserSessions(ctx context.Context, uid string) (map[string]models.Session, error) {
	sessions := make(map[string]models.Session)
	if err := d.client.QueryEqual(ctx, "sessions", "uid", uid, &sessions); err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	return sessions, nil
}

// RegisterSessionUser records a worker's identity under the session before
// tracking starts.
func (d *DataModel) RegisterSessionUser(ctx context.Context, sessionID, userID string, user models.SessionUser) error {
	if user.CreatedAt == 0 {
		user.CreatedAt = nowMillis()
	}
	path := fmt.Sprintf("sessions/%s/users/%s", sessionID, userID)
	if err := d.client.Set(ctx, path, user); err != nil {
		return fmt.Errorf("failed to register session user: %w", err)
	}
	return nil
}

// SetLiveLocation overwrites the worker's live-location entry wholesale.
// Entries are ephemeral: no history, no retention once tracking stops.
func (d *DataModel) SetLiveLocation(ctx context.Context, sessionID, userID string, loc models.LiveLocation) error {
	path := fmt.Sprintf("sessions/%s/locations/%s", sessionID, userID)
	if err := d.client.Set(ctx, path, loc); err != nil {
		return fmt.Errorf("failed to set live location: %w", err)
	}
	return nil
}

// MarkLocationInactive flags the worker's entry inactive without touching
// the rest of it. Best-effort on the worker side: the client may depart
// before the write commits.
func (d *DataModel) MarkLocationInactive(ctx context.Context, sessionID, userID string) error {
	path := fmt.Sprintf("sessions/%s/locations/%s", sessionID, userID)
	if err := d.client.Update(ctx, path, map[string]any{"active": false}); err != nil {
		return fmt.Errorf("failed to mark location inactive: %w", err)
	}
	return nil
}

// LiveLocations reads the current live-location snapshot for a session.
// Entries that fail to parse are skipped, not fatal.
func (d *DataModel) LiveLocations(ctx context.Context, sessionID string) (map[string]models.LiveLocation, error) {
	raw := make(map[string]json.RawMessage)
	if err := d.client.Get(ctx, "sessions/"+sessionID+"/locations", &raw); err != nil {
		return nil, fmt.Errorf("failed to get live locations: %w", err)
	}
	return decodeLocations(raw), nil
}

// WatchSessionLocations subscribes to a session's live-location collection.
// Each delivery carries the full current snapshot; malformed entries are
// skipped silently so one bad write cannot break the whole feed.
func (d *DataModel) WatchSessionLocations(ctx context.Context, sessionID string, fn func(map[string]models.LiveLocation)) (rtdb.CancelFunc, error) {
	return d.client.Subscribe(ctx, "sessions/"+sessionID+"/locations", func(data json.RawMessage) {
		raw := make(map[string]json.RawMessage)
		if err := json.Unmarshal(data, &raw); err != nil {
			fn(map[string]models.LiveLocation{})
			return
		}
		fn(decodeLocations(raw))
	})
}

func decodeLocations(raw map[string]json.RawMessage) map[string]models.LiveLocation {
	locations := make(map[string]models.LiveLocation, len(raw))
	for id, entry := range raw {
		var loc models.LiveLocation
		if err := json.Unmarshal(entry, &loc); err != nil {
			continue
		}
		locations[id] = loc
	}
	return locations
}

// --- Report Operations ---

// UpdateGeofenceReport folds one fence event into the daily accumulator for
// (date, trackerId): read current totals (zeros when absent), add the
// event's contribution, append it to the event log, write the whole record
// back. The read-modify-write is not atomic — two concurrent updates for
// the same key race and the last writer wins on the full record. Accepted
// as-is; a backend-native transaction would be the upgrade path.
func (d *DataModel) UpdateGeofenceReport(ctx context.Context, date, trackerID string, event models.GeofenceEvent) error {
	path := fmt.Sprintf("reports/geofenceDaily/%s/%s", date, trackerID)

	var current models.GeofenceDailyReport
	if err := d.client.Get(ctx, path, &current); err != nil {
		return fmt.Errorf("failed to read geofence report: %w", err)
	}

	updated := models.GeofenceDailyReport{
		TotalOutsideCount:      current.TotalOutsideCount,
		TotalOutsideDurationMs: current.TotalOutsideDurationMs + event.DurationMs,
		Events:                 append(current.Events, event),
	}
	if event.IsExit {
		updated.TotalOutsideCount++
	}

	if err := d.client.Set(ctx, path, updated); err != nil {
		return fmt.Errorf("failed to write geofence report: %w", err)
	}
	return nil
}

// GetGeofenceReport reads the daily accumulator, returning zeros when no
// events were recorded.
func (d *DataModel) GetGeofenceReport(ctx context.Context, date, trackerID string) (models.GeofenceDailyReport, error) {
	path := fmt.Sprintf("reports/geofenceDaily/%s/%s", date, trackerID)
	var report models.GeofenceDailyReport
	if err := d.client.Get(ctx, path, &report); err != nil {
		return report, fmt.Errorf("failed to get geofence report: %w", err)
	}
	return report, nil
}

// --- Audit Operations ---

// RecordAudit appends an administrative action to the audit trail.
func (d *DataModel) RecordAudit(ctx context.Context, rec models.AuditRecord) error {
	if rec.Ts == 0 {
		rec.Ts = nowMillis()
	}
	if _, err := d.client.Push(ctx, "audit", rec); err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}
