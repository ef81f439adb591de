// models.go
// Defines the core data structures shared by the tracking API, the worker
// client library and the dashboard. Field names are the wire contract with
// the Realtime Database tree, so all timestamps are epoch milliseconds.

package models

import (
	"math/rand"
	"strconv"
	"time"
)

// UserRole defines the function of a registered user.
type UserRole string

const (
	RoleWorker     UserRole = "worker"
	RoleSupervisor UserRole = "supervisor"
	RoleAdmin      UserRole = "admin"
)

// AlertType distinguishes the first out-of-fence detection from the
// follow-up confirmation.
type AlertType string

const (
	AlertInitial   AlertType = "INITIAL"
	AlertConfirmed AlertType = "CONFIRMED"
)

// User lives at users/{uid}. Users are never structurally deleted; admins
// clear references instead.
type User struct {
	Name              string   `json:"name"`
	Phone             string   `json:"phone"`
	Company           string   `json:"company"`
	Role              UserRole `json:"role"`
	ActiveSessionID   *string  `json:"activeSessionId"`
	AssignedTrackerID *string  `json:"assignedTrackerId"`
}

// TrackerFix is the last-known position of a tracker. All fields are null
// until the first fix arrives.
type TrackerFix struct {
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
	Ts       *int64   `json:"ts"`
	Speed    *float64 `json:"speed"`
	Accuracy *float64 `json:"accuracy"`
}

// TrackerStatus is maintained by the geofence monitor.
type TrackerStatus struct {
	Online       bool   `json:"online"`
	InsideFence  bool   `json:"insideFence"`
	OutsideSince *int64 `json:"outsideSinceTs"`
	OutsideCount int    `json:"outsideCount"`
}

// PairedUser is a denormalized snapshot of the user a tracker is handed to.
// It must mirror a User whose AssignedTrackerID points back at this tracker.
type PairedUser struct {
	UID     string   `json:"uid"`
	Name    string   `json:"name"`
	Company string   `json:"company"`
	Role    UserRole `json:"role"`
}

// Tracker lives at trackers/{trackerId}.
type Tracker struct {
	Last     TrackerFix    `json:"last"`
	Status   TrackerStatus `json:"status"`
	PairedTo *PairedUser   `json:"pairedTo"`
}

// Alert lives at alerts/{alertId} under a store-generated key. Identity
// fields are written once at creation; only ConfirmedTs and ResolvedTs may
// change afterwards, and ResolvedTs is set exactly once.
type Alert struct {
	Type        AlertType `json:"type"`
	TrackerID   string    `json:"trackerId"`
	UID         string    `json:"uid"`
	Name        string    `json:"name"`
	Company     string    `json:"company"`
	Role        UserRole  `json:"role"`
	LeftFenceTs int64     `json:"leftFenceTs"`
	ConfirmedTs *int64    `json:"confirmedTs"`
	LastLat     float64   `json:"lastLat"`
	LastLng     float64   `json:"lastLng"`
	ResolvedTs  *int64    `json:"resolvedTs"`
}

// Session lives at sessions/{sessionId} under a store-generated key.
// Clock-out fields are set exactly once; a clocked-out session is terminal.
type Session struct {
	UID         string   `json:"uid"`
	ClockInTs   int64    `json:"clockInTs"`
	ClockOutTs  *int64   `json:"clockOutTs"`
	ClockInLat  float64  `json:"clockInLat"`
	ClockInLng  float64  `json:"clockInLng"`
	ClockOutLat *float64 `json:"clockOutLat"`
	ClockOutLng *float64 `json:"clockOutLng"`
	Remarks     string   `json:"remarks"`
	CreatedBy   *string  `json:"createdBy"`
}

// SessionUser is the identity a worker registers under
// sessions/{sessionId}/users/{userId} before tracking starts.
type SessionUser struct {
	Name      string  `json:"name"`
	Phone     string  `json:"phone"`
	Role      *string `json:"role"`
	CreatedAt int64   `json:"createdAt"`
}

// LiveLocation lives at sessions/{sessionId}/locations/{userId}. It is
// overwritten wholesale on every fix and carries no history. Lat and Lng
// are pointers so renderers can skip entries whose coordinates never
// arrived instead of drawing them at the origin.
type LiveLocation struct {
	Name        string   `json:"name"`
	Phone       string   `json:"phone"`
	Role        *string  `json:"role"`
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	Accuracy    float64  `json:"accuracy"`
	LastUpdated int64    `json:"lastUpdated"`
	Active      *bool    `json:"active,omitempty"`
}

// GeofenceEvent is one fence crossing recorded in a daily report. Exit
// events carry isExit=true; re-entry events carry the excursion duration.
type GeofenceEvent struct {
	IsExit     bool    `json:"isExit"`
	Ts         int64   `json:"ts"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	DurationMs int64   `json:"durationMs,omitempty"`
}

// GeofenceDailyReport lives at reports/geofenceDaily/{date}/{trackerId}.
// It is a read-modify-write accumulator; see db.UpdateGeofenceReport for
// the concurrency caveat.
type GeofenceDailyReport struct {
	TotalOutsideCount      int             `json:"totalOutsideCount"`
	TotalOutsideDurationMs int64           `json:"totalOutsideDurationMs"`
	Events                 []GeofenceEvent `json:"events"`
}

// AuditRecord is an append-only trail of administrative actions.
type AuditRecord struct {
	Ts      int64  `json:"ts"`
	Actor   string `json:"actor"`
	Action  string `json:"action"`
	Details string `json:"details"`
}

const trackerIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewTrackerID returns "tracker_" plus a random base-36 suffix. Not
// guaranteed globally unique; collision handling is out of scope.
func NewTrackerID() string {
	b := make([]byte, 8)
	for i := range b {
		b[i] = trackerIDAlphabet[rand.Intn(len(trackerIDAlphabet))]
	}
	return "tracker_" + string(b)
}

// NewWorkerID returns "user-" plus the current epoch milliseconds in
// base 36, matching the id format the web client generates.
func NewWorkerID() string {
	return "user-" + strconv.FormatInt(time.Now().UnixMilli(), 36)
}

// DateString formats a timestamp as the YYYY-MM-DD key used by the daily
// geofence reports.
func DateString(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
