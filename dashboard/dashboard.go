// Package dashboard maintains the admin view of one session: a marker per
// reporting worker, an ordered user list, and a viewport bounding every
// valid point. All state lives in a Session object constructed on
// session-select and torn down on session-change; nothing is module-global.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fieldtrack/db"
	"fieldtrack/models"
	"fieldtrack/rtdb"
)

// Marker is what the map widget renders for one worker.
type Marker struct {
	Lat   float64
	Lng   float64
	Label string
	Popup string
}

// Bounds is the viewport covering all current valid points.
type Bounds struct {
	MinLat, MinLng float64
	MaxLat, MaxLng float64
}

// MapView abstracts the rendering widget. Out of scope here; the real one
// is the web map, tests use a recorder.
type MapView interface {
	SetMarker(id string, m Marker)
	RemoveMarker(id string)
	FitBounds(b Bounds)
}

// UserEntry is one row of the dashboard's user list.
type UserEntry struct {
	ID          string
	Label       string
	Role        string
	LastUpdated int64
}

// Session subscribes to one tracking session's live locations and keeps
// the view reconciled against each snapshot. Markers for workers absent
// from the latest snapshot are pruned — a worker who stopped reporting
// disappears from the map rather than lingering at a stale position.
type Session struct {
	sessionID string
	view      MapView
	cancel    rtdb.CancelFunc

	mu      sync.Mutex
	markers map[string]Marker
	users   []UserEntry
}

// Open detaches nothing (the caller owns any previous Session and must
// Close it), clears the view implicitly by starting from an empty marker
// set, and subscribes to the session's live-location collection.
func Open(ctx context.Context, dm *db.DataModel, sessionID string, view MapView) (*Session, error) {
	s := &Session{
		sessionID: sessionID,
		view:      view,
		markers:   make(map[string]Marker),
	}
	cancel, err := dm.WatchSessionLocations(ctx, sessionID, s.apply)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to session %s: %w", sessionID, err)
	}
	s.cancel = cancel
	return s, nil
}

// SessionID returns the session this dashboard is watching.
func (s *Session) SessionID() string {
	return s.sessionID
}

// Users returns the current user list, most recently updated first.
func (s *Session) Users() []UserEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]UserEntry, len(s.users))
	copy(out, s.users)
	return out
}

// Close detaches the subscription. The view keeps its last rendered state;
// the next Session starts from scratch.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// apply reconciles the view against one snapshot delivery.
func (s *Session) apply(snapshot map[string]models.LiveLocation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		users  []UserEntry
		points []models.LiveLocation
		seen   = make(map[string]bool, len(snapshot))
	)

	for id, loc := range snapshot {
		// Entries without numeric coordinates are skipped, not fatal.
		if loc.Lat == nil || loc.Lng == nil {
			continue
		}
		seen[id] = true
		points = append(points, loc)

		label := loc.Name
		if label == "" {
			label = id
		}
		role := ""
		if loc.Role != nil {
			role = *loc.Role
		}

		marker := Marker{
			Lat:   *loc.Lat,
			Lng:   *loc.Lng,
			Label: label,
			Popup: fmt.Sprintf("<b>%s</b><br>%s<br>%s", label, role, loc.Phone),
		}
		s.markers[id] = marker
		s.view.SetMarker(id, marker)

		users = append(users, UserEntry{
			ID:          id,
			Label:       label,
			Role:        role,
			LastUpdated: loc.LastUpdated,
		})
	}

	// Prune markers the snapshot no longer carries.
	for id := range s.markers {
		if !seen[id] {
			delete(s.markers, id)
			s.view.RemoveMarker(id)
		}
	}

	sort.Slice(users, func(i, j int) bool {
		if users[i].LastUpdated != users[j].LastUpdated {
			return users[i].LastUpdated > users[j].LastUpdated
		}
		return users[i].ID < users[j].ID
	})
	s.users = users

	if len(points) > 0 {
		s.view.FitBounds(boundsOf(points))
	}
}

func boundsOf(points []models.LiveLocation) Bounds {
	b := Bounds{
		MinLat: *points[0].Lat, MaxLat: *points[0].Lat,
		MinLng: *points[0].Lng, MaxLng: *points[0].Lng,
	}
	for _, p := range points[1:] {
		if *p.Lat < b.MinLat {
			b.MinLat = *p.Lat
		}
		if *p.Lat > b.MaxLat {
			b.MaxLat = *p.Lat
		}
		if *p.Lng < b.MinLng {
			b.MinLng = *p.Lng
		}
		if *p.Lng > b.MaxLng {
			b.MaxLng = *p.Lng
		}
	}
	return b
}

// FormatUpdated renders a lastUpdated timestamp for the list view.
func FormatUpdated(ts int64) string {
	if ts == 0 {
		return "—"
	}
	return time.UnixMilli(ts).Format("15:04:05")
}
