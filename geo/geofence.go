// Package geo implements the point-in-polygon geofence check used by the
// tracking backend. The check is a plain ray cast; it is an approximation
// and the monitor treats it as advisory, not authoritative.
package geo

import "errors"

// ErrInvalidPolygon is returned for fences with fewer than three vertices.
var ErrInvalidPolygon = errors.New("geofence polygon needs at least 3 vertices")

// LatLng is a polygon vertex.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DefaultFence is the demo geofence around the Changi Airport area.
var DefaultFence = []LatLng{
	{Lat: 1.3644, Lng: 103.9915},
	{Lat: 1.3644, Lng: 103.9955},
	{Lat: 1.3684, Lng: 103.9955},
	{Lat: 1.3684, Lng: 103.9915},
}

// PointInPolygon reports whether (lat, lng) lies inside the polygon using
// ray casting. The polygon is implicitly closed (last vertex connects back
// to the first). Behavior exactly on a vertex or edge is not specified,
// but is deterministic for a given input.
func PointInPolygon(lat, lng float64, polygon []LatLng) (bool, error) {
	if len(polygon) < 3 {
		return false, ErrInvalidPolygon
	}

	inside := false
	for i, j := 0, len(polygon)-1; i < len(polygon); j, i = i, i+1 {
		xi, yi := polygon[i].Lng, polygon[i].Lat
		xj, yj := polygon[j].Lng, polygon[j].Lat

		if (yi > lat) != (yj > lat) &&
			lng < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside, nil
}

// IsInsideGeofence checks a point against polygon, falling back to
// DefaultFence when polygon is empty. A non-empty but degenerate polygon
// still fails with ErrInvalidPolygon rather than silently misclassifying.
func IsInsideGeofence(lat, lng float64, polygon []LatLng) (bool, error) {
	if len(polygon) == 0 {
		polygon = DefaultFence
	}
	return PointInPolygon(lat, lng, polygon)
}
