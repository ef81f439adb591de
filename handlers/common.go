package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"fieldtrack/db"
)

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps data-model failures to HTTP statuses: missing entities
// are 404, one-way state violations are 409, everything else is a store
// failure surfaced as 500 with no retry.
func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, db.ErrAlreadyClockedOut), errors.Is(err, db.ErrAlreadyResolved):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
