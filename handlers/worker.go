package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"fieldtrack/db"
	"fieldtrack/models"
)

// WorkerHandler is the phone-facing surface: a worker opens the shared
// link, registers name and phone under the session, then posts position
// fixes until they stop. The session id always travels in the `session`
// query parameter — its absence is the invalid-link condition and there is
// no way to proceed without re-acquiring the link.
type WorkerHandler struct {
	db *db.DataModel
}

func NewWorkerHandler(dataModel *db.DataModel) *WorkerHandler {
	return &WorkerHandler{
		db: dataModel,
	}
}

type RegisterRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Role  string `json:"role,omitempty"`
}

type RegisterResponse struct {
	WorkerID  string `json:"worker_id"`
	SessionID string `json:"session_id"`
}

type LocationRequest struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
}

// sessionID resolves the session from the link's query parameter.
func sessionID(r *http.Request) (string, bool) {
	id := r.URL.Query().Get("session")
	return id, id != ""
}

// Register stores the worker's identity under the session and hands back
// the generated worker id the device reports with from then on.
func (h *WorkerHandler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sid, ok := sessionID(r)
	if !ok {
		writeError(w, "Invalid link. Please scan a valid QR code from the kiosk.", http.StatusBadRequest)
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Phone == "" {
		writeError(w, "Please enter both your name and phone number.", http.StatusBadRequest)
		return
	}

	workerID := models.NewWorkerID()
	var role *string
	if req.Role != "" {
		role = &req.Role
	}
	err := h.db.RegisterSessionUser(r.Context(), sid, workerID, models.SessionUser{
		Name:  req.Name,
		Phone: req.Phone,
		Role:  role,
	})
	if err != nil {
		log.Printf("❌ Failed to register worker in session %s: %v", sid, err)
		writeError(w, "Failed to register", statusFor(err))
		return
	}

	log.Printf("📍 Worker %s joined session %s", workerID, sid)
	writeJSON(w, http.StatusCreated, RegisterResponse{WorkerID: workerID, SessionID: sid})
}

// Location overwrites the worker's live-location entry with the latest fix.
func (h *WorkerHandler) Location(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sid, ok := sessionID(r)
	if !ok {
		writeError(w, "Invalid link. Please scan a valid QR code from the kiosk.", http.StatusBadRequest)
		return
	}
	workerID := r.URL.Query().Get("worker")
	if workerID == "" {
		writeError(w, "worker is required", http.StatusBadRequest)
		return
	}

	var req struct {
		LocationRequest
		RegisterRequest
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// The whole entry is replaced on every fix, so identity rides along.
	var role *string
	if req.Role != "" {
		role = &req.Role
	}
	active := true
	loc := models.LiveLocation{
		Name:        req.Name,
		Phone:       req.Phone,
		Role:        role,
		Lat:         &req.Lat,
		Lng:         &req.Lng,
		Accuracy:    req.Accuracy,
		LastUpdated: nowMillis(),
		Active:      &active,
	}
	if err := h.db.SetLiveLocation(r.Context(), sid, workerID, loc); err != nil {
		log.Printf("❌ Failed to store fix for %s in session %s: %v", workerID, sid, err)
		writeError(w, "Failed to store location", statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Stop marks the worker's live-location entry inactive. Best-effort on the
// device side; the dashboard prunes entries that stop appearing either way.
func (h *WorkerHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sid, ok := sessionID(r)
	if !ok {
		writeError(w, "Invalid link. Please scan a valid QR code from the kiosk.", http.StatusBadRequest)
		return
	}
	workerID := r.URL.Query().Get("worker")
	if workerID == "" {
		writeError(w, "worker is required", http.StatusBadRequest)
		return
	}

	if err := h.db.MarkLocationInactive(r.Context(), sid, workerID); err != nil {
		log.Printf("❌ Failed to stop %s in session %s: %v", workerID, sid, err)
		writeError(w, "Failed to stop tracking", statusFor(err))
		return
	}

	log.Printf("🛑 Worker %s stopped reporting in session %s", workerID, sid)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Locations returns the current live-location snapshot for a session.
func (h *WorkerHandler) Locations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sid, ok := sessionID(r)
	if !ok {
		writeError(w, "session is required", http.StatusBadRequest)
		return
	}

	locations, err := h.db.LiveLocations(r.Context(), sid)
	if err != nil {
		log.Printf("❌ Failed to read locations for session %s: %v", sid, err)
		writeError(w, "Failed to retrieve locations", statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, locations)
}
