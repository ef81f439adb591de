package handlers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"fieldtrack/db"
	"fieldtrack/fence"
	"fieldtrack/models"
)

// TrackerHandler manages physical trackers: creation, pairing to users,
// and the fix ingest that feeds the geofence monitor.
type TrackerHandler struct {
	db      *db.DataModel
	monitor *fence.Monitor
	audit   *AuditLogger
}

func NewTrackerHandler(dataModel *db.DataModel, monitor *fence.Monitor, audit *AuditLogger) *TrackerHandler {
	return &TrackerHandler{
		db:      dataModel,
		monitor: monitor,
		audit:   audit,
	}
}

type CreateTrackerResponse struct {
	TrackerID string `json:"tracker_id"`
}

type PairRequest struct {
	TrackerID string `json:"tracker_id"`
	UID       string `json:"uid"`
}

type UnpairRequest struct {
	TrackerID string `json:"tracker_id"`
}

type FixRequest struct {
	TrackerID string   `json:"tracker_id"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Speed     *float64 `json:"speed,omitempty"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
}

// Create registers a fresh tracker with a generated id.
func (h *TrackerHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	trackerID := models.NewTrackerID()
	if err := h.db.CreateTracker(r.Context(), trackerID); err != nil {
		log.Printf("❌ Failed to create tracker: %v", err)
		writeError(w, "Failed to create tracker", statusFor(err))
		return
	}

	log.Printf("📟 Tracker %s created", trackerID)
	writeJSON(w, http.StatusCreated, CreateTrackerResponse{TrackerID: trackerID})
}

// Get returns one tracker by id.
func (h *TrackerHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, "id is required", http.StatusBadRequest)
		return
	}

	tracker, err := h.db.GetTracker(r.Context(), id)
	if err != nil {
		writeError(w, "Failed to retrieve tracker", statusFor(err))
		return
	}
	if tracker == nil {
		writeError(w, "Tracker not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, tracker)
}

// Pair hands a tracker to a user: the tracker carries a denormalized
// snapshot of the user, the user points back at the tracker.
func (h *TrackerHandler) Pair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req PairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TrackerID == "" || req.UID == "" {
		writeError(w, "tracker_id and uid are required", http.StatusBadRequest)
		return
	}

	user, err := h.db.GetUser(r.Context(), req.UID)
	if err != nil {
		writeError(w, "Failed to retrieve user", statusFor(err))
		return
	}
	if user == nil {
		writeError(w, "User not found", http.StatusNotFound)
		return
	}

	err = h.db.PairTrackerToUser(r.Context(), req.TrackerID, models.PairedUser{
		UID:     req.UID,
		Name:    user.Name,
		Company: user.Company,
		Role:    user.Role,
	})
	if err != nil {
		log.Printf("❌ Failed to pair tracker %s to %s: %v", req.TrackerID, req.UID, err)
		writeError(w, "Failed to pair tracker", statusFor(err))
		return
	}

	h.audit.Event("admin", "TRACKER_PAIR", fmt.Sprintf("Tracker %s paired to user %s", req.TrackerID, req.UID))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Unpair clears the pairing on both sides.
func (h *TrackerHandler) Unpair(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req UnpairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TrackerID == "" {
		writeError(w, "tracker_id is required", http.StatusBadRequest)
		return
	}

	if err := h.db.UnpairTracker(r.Context(), req.TrackerID); err != nil {
		log.Printf("❌ Failed to unpair tracker %s: %v", req.TrackerID, err)
		writeError(w, "Failed to unpair tracker", statusFor(err))
		return
	}

	h.audit.Event("admin", "TRACKER_UNPAIR", "Tracker "+req.TrackerID+" unpaired")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Fix ingests a tracker position and runs the geofence evaluation: status
// transition, alert creation, daily report accumulation.
func (h *TrackerHandler) Fix(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req FixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.TrackerID == "" {
		writeError(w, "tracker_id is required", http.StatusBadRequest)
		return
	}

	if err := h.monitor.HandleFix(r.Context(), req.TrackerID, req.Lat, req.Lng, req.Speed, req.Accuracy); err != nil {
		log.Printf("❌ Failed to process fix for %s: %v", req.TrackerID, err)
		writeError(w, "Failed to process fix", statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
