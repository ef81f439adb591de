package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"fieldtrack/db"
	"fieldtrack/models"
)

// SessionHandler covers the clock-in/clock-out lifecycle managed from the
// kiosk or the supervisor console.
type SessionHandler struct {
	db    *db.DataModel
	audit *AuditLogger
}

func NewSessionHandler(dataModel *db.DataModel, audit *AuditLogger) *SessionHandler {
	return &SessionHandler{
		db:    dataModel,
		audit: audit,
	}
}

type CreateSessionRequest struct {
	UID        string  `json:"uid"`
	ClockInLat float64 `json:"clock_in_lat"`
	ClockInLng float64 `json:"clock_in_lng"`
	Remarks    string  `json:"remarks,omitempty"`
	CreatedBy  string  `json:"created_by,omitempty"`
}

type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

type ClockOutRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Create clocks a user in and opens a new session.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UID == "" {
		writeError(w, "uid is required", http.StatusBadRequest)
		return
	}

	session := models.Session{
		UID:        req.UID,
		ClockInLat: req.ClockInLat,
		ClockInLng: req.ClockInLng,
		Remarks:    req.Remarks,
	}
	if req.CreatedBy != "" {
		session.CreatedBy = &req.CreatedBy
	}

	sessionID, err := h.db.CreateSession(r.Context(), session)
	if err != nil {
		log.Printf("❌ Failed to create session for %s: %v", req.UID, err)
		writeError(w, "Failed to create session", statusFor(err))
		return
	}

	// Point the user at their open session.
	if err := h.db.UpdateUser(r.Context(), req.UID, map[string]any{"activeSessionId": sessionID}); err != nil {
		log.Printf("⚠️  Session %s created but user %s not updated: %v", sessionID, req.UID, err)
	}

	log.Printf("🕐 Session %s opened for %s", sessionID, req.UID)
	writeJSON(w, http.StatusCreated, CreateSessionResponse{SessionID: sessionID})
}

// Get returns one session by id.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, "id is required", http.StatusBadRequest)
		return
	}

	session, err := h.db.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, "Failed to retrieve session", statusFor(err))
		return
	}
	if session == nil {
		writeError(w, "Session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// ClockOut stamps the session's terminal state exactly once; a repeat
// clock-out is rejected with a conflict and the original stamp stands.
func (h *SessionHandler) ClockOut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, "id is required", http.StatusBadRequest)
		return
	}

	var req ClockOutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.db.ClockOutSession(r.Context(), id, req.Lat, req.Lng); err != nil {
		log.Printf("❌ Failed to clock out session %s: %v", id, err)
		writeError(w, err.Error(), statusFor(err))
		return
	}

	// Clear the user's active-session pointer.
	if session, err := h.db.GetSession(r.Context(), id); err == nil && session != nil {
		if err := h.db.UpdateUser(r.Context(), session.UID, map[string]any{"activeSessionId": nil}); err != nil {
			log.Printf("⚠️  Session %s clocked out but user %s not updated: %v", id, session.UID, err)
		}
	}

	h.audit.Event("kiosk", "SESSION_CLOCK_OUT", "Session "+id+" clocked out")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ByUser lists all sessions belonging to a user.
func (h *SessionHandler) ByUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uid := r.URL.Query().Get("uid")
	if uid == "" {
		writeError(w, "uid is required", http.StatusBadRequest)
		return
	}

	sessions, err := h.db.UserSessions(r.Context(), uid)
	if err != nil {
		log.Printf("❌ Failed to query sessions for %s: %v", uid, err)
		writeError(w, "Failed to retrieve sessions", statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, sessions)
}
