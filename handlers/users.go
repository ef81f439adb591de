package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"fieldtrack/db"
	"fieldtrack/models"
)

// UserHandler manages the registered user records.
type UserHandler struct {
	db *db.DataModel
}

func NewUserHandler(dataModel *db.DataModel) *UserHandler {
	return &UserHandler{
		db: dataModel,
	}
}

type CreateUserRequest struct {
	UID     string          `json:"uid"`
	Name    string          `json:"name"`
	Phone   string          `json:"phone"`
	Company string          `json:"company,omitempty"`
	Role    models.UserRole `json:"role,omitempty"`
}

// Create registers a user. Role defaults to worker; session and tracker
// references start empty.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UID == "" || req.Name == "" || req.Phone == "" {
		writeError(w, "uid, name and phone are required", http.StatusBadRequest)
		return
	}

	user := models.User{
		Name:    req.Name,
		Phone:   req.Phone,
		Company: req.Company,
		Role:    req.Role,
	}
	if err := h.db.CreateUser(r.Context(), req.UID, user); err != nil {
		log.Printf("❌ Failed to create user %s: %v", req.UID, err)
		writeError(w, "Failed to create user", statusFor(err))
		return
	}

	log.Printf("👤 User %s registered", req.UID)
	writeJSON(w, http.StatusCreated, map[string]string{"uid": req.UID})
}

// Get returns one user by id.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uid := r.URL.Query().Get("uid")
	if uid == "" {
		writeError(w, "uid is required", http.StatusBadRequest)
		return
	}

	user, err := h.db.GetUser(r.Context(), uid)
	if err != nil {
		writeError(w, "Failed to retrieve user", statusFor(err))
		return
	}
	if user == nil {
		writeError(w, "User not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// Update merges partial changes into a user record.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uid := r.URL.Query().Get("uid")
	if uid == "" {
		writeError(w, "uid is required", http.StatusBadRequest)
		return
	}

	var updates map[string]any
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(updates) == 0 {
		writeError(w, "No updates provided", http.StatusBadRequest)
		return
	}

	if err := h.db.UpdateUser(r.Context(), uid, updates); err != nil {
		log.Printf("❌ Failed to update user %s: %v", uid, err)
		writeError(w, "Failed to update user", statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
