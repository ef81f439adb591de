package handlers

import (
	"log"
	"net/http"

	"fieldtrack/db"
)

// AlertHandler exposes the out-of-fence alerts to the supervisor console.
type AlertHandler struct {
	db    *db.DataModel
	audit *AuditLogger
}

func NewAlertHandler(dataModel *db.DataModel, audit *AuditLogger) *AlertHandler {
	return &AlertHandler{
		db:    dataModel,
		audit: audit,
	}
}

// Active returns all unresolved alerts.
func (h *AlertHandler) Active(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	alerts, err := h.db.ActiveAlerts(r.Context())
	if err != nil {
		log.Printf("❌ Failed to get active alerts: %v", err)
		writeError(w, "Failed to retrieve alerts", statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, alerts)
}

// Resolve stamps an alert resolved. Resolution is one-way: a second call
// conflicts and the original timestamp is untouched.
func (h *AlertHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, "id is required", http.StatusBadRequest)
		return
	}

	if err := h.db.ResolveAlert(r.Context(), id); err != nil {
		log.Printf("❌ Failed to resolve alert %s: %v", id, err)
		writeError(w, err.Error(), statusFor(err))
		return
	}

	h.audit.Event("supervisor", "ALERT_RESOLVE", "Alert "+id+" resolved")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
