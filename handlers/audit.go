package handlers

import (
	"context"
	"log"
	"time"

	"fieldtrack/db"
	"fieldtrack/models"
)

// AuditLogger appends administrative actions to the store's audit trail.
// Failures only log; an audit miss must never fail the action itself.
type AuditLogger struct {
	db *db.DataModel
}

func NewAuditLogger(dataModel *db.DataModel) *AuditLogger {
	return &AuditLogger{db: dataModel}
}

func (a *AuditLogger) Event(actor, action, details string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.db.RecordAudit(ctx, models.AuditRecord{
		Actor:   actor,
		Action:  action,
		Details: details,
	})
	if err != nil {
		log.Printf("⚠️  Audit write failed for %s/%s: %v", actor, action, err)
	}
	log.Printf("AUDIT: '%s' performed '%s' - %s", actor, action, details)
}
