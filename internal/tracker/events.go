package tracker

import (
	"encoding/json"
	"time"

	"github.com/TehMM/bailiikc-fetcher/internal/database"
)

// emitEvent appends a structured diagnostic row to the events table. Events
// are diagnostic only; persistence failures are logged and swallowed so they
// can never break a state transition.
func (t *Tracker) emitEvent(eventType string, runID, caseID *uint, payload map[string]interface{}) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		t.logger.Error("Failed to encode event payload", "event_type", eventType, "error", err)
		return
	}

	event := database.Event{
		RunID:       runID,
		CaseID:      caseID,
		EventType:   eventType,
		PayloadJSON: string(payloadJSON),
		CreatedAt:   time.Now().UTC(),
	}
	if err := t.db.Create(&event).Error; err != nil {
		t.logger.Error("Failed to persist event", "event_type", eventType, "error", err)
	}
}
