package model

import (
	"encoding/json"
	"time"
)

// AuditEvent is the persisted form of an operational event.
type AuditEvent struct {
	ID         string          `json:"id"                  db:"id"`
	Category   string          `json:"category"            db:"category"`
	Severity   string          `json:"severity"            db:"severity"`
	JobID      *string         `json:"job_id,omitempty"    db:"job_id"`
	DeviceID   *string         `json:"device_id,omitempty" db:"device_id"`
	SiteID     *string         `json:"site_id,omitempty"   db:"site_id"`
	Message    string          `json:"message"             db:"message"`
	Metadata   json.RawMessage `json:"metadata,omitempty"  db:"metadata"`
	OccurredAt time.Time       `json:"occurred_at"         db:"occurred_at"`
}
