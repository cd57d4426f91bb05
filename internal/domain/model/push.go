package model

import (
	"encoding/json"
	"time"
)

// PushOutcome is the provider-independent result of one push call.
type PushOutcome string

const (
	PushOutcomeDelivered      PushOutcome = "delivered"
	PushOutcomeRejected       PushOutcome = "rejected"
	PushOutcomeTransientError PushOutcome = "transient-error"
	PushOutcomeTokenInvalid   PushOutcome = "token-invalid"
)

// Valid returns true if the outcome is known.
func (o PushOutcome) Valid() bool {
	switch o {
	case PushOutcomeDelivered, PushOutcomeRejected, PushOutcomeTransientError, PushOutcomeTokenInvalid:
		return true
	}
	return false
}

// PushAttempt is one provider call for one device. Rows are immutable once written.
type PushAttempt struct {
	ID           string      `json:"id"                      db:"id"`
	JobID        string      `json:"job_id"                  db:"job_id"`
	DeviceID     string      `json:"device_id"               db:"device_id"`
	Provider     string      `json:"provider"                db:"provider"`
	AttemptNo    int         `json:"attempt_no"              db:"attempt_no"`
	FallbackUsed bool        `json:"fallback_used"           db:"fallback_used"`
	StatusCode   int         `json:"status_code"             db:"status_code"`
	Outcome      PushOutcome `json:"outcome"                 db:"outcome"`
	MessageID    *string     `json:"message_id,omitempty"    db:"message_id"`
	ErrorCode    *string     `json:"error_code,omitempty"    db:"error_code"`
	ErrorMessage *string     `json:"error_message,omitempty" db:"error_message"`
	LatencyMS    int64       `json:"latency_ms"              db:"latency_ms"`
	CreatedAt    time.Time   `json:"created_at"              db:"created_at"`
}

// Delivered reports whether the channel accepted the message.
func (a *PushAttempt) Delivered() bool {
	return a != nil && a.Outcome == PushOutcomeDelivered
}

// PushMessage is the provider-neutral envelope handed to the gateway.
type PushMessage struct {
	JobID         string          `json:"job_id"`
	Action        string          `json:"action"`
	Priority      JobPriority     `json:"priority"`
	ConfigVersion *string         `json:"config_version,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Title         string          `json:"title,omitempty"`
	Body          string          `json:"body,omitempty"`
	TTL           time.Duration   `json:"-"`
	CollapseKey   string          `json:"collapse_key,omitempty"`
	IssuedAt      time.Time       `json:"issued_at"`
}

// NewPushMessage builds the push envelope for a job.
func NewPushMessage(job *Job, ttl time.Duration, now time.Time) PushMessage {
	return PushMessage{
		JobID:         job.ID,
		Action:        job.Action,
		Priority:      job.Priority,
		ConfigVersion: job.ConfigVersion,
		Payload:       job.Payload,
		Title:         "fleet command",
		Body:          job.Action,
		TTL:           ttl,
		CollapseKey:   job.Action,
		IssuedAt:      now,
	}
}

// Command converts the envelope into the device-side command representation.
func (m PushMessage) Command() Command {
	return Command{
		JobID:         m.JobID,
		Action:        m.Action,
		ConfigVersion: m.ConfigVersion,
		Payload:       m.Payload,
		IssuedAt:      m.IssuedAt,
	}
}

// Command is what a device agent receives and applies.
type Command struct {
	JobID         string          `json:"job_id"`
	Action        string          `json:"action"`
	ConfigVersion *string         `json:"config_version,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	IssuedAt      time.Time       `json:"issued_at"`
}
