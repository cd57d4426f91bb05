package model

import "time"

// FollowUpStatus tracks a scheduled post-change health check.
type FollowUpStatus string

const (
	FollowUpPending     FollowUpStatus = "pending"
	FollowUpRunning     FollowUpStatus = "running"
	FollowUpDone        FollowUpStatus = "done"
	FollowUpUnreachable FollowUpStatus = "unreachable"
	FollowUpExpired     FollowUpStatus = "expired"
)

// FollowUpCheck is a durable, scheduled post-change verification keyed by
// (config_history_id, fire_at).
type FollowUpCheck struct {
	ID              string         `json:"id"                   db:"id"`
	ConfigHistoryID string         `json:"config_history_id"    db:"config_history_id"`
	DeviceIDs       []string       `json:"device_ids"           db:"device_ids"`
	FireAt          time.Time      `json:"fire_at"              db:"fire_at"`
	Status          FollowUpStatus `json:"status"               db:"status"`
	Attempts        int            `json:"attempts"             db:"attempts"`
	LastError       *string        `json:"last_error,omitempty" db:"last_error"`
	CreatedAt       time.Time      `json:"created_at"           db:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
}

// ScheduleFollowUpRequest schedules a post-change check.
type ScheduleFollowUpRequest struct {
	ConfigHistoryID string
	DeviceIDs       []string
	FireAt          time.Time
}
