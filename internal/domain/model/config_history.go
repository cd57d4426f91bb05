package model

import (
	"encoding/json"
	"time"
)

// ChangeType distinguishes operator-issued from automated configuration changes.
type ChangeType string

const (
	ChangeTypeManual    ChangeType = "manual"
	ChangeTypeAutomated ChangeType = "automated"
)

// Entity types recorded on configuration history rows.
const (
	EntityTypeSite    = "site"
	EntityTypeSegment = "segment"
	EntityTypeDevices = "device_set"
)

// ConfigurationHistory is the change record written for a configuration-changing job.
// PerformanceAfter stays nil until the post-change check fills it, exactly once.
type ConfigurationHistory struct {
	ID                string          `json:"id"                           db:"id"`
	JobID             string          `json:"job_id"                       db:"job_id"`
	EntityType        string          `json:"entity_type"                  db:"entity_type"`
	EntityID          string          `json:"entity_id"                    db:"entity_id"`
	ParameterName     string          `json:"parameter_name"               db:"parameter_name"`
	OldValue          *string         `json:"old_value,omitempty"          db:"old_value"`
	NewValue          *string         `json:"new_value,omitempty"          db:"new_value"`
	ChangeType        ChangeType      `json:"change_type"                  db:"change_type"`
	PerformanceBefore json.RawMessage `json:"performance_before,omitempty" db:"performance_before"`
	PerformanceAfter  json.RawMessage `json:"performance_after,omitempty"  db:"performance_after"`
	WasSuccessful     *bool           `json:"was_successful,omitempty"     db:"was_successful"`
	WasRolledBack     bool            `json:"was_rolled_back"              db:"was_rolled_back"`
	CreatedAt         time.Time       `json:"created_at"                   db:"created_at"`
	VerifiedAt        *time.Time      `json:"verified_at,omitempty"        db:"verified_at"`
}

// Before decodes PerformanceBefore.
func (h *ConfigurationHistory) Before() (PerformanceSnapshot, error) {
	var snap PerformanceSnapshot
	if len(h.PerformanceBefore) == 0 {
		snap.Status = HealthUnknown
		return snap, nil
	}
	err := json.Unmarshal(h.PerformanceBefore, &snap)
	return snap, err
}

// CreateConfigHistoryRequest carries the fields written when a config job finalizes.
type CreateConfigHistoryRequest struct {
	JobID             string
	EntityType        string
	EntityID          string
	ParameterName     string
	OldValue          *string
	NewValue          *string
	ChangeType        ChangeType
	PerformanceBefore PerformanceSnapshot
	// WasSuccessful is set when the outcome is already known at finalize time.
	WasSuccessful *bool
}

// RecordVerificationRequest back-fills the post-change check onto a history row.
type RecordVerificationRequest struct {
	ConfigHistoryID  string
	PerformanceAfter PerformanceSnapshot
	WasSuccessful    bool
}
