// Package model defines the core data types shared by the fleetpush dispatch pipeline.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// JobStatus represents the lifecycle state of a job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobStatus string

// JobPriority represents the dispatch priority of a job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobPriority string

const (
	// JobStatusPending indicates a job has been created but not yet dispatched.
	JobStatusPending JobStatus = "pending"
	// JobStatusSent indicates the job was fanned out and results are awaited.
	JobStatusSent JobStatus = "sent"
	// JobStatusCompleted indicates at least one device applied the job.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a dispatch-level failure or zero successful devices.
	JobStatusFailed JobStatus = "failed"

	JobPriorityHigh   JobPriority = "high"
	JobPriorityNormal JobPriority = "normal"
	JobPriorityLow    JobPriority = "low"
)

// Actions understood by device agents.
const (
	ActionUpdateConfig   = "update_config"
	ActionRestartService = "restart_service"
	ActionRefreshCatalog = "refresh_catalog"
	ActionHealthCheck    = "health_check"
)

const (
	// DefaultJobTTL bounds how long a dispatched command waits for its device report.
	DefaultJobTTL = 2 * time.Minute
	// MaxJobTTL is the largest per-job TTL accepted on submission.
	MaxJobTTL = time.Hour
	// MaxTargetDevices caps explicit device lists on submission.
	MaxTargetDevices = 5000
)

var actionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ErrNoJobsAvailable is returned when no jobs are available for reservation.
var ErrNoJobsAvailable = errors.New("no jobs available")

// ErrNoDevicesFound is returned when a job's target resolves to an empty device set.
var ErrNoDevicesFound = errors.New("no devices found")

// Valid returns true if the JobStatus is a known status.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusSent || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the status monotonic.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusSent || next == JobStatusFailed
	case JobStatusSent:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler for JobPriority.
func (p *JobPriority) UnmarshalText(text []byte) error {
	v := JobPriority(strings.ToLower(strings.TrimSpace(string(text))))
	if v == "" {
		*p = JobPriorityNormal
		return nil
	}
	if !v.Valid() {
		return fmt.Errorf("invalid JobPriority: %q", v)
	}
	*p = v
	return nil
}

// Valid returns true if the JobPriority is a known priority.
func (p JobPriority) Valid() bool {
	return p == JobPriorityHigh || p == JobPriorityNormal || p == JobPriorityLow
}

// Job is a command targeted at a set of devices within one site.
type Job struct {
	ID             string          `json:"job_id"                     db:"id"`
	Action         string          `json:"action"                     db:"action"`
	Status         JobStatus       `json:"status"                     db:"status"`
	Priority       JobPriority     `json:"priority"                   db:"priority"`
	SiteID         string          `json:"site_id"                    db:"site_id"`
	Segment        *string         `json:"segment,omitempty"          db:"segment"`
	DeviceIDs      []string        `json:"device_ids,omitempty"       db:"device_ids"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	ConfigVersion  *string         `json:"config_version,omitempty"   db:"config_version"`
	TTLSeconds     int             `json:"ttl_seconds"                db:"ttl_seconds"`
	ErrorMessage   *string         `json:"error_message,omitempty"    db:"error_message"`
	LeaseExpiresAt *time.Time      `json:"-"                          db:"lease_expires_at"`
	SentAt         *time.Time      `json:"sent_at,omitempty"          db:"sent_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
}

// IsConfigChange reports whether dispatching the job alters device configuration.
func (j *Job) IsConfigChange() bool {
	if j == nil {
		return false
	}
	if j.Action == ActionUpdateConfig {
		return true
	}
	return j.ConfigVersion != nil && *j.ConfigVersion != ""
}

// TTL returns the per-device result deadline for the job, falling back to def.
func (j *Job) TTL(def time.Duration) time.Duration {
	if j == nil || j.TTLSeconds <= 0 {
		return def
	}
	return time.Duration(j.TTLSeconds) * time.Second
}

// Target returns the abstract target the job was submitted with.
func (j *Job) Target() TargetSpec {
	return TargetSpec{SiteID: j.SiteID, Segment: j.Segment, DeviceIDs: j.DeviceIDs}
}

// TargetSpec is the abstract dispatch target: a site narrowed by a segment or a device list.
type TargetSpec struct {
	SiteID    string   `json:"site_id"`
	Segment   *string  `json:"segment,omitempty"`
	DeviceIDs []string `json:"device_ids,omitempty"`
}

// CreateJobRequest represents a request to create a new job.
type CreateJobRequest struct {
	SiteID        string          `json:"site_id"`
	Segment       *string         `json:"segment,omitempty"`
	DeviceIDs     []string        `json:"device_ids,omitempty"`
	Action        string          `json:"action"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Priority      JobPriority     `json:"priority,omitempty"`
	ConfigVersion *string         `json:"config_version,omitempty"`
	TTLSeconds    int             `json:"ttl_seconds,omitempty"`
}

// Normalize trims inputs and fills defaults.
func (r *CreateJobRequest) Normalize() {
	r.SiteID = strings.TrimSpace(r.SiteID)
	r.Action = strings.ToLower(strings.TrimSpace(r.Action))
	if r.Segment != nil {
		s := strings.TrimSpace(*r.Segment)
		if s == "" {
			r.Segment = nil
		} else {
			r.Segment = &s
		}
	}
	if r.ConfigVersion != nil {
		v := strings.TrimSpace(*r.ConfigVersion)
		if v == "" {
			r.ConfigVersion = nil
		} else {
			r.ConfigVersion = &v
		}
	}
	ids := r.DeviceIDs[:0]
	seen := make(map[string]struct{}, len(r.DeviceIDs))
	for _, id := range r.DeviceIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	r.DeviceIDs = ids
	if r.Priority == "" {
		r.Priority = JobPriorityNormal
	}
	if len(r.Payload) == 0 {
		r.Payload = json.RawMessage(`{}`)
	}
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if r.SiteID == "" {
		return errors.New("site_id is required")
	}
	if r.Segment != nil && len(r.DeviceIDs) > 0 {
		return errors.New("segment and device_ids are mutually exclusive")
	}
	if len(r.DeviceIDs) > MaxTargetDevices {
		return fmt.Errorf("device_ids must contain at most %d entries", MaxTargetDevices)
	}
	if !actionPattern.MatchString(r.Action) {
		return errors.New("action must be lowercase snake_case and at most 64 characters")
	}
	if !r.Priority.Valid() {
		return errors.New("priority must be one of high, normal, low")
	}
	if r.TTLSeconds < 0 || time.Duration(r.TTLSeconds)*time.Second > MaxJobTTL {
		return fmt.Errorf("ttl_seconds must be between 0 and %d", int(MaxJobTTL.Seconds()))
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return errors.New("payload must be valid JSON")
	}
	if r.Action == ActionUpdateConfig && r.ConfigVersion == nil {
		return errors.New("config_version is required for update_config")
	}
	return nil
}

// JobStatusResponse is the job status view returned to API callers.
type JobStatusResponse struct {
	Job     *Job           `json:"job"`
	Outcome *OutcomeCounts `json:"outcome,omitempty"`
}

// JobStats counts jobs per status.
type JobStats struct {
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
