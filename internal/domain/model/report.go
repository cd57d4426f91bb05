package model

import (
	"errors"
	"strings"
	"time"
)

// ReportStatus is the device agent's verdict on one command.
type ReportStatus string

const (
	ReportApplied  ReportStatus = "applied"
	ReportFailed   ReportStatus = "failed"
	ReportRejected ReportStatus = "rejected"
	// ReportHeartbeat carries health only, with no command attached.
	ReportHeartbeat ReportStatus = "heartbeat"
	// ReportOffline is sent by an agent shutting down.
	ReportOffline ReportStatus = "offline"
)

// Valid returns true if the status is known.
func (s ReportStatus) Valid() bool {
	switch s {
	case ReportApplied, ReportFailed, ReportRejected, ReportHeartbeat, ReportOffline:
		return true
	}
	return false
}

// ReportTiming carries agent-side durations for one command.
type ReportTiming struct {
	ReceivedAt  time.Time `json:"received_at"`
	ApplyMS     int64     `json:"apply_ms"`
	HealthMS    int64     `json:"health_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

// DeviceReport is the structured result a device agent sends back.
type DeviceReport struct {
	DeviceID      string          `json:"device_id"`
	JobID         string          `json:"job_id,omitempty"`
	Status        ReportStatus    `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	ConfigVersion *string         `json:"config_version,omitempty"`
	Health        *HealthSnapshot `json:"health_snapshot,omitempty"`
	Timing        *ReportTiming   `json:"timing,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Validate checks the report is well formed.
func (r *DeviceReport) Validate() error {
	if strings.TrimSpace(r.DeviceID) == "" {
		return errors.New("device_id is required")
	}
	if !r.Status.Valid() {
		return errors.New("status must be one of applied, failed, rejected, heartbeat, offline")
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	switch r.Status {
	case ReportApplied, ReportFailed, ReportRejected:
		if strings.TrimSpace(r.JobID) == "" {
			return errors.New("job_id is required for command results")
		}
	}
	return nil
}

// ImpliedDeviceStatus returns the device liveness implied by the report and a reason for it.
func (r *DeviceReport) ImpliedDeviceStatus() (DeviceStatus, string) {
	if r.Status == ReportOffline {
		return DeviceStatusOffline, nonEmpty(r.Reason, "agent reported offline")
	}
	if r.Health == nil {
		if r.Status == ReportFailed {
			return DeviceStatusError, nonEmpty(r.Reason, "command failed without health snapshot")
		}
		return DeviceStatusOnline, "report received"
	}
	status := r.Health.Status.DeviceStatus()
	if status == DeviceStatusError {
		if r.Health.Error != "" {
			return status, r.Health.Error
		}
		if failed := r.Health.FailedServices(); len(failed) > 0 {
			return status, "services down: " + strings.Join(failed, ", ")
		}
		return status, nonEmpty(r.Reason, "health check reported "+string(r.Health.Status))
	}
	return status, "health check " + string(r.Health.Status)
}

func nonEmpty(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
