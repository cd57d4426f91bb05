package model

import (
	"encoding/json"
	"time"
)

// OutcomeStatus is the summary verdict of a finalized job or of one device within it.
type OutcomeStatus string

const (
	// OutcomeSuccess means every target applied the command.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeCompleted means some but not all targets applied the command.
	OutcomeCompleted OutcomeStatus = "completed"
	// OutcomeFailed means no target applied the command.
	OutcomeFailed OutcomeStatus = "failed"
)

// Error codes written onto outcomes.
const (
	ErrCodeNoDevicesFound     = "NO_DEVICES_FOUND"
	ErrCodePartialJobFailure  = "PARTIAL_JOB_FAILURE"
	ErrCodeAllDevicesFailed   = "ALL_DEVICES_FAILED"
	ErrCodeDeviceTimeout      = "DEVICE_TIMEOUT"
	ErrCodeDeviceRejected     = "DEVICE_REJECTED"
	ErrCodeDeviceApplyFailed  = "DEVICE_APPLY_FAILED"
	ErrCodeProviderTransient  = "PROVIDER_TRANSIENT"
	ErrCodeProviderPermanent  = "PROVIDER_PERMANENT"
	ErrCodeInvalidTarget      = "INVALID_TARGET"
	ErrCodeDispatchInternal   = "DISPATCH_INTERNAL"
	ErrCodeJobAbandoned       = "JOB_ABANDONED"
	ErrCodeDeviceUnverifiable = "DEVICE_UNREACHABLE_FOR_VERIFICATION"
)

// JobOutcome is the finalized result of a job. DeviceID is nil for the job summary row.
type JobOutcome struct {
	ID           string          `json:"id"                      db:"id"`
	JobID        string          `json:"job_id"                  db:"job_id"`
	DeviceID     *string         `json:"device_id,omitempty"     db:"device_id"`
	Status       OutcomeStatus   `json:"status"                  db:"status"`
	DurationMS   int64           `json:"duration_ms"             db:"duration_ms"`
	RetryCount   int             `json:"retry_count"             db:"retry_count"`
	ErrorCode    *string         `json:"error_code,omitempty"    db:"error_code"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	ExtraData    json.RawMessage `json:"extra_data,omitempty"    db:"extra_data"`
	CreatedAt    time.Time       `json:"created_at"              db:"created_at"`
}

// Counts decodes the summary counts stored in ExtraData.
func (o *JobOutcome) Counts() (OutcomeCounts, error) {
	var c OutcomeCounts
	if o == nil || len(o.ExtraData) == 0 {
		return c, nil
	}
	err := json.Unmarshal(o.ExtraData, &c)
	return c, err
}

// OutcomeCounts is stored in the summary outcome's extra_data.
type OutcomeCounts struct {
	TotalDevices     int `json:"total_devices"`
	SuccessfulPushes int `json:"successful_pushes"`
	FailedPushes     int `json:"failed_pushes"`
	TimedOut         int `json:"timed_out"`
	FallbackUsed     int `json:"fallback_used"`
}

// DeviceResultStatus is the per-device verdict collected by the orchestrator.
type DeviceResultStatus string

const (
	DeviceResultApplied  DeviceResultStatus = "applied"
	DeviceResultFailed   DeviceResultStatus = "failed"
	DeviceResultRejected DeviceResultStatus = "rejected"
	DeviceResultTimeout  DeviceResultStatus = "timeout"
	DeviceResultNotSent  DeviceResultStatus = "not_sent"
)

// DeviceResult is the single result recorded for one dispatched target.
type DeviceResult struct {
	Target        DeviceTarget
	Status        DeviceResultStatus
	Attempt       *PushAttempt
	Attempts      int
	Report        *DeviceReport
	ErrorCode     string
	ErrorMessage  string
	DispatchError error
	Duration      time.Duration
}

// Succeeded reports whether the device applied the command.
func (r DeviceResult) Succeeded() bool {
	return r.Status == DeviceResultApplied
}
