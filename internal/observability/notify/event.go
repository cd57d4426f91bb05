// Package notify defines the structured events fleetpush forwards to audit and error sinks.
package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Event categories.
const (
	CategoryJobCreated       = "job.created"
	CategoryJobCompleted     = "job.completed"
	CategoryJobFailed        = "job.failed"
	CategoryJobPartial       = "job.partial_failure"
	CategoryDispatchError    = "dispatch.error"
	CategoryDeviceError      = "device.error"
	CategoryDeviceFlagged    = "device.reregistration"
	CategoryVerificationGap  = "verification.gap"
	CategoryVerificationDone = "verification.recorded"
)

// Event is one write-only audit or error record.
type Event struct {
	Category   string
	Severity   string
	JobID      string
	DeviceID   string
	SiteID     string
	Message    string
	ErrorCode  string
	ErrorClass string
	Metadata   map[string]string
	OccurredAt time.Time
}

// IsError reports whether the event belongs on the error channel.
func (e Event) IsError() bool {
	return e.Severity == SeverityError || e.Severity == SeverityCritical
}

// Sink describes a destination capable of consuming events.
type Sink interface {
	Send(ctx context.Context, event Event) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, event Event) error

// Send implements the Sink interface.
func (f SinkFunc) Send(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}
