// Package metrics holds the metric names and tag conventions emitted by fleetpush.
package metrics

import (
	"time"

	obserrors "github.com/target/fleetpush/internal/observability/errors"
	"github.com/target/fleetpush/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// Job transitions.
const (
	TransitionCreated  = "created"
	TransitionReserved = "reserved"
	TransitionSent     = "sent"
	TransitionFinished = "finished"
)

// JobMetric captures details about a job lifecycle event for metric emission.
type JobMetric struct {
	Action     string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitJobLifecycle emits standardised job lifecycle metrics.
func EmitJobLifecycle(sink statsd.Sink, in JobMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"action":     in.Action,
		"transition": in.Transition,
		"result":     in.Result,
	}
	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}
	sink.Count("job.transition", 1, tags)
	if in.Duration > 0 {
		sink.Timing("job.duration", in.Duration, CloneTags(tags))
	}
}

// JobDevicesMetric summarises one finalized job's device fan-out.
type JobDevicesMetric struct {
	Action     string
	Status     string
	Total      int
	Successful int
	Failed     int
	TimedOut   int
}

// EmitJobDevices emits per-job device counts.
func EmitJobDevices(sink statsd.Sink, in JobDevicesMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{"action": in.Action, "status": in.Status}
	sink.Gauge("job.devices", float64(in.Total), tags)
	sink.Count("job.devices.successful", int64(in.Successful), CloneTags(tags))
	sink.Count("job.devices.failed", int64(in.Failed), CloneTags(tags))
	if in.TimedOut > 0 {
		sink.Count("job.devices.timed_out", int64(in.TimedOut), CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
