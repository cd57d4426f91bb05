package metrics

import (
	"strconv"
	"time"

	obserrors "github.com/target/fleetpush/internal/observability/errors"
	"github.com/target/fleetpush/internal/observability/statsd"
)

// PushAttemptMetric describes one provider call.
type PushAttemptMetric struct {
	Provider string
	Platform string
	Outcome  string
	Fallback bool
	Latency  time.Duration
	Err      error
}

// EmitPushAttempt emits push.attempt with provider, outcome and fallback tags.
func EmitPushAttempt(sink statsd.Sink, in PushAttemptMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{
		"provider": in.Provider,
		"platform": in.Platform,
		"outcome":  in.Outcome,
		"fallback": strconv.FormatBool(in.Fallback),
	}
	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}
	sink.Count("push.attempt", 1, tags)
	if in.Latency > 0 {
		sink.Timing("push.latency", in.Latency, CloneTags(tags))
	}
}

// FollowUpMetric describes one post-change verification.
type FollowUpMetric struct {
	Result      string
	Devices     int
	Unreachable int
	Duration    time.Duration
}

// Follow-up results.
const (
	FollowUpVerified    = "verified"
	FollowUpRegressed   = "regressed"
	FollowUpUnreachable = "unreachable"
	FollowUpSkipped     = "skipped"
)

// EmitFollowUpCheck emits followup.check tagged by result.
func EmitFollowUpCheck(sink statsd.Sink, in FollowUpMetric) {
	if sink == nil {
		return
	}
	tags := map[string]string{"result": in.Result}
	sink.Count("followup.check", 1, tags)
	if in.Unreachable > 0 {
		sink.Count("followup.unreachable_devices", int64(in.Unreachable), CloneTags(tags))
	}
	if in.Duration > 0 {
		sink.Timing("followup.duration", in.Duration, CloneTags(tags))
	}
}

// ReaperMetric describes one reaper pass over a single cleanup target.
type ReaperMetric struct {
	Task     string
	Affected int64
	Err      error
}

// EmitReaper emits reaper.rows tagged by task and result.
func EmitReaper(sink statsd.Sink, in ReaperMetric) {
	if sink == nil {
		return
	}
	result := ResultSuccess
	if in.Err != nil {
		result = ResultError
	} else if in.Affected == 0 {
		result = ResultNoop
	}
	sink.Count("reaper.rows", in.Affected, map[string]string{"task": in.Task, "result": result})
}
