package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/data"
	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/observability/metrics"
	"github.com/target/fleetpush/internal/observability/notify"
	"github.com/target/fleetpush/internal/observability/statsd"
)

// ParameterConfigVersion is the parameter name recorded for configuration changes.
const ParameterConfigVersion = "config_version"

// FollowUpScheduler queues a post-change verification. PostChangeMonitor implements it.
type FollowUpScheduler interface {
	Schedule(ctx context.Context, configHistoryID string, deviceIDs []string, delay time.Duration) error
}

// AggregatorOptions groups dependencies for OutcomeAggregator.
type AggregatorOptions struct {
	Outcomes core.OutcomeRepository // Required: finalize transaction
	Monitor  FollowUpScheduler      // Optional: post-change verification
	// MonitorDelay is how long after a change the verification probe fires.
	MonitorDelay time.Duration
	Events       EventEmitter // Optional: audit + error events
	Metrics      statsd.Sink  // Optional
	Logger       *slog.Logger
	Now          func() time.Time
}

// OutcomeAggregator turns per-device results into the job's terminal state.
type OutcomeAggregator struct {
	outcomes     core.OutcomeRepository
	monitor      FollowUpScheduler
	monitorDelay time.Duration
	events       EventEmitter
	metrics      statsd.Sink
	logger       *slog.Logger
	now          func() time.Time
}

// NewOutcomeAggregator constructs an OutcomeAggregator.
func NewOutcomeAggregator(opts AggregatorOptions) (*OutcomeAggregator, error) {
	if opts.Outcomes == nil {
		return nil, errors.New("OutcomeRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &OutcomeAggregator{
		outcomes:     opts.Outcomes,
		monitor:      opts.Monitor,
		monitorDelay: opts.MonitorDelay,
		events:       opts.Events,
		metrics:      opts.Metrics,
		logger:       logger.With("component", "outcome_aggregator"),
		now:          now,
	}, nil
}

type tally struct {
	counts   model.OutcomeCounts
	retries  int
	applied  []string
	previous []string
}

func tallyResults(results []model.DeviceResult) tally {
	var t tally
	t.counts.TotalDevices = len(results)
	prev := map[string]struct{}{}
	for _, r := range results {
		if r.Succeeded() {
			t.counts.SuccessfulPushes++
			t.applied = append(t.applied, r.Target.DeviceID)
		} else {
			t.counts.FailedPushes++
		}
		if r.Status == model.DeviceResultTimeout {
			t.counts.TimedOut++
		}
		if r.Attempt != nil && r.Attempt.FallbackUsed {
			t.counts.FallbackUsed++
		}
		t.retries += max(r.Attempts-1, 0)
		if v := r.Target.ConfigVersion; v != nil && *v != "" {
			prev[*v] = struct{}{}
		}
	}
	for v := range prev {
		t.previous = append(t.previous, v)
	}
	sort.Strings(t.previous)
	sort.Strings(t.applied)
	return t
}

// Finalize writes one outcome per device plus the job summary, the configuration history
// row for config-changing jobs and the terminal status, in one transaction. before is the
// pre-dispatch snapshot and may be nil.
func (a *OutcomeAggregator) Finalize(
	ctx context.Context,
	job *model.Job,
	results []model.DeviceResult,
	before *model.PerformanceSnapshot,
) (*model.JobOutcome, error) {
	if job == nil {
		return nil, errors.New("finalize: job is required")
	}
	if len(results) == 0 {
		return a.FailNoDevices(ctx, job, model.ErrNoDevicesFound)
	}

	t := tallyResults(results)
	now := a.now().UTC()

	jobStatus := model.JobStatusCompleted
	outcomeStatus := model.OutcomeSuccess
	var errCode, errMsg *string
	switch {
	case t.counts.SuccessfulPushes == t.counts.TotalDevices:
	case t.counts.SuccessfulPushes > 0:
		outcomeStatus = model.OutcomeCompleted
		errCode = strPtr(model.ErrCodePartialJobFailure)
		errMsg = strPtr(fmt.Sprintf("partial failure: %d of %d devices failed",
			t.counts.FailedPushes, t.counts.TotalDevices))
	default:
		jobStatus = model.JobStatusFailed
		outcomeStatus = model.OutcomeFailed
		errCode = strPtr(model.ErrCodeAllDevicesFailed)
		errMsg = strPtr(fmt.Sprintf("all %d devices failed", t.counts.TotalDevices))
	}

	extra, err := json.Marshal(t.counts)
	if err != nil {
		return nil, fmt.Errorf("encode outcome counts: %w", err)
	}
	summary := &model.JobOutcome{
		JobID:        job.ID,
		Status:       outcomeStatus,
		DurationMS:   jobDuration(job, now).Milliseconds(),
		RetryCount:   t.retries,
		ErrorCode:    errCode,
		ErrorMessage: errMsg,
		ExtraData:    extra,
		CreatedAt:    now,
	}
	outcomes := make([]*model.JobOutcome, 0, len(results)+1)
	outcomes = append(outcomes, summary)
	for _, r := range results {
		outcomes = append(outcomes, deviceOutcome(job.ID, r, now))
	}

	var history *model.CreateConfigHistoryRequest
	if job.IsConfigChange() {
		history = a.historyRequest(job, t, results, before)
	}

	res, err := a.outcomes.Finalize(ctx, core.FinalizeJobParams{
		JobID:        job.ID,
		From:         job.Status,
		To:           jobStatus,
		ErrorMessage: errMsg,
		Outcomes:     outcomes,
		History:      history,
	})
	if err != nil {
		if errors.Is(err, data.ErrJobNotInState) {
			a.logger.WarnContext(ctx, "job left its state before finalize; results discarded",
				"job_id", job.ID,
				"expected_status", job.Status,
			)
		}
		metrics.EmitJobLifecycle(a.metrics, metrics.JobMetric{
			Action:     job.Action,
			Transition: metrics.TransitionFinished,
			Result:     metrics.ResultError,
			Err:        err,
		})
		return nil, fmt.Errorf("finalize job %s: %w", job.ID, err)
	}

	if res.ConfigHistory != nil {
		a.scheduleVerification(ctx, job, res.ConfigHistory, t.applied)
	}

	a.report(ctx, job, jobStatus, outcomeStatus, t, errCode, errMsg, now)
	a.logger.InfoContext(ctx, "job finalized",
		"job_id", job.ID,
		"status", jobStatus,
		"outcome", outcomeStatus,
		"total", t.counts.TotalDevices,
		"successful", t.counts.SuccessfulPushes,
		"failed", t.counts.FailedPushes,
		"timed_out", t.counts.TimedOut,
	)
	return summary, nil
}

// FailNoDevices fails a job whose target resolved to no addressable device. No push is
// attempted.
func (a *OutcomeAggregator) FailNoDevices(ctx context.Context, job *model.Job, cause error) (*model.JobOutcome, error) {
	msg := "no devices found for site " + job.SiteID
	switch {
	case job.Segment != nil:
		msg += " segment " + *job.Segment
	case len(job.DeviceIDs) > 0:
		msg += " among " + strconv.Itoa(len(job.DeviceIDs)) + " requested devices"
	}
	if cause != nil && !errors.Is(cause, model.ErrNoDevicesFound) {
		msg += ": " + cause.Error()
	}
	return a.FailJob(ctx, job, model.ErrCodeNoDevicesFound, msg)
}

// FailJob moves a job straight to failed with a summary outcome and no device rows.
func (a *OutcomeAggregator) FailJob(ctx context.Context, job *model.Job, code, msg string) (*model.JobOutcome, error) {
	now := a.now().UTC()
	extra, err := json.Marshal(model.OutcomeCounts{})
	if err != nil {
		return nil, fmt.Errorf("encode outcome counts: %w", err)
	}
	summary := &model.JobOutcome{
		JobID:        job.ID,
		Status:       model.OutcomeFailed,
		ErrorCode:    strPtr(code),
		ErrorMessage: strPtr(msg),
		ExtraData:    extra,
		CreatedAt:    now,
	}
	if _, err = a.outcomes.Finalize(ctx, core.FinalizeJobParams{
		JobID:        job.ID,
		From:         job.Status,
		To:           model.JobStatusFailed,
		ErrorMessage: strPtr(msg),
		Outcomes:     []*model.JobOutcome{summary},
	}); err != nil {
		return nil, fmt.Errorf("fail job %s: %w", job.ID, err)
	}

	metrics.EmitJobLifecycle(a.metrics, metrics.JobMetric{
		Action:     job.Action,
		Transition: metrics.TransitionFinished,
		Result:     metrics.ResultError,
		Duration:   now.Sub(job.CreatedAt),
	})
	emit(ctx, a.events, notify.Event{
		Category:   notify.CategoryJobFailed,
		Severity:   notify.SeverityError,
		JobID:      job.ID,
		SiteID:     job.SiteID,
		Message:    msg,
		ErrorCode:  code,
		OccurredAt: now,
		Metadata:   map[string]string{"action": job.Action},
	})
	a.logger.WarnContext(ctx, "job failed before dispatch", "job_id", job.ID, "error_code", code, "reason", msg)
	return summary, nil
}

func (a *OutcomeAggregator) historyRequest(
	job *model.Job,
	t tally,
	results []model.DeviceResult,
	before *model.PerformanceSnapshot,
) *model.CreateConfigHistoryRequest {
	entityType, entityID := model.EntityTypeSite, job.SiteID
	switch {
	case job.Segment != nil:
		entityType, entityID = model.EntityTypeSegment, job.SiteID+"/"+*job.Segment
	case len(job.DeviceIDs) > 0:
		entityType = model.EntityTypeDevices
	}

	var oldValue *string
	if len(t.previous) > 0 {
		oldValue = strPtr(strings.Join(t.previous, ","))
	}

	var snap model.PerformanceSnapshot
	if before != nil {
		snap = *before
	} else {
		unreachable := make([]string, len(results))
		for i, r := range results {
			unreachable[i] = r.Target.DeviceID
		}
		snap = model.AggregateSnapshots(nil, unreachable, a.now().UTC())
	}

	req := &model.CreateConfigHistoryRequest{
		JobID:             job.ID,
		EntityType:        entityType,
		EntityID:          entityID,
		ParameterName:     ParameterConfigVersion,
		OldValue:          oldValue,
		NewValue:          job.ConfigVersion,
		ChangeType:        changeType(job.Payload),
		PerformanceBefore: snap,
	}
	if t.counts.SuccessfulPushes == 0 {
		req.WasSuccessful = boolPtr(false)
	}
	return req
}

func changeType(payload json.RawMessage) model.ChangeType {
	var p struct {
		Automated bool `json:"automated"`
	}
	if len(payload) > 0 && json.Unmarshal(payload, &p) == nil && p.Automated {
		return model.ChangeTypeAutomated
	}
	return model.ChangeTypeManual
}

func (a *OutcomeAggregator) scheduleVerification(
	ctx context.Context,
	job *model.Job,
	history *model.ConfigurationHistory,
	applied []string,
) {
	if len(applied) == 0 || a.monitor == nil {
		return
	}
	if err := a.monitor.Schedule(ctx, history.ID, applied, a.monitorDelay); err != nil {
		a.logger.ErrorContext(ctx, "failed to schedule post-change verification",
			"job_id", job.ID,
			"config_history_id", history.ID,
			"error", err,
		)
		emit(ctx, a.events, notify.Event{
			Category: notify.CategoryVerificationGap,
			Severity: notify.SeverityWarning,
			JobID:    job.ID,
			SiteID:   job.SiteID,
			Message:  "post-change verification could not be scheduled: " + err.Error(),
			Metadata: map[string]string{"config_history_id": history.ID},
		})
	}
}

func (a *OutcomeAggregator) report(
	ctx context.Context,
	job *model.Job,
	jobStatus model.JobStatus,
	outcomeStatus model.OutcomeStatus,
	t tally,
	errCode, errMsg *string,
	now time.Time,
) {
	result := metrics.ResultSuccess
	if jobStatus == model.JobStatusFailed {
		result = metrics.ResultError
	}
	metrics.EmitJobLifecycle(a.metrics, metrics.JobMetric{
		Action:     job.Action,
		Transition: metrics.TransitionFinished,
		Result:     result,
		Duration:   jobDuration(job, now),
	})
	metrics.EmitJobDevices(a.metrics, metrics.JobDevicesMetric{
		Action:     job.Action,
		Status:     string(outcomeStatus),
		Total:      t.counts.TotalDevices,
		Successful: t.counts.SuccessfulPushes,
		Failed:     t.counts.FailedPushes,
		TimedOut:   t.counts.TimedOut,
	})

	meta := map[string]string{
		"action":            job.Action,
		"total_devices":     strconv.Itoa(t.counts.TotalDevices),
		"successful_pushes": strconv.Itoa(t.counts.SuccessfulPushes),
		"failed_pushes":     strconv.Itoa(t.counts.FailedPushes),
		"timed_out":         strconv.Itoa(t.counts.TimedOut),
		"fallback_used":     strconv.Itoa(t.counts.FallbackUsed),
	}
	base := notify.Event{
		JobID:      job.ID,
		SiteID:     job.SiteID,
		OccurredAt: now,
		Metadata:   meta,
	}

	switch outcomeStatus {
	case model.OutcomeFailed:
		ev := base
		ev.Category = notify.CategoryJobFailed
		ev.Severity = notify.SeverityError
		ev.Message = deref(errMsg)
		ev.ErrorCode = deref(errCode)
		emit(ctx, a.events, ev)
	case model.OutcomeCompleted:
		ev := base
		ev.Category = notify.CategoryJobCompleted
		ev.Severity = notify.SeverityInfo
		ev.Message = "job completed with failures"
		emit(ctx, a.events, ev)
		partial := base
		partial.Metadata = metrics.CloneTags(meta)
		partial.Category = notify.CategoryJobPartial
		partial.Severity = notify.SeverityError
		partial.Message = deref(errMsg)
		partial.ErrorCode = deref(errCode)
		emit(ctx, a.events, partial)
	default:
		ev := base
		ev.Category = notify.CategoryJobCompleted
		ev.Severity = notify.SeverityInfo
		ev.Message = "job completed on every device"
		emit(ctx, a.events, ev)
	}
}

func deviceOutcome(jobID string, r model.DeviceResult, now time.Time) *model.JobOutcome {
	deviceID := r.Target.DeviceID
	o := &model.JobOutcome{
		JobID:      jobID,
		DeviceID:   &deviceID,
		Status:     model.OutcomeFailed,
		DurationMS: r.Duration.Milliseconds(),
		RetryCount: max(r.Attempts-1, 0),
		CreatedAt:  now,
	}
	if r.Succeeded() {
		o.Status = model.OutcomeSuccess
	}
	if r.ErrorCode != "" {
		o.ErrorCode = strPtr(r.ErrorCode)
	}
	if r.ErrorMessage != "" {
		o.ErrorMessage = strPtr(r.ErrorMessage)
	}

	extra := map[string]any{"result": r.Status, "attempts": r.Attempts}
	if r.Attempt != nil {
		extra["provider"] = r.Attempt.Provider
		extra["fallback_used"] = r.Attempt.FallbackUsed
		extra["push_outcome"] = r.Attempt.Outcome
	}
	if r.Report != nil {
		if r.Report.Health != nil {
			extra["health_status"] = r.Report.Health.Status
		}
		if r.Report.ConfigVersion != nil {
			extra["config_version"] = *r.Report.ConfigVersion
		}
		if r.Report.Timing != nil {
			extra["apply_ms"] = r.Report.Timing.ApplyMS
			extra["health_ms"] = r.Report.Timing.HealthMS
		}
	}
	if r.DispatchError != nil {
		extra["dispatch_error"] = r.DispatchError.Error()
	}
	if raw, err := json.Marshal(extra); err == nil {
		o.ExtraData = raw
	}
	return o
}

func jobDuration(job *model.Job, now time.Time) time.Duration {
	start := job.CreatedAt
	if job.SentAt != nil {
		start = *job.SentAt
	}
	if start.IsZero() || now.Before(start) {
		return 0
	}
	return now.Sub(start)
}

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
