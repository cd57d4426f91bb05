package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/target/fleetpush/config"
	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/data"
	"github.com/target/fleetpush/internal/domain/model"
	apperrors "github.com/target/fleetpush/internal/errors"
	"github.com/target/fleetpush/internal/observability/metrics"
	"github.com/target/fleetpush/internal/observability/notify"
	"github.com/target/fleetpush/internal/observability/statsd"
	"github.com/target/fleetpush/internal/push"
	"github.com/target/fleetpush/internal/service/results"
)

// TargetResolver expands a job target into addressable devices. registry.Service implements it.
type TargetResolver interface {
	Resolve(ctx context.Context, spec model.TargetSpec) ([]model.DeviceTarget, error)
}

// Pusher delivers push messages. push.Gateway implements it.
type Pusher interface {
	Dispatch(ctx context.Context, target model.DeviceTarget, msg model.PushMessage) (model.PushAttempt, error)
	DispatchBulk(ctx context.Context, targets []model.DeviceTarget, msg model.PushMessage) []push.Dispatched
	SupportsBulk(platform model.Platform) bool
}

// ResultRegistrar hands out per-job result waiters. results.Broker implements it.
type ResultRegistrar interface {
	Register(jobID string, deviceIDs []string) *results.Waiter
}

// OrchestratorOptions groups dependencies for Orchestrator.
type OrchestratorOptions struct {
	Jobs       core.JobRepository  // Required
	Sites      core.SiteRepository // Optional: reject jobs for unknown sites
	Targets    TargetResolver      // Required
	Pusher     Pusher              // Required
	Results    ResultRegistrar     // Required
	Aggregator *OutcomeAggregator  // Required
	Prober     HealthProber        // Optional: pre-dispatch snapshots for config changes
	Config     config.DispatchConfig
	// ProbeTimeout bounds each pre-dispatch health probe.
	ProbeTimeout time.Duration
	Events       EventEmitter // Optional
	Metrics      statsd.Sink  // Optional
	Logger       *slog.Logger
	Now          func() time.Time
}

// Orchestrator accepts jobs and drives each one from pending to its terminal state.
type Orchestrator struct {
	jobs         core.JobRepository
	sites        core.SiteRepository
	targets      TargetResolver
	pusher       Pusher
	results      ResultRegistrar
	aggregator   *OutcomeAggregator
	prober       HealthProber
	cfg          config.DispatchConfig
	probeTimeout time.Duration
	global       *semaphore.Weighted
	events       EventEmitter
	metrics      statsd.Sink
	logger       *slog.Logger
	now          func() time.Time
}

// NewOrchestrator constructs an Orchestrator. The global dispatch semaphore is shared by
// every job the orchestrator processes.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("JobRepository is required")
	case opts.Targets == nil:
		return nil, errors.New("TargetResolver is required")
	case opts.Pusher == nil:
		return nil, errors.New("Pusher is required")
	case opts.Results == nil:
		return nil, errors.New("ResultRegistrar is required")
	case opts.Aggregator == nil:
		return nil, errors.New("OutcomeAggregator is required")
	}
	cfg := opts.Config
	cfg.Sanitize()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Orchestrator{
		jobs:         opts.Jobs,
		sites:        opts.Sites,
		targets:      opts.Targets,
		pusher:       opts.Pusher,
		results:      opts.Results,
		aggregator:   opts.Aggregator,
		prober:       opts.Prober,
		cfg:          cfg,
		probeTimeout: probeTimeout,
		global:       semaphore.NewWeighted(int64(cfg.GlobalConcurrency)),
		events:       opts.Events,
		metrics:      opts.Metrics,
		logger:       logger.With("component", "orchestrator"),
		now:          now,
	}, nil
}

// CreateJob validates and persists a pending job. The insert notifies idle dispatchers.
// Every call creates a new job, including resubmissions of identical requests.
func (o *Orchestrator) CreateJob(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, apperrors.Validation("job request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	if o.sites != nil {
		if _, err := o.sites.GetByID(ctx, req.SiteID); err != nil {
			if errors.Is(err, data.ErrSiteNotFound) {
				return nil, apperrors.ValidationField("site_id", "unknown site "+req.SiteID)
			}
			return nil, fmt.Errorf("look up site: %w", err)
		}
	}

	job, err := o.jobs.Create(ctx, req)
	if err != nil {
		metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
			Action:     req.Action,
			Transition: metrics.TransitionCreated,
			Result:     metrics.ResultError,
			Err:        err,
		})
		return nil, fmt.Errorf("create job: %w", err)
	}
	metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
		Action:     job.Action,
		Transition: metrics.TransitionCreated,
		Result:     metrics.ResultSuccess,
	})
	emit(ctx, o.events, notify.Event{
		Category:   notify.CategoryJobCreated,
		Severity:   notify.SeverityInfo,
		JobID:      job.ID,
		SiteID:     job.SiteID,
		Message:    "job created",
		OccurredAt: job.CreatedAt,
		Metadata:   jobMetadata(job),
	})
	o.logger.InfoContext(ctx, "job created",
		"job_id", job.ID,
		"action", job.Action,
		"site_id", job.SiteID,
		"priority", job.Priority,
	)
	return job, nil
}

// GetJob returns one job.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := o.jobs.GetByID(ctx, id)
	if errors.Is(err, data.ErrJobNotFound) {
		return nil, apperrors.NotFoundf("job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ProcessJob resolves targets, dispatches to each one, awaits every device's report and
// finalizes the job. It returns data.ErrJobNotPending when another worker claimed the job
// first. When ctx ends mid-flight the job is left in sent for the reaper.
func (o *Orchestrator) ProcessJob(ctx context.Context, job *model.Job) (*model.JobOutcome, error) {
	if job == nil {
		return nil, errors.New("process job: job is required")
	}
	if job.Status != model.JobStatusPending {
		return nil, fmt.Errorf("process job %s in status %s: %w", job.ID, job.Status, data.ErrJobNotPending)
	}
	logger := o.logger.With("job_id", job.ID, "action", job.Action)

	targets, err := o.targets.Resolve(ctx, job.Target())
	if errors.Is(err, model.ErrNoDevicesFound) {
		logger.InfoContext(ctx, "no addressable devices for job", "site_id", job.SiteID)
		return o.aggregator.FailNoDevices(ctx, job, err)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve targets for job %s: %w", job.ID, err)
	}

	var before *model.PerformanceSnapshot
	if job.IsConfigChange() && o.prober != nil {
		snap := CaptureSnapshot(ctx, o.prober, targets, SnapshotOptions{
			Concurrency: o.cfg.DeviceConcurrency,
			Timeout:     o.probeTimeout,
			Now:         o.now,
		})
		before = &snap
		logger.DebugContext(ctx, "captured pre-change snapshot",
			"status", snap.Status,
			"unreachable", len(snap.Unreachable),
		)
	}

	sent, err := o.jobs.MarkSent(ctx, job.ID)
	if err != nil {
		if errors.Is(err, data.ErrJobNotPending) {
			metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
				Action:     job.Action,
				Transition: metrics.TransitionSent,
				Result:     metrics.ResultNoop,
			})
		}
		return nil, fmt.Errorf("mark job %s sent: %w", job.ID, err)
	}
	metrics.EmitJobLifecycle(o.metrics, metrics.JobMetric{
		Action:     sent.Action,
		Transition: metrics.TransitionSent,
		Result:     metrics.ResultSuccess,
	})
	logger.InfoContext(ctx, "dispatching job", "devices", len(targets))

	results, err := o.fanOut(ctx, sent, targets)
	if err != nil {
		logger.WarnContext(ctx, "dispatch interrupted; job left for the reaper", "error", err)
		return nil, err
	}
	return o.aggregator.Finalize(ctx, sent, results, before)
}

// dispatchUnit is one provider call: a single target or a bulk batch.
type dispatchUnit struct {
	idx  []int
	bulk bool
}

func (o *Orchestrator) units(targets []model.DeviceTarget) []dispatchUnit {
	var (
		out     []dispatchUnit
		pending = map[model.Platform][]int{}
		order   []model.Platform
	)
	for i, t := range targets {
		if o.cfg.BulkBatchSize > 1 && o.pusher.SupportsBulk(t.Platform) {
			if _, ok := pending[t.Platform]; !ok {
				order = append(order, t.Platform)
			}
			pending[t.Platform] = append(pending[t.Platform], i)
			continue
		}
		out = append(out, dispatchUnit{idx: []int{i}})
	}
	for _, p := range order {
		idx := pending[p]
		for len(idx) > 0 {
			n := min(len(idx), o.cfg.BulkBatchSize)
			out = append(out, dispatchUnit{idx: idx[:n], bulk: true})
			idx = idx[n:]
		}
	}
	return out
}

// fanOut collects exactly one result per target. The per-job limit and the global
// semaphore cover provider calls only; waiting for reports holds neither.
func (o *Orchestrator) fanOut(ctx context.Context, job *model.Job, targets []model.DeviceTarget) ([]model.DeviceResult, error) {
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.DeviceID
	}
	waiter := o.results.Register(job.ID, ids)
	defer waiter.Close()

	ttl := job.TTL(o.cfg.ResultTTL)
	msg := model.NewPushMessage(job, ttl, o.now().UTC())
	out := make([]model.DeviceResult, len(targets))
	started := o.now()

	var awaits sync.WaitGroup
	var g errgroup.Group
	g.SetLimit(o.cfg.DeviceConcurrency)
	for _, unit := range o.units(targets) {
		g.Go(func() error {
			weight := int64(min(len(unit.idx), o.cfg.GlobalConcurrency))
			if err := o.global.Acquire(ctx, weight); err != nil {
				for _, i := range unit.idx {
					out[i] = notSent(targets[i], err, o.now().Sub(started))
				}
				return nil
			}
			dispatched := o.dispatch(ctx, unit, targets, msg)
			o.global.Release(weight)

			for k, i := range unit.idx {
				d := dispatched[k]
				if d.Err != nil {
					o.recordSideError(ctx, job, targets[i], d.Err)
				}
				attempt := d.Attempt
				if !attempt.Delivered() {
					out[i] = undelivered(targets[i], &attempt, d.Err, o.now().Sub(started))
					continue
				}
				awaits.Add(1)
				go func() {
					defer awaits.Done()
					out[i] = o.await(ctx, waiter, targets[i], &attempt, d.Err, ttl, started)
				}()
			}
			return nil
		})
	}
	_ = g.Wait()
	awaits.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, unit dispatchUnit, targets []model.DeviceTarget, msg model.PushMessage) []push.Dispatched {
	if !unit.bulk {
		t := targets[unit.idx[0]]
		attempt, err := o.pusher.Dispatch(ctx, t, msg)
		return []push.Dispatched{{Attempt: attempt, Err: err}}
	}
	batch := make([]model.DeviceTarget, len(unit.idx))
	for k, i := range unit.idx {
		batch[k] = targets[i]
	}
	res := o.pusher.DispatchBulk(ctx, batch, msg)
	for len(res) < len(batch) {
		res = append(res, push.Dispatched{Attempt: model.PushAttempt{
			JobID:    msg.JobID,
			DeviceID: batch[len(res)].DeviceID,
			Outcome:  model.PushOutcomeTransientError,
		}})
	}
	return res
}

// await waits up to ttl for the device report. The clock starts once the push was accepted.
func (o *Orchestrator) await(
	ctx context.Context,
	waiter *results.Waiter,
	target model.DeviceTarget,
	attempt *model.PushAttempt,
	sideErr error,
	ttl time.Duration,
	started time.Time,
) model.DeviceResult {
	actx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	res := model.DeviceResult{
		Target:        target,
		Attempt:       attempt,
		Attempts:      attempt.AttemptNo,
		DispatchError: sideErr,
	}
	report, err := waiter.Await(actx, target.DeviceID)
	res.Duration = o.now().Sub(started)
	if err != nil {
		res.Status = model.DeviceResultTimeout
		res.ErrorCode = model.ErrCodeDeviceTimeout
		res.ErrorMessage = fmt.Sprintf("no report within %s", ttl)
		if ctx.Err() != nil {
			res.ErrorMessage = "dispatch interrupted: " + ctx.Err().Error()
		}
		return res
	}
	res.Report = &report
	switch report.Status {
	case model.ReportApplied:
		res.Status = model.DeviceResultApplied
	case model.ReportRejected:
		res.Status = model.DeviceResultRejected
		res.ErrorCode = model.ErrCodeDeviceRejected
		res.ErrorMessage = nonEmptyString(report.Reason, "device rejected the command")
	default:
		res.Status = model.DeviceResultFailed
		res.ErrorCode = model.ErrCodeDeviceApplyFailed
		res.ErrorMessage = nonEmptyString(report.Reason, "device reported "+string(report.Status))
	}
	return res
}

func (o *Orchestrator) recordSideError(ctx context.Context, job *model.Job, target model.DeviceTarget, err error) {
	msg := fmt.Sprintf("device %s: %v", target.DeviceID, err)
	if appendErr := o.jobs.AppendError(context.WithoutCancel(ctx), job.ID, msg); appendErr != nil {
		o.logger.ErrorContext(ctx, "failed to record dispatch error on job",
			"job_id", job.ID,
			"device_id", target.DeviceID,
			"error", appendErr,
		)
	}
	emit(ctx, o.events, notify.Event{
		Category:   notify.CategoryDispatchError,
		Severity:   notify.SeverityWarning,
		JobID:      job.ID,
		DeviceID:   target.DeviceID,
		SiteID:     target.SiteID,
		Message:    err.Error(),
		ErrorCode:  model.ErrCodeDispatchInternal,
		OccurredAt: o.now().UTC(),
	})
}

func undelivered(target model.DeviceTarget, attempt *model.PushAttempt, sideErr error, elapsed time.Duration) model.DeviceResult {
	code := deref(attempt.ErrorCode)
	switch {
	case code != "":
	case attempt.Outcome == model.PushOutcomeTokenInvalid:
		code = model.ErrCodeInvalidTarget
	case attempt.Outcome == model.PushOutcomeRejected:
		code = model.ErrCodeProviderPermanent
	default:
		code = model.ErrCodeProviderTransient
	}
	msg := deref(attempt.ErrorMessage)
	if msg == "" {
		msg = "push not delivered: " + string(attempt.Outcome)
	}
	return model.DeviceResult{
		Target:        target,
		Status:        model.DeviceResultNotSent,
		Attempt:       attempt,
		Attempts:      attempt.AttemptNo,
		ErrorCode:     code,
		ErrorMessage:  msg,
		DispatchError: sideErr,
		Duration:      elapsed,
	}
}

func notSent(target model.DeviceTarget, cause error, elapsed time.Duration) model.DeviceResult {
	return model.DeviceResult{
		Target:       target,
		Status:       model.DeviceResultNotSent,
		ErrorCode:    model.ErrCodeDispatchInternal,
		ErrorMessage: "dispatch slot unavailable: " + cause.Error(),
		Duration:     elapsed,
	}
}

func jobMetadata(job *model.Job) map[string]string {
	meta := map[string]string{
		"action":   job.Action,
		"priority": string(job.Priority),
	}
	if job.Segment != nil {
		meta["segment"] = *job.Segment
	}
	if job.ConfigVersion != nil {
		meta["config_version"] = *job.ConfigVersion
	}
	return meta
}
