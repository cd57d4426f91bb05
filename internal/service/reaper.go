package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/target/fleetpush/config"
	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/domain/model"
	obserrors "github.com/target/fleetpush/internal/observability/errors"
	"github.com/target/fleetpush/internal/observability/metrics"
	"github.com/target/fleetpush/internal/observability/notify"
	"github.com/target/fleetpush/internal/observability/statsd"
)

// Reaper task names used in logs and metrics.
const (
	ReaperTaskFailPending     = "fail_pending"
	ReaperTaskFailAbandoned   = "fail_abandoned"
	ReaperTaskExpireFollowUps = "expire_followups"
	ReaperTaskPruneAttempts   = "prune_attempts"
	ReaperTaskPruneAudit      = "prune_audit"
)

// ReaperServiceOptions groups dependencies for ReaperService.
type ReaperServiceOptions struct {
	Repo    core.ReaperRepository // Required: reaper repository
	Config  config.ReaperConfig   // Required: reaper configuration
	Events  EventEmitter          // Optional: error events for jobs failed by the reaper
	Logger  *slog.Logger          // Optional: structured logger
	Metrics statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// ReaperService fails jobs nobody will finish and prunes old rows.
//
// Each pass:
// - fails pending jobs that were never dispatched
// - fails sent jobs whose dispatcher stopped heartbeating (JOB_ABANDONED)
// - expires follow-up checks stuck past their window
// - prunes push attempts and audit events past retention.
type ReaperService struct {
	repo    core.ReaperRepository
	config  config.ReaperConfig
	events  EventEmitter
	logger  *slog.Logger
	metrics statsd.Sink
}

// NewReaperService constructs a new ReaperService.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
	if opts.Repo == nil {
		return nil, errors.New("ReaperRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"pending_max_age", opts.Config.PendingMaxAge,
			"sent_max_age", opts.Config.SentMaxAge,
			"followup_max_age", opts.Config.FollowUpMaxAge,
		)
	}

	return &ReaperService{
		repo:    opts.Repo,
		config:  opts.Config,
		events:  opts.Events,
		logger:  logger,
		metrics: opts.Metrics,
	}, nil
}

// Run starts the reaper loop and runs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (s *ReaperService) Run(ctx context.Context) error {
	if s.logger != nil {
		s.logger.InfoContext(ctx, "starting reaper service", "interval", s.config.Interval)
	}

	// Spread instances that start together.
	s.waitWithJitter(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	if err := s.RunOnce(ctx); err != nil {
		s.logCleanupError(err, "initial cleanup")
	}

	return s.runLoop(ctx, ticker)
}

// waitWithJitter sleeps a random delay up to 10% of the interval.
func (s *ReaperService) waitWithJitter(ctx context.Context) {
	maxJitter := int64(s.config.Interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (s *ReaperService) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			if s.logger != nil {
				s.logger.InfoContext(ctx, "reaper service stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logCleanupError(err, "cleanup")
			}
		}
	}
}

type cleanupFunc func(context.Context) (int64, error)

type cleanupStep struct {
	task   string
	fn     cleanupFunc
	maxAge time.Duration
}

type cleanupStepOutcome struct {
	task         string
	count        int64
	metricErr    error
	aggregateErr error
	canceled     bool
}

func (s *ReaperService) steps() []cleanupStep {
	prune := func(fn func(context.Context, core.DeleteOlderThanParams) (int64, error), maxAge time.Duration) cleanupFunc {
		return func(ctx context.Context) (int64, error) {
			return fn(ctx, core.DeleteOlderThanParams{MaxAge: maxAge, BatchSize: s.config.BatchSize})
		}
	}
	return []cleanupStep{
		{
			task:   ReaperTaskFailPending,
			maxAge: s.config.PendingMaxAge,
			fn: func(ctx context.Context) (int64, error) {
				return s.repo.FailStalePendingJobs(ctx, s.config.PendingMaxAge, s.config.BatchSize)
			},
		},
		{
			task:   ReaperTaskFailAbandoned,
			maxAge: s.config.SentMaxAge,
			fn: func(ctx context.Context) (int64, error) {
				return s.repo.FailAbandonedSentJobs(ctx, s.config.SentMaxAge, s.config.BatchSize)
			},
		},
		{
			task:   ReaperTaskExpireFollowUps,
			maxAge: s.config.FollowUpMaxAge,
			fn:     prune(s.repo.ExpireStaleFollowUps, s.config.FollowUpMaxAge),
		},
		{
			task:   ReaperTaskPruneAttempts,
			maxAge: s.config.AttemptsMaxAge,
			fn:     prune(s.repo.DeleteOldPushAttempts, s.config.AttemptsMaxAge),
		},
		{
			task:   ReaperTaskPruneAudit,
			maxAge: s.config.AuditMaxAge,
			fn:     prune(s.repo.DeleteOldAuditEvents, s.config.AuditMaxAge),
		},
	}
}

// RunOnce performs every cleanup step once. A failing step does not stop the others.
func (s *ReaperService) RunOnce(ctx context.Context) error {
	start := time.Now()
	var (
		errs               []error
		allContextCanceled = true
		outcomes           []cleanupStepOutcome
	)

	for _, step := range s.steps() {
		outcome := s.executeCleanupStep(ctx, step)
		outcomes = append(outcomes, outcome)
		if outcome.aggregateErr != nil {
			errs = append(errs, outcome.aggregateErr)
			allContextCanceled = allContextCanceled && outcome.canceled
		}
	}

	s.emitCleanupMetrics(outcomes, time.Since(start))
	s.emitFailedJobEvents(ctx, outcomes)

	if len(errs) > 0 {
		joined := errors.Join(errs...)
		if allContextCanceled && isContextCancellation(joined) {
			return context.Canceled
		}
		return fmt.Errorf("cleanup failed: %w", joined)
	}

	return nil
}

// executeCleanupStep repeats fn until a batch affects no rows.
func (s *ReaperService) executeCleanupStep(ctx context.Context, step cleanupStep) cleanupStepOutcome {
	var (
		total int64
		err   error
	)
	for {
		var count int64
		count, err = step.fn(ctx)
		total += count
		if err != nil || count == 0 {
			break
		}
		if ctx.Err() != nil {
			err = ctx.Err()
			break
		}
	}

	outcome := cleanupStepOutcome{
		task:      step.task,
		count:     total,
		metricErr: suppressContextCancellation(err),
		canceled:  isContextCancellation(err),
	}
	if err != nil {
		outcome.aggregateErr = fmt.Errorf("%s: %w", step.task, err)
	}
	if total > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "reaper step affected rows",
			"task", step.task,
			"count", total,
			"max_age", step.maxAge,
		)
	}
	return outcome
}

func (s *ReaperService) emitFailedJobEvents(ctx context.Context, outcomes []cleanupStepOutcome) {
	for _, o := range outcomes {
		if o.count == 0 {
			continue
		}
		var msg, code string
		switch o.task {
		case ReaperTaskFailPending:
			msg = "pending jobs never dispatched were failed"
			code = model.ErrCodeDispatchInternal
		case ReaperTaskFailAbandoned:
			msg = "dispatched jobs abandoned by their dispatcher were failed"
			code = model.ErrCodeJobAbandoned
		default:
			continue
		}
		emit(ctx, s.events, notify.Event{
			Category:   notify.CategoryJobFailed,
			Severity:   notify.SeverityError,
			Message:    msg,
			ErrorCode:  code,
			OccurredAt: time.Now().UTC(),
			Metadata: map[string]string{
				"task":  o.task,
				"count": strconv.FormatInt(o.count, 10),
			},
		})
	}
}

func (s *ReaperService) emitCleanupMetrics(outcomes []cleanupStepOutcome, elapsed time.Duration) {
	if s.metrics == nil {
		return
	}

	var (
		totalCount int64
		stepErrs   = make([]error, 0, len(outcomes))
	)
	for _, o := range outcomes {
		totalCount += o.count
		stepErrs = append(stepErrs, o.metricErr)
		metrics.EmitReaper(s.metrics, metrics.ReaperMetric{Task: o.task, Affected: o.count, Err: o.metricErr})
	}
	firstErr := firstError(stepErrs...)

	result := metrics.ResultSuccess
	if firstErr != nil {
		result = metrics.ResultError
	} else if totalCount == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}
	if firstErr != nil {
		if class := obserrors.Classify(firstErr); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("reaper.cleanup", 1, tags)
	if elapsed > 0 {
		s.metrics.Timing("reaper.cleanup_duration", elapsed, metrics.CloneTags(tags))
	}
	if firstErr == nil {
		s.metrics.Gauge("reaper.last_success_epoch", float64(time.Now().Unix()), nil)
	}
}

func (s *ReaperService) logCleanupError(err error, label string) {
	if err == nil || s.logger == nil {
		return
	}

	if isContextCancellation(err) {
		s.logger.Debug(label+" cancelled by context", "error", err)
		return
	}

	s.logger.Error(label+" failed", "error", err)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
