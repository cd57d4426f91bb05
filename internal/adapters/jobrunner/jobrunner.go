// Package jobrunner runs the dispatcher loop: it reserves pending jobs and hands each one to
// the orchestrator while keeping the reservation lease alive.
package jobrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/target/fleetpush/config"
	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/data"
	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/observability/metrics"
	"github.com/target/fleetpush/internal/observability/statsd"
)

// JobProcessor drives one reserved job to a terminal state.
type JobProcessor interface {
	ProcessJob(ctx context.Context, job *model.Job) (*model.JobOutcome, error)
}

// RunnerOptions configures the dispatcher runner.
type RunnerOptions struct {
	Jobs      core.JobRepository
	Processor JobProcessor
	Config    config.DispatchConfig
	Logger    *slog.Logger
	Metrics   statsd.Sink

	// listenRetry is the pause after a failed LISTEN; tests shorten it.
	listenRetry time.Duration
}

// Runner pulls pending jobs and processes them on a fixed pool of workers.
type Runner struct {
	jobs        core.JobRepository
	processor   JobProcessor
	logger      *slog.Logger
	metrics     statsd.Sink
	lease       time.Duration
	workers     int
	poll        time.Duration
	listenRetry time.Duration
}

// NewRunner validates options and constructs a dispatcher runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Processor == nil {
		return nil, errors.New("JobProcessor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	cfg.Sanitize()
	retry := opts.listenRetry
	if retry <= 0 {
		retry = time.Second
	}
	return &Runner{
		jobs:        opts.Jobs,
		processor:   opts.Processor,
		logger:      logger.With("component", "dispatcher"),
		metrics:     opts.Metrics,
		lease:       cfg.JobLease,
		workers:     cfg.Workers,
		poll:        cfg.PollInterval,
		listenRetry: retry,
	}, nil
}

// Run starts the notification listener and worker goroutines and blocks until ctx is
// cancelled or a worker hits a fatal error.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting dispatcher", "workers", r.workers, "lease", r.lease, "poll", r.poll)

	// Derive a cancellable context that we can signal on first fatal error
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wake := make(chan struct{}, r.workers)
	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.listen(ctx, wake)
	}()

	for range r.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.workerLoop(ctx, wake); err != nil {
				// first error wins, cancels all workers
				select {
				case errCh <- err:
					cancel()
				default:
				}
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// listen fans job_added notifications out to idle workers. A failed LISTEN is retried;
// workers still poll in the meantime.
func (r *Runner) listen(ctx context.Context, wake chan<- struct{}) {
	for ctx.Err() == nil {
		if err := r.jobs.WaitForNotification(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.WarnContext(ctx, "job notification listener failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.listenRetry):
			}
			continue
		}
		for range cap(wake) {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}
}

func (r *Runner) workerLoop(ctx context.Context, wake <-chan struct{}) error {
	leaseSeconds := int(r.lease / time.Second)
	for ctx.Err() == nil {
		job, err := r.jobs.ReserveNext(ctx, leaseSeconds)
		switch {
		case err == nil:
			if job != nil {
				metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
					Action:     job.Action,
					Transition: metrics.TransitionReserved,
					Result:     metrics.ResultSuccess,
				})
				r.processJob(ctx, job)
			}
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.waitForWork(ctx, wake) {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("reserve next: %w", err)
		}
	}
	return nil
}

func (r *Runner) waitForWork(ctx context.Context, wake <-chan struct{}) bool {
	timer := time.NewTimer(r.poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-wake:
		return true
	case <-timer.C:
		return true
	}
}

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	start := time.Now()
	logger := r.logger.With("job_id", job.ID, "action", job.Action)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var hb sync.WaitGroup
	hb.Add(1)
	go func() {
		defer hb.Done()
		r.heartbeat(hbCtx, job.ID)
	}()

	outcome, err := r.processor.ProcessJob(ctx, job)
	stopHeartbeat()
	hb.Wait()

	switch {
	case err == nil:
		status := ""
		if outcome != nil {
			status = string(outcome.Status)
		}
		logger.InfoContext(ctx, "job processed", "status", status, "duration", time.Since(start))
	case errors.Is(err, data.ErrJobNotPending):
		logger.DebugContext(ctx, "job claimed elsewhere", "error", err)
	case ctx.Err() != nil:
		logger.WarnContext(ctx, "job interrupted by shutdown", "error", err)
	default:
		logger.ErrorContext(ctx, "process job failed", "error", err)
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			Action:     job.Action,
			Transition: metrics.TransitionFinished,
			Result:     metrics.ResultError,
			Duration:   time.Since(start),
			Err:        err,
		})
	}
}

// heartbeat extends the lease at a third of its length until ctx ends or the job leaves
// pending/sent.
func (r *Runner) heartbeat(ctx context.Context, jobID string) {
	leaseSeconds := int(r.lease / time.Second)
	ticker := time.NewTicker(r.lease / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := r.jobs.Heartbeat(ctx, jobID, leaseSeconds)
			if err != nil {
				if ctx.Err() == nil {
					r.logger.WarnContext(ctx, "job heartbeat failed", "job_id", jobID, "error", err)
				}
				continue
			}
			if !ok {
				return
			}
		}
	}
}
