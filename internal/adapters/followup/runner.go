// Package followup provides the adapter that runs post-change verification checks.
package followup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/fleetpush/config"
	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/data"
	"github.com/target/fleetpush/internal/observability/statsd"
	"github.com/target/fleetpush/internal/service"
)

// Runner wires the post-change monitor from a database handle and runs its tick loop.
type Runner struct {
	monitor *service.PostChangeMonitor
	logger  *slog.Logger
}

// RunnerOptions holds the dependencies for creating a Runner.
type RunnerOptions struct {
	DB     *sql.DB
	Config config.MonitorConfig
	Prober service.HealthProber
	Events service.EventEmitter
	Logger *slog.Logger

	// Optional dependency injections for testing/decoupling
	FollowUps core.FollowUpRepository
	History   core.ConfigHistoryRepository
	Devices   core.DeviceRepository
	Metrics   statsd.Sink
}

// NewRunner validates options, fills repositories from DB where not injected and builds
// the monitor.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if err := wireRepositories(&opts); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	monitor, err := service.NewPostChangeMonitor(service.MonitorOptions{
		FollowUps: opts.FollowUps,
		History:   opts.History,
		Devices:   opts.Devices,
		Prober:    opts.Prober,
		Config:    opts.Config,
		Events:    opts.Events,
		Metrics:   opts.Metrics,
		Logger:    opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("wire post-change monitor: %w", err)
	}
	return &Runner{monitor: monitor, logger: opts.Logger}, nil
}

func wireRepositories(opts *RunnerOptions) error {
	if opts.FollowUps != nil && opts.History != nil && opts.Devices != nil {
		return nil
	}
	if opts.DB == nil {
		return errors.New("database connection is required")
	}
	tp := data.RealTimeProvider{}
	if opts.FollowUps == nil {
		opts.FollowUps = data.NewFollowUpRepo(opts.DB, tp)
	}
	if opts.History == nil {
		opts.History = data.NewConfigHistoryRepo(opts.DB, tp)
	}
	if opts.Devices == nil {
		opts.Devices = data.NewDeviceRepo(opts.DB, tp)
	}
	return nil
}

// Monitor exposes the wired monitor so the dispatcher's aggregator can schedule checks on it.
func (r *Runner) Monitor() *service.PostChangeMonitor {
	return r.monitor
}

// Run starts the follow-up loop and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting follow-up runner")
	return r.monitor.Run(ctx)
}
