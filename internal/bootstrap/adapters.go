package bootstrap

import (
	"context"
	"fmt"

	"github.com/target/fleetpush/internal/adapters/followup"
	"github.com/target/fleetpush/internal/adapters/jobrunner"
	"github.com/target/fleetpush/internal/adapters/reaper"
)

// newResultRelayBackgroundService consumes reports relayed from other instances so that
// a dispatch waiting here sees reports that arrived elsewhere.
func newResultRelayBackgroundService(deps *serviceStartupDeps, enabled bool) backgroundService {
	return backgroundService{
		name:    "result relay",
		enabled: enabled && deps.cfg.RedisClient != nil,
		start: func(ctx context.Context) error {
			return deps.cfg.Services.Broker.Run(ctx, nil)
		},
	}
}

func newDispatcherBackgroundService(deps *serviceStartupDeps, enabled bool) backgroundService {
	return backgroundService{
		name:    "dispatcher",
		enabled: enabled,
		start: func(ctx context.Context) error {
			svc := deps.cfg.Services
			runner, err := jobrunner.NewRunner(jobrunner.RunnerOptions{
				Jobs:      svc.Repos.Jobs,
				Processor: svc.Orchestrator,
				Config:    deps.cfg.Config.Dispatch,
				Logger:    deps.logger,
				Metrics:   svc.Observability.Metrics,
			})
			if err != nil {
				return fmt.Errorf("create dispatcher: %w", err)
			}
			return runner.Run(ctx)
		},
	}
}

func newMonitorBackgroundService(deps *serviceStartupDeps, enabled bool) backgroundService {
	return backgroundService{
		name:    "post-change monitor",
		enabled: enabled,
		start: func(ctx context.Context) error {
			svc := deps.cfg.Services
			runner, err := followup.NewRunner(followup.RunnerOptions{
				Config:    deps.cfg.Config.Monitor,
				Prober:    svc.Prober,
				Events:    svc.Observability.Events,
				Logger:    deps.logger,
				FollowUps: svc.Repos.FollowUps,
				History:   svc.Repos.History,
				Devices:   svc.Repos.Devices,
				Metrics:   svc.Observability.Metrics,
			})
			if err != nil {
				return fmt.Errorf("create monitor runner: %w", err)
			}
			return runner.Run(ctx)
		},
	}
}

func newReaperBackgroundService(deps *serviceStartupDeps, enabled bool) backgroundService {
	return backgroundService{
		name:    "reaper",
		enabled: enabled,
		start: func(ctx context.Context) error {
			svc := deps.cfg.Services
			runner, err := reaper.NewRunner(reaper.RunnerOptions{
				Config:  deps.cfg.Config.Reaper,
				Logger:  deps.logger,
				Events:  svc.Observability.Events,
				Repo:    svc.Repos.Jobs,
				Metrics: svc.Observability.Metrics,
			})
			if err != nil {
				return fmt.Errorf("create reaper runner: %w", err)
			}
			return runner.Run(ctx)
		},
	}
}
