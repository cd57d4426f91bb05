package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/fleetpush/config"
	"github.com/target/fleetpush/internal/agent"
	"github.com/target/fleetpush/internal/data"
	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/observability/notify/pagerduty"
	"github.com/target/fleetpush/internal/observability/notify/slack"
	"github.com/target/fleetpush/internal/observability/statsd"
	"github.com/target/fleetpush/internal/push"
	"github.com/target/fleetpush/internal/push/simulated"
	"github.com/target/fleetpush/internal/service"
	"github.com/target/fleetpush/internal/service/eventsink"
	"github.com/target/fleetpush/internal/service/registry"
	"github.com/target/fleetpush/internal/service/results"
)

const shutdownWaitTimeout = 30 * time.Second

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Repos         *Repositories
	Registry      *registry.Service
	Gateway       *push.Gateway
	Providers     PushProviders
	Broker        *results.Broker
	Aggregator    *service.OutcomeAggregator
	Monitor       *service.PostChangeMonitor
	Orchestrator  *service.Orchestrator
	Reports       *service.ReportService
	Prober        service.HealthProber
	Fleet         *agent.Fleet
	Observability ObservabilityContainer
}

// ObservabilityContainer groups shared observability dependencies.
type ObservabilityContainer struct {
	Metrics statsd.Sink
	Events  *eventsink.Service
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// Repositories groups data adapters backing service ports; no business rules here.
type Repositories struct {
	Jobs      *data.JobRepo
	Devices   *data.DeviceRepo
	Sites     *data.SiteRepo
	Attempts  *data.PushAttemptRepo
	Outcomes  *data.OutcomeRepo
	History   *data.ConfigHistoryRepo
	FollowUps *data.FollowUpRepo
	Audit     *data.AuditEventRepo
	// Cache is nil when redis is disabled.
	Cache *data.RedisCacheRepo
}

// BuildRepositories builds the postgres and redis repositories.
func BuildRepositories(db *sql.DB, client redis.UniversalClient, redisCfg config.RedisConfig, logger *slog.Logger) *Repositories {
	tp := data.RealTimeProvider{}
	repos := &Repositories{
		Jobs:      data.NewJobRepo(db, data.RepoConfig{Logger: logger, TimeProvider: tp}),
		Devices:   data.NewDeviceRepo(db, tp),
		Sites:     data.NewSiteRepo(db, tp),
		Attempts:  data.NewPushAttemptRepo(db, tp),
		Outcomes:  data.NewOutcomeRepo(db, tp),
		History:   data.NewConfigHistoryRepo(db, tp),
		FollowUps: data.NewFollowUpRepo(db, tp),
		Audit:     data.NewAuditEventRepo(db, tp),
	}
	if client != nil {
		repos.Cache = data.NewRedisCacheRepo(client, redisCfg.KeyPrefix)
	}
	return repos
}

// buildObservability configures metrics and event sinks.
func buildObservability(logger *slog.Logger, cfg config.ObservabilityConfig, audit *data.AuditEventRepo) ObservabilityContainer {
	var metricsSink statsd.Sink
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  logger,
		})
		if err != nil {
			logger.Error("failed to initialise statsd client", "error", err)
		} else {
			metricsSink = client
		}
	}

	return ObservabilityContainer{
		Metrics: metricsSink,
		Events:  buildEventSinks(logger, cfg.Notifications, audit),
	}
}

// buildEventSinks registers the audit table and log as audit sinks, and Slack and
// PagerDuty as error sinks when configured.
func buildEventSinks(logger *slog.Logger, cfg config.ObservabilityNotificationsConfig, audit *data.AuditEventRepo) *eventsink.Service {
	opts := eventsink.Options{
		Logger: logger,
		Audit: []eventsink.SinkRegistration{
			{Name: "log", Sink: eventsink.LogSink(logger)},
		},
	}
	if audit != nil {
		opts.Audit = append(opts.Audit, eventsink.SinkRegistration{Name: "audit_events", Sink: eventsink.RepoSink(audit)})
	}

	if !cfg.Enabled {
		return eventsink.NewService(opts)
	}

	if cfg.Slack.Enabled {
		client, err := slack.NewClient(slack.Config{
			WebhookURL:   cfg.Slack.WebhookURL,
			Channel:      cfg.Slack.Channel,
			Username:     cfg.Slack.Username,
			Timeout:      cfg.Timeout,
			RetryLimit:   cfg.RetryLimit,
			JobURLPrefix: cfg.Slack.JobURLPrefix,
		})
		if err != nil {
			logger.Error("failed to initialise slack notifier", "error", err)
		} else {
			opts.Errors = append(opts.Errors, eventsink.SinkRegistration{Name: "slack", Sink: client})
		}
	}

	if cfg.PagerDuty.Enabled {
		client, err := pagerduty.NewClient(pagerduty.Config{
			RoutingKey: cfg.PagerDuty.RoutingKey,
			Source:     cfg.PagerDuty.Source,
			Component:  cfg.PagerDuty.Component,
			Timeout:    cfg.Timeout,
			RetryLimit: cfg.RetryLimit,
		})
		if err != nil {
			logger.Error("failed to initialise pagerduty notifier", "error", err)
		} else {
			opts.Errors = append(opts.Errors, eventsink.SinkRegistration{Name: "pagerduty", Sink: client})
		}
	}

	return eventsink.NewService(opts)
}

// registryOptions maps registry configuration onto registry.Options. A cache TTL of
// zero turns the per-site device cache off.
func registryOptions(
	cfg config.RegistryConfig,
	repos *Repositories,
	selectors map[string]string,
	logger *slog.Logger,
) registry.Options {
	opts := registry.Options{
		Devices:   repos.Devices,
		CacheTTL:  cfg.CacheTTL,
		Selectors: selectors,
		Logger:    logger,
	}
	if cfg.CacheTTL <= 0 {
		opts.CacheTTL = -1
		return opts
	}
	if repos.Cache != nil {
		opts.Cache = repos.Cache
	}
	return opts
}

// NewServices wires repositories, push delivery, result brokering and the job pipeline.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service deps with config are required")
	}
	cfg := deps.Config
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	repos := BuildRepositories(deps.DB, deps.RedisClient, cfg.Redis, logger)
	obs := buildObservability(logger, cfg.Observability, repos.Audit)
	c := ServiceContainer{Repos: repos, Observability: obs}

	selectors, err := LoadSegmentSelectors(cfg.Registry)
	if err != nil {
		return c, err
	}
	if c.Registry, err = registry.New(registryOptions(cfg.Registry, repos, selectors, logger)); err != nil {
		return c, fmt.Errorf("create registry: %w", err)
	}

	c.Broker = results.NewBroker(results.Options{Relay: deps.RedisClient, Logger: logger})

	if c.Reports, err = service.NewReportService(service.ReportServiceOptions{
		Devices: repos.Devices,
		Results: c.Broker,
		Events:  obs.Events,
		Cache:   c.Registry,
		Logger:  logger,
	}); err != nil {
		return c, fmt.Errorf("create report service: %w", err)
	}

	httpProber := &service.HTTPProber{Client: &http.Client{Timeout: cfg.Monitor.ProbeTimeout}}
	prober := service.PlatformProber{Default: httpProber}
	if cfg.Simulation.Enabled {
		if c.Fleet, err = newSimulatedFleet(cfg.Simulation, c.Reports, logger); err != nil {
			return c, err
		}
		prober.Simulated = service.HealthProberFunc(c.Fleet.Probe)
		logger.Warn("simulation mode enabled; simulated devices are handled in-process")
	}
	c.Prober = prober

	var fleet simulated.Fleet
	if c.Fleet != nil {
		fleet = c.Fleet
	}
	if c.Providers, err = BuildPushProviders(PushProvidersConfig{
		Push:        cfg.Push,
		Simulation:  cfg.Simulation,
		RedisClient: deps.RedisClient,
		Fleet:       fleet,
		Logger:      logger,
	}); err != nil {
		return c, err
	}

	routes, err := LoadRoutes(cfg.Push)
	if err != nil {
		return c, err
	}
	if c.Gateway, err = push.NewGateway(push.GatewayOptions{
		Providers:   c.Providers.Providers,
		Routes:      routes,
		MaxAttempts: cfg.Push.MaxAttempts,
		Attempts:    repos.Attempts,
		Flagger:     c.Registry,
		Metrics:     obs.Metrics,
		Logger:      logger,
	}); err != nil {
		return c, fmt.Errorf("create push gateway: %w", err)
	}

	if c.Monitor, err = service.NewPostChangeMonitor(service.MonitorOptions{
		FollowUps: repos.FollowUps,
		History:   repos.History,
		Devices:   repos.Devices,
		Prober:    c.Prober,
		Config:    cfg.Monitor,
		Events:    obs.Events,
		Metrics:   obs.Metrics,
		Logger:    logger,
	}); err != nil {
		return c, fmt.Errorf("create post-change monitor: %w", err)
	}

	if c.Aggregator, err = service.NewOutcomeAggregator(service.AggregatorOptions{
		Outcomes:     repos.Outcomes,
		Monitor:      c.Monitor,
		MonitorDelay: cfg.Monitor.Delay,
		Events:       obs.Events,
		Metrics:      obs.Metrics,
		Logger:       logger,
	}); err != nil {
		return c, fmt.Errorf("create outcome aggregator: %w", err)
	}

	if c.Orchestrator, err = service.NewOrchestrator(service.OrchestratorOptions{
		Jobs:         repos.Jobs,
		Sites:        repos.Sites,
		Targets:      c.Registry,
		Pusher:       c.Gateway,
		Results:      c.Broker,
		Aggregator:   c.Aggregator,
		Prober:       c.Prober,
		Config:       cfg.Dispatch,
		ProbeTimeout: cfg.Monitor.ProbeTimeout,
		Events:       obs.Events,
		Metrics:      obs.Metrics,
		Logger:       logger,
	}); err != nil {
		return c, fmt.Errorf("create orchestrator: %w", err)
	}

	return c, nil
}

// newSimulatedFleet builds the in-process agents for simulated devices. Their reports go
// straight to the report service, the same path HTTP reports take.
func newSimulatedFleet(cfg config.SimulationConfig, reports *service.ReportService, logger *slog.Logger) (*agent.Fleet, error) {
	health := &agent.SimulatedHealth{
		DegradedPercent:  cfg.DegradedPercent,
		UnhealthyPercent: cfg.UnhealthyPercent,
	}
	reporter := agent.ReporterFunc(func(ctx context.Context, report model.DeviceReport) error {
		_, err := reports.Ingest(ctx, &report)
		return err
	})
	fleet, err := agent.NewFleet(agent.SimulatedFactory(health, reporter, agent.Options{
		Logger: logger.With("component", "simulated_fleet"),
	}))
	if err != nil {
		return nil, fmt.Errorf("create simulated fleet: %w", err)
	}
	return fleet, nil
}

// ServiceOrchestrationConfig contains dependencies for running services.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

type serviceStartupDeps struct {
	ctx    context.Context
	cfg    *ServiceOrchestrationConfig
	logger *slog.Logger
	errCh  chan error
}

// backgroundService describes a startable background component.
type backgroundService struct {
	name    string
	enabled bool
	start   func(context.Context) error
}

// backgroundServiceHandle tracks a running background service.
type backgroundServiceHandle struct {
	name string
	done <-chan struct{}
}

func launchBackground(ctx context.Context, deps *serviceStartupDeps, descriptor backgroundService) <-chan struct{} {
	if deps == nil || !descriptor.enabled {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := descriptor.start(ctx); err != nil {
			errMsg := fmt.Errorf("%s failed: %w", descriptor.name, err)
			select {
			case deps.errCh <- errMsg:
			case <-ctx.Done():
			default:
				deps.logger.WarnContext(ctx, "dropping background service error", "service", descriptor.name, "error", errMsg)
			}
		}
	}()

	deps.logger.InfoContext(ctx, "background service started", "service", descriptor.name)
	return done
}

func startBackgroundServices(deps *serviceStartupDeps, services []backgroundService) []backgroundServiceHandle {
	handles := make([]backgroundServiceHandle, 0, len(services))
	for _, svc := range services {
		done := launchBackground(deps.ctx, deps, svc)
		if done == nil {
			continue
		}
		handles = append(handles, backgroundServiceHandle{name: svc.name, done: done})
	}
	return handles
}

func buildBackgroundServices(deps *serviceStartupDeps) []backgroundService {
	cfg := deps.cfg.Config
	return []backgroundService{
		newResultRelayBackgroundService(deps, cfg.IsHTTPServerEnabled() || cfg.IsDispatcherEnabled()),
		newDispatcherBackgroundService(deps, cfg.IsDispatcherEnabled()),
		newMonitorBackgroundService(deps, cfg.IsMonitorEnabled()),
		newReaperBackgroundService(deps, cfg.IsReaperEnabled()),
	}
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil || cfg.Config == nil {
		return errors.New("service orchestration config with AppConfig is required")
	}
	serviceCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}
	deps := &serviceStartupDeps{
		ctx:    serviceCtx,
		cfg:    cfg,
		logger: logger,
		errCh:  make(chan error, errorChannelBufferSize(enabledServices)),
	}

	var httpServer *http.Server
	if cfg.Config.IsHTTPServerEnabled() {
		if httpServer, err = StartHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
			ErrCh:    deps.errCh,
		}); err != nil {
			return err
		}
	}
	backgrounds := startBackgroundServices(deps, buildBackgroundServices(deps))

	return waitForShutdown(shutdownConfig{
		ctx:         serviceCtx,
		cancel:      cancel,
		errCh:       deps.errCh,
		httpServer:  httpServer,
		httpTimeout: cfg.Config.HTTP.ShutdownTimeout,
		providers:   cfg.Services.Providers,
		logger:      logger,
		backgrounds: backgrounds,
	})
}

func errorChannelCapacity(enabled map[config.ServiceMode]bool) int {
	count := 0
	for _, mode := range config.ValidServiceModes() {
		if enabled[mode] {
			count++
		}
	}
	return count
}

// errorChannelBufferSize leaves room for the result relay next to the enabled services.
func errorChannelBufferSize(enabled map[config.ServiceMode]bool) int {
	return errorChannelCapacity(enabled) + 1
}

// shutdownConfig contains dependencies for graceful shutdown.
type shutdownConfig struct {
	ctx         context.Context
	cancel      context.CancelFunc
	errCh       <-chan error
	httpServer  *http.Server
	httpTimeout time.Duration
	providers   PushProviders
	logger      *slog.Logger
	backgrounds []backgroundServiceHandle
}

// waitForShutdown waits for shutdown signal or service error.
func waitForShutdown(cfg shutdownConfig) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
		cfg.logger.Info("shutting down services...")
		cfg.cancel()
		return gracefulStop(cfg)
	case err := <-cfg.errCh:
		cfg.logger.Error("service error", "error", err)
		cfg.cancel()
		if stopErr := gracefulStop(cfg); stopErr != nil {
			cfg.logger.Error("graceful stop failed", "error", stopErr)
		}
		return err
	}
}

// gracefulStop drains HTTP, waits for background services, then closes providers.
func gracefulStop(cfg shutdownConfig) error {
	var errs []error
	if cfg.httpServer != nil {
		if err := ShutdownHTTPServer(ShutdownConfig{
			Server:  cfg.httpServer,
			Timeout: cfg.httpTimeout,
			Logger:  cfg.logger,
		}); err != nil {
			errs = append(errs, err)
		}
	}

	for _, svc := range cfg.backgrounds {
		waitForService(svc.done, svc.name, cfg.logger)
	}

	if err := cfg.providers.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close push providers: %w", err))
	}
	return errors.Join(errs...)
}

// waitForService waits for a service to finish with timeout.
func waitForService(done <-chan struct{}, name string, logger *slog.Logger) {
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info(name + " stopped")
	case <-time.After(shutdownWaitTimeout):
		logger.Warn("timeout waiting for " + name + " to stop")
	}
}
