// Command fleetpush-agent runs the device-side agent: it listens for commands on the
// device's topic, applies them, reports results and serves local health.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/target/fleetpush/config"
	"github.com/target/fleetpush/internal/agent"
	"github.com/target/fleetpush/internal/bootstrap"
	"github.com/target/fleetpush/internal/data"
)

const (
	healthReadHeaderTimeout = 5 * time.Second
	shutdownTimeout         = 10 * time.Second
	httpClientTimeout       = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := bootstrap.LoadAgentConfig()
	if err != nil {
		slog.ErrorContext(ctx, "load agent config", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
	logger := bootstrap.InitLogger(cfg.Logging)
	if err := run(ctx, &cfg, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, cfg *config.AgentConfig, logger *slog.Logger) error {
	services, err := config.ParseServiceURLs(cfg.Services)
	if err != nil {
		return err
	}

	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled {
		redisClient, err = bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() {
			if cerr := redisClient.Close(); cerr != nil {
				logger.ErrorContext(ctx, "close redis failed", "error", cerr)
			}
		}()
	}

	a, err := buildAgent(cfg, services, redisClient, logger)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "starting fleetpush agent",
		"device_id", cfg.DeviceID,
		"site_id", cfg.SiteID,
		"server_url", cfg.ServerURL,
		"services", len(services),
		"subscriber", redisClient != nil)

	g, gctx := errgroup.WithContext(ctx)

	if redisClient != nil {
		sub, subErr := agent.NewSubscriber(agent.SubscriberOptions{
			Client: redisClient,
			Agent:  a,
			Prefix: cfg.TopicPrefix,
			SiteID: cfg.SiteID,
			Logger: logger,
		})
		if subErr != nil {
			return subErr
		}
		g.Go(func() error { return sub.Run(gctx, nil) })
	} else {
		logger.WarnContext(ctx, "redis disabled; commands arrive only through platform push")
	}

	g.Go(func() error {
		a.RunHeartbeats(gctx, cfg.HeartbeatInterval)
		return nil
	})

	srv := &http.Server{
		Addr:              cfg.HealthAddr,
		Handler:           healthMux(a),
		ReadHeaderTimeout: healthReadHeaderTimeout,
	}
	g.Go(func() error {
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", serveErr)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if offErr := a.Offline(shutdownCtx, "agent shutting down"); offErr != nil {
			logger.WarnContext(shutdownCtx, "offline report failed", "error", offErr)
		}
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.InfoContext(ctx, "agent stopped")
	return err
}

func buildAgent(
	cfg *config.AgentConfig,
	services map[string]string,
	redisClient redis.UniversalClient,
	logger *slog.Logger,
) (*agent.Agent, error) {
	client := &http.Client{Timeout: httpClientTimeout}
	opts := agent.Options{
		DeviceID:      cfg.DeviceID,
		ConfigVersion: cfg.ConfigVersion,
		Health:        &agent.ProbeChecker{Services: services, Client: client, ProcRoot: cfg.ProcRoot},
		Reporter: &agent.HTTPReporter{
			BaseURL:    cfg.ServerURL,
			Token:      cfg.Token,
			RetryLimit: cfg.ReportRetries,
			Client:     client,
		},
		Logger: logger,
	}
	if redisClient != nil {
		ledger, err := agent.NewCacheLedger(data.NewRedisCacheRepo(redisClient, cfg.Redis.KeyPrefix), cfg.DeviceID, cfg.LedgerTTL)
		if err != nil {
			return nil, err
		}
		opts.Applied = ledger
	}
	return agent.New(opts)
}

func healthMux(a *agent.Agent) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", agent.HealthHandler(a))
	return mux
}
