package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/target/fleetpush/config"
	"github.com/target/fleetpush/internal/push"
	"github.com/target/fleetpush/internal/push/apns"
	"github.com/target/fleetpush/internal/push/fcm"
	"github.com/target/fleetpush/internal/push/simulated"
	"github.com/target/fleetpush/internal/push/topic"
	"github.com/target/fleetpush/internal/push/wns"
	"github.com/target/fleetpush/internal/service/registry"
)

// PushProvidersConfig contains the inputs for building push providers.
type PushProvidersConfig struct {
	Push        config.PushConfig
	Simulation  config.SimulationConfig
	RedisClient redis.UniversalClient
	// Fleet receives simulated deliveries. Required when simulation is enabled.
	Fleet  simulated.Fleet
	Logger *slog.Logger
}

// PushProviders is the set of configured providers plus whatever must be closed on shutdown.
type PushProviders struct {
	Providers []push.Provider
	Closers   []io.Closer
}

// Close releases provider connections.
func (p PushProviders) Close() error {
	var errs []error
	for _, c := range p.Closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BuildPushProviders builds every provider with enough configuration to start. Missing
// credentials leave a provider out; routes that name it are trimmed by the gateway.
func BuildPushProviders(cfg PushProvidersConfig) (PushProviders, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var out PushProviders
	pc := cfg.Push

	if pc.FCM.Enabled() {
		p, err := fcm.New(fcm.Config{
			ProjectID:       pc.FCM.ProjectID,
			CredentialsFile: pc.FCM.CredentialsFile,
			Endpoint:        pc.FCM.Endpoint,
			Timeout:         pc.Timeout,
		})
		if err != nil {
			return out, fmt.Errorf("create fcm provider: %w", err)
		}
		out.Providers = append(out.Providers, p)
	}

	if pc.APNs.Enabled() {
		endpoint := apns.ProductionEndpoint
		if pc.APNs.Sandbox {
			endpoint = apns.SandboxEndpoint
		}
		p, err := apns.New(apns.Config{
			TeamID:   pc.APNs.TeamID,
			KeyID:    pc.APNs.KeyID,
			KeyFile:  pc.APNs.KeyFile,
			Topic:    pc.APNs.Topic,
			Endpoint: endpoint,
			Timeout:  pc.Timeout,
		})
		if err != nil {
			return out, fmt.Errorf("create apns provider: %w", err)
		}
		out.Providers = append(out.Providers, p)
	}

	if pc.WNS.Enabled() {
		p, err := wns.New(wns.Config{
			ClientID:     pc.WNS.ClientID,
			ClientSecret: pc.WNS.ClientSecret,
			TokenURL:     pc.WNS.TokenURL,
			Timeout:      pc.Timeout,
		})
		if err != nil {
			return out, fmt.Errorf("create wns provider: %w", err)
		}
		out.Providers = append(out.Providers, p)
	}

	tp, err := buildTopicProvider(pc.Topic, cfg.RedisClient, logger)
	if err != nil {
		return out, err
	}
	if tp != nil {
		out.Providers = append(out.Providers, tp)
		out.Closers = append(out.Closers, tp)
	}

	if cfg.Simulation.Enabled {
		if cfg.Fleet == nil {
			return out, errors.New("simulation enabled without a simulated fleet")
		}
		p, simErr := simulated.New(cfg.Fleet, simulated.Config{TransientPercent: cfg.Simulation.TransientPercent})
		if simErr != nil {
			return out, fmt.Errorf("create simulated provider: %w", simErr)
		}
		out.Providers = append(out.Providers, p)
	}

	names := make([]string, 0, len(out.Providers))
	for _, p := range out.Providers {
		names = append(names, p.Name())
	}
	logger.Info("push providers configured", "providers", names)
	return out, nil
}

func buildTopicProvider(cfg config.TopicConfig, client redis.UniversalClient, logger *slog.Logger) (*topic.Provider, error) {
	var (
		pub topic.Publisher
		err error
	)
	switch cfg.Backend {
	case config.TopicBackendRedis:
		if client == nil {
			logger.Warn("topic backend redis selected but redis is disabled; topic provider off")
			return nil, nil
		}
		pub, err = topic.NewRedisPublisher(client)
	case config.TopicBackendAMQP:
		pub, err = topic.DialAMQP(topic.AMQPConfig{
			URL:      cfg.AMQPURL,
			Exchange: cfg.AMQPExchange,
			Logger:   logger,
		})
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create %s topic publisher: %w", cfg.Backend, err)
	}
	p, err := topic.New(pub, cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("create topic provider: %w", err)
	}
	return p, nil
}

// LoadRoutes layers the routes file and then the inline routes over the defaults.
func LoadRoutes(cfg config.PushConfig) (push.RouteTable, error) {
	routes := push.DefaultRoutes()
	if cfg.RoutesFile != "" {
		fromFile, err := push.LoadRoutesFile(cfg.RoutesFile)
		if err != nil {
			return nil, err
		}
		routes = routes.Merge(fromFile)
	}
	if cfg.Routes != "" {
		inline, err := push.ParseRoutes(cfg.Routes)
		if err != nil {
			return nil, fmt.Errorf("parse PUSH_ROUTES: %w", err)
		}
		routes = routes.Merge(inline)
	}
	return routes, nil
}

// LoadSegmentSelectors layers inline selectors over the selectors file.
func LoadSegmentSelectors(cfg config.RegistryConfig) (map[string]string, error) {
	selectors := map[string]string{}
	if cfg.SegmentsFile != "" {
		fromFile, err := registry.LoadSelectorsFile(cfg.SegmentsFile)
		if err != nil {
			return nil, err
		}
		for k, v := range fromFile {
			selectors[k] = v
		}
	}
	if cfg.SegmentSelectors != "" {
		inline, err := registry.ParseSelectors(cfg.SegmentSelectors)
		if err != nil {
			return nil, err
		}
		for k, v := range inline {
			selectors[k] = v
		}
	}
	return selectors, nil
}
