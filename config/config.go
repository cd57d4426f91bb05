package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - auth.go: Device report authentication
//   - database.go: Database and Redis configuration
//   - http.go: HTTP server configuration
//   - services.go: Service modes and worker configuration
//   - push.go: Push providers, routes and segment selectors
//   - observability.go: Logging, metrics and notifications
type AppConfig struct {
	// IsDev controls development mode behavior (colorized logs, relaxed auth defaults).
	// Set DEV=true or NODE_ENV=development for development mode.
	IsDev bool `env:"DEV" envDefault:"false"`

	// Device report authentication.
	Auth DeviceAuthConfig

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Service mode configuration
	Services string `env:"SERVICES" envDefault:"http,dispatcher,monitor,reaper"`

	Dispatch   DispatchConfig
	Push       PushConfig
	Registry   RegistryConfig
	Monitor    MonitorConfig
	Reaper     ReaperConfig
	Simulation SimulationConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Auth.Sanitize()
	c.Dispatch.Sanitize()
	c.Push.Sanitize()
	c.Registry.Sanitize()
	c.Monitor.Sanitize()
	c.Reaper.Sanitize()
	c.Simulation.Sanitize()
	c.Observability.Sanitize()

	// Check NODE_ENV for dev mode
	c.detectDevMode()
	if c.IsDev && c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = LogFormatText
	}
}

// detectDevMode checks both DEV and NODE_ENV environment variables.
// NODE_ENV is checked as a fallback.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		nodeEnv := strings.ToLower(os.Getenv("NODE_ENV"))
		c.IsDev = nodeEnv == "development" || nodeEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

func (c *AppConfig) serviceEnabled(mode ServiceMode) bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[mode]
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool { return c.serviceEnabled(ServiceModeHTTP) }

// IsDispatcherEnabled returns true if the job dispatcher is enabled.
func (c *AppConfig) IsDispatcherEnabled() bool { return c.serviceEnabled(ServiceModeDispatcher) }

// IsMonitorEnabled returns true if the post-change monitor worker is enabled.
func (c *AppConfig) IsMonitorEnabled() bool { return c.serviceEnabled(ServiceModeMonitor) }

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool { return c.serviceEnabled(ServiceModeReaper) }
