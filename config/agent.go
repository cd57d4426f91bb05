package config

import (
	"fmt"
	"strings"
	"time"
)

// AgentConfig configures the standalone device agent binary.
type AgentConfig struct {
	DeviceID string `env:"AGENT_DEVICE_ID,required"`
	SiteID   string `env:"AGENT_SITE_ID,required"`

	// ServerURL is the fleetpush HTTP API the agent reports to.
	ServerURL string `env:"AGENT_SERVER_URL" envDefault:"http://localhost:8080"`
	// Token is the bearer token sent with reports.
	Token string `env:"AGENT_TOKEN"`

	// ConfigVersion seeds the device state before the first update_config.
	ConfigVersion string `env:"AGENT_CONFIG_VERSION"`

	// Services lists local health endpoints as "name=url;name=url".
	Services string `env:"AGENT_SERVICES"`
	// ProcRoot is where /proc is mounted; containers may bind the host's elsewhere.
	ProcRoot string `env:"AGENT_PROC_ROOT" envDefault:"/proc"`

	// HealthAddr serves GET /health for the platform health prober.
	HealthAddr string `env:"AGENT_HEALTH_ADDR" envDefault:":9090"`

	HeartbeatInterval time.Duration `env:"AGENT_HEARTBEAT_INTERVAL" envDefault:"30s"`
	// LedgerTTL is how long applied job ids are remembered across restarts.
	LedgerTTL time.Duration `env:"AGENT_LEDGER_TTL" envDefault:"24h"`
	// ReportRetries bounds report resubmission on 5xx and network errors.
	ReportRetries int `env:"AGENT_REPORT_RETRIES" envDefault:"3"`

	// TopicPrefix must match PUSH_TOPIC_PREFIX on the server.
	TopicPrefix string `env:"PUSH_TOPIC_PREFIX" envDefault:"fleetpush"`

	Redis   RedisConfig `envPrefix:"REDIS_"`
	Logging LoggingConfig
}

// Sanitize applies guardrails to agent configuration values.
func (c *AgentConfig) Sanitize() {
	c.ServerURL = strings.TrimRight(strings.TrimSpace(c.ServerURL), "/")
	if c.ProcRoot == "" {
		c.ProcRoot = "/proc"
	}
	if c.HeartbeatInterval < time.Second {
		c.HeartbeatInterval = time.Second
	}
	if c.LedgerTTL < time.Minute {
		c.LedgerTTL = time.Minute
	}
	if c.ReportRetries < 0 {
		c.ReportRetries = 0
	}
	if c.TopicPrefix = strings.TrimSpace(c.TopicPrefix); c.TopicPrefix == "" {
		c.TopicPrefix = defaultObservabilityName
	}
	c.Logging.Sanitize()
}

// ParseServiceURLs parses "name=url;name=url" into a map.
func ParseServiceURLs(spec string) (map[string]string, error) {
	out := map[string]string{}
	for _, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, url, ok := strings.Cut(entry, "=")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("agent service %q: expected name=url", entry)
		}
		out[name] = url
	}
	return out, nil
}
