package config

import (
	"strings"
	"time"
)

// Topic backends.
const (
	TopicBackendNone  = "none"
	TopicBackendRedis = "redis"
	TopicBackendAMQP  = "amqp"
)

// PushConfig configures the gateway, its route table and the providers.
type PushConfig struct {
	// Routes overrides chains per platform, e.g. "android=fcm>topic;ios=apns>topic".
	Routes string `env:"PUSH_ROUTES"`
	// RoutesFile is a YAML route table applied before Routes.
	RoutesFile string `env:"PUSH_ROUTES_FILE"`
	// MaxAttempts bounds provider calls per target across the chain.
	MaxAttempts int `env:"PUSH_MAX_ATTEMPTS" envDefault:"3"`
	// Timeout bounds a single provider request.
	Timeout time.Duration `env:"PUSH_TIMEOUT" envDefault:"10s"`

	FCM   FCMConfig   `envPrefix:"PUSH_FCM_"`
	APNs  APNsConfig  `envPrefix:"PUSH_APNS_"`
	WNS   WNSConfig   `envPrefix:"PUSH_WNS_"`
	Topic TopicConfig `envPrefix:"PUSH_TOPIC_"`
}

// FCMConfig configures Firebase Cloud Messaging.
type FCMConfig struct {
	ProjectID       string `env:"PROJECT_ID"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`
	Endpoint        string `env:"ENDPOINT"`
}

// Enabled reports whether FCM has enough configuration to start.
func (c FCMConfig) Enabled() bool { return c.ProjectID != "" && c.CredentialsFile != "" }

// APNsConfig configures Apple Push Notification service.
type APNsConfig struct {
	TeamID  string `env:"TEAM_ID"`
	KeyID   string `env:"KEY_ID"`
	KeyFile string `env:"KEY_FILE"`
	// Topic is the app bundle id.
	Topic   string `env:"TOPIC"`
	Sandbox bool   `env:"SANDBOX" envDefault:"false"`
}

// Enabled reports whether APNs has enough configuration to start.
func (c APNsConfig) Enabled() bool {
	return c.TeamID != "" && c.KeyID != "" && c.KeyFile != "" && c.Topic != ""
}

// WNSConfig configures Windows Push Notification Services.
type WNSConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	TokenURL     string `env:"TOKEN_URL"`
}

// Enabled reports whether WNS has enough configuration to start.
func (c WNSConfig) Enabled() bool { return c.ClientID != "" && c.ClientSecret != "" }

// TopicConfig configures the per-device topic channel.
type TopicConfig struct {
	// Backend is none, redis or amqp.
	Backend string `env:"BACKEND" envDefault:"redis"`
	// Prefix namespaces topic names; agents must subscribe with the same prefix.
	Prefix       string `env:"PREFIX"        envDefault:"fleetpush"`
	AMQPURL      string `env:"AMQP_URL"`
	AMQPExchange string `env:"AMQP_EXCHANGE" envDefault:"fleet.commands"`
}

// Sanitize applies guardrails to push configuration values.
func (c *PushConfig) Sanitize() {
	c.Routes = strings.TrimSpace(c.Routes)
	c.RoutesFile = strings.TrimSpace(c.RoutesFile)
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.MaxAttempts > 10 {
		c.MaxAttempts = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	c.Topic.Backend = strings.ToLower(strings.TrimSpace(c.Topic.Backend))
	switch c.Topic.Backend {
	case TopicBackendRedis, TopicBackendAMQP:
	default:
		c.Topic.Backend = TopicBackendNone
	}
	if c.Topic.Backend == TopicBackendAMQP && strings.TrimSpace(c.Topic.AMQPURL) == "" {
		c.Topic.Backend = TopicBackendNone
	}
	if c.Topic.Prefix = strings.TrimSpace(c.Topic.Prefix); c.Topic.Prefix == "" {
		c.Topic.Prefix = defaultObservabilityName
	}
}

// RegistryConfig configures device resolution.
type RegistryConfig struct {
	// SegmentSelectors maps segment names to JMESPath filters, "name=expr;name=expr".
	SegmentSelectors string `env:"SEGMENT_SELECTORS"`
	// SegmentsFile is a YAML selector file merged under SegmentSelectors.
	SegmentsFile string `env:"SEGMENTS_FILE"`
	// CacheTTL is how long a site's device list is cached in Redis; 0 disables the cache.
	CacheTTL time.Duration `env:"REGISTRY_CACHE_TTL" envDefault:"15s"`
}

// Sanitize applies guardrails to registry configuration values.
func (c *RegistryConfig) Sanitize() {
	c.SegmentSelectors = strings.TrimSpace(c.SegmentSelectors)
	c.SegmentsFile = strings.TrimSpace(c.SegmentsFile)
	if c.CacheTTL < 0 {
		c.CacheTTL = 0
	}
}
