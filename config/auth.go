package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DeviceAuthMode selects how device report submissions are authenticated.
type DeviceAuthMode string

const (
	// DeviceAuthNone accepts unauthenticated reports (development and simulation only).
	DeviceAuthNone DeviceAuthMode = "none"
	// DeviceAuthHMAC accepts HS256 JWTs whose subject is the device id.
	DeviceAuthHMAC DeviceAuthMode = "hmac"
	// DeviceAuthOIDC accepts ID tokens issued by an OIDC provider.
	DeviceAuthOIDC DeviceAuthMode = "oidc"
)

// UnmarshalText implements encoding.TextUnmarshaler for DeviceAuthMode.
func (a *DeviceAuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "none", "hmac", "oidc":
		*a = DeviceAuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid DeviceAuthMode: %q (valid options: none, hmac, oidc)", v)
	}
}

// HMACAuthConfig configures shared-secret device tokens.
type HMACAuthConfig struct {
	Secret string `env:"SECRET"`
	// Issuer, when set, must match the iss claim.
	Issuer string `env:"ISSUER" envDefault:"fleetpush"`
	// TokenTTL is the lifetime of tokens minted by the admin CLI.
	TokenTTL time.Duration `env:"TOKEN_TTL" envDefault:"720h"`
}

// OIDCAuthConfig configures verification of IdP-issued device tokens.
type OIDCAuthConfig struct {
	IssuerURL string `env:"ISSUER_URL"`
	// ClientID is the expected audience.
	ClientID string `env:"CLIENT_ID"`
	// DeviceClaim names the claim carrying the device id; sub when empty.
	DeviceClaim string `env:"DEVICE_CLAIM" envDefault:"sub"`
}

// DeviceAuthConfig groups device report authentication settings.
type DeviceAuthConfig struct {
	Mode DeviceAuthMode `env:"DEVICE_AUTH_MODE" envDefault:"hmac"`
	HMAC HMACAuthConfig `envPrefix:"DEVICE_AUTH_HMAC_"`
	OIDC OIDCAuthConfig `envPrefix:"DEVICE_AUTH_OIDC_"`
}

// Sanitize trims values and fills defaults.
func (c *DeviceAuthConfig) Sanitize() {
	if c.Mode == "" {
		c.Mode = DeviceAuthHMAC
	}
	c.HMAC.Issuer = strings.TrimSpace(c.HMAC.Issuer)
	if c.HMAC.TokenTTL <= 0 {
		c.HMAC.TokenTTL = 720 * time.Hour
	}
	c.OIDC.IssuerURL = strings.TrimSpace(c.OIDC.IssuerURL)
	c.OIDC.ClientID = strings.TrimSpace(c.OIDC.ClientID)
	if c.OIDC.DeviceClaim = strings.TrimSpace(c.OIDC.DeviceClaim); c.OIDC.DeviceClaim == "" {
		c.OIDC.DeviceClaim = "sub"
	}
}

// Validate reports settings the selected mode cannot run without.
func (c *DeviceAuthConfig) Validate() error {
	switch c.Mode {
	case DeviceAuthHMAC:
		if len(c.HMAC.Secret) < 32 {
			return errors.New("DEVICE_AUTH_HMAC_SECRET must be at least 32 bytes in hmac mode")
		}
	case DeviceAuthOIDC:
		if c.OIDC.IssuerURL == "" || c.OIDC.ClientID == "" {
			return errors.New("DEVICE_AUTH_OIDC_ISSUER_URL and DEVICE_AUTH_OIDC_CLIENT_ID are required in oidc mode")
		}
	}
	return nil
}
