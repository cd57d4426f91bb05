package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/target/fleetpush/config"
	"github.com/target/fleetpush/internal/adapters/devauth"
	"github.com/target/fleetpush/internal/adapters/oidc"
	httpx "github.com/target/fleetpush/internal/http"
)

// DeviceAuthConfig contains configuration for device authentication.
type DeviceAuthConfig struct {
	Auth   config.DeviceAuthConfig
	Logger *slog.Logger
}

// BuildDeviceAuthenticator returns the authenticator for the configured mode. OIDC
// discovery runs here, so an unreachable issuer fails startup.
//
//nolint:ireturn // the mode picks the concrete authenticator.
func BuildDeviceAuthenticator(ctx context.Context, cfg DeviceAuthConfig) (httpx.DeviceAuthenticator, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Auth.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Auth.Mode {
	case config.DeviceAuthNone:
		logger.WarnContext(ctx, "device authentication disabled; device endpoints accept any caller")
		return devauth.None{}, nil

	case config.DeviceAuthOIDC:
		v, err := oidc.NewVerifier(ctx, oidc.VerifierConfig{
			IssuerURL:   cfg.Auth.OIDC.IssuerURL,
			ClientID:    cfg.Auth.OIDC.ClientID,
			DeviceClaim: cfg.Auth.OIDC.DeviceClaim,
		})
		if err != nil {
			return nil, fmt.Errorf("create oidc verifier: %w", err)
		}
		logger.InfoContext(ctx, "device authentication via oidc", "issuer", cfg.Auth.OIDC.IssuerURL)
		return v, nil

	default:
		h, err := NewHMACAuthenticator(cfg.Auth.HMAC)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
}

// NewHMACAuthenticator builds the HMAC device token signer and verifier.
func NewHMACAuthenticator(cfg config.HMACAuthConfig) (*devauth.HMAC, error) {
	h, err := devauth.NewHMAC(devauth.Config{
		Secret: cfg.Secret,
		Issuer: cfg.Issuer,
		TTL:    cfg.TokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("create hmac authenticator: %w", err)
	}
	return h, nil
}
