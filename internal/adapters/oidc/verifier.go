// Package oidc authenticates device report submissions with ID tokens issued by an OIDC
// provider.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	apperrors "github.com/target/fleetpush/internal/errors"
)

// VerifierConfig holds configuration for the device token verifier.
type VerifierConfig struct {
	// IssuerURL is the provider's issuer; a trailing discovery path is tolerated.
	IssuerURL string
	// ClientID is the audience device tokens must carry.
	ClientID string
	// DeviceClaim names the claim holding the device id; sub when empty.
	DeviceClaim string
	HTTPClient  *http.Client // Optional, defaults to a client with a 30s timeout
}

// Verifier maps a verified ID token to a device id.
type Verifier struct {
	verifier *gooidc.IDTokenVerifier
	claim    string
}

// NewVerifier discovers the provider's keys and constructs a Verifier.
func NewVerifier(ctx context.Context, cfg VerifierConfig) (*Verifier, error) {
	if cfg.IssuerURL == "" {
		return nil, errors.New("issuer URL is required")
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	issuer := strings.TrimSuffix(cfg.IssuerURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}
	return newVerifier(op.Verifier(&gooidc.Config{ClientID: cfg.ClientID}), cfg.DeviceClaim), nil
}

func newVerifier(v *gooidc.IDTokenVerifier, claim string) *Verifier {
	if claim = strings.TrimSpace(claim); claim == "" {
		claim = "sub"
	}
	return &Verifier{verifier: v, claim: claim}
}

// Authenticate verifies raw and returns the device id carried in the configured claim.
func (v *Verifier) Authenticate(ctx context.Context, raw string) (string, error) {
	tok, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "invalid device token")
	}
	if v.claim == "sub" {
		if tok.Subject == "" {
			return "", apperrors.Unauthorized("device token has no subject")
		}
		return tok.Subject, nil
	}
	var claims map[string]any
	if err := tok.Claims(&claims); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "decode device token claims")
	}
	id, _ := claims[v.claim].(string)
	if strings.TrimSpace(id) == "" {
		return "", apperrors.Unauthorized("device token has no " + v.claim + " claim")
	}
	return id, nil
}
