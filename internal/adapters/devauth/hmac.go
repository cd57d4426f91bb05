// Package devauth authenticates device report submissions with shared-secret JWTs.
package devauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/target/fleetpush/internal/errors"
)

// MinSecretBytes is the shortest HMAC secret accepted.
const MinSecretBytes = 32

// Config controls token minting and verification.
type Config struct {
	Secret string
	// Issuer, when set, is written to minted tokens and required on verified ones.
	Issuer string
	// TTL is the lifetime of minted tokens; 30 days when zero.
	TTL time.Duration
	Now func() time.Time
}

// HMAC verifies and mints HS256 device tokens whose subject is the device id.
type HMAC struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewHMAC validates cfg and constructs an HMAC authenticator.
func NewHMAC(cfg Config) (*HMAC, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, fmt.Errorf("devauth: secret must be at least %d bytes", MinSecretBytes)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &HMAC{
		secret: []byte(cfg.Secret),
		issuer: strings.TrimSpace(cfg.Issuer),
		ttl:    ttl,
		now:    now,
	}, nil
}

// Mint issues a token for deviceID.
func (h *HMAC) Mint(deviceID string) (string, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return "", errors.New("devauth: device id is required")
	}
	now := h.now()
	claims := jwt.RegisteredClaims{
		Subject:   deviceID,
		Issuer:    h.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(h.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	if err != nil {
		return "", fmt.Errorf("devauth: sign token: %w", err)
	}
	return signed, nil
}

// Authenticate verifies raw and returns the device id it was minted for.
func (h *HMAC) Authenticate(_ context.Context, raw string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(h.now),
		jwt.WithExpirationRequired(),
	}
	if h.issuer != "" {
		opts = append(opts, jwt.WithIssuer(h.issuer))
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return h.secret, nil
	}, opts...)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "invalid device token")
	}
	if claims.Subject == "" {
		return "", apperrors.Unauthorized("device token has no subject")
	}
	return claims.Subject, nil
}

// None accepts every request without a token. It is meant for development and simulation.
type None struct{}

// Authenticate returns an empty device id, which callers treat as unauthenticated.
func (None) Authenticate(context.Context, string) (string, error) { return "", nil }
