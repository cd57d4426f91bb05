package oidc

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/target/fleetpush/internal/errors"
)

const (
	testIssuer   = "https://idp.example.com"
	testClientID = "fleet-devices"
)

type signer struct {
	key *rsa.PrivateKey
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &signer{key: key}
}

func (s *signer) verifier(claim string) *Verifier {
	keys := &gooidc.StaticKeySet{PublicKeys: []crypto.PublicKey{s.key.Public()}}
	return newVerifier(gooidc.NewVerifier(testIssuer, keys, &gooidc.Config{ClientID: testClientID}), claim)
}

func (s *signer) token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	base := jwt.MapClaims{
		"iss": testIssuer,
		"aud": testClientID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range claims {
		base[k] = v
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodRS256, base).SignedString(s.key)
	require.NoError(t, err)
	return raw
}

func TestVerifier_Authenticate(t *testing.T) {
	s := newSigner(t)

	t.Run("subject is the device id", func(t *testing.T) {
		id, err := s.verifier("").Authenticate(context.Background(), s.token(t, jwt.MapClaims{"sub": "dev-3"}))
		require.NoError(t, err)
		assert.Equal(t, "dev-3", id)
	})

	t.Run("custom claim", func(t *testing.T) {
		raw := s.token(t, jwt.MapClaims{"sub": "svc-account", "device_id": "dev-9"})
		id, err := s.verifier("device_id").Authenticate(context.Background(), raw)
		require.NoError(t, err)
		assert.Equal(t, "dev-9", id)
	})

	t.Run("missing custom claim", func(t *testing.T) {
		raw := s.token(t, jwt.MapClaims{"sub": "svc-account"})
		_, err := s.verifier("device_id").Authenticate(context.Background(), raw)
		require.Error(t, err)
		assert.True(t, apperrors.IsUnauthorized(err))
	})

	t.Run("wrong audience", func(t *testing.T) {
		raw := s.token(t, jwt.MapClaims{"sub": "dev-3", "aud": "someone-else"})
		_, err := s.verifier("").Authenticate(context.Background(), raw)
		require.Error(t, err)
		assert.True(t, apperrors.IsUnauthorized(err))
	})

	t.Run("expired", func(t *testing.T) {
		raw := s.token(t, jwt.MapClaims{"sub": "dev-3", "exp": time.Now().Add(-time.Hour).Unix()})
		_, err := s.verifier("").Authenticate(context.Background(), raw)
		assert.True(t, apperrors.IsUnauthorized(err))
	})

	t.Run("signed by another key", func(t *testing.T) {
		other := newSigner(t)
		_, err := s.verifier("").Authenticate(context.Background(), other.token(t, jwt.MapClaims{"sub": "dev-3"}))
		assert.True(t, apperrors.IsUnauthorized(err))
	})
}

func TestNewVerifier(t *testing.T) {
	t.Run("validation", func(t *testing.T) {
		_, err := NewVerifier(context.Background(), VerifierConfig{ClientID: testClientID})
		assert.EqualError(t, err, "issuer URL is required")
		_, err = NewVerifier(context.Background(), VerifierConfig{IssuerURL: testIssuer})
		assert.EqualError(t, err, "client ID is required")
	})

	t.Run("discovers provider", func(t *testing.T) {
		issuer := ""
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{
				"issuer":                 issuer,
				"authorization_endpoint": issuer + "/auth",
				"token_endpoint":         issuer + "/token",
				"jwks_uri":               issuer + "/jwks",
			})
		}))
		defer srv.Close()
		issuer = srv.URL

		v, err := NewVerifier(context.Background(), VerifierConfig{
			IssuerURL:  srv.URL + "/.well-known/openid-configuration",
			ClientID:   testClientID,
			HTTPClient: srv.Client(),
		})
		require.NoError(t, err)
		assert.Equal(t, "sub", v.claim)
	})
}
