package apns

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/push"
)

func testKey(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return key, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
}

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewUnstartedServer(h)
	srv.EnableHTTP2 = true
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(t *testing.T, srv *httptest.Server, pemKey []byte, now func() time.Time) *Provider {
	t.Helper()
	p, err := New(Config{
		TeamID:   "TEAM123456",
		KeyID:    "KEY1234567",
		KeyPEM:   pemKey,
		Topic:    "com.example.fleet",
		Endpoint: srv.URL,
		Client:   srv.Client(),
		Now:      now,
	})
	require.NoError(t, err)
	return p
}

func TestSendHighPriorityAlert(t *testing.T) {
	key, pemKey := testKey(t)
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, 2, r.ProtoMajor)
		assert.Equal(t, "/3/device/abc123", r.URL.Path)
		assert.Equal(t, "com.example.fleet", r.Header.Get("apns-topic"))
		assert.Equal(t, "alert", r.Header.Get("apns-push-type"))
		assert.Equal(t, "10", r.Header.Get("apns-priority"))
		assert.Equal(t, "1700000060", r.Header.Get("apns-expiration"))
		assert.Equal(t, "restart_service", r.Header.Get("apns-collapse-id"))

		raw := strings.TrimPrefix(r.Header.Get("authorization"), "bearer ")
		tok, err := jwt.Parse(raw, func(*jwt.Token) (any, error) { return &key.PublicKey, nil },
			jwt.WithValidMethods([]string{"ES256"}), jwt.WithIssuedAt())
		if assert.NoError(t, err) {
			assert.Equal(t, "KEY1234567", tok.Header["kid"])
			iss, _ := tok.Claims.GetIssuer()
			assert.Equal(t, "TEAM123456", iss)
		}

		var n notification
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		assert.Equal(t, "job-9", n.Command.JobID)
		if assert.NotNil(t, n.APS.Alert) {
			assert.Equal(t, "fleet command", n.APS.Alert.Title)
		}

		w.Header().Set("apns-id", "A1B2")
		w.WriteHeader(http.StatusOK)
	})

	p := newProvider(t, srv, pemKey, time.Now)
	res := p.Send(context.Background(), model.DeviceTarget{PushToken: "abc123"}, model.PushMessage{
		JobID:       "job-9",
		Action:      model.ActionRestartService,
		Priority:    model.JobPriorityHigh,
		Title:       "fleet command",
		TTL:         time.Minute,
		CollapseKey: "restart_service",
		IssuedAt:    time.Unix(1700000000, 0),
	})
	require.NoError(t, res.Err)
	assert.Equal(t, "A1B2", res.MessageID)
}

func TestSendBackgroundPush(t *testing.T) {
	_, pemKey := testKey(t)
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "background", r.Header.Get("apns-push-type"))
		assert.Equal(t, "5", r.Header.Get("apns-priority"))
		var n notification
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&n))
		assert.Equal(t, 1, n.APS.ContentAvailable)
		assert.Nil(t, n.APS.Alert)
	})
	p := newProvider(t, srv, pemKey, time.Now)
	res := p.Send(context.Background(), model.DeviceTarget{PushToken: "abc"},
		model.PushMessage{JobID: "j", Priority: model.JobPriorityNormal})
	require.NoError(t, res.Err)
}

func TestSendErrorTaxonomy(t *testing.T) {
	tests := []struct {
		status int
		reason string
		want   push.Kind
	}{
		{400, "BadDeviceToken", push.KindInvalidTarget},
		{410, "Unregistered", push.KindInvalidTarget},
		{400, "DeviceTokenNotForTopic", push.KindInvalidTarget},
		{400, "PayloadEmpty", push.KindPermanent},
		{403, "BadCertificate", push.KindPermanent},
		{403, "ExpiredProviderToken", push.KindTransient},
		{429, "TooManyRequests", push.KindTransient},
		{503, "ServiceUnavailable", push.KindTransient},
	}
	_, pemKey := testKey(t)
	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"reason":"`+tt.reason+`"}`)
			})
			res := newProvider(t, srv, pemKey, time.Now).Send(context.Background(),
				model.DeviceTarget{PushToken: "abc"}, model.PushMessage{JobID: "j"})
			require.Error(t, res.Err)
			assert.Equal(t, tt.want, push.Classify(res.Err))
			assert.Equal(t, tt.reason, push.ErrorCode(res.Err))
		})
	}
}

func TestProviderTokenCachedAndRotated(t *testing.T) {
	_, pemKey := testKey(t)
	var seen atomic.Value
	var distinct atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("authorization")
		if prev, _ := seen.Load().(string); prev != auth {
			distinct.Add(1)
			seen.Store(auth)
		}
	})

	now := time.Unix(1700000000, 0)
	p := newProvider(t, srv, pemKey, func() time.Time { return now })
	send := func() {
		res := p.Send(context.Background(), model.DeviceTarget{PushToken: "abc"}, model.PushMessage{JobID: "j"})
		require.NoError(t, res.Err)
	}
	send()
	now = now.Add(49 * time.Minute)
	send()
	assert.Equal(t, int32(1), distinct.Load())
	now = now.Add(2 * time.Minute)
	send()
	assert.Equal(t, int32(2), distinct.Load())
}

func TestNewValidation(t *testing.T) {
	_, pemKey := testKey(t)
	_, err := New(Config{KeyID: "k", Topic: "t", KeyPEM: pemKey})
	require.Error(t, err)
	_, err = New(Config{TeamID: "t", KeyID: "k", KeyPEM: pemKey})
	require.Error(t, err)
	_, err = New(Config{TeamID: "t", KeyID: "k", Topic: "t", KeyPEM: []byte("nope")})
	require.Error(t, err)
}
