package fcm

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/push"
)

func testMessage() model.PushMessage {
	v := "v42"
	return model.PushMessage{
		JobID:         "job-1",
		Action:        model.ActionUpdateConfig,
		Priority:      model.JobPriorityHigh,
		ConfigVersion: &v,
		TTL:           90 * time.Second,
		CollapseKey:   "update_config",
		IssuedAt:      time.Unix(1700000000, 0).UTC(),
	}
}

func staticProvider(t *testing.T, endpoint string) *Provider {
	t.Helper()
	p, err := New(Config{
		ProjectID:   "fleet-prod",
		Endpoint:    endpoint,
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "access", TokenType: "Bearer"}),
	})
	require.NoError(t, err)
	return p
}

func TestSendDelivered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/projects/fleet-prod/messages:send", r.URL.Path)
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))

		var body sendRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "tok-1", body.Message.Token)
		assert.Equal(t, "high", body.Message.Android.Priority)
		assert.Equal(t, "90s", body.Message.Android.TTL)
		assert.Equal(t, "update_config", body.Message.Android.CollapseKey)

		var cmd model.Command
		assert.NoError(t, json.Unmarshal([]byte(body.Message.Data["command"]), &cmd))
		assert.Equal(t, "job-1", cmd.JobID)
		if assert.NotNil(t, cmd.ConfigVersion) {
			assert.Equal(t, "v42", *cmd.ConfigVersion)
		}

		_, _ = io.WriteString(w, `{"name":"projects/fleet-prod/messages/0:123"}`)
	}))
	defer srv.Close()

	res := staticProvider(t, srv.URL).Send(context.Background(),
		model.DeviceTarget{DeviceID: "d1", PushToken: "tok-1", Platform: model.PlatformAndroid}, testMessage())
	require.NoError(t, res.Err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "projects/fleet-prod/messages/0:123", res.MessageID)
}

func TestSendErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   push.Kind
		code   string
	}{
		{"unregistered", 404, `{"error":{"code":404,"status":"NOT_FOUND","details":[{"errorCode":"UNREGISTERED"}]}}`,
			push.KindInvalidTarget, "UNREGISTERED"},
		{"unregistered on 400", 400, `{"error":{"code":400,"details":[{"errorCode":"UNREGISTERED"}]}}`,
			push.KindInvalidTarget, "UNREGISTERED"},
		{"invalid argument", 400, `{"error":{"code":400,"status":"INVALID_ARGUMENT","message":"bad ttl"}}`,
			push.KindPermanent, "INVALID_ARGUMENT"},
		{"unauthenticated", 401, `{"error":{"code":401,"status":"UNAUTHENTICATED"}}`, push.KindPermanent, "UNAUTHENTICATED"},
		{"sender mismatch", 403, `{"error":{"code":403,"details":[{"errorCode":"SENDER_ID_MISMATCH"}]}}`,
			push.KindPermanent, "SENDER_ID_MISMATCH"},
		{"quota", 429, `{"error":{"code":429,"details":[{"errorCode":"QUOTA_EXCEEDED"}]}}`, push.KindTransient, "QUOTA_EXCEEDED"},
		{"unavailable", 503, `oops`, push.KindTransient, "Service Unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			res := staticProvider(t, srv.URL).Send(context.Background(),
				model.DeviceTarget{DeviceID: "d1", PushToken: "tok"}, testMessage())
			require.Error(t, res.Err)
			assert.Equal(t, tt.status, res.StatusCode)
			assert.Equal(t, tt.want, push.Classify(res.Err))
			assert.Equal(t, tt.code, push.ErrorCode(res.Err))
		})
	}
}

func TestSendNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := staticProvider(t, url).Send(context.Background(), model.DeviceTarget{PushToken: "tok"}, testMessage())
	assert.Equal(t, push.KindTransient, push.Classify(res.Err))
}

func TestSendMissingToken(t *testing.T) {
	res := staticProvider(t, "http://unused").Send(context.Background(), model.DeviceTarget{DeviceID: "d"}, testMessage())
	assert.Equal(t, push.KindInvalidTarget, push.Classify(res.Err))
}

func TestServiceAccountFlow(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})

	var tokenCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls++
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.Form.Get("grant_type"))
		assert.NotEmpty(t, r.Form.Get("assertion"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"minted","token_type":"Bearer","expires_in":3600}`)
	})
	mux.HandleFunc("POST /v1/projects/from-key/messages:send", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer minted", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{"name":"m"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	creds, err := json.Marshal(map[string]string{
		"project_id":   "from-key",
		"client_email": "push@from-key.iam.gserviceaccount.com",
		"private_key":  string(pemKey),
		"token_uri":    srv.URL + "/token",
	})
	require.NoError(t, err)

	p, err := New(Config{CredentialsJSON: creds, Endpoint: srv.URL})
	require.NoError(t, err)

	for range 2 {
		res := p.Send(context.Background(), model.DeviceTarget{PushToken: "tok"}, testMessage())
		require.NoError(t, res.Err)
	}
	assert.Equal(t, 1, tokenCalls)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{ProjectID: "x"})
	require.Error(t, err)
	_, err = New(Config{TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "a"})})
	require.Error(t, err)
}
