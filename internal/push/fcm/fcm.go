// Package fcm delivers data messages through the FCM HTTP v1 API.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"

	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/push"
)

const (
	// DefaultEndpoint is the FCM HTTP v1 base URL.
	DefaultEndpoint = "https://fcm.googleapis.com"
	scopeMessaging  = "https://www.googleapis.com/auth/firebase.messaging"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
)

// Config configures the FCM provider.
type Config struct {
	ProjectID string
	// CredentialsFile is a service-account JSON key.
	CredentialsFile string
	CredentialsJSON []byte
	Endpoint        string
	Timeout         time.Duration
	Client          *http.Client
	// TokenSource overrides the service-account flow.
	TokenSource oauth2.TokenSource
}

// Provider sends through FCM.
type Provider struct {
	endpoint string
	project  string
	client   *http.Client
	tokens   oauth2.TokenSource
}

var _ push.Provider = (*Provider)(nil)

type serviceAccount struct {
	ProjectID    string `json:"project_id"`
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
}

// New builds the provider. Credentials come from TokenSource, CredentialsJSON or
// CredentialsFile, in that order.
func New(cfg Config) (*Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	project := strings.TrimSpace(cfg.ProjectID)

	tokens := cfg.TokenSource
	if tokens == nil {
		raw := cfg.CredentialsJSON
		if len(raw) == 0 && cfg.CredentialsFile != "" {
			var err error
			if raw, err = os.ReadFile(cfg.CredentialsFile); err != nil {
				return nil, fmt.Errorf("read fcm credentials: %w", err)
			}
		}
		if len(raw) == 0 {
			return nil, errors.New("fcm credentials are required")
		}
		var sa serviceAccount
		if err := json.Unmarshal(raw, &sa); err != nil {
			return nil, fmt.Errorf("parse fcm credentials: %w", err)
		}
		if sa.ClientEmail == "" || sa.PrivateKey == "" {
			return nil, errors.New("fcm credentials missing client_email or private_key")
		}
		if project == "" {
			project = sa.ProjectID
		}
		jc := &jwt.Config{
			Email:        sa.ClientEmail,
			PrivateKey:   []byte(sa.PrivateKey),
			PrivateKeyID: sa.PrivateKeyID,
			Scopes:       []string{scopeMessaging},
			TokenURL:     sa.TokenURI,
		}
		if jc.TokenURL == "" {
			jc.TokenURL = defaultTokenURL
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		tokens = jc.TokenSource(ctx)
	}
	if project == "" {
		return nil, errors.New("fcm project id is required")
	}

	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Provider{
		endpoint: endpoint,
		project:  project,
		client:   client,
		tokens:   oauth2.ReuseTokenSource(nil, tokens),
	}, nil
}

// Name implements push.Provider.
func (p *Provider) Name() string { return push.ProviderFCM }

type sendRequest struct {
	Message message `json:"message"`
}

type message struct {
	Token   string            `json:"token"`
	Data    map[string]string `json:"data"`
	Android androidConfig     `json:"android"`
}

type androidConfig struct {
	Priority    string `json:"priority"`
	TTL         string `json:"ttl,omitempty"`
	CollapseKey string `json:"collapse_key,omitempty"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type      string `json:"@type"`
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

func buildRequest(target model.DeviceTarget, msg model.PushMessage) (sendRequest, error) {
	cmd, err := json.Marshal(msg.Command())
	if err != nil {
		return sendRequest{}, err
	}
	priority := "normal"
	if msg.Priority == model.JobPriorityHigh {
		priority = "high"
	}
	req := sendRequest{Message: message{
		Token: target.PushToken,
		Data: map[string]string{
			"job_id":  msg.JobID,
			"action":  msg.Action,
			"command": string(cmd),
		},
		Android: androidConfig{Priority: priority, CollapseKey: msg.CollapseKey},
	}}
	if msg.TTL > 0 {
		req.Message.Android.TTL = strconv.FormatInt(int64(msg.TTL/time.Second), 10) + "s"
	}
	return req, nil
}

// Send implements push.Provider.
func (p *Provider) Send(ctx context.Context, target model.DeviceTarget, msg model.PushMessage) push.Result {
	if target.PushToken == "" {
		return push.Result{Err: push.InvalidTarget(p.Name(), "MISSING_TOKEN", 0, "device has no registration token")}
	}
	body, err := buildRequest(target, msg)
	if err != nil {
		return push.Result{Err: push.Permanent(p.Name(), "ENCODE", 0, "encode message", err)}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return push.Result{Err: push.Permanent(p.Name(), "ENCODE", 0, "encode message", err)}
	}

	tok, err := p.tokens.Token()
	if err != nil {
		return push.Result{Err: tokenError(p.Name(), err)}
	}

	url := fmt.Sprintf("%s/v1/projects/%s/messages:send", p.endpoint, p.project)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return push.Result{Err: push.Permanent(p.Name(), "REQUEST", 0, "build request", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	tok.SetAuthHeader(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return push.Result{Err: push.Transient(p.Name(), "NETWORK", 0, "request failed", err)}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var ok struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(respBody, &ok)
		return push.Result{StatusCode: resp.StatusCode, MessageID: ok.Name}
	}
	return push.Result{StatusCode: resp.StatusCode, Err: classify(p.Name(), resp.StatusCode, respBody)}
}

func classify(provider string, status int, body []byte) error {
	var er errorResponse
	_ = json.Unmarshal(body, &er)
	code := er.Error.Status
	for _, d := range er.Error.Details {
		if d.ErrorCode != "" {
			code = d.ErrorCode
			break
		}
	}
	if code == "" {
		code = http.StatusText(status)
	}
	msg := er.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if code == "UNREGISTERED" {
		return push.InvalidTarget(provider, code, status, msg)
	}
	if e := push.ClassifyHTTP(provider, status, code, msg); e != nil {
		return e
	}
	return nil
}

// tokenError treats credential rejections as permanent and everything else as transient.
func tokenError(provider string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode >= 400 && re.Response.StatusCode < 500 {
		return push.Permanent(provider, "AUTH", re.Response.StatusCode, "access token rejected", err)
	}
	return push.Transient(provider, "AUTH", 0, "fetch access token", err)
}
