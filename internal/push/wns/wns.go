// Package wns delivers raw notifications to Windows devices through WNS channel URIs.
package wns

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/push"
)

const (
	// DefaultTokenURL is the WNS access-token endpoint.
	DefaultTokenURL = "https://login.live.com/accesstoken.srf"
	defaultScope    = "notify.windows.com"
	maxTagLen       = 16
)

// Config configures the WNS provider.
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Timeout      time.Duration
	Client       *http.Client
	// TokenSource overrides the client-credentials flow.
	TokenSource oauth2.TokenSource
	// AllowInsecureChannels permits http:// channel URIs (tests and local relays only).
	AllowInsecureChannels bool
}

// Provider sends through WNS.
type Provider struct {
	client        *http.Client
	tokens        oauth2.TokenSource
	allowInsecure bool
}

var _ push.Provider = (*Provider)(nil)

// New builds the provider.
func New(cfg Config) (*Provider, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	tokens := cfg.TokenSource
	if tokens == nil {
		if strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
			return nil, errors.New("wns client id and secret are required")
		}
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       []string{defaultScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		if cc.TokenURL == "" {
			cc.TokenURL = DefaultTokenURL
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		tokens = cc.TokenSource(ctx)
	}
	return &Provider{
		client:        client,
		tokens:        oauth2.ReuseTokenSource(nil, tokens),
		allowInsecure: cfg.AllowInsecureChannels,
	}, nil
}

// Name implements push.Provider.
func (p *Provider) Name() string { return push.ProviderWNS }

func wnsPriority(pr model.JobPriority) string {
	switch pr {
	case model.JobPriorityHigh:
		return "1"
	case model.JobPriorityLow:
		return "4"
	default:
		return "2"
	}
}

func (p *Provider) channel(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme != "https" && !(p.allowInsecure && u.Scheme == "http") {
		return "", false
	}
	return u.String(), true
}

// Send implements push.Provider. The push token is the device's channel URI.
func (p *Provider) Send(ctx context.Context, target model.DeviceTarget, msg model.PushMessage) push.Result {
	channel, ok := p.channel(target.PushToken)
	if !ok {
		return push.Result{Err: push.InvalidTarget(p.Name(), "BAD_CHANNEL_URI", 0, "push token is not a valid channel uri")}
	}
	body, err := json.Marshal(msg.Command())
	if err != nil {
		return push.Result{Err: push.Permanent(p.Name(), "ENCODE", 0, "encode command", err)}
	}
	tok, err := p.tokens.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
			return push.Result{Err: push.Permanent(p.Name(), "AUTH", re.Response.StatusCode, "access token rejected", err)}
		}
		return push.Result{Err: push.Transient(p.Name(), "AUTH", 0, "fetch access token", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, channel, bytes.NewReader(body))
	if err != nil {
		return push.Result{Err: push.Permanent(p.Name(), "REQUEST", 0, "build request", err)}
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-WNS-Type", "wns/raw")
	req.Header.Set("X-WNS-Priority", wnsPriority(msg.Priority))
	tok.SetAuthHeader(req)
	if msg.TTL > 0 {
		req.Header.Set("X-WNS-TTL", strconv.FormatInt(int64(msg.TTL/time.Second), 10))
	}
	if tag := msg.CollapseKey; tag != "" {
		if len(tag) > maxTagLen {
			tag = tag[:maxTagLen]
		}
		req.Header.Set("X-WNS-Tag", tag)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return push.Result{Err: push.Transient(p.Name(), "NETWORK", 0, "request failed", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 16<<10))

	res := push.Result{StatusCode: resp.StatusCode, MessageID: resp.Header.Get("X-WNS-Msg-ID")}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return res
	}
	code := resp.Header.Get("X-WNS-Error-Description")
	if code == "" {
		code = http.StatusText(resp.StatusCode)
	}
	res.Err = classify(resp.StatusCode, code, resp.Header.Get("X-WNS-NotificationStatus"))
	return res
}

func classify(status int, code, detail string) error {
	msg := code
	if detail != "" {
		msg = code + " (" + detail + ")"
	}
	switch status {
	case http.StatusNotFound, http.StatusGone:
		return push.InvalidTarget(push.ProviderWNS, code, status, msg)
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusRequestEntityTooLarge:
		return push.Permanent(push.ProviderWNS, code, status, msg, nil)
	case http.StatusNotAcceptable, http.StatusTooManyRequests:
		return push.Transient(push.ProviderWNS, code, status, msg, nil)
	}
	if e := push.ClassifyHTTP(push.ProviderWNS, status, code, msg); e != nil {
		return e
	}
	return nil
}
