// Package apns delivers commands over the APNs HTTP/2 provider API with token auth.
package apns

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/net/http2"

	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/push"
)

const (
	// ProductionEndpoint is the APNs production host.
	ProductionEndpoint = "https://api.push.apple.com"
	// SandboxEndpoint is the APNs development host.
	SandboxEndpoint = "https://api.sandbox.push.apple.com"

	// tokenLifetime stays under the one-hour limit APNs enforces on provider tokens.
	tokenLifetime = 50 * time.Minute
	maxCollapseID = 64
)

// Config configures the APNs provider.
type Config struct {
	TeamID string
	KeyID  string
	// KeyFile is the .p8 signing key; KeyPEM takes precedence when set.
	KeyFile  string
	KeyPEM   []byte
	Topic    string
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
	Now      func() time.Time
}

// Provider sends through APNs.
type Provider struct {
	endpoint string
	topic    string
	teamID   string
	keyID    string
	key      *ecdsa.PrivateKey
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	token    string
	issuedAt time.Time
}

var _ push.Provider = (*Provider)(nil)

// New builds the provider. The default client speaks HTTP/2 only.
func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.TeamID) == "" || strings.TrimSpace(cfg.KeyID) == "" {
		return nil, errors.New("apns team id and key id are required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("apns topic is required")
	}
	pemBytes := cfg.KeyPEM
	if len(pemBytes) == 0 {
		if cfg.KeyFile == "" {
			return nil, errors.New("apns signing key is required")
		}
		var err error
		if pemBytes, err = os.ReadFile(cfg.KeyFile); err != nil {
			return nil, fmt.Errorf("read apns key: %w", err)
		}
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse apns key: %w", err)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Transport: &http2.Transport{}, Timeout: timeout}
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = ProductionEndpoint
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Provider{
		endpoint: endpoint,
		topic:    strings.TrimSpace(cfg.Topic),
		teamID:   strings.TrimSpace(cfg.TeamID),
		keyID:    strings.TrimSpace(cfg.KeyID),
		key:      key,
		client:   client,
		now:      now,
	}, nil
}

// Name implements push.Provider.
func (p *Provider) Name() string { return push.ProviderAPNs }

// providerToken returns the cached ES256 token, minting a new one when it is older than
// tokenLifetime.
func (p *Provider) providerToken() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if p.token != "" && now.Sub(p.issuedAt) < tokenLifetime {
		return p.token, nil
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": p.teamID,
		"iat": now.Unix(),
	})
	tok.Header["kid"] = p.keyID
	signed, err := tok.SignedString(p.key)
	if err != nil {
		return "", err
	}
	p.token, p.issuedAt = signed, now
	return signed, nil
}

func (p *Provider) resetToken() {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
}

type aps struct {
	ContentAvailable int    `json:"content-available,omitempty"`
	Alert            *alert `json:"alert,omitempty"`
}

type alert struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type notification struct {
	APS     aps           `json:"aps"`
	Command model.Command `json:"fleet"`
}

// Send implements push.Provider. High priority jobs are sent as alert pushes with priority
// 10; everything else is a background push with priority 5.
func (p *Provider) Send(ctx context.Context, target model.DeviceTarget, msg model.PushMessage) push.Result {
	if target.PushToken == "" {
		return push.Result{Err: push.InvalidTarget(p.Name(), "MissingDeviceToken", 0, "device has no token")}
	}

	n := notification{Command: msg.Command()}
	pushType, priority := "background", "5"
	if msg.Priority == model.JobPriorityHigh {
		pushType, priority = "alert", "10"
		n.APS.Alert = &alert{Title: msg.Title, Body: msg.Body}
	} else {
		n.APS.ContentAvailable = 1
	}
	body, err := json.Marshal(n)
	if err != nil {
		return push.Result{Err: push.Permanent(p.Name(), "ENCODE", 0, "encode notification", err)}
	}

	bearer, err := p.providerToken()
	if err != nil {
		return push.Result{Err: push.Permanent(p.Name(), "TOKEN", 0, "sign provider token", err)}
	}

	reqURL := p.endpoint + "/3/device/" + url.PathEscape(target.PushToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return push.Result{Err: push.Permanent(p.Name(), "REQUEST", 0, "build request", err)}
	}
	req.Header.Set("authorization", "bearer "+bearer)
	req.Header.Set("apns-topic", p.topic)
	req.Header.Set("apns-push-type", pushType)
	req.Header.Set("apns-priority", priority)
	if msg.TTL > 0 {
		issued := msg.IssuedAt
		if issued.IsZero() {
			issued = p.now()
		}
		req.Header.Set("apns-expiration", strconv.FormatInt(issued.Add(msg.TTL).Unix(), 10))
	}
	if msg.CollapseKey != "" {
		collapse := msg.CollapseKey
		if len(collapse) > maxCollapseID {
			collapse = collapse[:maxCollapseID]
		}
		req.Header.Set("apns-collapse-id", collapse)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return push.Result{Err: push.Transient(p.Name(), "NETWORK", 0, "request failed", err)}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))

	res := push.Result{StatusCode: resp.StatusCode, MessageID: resp.Header.Get("apns-id")}
	if resp.StatusCode == http.StatusOK {
		return res
	}
	var reason struct {
		Reason string `json:"reason"`
	}
	_ = json.Unmarshal(respBody, &reason)
	res.Err = p.classify(resp.StatusCode, reason.Reason)
	return res
}

func (p *Provider) classify(status int, reason string) error {
	msg := "apns rejected notification"
	if reason == "" {
		reason = http.StatusText(status)
	} else {
		msg = reason
	}
	switch reason {
	case "BadDeviceToken", "Unregistered", "DeviceTokenNotForTopic":
		return push.InvalidTarget(p.Name(), reason, status, msg)
	case "ExpiredProviderToken", "InvalidProviderToken":
		// A fresh token is minted for the next call.
		p.resetToken()
		return push.Transient(p.Name(), reason, status, msg, nil)
	}
	if status == http.StatusGone {
		return push.InvalidTarget(p.Name(), reason, status, msg)
	}
	if status == http.StatusTooManyRequests || status >= 500 {
		return push.Transient(p.Name(), reason, status, msg, nil)
	}
	return push.Permanent(p.Name(), reason, status, msg, nil)
}
