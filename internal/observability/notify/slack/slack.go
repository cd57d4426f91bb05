// Package slack delivers fleetpush error events to a Slack incoming webhook.
package slack

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/target/fleetpush/internal/observability/notify"
)

// Config captures the subset of Slack webhook behaviour we need.
type Config struct {
	WebhookURL string
	Channel    string
	Username   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
	// JobURLPrefix, when set, turns job ids into links to the job status endpoint.
	JobURLPrefix string
}

// Client delivers error events to a Slack webhook.
type Client struct {
	hook         notify.Webhook
	channel      string
	username     string
	jobURLPrefix string
}

var _ notify.Sink = (*Client)(nil)

// NewClient builds a Slack webhook client.
func NewClient(cfg Config) (*Client, error) {
	webhookURL := strings.TrimSpace(cfg.WebhookURL)
	if webhookURL == "" {
		return nil, errors.New("slack webhook url is required")
	}
	hc := cfg.Client
	if hc == nil {
		hc = notify.NewHTTPClient(cfg.Timeout)
	}
	return &Client{
		hook: notify.Webhook{
			Name:       "slack webhook",
			URL:        webhookURL,
			RetryLimit: cfg.RetryLimit,
			Client:     hc,
		},
		channel:      strings.TrimSpace(cfg.Channel),
		username:     notify.Fallback(strings.TrimSpace(cfg.Username), "fleetpush"),
		jobURLPrefix: strings.TrimSpace(cfg.JobURLPrefix),
	}, nil
}

// Send posts a formatted message to Slack.
func (c *Client) Send(ctx context.Context, event notify.Event) error {
	body, err := json.Marshal(c.formatMessage(event))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}
	return c.hook.Post(ctx, body)
}

func (c *Client) formatMessage(event notify.Event) map[string]any {
	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	var text strings.Builder
	text.WriteString("*fleetpush ")
	text.WriteString(notify.Fallback(event.Category, "event"))
	text.WriteByte('*')
	if event.JobID != "" {
		text.WriteString(" ")
		text.WriteString(c.jobRef(event.JobID))
	}
	text.WriteByte('\n')

	fields := []struct{ label, value string }{
		{"Severity", notify.Fallback(event.Severity, notify.SeverityError)},
		{"Site", event.SiteID},
		{"Device", event.DeviceID},
		{"Error code", event.ErrorCode},
		{"Error class", event.ErrorClass},
		{"Message", event.Message},
	}
	for _, f := range fields {
		writeField(&text, f.label, escape(f.value))
	}
	writeMetadata(&text, event.Metadata)
	text.WriteString("• Timestamp: ")
	text.WriteString(ts.UTC().Format(time.RFC3339))

	msg := map[string]any{
		"text":     text.String(),
		"username": c.username,
	}
	if c.channel != "" {
		msg["channel"] = c.channel
	}
	return msg
}

func (c *Client) jobRef(jobID string) string {
	id := escape(jobID)
	if c.jobURLPrefix == "" {
		return "`" + id + "`"
	}
	u, err := url.Parse(c.jobURLPrefix)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "`" + id + "`"
	}
	link, err := url.JoinPath(u.String(), jobID)
	if err != nil {
		return "`" + id + "`"
	}
	return fmt.Sprintf("<%s|%s>", link, id)
}

func escape(value string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(value)
}

func writeField(text *strings.Builder, label, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	text.WriteString("• ")
	text.WriteString(label)
	text.WriteString(": ")
	text.WriteString(value)
	text.WriteByte('\n')
}

func writeMetadata(text *strings.Builder, metadata map[string]string) {
	if len(metadata) == 0 {
		return
	}
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	text.WriteString("• Metadata:\n")
	for _, k := range keys {
		text.WriteString("    • ")
		text.WriteString(k)
		text.WriteString(": ")
		text.WriteString(escape(metadata[k]))
		text.WriteByte('\n')
	}
}
