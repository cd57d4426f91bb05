// Package pagerduty forwards fleetpush error events to the PagerDuty Events API v2.
package pagerduty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/target/fleetpush/internal/observability/notify"
)

// APIEndpoint is the PagerDuty Events API v2 ingest URL.
const APIEndpoint = "https://events.pagerduty.com/v2/enqueue"

// Config captures runtime configuration for the PagerDuty sink.
type Config struct {
	RoutingKey string
	Source     string
	Component  string
	// Endpoint overrides APIEndpoint.
	Endpoint   string
	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Client publishes events via PagerDuty's Events API v2.
type Client struct {
	routingKey string
	source     string
	component  string
	hook       notify.Webhook
}

var _ notify.Sink = (*Client)(nil)

// NewClient constructs a PagerDuty events client. A routing key is required.
func NewClient(cfg Config) (*Client, error) {
	key := strings.TrimSpace(cfg.RoutingKey)
	if key == "" {
		return nil, errors.New("pagerduty routing key is required")
	}
	hc := cfg.Client
	if hc == nil {
		hc = notify.NewHTTPClient(cfg.Timeout)
	}
	return &Client{
		routingKey: key,
		source:     notify.Fallback(strings.TrimSpace(cfg.Source), "fleetpush"),
		component:  notify.Fallback(strings.TrimSpace(cfg.Component), "dispatcher"),
		hook: notify.Webhook{
			Name:       "pagerduty",
			URL:        notify.Fallback(strings.TrimSpace(cfg.Endpoint), APIEndpoint),
			RetryLimit: cfg.RetryLimit,
			Client:     hc,
		},
	}, nil
}

// Send submits a trigger event to PagerDuty.
func (c *Client) Send(ctx context.Context, event notify.Event) error {
	body, err := json.Marshal(c.buildEvent(event))
	if err != nil {
		return fmt.Errorf("encode pagerduty payload: %w", err)
	}
	return c.hook.Post(ctx, body)
}

// pdSeverity maps fleetpush severities onto the four PagerDuty accepts.
func pdSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case notify.SeverityInfo:
		return "info"
	case notify.SeverityWarning:
		return "warning"
	case notify.SeverityError:
		return "error"
	default:
		return "critical"
	}
}

func (c *Client) buildEvent(event notify.Event) map[string]any {
	occurredAt := event.OccurredAt.UTC()
	if event.OccurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	custom := map[string]any{
		"job_id":      event.JobID,
		"device_id":   event.DeviceID,
		"site_id":     event.SiteID,
		"error_code":  event.ErrorCode,
		"error_class": event.ErrorClass,
		"message":     event.Message,
	}
	for k, v := range event.Metadata {
		if _, exists := custom[k]; !exists {
			custom[k] = v
		}
	}

	dedupKey := strings.Trim(event.Category+":"+event.JobID, ":")
	if event.JobID == "" && event.DeviceID != "" {
		dedupKey = strings.Trim(event.Category+":"+event.DeviceID, ":")
	}

	summary := notify.Fallback(event.Message, event.Category)
	if event.JobID != "" {
		summary = fmt.Sprintf("%s: job %s: %s", event.Category, event.JobID, notify.Fallback(event.Message, "no detail"))
	}

	return map[string]any{
		"routing_key":  c.routingKey,
		"event_action": "trigger",
		"dedup_key":    dedupKey,
		"payload": map[string]any{
			"summary":        summary,
			"severity":       pdSeverity(event.Severity),
			"source":         c.source,
			"component":      c.component,
			"class":          event.ErrorCode,
			"timestamp":      occurredAt.Format(time.RFC3339),
			"custom_details": custom,
		},
	}
}
