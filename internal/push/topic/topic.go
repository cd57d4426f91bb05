// Package topic delivers commands by publishing them to a per-device topic on a broker.
package topic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/push"
)

// EnvelopeType marks command envelopes on the wire.
const EnvelopeType = "fleet.command"

// Envelope is the JSON document published for one command.
type Envelope struct {
	Type        string            `json:"type"`
	DeviceID    string            `json:"device_id"`
	Priority    model.JobPriority `json:"priority"`
	CollapseKey string            `json:"collapse_key,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	Command     model.Command     `json:"command"`
}

// Expired reports whether the envelope's TTL has passed at now.
func (e Envelope) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && now.After(*e.ExpiresAt)
}

// DecodeEnvelope parses and checks a published envelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type != EnvelopeType {
		return env, fmt.Errorf("decode envelope: unexpected type %q", env.Type)
	}
	return env, nil
}

// Name returns the topic for a device: "<prefix>fleet/<site>/<device>".
func Name(prefix, siteID, deviceID string) string {
	return prefix + "fleet/" + siteID + "/" + deviceID
}

// Publisher is a broker backend. Errors should be *push.Error where the backend can tell
// transient from permanent failures.
type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte) error
	Close() error
}

// BatchPublisher publishes many messages in one round trip. Errors are positional.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, topics []string, bodies [][]byte) []error
}

// Provider publishes command envelopes through a Publisher.
type Provider struct {
	pub    Publisher
	prefix string
}

var (
	_ push.Provider   = (*Provider)(nil)
	_ push.BulkSender = (*Provider)(nil)
)

// New wraps a publisher. prefix namespaces topics, e.g. "prod/".
func New(pub Publisher, prefix string) (*Provider, error) {
	if pub == nil {
		return nil, errors.New("topic publisher is required")
	}
	return &Provider{pub: pub, prefix: strings.TrimSpace(prefix)}, nil
}

// Name implements push.Provider.
func (p *Provider) Name() string { return push.ProviderTopic }

// Close releases the broker connection.
func (p *Provider) Close() error { return p.pub.Close() }

func (p *Provider) encode(target model.DeviceTarget, msg model.PushMessage) (string, []byte, error) {
	env := Envelope{
		Type:        EnvelopeType,
		DeviceID:    target.DeviceID,
		Priority:    msg.Priority,
		CollapseKey: msg.CollapseKey,
		Command:     msg.Command(),
	}
	if msg.TTL > 0 && !msg.IssuedAt.IsZero() {
		exp := msg.IssuedAt.Add(msg.TTL).UTC()
		env.ExpiresAt = &exp
	}
	body, err := json.Marshal(env)
	return Name(p.prefix, target.SiteID, target.DeviceID), body, err
}

// Send implements push.Provider.
func (p *Provider) Send(ctx context.Context, target model.DeviceTarget, msg model.PushMessage) push.Result {
	if target.SiteID == "" || target.DeviceID == "" {
		return push.Result{Err: push.InvalidTarget(p.Name(), "NO_TOPIC", 0, "target has no site or device id")}
	}
	topicName, body, err := p.encode(target, msg)
	if err != nil {
		return push.Result{Err: push.Permanent(p.Name(), "ENCODE", 0, "encode envelope", err)}
	}
	if err = p.pub.Publish(ctx, topicName, body); err != nil {
		return push.Result{Err: wrap(err)}
	}
	return push.Result{MessageID: topicName}
}

// SendBulk implements push.BulkSender, pipelining when the backend supports it.
func (p *Provider) SendBulk(ctx context.Context, targets []model.DeviceTarget, msg model.PushMessage) []push.Result {
	results := make([]push.Result, len(targets))
	batch, ok := p.pub.(BatchPublisher)
	if !ok {
		for i, t := range targets {
			results[i] = p.Send(ctx, t, msg)
		}
		return results
	}

	var (
		idx    []int
		topics []string
		bodies [][]byte
	)
	for i, t := range targets {
		if t.SiteID == "" || t.DeviceID == "" {
			results[i] = push.Result{Err: push.InvalidTarget(p.Name(), "NO_TOPIC", 0, "target has no site or device id")}
			continue
		}
		name, body, err := p.encode(t, msg)
		if err != nil {
			results[i] = push.Result{Err: push.Permanent(p.Name(), "ENCODE", 0, "encode envelope", err)}
			continue
		}
		idx = append(idx, i)
		topics = append(topics, name)
		bodies = append(bodies, body)
	}
	if len(topics) == 0 {
		return results
	}
	errs := batch.PublishBatch(ctx, topics, bodies)
	for j, i := range idx {
		var err error
		if j < len(errs) {
			err = errs[j]
		}
		if err != nil {
			results[i] = push.Result{Err: wrap(err)}
		} else {
			results[i] = push.Result{MessageID: topics[j]}
		}
	}
	return results
}

func wrap(err error) error {
	var pe *push.Error
	if errors.As(err, &pe) {
		return err
	}
	return push.Transient(push.ProviderTopic, "PUBLISH", 0, "publish failed", err)
}
