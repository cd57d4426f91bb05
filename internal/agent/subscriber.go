package agent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/push/topic"
)

// RejectReasonExpired is reported for commands that arrive after their deadline.
const RejectReasonExpired = "expired"

// Subscriber feeds commands published on a device's Redis topic into its agent.
type Subscriber struct {
	client redis.UniversalClient
	topic  string
	agent  *Agent
	logger *slog.Logger
	now    func() time.Time
}

// SubscriberOptions configures a Subscriber.
type SubscriberOptions struct {
	Client redis.UniversalClient // Required
	Agent  *Agent                // Required
	Prefix string                // Optional topic prefix
	SiteID string                // Required
	Logger *slog.Logger
	Now    func() time.Time
}

// NewSubscriber creates a subscriber for the agent's topic.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Agent == nil {
		return nil, errors.New("agent is required")
	}
	if opts.SiteID == "" {
		return nil, errors.New("site id is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	name := topic.Name(opts.Prefix, opts.SiteID, opts.Agent.DeviceID())
	return &Subscriber{
		client: opts.Client,
		topic:  name,
		agent:  opts.Agent,
		logger: logger.With("component", "agent_subscriber", "topic", name),
		now:    now,
	}, nil
}

// Topic returns the channel the subscriber listens on.
func (s *Subscriber) Topic() string { return s.topic }

// Run blocks until ctx ends, handling each command as it arrives. ready, when non-nil, is
// closed once the subscription is confirmed.
func (s *Subscriber) Run(ctx context.Context, ready chan<- struct{}) error {
	sub := s.client.Subscribe(ctx, s.topic)
	defer func() {
		if err := sub.Close(); err != nil {
			s.logger.WarnContext(ctx, "closing subscription failed", "error", err)
		}
	}()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}
	s.logger.InfoContext(ctx, "listening for commands")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription closed")
			}
			s.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, body []byte) {
	env, err := topic.DecodeEnvelope(body)
	if err != nil {
		s.logger.WarnContext(ctx, "dropping undecodable message", "error", err)
		return
	}
	if env.DeviceID != s.agent.DeviceID() {
		s.logger.WarnContext(ctx, "dropping command for another device", "target", env.DeviceID)
		return
	}
	if env.Expired(s.now()) {
		if env.Command.JobID == "" {
			s.logger.InfoContext(ctx, "dropping expired command without job id")
			return
		}
		if _, err = s.agent.Reject(ctx, env.Command, RejectReasonExpired); err != nil {
			s.logger.ErrorContext(ctx, "expiry report not delivered", "job_id", env.Command.JobID, "error", err)
		}
		return
	}
	if _, err = s.agent.Handle(ctx, env.Command); err != nil {
		s.logger.ErrorContext(ctx, "command report not delivered", "job_id", env.Command.JobID, "error", err)
	}
}

// HealthHandler serves the agent's current health snapshot as JSON. The control plane
// probes it through the device's registered health_url.
func HealthHandler(a *Agent) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, err := a.Health(r.Context())
		if err != nil {
			snap = failedSnapshot(err, time.Now())
		}
		w.Header().Set("Content-Type", "application/json")
		if snap.Status.DeviceStatus() != model.DeviceStatusOnline {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snap)
	})
}
