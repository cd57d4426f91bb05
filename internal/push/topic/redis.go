package topic

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/target/fleetpush/internal/push"
)

// ErrNotListening is the code recorded when a Redis channel has no subscriber.
const ErrNotListening = "NOT_LISTENING"

// RedisPublisher publishes over Redis PUBLISH. A publish that reaches zero subscribers is a
// transient failure: the device is not currently connected.
type RedisPublisher struct {
	client redis.UniversalClient
}

var (
	_ Publisher      = (*RedisPublisher)(nil)
	_ BatchPublisher = (*RedisPublisher)(nil)
)

// NewRedisPublisher wraps a go-redis client. The caller owns the client.
func NewRedisPublisher(client redis.UniversalClient) (*RedisPublisher, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &RedisPublisher{client: client}, nil
}

// Publish implements Publisher.
func (r *RedisPublisher) Publish(ctx context.Context, topic string, body []byte) error {
	n, err := r.client.Publish(ctx, topic, body).Result()
	return publishResult(n, err)
}

// PublishBatch implements BatchPublisher with a single pipeline.
func (r *RedisPublisher) PublishBatch(ctx context.Context, topics []string, bodies [][]byte) []error {
	errs := make([]error, len(topics))
	cmds := make([]*redis.IntCmd, len(topics))
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i := range topics {
			cmds[i] = p.Publish(ctx, topics[i], bodies[i])
		}
		return nil
	})
	for i, cmd := range cmds {
		if cmd == nil {
			errs[i] = err
			continue
		}
		n, cerr := cmd.Result()
		errs[i] = publishResult(n, cerr)
	}
	return errs
}

// Close is a no-op; the client is shared.
func (r *RedisPublisher) Close() error { return nil }

func publishResult(n int64, err error) error {
	if err != nil {
		return push.Transient(push.ProviderTopic, "REDIS", 0, "redis publish failed", err)
	}
	if n == 0 {
		return push.Transient(push.ProviderTopic, ErrNotListening, 0, "device not listening", nil)
	}
	return nil
}
