// Package results routes device reports to the dispatch that is waiting for them.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/target/fleetpush/internal/domain/model"
)

// DefaultRelayChannel is the Redis channel reports are relayed on between instances.
const DefaultRelayChannel = "fleetpush:results"

// Options configures a Broker.
type Options struct {
	// Relay, when set, forwards reports that have no local waiter to every other instance.
	Relay   redis.UniversalClient
	Channel string
	Logger  *slog.Logger
}

// Broker holds the result waiters of in-flight jobs on this instance.
type Broker struct {
	relay    redis.UniversalClient
	channel  string
	instance string
	logger   *slog.Logger

	mu      sync.Mutex
	waiters map[string]*slot
}

type slot struct {
	ch   chan model.DeviceReport
	once sync.Once
}

func (s *slot) offer(r model.DeviceReport) bool {
	delivered := false
	s.once.Do(func() {
		s.ch <- r
		delivered = true
	})
	return delivered
}

// NewBroker creates a broker.
func NewBroker(opts Options) *Broker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	channel := opts.Channel
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &Broker{
		relay:    opts.Relay,
		channel:  channel,
		instance: uuid.NewString(),
		logger:   logger.With("component", "results_broker"),
		waiters:  map[string]*slot{},
	}
}

func waiterKey(jobID, deviceID string) string { return jobID + "/" + deviceID }

// Waiter collects the reports of one job.
type Waiter struct {
	b      *Broker
	jobID  string
	slots  map[string]*slot
	closed sync.Once
}

// Register creates waiters for every device of a job. Register before dispatching so a
// report that arrives during the push call is not lost.
func (b *Broker) Register(jobID string, deviceIDs []string) *Waiter {
	w := &Waiter{b: b, jobID: jobID, slots: make(map[string]*slot, len(deviceIDs))}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range deviceIDs {
		s := &slot{ch: make(chan model.DeviceReport, 1)}
		w.slots[id] = s
		b.waiters[waiterKey(jobID, id)] = s
	}
	return w
}

// ErrNotRegistered is returned by Await for a device the waiter does not cover.
var ErrNotRegistered = errors.New("device not registered with this waiter")

// Await blocks until the device reports or ctx ends.
func (w *Waiter) Await(ctx context.Context, deviceID string) (model.DeviceReport, error) {
	s, ok := w.slots[deviceID]
	if !ok {
		return model.DeviceReport{}, ErrNotRegistered
	}
	select {
	case r := <-s.ch:
		return r, nil
	case <-ctx.Done():
		return model.DeviceReport{}, ctx.Err()
	}
}

// Close removes the job's waiters. Later reports for the job are ignored.
func (w *Waiter) Close() {
	w.closed.Do(func() {
		w.b.mu.Lock()
		defer w.b.mu.Unlock()
		for id, s := range w.slots {
			key := waiterKey(w.jobID, id)
			if w.b.waiters[key] == s {
				delete(w.b.waiters, key)
			}
		}
	})
}

// deliver hands the report to a local waiter. Only the first report per device counts.
func (b *Broker) deliver(r model.DeviceReport) bool {
	b.mu.Lock()
	s, ok := b.waiters[waiterKey(r.JobID, r.DeviceID)]
	b.mu.Unlock()
	if !ok {
		return false
	}
	return s.offer(r)
}

type relayMessage struct {
	Origin string             `json:"origin"`
	Report model.DeviceReport `json:"report"`
}

// Publish routes a command report to its waiter. Reports with no local waiter are relayed
// when a relay is configured. It returns whether a local waiter took the report.
func (b *Broker) Publish(ctx context.Context, r model.DeviceReport) (bool, error) {
	if r.JobID == "" {
		return false, nil
	}
	if b.deliver(r) {
		return true, nil
	}
	if b.relay == nil {
		return false, nil
	}
	body, err := json.Marshal(relayMessage{Origin: b.instance, Report: r})
	if err != nil {
		return false, fmt.Errorf("encode relayed report: %w", err)
	}
	if err = b.relay.Publish(ctx, b.channel, body).Err(); err != nil {
		return false, fmt.Errorf("relay report: %w", err)
	}
	return false, nil
}

// Run consumes relayed reports until ctx ends. ready, when non-nil, is closed once the
// subscription is confirmed. Without a relay Run returns immediately.
func (b *Broker) Run(ctx context.Context, ready chan<- struct{}) error {
	if b.relay == nil {
		if ready != nil {
			close(ready)
		}
		return nil
	}
	sub := b.relay.Subscribe(ctx, b.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			b.logger.WarnContext(ctx, "closing relay subscription failed", "error", err)
		}
	}()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay subscription closed")
			}
			var m relayMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				b.logger.WarnContext(ctx, "dropping undecodable relayed report", "error", err)
				continue
			}
			if m.Origin == b.instance {
				continue
			}
			if b.deliver(m.Report) {
				b.logger.DebugContext(ctx, "relayed report delivered",
					"job_id", m.Report.JobID,
					"device_id", m.Report.DeviceID,
				)
			}
		}
	}
}
