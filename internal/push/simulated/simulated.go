// Package simulated hands commands to an in-process device fleet.
package simulated

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/push"
)

// ErrUnknownDevice is returned by a Fleet that has no agent for the target.
var ErrUnknownDevice = errors.New("simulated device not found")

// Fleet delivers a command to a simulated device. Delivery is synchronous: when Deliver
// returns nil the device has applied the command and its report has been submitted.
type Fleet interface {
	Deliver(ctx context.Context, target model.DeviceTarget, cmd model.Command) error
}

// Config tunes deterministic fault injection.
type Config struct {
	// TransientPercent of (job, device) pairs fail as if the channel were down.
	TransientPercent int
}

// Provider is the simulated push channel.
type Provider struct {
	fleet            Fleet
	transientPercent int
}

var _ push.Provider = (*Provider)(nil)

// New builds the provider.
func New(fleet Fleet, cfg Config) (*Provider, error) {
	if fleet == nil {
		return nil, errors.New("simulated fleet is required")
	}
	pct := min(max(cfg.TransientPercent, 0), 100)
	return &Provider{fleet: fleet, transientPercent: pct}, nil
}

// Name implements push.Provider.
func (p *Provider) Name() string { return push.ProviderSimulated }

// Send implements push.Provider.
func (p *Provider) Send(ctx context.Context, target model.DeviceTarget, msg model.PushMessage) push.Result {
	if p.injectFault(msg.JobID, target.DeviceID) {
		return push.Result{
			StatusCode: 503,
			Err:        push.Transient(p.Name(), "SIMULATED_OUTAGE", 503, "simulated channel outage", nil),
		}
	}
	err := p.fleet.Deliver(ctx, target, msg.Command())
	switch {
	case err == nil:
		return push.Result{StatusCode: 200, MessageID: fmt.Sprintf("sim-%s-%s", msg.JobID, target.DeviceID)}
	case errors.Is(err, ErrUnknownDevice):
		return push.Result{StatusCode: 404, Err: push.InvalidTarget(p.Name(), "UNKNOWN_DEVICE", 404, err.Error())}
	default:
		return push.Result{Err: push.Transient(p.Name(), "DELIVERY", 0, "simulated delivery failed", err)}
	}
}

func (p *Provider) injectFault(jobID, deviceID string) bool {
	if p.transientPercent == 0 {
		return false
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobID + "/" + deviceID))
	return int(h.Sum32()%100) < p.transientPercent
}
