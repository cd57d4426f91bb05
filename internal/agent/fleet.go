package agent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/push/simulated"
)

// Factory builds the agent for a simulated device the first time it is addressed.
type Factory func(target model.DeviceTarget) (*Agent, error)

// Fleet is an in-process set of simulated device agents. It is the delivery target of the
// simulated push provider and the health probe for simulated devices.
type Fleet struct {
	factory Factory

	mu     sync.Mutex
	agents map[string]*Agent
}

var _ simulated.Fleet = (*Fleet)(nil)

// NewFleet creates a fleet that spawns agents on demand through factory.
func NewFleet(factory Factory) (*Fleet, error) {
	if factory == nil {
		return nil, errors.New("agent factory is required")
	}
	return &Fleet{factory: factory, agents: map[string]*Agent{}}, nil
}

// SimulatedFactory returns a Factory whose agents share one health model and report
// through reporter.
func SimulatedFactory(health *SimulatedHealth, reporter Reporter, opts Options) Factory {
	return func(target model.DeviceTarget) (*Agent, error) {
		if target.Platform != model.PlatformSimulated {
			return nil, simulated.ErrUnknownDevice
		}
		o := opts
		o.DeviceID = target.DeviceID
		o.Health = health
		o.Reporter = reporter
		o.Applied = nil
		if target.ConfigVersion != nil {
			o.ConfigVersion = *target.ConfigVersion
		}
		return New(o)
	}
}

func (f *Fleet) agent(target model.DeviceTarget) (*Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.agents[target.DeviceID]; ok {
		return a, nil
	}
	a, err := f.factory(target)
	if err != nil {
		return nil, err
	}
	f.agents[target.DeviceID] = a
	return a, nil
}

// Deliver implements simulated.Fleet.
func (f *Fleet) Deliver(ctx context.Context, target model.DeviceTarget, cmd model.Command) error {
	a, err := f.agent(target)
	if err != nil {
		return err
	}
	_, err = a.Handle(ctx, cmd)
	return err
}

// Probe runs a health check on a simulated device.
func (f *Fleet) Probe(ctx context.Context, target model.DeviceTarget) (model.HealthSnapshot, error) {
	a, err := f.agent(target)
	if err != nil {
		return model.HealthSnapshot{}, fmt.Errorf("probe %s: %w", target.DeviceID, err)
	}
	return a.Health(ctx)
}

// Agent returns the agent for a device that has already been addressed.
func (f *Fleet) Agent(deviceID string) (*Agent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[deviceID]
	return a, ok
}

// DeviceIDs lists the devices with a running agent.
func (f *Fleet) DeviceIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.agents))
	for id := range f.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
