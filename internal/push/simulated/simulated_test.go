package simulated

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/push"
)

type fleetFunc func(ctx context.Context, target model.DeviceTarget, cmd model.Command) error

func (f fleetFunc) Deliver(ctx context.Context, target model.DeviceTarget, cmd model.Command) error {
	return f(ctx, target, cmd)
}

func TestSendDeliversToFleet(t *testing.T) {
	var got model.Command
	p, err := New(fleetFunc(func(_ context.Context, _ model.DeviceTarget, cmd model.Command) error {
		got = cmd
		return nil
	}), Config{})
	require.NoError(t, err)

	res := p.Send(context.Background(), model.DeviceTarget{DeviceID: "d1"},
		model.PushMessage{JobID: "j1", Action: model.ActionRefreshCatalog})
	require.NoError(t, res.Err)
	assert.Equal(t, "sim-j1-d1", res.MessageID)
	assert.Equal(t, "j1", got.JobID)
}

func TestSendMapsFleetErrors(t *testing.T) {
	p, err := New(fleetFunc(func(context.Context, model.DeviceTarget, model.Command) error {
		return ErrUnknownDevice
	}), Config{})
	require.NoError(t, err)
	res := p.Send(context.Background(), model.DeviceTarget{DeviceID: "x"}, model.PushMessage{})
	assert.Equal(t, push.KindInvalidTarget, push.Classify(res.Err))

	p, err = New(fleetFunc(func(context.Context, model.DeviceTarget, model.Command) error {
		return errors.New("agent busy")
	}), Config{})
	require.NoError(t, err)
	res = p.Send(context.Background(), model.DeviceTarget{DeviceID: "x"}, model.PushMessage{})
	assert.Equal(t, push.KindTransient, push.Classify(res.Err))
}

func TestFaultInjectionIsDeterministic(t *testing.T) {
	var delivered int
	fleet := fleetFunc(func(context.Context, model.DeviceTarget, model.Command) error {
		delivered++
		return nil
	})
	all, err := New(fleet, Config{TransientPercent: 100})
	require.NoError(t, err)
	res := all.Send(context.Background(), model.DeviceTarget{DeviceID: "d"}, model.PushMessage{JobID: "j"})
	assert.Equal(t, push.KindTransient, push.Classify(res.Err))
	assert.Zero(t, delivered)

	half, err := New(fleet, Config{TransientPercent: 50})
	require.NoError(t, err)
	first := half.injectFault("job", "dev-7")
	for range 5 {
		assert.Equal(t, first, half.injectFault("job", "dev-7"))
	}
}
