// Package push delivers commands to devices through pluggable provider chains.
package push

import (
	"context"

	"github.com/target/fleetpush/internal/domain/model"
)

// Provider adapts one external push channel.
type Provider interface {
	Name() string
	Send(ctx context.Context, target model.DeviceTarget, msg model.PushMessage) Result
}

// BulkSender is implemented by providers that can deliver to many targets in one round trip.
// Results are positional.
type BulkSender interface {
	SendBulk(ctx context.Context, targets []model.DeviceTarget, msg model.PushMessage) []Result
}

// Result is the raw outcome of one provider call. Err is nil on acceptance and otherwise
// classified with Classify.
type Result struct {
	StatusCode int
	MessageID  string
	Err        error
}

// ProviderFunc adapts a function into a named Provider.
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, target model.DeviceTarget, msg model.PushMessage) Result
}

// Name implements Provider.
func (p ProviderFunc) Name() string { return p.ProviderName }

// Send implements Provider.
func (p ProviderFunc) Send(ctx context.Context, target model.DeviceTarget, msg model.PushMessage) Result {
	return p.Fn(ctx, target, msg)
}
