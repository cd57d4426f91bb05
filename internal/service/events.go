package service

import (
	"context"

	"github.com/target/fleetpush/internal/observability/notify"
)

// EventEmitter forwards audit and error events. eventsink.Service implements it.
type EventEmitter interface {
	Emit(ctx context.Context, event notify.Event)
}

func emit(ctx context.Context, events EventEmitter, event notify.Event) {
	if events == nil {
		return
	}
	events.Emit(ctx, event)
}
