// Package eventsink fans operational events out to the audit trail and error channels.
package eventsink

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options configures the event sink service.
type Options struct {
	Logger *slog.Logger
	// Audit sinks receive every event.
	Audit []SinkRegistration
	// Errors sinks receive only error and critical events.
	Errors []SinkRegistration
	Now    func() time.Time
}

// Service dispatches events to all registered sinks. A failing sink never affects the
// others or the caller.
type Service struct {
	logger *slog.Logger
	audit  []SinkRegistration
	errors []SinkRegistration
	now    func() time.Time
}

func compact(in []SinkRegistration) []SinkRegistration {
	var out []SinkRegistration
	for _, entry := range in {
		if entry.Sink == nil {
			continue
		}
		if entry.Name == "" {
			entry.Name = "sink"
		}
		out = append(out, entry)
	}
	return out
}

// NewService constructs an event sink service.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logger: logger.With("component", "event_sink"),
		audit:  compact(opts.Audit),
		errors: compact(opts.Errors),
		now:    now,
	}
}

// Emit delivers the event and waits for every sink to finish.
func (s *Service) Emit(ctx context.Context, event notify.Event) {
	if s == nil {
		return
	}
	if event.Severity == "" {
		event.Severity = notify.SeverityInfo
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}

	targets := s.audit
	if event.IsError() {
		targets = append(append([]SinkRegistration(nil), s.audit...), s.errors...)
	}
	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, entry := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entry.Sink.Send(ctx, event); err != nil {
				s.logger.ErrorContext(ctx, "event sink delivery error",
					"sink", entry.Name,
					"category", event.Category,
					"job_id", event.JobID,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

// Enabled reports whether any sink is registered.
func (s *Service) Enabled() bool {
	return s != nil && len(s.audit)+len(s.errors) > 0
}

// LogSink writes events to a structured logger. Error events log at error level.
func LogSink(logger *slog.Logger) notify.Sink {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "audit")
	return notify.SinkFunc(func(ctx context.Context, e notify.Event) error {
		level := slog.LevelInfo
		switch e.Severity {
		case notify.SeverityWarning:
			level = slog.LevelWarn
		case notify.SeverityError, notify.SeverityCritical:
			level = slog.LevelError
		}
		attrs := []any{
			"category", e.Category,
			"severity", e.Severity,
		}
		for _, kv := range [][2]string{
			{"job_id", e.JobID}, {"device_id", e.DeviceID}, {"site_id", e.SiteID},
			{"error_code", e.ErrorCode}, {"error_class", e.ErrorClass},
		} {
			if kv[1] != "" {
				attrs = append(attrs, kv[0], kv[1])
			}
		}
		if len(e.Metadata) > 0 {
			attrs = append(attrs, "metadata", e.Metadata)
		}
		logger.Log(ctx, level, e.Message, attrs...)
		return nil
	})
}

// RepoSink persists events into the audit_events table.
func RepoSink(repo core.AuditEventRepository) notify.Sink {
	return notify.SinkFunc(func(ctx context.Context, e notify.Event) error {
		meta := map[string]string{}
		for k, v := range e.Metadata {
			meta[k] = v
		}
		if e.ErrorCode != "" {
			meta["error_code"] = e.ErrorCode
		}
		if e.ErrorClass != "" {
			meta["error_class"] = e.ErrorClass
		}
		raw, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return repo.Insert(ctx, &model.AuditEvent{
			Category:   e.Category,
			Severity:   e.Severity,
			JobID:      optional(e.JobID),
			DeviceID:   optional(e.DeviceID),
			SiteID:     optional(e.SiteID),
			Message:    e.Message,
			Metadata:   raw,
			OccurredAt: e.OccurredAt,
		})
	})
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
