package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/target/fleetpush/config"
	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/data"
	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/observability/metrics"
	"github.com/target/fleetpush/internal/observability/notify"
	"github.com/target/fleetpush/internal/observability/statsd"
)

// MonitorOptions groups dependencies for PostChangeMonitor.
type MonitorOptions struct {
	FollowUps core.FollowUpRepository      // Required: durable check queue
	History   core.ConfigHistoryRepository // Required: rows being verified
	Devices   core.DeviceRepository        // Required: probe targets
	Prober    HealthProber                 // Required
	Config    config.MonitorConfig
	Events    EventEmitter // Optional
	Metrics   statsd.Sink  // Optional
	Logger    *slog.Logger
	Now       func() time.Time
}

// PostChangeMonitor verifies device health some time after a configuration change and
// records the result on the change's history row.
type PostChangeMonitor struct {
	followUps core.FollowUpRepository
	history   core.ConfigHistoryRepository
	devices   core.DeviceRepository
	prober    HealthProber
	cfg       config.MonitorConfig
	events    EventEmitter
	metrics   statsd.Sink
	logger    *slog.Logger
	now       func() time.Time
}

// NewPostChangeMonitor constructs a PostChangeMonitor.
func NewPostChangeMonitor(opts MonitorOptions) (*PostChangeMonitor, error) {
	switch {
	case opts.FollowUps == nil:
		return nil, errors.New("FollowUpRepository is required")
	case opts.History == nil:
		return nil, errors.New("ConfigHistoryRepository is required")
	case opts.Devices == nil:
		return nil, errors.New("DeviceRepository is required")
	case opts.Prober == nil:
		return nil, errors.New("HealthProber is required")
	}
	cfg := opts.Config
	cfg.Sanitize()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &PostChangeMonitor{
		followUps: opts.FollowUps,
		history:   opts.History,
		devices:   opts.Devices,
		prober:    opts.Prober,
		cfg:       cfg,
		events:    opts.Events,
		metrics:   opts.Metrics,
		logger:    logger.With("component", "post_change_monitor"),
		now:       now,
	}, nil
}

// Schedule queues a verification of deviceIDs for the given history row after delay.
func (m *PostChangeMonitor) Schedule(ctx context.Context, configHistoryID string, deviceIDs []string, delay time.Duration) error {
	fireAt := m.now().UTC().Add(max(delay, 0))
	check, err := m.followUps.Schedule(ctx, model.ScheduleFollowUpRequest{
		ConfigHistoryID: configHistoryID,
		DeviceIDs:       deviceIDs,
		FireAt:          fireAt,
	})
	if err != nil {
		return fmt.Errorf("schedule follow-up for %s: %w", configHistoryID, err)
	}
	m.logger.DebugContext(ctx, "post-change verification scheduled",
		"followup_id", check.ID,
		"config_history_id", configHistoryID,
		"devices", len(deviceIDs),
		"fire_at", fireAt,
	)
	return nil
}

// Run claims and verifies due checks every Interval until ctx ends.
// Returns nil on graceful shutdown.
func (m *PostChangeMonitor) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "starting post-change monitor", "interval", m.cfg.Interval)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := m.RunOnce(ctx); err != nil && !isContextCancellation(err) {
			m.logger.ErrorContext(ctx, "follow-up pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "post-change monitor stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch of due checks and verifies each. It returns how many checks
// reached a terminal status.
func (m *PostChangeMonitor) RunOnce(ctx context.Context) (int, error) {
	checks, err := m.followUps.ClaimDue(ctx, core.ClaimFollowUpsParams{
		Limit: m.cfg.BatchSize,
		Lease: m.cfg.Lease,
	})
	if err != nil {
		return 0, err
	}
	done := 0
	var errs []error
	for _, check := range checks {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err = m.verify(ctx, check); err != nil {
			m.logger.ErrorContext(ctx, "follow-up check failed; it will be retried after its lease",
				"followup_id", check.ID,
				"config_history_id", check.ConfigHistoryID,
				"attempt", check.Attempts,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

func (m *PostChangeMonitor) verify(ctx context.Context, check *model.FollowUpCheck) error {
	started := m.now()
	history, err := m.history.GetByID(ctx, check.ConfigHistoryID)
	if errors.Is(err, data.ErrConfigHistoryNotFound) {
		metrics.EmitFollowUpCheck(m.metrics, metrics.FollowUpMetric{Result: metrics.FollowUpSkipped})
		return m.complete(ctx, check, model.FollowUpExpired, "configuration history row not found")
	}
	if err != nil {
		return fmt.Errorf("load configuration history: %w", err)
	}
	if len(history.PerformanceAfter) > 0 {
		metrics.EmitFollowUpCheck(m.metrics, metrics.FollowUpMetric{Result: metrics.FollowUpSkipped})
		return m.complete(ctx, check, model.FollowUpDone, "")
	}

	devices, err := m.devices.ListByIDs(ctx, check.DeviceIDs)
	if err != nil {
		return fmt.Errorf("load follow-up devices: %w", err)
	}
	known := make(map[string]struct{}, len(devices))
	targets := make([]model.DeviceTarget, 0, len(devices))
	for _, d := range devices {
		known[d.ID] = struct{}{}
		targets = append(targets, d.Target())
	}
	var missing []string
	for _, id := range check.DeviceIDs {
		if _, ok := known[id]; !ok {
			missing = append(missing, id)
		}
	}

	snap := CaptureSnapshot(ctx, m.prober, targets, SnapshotOptions{
		Concurrency: m.cfg.ProbeConcurrency,
		Timeout:     m.cfg.ProbeTimeout,
		Now:         m.now,
	})
	if len(missing) > 0 {
		snap = model.AggregateSnapshots(snap.Devices, append(snap.Unreachable, missing...), snap.CapturedAt)
	}

	if !snap.Reachable() {
		if err = m.complete(ctx, check, model.FollowUpUnreachable, "no device reachable for verification"); err != nil {
			return err
		}
		metrics.EmitFollowUpCheck(m.metrics, metrics.FollowUpMetric{
			Result:      metrics.FollowUpUnreachable,
			Devices:     len(check.DeviceIDs),
			Unreachable: len(snap.Unreachable),
			Duration:    m.now().Sub(started),
		})
		emit(ctx, m.events, notify.Event{
			Category:  notify.CategoryVerificationGap,
			Severity:  notify.SeverityInfo,
			JobID:     history.JobID,
			Message:   "post-change verification skipped: no device reachable",
			ErrorCode: model.ErrCodeDeviceUnverifiable,
			Metadata: map[string]string{
				"config_history_id": history.ID,
				"devices":           strconv.Itoa(len(check.DeviceIDs)),
			},
		})
		m.logger.InfoContext(ctx, "post-change verification gap",
			"config_history_id", history.ID,
			"devices", len(check.DeviceIDs),
		)
		return nil
	}

	before, err := history.Before()
	if err != nil {
		m.logger.WarnContext(ctx, "unreadable performance_before; comparing against unknown baseline",
			"config_history_id", history.ID,
			"error", err,
		)
		before = model.PerformanceSnapshot{Status: model.HealthUnknown}
	}
	ok := model.ChangeSucceeded(before, snap)
	updated, err := m.history.RecordVerification(ctx, model.RecordVerificationRequest{
		ConfigHistoryID:  history.ID,
		PerformanceAfter: snap,
		WasSuccessful:    ok,
	})
	if err != nil {
		return err
	}
	if err = m.complete(ctx, check, model.FollowUpDone, ""); err != nil {
		return err
	}

	result := metrics.FollowUpVerified
	severity := notify.SeverityInfo
	msg := fmt.Sprintf("post-change health %s (before %s)", snap.Status, before.Status)
	if !ok {
		result = metrics.FollowUpRegressed
		severity = notify.SeverityWarning
		msg = "configuration change regressed device health: " + msg
	}
	if !updated {
		result = metrics.FollowUpSkipped
	}
	metrics.EmitFollowUpCheck(m.metrics, metrics.FollowUpMetric{
		Result:      result,
		Devices:     len(check.DeviceIDs),
		Unreachable: len(snap.Unreachable),
		Duration:    m.now().Sub(started),
	})
	if updated {
		emit(ctx, m.events, notify.Event{
			Category: notify.CategoryVerificationDone,
			Severity: severity,
			JobID:    history.JobID,
			Message:  msg,
			Metadata: map[string]string{
				"config_history_id": history.ID,
				"was_successful":    strconv.FormatBool(ok),
				"reachable":         strconv.Itoa(len(snap.Devices)),
				"unreachable":       strconv.Itoa(len(snap.Unreachable)),
			},
		})
	}
	m.logger.InfoContext(ctx, "post-change verification recorded",
		"config_history_id", history.ID,
		"was_successful", ok,
		"after", snap.Status,
		"before", before.Status,
		"unreachable", len(snap.Unreachable),
	)
	return nil
}

func (m *PostChangeMonitor) complete(ctx context.Context, check *model.FollowUpCheck, status model.FollowUpStatus, reason string) error {
	var lastErr *string
	if reason != "" {
		lastErr = &reason
	}
	err := m.followUps.Complete(ctx, core.CompleteFollowUpParams{ID: check.ID, Status: status, LastError: lastErr})
	if err != nil {
		return fmt.Errorf("complete follow-up %s: %w", check.ID, err)
	}
	return nil
}
