// Package agent implements the device-side command handler: it validates and applies
// commands, checks device health and reports the result back.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/target/fleetpush/internal/domain/model"
)

// State is the agent's position in its command cycle.
type State string

const (
	StateIdle      State = "idle"
	StateApplying  State = "applying"
	StateReporting State = "reporting"
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// Options configures an Agent.
type Options struct {
	DeviceID      string            // Required
	Health        HealthChecker     // Required
	Reporter      Reporter          // Required
	Applied       AppliedStore      // Optional, defaults to a MemoryLedger
	ConfigVersion string            // Optional initial version
	Actions       map[string]Action // Optional, replaces or extends the built-ins
	Restart       RestartFunc       // Optional hook for restart_service
	Logger        *slog.Logger      // Optional
	Now           func() time.Time
}

// Agent handles commands for one device. Commands are applied one at a time.
type Agent struct {
	deviceID string
	health   HealthChecker
	reporter Reporter
	applied  AppliedStore
	actions  map[string]Action
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	st    DeviceState
	state atomic.Value
}

// New creates an agent.
func New(opts Options) (*Agent, error) {
	if opts.DeviceID == "" {
		return nil, errors.New("device id is required")
	}
	if opts.Health == nil {
		return nil, errors.New("HealthChecker is required")
	}
	if opts.Reporter == nil {
		return nil, ErrNoReporter
	}
	applied := opts.Applied
	if applied == nil {
		applied = NewMemoryLedger(0)
	}
	actions := BuiltinActions(opts.Restart)
	for name, a := range opts.Actions {
		actions[name] = a
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	a := &Agent{
		deviceID: opts.DeviceID,
		health:   opts.Health,
		reporter: opts.Reporter,
		applied:  applied,
		actions:  actions,
		logger:   logger.With("component", "agent", "device_id", opts.DeviceID),
		now:      now,
		st: DeviceState{
			DeviceID:      opts.DeviceID,
			ConfigVersion: opts.ConfigVersion,
			Restarts:      map[string]int{},
		},
	}
	a.state.Store(StateIdle)
	return a, nil
}

// DeviceID returns the device this agent serves.
func (a *Agent) DeviceID() string { return a.deviceID }

// State returns the current cycle state.
func (a *Agent) State() State { return a.state.Load().(State) }

// Snapshot returns a copy of the device state.
func (a *Agent) Snapshot() DeviceState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.clone()
}

// Handle validates, applies and reports one command. The returned report is always
// populated; the error is non-nil only when the report could not be submitted.
func (a *Agent) Handle(ctx context.Context, cmd model.Command) (model.DeviceReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer a.state.Store(StateIdle)

	received := a.now().UTC()

	if cached, err := a.applied.Lookup(ctx, cmd.JobID); err != nil {
		a.logger.WarnContext(ctx, "applied ledger lookup failed", "job_id", cmd.JobID, "error", err)
	} else if cached != nil {
		a.logger.InfoContext(ctx, "command already handled, re-reporting", "job_id", cmd.JobID)
		return *cached, a.submit(ctx, *cached)
	}

	action, payload, err := a.validate(cmd)
	if err != nil {
		a.logger.WarnContext(ctx, "rejecting command", "job_id", cmd.JobID, "action", cmd.Action, "reason", err)
		report := a.newReport(cmd, model.ReportRejected, err.Error(), received)
		report.Health = a.checkHealth(ctx, a.st)
		return report, a.submit(ctx, report)
	}

	a.state.Store(StateApplying)
	applyStart := a.now()
	next := a.st.clone()
	applyErr := action.Apply(ctx, &next, cmd, payload)
	applyMS := a.now().Sub(applyStart).Milliseconds()
	if applyErr == nil {
		a.st = next
	}

	healthStart := a.now()
	snap, healthErr := a.health.Check(ctx, a.st)
	healthMS := a.now().Sub(healthStart).Milliseconds()

	var report model.DeviceReport
	switch {
	case applyErr != nil:
		report = a.newReport(cmd, model.ReportFailed, applyErr.Error(), received)
	case healthErr != nil:
		report = a.newReport(cmd, model.ReportFailed, "health check failed: "+healthErr.Error(), received)
	default:
		report = a.newReport(cmd, model.ReportApplied, "", received)
	}
	if healthErr != nil {
		snap = failedSnapshot(healthErr, a.now())
	}
	report.Health = &snap
	report.Timing.ApplyMS = applyMS
	report.Timing.HealthMS = healthMS
	report.Timing.CompletedAt = a.now().UTC()

	a.state.Store(StateReporting)
	if err = a.applied.Remember(ctx, report); err != nil {
		a.logger.WarnContext(ctx, "applied ledger write failed", "job_id", cmd.JobID, "error", err)
	}
	a.logger.InfoContext(ctx, "command handled",
		"job_id", cmd.JobID,
		"action", cmd.Action,
		"status", report.Status,
		"health", snap.Status,
	)
	return report, a.submit(ctx, report)
}

// Reject reports cmd as rejected with reason without applying it.
func (a *Agent) Reject(ctx context.Context, cmd model.Command, reason string) (model.DeviceReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	report := a.newReport(cmd, model.ReportRejected, reason, a.now().UTC())
	a.logger.InfoContext(ctx, "rejecting command", "job_id", cmd.JobID, "action", cmd.Action, "reason", reason)
	return report, a.submit(ctx, report)
}

func (a *Agent) validate(cmd model.Command) (Action, Payload, error) {
	if !jobIDPattern.MatchString(cmd.JobID) {
		return nil, nil, errors.New("command has no valid job_id")
	}
	action, ok := a.actions[cmd.Action]
	if !ok {
		return nil, nil, fmt.Errorf("unknown action %q", cmd.Action)
	}
	payload, err := decodePayload(cmd.Payload)
	if err != nil {
		return nil, nil, err
	}
	if err = action.Validate(cmd, payload); err != nil {
		return nil, nil, err
	}
	return action, payload, nil
}

func (a *Agent) newReport(cmd model.Command, status model.ReportStatus, reason string, received time.Time) model.DeviceReport {
	r := model.DeviceReport{
		DeviceID:  a.deviceID,
		JobID:     cmd.JobID,
		Status:    status,
		Reason:    reason,
		Timing:    &model.ReportTiming{ReceivedAt: received, CompletedAt: a.now().UTC()},
		Timestamp: a.now().UTC(),
	}
	if a.st.ConfigVersion != "" {
		v := a.st.ConfigVersion
		r.ConfigVersion = &v
	}
	return r
}

func (a *Agent) checkHealth(ctx context.Context, st DeviceState) *model.HealthSnapshot {
	snap, err := a.health.Check(ctx, st)
	if err != nil {
		snap = failedSnapshot(err, a.now())
	}
	return &snap
}

func failedSnapshot(err error, at time.Time) model.HealthSnapshot {
	return model.HealthSnapshot{
		Status:    model.HealthUnknown,
		Error:     err.Error(),
		CheckedAt: at.UTC(),
	}
}

func (a *Agent) submit(ctx context.Context, report model.DeviceReport) error {
	if err := a.reporter.Report(ctx, report); err != nil {
		a.logger.ErrorContext(ctx, "report submission failed",
			"job_id", report.JobID,
			"status", report.Status,
			"error", err,
		)
		return fmt.Errorf("submit report for job %s: %w", report.JobID, err)
	}
	return nil
}

// Health runs a health check against the current device state without applying anything.
func (a *Agent) Health(ctx context.Context) (model.HealthSnapshot, error) {
	return a.health.Check(ctx, a.Snapshot())
}

// Heartbeat submits a health-only report.
func (a *Agent) Heartbeat(ctx context.Context) error {
	st := a.Snapshot()
	r := model.DeviceReport{
		DeviceID:  a.deviceID,
		Status:    model.ReportHeartbeat,
		Health:    a.checkHealth(ctx, st),
		Timestamp: a.now().UTC(),
	}
	if st.ConfigVersion != "" {
		r.ConfigVersion = &st.ConfigVersion
	}
	return a.reporter.Report(ctx, r)
}

// Offline tells the control plane the agent is going away.
func (a *Agent) Offline(ctx context.Context, reason string) error {
	return a.reporter.Report(ctx, model.DeviceReport{
		DeviceID:  a.deviceID,
		Status:    model.ReportOffline,
		Reason:    reason,
		Timestamp: a.now().UTC(),
	})
}

// RunHeartbeats sends a heartbeat every interval until ctx ends.
func (a *Agent) RunHeartbeats(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := a.Heartbeat(ctx); err != nil {
				a.logger.WarnContext(ctx, "heartbeat failed", "error", err)
			}
		}
	}
}
