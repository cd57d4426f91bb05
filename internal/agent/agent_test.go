package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/testutil"
)

type reportSink struct {
	mu      sync.Mutex
	reports []model.DeviceReport
	err     error
}

func (r *reportSink) Report(_ context.Context, report model.DeviceReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return r.err
}

func (r *reportSink) all() []model.DeviceReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.DeviceReport(nil), r.reports...)
}

func newTestAgent(t *testing.T, opts Options) (*Agent, *reportSink) {
	t.Helper()
	sink := &reportSink{}
	if opts.DeviceID == "" {
		opts.DeviceID = "dev-1"
	}
	if opts.Health == nil {
		opts.Health = &SimulatedHealth{Now: testutil.FixedTimeFunc(testutil.TestTime())}
	}
	if opts.Reporter == nil {
		opts.Reporter = sink
	}
	if opts.Now == nil {
		opts.Now = testutil.FixedTimeFunc(testutil.TestTime())
	}
	a, err := New(opts)
	require.NoError(t, err)
	return a, sink
}

func command(jobID, action, payload string) model.Command {
	cmd := model.Command{JobID: jobID, Action: action, IssuedAt: testutil.TestTime()}
	if payload != "" {
		cmd.Payload = json.RawMessage(payload)
	}
	return cmd
}

func TestHandleAppliesActions(t *testing.T) {
	tests := []struct {
		name    string
		cmd     model.Command
		check   func(t *testing.T, st DeviceState)
		version string
	}{
		{
			name:    "update_config from payload",
			cmd:     command("job-1", model.ActionUpdateConfig, `{"config_version":"v2"}`),
			version: "v2",
		},
		{
			name: "update_config from command",
			cmd: func() model.Command {
				c := command("job-2", model.ActionUpdateConfig, "")
				c.ConfigVersion = testutil.StringPtr("v3")
				return c
			}(),
			version: "v3",
		},
		{
			name:    "restart_service",
			cmd:     command("job-3", model.ActionRestartService, `{"service":"payments"}`),
			version: "v1",
			check: func(t *testing.T, st DeviceState) {
				assert.Equal(t, 1, st.Restarts["payments"])
			},
		},
		{
			name:    "refresh_catalog",
			cmd:     command("job-4", model.ActionRefreshCatalog, ""),
			version: "v1",
			check: func(t *testing.T, st DeviceState) {
				assert.Equal(t, testutil.TestTime(), st.CatalogRefreshedAt)
			},
		},
		{
			name:    "health_check",
			cmd:     command("job-5", model.ActionHealthCheck, ""),
			version: "v1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, sink := newTestAgent(t, Options{ConfigVersion: "v1"})

			report, err := a.Handle(context.Background(), tt.cmd)
			require.NoError(t, err)

			assert.Equal(t, model.ReportApplied, report.Status)
			assert.Equal(t, tt.cmd.JobID, report.JobID)
			require.NotNil(t, report.ConfigVersion)
			assert.Equal(t, tt.version, *report.ConfigVersion)
			require.NotNil(t, report.Health)
			assert.Equal(t, model.HealthHealthy, report.Health.Status)
			require.NotNil(t, report.Timing)
			assert.Equal(t, StateIdle, a.State())
			assert.Equal(t, []model.DeviceReport{report}, sink.all())
			if tt.check != nil {
				tt.check(t, a.Snapshot())
			}
		})
	}
}

func TestHandleRejectsMalformedCommands(t *testing.T) {
	tests := []struct {
		name   string
		cmd    model.Command
		reason string
	}{
		{name: "unknown action", cmd: command("job-1", "format_disk", ""), reason: `unknown action "format_disk"`},
		{name: "missing job id", cmd: command("", model.ActionHealthCheck, ""), reason: "command has no valid job_id"},
		{name: "payload not an object", cmd: command("job-1", model.ActionRefreshCatalog, `[1,2]`), reason: "payload must be a JSON object"},
		{name: "restart without service", cmd: command("job-1", model.ActionRestartService, `{}`), reason: "restart_service requires payload.service"},
		{name: "update without version", cmd: command("job-1", model.ActionUpdateConfig, `{}`), reason: "update_config requires a config_version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, sink := newTestAgent(t, Options{ConfigVersion: "v1"})
			before := a.Snapshot()

			report, err := a.Handle(context.Background(), tt.cmd)
			require.NoError(t, err)

			assert.Equal(t, model.ReportRejected, report.Status)
			assert.Equal(t, tt.reason, report.Reason)
			assert.NotNil(t, report.Health)
			assert.Equal(t, before, a.Snapshot())
			assert.Len(t, sink.all(), 1)
		})
	}
}

func TestHandleDuplicateIsReReported(t *testing.T) {
	a, sink := newTestAgent(t, Options{})
	cmd := command("job-1", model.ActionRestartService, `{"service":"pos"}`)

	first, err := a.Handle(context.Background(), cmd)
	require.NoError(t, err)
	second, err := a.Handle(context.Background(), cmd)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, a.Snapshot().Restarts["pos"])
	assert.Len(t, sink.all(), 2)
}

func TestHandleApplyFailureKeepsState(t *testing.T) {
	a, _ := newTestAgent(t, Options{
		ConfigVersion: "v1",
		Restart: func(context.Context, string) error {
			return errors.New("systemctl exited 1")
		},
	})

	report, err := a.Handle(context.Background(), command("job-1", model.ActionRestartService, `{"service":"pos"}`))
	require.NoError(t, err)

	assert.Equal(t, model.ReportFailed, report.Status)
	assert.Contains(t, report.Reason, "systemctl exited 1")
	assert.Zero(t, a.Snapshot().Restarts["pos"])
	assert.NotNil(t, report.Health)
}

func TestHandleHealthCheckFailureIsStructured(t *testing.T) {
	a, sink := newTestAgent(t, Options{
		Health: HealthCheckerFunc(func(context.Context, DeviceState) (model.HealthSnapshot, error) {
			return model.HealthSnapshot{}, errors.New("probe crashed")
		}),
	})

	report, err := a.Handle(context.Background(), command("job-1", model.ActionUpdateConfig, `{"config_version":"v9"}`))
	require.NoError(t, err)

	assert.Equal(t, model.ReportFailed, report.Status)
	assert.Equal(t, "health check failed: probe crashed", report.Reason)
	require.NotNil(t, report.Health)
	assert.Equal(t, model.HealthUnknown, report.Health.Status)
	assert.Equal(t, "probe crashed", report.Health.Error)
	assert.Equal(t, "v9", a.Snapshot().ConfigVersion)
	assert.Len(t, sink.all(), 1)
}

func TestHandleReportsSubmissionFailure(t *testing.T) {
	sink := &reportSink{err: errors.New("connection refused")}
	a, _ := newTestAgent(t, Options{Reporter: sink})

	report, err := a.Handle(context.Background(), command("job-1", model.ActionHealthCheck, ""))
	require.Error(t, err)
	assert.Equal(t, model.ReportApplied, report.Status)
	assert.Equal(t, StateIdle, a.State())
}

func TestHeartbeatAndOffline(t *testing.T) {
	a, sink := newTestAgent(t, Options{ConfigVersion: "v1"})

	require.NoError(t, a.Heartbeat(context.Background()))
	require.NoError(t, a.Offline(context.Background(), "shutting down"))

	reports := sink.all()
	require.Len(t, reports, 2)
	assert.Equal(t, model.ReportHeartbeat, reports[0].Status)
	assert.NotNil(t, reports[0].Health)
	require.NoError(t, reports[0].Validate())
	assert.Equal(t, model.ReportOffline, reports[1].Status)
	assert.Equal(t, "shutting down", reports[1].Reason)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{Health: &SimulatedHealth{}, Reporter: &reportSink{}})
	require.Error(t, err)
	_, err = New(Options{DeviceID: "d", Reporter: &reportSink{}})
	require.Error(t, err)
	_, err = New(Options{DeviceID: "d", Health: &SimulatedHealth{}})
	require.ErrorIs(t, err, ErrNoReporter)
}

func TestSimulatedHealth(t *testing.T) {
	ctx := context.Background()
	st := DeviceState{DeviceID: "dev-1", ConfigVersion: "v1"}

	healthy := &SimulatedHealth{}
	a, err := healthy.Check(ctx, st)
	require.NoError(t, err)
	b, err := healthy.Check(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, model.HealthHealthy, a.Status)
	assert.Equal(t, a.Metrics, b.Metrics)
	assert.Empty(t, a.FailedServices())

	broken := &SimulatedHealth{UnhealthyPercent: 100}
	snap, err := broken.Check(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, model.HealthUnhealthy, snap.Status)
	assert.Equal(t, []string{"payments"}, snap.FailedServices())

	healthy.Force("dev-1", model.HealthDegraded)
	snap, err = healthy.Check(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, model.HealthDegraded, snap.Status)

	healthy.Force("dev-1", "")
	snap, err = healthy.Check(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, model.HealthHealthy, snap.Status)
}
