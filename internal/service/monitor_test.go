package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/fleetpush/config"
	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/data"
	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/mocks"
	"github.com/target/fleetpush/internal/observability/notify"
	"github.com/target/fleetpush/internal/observability/statsd"
)

type monitorFixture struct {
	followUps *mocks.MockFollowUpRepository
	history   *mocks.MockConfigHistoryRepository
	devices   *mocks.MockDeviceRepository
	events    *eventRecorder
	metrics   *statsd.Recorder
	monitor   *PostChangeMonitor
}

var monitorNow = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func newMonitorFixture(t *testing.T, prober HealthProber) *monitorFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &monitorFixture{
		followUps: mocks.NewMockFollowUpRepository(ctrl),
		history:   mocks.NewMockConfigHistoryRepository(ctrl),
		devices:   mocks.NewMockDeviceRepository(ctrl),
		events:    &eventRecorder{},
		metrics:   &statsd.Recorder{},
	}
	m, err := NewPostChangeMonitor(MonitorOptions{
		FollowUps: f.followUps,
		History:   f.history,
		Devices:   f.devices,
		Prober:    prober,
		Config:    config.MonitorConfig{BatchSize: 5, Lease: time.Minute, Interval: time.Second, ProbeConcurrency: 4, ProbeTimeout: time.Second},
		Events:    f.events,
		Metrics:   f.metrics,
		Now:       func() time.Time { return monitorNow },
	})
	require.NoError(t, err)
	f.monitor = m
	return f
}

func statusProber(statuses map[string]model.HealthStatus) HealthProber {
	return HealthProberFunc(func(_ context.Context, target model.DeviceTarget) (model.HealthSnapshot, error) {
		st, ok := statuses[target.DeviceID]
		if !ok {
			return model.HealthSnapshot{}, errors.New("unreachable")
		}
		return model.HealthSnapshot{Status: st}, nil
	})
}

func historyWithBefore(t *testing.T, status model.HealthStatus) *model.ConfigurationHistory {
	t.Helper()
	raw, err := json.Marshal(model.PerformanceSnapshot{Status: status})
	require.NoError(t, err)
	return &model.ConfigurationHistory{ID: "hist-1", JobID: "job-1", PerformanceBefore: raw}
}

func simDevices(ids ...string) []*model.Device {
	out := make([]*model.Device, len(ids))
	for i, id := range ids {
		out[i] = &model.Device{ID: id, SiteID: "site-1", Platform: model.PlatformSimulated}
	}
	return out
}

func TestNewPostChangeMonitor(t *testing.T) {
	_, err := NewPostChangeMonitor(MonitorOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FollowUpRepository is required")
}

func TestPostChangeMonitor_Schedule(t *testing.T) {
	f := newMonitorFixture(t, statusProber(nil))
	f.followUps.EXPECT().Schedule(gomock.Any(), model.ScheduleFollowUpRequest{
		ConfigHistoryID: "hist-1",
		DeviceIDs:       []string{"d1"},
		FireAt:          monitorNow.Add(5 * time.Minute),
	}).Return(&model.FollowUpCheck{ID: "fu-1"}, nil)

	require.NoError(t, f.monitor.Schedule(context.Background(), "hist-1", []string{"d1"}, 5*time.Minute))
}

func TestPostChangeMonitor_RunOnce(t *testing.T) {
	check := &model.FollowUpCheck{ID: "fu-1", ConfigHistoryID: "hist-1", DeviceIDs: []string{"d1", "d2", "d3"}, Attempts: 1}
	claim := core.ClaimFollowUpsParams{Limit: 5, Lease: time.Minute}

	t.Run("records successful verification", func(t *testing.T) {
		f := newMonitorFixture(t, statusProber(map[string]model.HealthStatus{
			"d1": model.HealthHealthy,
			"d2": model.HealthDegraded,
		}))
		f.followUps.EXPECT().ClaimDue(gomock.Any(), claim).Return([]*model.FollowUpCheck{check}, nil)
		f.history.EXPECT().GetByID(gomock.Any(), "hist-1").Return(historyWithBefore(t, model.HealthDegraded), nil)
		f.devices.EXPECT().ListByIDs(gomock.Any(), check.DeviceIDs).Return(simDevices("d1", "d2"), nil)
		f.history.EXPECT().RecordVerification(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req model.RecordVerificationRequest) (bool, error) {
				assert.Equal(t, "hist-1", req.ConfigHistoryID)
				assert.True(t, req.WasSuccessful)
				assert.Equal(t, model.HealthDegraded, req.PerformanceAfter.Status)
				assert.Equal(t, []string{"d3"}, req.PerformanceAfter.Unreachable)
				return true, nil
			})
		f.followUps.EXPECT().Complete(gomock.Any(), core.CompleteFollowUpParams{ID: "fu-1", Status: model.FollowUpDone}).Return(nil)

		done, err := f.monitor.RunOnce(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, done)
		recorded := f.events.byCategory(notify.CategoryVerificationDone)
		require.Len(t, recorded, 1)
		assert.Equal(t, notify.SeverityInfo, recorded[0].Severity)
		assert.Equal(t, "true", recorded[0].Metadata["was_successful"])
		checks := f.metrics.Named("followup.check")
		require.Len(t, checks, 1)
		assert.Equal(t, "verified", checks[0].Tags["result"])
	})

	t.Run("regression is recorded as unsuccessful", func(t *testing.T) {
		f := newMonitorFixture(t, statusProber(map[string]model.HealthStatus{"d1": model.HealthUnhealthy}))
		f.followUps.EXPECT().ClaimDue(gomock.Any(), claim).Return([]*model.FollowUpCheck{check}, nil)
		f.history.EXPECT().GetByID(gomock.Any(), "hist-1").Return(historyWithBefore(t, model.HealthHealthy), nil)
		f.devices.EXPECT().ListByIDs(gomock.Any(), gomock.Any()).Return(simDevices("d1", "d2", "d3"), nil)
		f.history.EXPECT().RecordVerification(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, req model.RecordVerificationRequest) (bool, error) {
				assert.False(t, req.WasSuccessful)
				return true, nil
			})
		f.followUps.EXPECT().Complete(gomock.Any(), gomock.Any()).Return(nil)

		_, err := f.monitor.RunOnce(context.Background())

		require.NoError(t, err)
		recorded := f.events.byCategory(notify.CategoryVerificationDone)
		require.Len(t, recorded, 1)
		assert.Equal(t, notify.SeverityWarning, recorded[0].Severity)
		assert.Equal(t, "regressed", f.metrics.Named("followup.check")[0].Tags["result"])
	})

	t.Run("no reachable device leaves history untouched", func(t *testing.T) {
		f := newMonitorFixture(t, statusProber(nil))
		f.followUps.EXPECT().ClaimDue(gomock.Any(), claim).Return([]*model.FollowUpCheck{check}, nil)
		f.history.EXPECT().GetByID(gomock.Any(), "hist-1").Return(historyWithBefore(t, model.HealthHealthy), nil)
		f.devices.EXPECT().ListByIDs(gomock.Any(), gomock.Any()).Return(simDevices("d1"), nil)
		f.followUps.EXPECT().Complete(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, p core.CompleteFollowUpParams) error {
				assert.Equal(t, model.FollowUpUnreachable, p.Status)
				require.NotNil(t, p.LastError)
				return nil
			})

		done, err := f.monitor.RunOnce(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, done)
		gaps := f.events.byCategory(notify.CategoryVerificationGap)
		require.Len(t, gaps, 1)
		assert.Equal(t, notify.SeverityInfo, gaps[0].Severity)
		assert.Equal(t, model.ErrCodeDeviceUnverifiable, gaps[0].ErrorCode)
		assert.Equal(t, "3", gaps[0].Metadata["devices"])
	})

	t.Run("already verified rows are skipped", func(t *testing.T) {
		f := newMonitorFixture(t, statusProber(nil))
		hist := historyWithBefore(t, model.HealthHealthy)
		hist.PerformanceAfter = json.RawMessage(`{"status":"healthy"}`)
		f.followUps.EXPECT().ClaimDue(gomock.Any(), claim).Return([]*model.FollowUpCheck{check}, nil)
		f.history.EXPECT().GetByID(gomock.Any(), "hist-1").Return(hist, nil)
		f.followUps.EXPECT().Complete(gomock.Any(), core.CompleteFollowUpParams{ID: "fu-1", Status: model.FollowUpDone}).Return(nil)

		_, err := f.monitor.RunOnce(context.Background())

		require.NoError(t, err)
		assert.Equal(t, "skipped", f.metrics.Named("followup.check")[0].Tags["result"])
	})

	t.Run("missing history expires the check", func(t *testing.T) {
		f := newMonitorFixture(t, statusProber(nil))
		f.followUps.EXPECT().ClaimDue(gomock.Any(), claim).Return([]*model.FollowUpCheck{check}, nil)
		f.history.EXPECT().GetByID(gomock.Any(), "hist-1").Return(nil, data.ErrConfigHistoryNotFound)
		f.followUps.EXPECT().Complete(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, p core.CompleteFollowUpParams) error {
				assert.Equal(t, model.FollowUpExpired, p.Status)
				return nil
			})

		done, err := f.monitor.RunOnce(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, done)
	})

	t.Run("load failure leaves the check for retry", func(t *testing.T) {
		f := newMonitorFixture(t, statusProber(nil))
		second := &model.FollowUpCheck{ID: "fu-2", ConfigHistoryID: "hist-2", DeviceIDs: []string{"d1"}}
		f.followUps.EXPECT().ClaimDue(gomock.Any(), claim).Return([]*model.FollowUpCheck{check, second}, nil)
		f.history.EXPECT().GetByID(gomock.Any(), "hist-1").Return(nil, errors.New("connection reset"))
		f.history.EXPECT().GetByID(gomock.Any(), "hist-2").Return(nil, data.ErrConfigHistoryNotFound)
		f.followUps.EXPECT().Complete(gomock.Any(), gomock.Any()).Return(nil)

		done, err := f.monitor.RunOnce(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
		assert.Equal(t, 1, done)
	})
}

func TestPostChangeMonitor_Run(t *testing.T) {
	f := newMonitorFixture(t, statusProber(nil))
	f.followUps.EXPECT().ClaimDue(gomock.Any(), gomock.Any()).Return(nil, nil).MinTimes(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.monitor.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}
