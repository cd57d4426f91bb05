package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateSnapshots_WorstStatusWins(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	snap := AggregateSnapshots(map[string]HealthSnapshot{
		"d1": {Status: HealthHealthy},
		"d2": {Status: HealthDegraded},
	}, []string{"d4", "d3"}, at)

	assert.Equal(t, HealthDegraded, snap.Status)
	assert.Equal(t, []string{"d3", "d4"}, snap.Unreachable)
	assert.True(t, snap.Reachable())
	assert.Equal(t, at, snap.CapturedAt)
}

func TestAggregateSnapshots_NothingReachable(t *testing.T) {
	snap := AggregateSnapshots(nil, []string{"d1"}, time.Time{})
	assert.Equal(t, HealthUnknown, snap.Status)
	assert.False(t, snap.Reachable())
	assert.NotNil(t, snap.Devices)
}

func TestAggregateSnapshots_UnknownStatus(t *testing.T) {
	tests := []struct {
		name            string
		devices         map[string]HealthSnapshot
		wantStatus      HealthStatus
		wantDevices     []string
		wantUnreachable []string
	}{
		{
			name: "unknown between unhealthy and healthy",
			devices: map[string]HealthSnapshot{
				"a": {Status: HealthUnhealthy},
				"b": {Status: HealthUnknown},
				"c": {Status: HealthHealthy},
			},
			wantStatus:      HealthUnhealthy,
			wantDevices:     []string{"a", "c"},
			wantUnreachable: []string{"b", "z"},
		},
		{
			name: "empty status counts as unknown",
			devices: map[string]HealthSnapshot{
				"a": {Status: ""},
				"b": {Status: HealthDegraded},
			},
			wantStatus:      HealthDegraded,
			wantDevices:     []string{"b"},
			wantUnreachable: []string{"a", "z"},
		},
		{
			name: "all unknown is not reachable",
			devices: map[string]HealthSnapshot{
				"a": {Status: HealthUnknown},
				"b": {Status: HealthUnknown},
			},
			wantStatus:      HealthUnknown,
			wantUnreachable: []string{"a", "b", "z"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 200 {
				snap := AggregateSnapshots(tt.devices, []string{"z"}, time.Time{})
				require.Equal(t, tt.wantStatus, snap.Status)
				require.Equal(t, tt.wantUnreachable, snap.Unreachable)
				require.Len(t, snap.Devices, len(tt.wantDevices))
				for _, id := range tt.wantDevices {
					require.Contains(t, snap.Devices, id)
				}
			}
		})
	}
}

func TestAggregateSnapshots_DoesNotMutateInput(t *testing.T) {
	devices := map[string]HealthSnapshot{"a": {Status: HealthUnknown}, "b": {Status: HealthHealthy}}
	_ = AggregateSnapshots(devices, nil, time.Time{})
	assert.Len(t, devices, 2)
}

func TestChangeSucceeded_UnhealthyDeviceHiddenByUnknown(t *testing.T) {
	before := AggregateSnapshots(map[string]HealthSnapshot{"a": {Status: HealthHealthy}}, nil, time.Time{})
	after := AggregateSnapshots(map[string]HealthSnapshot{
		"a": {Status: HealthUnhealthy},
		"b": {Status: HealthUnknown},
		"c": {Status: HealthHealthy},
	}, nil, time.Time{})
	assert.False(t, ChangeSucceeded(before, after))
}

func TestChangeSucceeded(t *testing.T) {
	mk := func(s HealthStatus) PerformanceSnapshot { return PerformanceSnapshot{Status: s} }
	tests := []struct {
		name          string
		before, after HealthStatus
		want          bool
	}{
		{"healthy stays healthy", HealthHealthy, HealthHealthy, true},
		{"degraded improves", HealthDegraded, HealthHealthy, true},
		{"degraded stays degraded", HealthDegraded, HealthDegraded, true},
		{"healthy degrades", HealthHealthy, HealthDegraded, false},
		{"ends unhealthy", HealthUnhealthy, HealthUnhealthy, false},
		{"no baseline healthy", HealthUnknown, HealthHealthy, true},
		{"no baseline degraded", HealthUnknown, HealthDegraded, false},
		{"after unknown", HealthHealthy, HealthUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChangeSucceeded(mk(tt.before), mk(tt.after)))
		})
	}
}

func TestDeviceReport_ImpliedDeviceStatus(t *testing.T) {
	r := DeviceReport{Status: ReportApplied, Health: &HealthSnapshot{
		Status:   HealthUnhealthy,
		Services: map[string]ServiceState{"payments": {Status: ServiceDown}, "printer": {Status: ServiceUp}},
	}}
	status, reason := r.ImpliedDeviceStatus()
	assert.Equal(t, DeviceStatusError, status)
	assert.Equal(t, "services down: payments", reason)

	r = DeviceReport{Status: ReportFailed, Health: &HealthSnapshot{Status: HealthUnhealthy, Error: "catalog db unreachable"}}
	status, reason = r.ImpliedDeviceStatus()
	assert.Equal(t, DeviceStatusError, status)
	assert.Equal(t, "catalog db unreachable", reason)

	r = DeviceReport{Status: ReportOffline}
	status, _ = r.ImpliedDeviceStatus()
	assert.Equal(t, DeviceStatusOffline, status)

	r = DeviceReport{Status: ReportApplied, Health: &HealthSnapshot{Status: HealthDegraded}}
	status, _ = r.ImpliedDeviceStatus()
	assert.Equal(t, DeviceStatusOnline, status)
}

func TestDeviceReport_Validate(t *testing.T) {
	now := time.Now()
	assert.NoError(t, (&DeviceReport{DeviceID: "d1", JobID: "j1", Status: ReportApplied, Timestamp: now}).Validate())
	assert.NoError(t, (&DeviceReport{DeviceID: "d1", Status: ReportHeartbeat, Timestamp: now}).Validate())
	assert.Error(t, (&DeviceReport{DeviceID: "d1", Status: ReportApplied, Timestamp: now}).Validate())
	assert.Error(t, (&DeviceReport{DeviceID: "d1", Status: "done", Timestamp: now}).Validate())
	assert.Error(t, (&DeviceReport{Status: ReportHeartbeat, Timestamp: now}).Validate())
	assert.Error(t, (&DeviceReport{DeviceID: "d1", Status: ReportHeartbeat}).Validate())
}

func TestDevice_Addressable(t *testing.T) {
	tok := "tok"
	assert.True(t, (&Device{Platform: PlatformAndroid, PushToken: &tok}).Addressable())
	assert.True(t, (&Device{Platform: PlatformSimulated}).Addressable())
	assert.False(t, (&Device{Platform: PlatformAndroid}).Addressable())
	assert.False(t, (&Device{Platform: PlatformIOS, PushToken: &tok, NeedsReregistration: true}).Addressable())
	assert.False(t, (&Device{Platform: "blackberry", PushToken: &tok}).Addressable())
}
