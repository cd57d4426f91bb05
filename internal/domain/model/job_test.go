package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{JobStatusPending, JobStatusSent, true},
		{JobStatusPending, JobStatusFailed, true},
		{JobStatusPending, JobStatusCompleted, false},
		{JobStatusSent, JobStatusCompleted, true},
		{JobStatusSent, JobStatusFailed, true},
		{JobStatusSent, JobStatusPending, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusFailed, JobStatusSent, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestJobPriority_UnmarshalText(t *testing.T) {
	var p JobPriority
	require.NoError(t, p.UnmarshalText([]byte(" HIGH ")))
	assert.Equal(t, JobPriorityHigh, p)

	require.NoError(t, p.UnmarshalText([]byte("")))
	assert.Equal(t, JobPriorityNormal, p)

	assert.Error(t, p.UnmarshalText([]byte("urgent")))
}

func TestJob_IsConfigChange(t *testing.T) {
	v := "v42"
	empty := ""
	assert.True(t, (&Job{Action: ActionUpdateConfig}).IsConfigChange())
	assert.True(t, (&Job{Action: ActionRefreshCatalog, ConfigVersion: &v}).IsConfigChange())
	assert.False(t, (&Job{Action: ActionRefreshCatalog, ConfigVersion: &empty}).IsConfigChange())
	assert.False(t, (&Job{Action: ActionRestartService}).IsConfigChange())
	assert.False(t, (*Job)(nil).IsConfigChange())
}

func TestJob_TTL(t *testing.T) {
	assert.Equal(t, DefaultJobTTL, (&Job{}).TTL(DefaultJobTTL))
	assert.Equal(t, 30*time.Second, (&Job{TTLSeconds: 30}).TTL(DefaultJobTTL))
}

func TestCreateJobRequest_NormalizeAndValidate(t *testing.T) {
	seg := "  pos-terminals "
	version := "cfg-7"
	tests := []struct {
		name    string
		req     CreateJobRequest
		wantErr string
	}{
		{
			name: "segment target",
			req:  CreateJobRequest{SiteID: "site-1", Segment: &seg, Action: "refresh_catalog"},
		},
		{
			name: "device list target with duplicates",
			req:  CreateJobRequest{SiteID: "site-1", DeviceIDs: []string{"d1", " d1", "", "d2"}, Action: "restart_service"},
		},
		{
			name: "config change",
			req:  CreateJobRequest{SiteID: "site-1", Action: "update_config", ConfigVersion: &version},
		},
		{
			name:    "missing site",
			req:     CreateJobRequest{Action: "refresh_catalog"},
			wantErr: "site_id is required",
		},
		{
			name:    "segment and devices",
			req:     CreateJobRequest{SiteID: "s", Segment: &seg, DeviceIDs: []string{"d1"}, Action: "refresh_catalog"},
			wantErr: "mutually exclusive",
		},
		{
			name:    "bad action",
			req:     CreateJobRequest{SiteID: "s", Action: "Reboot Now!"},
			wantErr: "action must be",
		},
		{
			name:    "bad priority",
			req:     CreateJobRequest{SiteID: "s", Action: "refresh_catalog", Priority: "urgent"},
			wantErr: "priority must be",
		},
		{
			name:    "ttl too large",
			req:     CreateJobRequest{SiteID: "s", Action: "refresh_catalog", TTLSeconds: 7200},
			wantErr: "ttl_seconds",
		},
		{
			name:    "invalid payload",
			req:     CreateJobRequest{SiteID: "s", Action: "refresh_catalog", Payload: json.RawMessage(`{"a":`)},
			wantErr: "payload must be valid JSON",
		},
		{
			name:    "update_config without version",
			req:     CreateJobRequest{SiteID: "s", Action: "update_config"},
			wantErr: "config_version is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.Normalize()
			err := req.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, JobPriorityNormal, req.Priority)
			assert.JSONEq(t, `{}`, string(req.Payload))
		})
	}
}

func TestCreateJobRequest_NormalizeDedupesDevices(t *testing.T) {
	req := CreateJobRequest{DeviceIDs: []string{"d2", " d1", "d2", ""}}
	req.Normalize()
	assert.Equal(t, []string{"d2", "d1"}, req.DeviceIDs)
}
