// Package testutil provides testing utilities and helpers for fleetpush.
package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/target/fleetpush/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder targeting the whole of siteID.
func NewJobRequest(siteID string) *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			SiteID:   siteID,
			Action:   model.ActionRefreshCatalog,
			Priority: model.JobPriorityNormal,
			Payload:  json.RawMessage(`{}`),
		},
	}
}

// WithAction sets the job action.
func (b *JobRequestBuilder) WithAction(action string) *JobRequestBuilder {
	b.req.Action = action
	return b
}

// WithSegment narrows the job to a named segment.
func (b *JobRequestBuilder) WithSegment(segment string) *JobRequestBuilder {
	b.req.Segment = &segment
	return b
}

// WithDevices narrows the job to an explicit device list.
func (b *JobRequestBuilder) WithDevices(ids ...string) *JobRequestBuilder {
	b.req.DeviceIDs = ids
	return b
}

// WithPriority sets the job priority.
func (b *JobRequestBuilder) WithPriority(p model.JobPriority) *JobRequestBuilder {
	b.req.Priority = p
	return b
}

// WithPayloadString sets the job payload from a string.
func (b *JobRequestBuilder) WithPayloadString(payload string) *JobRequestBuilder {
	b.req.Payload = json.RawMessage(payload)
	return b
}

// WithConfigVersion makes the job a configuration change to version v.
func (b *JobRequestBuilder) WithConfigVersion(v string) *JobRequestBuilder {
	b.req.ConfigVersion = &v
	return b
}

// WithTTL sets the per-device result deadline.
func (b *JobRequestBuilder) WithTTL(d time.Duration) *JobRequestBuilder {
	b.req.TTLSeconds = int(d.Seconds())
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// DeviceSeed describes a device row inserted directly for tests.
type DeviceSeed struct {
	ID        string
	SiteID    string
	Segment   string
	Platform  model.Platform
	PushToken string
	Status    model.DeviceStatus
	Version   string
	Flagged   bool
}

// SeedSite inserts a site row, ignoring duplicates.
func SeedSite(t testing.TB, db *sql.DB, id, name string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx,
		`INSERT INTO sites (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`, id, name); err != nil {
		t.Fatalf("Failed to seed site %s: %v", id, err)
	}
}

// SeedDevice inserts a device row. Empty platform and status default to simulated and online.
func SeedDevice(t testing.TB, db *sql.DB, d DeviceSeed) {
	t.Helper()
	if d.Platform == "" {
		d.Platform = model.PlatformSimulated
	}
	if d.Status == "" {
		d.Status = model.DeviceStatusOnline
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := db.ExecContext(ctx, `
		INSERT INTO devices (id, site_id, name, segment, platform, push_token, status, config_version,
		    needs_reregistration)
		VALUES ($1, $2, $1, NULLIF($3, ''), $4, NULLIF($5, ''), $6, NULLIF($7, ''), $8)
	`, d.ID, d.SiteID, d.Segment, string(d.Platform), d.PushToken, string(d.Status), d.Version, d.Flagged)
	if err != nil {
		t.Fatalf("Failed to seed device %s: %v", d.ID, err)
	}
}
