package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/target/fleetpush/internal/domain/model"
)

// AuditEventRepo persists operational events into audit_events.
type AuditEventRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAuditEventRepo creates a new AuditEventRepo.
func NewAuditEventRepo(db *sql.DB, tp TimeProvider) *AuditEventRepo {
	return &AuditEventRepo{DB: db, timeProvider: resolveTimeProvider(tp)}
}

// Insert stores one event. Job ids that are not UUIDs are dropped rather than rejected.
func (r *AuditEventRepo) Insert(ctx context.Context, e *model.AuditEvent) error {
	if e == nil {
		return errors.New("audit event is required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.timeProvider.Now().UTC()
	}
	jobID := e.JobID
	if jobID != nil {
		if _, err := uuid.Parse(*jobID); err != nil {
			jobID = nil
		}
	}
	meta := []byte(e.Metadata)
	if len(meta) == 0 {
		meta = []byte(`{}`)
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO audit_events (id, category, severity, job_id, device_id, site_id, message, metadata, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, e.ID, e.Category, e.Severity, jobID, e.DeviceID, e.SiteID, e.Message, meta, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}
