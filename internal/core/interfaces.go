package core

import (
	"context"
	"time"

	"github.com/target/fleetpush/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// Service implementations depend on these interfaces, not on the data layer.

// JobRepository defines the interface for job data operations.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// ReserveNext leases the oldest pending job (highest priority first).
	ReserveNext(ctx context.Context, leaseSeconds int) (*model.Job, error)
	WaitForNotification(ctx context.Context) error
	Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error)
	// MarkSent moves a job from pending to sent. It returns ErrJobNotPending when the
	// job was already claimed or finished by someone else.
	MarkSent(ctx context.Context, id string) (*model.Job, error)
	// AppendError records a dispatch-time error on the job without changing its status.
	AppendError(ctx context.Context, id, msg string) error
	Stats(ctx context.Context) (*model.JobStats, error)
}

// DeviceRepository defines the interface for device data operations.
type DeviceRepository interface {
	GetByID(ctx context.Context, id string) (*model.Device, error)
	ListBySite(ctx context.Context, siteID string) ([]*model.Device, error)
	ListByIDs(ctx context.Context, ids []string) ([]*model.Device, error)
	Register(ctx context.Context, req *model.RegisterDeviceRequest) (*model.Device, error)
	Upsert(ctx context.Context, d *model.Device) (*model.Device, error)
	// ApplyReport updates liveness fields and writes a state history row when the status
	// changes, in one transaction.
	ApplyReport(ctx context.Context, params ApplyReportParams) (*DeviceTransition, error)
	FlagForReregistration(ctx context.Context, params FlagDeviceParams) error
	ListStateHistory(ctx context.Context, deviceID string, limit int) ([]*model.DeviceStateHistory, error)
}

// ApplyReportParams groups the liveness fields taken from one device report.
type ApplyReportParams struct {
	DeviceID      string
	Status        model.DeviceStatus
	Reason        string
	ChangedBy     string
	ConfigVersion *string
	SeenAt        time.Time
}

// DeviceTransition describes the status change caused by ApplyReport, if any.
type DeviceTransition struct {
	Device   *model.Device
	Previous model.DeviceStatus
	Changed  bool
	// ConfigChanged is set when the report moved the device to a different config version.
	ConfigChanged bool
}

// FlagDeviceParams groups parameters for FlagForReregistration.
type FlagDeviceParams struct {
	DeviceID  string
	Reason    string
	ChangedBy string
}

// SiteRepository defines the interface for site data operations.
type SiteRepository interface {
	Upsert(ctx context.Context, site *model.Site) (*model.Site, error)
	GetByID(ctx context.Context, id string) (*model.Site, error)
	List(ctx context.Context) ([]*model.Site, error)
}

// PushAttemptRepository defines the append-only push attempt log.
type PushAttemptRepository interface {
	Insert(ctx context.Context, attempt *model.PushAttempt) error
	ListByJob(ctx context.Context, jobID string) ([]*model.PushAttempt, error)
	CountByJob(ctx context.Context, jobID string) (int, error)
}

// FinalizeJobParams carries everything written when a job reaches a terminal state.
type FinalizeJobParams struct {
	JobID string
	// From is the status the job must currently be in.
	From         model.JobStatus
	To           model.JobStatus
	ErrorMessage *string
	Outcomes     []*model.JobOutcome
	History      *model.CreateConfigHistoryRequest
}

// FinalizeResult reports what Finalize persisted.
type FinalizeResult struct {
	Job           *model.Job
	ConfigHistory *model.ConfigurationHistory
}

// OutcomeRepository defines the interface for job outcome data operations.
type OutcomeRepository interface {
	// Finalize writes outcomes, the optional configuration history row and the job status
	// in a single transaction. A job not in params.From yields ErrJobNotInState.
	Finalize(ctx context.Context, params FinalizeJobParams) (*FinalizeResult, error)
	ListByJob(ctx context.Context, jobID string) ([]*model.JobOutcome, error)
	GetSummary(ctx context.Context, jobID string) (*model.JobOutcome, error)
}

// ConfigHistoryRepository defines the interface for configuration history data operations.
type ConfigHistoryRepository interface {
	GetByID(ctx context.Context, id string) (*model.ConfigurationHistory, error)
	GetByJobID(ctx context.Context, jobID string) (*model.ConfigurationHistory, error)
	// RecordVerification fills performance_after once. It returns false when the row was
	// already verified.
	RecordVerification(ctx context.Context, req model.RecordVerificationRequest) (bool, error)
}

// FollowUpRepository defines the interface for the durable post-change check queue.
type FollowUpRepository interface {
	Schedule(ctx context.Context, req model.ScheduleFollowUpRequest) (*model.FollowUpCheck, error)
	ClaimDue(ctx context.Context, params ClaimFollowUpsParams) ([]*model.FollowUpCheck, error)
	Complete(ctx context.Context, params CompleteFollowUpParams) error
	List(ctx context.Context, status model.FollowUpStatus, limit int) ([]*model.FollowUpCheck, error)
}

// ClaimFollowUpsParams groups parameters for ClaimDue.
type ClaimFollowUpsParams struct {
	Limit int
	Lease time.Duration
}

// CompleteFollowUpParams groups parameters for Complete.
type CompleteFollowUpParams struct {
	ID        string
	Status    model.FollowUpStatus
	LastError *string
}

// AuditEventRepository persists audit events.
type AuditEventRepository interface {
	Insert(ctx context.Context, event *model.AuditEvent) error
}

// DeleteOlderThanParams groups parameters for retention deletes.
type DeleteOlderThanParams struct {
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository defines the interface for cleanup operations.
type ReaperRepository interface {
	// FailStalePendingJobs marks pending jobs older than maxAge as failed.
	FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
	// FailAbandonedSentJobs finalizes sent jobs whose orchestrator vanished.
	FailAbandonedSentJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
	ExpireStaleFollowUps(ctx context.Context, params DeleteOlderThanParams) (int64, error)
	DeleteOldPushAttempts(ctx context.Context, params DeleteOlderThanParams) (int64, error)
	DeleteOldAuditEvents(ctx context.Context, params DeleteOlderThanParams) (int64, error)
}
