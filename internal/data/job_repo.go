package data

import (
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/target/fleetpush/internal/domain/model"
)

// JobAddedChannel is the LISTEN/NOTIFY channel signalled when a job is created.
const JobAddedChannel = "job_added"

// RepoConfig holds configuration options for the job repository.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for job management.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobRepo{
		DB:           db,
		timeProvider: resolveTimeProvider(cfg.TimeProvider),
		logger:       logger.With("component", "job_repo"),
	}
}

const jobColumns = `
  id,
  action,
  status,
  priority,
  site_id,
  segment,
  device_ids,
  payload,
  config_version,
  ttl_seconds,
  error_message,
  lease_expires_at,
  sent_at,
  created_at,
  completed_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(scanner rowScanner) (*model.Job, error) {
	job := &model.Job{}
	var payload []byte
	if err := scanner.Scan(
		&job.ID,
		&job.Action,
		&job.Status,
		&job.Priority,
		&job.SiteID,
		&job.Segment,
		&job.DeviceIDs,
		&payload,
		&job.ConfigVersion,
		&job.TTLSeconds,
		&job.ErrorMessage,
		&job.LeaseExpiresAt,
		&job.SentAt,
		&job.CreatedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}
	job.Payload = cloneJSON(payload)
	return job, nil
}

// collectJob collects a single job from pgx rows.
func collectJob(rows pgx.Rows) (*model.Job, error) {
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}
	job, err := scanJob(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()
	return job, rows.Err()
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
