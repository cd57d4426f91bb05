package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/target/fleetpush/internal/data/pgxutil"
	"github.com/target/fleetpush/internal/domain/model"
	apperrors "github.com/target/fleetpush/internal/errors"
)

// maxJobErrorLen bounds the accumulated error_message on a job row.
const maxJobErrorLen = 4000

// reserveNextSQL leases the next pending job. Status stays pending; the orchestrator
// claims the job with MarkSent.
const reserveNextSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE status = 'pending'
      AND (lease_expires_at IS NULL OR lease_expires_at < $1)
    ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET lease_expires_at = $2
  FROM cte
  WHERE j.id = cte.id
  RETURNING ` + prefixedJobColumns

const prefixedJobColumns = `j.id, j.action, j.status, j.priority, j.site_id, j.segment, j.device_ids,
  j.payload, j.config_version, j.ttl_seconds, j.error_message, j.lease_expires_at, j.sent_at,
  j.created_at, j.completed_at`

// Create inserts a pending job and notifies dispatchers in the same transaction.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, `
				INSERT INTO jobs (id, action, status, priority, site_id, segment, device_ids, payload,
				                  config_version, ttl_seconds, created_at)
				VALUES ($1, $2, 'pending', $3, $4, $5, $6, $7, $8, $9, $10)
				RETURNING `+jobColumns,
				uuid.NewString(),
				req.Action,
				req.Priority,
				req.SiteID,
				req.Segment,
				nonNilStrings(req.DeviceIDs),
				[]byte(req.Payload),
				req.ConfigVersion,
				req.TTLSeconds,
				r.timeProvider.Now().UTC(),
			)
			if err != nil {
				return fmt.Errorf("insert job: %w", err)
			}
			job, err = collectJob(rows)
			if err != nil {
				return fmt.Errorf("insert job: %w", err)
			}
			if _, err = tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, JobAddedChannel, job.ID); err != nil {
				return fmt.Errorf("send job notification: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
		if err != nil {
			return err
		}
		job, err = collectJob(rows)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ReserveNext leases the next pending job for leaseSeconds.
func (r *JobRepo) ReserveNext(ctx context.Context, leaseSeconds int) (*model.Job, error) {
	if leaseSeconds <= 0 {
		return nil, errors.New("leaseSeconds must be positive")
	}
	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			now := r.timeProvider.Now().UTC()
			rows, err := tx.Query(ctx, reserveNextSQL, now, now.Add(time.Duration(leaseSeconds)*time.Second))
			if err != nil {
				return fmt.Errorf("reserve job: %w", err)
			}
			j, err := collectJob(rows)
			if errors.Is(err, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if err != nil {
				return fmt.Errorf("reserve job: %w", err)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Heartbeat refreshes the lease on a job that is still being dispatched.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}
	now := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET lease_expires_at = $2
		WHERE id = $1 AND status IN ('pending', 'sent')
	`, jobID, now.Add(time.Duration(leaseSeconds)*time.Second))
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkSent atomically moves a pending job to sent.
func (r *JobRepo) MarkSent(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			UPDATE jobs
			SET status = 'sent', sent_at = $2
			WHERE id = $1 AND status = 'pending'
			RETURNING `+jobColumns, id, r.timeProvider.Now().UTC())
		if err != nil {
			return err
		}
		job, err = collectJob(rows)
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotPending
	}
	if err != nil {
		return nil, fmt.Errorf("mark job sent: %w", err)
	}
	return job, nil
}

// AppendError appends msg to the job's error_message, leaving the status untouched.
func (r *JobRepo) AppendError(ctx context.Context, id, msg string) error {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return nil
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET error_message = left(
		    CASE WHEN error_message IS NULL OR error_message = '' THEN $2
		         ELSE error_message || '; ' || $2 END, $3)
		WHERE id = $1
	`, id, msg, maxJobErrorLen)
	if err != nil {
		return fmt.Errorf("append job error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Stats returns job counts per status.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending')   AS pending,
    count(*) FILTER (WHERE status = 'sent')      AS sent,
    count(*) FILTER (WHERE status = 'completed') AS completed,
    count(*) FILTER (WHERE status = 'failed')    AS failed
  FROM jobs
  `).Scan(&s.Pending, &s.Sent, &s.Completed, &s.Failed)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return &s, nil
}

// WaitForNotification blocks until a job_added notification arrives or ctx ends.
func (r *JobRepo) WaitForNotification(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	quoted := pgx.Identifier{JobAddedChannel}.Sanitize()
	if _, err = conn.ExecContext(ctx, "LISTEN "+quoted); err != nil {
		return fmt.Errorf("listen %s: %w", JobAddedChannel, err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "UNLISTEN "+quoted)
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, waitErr := sc.Conn().WaitForNotification(ctx)
		return waitErr
	})
}
