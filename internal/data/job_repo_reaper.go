package data

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/data/pgxutil"
	"github.com/target/fleetpush/internal/domain/model"
)

// Advisory lock namespace for reaper operations. Major key 1000 is reserved for the reaper;
// each operation takes its own minor key so concurrent reapers skip rather than queue.
const (
	advisoryLockReaperMajor          int32 = 1000
	advisoryLockReaperFailPending    int32 = 1
	advisoryLockReaperFailSent       int32 = 2
	advisoryLockReaperExpireFollowUp int32 = 3
	advisoryLockReaperPruneAttempts  int32 = 4
	advisoryLockReaperPruneAudit     int32 = 5
)

func (r *JobRepo) withReaperLock(ctx context.Context, minor int32, fn func(tx pgx.Tx) (int64, error)) (int64, error) {
	var affected int64
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			locked, err := pgxutil.TryAdvisoryXactLock(ctx, tx, advisoryLockReaperMajor, minor)
			if err != nil || !locked {
				return err
			}
			affected, err = fn(tx)
			return err
		},
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// FailStalePendingJobs marks pending jobs older than maxAge as failed, up to batchSize per call.
func (r *JobRepo) FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	return r.withReaperLock(ctx, advisoryLockReaperFailPending, func(tx pgx.Tx) (int64, error) {
		now := r.timeProvider.Now().UTC()
		tag, err := tx.Exec(ctx, `
			UPDATE jobs
			SET status = 'failed',
			    error_message = 'job timed out in pending status',
			    completed_at = $1,
			    lease_expires_at = NULL
			WHERE id IN (
			    SELECT id FROM jobs
			    WHERE status = 'pending'
			      AND created_at < $2
			      AND (lease_expires_at IS NULL OR lease_expires_at < $1)
			    ORDER BY created_at
			    LIMIT $3
			    FOR UPDATE SKIP LOCKED
			)
		`, now, now.Add(-maxAge), batchSize)
		if err != nil {
			return 0, fmt.Errorf("fail stale pending jobs: %w", err)
		}
		return tag.RowsAffected(), nil
	})
}

// FailAbandonedSentJobs fails sent jobs whose dispatcher stopped heartbeating and writes a
// JOB_ABANDONED summary outcome for each.
func (r *JobRepo) FailAbandonedSentJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error) {
	return r.withReaperLock(ctx, advisoryLockReaperFailSent, func(tx pgx.Tx) (int64, error) {
		now := r.timeProvider.Now().UTC()
		rows, err := tx.Query(ctx, `
			UPDATE jobs
			SET status = 'failed',
			    error_message = 'job abandoned while awaiting device results',
			    completed_at = $1,
			    lease_expires_at = NULL
			WHERE id IN (
			    SELECT id FROM jobs
			    WHERE status = 'sent'
			      AND sent_at < $2
			      AND (lease_expires_at IS NULL OR lease_expires_at < $1)
			    ORDER BY sent_at
			    LIMIT $3
			    FOR UPDATE SKIP LOCKED
			)
			RETURNING id
		`, now, now.Add(-maxAge), batchSize)
		if err != nil {
			return 0, fmt.Errorf("fail abandoned sent jobs: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return 0, fmt.Errorf("fail abandoned sent jobs: %w", err)
		}
		for _, id := range ids {
			if _, err = tx.Exec(ctx, `
				INSERT INTO job_outcomes (id, job_id, device_id, status, error_code, error_message, extra_data, created_at)
				SELECT gen_random_uuid(), $1, NULL, 'failed', $2, 'job abandoned while awaiting device results',
				       jsonb_build_object(
				           'total_devices', count(DISTINCT device_id),
				           'successful_pushes', 0,
				           'failed_pushes', count(DISTINCT device_id),
				           'timed_out', 0,
				           'fallback_used', count(*) FILTER (WHERE fallback_used)),
				       $3
				FROM push_attempts WHERE job_id = $1
				ON CONFLICT (job_id) WHERE device_id IS NULL DO NOTHING
			`, id, model.ErrCodeJobAbandoned, now); err != nil {
				return 0, fmt.Errorf("write abandoned outcome for job %s: %w", id, err)
			}
		}
		return int64(len(ids)), nil
	})
}

// ExpireStaleFollowUps marks follow-ups that have been pending or running past MaxAge as expired.
func (r *JobRepo) ExpireStaleFollowUps(ctx context.Context, params core.DeleteOlderThanParams) (int64, error) {
	return r.withReaperLock(ctx, advisoryLockReaperExpireFollowUp, func(tx pgx.Tx) (int64, error) {
		now := r.timeProvider.Now().UTC()
		tag, err := tx.Exec(ctx, `
			UPDATE followup_checks
			SET status = 'expired',
			    last_error = 'follow-up check expired before completion',
			    completed_at = $1,
			    lease_expires_at = NULL
			WHERE id IN (
			    SELECT id FROM followup_checks
			    WHERE status IN ('pending', 'running')
			      AND fire_at < $2
			      AND (lease_expires_at IS NULL OR lease_expires_at < $1)
			    ORDER BY fire_at
			    LIMIT $3
			    FOR UPDATE SKIP LOCKED
			)
		`, now, now.Add(-params.MaxAge), params.BatchSize)
		if err != nil {
			return 0, fmt.Errorf("expire stale follow-ups: %w", err)
		}
		return tag.RowsAffected(), nil
	})
}

// DeleteOldPushAttempts prunes attempts of terminal jobs older than MaxAge.
func (r *JobRepo) DeleteOldPushAttempts(ctx context.Context, params core.DeleteOlderThanParams) (int64, error) {
	return r.withReaperLock(ctx, advisoryLockReaperPruneAttempts, func(tx pgx.Tx) (int64, error) {
		tag, err := tx.Exec(ctx, `
			DELETE FROM push_attempts
			WHERE id IN (
			    SELECT a.id FROM push_attempts a
			    JOIN jobs j ON j.id = a.job_id
			    WHERE a.created_at < $1
			      AND j.status IN ('completed', 'failed')
			    ORDER BY a.created_at
			    LIMIT $2
			)
		`, r.timeProvider.Now().UTC().Add(-params.MaxAge), params.BatchSize)
		if err != nil {
			return 0, fmt.Errorf("delete old push attempts: %w", err)
		}
		return tag.RowsAffected(), nil
	})
}

// DeleteOldAuditEvents prunes audit events older than MaxAge.
func (r *JobRepo) DeleteOldAuditEvents(ctx context.Context, params core.DeleteOlderThanParams) (int64, error) {
	return r.withReaperLock(ctx, advisoryLockReaperPruneAudit, func(tx pgx.Tx) (int64, error) {
		tag, err := tx.Exec(ctx, `
			DELETE FROM audit_events
			WHERE id IN (
			    SELECT id FROM audit_events
			    WHERE occurred_at < $1
			    ORDER BY occurred_at
			    LIMIT $2
			)
		`, r.timeProvider.Now().UTC().Add(-params.MaxAge), params.BatchSize)
		if err != nil {
			return 0, fmt.Errorf("delete old audit events: %w", err)
		}
		return tag.RowsAffected(), nil
	})
}
