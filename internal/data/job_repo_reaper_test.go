package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/testutil"
)

func TestJobRepo_FailStalePendingJobs(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		seedFleet(t, db)
		repo := NewJobRepo(db, RepoConfig{})
		ctx := context.Background()

		oldJob, err := repo.Create(ctx, testutil.NewJobRequest("site-1").Build())
		require.NoError(t, err)
		_, err = db.ExecContext(ctx, `UPDATE jobs SET created_at = $1 WHERE id = $2`,
			time.Now().Add(-2*time.Hour), oldJob.ID)
		require.NoError(t, err)

		recentJob, err := repo.Create(ctx, testutil.NewJobRequest("site-1").Build())
		require.NoError(t, err)

		count, err := repo.FailStalePendingJobs(ctx, time.Hour, 1000)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		got, err := repo.GetByID(ctx, oldJob.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		require.NotNil(t, got.ErrorMessage)
		assert.Contains(t, *got.ErrorMessage, "timed out in pending status")
		assert.NotNil(t, got.CompletedAt)

		got, err = repo.GetByID(ctx, recentJob.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, got.Status)
	})
}

func TestJobRepo_FailAbandonedSentJobs(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		seedFleet(t, db)
		repo := NewJobRepo(db, RepoConfig{})
		attempts := NewPushAttemptRepo(db, nil)
		outcomes := NewOutcomeRepo(db, nil)
		ctx := context.Background()

		job := sentJob(t, db, testutil.NewJobRequest("site-1").Build())
		require.NoError(t, attempts.Insert(ctx, &model.PushAttempt{
			JobID: job.ID, DeviceID: "dev-a", Provider: "simulated", AttemptNo: 1,
			Outcome: model.PushOutcomeDelivered,
		}))
		_, err := db.ExecContext(ctx, `UPDATE jobs SET sent_at = $1 WHERE id = $2`,
			time.Now().Add(-3*time.Hour), job.ID)
		require.NoError(t, err)

		count, err := repo.FailAbandonedSentJobs(ctx, time.Hour, 100)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		got, err := repo.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)

		summary, err := outcomes.GetSummary(ctx, job.ID)
		require.NoError(t, err)
		require.NotNil(t, summary.ErrorCode)
		assert.Equal(t, model.ErrCodeJobAbandoned, *summary.ErrorCode)
		counts, err := summary.Counts()
		require.NoError(t, err)
		assert.Equal(t, 1, counts.TotalDevices)
	})
}

func TestJobRepo_PruneAndExpire(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		h := seedConfigHistory(t, db)
		repo := NewJobRepo(db, RepoConfig{})
		followups := NewFollowUpRepo(db, nil)
		audit := NewAuditEventRepo(db, nil)
		ctx := context.Background()

		_, err := followups.Schedule(ctx, model.ScheduleFollowUpRequest{
			ConfigHistoryID: h.ID, DeviceIDs: []string{"dev-a"}, FireAt: time.Now().Add(-48 * time.Hour),
		})
		require.NoError(t, err)

		n, err := repo.ExpireStaleFollowUps(ctx, core.DeleteOlderThanParams{MaxAge: 24 * time.Hour, BatchSize: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		expired, err := followups.List(ctx, model.FollowUpExpired, 10)
		require.NoError(t, err)
		assert.Len(t, expired, 1)

		require.NoError(t, audit.Insert(ctx, &model.AuditEvent{
			Category: "job.created", Severity: "info", Message: "old", OccurredAt: time.Now().Add(-100 * 24 * time.Hour),
		}))
		require.NoError(t, audit.Insert(ctx, &model.AuditEvent{
			Category: "job.created", Severity: "info", Message: "fresh",
		}))
		n, err = repo.DeleteOldAuditEvents(ctx, core.DeleteOlderThanParams{MaxAge: 30 * 24 * time.Hour, BatchSize: 10})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}
