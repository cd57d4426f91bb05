package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/target/fleetpush/internal/data/pgxutil"
	"github.com/target/fleetpush/internal/domain/model"
	apperrors "github.com/target/fleetpush/internal/errors"
)

// PushAttemptRepo is the append-only log of provider calls.
type PushAttemptRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewPushAttemptRepo creates a new PushAttemptRepo.
func NewPushAttemptRepo(db *sql.DB, tp TimeProvider) *PushAttemptRepo {
	return &PushAttemptRepo{DB: db, timeProvider: resolveTimeProvider(tp)}
}

const pushAttemptColumns = `id, job_id, device_id, provider, attempt_no, fallback_used, status_code,
  outcome, message_id, error_code, error_message, latency_ms, created_at`

// Insert appends one attempt. ID and CreatedAt are filled when empty.
func (r *PushAttemptRepo) Insert(ctx context.Context, a *model.PushAttempt) error {
	if a == nil {
		return errors.New("push attempt is required")
	}
	if !a.Outcome.Valid() {
		return apperrors.ValidationField("outcome", "unknown push outcome")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.timeProvider.Now().UTC()
	}
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO push_attempts (`+pushAttemptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		a.ID, a.JobID, a.DeviceID, a.Provider, a.AttemptNo, a.FallbackUsed, a.StatusCode,
		string(a.Outcome), a.MessageID, a.ErrorCode, a.ErrorMessage, a.LatencyMS, a.CreatedAt,
	)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("insert push attempt: %w", err))
	}
	return nil
}

// ListByJob returns a job's attempts ordered by device and attempt number.
func (r *PushAttemptRepo) ListByJob(ctx context.Context, jobID string) ([]*model.PushAttempt, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, nil
	}
	var out []*model.PushAttempt
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+pushAttemptColumns+`
			FROM push_attempts
			WHERE job_id = $1
			ORDER BY device_id, attempt_no
		`, jobID)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.PushAttempt, error) {
			var a model.PushAttempt
			scanErr := row.Scan(&a.ID, &a.JobID, &a.DeviceID, &a.Provider, &a.AttemptNo, &a.FallbackUsed,
				&a.StatusCode, &a.Outcome, &a.MessageID, &a.ErrorCode, &a.ErrorMessage, &a.LatencyMS, &a.CreatedAt)
			return &a, scanErr
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list push attempts: %w", err)
	}
	return out, nil
}

// CountByJob returns the number of attempts logged for a job.
func (r *PushAttemptRepo) CountByJob(ctx context.Context, jobID string) (int, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return 0, nil
	}
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM push_attempts WHERE job_id = $1`, jobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count push attempts: %w", err)
	}
	return n, nil
}
