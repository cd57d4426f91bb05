package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/data/pgxutil"
	"github.com/target/fleetpush/internal/domain/model"
	apperrors "github.com/target/fleetpush/internal/errors"
)

// maxFollowUpClaims bounds how often a crashed check is re-claimed.
const maxFollowUpClaims = 3

// FollowUpRepo stores scheduled post-change checks.
type FollowUpRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewFollowUpRepo creates a new FollowUpRepo.
func NewFollowUpRepo(db *sql.DB, tp TimeProvider) *FollowUpRepo {
	return &FollowUpRepo{DB: db, timeProvider: resolveTimeProvider(tp)}
}

const followUpColumns = `id, config_history_id, device_ids, fire_at, status, attempts, last_error,
  created_at, completed_at`

func scanFollowUp(scanner rowScanner) (*model.FollowUpCheck, error) {
	var f model.FollowUpCheck
	if err := scanner.Scan(&f.ID, &f.ConfigHistoryID, &f.DeviceIDs, &f.FireAt, &f.Status, &f.Attempts,
		&f.LastError, &f.CreatedAt, &f.CompletedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *FollowUpRepo) query(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]*model.FollowUpCheck, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.FollowUpCheck, error) {
		return scanFollowUp(row)
	})
}

// Schedule inserts a pending check. Scheduling the same (config_history_id, fire_at) twice
// merges the device lists.
func (r *FollowUpRepo) Schedule(ctx context.Context, req model.ScheduleFollowUpRequest) (*model.FollowUpCheck, error) {
	if req.ConfigHistoryID == "" {
		return nil, apperrors.ValidationField("config_history_id", "config history id is required")
	}
	if len(req.DeviceIDs) == 0 {
		return nil, apperrors.ValidationField("device_ids", "at least one device is required")
	}
	fireAt := req.FireAt.UTC().Truncate(time.Millisecond)
	var out *model.FollowUpCheck
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			checks, err := r.query(ctx, tx, `
				INSERT INTO followup_checks (id, config_history_id, device_ids, fire_at, status, created_at)
				VALUES ($1, $2, $3, $4, 'pending', $5)
				ON CONFLICT (config_history_id, fire_at) DO UPDATE
				SET device_ids = ARRAY(
				    SELECT DISTINCT unnest(followup_checks.device_ids || EXCLUDED.device_ids) ORDER BY 1)
				RETURNING `+followUpColumns,
				uuid.NewString(), req.ConfigHistoryID, req.DeviceIDs, fireAt, r.timeProvider.Now().UTC(),
			)
			if err != nil {
				return err
			}
			out = checks[0]
			return nil
		},
	})
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("schedule follow-up: %w", err))
	}
	return out, nil
}

// ClaimDue leases up to Limit due checks. Checks whose lease lapsed while running are
// re-claimed a bounded number of times.
func (r *FollowUpRepo) ClaimDue(ctx context.Context, params core.ClaimFollowUpsParams) ([]*model.FollowUpCheck, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	lease := params.Lease
	if lease <= 0 {
		lease = time.Minute
	}
	var out []*model.FollowUpCheck
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{Isolation: sql.LevelReadCommitted},
		Fn: func(tx pgx.Tx) error {
			now := r.timeProvider.Now().UTC()
			var err error
			out, err = r.query(ctx, tx, `
				WITH due AS (
				    SELECT id FROM followup_checks
				    WHERE (status = 'pending' AND fire_at <= $1)
				       OR (status = 'running' AND lease_expires_at < $1 AND attempts < $4)
				    ORDER BY fire_at
				    LIMIT $2
				    FOR UPDATE SKIP LOCKED
				)
				UPDATE followup_checks f
				SET status = 'running',
				    attempts = f.attempts + 1,
				    lease_expires_at = $3
				FROM due
				WHERE f.id = due.id
				RETURNING f.id, f.config_history_id, f.device_ids, f.fire_at, f.status, f.attempts,
				    f.last_error, f.created_at, f.completed_at
			`, now, limit, now.Add(lease), maxFollowUpClaims)
			return err
		},
	})
	if err != nil {
		return nil, fmt.Errorf("claim due follow-ups: %w", err)
	}
	return out, nil
}

// Complete moves a running check to a terminal status.
func (r *FollowUpRepo) Complete(ctx context.Context, params core.CompleteFollowUpParams) error {
	switch params.Status {
	case model.FollowUpDone, model.FollowUpUnreachable, model.FollowUpExpired:
	default:
		return fmt.Errorf("complete follow-up: %s is not a terminal status", params.Status)
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE followup_checks
		SET status = $2,
		    last_error = $3,
		    completed_at = $4,
		    lease_expires_at = NULL
		WHERE id = $1 AND status = 'running'
	`, params.ID, string(params.Status), params.LastError, r.timeProvider.Now().UTC())
	if err != nil {
		return fmt.Errorf("complete follow-up: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrFollowUpNotFound
	}
	return nil
}

// List returns checks in the given status, soonest first. An empty status lists all.
func (r *FollowUpRepo) List(ctx context.Context, status model.FollowUpStatus, limit int) ([]*model.FollowUpCheck, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []*model.FollowUpCheck
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+followUpColumns+`
			FROM followup_checks
			WHERE ($1 = '' OR status = $1)
			ORDER BY fire_at
			LIMIT $2
		`, string(status), limit)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.FollowUpCheck, error) {
			return scanFollowUp(row)
		})
		return err
	})
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("list follow-ups: %w", err)
	}
	return out, nil
}
