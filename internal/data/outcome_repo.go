package data

import (
	"context"
	"database/sql"
	"encoding/json"
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

// OutcomeRepo persists job outcomes and performs the finalize transaction.
type OutcomeRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewOutcomeRepo creates a new OutcomeRepo.
func NewOutcomeRepo(db *sql.DB, tp TimeProvider) *OutcomeRepo {
	return &OutcomeRepo{DB: db, timeProvider: resolveTimeProvider(tp)}
}

const outcomeColumns = `id, job_id, device_id, status, duration_ms, retry_count, error_code,
  error_message, extra_data, created_at`

// Finalize writes the terminal job status, its outcomes and the optional configuration
// history row in one transaction.
func (r *OutcomeRepo) Finalize(ctx context.Context, params core.FinalizeJobParams) (*core.FinalizeResult, error) {
	if !params.From.CanTransitionTo(params.To) {
		return nil, fmt.Errorf("finalize job %s: illegal transition %s -> %s", params.JobID, params.From, params.To)
	}
	now := r.timeProvider.Now().UTC()
	result := &core.FinalizeResult{}

	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, `
				UPDATE jobs
				SET status = $3,
				    error_message = CASE
				        WHEN $4::text IS NULL THEN error_message
				        WHEN error_message IS NULL OR error_message = '' THEN $4::text
				        ELSE $4::text || '; ' || error_message END,
				    completed_at = $5,
				    lease_expires_at = NULL
				WHERE id = $1 AND status = $2
				RETURNING `+jobColumns,
				params.JobID, string(params.From), string(params.To), params.ErrorMessage, now,
			)
			if err != nil {
				return err
			}
			job, err := collectJob(rows)
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrJobNotInState
			}
			if err != nil {
				return err
			}
			result.Job = job

			for _, o := range params.Outcomes {
				if err = insertOutcome(ctx, tx, o, now); err != nil {
					return err
				}
			}

			if params.History != nil {
				h, histErr := insertConfigHistory(ctx, tx, params.History, now)
				if histErr != nil {
					return histErr
				}
				result.ConfigHistory = h
			}
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, ErrJobNotInState) {
			return nil, err
		}
		return nil, apperrors.MapDBError(fmt.Errorf("finalize job %s: %w", params.JobID, err))
	}
	return result, nil
}

func insertOutcome(ctx context.Context, tx pgx.Tx, o *model.JobOutcome, now time.Time) error {
	if o == nil {
		return nil
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	extra := []byte(o.ExtraData)
	if len(extra) == 0 {
		extra = []byte(`{}`)
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO job_outcomes (`+outcomeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, o.ID, o.JobID, o.DeviceID, string(o.Status), o.DurationMS, o.RetryCount, o.ErrorCode,
		o.ErrorMessage, extra, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert job outcome: %w", err)
	}
	return nil
}

func insertConfigHistory(
	ctx context.Context,
	tx pgx.Tx,
	req *model.CreateConfigHistoryRequest,
	now time.Time,
) (*model.ConfigurationHistory, error) {
	before, err := json.Marshal(req.PerformanceBefore)
	if err != nil {
		return nil, fmt.Errorf("marshal performance_before: %w", err)
	}
	changeType := req.ChangeType
	if changeType == "" {
		changeType = model.ChangeTypeManual
	}
	rows, err := tx.Query(ctx, `
		INSERT INTO configuration_history (id, job_id, entity_type, entity_id, parameter_name, old_value,
		    new_value, change_type, performance_before, was_successful, created_at, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		    CASE WHEN $10::boolean IS NULL THEN NULL ELSE $11::timestamptz END)
		RETURNING `+configHistoryColumns,
		uuid.NewString(), req.JobID, req.EntityType, req.EntityID, req.ParameterName, req.OldValue,
		req.NewValue, string(changeType), before, req.WasSuccessful, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert configuration history: %w", err)
	}
	histories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.ConfigurationHistory, error) {
		return scanConfigHistory(row)
	})
	if err != nil {
		return nil, fmt.Errorf("insert configuration history: %w", err)
	}
	return histories[0], nil
}

func scanOutcome(scanner rowScanner) (*model.JobOutcome, error) {
	var o model.JobOutcome
	var extra []byte
	if err := scanner.Scan(&o.ID, &o.JobID, &o.DeviceID, &o.Status, &o.DurationMS, &o.RetryCount,
		&o.ErrorCode, &o.ErrorMessage, &extra, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.ExtraData = cloneJSON(extra)
	return &o, nil
}

// ListByJob returns the summary outcome first, then per-device outcomes by device id.
func (r *OutcomeRepo) ListByJob(ctx context.Context, jobID string) ([]*model.JobOutcome, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, nil
	}
	var out []*model.JobOutcome
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT `+outcomeColumns+`
			FROM job_outcomes
			WHERE job_id = $1
			ORDER BY device_id NULLS FIRST
		`, jobID)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.JobOutcome, error) {
			return scanOutcome(row)
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list job outcomes: %w", err)
	}
	return out, nil
}

// GetSummary returns the job-level outcome row.
func (r *OutcomeRepo) GetSummary(ctx context.Context, jobID string) (*model.JobOutcome, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, ErrOutcomeNotFound
	}
	var out *model.JobOutcome
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		var err error
		out, err = scanOutcome(conn.QueryRow(ctx, `
			SELECT `+outcomeColumns+`
			FROM job_outcomes
			WHERE job_id = $1 AND device_id IS NULL
		`, jobID))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOutcomeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job summary outcome: %w", err)
	}
	return out, nil
}
