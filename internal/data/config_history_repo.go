package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/target/fleetpush/internal/data/pgxutil"
	"github.com/target/fleetpush/internal/domain/model"
)

// ConfigHistoryRepo reads and verifies configuration history rows. Rows are created by
// OutcomeRepo.Finalize.
type ConfigHistoryRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewConfigHistoryRepo creates a new ConfigHistoryRepo.
func NewConfigHistoryRepo(db *sql.DB, tp TimeProvider) *ConfigHistoryRepo {
	return &ConfigHistoryRepo{DB: db, timeProvider: resolveTimeProvider(tp)}
}

const configHistoryColumns = `id, job_id, entity_type, entity_id, parameter_name, old_value, new_value,
  change_type, performance_before, performance_after, was_successful, was_rolled_back, created_at,
  verified_at`

func scanConfigHistory(scanner rowScanner) (*model.ConfigurationHistory, error) {
	var h model.ConfigurationHistory
	var before, after []byte
	if err := scanner.Scan(&h.ID, &h.JobID, &h.EntityType, &h.EntityID, &h.ParameterName, &h.OldValue,
		&h.NewValue, &h.ChangeType, &before, &after, &h.WasSuccessful, &h.WasRolledBack, &h.CreatedAt,
		&h.VerifiedAt); err != nil {
		return nil, err
	}
	if len(before) > 0 {
		h.PerformanceBefore = append(json.RawMessage(nil), before...)
	}
	if len(after) > 0 {
		h.PerformanceAfter = append(json.RawMessage(nil), after...)
	}
	return &h, nil
}

func (r *ConfigHistoryRepo) getOne(ctx context.Context, where string, arg string) (*model.ConfigurationHistory, error) {
	if _, err := uuid.Parse(arg); err != nil {
		return nil, ErrConfigHistoryNotFound
	}
	var out *model.ConfigurationHistory
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		var err error
		out, err = scanConfigHistory(conn.QueryRow(ctx,
			`SELECT `+configHistoryColumns+` FROM configuration_history WHERE `+where+` = $1`, arg))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConfigHistoryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get configuration history: %w", err)
	}
	return out, nil
}

// GetByID retrieves a configuration history row by id.
func (r *ConfigHistoryRepo) GetByID(ctx context.Context, id string) (*model.ConfigurationHistory, error) {
	return r.getOne(ctx, "id", id)
}

// GetByJobID retrieves the configuration history row written for a job.
func (r *ConfigHistoryRepo) GetByJobID(ctx context.Context, jobID string) (*model.ConfigurationHistory, error) {
	return r.getOne(ctx, "job_id", jobID)
}

// RecordVerification fills performance_after and was_successful. The row is only updated
// while performance_after is still NULL.
func (r *ConfigHistoryRepo) RecordVerification(ctx context.Context, req model.RecordVerificationRequest) (bool, error) {
	after, err := json.Marshal(req.PerformanceAfter)
	if err != nil {
		return false, fmt.Errorf("marshal performance_after: %w", err)
	}
	res, err := r.DB.ExecContext(ctx, `
		UPDATE configuration_history
		SET performance_after = $2,
		    was_successful = $3,
		    verified_at = $4
		WHERE id = $1 AND performance_after IS NULL
	`, req.ConfigHistoryID, after, req.WasSuccessful, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("record verification: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record verification rows affected: %w", err)
	}
	return n > 0, nil
}
