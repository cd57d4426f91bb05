package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/data/pgxutil"
	"github.com/target/fleetpush/internal/domain/model"
	apperrors "github.com/target/fleetpush/internal/errors"
)

// DeviceRepo provides database operations for devices and their state history.
type DeviceRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewDeviceRepo creates a new DeviceRepo.
func NewDeviceRepo(db *sql.DB, tp TimeProvider) *DeviceRepo {
	return &DeviceRepo{DB: db, timeProvider: resolveTimeProvider(tp)}
}

const deviceColumns = `
  id,
  site_id,
  name,
  device_type,
  segment,
  platform,
  push_token,
  status,
  last_seen,
  config_version,
  health_url,
  attributes,
  needs_reregistration,
  reregistration_reason,
  created_at,
  updated_at
`

func scanDevice(scanner rowScanner) (*model.Device, error) {
	d := &model.Device{}
	var attrs []byte
	if err := scanner.Scan(
		&d.ID,
		&d.SiteID,
		&d.Name,
		&d.DeviceType,
		&d.Segment,
		&d.Platform,
		&d.PushToken,
		&d.Status,
		&d.LastSeen,
		&d.ConfigVersion,
		&d.HealthURL,
		&attrs,
		&d.NeedsReregistration,
		&d.ReregistrationReason,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Attributes = cloneJSON(attrs)
	return d, nil
}

func (r *DeviceRepo) queryDevices(ctx context.Context, query string, args ...any) ([]*model.Device, error) {
	var out []*model.Device
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Device, error) {
			return scanDevice(row)
		})
		return err
	})
	return out, err
}

// GetByID retrieves a device by its ID.
func (r *DeviceRepo) GetByID(ctx context.Context, id string) (*model.Device, error) {
	devices, err := r.queryDevices(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrDeviceNotFound
	}
	return devices[0], nil
}

// ListBySite returns every device of a site ordered by id.
func (r *DeviceRepo) ListBySite(ctx context.Context, siteID string) ([]*model.Device, error) {
	devices, err := r.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE site_id = $1 ORDER BY id`, siteID)
	if err != nil {
		return nil, fmt.Errorf("list devices by site: %w", err)
	}
	return devices, nil
}

// ListByIDs returns the devices with the given ids ordered by id. Unknown ids are skipped.
func (r *DeviceRepo) ListByIDs(ctx context.Context, ids []string) ([]*model.Device, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	devices, err := r.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("list devices by ids: %w", err)
	}
	return devices, nil
}

// Upsert inserts or replaces a device's descriptive fields. Liveness fields of an existing
// device are left alone.
func (r *DeviceRepo) Upsert(ctx context.Context, d *model.Device) (*model.Device, error) {
	if d == nil || strings.TrimSpace(d.ID) == "" {
		return nil, apperrors.ValidationField("device_id", "device id is required")
	}
	if !d.Platform.Valid() {
		return nil, apperrors.ValidationField("platform", "unknown platform")
	}
	status := d.Status
	if !status.Valid() {
		status = model.DeviceStatusOffline
	}
	attrs := []byte(d.Attributes)
	if len(attrs) == 0 {
		attrs = []byte(`{}`)
	}
	now := r.timeProvider.Now().UTC()

	var out *model.Device
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO devices (id, site_id, name, device_type, segment, platform, push_token, status,
			                     config_version, health_url, attributes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
			ON CONFLICT (id) DO UPDATE SET
			    site_id = EXCLUDED.site_id,
			    name = EXCLUDED.name,
			    device_type = EXCLUDED.device_type,
			    segment = EXCLUDED.segment,
			    platform = EXCLUDED.platform,
			    push_token = EXCLUDED.push_token,
			    health_url = EXCLUDED.health_url,
			    attributes = EXCLUDED.attributes,
			    updated_at = EXCLUDED.updated_at
			RETURNING `+deviceColumns,
			d.ID, d.SiteID, d.Name, d.DeviceType, d.Segment, d.Platform, d.PushToken, status,
			d.ConfigVersion, d.HealthURL, attrs, now,
		)
		if err != nil {
			return err
		}
		devices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Device, error) {
			return scanDevice(row)
		})
		if err != nil {
			return err
		}
		out = devices[0]
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("upsert device: %w", err))
	}
	return out, nil
}

// Register binds a device to a push channel and clears any re-registration flag.
func (r *DeviceRepo) Register(ctx context.Context, req *model.RegisterDeviceRequest) (*model.Device, error) {
	if req == nil {
		return nil, errors.New("register device request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	var token *string
	if t := strings.TrimSpace(req.PushToken); t != "" {
		token = &t
	}
	devices, err := r.queryDevices(ctx, `
		UPDATE devices
		SET platform = $2,
		    push_token = $3,
		    health_url = COALESCE($4, health_url),
		    needs_reregistration = false,
		    reregistration_reason = NULL,
		    updated_at = $5
		WHERE id = $1
		RETURNING `+deviceColumns,
		req.DeviceID, req.Platform, token, req.HealthURL, r.timeProvider.Now().UTC(),
	)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("register device: %w", err))
	}
	if len(devices) == 0 {
		return nil, ErrDeviceNotFound
	}
	return devices[0], nil
}

// ApplyReport records liveness from a device report. Reports older than the device's
// last_seen change nothing and return Changed=false.
func (r *DeviceRepo) ApplyReport(ctx context.Context, params core.ApplyReportParams) (*core.DeviceTransition, error) {
	if !params.Status.Valid() {
		return nil, apperrors.ValidationField("status", "unknown device status")
	}
	changedBy := params.ChangedBy
	if changedBy == "" {
		changedBy = "device-agent"
	}
	seenAt := params.SeenAt.UTC()
	if params.SeenAt.IsZero() {
		seenAt = r.timeProvider.Now().UTC()
	}

	var out *core.DeviceTransition
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, err := tx.Query(ctx, `SELECT `+deviceColumns+` FROM devices WHERE id = $1 FOR UPDATE`, params.DeviceID)
			if err != nil {
				return err
			}
			devices, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Device, error) {
				return scanDevice(row)
			})
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				return ErrDeviceNotFound
			}
			current := devices[0]
			out = &core.DeviceTransition{Device: current, Previous: current.Status}
			if current.LastSeen != nil && seenAt.Before(*current.LastSeen) {
				return nil
			}

			rows, err = tx.Query(ctx, `
				UPDATE devices
				SET status = $2,
				    last_seen = $3,
				    config_version = COALESCE($4, config_version),
				    updated_at = $5
				WHERE id = $1
				RETURNING `+deviceColumns,
				params.DeviceID, params.Status, seenAt, params.ConfigVersion, r.timeProvider.Now().UTC(),
			)
			if err != nil {
				return err
			}
			updated, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Device, error) {
				return scanDevice(row)
			})
			if err != nil {
				return err
			}
			out.Device = updated[0]
			out.ConfigChanged = params.ConfigVersion != nil &&
				(current.ConfigVersion == nil || *current.ConfigVersion != *params.ConfigVersion)
			if current.Status == params.Status {
				return nil
			}
			out.Changed = true
			return insertStateHistory(ctx, tx, stateChange{
				deviceID:  params.DeviceID,
				previous:  current.Status,
				next:      params.Status,
				reason:    params.Reason,
				changedBy: changedBy,
			})
		},
	})
	if err != nil {
		if errors.Is(err, ErrDeviceNotFound) {
			return nil, err
		}
		return nil, apperrors.MapDBError(fmt.Errorf("apply device report: %w", err))
	}
	return out, nil
}

// FlagForReregistration marks a device whose push token was rejected as invalid. The device
// moves to the error state and the transition is recorded in its history.
func (r *DeviceRepo) FlagForReregistration(ctx context.Context, params core.FlagDeviceParams) error {
	changedBy := params.ChangedBy
	if changedBy == "" {
		changedBy = "push-gateway"
	}
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var previous model.DeviceStatus
			var flagged bool
			err := tx.QueryRow(ctx,
				`SELECT status, needs_reregistration FROM devices WHERE id = $1 FOR UPDATE`, params.DeviceID,
			).Scan(&previous, &flagged)
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrDeviceNotFound
			}
			if err != nil {
				return err
			}
			if flagged {
				return nil
			}
			if _, err = tx.Exec(ctx, `
				UPDATE devices
				SET needs_reregistration = true,
				    reregistration_reason = $2,
				    status = 'error',
				    updated_at = $3
				WHERE id = $1
			`, params.DeviceID, params.Reason, r.timeProvider.Now().UTC()); err != nil {
				return err
			}
			if previous == model.DeviceStatusError {
				return nil
			}
			return insertStateHistory(ctx, tx, stateChange{
				deviceID:  params.DeviceID,
				previous:  previous,
				next:      model.DeviceStatusError,
				reason:    params.Reason,
				changedBy: changedBy,
			})
		},
	})
	if err != nil && !errors.Is(err, ErrDeviceNotFound) {
		return fmt.Errorf("flag device for re-registration: %w", err)
	}
	return err
}

// ListStateHistory returns the most recent transitions of a device, newest first.
func (r *DeviceRepo) ListStateHistory(ctx context.Context, deviceID string, limit int) ([]*model.DeviceStateHistory, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []*model.DeviceStateHistory
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			SELECT id, device_id, previous_state, new_state, reason, changed_by, created_at
			FROM device_state_history
			WHERE device_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		`, deviceID, limit)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.DeviceStateHistory, error) {
			var h model.DeviceStateHistory
			scanErr := row.Scan(&h.ID, &h.DeviceID, &h.PreviousState, &h.NewState, &h.Reason, &h.ChangedBy, &h.CreatedAt)
			return &h, scanErr
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list device state history: %w", err)
	}
	return out, nil
}

type stateChange struct {
	deviceID  string
	previous  model.DeviceStatus
	next      model.DeviceStatus
	reason    string
	changedBy string
}

func insertStateHistory(ctx context.Context, tx pgx.Tx, c stateChange) error {
	reason := strings.TrimSpace(c.reason)
	if reason == "" {
		reason = "status changed"
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO device_state_history (id, device_id, previous_state, new_state, reason, changed_by)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.NewString(), c.deviceID, c.previous, c.next, reason, c.changedBy)
	if err != nil {
		return fmt.Errorf("insert device state history: %w", err)
	}
	return nil
}
