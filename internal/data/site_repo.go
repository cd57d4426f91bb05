package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/target/fleetpush/internal/data/pgxutil"
	"github.com/target/fleetpush/internal/domain/model"
	apperrors "github.com/target/fleetpush/internal/errors"
)

// SiteRepo provides database operations for sites.
type SiteRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSiteRepo creates a new SiteRepo.
func NewSiteRepo(db *sql.DB, tp TimeProvider) *SiteRepo {
	return &SiteRepo{DB: db, timeProvider: resolveTimeProvider(tp)}
}

const siteColumns = `id, name, created_at, updated_at`

// Upsert inserts a site or renames an existing one.
func (r *SiteRepo) Upsert(ctx context.Context, site *model.Site) (*model.Site, error) {
	if site == nil {
		return nil, errors.New("site is required")
	}
	if err := site.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	now := r.timeProvider.Now().UTC()
	var out model.Site
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO sites (id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = EXCLUDED.updated_at
		RETURNING `+siteColumns, site.ID, site.Name, now,
	).Scan(&out.ID, &out.Name, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("upsert site: %w", err))
	}
	return &out, nil
}

// GetByID retrieves a site by its ID.
func (r *SiteRepo) GetByID(ctx context.Context, id string) (*model.Site, error) {
	var out model.Site
	err := r.DB.QueryRowContext(ctx, `SELECT `+siteColumns+` FROM sites WHERE id = $1`, id).
		Scan(&out.ID, &out.Name, &out.CreatedAt, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSiteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get site: %w", err)
	}
	return &out, nil
}

// List returns all sites ordered by id.
func (r *SiteRepo) List(ctx context.Context) ([]*model.Site, error) {
	var out []*model.Site
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+siteColumns+` FROM sites ORDER BY id`)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Site, error) {
			var s model.Site
			scanErr := row.Scan(&s.ID, &s.Name, &s.CreatedAt, &s.UpdatedAt)
			return &s, scanErr
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return out, nil
}
