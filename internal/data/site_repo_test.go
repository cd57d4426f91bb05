package data

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/fleetpush/internal/domain/model"
	apperrors "github.com/target/fleetpush/internal/errors"
	"github.com/target/fleetpush/internal/testutil"
)

func TestSiteRepo_UpsertGetList(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSiteRepo(db, nil)
		ctx := context.Background()

		created, err := repo.Upsert(ctx, &model.Site{ID: "site-1", Name: "Store 1"})
		require.NoError(t, err)
		assert.Equal(t, "Store 1", created.Name)

		renamed, err := repo.Upsert(ctx, &model.Site{ID: "site-1", Name: "Store One"})
		require.NoError(t, err)
		assert.Equal(t, "Store One", renamed.Name)
		assert.Equal(t, created.CreatedAt.Unix(), renamed.CreatedAt.Unix())

		_, err = repo.Upsert(ctx, &model.Site{ID: "site-0", Name: "Depot"})
		require.NoError(t, err)

		sites, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, sites, 2)
		assert.Equal(t, "site-0", sites[0].ID)

		_, err = repo.GetByID(ctx, "site-404")
		require.ErrorIs(t, err, ErrSiteNotFound)
	})
}

func TestSiteRepo_UpsertValidation(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := NewSiteRepo(db, nil)
		_, err := repo.Upsert(context.Background(), &model.Site{ID: "site-1"})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}
