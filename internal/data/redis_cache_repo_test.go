package data

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/fleetpush/internal/testutil"
)

func TestRedisCacheRepo(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := testutil.SetupTestRedis(t)
	defer client.Close()

	repo := NewRedisCacheRepo(client, "test:")
	ctx := context.Background()

	t.Run("set and get are prefixed", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "site:s1", []byte("v1"), time.Minute))

		got, err := repo.Get(ctx, "site:s1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), got)

		raw, err := client.Get(ctx, "test:site:s1").Bytes()
		require.NoError(t, err)
		assert.Equal(t, []byte("v1"), raw)
	})

	t.Run("missing key returns nil", func(t *testing.T) {
		got, err := repo.Get(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("set if not exists only once", func(t *testing.T) {
		ok, err := repo.SetIfNotExists(ctx, "applied:job-1", []byte("1"), time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.SetIfNotExists(ctx, "applied:job-1", []byte("2"), time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "gone", []byte("x"), 0))
		deleted, err := repo.Delete(ctx, "gone")
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = repo.Delete(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("empty key rejected", func(t *testing.T) {
		_, err := repo.Get(ctx, "")
		require.Error(t, err)
	})

	require.NoError(t, repo.Health(ctx))
}
