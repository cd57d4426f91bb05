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

func TestDeviceRepo_ListBySiteOrdered(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		testutil.SeedSite(t, db, "site-1", "Store 1")
		testutil.SeedSite(t, db, "site-2", "Store 2")
		for _, id := range []string{"dev-c", "dev-a", "dev-b"} {
			testutil.SeedDevice(t, db, testutil.DeviceSeed{ID: id, SiteID: "site-1"})
		}
		testutil.SeedDevice(t, db, testutil.DeviceSeed{ID: "dev-z", SiteID: "site-2"})

		repo := NewDeviceRepo(db, nil)
		devices, err := repo.ListBySite(context.Background(), "site-1")
		require.NoError(t, err)
		ids := make([]string, 0, len(devices))
		for _, d := range devices {
			ids = append(ids, d.ID)
		}
		assert.Equal(t, []string{"dev-a", "dev-b", "dev-c"}, ids)

		byID, err := repo.ListByIDs(context.Background(), []string{"dev-z", "dev-a", "missing"})
		require.NoError(t, err)
		assert.Len(t, byID, 2)
	})
}

func TestDeviceRepo_ApplyReport(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		testutil.SeedSite(t, db, "site-1", "Store 1")
		testutil.SeedDevice(t, db, testutil.DeviceSeed{ID: "dev-a", SiteID: "site-1", Version: "v1"})
		repo := NewDeviceRepo(db, nil)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		t.Run("same status updates liveness without history", func(t *testing.T) {
			tr, err := repo.ApplyReport(ctx, core.ApplyReportParams{
				DeviceID: "dev-a",
				Status:   model.DeviceStatusOnline,
				SeenAt:   now,
			})
			require.NoError(t, err)
			assert.False(t, tr.Changed)
			assert.False(t, tr.ConfigChanged)
			require.NotNil(t, tr.Device.LastSeen)
			assert.True(t, tr.Device.LastSeen.Equal(now))

			history, err := repo.ListStateHistory(ctx, "dev-a", 10)
			require.NoError(t, err)
			assert.Empty(t, history)
		})

		t.Run("status change writes history with reason", func(t *testing.T) {
			v2 := "v2"
			tr, err := repo.ApplyReport(ctx, core.ApplyReportParams{
				DeviceID:      "dev-a",
				Status:        model.DeviceStatusError,
				Reason:        "services down: printer",
				ConfigVersion: &v2,
				SeenAt:        now.Add(time.Second),
			})
			require.NoError(t, err)
			assert.True(t, tr.Changed)
			assert.True(t, tr.ConfigChanged)
			assert.Equal(t, model.DeviceStatusOnline, tr.Previous)
			assert.Equal(t, "v2", *tr.Device.ConfigVersion)

			history, err := repo.ListStateHistory(ctx, "dev-a", 10)
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, model.DeviceStatusOnline, history[0].PreviousState)
			assert.Equal(t, model.DeviceStatusError, history[0].NewState)
			assert.Equal(t, "services down: printer", history[0].Reason)
			assert.Equal(t, "device-agent", history[0].ChangedBy)
		})

		t.Run("same config version is not a config change", func(t *testing.T) {
			v2 := "v2"
			tr, err := repo.ApplyReport(ctx, core.ApplyReportParams{
				DeviceID:      "dev-a",
				Status:        model.DeviceStatusError,
				ConfigVersion: &v2,
				SeenAt:        now.Add(2 * time.Second),
			})
			require.NoError(t, err)
			assert.False(t, tr.Changed)
			assert.False(t, tr.ConfigChanged)
		})

		t.Run("stale report is ignored", func(t *testing.T) {
			tr, err := repo.ApplyReport(ctx, core.ApplyReportParams{
				DeviceID: "dev-a",
				Status:   model.DeviceStatusOnline,
				SeenAt:   now.Add(-time.Hour),
			})
			require.NoError(t, err)
			assert.False(t, tr.Changed)
			assert.Equal(t, model.DeviceStatusError, tr.Device.Status)
		})

		t.Run("unknown device", func(t *testing.T) {
			_, err := repo.ApplyReport(ctx, core.ApplyReportParams{
				DeviceID: "nope",
				Status:   model.DeviceStatusOnline,
			})
			require.ErrorIs(t, err, ErrDeviceNotFound)
		})
	})
}

func TestDeviceRepo_FlagAndRegister(t *testing.T) {
	testutil.WithAutoDB(t, func(db *sql.DB) {
		testutil.SeedSite(t, db, "site-1", "Store 1")
		testutil.SeedDevice(t, db, testutil.DeviceSeed{
			ID:        "dev-a",
			SiteID:    "site-1",
			Platform:  model.PlatformAndroid,
			PushToken: "tok-1",
		})
		repo := NewDeviceRepo(db, nil)
		ctx := context.Background()

		require.NoError(t, repo.FlagForReregistration(ctx, core.FlagDeviceParams{
			DeviceID: "dev-a",
			Reason:   "fcm: UNREGISTERED",
		}))
		// Flagging twice is a no-op.
		require.NoError(t, repo.FlagForReregistration(ctx, core.FlagDeviceParams{
			DeviceID: "dev-a",
			Reason:   "fcm: UNREGISTERED",
		}))

		d, err := repo.GetByID(ctx, "dev-a")
		require.NoError(t, err)
		assert.True(t, d.NeedsReregistration)
		assert.False(t, d.Addressable())
		assert.Equal(t, model.DeviceStatusError, d.Status)

		history, err := repo.ListStateHistory(ctx, "dev-a", 10)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "push-gateway", history[0].ChangedBy)

		d, err = repo.Register(ctx, &model.RegisterDeviceRequest{
			DeviceID:  "dev-a",
			Platform:  model.PlatformAndroid,
			PushToken: "tok-2",
		})
		require.NoError(t, err)
		assert.False(t, d.NeedsReregistration)
		assert.Equal(t, "tok-2", *d.PushToken)
		assert.True(t, d.Addressable())

		_, err = repo.Register(ctx, &model.RegisterDeviceRequest{
			DeviceID:  "dev-missing",
			Platform:  model.PlatformAndroid,
			PushToken: "tok",
		})
		require.ErrorIs(t, err, ErrDeviceNotFound)
	})
}
