package devseed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/mocks"
)

type siteRepoStub struct {
	upserted []string
	err      error
}

func (s *siteRepoStub) Upsert(_ context.Context, site *model.Site) (*model.Site, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.upserted = append(s.upserted, site.ID)
	return site, nil
}

func (s *siteRepoStub) GetByID(context.Context, string) (*model.Site, error) { return nil, nil }
func (s *siteRepoStub) List(context.Context) ([]*model.Site, error)          { return nil, nil }

func TestRun(t *testing.T) {
	t.Run("seeds sites and simulated devices", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		devices := mocks.NewMockDeviceRepository(ctrl)
		sites := &siteRepoStub{}
		var seen []*model.Device
		devices.EXPECT().Upsert(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, d *model.Device) (*model.Device, error) {
				seen = append(seen, d)
				return d, nil
			}).Times(6)

		sum, err := Run(context.Background(), Repos{Sites: sites, Devices: devices}, Options{
			Sites:          2,
			DevicesPerSite: 3,
			DeviceTypes:    []string{"register", "handheld"},
			Segments:       []string{"front-lanes"},
		}, nil)

		require.NoError(t, err)
		assert.Equal(t, Summary{Sites: 2, Devices: 6}, sum)
		assert.Equal(t, []string{"sim-site-001", "sim-site-002"}, sites.upserted)
		require.Len(t, seen, 6)
		assert.Equal(t, "sim-001-0001", seen[0].ID)
		assert.Equal(t, "register", seen[0].DeviceType)
		assert.Equal(t, "handheld", seen[1].DeviceType)
		assert.Equal(t, model.PlatformSimulated, seen[0].Platform)
		require.NotNil(t, seen[0].Segment)
		assert.Equal(t, "front-lanes", *seen[0].Segment)
		assert.Equal(t, "sim-site-002", seen[5].SiteID)
	})

	t.Run("device failures are counted", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		devices := mocks.NewMockDeviceRepository(ctrl)
		devices.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil, errors.New("boom")).Times(2)

		sum, err := Run(context.Background(), Repos{Sites: &siteRepoStub{}, Devices: devices},
			Options{Sites: 1, DevicesPerSite: 2}, nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "2 seed errors")
		assert.Equal(t, 1, sum.Sites)
		assert.Equal(t, 0, sum.Devices)
	})

	t.Run("site failure aborts", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		devices := mocks.NewMockDeviceRepository(ctrl)

		_, err := Run(context.Background(), Repos{Sites: &siteRepoStub{err: errors.New("down")}, Devices: devices},
			DefaultOptions(), nil)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "sim-site-001")
	})

	t.Run("rejects empty shape", func(t *testing.T) {
		_, err := Run(context.Background(), Repos{Sites: &siteRepoStub{}, Devices: mocks.NewMockDeviceRepository(gomock.NewController(t))},
			Options{}, nil)
		require.Error(t, err)
	})
}
