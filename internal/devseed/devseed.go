// Package devseed populates a development database with sites and simulated devices.
package devseed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/data"
	"github.com/target/fleetpush/internal/domain/model"
)

// Repos bundles the repositories needed for development seeding.
type Repos struct {
	Sites   core.SiteRepository
	Devices core.DeviceRepository
}

// NewRepos constructs seeding repositories backed by db.
func NewRepos(db *sql.DB) Repos {
	tp := data.RealTimeProvider{}
	return Repos{
		Sites:   data.NewSiteRepo(db, tp),
		Devices: data.NewDeviceRepo(db, tp),
	}
}

// Options controls the shape of the seeded fleet.
type Options struct {
	Sites          int
	DevicesPerSite int
	DeviceTypes    []string
	Segments       []string
}

// DefaultOptions seeds two stores with a handful of registers and handhelds each.
func DefaultOptions() Options {
	return Options{
		Sites:          2,
		DevicesPerSite: 6,
		DeviceTypes:    []string{"register", "handheld", "kiosk"},
		Segments:       []string{"front-lanes", "backroom"},
	}
}

// Summary reports what a seeding run wrote.
type Summary struct {
	Sites   int
	Devices int
}

// Run upserts sites and simulated devices. It is idempotent: rerunning refreshes
// descriptive fields and leaves liveness state alone.
func Run(ctx context.Context, repos Repos, opts Options, logger *slog.Logger) (Summary, error) {
	if repos.Sites == nil || repos.Devices == nil {
		return Summary{}, errors.New("site and device repositories are required")
	}
	if opts.Sites <= 0 || opts.DevicesPerSite <= 0 {
		return Summary{}, errors.New("sites and devices per site must be positive")
	}
	if len(opts.DeviceTypes) == 0 {
		opts.DeviceTypes = DefaultOptions().DeviceTypes
	}

	var sum Summary
	failures := 0
	for s := 1; s <= opts.Sites; s++ {
		site := &model.Site{ID: fmt.Sprintf("sim-site-%03d", s), Name: fmt.Sprintf("Simulated Store %d", s)}
		if _, err := repos.Sites.Upsert(ctx, site); err != nil {
			return sum, fmt.Errorf("seed site %s: %w", site.ID, err)
		}
		sum.Sites++
		if logger != nil {
			logger.InfoContext(ctx, "seeded site", "site_id", site.ID)
		}

		for d := 1; d <= opts.DevicesPerSite; d++ {
			dev := simulatedDevice(site.ID, s, d, opts)
			if _, err := repos.Devices.Upsert(ctx, dev); err != nil {
				if logger != nil {
					logger.ErrorContext(ctx, "failed to seed device", "device_id", dev.ID, "error", err)
				}
				failures++
				continue
			}
			sum.Devices++
		}
	}

	if logger != nil {
		logger.InfoContext(ctx, "seeding complete", "sites", sum.Sites, "devices", sum.Devices)
	}
	if failures > 0 {
		return sum, fmt.Errorf("%d seed errors; check logs", failures)
	}
	return sum, nil
}

func simulatedDevice(siteID string, siteN, devN int, opts Options) *model.Device {
	kind := opts.DeviceTypes[(devN-1)%len(opts.DeviceTypes)]
	dev := &model.Device{
		ID:         fmt.Sprintf("sim-%03d-%04d", siteN, devN),
		SiteID:     siteID,
		Name:       fmt.Sprintf("%s %d", kind, devN),
		DeviceType: kind,
		Platform:   model.PlatformSimulated,
		Status:     model.DeviceStatusOnline,
	}
	if len(opts.Segments) > 0 {
		seg := opts.Segments[(devN-1)%len(opts.Segments)]
		dev.Segment = &seg
	}
	return dev
}
