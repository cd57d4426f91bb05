// Package registry resolves a job's abstract target into concrete, addressable devices.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/domain/model"
	apperrors "github.com/target/fleetpush/internal/errors"
)

// DefaultCacheTTL bounds how stale a cached site device list may be.
const DefaultCacheTTL = 15 * time.Second

// ChangedByGateway is recorded on state history rows written when a token is rejected.
const ChangedByGateway = "push-gateway"

// Options configures the registry.
type Options struct {
	Devices   core.DeviceRepository // Required
	Cache     core.CacheRepository  // Optional: per-site device cache
	CacheTTL  time.Duration         // Zero means DefaultCacheTTL; negative disables the cache
	Selectors map[string]string     // Optional: segment name -> JMESPath expression
	Logger    *slog.Logger
}

// Service is the DeviceRegistry.
type Service struct {
	devices   core.DeviceRepository
	cache     core.CacheRepository
	cacheTTL  time.Duration
	selectors map[string]selector
	logger    *slog.Logger
}

// New builds the registry and compiles segment selectors.
func New(opts Options) (*Service, error) {
	if opts.Devices == nil {
		return nil, errors.New("DeviceRepository is required")
	}
	selectors, err := compileSelectors(opts.Selectors)
	if err != nil {
		return nil, err
	}
	cache, ttl := opts.Cache, opts.CacheTTL
	switch {
	case ttl < 0:
		cache = nil
	case ttl == 0:
		ttl = DefaultCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		devices:   opts.Devices,
		cache:     cache,
		cacheTTL:  ttl,
		selectors: selectors,
		logger:    logger.With("component", "device_registry"),
	}, nil
}

// Resolve returns the addressable targets for spec ordered by device id. An empty result
// is model.ErrNoDevicesFound. Resolve never mutates device state.
func (s *Service) Resolve(ctx context.Context, spec model.TargetSpec) ([]model.DeviceTarget, error) {
	if strings.TrimSpace(spec.SiteID) == "" {
		return nil, errors.New("resolve targets: site id is required")
	}
	devices, err := s.siteDevices(ctx, spec.SiteID)
	if err != nil {
		return nil, err
	}

	switch {
	case len(spec.DeviceIDs) > 0:
		devices = filterByIDs(devices, spec.DeviceIDs)
	case spec.Segment != nil:
		devices, err = s.filterBySegment(devices, *spec.Segment)
		if err != nil {
			return nil, err
		}
	}

	targets := make([]model.DeviceTarget, 0, len(devices))
	var skipped []string
	for _, d := range devices {
		if !d.Addressable() {
			skipped = append(skipped, d.ID)
			continue
		}
		targets = append(targets, d.Target())
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].DeviceID < targets[j].DeviceID })

	if len(skipped) > 0 {
		s.logger.InfoContext(ctx, "skipping devices without a usable push channel",
			"site_id", spec.SiteID,
			"devices", skipped,
		)
	}
	if len(targets) == 0 {
		return nil, model.ErrNoDevicesFound
	}
	return targets, nil
}

func filterByIDs(devices []*model.Device, ids []string) []*model.Device {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := devices[:0:0]
	for _, d := range devices {
		if _, ok := want[d.ID]; ok {
			out = append(out, d)
		}
	}
	return out
}

func (s *Service) filterBySegment(devices []*model.Device, segment string) ([]*model.Device, error) {
	sel, ok := s.selectors[segment]
	if !ok {
		out := devices[:0:0]
		for _, d := range devices {
			if d.Segment != nil && *d.Segment == segment {
				out = append(out, d)
			}
		}
		return out, nil
	}

	docs := make([]any, len(devices))
	for i, d := range devices {
		docs[i] = d.Document()
	}
	// Round-trip through JSON so nested values have the generic shapes JMESPath expects.
	raw, err := json.Marshal(docs)
	if err != nil {
		return nil, fmt.Errorf("encode device documents: %w", err)
	}
	var data any
	if err = json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode device documents: %w", err)
	}
	result, err := sel.compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("evaluate selector for segment %s: %w", segment, err)
	}
	ids, err := matchedIDs(result)
	if err != nil {
		return nil, fmt.Errorf("segment %s: %w", segment, err)
	}
	out := devices[:0:0]
	for _, d := range devices {
		if _, ok := ids[d.ID]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// cachedDevice keeps the fields the public JSON view hides.
type cachedDevice struct {
	Device    *model.Device `json:"device"`
	PushToken *string       `json:"push_token,omitempty"`
}

// CacheKey is the cache entry holding the device list of a site.
func CacheKey(siteID string) string { return "registry:site:" + siteID }

func (s *Service) siteDevices(ctx context.Context, siteID string) ([]*model.Device, error) {
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, CacheKey(siteID)); err != nil {
			s.logger.WarnContext(ctx, "registry cache read failed", "site_id", siteID, "error", err)
		} else if raw != nil {
			var entries []cachedDevice
			if err = json.Unmarshal(raw, &entries); err == nil {
				out := make([]*model.Device, 0, len(entries))
				for _, e := range entries {
					if e.Device == nil {
						continue
					}
					e.Device.PushToken = e.PushToken
					out = append(out, e.Device)
				}
				return out, nil
			}
			s.logger.WarnContext(ctx, "discarding unreadable registry cache entry", "site_id", siteID, "error", err)
		}
	}

	devices, err := s.devices.ListBySite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("list devices for site %s: %w", siteID, err)
	}
	if s.cache != nil {
		entries := make([]cachedDevice, len(devices))
		for i, d := range devices {
			entries[i] = cachedDevice{Device: d, PushToken: d.PushToken}
		}
		if raw, mErr := json.Marshal(entries); mErr == nil {
			if err = s.cache.Set(ctx, CacheKey(siteID), raw, s.cacheTTL); err != nil {
				s.logger.WarnContext(ctx, "registry cache write failed", "site_id", siteID, "error", err)
			}
		}
	}
	return devices, nil
}

// Invalidate drops the cached device list of a site.
func (s *Service) Invalidate(ctx context.Context, siteID string) {
	if s.cache == nil || siteID == "" {
		return
	}
	if _, err := s.cache.Delete(ctx, CacheKey(siteID)); err != nil {
		s.logger.WarnContext(ctx, "registry cache invalidation failed", "site_id", siteID, "error", err)
	}
}

// FlagForReregistration marks a device whose token a provider rejected as invalid.
func (s *Service) FlagForReregistration(ctx context.Context, deviceID, reason string) error {
	if err := s.devices.FlagForReregistration(ctx, core.FlagDeviceParams{
		DeviceID:  deviceID,
		Reason:    reason,
		ChangedBy: ChangedByGateway,
	}); err != nil {
		return err
	}
	if d, err := s.devices.GetByID(ctx, deviceID); err == nil {
		s.Invalidate(ctx, d.SiteID)
	}
	return nil
}

// Register (re)binds a device to a push channel and clears any re-registration flag.
func (s *Service) Register(ctx context.Context, req *model.RegisterDeviceRequest) (*model.Device, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	d, err := s.devices.Register(ctx, req)
	if err != nil {
		return nil, err
	}
	s.Invalidate(ctx, d.SiteID)
	return d, nil
}

// Device returns one registered device.
func (s *Service) Device(ctx context.Context, id string) (*model.Device, error) {
	return s.devices.GetByID(ctx, id)
}

// Devices returns the registered devices with the given ids, ordered by id.
func (s *Service) Devices(ctx context.Context, ids []string) ([]*model.Device, error) {
	return s.devices.ListByIDs(ctx, ids)
}
