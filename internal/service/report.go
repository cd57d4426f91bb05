package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/data"
	"github.com/target/fleetpush/internal/domain/model"
	apperrors "github.com/target/fleetpush/internal/errors"
	"github.com/target/fleetpush/internal/observability/notify"
)

// ChangedByDeviceAgent is recorded on state history rows caused by device reports.
const ChangedByDeviceAgent = "device-agent"

// ResultPublisher hands command results to whichever dispatch awaits them.
// results.Broker implements it.
type ResultPublisher interface {
	Publish(ctx context.Context, report model.DeviceReport) (bool, error)
}

// SiteCacheInvalidator drops cached per-site device lists. registry.Service implements it.
type SiteCacheInvalidator interface {
	Invalidate(ctx context.Context, siteID string)
}

// ReportServiceOptions groups dependencies for ReportService.
type ReportServiceOptions struct {
	Devices core.DeviceRepository // Required
	Results ResultPublisher       // Optional: without it reports only update device state
	Events  EventEmitter          // Optional
	Cache   SiteCacheInvalidator  // Optional
	Logger  *slog.Logger
	Now     func() time.Time
}

// ReportService ingests device reports.
type ReportService struct {
	devices core.DeviceRepository
	results ResultPublisher
	events  EventEmitter
	cache   SiteCacheInvalidator
	logger  *slog.Logger
	now     func() time.Time
}

// NewReportService constructs a ReportService.
func NewReportService(opts ReportServiceOptions) (*ReportService, error) {
	if opts.Devices == nil {
		return nil, errors.New("DeviceRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &ReportService{
		devices: opts.Devices,
		results: opts.Results,
		events:  opts.Events,
		cache:   opts.Cache,
		logger:  logger.With("component", "report_service"),
		now:     now,
	}, nil
}

// Ingest records a device's liveness and status, writes a state history row on
// transitions and forwards command results to the waiting dispatch. Reports older than the
// device's last_seen still reach the waiting dispatch but do not rewind device state.
func (s *ReportService) Ingest(ctx context.Context, report *model.DeviceReport) (*core.DeviceTransition, error) {
	if report == nil {
		return nil, apperrors.Validation("report is required")
	}
	if err := report.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	now := s.now().UTC()
	seenAt := report.Timestamp.UTC()
	if seenAt.After(now) {
		seenAt = now
	}
	status, reason := report.ImpliedDeviceStatus()
	tr, err := s.devices.ApplyReport(ctx, core.ApplyReportParams{
		DeviceID:      report.DeviceID,
		Status:        status,
		Reason:        reason,
		ChangedBy:     ChangedByDeviceAgent,
		ConfigVersion: report.ConfigVersion,
		SeenAt:        seenAt,
	})
	if errors.Is(err, data.ErrDeviceNotFound) {
		return nil, apperrors.NotFoundf("device %s is not registered", report.DeviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("apply report from %s: %w", report.DeviceID, err)
	}
	if (tr.Changed || tr.ConfigChanged) && tr.Device != nil && s.cache != nil {
		s.cache.Invalidate(ctx, tr.Device.SiteID)
	}

	if report.JobID != "" && s.results != nil {
		delivered, pubErr := s.results.Publish(ctx, *report)
		switch {
		case pubErr != nil:
			s.logger.WarnContext(ctx, "failed to forward device report",
				"job_id", report.JobID,
				"device_id", report.DeviceID,
				"error", pubErr,
			)
		case !delivered:
			s.logger.DebugContext(ctx, "device report relayed to other instances",
				"job_id", report.JobID,
				"device_id", report.DeviceID,
			)
		}
	}

	s.emitReportEvents(ctx, report, tr, status, reason)
	if tr.Changed {
		s.logger.InfoContext(ctx, "device status changed",
			"device_id", report.DeviceID,
			"from", tr.Previous,
			"to", status,
			"reason", reason,
		)
	}
	return tr, nil
}

func (s *ReportService) emitReportEvents(
	ctx context.Context,
	report *model.DeviceReport,
	tr *core.DeviceTransition,
	status model.DeviceStatus,
	reason string,
) {
	siteID := ""
	if tr.Device != nil {
		siteID = tr.Device.SiteID
	}
	meta := map[string]string{"report_status": string(report.Status)}
	if report.Health != nil {
		meta["health_status"] = string(report.Health.Status)
	}

	switch report.Status {
	case model.ReportFailed, model.ReportRejected:
		code := model.ErrCodeDeviceApplyFailed
		if report.Status == model.ReportRejected {
			code = model.ErrCodeDeviceRejected
		}
		emit(ctx, s.events, notify.Event{
			Category:   notify.CategoryDeviceError,
			Severity:   notify.SeverityError,
			JobID:      report.JobID,
			DeviceID:   report.DeviceID,
			SiteID:     siteID,
			Message:    nonEmptyString(report.Reason, reason),
			ErrorCode:  code,
			ErrorClass: "device_" + string(report.Status),
			Metadata:   meta,
			OccurredAt: report.Timestamp,
		})
		return
	}

	if tr.Changed && status == model.DeviceStatusError {
		emit(ctx, s.events, notify.Event{
			Category:   notify.CategoryDeviceError,
			Severity:   notify.SeverityWarning,
			DeviceID:   report.DeviceID,
			SiteID:     siteID,
			Message:    reason,
			Metadata:   meta,
			OccurredAt: report.Timestamp,
		})
	}
}

func nonEmptyString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
