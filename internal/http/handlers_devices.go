package httpx

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/domain/model"
	apperrors "github.com/target/fleetpush/internal/errors"
)

// DeviceRegistrar binds devices to a push channel.
type DeviceRegistrar interface {
	Register(ctx context.Context, req *model.RegisterDeviceRequest) (*model.Device, error)
}

// ReportIngester applies device reports.
type ReportIngester interface {
	Ingest(ctx context.Context, report *model.DeviceReport) (*core.DeviceTransition, error)
}

// DeviceHandlers serves the endpoints devices call.
type DeviceHandlers struct {
	Registry DeviceRegistrar
	Reports  ReportIngester
	Logger   *slog.Logger
}

// Register handles PUT /api/devices/{id}/registration.
func (h *DeviceHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterDeviceRequest
	if !DecodeJSON(w, r, &req) {
		return
	}
	req.DeviceID = r.PathValue("id")

	device, err := h.Registry.Register(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	WriteJSON(w, http.StatusOK, device)
}

// reportAck is the response body for an accepted report.
type reportAck struct {
	DeviceID string             `json:"device_id"`
	Status   model.DeviceStatus `json:"status"`
	Changed  bool               `json:"changed"`
}

// SubmitReport handles POST /api/devices/{id}/reports.
func (h *DeviceHandlers) SubmitReport(w http.ResponseWriter, r *http.Request) {
	var report model.DeviceReport
	if !DecodeJSON(w, r, &report) {
		return
	}
	pathID := r.PathValue("id")
	if report.DeviceID == "" {
		report.DeviceID = pathID
	}
	if report.DeviceID != pathID {
		writeServiceError(w, r, h.Logger,
			apperrors.ValidationField("device_id", "device_id does not match the request path"))
		return
	}

	tr, err := h.Reports.Ingest(r.Context(), &report)
	if err != nil {
		writeServiceError(w, r, h.Logger, err)
		return
	}
	ack := reportAck{DeviceID: report.DeviceID, Changed: tr != nil && tr.Changed}
	if tr != nil && tr.Device != nil {
		ack.Status = tr.Device.Status
	}
	WriteJSON(w, http.StatusAccepted, ack)
}
