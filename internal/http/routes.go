package httpx

import (
	"errors"
	"log/slog"
	"net/http"
)

// RouterServices holds everything the router wires into handlers.
type RouterServices struct {
	Jobs     *JobHandlers
	Devices  *DeviceHandlers
	Auth     DeviceAuthenticator
	Logger   *slog.Logger
	MaxBytes int64
}

var errNoAuthenticator = errors.New("device authenticator is required")

// NewRouter builds the API mux and wraps it with the standard middleware chain.
func NewRouter(services RouterServices) (http.Handler, error) {
	if services.Auth == nil {
		return nil, errNoAuthenticator
	}
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()

	if h := services.Jobs; h != nil {
		mux.HandleFunc("POST /api/jobs", h.CreateJob)
		mux.HandleFunc("GET /api/jobs/{id}", h.GetJob)
		mux.HandleFunc("GET /api/jobs/{id}/attempts", h.ListAttempts)
		mux.HandleFunc("GET /api/jobs/{id}/outcomes", h.ListOutcomes)
	}
	if h := services.Devices; h != nil {
		requireDevice := RequireDevice(services.Auth, logger)
		mux.Handle("PUT /api/devices/{id}/registration", requireDevice(http.HandlerFunc(h.Register)))
		mux.Handle("POST /api/devices/{id}/reports", requireDevice(http.HandlerFunc(h.SubmitReport)))
	}
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)

	return Chain(mux,
		RequestID(),
		Recover(logger),
		Logging(logger),
		MaxBody(services.MaxBytes),
	), nil
}
