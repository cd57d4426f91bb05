package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/target/fleetpush/internal/data"
	apperrors "github.com/target/fleetpush/internal/errors"
)

// statusFor maps an error from the service layer to an HTTP status and error code.
// Repository sentinels that escaped the service layer are mapped too.
func statusFor(err error) (int, string) {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest, "validation_failed"
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound, "not_found"
	case apperrors.ErrCodeConflict, apperrors.ErrCodeForeignKey:
		return http.StatusConflict, "conflict"
	case apperrors.ErrCodeUnauthorized:
		return http.StatusUnauthorized, "unauthorized"
	case apperrors.ErrCodeUnavailable:
		return http.StatusServiceUnavailable, "unavailable"
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout, "timeout"
	}
	switch {
	case errors.Is(err, data.ErrJobNotFound), errors.Is(err, data.ErrDeviceNotFound),
		errors.Is(err, data.ErrSiteNotFound), errors.Is(err, data.ErrOutcomeNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeServiceError renders err with the status it maps to. Internal errors are logged and
// their detail is withheld from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	code, errCode := statusFor(err)
	if code == http.StatusInternalServerError {
		if logger != nil {
			logger.ErrorContext(r.Context(), "request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"error", err,
			)
		}
		err = errors.New("internal server error")
	}
	WriteError(w, ErrorParams{Code: code, ErrCode: errCode, Err: err, Field: apperrors.GetField(err)})
}
