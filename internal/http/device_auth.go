package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/target/fleetpush/internal/errors"
)

// DeviceAuthenticator maps a bearer token to the device id it was issued for. An empty id
// with a nil error means the deployment does not authenticate devices.
type DeviceAuthenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

type deviceKey struct{}

// DeviceFromContext returns the authenticated device id, if any.
func DeviceFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(deviceKey{}).(string)
	return id, ok && id != ""
}

// RequireDevice authenticates the bearer token and requires its device to match the {id}
// path value.
func RequireDevice(auth DeviceAuthenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			id, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				if logger != nil {
					logger.WarnContext(r.Context(), "device authentication failed",
						"path_device_id", r.PathValue("id"),
						"error", err,
					)
				}
				if !apperrors.IsUnauthorized(err) {
					err = apperrors.Unauthorized("invalid device token")
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="fleetpush"`)
				WriteError(w, ErrorParams{Code: http.StatusUnauthorized, ErrCode: "unauthorized", Err: err})
				return
			}
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			if id != r.PathValue("id") {
				WriteError(w, ErrorParams{
					Code:    http.StatusForbidden,
					ErrCode: "forbidden",
					Err:     errors.New("token subject does not match device"),
				})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), deviceKey{}, id)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
