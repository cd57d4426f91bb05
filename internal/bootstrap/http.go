package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/target/fleetpush/config"
	httpx "github.com/target/fleetpush/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config   *config.AppConfig
	Services ServiceContainer
	Logger   *slog.Logger
	// ErrCh receives a listen failure so the process shuts down instead of running headless.
	ErrCh chan<- error
}

// BuildHTTPHandler builds the API router for the wired services.
func BuildHTTPHandler(ctx context.Context, cfg *HTTPServerConfig) (http.Handler, error) {
	appCfg := cfg.Config
	svc := cfg.Services
	auth, err := BuildDeviceAuthenticator(ctx, DeviceAuthConfig{Auth: appCfg.Auth, Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}
	return httpx.NewRouter(httpx.RouterServices{
		Jobs: &httpx.JobHandlers{
			Jobs:     svc.Orchestrator,
			Attempts: svc.Repos.Attempts,
			Outcomes: svc.Repos.Outcomes,
			Logger:   cfg.Logger,
		},
		Devices: &httpx.DeviceHandlers{
			Registry: svc.Registry,
			Reports:  svc.Reports,
			Logger:   cfg.Logger,
		},
		Auth:     auth,
		Logger:   cfg.Logger,
		MaxBytes: appCfg.HTTP.MaxBodyBytes,
	})
}

// StartHTTPServer creates and starts the HTTP server.
// Returns the server instance for graceful shutdown.
func StartHTTPServer(cfg *HTTPServerConfig) (*http.Server, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, errors.New("http server config is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	handler, err := BuildHTTPHandler(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("build http handler: %w", err)
	}
	return startServer(cfg.Logger, handler, cfg.Config.HTTP, cfg.ErrCh), nil
}

func startServer(logger *slog.Logger, handler http.Handler, cfg config.HTTPConfig, errCh chan<- error) *http.Server {
	// Guard against empty addr to avoid listening on Go default
	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			if errCh != nil {
				select {
				case errCh <- fmt.Errorf("http server: %w", err):
				default:
				}
			}
		}
	}()

	return server
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Server  *http.Server
	Timeout time.Duration
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}

	return nil
}
