package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/target/fleetpush/internal/domain/model"
)

// Reporter submits a device report to the control plane.
type Reporter interface {
	Report(ctx context.Context, report model.DeviceReport) error
}

// ReporterFunc adapts a function to Reporter. In simulation it points at the in-process
// report service.
type ReporterFunc func(ctx context.Context, report model.DeviceReport) error

// Report implements Reporter.
func (f ReporterFunc) Report(ctx context.Context, report model.DeviceReport) error {
	return f(ctx, report)
}

// HTTPReporter posts reports to /api/devices/{id}/reports with a bearer token.
type HTTPReporter struct {
	BaseURL    string
	Token      string
	RetryLimit int
	Client     *http.Client
}

// Report implements Reporter. Server errors and network failures are retried with linear
// backoff; client errors are returned immediately.
func (h *HTTPReporter) Report(ctx context.Context, report model.DeviceReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	endpoint := strings.TrimRight(h.BaseURL, "/") + "/api/devices/" + url.PathEscape(report.DeviceID) + "/reports"

	attempts := max(h.RetryLimit, 0) + 1
	var lastErr error
	for attempt := range attempts {
		var retry bool
		retry, lastErr = h.post(ctx, endpoint, body)
		if lastErr == nil || !retry || attempt == attempts-1 {
			break
		}
		timer := time.NewTimer(time.Duration(attempt+1) * 250 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (h *HTTPReporter) post(ctx context.Context, endpoint string, body []byte) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return ctx.Err() == nil, fmt.Errorf("submit report: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = fmt.Errorf("submit report: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return retry, err
}

// ErrNoReporter is returned when an agent is built without a Reporter.
var ErrNoReporter = errors.New("reporter is required")
