package pagerduty

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/fleetpush/internal/observability/notify"
)

func TestNewClientRequiresRoutingKey(t *testing.T) {
	_, err := NewClient(Config{RoutingKey: "  "})
	require.Error(t, err)
}

func TestBuildEvent(t *testing.T) {
	c, err := NewClient(Config{RoutingKey: "rk"})
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := c.buildEvent(notify.Event{
		Category:   notify.CategoryJobFailed,
		Severity:   notify.SeverityError,
		JobID:      "job-1",
		SiteID:     "site-1",
		Message:    "no devices matched",
		ErrorCode:  "NO_DEVICES_FOUND",
		Metadata:   map[string]string{"site_id": "ignored", "segment": "kiosks"},
		OccurredAt: at,
	})

	assert.Equal(t, "rk", ev["routing_key"])
	assert.Equal(t, "job.failed:job-1", ev["dedup_key"])
	payload := ev["payload"].(map[string]any)
	assert.Equal(t, "error", payload["severity"])
	assert.Equal(t, "fleetpush", payload["source"])
	assert.Equal(t, "NO_DEVICES_FOUND", payload["class"])
	assert.Equal(t, "2026-03-01T12:00:00Z", payload["timestamp"])
	custom := payload["custom_details"].(map[string]any)
	assert.Equal(t, "site-1", custom["site_id"])
	assert.Equal(t, "kiosks", custom["segment"])
}

func TestBuildEventDeviceDedup(t *testing.T) {
	c, err := NewClient(Config{RoutingKey: "rk"})
	require.NoError(t, err)
	ev := c.buildEvent(notify.Event{Category: notify.CategoryDeviceError, DeviceID: "dev-9"})
	assert.Equal(t, "device.error:dev-9", ev["dedup_key"])
	assert.Equal(t, "critical", ev["payload"].(map[string]any)["severity"])
}

func TestSendRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var decoded map[string]any
		if err := json.Unmarshal(body, &decoded); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c, err := NewClient(Config{RoutingKey: "rk", Endpoint: srv.URL, RetryLimit: 1})
	require.NoError(t, err)
	require.NoError(t, c.Send(context.Background(), notify.Event{Category: notify.CategoryJobFailed, JobID: "j"}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendReturnsLastError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewClient(Config{RoutingKey: "rk", Endpoint: srv.URL})
	require.NoError(t, err)
	err = c.Send(context.Background(), notify.Event{Category: notify.CategoryJobFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
}
