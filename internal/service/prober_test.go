package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/fleetpush/internal/domain/model"
)

func healthTarget(id, url string) model.DeviceTarget {
	t := model.DeviceTarget{DeviceID: id, SiteID: "site-1", Platform: model.PlatformAndroid, PushToken: "tok"}
	if url != "" {
		t.HealthURL = &url
	}
	return t
}

func TestHTTPProber(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("decodes healthy snapshot", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Accept"))
			_ = json.NewEncoder(w).Encode(model.HealthSnapshot{
				Status:   model.HealthHealthy,
				Services: map[string]model.ServiceState{"pos": {Status: model.ServiceUp}},
			})
		}))
		defer srv.Close()

		p := &HTTPProber{Client: srv.Client(), Now: func() time.Time { return fixed }}
		snap, err := p.Probe(context.Background(), healthTarget("d1", srv.URL))

		require.NoError(t, err)
		assert.Equal(t, model.HealthHealthy, snap.Status)
		assert.Equal(t, fixed, snap.CheckedAt)
	})

	t.Run("decodes unhealthy body on 503", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(model.HealthSnapshot{Status: model.HealthUnhealthy, Error: "disk full"})
		}))
		defer srv.Close()

		snap, err := (&HTTPProber{Client: srv.Client()}).Probe(context.Background(), healthTarget("d1", srv.URL))

		require.NoError(t, err)
		assert.Equal(t, model.HealthUnhealthy, snap.Status)
		assert.Equal(t, "disk full", snap.Error)
		assert.False(t, snap.CheckedAt.IsZero())
	})

	t.Run("empty status becomes unknown", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		snap, err := (&HTTPProber{Client: srv.Client()}).Probe(context.Background(), healthTarget("d1", srv.URL))

		require.NoError(t, err)
		assert.Equal(t, model.HealthUnknown, snap.Status)
	})

	t.Run("unexpected status is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := (&HTTPProber{Client: srv.Client()}).Probe(context.Background(), healthTarget("d1", srv.URL))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected status 500")
	})

	t.Run("missing health url", func(t *testing.T) {
		_, err := (&HTTPProber{}).Probe(context.Background(), healthTarget("d1", ""))
		assert.ErrorIs(t, err, ErrNoHealthURL)
	})
}

func TestPlatformProber(t *testing.T) {
	var simCalls, defCalls int
	p := PlatformProber{
		Simulated: HealthProberFunc(func(context.Context, model.DeviceTarget) (model.HealthSnapshot, error) {
			simCalls++
			return model.HealthSnapshot{Status: model.HealthDegraded}, nil
		}),
		Default: HealthProberFunc(func(context.Context, model.DeviceTarget) (model.HealthSnapshot, error) {
			defCalls++
			return model.HealthSnapshot{Status: model.HealthHealthy}, nil
		}),
	}

	sim := healthTarget("sim-1", "")
	sim.Platform = model.PlatformSimulated
	snap, err := p.Probe(context.Background(), sim)
	require.NoError(t, err)
	assert.Equal(t, model.HealthDegraded, snap.Status)

	snap, err = p.Probe(context.Background(), healthTarget("d1", ""))
	require.NoError(t, err)
	assert.Equal(t, model.HealthHealthy, snap.Status)

	assert.Equal(t, 1, simCalls)
	assert.Equal(t, 1, defCalls)

	_, err = PlatformProber{}.Probe(context.Background(), healthTarget("d1", ""))
	assert.Error(t, err)
}

func TestCaptureSnapshot(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return at }

	t.Run("aggregates reachable devices and lists failures", func(t *testing.T) {
		var inFlight, peak atomic.Int32
		prober := HealthProberFunc(func(_ context.Context, target model.DeviceTarget) (model.HealthSnapshot, error) {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			switch target.DeviceID {
			case "d3", "d1":
				return model.HealthSnapshot{}, errors.New("connection refused")
			case "d2":
				return model.HealthSnapshot{Status: model.HealthDegraded}, nil
			}
			return model.HealthSnapshot{Status: model.HealthHealthy}, nil
		})
		targets := []model.DeviceTarget{
			healthTarget("d1", ""), healthTarget("d2", ""), healthTarget("d3", ""),
			healthTarget("d4", ""), healthTarget("d5", ""),
		}

		snap := CaptureSnapshot(context.Background(), prober, targets, SnapshotOptions{Concurrency: 2, Now: now})

		assert.Equal(t, model.HealthDegraded, snap.Status)
		assert.Len(t, snap.Devices, 3)
		assert.Equal(t, []string{"d1", "d3"}, snap.Unreachable)
		assert.Equal(t, at, snap.CapturedAt)
		assert.LessOrEqual(t, peak.Load(), int32(2))
	})

	t.Run("per-probe timeout marks slow devices unreachable", func(t *testing.T) {
		prober := HealthProberFunc(func(ctx context.Context, target model.DeviceTarget) (model.HealthSnapshot, error) {
			if target.DeviceID == "slow" {
				<-ctx.Done()
				return model.HealthSnapshot{}, ctx.Err()
			}
			return model.HealthSnapshot{Status: model.HealthHealthy}, nil
		})
		targets := []model.DeviceTarget{healthTarget("fast", ""), healthTarget("slow", "")}

		snap := CaptureSnapshot(context.Background(), prober, targets, SnapshotOptions{
			Concurrency: 4,
			Timeout:     20 * time.Millisecond,
		})

		assert.Equal(t, model.HealthHealthy, snap.Status)
		assert.Equal(t, []string{"slow"}, snap.Unreachable)
	})

	t.Run("nil prober leaves everything unreachable", func(t *testing.T) {
		snap := CaptureSnapshot(context.Background(), nil, []model.DeviceTarget{healthTarget("d1", "")}, SnapshotOptions{})

		assert.False(t, snap.Reachable())
		assert.Equal(t, model.HealthUnknown, snap.Status)
		assert.Equal(t, []string{"d1"}, snap.Unreachable)
	})
}
