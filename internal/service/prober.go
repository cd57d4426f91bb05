package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/fleetpush/internal/domain/model"
)

// HealthProber captures one device's current health.
type HealthProber interface {
	Probe(ctx context.Context, target model.DeviceTarget) (model.HealthSnapshot, error)
}

// HealthProberFunc adapts a function to HealthProber.
type HealthProberFunc func(ctx context.Context, target model.DeviceTarget) (model.HealthSnapshot, error)

// Probe implements HealthProber.
func (f HealthProberFunc) Probe(ctx context.Context, target model.DeviceTarget) (model.HealthSnapshot, error) {
	return f(ctx, target)
}

// ErrNoHealthURL is returned for devices that registered without a health endpoint.
var ErrNoHealthURL = errors.New("device has no health url")

// HTTPProber reads a device's health snapshot from its health_url. Agents answer 503 with a
// full snapshot when unhealthy, so both 200 and 503 bodies are decoded.
type HTTPProber struct {
	Client *http.Client
	Now    func() time.Time
}

// Probe implements HealthProber.
func (p *HTTPProber) Probe(ctx context.Context, target model.DeviceTarget) (model.HealthSnapshot, error) {
	if target.HealthURL == nil || *target.HealthURL == "" {
		return model.HealthSnapshot{}, ErrNoHealthURL
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *target.HealthURL, nil)
	if err != nil {
		return model.HealthSnapshot{}, fmt.Errorf("build health request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return model.HealthSnapshot{}, fmt.Errorf("probe %s: %w", target.DeviceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return model.HealthSnapshot{}, fmt.Errorf("probe %s: unexpected status %d", target.DeviceID, resp.StatusCode)
	}
	var snap model.HealthSnapshot
	if err = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&snap); err != nil {
		return model.HealthSnapshot{}, fmt.Errorf("decode health snapshot from %s: %w", target.DeviceID, err)
	}
	if snap.Status == "" {
		snap.Status = model.HealthUnknown
	}
	if snap.CheckedAt.IsZero() {
		now := time.Now
		if p.Now != nil {
			now = p.Now
		}
		snap.CheckedAt = now().UTC()
	}
	return snap, nil
}

// PlatformProber sends simulated devices to the in-process fleet and everything else to the
// HTTP prober.
type PlatformProber struct {
	Simulated HealthProber
	Default   HealthProber
}

// Probe implements HealthProber.
func (p PlatformProber) Probe(ctx context.Context, target model.DeviceTarget) (model.HealthSnapshot, error) {
	if target.Platform == model.PlatformSimulated && p.Simulated != nil {
		return p.Simulated.Probe(ctx, target)
	}
	if p.Default == nil {
		return model.HealthSnapshot{}, fmt.Errorf("no health prober for platform %s", target.Platform)
	}
	return p.Default.Probe(ctx, target)
}

// SnapshotOptions bounds a fleet-wide capture.
type SnapshotOptions struct {
	Concurrency int
	// Timeout applies to each device probe.
	Timeout time.Duration
	Now     func() time.Time
}

// CaptureSnapshot probes every target in parallel and aggregates the reachable ones.
// Devices whose probe fails are listed as unreachable; a failed probe never fails the capture.
func CaptureSnapshot(
	ctx context.Context,
	prober HealthProber,
	targets []model.DeviceTarget,
	opts SnapshotOptions,
) model.PerformanceSnapshot {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if prober == nil {
		unreachable := make([]string, len(targets))
		for i, t := range targets {
			unreachable[i] = t.DeviceID
		}
		return model.AggregateSnapshots(nil, unreachable, now().UTC())
	}

	var (
		mu          sync.Mutex
		devices     = make(map[string]model.HealthSnapshot, len(targets))
		unreachable []string
	)
	var g errgroup.Group
	g.SetLimit(max(opts.Concurrency, 1))
	for _, target := range targets {
		g.Go(func() error {
			pctx := ctx
			if opts.Timeout > 0 {
				var cancel context.CancelFunc
				pctx, cancel = context.WithTimeout(ctx, opts.Timeout)
				defer cancel()
			}
			snap, err := prober.Probe(pctx, target)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				unreachable = append(unreachable, target.DeviceID)
				return nil
			}
			devices[target.DeviceID] = snap
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(unreachable)
	return model.AggregateSnapshots(devices, unreachable, now().UTC())
}
