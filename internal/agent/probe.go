package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/target/fleetpush/internal/domain/model"
)

// Resource pressure above these readings marks a device degraded.
const (
	DefaultCPUThreshold    = 90.0
	DefaultMemoryThreshold = 90.0
)

// ProbeChecker checks a live device by calling its local service endpoints and reading
// load and memory from procfs.
type ProbeChecker struct {
	// Services maps service name to a URL that answers 2xx when the service is up.
	Services        map[string]string
	Client          *http.Client
	ProcRoot        string
	CPUThreshold    float64
	MemoryThreshold float64
	Now             func() time.Time
}

// Check implements HealthChecker.
func (p *ProbeChecker) Check(ctx context.Context, _ DeviceState) (model.HealthSnapshot, error) {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}

	var (
		mu        sync.Mutex
		services  = make(map[string]model.ServiceState, len(p.Services))
		latencies []float64
	)
	g, gctx := errgroup.WithContext(ctx)
	for name, url := range p.Services {
		g.Go(func() error {
			state, latency := probeService(gctx, client, url)
			mu.Lock()
			defer mu.Unlock()
			services[name] = state
			if state.Status == model.ServiceUp {
				latencies = append(latencies, latency)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return model.HealthSnapshot{}, fmt.Errorf("health probe: %w", err)
	}

	root := p.ProcRoot
	if root == "" {
		root = "/proc"
	}
	cpu, cpuErr := loadPercent(filepath.Join(root, "loadavg"))
	mem, memErr := memoryPercent(filepath.Join(root, "meminfo"))
	if cpuErr != nil && memErr != nil && len(p.Services) == 0 {
		return model.HealthSnapshot{}, errors.Join(cpuErr, memErr)
	}

	snap := model.HealthSnapshot{
		Services:  services,
		Metrics:   model.ResourceMetrics{CPUPercent: cpu, MemoryPercent: mem, LatencyMS: mean(latencies)},
		CheckedAt: now().UTC(),
	}
	snap.Status = p.classify(snap)
	return snap, nil
}

func (p *ProbeChecker) classify(snap model.HealthSnapshot) model.HealthStatus {
	down := len(snap.FailedServices())
	if down > 0 && down == len(snap.Services) {
		return model.HealthUnhealthy
	}
	cpuMax := p.CPUThreshold
	if cpuMax <= 0 {
		cpuMax = DefaultCPUThreshold
	}
	memMax := p.MemoryThreshold
	if memMax <= 0 {
		memMax = DefaultMemoryThreshold
	}
	if down > 0 || snap.Metrics.CPUPercent > cpuMax || snap.Metrics.MemoryPercent > memMax {
		return model.HealthDegraded
	}
	return model.HealthHealthy
}

func probeService(ctx context.Context, client *http.Client, url string) (model.ServiceState, float64) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.ServiceState{Status: model.ServiceDown, Detail: err.Error()}, 0
	}
	resp, err := client.Do(req)
	if err != nil {
		return model.ServiceState{Status: model.ServiceDown, Detail: err.Error()}, 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	latency := float64(time.Since(start).Microseconds()) / 1000
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.ServiceState{Status: model.ServiceDown, Detail: resp.Status}, latency
	}
	return model.ServiceState{Status: model.ServiceUp}, latency
}

// loadPercent normalizes the one-minute load average by CPU count.
func loadPercent(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read loadavg: %w", err)
	}
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return 0, errors.New("read loadavg: empty")
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse loadavg: %w", err)
	}
	cpus := max(float64(runtime.NumCPU()), 1)
	return clampPercent(load / cpus * 100), nil
}

func memoryPercent(path string) (float64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read meminfo: %w", err)
	}
	var total, avail float64
	for _, line := range strings.Split(string(b), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseFloat(fields[1], 64)
		case "MemAvailable:":
			avail, _ = strconv.ParseFloat(fields[1], 64)
		}
	}
	if total <= 0 {
		return 0, errors.New("parse meminfo: MemTotal missing")
	}
	return clampPercent((total - avail) / total * 100), nil
}

func clampPercent(v float64) float64 {
	return min(max(v, 0), 100)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
