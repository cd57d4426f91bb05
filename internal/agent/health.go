package agent

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/target/fleetpush/internal/domain/model"
)

// HealthChecker inspects the device after a command and on demand.
type HealthChecker interface {
	Check(ctx context.Context, st DeviceState) (model.HealthSnapshot, error)
}

// HealthCheckerFunc adapts a function to HealthChecker.
type HealthCheckerFunc func(ctx context.Context, st DeviceState) (model.HealthSnapshot, error)

// Check implements HealthChecker.
func (f HealthCheckerFunc) Check(ctx context.Context, st DeviceState) (model.HealthSnapshot, error) {
	return f(ctx, st)
}

// SimulatedServices are the local services every simulated device reports on.
var SimulatedServices = []string{"catalog", "payments", "pos"}

// SimulatedHealth derives a deterministic snapshot from the device id and its config
// version, so the same fleet and the same change always produce the same results.
type SimulatedHealth struct {
	// DegradedPercent and UnhealthyPercent of (device, config version) pairs report
	// degraded or unhealthy.
	DegradedPercent  int
	UnhealthyPercent int
	Now              func() time.Time

	mu     sync.Mutex
	forced map[string]model.HealthStatus
}

// Force pins the status reported for a device. An empty status removes the pin.
func (s *SimulatedHealth) Force(deviceID string, status model.HealthStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forced == nil {
		s.forced = map[string]model.HealthStatus{}
	}
	if status == "" {
		delete(s.forced, deviceID)
		return
	}
	s.forced[deviceID] = status
}

func (s *SimulatedHealth) pinned(deviceID string) (model.HealthStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.forced[deviceID]
	return st, ok
}

// Check implements HealthChecker.
func (s *SimulatedHealth) Check(_ context.Context, st DeviceState) (model.HealthSnapshot, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(st.DeviceID + "@" + st.ConfigVersion))
	sum := h.Sum64()
	bucket := int(sum % 100)

	status := model.HealthHealthy
	switch {
	case bucket < s.UnhealthyPercent:
		status = model.HealthUnhealthy
	case bucket < s.UnhealthyPercent+s.DegradedPercent:
		status = model.HealthDegraded
	}
	if forced, ok := s.pinned(st.DeviceID); ok {
		status = forced
	}

	services := make(map[string]model.ServiceState, len(SimulatedServices))
	for _, name := range SimulatedServices {
		services[name] = model.ServiceState{Status: model.ServiceUp}
	}
	metrics := model.ResourceMetrics{
		CPUPercent:    float64(10 + (sum>>8)%40),
		MemoryPercent: float64(30 + (sum>>16)%40),
		LatencyMS:     float64(5 + (sum>>24)%45),
	}
	switch status {
	case model.HealthDegraded:
		metrics.CPUPercent += 45
		metrics.LatencyMS *= 4
	case model.HealthUnhealthy:
		services["payments"] = model.ServiceState{Status: model.ServiceDown, Detail: "simulated fault"}
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return model.HealthSnapshot{
		Status:    status,
		Services:  services,
		Metrics:   metrics,
		CheckedAt: now().UTC(),
	}, nil
}
