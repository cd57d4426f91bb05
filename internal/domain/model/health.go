package model

import (
	"sort"
	"time"
)

// HealthStatus summarises a device or fleet health check.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// Rank orders statuses from best (0) to worst.
func (s HealthStatus) Rank() int {
	switch s {
	case HealthHealthy:
		return 0
	case HealthDegraded:
		return 1
	case HealthUnhealthy:
		return 2
	default:
		return 3
	}
}

// Known reports whether s is one of the ranked health results.
func (s HealthStatus) Known() bool {
	return s == HealthHealthy || s == HealthDegraded || s == HealthUnhealthy
}

// DeviceStatus maps a health status onto the device liveness state it implies.
func (s HealthStatus) DeviceStatus() DeviceStatus {
	if s == HealthHealthy || s == HealthDegraded {
		return DeviceStatusOnline
	}
	return DeviceStatusError
}

// ServiceState is the observed state of one local service on a device.
type ServiceState struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Service status values.
const (
	ServiceUp   = "up"
	ServiceDown = "down"
)

// ResourceMetrics are coarse resource readings taken with a health check.
type ResourceMetrics struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	LatencyMS     float64 `json:"latency_ms"`
}

// HealthSnapshot is a structured device health check result.
type HealthSnapshot struct {
	Status    HealthStatus            `json:"status"`
	Services  map[string]ServiceState `json:"services,omitempty"`
	Metrics   ResourceMetrics         `json:"metrics"`
	Error     string                  `json:"error,omitempty"`
	CheckedAt time.Time               `json:"checked_at"`
}

// FailedServices returns the sorted names of services that are not up.
func (h HealthSnapshot) FailedServices() []string {
	var out []string
	for name, st := range h.Services {
		if st.Status != ServiceUp {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// PerformanceSnapshot aggregates device health across the devices touched by a change.
type PerformanceSnapshot struct {
	Status      HealthStatus              `json:"status"`
	Devices     map[string]HealthSnapshot `json:"devices"`
	Unreachable []string                  `json:"unreachable,omitempty"`
	CapturedAt  time.Time                 `json:"captured_at"`
}

// AggregateSnapshots folds per-device snapshots into a PerformanceSnapshot whose status is
// the worst reachable device status, or unknown when nothing was reachable. A device that
// answered without a usable status is listed as unreachable rather than ranked.
func AggregateSnapshots(devices map[string]HealthSnapshot, unreachable []string, at time.Time) PerformanceSnapshot {
	un := append([]string(nil), unreachable...)
	known := make(map[string]HealthSnapshot, len(devices))
	status, seen := HealthHealthy, false
	for id, snap := range devices {
		if !snap.Status.Known() {
			un = append(un, id)
			continue
		}
		known[id] = snap
		if !seen || snap.Status.Rank() > status.Rank() {
			status, seen = snap.Status, true
		}
	}
	if !seen {
		status = HealthUnknown
	}
	sort.Strings(un)
	return PerformanceSnapshot{
		Status:      status,
		Devices:     known,
		Unreachable: un,
		CapturedAt:  at,
	}
}

// Reachable reports whether at least one device produced a snapshot.
func (p PerformanceSnapshot) Reachable() bool {
	return len(p.Devices) > 0
}

// ChangeSucceeded compares health before and after a change. The change is successful when
// the fleet is not unhealthy afterwards and did not get worse. With no baseline only a
// healthy result counts.
func ChangeSucceeded(before, after PerformanceSnapshot) bool {
	if after.Status == HealthUnhealthy || after.Status == HealthUnknown {
		return false
	}
	if before.Status == HealthUnknown {
		return after.Status == HealthHealthy
	}
	return after.Status.Rank() <= before.Status.Rank()
}
