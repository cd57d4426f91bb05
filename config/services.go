package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP API.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeDispatcher reserves pending jobs and fans them out to devices.
	ServiceModeDispatcher ServiceMode = "dispatcher"
	// ServiceModeMonitor runs the post-change follow-up worker.
	ServiceModeMonitor ServiceMode = "monitor"
	// ServiceModeReaper runs the cleanup loop.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeDispatcher,
		ServiceModeMonitor,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeDispatcher, ServiceModeMonitor, ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, dispatcher, monitor, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// DispatchConfig contains dispatcher and orchestrator configuration.
type DispatchConfig struct {
	// DeviceConcurrency bounds in-flight deliveries for a single job.
	DeviceConcurrency int `env:"DISPATCH_DEVICE_CONCURRENCY" envDefault:"32"`

	// GlobalConcurrency bounds in-flight deliveries across every job in the process.
	GlobalConcurrency int `env:"DISPATCH_GLOBAL_CONCURRENCY" envDefault:"256"`

	// ResultTTL is how long the orchestrator waits for a device report after delivery.
	// Jobs may override it with ttl_seconds.
	ResultTTL time.Duration `env:"DISPATCH_RESULT_TTL" envDefault:"2m"`

	// Workers is the number of jobs processed concurrently by one dispatcher.
	Workers int `env:"DISPATCH_WORKERS" envDefault:"4"`

	// JobLease is the reservation lease; the runner heartbeats while a job is in flight.
	JobLease time.Duration `env:"DISPATCH_JOB_LEASE" envDefault:"30s"`

	// BulkBatchSize groups targets sharing a provider into one bulk send. 1 disables bulk.
	BulkBatchSize int `env:"DISPATCH_BULK_BATCH_SIZE" envDefault:"100"`

	// PollInterval is the fallback poll when no job_added notification arrives.
	PollInterval time.Duration `env:"DISPATCH_POLL_INTERVAL" envDefault:"5s"`
}

// Sanitize applies guardrails to dispatch configuration values.
func (d *DispatchConfig) Sanitize() {
	if d.DeviceConcurrency < 1 {
		d.DeviceConcurrency = 1
	}
	if d.GlobalConcurrency < d.DeviceConcurrency {
		d.GlobalConcurrency = d.DeviceConcurrency
	}
	if d.ResultTTL < time.Second {
		d.ResultTTL = time.Second
	}
	if d.Workers < 1 {
		d.Workers = 1
	}
	if d.JobLease < 5*time.Second {
		d.JobLease = 5 * time.Second
	}
	if d.BulkBatchSize < 1 {
		d.BulkBatchSize = 1
	}
	if d.PollInterval < 100*time.Millisecond {
		d.PollInterval = 100 * time.Millisecond
	}
}

// MonitorConfig contains post-change monitor configuration.
type MonitorConfig struct {
	// Delay between a config change being applied and its verification probe.
	Delay time.Duration `env:"MONITOR_DELAY" envDefault:"5m"`

	// Interval is the follow-up worker tick interval.
	Interval time.Duration `env:"MONITOR_INTERVAL" envDefault:"10s"`

	// BatchSize is the number of due follow-ups claimed per tick.
	BatchSize int `env:"MONITOR_BATCH_SIZE" envDefault:"10"`

	// Lease bounds how long a claimed follow-up may run before it can be re-claimed.
	Lease time.Duration `env:"MONITOR_LEASE" envDefault:"2m"`

	// ProbeConcurrency bounds parallel device probes per snapshot.
	ProbeConcurrency int `env:"MONITOR_PROBE_CONCURRENCY" envDefault:"16"`

	// ProbeTimeout bounds a single device probe.
	ProbeTimeout time.Duration `env:"MONITOR_PROBE_TIMEOUT" envDefault:"5s"`
}

// Sanitize applies guardrails to monitor configuration values.
func (m *MonitorConfig) Sanitize() {
	if m.Delay < 0 {
		m.Delay = 0
	}
	if m.Interval < time.Second {
		m.Interval = time.Second
	}
	if m.BatchSize < 1 {
		m.BatchSize = 1
	}
	if m.Lease < 10*time.Second {
		m.Lease = 10 * time.Second
	}
	if m.ProbeConcurrency < 1 {
		m.ProbeConcurrency = 1
	}
	if m.ProbeTimeout < 100*time.Millisecond {
		m.ProbeTimeout = 100 * time.Millisecond
	}
}

// ReaperConfig contains reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// PendingMaxAge is the maximum age for pending jobs before they are marked as failed.
	PendingMaxAge time.Duration `env:"REAPER_PENDING_MAX_AGE" envDefault:"1h"`

	// SentMaxAge fails sent jobs whose dispatcher stopped heartbeating for this long.
	SentMaxAge time.Duration `env:"REAPER_SENT_MAX_AGE" envDefault:"30m"`

	// FollowUpMaxAge expires follow-ups still pending or running this long after fire_at.
	FollowUpMaxAge time.Duration `env:"REAPER_FOLLOWUP_MAX_AGE" envDefault:"24h"`

	// AttemptsMaxAge is the retention for push attempts of terminal jobs.
	AttemptsMaxAge time.Duration `env:"REAPER_ATTEMPTS_MAX_AGE" envDefault:"720h"` // 30 days

	// AuditMaxAge is the retention for audit events.
	AuditMaxAge time.Duration `env:"REAPER_AUDIT_MAX_AGE" envDefault:"2160h"` // 90 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.PendingMaxAge < 5*time.Minute {
		r.PendingMaxAge = 5 * time.Minute
	}
	if r.SentMaxAge < 5*time.Minute {
		r.SentMaxAge = 5 * time.Minute
	}
	if r.FollowUpMaxAge < 1*time.Hour {
		r.FollowUpMaxAge = 1 * time.Hour
	}
	if r.AttemptsMaxAge < 24*time.Hour {
		r.AttemptsMaxAge = 24 * time.Hour
	}
	if r.AuditMaxAge < 24*time.Hour {
		r.AuditMaxAge = 24 * time.Hour
	}

	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}

// SimulationConfig controls the in-process simulated fleet.
type SimulationConfig struct {
	// Enabled registers the simulated provider and the in-process device agents.
	Enabled bool `env:"SIMULATION_ENABLED" envDefault:"false"`

	// DegradedPercent and UnhealthyPercent pick deterministic health per device and version.
	DegradedPercent  int `env:"SIMULATION_DEGRADED_PERCENT"  envDefault:"0"`
	UnhealthyPercent int `env:"SIMULATION_UNHEALTHY_PERCENT" envDefault:"0"`

	// TransientPercent of (job, device) deliveries fail as if the channel were down.
	TransientPercent int `env:"SIMULATION_TRANSIENT_PERCENT" envDefault:"0"`
}

// Sanitize clamps the percentages to 0..100.
func (s *SimulationConfig) Sanitize() {
	s.DegradedPercent = clampPercent(s.DegradedPercent)
	s.UnhealthyPercent = clampPercent(s.UnhealthyPercent)
	s.TransientPercent = clampPercent(s.TransientPercent)
	if s.DegradedPercent+s.UnhealthyPercent > 100 {
		s.DegradedPercent = 100 - s.UnhealthyPercent
	}
}

func clampPercent(v int) int {
	return min(max(v, 0), 100)
}
