package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/domain/model"
)

// AppliedStore remembers the report produced for each job so a redelivered command is
// re-reported instead of re-applied.
type AppliedStore interface {
	// Lookup returns nil when the job has not been handled.
	Lookup(ctx context.Context, jobID string) (*model.DeviceReport, error)
	// Remember records the report for its job. The first report recorded for a job wins.
	Remember(ctx context.Context, report model.DeviceReport) error
}

// DefaultMemoryLedgerSize bounds the in-memory ledger.
const DefaultMemoryLedgerSize = 512

// MemoryLedger is a bounded in-process AppliedStore. The oldest job is evicted first.
type MemoryLedger struct {
	mu      sync.Mutex
	limit   int
	order   []string
	reports map[string]model.DeviceReport
}

// NewMemoryLedger creates a ledger holding at most limit jobs.
func NewMemoryLedger(limit int) *MemoryLedger {
	if limit <= 0 {
		limit = DefaultMemoryLedgerSize
	}
	return &MemoryLedger{limit: limit, reports: make(map[string]model.DeviceReport)}
}

// Lookup implements AppliedStore.
func (m *MemoryLedger) Lookup(_ context.Context, jobID string) (*model.DeviceReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[jobID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// Remember implements AppliedStore.
func (m *MemoryLedger) Remember(_ context.Context, report model.DeviceReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[report.JobID]; ok {
		return nil
	}
	if len(m.order) >= m.limit {
		delete(m.reports, m.order[0])
		m.order = m.order[1:]
	}
	m.order = append(m.order, report.JobID)
	m.reports[report.JobID] = report
	return nil
}

// DefaultLedgerTTL is how long the cache ledger remembers a job.
const DefaultLedgerTTL = 24 * time.Hour

// CacheLedger keeps the ledger in a shared cache (Redis in production) so an agent restart
// does not re-apply commands it already handled.
type CacheLedger struct {
	cache    core.CacheRepository
	deviceID string
	ttl      time.Duration
}

// NewCacheLedger creates a ledger for one device.
func NewCacheLedger(cache core.CacheRepository, deviceID string, ttl time.Duration) (*CacheLedger, error) {
	if cache == nil {
		return nil, errors.New("CacheRepository is required")
	}
	if deviceID == "" {
		return nil, errors.New("device id is required")
	}
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	return &CacheLedger{cache: cache, deviceID: deviceID, ttl: ttl}, nil
}

func (c *CacheLedger) key(jobID string) string {
	return "agent:" + c.deviceID + ":applied:" + jobID
}

// Lookup implements AppliedStore.
func (c *CacheLedger) Lookup(ctx context.Context, jobID string) (*model.DeviceReport, error) {
	raw, err := c.cache.Get(ctx, c.key(jobID))
	if err != nil {
		return nil, fmt.Errorf("read applied ledger: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	var r model.DeviceReport
	if err = json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode applied ledger entry: %w", err)
	}
	return &r, nil
}

// Remember implements AppliedStore.
func (c *CacheLedger) Remember(ctx context.Context, report model.DeviceReport) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode applied ledger entry: %w", err)
	}
	if _, err = c.cache.SetIfNotExists(ctx, c.key(report.JobID), raw, c.ttl); err != nil {
		return fmt.Errorf("write applied ledger: %w", err)
	}
	return nil
}
