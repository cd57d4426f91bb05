package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/fleetpush/config"
	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/observability/notify"
	"github.com/target/fleetpush/internal/observability/statsd"
)

// mockReaperRepo returns its configured count on the first call of each method and 0
// afterwards, which simulates batch exhaustion.
type mockReaperRepo struct {
	mu     sync.Mutex
	calls  map[string]int
	counts map[string]int64
	errs   map[string]error
	params map[string]core.DeleteOlderThanParams
	ages   map[string]time.Duration
}

func newMockReaperRepo() *mockReaperRepo {
	return &mockReaperRepo{
		calls:  map[string]int{},
		counts: map[string]int64{},
		errs:   map[string]error{},
		params: map[string]core.DeleteOlderThanParams{},
		ages:   map[string]time.Duration{},
	}
}

func (m *mockReaperRepo) call(task string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[task]++
	if err := m.errs[task]; err != nil {
		return 0, err
	}
	if m.calls[task] == 1 {
		return m.counts[task], nil
	}
	return 0, nil
}

func (m *mockReaperRepo) callCount(task string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[task]
}

func (m *mockReaperRepo) FailStalePendingJobs(_ context.Context, maxAge time.Duration, _ int) (int64, error) {
	m.mu.Lock()
	m.ages[ReaperTaskFailPending] = maxAge
	m.mu.Unlock()
	return m.call(ReaperTaskFailPending)
}

func (m *mockReaperRepo) FailAbandonedSentJobs(_ context.Context, maxAge time.Duration, _ int) (int64, error) {
	m.mu.Lock()
	m.ages[ReaperTaskFailAbandoned] = maxAge
	m.mu.Unlock()
	return m.call(ReaperTaskFailAbandoned)
}

func (m *mockReaperRepo) ExpireStaleFollowUps(_ context.Context, p core.DeleteOlderThanParams) (int64, error) {
	m.mu.Lock()
	m.params[ReaperTaskExpireFollowUps] = p
	m.mu.Unlock()
	return m.call(ReaperTaskExpireFollowUps)
}

func (m *mockReaperRepo) DeleteOldPushAttempts(_ context.Context, p core.DeleteOlderThanParams) (int64, error) {
	m.mu.Lock()
	m.params[ReaperTaskPruneAttempts] = p
	m.mu.Unlock()
	return m.call(ReaperTaskPruneAttempts)
}

func (m *mockReaperRepo) DeleteOldAuditEvents(_ context.Context, p core.DeleteOlderThanParams) (int64, error) {
	m.mu.Lock()
	m.params[ReaperTaskPruneAudit] = p
	m.mu.Unlock()
	return m.call(ReaperTaskPruneAudit)
}

var allReaperTasks = []string{
	ReaperTaskFailPending,
	ReaperTaskFailAbandoned,
	ReaperTaskExpireFollowUps,
	ReaperTaskPruneAttempts,
	ReaperTaskPruneAudit,
}

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:       5 * time.Minute,
		PendingMaxAge:  time.Hour,
		SentMaxAge:     30 * time.Minute,
		FollowUpMaxAge: 24 * time.Hour,
		AttemptsMaxAge: 30 * 24 * time.Hour,
		AuditMaxAge:    90 * 24 * time.Hour,
		BatchSize:      1000,
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *eventRecorder) Emit(_ context.Context, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) byCategory(category string) []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notify.Event
	for _, ev := range r.events {
		if ev.Category == category {
			out = append(out, ev)
		}
	}
	return out
}

func TestNewReaperService(t *testing.T) {
	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   newMockReaperRepo(),
			Config: testReaperConfig(),
			Logger: slog.Default(),
		})

		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("returns error when repo is nil", func(t *testing.T) {
		_, err := NewReaperService(ReaperServiceOptions{Config: testReaperConfig()})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "ReaperRepository is required")
	})
}

func TestReaperService_RunOnce(t *testing.T) {
	t.Run("runs all cleanup operations successfully", func(t *testing.T) {
		repo := newMockReaperRepo()
		repo.counts[ReaperTaskFailPending] = 5
		repo.counts[ReaperTaskFailAbandoned] = 2
		repo.counts[ReaperTaskPruneAttempts] = 10
		events := &eventRecorder{}
		rec := &statsd.Recorder{}

		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:    repo,
			Config:  testReaperConfig(),
			Events:  events,
			Metrics: rec,
		})
		require.NoError(t, err)

		require.NoError(t, svc.RunOnce(context.Background()))

		// Steps with rows are called again until a batch comes back empty.
		assert.Equal(t, 2, repo.callCount(ReaperTaskFailPending))
		assert.Equal(t, 2, repo.callCount(ReaperTaskFailAbandoned))
		assert.Equal(t, 1, repo.callCount(ReaperTaskExpireFollowUps))
		assert.Equal(t, 2, repo.callCount(ReaperTaskPruneAttempts))
		assert.Equal(t, 1, repo.callCount(ReaperTaskPruneAudit))

		assert.Equal(t, time.Hour, repo.ages[ReaperTaskFailPending])
		assert.Equal(t, 30*time.Minute, repo.ages[ReaperTaskFailAbandoned])
		assert.Equal(t, core.DeleteOlderThanParams{MaxAge: 24 * time.Hour, BatchSize: 1000},
			repo.params[ReaperTaskExpireFollowUps])
		assert.Equal(t, 90*24*time.Hour, repo.params[ReaperTaskPruneAudit].MaxAge)

		failed := events.byCategory(notify.CategoryJobFailed)
		require.Len(t, failed, 2)
		assert.Equal(t, "5", failed[0].Metadata["count"])
		assert.Equal(t, "JOB_ABANDONED", failed[1].ErrorCode)

		rows := rec.Named("reaper.rows")
		require.Len(t, rows, len(allReaperTasks))
		assert.Equal(t, ReaperTaskFailPending, rows[0].Tags["task"])
		assert.InDelta(t, 5, rows[0].Value, 0)
		cleanup := rec.Named("reaper.cleanup")
		require.Len(t, cleanup, 1)
		assert.Equal(t, "success", cleanup[0].Tags["result"])
		assert.Len(t, rec.Named("reaper.last_success_epoch"), 1)
	})

	t.Run("continues on partial errors", func(t *testing.T) {
		repo := newMockReaperRepo()
		repo.errs[ReaperTaskFailPending] = errors.New("fail error")
		repo.counts[ReaperTaskPruneAudit] = 3
		rec := &statsd.Recorder{}

		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: testReaperConfig(), Metrics: rec})
		require.NoError(t, err)

		err = svc.RunOnce(context.Background())

		require.Error(t, err)
		assert.Contains(t, err.Error(), ReaperTaskFailPending)
		for _, task := range allReaperTasks[1:] {
			assert.GreaterOrEqual(t, repo.callCount(task), 1, task)
		}
		assert.Equal(t, 2, repo.callCount(ReaperTaskPruneAudit))
		cleanup := rec.Named("reaper.cleanup")
		require.Len(t, cleanup, 1)
		assert.Equal(t, "error", cleanup[0].Tags["result"])
		assert.Empty(t, rec.Named("reaper.last_success_epoch"))
	})

	t.Run("reports cancellation when every failure is a cancellation", func(t *testing.T) {
		repo := newMockReaperRepo()
		for _, task := range allReaperTasks {
			repo.errs[task] = context.Canceled
		}
		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: testReaperConfig()})
		require.NoError(t, err)

		err = svc.RunOnce(context.Background())
		assert.Equal(t, context.Canceled, err)
	})
}

func TestReaperService_Run(t *testing.T) {
	t.Run("stops on context cancellation", func(t *testing.T) {
		repo := newMockReaperRepo()
		cfg := testReaperConfig()
		cfg.Interval = 100 * time.Millisecond

		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: cfg})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- svc.Run(ctx)
		}()

		time.Sleep(150 * time.Millisecond)
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("Run did not stop after context cancellation")
		}
		assert.GreaterOrEqual(t, repo.callCount(ReaperTaskFailPending), 1)
	})

	t.Run("continues running despite cleanup errors", func(t *testing.T) {
		repo := newMockReaperRepo()
		repo.errs[ReaperTaskFailPending] = errors.New("test error")
		cfg := testReaperConfig()
		cfg.Interval = 50 * time.Millisecond

		svc, err := NewReaperService(ReaperServiceOptions{Repo: repo, Config: cfg})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		err = svc.Run(ctx)

		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.GreaterOrEqual(t, repo.callCount(ReaperTaskFailPending), 2)
	})
}
