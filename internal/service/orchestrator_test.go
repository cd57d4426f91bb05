package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/fleetpush/config"
	"github.com/target/fleetpush/internal/core"
	"github.com/target/fleetpush/internal/data"
	"github.com/target/fleetpush/internal/domain/model"
	apperrors "github.com/target/fleetpush/internal/errors"
	"github.com/target/fleetpush/internal/mocks"
	"github.com/target/fleetpush/internal/observability/notify"
	"github.com/target/fleetpush/internal/push"
	"github.com/target/fleetpush/internal/service/results"
)

type resolverStub struct {
	targets []model.DeviceTarget
	err     error
	specs   []model.TargetSpec
}

func (r *resolverStub) Resolve(_ context.Context, spec model.TargetSpec) ([]model.DeviceTarget, error) {
	r.specs = append(r.specs, spec)
	return r.targets, r.err
}

// fakePusher delivers to every device unless told otherwise and answers with a device
// report through the broker, the way an agent would.
type fakePusher struct {
	broker   *results.Broker
	outcomes map[string]model.PushOutcome
	reports  map[string]model.ReportStatus
	sideErrs map[string]error
	bulk     bool
	delay    time.Duration

	mu        sync.Mutex
	inFlight  int
	peak      int
	calls     int
	bulkSizes []int
}

func (p *fakePusher) enter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.inFlight++
	p.peak = max(p.peak, p.inFlight)
}

func (p *fakePusher) leave() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight--
}

func (p *fakePusher) send(target model.DeviceTarget, msg model.PushMessage) push.Dispatched {
	outcome, ok := p.outcomes[target.DeviceID]
	if !ok {
		outcome = model.PushOutcomeDelivered
	}
	attempt := model.PushAttempt{
		JobID:     msg.JobID,
		DeviceID:  target.DeviceID,
		Provider:  "fcm",
		AttemptNo: 1,
		Outcome:   outcome,
	}
	if outcome == model.PushOutcomeTokenInvalid {
		code, text := "UNREGISTERED", "token gone"
		attempt.ErrorCode, attempt.ErrorMessage = &code, &text
	}
	if status := p.reports[target.DeviceID]; outcome == model.PushOutcomeDelivered && status != "" {
		report := model.DeviceReport{DeviceID: target.DeviceID, JobID: msg.JobID, Status: status, Timestamp: time.Now()}
		go func() { _, _ = p.broker.Publish(context.Background(), report) }()
	}
	return push.Dispatched{Attempt: attempt, Err: p.sideErrs[target.DeviceID]}
}

func (p *fakePusher) Dispatch(_ context.Context, target model.DeviceTarget, msg model.PushMessage) (model.PushAttempt, error) {
	p.enter()
	defer p.leave()
	time.Sleep(p.delay)
	d := p.send(target, msg)
	return d.Attempt, d.Err
}

func (p *fakePusher) DispatchBulk(_ context.Context, targets []model.DeviceTarget, msg model.PushMessage) []push.Dispatched {
	p.enter()
	defer p.leave()
	p.mu.Lock()
	p.bulkSizes = append(p.bulkSizes, len(targets))
	p.mu.Unlock()
	out := make([]push.Dispatched, len(targets))
	for i, t := range targets {
		out[i] = p.send(t, msg)
	}
	return out
}

func (p *fakePusher) SupportsBulk(model.Platform) bool { return p.bulk }

func pushTargets(ids ...string) []model.DeviceTarget {
	out := make([]model.DeviceTarget, len(ids))
	for i, id := range ids {
		out[i] = model.DeviceTarget{DeviceID: id, SiteID: "site-1", Platform: model.PlatformAndroid, PushToken: "tok-" + id}
	}
	return out
}

func allApplied(ids ...string) map[string]model.ReportStatus {
	out := make(map[string]model.ReportStatus, len(ids))
	for _, id := range ids {
		out[id] = model.ReportApplied
	}
	return out
}

type orchestratorFixture struct {
	jobs     *mocks.MockJobRepository
	outcomes *mocks.MockOutcomeRepository
	resolver *resolverStub
	pusher   *fakePusher
	broker   *results.Broker
	events   *eventRecorder
	orch     *Orchestrator
}

func newOrchestratorFixture(t *testing.T, cfg config.DispatchConfig, prober HealthProber) *orchestratorFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	broker := results.NewBroker(results.Options{})
	f := &orchestratorFixture{
		jobs:     mocks.NewMockJobRepository(ctrl),
		outcomes: mocks.NewMockOutcomeRepository(ctrl),
		resolver: &resolverStub{},
		pusher:   &fakePusher{broker: broker},
		broker:   broker,
		events:   &eventRecorder{},
	}
	agg, err := NewOutcomeAggregator(AggregatorOptions{Outcomes: f.outcomes, Events: f.events})
	require.NoError(t, err)
	if cfg.ResultTTL == 0 {
		cfg.ResultTTL = 5 * time.Second
	}
	f.orch, err = NewOrchestrator(OrchestratorOptions{
		Jobs:       f.jobs,
		Targets:    f.resolver,
		Pusher:     f.pusher,
		Results:    broker,
		Aggregator: agg,
		Prober:     prober,
		Config:     cfg,
		Events:     f.events,
	})
	require.NoError(t, err)
	return f
}

func pendingJob() *model.Job {
	return &model.Job{
		ID:        "job-1",
		Action:    model.ActionRefreshCatalog,
		Status:    model.JobStatusPending,
		Priority:  model.JobPriorityHigh,
		SiteID:    "site-1",
		CreatedAt: time.Now(),
	}
}

func markSentReturns(job *model.Job) *model.Job {
	sent := *job
	sent.Status = model.JobStatusSent
	now := time.Now()
	sent.SentAt = &now
	return &sent
}

func (f *orchestratorFixture) captureFinalize() *core.FinalizeJobParams {
	var params core.FinalizeJobParams
	f.outcomes.EXPECT().Finalize(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, p core.FinalizeJobParams) (*core.FinalizeResult, error) {
			params = p
			return &core.FinalizeResult{}, nil
		})
	return &params
}

func outcomeFor(p *core.FinalizeJobParams, deviceID string) *model.JobOutcome {
	for _, o := range p.Outcomes {
		if o.DeviceID != nil && *o.DeviceID == deviceID {
			return o
		}
	}
	return nil
}

func TestNewOrchestrator(t *testing.T) {
	_, err := NewOrchestrator(OrchestratorOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JobRepository is required")
}

func TestOrchestrator_CreateJob(t *testing.T) {
	t.Run("persists a pending job and emits an audit event", func(t *testing.T) {
		f := newOrchestratorFixture(t, config.DispatchConfig{}, nil)
		req := &model.CreateJobRequest{SiteID: " site-1 ", Action: "Refresh_Catalog"}
		f.jobs.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, r *model.CreateJobRequest) (*model.Job, error) {
				assert.Equal(t, "site-1", r.SiteID)
				assert.Equal(t, model.ActionRefreshCatalog, r.Action)
				return &model.Job{ID: "job-9", SiteID: r.SiteID, Action: r.Action, Status: model.JobStatusPending}, nil
			})

		job, err := f.orch.CreateJob(context.Background(), req)

		require.NoError(t, err)
		assert.Equal(t, "job-9", job.ID)
		created := f.events.byCategory(notify.CategoryJobCreated)
		require.Len(t, created, 1)
		assert.Equal(t, "job-9", created[0].JobID)
	})

	t.Run("rejects invalid requests without touching storage", func(t *testing.T) {
		f := newOrchestratorFixture(t, config.DispatchConfig{}, nil)

		_, err := f.orch.CreateJob(context.Background(), &model.CreateJobRequest{Action: model.ActionRefreshCatalog})
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))

		_, err = f.orch.CreateJob(context.Background(), nil)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("storage failure is wrapped", func(t *testing.T) {
		f := newOrchestratorFixture(t, config.DispatchConfig{}, nil)
		f.jobs.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil, errors.New("insert failed"))

		_, err := f.orch.CreateJob(context.Background(), &model.CreateJobRequest{SiteID: "site-1", Action: model.ActionRefreshCatalog})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insert failed")
	})
}

func TestOrchestrator_GetJob(t *testing.T) {
	f := newOrchestratorFixture(t, config.DispatchConfig{}, nil)
	f.jobs.EXPECT().GetByID(gomock.Any(), "missing").Return(nil, data.ErrJobNotFound)

	_, err := f.orch.GetJob(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestOrchestrator_ProcessJob(t *testing.T) {
	t.Run("collects one result per device and finalizes", func(t *testing.T) {
		f := newOrchestratorFixture(t, config.DispatchConfig{DeviceConcurrency: 4}, nil)
		job := pendingJob()
		f.resolver.targets = pushTargets("d1", "d2", "d3")
		f.pusher.reports = map[string]model.ReportStatus{"d1": model.ReportApplied, "d2": model.ReportRejected}
		f.pusher.outcomes = map[string]model.PushOutcome{"d3": model.PushOutcomeTokenInvalid}
		f.jobs.EXPECT().MarkSent(gomock.Any(), "job-1").Return(markSentReturns(job), nil)
		params := f.captureFinalize()

		summary, err := f.orch.ProcessJob(context.Background(), job)

		require.NoError(t, err)
		assert.Equal(t, model.OutcomeCompleted, summary.Status)
		assert.Equal(t, model.JobStatusSent, params.From)
		assert.Equal(t, model.JobStatusCompleted, params.To)
		require.Len(t, params.Outcomes, 4)
		assert.Equal(t, model.OutcomeSuccess, outcomeFor(params, "d1").Status)
		assert.Equal(t, model.ErrCodeDeviceRejected, *outcomeFor(params, "d2").ErrorCode)
		assert.Equal(t, "UNREGISTERED", *outcomeFor(params, "d3").ErrorCode)
		assert.Equal(t, "token gone", *outcomeFor(params, "d3").ErrorMessage)
		assert.Equal(t, []model.TargetSpec{{SiteID: "site-1"}}, f.resolver.specs)
	})

	t.Run("devices that never report time out", func(t *testing.T) {
		f := newOrchestratorFixture(t, config.DispatchConfig{ResultTTL: time.Second}, nil)
		job := pendingJob()
		f.resolver.targets = pushTargets("d1", "d2")
		f.pusher.reports = allApplied("d1")
		f.jobs.EXPECT().MarkSent(gomock.Any(), "job-1").Return(markSentReturns(job), nil)
		params := f.captureFinalize()

		start := time.Now()
		_, err := f.orch.ProcessJob(context.Background(), job)

		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), time.Second)
		late := outcomeFor(params, "d2")
		require.NotNil(t, late)
		assert.Equal(t, model.OutcomeFailed, late.Status)
		assert.Equal(t, model.ErrCodeDeviceTimeout, *late.ErrorCode)
	})

	t.Run("no devices fails the job without dispatching", func(t *testing.T) {
		f := newOrchestratorFixture(t, config.DispatchConfig{}, nil)
		job := pendingJob()
		f.resolver.err = model.ErrNoDevicesFound
		params := f.captureFinalize()

		summary, err := f.orch.ProcessJob(context.Background(), job)

		require.NoError(t, err)
		assert.Equal(t, model.ErrCodeNoDevicesFound, *summary.ErrorCode)
		assert.Equal(t, model.JobStatusPending, params.From)
		assert.Equal(t, model.JobStatusFailed, params.To)
		assert.Zero(t, f.pusher.calls)
		assert.Len(t, f.events.byCategory(notify.CategoryJobFailed), 1)
	})

	t.Run("losing the claim race stops processing", func(t *testing.T) {
		f := newOrchestratorFixture(t, config.DispatchConfig{}, nil)
		f.resolver.targets = pushTargets("d1")
		f.jobs.EXPECT().MarkSent(gomock.Any(), "job-1").Return(nil, data.ErrJobNotPending)

		_, err := f.orch.ProcessJob(context.Background(), pendingJob())

		require.ErrorIs(t, err, data.ErrJobNotPending)
		assert.Zero(t, f.pusher.calls)
	})

	t.Run("jobs that are not pending are refused", func(t *testing.T) {
		f := newOrchestratorFixture(t, config.DispatchConfig{}, nil)
		job := pendingJob()
		job.Status = model.JobStatusCompleted

		_, err := f.orch.ProcessJob(context.Background(), job)

		require.ErrorIs(t, err, data.ErrJobNotPending)
		assert.Empty(t, f.resolver.specs)
	})

	t.Run("resolve failure leaves the job pending", func(t *testing.T) {
		f := newOrchestratorFixture(t, config.DispatchConfig{}, nil)
		f.resolver.err = errors.New("registry unavailable")

		_, err := f.orch.ProcessJob(context.Background(), pendingJob())

		require.Error(t, err)
		assert.Contains(t, err.Error(), "registry unavailable")
	})

	t.Run("dispatch side errors are recorded without aborting siblings", func(t *testing.T) {
		f := newOrchestratorFixture(t, config.DispatchConfig{}, nil)
		job := pendingJob()
		f.resolver.targets = pushTargets("d1", "d2")
		f.pusher.reports = allApplied("d1", "d2")
		f.pusher.sideErrs = map[string]error{"d1": errors.New("attempt log unavailable")}
		f.jobs.EXPECT().MarkSent(gomock.Any(), "job-1").Return(markSentReturns(job), nil)
		f.jobs.EXPECT().AppendError(gomock.Any(), "job-1", "device d1: attempt log unavailable").Return(nil)
		params := f.captureFinalize()

		summary, err := f.orch.ProcessJob(context.Background(), job)

		require.NoError(t, err)
		assert.Equal(t, model.OutcomeSuccess, summary.Status)
		assert.Contains(t, string(outcomeFor(params, "d1").ExtraData), "attempt log unavailable")
		dispatchErrs := f.events.byCategory(notify.CategoryDispatchError)
		require.Len(t, dispatchErrs, 1)
		assert.Equal(t, "d1", dispatchErrs[0].DeviceID)
	})

	t.Run("per-job concurrency bounds provider calls", func(t *testing.T) {
		f := newOrchestratorFixture(t, config.DispatchConfig{DeviceConcurrency: 2, GlobalConcurrency: 8}, nil)
		job := pendingJob()
		ids := []string{"d1", "d2", "d3", "d4", "d5", "d6"}
		f.resolver.targets = pushTargets(ids...)
		f.pusher.reports = allApplied(ids...)
		f.pusher.delay = 10 * time.Millisecond
		f.jobs.EXPECT().MarkSent(gomock.Any(), "job-1").Return(markSentReturns(job), nil)
		params := f.captureFinalize()

		_, err := f.orch.ProcessJob(context.Background(), job)

		require.NoError(t, err)
		assert.Equal(t, 6, f.pusher.calls)
		assert.LessOrEqual(t, f.pusher.peak, 2)
		assert.Len(t, params.Outcomes, 7)
	})

	t.Run("bulk-capable platforms are batched", func(t *testing.T) {
		f := newOrchestratorFixture(t, config.DispatchConfig{DeviceConcurrency: 1, BulkBatchSize: 2}, nil)
		f.pusher.bulk = true
		job := pendingJob()
		ids := []string{"d1", "d2", "d3", "d4", "d5"}
		f.resolver.targets = pushTargets(ids...)
		f.pusher.reports = allApplied(ids...)
		f.jobs.EXPECT().MarkSent(gomock.Any(), "job-1").Return(markSentReturns(job), nil)
		params := f.captureFinalize()

		summary, err := f.orch.ProcessJob(context.Background(), job)

		require.NoError(t, err)
		assert.Equal(t, model.OutcomeSuccess, summary.Status)
		assert.Equal(t, []int{2, 2, 1}, f.pusher.bulkSizes)
		assert.Len(t, params.Outcomes, 6)
	})

	t.Run("config changes capture a baseline before dispatch", func(t *testing.T) {
		prober := statusProber(map[string]model.HealthStatus{"d1": model.HealthHealthy})
		f := newOrchestratorFixture(t, config.DispatchConfig{}, prober)
		job := pendingJob()
		job.Action = model.ActionUpdateConfig
		version := "v7"
		job.ConfigVersion = &version
		f.resolver.targets = pushTargets("d1", "d2")
		f.pusher.reports = allApplied("d1", "d2")
		f.jobs.EXPECT().MarkSent(gomock.Any(), "job-1").Return(markSentReturns(job), nil)
		params := f.captureFinalize()

		_, err := f.orch.ProcessJob(context.Background(), job)

		require.NoError(t, err)
		require.NotNil(t, params.History)
		assert.Equal(t, model.HealthHealthy, params.History.PerformanceBefore.Status)
		assert.Equal(t, []string{"d2"}, params.History.PerformanceBefore.Unreachable)
		assert.Equal(t, "v7", *params.History.NewValue)
	})

	t.Run("cancellation leaves the job for the reaper", func(t *testing.T) {
		f := newOrchestratorFixture(t, config.DispatchConfig{ResultTTL: time.Minute}, nil)
		job := pendingJob()
		f.resolver.targets = pushTargets("d1")
		f.jobs.EXPECT().MarkSent(gomock.Any(), "job-1").Return(markSentReturns(job), nil)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err := f.orch.ProcessJob(ctx, job)

		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestOrchestrator_units(t *testing.T) {
	f := newOrchestratorFixture(t, config.DispatchConfig{BulkBatchSize: 3}, nil)
	f.pusher.bulk = true
	targets := pushTargets("a", "b", "c", "d")

	units := f.orch.units(targets)

	require.Len(t, units, 2)
	assert.Equal(t, []int{0, 1, 2}, units[0].idx)
	assert.True(t, units[0].bulk)
	assert.Equal(t, []int{3}, units[1].idx)

	f.pusher.bulk = false
	units = f.orch.units(targets)
	require.Len(t, units, 4)
	for i, u := range units {
		assert.Equal(t, []int{i}, u.idx, fmt.Sprint(i))
		assert.False(t, u.bulk)
	}
}
