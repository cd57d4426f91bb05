package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/fleetpush/internal/data"
	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/push/topic"
	"github.com/target/fleetpush/internal/testutil"
)

func TestSubscriberHandlesPublishedCommands(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	prefix := "t-" + uuid.NewString() + "/"

	reports := make(chan model.DeviceReport, 4)
	a, err := New(Options{
		DeviceID: "dev-1",
		Health:   &SimulatedHealth{},
		Reporter: ReporterFunc(func(_ context.Context, r model.DeviceReport) error {
			reports <- r
			return nil
		}),
	})
	require.NoError(t, err)

	sub, err := NewSubscriber(SubscriberOptions{Client: client, Agent: a, Prefix: prefix, SiteID: "site-1"})
	require.NoError(t, err)
	assert.Equal(t, topic.Name(prefix, "site-1", "dev-1"), sub.Topic())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx, ready) }()
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not ready")
	}

	pub, err := topic.NewRedisPublisher(client)
	require.NoError(t, err)
	provider, err := topic.New(pub, prefix)
	require.NoError(t, err)

	msg := model.PushMessage{JobID: "job-1", Action: model.ActionRefreshCatalog, TTL: time.Minute, IssuedAt: time.Now()}
	res := provider.Send(ctx, model.DeviceTarget{SiteID: "site-1", DeviceID: "dev-1"}, msg)
	require.NoError(t, res.Err)

	select {
	case r := <-reports:
		assert.Equal(t, "job-1", r.JobID)
		assert.Equal(t, model.ReportApplied, r.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("no report received")
	}

	cancel()
	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber did not stop")
	}
}

func TestSubscriberDropsForeignCommands(t *testing.T) {
	reports := &reportSink{}
	a, err := New(Options{DeviceID: "dev-1", Health: &SimulatedHealth{}, Reporter: reports})
	require.NoError(t, err)
	now := testutil.TestTime()
	s := &Subscriber{agent: a, logger: a.logger, now: testutil.FixedTimeFunc(now)}

	past := now.Add(-time.Second)
	for _, env := range []topic.Envelope{
		{Type: topic.EnvelopeType, DeviceID: "dev-2", Command: model.Command{JobID: "j1", Action: model.ActionHealthCheck}},
		{Type: topic.EnvelopeType, DeviceID: "dev-2", ExpiresAt: &past, Command: model.Command{JobID: "j2", Action: model.ActionHealthCheck}},
		{Type: "other", DeviceID: "dev-1"},
	} {
		body, err := json.Marshal(env)
		require.NoError(t, err)
		s.handle(context.Background(), body)
	}
	assert.Empty(t, reports.all())
}

func TestSubscriberRejectsExpiredCommands(t *testing.T) {
	reports := &reportSink{}
	a, err := New(Options{DeviceID: "dev-1", Health: &SimulatedHealth{}, Reporter: reports})
	require.NoError(t, err)
	now := testutil.TestTime()
	s := &Subscriber{agent: a, logger: a.logger, now: testutil.FixedTimeFunc(now)}

	past := now.Add(-time.Second)
	body, err := json.Marshal(topic.Envelope{
		Type:      topic.EnvelopeType,
		DeviceID:  "dev-1",
		ExpiresAt: &past,
		Command:   model.Command{JobID: "j2", Action: model.ActionRestartService, Payload: json.RawMessage(`{"service":"pos"}`)},
	})
	require.NoError(t, err)
	s.handle(context.Background(), body)

	got := reports.all()
	require.Len(t, got, 1)
	assert.Equal(t, "j2", got[0].JobID)
	assert.Equal(t, model.ReportRejected, got[0].Status)
	assert.Equal(t, RejectReasonExpired, got[0].Reason)
	assert.Zero(t, a.Snapshot().Restarts["pos"])
}

func TestCacheLedgerSurvivesAgentRestart(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	cache := data.NewRedisCacheRepo(client, "t-"+uuid.NewString()+":")
	ctx := context.Background()

	build := func() (*Agent, *reportSink) {
		ledger, err := NewCacheLedger(cache, "dev-1", time.Minute)
		require.NoError(t, err)
		return newTestAgent(t, Options{Applied: ledger})
	}

	first, _ := build()
	_, err := first.Handle(ctx, command("job-1", model.ActionRestartService, `{"service":"pos"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Snapshot().Restarts["pos"])

	restarted, sink := build()
	report, err := restarted.Handle(ctx, command("job-1", model.ActionRestartService, `{"service":"pos"}`))
	require.NoError(t, err)
	assert.Equal(t, model.ReportApplied, report.Status)
	assert.Zero(t, restarted.Snapshot().Restarts["pos"])
	assert.Len(t, sink.all(), 1)
}

func TestHealthHandler(t *testing.T) {
	health := &SimulatedHealth{}
	a, _ := newTestAgent(t, Options{Health: health})

	rec := httptest.NewRecorder()
	HealthHandler(a).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	health.Force("dev-1", model.HealthUnhealthy)
	rec = httptest.NewRecorder()
	HealthHandler(a).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var snap model.HealthSnapshot
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&snap))
	assert.Equal(t, model.HealthUnhealthy, snap.Status)
}
