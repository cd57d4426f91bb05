package eventsink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/mocks"
	"github.com/target/fleetpush/internal/observability/notify"
	"github.com/target/fleetpush/internal/testutil"
)

type capture struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *capture) sink() notify.Sink {
	return notify.SinkFunc(func(_ context.Context, e notify.Event) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.events = append(c.events, e)
		return nil
	})
}

func (c *capture) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestEmitRoutesBySeverity(t *testing.T) {
	audit, errs := &capture{}, &capture{}
	svc := NewService(Options{
		Audit:  []SinkRegistration{{Name: "audit", Sink: audit.sink()}},
		Errors: []SinkRegistration{{Name: "pager", Sink: errs.sink()}, {Name: "nil"}},
		Now:    testutil.FixedTimeFunc(testutil.TestTime()),
	})
	require.True(t, svc.Enabled())

	svc.Emit(context.Background(), notify.Event{Category: notify.CategoryJobCreated, JobID: "j1"})
	assert.Equal(t, 1, audit.len())
	assert.Equal(t, 0, errs.len())
	assert.Equal(t, notify.SeverityInfo, audit.events[0].Severity)
	assert.Equal(t, testutil.TestTime(), audit.events[0].OccurredAt)

	svc.Emit(context.Background(), notify.Event{Category: notify.CategoryJobFailed, Severity: notify.SeverityError})
	assert.Equal(t, 2, audit.len())
	assert.Equal(t, 1, errs.len())
}

func TestEmitIsolatesFailingSinks(t *testing.T) {
	ok := &capture{}
	svc := NewService(Options{
		Audit: []SinkRegistration{
			{Name: "broken", Sink: notify.SinkFunc(func(context.Context, notify.Event) error { return errors.New("boom") })},
			{Name: "ok", Sink: ok.sink()},
		},
	})
	svc.Emit(context.Background(), notify.Event{Category: notify.CategoryDeviceError, Severity: notify.SeverityCritical})
	assert.Equal(t, 1, ok.len())
}

func TestNilAndEmptyService(t *testing.T) {
	var nilSvc *Service
	nilSvc.Emit(context.Background(), notify.Event{})
	assert.False(t, nilSvc.Enabled())
	assert.False(t, NewService(Options{}).Enabled())
}

func TestRepoSink(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockAuditEventRepository(ctrl)
	repo.EXPECT().Insert(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e *model.AuditEvent) error {
		assert.Equal(t, notify.CategoryJobPartial, e.Category)
		require.NotNil(t, e.JobID)
		assert.Equal(t, "j1", *e.JobID)
		assert.Nil(t, e.DeviceID)
		var meta map[string]string
		require.NoError(t, json.Unmarshal(e.Metadata, &meta))
		assert.Equal(t, "PARTIAL_JOB_FAILURE", meta["error_code"])
		assert.Equal(t, "3", meta["failed"])
		return nil
	})

	err := RepoSink(repo).Send(context.Background(), notify.Event{
		Category:  notify.CategoryJobPartial,
		Severity:  notify.SeverityError,
		JobID:     "j1",
		ErrorCode: "PARTIAL_JOB_FAILURE",
		Metadata:  map[string]string{"failed": "3"},
	})
	require.NoError(t, err)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	require.NoError(t, LogSink(logger).Send(context.Background(), notify.Event{
		Category: notify.CategoryDispatchError,
		Severity: notify.SeverityError,
		JobID:    "j1",
		Message:  "attempt log write failed",
	}))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "attempt log write failed", line["msg"])
	assert.Equal(t, "j1", line["job_id"])
	assert.NotContains(t, line, "device_id")
}
