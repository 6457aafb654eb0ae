package audit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	dErrors "audiovault/pkg/domain-errors"
	"audiovault/pkg/platform/audit"
	"audiovault/pkg/platform/audit/store/memory"
	"audiovault/pkg/platform/retry"
	"audiovault/pkg/requestcontext"
)

// flakySink fails until healed, then delegates to the memory store.
type flakySink struct {
	mu     sync.Mutex
	broken bool
	calls  int
	store  *memory.Store
}

func (f *flakySink) Append(ctx context.Context, e audit.Entry) error {
	f.mu.Lock()
	f.calls++
	broken := f.broken
	f.mu.Unlock()
	if broken {
		return errors.New("sink unavailable")
	}
	return f.store.Append(ctx, e)
}

func (f *flakySink) heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broken = false
}

type RecorderSuite struct {
	suite.Suite
	store    *memory.Store
	sink     *flakySink
	metrics  *audit.Metrics
	recorder *audit.Recorder
	now      time.Time
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	s.store = memory.New()
	s.sink = &flakySink{store: s.store}
	s.metrics = audit.NewMetricsWith(prometheus.NewRegistry())
	s.now = time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

	var err error
	s.recorder, err = audit.NewRecorder(s.sink,
		audit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		audit.WithMetrics(s.metrics),
		audit.WithQueueCapacity(2),
		audit.WithRetryPolicy(retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}),
		audit.WithDrainInterval(5*time.Millisecond),
		audit.WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
}

func (s *RecorderSuite) TestRecordStampsEntry() {
	ctx := requestcontext.WithRequestID(context.Background(), "req-1")
	ctx = requestcontext.WithCallerID(ctx, "u1")
	ctx = requestcontext.WithClientMetadata(ctx, "10.0.0.1", "curl/8.0", "curl")

	err := s.recorder.Record(ctx, audit.Entry{ResourceID: "rec-1", Action: audit.ActionRegistrationCompleted, Success: true})
	s.Require().NoError(err)

	entries, err := s.store.ListByResource(ctx, "rec-1")
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	e := entries[0]
	s.NotEqual(e.ID.String(), "00000000-0000-0000-0000-000000000000")
	s.Equal(s.now, e.Timestamp)
	s.Equal(audit.CategoryPHIAccess, e.Category)
	s.Equal("u1", e.Actor)
	s.Equal("req-1", e.RequestID)
	s.Equal("10.0.0.1", e.ClientIP)
	s.Equal("curl", e.ClientAgent)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Recorded.WithLabelValues("phi_access")))
}

func (s *RecorderSuite) TestFailedAppendIsQueuedAndRedelivered() {
	ctx := context.Background()
	s.sink.broken = true

	err := s.recorder.Record(ctx, audit.Entry{ResourceID: "rec-1", Action: audit.ActionRegistrationCompleted})
	s.True(dErrors.HasCode(err, dErrors.CodeAuditWriteFailed))
	s.Equal(1, s.recorder.Pending())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.QueueDepth))

	s.sink.heal()
	s.Equal(1, s.recorder.Drain(ctx))
	s.Equal(0, s.recorder.Pending())

	entries, _ := s.store.ListByResource(ctx, "rec-1")
	s.Len(entries, 1)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Redelivered))
}

func (s *RecorderSuite) TestFullQueueDropsWithError() {
	ctx := context.Background()
	s.sink.broken = true

	for range 2 {
		s.Error(s.recorder.Record(ctx, audit.Entry{ResourceID: "r", Action: audit.ActionRegistrationStage}))
	}
	err := s.recorder.Record(ctx, audit.Entry{ResourceID: "r", Action: audit.ActionRegistrationStage})
	s.True(dErrors.HasCode(err, dErrors.CodeAuditWriteFailed))
	s.ErrorContains(err, "retry queue full")
	s.Equal(2, s.recorder.Pending())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Dropped))
}

func (s *RecorderSuite) TestDrainRequeuesStillFailingEntries() {
	ctx := context.Background()
	s.sink.broken = true
	s.Error(s.recorder.Record(ctx, audit.Entry{ResourceID: "r", Action: audit.ActionRegistrationStage}))

	s.Equal(0, s.recorder.Drain(ctx))
	s.Equal(1, s.recorder.Pending())
}

func (s *RecorderSuite) TestRunDrainsInBackground() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.sink.broken = true
	s.Error(s.recorder.Record(ctx, audit.Entry{ResourceID: "rec-9", Action: audit.ActionRegistrationFailed}))

	done := make(chan error, 1)
	go func() { done <- s.recorder.Run(ctx) }()

	s.sink.heal()
	s.Eventually(func() bool { return s.recorder.Pending() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	s.ErrorIs(<-done, context.Canceled)
}

func (s *RecorderSuite) TestCloseReportsUndelivered() {
	s.sink.broken = true
	s.Error(s.recorder.Record(context.Background(), audit.Entry{ResourceID: "r", Action: audit.ActionRegistrationStage}))

	err := s.recorder.Close(50 * time.Millisecond)
	s.ErrorContains(err, "1 audit entries undelivered")

	s.sink.heal()
	s.NoError(s.recorder.Close(time.Second))
}

func TestNewRecorderRequiresSink(t *testing.T) {
	_, err := audit.NewRecorder(nil)
	assert.Error(t, err)
}

func TestFanoutJoinsErrors(t *testing.T) {
	a := memory.New()
	broken := &flakySink{broken: true, store: memory.New()}
	f := audit.Fanout{a, broken}

	err := f.Append(context.Background(), audit.Entry{ResourceID: "r"})
	require.Error(t, err)
	all, _ := a.ListAll(context.Background())
	assert.Len(t, all, 1)
}

func TestMemoryStoreIsIdempotentOnID(t *testing.T) {
	store := memory.New()
	r, err := audit.NewRecorder(store)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, r.Record(ctx, audit.Entry{ResourceID: "r", Action: audit.ActionRegistrationCompleted}))
	all, _ := store.ListAll(ctx)
	require.Len(t, all, 1)
	require.NoError(t, store.Append(ctx, all[0]))

	assert.Equal(t, 1, store.Count(audit.ActionRegistrationCompleted))
}
