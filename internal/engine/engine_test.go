package engine

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/tally/internal/model"
	"github.com/tinytelemetry/tally/internal/telemetry"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func newTestEngine(t *testing.T) (*Engine, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)}
	e := New(Config{Now: clock.Now, RetentionMaxAge: -1, Telemetry: telemetry.NewMetrics(nil)})
	t.Cleanup(e.Stop)
	return e, clock
}

func TestEndToEndEventToDashboard(t *testing.T) {
	e, _ := newTestEngine(t)

	e.RecordEvent("response_time", map[string]any{"time": 120.0, "endpoint": "/a"}, "")
	e.RecordEvent("response_time", map[string]any{"time": 80.0, "endpoint": "/b"}, "")
	e.RecordEvent("user_message", map[string]any{"text": "hi"}, "U")

	assert.Equal(t, 3, e.ProcessPending())
	require.NoError(t, e.Aggregate(context.Background()))

	md, err := e.GetMetricData("response_time", "1h", "")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, 100.0, md.Value(model.AggAvg))

	view, err := e.GetDashboard("performance_dashboard", "")
	require.NoError(t, err)
	assert.Equal(t, "100ms", view.Widgets[0].Card.FormattedValue)

	user, err := e.GetMetricData("messages_processed", "", "U")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, model.ScopeUser, user.Scope)
	assert.Equal(t, 1.0, user.User.Total)
}

func TestCriticalFastPathVersusNextTick(t *testing.T) {
	e, _ := newTestEngine(t)

	e.RecordEvent("error", map[string]any{"error_type": "timeout"}, "U")
	md, err := e.GetMetricData("error_rate", "", "U")
	require.NoError(t, err)
	require.NotNil(t, md, "critical event is visible in the accumulator before any tick")
	assert.Equal(t, int64(1), md.User.Count)

	e.RecordEvent("feature_used", map[string]any{"feature_name": "export"}, "U")
	md, err = e.GetMetricData("feature_usage", "", "U")
	require.NoError(t, err)
	assert.Nil(t, md, "non-critical event waits for the processor")

	e.ProcessPending()
	md, err = e.GetMetricData("feature_usage", "", "U")
	require.NoError(t, err)
	require.NotNil(t, md)

	errs, err := e.GetMetricData("error_rate", "", "U")
	require.NoError(t, err)
	assert.Equal(t, int64(1), errs.User.Count, "critical events are mapped once")
}

func TestRecordMetricUnknownIsNonFatal(t *testing.T) {
	e, _ := newTestEngine(t)
	err := e.RecordMetric("made_up", 1, nil, "")
	assert.ErrorIs(t, err, model.ErrMetricNotFound)
	assert.Equal(t, 0, e.SystemStats().DataPoints)
}

func TestNonFiniteSampleDoesNotPoisonAggregates(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.ErrorIs(t, e.RecordMetric("response_time", math.NaN(), nil, "U"), model.ErrNonFiniteValue)
	for i := 0; i < 5; i++ {
		require.NoError(t, e.RecordMetric("response_time", 100, nil, "U"))
	}
	require.NoError(t, e.Aggregate(context.Background()))

	md, err := e.GetMetricData("response_time", "1h", "")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, 100.0, md.Value(model.AggAvg))

	user, err := e.GetMetricData("response_time", "", "U")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, 500.0, user.User.Total)
}

func TestCleanupOldData(t *testing.T) {
	e, clock := newTestEngine(t)
	start := clock.Now()

	for i := 0; i < 6; i++ {
		clock.Set(start.Add(time.Duration(i) * time.Hour))
		require.NoError(t, e.RecordMetric("response_time", float64(i), nil, "U"))
		e.RecordEvent("user_message", nil, "")
		e.ProcessPending()
	}
	clock.Set(start.Add(6 * time.Hour))

	// points and messages at start+0h..5h; a 3h bound keeps 3h, 4h and 5h
	before := e.SystemStats()
	removed := e.CleanupOldData(3 * time.Hour)
	after := e.SystemStats()

	pointsRemoved := int64(before.DataPoints - after.DataPoints)
	eventsRemoved := int64(before.Events - after.Events)
	assert.Equal(t, pointsRemoved+eventsRemoved, removed)
	assert.Equal(t, int64(3+3+3), pointsRemoved, "response_time, messages_processed and user_sessions")
	assert.Equal(t, int64(3), eventsRemoved)

	md, err := e.GetMetricData("response_time", "", "U")
	require.NoError(t, err)
	assert.Equal(t, int64(6), md.User.Count, "accumulators survive cleanup")
}

func TestUserScopeRequired(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.GetDashboard("user_dashboard", "")
	assert.ErrorIs(t, err, model.ErrUserScopeRequired)
}

func TestConcurrentProducersThroughEngine(t *testing.T) {
	e := New(Config{ProcessInterval: time.Millisecond, RetentionMaxAge: -1})
	e.Start()

	const producers = 6
	const perProducer = 1000
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				e.RecordEvent("feature_used", map[string]any{"feature_name": fmt.Sprint(p)}, "")
			}
		}(p)
	}
	wg.Wait()
	e.Stop()

	stats := e.SystemStats()
	assert.Equal(t, int64(producers*perProducer), stats.ProcessedEvents)
	assert.Equal(t, producers*perProducer, stats.Events)
	assert.Equal(t, 0, stats.PendingEvents)
	assert.Equal(t, producers*perProducer, stats.DataPoints)
}

func TestSystemStats(t *testing.T) {
	e, _ := newTestEngine(t)
	e.RecordEvent("response_time", map[string]any{}, "")
	e.RecordEvent("user_message", nil, "U")
	e.ProcessPending()
	require.NoError(t, e.Aggregate(context.Background()))

	stats := e.SystemStats()
	assert.Equal(t, 12, stats.Metrics)
	assert.Equal(t, 4, stats.Reports)
	assert.Equal(t, 3, stats.Dashboards)
	assert.Equal(t, 2, stats.Events)
	assert.Equal(t, 1, stats.ActiveUsers)
	assert.Equal(t, int64(2), stats.ProcessedEvents)
	assert.Equal(t, int64(1), stats.FailedEvents)
	assert.Equal(t, 2*len(model.Windows), stats.AggregatedSnapshots)
}

func TestStartStopIdempotent(t *testing.T) {
	e := New()
	e.Start()
	e.Start()
	e.RecordEvent("user_message", nil, "")
	e.Stop()
	e.Stop()
	assert.Equal(t, int64(1), e.SystemStats().ProcessedEvents)
}
