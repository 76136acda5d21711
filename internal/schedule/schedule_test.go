package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/tally/internal/model"
	"github.com/tinytelemetry/tally/internal/registry"
)

type fakeGenerator struct {
	mu    sync.Mutex
	calls []model.ReportOptions
	fail  bool
}

func (g *fakeGenerator) GenerateReport(reportID string, opts model.ReportOptions) (*model.ReportResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, opts)
	if g.fail {
		return nil, errors.New("boom")
	}
	return &model.ReportResult{ID: "r-" + reportID, ReportID: reportID, Window: opts.Window}, nil
}

type sinkFunc func(ctx context.Context, r *model.ReportResult) error

func (f sinkFunc) ReportGenerated(ctx context.Context, r *model.ReportResult) error { return f(ctx, r) }

func TestPlan(t *testing.T) {
	tests := []struct {
		schedule, spec, window string
		ok                     bool
	}{
		{model.ScheduleDaily, "@daily", "1d", true},
		{model.ScheduleWeekly, "@weekly", "7d", true},
		{model.ScheduleMonthly, "@monthly", "30d", true},
		{model.ScheduleOnDemand, "", "", false},
		{"hourly", "", "", false},
	}
	for _, tc := range tests {
		spec, window, ok := Plan(tc.schedule)
		assert.Equal(t, tc.ok, ok, tc.schedule)
		assert.Equal(t, tc.spec, spec, tc.schedule)
		assert.Equal(t, tc.window, window, tc.schedule)
	}
}

func TestNewSkipsOnDemandReports(t *testing.T) {
	s, err := New(&fakeGenerator{}, registry.Default().Reports())
	require.NoError(t, err)
	assert.Equal(t, []string{"daily_activity", "monthly_business", "weekly_performance"}, s.Scheduled())

	_, err = s.RunNow(context.Background(), "user_activity")
	assert.ErrorIs(t, err, model.ErrReportNotFound)
}

func TestRunNowRecordsLatestAndCallsSink(t *testing.T) {
	gen := &fakeGenerator{}
	var sunk []string
	s, err := New(gen, registry.Default().Reports(), Config{
		Sink: sinkFunc(func(_ context.Context, r *model.ReportResult) error {
			sunk = append(sunk, r.ReportID)
			return errors.New("sink down")
		}),
	})
	require.NoError(t, err)

	_, ok := s.Latest("weekly_performance")
	assert.False(t, ok)

	res, err := s.RunNow(context.Background(), "weekly_performance")
	require.NoError(t, err, "sink failures do not fail the run")
	assert.Equal(t, "7d", res.Window)

	latest, ok := s.Latest("weekly_performance")
	require.True(t, ok)
	assert.Same(t, res, latest)
	assert.Equal(t, []string{"weekly_performance"}, sunk)
	assert.Equal(t, []model.ReportOptions{{Window: "7d"}}, gen.calls)
}

func TestRunNowFailureKeepsPreviousResult(t *testing.T) {
	gen := &fakeGenerator{}
	s, err := New(gen, registry.Default().Reports())
	require.NoError(t, err)

	first, err := s.RunNow(context.Background(), "daily_activity")
	require.NoError(t, err)

	gen.fail = true
	_, err = s.RunNow(context.Background(), "daily_activity")
	require.Error(t, err)

	latest, ok := s.Latest("daily_activity")
	require.True(t, ok)
	assert.Same(t, first, latest)
}

func TestHistoryExpires(t *testing.T) {
	s, err := New(&fakeGenerator{}, registry.Default().Reports(), Config{HistoryTTL: 20 * time.Millisecond})
	require.NoError(t, err)
	_, err = s.RunNow(context.Background(), "monthly_business")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := s.Latest("monthly_business")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	s, err := New(&fakeGenerator{}, nil)
	require.NoError(t, err)
	s.Start()
	s.Stop()
	s.Stop()
}

func TestNewRejectsNilGenerator(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}
