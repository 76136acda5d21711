package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/tally/internal/aggregate"
	"github.com/tinytelemetry/tally/internal/ingest"
	"github.com/tinytelemetry/tally/internal/model"
	"github.com/tinytelemetry/tally/internal/registry"
	"github.com/tinytelemetry/tally/internal/store"
)

type fixture struct {
	now    time.Time
	reg    *registry.Registry
	store  *store.Store
	cache  *aggregate.Cache
	events *ingest.EventLog
	agg    *aggregate.Aggregator
	svc    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	f.reg = registry.Default()
	f.store = store.New(f.reg.MetricIDs(), store.Config{Now: clock})
	f.cache = aggregate.NewCache()
	f.events = ingest.NewEventLog()
	f.agg = aggregate.New(f.reg.Metrics(), f.store, f.cache, aggregate.Config{Now: clock})
	f.svc = NewService(f.reg, f.cache, f.store, f.events, Config{Now: clock})
	return f
}

func (f *fixture) record(t *testing.T, metricID string, value float64, userID string) {
	t.Helper()
	require.NoError(t, f.store.RecordMetric(metricID, value, nil, userID))
}

func (f *fixture) aggregate(t *testing.T) {
	t.Helper()
	require.NoError(t, f.agg.RunOnce(context.Background()))
}

func TestGetMetricData_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetMetricData("nope", "1h", "")
	assert.ErrorIs(t, err, model.ErrMetricNotFound)

	_, err = f.svc.GetMetricData("response_time", "yesterday", "")
	assert.ErrorIs(t, err, model.ErrInvalidWindow)
}

func TestGetMetricData_NotReadyIsNil(t *testing.T) {
	f := newFixture(t)
	f.record(t, "response_time", 10, "")

	md, err := f.svc.GetMetricData("response_time", "1h", "")
	require.NoError(t, err)
	assert.Nil(t, md, "no snapshot before the first aggregation cycle")

	md, err = f.svc.GetMetricData("response_time", "1h", "someone")
	require.NoError(t, err)
	assert.Nil(t, md)
}

func TestGetMetricData_GlobalScope(t *testing.T) {
	f := newFixture(t)
	for _, v := range []float64{10, 20, 30, 40, 50} {
		f.record(t, "response_time", v, "")
	}
	f.aggregate(t)

	md, err := f.svc.GetMetricData("response_time", "", "")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, model.ScopeGlobal, md.Scope)
	assert.Equal(t, model.Window1h, md.Window)
	assert.Equal(t, "", md.Requested)
	assert.Equal(t, 5, md.Aggregate.SampleCount)
	assert.Equal(t, 30.0, md.Value(model.AggAvg))
	assert.Nil(t, md.User)

	for requested, served := range map[string]model.Window{
		"24h": model.Window1d,
		"6h":  model.Window1d,
		"all": model.Window30d,
		"90d": model.Window30d,
		"5m":  model.Window5m,
	} {
		md, err := f.svc.GetMetricData("response_time", requested, "")
		require.NoError(t, err, requested)
		require.NotNil(t, md, requested)
		assert.Equal(t, served, md.Window, requested)
		assert.Equal(t, requested, md.Requested)
	}
}

func TestGetMetricData_UserScopeIgnoresWindow(t *testing.T) {
	f := newFixture(t)
	for _, v := range []float64{5, 10, 15} {
		f.record(t, "messages_processed", v, "U")
	}

	md, err := f.svc.GetMetricData("messages_processed", "5m", "U")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, model.ScopeUser, md.Scope)
	assert.Nil(t, md.Aggregate)
	assert.Equal(t, 30.0, md.User.Total)
	assert.Equal(t, int64(3), md.User.Count)
	assert.Equal(t, 5.0, md.User.Min)
	assert.Equal(t, 15.0, md.User.Max)
	assert.Equal(t, 15.0, md.User.Last)
	assert.Equal(t, 10.0, md.Value(model.AggAvg))
}

func TestGenerateReport(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GenerateReport("missing", model.ReportOptions{})
	assert.ErrorIs(t, err, model.ErrReportNotFound)

	f.record(t, "messages_processed", 1, "")
	f.aggregate(t)

	rep, err := f.svc.GenerateReport("daily_activity", model.ReportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "24h", rep.Window)
	assert.NotEmpty(t, rep.ID)

	def, _ := f.reg.Report("daily_activity")
	assert.Len(t, rep.Data, len(def.Metrics))
	require.NotNil(t, rep.Data["messages_processed"])
	assert.Equal(t, model.Window1d, rep.Data["messages_processed"].Window)
	assert.Nil(t, rep.Data["documents_analyzed"], "metrics without data are nil")

	require.Len(t, rep.Charts, len(def.Charts))
	for _, c := range rep.Charts {
		assert.Empty(t, c.Labels)
		assert.Empty(t, c.Datasets)
	}

	_, err = f.svc.GenerateReport("daily_activity", model.ReportOptions{Window: "1h"})
	require.NoError(t, err)
	usage := f.svc.Usage().Report("daily_activity")
	assert.Equal(t, int64(2), usage.Count)
	assert.Equal(t, f.now, usage.Last)
}

func TestGetDashboard_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetDashboard("missing", "")
	assert.ErrorIs(t, err, model.ErrDashboardNotFound)

	_, err = f.svc.GetDashboard("user_dashboard", "")
	assert.ErrorIs(t, err, model.ErrUserScopeRequired)
	assert.Equal(t, int64(0), f.svc.Usage().Dashboard("user_dashboard").Count)
}

func TestGetDashboard_RendersWidgets(t *testing.T) {
	f := newFixture(t)
	for _, v := range []float64{100, 200, 300} {
		f.record(t, "response_time", v, "")
	}
	f.record(t, "messages_processed", 1, "")
	f.record(t, "messages_processed", 1, "")
	f.aggregate(t)

	view, err := f.svc.GetDashboard("performance_dashboard", "")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, view.RefreshInterval)
	assert.Equal(t, int64(1), view.Access.Count)
	require.Len(t, view.Widgets, 4)

	card := view.Widgets[0].Card
	require.NotNil(t, card)
	assert.Equal(t, 200.0, card.Value)
	assert.Equal(t, "200ms", card.FormattedValue)

	errCard := view.Widgets[1].Card
	require.NotNil(t, errCard)
	assert.Equal(t, 0.0, errCard.Value, "no data renders as zero")

	chart := view.Widgets[3].Chart
	require.NotNil(t, chart)
	assert.Equal(t, model.Window1d, chart.Window)
	require.Len(t, chart.Datasets, 2)
	assert.Equal(t, "response_time", chart.Datasets[0].Metric)
	assert.Equal(t, 300.0, chart.Datasets[0].Values[model.AggP95])
	assert.Empty(t, chart.Datasets[1].Values, "ai_processing_time has no data")
	assert.Equal(t, []string{"p95"}, chart.Labels)

	main, err := f.svc.GetDashboard("main_dashboard", "")
	require.NoError(t, err)
	assert.Equal(t, "2", main.Widgets[1].Card.FormattedValue)
}

func TestGetDashboard_UserScoped(t *testing.T) {
	f := newFixture(t)
	f.record(t, "messages_processed", 1, "U")
	f.record(t, "messages_processed", 1, "U")
	f.record(t, "messages_processed", 1, "other")

	view, err := f.svc.GetDashboard("user_dashboard", "U")
	require.NoError(t, err)
	assert.Equal(t, "U", view.UserID)
	assert.Equal(t, 2.0, view.Widgets[0].Card.Value)
	assert.Equal(t, 0.0, view.Widgets[1].Card.Value)

	activity := view.Widgets[2].Chart
	require.Len(t, activity.Datasets, 1)
	assert.Equal(t, 2.0, activity.Datasets[0].Values[model.AggSum])
	assert.Equal(t, model.Window30d, activity.Window)
}

func TestExportData(t *testing.T) {
	f := newFixture(t)
	f.record(t, "response_time", 12, "")
	f.aggregate(t)

	f.events.Append([]*model.Event{
		{ID: "old", Type: "user_message", Timestamp: f.now.Add(-48 * time.Hour)},
		{ID: "new", Type: "error", UserID: "u", Timestamp: f.now.Add(-time.Hour), Payload: map[string]any{"error_type": "x"}},
	})

	snap, err := f.svc.ExportData(model.ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, "30d", snap.Window)
	assert.Equal(t, model.FormatJSON, snap.Format)
	assert.Contains(t, snap.Metrics, "response_time")
	assert.NotContains(t, snap.Metrics, "messages_processed")
	assert.Nil(t, snap.Events)

	no := false
	snap, err = f.svc.ExportData(model.ExportOptions{Window: "24h", Format: "YAML", IncludeMetrics: &no, IncludeEvents: true})
	require.NoError(t, err)
	assert.Equal(t, model.FormatYAML, snap.Format)
	assert.Nil(t, snap.Metrics)
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "error", snap.Events[0].Type)
	assert.Equal(t, "u", snap.Events[0].UserID)

	snap, err = f.svc.ExportData(model.ExportOptions{Window: "all", IncludeEvents: true})
	require.NoError(t, err)
	assert.Len(t, snap.Events, 2)

	_, err = f.svc.ExportData(model.ExportOptions{Format: "csv"})
	assert.ErrorIs(t, err, model.ErrUnsupportedFormat)
	_, err = f.svc.ExportData(model.ExportOptions{Window: "soon"})
	assert.ErrorIs(t, err, model.ErrInvalidWindow)
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		value float64
		unit  string
		want  string
	}{
		{1234.6, "ms", "1235ms"},
		{1234567, "users", "1,234,567"},
		{1500.12345, "messages", "1,500.123"},
		{4.25, "rating", "4.2/5"},
		{4.26, "rating", "4.3/5"},
		{0.5, "percent", "0.5"},
		{3, "", "3"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, FormatValue(tc.value, tc.unit), "%v %s", tc.value, tc.unit)
	}
}
