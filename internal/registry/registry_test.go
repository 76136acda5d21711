package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/tally/internal/model"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	assert.Len(t, r.MetricIDs(), 12)
	assert.Len(t, r.Reports(), 4)
	assert.Len(t, r.Dashboards(), 3)

	rt, ok := r.Metric("response_time")
	require.True(t, ok)
	assert.Equal(t, model.KindHistogram, rt.Kind)
	assert.Equal(t, "ms", rt.Unit)
	assert.Equal(t, []model.AggKind{model.AggAvg, model.AggP50, model.AggP95, model.AggP99}, rt.Aggregations)

	fu, ok := r.Metric("feature_usage")
	require.True(t, ok)
	assert.Equal(t, []string{"feature_name", "user_type"}, fu.Dimensions)

	ud, ok := r.Dashboard("user_dashboard")
	require.True(t, ok)
	assert.True(t, ud.UserSpecific)
	assert.Equal(t, time.Minute, ud.RefreshInterval)
	require.Len(t, ud.Widgets, 4)
	assert.Equal(t, model.WindowAll, ud.Widgets[0].Timeframe)

	ua, ok := r.Report("user_activity")
	require.True(t, ok)
	assert.Equal(t, model.ScheduleOnDemand, ua.Schedule)
	assert.True(t, ua.UserSpecific)
}

func TestRegistryIsImmutableThroughAccessors(t *testing.T) {
	r := Default()

	def, ok := r.Metric("user_sessions")
	require.True(t, ok)
	def.Aggregations[0] = model.AggUnique
	def.Unit = "changed"

	again, _ := r.Metric("user_sessions")
	assert.Equal(t, model.AggSum, again.Aggregations[0])
	assert.Equal(t, "sessions", again.Unit)

	dash, _ := r.Dashboard("main_dashboard")
	dash.Widgets[2].Metrics[0] = "nope"
	dashAgain, _ := r.Dashboard("main_dashboard")
	assert.Equal(t, "messages_processed", dashAgain.Widgets[2].Metrics[0])

	ids := r.MetricIDs()
	ids[0] = "mutated"
	assert.Equal(t, "user_sessions", r.MetricIDs()[0])
}

func TestParseRejectsInvalidDefinitions(t *testing.T) {
	tests := map[string]string{
		"unknown aggregation": `
metrics:
  - {id: m, kind: counter, unit: x, aggregations: [median]}`,
		"unknown kind": `
metrics:
  - {id: m, kind: summary, unit: x, aggregations: [sum]}`,
		"duplicate metric": `
metrics:
  - {id: m, kind: counter, unit: x, aggregations: [sum]}
  - {id: m, kind: counter, unit: x, aggregations: [sum]}`,
		"report references unknown metric": `
metrics:
  - {id: m, kind: counter, unit: x, aggregations: [sum]}
reports:
  - {id: r, schedule: daily, metrics: [other]}`,
		"widget bad timeframe": `
metrics:
  - {id: m, kind: counter, unit: x, aggregations: [sum]}
dashboards:
  - id: d
    widgets:
      - {type: metric_card, metric: m, timeframe: forever}`,
		"unknown schedule": `
metrics:
  - {id: m, kind: counter, unit: x, aggregations: [sum]}
reports:
  - {id: r, schedule: hourly, metrics: [m]}`,
		"no metrics": `reports: []`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseDeduplicatesAggregations(t *testing.T) {
	r, err := Parse([]byte(`
metrics:
  - {id: m, kind: gauge, unit: x, aggregations: [sum, SUM, avg]}`))
	require.NoError(t, err)
	def, _ := r.Metric("m")
	assert.Equal(t, []model.AggKind{model.AggSum, model.AggAvg}, def.Aggregations)
	assert.Equal(t, "m", def.DisplayName)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
metrics:
  - {id: latency, kind: histogram, unit: ms, aggregations: [p99]}
`), 0644))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"latency"}, r.MetricIDs())

	def, err := Load("")
	require.NoError(t, err)
	assert.Len(t, def.MetricIDs(), 12)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
