package socketrpc_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/tally/internal/engine"
	"github.com/tinytelemetry/tally/internal/model"
	"github.com/tinytelemetry/tally/internal/socketrpc"
)

func startTestServer(t *testing.T) (string, *engine.Engine, *socketrpc.Server) {
	t.Helper()
	eng := engine.New(engine.Config{RetentionMaxAge: -1})
	t.Cleanup(eng.Stop)

	sockPath := filepath.Join(t.TempDir(), "test.sock")
	srv := socketrpc.NewServer(sockPath, eng, eng.Registry())
	require.NoError(t, srv.Start())
	return sockPath, eng, srv
}

func TestRoundtrip(t *testing.T) {
	sockPath, eng, srv := startTestServer(t)
	defer srv.Stop()

	client, err := socketrpc.Dial(sockPath)
	require.NoError(t, err)
	defer client.Close()

	id := client.RecordEvent("response_time", map[string]any{"time": 40.0}, "")
	assert.NotEmpty(t, id)
	require.NoError(t, client.RecordMetric("response_time", 60, map[string]string{"endpoint": "/x"}, "U"))
	assert.ErrorIs(t, client.RecordMetric("nope", 1, nil, ""), model.ErrMetricNotFound)

	eng.ProcessPending()
	require.NoError(t, eng.Aggregate(context.Background()))

	md, err := client.GetMetricData("response_time", "1h", "")
	require.NoError(t, err)
	require.NotNil(t, md)
	assert.Equal(t, 50.0, md.Value(model.AggAvg))

	user, err := client.GetMetricData("response_time", "", "U")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, int64(1), user.User.Count)

	missing, err := client.GetMetricData("user_satisfaction", "", "")
	require.NoError(t, err)
	assert.Nil(t, missing)

	view, err := client.GetDashboard("performance_dashboard", "")
	require.NoError(t, err)
	assert.Equal(t, "50ms", view.Widgets[0].Card.FormattedValue)
	assert.Equal(t, 10*time.Second, view.RefreshInterval)

	_, err = client.GetDashboard("user_dashboard", "")
	assert.ErrorIs(t, err, model.ErrUserScopeRequired)

	rep, err := client.GenerateReport("weekly_performance", model.ReportOptions{Window: "7d"})
	require.NoError(t, err)
	assert.Equal(t, "weekly_performance", rep.ReportID)

	snap, err := client.ExportData(model.ExportOptions{IncludeEvents: true})
	require.NoError(t, err)
	assert.Len(t, snap.Events, 1)

	stats, err := client.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.DataPoints)

	defs, err := client.ListDashboards()
	require.NoError(t, err)
	assert.Len(t, defs, 3)

	assert.Equal(t, int64(0), client.CleanupOldData(time.Hour))
}

func TestDialFailure(t *testing.T) {
	_, err := socketrpc.Dial(filepath.Join(t.TempDir(), "missing.sock"))
	assert.Error(t, err)
}

func TestServerStopCleansSocket(t *testing.T) {
	sockPath, _, srv := startTestServer(t)
	srv.Stop()

	_, err := socketrpc.Dial(sockPath)
	assert.Error(t, err, "dial fails after server stop")
}

func TestStopIdempotent(t *testing.T) {
	_, _, srv := startTestServer(t)
	srv.Stop()
	srv.Stop()
}

func TestSecondServerRefused(t *testing.T) {
	sockPath, _, srv := startTestServer(t)
	defer srv.Stop()

	other := socketrpc.NewServer(sockPath, engine.New(), nil)
	assert.Error(t, other.Start())
}

func TestStopClosesConns(t *testing.T) {
	sockPath, _, srv := startTestServer(t)
	client, err := socketrpc.Dial(sockPath)
	require.NoError(t, err)
	defer client.Close()

	srv.Stop()

	done := make(chan error, 1)
	go func() {
		_, callErr := client.Stats()
		done <- callErr
	}()

	select {
	case callErr := <-done:
		assert.Error(t, callErr)
	case <-time.After(2 * time.Second):
		t.Fatal("client call hung after server stop")
	}
}
