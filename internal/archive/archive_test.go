package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/tally/internal/model"
)

type fakeExporter struct {
	mu    sync.Mutex
	calls []model.ExportOptions
	value float64
	err   error
}

func (f *fakeExporter) ExportData(opts model.ExportOptions) (*model.ExportSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	f.value++
	at := time.Date(2025, 5, 1, 0, 0, int(f.value), 0, time.UTC)
	return &model.ExportSnapshot{
		ExportedAt: at,
		Window:     opts.Window,
		Format:     opts.Format,
		Metrics: map[string]*model.MetricData{
			"response_time": {
				MetricID: "response_time",
				Window:   model.Window30d,
				Scope:    model.ScopeGlobal,
				Aggregate: &model.AggregateResult{
					MetricID:    "response_time",
					Window:      model.Window30d,
					ComputedAt:  at,
					SampleCount: 4,
					Values:      map[model.AggKind]float64{model.AggAvg: f.value, model.AggP95: 10 * f.value},
				},
			},
			"documents_analyzed": nil,
		},
	}, nil
}

type fakeUploader struct {
	mu    sync.Mutex
	paths []string
}

func (u *fakeUploader) UploadFile(_ context.Context, localPath string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, localPath)
	return nil
}

func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestNewManager_Disabled(t *testing.T) {
	m, err := NewManager(&fakeExporter{}, Config{})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestNewManager_RequiresLocalDir(t *testing.T) {
	_, err := NewManager(&fakeExporter{}, Config{Enabled: true})
	assert.Error(t, err)
}

func TestRunOnce_ArchivesUploadsAndPrunes(t *testing.T) {
	dir := t.TempDir()
	exp := &fakeExporter{}
	up := &fakeUploader{}

	m, err := NewManager(exp, Config{
		Enabled:  true,
		Interval: time.Hour,
		LocalDir: dir,
		KeepLast: 2,
		Uploader: up,
		Now:      steppingClock(),
	})
	require.NoError(t, err)
	require.NotNil(t, m)
	t.Cleanup(m.Stop)

	ctx := context.Background()
	require.NoError(t, m.RunOnce(ctx))
	require.NoError(t, m.RunOnce(ctx))

	matches, err := filepath.Glob(filepath.Join(dir, "tally-*.json.gz"))
	require.NoError(t, err)
	assert.Len(t, matches, 2)
	assert.Len(t, up.paths, 3, "startup run plus two explicit runs")
	assert.Equal(t, model.ExportOptions{Window: "30d", Format: model.FormatJSON, IncludeEvents: true}, exp.calls[0])

	// the newest artifacts survive pruning
	for _, p := range up.paths[1:] {
		_, err := os.Stat(p)
		assert.NoError(t, err, p)
	}

	f, err := os.Open(up.paths[2])
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, _ := zr.Read(buf)
	assert.Contains(t, string(buf[:n]), "{")

	avg, err := m.Store().SnapshotValues(ctx, "response_time", model.AggAvg)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, avg)
}

func TestRunOnce_ExportFailure(t *testing.T) {
	m, err := NewManager(&fakeExporter{err: errors.New("down")}, Config{
		Enabled:  true,
		LocalDir: t.TempDir(),
	})
	require.NoError(t, err, "a failed startup run is only logged")
	t.Cleanup(m.Stop)
	assert.Error(t, m.RunOnce(context.Background()))
}

func TestReportGeneratedRecordsRun(t *testing.T) {
	m, err := NewManager(&fakeExporter{}, Config{Enabled: true, LocalDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(m.Stop)

	ctx := context.Background()
	at := time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b"} {
		require.NoError(t, m.ReportGenerated(ctx, &model.ReportResult{
			ID:          id,
			ReportID:    "daily_activity",
			Window:      "1d",
			GeneratedAt: at.Add(time.Duration(i) * time.Hour),
			Data:        map[string]*model.MetricData{"messages_processed": nil},
		}))
	}

	runs, err := m.Store().ReportRuns(ctx, "daily_activity", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "b", runs[0].ID)
	assert.Equal(t, 1, runs[0].Metrics)
	assert.Equal(t, "1d", runs[1].Window)
}

func TestStoreDeleteBefore(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, "")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	exp := &fakeExporter{}
	for i := 0; i < 3; i++ {
		snap, err := exp.ExportData(model.ExportOptions{})
		require.NoError(t, err)
		rows, err := s.InsertSnapshot(ctx, snap)
		require.NoError(t, err)
		assert.Equal(t, 2, rows)
	}

	removed, err := s.DeleteBefore(ctx, time.Date(2025, 5, 1, 0, 0, 3, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(4), removed)

	p95, err := s.SnapshotValues(ctx, "response_time", model.AggP95)
	require.NoError(t, err)
	assert.Equal(t, []float64{30}, p95)
}

func TestParseS3BucketURL(t *testing.T) {
	tests := []struct {
		raw         string
		bucket, pre string
		wantErr     string
	}{
		{raw: "s3://my-bucket", bucket: "my-bucket"},
		{raw: "s3://my-bucket/tally/archive/", bucket: "my-bucket", pre: "tally/archive"},
		{raw: "https://my-bucket/x", wantErr: "s3:// scheme"},
		{raw: "s3:///x", wantErr: "missing bucket"},
	}
	for _, tc := range tests {
		bucket, pre, err := parseS3BucketURL(tc.raw)
		if tc.wantErr != "" {
			require.Error(t, err, tc.raw)
			assert.Contains(t, err.Error(), tc.wantErr)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.bucket, bucket)
		assert.Equal(t, tc.pre, pre)
	}
}

func TestObjectKeyAndEndpoint(t *testing.T) {
	assert.Equal(t, "tally-1.json.gz", objectKey("", "/var/x/tally-1.json.gz"))
	assert.Equal(t, "p/q/tally-1.json.gz", objectKey("p/q", "/var/x/tally-1.json.gz"))
	assert.Equal(t, "https://minio:9000", normalizeEndpoint("minio:9000"))
	assert.Equal(t, "http://minio:9000", normalizeEndpoint("http://minio:9000"))
}
