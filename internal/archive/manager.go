package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/tally/internal/export"
	"github.com/tinytelemetry/tally/internal/model"
)

var log = logrus.WithField("component", "archive")

const (
	defaultInterval = 6 * time.Hour
	defaultKeepLast = 24
	artifactPrefix  = "tally-"
	artifactStamp   = "20060102-150405.000"
)

// Config controls the periodic archive.
type Config struct {
	Enabled  bool
	Interval time.Duration
	LocalDir string
	KeepLast int
	DBPath   string
	Window   string
	// MaxAge bounds archived rows; zero keeps everything.
	MaxAge time.Duration

	BucketURL      string
	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Uploader overrides the S3 uploader built from BucketURL.
	Uploader Uploader
	Now      func() time.Time
}

// Exporter produces the snapshot that gets archived.
type Exporter interface {
	ExportData(opts model.ExportOptions) (*model.ExportSnapshot, error)
}

// Uploader uploads one artifact.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}

// Manager runs periodic archive passes.
type Manager struct {
	exp      Exporter
	store    *Store
	cfg      Config
	uploader Uploader

	runMu    sync.Mutex
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager opens the archive and starts the loop. It returns nil when the
// archive is disabled.
func NewManager(exp Exporter, cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if exp == nil {
		return nil, fmt.Errorf("archive: nil exporter")
	}
	if strings.TrimSpace(cfg.LocalDir) == "" {
		return nil, fmt.Errorf("archive: archive-dir is required when the archive is enabled")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	if cfg.Window == "" {
		cfg.Window = model.DefaultExportWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if err := os.MkdirAll(cfg.LocalDir, 0755); err != nil {
		return nil, fmt.Errorf("archive: create archive-dir: %w", err)
	}

	ctx := context.Background()
	uploader := cfg.Uploader
	if uploader == nil && strings.TrimSpace(cfg.BucketURL) != "" {
		s3u, err := NewS3Uploader(ctx, S3Config{
			BucketURL:    cfg.BucketURL,
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
			ContentType:  export.ContentType(model.FormatJSON, true),
		})
		if err != nil {
			return nil, fmt.Errorf("archive: init s3 uploader: %w", err)
		}
		uploader = s3u
	}

	store, err := Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		exp:      exp,
		store:    store,
		cfg:      cfg,
		uploader: uploader,
		done:     make(chan struct{}),
	}
	if err := m.RunOnce(ctx); err != nil {
		log.WithError(err).Warn("startup archive failed")
	}

	m.wg.Add(1)
	go m.loop()
	return m, nil
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.RunOnce(context.Background()); err != nil {
				log.WithError(err).Warn("periodic archive failed")
			}
		case <-m.done:
			return
		}
	}
}

// RunOnce archives one export snapshot: rows into DuckDB, a gzip artifact
// into LocalDir, an upload when configured, then local pruning.
func (m *Manager) RunOnce(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	snap, err := m.exp.ExportData(model.ExportOptions{Window: m.cfg.Window, Format: model.FormatJSON, IncludeEvents: true})
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	rows, err := m.store.InsertSnapshot(ctx, snap)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	localPath, err := m.writeArtifact(snap)
	if err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	log.WithFields(logrus.Fields{"path": localPath, "rows": rows}).Info("archived snapshot")

	if m.uploader != nil {
		if err := m.uploader.UploadFile(ctx, localPath); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		log.WithField("artifact", filepath.Base(localPath)).Info("uploaded archive")
	}

	if m.cfg.MaxAge > 0 {
		if n, err := m.store.DeleteBefore(ctx, m.cfg.Now().Add(-m.cfg.MaxAge)); err != nil {
			return fmt.Errorf("expire archive rows: %w", err)
		} else if n > 0 {
			log.WithField("rows", n).Info("expired archive rows")
		}
	}

	if err := pruneArtifacts(m.cfg.LocalDir, m.cfg.KeepLast); err != nil {
		return fmt.Errorf("prune artifacts: %w", err)
	}
	return nil
}

func (m *Manager) writeArtifact(snap *model.ExportSnapshot) (string, error) {
	name := artifactPrefix + m.cfg.Now().UTC().Format(artifactStamp) + "." + export.Extension(model.FormatJSON, true)
	dst := filepath.Join(m.cfg.LocalDir, name)
	tmp := dst + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	if err := export.Encode(f, model.FormatJSON, snap, true); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	return dst, os.Rename(tmp, dst)
}

// ReportGenerated records a scheduled report run.
func (m *Manager) ReportGenerated(ctx context.Context, result *model.ReportResult) error {
	return m.store.InsertReportRun(ctx, result)
}

// Store returns the archive database.
func (m *Manager) Store() *Store { return m.store }

// Stop ends the loop and closes the database.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.wg.Wait()
		m.runMu.Lock()
		defer m.runMu.Unlock()
		if err := m.store.Close(); err != nil {
			log.WithError(err).Warn("close archive")
		}
	})
}

func pruneArtifacts(localDir string, keepLast int) error {
	if keepLast <= 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(localDir, artifactPrefix+"*.json.gz"))
	if err != nil {
		return err
	}
	if len(matches) <= keepLast {
		return nil
	}
	// the timestamp in the name sorts lexically in time order
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	for _, old := range matches[keepLast:] {
		if err := os.Remove(old); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
