// Package archive writes export snapshots and scheduled report runs to a
// DuckDB file and to gzip artifacts, optionally uploaded to S3. It is an
// export sink: nothing is read back into the engine.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"
	"github.com/tinytelemetry/tally/internal/archive/migrate"
	"github.com/tinytelemetry/tally/internal/model"
)

// Store is the DuckDB side of the archive.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Open opens or creates the archive database and applies migrations. An
// empty dbPath opens an in-memory database.
func Open(ctx context.Context, dbPath string) (*Store, error) {
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := migrate.NewRunner(db).Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DBPath returns the database path. Empty means in-memory.
func (s *Store) DBPath() string { return s.dbPath }

// InsertSnapshot writes one row per aggregate value in snap and returns the
// row count.
func (s *Store) InsertSnapshot(ctx context.Context, snap *model.ExportSnapshot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO aggregate_snapshots
		(exported_at, metric_id, window_name, agg, value, sample_count, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	ids := make([]string, 0, len(snap.Metrics))
	for id := range snap.Metrics {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	rows := 0
	for _, id := range ids {
		md := snap.Metrics[id]
		if md == nil || md.Aggregate == nil {
			continue
		}
		agg := md.Aggregate
		for _, kind := range model.AggKinds {
			v, ok := agg.Values[kind]
			if !ok {
				continue
			}
			if _, err := stmt.ExecContext(ctx, snap.ExportedAt.UTC(), id, string(agg.Window), string(kind), v, agg.SampleCount, agg.ComputedAt.UTC()); err != nil {
				_ = tx.Rollback()
				return 0, fmt.Errorf("insert %s/%s: %w", id, kind, err)
			}
			rows++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return rows, nil
}

// InsertReportRun records a generated report with its JSON payload.
func (s *Store) InsertReportRun(ctx context.Context, r *model.ReportResult) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report %s: %w", r.ReportID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, `INSERT INTO report_runs
		(id, report_id, window_name, generated_at, metrics, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ReportID, r.Window, r.GeneratedAt.UTC(), len(r.Data), string(payload))
	if err != nil {
		return fmt.Errorf("insert report run %s: %w", r.ID, err)
	}
	return nil
}

// ReportRun is one archived report generation.
type ReportRun struct {
	ID          string
	ReportID    string
	Window      string
	GeneratedAt time.Time
	Metrics     int
}

// ReportRuns returns the newest runs of reportID, up to limit.
func (s *Store) ReportRuns(ctx context.Context, reportID string, limit int) ([]ReportRun, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, report_id, window_name, generated_at, metrics
		FROM report_runs WHERE report_id = ? ORDER BY generated_at DESC LIMIT ?`, reportID, limit)
	if err != nil {
		return nil, fmt.Errorf("query report runs: %w", err)
	}
	defer rows.Close()

	var runs []ReportRun
	for rows.Next() {
		var r ReportRun
		if err := rows.Scan(&r.ID, &r.ReportID, &r.Window, &r.GeneratedAt, &r.Metrics); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SnapshotValues returns metricID's archived values for agg, oldest first.
func (s *Store) SnapshotValues(ctx context.Context, metricID string, agg model.AggKind) ([]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT value FROM aggregate_snapshots
		WHERE metric_id = ? AND agg = ? ORDER BY exported_at`, metricID, string(agg))
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// DeleteBefore drops archived rows older than cutoff.
func (s *Store) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, q := range []string{
		"DELETE FROM aggregate_snapshots WHERE exported_at < ?",
		"DELETE FROM report_runs WHERE generated_at < ?",
	} {
		res, err := s.db.ExecContext(ctx, q, cutoff.UTC())
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
