// Package engine wires the registry, store, ingestion, aggregation,
// retention and query layers into the embedded analytics API.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/tally/internal/aggregate"
	"github.com/tinytelemetry/tally/internal/ingest"
	"github.com/tinytelemetry/tally/internal/model"
	"github.com/tinytelemetry/tally/internal/query"
	"github.com/tinytelemetry/tally/internal/registry"
	"github.com/tinytelemetry/tally/internal/retention"
	"github.com/tinytelemetry/tally/internal/store"
	"github.com/tinytelemetry/tally/internal/telemetry"
)

var log = logrus.WithField("component", "engine")

var _ model.API = (*Engine)(nil)

// Config holds tunable parameters for the engine. Zero values take the
// defaults from model. A negative RetentionMaxAge disables the periodic
// sweep; CleanupOldData still works on demand.
type Config struct {
	Registry *registry.Registry

	ProcessInterval   time.Duration
	BatchSize         int
	AggregateInterval time.Duration
	RetentionMaxAge   time.Duration
	RetentionInterval time.Duration

	Now       func() time.Time
	Telemetry *telemetry.Metrics
}

// Engine is the in-process analytics engine.
type Engine struct {
	reg    *registry.Registry
	store  *store.Store
	in     *ingest.Ingestor
	proc   *ingest.Processor
	events *ingest.EventLog
	cache  *aggregate.Cache
	agg    *aggregate.Aggregator
	query  *query.Service
	tm     *telemetry.Metrics
	now    func() time.Time

	retentionMaxAge   time.Duration
	retentionInterval time.Duration
	sweeper           *retention.Sweeper

	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds an engine. Nothing ticks until Start.
func New(conf ...Config) *Engine {
	var c Config
	if len(conf) > 0 {
		c = conf[0]
	}
	if c.Registry == nil {
		c.Registry = registry.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.RetentionMaxAge == 0 {
		c.RetentionMaxAge = model.DefaultRetentionMaxAge
	}

	e := &Engine{
		reg:               c.Registry,
		tm:                c.Telemetry,
		now:               c.Now,
		retentionMaxAge:   c.RetentionMaxAge,
		retentionInterval: c.RetentionInterval,
	}
	e.store = store.New(e.reg.MetricIDs(), store.Config{Now: c.Now, Telemetry: c.Telemetry})
	e.in = ingest.NewIngestor(e.store, ingest.IngestorConfig{Now: c.Now, Telemetry: c.Telemetry})
	e.events = ingest.NewEventLog()
	e.proc = ingest.NewProcessor(e.in, e.store, e.events, ingest.ProcessorConfig{
		Interval:  c.ProcessInterval,
		BatchSize: c.BatchSize,
		Telemetry: c.Telemetry,
	})
	e.cache = aggregate.NewCache()
	e.agg = aggregate.New(e.reg.Metrics(), e.store, e.cache, aggregate.Config{
		Interval:  c.AggregateInterval,
		Now:       c.Now,
		Telemetry: c.Telemetry,
	})
	e.query = query.NewService(e.reg, e.cache, e.store, e.events, query.Config{Now: c.Now})
	return e
}

// Start launches the processor, the aggregator and the retention sweeper.
func (e *Engine) Start() {
	e.startOnce.Do(func() {
		e.proc.Start()
		e.agg.Start()
		if e.retentionMaxAge > 0 {
			e.sweeper = retention.NewSweeper(e.retentionTargets(), retention.Config{
				MaxAge:    e.retentionMaxAge,
				Interval:  e.retentionInterval,
				Now:       e.now,
				Telemetry: e.tm,
			})
		}
		log.WithField("metrics", len(e.reg.MetricIDs())).Info("engine started")
	})
}

// Stop drains the pending queue, waits for any in-flight aggregation cycle
// and stops the sweeper. In-memory state is not persisted.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.proc.Stop()
		e.agg.Stop()
		if e.sweeper != nil {
			e.sweeper.Stop()
		}
		log.Info("engine stopped")
	})
}

func (e *Engine) retentionTargets() []retention.Target {
	return []retention.Target{
		{Kind: "points", Pruner: e.store},
		{Kind: "events", Pruner: e.events},
	}
}

// RecordEvent queues an event and returns its id.
func (e *Engine) RecordEvent(eventType string, payload map[string]any, userID string) string {
	return e.in.RecordEvent(eventType, payload, userID)
}

// RecordMetric appends a sample. model.ErrMetricNotFound is informational.
func (e *Engine) RecordMetric(metricID string, value float64, tags map[string]string, userID string) error {
	return e.store.RecordMetric(metricID, value, tags, userID)
}

func (e *Engine) GetMetricData(metricID, window, userID string) (*model.MetricData, error) {
	return e.query.GetMetricData(metricID, window, userID)
}

func (e *Engine) GenerateReport(reportID string, opts model.ReportOptions) (*model.ReportResult, error) {
	return e.query.GenerateReport(reportID, opts)
}

func (e *Engine) GetDashboard(dashboardID, userID string) (*model.DashboardView, error) {
	return e.query.GetDashboard(dashboardID, userID)
}

func (e *Engine) ExportData(opts model.ExportOptions) (*model.ExportSnapshot, error) {
	return e.query.ExportData(opts)
}

// CleanupOldData removes points and events older than now-maxAge and
// returns the combined count.
func (e *Engine) CleanupOldData(maxAge time.Duration) int64 {
	removed := retention.Cleanup(e.now(), maxAge, e.tm, e.retentionTargets()...)
	log.WithFields(logrus.Fields{"removed": removed, "max_age": maxAge}).Debug("cleanup")
	return removed
}

// SystemStats summarizes the engine's current state.
func (e *Engine) SystemStats() model.SystemStats {
	return model.SystemStats{
		Metrics:             len(e.reg.MetricIDs()),
		Reports:             len(e.reg.Reports()),
		Dashboards:          len(e.reg.Dashboards()),
		Events:              e.events.Len(),
		ActiveUsers:         e.store.Users(),
		AggregatedSnapshots: e.cache.Len(),
		PendingEvents:       e.in.Pending(),
		DataPoints:          e.store.PointCount(),
		ProcessedEvents:     e.proc.Processed(),
		FailedEvents:        e.proc.Failed(),
	}
}

// ProcessPending drains the event queue now and returns how many events it
// processed.
func (e *Engine) ProcessPending() int {
	return e.proc.Drain()
}

// Aggregate runs one aggregation cycle now.
func (e *Engine) Aggregate(ctx context.Context) error {
	return e.agg.RunOnce(ctx)
}

// Registry returns the immutable definition table.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Usage returns the report and dashboard usage tracker.
func (e *Engine) Usage() *query.Usage { return e.query.Usage() }
