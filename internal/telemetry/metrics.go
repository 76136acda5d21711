// Package telemetry exposes the engine's own health as Prometheus metrics.
// A nil *Metrics is valid and records nothing.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's self-metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Ingestion
	EventsRecorded  *prometheus.CounterVec
	EventsProcessed prometheus.Counter
	EventFailures   *prometheus.CounterVec
	PendingEvents   prometheus.Gauge

	// Store
	PointsRecorded *prometheus.CounterVec
	UnknownMetrics *prometheus.CounterVec

	// Aggregation
	AggregationCycles   prometheus.Counter
	AggregationFailures *prometheus.CounterVec
	AggregationDuration prometheus.Histogram

	// Retention
	RetentionRemoved *prometheus.CounterVec

	// HTTP
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on registry. A nil registry
// gets a fresh one.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: registry,
		EventsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_events_recorded_total",
				Help: "Events accepted by RecordEvent",
			},
			[]string{"critical"},
		),
		EventsProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tally_events_processed_total",
				Help: "Events appended to the event log after processing",
			},
		),
		EventFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_event_failures_total",
				Help: "Events whose metric mapping failed",
			},
			[]string{"type"},
		),
		PendingEvents: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_pending_events",
				Help: "Events waiting for the next processor drain",
			},
		),
		PointsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_points_recorded_total",
				Help: "Data points appended per metric",
			},
			[]string{"metric"},
		),
		UnknownMetrics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_unknown_metric_total",
				Help: "Samples dropped because the metric is not registered",
			},
			[]string{"metric"},
		),
		AggregationCycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tally_aggregation_cycles_total",
				Help: "Completed aggregation cycles",
			},
		),
		AggregationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_aggregation_failures_total",
				Help: "Failed (metric, window) aggregations",
			},
			[]string{"metric", "window"},
		),
		AggregationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tally_aggregation_duration_seconds",
				Help:    "Duration of a full aggregation cycle",
				Buckets: prometheus.DefBuckets,
			},
		),
		RetentionRemoved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_retention_removed_total",
				Help: "Items removed by retention sweeps",
			},
			[]string{"kind"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_http_requests_total",
				Help: "HTTP API requests",
			},
			[]string{"method", "route", "status"},
		),
	}

	registry.MustRegister(
		m.EventsRecorded,
		m.EventsProcessed,
		m.EventFailures,
		m.PendingEvents,
		m.PointsRecorded,
		m.UnknownMetrics,
		m.AggregationCycles,
		m.AggregationFailures,
		m.AggregationDuration,
		m.RetentionRemoved,
		m.HTTPRequests,
	)
	return m
}

// Registry returns the registry the metrics were registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) EventRecorded(critical bool) {
	if m == nil {
		return
	}
	m.EventsRecorded.WithLabelValues(strconv.FormatBool(critical)).Inc()
}

func (m *Metrics) EventProcessed() {
	if m == nil {
		return
	}
	m.EventsProcessed.Inc()
}

func (m *Metrics) EventFailed(eventType string) {
	if m == nil {
		return
	}
	m.EventFailures.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingEvents.Set(float64(n))
}

func (m *Metrics) PointRecorded(metricID string) {
	if m == nil {
		return
	}
	m.PointsRecorded.WithLabelValues(metricID).Inc()
}

func (m *Metrics) UnknownMetric(metricID string) {
	if m == nil {
		return
	}
	m.UnknownMetrics.WithLabelValues(metricID).Inc()
}

func (m *Metrics) AggregationCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.AggregationCycles.Inc()
	m.AggregationDuration.Observe(d.Seconds())
}

func (m *Metrics) AggregationFailed(metricID, window string) {
	if m == nil {
		return
	}
	m.AggregationFailures.WithLabelValues(metricID, window).Inc()
}

func (m *Metrics) Removed(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RetentionRemoved.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) HTTPRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
