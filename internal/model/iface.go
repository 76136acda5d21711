package model

import "time"

// ReportOptions selects the window and optional user for a generated report.
type ReportOptions struct {
	Window string `json:"window,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// ExportOptions controls ExportData. A nil IncludeMetrics means true.
type ExportOptions struct {
	Window         string `json:"window,omitempty"`
	Format         string `json:"format,omitempty"`
	IncludeMetrics *bool  `json:"include_metrics,omitempty"`
	IncludeEvents  bool   `json:"include_events,omitempty"`
}

// MetricRecorder appends metric samples.
type MetricRecorder interface {
	RecordMetric(metricID string, value float64, tags map[string]string, userID string) error
}

// EventRecorder accepts producer events.
type EventRecorder interface {
	RecordEvent(eventType string, payload map[string]any, userID string) string
}

// WriteAPI is the producer-facing contract.
type WriteAPI interface {
	EventRecorder
	MetricRecorder
}

// ReadAPI is the consumer-facing contract shared by the HTTP API, socket RPC
// and the dashboard viewer.
type ReadAPI interface {
	GetMetricData(metricID, window, userID string) (*MetricData, error)
	GenerateReport(reportID string, opts ReportOptions) (*ReportResult, error)
	GetDashboard(dashboardID, userID string) (*DashboardView, error)
	ExportData(opts ExportOptions) (*ExportSnapshot, error)
	SystemStats() SystemStats
}

// API is the full embedded surface.
type API interface {
	WriteAPI
	ReadAPI
	CleanupOldData(maxAge time.Duration) int64
}
