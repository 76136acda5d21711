package model

import "time"

// ChartDefinition describes one chart attached to a report.
type ChartDefinition struct {
	Type        string   `json:"type" yaml:"type"`
	Title       string   `json:"title" yaml:"title"`
	Metrics     []string `json:"metrics" yaml:"metrics"`
	Aggregation AggKind  `json:"aggregation,omitempty" yaml:"aggregation,omitempty"`
	Timeframe   string   `json:"timeframe,omitempty" yaml:"timeframe,omitempty"`
	Granularity string   `json:"granularity,omitempty" yaml:"granularity,omitempty"`
	Dimensions  []string `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

// ReportDefinition is a registered report.
type ReportDefinition struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Schedule     string            `json:"schedule"`
	Format       string            `json:"format"`
	Template     string            `json:"template,omitempty"`
	UserSpecific bool              `json:"user_specific"`
	Metrics      []string          `json:"metrics"`
	Charts       []ChartDefinition `json:"charts,omitempty"`
}

// Report schedules understood by the scheduler.
const (
	ScheduleDaily    = "daily"
	ScheduleWeekly   = "weekly"
	ScheduleMonthly  = "monthly"
	ScheduleOnDemand = "on_demand"
)

// Widget types.
const (
	WidgetMetricCard = "metric_card"
	WidgetChart      = "chart"
)

// WidgetDefinition is one dashboard tile.
type WidgetDefinition struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Metric      string   `json:"metric,omitempty"`
	Metrics     []string `json:"metrics,omitempty"`
	ChartType   string   `json:"chart_type,omitempty"`
	Aggregation AggKind  `json:"aggregation,omitempty"`
	Timeframe   string   `json:"timeframe"`
	Granularity string   `json:"granularity,omitempty"`
	Dimensions  []string `json:"dimensions,omitempty"`
	Size        string   `json:"size,omitempty"`
}

// DashboardDefinition is a registered dashboard.
type DashboardDefinition struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Description     string             `json:"description,omitempty"`
	UserSpecific    bool               `json:"user_specific"`
	RefreshInterval time.Duration      `json:"refresh_interval"`
	Widgets         []WidgetDefinition `json:"widgets"`
}

// UsageStats tracks how often a report or dashboard was used.
type UsageStats struct {
	Count int64     `json:"count"`
	Last  time.Time `json:"last,omitempty"`
}

// Dataset is one series of a chart payload.
type Dataset struct {
	Metric string              `json:"metric"`
	Label  string              `json:"label"`
	Values map[AggKind]float64 `json:"values"`
}

// ChartData is a rendered chart. Report charts are placeholders with empty
// labels and datasets.
type ChartData struct {
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Metrics   []string  `json:"metrics"`
	Window    Window    `json:"window,omitempty"`
	Labels    []string  `json:"labels"`
	Datasets  []Dataset `json:"datasets"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReportResult is one generated report.
type ReportResult struct {
	ID          string                 `json:"id"`
	ReportID    string                 `json:"report_id"`
	Name        string                 `json:"name"`
	GeneratedAt time.Time              `json:"generated_at"`
	Window      string                 `json:"window"`
	UserID      string                 `json:"user_id,omitempty"`
	Data        map[string]*MetricData `json:"data"`
	Charts      []ChartData            `json:"charts"`
}

// CardData is the rendered value of a metric card.
type CardData struct {
	Value          float64   `json:"value"`
	Change         float64   `json:"change"`
	FormattedValue string    `json:"formatted_value"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

// WidgetView is a widget definition with its rendered payload.
type WidgetView struct {
	WidgetDefinition
	Card  *CardData  `json:"card,omitempty"`
	Chart *ChartData `json:"chart,omitempty"`
}

// DashboardView is a dashboard with every widget resolved.
type DashboardView struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Description     string        `json:"description,omitempty"`
	UserSpecific    bool          `json:"user_specific"`
	UserID          string        `json:"user_id,omitempty"`
	RefreshInterval time.Duration `json:"refresh_interval"`
	Access          UsageStats    `json:"access"`
	Widgets         []WidgetView  `json:"widgets"`
	RenderedAt      time.Time     `json:"rendered_at"`
}

// ExportedEvent is the serialized form of an event in an export.
type ExportedEvent struct {
	Type      string         `json:"type" yaml:"type"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	UserID    string         `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// ExportSnapshot is a serializable copy of the current aggregate and event state.
type ExportSnapshot struct {
	ExportedAt time.Time              `json:"exported_at" yaml:"exported_at"`
	Window     string                 `json:"window" yaml:"window"`
	Format     string                 `json:"format" yaml:"format"`
	Metrics    map[string]*MetricData `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Events     []ExportedEvent        `json:"events,omitempty" yaml:"events,omitempty"`
}

// SystemStats summarizes engine state.
type SystemStats struct {
	Metrics             int   `json:"metrics"`
	Reports             int   `json:"reports"`
	Dashboards          int   `json:"dashboards"`
	Events              int   `json:"events"`
	ActiveUsers         int   `json:"active_users"`
	AggregatedSnapshots int   `json:"aggregated_snapshots"`
	PendingEvents       int   `json:"pending_events"`
	DataPoints          int   `json:"data_points"`
	ProcessedEvents     int64 `json:"processed_events"`
	FailedEvents        int64 `json:"failed_events"`
}
