// Package registry holds the process-wide, immutable table of metric,
// report and dashboard definitions. It is built once at startup and never
// mutated, so reads need no locking.
package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/tinytelemetry/tally/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yml
var defaultDefinitions []byte

// Registry is an immutable lookup table of definitions.
type Registry struct {
	metrics    map[string]model.MetricDefinition
	metricIDs  []string
	reports    map[string]model.ReportDefinition
	reportIDs  []string
	dashboards map[string]model.DashboardDefinition
	dashIDs    []string
}

type fileSpec struct {
	Metrics    []metricSpec    `yaml:"metrics"`
	Reports    []reportSpec    `yaml:"reports"`
	Dashboards []dashboardSpec `yaml:"dashboards"`
}

type metricSpec struct {
	ID           string   `yaml:"id"`
	DisplayName  string   `yaml:"display_name"`
	Description  string   `yaml:"description"`
	Kind         string   `yaml:"kind"`
	Unit         string   `yaml:"unit"`
	Aggregations []string `yaml:"aggregations"`
	Dimensions   []string `yaml:"dimensions"`
}

type chartSpec struct {
	Type        string   `yaml:"type"`
	Title       string   `yaml:"title"`
	Metrics     []string `yaml:"metrics"`
	Aggregation string   `yaml:"aggregation"`
	Timeframe   string   `yaml:"timeframe"`
	Granularity string   `yaml:"granularity"`
	Dimensions  []string `yaml:"dimensions"`
}

type reportSpec struct {
	ID           string      `yaml:"id"`
	Name         string      `yaml:"name"`
	Description  string      `yaml:"description"`
	Schedule     string      `yaml:"schedule"`
	Format       string      `yaml:"format"`
	Template     string      `yaml:"template"`
	UserSpecific bool        `yaml:"user_specific"`
	Metrics      []string    `yaml:"metrics"`
	Charts       []chartSpec `yaml:"charts"`
}

type widgetSpec struct {
	Type        string   `yaml:"type"`
	Title       string   `yaml:"title"`
	Metric      string   `yaml:"metric"`
	Metrics     []string `yaml:"metrics"`
	ChartType   string   `yaml:"chart_type"`
	Aggregation string   `yaml:"aggregation"`
	Timeframe   string   `yaml:"timeframe"`
	Granularity string   `yaml:"granularity"`
	Dimensions  []string `yaml:"dimensions"`
	Size        string   `yaml:"size"`
}

type dashboardSpec struct {
	ID              string       `yaml:"id"`
	Name            string       `yaml:"name"`
	Description     string       `yaml:"description"`
	UserSpecific    bool         `yaml:"user_specific"`
	RefreshInterval string       `yaml:"refresh_interval"`
	Widgets         []widgetSpec `yaml:"widgets"`
}

// Default builds the registry from the embedded definitions.
func Default() *Registry {
	r, err := Parse(defaultDefinitions)
	if err != nil {
		panic(fmt.Sprintf("registry: embedded definitions are invalid: %v", err))
	}
	return r
}

// Load builds a registry from a YAML file. An empty path yields the defaults.
func Load(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates YAML definitions and builds a registry from them.
func Parse(data []byte) (*Registry, error) {
	var spec fileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("registry: decode: %w", err)
	}
	if len(spec.Metrics) == 0 {
		return nil, errors.New("registry: no metrics defined")
	}

	r := &Registry{
		metrics:    make(map[string]model.MetricDefinition, len(spec.Metrics)),
		reports:    make(map[string]model.ReportDefinition, len(spec.Reports)),
		dashboards: make(map[string]model.DashboardDefinition, len(spec.Dashboards)),
	}

	for _, ms := range spec.Metrics {
		def, err := buildMetric(ms)
		if err != nil {
			return nil, err
		}
		if _, dup := r.metrics[def.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate metric %q", def.ID)
		}
		r.metrics[def.ID] = def
		r.metricIDs = append(r.metricIDs, def.ID)
	}

	for _, rs := range spec.Reports {
		def, err := r.buildReport(rs)
		if err != nil {
			return nil, err
		}
		if _, dup := r.reports[def.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate report %q", def.ID)
		}
		r.reports[def.ID] = def
		r.reportIDs = append(r.reportIDs, def.ID)
	}

	for _, ds := range spec.Dashboards {
		def, err := r.buildDashboard(ds)
		if err != nil {
			return nil, err
		}
		if _, dup := r.dashboards[def.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate dashboard %q", def.ID)
		}
		r.dashboards[def.ID] = def
		r.dashIDs = append(r.dashIDs, def.ID)
	}

	return r, nil
}

func buildMetric(ms metricSpec) (model.MetricDefinition, error) {
	if ms.ID == "" {
		return model.MetricDefinition{}, errors.New("registry: metric without id")
	}
	kind := model.MetricKind(ms.Kind)
	if !kind.Valid() {
		return model.MetricDefinition{}, fmt.Errorf("registry: metric %q: unknown kind %q", ms.ID, ms.Kind)
	}
	aggs := make([]model.AggKind, 0, len(ms.Aggregations))
	for _, a := range ms.Aggregations {
		k, err := model.ParseAggKind(a)
		if err != nil {
			return model.MetricDefinition{}, fmt.Errorf("registry: metric %q: %w", ms.ID, err)
		}
		if !slices.Contains(aggs, k) {
			aggs = append(aggs, k)
		}
	}
	name := ms.DisplayName
	if name == "" {
		name = ms.ID
	}
	return model.MetricDefinition{
		ID:           ms.ID,
		DisplayName:  name,
		Description:  ms.Description,
		Kind:         kind,
		Unit:         ms.Unit,
		Aggregations: aggs,
		Dimensions:   slices.Clone(ms.Dimensions),
	}, nil
}

func (r *Registry) buildReport(rs reportSpec) (model.ReportDefinition, error) {
	if rs.ID == "" {
		return model.ReportDefinition{}, errors.New("registry: report without id")
	}
	switch rs.Schedule {
	case "":
		rs.Schedule = model.ScheduleOnDemand
	case model.ScheduleDaily, model.ScheduleWeekly, model.ScheduleMonthly, model.ScheduleOnDemand:
	default:
		return model.ReportDefinition{}, fmt.Errorf("registry: report %q: unknown schedule %q", rs.ID, rs.Schedule)
	}
	if err := r.checkMetrics("report "+rs.ID, rs.Metrics); err != nil {
		return model.ReportDefinition{}, err
	}

	charts := make([]model.ChartDefinition, 0, len(rs.Charts))
	for _, cs := range rs.Charts {
		if err := r.checkMetrics("report "+rs.ID+" chart", cs.Metrics); err != nil {
			return model.ReportDefinition{}, err
		}
		agg, err := optionalAgg(cs.Aggregation)
		if err != nil {
			return model.ReportDefinition{}, fmt.Errorf("registry: report %q chart %q: %w", rs.ID, cs.Title, err)
		}
		if err := checkTimeframe(cs.Timeframe); err != nil {
			return model.ReportDefinition{}, fmt.Errorf("registry: report %q chart %q: %w", rs.ID, cs.Title, err)
		}
		charts = append(charts, model.ChartDefinition{
			Type:        cs.Type,
			Title:       cs.Title,
			Metrics:     slices.Clone(cs.Metrics),
			Aggregation: agg,
			Timeframe:   cs.Timeframe,
			Granularity: cs.Granularity,
			Dimensions:  slices.Clone(cs.Dimensions),
		})
	}

	name := rs.Name
	if name == "" {
		name = rs.ID
	}
	return model.ReportDefinition{
		ID:           rs.ID,
		Name:         name,
		Description:  rs.Description,
		Schedule:     rs.Schedule,
		Format:       rs.Format,
		Template:     rs.Template,
		UserSpecific: rs.UserSpecific,
		Metrics:      slices.Clone(rs.Metrics),
		Charts:       charts,
	}, nil
}

func (r *Registry) buildDashboard(ds dashboardSpec) (model.DashboardDefinition, error) {
	if ds.ID == "" {
		return model.DashboardDefinition{}, errors.New("registry: dashboard without id")
	}
	var refresh time.Duration
	if ds.RefreshInterval != "" {
		d, err := time.ParseDuration(ds.RefreshInterval)
		if err != nil {
			return model.DashboardDefinition{}, fmt.Errorf("registry: dashboard %q: refresh_interval: %w", ds.ID, err)
		}
		refresh = d
	}

	widgets := make([]model.WidgetDefinition, 0, len(ds.Widgets))
	for _, ws := range ds.Widgets {
		w, err := r.buildWidget(ds.ID, ws)
		if err != nil {
			return model.DashboardDefinition{}, err
		}
		widgets = append(widgets, w)
	}

	name := ds.Name
	if name == "" {
		name = ds.ID
	}
	return model.DashboardDefinition{
		ID:              ds.ID,
		Name:            name,
		Description:     ds.Description,
		UserSpecific:    ds.UserSpecific,
		RefreshInterval: refresh,
		Widgets:         widgets,
	}, nil
}

func (r *Registry) buildWidget(dashboardID string, ws widgetSpec) (model.WidgetDefinition, error) {
	where := fmt.Sprintf("dashboard %s widget %q", dashboardID, ws.Title)
	switch ws.Type {
	case model.WidgetMetricCard:
		if err := r.checkMetrics(where, []string{ws.Metric}); err != nil {
			return model.WidgetDefinition{}, err
		}
	case model.WidgetChart:
		if err := r.checkMetrics(where, ws.Metrics); err != nil {
			return model.WidgetDefinition{}, err
		}
	default:
		return model.WidgetDefinition{}, fmt.Errorf("registry: %s: unknown widget type %q", where, ws.Type)
	}
	agg, err := optionalAgg(ws.Aggregation)
	if err != nil {
		return model.WidgetDefinition{}, fmt.Errorf("registry: %s: %w", where, err)
	}
	if err := checkTimeframe(ws.Timeframe); err != nil {
		return model.WidgetDefinition{}, fmt.Errorf("registry: %s: %w", where, err)
	}
	return model.WidgetDefinition{
		Type:        ws.Type,
		Title:       ws.Title,
		Metric:      ws.Metric,
		Metrics:     slices.Clone(ws.Metrics),
		ChartType:   ws.ChartType,
		Aggregation: agg,
		Timeframe:   ws.Timeframe,
		Granularity: ws.Granularity,
		Dimensions:  slices.Clone(ws.Dimensions),
		Size:        ws.Size,
	}, nil
}

func (r *Registry) checkMetrics(where string, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("registry: %s: no metrics listed", where)
	}
	for _, id := range ids {
		if _, ok := r.metrics[id]; !ok {
			return fmt.Errorf("registry: %s: %w: %q", where, model.ErrMetricNotFound, id)
		}
	}
	return nil
}

func optionalAgg(s string) (model.AggKind, error) {
	if s == "" {
		return "", nil
	}
	return model.ParseAggKind(s)
}

func checkTimeframe(s string) error {
	if s == "" || s == model.WindowAll {
		return nil
	}
	_, err := model.ParseTimeframe(s)
	return err
}

// Metric returns the definition for id.
func (r *Registry) Metric(id string) (model.MetricDefinition, bool) {
	def, ok := r.metrics[id]
	if !ok {
		return model.MetricDefinition{}, false
	}
	return def.Clone(), true
}

// MetricIDs returns every metric id in definition order.
func (r *Registry) MetricIDs() []string {
	return slices.Clone(r.metricIDs)
}

// Metrics returns every metric definition in definition order.
func (r *Registry) Metrics() []model.MetricDefinition {
	out := make([]model.MetricDefinition, 0, len(r.metricIDs))
	for _, id := range r.metricIDs {
		out = append(out, r.metrics[id].Clone())
	}
	return out
}

// Report returns the report definition for id.
func (r *Registry) Report(id string) (model.ReportDefinition, bool) {
	def, ok := r.reports[id]
	if !ok {
		return model.ReportDefinition{}, false
	}
	return cloneReport(def), true
}

// Reports returns every report definition in definition order.
func (r *Registry) Reports() []model.ReportDefinition {
	out := make([]model.ReportDefinition, 0, len(r.reportIDs))
	for _, id := range r.reportIDs {
		out = append(out, cloneReport(r.reports[id]))
	}
	return out
}

// Dashboard returns the dashboard definition for id.
func (r *Registry) Dashboard(id string) (model.DashboardDefinition, bool) {
	def, ok := r.dashboards[id]
	if !ok {
		return model.DashboardDefinition{}, false
	}
	return cloneDashboard(def), true
}

// Dashboards returns every dashboard definition in definition order.
func (r *Registry) Dashboards() []model.DashboardDefinition {
	out := make([]model.DashboardDefinition, 0, len(r.dashIDs))
	for _, id := range r.dashIDs {
		out = append(out, cloneDashboard(r.dashboards[id]))
	}
	return out
}

func cloneReport(d model.ReportDefinition) model.ReportDefinition {
	d.Metrics = slices.Clone(d.Metrics)
	charts := make([]model.ChartDefinition, len(d.Charts))
	for i, c := range d.Charts {
		c.Metrics = slices.Clone(c.Metrics)
		c.Dimensions = slices.Clone(c.Dimensions)
		charts[i] = c
	}
	d.Charts = charts
	return d
}

func cloneDashboard(d model.DashboardDefinition) model.DashboardDefinition {
	widgets := make([]model.WidgetDefinition, len(d.Widgets))
	for i, w := range d.Widgets {
		w.Metrics = slices.Clone(w.Metrics)
		w.Dimensions = slices.Clone(w.Dimensions)
		widgets[i] = w
	}
	d.Widgets = widgets
	return d
}
