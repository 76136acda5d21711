// Package query answers metric, report, dashboard and export reads from the
// aggregate cache and the per-user accumulators. Nothing is computed on the
// read path.
package query

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/tally/internal/model"
	"github.com/tinytelemetry/tally/internal/registry"
)

var log = logrus.WithField("component", "query")

// AggregateReader is the read side of the aggregate cache.
type AggregateReader interface {
	Get(metricID string, w model.Window) (*model.AggregateResult, bool)
}

// UserReader is the read side of the per-user accumulators.
type UserReader interface {
	UserMetric(userID, metricID string) (model.MetricAccumulator, bool)
}

// EventReader is the read side of the event log.
type EventReader interface {
	Since(cutoff time.Time) []model.Event
}

// Config holds optional collaborators for the service.
type Config struct {
	Now   func() time.Time
	Usage *Usage
}

// Service serves every consumer-facing read.
type Service struct {
	reg    *registry.Registry
	cache  AggregateReader
	users  UserReader
	events EventReader
	usage  *Usage
	now    func() time.Time
}

// NewService creates a query service.
func NewService(reg *registry.Registry, cache AggregateReader, users UserReader, events EventReader, conf ...Config) *Service {
	s := &Service{
		reg:    reg,
		cache:  cache,
		users:  users,
		events: events,
		now:    time.Now,
	}
	if len(conf) > 0 {
		if conf[0].Now != nil {
			s.now = conf[0].Now
		}
		s.usage = conf[0].Usage
	}
	if s.usage == nil {
		s.usage = NewUsage()
	}
	return s
}

// Usage returns the report and dashboard usage tracker.
func (s *Service) Usage() *Usage { return s.usage }

// GetMetricData returns the latest figures for metricID.
//
// Without a userID the answer is the cached aggregate for the resolved
// window (Scope global). With a userID it is that user's cumulative
// accumulator (Scope user), which ignores the window. A nil result with a
// nil error means no data yet.
func (s *Service) GetMetricData(metricID, window, userID string) (*model.MetricData, error) {
	if _, ok := s.reg.Metric(metricID); !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrMetricNotFound, metricID)
	}
	w, err := model.ResolveWindow(window)
	if err != nil {
		return nil, err
	}

	if userID != "" {
		acc, ok := s.users.UserMetric(userID, metricID)
		if !ok {
			return nil, nil
		}
		return &model.MetricData{
			MetricID:  metricID,
			Requested: window,
			Window:    w,
			Scope:     model.ScopeUser,
			UserID:    userID,
			User:      &acc,
			UpdatedAt: acc.LastUpdatedAt,
		}, nil
	}

	res, ok := s.cache.Get(metricID, w)
	if !ok {
		return nil, nil
	}
	return &model.MetricData{
		MetricID:  metricID,
		Requested: window,
		Window:    w,
		Scope:     model.ScopeGlobal,
		Aggregate: res,
		UpdatedAt: res.ComputedAt,
	}, nil
}

// GenerateReport assembles reportID from its metrics. Metrics with no data
// yet map to nil. Charts are placeholders with empty labels and datasets.
func (s *Service) GenerateReport(reportID string, opts model.ReportOptions) (*model.ReportResult, error) {
	def, ok := s.reg.Report(reportID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrReportNotFound, reportID)
	}
	window := opts.Window
	if window == "" {
		window = model.DefaultReportWindow
	}
	w, err := model.ResolveWindow(window)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := &model.ReportResult{
		ID:          uuid.NewString(),
		ReportID:    def.ID,
		Name:        def.Name,
		GeneratedAt: now,
		Window:      window,
		UserID:      opts.UserID,
		Data:        make(map[string]*model.MetricData, len(def.Metrics)),
		Charts:      make([]model.ChartData, 0, len(def.Charts)),
	}
	for _, metricID := range def.Metrics {
		md, err := s.GetMetricData(metricID, window, opts.UserID)
		if err != nil {
			return nil, err
		}
		result.Data[metricID] = md
	}
	for _, c := range def.Charts {
		result.Charts = append(result.Charts, model.ChartData{
			Type:      c.Type,
			Title:     c.Title,
			Metrics:   slices.Clone(c.Metrics),
			Window:    w,
			Labels:    []string{},
			Datasets:  []model.Dataset{},
			UpdatedAt: now,
		})
	}

	s.usage.ReportGenerated(def.ID, now)
	return result, nil
}

// GetDashboard renders every widget of dashboardID.
func (s *Service) GetDashboard(dashboardID, userID string) (*model.DashboardView, error) {
	def, ok := s.reg.Dashboard(dashboardID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrDashboardNotFound, dashboardID)
	}
	if def.UserSpecific && userID == "" {
		return nil, fmt.Errorf("%w: %s", model.ErrUserScopeRequired, dashboardID)
	}

	now := s.now()
	view := &model.DashboardView{
		ID:              def.ID,
		Name:            def.Name,
		Description:     def.Description,
		UserSpecific:    def.UserSpecific,
		UserID:          userID,
		RefreshInterval: def.RefreshInterval,
		Access:          s.usage.DashboardAccessed(def.ID, now),
		Widgets:         make([]model.WidgetView, 0, len(def.Widgets)),
		RenderedAt:      now,
	}
	for _, wd := range def.Widgets {
		wv := model.WidgetView{WidgetDefinition: wd}
		switch wd.Type {
		case model.WidgetMetricCard:
			wv.Card = s.metricCard(wd, userID)
		case model.WidgetChart:
			wv.Chart = s.chartWidget(wd, userID, now)
		}
		view.Widgets = append(view.Widgets, wv)
	}
	return view, nil
}

func (s *Service) metricCard(wd model.WidgetDefinition, userID string) *model.CardData {
	kind := wd.Aggregation
	if kind == "" {
		kind = model.DefaultCardKind
	}
	def, _ := s.reg.Metric(wd.Metric)

	md, err := s.GetMetricData(wd.Metric, wd.Timeframe, userID)
	if err != nil {
		log.WithError(err).WithField("metric", wd.Metric).Warn("metric card unavailable")
	}
	card := &model.CardData{
		Value:          md.Value(kind),
		FormattedValue: FormatValue(md.Value(kind), def.Unit),
	}
	if md != nil {
		card.UpdatedAt = md.UpdatedAt
	}
	return card
}

func (s *Service) chartWidget(wd model.WidgetDefinition, userID string, now time.Time) *model.ChartData {
	chart := &model.ChartData{
		Type:      wd.ChartType,
		Title:     wd.Title,
		Metrics:   slices.Clone(wd.Metrics),
		Labels:    []string{},
		Datasets:  make([]model.Dataset, 0, len(wd.Metrics)),
		UpdatedAt: now,
	}
	if w, err := model.ResolveWindow(wd.Timeframe); err == nil {
		chart.Window = w
	}

	labels := make(map[model.AggKind]struct{})
	for _, metricID := range wd.Metrics {
		def, _ := s.reg.Metric(metricID)
		md, err := s.GetMetricData(metricID, wd.Timeframe, userID)
		if err != nil {
			log.WithError(err).WithField("metric", metricID).Warn("chart dataset unavailable")
		}

		kinds := def.Aggregations
		if wd.Aggregation != "" {
			kinds = []model.AggKind{wd.Aggregation}
		}
		ds := model.Dataset{
			Metric: metricID,
			Label:  def.DisplayName,
			Values: make(map[model.AggKind]float64, len(kinds)),
		}
		if md != nil {
			for _, k := range kinds {
				ds.Values[k] = md.Value(k)
				labels[k] = struct{}{}
			}
		}
		chart.Datasets = append(chart.Datasets, ds)
	}
	for _, k := range model.AggKinds {
		if _, ok := labels[k]; ok {
			chart.Labels = append(chart.Labels, k.String())
		}
	}
	return chart
}

// ExportData snapshots the current aggregates and, optionally, the event log.
func (s *Service) ExportData(opts model.ExportOptions) (*model.ExportSnapshot, error) {
	window := opts.Window
	if window == "" {
		window = model.DefaultExportWindow
	}
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = model.DefaultExportFormat
	}
	if format != model.FormatJSON && format != model.FormatYAML {
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedFormat, opts.Format)
	}
	w, err := model.ResolveWindow(window)
	if err != nil {
		return nil, err
	}

	now := s.now()
	snap := &model.ExportSnapshot{
		ExportedAt: now,
		Window:     window,
		Format:     format,
	}

	if opts.IncludeMetrics == nil || *opts.IncludeMetrics {
		snap.Metrics = make(map[string]*model.MetricData)
		for _, metricID := range s.reg.MetricIDs() {
			md, err := s.GetMetricData(metricID, window, "")
			if err != nil {
				return nil, err
			}
			if md != nil {
				snap.Metrics[metricID] = md
			}
		}
	}

	if opts.IncludeEvents {
		span, err := model.ParseTimeframe(window)
		if err != nil {
			span = w.Duration()
		}
		evs := s.events.Since(now.Add(-span))
		snap.Events = make([]model.ExportedEvent, 0, len(evs))
		for _, ev := range evs {
			snap.Events = append(snap.Events, model.ExportedEvent{
				Type:      ev.Type,
				Timestamp: ev.Timestamp,
				UserID:    ev.UserID,
				Payload:   ev.Payload,
			})
		}
	}
	return snap, nil
}
