// Package schedule runs periodic reports on cron schedules and keeps the
// most recent results in an expiring history.
package schedule

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/tally/internal/model"
)

var log = logrus.WithField("component", "schedule")

const (
	defaultHistorySize = 64
	defaultHistoryTTL  = 7 * 24 * time.Hour
)

// Generator produces a report result.
type Generator interface {
	GenerateReport(reportID string, opts model.ReportOptions) (*model.ReportResult, error)
}

// Sink receives every generated result.
type Sink interface {
	ReportGenerated(ctx context.Context, result *model.ReportResult) error
}

// Config holds tunable parameters for the scheduler.
type Config struct {
	HistorySize int
	HistoryTTL  time.Duration
	Location    *time.Location
	Sink        Sink
}

type job struct {
	def    model.ReportDefinition
	spec   string
	window string
}

// Scheduler runs each scheduled report on its cron spec.
type Scheduler struct {
	gen     Generator
	sink    Sink
	cron    *cron.Cron
	history *lru.LRU[string, *model.ReportResult]
	jobs    map[string]job

	runMu    sync.Mutex
	stopOnce sync.Once
}

// Plan returns the cron spec and report window for a schedule. on_demand and
// unknown schedules are not planned.
func Plan(schedule string) (spec, window string, ok bool) {
	switch schedule {
	case model.ScheduleDaily:
		return "@daily", string(model.Window1d), true
	case model.ScheduleWeekly:
		return "@weekly", string(model.Window7d), true
	case model.ScheduleMonthly:
		return "@monthly", string(model.Window30d), true
	}
	return "", "", false
}

// New registers every report whose schedule has a plan. Nothing runs until
// Start.
func New(gen Generator, reports []model.ReportDefinition, conf ...Config) (*Scheduler, error) {
	if gen == nil {
		return nil, fmt.Errorf("schedule: nil generator")
	}
	var c Config
	if len(conf) > 0 {
		c = conf[0]
	}
	if c.HistorySize <= 0 {
		c.HistorySize = defaultHistorySize
	}
	if c.HistoryTTL <= 0 {
		c.HistoryTTL = defaultHistoryTTL
	}
	if c.Location == nil {
		c.Location = time.UTC
	}

	s := &Scheduler{
		gen:     gen,
		sink:    c.Sink,
		cron:    cron.New(cron.WithLocation(c.Location)),
		history: lru.NewLRU[string, *model.ReportResult](c.HistorySize, nil, c.HistoryTTL),
		jobs:    make(map[string]job),
	}
	for _, def := range reports {
		spec, window, ok := Plan(def.Schedule)
		if !ok || def.UserSpecific {
			continue
		}
		j := job{def: def, spec: spec, window: window}
		if _, err := s.cron.AddFunc(spec, func() { s.run(context.Background(), j) }); err != nil {
			return nil, fmt.Errorf("schedule %s (%s): %w", def.ID, spec, err)
		}
		s.jobs[def.ID] = j
	}
	return s, nil
}

// Start begins running scheduled reports in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.WithField("reports", len(s.jobs)).Info("scheduler started")
}

// Stop halts the cron loop and waits for running reports to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
	})
}

// Scheduled returns the ids of the reports that run on a schedule, sorted.
func (s *Scheduler) Scheduled() []string {
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// RunNow generates a scheduled report immediately.
func (s *Scheduler) RunNow(ctx context.Context, reportID string) (*model.ReportResult, error) {
	j, ok := s.jobs[reportID]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not scheduled", model.ErrReportNotFound, reportID)
	}
	return s.run(ctx, j)
}

// Latest returns the newest retained result for reportID.
func (s *Scheduler) Latest(reportID string) (*model.ReportResult, bool) {
	return s.history.Get(reportID)
}

func (s *Scheduler) run(ctx context.Context, j job) (*model.ReportResult, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	logger := log.WithFields(logrus.Fields{"report": j.def.ID, "window": j.window})
	result, err := s.gen.GenerateReport(j.def.ID, model.ReportOptions{Window: j.window})
	if err != nil {
		logger.WithError(err).Warn("scheduled report failed")
		return nil, err
	}
	s.history.Add(j.def.ID, result)
	logger.Debug("scheduled report generated")

	if s.sink != nil {
		if err := s.sink.ReportGenerated(ctx, result); err != nil {
			logger.WithError(err).Warn("report sink failed")
		}
	}
	return result, nil
}
