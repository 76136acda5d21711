// Package store holds every metric's append-only series and the per-user
// cumulative accumulators.
package store

import (
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/tally/internal/model"
	"github.com/tinytelemetry/tally/internal/telemetry"
)

var log = logrus.WithField("component", "store")

// Config holds optional collaborators for the store.
type Config struct {
	Now       func() time.Time
	Telemetry *telemetry.Metrics
}

type series struct {
	mu     sync.RWMutex
	points []model.DataPoint
}

type userEntry struct {
	mu  sync.Mutex
	acc model.UserAccumulator
}

// Store is the MetricStore. The series map is fixed at construction, so
// lookups need no lock; each series and each user accumulator carries its own.
type Store struct {
	series map[string]*series

	usersMu sync.RWMutex
	users   map[string]*userEntry

	now func() time.Time
	tm  *telemetry.Metrics
}

// New creates a store with one empty series per metric id.
func New(metricIDs []string, conf ...Config) *Store {
	s := &Store{
		series: make(map[string]*series, len(metricIDs)),
		users:  make(map[string]*userEntry),
		now:    time.Now,
	}
	if len(conf) > 0 {
		if conf[0].Now != nil {
			s.now = conf[0].Now
		}
		s.tm = conf[0].Telemetry
	}
	for _, id := range metricIDs {
		s.series[id] = &series{}
	}
	return s
}

// Has reports whether metricID has a series.
func (s *Store) Has(metricID string) bool {
	_, ok := s.series[metricID]
	return ok
}

// RecordMetric appends one sample. Unknown metric ids are logged and dropped
// without creating a series; the returned ErrMetricNotFound is informational.
// NaN and infinite values are dropped the same way with ErrNonFiniteValue.
func (s *Store) RecordMetric(metricID string, value float64, tags map[string]string, userID string) error {
	ser, ok := s.series[metricID]
	if !ok {
		log.WithField("metric", metricID).Warn("dropping sample for unknown metric")
		s.tm.UnknownMetric(metricID)
		return fmt.Errorf("%w: %s", model.ErrMetricNotFound, metricID)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		log.WithFields(logrus.Fields{"metric": metricID, "value": value}).Warn("dropping non-finite sample")
		return fmt.Errorf("%w: %s=%v", model.ErrNonFiniteValue, metricID, value)
	}

	var tagsCopy map[string]string
	if len(tags) > 0 {
		tagsCopy = maps.Clone(tags)
	}

	ser.mu.Lock()
	ts := s.now()
	if n := len(ser.points); n > 0 && ts.Before(ser.points[n-1].Timestamp) {
		// keep arrival order == timestamp order if the wall clock steps back
		ts = ser.points[n-1].Timestamp
	}
	ser.points = append(ser.points, model.DataPoint{
		Value:     value,
		Tags:      tagsCopy,
		UserID:    userID,
		Timestamp: ts,
	})
	ser.mu.Unlock()
	s.tm.PointRecorded(metricID)

	if userID != "" {
		s.updateUser(userID, metricID, value, ts)
	}
	return nil
}

func (s *Store) updateUser(userID, metricID string, value float64, ts time.Time) {
	entry := s.userEntry(userID, ts)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.acc.LastSeen = ts
	entry.acc.TotalEvents++

	m, ok := entry.acc.Metrics[metricID]
	if !ok {
		m = model.MetricAccumulator{Min: value, Max: value}
	}
	m.Total += value
	m.Count++
	m.Min = min(m.Min, value)
	m.Max = max(m.Max, value)
	m.Last = value
	m.LastUpdatedAt = ts
	entry.acc.Metrics[metricID] = m
}

// userEntry returns the accumulator for userID, creating it on first use.
func (s *Store) userEntry(userID string, ts time.Time) *userEntry {
	s.usersMu.RLock()
	entry, ok := s.users[userID]
	s.usersMu.RUnlock()
	if ok {
		return entry
	}

	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	if entry, ok = s.users[userID]; ok {
		return entry
	}
	entry = &userEntry{acc: model.UserAccumulator{
		UserID:    userID,
		FirstSeen: ts,
		LastSeen:  ts,
		Metrics:   make(map[string]model.MetricAccumulator),
	}}
	s.users[userID] = entry
	return entry
}

// Window returns the points of metricID with from <= timestamp <= to.
// The returned slice shares storage with the series and must not be modified.
func (s *Store) Window(metricID string, from, to time.Time) []model.DataPoint {
	ser, ok := s.series[metricID]
	if !ok {
		return nil
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()

	pts := ser.points
	lo := sort.Search(len(pts), func(i int) bool { return !pts[i].Timestamp.Before(from) })
	hi := sort.Search(len(pts), func(i int) bool { return pts[i].Timestamp.After(to) })
	if lo >= hi {
		return nil
	}
	return pts[lo:hi:hi]
}

// Len returns the number of points currently held for metricID.
func (s *Store) Len(metricID string) int {
	ser, ok := s.series[metricID]
	if !ok {
		return 0
	}
	ser.mu.RLock()
	defer ser.mu.RUnlock()
	return len(ser.points)
}

// PointCount returns the number of points across every series.
func (s *Store) PointCount() int {
	total := 0
	for id := range s.series {
		total += s.Len(id)
	}
	return total
}

// Prune removes every point older than cutoff and returns how many were
// removed. Each series is filtered into a new slice and swapped in, so the
// lock is held only for that series and only for the copy.
func (s *Store) Prune(cutoff time.Time) int64 {
	var removed int64
	for _, ser := range s.series {
		ser.mu.Lock()
		idx := sort.Search(len(ser.points), func(i int) bool { return !ser.points[i].Timestamp.Before(cutoff) })
		if idx > 0 {
			kept := make([]model.DataPoint, len(ser.points)-idx)
			copy(kept, ser.points[idx:])
			ser.points = kept
			removed += int64(idx)
		}
		ser.mu.Unlock()
	}
	return removed
}

// User returns a copy of the accumulator for userID.
func (s *Store) User(userID string) (model.UserAccumulator, bool) {
	s.usersMu.RLock()
	entry, ok := s.users[userID]
	s.usersMu.RUnlock()
	if !ok {
		return model.UserAccumulator{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	acc := entry.acc
	acc.Metrics = maps.Clone(entry.acc.Metrics)
	return acc, true
}

// UserMetric returns one metric accumulator for userID.
func (s *Store) UserMetric(userID, metricID string) (model.MetricAccumulator, bool) {
	s.usersMu.RLock()
	entry, ok := s.users[userID]
	s.usersMu.RUnlock()
	if !ok {
		return model.MetricAccumulator{}, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	m, ok := entry.acc.Metrics[metricID]
	return m, ok
}

// Users returns the number of users with an accumulator.
func (s *Store) Users() int {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	return len(s.users)
}
