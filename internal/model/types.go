package model

import (
	"slices"
	"time"
)

// MetricKind describes how a metric's samples should be read.
type MetricKind string

const (
	KindCounter   MetricKind = "counter"
	KindGauge     MetricKind = "gauge"
	KindHistogram MetricKind = "histogram"
	KindRate      MetricKind = "rate"
)

// Valid reports whether k is a known metric kind.
func (k MetricKind) Valid() bool {
	switch k {
	case KindCounter, KindGauge, KindHistogram, KindRate:
		return true
	}
	return false
}

// MetricDefinition is one registered metric. It is immutable once the
// registry is built.
type MetricDefinition struct {
	ID           string     `json:"id" yaml:"id"`
	DisplayName  string     `json:"display_name" yaml:"display_name"`
	Description  string     `json:"description,omitempty" yaml:"description,omitempty"`
	Kind         MetricKind `json:"kind" yaml:"kind"`
	Unit         string     `json:"unit" yaml:"unit"`
	Aggregations []AggKind  `json:"aggregations" yaml:"aggregations"`
	Dimensions   []string   `json:"dimensions,omitempty" yaml:"dimensions,omitempty"`
}

// Supports reports whether the metric declares aggregation kind k.
func (d MetricDefinition) Supports(k AggKind) bool {
	return slices.Contains(d.Aggregations, k)
}

// Clone returns a copy that shares no slices with d.
func (d MetricDefinition) Clone() MetricDefinition {
	d.Aggregations = slices.Clone(d.Aggregations)
	d.Dimensions = slices.Clone(d.Dimensions)
	return d
}

// DataPoint is a single timestamped observation. Empty UserID means none.
type DataPoint struct {
	Value     float64           `json:"value" yaml:"value"`
	Tags      map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	UserID    string            `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Timestamp time.Time         `json:"timestamp" yaml:"timestamp"`
}

// AggregateResult is the latest computed snapshot for one (metric, window).
// A result is never mutated after it is published to the cache.
type AggregateResult struct {
	MetricID    string              `json:"metric_id" yaml:"metric_id"`
	Window      Window              `json:"window" yaml:"window"`
	ComputedAt  time.Time           `json:"computed_at" yaml:"computed_at"`
	SampleCount int                 `json:"sample_count" yaml:"sample_count"`
	Values      map[AggKind]float64 `json:"values" yaml:"values"`
}

// MetricAccumulator is a running, non-windowed statistic for one user and metric.
type MetricAccumulator struct {
	Total         float64   `json:"total" yaml:"total"`
	Count         int64     `json:"count" yaml:"count"`
	Min           float64   `json:"min" yaml:"min"`
	Max           float64   `json:"max" yaml:"max"`
	Last          float64   `json:"last" yaml:"last"`
	LastUpdatedAt time.Time `json:"last_updated_at" yaml:"last_updated_at"`
}

// Value maps an aggregation kind onto the accumulator's fields. Kinds with no
// cumulative analogue (percentiles, rate, unique) report the last value.
func (a MetricAccumulator) Value(k AggKind) float64 {
	switch k {
	case AggSum:
		return a.Total
	case AggCount:
		return float64(a.Count)
	case AggMin:
		return a.Min
	case AggMax:
		return a.Max
	case AggAvg:
		if a.Count == 0 {
			return 0
		}
		return a.Total / float64(a.Count)
	case AggP50, AggP95, AggP99, AggRate, AggUnique:
		return a.Last
	}
	return 0
}

// UserAccumulator holds every per-metric accumulator for one user.
type UserAccumulator struct {
	UserID      string                       `json:"user_id" yaml:"user_id"`
	FirstSeen   time.Time                    `json:"first_seen" yaml:"first_seen"`
	LastSeen    time.Time                    `json:"last_seen" yaml:"last_seen"`
	TotalEvents int64                        `json:"total_events" yaml:"total_events"`
	Metrics     map[string]MetricAccumulator `json:"metrics" yaml:"metrics"`
}

// Event is one producer signal awaiting or past metric mapping.
type Event struct {
	ID        string         `json:"id" yaml:"id"`
	Type      string         `json:"type" yaml:"type"`
	Payload   map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
	UserID    string         `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Processed bool           `json:"processed" yaml:"processed"`
}

// Scope says which source a MetricData answer was read from.
type Scope string

const (
	// ScopeGlobal answers come from the windowed aggregate cache.
	ScopeGlobal Scope = "global"
	// ScopeUser answers come from the user's cumulative accumulator and
	// ignore the window.
	ScopeUser Scope = "user"
)

// MetricData is the answer to a metric read. Exactly one of Aggregate and
// User is set, according to Scope.
type MetricData struct {
	MetricID  string             `json:"metric_id" yaml:"metric_id"`
	Requested string             `json:"requested_window" yaml:"requested_window"`
	Window    Window             `json:"window" yaml:"window"`
	Scope     Scope              `json:"scope" yaml:"scope"`
	UserID    string             `json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Aggregate *AggregateResult   `json:"aggregate,omitempty" yaml:"aggregate,omitempty"`
	User      *MetricAccumulator `json:"user,omitempty" yaml:"user,omitempty"`
	UpdatedAt time.Time          `json:"updated_at" yaml:"updated_at"`
}

// Value returns the figure for kind k regardless of scope.
func (m *MetricData) Value(k AggKind) float64 {
	if m == nil {
		return 0
	}
	switch m.Scope {
	case ScopeUser:
		if m.User != nil {
			return m.User.Value(k)
		}
	case ScopeGlobal:
		if m.Aggregate != nil {
			return m.Aggregate.Values[k]
		}
	}
	return 0
}
