package aggregate

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/tinytelemetry/tally/internal/model"
)

// Compute derives every aggregation kind declared by def over points.
// points must be non-empty.
func Compute(def model.MetricDefinition, w model.Window, points []model.DataPoint, now time.Time) (*model.AggregateResult, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("aggregate %s/%s: no points", def.ID, w)
	}

	var sum float64
	lo, hi := points[0].Value, points[0].Value
	first, last := points[0].Timestamp, points[0].Timestamp
	for _, p := range points {
		sum += p.Value
		lo = min(lo, p.Value)
		hi = max(hi, p.Value)
		if p.Timestamp.Before(first) {
			first = p.Timestamp
		}
		if p.Timestamp.After(last) {
			last = p.Timestamp
		}
	}
	count := float64(len(points))

	var sorted []float64
	values := make(map[model.AggKind]float64, len(def.Aggregations))
	for _, k := range def.Aggregations {
		var v float64
		switch k {
		case model.AggSum:
			v = sum
		case model.AggAvg:
			v = sum / count
		case model.AggMin:
			v = lo
		case model.AggMax:
			v = hi
		case model.AggCount:
			v = count
		case model.AggP50, model.AggP95, model.AggP99:
			if sorted == nil {
				sorted = sortedValues(points)
			}
			q, _ := k.Quantile()
			v = Percentile(sorted, q)
		case model.AggRate:
			v = Rate(len(points), last.Sub(first))
		case model.AggUnique:
			v = float64(UniqueUsers(points))
		default:
			return nil, fmt.Errorf("aggregate %s/%s: unsupported kind %q", def.ID, w, k)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("aggregate %s/%s: %s is not finite", def.ID, w, k)
		}
		values[k] = v
	}

	return &model.AggregateResult{
		MetricID:    def.ID,
		Window:      w,
		ComputedAt:  now,
		SampleCount: len(points),
		Values:      values,
	}, nil
}

func sortedValues(points []model.DataPoint) []float64 {
	vals := make([]float64, len(points))
	for i, p := range points {
		vals[i] = p.Value
	}
	slices.Sort(vals)
	return vals
}

// Percentile returns the nearest-rank percentile of an ascending slice:
// sorted[ceil(n*p)-1], clamped to the slice bounds.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Ceil(float64(n)*p)) - 1
	idx = max(0, min(idx, n-1))
	return sorted[idx]
}

// Rate returns samples per minute over span. A zero span yields 0.
func Rate(count int, span time.Duration) float64 {
	if span <= 0 {
		return 0
	}
	return float64(count) / span.Minutes()
}

// UniqueUsers counts distinct non-empty user ids.
func UniqueUsers(points []model.DataPoint) int {
	seen := make(map[string]struct{})
	for _, p := range points {
		if p.UserID != "" {
			seen[p.UserID] = struct{}{}
		}
	}
	return len(seen)
}
