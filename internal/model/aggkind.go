package model

import (
	"fmt"
	"strings"
)

// AggKind is one statistical aggregation computed over a window of points.
type AggKind string

const (
	AggSum    AggKind = "sum"
	AggAvg    AggKind = "avg"
	AggMin    AggKind = "min"
	AggMax    AggKind = "max"
	AggCount  AggKind = "count"
	AggP50    AggKind = "p50"
	AggP95    AggKind = "p95"
	AggP99    AggKind = "p99"
	AggRate   AggKind = "rate"
	AggUnique AggKind = "unique"
)

// AggKinds lists every supported aggregation kind in canonical order.
var AggKinds = []AggKind{AggSum, AggAvg, AggMin, AggMax, AggCount, AggP50, AggP95, AggP99, AggRate, AggUnique}

// ParseAggKind converts a definition string into an AggKind.
func ParseAggKind(s string) (AggKind, error) {
	k := AggKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown aggregation kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the closed set of kinds.
func (k AggKind) Valid() bool {
	switch k {
	case AggSum, AggAvg, AggMin, AggMax, AggCount, AggP50, AggP95, AggP99, AggRate, AggUnique:
		return true
	}
	return false
}

// Quantile returns the percentile fraction for p50/p95/p99 kinds.
func (k AggKind) Quantile() (float64, bool) {
	switch k {
	case AggP50:
		return 0.50, true
	case AggP95:
		return 0.95, true
	case AggP99:
		return 0.99, true
	}
	return 0, false
}

func (k AggKind) String() string { return string(k) }
