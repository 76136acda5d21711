package model

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"5m", 5 * time.Minute},
		{"24h", 24 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
	}
	for _, tt := range tests {
		got, err := ParseTimeframe(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "1y", "h", "-5m", "0m", "5 m", "99999999999d", "99999999999999999999m"} {
		_, err := ParseTimeframe(bad)
		assert.True(t, errors.Is(err, ErrInvalidWindow), "expected ErrInvalidWindow for %q", bad)
	}
}

func TestResolveWindow(t *testing.T) {
	tests := []struct {
		in   string
		want Window
	}{
		{"", Window1h},
		{"all", Window30d},
		{"5m", Window5m},
		{"1m", Window5m},
		{"1h", Window1h},
		{"6h", Window1d},
		{"24h", Window1d},
		{"1w", Window7d},
		{"30d", Window30d},
		{"90d", Window30d},
	}
	for _, tt := range tests {
		got, err := ResolveWindow(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ResolveWindow("yesterday")
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = ResolveWindow("99999999999d")
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestMaxAgeFromMillis(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, MaxAgeFromMillis(1500))
	assert.Equal(t, time.Duration(math.MaxInt64), MaxAgeFromMillis(10_000_000_000_000))
	assert.Equal(t, time.Duration(math.MaxInt64), MaxAgeFromMillis(math.MaxInt64))
}

func TestWindowsAreOrdered(t *testing.T) {
	for i := 1; i < len(Windows); i++ {
		assert.Greater(t, Windows[i].Duration(), Windows[i-1].Duration())
	}
}

func TestParseAggKind(t *testing.T) {
	for _, k := range AggKinds {
		got, err := ParseAggKind(" " + string(k) + " ")
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseAggKind("median")
	assert.Error(t, err)

	q, ok := AggP95.Quantile()
	assert.True(t, ok)
	assert.Equal(t, 0.95, q)
	_, ok = AggSum.Quantile()
	assert.False(t, ok)
}

func TestAccumulatorValue(t *testing.T) {
	acc := MetricAccumulator{Total: 30, Count: 3, Min: 5, Max: 15, Last: 15}
	assert.Equal(t, 30.0, acc.Value(AggSum))
	assert.Equal(t, 10.0, acc.Value(AggAvg))
	assert.Equal(t, 3.0, acc.Value(AggCount))
	assert.Equal(t, 5.0, acc.Value(AggMin))
	assert.Equal(t, 15.0, acc.Value(AggMax))
	assert.Equal(t, 15.0, acc.Value(AggP95))
	assert.Equal(t, 0.0, MetricAccumulator{}.Value(AggAvg))
}

func TestEventProcessingErrorUnwrap(t *testing.T) {
	inner := errors.New("missing processing_time")
	err := error(&EventProcessingError{EventID: "e1", EventType: "ai_response", Err: inner})

	assert.ErrorIs(t, err, inner)
	var epe *EventProcessingError
	require.ErrorAs(t, err, &epe)
	assert.Equal(t, "e1", epe.EventID)
	assert.Contains(t, err.Error(), "ai_response")
}
