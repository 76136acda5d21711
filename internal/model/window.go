package model

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Window is a trailing duration for which aggregates are cached.
type Window string

const (
	Window5m  Window = "5m"
	Window1h  Window = "1h"
	Window1d  Window = "1d"
	Window7d  Window = "7d"
	Window30d Window = "30d"
)

// WindowAll is the query alias for the widest cached window.
const WindowAll = "all"

// Windows is the fixed, ordered set of windows the aggregator computes.
var Windows = []Window{Window5m, Window1h, Window1d, Window7d, Window30d}

var timeframePattern = regexp.MustCompile(`^(\d+)([mhdw])$`)

var timeframeUnits = map[string]time.Duration{
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

// Duration returns the trailing span covered by w.
func (w Window) Duration() time.Duration {
	d, err := ParseTimeframe(string(w))
	if err != nil {
		return 0
	}
	return d
}

func (w Window) String() string { return string(w) }

// ParseTimeframe parses compact timeframes such as "5m", "24h", "7d" or "2w".
func ParseTimeframe(s string) (time.Duration, error) {
	m := timeframePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
	unit := timeframeUnits[m[2]]
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 || n > math.MaxInt64/int64(unit) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
	return time.Duration(n) * unit, nil
}

// MaxAgeFromMillis converts a millisecond age bound to a duration,
// saturating instead of wrapping for very large inputs.
func MaxAgeFromMillis(ms int64) time.Duration {
	if ms > math.MaxInt64/int64(time.Millisecond) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ms) * time.Millisecond
}

// ResolveWindow maps a requested timeframe onto the cached window that serves it.
// Empty means the default query window, "all" means the widest window, and any
// other duration resolves to the smallest window covering it (capped at 30d).
func ResolveWindow(s string) (Window, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		s = DefaultQueryWindow
	case WindowAll:
		return Windows[len(Windows)-1], nil
	}
	d, err := ParseTimeframe(s)
	if err != nil {
		return "", err
	}
	for _, w := range Windows {
		if w.Duration() >= d {
			return w, nil
		}
	}
	return Windows[len(Windows)-1], nil
}
