// Package retention prunes data points and processed events past an age bound.
package retention

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/tally/internal/model"
	"github.com/tinytelemetry/tally/internal/telemetry"
)

var log = logrus.WithField("component", "retention")

// Pruner removes everything older than cutoff and reports how much went.
type Pruner interface {
	Prune(cutoff time.Time) int64
}

// Target is one prunable collection, labelled for logs and metrics.
type Target struct {
	Kind   string
	Pruner Pruner
}

// Cleanup prunes every target at now-maxAge and returns the total removed.
// Accumulators are not targets and are never pruned. A non-positive maxAge,
// or one reaching past the zero time, removes nothing.
func Cleanup(now time.Time, maxAge time.Duration, tm *telemetry.Metrics, targets ...Target) int64 {
	if maxAge <= 0 {
		return 0
	}
	cutoff := now.Add(-maxAge)
	if cutoff.After(now) {
		return 0
	}
	var total int64
	for _, t := range targets {
		n := t.Pruner.Prune(cutoff)
		tm.Removed(t.Kind, n)
		total += n
	}
	return total
}

// Config holds configuration for the sweeper.
type Config struct {
	MaxAge    time.Duration
	Interval  time.Duration
	Now       func() time.Time
	Telemetry *telemetry.Metrics
}

// Sweeper periodically runs Cleanup with a fixed max age.
type Sweeper struct {
	targets  []Target
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	tm       *telemetry.Metrics

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSweeper creates a sweeper, runs one sweep immediately and starts the
// tick loop. Returns nil when MaxAge <= 0 (disabled).
func NewSweeper(targets []Target, conf ...Config) *Sweeper {
	maxAge := model.DefaultRetentionMaxAge
	interval := model.DefaultRetentionInterval
	now := time.Now
	var tm *telemetry.Metrics
	if len(conf) > 0 {
		maxAge = conf[0].MaxAge
		if conf[0].Interval > 0 {
			interval = conf[0].Interval
		}
		if conf[0].Now != nil {
			now = conf[0].Now
		}
		tm = conf[0].Telemetry
	}
	if maxAge <= 0 {
		return nil
	}

	s := &Sweeper{
		targets:  targets,
		maxAge:   maxAge,
		interval: interval,
		now:      now,
		tm:       tm,
		done:     make(chan struct{}),
	}

	// Startup sweep to catch up after downtime.
	s.sweep()

	s.wg.Add(1)
	go s.tickLoop()

	return s
}

func (s *Sweeper) tickLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.done:
			return
		}
	}
}

func (s *Sweeper) sweep() {
	removed := Cleanup(s.now(), s.maxAge, s.tm, s.targets...)
	if removed > 0 {
		log.WithFields(logrus.Fields{"removed": removed, "max_age": s.maxAge}).Info("retention sweep")
	}
}

// Stop signals the sweeper to stop and waits for it to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}
