// Package aggregate computes windowed statistics over the metric store and
// publishes them to a snapshot cache.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/tally/internal/model"
	"github.com/tinytelemetry/tally/internal/telemetry"
)

var log = logrus.WithField("component", "aggregate")

// Source is the read side of the metric store.
type Source interface {
	Window(metricID string, from, to time.Time) []model.DataPoint
}

// Config holds tunable parameters for the aggregator.
type Config struct {
	Interval  time.Duration
	Now       func() time.Time
	Telemetry *telemetry.Metrics
}

// Aggregator rescans every (metric, window) pair on a fixed tick. It does a
// full rescan each cycle, so cost grows with series length times window
// count; retention is what bounds it.
type Aggregator struct {
	defs     []model.MetricDefinition
	src      Source
	cache    *Cache
	interval time.Duration
	now      func() time.Time
	tm       *telemetry.Metrics

	cycleMu sync.Mutex

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates an aggregator over defs, in that order. Call Start to tick.
func New(defs []model.MetricDefinition, src Source, cache *Cache, conf ...Config) *Aggregator {
	a := &Aggregator{
		defs:     defs,
		src:      src,
		cache:    cache,
		interval: model.DefaultAggregateInterval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	if len(conf) > 0 {
		if conf[0].Interval > 0 {
			a.interval = conf[0].Interval
		}
		if conf[0].Now != nil {
			a.now = conf[0].Now
		}
		a.tm = conf[0].Telemetry
	}
	return a
}

// Start launches the tick loop.
func (a *Aggregator) Start() {
	a.startOnce.Do(func() {
		a.wg.Add(1)
		go a.tickLoop()
	})
}

func (a *Aggregator) tickLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.RunOnce(context.Background()); err != nil {
				log.WithError(err).Warn("aggregation cycle finished with failures")
			}
		case <-a.done:
			return
		}
	}
}

// RunOnce runs one full cycle. Cycles are serialized. A failing pair is
// logged and skipped; the joined failures are returned once every other pair
// has run. Cancelling ctx stops the cycle between pairs.
func (a *Aggregator) RunOnce(ctx context.Context) error {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	start := time.Now()
	now := a.now()
	var errs []error
	for _, def := range a.defs {
		for _, w := range model.Windows {
			if err := ctx.Err(); err != nil {
				return errors.Join(append(errs, err)...)
			}
			if err := a.aggregatePair(def, w, now); err != nil {
				a.tm.AggregationFailed(def.ID, w.String())
				log.WithError(err).WithFields(logrus.Fields{"metric": def.ID, "window": w}).Warn("aggregation failed")
				errs = append(errs, err)
			}
		}
	}
	a.tm.AggregationCycle(time.Since(start))
	return errors.Join(errs...)
}

func (a *Aggregator) aggregatePair(def model.MetricDefinition, w model.Window, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("aggregate %s/%s: panic: %v", def.ID, w, r)
		}
	}()

	points := a.src.Window(def.ID, now.Add(-w.Duration()), now)
	if len(points) == 0 {
		return nil
	}
	res, err := Compute(def, w, points, now)
	if err != nil {
		return err
	}
	a.cache.Put(res)
	return nil
}

// Stop ends the tick loop and waits for any in-flight cycle. Safe to call
// more than once.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
		a.cycleMu.Lock()
		a.cycleMu.Unlock() //nolint:staticcheck // waits for a RunOnce started elsewhere
	})
}
