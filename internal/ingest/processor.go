package ingest

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/tally/internal/model"
	"github.com/tinytelemetry/tally/internal/telemetry"
)

// ProcessorConfig holds tunable parameters for the event processor.
type ProcessorConfig struct {
	Interval  time.Duration
	BatchSize int
	Telemetry *telemetry.Metrics
}

// Processor drains the ingestor's queue on a fixed tick, maps each event
// through the dispatch table and appends it to the event log.
type Processor struct {
	in     *Ingestor
	rec    model.MetricRecorder
	events *EventLog
	tm     *telemetry.Metrics

	interval  time.Duration
	batchSize int

	// drainMu allows one drain at a time. Ticks use TryLock and skip when a
	// drain is already running.
	drainMu sync.Mutex

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once

	processed atomic.Int64
	failed    atomic.Int64
}

// NewProcessor creates a processor. Call Start to begin ticking.
func NewProcessor(in *Ingestor, rec model.MetricRecorder, events *EventLog, conf ...ProcessorConfig) *Processor {
	interval := model.DefaultProcessInterval
	batchSize := model.DefaultBatchSize
	var tm *telemetry.Metrics
	if len(conf) > 0 {
		if conf[0].Interval > 0 {
			interval = conf[0].Interval
		}
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		tm = conf[0].Telemetry
	}
	return &Processor{
		in:        in,
		rec:       rec,
		events:    events,
		tm:        tm,
		interval:  interval,
		batchSize: batchSize,
		done:      make(chan struct{}),
	}
}

// Start launches the tick loop.
func (p *Processor) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.tickLoop()
	})
}

func (p *Processor) tickLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if p.drainMu.TryLock() {
				p.drainLocked()
				p.drainMu.Unlock()
			}
		case <-p.done:
			p.Drain() // final drain
			return
		}
	}
}

// Drain processes every queued event now, waiting for any running drain
// first. It returns the number of events processed by this call.
func (p *Processor) Drain() int {
	p.drainMu.Lock()
	defer p.drainMu.Unlock()
	return p.drainLocked()
}

func (p *Processor) drainLocked() int {
	total := 0
	for {
		batch := p.in.takeBatch(p.batchSize)
		if len(batch) == 0 {
			return total
		}
		for _, ev := range batch {
			if ev.Processed {
				continue
			}
			if err := Apply(p.rec, ev); err != nil {
				p.failed.Add(1)
				p.tm.EventFailed(ev.Type)
				log.WithError(err).WithField("event_type", ev.Type).Warn("event mapping failed")
			}
			ev.Processed = true
		}
		p.events.Append(batch)
		p.processed.Add(int64(len(batch)))
		for range batch {
			p.tm.EventProcessed()
		}
		total += len(batch)
	}
}

// Stop ends the tick loop after a final drain. Safe to call more than once,
// and safe to call without Start.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
		p.Drain()
	})
}

// Processed returns the number of events appended to the event log.
func (p *Processor) Processed() int64 {
	return p.processed.Load()
}

// Failed returns the number of events whose mapping failed, including
// critical events mapped by the ingestor.
func (p *Processor) Failed() int64 {
	return p.failed.Load() + p.in.Failed()
}
